package labeler

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/bytedance/sonic"

	"tasksync/domain"
)

// Proxy calls a deployed label function over HTTP.
type Proxy struct {
	url    string
	bearer string
	client *http.Client
}

// LabelRequest is the label function's request body.
type LabelRequest struct {
	Task string `json:"task"`
}

// LabelResponse is the label function's reply; Error is set on failure.
type LabelResponse struct {
	Label string `json:"label,omitempty"`
	Error string `json:"error,omitempty"`
}

func NewProxy(url, bearer string) *Proxy {
	return &Proxy{url: url, bearer: bearer, client: &http.Client{}}
}

func (p *Proxy) Generate(ctx context.Context, text string) (string, error) {
	ctx, span := tracer.Start(ctx, "Proxy.Generate")
	defer span.End()

	body, err := sonic.Marshal(LabelRequest{Task: text})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+p.bearer)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: %v", domain.ErrLabelGenerationFailed, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrLabelGenerationFailed, err)
	}
	var out LabelResponse
	if err := sonic.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("%w: status %d", domain.ErrLabelGenerationFailed, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusBadRequest {
			return "", fmt.Errorf("%w: %s", domain.ErrValidationFailed, out.Error)
		}
		return "", fmt.Errorf("%w: %s", domain.ErrLabelGenerationFailed, out.Error)
	}
	return Sanitize(out.Label)
}
