package labeler

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"tasksync/domain"
)

const (
	openaiURL         = "https://api.openai.com/v1/chat/completions"
	openaiModel       = "gpt-3.5-turbo"
	openaiTemperature = 0.3
	openaiMaxTokens   = 10

	systemPrompt = `You are a task labeling assistant. Generate a single word label that best categorizes the task. Only output the label word, nothing else. For example: "Buy groceries" -> "Shopping", "Fix bug in login" -> "Development"`
)

var tracer = otel.Tracer("tasksync/labeler")

// OpenAI calls the chat completions API directly.
type OpenAI struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type openaiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func NewOpenAI(apiKey string) *OpenAI {
	return &OpenAI{apiKey: apiKey, baseURL: openaiURL, client: &http.Client{}}
}

// WithBaseURL points the client at another endpoint.
func (c *OpenAI) WithBaseURL(url string) *OpenAI {
	c.baseURL = url
	return c
}

func (c *OpenAI) Generate(ctx context.Context, text string) (label string, err error) {
	ctx, span := tracer.Start(ctx, "OpenAI.Generate")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.String("label", label))
		span.End()
	}()

	if c.apiKey == "" {
		return "", fmt.Errorf("%w: OPENAI_API_KEY not set", domain.ErrLabelGenerationFailed)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: empty task text", domain.ErrValidationFailed)
	}

	body, err := sonic.Marshal(chatRequest{
		Model: openaiModel,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: text},
		},
		Temperature: openaiTemperature,
		MaxTokens:   openaiMaxTokens,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: %v", domain.ErrLabelGenerationFailed, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", domain.ErrLabelGenerationFailed, err)
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr openaiError
		if sonic.Unmarshal(data, &apiErr) == nil && apiErr.Error.Message != "" {
			return "", fmt.Errorf("%w: %s (%d)", domain.ErrLabelGenerationFailed, apiErr.Error.Message, resp.StatusCode)
		}
		return "", fmt.Errorf("%w: status %d", domain.ErrLabelGenerationFailed, resp.StatusCode)
	}
	var out chatResponse
	if err := sonic.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", domain.ErrLabelGenerationFailed, err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices returned", domain.ErrLabelGenerationFailed)
	}
	return Sanitize(out.Choices[0].Message.Content)
}
