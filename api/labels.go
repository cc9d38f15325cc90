package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"tasksync/labeler"
)

type labelRequest struct {
	Task string `json:"task"`
}

type labelResponse struct {
	Label string `json:"label"`
}

type labelError struct {
	Error string `json:"error"`
}

// RegisterLabelFunction wires the label function routes. Cross-origin
// headers are set on every answer, including the preflight.
func RegisterLabelFunction(e *echo.Echo, gen labeler.Generator, timeout time.Duration) {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	cors := func(c echo.Context) {
		h := c.Response().Header()
		h.Set(echo.HeaderAccessControlAllowOrigin, "*")
		h.Set(echo.HeaderAccessControlAllowHeaders, "authorization, x-client-info, apikey, content-type")
		h.Set(echo.HeaderAccessControlAllowMethods, "POST, OPTIONS")
	}
	e.OPTIONS("/generate-label", func(c echo.Context) error {
		cors(c)
		return c.String(http.StatusOK, "ok")
	})
	e.POST("/generate-label", func(c echo.Context) error {
		cors(c)
		var req labelRequest
		body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxTitleBody))
		if err == nil && len(body) > 0 {
			err = sonic.Unmarshal(body, &req)
		}
		if err != nil || strings.TrimSpace(req.Task) == "" {
			return c.JSON(http.StatusBadRequest, labelError{Error: "Task text is required"})
		}
		ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
		defer cancel()
		label, err := gen.Generate(ctx, req.Task)
		if err == nil {
			label, err = labeler.Sanitize(label)
		}
		if err != nil {
			log.WithError(err).Error("Error generating label")
			msg := err.Error()
			if errors.Is(err, context.DeadlineExceeded) {
				msg = "label generation timed out"
			}
			return c.JSON(http.StatusInternalServerError, labelError{Error: msg})
		}
		return c.JSON(http.StatusOK, labelResponse{Label: label})
	})
}
