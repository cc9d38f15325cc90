package api

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"tasksync/domain"
	"tasksync/profile"
)

func (h *handlers) registerProfile(g *echo.Group) {
	g.GET("/profile", h.getProfile)
	g.PUT("/profile/avatar", h.uploadAvatar)
	g.DELETE("/profile/avatar", h.removeAvatar)
}

// owner authenticates the request without starting a task session.
func (h *handlers) owner(c echo.Context, m *requestMetrics) (string, error) {
	start := time.Now()
	owner, err := ownerFromRequest(c, h.Auth)
	m.ObserveAuth(time.Since(start))
	if err != nil {
		m.SetErrorStage("auth")
	}
	return owner, err
}

func (h *handlers) getProfile(c echo.Context) error {
	m := h.metrics(c, "GET /api/profile")
	owner, err := h.owner(c, m)
	if err != nil {
		return h.fail(c, m, err)
	}
	start := time.Now()
	v, err := h.Profiles.Login(c.Request().Context(), owner)
	m.ObserveOp(time.Since(start))
	if err != nil {
		m.SetErrorStage("profile")
		return h.fail(c, m, err)
	}
	return h.respond(c, m, http.StatusOK, v)
}

func (h *handlers) uploadAvatar(c echo.Context) error {
	m := h.metrics(c, "PUT /api/profile/avatar")
	owner, err := h.owner(c, m)
	if err != nil {
		return h.fail(c, m, err)
	}
	data, err := readAvatar(c)
	if err != nil {
		m.SetErrorStage("decode")
		return h.fail(c, m, err)
	}
	start := time.Now()
	v, err := h.Profiles.UploadAvatar(c.Request().Context(), owner, data)
	m.ObserveOp(time.Since(start))
	if err != nil {
		m.SetErrorStage("avatar")
		return h.fail(c, m, err)
	}
	return h.respond(c, m, http.StatusOK, v)
}

func (h *handlers) removeAvatar(c echo.Context) error {
	m := h.metrics(c, "DELETE /api/profile/avatar")
	owner, err := h.owner(c, m)
	if err != nil {
		return h.fail(c, m, err)
	}
	start := time.Now()
	v, err := h.Profiles.RemoveAvatar(c.Request().Context(), owner)
	m.ObserveOp(time.Since(start))
	if err != nil {
		m.SetErrorStage("avatar")
		return h.fail(c, m, err)
	}
	return h.respond(c, m, http.StatusOK, v)
}

func readAvatar(c echo.Context) ([]byte, error) {
	fh, err := c.FormFile("file")
	if err != nil {
		return nil, fmt.Errorf("%w: you must select an image to upload", domain.ErrValidationFailed)
	}
	if fh.Size > profile.MaxAvatarBytes {
		return nil, fmt.Errorf("%w: image too large", domain.ErrValidationFailed)
	}
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidationFailed, err)
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, profile.MaxAvatarBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidationFailed, err)
	}
	return data, nil
}
