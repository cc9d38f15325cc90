// Package api exposes the task list of signed-in users over HTTP and
// Server-Sent Events.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"tasksync/domain"
	"tasksync/labeler"
	"tasksync/reconciler"
)

// Deps are the collaborators of the taskboard routes. Dedupe, Labels and
// Profiles are optional.
type Deps struct {
	Hub      *Hub
	Auth     Authenticator
	Dedupe   Deduper
	Labels   labeler.Generator
	Policy   labeler.Policy
	Profiles Profiles
	Logger   *log.Logger
	// LabelTimeout bounds label generation for one add. Zero means 10s.
	LabelTimeout time.Duration
}

type handlers struct {
	Deps
}

type tasksResponse struct {
	Tasks []domain.Task `json:"tasks"`
}

type createRequest struct {
	Title string `json:"title"`
	Label string `json:"label,omitempty"`
}

type createResponse struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

type acceptedResponse struct {
	ID string `json:"id"`
}

// Register wires up the taskboard routes on the given Echo instance.
func Register(e *echo.Echo, d Deps) {
	if d.Logger == nil {
		d.Logger = log.StandardLogger()
	}
	if d.LabelTimeout <= 0 {
		d.LabelTimeout = 10 * time.Second
	}
	h := &handlers{Deps: d}

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/stream", streamTasks(d.Hub, d.Auth))

	g := e.Group("/api")
	g.GET("/tasks", h.listTasks)
	g.POST("/tasks", h.createTask)
	g.POST("/tasks/resync", h.resync)
	g.POST("/tasks/:id/toggle", h.toggleTask)
	g.DELETE("/tasks/:id", h.deleteTask)
	g.DELETE("/session", h.endSession)
	if d.Profiles != nil {
		h.registerProfile(g)
	}
}

func (h *handlers) metrics(c echo.Context, route string) *requestMetrics {
	m, ctx := newRequestMetrics(c.Request().Context(), h.Logger, route)
	c.SetRequest(c.Request().WithContext(ctx))
	return m
}

// session authenticates the request and returns the owner's live session.
func (h *handlers) session(c echo.Context, m *requestMetrics) (*liveSession, error) {
	owner, err := h.owner(c, m)
	if err != nil {
		return nil, err
	}
	sess, err := h.Hub.Acquire(c.Request().Context(), owner)
	if err != nil {
		m.SetErrorStage("session")
		return nil, err
	}
	return sess, nil
}

func snapshot(s *liveSession) []domain.Task {
	tasks := s.rec.Snapshot()
	if tasks == nil {
		tasks = []domain.Task{}
	}
	return tasks
}

func (h *handlers) respond(c echo.Context, m *requestMetrics, status int, body any) error {
	m.Log(status, nil)
	if body == nil {
		return c.NoContent(status)
	}
	return c.JSON(status, body)
}

func (h *handlers) fail(c echo.Context, m *requestMetrics, err error) error {
	status := statusFor(err)
	m.Log(status, err)
	return writeError(c, err)
}

func (h *handlers) listTasks(c echo.Context) error {
	m := h.metrics(c, "GET /api/tasks")
	sess, err := h.session(c, m)
	if err != nil {
		return h.fail(c, m, err)
	}
	tasks := snapshot(sess)
	m.SetTasksReturned(len(tasks))
	return h.respond(c, m, http.StatusOK, tasksResponse{Tasks: tasks})
}

func (h *handlers) createTask(c echo.Context) error {
	m := h.metrics(c, "POST /api/tasks")
	sess, err := h.session(c, m)
	if err != nil {
		return h.fail(c, m, err)
	}
	ctx := c.Request().Context()

	var req createRequest
	dec := sonic.ConfigStd.NewDecoder(io.LimitReader(c.Request().Body, maxTitleBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		m.SetErrorStage("decode")
		return h.fail(c, m, fmt.Errorf("%w: invalid body: %v", domain.ErrValidationFailed, err))
	}
	title := strings.TrimSpace(req.Title)
	if err := domain.ValidateTitle(title); err != nil {
		m.SetErrorStage("validate")
		return h.fail(c, m, err)
	}

	key := strings.TrimSpace(c.Request().Header.Get("Idempotency-Key"))
	if key != "" && h.Dedupe != nil {
		prior, fresh, err := h.Dedupe.Claim(ctx, sess.owner, key)
		if err != nil {
			m.SetErrorStage("dedupe")
			return h.fail(c, m, domain.Classify(err))
		}
		if !fresh {
			if prior == "" {
				m.SetErrorStage("dedupe")
				m.Log(http.StatusConflict, nil)
				return c.JSON(http.StatusConflict, errorResponse{Error: "request in progress"})
			}
			existing, _ := sess.rec.Get(prior)
			return h.respond(c, m, http.StatusAccepted, createResponse{ID: prior, Label: existing.Label})
		}
	} else {
		key = ""
	}
	release := func() {
		if key == "" {
			return
		}
		if err := h.Dedupe.Release(context.WithoutCancel(ctx), sess.owner, key); err != nil {
			h.Logger.WithError(err).WithField("owner", sess.owner).Warn("Failed to release idempotency key")
		}
	}

	start := time.Now()
	label, err := h.label(ctx, title, req.Label)
	if err != nil {
		release()
		m.SetErrorStage("label")
		return h.fail(c, m, err)
	}

	var done reconciler.InsertDone
	committed := make(chan struct{})
	if key != "" {
		owner := sess.owner
		done = func(rec domain.Task, err error) {
			<-committed
			h.settleKey(owner, key, rec, err)
		}
	}
	id, err := sess.rec.ApplyLocalInsertFunc(title, label, done)
	m.ObserveOp(time.Since(start))
	if err != nil {
		release()
		m.SetErrorStage("insert")
		return h.fail(c, m, err)
	}
	if key != "" {
		if err := h.Dedupe.Commit(ctx, sess.owner, key, id); err != nil {
			h.Logger.WithError(err).WithField("owner", sess.owner).Warn("Failed to record idempotency key")
		}
	}
	close(committed)
	return h.respond(c, m, http.StatusAccepted, createResponse{ID: id, Label: label})
}

// settleKey runs once the create behind an idempotent add returned. The key
// then names the stored record, or is freed so a retry creates the task.
func (h *handlers) settleKey(owner, key string, rec domain.Task, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), dedupeTimeout)
	defer cancel()
	entry := h.Logger.WithFields(log.Fields{"owner": owner, "key": key})
	if err != nil {
		if err := h.Dedupe.Release(ctx, owner, key); err != nil {
			entry.WithError(err).Warn("Failed to release idempotency key")
		}
		return
	}
	if err := h.Dedupe.Commit(ctx, owner, key, rec.ID); err != nil {
		entry.WithError(err).Warn("Failed to record idempotency key")
	}
}

// label returns the caller's label when one was given, else a generated one.
func (h *handlers) label(ctx context.Context, title, given string) (string, error) {
	if strings.TrimSpace(given) != "" {
		l, err := labeler.Sanitize(given)
		if err != nil {
			return "", fmt.Errorf("%w: invalid label", domain.ErrValidationFailed)
		}
		return l, nil
	}
	lctx, cancel := context.WithTimeout(ctx, h.LabelTimeout)
	defer cancel()
	return labeler.Resolve(lctx, h.Labels, title, h.Policy)
}

func (h *handlers) toggleTask(c echo.Context) error {
	m := h.metrics(c, "POST /api/tasks/:id/toggle")
	sess, err := h.session(c, m)
	if err != nil {
		return h.fail(c, m, err)
	}
	id := c.Param("id")
	start := time.Now()
	err = sess.rec.ApplyLocalToggle(id)
	m.ObserveOp(time.Since(start))
	if err != nil {
		m.SetErrorStage("toggle")
		return h.fail(c, m, err)
	}
	return h.respond(c, m, http.StatusAccepted, acceptedResponse{ID: id})
}

func (h *handlers) deleteTask(c echo.Context) error {
	m := h.metrics(c, "DELETE /api/tasks/:id")
	sess, err := h.session(c, m)
	if err != nil {
		return h.fail(c, m, err)
	}
	id := c.Param("id")
	start := time.Now()
	err = sess.rec.ApplyLocalDelete(id)
	m.ObserveOp(time.Since(start))
	if err != nil {
		m.SetErrorStage("delete")
		return h.fail(c, m, err)
	}
	return h.respond(c, m, http.StatusAccepted, acceptedResponse{ID: id})
}

func (h *handlers) resync(c echo.Context) error {
	m := h.metrics(c, "POST /api/tasks/resync")
	sess, err := h.session(c, m)
	if err != nil {
		return h.fail(c, m, err)
	}
	start := time.Now()
	err = sess.rec.FullResync(c.Request().Context())
	m.ObserveOp(time.Since(start))
	if err != nil {
		m.SetErrorStage("resync")
		return h.fail(c, m, domain.Classify(err))
	}
	tasks := snapshot(sess)
	m.SetTasksReturned(len(tasks))
	return h.respond(c, m, http.StatusAccepted, tasksResponse{Tasks: tasks})
}

func (h *handlers) endSession(c echo.Context) error {
	m := h.metrics(c, "DELETE /api/session")
	owner, err := h.owner(c, m)
	if err != nil {
		return h.fail(c, m, err)
	}
	h.Hub.End(owner)
	return h.respond(c, m, http.StatusNoContent, nil)
}

// ErrorHandler renders echo errors and domain errors as JSON.
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg := fmt.Sprint(he.Message)
		_ = c.JSON(he.Code, errorResponse{Error: msg})
		return
	}
	_ = writeError(c, err)
}
