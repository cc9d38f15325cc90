package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"tasksync/domain"
	"tasksync/labeler"
)

func labelServer(gen labeler.Generator) *echo.Echo {
	e := echo.New()
	e.JSONSerializer = SonicSerializer{}
	RegisterLabelFunction(e, gen, 0)
	return e
}

func TestLabelFunction(t *testing.T) {
	var got string
	e := labelServer(labeler.GeneratorFunc(func(ctx context.Context, text string) (string, error) {
		got = text
		return "Work!", nil
	}))

	req := httptest.NewRequest(http.MethodPost, "/generate-label", strings.NewReader(`{"task":"write report"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", rec.Code, rec.Body.String())
	}
	if strings.TrimSpace(rec.Body.String()) != `{"label":"Work"}` {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
	if got != "write report" {
		t.Fatalf("unexpected generator input %q", got)
	}
	if rec.Header().Get(echo.HeaderAccessControlAllowOrigin) != "*" {
		t.Fatal("missing CORS header")
	}
}

func TestLabelFunctionRequiresTask(t *testing.T) {
	e := labelServer(labeler.GeneratorFunc(func(ctx context.Context, text string) (string, error) {
		t.Fatal("generator must not be called")
		return "", nil
	}))
	for _, body := range []string{``, `{}`, `{"task":"  "}`, `not json`} {
		req := httptest.NewRequest(http.MethodPost, "/generate-label", strings.NewReader(body))
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "Task text is required") {
			t.Fatalf("body %q: unexpected response %d %s", body, rec.Code, rec.Body.String())
		}
	}
}

func TestLabelFunctionGeneratorFailure(t *testing.T) {
	e := labelServer(labeler.GeneratorFunc(func(ctx context.Context, text string) (string, error) {
		return "", domain.ErrLabelGenerationFailed
	}))
	req := httptest.NewRequest(http.MethodPost, "/generate-label", strings.NewReader(`{"task":"x"}`))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusInternalServerError || !strings.Contains(rec.Body.String(), `"error"`) {
		t.Fatalf("unexpected response %d %s", rec.Code, rec.Body.String())
	}
}

func TestLabelFunctionPreflight(t *testing.T) {
	e := labelServer(nil)
	req := httptest.NewRequest(http.MethodOptions, "/generate-label", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Header().Get(echo.HeaderAccessControlAllowMethods), "POST") {
		t.Fatal("missing allowed methods")
	}
}
