package server

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bigkaa/goartstore/projecthub/internal/api/handlers"
	"github.com/bigkaa/goartstore/projecthub/internal/api/middleware"
	"github.com/bigkaa/goartstore/projecthub/internal/events"
	"github.com/bigkaa/goartstore/projecthub/internal/service"
	"github.com/bigkaa/goartstore/projecthub/internal/storage/blob"
	"github.com/bigkaa/goartstore/projecthub/internal/storage/catalog"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newTestRouter собирает роутер со всеми зависимостями во временной директории.
func newTestRouter(t *testing.T) (http.Handler, string) {
	t.Helper()
	dir := t.TempDir()
	logger := testLogger()

	uploads, err := blob.NewFileStore(filepath.Join(dir, "uploads"))
	if err != nil {
		t.Fatal(err)
	}
	generated, err := blob.NewFileStore(filepath.Join(dir, "generated"))
	if err != nil {
		t.Fatal(err)
	}
	cat, err := catalog.Open(filepath.Join(dir, "projects.json"), uploads, logger)
	if err != nil {
		t.Fatal(err)
	}

	projects := service.NewProjectService(cat, uploads, nil, events.NopPublisher{}, logger)
	assistant := service.NewAssistantService(nil, generated, service.AssistantConfig{
		ImageURLPrefix: GeneratedPrefix,
	}, events.NopPublisher{}, logger)
	reconciler := service.NewReconcileService(uploads, cat, 0, 0, logger)

	router := NewRouter(Handlers{
		Projects:    handlers.NewProjectsHandler(projects, 1<<20, 0, logger),
		AI:          handlers.NewAIHandler(assistant, logger),
		Health:      handlers.NewHealthHandler(cat, nil),
		Maintenance: handlers.NewMaintenanceHandler(reconciler),
	}, generated.Dir(), middleware.MetricsMiddleware(), middleware.RequestLogger(logger))

	return router, generated.Dir()
}

func TestRouter_Routes(t *testing.T) {
	router, _ := newTestRouter(t)

	tests := []struct {
		method, path string
		want         int
	}{
		{http.MethodGet, "/health/live", http.StatusOK},
		{http.MethodGet, "/health/ready", http.StatusOK},
		{http.MethodGet, "/metrics", http.StatusOK},
		{http.MethodGet, "/api/projects", http.StatusOK},
		{http.MethodGet, "/api/projects/missing", http.StatusNotFound},
		{http.MethodDelete, "/api/projects/missing", http.StatusNotFound},
		{http.MethodGet, "/api/projects/missing/download", http.StatusNotFound},
		{http.MethodGet, "/api/search?q=x", http.StatusOK},
		{http.MethodPost, "/api/maintenance/reconcile", http.StatusOK},
		{http.MethodPut, "/api/projects", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
		if rec.Code != tt.want {
			t.Errorf("%s %s: статус %d, ожидалось %d", tt.method, tt.path, rec.Code, tt.want)
		}
	}
}

func TestRouter_AIWithoutKey(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message":"hi"}`))
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("статус = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "AI_NOT_CONFIGURED") {
		t.Errorf("тело = %s", rec.Body.String())
	}
}

func TestRouter_GeneratedStatic(t *testing.T) {
	router, dir := newTestRouter(t)

	if err := os.WriteFile(filepath.Join(dir, "abc.png"), []byte("image"), 0o600); err != nil {
		t.Fatal(err)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/generated/abc.png", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "image" {
		t.Errorf("статус %d, тело %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/generated/", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("листинг директории: статус %d, ожидалось 404", rec.Code)
	}
}
