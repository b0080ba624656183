package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/starford/eduops/internal/record"
	"github.com/starford/eduops/internal/source"
	"github.com/starford/eduops/internal/testutil"
	"github.com/starford/eduops/internal/view"
)

func fixtureConfig(t *testing.T, files map[string]string) *Config {
	t.Helper()
	dir, _ := testutil.TestFixtures(t, files)
	cfg := NewDefaultConfig()
	cfg.Fixtures.Path = dir
	cfg.Fixtures.SQLitePath = filepath.Join(t.TempDir(), "eduops.db")
	cfg.Fixtures.Watch = false
	return cfg
}

func TestSetup_FixtureMode(t *testing.T) {
	cfg := fixtureConfig(t, map[string]string{
		"licenses.json":              `[{"license_no":"L1"},{"license_no":"L2","is_used":true}]`,
		"stats__top-performers.yaml": "- license_no: L2\n  score: 88\n",
	})
	app := &application{config: cfg, logOutput: &bytes.Buffer{}}
	rt, err := app.setup()
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	defer rt.Close()

	v, err := rt.registry.Get("licenses")
	if err != nil {
		t.Fatal(err)
	}
	res, err := v.Query(context.Background(), view.Query{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if res.Status != view.StatusOK || res.Total != 2 {
		t.Fatalf("page = %+v", res)
	}
	first, _ := json.Marshal(res.Items[0])
	if !strings.Contains(string(first), `"display_best_score":88`) {
		t.Errorf("top performer score not joined: %s", first)
	}
}

func TestSetup_RequiresConfig(t *testing.T) {
	if _, err := (&application{}).setup(); err == nil {
		t.Fatal("setup without config should fail")
	}
}

func TestHandler_HealthAndMetrics(t *testing.T) {
	backend := source.NewStatic().Set("licenses", "license_no", record.Raw{"license_no": "L1"})
	app := &application{config: NewDefaultConfig(), logOutput: &bytes.Buffer{}, backend: backend}
	rt, err := app.setup()
	if err != nil {
		t.Fatal(err)
	}
	defer rt.Close()

	var ready atomic.Bool
	h := rt.handler(&ready)

	get := func(path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		return w
	}

	if w := get("/health/live"); w.Code != http.StatusOK {
		t.Errorf("live = %d", w.Code)
	}
	if w := get("/health/ready"); w.Code != http.StatusServiceUnavailable {
		t.Errorf("ready before warm-up = %d, want 503", w.Code)
	}
	rt.registry.RefreshAll(context.Background())
	ready.Store(true)
	if w := get("/health/ready"); w.Code != http.StatusOK {
		t.Errorf("ready after warm-up = %d", w.Code)
	}

	if w := get("/api/views/licenses"); w.Code != http.StatusOK {
		t.Errorf("api = %d, body = %s", w.Code, w.Body.String())
	}

	w := get("/metrics")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "eduops_") {
		t.Errorf("metrics = %d", w.Code)
	}
}

func TestHandler_CORS(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.App.CORS.AllowedOrigins = []string{"https://admin.example.com"}
	app := &application{config: cfg, logOutput: &bytes.Buffer{}, backend: source.NewStatic()}
	rt, err := app.setup()
	if err != nil {
		t.Fatal(err)
	}
	defer rt.Close()

	var ready atomic.Bool
	req := httptest.NewRequest(http.MethodGet, "/api/views", nil)
	req.Header.Set("Origin", "https://admin.example.com")
	w := httptest.NewRecorder()
	rt.handler(&ready).ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://admin.example.com" {
		t.Errorf("allow origin = %q", got)
	}
}

func TestSnapshot_RequiresHTTPMode(t *testing.T) {
	cfg := fixtureConfig(t, nil)
	if _, err := Snapshot(context.Background(), t.TempDir(), WithConfig(cfg), WithLogOutput(&bytes.Buffer{})); err == nil {
		t.Fatal("snapshot in fixture mode should fail")
	}
}

func TestSnapshot_WritesFixtures(t *testing.T) {
	backend := source.NewStatic().Set("licenses", "license_no", record.Raw{"license_no": "L1"})
	dir := t.TempDir()
	written, err := Snapshot(context.Background(), dir,
		WithConfig(NewDefaultConfig()), WithBackend(backend), WithLogOutput(&bytes.Buffer{}))
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(written) == 0 {
		t.Fatal("nothing written")
	}
	if _, err := os.Stat(filepath.Join(dir, "stats__top-performers.json")); err != nil {
		t.Errorf("nested collection file missing: %v", err)
	}
}
