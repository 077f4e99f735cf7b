package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/eugenenazirov/bmerger/internal/config"
	"github.com/eugenenazirov/bmerger/internal/storage"
)

const testDocument = `defaults:
  - _self_
  - payloads: cargo

url: http://127.0.0.1:7860
model_a: models/modelA.safetensors
model_b: models/modelB.safetensors
scorer_model_dir: models/scorer
optimiser: tpe
init_points: 2
n_iters: 3
hydra:
  run:
    dir: logs/${run_name}
`

const testPayloads = `portrait:
  prompt: a portrait photo of an astronaut
  steps: 20
  batch_size: 2
landscape:
  prompt: a mountain lake at dawn
`

type controllableClock struct {
	mu  sync.RWMutex
	now time.Time
}

func newControllableClock(initial time.Time) *controllableClock {
	return &controllableClock{now: initial}
}

func (c *controllableClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

func (c *controllableClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	router  http.Handler
	handler *Handler
	clock   *controllableClock
	path    string
}

// writeDocument replaces the primary configuration document on disk.
func (e *testEnv) writeDocument(t *testing.T, document string) {
	t.Helper()
	if err := os.WriteFile(e.path, []byte(document), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func (e *testEnv) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func setupTestRouter(t *testing.T, opts ...config.Option) *testEnv {
	t.Helper()

	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "payloads"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "payloads", "cargo.yaml"), []byte(testPayloads), 0o600); err != nil {
		t.Fatalf("write payloads: %v", err)
	}

	env := &testEnv{
		clock: newControllableClock(time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)),
		path:  filepath.Join(dir, "config.yaml"),
	}
	env.writeDocument(t, testDocument)

	loader := config.NewLoader(env.path, append([]config.Option{
		config.WithEnvironment(map[string]string{}),
		config.WithClock(env.clock.Now),
	}, opts...)...)
	logger := zaptest.NewLogger(t)
	env.handler = NewHandler(loader, storage.NewMemoryStorage(), WithClock(env.clock.Now), WithLogger(logger))
	env.router = NewRouter(env.handler, logger, WithLogging(false))

	return env
}

func loadedTestRouter(t *testing.T) *testEnv {
	t.Helper()
	env := setupTestRouter(t)
	if _, err := env.handler.Reload(); err != nil {
		t.Fatalf("initial reload: %v", err)
	}
	return env
}

// rawSnapshot reads the config as a generic map to check the wire keys.
type rawSnapshot struct {
	ID       string         `json:"id"`
	LoadedAt time.Time      `json:"loadedAt"`
	Source   string         `json:"source"`
	Config   map[string]any `json:"config"`
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestRequestIDHelpers(t *testing.T) {
	ctx := contextWithRequestID(context.Background(), "abc")
	if got := requestIDFromContext(ctx); got != "abc" {
		t.Fatalf("expected abc, got %s", got)
	}
	resp := httptest.NewRecorder()
	writeInternalError(resp, assertError("boom"))
	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 status, got %d", resp.Code)
	}
}

type assertError string

func (a assertError) Error() string { return string(a) }

func TestHealthEndpoint(t *testing.T) {
	env := setupTestRouter(t)

	rec := env.do(t, http.MethodGet, "/api/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	resp := decode[healthResponse](t, rec)
	if resp.Status != "ok" || !resp.Timestamp.Equal(env.clock.Now()) {
		t.Fatalf("unexpected health response: %+v", resp)
	}
	if resp.SnapshotID != "" {
		t.Fatalf("expected no snapshot before the first load, got %s", resp.SnapshotID)
	}

	snapshot, err := env.handler.Reload()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	resp = decode[healthResponse](t, env.do(t, http.MethodGet, "/api/health", ""))
	if resp.SnapshotID != snapshot.ID.String() {
		t.Fatalf("expected snapshot %s, got %s", snapshot.ID, resp.SnapshotID)
	}
}

func TestGetConfigBeforeLoad(t *testing.T) {
	env := setupTestRouter(t)

	for _, target := range []string{"/api/config", "/api/config/payloads/portrait", "/api/plan"} {
		rec := env.do(t, http.MethodGet, target, "")
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("%s: expected 503, got %d", target, rec.Code)
		}
	}
}

func TestGetConfig(t *testing.T) {
	env := loadedTestRouter(t)

	rec := env.do(t, http.MethodGet, "/api/config", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	resp := decode[rawSnapshot](t, rec)

	if resp.ID == "" || resp.Source != env.path || !resp.LoadedAt.Equal(env.clock.Now()) {
		t.Fatalf("unexpected snapshot metadata: %+v", resp)
	}
	if resp.Config["run_name"] != "tpe_chad" {
		t.Fatalf("expected interpolated run name, got %v", resp.Config["run_name"])
	}
	if resp.Config["log_directory"] != "logs/tpe_chad" {
		t.Fatalf("expected interpolated log directory, got %v", resp.Config["log_directory"])
	}
	payloads, ok := resp.Config["payloads"].(map[string]any)
	if !ok || len(payloads) != 2 {
		t.Fatalf("expected two payloads, got %v", resp.Config["payloads"])
	}
}

func TestGetPayload(t *testing.T) {
	env := loadedTestRouter(t)

	rec := env.do(t, http.MethodGet, "/api/config/payloads/portrait", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	resp := decode[payloadResponse](t, rec)
	if resp.Name != "portrait" || resp.Payload.Steps != 20 || resp.Payload.BatchSize != 2 {
		t.Fatalf("unexpected payload: %+v", resp)
	}

	rec = env.do(t, http.MethodGet, "/api/config/payloads/missing", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}
	errResp := decode[errorResponse](t, rec)
	if !strings.Contains(errResp.Suggestion, "landscape") {
		t.Fatalf("expected available payloads in suggestion, got %q", errResp.Suggestion)
	}
}

func TestGetPlan(t *testing.T) {
	env := loadedTestRouter(t)

	rec := env.do(t, http.MethodGet, "/api/plan", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decode[planResponse](t, rec)
	p := resp.Plan
	if p.TotalIterations != 5 || p.WarmupIterations != 2 {
		t.Fatalf("unexpected iterations: %+v", p)
	}
	if p.ImagesPerIteration != 3 {
		t.Fatalf("expected 3 images per iteration, got %d", p.ImagesPerIteration)
	}
	if p.LogName != "bbwm-modelA-modelB-tpe" {
		t.Fatalf("unexpected log name: %s", p.LogName)
	}
}

func TestGetPhase(t *testing.T) {
	env := loadedTestRouter(t)

	tests := []struct {
		query  string
		status int
		phase  string
	}{
		{query: "iteration=1", status: http.StatusOK, phase: "warmup"},
		{query: "iteration=3", status: http.StatusOK, phase: "optimisation"},
		{query: "iteration=6", status: http.StatusUnprocessableEntity},
		{query: "iteration=0", status: http.StatusUnprocessableEntity},
		{query: "iteration=abc", status: http.StatusBadRequest},
		{query: "", status: http.StatusBadRequest},
	}

	for _, tc := range tests {
		rec := env.do(t, http.MethodGet, "/api/plan/phase?"+tc.query, "")
		if rec.Code != tc.status {
			t.Fatalf("%q: expected status %d, got %d", tc.query, tc.status, rec.Code)
		}
		if tc.phase != "" {
			resp := decode[map[string]any](t, rec)
			if resp["phase"] != tc.phase {
				t.Fatalf("%q: expected phase %s, got %v", tc.query, tc.phase, resp["phase"])
			}
		}
	}
}

func TestReloadSwapsSnapshot(t *testing.T) {
	env := loadedTestRouter(t)
	first := decode[snapshotResponse](t, env.do(t, http.MethodGet, "/api/config", ""))

	env.clock.Advance(time.Hour)
	env.writeDocument(t, strings.Replace(testDocument, "optimiser: tpe", "optimiser: bayes", 1))

	rec := env.do(t, http.MethodPost, "/api/config/reload", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decode[reloadResponse](t, rec)
	if resp.PreviousID != first.ID || resp.ID == first.ID {
		t.Fatalf("expected new snapshot replacing %s, got %+v", first.ID, resp)
	}
	if resp.Config.Optimiser != config.OptimiserBayes {
		t.Fatalf("expected reloaded optimiser, got %s", resp.Config.Optimiser)
	}
	if !resp.LoadedAt.Equal(env.clock.Now()) {
		t.Fatalf("expected loadedAt %s, got %s", env.clock.Now(), resp.LoadedAt)
	}
}

func TestReloadKeepsSnapshotOnInvalidDocument(t *testing.T) {
	env := loadedTestRouter(t)
	before := decode[snapshotResponse](t, env.do(t, http.MethodGet, "/api/config", ""))

	document := strings.Replace(testDocument, "optimiser: tpe", "optimiser: grid", 1)
	document = strings.Replace(document, "n_iters: 3", "n_iters: 0", 1)
	env.writeDocument(t, document)

	rec := env.do(t, http.MethodPost, "/api/config/reload", "")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d", rec.Code)
	}
	resp := decode[errorResponse](t, rec)
	if len(resp.Violations) != 2 || resp.Violations[0].Field != "n_iters" || resp.Violations[1].Field != "optimiser" {
		t.Fatalf("unexpected violations: %+v", resp.Violations)
	}

	after := decode[snapshotResponse](t, env.do(t, http.MethodGet, "/api/config", ""))
	if after.ID != before.ID {
		t.Fatalf("expected snapshot %s to be kept, got %s", before.ID, after.ID)
	}
}

func TestReloadRejectsMistypedInputs(t *testing.T) {
	tests := []struct {
		name  string
		opt   config.Option
		field string
	}{
		{
			name:  "Environment",
			opt:   config.WithEnvironment(map[string]string{"BMERGER_BATCH_SIZE": "abc"}),
			field: "BMERGER_BATCH_SIZE",
		},
		{
			name:  "Override",
			opt:   config.WithOverrides("best_precision=sixteen"),
			field: "best_precision",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env := setupTestRouter(t, tc.opt)

			rec := env.do(t, http.MethodPost, "/api/config/reload", "")
			if rec.Code != http.StatusUnprocessableEntity {
				t.Fatalf("expected status 422, got %d: %s", rec.Code, rec.Body.String())
			}
			resp := decode[errorResponse](t, rec)
			if len(resp.Violations) != 1 || resp.Violations[0].Field != tc.field {
				t.Fatalf("expected one violation on %s, got %+v", tc.field, resp.Violations)
			}
		})
	}
}

func TestReloadMissingFile(t *testing.T) {
	env := setupTestRouter(t)
	if err := os.Remove(env.path); err != nil {
		t.Fatalf("remove config: %v", err)
	}

	rec := env.do(t, http.MethodPost, "/api/config/reload", "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", rec.Code)
	}
}

func TestValidateEndpoint(t *testing.T) {
	env := setupTestRouter(t)

	rec := env.do(t, http.MethodPost, "/api/config/validate", testDocument)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decode[validateResponse](t, rec)
	if !resp.Valid || len(resp.Config.Payloads) != 2 {
		t.Fatalf("expected payload layer resolved from the config directory, got %+v", resp)
	}

	if got := env.do(t, http.MethodGet, "/api/config", ""); got.Code != http.StatusServiceUnavailable {
		t.Fatalf("validate must not store a snapshot, got %d", got.Code)
	}
}

func TestValidateEndpointRejectsInvalidDocument(t *testing.T) {
	env := setupTestRouter(t)

	tests := []struct {
		name   string
		body   string
		status int
		field  string
	}{
		{name: "Empty", body: "", status: http.StatusBadRequest},
		{name: "UnknownKey", body: testDocument + "optimizer: tpe\n", status: http.StatusUnprocessableEntity},
		{name: "BadEnum", body: strings.Replace(testDocument, "optimiser: tpe", "optimiser: grid", 1), status: http.StatusUnprocessableEntity, field: "optimiser"},
		{name: "MissingLayer", body: strings.Replace(testDocument, "payloads: cargo", "payloads: nope", 1), status: http.StatusUnprocessableEntity},
		{name: "BadTemplate", body: strings.Replace(testDocument, "${run_name}", "${nope}", 1), status: http.StatusUnprocessableEntity, field: "hydra.run.dir"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/config/validate", tc.body)
			if rec.Code != tc.status {
				t.Fatalf("expected status %d, got %d: %s", tc.status, rec.Code, rec.Body.String())
			}
			if tc.status != http.StatusUnprocessableEntity {
				return
			}
			resp := decode[errorResponse](t, rec)
			if len(resp.Violations) == 0 {
				t.Fatalf("expected violations in response")
			}
			if tc.field != "" && resp.Violations[0].Field != tc.field {
				t.Fatalf("expected violation on %s, got %+v", tc.field, resp.Violations)
			}
		})
	}
}

func TestConcurrentReadsDuringReload(t *testing.T) {
	env := loadedTestRouter(t)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			rec := httptest.NewRecorder()
			env.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/config/reload", nil))
			if rec.Code != http.StatusOK && rec.Code != http.StatusTooManyRequests {
				t.Errorf("reload failed with %d", rec.Code)
			}
		}()
		go func() {
			defer wg.Done()
			rec := httptest.NewRecorder()
			env.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/config", nil))
			if rec.Code != http.StatusOK && rec.Code != http.StatusTooManyRequests {
				t.Errorf("read failed with %d", rec.Code)
			}
		}()
	}
	wg.Wait()
}

func TestCorsPreflight(t *testing.T) {
	env := setupTestRouter(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/config/validate", nil)
	req.Header.Set("Origin", "https://example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Fatalf("expected Access-Control-Allow-Origin header to be set")
	}
}

func TestRequestIDPropagation(t *testing.T) {
	env := setupTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "test-request-id")

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got != "test-request-id" {
		t.Fatalf("expected X-Request-ID header to be echoed, got %s", got)
	}
}
