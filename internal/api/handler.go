package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eugenenazirov/bmerger/internal/config"
	"github.com/eugenenazirov/bmerger/internal/plan"
	"github.com/eugenenazirov/bmerger/internal/storage"
)

type contextKey string

const requestIDContextKey contextKey = "requestID"

const maxDocumentBytes = 1 << 20

// ConfigLoader resolves configuration documents. *config.Loader satisfies it.
type ConfigLoader interface {
	Path() string
	Load() (config.RunConfiguration, error)
	LoadBytes(data []byte) (config.RunConfiguration, error)
}

// Handler wires the configuration loader and snapshot storage into HTTP handlers.
type Handler struct {
	loader  ConfigLoader
	storage storage.Storage
	logger  *zap.Logger

	clock func() time.Time

	// reloads are serialised so two concurrent reloads cannot interleave
	// their load and swap.
	reloadMu sync.Mutex
}

// HandlerOption configures Handler behaviour.
type HandlerOption func(*Handler)

// WithClock overrides the time source, primarily for tests.
func WithClock(clock func() time.Time) HandlerOption {
	return func(h *Handler) {
		h.clock = clock
	}
}

// WithLogger sets the logger used for reload events.
func WithLogger(logger *zap.Logger) HandlerOption {
	return func(h *Handler) {
		h.logger = logger
	}
}

// NewHandler constructs a Handler with the provided dependencies.
func NewHandler(loader ConfigLoader, store storage.Storage, opts ...HandlerOption) *Handler {
	h := &Handler{
		loader:  loader,
		storage: store,
		logger:  zap.NewNop(),
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Reload loads the configuration from disk and swaps it in as the current
// snapshot. On error the current snapshot is left untouched.
func (h *Handler) Reload() (storage.Snapshot, error) {
	h.reloadMu.Lock()
	defer h.reloadMu.Unlock()

	cfg, err := h.loader.Load()
	if err != nil {
		h.logger.Warn("configuration reload failed", zap.String("source", h.loader.Path()), zap.Error(err))
		return storage.Snapshot{}, err
	}

	snapshot := storage.NewSnapshot(cfg, h.loader.Path(), h.clock())
	previous, err := h.storage.Replace(snapshot)
	if err != nil {
		return storage.Snapshot{}, fmt.Errorf("store snapshot: %w", err)
	}

	fields := []zap.Field{
		zap.String("snapshot_id", snapshot.ID.String()),
		zap.String("source", snapshot.Source),
		zap.String("run_name", cfg.RunName),
	}
	if previous.ID != uuid.Nil {
		fields = append(fields, zap.String("previous_id", previous.ID.String()))
	}
	h.logger.Info("configuration loaded", fields...)

	return snapshot, nil
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	_ = r
	resp := healthResponse{
		Status:    "ok",
		Timestamp: h.clock(),
	}
	if snapshot, err := h.storage.Current(); err == nil {
		resp.SnapshotID = snapshot.ID.String()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	_ = r
	snapshot, ok := h.currentSnapshot(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newSnapshotResponse(snapshot))
}

func (h *Handler) handleGetPayload(w http.ResponseWriter, r *http.Request) {
	snapshot, ok := h.currentSnapshot(w)
	if !ok {
		return
	}

	name := r.PathValue("name")
	payload, found := snapshot.Config.Payload(name)
	if !found {
		writeError(w, http.StatusNotFound, "Payload not found",
			fmt.Sprintf("no payload named %q", name),
			fmt.Sprintf("Available payloads: %v", snapshot.Config.PayloadNames()))
		return
	}

	writeJSON(w, http.StatusOK, payloadResponse{Name: name, Payload: payload})
}

func (h *Handler) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	_ = r
	snapshot, ok := h.currentSnapshot(w)
	if !ok {
		return
	}

	p, ok := h.buildPlan(w, snapshot)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, planResponse{SnapshotID: snapshot.ID.String(), Plan: p})
}

func (h *Handler) handleGetPhase(w http.ResponseWriter, r *http.Request) {
	iteration, err := strconv.Atoi(r.URL.Query().Get("iteration"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", "iteration must be an integer")
		return
	}

	snapshot, ok := h.currentSnapshot(w)
	if !ok {
		return
	}
	p, ok := h.buildPlan(w, snapshot)
	if !ok {
		return
	}

	phase, err := p.Phase(iteration)
	if err != nil {
		if errors.Is(err, plan.ErrInvalidIteration) {
			writeError(w, http.StatusUnprocessableEntity, "Invalid iteration", err.Error(),
				fmt.Sprintf("Use an iteration between 1 and %d", p.TotalIterations))
			return
		}
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, phase)
}

func (h *Handler) handleReload(w http.ResponseWriter, r *http.Request) {
	_ = r
	previous, _ := h.storage.Current()

	snapshot, err := h.Reload()
	if err != nil {
		if isConfigError(err) {
			writeViolations(w, "Invalid configuration", err)
			return
		}
		writeInternalError(w, err)
		return
	}

	resp := reloadResponse{
		snapshotResponse: newSnapshotResponse(snapshot),
		Message:          "Configuration reloaded successfully",
	}
	if previous.ID != uuid.Nil {
		resp.PreviousID = previous.ID.String()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleValidate(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxDocumentBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", "unable to read configuration document")
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "Invalid request", "configuration document must not be empty")
		return
	}

	cfg, err := h.loader.LoadBytes(data)
	if err != nil {
		writeViolations(w, "Invalid configuration", err)
		return
	}

	writeJSON(w, http.StatusOK, validateResponse{Valid: true, Config: cfg.Document()})
}

func (h *Handler) currentSnapshot(w http.ResponseWriter) (storage.Snapshot, bool) {
	snapshot, err := h.storage.Current()
	if err != nil {
		if errors.Is(err, storage.ErrNoSnapshot) {
			writeError(w, http.StatusServiceUnavailable, "No configuration loaded", err.Error(),
				"POST /api/config/reload once the configuration is valid")
			return storage.Snapshot{}, false
		}
		writeInternalError(w, err)
		return storage.Snapshot{}, false
	}
	return snapshot, true
}

func (h *Handler) buildPlan(w http.ResponseWriter, snapshot storage.Snapshot) (plan.Plan, bool) {
	p, err := plan.New(snapshot.Config)
	if err != nil {
		if errors.Is(err, plan.ErrNoPayloads) {
			writeError(w, http.StatusUnprocessableEntity, "Cannot plan run", err.Error(),
				"Select a payload layer in the defaults list")
			return plan.Plan{}, false
		}
		if isConfigError(err) {
			writeViolations(w, "Cannot plan run", err)
			return plan.Plan{}, false
		}
		writeInternalError(w, err)
		return plan.Plan{}, false
	}
	return p, true
}

// isConfigError reports whether err was caused by the configuration content
// rather than by the service.
func isConfigError(err error) bool {
	var (
		validationErr *config.ValidationError
		templateErr   *config.TemplateError
		pathErr       *config.PathError
	)
	return errors.As(err, &validationErr) ||
		errors.As(err, &templateErr) ||
		errors.As(err, &pathErr) ||
		errors.Is(err, config.ErrLayerNotFound) ||
		errors.Is(err, config.ErrInvalidOverride)
}

func requestIDFromContext(ctx context.Context) string {
	if v := ctx.Value(requestIDContextKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

type snapshotResponse struct {
	ID       string          `json:"id"`
	LoadedAt time.Time       `json:"loadedAt"`
	Source   string          `json:"source"`
	Config   config.Document `json:"config"`
}

func newSnapshotResponse(s storage.Snapshot) snapshotResponse {
	return snapshotResponse{
		ID:       s.ID.String(),
		LoadedAt: s.LoadedAt,
		Source:   s.Source,
		Config:   s.Config.Document(),
	}
}

type reloadResponse struct {
	snapshotResponse
	PreviousID string `json:"previousId,omitempty"`
	Message    string `json:"message"`
}

type payloadResponse struct {
	Name    string         `json:"name"`
	Payload config.Payload `json:"payload"`
}

type planResponse struct {
	SnapshotID string    `json:"snapshotId"`
	Plan       plan.Plan `json:"plan"`
}

type validateResponse struct {
	Valid  bool            `json:"valid"`
	Config config.Document `json:"config"`
}

type healthResponse struct {
	Status     string    `json:"status"`
	Timestamp  time.Time `json:"timestamp"`
	SnapshotID string    `json:"snapshotId,omitempty"`
}

type violation struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error      string      `json:"error"`
	Details    string      `json:"details,omitempty"`
	Suggestion string      `json:"suggestion,omitempty"`
	Violations []violation `json:"violations,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != 0 {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message, details string, suggestion ...string) {
	resp := errorResponse{
		Error:   message,
		Details: details,
	}
	if len(suggestion) > 0 {
		resp.Suggestion = suggestion[0]
	}
	writeJSON(w, status, resp)
}

func writeViolations(w http.ResponseWriter, message string, err error) {
	errs := config.Violations(err)
	resp := errorResponse{
		Error:      message,
		Details:    fmt.Sprintf("%d violation(s)", len(errs)),
		Violations: make([]violation, 0, len(errs)),
	}
	for _, e := range errs {
		resp.Violations = append(resp.Violations, violation{Field: violationField(e), Message: e.Error()})
	}
	writeJSON(w, http.StatusUnprocessableEntity, resp)
}

func violationField(err error) string {
	var (
		validationErr *config.ValidationError
		templateErr   *config.TemplateError
		pathErr       *config.PathError
	)
	switch {
	case errors.As(err, &validationErr):
		return validationErr.Field
	case errors.As(err, &templateErr):
		return templateErr.Field
	case errors.As(err, &pathErr):
		return pathErr.Field
	}
	return ""
}

func writeInternalError(w http.ResponseWriter, err error) {
	writeError(w, http.StatusInternalServerError, "Internal error", err.Error())
}
