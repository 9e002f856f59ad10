package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	wsadapter "rewardskit/adapters/websocket"
	"rewardskit/analytics"
	"rewardskit/core"
	"rewardskit/engine"
	"rewardskit/leaderboard"
	"rewardskit/realtime"
)

const maxSnapshotBytes = 8 << 20

// Options configures the HTTP API surface.
type Options struct {
	// PathPrefix, if set, is prepended to all routes (e.g., "/api").
	PathPrefix string
	// AllowCORSOrigin, if non-empty, enables basic CORS with the given origin (use "*" for any).
	AllowCORSOrigin string
	// APIKeys, if non-empty, enables static API key auth via Authorization: Bearer or X-API-Key.
	APIKeys []string
	// RateLimitEnabled toggles rate limiting.
	RateLimitEnabled bool
	// RateLimitRPM is the allowed requests per minute per client key.
	RateLimitRPM int
	// RateLimitBurst defines burst capacity.
	RateLimitBurst int
	// Location renders CSV timestamps; defaults to UTC.
	Location *time.Location
	Logger   *slog.Logger
}

type server struct {
	reg    *engine.Registry
	board  leaderboard.Board
	loc    *time.Location
	logger *slog.Logger
}

// NewMux builds an http.Handler exposing the rewards REST API and WebSocket stream.
// Routes:
//   - POST {prefix}/users/{id}/events/{kind}   body: JSON metadata (optional)
//   - POST {prefix}/users/{id}/redeem          body: {"amount":n,"reason":"..."}
//   - POST {prefix}/users/{id}/reset
//   - GET  {prefix}/users/{id}
//   - GET  {prefix}/users/{id}/export
//   - POST {prefix}/users/{id}/import?merge=true|false
//   - GET  {prefix}/users/{id}/analytics
//   - GET  {prefix}/users/{id}/history.csv
//   - GET  {prefix}/analytics
//   - GET  {prefix}/leaderboard?n=10
//   - GET  {prefix}/healthz
//   - WS   {prefix}/ws?user=
//
// board and hub are optional.
func NewMux(reg *engine.Registry, board leaderboard.Board, hub *realtime.Hub, opts Options) http.Handler {
	s := &server{reg: reg, board: board, loc: opts.Location, logger: opts.Logger}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	p := func(method, path string) string { return method + " " + withPrefix(opts.PathPrefix, path) }
	mux := http.NewServeMux()
	mux.HandleFunc(p(http.MethodGet, "/healthz"), s.healthCheck)
	mux.HandleFunc(p(http.MethodPost, "/users/{id}/events/{kind}"), s.withUser(s.recordEvent))
	mux.HandleFunc(p(http.MethodPost, "/users/{id}/redeem"), s.withUser(s.redeem))
	mux.HandleFunc(p(http.MethodPost, "/users/{id}/reset"), s.withUser(s.reset))
	mux.HandleFunc(p(http.MethodGet, "/users/{id}"), s.withUser(s.getState))
	mux.HandleFunc(p(http.MethodGet, "/users/{id}/export"), s.withUser(s.export))
	mux.HandleFunc(p(http.MethodPost, "/users/{id}/import"), s.withUser(s.importState))
	mux.HandleFunc(p(http.MethodGet, "/users/{id}/analytics"), s.withUser(s.userAnalytics))
	mux.HandleFunc(p(http.MethodGet, "/users/{id}/history.csv"), s.withUser(s.historyCSV))
	mux.HandleFunc(p(http.MethodGet, "/analytics"), s.cohort)
	if board != nil {
		mux.HandleFunc(p(http.MethodGet, "/leaderboard"), s.leaderboard)
	}
	if hub != nil {
		mux.Handle(p(http.MethodGet, "/ws"), wsadapter.Handler(hub))
	}

	var handler http.Handler = mux
	if len(opts.APIKeys) > 0 {
		handler = withAPIKeyAuth(handler, opts.APIKeys, withPrefix(opts.PathPrefix, "/healthz"))
	}
	if opts.RateLimitEnabled && opts.RateLimitRPM > 0 && opts.RateLimitBurst > 0 {
		handler = withRateLimit(handler, opts.RateLimitRPM, opts.RateLimitBurst)
	}
	if opts.AllowCORSOrigin != "" {
		handler = withCORS(handler, opts.AllowCORSOrigin)
	}
	return handler
}

type userHandler func(w http.ResponseWriter, r *http.Request, rec *engine.Recorder)

// withUser resolves {id} to the learner's recorder.
func (s *server) withUser(next userHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := core.NormalizeUserID(core.UserID(r.PathValue("id")))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_user", err.Error(), nil)
			return
		}
		rec, err := s.reg.Recorder(r.Context(), user)
		if err != nil {
			s.logger.Error("load recorder failed", "user_id", user, "error", err)
			writeError(w, http.StatusInternalServerError, "internal", "could not load ledger", nil)
			return
		}
		next(w, r, rec)
	}
}

func (s *server) recordEvent(w http.ResponseWriter, r *http.Request, rec *engine.Recorder) {
	kind := core.EventKind(r.PathValue("kind"))
	meta := core.Metadata{}
	if err := decodeOptionalJSON(r.Body, &meta); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_metadata", err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, rec.RecordEvent(r.Context(), kind, meta))
}

type redeemRequest struct {
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

func (s *server) redeem(w http.ResponseWriter, r *http.Request, rec *engine.Recorder) {
	var req redeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "expected {\"amount\":n,\"reason\":\"...\"}", nil)
		return
	}
	available, err := rec.Redeem(r.Context(), req.Amount, req.Reason)
	switch {
	case engine.IsInsufficientPoints(err):
		writeError(w, http.StatusConflict, "insufficient_points", err.Error(), map[string]int64{"available": available})
		return
	case errors.Is(err, core.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, "invalid_amount", err.Error(), nil)
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "internal", err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"available": available})
}

func (s *server) reset(w http.ResponseWriter, r *http.Request, rec *engine.Recorder) {
	rec.Reset(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "resetAt": rec.State().ResetAt})
}

func (s *server) getState(w http.ResponseWriter, _ *http.Request, rec *engine.Recorder) {
	writeJSON(w, http.StatusOK, rec.State())
}

func (s *server) export(w http.ResponseWriter, _ *http.Request, rec *engine.Recorder) {
	data, err := rec.ExportState()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error(), nil)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "rewards_"+string(rec.UserID())+".json"))
	_, _ = w.Write(data)
}

func (s *server) importState(w http.ResponseWriter, r *http.Request, rec *engine.Recorder) {
	merge := true
	if v := r.URL.Query().Get("merge"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_merge", "merge must be true or false", nil)
			return
		}
		merge = b
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxSnapshotBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error(), nil)
		return
	}
	outcome, err := rec.ImportState(r.Context(), data, merge)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_snapshot", err.Error(), nil)
		return
	}
	st := rec.State()
	writeJSON(w, http.StatusOK, map[string]any{
		"outcome":         outcome,
		"totalPoints":     st.TotalPoints,
		"availablePoints": st.AvailablePoints,
	})
}

func (s *server) userAnalytics(w http.ResponseWriter, _ *http.Request, rec *engine.Recorder) {
	writeJSON(w, http.StatusOK, analytics.Build(rec.State()))
}

func (s *server) historyCSV(w http.ResponseWriter, _ *http.Request, rec *engine.Recorder) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "rewards_"+string(rec.UserID())+".csv"))
	if err := analytics.WriteCSV(w, rec.State().History, s.loc); err != nil {
		s.logger.Warn("csv export interrupted", "user_id", rec.UserID(), "error", err)
	}
}

func (s *server) cohort(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, analytics.Cohort(s.reg.States()))
}

func (s *server) leaderboard(w http.ResponseWriter, r *http.Request) {
	n := 10
	if v := r.URL.Query().Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 || parsed > 1000 {
			writeError(w, http.StatusBadRequest, "invalid_n", "n must be between 1 and 1000", nil)
			return
		}
		n = parsed
	}
	writeJSON(w, http.StatusOK, s.board.TopN(n))
}

// healthCheck verifies the storage backend answers reads.
func (s *server) healthCheck(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"status": "healthy",
		"checks": map[string]any{"storage": "ok"},
	}
	code := http.StatusOK
	if err := s.reg.Ping(r.Context()); err != nil {
		s.logger.Warn("health check failed", "error", err)
		code = http.StatusServiceUnavailable
		status["status"] = "unhealthy"
		status["checks"] = map[string]any{"storage": "failed"}
	}
	writeJSON(w, code, status)
}

func withPrefix(prefix, path string) string {
	if prefix == "" || prefix == "/" {
		return path
	}
	if prefix[len(prefix)-1] == '/' {
		return prefix[:len(prefix)-1] + path
	}
	return prefix + path
}

// decodeOptionalJSON decodes body into v, treating an empty body as absent.
func decodeOptionalJSON(body io.Reader, v any) error {
	err := json.NewDecoder(io.LimitReader(body, 1<<20)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, msg string, details any) {
	writeJSON(w, status, apiError{Code: code, Message: msg, Details: details})
}
