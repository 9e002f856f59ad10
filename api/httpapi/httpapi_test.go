package httpapi

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	mem "rewardskit/adapters/memory"
	"rewardskit/core"
	"rewardskit/engine"
	"rewardskit/leaderboard"
)

type testEnv struct {
	handler http.Handler
	board   *leaderboard.SkipList
}

func newTestEnv(t *testing.T, opts Options) testEnv {
	t.Helper()
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus := engine.NewEventBus(engine.DispatchSync)
	reg := engine.NewRegistry(mem.New(), bus,
		engine.WithClock(func() time.Time { return now }),
		engine.WithLocation(time.UTC),
		engine.WithLogger(logger),
	)
	board := leaderboard.NewSkipList()
	t.Cleanup(leaderboard.Track(board, bus))
	if opts.PathPrefix == "" {
		opts.PathPrefix = "/api"
	}
	opts.Logger = logger
	return testEnv{handler: NewMux(reg, board, nil, opts), board: board}
}

func (e testEnv) do(method, target, body string, headers ...string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestRecordEvent(t *testing.T) {
	env := newTestEnv(t, Options{})

	rec := env.do(http.MethodPost, "/api/users/alice/events/EVALUATION_SUBMITTED", `{"resourceId":"doc1:eval"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	res := decode[engine.Result](t, rec)
	if res.PointsAwarded != 10 {
		t.Fatalf("expected 10 points, got %+v", res)
	}

	again := decode[engine.Result](t, env.do(http.MethodPost, "/api/users/alice/events/EVALUATION_SUBMITTED", `{"resourceId":"doc1:eval"}`))
	if again.PointsAwarded != 0 || again.Rejected != engine.RejectDuplicateResource {
		t.Fatalf("expected duplicate rejection, got %+v", again)
	}

	noBody := decode[engine.Result](t, env.do(http.MethodPost, "/api/users/alice/events/QUESTION_BLOOM_1", ""))
	if noBody.PointsAwarded != 2 {
		t.Fatalf("expected 2 points, got %+v", noBody)
	}

	unknown := decode[engine.Result](t, env.do(http.MethodPost, "/api/users/alice/events/NOT_A_KIND", ""))
	if unknown.Rejected != engine.RejectUnknownEvent {
		t.Fatalf("expected unknown_event, got %+v", unknown)
	}
}

func TestRecordEventValidation(t *testing.T) {
	env := newTestEnv(t, Options{})
	if rec := env.do(http.MethodPost, "/api/users/alice/events/NOTE_CREATED", `{bad`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if rec := env.do(http.MethodPost, "/api/users/%20/events/NOTE_CREATED", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank user, got %d", rec.Code)
	}
}

func TestRedeem(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.do(http.MethodPost, "/api/users/alice/events/QUESTION_BLOOM_4", "") // 20 points

	rec := env.do(http.MethodPost, "/api/users/alice/redeem", `{"amount":500,"reason":"avatar"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if e := decode[apiError](t, rec); e.Code != "insufficient_points" {
		t.Fatalf("unexpected error %+v", e)
	}

	if rec := env.do(http.MethodPost, "/api/users/alice/redeem", `{"amount":0}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for zero amount, got %d", rec.Code)
	}

	rec = env.do(http.MethodPost, "/api/users/alice/redeem", `{"amount":5,"reason":"avatar"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := decode[map[string]int64](t, rec)["available"]; got != 15 {
		t.Fatalf("expected 15 available, got %d", got)
	}
}

func TestGetStateAndReset(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.do(http.MethodPost, "/api/users/%20alice%20/events/NOTE_CREATED", "")

	st := decode[core.Ledger](t, env.do(http.MethodGet, "/api/users/alice", ""))
	if st.TotalPoints != 5 || len(st.History) != 1 {
		t.Fatalf("unexpected state %+v", st)
	}
	if _, ok := env.board.Get("alice"); !ok {
		t.Fatal("leaderboard should track alice")
	}

	if rec := env.do(http.MethodPost, "/api/users/alice/reset", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	st = decode[core.Ledger](t, env.do(http.MethodGet, "/api/users/alice", ""))
	if st.TotalPoints != 0 || len(st.History) != 0 {
		t.Fatalf("reset should clear the ledger, got %+v", st)
	}
	if _, ok := env.board.Get("alice"); ok {
		t.Fatal("reset learner should leave the leaderboard")
	}
}

func TestExportImport(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.do(http.MethodPost, "/api/users/alice/events/QUESTION_BLOOM_5", "")

	exported := env.do(http.MethodGet, "/api/users/alice/export", "")
	if exported.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", exported.Code)
	}

	rec := env.do(http.MethodPost, "/api/users/bob/import?merge=false", exported.Body.String())
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	out := decode[map[string]any](t, rec)
	if out["outcome"] != "replaced" || out["totalPoints"] != float64(135) {
		t.Fatalf("unexpected import result %v", out)
	}

	if rec := env.do(http.MethodPost, "/api/users/bob/import", "{nope"); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad snapshot, got %d", rec.Code)
	}
	if rec := env.do(http.MethodPost, "/api/users/bob/import?merge=maybe", "{}"); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad merge flag, got %d", rec.Code)
	}
}

func TestAnalyticsAndCSV(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.do(http.MethodPost, "/api/users/alice/events/WEB_SEARCH_USED", `{"resourceId":"query"}`)

	report := decode[map[string]any](t, env.do(http.MethodGet, "/api/users/alice/analytics", ""))
	if _, ok := report["engagement"]; !ok {
		t.Fatalf("missing engagement section: %v", report)
	}

	rec := env.do(http.MethodGet, "/api/users/alice/history.csv", "")
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Fatalf("unexpected content type %q", ct)
	}
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[0], "\ufeff") {
		t.Fatalf("unexpected csv %q", rec.Body.String())
	}
	if !strings.Contains(lines[1], "WEB_SEARCH_USED") || !strings.HasSuffix(lines[1], ",query") {
		t.Fatalf("unexpected row %q", lines[1])
	}

	cohort := decode[map[string]any](t, env.do(http.MethodGet, "/api/analytics", ""))
	if cohort["learners"] != float64(1) {
		t.Fatalf("unexpected cohort %v", cohort)
	}
}

func TestLeaderboard(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.do(http.MethodPost, "/api/users/ana/events/QUESTION_BLOOM_6", "")
	env.do(http.MethodPost, "/api/users/leo/events/NOTE_CREATED", "")

	top := decode[[]leaderboard.Entry](t, env.do(http.MethodGet, "/api/leaderboard?n=1", ""))
	if len(top) != 1 || top[0].User != "ana" {
		t.Fatalf("unexpected leaderboard %+v", top)
	}
	if rec := env.do(http.MethodGet, "/api/leaderboard?n=zero", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, Options{APIKeys: []string{"secret"}})
	rec := env.do(http.MethodGet, "/api/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("health must stay open, got %d", rec.Code)
	}
	if decode[map[string]any](t, rec)["status"] != "healthy" {
		t.Fatalf("unexpected body %s", rec.Body)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	env := newTestEnv(t, Options{APIKeys: []string{"secret"}, AllowCORSOrigin: "*"})

	if rec := env.do(http.MethodGet, "/api/users/alice", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if rec := env.do(http.MethodGet, "/api/users/alice", "", "Authorization", "Bearer secret"); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	rec := env.do(http.MethodOptions, "/api/users/alice", "")
	if rec.Code != http.StatusNoContent || rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("preflight should pass without a key, got %d", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, Options{
		APIKeys:          []string{"k"},
		RateLimitEnabled: true,
		RateLimitRPM:     1,
		RateLimitBurst:   1,
	})

	if rec := env.do(http.MethodGet, "/api/users/alice", "", "X-API-Key", "k"); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 first request, got %d", rec.Code)
	}
	if rec := env.do(http.MethodGet, "/api/users/alice", "", "X-API-Key", "k"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
}

func TestRateLimiterRefills(t *testing.T) {
	now := time.Unix(0, 0)
	l := newRateLimiter(60, 2, func() time.Time { return now })
	if !l.allow("a") || !l.allow("a") {
		t.Fatal("burst of two should pass")
	}
	if l.allow("a") {
		t.Fatal("third request should be limited")
	}
	now = now.Add(time.Second)
	if !l.allow("a") {
		t.Fatal("one token refills per second at 60 rpm")
	}
}
