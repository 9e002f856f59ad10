// Command demo-server plays a scripted study session for one learner and
// streams every ledger change over WebSocket at /ws. GET /state returns the
// current ledger.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mem "rewardskit/adapters/memory"
	ws "rewardskit/adapters/websocket"
	"rewardskit/core"
	"rewardskit/engine"
	"rewardskit/realtime"
)

type step struct {
	kind core.EventKind
	meta core.Metadata
}

var session = []step{
	{core.KindQuestionBloom1, nil},
	{core.KindQuestionBloom3, core.Metadata{core.MetaResourceID: "lectura-1:q1"}},
	{core.KindAnnotationCreated, nil},
	{core.KindWebSearchUsed, nil},
	{core.KindACDFrameIdentified, core.Metadata{core.MetaResourceID: "lectura-1"}},
	{core.KindEvaluationSubmitted, core.Metadata{core.MetaResourceID: "lectura-1:eval"}},
	{core.KindEvaluationLevel3, core.Metadata{core.MetaResourceID: "lectura-1:eval"}},
	{core.KindQuestionBloom5, core.Metadata{core.MetaResourceID: "lectura-1:q2"}},
	{core.KindMetacognitiveReflection, nil},
	// Replays are rejected as duplicates.
	{core.KindEvaluationSubmitted, core.Metadata{core.MetaResourceID: "lectura-1:eval"}},
}

func main() {
	// Use readable text logging for development/demo
	textHandler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	logger := slog.New(textHandler)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := engine.NewEventBus(engine.DispatchAsync)
	defer bus.Close()
	hub := realtime.NewHub()
	defer hub.Attach(bus)()

	rec, err := engine.NewRecorder(ctx, mem.New(), bus, "demo", engine.WithLogger(logger))
	if err != nil {
		slog.Error("create recorder", "error", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.Handle("GET /ws", ws.Handler(hub))
	mux.HandleFunc("GET /state", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(rec.State())
	})
	srv := &http.Server{Addr: ":8080", Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go play(ctx, rec)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("starting demo server on :8080")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("demo server crashed", "error", err)
		os.Exit(1)
	}
}

// play records one session step every two seconds until the script ends.
func play(ctx context.Context, rec *engine.Recorder) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for _, s := range session {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		res := rec.RecordEvent(ctx, s.kind, s.meta)
		if res.Rejected != "" {
			slog.Info("event rejected", "kind", s.kind, "reason", res.Rejected)
			continue
		}
		slog.Info(res.Message, "kind", s.kind, "points", res.PointsAwarded, "streak", res.Streak, "achievements", res.Achievements)
	}
	st := rec.State()
	slog.Info("session finished", "total_points", st.TotalPoints, "available", st.AvailablePoints, "achievements", st.Achievements)
}
