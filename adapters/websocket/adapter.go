package websocket

import (
	"net/http"
	"strings"
	"time"

	gorillaws "github.com/gorilla/websocket"

	"rewardskit/core"
	"rewardskit/realtime"
)

// Handler returns an http.Handler that upgrades to WebSocket and streams
// ledger changes from the hub. An optional ?user= query narrows the stream
// to one learner.
func Handler(hub *realtime.Hub) http.Handler {
	upgrader := gorillaws.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var only core.UserID
		if u := strings.TrimSpace(r.URL.Query().Get("user")); u != "" {
			normalized, err := core.NormalizeUserID(core.UserID(u))
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			only = normalized
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		id, ch := hub.Subscribe(256)
		defer hub.Unsubscribe(id)

		for c := range ch {
			if only != "" && c.UserID != only {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(gorillaws.TextMessage, realtime.MarshalJSON(c)); err != nil {
				return
			}
		}
	})
}
