package realtime

import (
	"context"
	"encoding/json"
	"testing"

	"rewardskit/engine"
)

func TestHubSubscribeBroadcastUnsubscribe(t *testing.T) {
	h := NewHub()
	id, ch := h.Subscribe(1)

	h.Broadcast(context.Background(), engine.Change{Type: engine.ChangeRecorded, UserID: "bob", Delta: 10, TotalPoints: 10})

	received := <-ch
	if received.UserID != "bob" || received.Type != engine.ChangeRecorded {
		t.Fatalf("unexpected change: %+v", received)
	}

	h.Unsubscribe(id)
	_, ok := <-ch
	if ok {
		t.Fatal("expected channel closed after unsubscribe")
	}
}

func TestHubAttachForwardsBusChanges(t *testing.T) {
	h := NewHub()
	bus := engine.NewEventBus(engine.DispatchSync)
	detach := h.Attach(bus)
	_, ch := h.Subscribe(2)

	bus.Publish(context.Background(), engine.Change{Type: engine.ChangeReset, UserID: "ana", ForceSync: true, IsReset: true})
	got := <-ch
	if !got.ForceSync || !got.IsReset {
		t.Fatalf("reset flags lost: %+v", got)
	}

	detach()
	bus.Publish(context.Background(), engine.Change{Type: engine.ChangeRecorded})
	select {
	case c := <-ch:
		t.Fatalf("detached hub still received %+v", c)
	default:
	}
}

func TestMarshalJSON(t *testing.T) {
	b := MarshalJSON(engine.Change{Type: engine.ChangeRedeemed, UserID: "alice", Delta: -20, AvailablePoints: 5})
	var out engine.Change
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Delta != -20 || out.AvailablePoints != 5 {
		t.Fatalf("unexpected change: %+v", out)
	}
}
