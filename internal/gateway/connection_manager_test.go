package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/openmatka/engine/internal/events"
)

type fakeState struct {
	label       string
	secondsLeft int
	ok          bool
}

func (f *fakeState) Snapshot() (string, int, bool) { return f.label, f.secondsLeft, f.ok }

func newTestConn(cm *ConnectionManager, id, userID string) *Connection {
	return &Connection{
		ID:      id,
		UserID:  userID,
		Send:    make(chan []byte, 16),
		manager: cm,
	}
}

func recvEvent(t *testing.T, conn *Connection) *Event {
	t.Helper()
	select {
	case data := <-conn.Send:
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatalf("unmarshal event: %v", err)
		}
		return &ev
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
		return nil
	}
}

func TestRegisterPushesRoundSnapshot(t *testing.T) {
	cm := NewConnectionManager(DefaultConnectionConfig(), &fakeState{label: "10:05", secondsLeft: 35, ok: true})
	conn := newTestConn(cm, "c1", "u1")

	cm.registerConnection(conn)

	ev := recvEvent(t, conn)
	if ev.Type != events.TypeTimer {
		t.Fatalf("snapshot event type = %s, want timer", ev.Type)
	}
	var payload events.TimerPayload
	if err := json.Unmarshal(ev.Data, &payload); err != nil {
		t.Fatal(err)
	}
	if payload.Label != "10:05" || payload.SecondsLeft != 35 {
		t.Errorf("snapshot payload = %+v, want {10:05 35}", payload)
	}
}

func TestTargetedDeliveryReachesOnlyThatUser(t *testing.T) {
	cm := NewConnectionManager(DefaultConnectionConfig(), &fakeState{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go cm.Start(ctx)

	u1 := newTestConn(cm, "c1", "u1")
	u2 := newTestConn(cm, "c2", "u2")
	cm.registerConnection(u1)
	cm.registerConnection(u2)

	event, err := newEvent(events.TypePersonalOutcome, map[string]string{"status": "won"})
	if err != nil {
		t.Fatal(err)
	}
	cm.BroadcastToUser("u1", event)

	got := recvEvent(t, u1)
	if got.Type != events.TypePersonalOutcome {
		t.Fatalf("event type = %s", got.Type)
	}

	select {
	case data := <-u2.Send:
		t.Fatalf("u2 received targeted event for u1: %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestGlobalDeliveryReachesEveryone(t *testing.T) {
	cm := NewConnectionManager(DefaultConnectionConfig(), &fakeState{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go cm.Start(ctx)

	u1 := newTestConn(cm, "c1", "u1")
	u2 := newTestConn(cm, "c2", "u2")
	cm.registerConnection(u1)
	cm.registerConnection(u2)

	event, err := newEvent(events.TypeResult, events.ResultPayload{Label: "10:05", Number: 42, Bonus: 2})
	if err != nil {
		t.Fatal(err)
	}
	cm.BroadcastGlobal(event)

	for _, conn := range []*Connection{u1, u2} {
		if ev := recvEvent(t, conn); ev.Type != events.TypeResult {
			t.Fatalf("event type = %s, want result", ev.Type)
		}
	}
}

func TestOfflineTargetedDeliveryDropsSilently(t *testing.T) {
	cm := NewConnectionManager(DefaultConnectionConfig(), &fakeState{})

	event, err := newEvent(events.TypePersonalOutcome, map[string]string{"status": "won"})
	if err != nil {
		t.Fatal(err)
	}
	// No connections registered; must not panic or block.
	cm.handleBroadcast(broadcastMessage{UserID: "ghost", Event: event})
}

func TestBusBridgeRouting(t *testing.T) {
	cm := NewConnectionManager(DefaultConnectionConfig(), &fakeState{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go cm.Start(ctx)

	u1 := newTestConn(cm, "c1", "u1")
	u2 := newTestConn(cm, "c2", "u2")
	cm.registerConnection(u1)
	cm.registerConnection(u2)

	payload, _ := json.Marshal(events.PersonalOutcomePayload{Status: "lost", Number: 7})
	env := events.Envelope{
		EventID:   "e1",
		EventType: events.TypePersonalOutcome,
		UserID:    "u2",
		Payload:   payload,
	}
	if err := cm.HandleBusEvent(ctx, env); err != nil {
		t.Fatal(err)
	}

	got := recvEvent(t, u2)
	if got.ID != "e1" {
		t.Errorf("event id = %s, want e1 (preserved from envelope)", got.ID)
	}
	select {
	case <-u1.Send:
		t.Fatal("u1 received u2's outcome")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnregisterRemovesUserEntry(t *testing.T) {
	cm := NewConnectionManager(DefaultConnectionConfig(), &fakeState{})
	conn := newTestConn(cm, "c1", "u1")
	cm.registerConnection(conn)

	if stats := cm.ConnectionStats(); stats["u1"] != 1 {
		t.Fatalf("stats = %v, want u1:1", stats)
	}
	cm.unregisterConnection(conn)
	if stats := cm.ConnectionStats(); len(stats) != 0 {
		t.Fatalf("stats after unregister = %v, want empty", stats)
	}
	// Double unregister must be a no-op, not a close of a closed channel.
	cm.unregisterConnection(conn)
}

func TestBroadcastRacingUnregister(t *testing.T) {
	cm := NewConnectionManager(DefaultConnectionConfig(), &fakeState{})

	event, err := newEvent(events.TypeTimer, events.TimerPayload{Label: "10:05", SecondsLeft: 10})
	if err != nil {
		t.Fatal(err)
	}

	// A send must never land on a channel the unregister path has closed.
	for i := 0; i < 50; i++ {
		conns := make([]*Connection, 20)
		for j := range conns {
			conns[j] = newTestConn(cm, "c", "u")
			cm.registerConnection(conns[j])
		}

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			for k := 0; k < 100; k++ {
				cm.handleBroadcast(broadcastMessage{Event: event})
			}
		}()
		go func() {
			defer wg.Done()
			for _, conn := range conns {
				cm.unregisterConnection(conn)
			}
		}()
		wg.Wait()
	}
}
