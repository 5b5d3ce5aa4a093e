package round

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

type fakeBroadcaster struct {
	timers   []int
	previews []int
	labels   []string
}

func (f *fakeBroadcaster) BroadcastTimer(label string, secondsLeft int) {
	f.timers = append(f.timers, secondsLeft)
	f.labels = append(f.labels, label)
}

func (f *fakeBroadcaster) BroadcastPreview(secondsLeft, decoy int) {
	f.previews = append(f.previews, secondsLeft)
	if decoy < 0 || decoy > 99 {
		panic("decoy out of range")
	}
}

type fakePublisher struct {
	mu     sync.Mutex
	events []string
}

func (f *fakePublisher) Publish(ctx context.Context, eventType, roundLabel, userID string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, eventType+":"+roundLabel)
	return nil
}

func newTestTracker(at time.Time) (*Tracker, *fakeBroadcaster, *clockwork.FakeClock) {
	fc := clockwork.NewFakeClockAt(at)
	b := &fakeBroadcaster{}
	tr := NewTracker(DefaultConfig(), fc, b, &fakePublisher{})
	return tr, b, fc
}

func at(hh, mm, ss int) time.Time {
	return time.Date(2026, 8, 28, hh, mm, ss, 0, time.UTC)
}

func TestTickCountdownAndPreviewSequence(t *testing.T) {
	tr, b, _ := newTestTracker(at(10, 4, 0))

	tr.tick(context.Background(), at(10, 4, 0)) // opens round 10:05
	label, ok := tr.CurrentLabel()
	if !ok || label != "10:05" {
		t.Fatalf("current label = %q, %v; want 10:05", label, ok)
	}

	tr.tick(context.Background(), at(10, 4, 30))
	if len(b.timers) != 1 || b.timers[0] != 30 {
		t.Fatalf("timers = %v, want [30]", b.timers)
	}

	// Final countdown: one preview per second, 5..1, despite 500ms ticks.
	for ms := 0; ms < 5000; ms += 500 {
		tr.tick(context.Background(), at(10, 4, 55).Add(time.Duration(ms) * time.Millisecond))
	}
	want := []int{5, 4, 3, 2, 1}
	if len(b.previews) != len(want) {
		t.Fatalf("previews = %v, want %v", b.previews, want)
	}
	for i, sl := range want {
		if b.previews[i] != sl {
			t.Fatalf("previews = %v, want %v", b.previews, want)
		}
	}
}

func TestTickSettlesExactlyOnce(t *testing.T) {
	tr, _, _ := newTestTracker(at(10, 4, 0))
	tr.tick(context.Background(), at(10, 4, 0))

	// Jittered ticks at and past the deadline.
	tr.tick(context.Background(), at(10, 5, 0))
	tr.tick(context.Background(), at(10, 5, 0))
	tr.tick(context.Background(), at(10, 5, 0).Add(300 * time.Millisecond))

	select {
	case job := <-tr.SettleJobs():
		if job.Label != "10:05" {
			t.Fatalf("job label = %q, want 10:05", job.Label)
		}
		if job.Override != nil {
			t.Fatalf("job override = %+v, want nil", job.Override)
		}
	default:
		t.Fatal("no settlement job dispatched")
	}
	select {
	case job := <-tr.SettleJobs():
		t.Fatalf("second settlement job dispatched: %+v", job)
	default:
	}

	// The next round opened immediately.
	label, ok := tr.CurrentLabel()
	if !ok || label != "10:10" {
		t.Fatalf("next round label = %q, want 10:10", label)
	}
}

func TestOverrideConsumedByJobAndClearedForNextRound(t *testing.T) {
	tr, _, fc := newTestTracker(at(10, 4, 0))
	tr.tick(context.Background(), fc.Now())

	fc.Advance(50 * time.Second) // 10:04:50, 10s remaining
	if err := tr.TrySetOverride(42, 2); err != nil {
		t.Fatalf("TrySetOverride at 10s remaining: %v", err)
	}

	tr.tick(context.Background(), at(10, 5, 0))
	job := <-tr.SettleJobs()
	if job.Override == nil || job.Override.Number != 42 || job.Override.Bonus != 2 {
		t.Fatalf("job override = %+v, want {42 2}", job.Override)
	}

	// Slot must be empty for the next round: settle it without an override.
	tr.tick(context.Background(), at(10, 10, 0))
	next := <-tr.SettleJobs()
	if next.Override != nil {
		t.Fatalf("override leaked into next round: %+v", next.Override)
	}
}

func TestTrySetOverrideRejections(t *testing.T) {
	tr, _, fc := newTestTracker(at(10, 4, 0))

	if err := tr.TrySetOverride(42, 2); !errors.Is(err, ErrNoActiveRound) {
		t.Fatalf("before first round: %v, want ErrNoActiveRound", err)
	}

	tr.tick(context.Background(), fc.Now())
	fc.Advance(4*time.Minute + 55*time.Second) // 5s remaining
	if err := tr.TrySetOverride(42, 2); !errors.Is(err, ErrTooLate) {
		t.Fatalf("at 5s remaining: %v, want ErrTooLate", err)
	}

	for _, bad := range []struct {
		number int
		bonus  int64
	}{{-1, 1}, {100, 1}, {42, 0}, {42, 11}} {
		if err := tr.TrySetOverride(bad.number, bad.bonus); !errors.Is(err, ErrInvalidOverride) {
			t.Fatalf("TrySetOverride(%d, %d) = %v, want ErrInvalidOverride", bad.number, bad.bonus, err)
		}
	}
}

func TestStakeWindow(t *testing.T) {
	tr, _, fc := newTestTracker(at(10, 4, 0))

	if _, err := tr.StakeWindow(); !errors.Is(err, ErrNoActiveRound) {
		t.Fatalf("before first round: %v, want ErrNoActiveRound", err)
	}

	tr.tick(context.Background(), fc.Now())
	label, err := tr.StakeWindow() // 60s remaining
	if err != nil || label != "10:05" {
		t.Fatalf("StakeWindow = %q, %v; want 10:05", label, err)
	}

	fc.Advance(45 * time.Second) // 15s remaining
	if _, err := tr.StakeWindow(); !errors.Is(err, ErrTooLate) {
		t.Fatalf("at 15s remaining: %v, want ErrTooLate", err)
	}
}

func TestSnapshotForLateJoiners(t *testing.T) {
	tr, _, fc := newTestTracker(at(10, 4, 0))
	tr.tick(context.Background(), fc.Now())
	fc.Advance(25 * time.Second)

	label, secondsLeft, ok := tr.Snapshot()
	if !ok || label != "10:05" || secondsLeft != 35 {
		t.Fatalf("Snapshot = %q, %d, %v; want 10:05, 35, true", label, secondsLeft, ok)
	}
}

func TestSettleDispatchAbandonedOnlyAtShutdown(t *testing.T) {
	tr, _, _ := newTestTracker(at(10, 4, 0))
	ctx := context.Background()
	tr.tick(ctx, at(10, 4, 0))

	// Fill the handoff queue with unconsumed jobs.
	end := at(10, 5, 0)
	for i := 0; i < cap(tr.settleCh); i++ {
		tr.tick(ctx, end)
		end = end.Add(5 * time.Minute)
	}

	// Queue full and the process shutting down: the dispatch must drop
	// the job rather than block forever, and the round still advances.
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	done := make(chan struct{})
	go func() {
		tr.tick(cancelled, end)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("tick blocked at shutdown with a full settle queue")
	}

	label, ok := tr.CurrentLabel()
	want := Label(NextBoundary(end, 5*time.Minute), time.UTC)
	if !ok || label != want {
		t.Fatalf("label = %q, want %q", label, want)
	}

	// Every queued job is still intact for the worker.
	for i := 0; i < cap(tr.settleCh); i++ {
		select {
		case <-tr.SettleJobs():
		default:
			t.Fatalf("queued job %d missing", i)
		}
	}
}
