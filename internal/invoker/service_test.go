package invoker

import (
	"context"
	"sync"
	"testing"
	"time"

	"remindd/internal/engine"
	"remindd/internal/reminder"
	"remindd/internal/storage"
	logx "remindd/pkg/logx"
)

type stubExec struct {
	mu     sync.Mutex
	calls  []string
	fn     func(id string) (engine.Directive, error)
	called chan string
}

func newStubExec(buffer int) *stubExec {
	return &stubExec{called: make(chan string, buffer)}
}

func (s *stubExec) Execute(ctx context.Context, id string, now time.Time) (engine.Directive, error) {
	s.mu.Lock()
	s.calls = append(s.calls, id)
	fn := s.fn
	s.mu.Unlock()
	select {
	case s.called <- id:
	default:
	}
	if fn != nil {
		return fn(id)
	}
	return engine.Stop(), nil
}

func (s *stubExec) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func waitFor(t *testing.T, ch <-chan string, want string) {
	t.Helper()
	select {
	case id := <-ch:
		if id != want {
			t.Fatalf("executed %q, want %q", id, want)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for execution of %q", want)
	}
}

func startService(t *testing.T, cfg Config, exec Executor, store storage.Store) *Service {
	t.Helper()
	if store == nil {
		store = storage.NewMemory()
	}
	svc := New(cfg, exec, store, nil, logx.Nop())
	svc.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		svc.Stop(ctx)
	})
	return svc
}

func TestScheduleTriggersExecution(t *testing.T) {
	t.Parallel()

	exec := newStubExec(4)
	svc := startService(t, Config{Enabled: true, SweepEvery: time.Hour}, exec, nil)

	svc.Schedule("rem-1", time.Now().Add(20*time.Millisecond))
	waitFor(t, exec.called, "rem-1")
}

func TestScheduleDueImmediately(t *testing.T) {
	t.Parallel()

	// A past instant fires the timer right away.
	exec := newStubExec(4)
	svc := startService(t, Config{Enabled: true, SweepEvery: time.Hour}, exec, nil)

	svc.Schedule("rem-past", time.Now().Add(-time.Minute))
	waitFor(t, exec.called, "rem-past")
}

func TestScheduleUpsertReplacesTimer(t *testing.T) {
	t.Parallel()

	exec := newStubExec(4)
	svc := startService(t, Config{Enabled: true, SweepEvery: time.Hour}, exec, nil)

	// First timer is far out; the re-schedule replaces it with a near one.
	svc.Schedule("rem-1", time.Now().Add(time.Hour))
	svc.Schedule("rem-1", time.Now().Add(20*time.Millisecond))
	waitFor(t, exec.called, "rem-1")

	// Give any stale duplicate a chance to misfire, then check the count.
	time.Sleep(100 * time.Millisecond)
	if n := exec.callCount(); n != 1 {
		t.Fatalf("executions = %d, want 1", n)
	}
}

func TestCancelDropsTimer(t *testing.T) {
	t.Parallel()

	exec := newStubExec(4)
	svc := startService(t, Config{Enabled: true, SweepEvery: time.Hour}, exec, nil)

	svc.Schedule("rem-1", time.Now().Add(50*time.Millisecond))
	svc.Cancel("rem-1")

	time.Sleep(200 * time.Millisecond)
	if n := exec.callCount(); n != 0 {
		t.Fatalf("executions after cancel = %d, want 0", n)
	}
	// Cancel of an unknown ID is a no-op.
	svc.Cancel("never-scheduled")
}

func TestReFireDirectiveReArms(t *testing.T) {
	t.Parallel()

	exec := newStubExec(8)
	var mu sync.Mutex
	remaining := 2
	exec.fn = func(id string) (engine.Directive, error) {
		mu.Lock()
		defer mu.Unlock()
		remaining--
		if remaining > 0 {
			return engine.ReFireAt(time.Now().Add(20 * time.Millisecond)), nil
		}
		return engine.Stop(), nil
	}
	svc := startService(t, Config{Enabled: true, SweepEvery: time.Hour}, exec, nil)

	svc.Schedule("rem-1", time.Now().Add(10*time.Millisecond))
	waitFor(t, exec.called, "rem-1")
	waitFor(t, exec.called, "rem-1") // second run came from the directive

	time.Sleep(150 * time.Millisecond)
	if n := exec.callCount(); n != 2 {
		t.Fatalf("executions = %d, want 2 (stop directive ends the chain)", n)
	}
}

func TestSweepEnqueuesDuePending(t *testing.T) {
	t.Parallel()

	store := storage.NewMemory()
	now := time.Now().UTC()
	for _, rec := range []reminder.Reminder{
		{ID: "due-1", OwnerID: "o", FireAt: now.Add(-time.Minute), State: reminder.StatePending},
		{ID: "future", OwnerID: "o", FireAt: now.Add(time.Hour), State: reminder.StatePending},
		{ID: "acked", OwnerID: "o", FireAt: now.Add(-time.Minute), State: reminder.StateAcknowledged},
	} {
		if err := store.Put(context.Background(), rec); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	exec := newStubExec(8)
	// Start runs one immediate sweep.
	startService(t, Config{Enabled: true, SweepEvery: time.Hour}, exec, store)

	waitFor(t, exec.called, "due-1")
	time.Sleep(100 * time.Millisecond)
	if n := exec.callCount(); n != 1 {
		t.Fatalf("executions = %d, want 1 (only due Pending)", n)
	}
}

// gatedStore parks QueryDue until released, keeping a sweep in flight.
type gatedStore struct {
	storage.Store
	entered chan struct{}
	release chan struct{}
}

func (g *gatedStore) QueryDue(ctx context.Context, before time.Time, limit int) ([]reminder.Reminder, error) {
	select {
	case g.entered <- struct{}{}:
	default:
	}
	select {
	case <-g.release:
	case <-ctx.Done():
	}
	return g.Store.QueryDue(ctx, before, limit)
}

func TestApplyDuringInFlightSweep(t *testing.T) {
	t.Parallel()

	gs := &gatedStore{
		Store:   storage.NewMemory(),
		entered: make(chan struct{}, 4),
		release: make(chan struct{}),
	}
	exec := newStubExec(4)
	svc := startService(t, Config{Enabled: true, SweepEvery: 50 * time.Millisecond}, exec, gs)
	defer close(gs.release)

	// Wait until a sweep is parked inside the store.
	select {
	case <-gs.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("sweep never reached the store")
	}

	// Changing sweep_every swaps the cron runner. That must not wait for
	// the parked sweep, which itself needs the service mutex to finish.
	applied := make(chan struct{})
	go func() {
		svc.Apply(Config{Enabled: true, SweepEvery: time.Hour})
		close(applied)
	}()

	select {
	case <-applied:
	case <-time.After(3 * time.Second):
		t.Fatal("Apply blocked behind an in-flight sweep")
	}

	// The service must still be usable after the reload.
	svc.Schedule("rem-1", time.Now().Add(10*time.Millisecond))
	waitFor(t, exec.called, "rem-1")
}

func TestDisabledServiceDropsTriggers(t *testing.T) {
	t.Parallel()

	exec := newStubExec(4)
	svc := startService(t, Config{Enabled: false, SweepEvery: time.Hour}, exec, nil)

	svc.Schedule("rem-1", time.Now().Add(10*time.Millisecond))
	time.Sleep(150 * time.Millisecond)
	if n := exec.callCount(); n != 0 {
		t.Fatalf("disabled service executed %d times", n)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	t.Parallel()

	exec := newStubExec(4)
	svc := New(Config{Enabled: true, SweepEvery: time.Hour}, exec, storage.NewMemory(), nil, logx.Nop())
	svc.Start(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	svc.Stop(ctx)
	svc.Stop(ctx) // second stop must not panic or hang
}

func TestSnapshotInfo(t *testing.T) {
	t.Parallel()

	exec := newStubExec(4)
	svc := startService(t, Config{Enabled: true, Workers: 3, SweepEvery: time.Hour}, exec, nil)

	svc.Schedule("rem-1", time.Now().Add(time.Hour))
	snap := svc.SnapshotInfo()
	if !snap.Enabled || snap.Workers != 3 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if snap.Timers != 1 {
		t.Fatalf("timers = %d, want 1", snap.Timers)
	}
}
