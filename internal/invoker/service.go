package invoker

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"remindd/internal/eventbus"
	"remindd/internal/storage"
	logx "remindd/pkg/logx"
)

// Service owns the re-invocation loop around the execution engine.
//
// Two trigger paths feed one worker queue:
//   - per-reminder one-shot timers, armed from ReFireAt directives and from
//     the API layer at create/update time;
//   - a periodic sweep over the store's due Pending reminders, which picks
//     up whatever the timers miss (restarts, dropped queue items).
//
// Both paths collapse on the same reminder ID, and the engine's conditional
// writes make duplicate triggers harmless.
type Service struct {
	mu sync.Mutex

	log   logx.Logger
	cfg   Config
	exec  Executor
	store storage.Store
	bus   eventbus.Bus

	queue     chan string
	stopCh    chan struct{}
	stopDone  chan struct{}
	runCtx    context.Context
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup

	c *cron.Cron

	// one-shot timers, keyed by reminder ID
	tmu    sync.Mutex
	timers map[string]*time.Timer
	ver    map[string]uint64

	dropped atomic.Uint64
}

func New(cfg Config, exec Executor, store storage.Store, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:    cfg,
		exec:   exec,
		store:  store,
		bus:    bus,
		log:    log,
		timers: map[string]*time.Timer{},
		ver:    map[string]uint64{},
	}
}

// Enabled reports the current config flag. (Thread-safe; Apply() may run concurrently.)
func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	restart := s.stopCh != nil && cfg.SweepEvery != s.cfg.SweepEvery
	s.cfg = cfg
	var old *cron.Cron
	if restart {
		old = s.c
		s.c = cron.New()
		if _, err := s.c.AddFunc("@every "+s.cfg.sweepEvery().String(), s.sweep); err != nil {
			s.log.Error("sweep register failed", logx.Err(err))
		}
		s.c.Start()
	}
	s.mu.Unlock()

	if old != nil {
		// Drain the old runner outside the lock: an in-flight sweep needs
		// s.mu to enqueue, so waiting for it here would deadlock.
		go func() { <-old.Stop().Done() }()
	}
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	cur := s.cfg
	s.mu.Unlock()
	s.log.Debug("start requested", logx.Bool("enabled", cur.Enabled), logx.Int("workers", cur.workers()))

	// If a Stop() is in progress, wait for it to complete (prevents double worker pools).
	for {
		s.mu.Lock()
		if s.stopCh == nil {
			break
		}
		done := s.stopDone
		if done == nil {
			// already running
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
		select {
		case <-done:
			// loop and try again
		case <-ctx.Done():
			return
		}
	}
	defer s.mu.Unlock()

	s.stopCh = make(chan struct{})
	s.runCtx, s.runCancel = context.WithCancel(ctx)

	workers := s.cfg.workers()
	// Fresh queue per run to avoid executing stale IDs after a stop/start toggle.
	s.queue = make(chan string, s.cfg.queueSize())

	runCtx := s.runCtx
	stopCh := s.stopCh
	queue := s.queue

	s.workerWG.Add(workers)
	for i := 0; i < workers; i++ {
		idx := i
		go func() {
			defer s.workerWG.Done()
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("panic in invoker worker", logx.Int("worker", idx), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
				}
			}()
			s.worker(runCtx, stopCh, queue)
		}()
	}

	s.c = cron.New()
	_, err := s.c.AddFunc("@every "+s.cfg.sweepEvery().String(), s.sweep)
	if err != nil {
		s.log.Error("sweep register failed", logx.Err(err))
	}
	s.c.Start()

	s.log.Info("service started",
		logx.Int("workers", workers),
		logx.Duration("sweep_every", s.cfg.sweepEvery()))

	// Catch up immediately; don't wait a full sweep period after boot.
	go s.sweep()
}

func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		}
	}

	done := make(chan struct{})
	s.stopDone = done
	stopCh := s.stopCh
	cancel := s.runCancel
	c := s.c
	s.c = nil
	s.runCancel = nil
	s.mu.Unlock()

	close(stopCh)
	if cancel != nil {
		cancel()
	}
	if c != nil {
		<-c.Stop().Done()
	}

	// Stop runtime timers. The sweep re-arms anything still Pending on the
	// next Start().
	s.tmu.Lock()
	for _, t := range s.timers {
		_ = t.Stop()
	}
	s.timers = map[string]*time.Timer{}
	s.tmu.Unlock()

	go func() {
		s.workerWG.Wait()
		s.mu.Lock()
		s.stopCh = nil
		s.runCtx = nil
		s.queue = nil
		s.stopDone = nil
		s.mu.Unlock()
		close(done)
		s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
	}()

	select {
	case <-done:
	case <-ctx.Done():
		// stop continues in background
	}
}

// Schedule arms (or re-arms) the one-shot timer for a reminder. Upsert by
// ID: a later Schedule replaces an earlier one, and the version counter
// makes stale timer callbacks no-ops.
func (s *Service) Schedule(id string, at time.Time) {
	if id == "" {
		return
	}
	s.tmu.Lock()
	if t, ok := s.timers[id]; ok {
		_ = t.Stop()
		delete(s.timers, id)
	}
	ver := s.ver[id] + 1
	s.ver[id] = ver

	delay := time.Until(at)
	if delay < 0 {
		delay = 0
	}
	localID := id
	localVer := ver
	tmr := time.AfterFunc(delay, func() {
		s.tmu.Lock()
		if s.ver[localID] != localVer {
			s.tmu.Unlock()
			return
		}
		delete(s.timers, localID)
		s.tmu.Unlock()
		s.enqueue(localID)
	})
	s.timers[id] = tmr
	s.tmu.Unlock()

	if s.bus != nil {
		s.bus.Publish(eventbus.Event{
			Type: eventbus.TypeScheduled,
			Data: eventbus.ReminderEvent{ID: id, At: at},
		})
	}
	s.log.Debug("invocation scheduled", logx.String("id", id), logx.Time("at", at))
}

// Cancel drops the pending timer for a reminder (deleted or acknowledged).
// Safe to call for unknown IDs.
func (s *Service) Cancel(id string) {
	s.tmu.Lock()
	if t, ok := s.timers[id]; ok {
		_ = t.Stop()
		delete(s.timers, id)
	}
	// Bump the version so an in-flight callback is ignored.
	s.ver[id]++
	s.tmu.Unlock()
	s.log.Debug("invocation cancelled", logx.String("id", id))
}

func (s *Service) enqueue(id string) {
	s.mu.Lock()
	q := s.queue
	en := s.cfg.Enabled
	s.mu.Unlock()
	if !en || q == nil {
		return
	}
	select {
	case q <- id:
	default:
		s.dropped.Add(1)
		s.log.Warn("invoker queue full; dropping trigger (sweep will retry)", logx.String("id", id))
	}
}

// sweep re-discovers due Pending reminders from the store.
func (s *Service) sweep() {
	s.mu.Lock()
	cfg := s.cfg
	ctx := s.runCtx
	s.mu.Unlock()
	if ctx == nil {
		return
	}

	qctx, cancel := context.WithTimeout(ctx, cfg.execTimeout())
	due, err := s.store.QueryDue(qctx, time.Now().UTC(), cfg.sweepLimit())
	cancel()
	if err != nil {
		s.log.Warn("sweep query failed", logx.Err(err))
		return
	}
	for _, rec := range due {
		s.enqueue(rec.ID)
	}
	if len(due) > 0 {
		s.log.Debug("sweep enqueued due reminders", logx.Int("count", len(due)))
	}
}

func (s *Service) SnapshotInfo() Snapshot {
	s.mu.Lock()
	snap := Snapshot{Enabled: s.cfg.Enabled, Workers: s.cfg.workers()}
	if s.queue != nil {
		snap.QueueLen = len(s.queue)
		snap.QueueCap = cap(s.queue)
	}
	s.mu.Unlock()

	s.tmu.Lock()
	snap.Timers = len(s.timers)
	s.tmu.Unlock()

	snap.Dropped = s.dropped.Load()
	return snap
}
