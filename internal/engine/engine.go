package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"remindd/internal/eventbus"
	"remindd/internal/reminder"
	"remindd/internal/sender"
	"remindd/internal/storage"
	logx "remindd/pkg/logx"
)

// Config controls the execution engine.
type Config struct {
	// MaxRetryCount is the retry budget. A reminder whose retry_count
	// exceeds it is moved to Unacknowledged.
	MaxRetryCount int
	// AckWindow is how long after a send the engine waits before the next
	// acknowledgment check.
	AckWindow time.Duration
	// StoreTimeout bounds each store read/write. 0 means 5s.
	StoreTimeout time.Duration
}

func (c Config) storeTimeout() time.Duration {
	if c.StoreTimeout > 0 {
		return c.StoreTimeout
	}
	return 5 * time.Second
}

// Engine decides, per invocation, whether a reminder fires, defers, retries
// or dies. It holds no reminder state between invocations; everything
// durable lives in the store, and every transition goes through the store's
// conditional write so concurrent invocations for one ID cannot double-send.
type Engine struct {
	mu  sync.Mutex
	cfg Config

	store storage.Store
	email sender.EmailSender
	sms   sender.SMSSender
	bus   eventbus.Bus
	log   logx.Logger
}

func New(cfg Config, store storage.Store, email sender.EmailSender, sms sender.SMSSender, bus eventbus.Bus, log logx.Logger) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{cfg: cfg, store: store, email: email, sms: sms, bus: bus, log: log}
}

// Apply swaps the engine config at runtime (config hot reload).
func (e *Engine) Apply(cfg Config) {
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
}

func (e *Engine) config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// Execute runs one invocation for the given reminder at wall-clock now.
//
// Invocation walk:
//  1. load; missing records surface ErrNotFound and stop.
//  2. terminal state: stop, no mutation.
//  3. retry budget exceeded: conditional transition to Unacknowledged, stop.
//  4. not yet due: refire at fire_at, no mutation, no send.
//  5. due: claim the cycle by incrementing retry_count under the
//     conditional write, then send once. A losing concurrent invocation
//     observes the failed precondition and stops without sending.
//  6. refire at now+AckWindow for the acknowledgment check.
//
// Safe to call repeatedly and concurrently for the same ID.
func (e *Engine) Execute(ctx context.Context, id string, now time.Time) (Directive, error) {
	cfg := e.config()

	rec, err := e.load(ctx, cfg, id)
	if err != nil {
		if errors.Is(err, reminder.ErrNotFound) {
			e.log.Debug("reminder gone", logx.String("id", id))
			return Stop(), err
		}
		return Stop(), fmt.Errorf("load reminder %s: %w", id, err)
	}

	if rec.State != reminder.StatePending {
		e.log.Debug("reminder already resolved", logx.String("id", id), logx.String("state", string(rec.State)))
		return Stop(), nil
	}

	if rec.RetryCount > cfg.MaxRetryCount {
		return e.exhaust(ctx, cfg, rec, now, "retry budget exceeded")
	}

	if rec.FireAt.After(now) {
		return ReFireAt(rec.FireAt), nil
	}

	// Due. Malformed channel data is permanent: same exit as exhaustion.
	if cerr := rec.Channel.Validate(); cerr != nil {
		d, _ := e.exhaust(ctx, cfg, rec, now, cerr.Error())
		return d, cerr
	}

	// Claim this due-and-send cycle. The increment is the idempotency gate:
	// whoever wins the conditional write owns the send.
	next := rec.RetryCount + 1
	err = e.conditionalUpdate(ctx, cfg, rec.ID, rec.State, rec.RetryCount, storage.Mutation{RetryCount: &next, UpdatedAt: now})
	switch {
	case errors.Is(err, reminder.ErrPreconditionFailed):
		e.log.Debug("lost send race", logx.String("id", rec.ID), logx.Int("retry_count", rec.RetryCount))
		return Stop(), nil
	case errors.Is(err, reminder.ErrNotFound):
		return Stop(), err
	case err != nil:
		return Stop(), fmt.Errorf("claim cycle for %s: %w", rec.ID, err)
	}
	rec.RetryCount = next

	checkAt := now.Add(cfg.AckWindow)
	msgID, serr := e.send(ctx, rec)
	if serr != nil {
		e.log.Warn("send failed", logx.String("id", rec.ID), logx.String("channel", string(rec.Channel.Type)), logx.Err(serr))
		e.publish(eventbus.TypeSendFailed, rec, now, "", serr)
		// Send failure does not touch state; the acknowledgment check and
		// the retry budget drive the eventual outcome.
		return ReFireAt(checkAt), fmt.Errorf("%w: %v", reminder.ErrSendFailed, serr)
	}

	e.log.Info("reminder sent",
		logx.String("id", rec.ID),
		logx.String("channel", string(rec.Channel.Type)),
		logx.Int("retry_count", rec.RetryCount),
		logx.String("message_id", msgID))
	e.publish(eventbus.TypeSent, rec, now, msgID, nil)
	return ReFireAt(checkAt), nil
}

func (e *Engine) load(ctx context.Context, cfg Config, id string) (reminder.Reminder, error) {
	rctx, cancel := context.WithTimeout(ctx, cfg.storeTimeout())
	defer cancel()
	return e.store.Get(rctx, id)
}

func (e *Engine) conditionalUpdate(ctx context.Context, cfg Config, id string, st reminder.State, retry int, mut storage.Mutation) error {
	wctx, cancel := context.WithTimeout(ctx, cfg.storeTimeout())
	defer cancel()
	return e.store.ConditionalUpdate(wctx, id, st, retry, mut)
}

// exhaust moves a Pending reminder to Unacknowledged. A failed precondition
// means a concurrent invocation or the user got there first; either way the
// reminder no longer needs us.
func (e *Engine) exhaust(ctx context.Context, cfg Config, rec reminder.Reminder, now time.Time, reason string) (Directive, error) {
	st := reminder.StateUnacknowledged
	err := e.conditionalUpdate(ctx, cfg, rec.ID, rec.State, rec.RetryCount, storage.Mutation{State: &st, UpdatedAt: now})
	switch {
	case errors.Is(err, reminder.ErrPreconditionFailed):
		e.log.Debug("exhaust lost race", logx.String("id", rec.ID))
		return Stop(), nil
	case errors.Is(err, reminder.ErrNotFound):
		return Stop(), err
	case err != nil:
		return Stop(), fmt.Errorf("mark unacknowledged %s: %w", rec.ID, err)
	}
	e.log.Info("reminder abandoned",
		logx.String("id", rec.ID),
		logx.Int("retry_count", rec.RetryCount),
		logx.String("reason", reason))
	e.publish(eventbus.TypeExhausted, rec, now, "", errors.New(reason))
	return Stop(), nil
}

func (e *Engine) send(ctx context.Context, rec reminder.Reminder) (string, error) {
	switch rec.Channel.Type {
	case reminder.ChannelEmail:
		return e.email.SendEmail(ctx, rec.Channel.ToAddress, rec.Channel.FromAddress, subjectFor(rec.Message), rec.Message)
	case reminder.ChannelSMS:
		return e.sms.SendSMS(ctx, rec.Channel.PhoneNumber, rec.Message)
	default:
		// Channel.Validate ran before.
		return "", fmt.Errorf("%w: unknown channel %q", reminder.ErrInvalidChannelConfig, rec.Channel.Type)
	}
}

func (e *Engine) publish(typ string, rec reminder.Reminder, at time.Time, msgID string, err error) {
	if e.bus == nil {
		return
	}
	ev := eventbus.ReminderEvent{
		ID:         rec.ID,
		OwnerID:    rec.OwnerID,
		Channel:    string(rec.Channel.Type),
		RetryCount: rec.RetryCount,
		At:         at,
		MessageID:  msgID,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	e.bus.Publish(eventbus.Event{Type: typ, Time: at, Data: ev})
}

// subjectFor derives an email subject from the message: first line, capped.
func subjectFor(msg string) string {
	line := msg
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimSpace(line)
	if utf8.RuneCountInString(line) > 80 {
		// Cut on a rune boundary so multi-byte text stays valid UTF-8.
		runes := []rune(line)
		line = string(runes[:77]) + "..."
	}
	if line == "" {
		return "Reminder"
	}
	return "Reminder: " + line
}
