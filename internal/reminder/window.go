package reminder

import "time"

// Validate checks a candidate fire time against the configured lead-time
// window. It is called at create/update time only; execution polling never
// re-validates.
//
// The valid range is inclusive: (fireAt - now) may equal minLead or maxLead.
// Deterministic given its four inputs; no clock reads, no side effects.
func Validate(now, fireAt time.Time, minLead, maxLead time.Duration) error {
	if !fireAt.After(now) {
		return &WindowError{Reason: WindowInPast, FireAt: fireAt, Now: now}
	}
	lead := fireAt.Sub(now)
	if lead < minLead {
		return &WindowError{Reason: WindowTooSoon, FireAt: fireAt, Now: now}
	}
	if lead > maxLead {
		return &WindowError{Reason: WindowTooFar, FireAt: fireAt, Now: now}
	}
	return nil
}
