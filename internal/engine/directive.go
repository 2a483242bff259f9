package engine

import (
	"fmt"
	"time"
)

// DirectiveKind tags the engine's answer to "should I be called again?".
type DirectiveKind int

const (
	// KindStop means no further invocation is needed for this reminder.
	KindStop DirectiveKind = iota
	// KindReFireAt means the invoker should schedule exactly one future
	// invocation no earlier than Directive.At.
	KindReFireAt
)

// Directive is the value returned to the invoker after each Execute call.
// At is meaningful only when Kind is KindReFireAt.
type Directive struct {
	Kind DirectiveKind
	At   time.Time
}

func Stop() Directive { return Directive{Kind: KindStop} }

func ReFireAt(at time.Time) Directive { return Directive{Kind: KindReFireAt, At: at} }

func (d Directive) String() string {
	if d.Kind == KindReFireAt {
		return fmt.Sprintf("refire_at(%s)", d.At.Format(time.RFC3339))
	}
	return "stop"
}
