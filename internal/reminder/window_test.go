package reminder

import (
	"errors"
	"testing"
	"time"
)

func TestValidateWindow(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	minLead := 5 * time.Minute
	maxLead := 72 * time.Hour

	tests := []struct {
		name   string
		fireAt time.Time
		want   WindowReason // "" means valid
	}{
		{"exactly now", now, WindowInPast},
		{"in the past", now.Add(-time.Hour), WindowInPast},
		{"one nanosecond ahead", now.Add(time.Nanosecond), WindowTooSoon},
		{"just under min lead", now.Add(minLead - time.Second), WindowTooSoon},
		{"exactly min lead", now.Add(minLead), ""},
		{"comfortably inside", now.Add(24 * time.Hour), ""},
		{"exactly max lead", now.Add(maxLead), ""},
		{"just over max lead", now.Add(maxLead + time.Second), WindowTooFar},
		{"way over max lead", now.Add(30 * 24 * time.Hour), WindowTooFar},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := Validate(now, tt.fireAt, minLead, maxLead)
			if tt.want == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			we, ok := AsWindowError(err)
			if !ok {
				t.Fatalf("Validate() = %v, want *WindowError", err)
			}
			if we.Reason != tt.want {
				t.Fatalf("reason = %q, want %q", we.Reason, tt.want)
			}
		})
	}
}

func TestValidateDeterministic(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fireAt := now.Add(time.Hour)
	for i := 0; i < 10; i++ {
		if err := Validate(now, fireAt, time.Minute, 24*time.Hour); err != nil {
			t.Fatalf("run %d: Validate() = %v, want nil", i, err)
		}
	}
}

func TestChannelValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		ch      Channel
		wantErr bool
	}{
		{"valid email", Channel{Type: ChannelEmail, ToAddress: "to@example.com", FromAddress: "from@example.com"}, false},
		{"email missing to", Channel{Type: ChannelEmail, FromAddress: "from@example.com"}, true},
		{"email malformed to", Channel{Type: ChannelEmail, ToAddress: "nope", FromAddress: "from@example.com"}, true},
		{"email missing from", Channel{Type: ChannelEmail, ToAddress: "to@example.com"}, true},
		{"valid sms", Channel{Type: ChannelSMS, PhoneNumber: "+15551234567"}, false},
		{"sms missing phone", Channel{Type: ChannelSMS}, true},
		{"sms blank phone", Channel{Type: ChannelSMS, PhoneNumber: "   "}, true},
		{"unknown type", Channel{Type: "pigeon"}, true},
		{"empty type", Channel{}, true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.ch.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidChannelConfig) {
					t.Fatalf("Validate() = %v, want ErrInvalidChannelConfig", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate() = %v, want nil", err)
			}
		})
	}
}

func TestStateTerminal(t *testing.T) {
	t.Parallel()

	if StatePending.Terminal() {
		t.Fatal("Pending must not be terminal")
	}
	if !StateAcknowledged.Terminal() || !StateUnacknowledged.Terminal() {
		t.Fatal("Acknowledged and Unacknowledged must be terminal")
	}
	if State("Bogus").Valid() {
		t.Fatal("unknown state must not be valid")
	}
}

func TestNewReminder(t *testing.T) {
	t.Parallel()

	fireAt := time.Now().Add(time.Hour)
	ch := Channel{Type: ChannelSMS, PhoneNumber: "+15551234567"}
	a := New("owner-1", "take out the trash", fireAt, ch)
	b := New("owner-1", "take out the trash", fireAt, ch)

	if a.ID == "" || b.ID == "" || a.ID == b.ID {
		t.Fatalf("ids must be unique and non-empty; got %q and %q", a.ID, b.ID)
	}
	if a.State != StatePending {
		t.Fatalf("state = %q, want Pending", a.State)
	}
	if a.RetryCount != 0 {
		t.Fatalf("retry_count = %d, want 0", a.RetryCount)
	}
	if !a.FireAt.Equal(fireAt) {
		t.Fatalf("fire_at = %v, want %v", a.FireAt, fireAt)
	}
	if a.FireAt.Location() != time.UTC {
		t.Fatal("fire_at must be stored in UTC")
	}
}
