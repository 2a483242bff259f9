package reminder

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle state of a reminder.
//
// Pending is the only non-terminal state. Acknowledged is reached exclusively
// via a user acknowledgment (the API layer); Unacknowledged is reached
// exclusively by the execution engine on retry exhaustion or a permanent
// channel failure. Nothing ever leaves a terminal state.
type State string

const (
	StatePending        State = "Pending"
	StateAcknowledged   State = "Acknowledged"
	StateUnacknowledged State = "Unacknowledged"
)

func (s State) Terminal() bool {
	return s == StateAcknowledged || s == StateUnacknowledged
}

func (s State) Valid() bool {
	switch s {
	case StatePending, StateAcknowledged, StateUnacknowledged:
		return true
	}
	return false
}

// ChannelType selects the delivery capability.
type ChannelType string

const (
	ChannelEmail ChannelType = "email"
	ChannelSMS   ChannelType = "sms"
)

// Channel carries the delivery route plus its address data.
// Exactly the fields for the selected type must be set.
type Channel struct {
	Type        ChannelType `json:"type" dynamodbav:"type"`
	ToAddress   string      `json:"to_address,omitempty" dynamodbav:"to_address,omitempty"`
	FromAddress string      `json:"from_address,omitempty" dynamodbav:"from_address,omitempty"`
	PhoneNumber string      `json:"phone_number,omitempty" dynamodbav:"phone_number,omitempty"`
}

// Validate reports ErrInvalidChannelConfig (wrapped) when the address data
// does not match the channel type. The engine treats this as a permanent
// failure, so keep the checks shape-level only.
func (c Channel) Validate() error {
	switch c.Type {
	case ChannelEmail:
		if strings.TrimSpace(c.ToAddress) == "" || !strings.Contains(c.ToAddress, "@") {
			return invalidChannel("email to_address missing or malformed")
		}
		if strings.TrimSpace(c.FromAddress) == "" || !strings.Contains(c.FromAddress, "@") {
			return invalidChannel("email from_address missing or malformed")
		}
		return nil
	case ChannelSMS:
		if strings.TrimSpace(c.PhoneNumber) == "" {
			return invalidChannel("sms phone_number missing")
		}
		return nil
	default:
		return invalidChannel("unknown channel type " + string(c.Type))
	}
}

// Reminder is the stored record. The engine holds a transient copy per
// invocation; the store owns the durable state.
type Reminder struct {
	ID         string    `json:"id" dynamodbav:"reminder_id"`
	OwnerID    string    `json:"owner_id" dynamodbav:"owner_id"`
	FireAt     time.Time `json:"fire_at" dynamodbav:"fire_at,unixtime"`
	Message    string    `json:"message" dynamodbav:"message"`
	Channel    Channel   `json:"channel" dynamodbav:"channel"`
	State      State     `json:"state" dynamodbav:"state"`
	RetryCount int       `json:"retry_count" dynamodbav:"retry_count"`
	CreatedAt  time.Time `json:"created_at" dynamodbav:"created_at,unixtime"`
	UpdatedAt  time.Time `json:"updated_at" dynamodbav:"updated_at,unixtime"`
}

// New builds a Pending reminder with a fresh ID. FireAt must already have
// passed window validation; New does not re-check it.
func New(ownerID, message string, fireAt time.Time, ch Channel) Reminder {
	now := time.Now().UTC()
	return Reminder{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		FireAt:    fireAt.UTC(),
		Message:   message,
		Channel:   ch,
		State:     StatePending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
