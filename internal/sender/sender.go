package sender

import (
	"context"
	"time"
)

// EmailSender delivers a reminder message by email.
// Implementations must respect ctx and return the provider message ID.
type EmailSender interface {
	SendEmail(ctx context.Context, to, from, subject, body string) (string, error)
}

// SMSSender delivers a reminder message by SMS.
type SMSSender interface {
	SendSMS(ctx context.Context, phone, body string) (string, error)
}

// Config configures the outbound senders.
type Config struct {
	Region     string
	Timeout    time.Duration // per send call; 0 means DefaultTimeout
	RatePerSec int           // shared across both channels; 0 disables limiting

	// CharSet applies to email subject/body. Defaults to UTF-8.
	CharSet string
}

const DefaultTimeout = 10 * time.Second

func (c Config) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return DefaultTimeout
}

func (c Config) charset() string {
	if c.CharSet != "" {
		return c.CharSet
	}
	return "UTF-8"
}
