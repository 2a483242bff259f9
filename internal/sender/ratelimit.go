package sender

import (
	"context"

	"golang.org/x/time/rate"
)

// Limited wraps an email and an SMS sender behind a shared token bucket so
// bursts of due reminders cannot blow through provider quotas. Wait blocks
// until a token is available or ctx is done; the send timeout inside the
// wrapped sender stays bounded either way.
type Limited struct {
	email   EmailSender
	sms     SMSSender
	limiter *rate.Limiter
}

// NewLimited builds the wrapper. ratePerSec <= 0 disables limiting.
func NewLimited(email EmailSender, sms SMSSender, ratePerSec int) *Limited {
	var lim *rate.Limiter
	if ratePerSec > 0 {
		lim = rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec)
	}
	return &Limited{email: email, sms: sms, limiter: lim}
}

func (l *Limited) SendEmail(ctx context.Context, to, from, subject, body string) (string, error) {
	if err := l.wait(ctx); err != nil {
		return "", err
	}
	return l.email.SendEmail(ctx, to, from, subject, body)
}

func (l *Limited) SendSMS(ctx context.Context, phone, body string) (string, error) {
	if err := l.wait(ctx); err != nil {
		return "", err
	}
	return l.sms.SendSMS(ctx, phone, body)
}

func (l *Limited) wait(ctx context.Context) error {
	if l.limiter == nil {
		return nil
	}
	return l.limiter.Wait(ctx)
}
