package sender

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

type countingSender struct {
	n atomic.Int64
}

func (c *countingSender) SendEmail(ctx context.Context, to, from, subject, body string) (string, error) {
	c.n.Add(1)
	return "msg-1", nil
}

func (c *countingSender) SendSMS(ctx context.Context, phone, body string) (string, error) {
	c.n.Add(1)
	return "msg-2", nil
}

func TestLimitedDelegates(t *testing.T) {
	t.Parallel()

	inner := &countingSender{}
	lim := NewLimited(inner, inner, 0) // 0 disables limiting

	if _, err := lim.SendEmail(context.Background(), "to@example.com", "from@example.com", "s", "b"); err != nil {
		t.Fatalf("SendEmail: %v", err)
	}
	if _, err := lim.SendSMS(context.Background(), "+15551234567", "b"); err != nil {
		t.Fatalf("SendSMS: %v", err)
	}
	if inner.n.Load() != 2 {
		t.Fatalf("delegated sends = %d, want 2", inner.n.Load())
	}
}

func TestLimitedHonorsContext(t *testing.T) {
	t.Parallel()

	inner := &countingSender{}
	lim := NewLimited(inner, inner, 1)

	ctx := context.Background()
	// Drain the initial burst token.
	if _, err := lim.SendSMS(ctx, "+15551234567", "b"); err != nil {
		t.Fatalf("first send: %v", err)
	}

	// The second send needs a fresh token; a cancelled ctx must abort the
	// wait instead of sending.
	cctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	if _, err := lim.SendSMS(cctx, "+15551234567", "b"); err == nil {
		t.Fatal("expected wait to fail under an expiring context")
	}
	if inner.n.Load() != 1 {
		t.Fatalf("sends = %d, want 1", inner.n.Load())
	}
}

func TestConfigDefaults(t *testing.T) {
	t.Parallel()

	var c Config
	if c.timeout() != DefaultTimeout {
		t.Fatalf("timeout = %v, want %v", c.timeout(), DefaultTimeout)
	}
	if c.charset() != "UTF-8" {
		t.Fatalf("charset = %q, want UTF-8", c.charset())
	}
	c = Config{Timeout: time.Second, CharSet: "ISO-8859-1"}
	if c.timeout() != time.Second || c.charset() != "ISO-8859-1" {
		t.Fatalf("explicit overrides not honored: %v %q", c.timeout(), c.charset())
	}
}
