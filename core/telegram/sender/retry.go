package sender

import (
	"context"
	"errors"
	"net"
	"net/url"
	"time"

	tele "gopkg.in/telebot.v4"
)

// Policy bounds how often and how long an outbound Telegram call is retried.
type Policy struct {
	// Attempts is the total number of tries, the first one included.
	Attempts int
	// Backoff grows linearly with the attempt number.
	Backoff time.Duration
	// MaxFloodWait is the longest retry_after the caller is willing to sleep; longer
	// flood waits fail immediately.
	MaxFloodWait time.Duration
}

func (p Policy) attempts() int {
	if p.Attempts < 1 {
		return 1
	}
	return p.Attempts
}

// Delay reports how long to wait before retrying after err on the given attempt, and
// whether a retry makes sense at all.
func (p Policy) Delay(err error, attempt int) (time.Duration, bool) {
	if err == nil || attempt >= p.attempts() {
		return 0, false
	}
	if wait, ok := floodWait(err); ok {
		return wait, wait <= p.MaxFloodWait
	}
	if !Retryable(err) {
		return 0, false
	}
	return p.Backoff * time.Duration(attempt), true
}

// Do runs call until it succeeds, fails permanently or ctx ends. The returned error is the
// last failure, or ctx's error when cancelled while waiting.
func (p Policy) Do(ctx context.Context, call func() error) (attempts int, err error) {
	for attempt := 1; ; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			return attempt - 1, cerr
		}
		err = call()
		if err == nil {
			return attempt, nil
		}
		delay, retry := p.Delay(err, attempt)
		if !retry {
			return attempt, err
		}
		if werr := Wait(ctx, delay); werr != nil {
			return attempt, werr
		}
	}
}

// Wait sleeps for d unless ctx ends first.
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Retryable reports whether err is a transient transport failure: timeouts, refused dials
// and 5xx answers from the Bot API.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return true
	}
	return statusCode(err) >= 500
}

func floodWait(err error) (time.Duration, bool) {
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return time.Duration(flood.RetryAfter) * time.Second, true
	}
	return 0, false
}
