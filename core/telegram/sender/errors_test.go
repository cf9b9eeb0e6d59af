package sender

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"
)

// floodReply carries a FloodError with a printable message; telebot only fills the
// message for errors decoded from API responses.
type floodReply struct{ flood tele.FloodError }

func (f floodReply) Error() string { return "telegram: Too Many Requests (429)" }
func (f floodReply) Unwrap() error { return f.flood }

func TestRedact(t *testing.T) {
	err := &url.Error{Op: "Get", URL: "https://api.telegram.org/file/bot123456:AA-bb_CC/photos/1.jpg", Err: errors.New("eof")}
	got := Redact(err)
	assert.NotContains(t, got, "123456:AA-bb_CC")
	assert.Contains(t, got, "bot<redacted>")
	assert.Empty(t, Redact(nil))
}

func TestRedactErrorKeepsChain(t *testing.T) {
	cause := &url.Error{Op: "Post", URL: "https://api.telegram.org/bot1:secret/sendMessage", Err: timeoutErr{}}
	err := fmt.Errorf("send: %w", RedactError(cause))

	assert.NotContains(t, err.Error(), "1:secret")
	var urlErr *url.Error
	require.ErrorAs(t, err, &urlErr)
	assert.Same(t, cause, urlErr)

	var redacted *RedactedError
	require.ErrorAs(t, err, &redacted)
	assert.Same(t, redacted, RedactError(redacted))
	assert.NoError(t, RedactError(nil))
}

func TestClassify(t *testing.T) {
	cases := map[string]error{
		KindCancelled: context.Canceled,
		KindTimeout:   &url.Error{Op: "Post", URL: "u", Err: timeoutErr{}},
		KindNetwork:   &net.OpError{Op: "dial", Err: errors.New("refused")},
		KindFlood:     floodReply{flood: tele.FloodError{RetryAfter: 5}},
		KindBlocked:   &tele.Error{Code: 403, Description: "Forbidden: bot was blocked by the user"},
		KindClient:    errors.New("telegram: Bad Request: chat not found (400)"),
		KindServer:    errors.New("telegram: internal (502)"),
		KindUnknown:   errors.New("boom (x)"),
	}
	for want, err := range cases {
		assert.Equal(t, want, Classify(err), "%v", err)
	}
	assert.Equal(t, KindTimeout, Classify(context.DeadlineExceeded))
	assert.Equal(t, KindNetwork, Classify(&net.DNSError{Err: "no such host", Name: "api.telegram.org"}))
	assert.Empty(t, Classify(nil))
}

func TestPolicyDelay(t *testing.T) {
	p := Policy{Attempts: 3, Backoff: 100 * time.Millisecond, MaxFloodWait: 10 * time.Second}
	transient := &url.Error{Op: "Post", URL: "u", Err: timeoutErr{}}

	d, ok := p.Delay(transient, 2)
	assert.True(t, ok)
	assert.Equal(t, 200*time.Millisecond, d)

	_, ok = p.Delay(transient, 3)
	assert.False(t, ok, "last attempt")

	d, ok = p.Delay(floodReply{flood: tele.FloodError{RetryAfter: 4}}, 1)
	assert.True(t, ok)
	assert.Equal(t, 4*time.Second, d)

	_, ok = p.Delay(floodReply{flood: tele.FloodError{RetryAfter: 30}}, 1)
	assert.False(t, ok, "flood wait above the limit")

	_, ok = p.Delay(errors.New("telegram: Bad Request (400)"), 1)
	assert.False(t, ok)

	_, ok = p.Delay(errors.New("telegram: Bad Gateway (502)"), 1)
	assert.True(t, ok)
}

func TestPolicyDoStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{Attempts: 5, Backoff: time.Hour}

	calls := 0
	attempts, err := p.Do(ctx, func() error {
		calls++
		cancel()
		return &url.Error{Op: "Post", URL: "u", Err: timeoutErr{}}
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, calls)
}

func TestWait(t *testing.T) {
	require.NoError(t, Wait(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	assert.ErrorIs(t, Wait(ctx, time.Hour), context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
	assert.ErrorIs(t, Wait(ctx, 0), context.Canceled)
}
