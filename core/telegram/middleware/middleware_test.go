package middleware

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"
)

// testContext is a minimal tele.Context backed by a fixed update and a value store.
type testContext struct {
	tele.Context
	update tele.Update

	mu     sync.Mutex
	values map[string]any
	sent   []string
}

func newTestContext(updateID int, userID int64, text string) *testContext {
	return &testContext{
		update: tele.Update{
			ID: updateID,
			Message: &tele.Message{
				Text:   text,
				Sender: &tele.User{ID: userID},
				Chat:   &tele.Chat{ID: userID, Type: tele.ChatPrivate},
			},
		},
		values: make(map[string]any),
	}
}

func (c *testContext) Update() tele.Update    { return c.update }
func (c *testContext) Message() *tele.Message { return c.update.Message }
func (c *testContext) Sender() *tele.User     { return c.update.Message.Sender }
func (c *testContext) Chat() *tele.Chat       { return c.update.Message.Chat }
func (c *testContext) Text() string           { return c.update.Message.Text }

func (c *testContext) Send(what any, _ ...any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, what.(string))
	return nil
}

func (c *testContext) Get(key string) any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.values[key]
}

func (c *testContext) Set(key string, v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = v
}

type mutexLocker struct {
	mu    sync.Mutex
	users map[int64]*sync.Mutex
}

func (l *mutexLocker) Lock(userID int64) func() {
	l.mu.Lock()
	m, ok := l.users[userID]
	if !ok {
		m = &sync.Mutex{}
		l.users[userID] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m.Unlock
}

func TestSerializeMiddlewareRunsOneUpdatePerUser(t *testing.T) {
	var inFlight, peak atomic.Int32
	h := SerializeMiddleware(&mutexLocker{users: map[int64]*sync.Mutex{}})(func(tele.Context) error {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = h(newTestContext(i, 42, "x"))
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), peak.Load())
}

func TestSerializeMiddlewareWithoutLocker(t *testing.T) {
	called := false
	h := SerializeMiddleware(nil)(func(tele.Context) error { called = true; return nil })
	require.NoError(t, h(newTestContext(1, 1, "x")))
	assert.True(t, called)
}

func TestRateLimitMiddleware(t *testing.T) {
	limited := 0
	calls := 0
	mw := RateLimitMiddleware(RateLimitOptions{
		Interval:  time.Hour,
		OnLimited: func(tele.Context) error { limited++; return nil },
	})
	h := mw(func(tele.Context) error { calls++; return nil })

	require.NoError(t, h(newTestContext(1, 7, "hola")))
	require.NoError(t, h(newTestContext(2, 7, "hola")))
	require.NoError(t, h(newTestContext(3, 8, "hola")))

	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, limited)
}

func TestRateLimitMiddlewareExclusions(t *testing.T) {
	calls := 0
	h := RateLimitMiddleware(RateLimitOptions{
		Interval: time.Hour,
		Exclude:  map[string]struct{}{"message": {}},
	})(func(tele.Context) error { calls++; return nil })

	for i := 0; i < 3; i++ {
		require.NoError(t, h(newTestContext(i, 7, "hola")))
	}
	assert.Equal(t, 3, calls)
}

func TestRecoverMiddleware(t *testing.T) {
	h := RecoverMiddleware(func(tele.Context) error { panic("boom") })
	assert.NotPanics(t, func() { assert.NoError(t, h(newTestContext(1, 1, "x"))) })
}

func TestRecoverRepliesAfterPanic(t *testing.T) {
	replyErr := errors.New("reply failed")
	replied := 0
	h := Recover(func(c tele.Context) error {
		replied++
		_ = c.Send("Ocurrió un error")
		return replyErr
	})(func(tele.Context) error { panic(errors.New("nil map")) })

	c := newTestContext(1, 1, "x")
	var err error
	assert.NotPanics(t, func() { err = h(c) })
	assert.ErrorIs(t, err, replyErr)
	assert.Equal(t, 1, replied)
	require.Len(t, c.sent, 1)

	ok := Recover(func(tele.Context) error { replied++; return nil })(func(tele.Context) error { return nil })
	require.NoError(t, ok(c))
	assert.Equal(t, 1, replied, "no reply without a panic")
}

func TestMessageMetricsMiddlewareCountsSends(t *testing.T) {
	var msgs int
	var kb bool
	h := MessageMetricsMiddleware(func(c tele.Context) error {
		_ = c.Send("uno")
		_ = c.Send("dos", &tele.ReplyMarkup{RemoveKeyboard: true})
		msgs, kb = GetCounters(c)
		return nil
	})
	require.NoError(t, h(newTestContext(1, 1, "x")))
	assert.Equal(t, 2, msgs)
	assert.True(t, kb)
}

func TestAdminOnlyMiddleware(t *testing.T) {
	rejected := 0
	h := AdminOnlyMiddleware(AdminOptions{
		AdminID:  99,
		OnReject: func(tele.Context) error { rejected++; return nil },
	})(func(c tele.Context) error { return c.Send("ok") })

	guest := newTestContext(1, 5, "/broadcast hola")
	require.NoError(t, h(guest))
	assert.Empty(t, guest.sent)
	assert.Equal(t, 1, rejected)

	admin := newTestContext(2, 99, "/broadcast hola")
	require.NoError(t, h(admin))
	assert.Equal(t, []string{"ok"}, admin.sent)
}

func TestLoggerMiddlewareStoresRID(t *testing.T) {
	c := newTestContext(10, 20, "hola")
	h := LoggerMiddleware(func(c tele.Context) error { return nil })
	require.NoError(t, h(c))
	assert.Equal(t, "10:20:20", c.Get("rid"))
}

func TestAdminOnlyMiddlewareWithoutAdmin(t *testing.T) {
	rejected := 0
	h := AdminOnlyMiddleware(AdminOptions{
		OnReject: func(tele.Context) error { rejected++; return nil },
	})(func(c tele.Context) error { return c.Send("ok") })

	c := newTestContext(1, 99, "/broadcast hola")
	require.NoError(t, h(c))
	assert.Empty(t, c.sent)
	assert.Equal(t, 1, rejected)
}
