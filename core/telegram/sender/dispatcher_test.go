package sender

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var fastRetry = Policy{Attempts: 3, Backoff: time.Millisecond}

func TestDispatcherRetriesTransientErrors(t *testing.T) {
	d := NewDispatcher(Options{Workers: 1, Retry: fastRetry})
	defer d.Close()

	var calls atomic.Int32
	done := make(chan struct{})
	err := d.Enqueue(context.Background(), "send.text", "sendMessage", func() error {
		if calls.Add(1) < 3 {
			return &url.Error{Op: "Post", URL: "https://api.telegram.org/bot1:x/sendMessage", Err: timeoutErr{}}
		}
		close(done)
		return nil
	})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not succeed")
	}
	assert.Equal(t, int32(3), calls.Load())
}

func TestDispatcherReportsPermanentFailures(t *testing.T) {
	var (
		mu    sync.Mutex
		kinds []string
	)
	d := NewDispatcher(Options{Workers: 1, Retry: fastRetry, OnFailure: func(kind string) {
		mu.Lock()
		kinds = append(kinds, kind)
		mu.Unlock()
	}})

	var calls atomic.Int32
	require.NoError(t, d.Enqueue(context.Background(), "send.text", "sendMessage", func() error {
		calls.Add(1)
		return errors.New("telegram: Forbidden: bot was blocked by the user (403)")
	}))
	d.Close()

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, []string{KindBlocked}, kinds)
	assert.ErrorIs(t, d.Enqueue(context.Background(), "x", "y", func() error { return nil }), ErrQueueClosed)
}

func TestDispatcherOutlivesCancelledUpdate(t *testing.T) {
	d := NewDispatcher(Options{Workers: 1, Retry: fastRetry})
	ctx, cancel := context.WithCancel(context.Background())

	var calls atomic.Int32
	require.NoError(t, d.Enqueue(ctx, "send.text", "sendMessage", func() error {
		calls.Add(1)
		return nil
	}))
	cancel()
	d.Close()

	assert.Equal(t, int32(1), calls.Load())
}

func TestDispatcherQueueFull(t *testing.T) {
	d := NewDispatcher(Options{Workers: 1, QueueSize: 1})
	release := make(chan struct{})
	var started sync.WaitGroup
	started.Add(1)

	require.NoError(t, d.Enqueue(context.Background(), "block", "", func() error {
		started.Done()
		<-release
		return nil
	}))
	started.Wait()
	require.NoError(t, d.Enqueue(context.Background(), "queued", "", func() error { return nil }))
	assert.ErrorIs(t, d.Enqueue(context.Background(), "overflow", "", func() error { return nil }), ErrQueueFull)

	close(release)
	d.Close()
}
