package bot

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	tgsender "github.com/m3rciful/exchangebot/core/telegram/sender"
	"github.com/m3rciful/exchangebot/internal/chat"
)

type apiCall struct {
	chatID int64
	text   string
	opts   *tele.SendOptions
}

type fakeAPI struct {
	calls   []apiCall
	errs    []error
	fileURL string
	fileErr error
}

func (f *fakeAPI) Send(to tele.Recipient, what any, opts ...any) (*tele.Message, error) {
	call := apiCall{text: what.(string)}
	if id, ok := to.(tele.ChatID); ok {
		call.chatID = int64(id)
	}
	if len(opts) > 0 {
		call.opts, _ = opts[0].(*tele.SendOptions)
	}
	f.calls = append(f.calls, call)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	return &tele.Message{}, nil
}

func (f *fakeAPI) FileURL(string) (string, error) {
	return f.fileURL, f.fileErr
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

var fastRetry = tgsender.Policy{Attempts: 3, Backoff: time.Millisecond, MaxFloodWait: 10 * time.Second}

func attachedGateway(a api) *Gateway {
	g := NewGateway(nil)
	g.retry = fastRetry
	g.attach(a)
	return g
}

func TestGatewaySendRendersKeyboard(t *testing.T) {
	fake := &fakeAPI{}
	g := attachedGateway(fake)

	err := g.Send(context.Background(), 42, chat.Message{Text: "*hola*", Keyboard: chat.MainKeyboard, Markdown: true})
	require.NoError(t, err)
	require.Len(t, fake.calls, 1)

	call := fake.calls[0]
	assert.Equal(t, int64(42), call.chatID)
	assert.Equal(t, tele.ModeMarkdown, call.opts.ParseMode)
	require.NotNil(t, call.opts.ReplyMarkup)
	require.Len(t, call.opts.ReplyMarkup.ReplyKeyboard, 3)
	assert.Equal(t, chat.ButtonExchange, call.opts.ReplyMarkup.ReplyKeyboard[0][0].Text)
	assert.Equal(t, chat.ButtonPaymentMethods, call.opts.ReplyMarkup.ReplyKeyboard[1][0].Text)

	require.NoError(t, g.Send(context.Background(), 42, chat.Message{Text: "x", Keyboard: chat.Keyboard{Remove: true}}))
	assert.True(t, fake.calls[1].opts.ReplyMarkup.RemoveKeyboard)
	assert.Empty(t, fake.calls[1].opts.ParseMode)

	require.NoError(t, g.Send(context.Background(), 42, chat.Text("y")))
	assert.Nil(t, fake.calls[2].opts.ReplyMarkup)

	once := chat.Keyboard{Rows: [][]string{{"👍 Sí", "👎 No"}}, OneTime: true}
	require.NoError(t, g.Send(context.Background(), 42, chat.Message{Text: "z", Keyboard: once}))
	assert.True(t, fake.calls[3].opts.ReplyMarkup.OneTimeKeyboard)
	assert.Len(t, fake.calls[3].opts.ReplyMarkup.ReplyKeyboard[0], 2)
}

func TestGatewaySendRetriesTransientErrors(t *testing.T) {
	transient := &url.Error{Op: "Post", URL: "https://api.telegram.org/bot1:secret/sendMessage", Err: timeoutError{}}
	fake := &fakeAPI{errs: []error{transient, tele.FloodError{RetryAfter: 0}}}
	g := attachedGateway(fake)

	require.NoError(t, g.Send(context.Background(), 1, chat.Text("hola")))
	assert.Len(t, fake.calls, 3)
}

func TestGatewaySendRedactsPermanentErrors(t *testing.T) {
	fake := &fakeAPI{errs: []error{errors.New(`Post "https://api.telegram.org/bot123:abc/sendMessage": bad request`)}}
	g := attachedGateway(fake)

	err := g.Send(context.Background(), 1, chat.Text("hola"))
	require.Error(t, err)
	assert.Len(t, fake.calls, 1)
	assert.NotContains(t, err.Error(), "123:abc")
}

// floodReply mimics a 429 answer; telebot fills the FloodError message only when it decodes
// a real API response.
type floodReply struct{ flood tele.FloodError }

func (f floodReply) Error() string { return "telegram: Too Many Requests: retry after 30 (429)" }
func (f floodReply) Unwrap() error { return f.flood }

func TestGatewaySendKeepsErrorChain(t *testing.T) {
	fake := &fakeAPI{errs: []error{floodReply{flood: tele.FloodError{RetryAfter: 30}}}}
	var kinds []string
	g := NewGateway(func(kind string) { kinds = append(kinds, kind) })
	g.retry = fastRetry
	g.attach(fake)

	err := g.Send(context.Background(), 1, chat.Text("hola"))
	require.Error(t, err)
	assert.Len(t, fake.calls, 1, "flood wait above the limit is not retried")

	var flood tele.FloodError
	require.ErrorAs(t, err, &flood)
	assert.Equal(t, 30, flood.RetryAfter)
	assert.Equal(t, []string{tgsender.KindFlood}, kinds)

	transient := &url.Error{Op: "Post", URL: "https://api.telegram.org/bot9:token/sendMessage", Err: timeoutError{}}
	fake.errs = []error{transient, transient, transient}
	err = g.Send(context.Background(), 1, chat.Text("hola"))
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "9:token")
	var urlErr *url.Error
	require.ErrorAs(t, err, &urlErr)
	assert.Same(t, transient, urlErr)
	assert.Equal(t, []string{tgsender.KindFlood, tgsender.KindTimeout}, kinds)
}

func TestGatewaySendStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fake := &fakeAPI{}
	g := attachedGateway(fake)

	assert.ErrorIs(t, g.Send(ctx, 1, chat.Text("hola")), context.Canceled)
	assert.Empty(t, fake.calls)
}

func TestGatewayDetached(t *testing.T) {
	g := NewGateway(nil)
	assert.ErrorIs(t, g.Send(context.Background(), 1, chat.Text("x")), ErrNotAttached)
	_, err := g.ResolveImageURL(context.Background(), "f")
	assert.ErrorIs(t, err, ErrNotAttached)
}

func TestGatewayResolveImageURL(t *testing.T) {
	g := attachedGateway(&fakeAPI{fileURL: "https://api.telegram.org/file/bot1:x/photos/a.jpg"})
	u, err := g.ResolveImageURL(context.Background(), "file-1")
	require.NoError(t, err)
	assert.Equal(t, "https://api.telegram.org/file/bot1:x/photos/a.jpg", u)

	g = attachedGateway(&fakeAPI{fileErr: errors.New("getFile bot1:x failed")})
	_, err = g.ResolveImageURL(context.Background(), "file-1")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "bot1:x")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = g.ResolveImageURL(ctx, "file-1")
	assert.ErrorIs(t, err, context.Canceled)
}
