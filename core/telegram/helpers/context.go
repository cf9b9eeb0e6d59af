package helpers

import (
	"context"
	"sync/atomic"

	"github.com/m3rciful/exchangebot/core/logger"

	tele "gopkg.in/telebot.v4"
)

const updateCtxKey = "update_ctx"

type baseHolder struct{ ctx context.Context }

var base atomic.Pointer[baseHolder]

// SetBaseContext sets the context every update context derives from, normally the bot
// run context so that shutdown reaches long handlers such as broadcasts. nil resets it.
func SetBaseContext(ctx context.Context) {
	if ctx == nil {
		base.Store(nil)
		return
	}
	base.Store(&baseHolder{ctx: ctx})
}

func baseContext() context.Context {
	if h := base.Load(); h != nil {
		return h.ctx
	}
	return context.Background()
}

// StoreContext attaches ctx to the update for downstream helpers.
func StoreContext(c tele.Context, ctx context.Context) {
	if c == nil || ctx == nil {
		return
	}
	c.Set(updateCtxKey, ctx)
}

// ContextFrom returns the context stored on the update, if any.
func ContextFrom(c tele.Context) (context.Context, bool) {
	if c == nil {
		return nil, false
	}
	ctx, ok := c.Get(updateCtxKey).(context.Context)
	return ctx, ok && ctx != nil
}

// BuildContext returns the update context, creating it on first use with the request id
// and update, user and chat ids.
func BuildContext(c tele.Context) context.Context {
	if cached, ok := ContextFrom(c); ok {
		return cached
	}

	var userID, chatID int64
	if u := c.Sender(); u != nil {
		userID = u.ID
	}
	if ch := c.Chat(); ch != nil {
		chatID = ch.ID
	}
	updateID := c.Update().ID

	rid, _ := c.Get("rid").(string)
	if rid == "" {
		rid = logger.BuildRID(updateID, chatID, userID)
	}

	ctx := logger.WithRID(baseContext(), rid)
	ctx = logger.WithUpdateMeta(ctx, updateID, userID, chatID)
	ctx = logger.WithLogger(ctx, logger.Component("tg"))
	StoreContext(c, ctx)
	return ctx
}

// WithHandler tags the update context with the handler name.
func WithHandler(c tele.Context, handler string) context.Context {
	return annotate(c, handler, logger.WithHandler)
}

// WithFlow tags the update context with the conversation flow it was routed to, so that
// replies queued later are logged under that flow.
func WithFlow(c tele.Context, flow string) context.Context {
	return annotate(c, flow, logger.WithFlow)
}

func annotate(c tele.Context, value string, with func(context.Context, string) context.Context) context.Context {
	ctx := BuildContext(c)
	if value == "" {
		return ctx
	}
	ctx = with(ctx, value)
	StoreContext(c, ctx)
	return ctx
}
