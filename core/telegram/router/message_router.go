package router

import (
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	tg "github.com/m3rciful/exchangebot/core/telegram"
	"github.com/m3rciful/exchangebot/core/telegram/middleware"
)

// Conversation continues multi-step flows kept in a session store.
type Conversation interface {
	// InProgress reports whether the sender has a flow that wants this update. Media updates
	// only count when the flow is waiting for an image.
	InProgress(c tele.Context, media bool) bool
	Continue(c tele.Context) error
}

// MessageOptions controls fallback behaviour for text and media updates.
type MessageOptions struct {
	UnknownText  tele.HandlerFunc
	UnknownMedia tele.HandlerFunc
	// OnPanic answers the user when a flow or fallback handler panics.
	OnPanic tele.HandlerFunc
}

// MessageRoutes builds the text, photo and document routes. Text matching a command alias
// always runs the command, then active flows get the update, then the fallbacks.
func MessageRoutes(conv Conversation, reg *tg.Registry, opts MessageOptions) []tg.Route {
	textHandler := func(c tele.Context) error {
		start := time.Now()

		if reg != nil {
			if key, cmd, ok := reg.LookupCommand(c.Text()); ok && cmd.Handler != nil {
				return handleWithSummary(c, normalizeHandlerName(key), start, "", "", func() error {
					return cmd.Handler(c)
				})
			}
		}

		if conv != nil && conv.InProgress(c, false) {
			return handleWithSummary(c, "flow", start, "", "", func() error {
				return conv.Continue(c)
			})
		}

		fallback := opts.UnknownText
		if reg != nil && reg.TextFallback() != nil {
			fallback = reg.TextFallback()
		}
		if fallback != nil {
			return handleWithSummary(c, "unknown_text", start, "", "", func() error {
				return fallback(c)
			})
		}

		logHandlerSummary(c, "unknown_text", start, "skip", "ok", nil)
		return nil
	}

	mediaHandler := func(c tele.Context) error {
		start := time.Now()
		if doc := c.Message().Document; doc != nil && !IsImageDocument(doc) {
			return unknownMedia(c, reg, opts, start)
		}
		if conv != nil && conv.InProgress(c, true) {
			return handleWithSummary(c, "flow_media", start, "", "", func() error {
				return conv.Continue(c)
			})
		}
		return unknownMedia(c, reg, opts, start)
	}

	recoverer := middleware.Recover(opts.OnPanic)
	wrap := func(h tele.HandlerFunc) tele.HandlerFunc {
		return recoverer(middleware.LoggerMiddleware(h))
	}
	return []tg.Route{
		{Endpoint: tele.OnText, Handler: wrap(textHandler)},
		{Endpoint: tele.OnPhoto, Handler: wrap(mediaHandler)},
		{Endpoint: tele.OnDocument, Handler: wrap(mediaHandler)},
	}
}

func unknownMedia(c tele.Context, reg *tg.Registry, opts MessageOptions, start time.Time) error {
	fallback := opts.UnknownMedia
	if reg != nil && reg.MediaFallback() != nil {
		fallback = reg.MediaFallback()
	}
	if fallback == nil {
		logHandlerSummary(c, "unexpected_media", start, "skip", "ok", nil)
		return nil
	}
	return handleWithSummary(c, "unexpected_media", start, "", "", func() error {
		return fallback(c)
	})
}

// IsImageDocument reports whether a document was sent as an uncompressed image.
func IsImageDocument(doc *tele.Document) bool {
	return doc != nil && strings.HasPrefix(strings.ToLower(doc.MIME), "image/")
}
