package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/exchangebot/core/logger"
	"github.com/m3rciful/exchangebot/core/telegram/keyboard"
	tgsender "github.com/m3rciful/exchangebot/core/telegram/sender"
	"github.com/m3rciful/exchangebot/internal/chat"
)

// ErrNotAttached is returned when the gateway is used before the bot started.
var ErrNotAttached = errors.New("bot: gateway not attached to a telegram bot")

// sendRetry keeps flow messages ordered: the caller waits for every retry.
var sendRetry = tgsender.Policy{Attempts: 3, Backoff: 500 * time.Millisecond, MaxFloodWait: 10 * time.Second}

// api is the part of the Telegram client the gateway needs.
type api interface {
	Send(to tele.Recipient, what any, opts ...any) (*tele.Message, error)
	FileURL(fileID string) (string, error)
}

// teleAPI adapts *tele.Bot to api.
type teleAPI struct{ bot *tele.Bot }

func (t teleAPI) Send(to tele.Recipient, what any, opts ...any) (*tele.Message, error) {
	return t.bot.Send(to, what, opts...)
}

// FileURL resolves a file id through getFile and builds the download URL.
func (t teleAPI) FileURL(fileID string) (string, error) {
	f, err := t.bot.FileByID(fileID)
	if err != nil {
		return "", err
	}
	if f.FilePath == "" {
		return "", fmt.Errorf("file %s has no download path", fileID)
	}
	base := t.bot.URL
	if base == "" {
		base = tele.DefaultApiURL
	}
	return strings.TrimRight(base, "/") + "/file/bot" + t.bot.Token + "/" + f.FilePath, nil
}

// Gateway sends flow messages synchronously, in order, and resolves inbound images.
type Gateway struct {
	api       atomic.Pointer[api]
	retry     tgsender.Policy
	onFailure func(kind string)
}

// NewGateway returns a detached gateway; Attach it once the bot exists. onFailure, when set,
// receives the failure kind of every message that could not be delivered.
func NewGateway(onFailure func(kind string)) *Gateway {
	return &Gateway{retry: sendRetry, onFailure: onFailure}
}

// Attach binds the gateway to a running bot.
func (g *Gateway) Attach(b *tele.Bot) {
	g.attach(teleAPI{bot: b})
}

func (g *Gateway) attach(a api) {
	g.api.Store(&a)
}

func (g *Gateway) client() (api, error) {
	p := g.api.Load()
	if p == nil {
		return nil, ErrNotAttached
	}
	return *p, nil
}

// Send delivers msg to chatID, retrying transient network failures and flood waits.
func (g *Gateway) Send(ctx context.Context, chatID int64, msg chat.Message) error {
	client, err := g.client()
	if err != nil {
		return err
	}
	opts := &tele.SendOptions{ReplyMarkup: markup(msg.Keyboard)}
	if msg.Markdown {
		opts.ParseMode = tele.ModeMarkdown
	}

	attempts, err := g.retry.Do(ctx, func() error {
		_, err := client.Send(tele.ChatID(chatID), msg.Text, opts)
		return err
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, ctx.Err()) {
		return err
	}
	kind := tgsender.Classify(err)
	logger.Warn(ctx, "tg.sender", "send.fail",
		slog.Int64("chat_id", chatID),
		slog.Int("attempts", attempts),
		slog.String("error_kind", kind),
	)
	if g.onFailure != nil {
		g.onFailure(kind)
	}
	return fmt.Errorf("bot: send message: %w", tgsender.RedactError(err))
}

// ResolveImageURL turns a Telegram file id into a downloadable URL. The URL embeds the bot
// token and must never be logged.
func (g *Gateway) ResolveImageURL(ctx context.Context, fileID string) (string, error) {
	client, err := g.client()
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	u, err := client.FileURL(fileID)
	if err != nil {
		return "", fmt.Errorf("bot: resolve file: %w", tgsender.RedactError(err))
	}
	return u, nil
}

func markup(k chat.Keyboard) *tele.ReplyMarkup {
	switch {
	case k.Remove:
		return keyboard.RemoveKeyboard()
	case k.OneTime:
		return keyboard.OneTime(k.Rows...)
	case len(k.Rows) > 0:
		return keyboard.ReplyButtons(k.Rows...)
	}
	return nil
}
