// Package bot wires the conversation flows to Telegram: commands, menu buttons, flow routing
// and the outbound gateway.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/exchangebot/core/logger"
	"github.com/m3rciful/exchangebot/core/telegram/format"
	tghelpers "github.com/m3rciful/exchangebot/core/telegram/helpers"
	"github.com/m3rciful/exchangebot/core/telegram/router"
	tgsender "github.com/m3rciful/exchangebot/core/telegram/sender"
	"github.com/m3rciful/exchangebot/internal/chat"
	"github.com/m3rciful/exchangebot/internal/exchange"
	"github.com/m3rciful/exchangebot/internal/paymentmethods"
	"github.com/m3rciful/exchangebot/internal/registration"
	"github.com/m3rciful/exchangebot/internal/session"
	"github.com/m3rciful/exchangebot/internal/storage"
)

const (
	msgWelcomeBack    = "¡Hola de nuevo, %s! 👋 ¿Qué deseas hacer hoy?"
	msgWelcomeGuest   = "¡Hola! 👋 Soy tu asistente de exchange. Para comenzar, por favor, regístrate."
	msgHelp           = "Usa los botones del menú para interactuar conmigo y realizar tus operaciones."
	msgRegisterFirst  = "Debes registrarte primero. Usa el botón \"Registrarme\"."
	msgHistoryGuest   = "Debes registrarte para poder ver tu historial."
	msgMethodsGuest   = "Debes registrarte para gestionar tus métodos de pago."
	msgHistoryEmpty   = "📂 No tienes ninguna operación en tu historial todavía."
	msgHistoryTitle   = "📜 *Tu Historial de Operaciones Recientes:*\n\n"
	msgNothingToStop  = "No tienes ninguna operación en curso."
	msgFlowCancelled  = "❌ Operación cancelada."
	msgUnknownText    = "🤔 No estoy seguro de entenderte. Por favor, elige una de las opciones del teclado."
	msgUnknownImage   = "🖼️ He recibido una imagen, pero no estoy seguro de qué hacer con ella."
	msgRateLimited    = "⏳ Vas muy rápido. Espera un momento e inténtalo de nuevo."
	msgError          = "⚠️ Ocurrió un error. Por favor, inténtalo de nuevo más tarde."
	msgNoPermission   = "❌ No tienes permiso para usar este comando."
	msgBroadcastUsage = "Por favor, escribe el mensaje. Ejemplo: `/broadcast ¡Hola!`"
	msgBroadcastStart = "🚀 Iniciando el envío masivo..."
	msgBroadcastDone  = "✅ Envío completado.\n\nExitosos: %d\nErrores: %d"

	historySeparator = "------------------------------------\n"
	historyDateFmt   = "02/01/2006 15:04"
	broadcastPace    = 100 * time.Millisecond
)

// Users is the read side of the user directory.
type Users interface {
	Exists(ctx context.Context, telegramID int64) (bool, error)
	AllIDs(ctx context.Context) ([]int64, error)
}

// History lists a user's recent transactions.
type History interface {
	History(ctx context.Context, userID int64, limit int) ([]storage.Transaction, error)
}

// Handlers implements the bot commands and routes flow messages.
type Handlers struct {
	sessions session.Store
	exchange *exchange.Machine
	register *registration.Registrar
	methods  *paymentmethods.Manager
	users    Users
	history  History
	gateway  chat.Sender
	pace     time.Duration
}

// HandlerDeps are the collaborators of Handlers.
type HandlerDeps struct {
	Sessions     session.Store
	Exchange     *exchange.Machine
	Registration *registration.Registrar
	Methods      *paymentmethods.Manager
	Users        Users
	History      History
	Gateway      chat.Sender
}

// NewHandlers builds the handler set.
func NewHandlers(deps HandlerDeps) *Handlers {
	return &Handlers{
		sessions: deps.Sessions,
		exchange: deps.Exchange,
		register: deps.Registration,
		methods:  deps.Methods,
		users:    deps.Users,
		history:  deps.History,
		gateway:  deps.Gateway,
		pace:     broadcastPace,
	}
}

var _ router.Conversation = (*Handlers)(nil)

// Start greets the user with the menu that fits their registration status.
func (h *Handlers) Start(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	in := inputFrom(c)
	registered, err := h.users.Exists(ctx, in.UserID)
	if err != nil {
		return h.fail(c, fmt.Errorf("bot: start: %w", err))
	}
	if !registered {
		return tghelpers.SendText(c, msgWelcomeGuest, sendOptions(chat.GuestKeyboard, false))
	}
	name := format.Plain(in.Profile.FirstName)
	return tghelpers.SendText(c, fmt.Sprintf(msgWelcomeBack, name), sendOptions(chat.MainKeyboard, true))
}

// Help explains how to use the bot.
func (h *Handlers) Help(c tele.Context) error {
	return tghelpers.SendText(c, msgHelp)
}

// History lists the last transactions of a registered user.
func (h *Handlers) History(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	userID := inputFrom(c).UserID
	registered, err := h.users.Exists(ctx, userID)
	if err != nil {
		return h.fail(c, fmt.Errorf("bot: history: %w", err))
	}
	if !registered {
		return tghelpers.SendText(c, msgHistoryGuest)
	}
	txs, err := h.history.History(ctx, userID, storage.DefaultHistoryLimit)
	if err != nil {
		return h.fail(c, fmt.Errorf("bot: history: %w", err))
	}
	if len(txs) == 0 {
		return tghelpers.SendText(c, msgHistoryEmpty)
	}
	return tghelpers.SendMD(c, renderHistory(txs))
}

func renderHistory(txs []storage.Transaction) string {
	var b strings.Builder
	b.WriteString(msgHistoryTitle)
	for _, tx := range txs {
		icon := "📉"
		if tx.Type == string(exchange.Buy) {
			icon = "📈"
		}
		b.WriteString(historySeparator)
		fmt.Fprintf(&b, "%s *Tipo:* %s\n", icon, tx.Type)
		fmt.Fprintf(&b, "💰 *Monto:* $%s\n", tx.TotalUSD.StringFixed(2))
		fmt.Fprintf(&b, "🧾 *Referencia:* %s\n", tx.PaymentReference)
		fmt.Fprintf(&b, "🔵 *Estado:* %s\n", tx.Status)
		fmt.Fprintf(&b, "📅 *Fecha:* %s\n", tx.CreatedAt.UTC().Format(historyDateFmt))
	}
	return b.String()
}

// Exchange opens the exchange flow for registered users.
func (h *Handlers) Exchange(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	in := inputFrom(c)
	registered, err := h.users.Exists(ctx, in.UserID)
	if err != nil {
		return h.fail(c, fmt.Errorf("bot: exchange: %w", err))
	}
	if !registered {
		return tghelpers.SendText(c, msgRegisterFirst)
	}
	return h.exchange.Start(ctx, in)
}

// PaymentMethods lists the saved payment methods of a registered user and opens their menu.
func (h *Handlers) PaymentMethods(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	in := inputFrom(c)
	registered, err := h.users.Exists(ctx, in.UserID)
	if err != nil {
		return h.fail(c, fmt.Errorf("bot: payment methods: %w", err))
	}
	if !registered {
		return tghelpers.SendText(c, msgMethodsGuest)
	}
	if err := h.methods.Start(ctx, in); err != nil {
		return h.fail(c, fmt.Errorf("bot: payment methods: %w", err))
	}
	return nil
}

// Register opens the registration flow.
func (h *Handlers) Register(c tele.Context) error {
	return h.register.Start(tghelpers.BuildContext(c), inputFrom(c))
}

// Cancel drops whatever flow the user is in.
func (h *Handlers) Cancel(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	in := inputFrom(c)
	s, err := session.Active(ctx, h.sessions, in.UserID)
	if err != nil {
		return h.fail(c, fmt.Errorf("bot: cancel: %w", err))
	}
	switch {
	case s == nil:
		return h.reply(ctx, in, chat.Message{Text: msgNothingToStop, Keyboard: h.home(ctx, in.UserID)})
	case s.Flow == exchange.Flow:
		return h.exchange.Cancel(ctx, in)
	}
	if err := h.sessions.Clear(ctx, in.UserID); err != nil {
		return h.fail(c, fmt.Errorf("bot: cancel: %w", err))
	}
	return h.reply(ctx, in, chat.Message{Text: msgFlowCancelled, Keyboard: h.home(ctx, in.UserID)})
}

// Broadcast sends the command payload to every registered user, one every pace interval.
func (h *Handlers) Broadcast(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	text := strings.TrimSpace(c.Message().Payload)
	if text == "" {
		return tghelpers.SendText(c, msgBroadcastUsage, &tele.SendOptions{ParseMode: tele.ModeMarkdown})
	}
	in := inputFrom(c)
	if err := h.reply(ctx, in, chat.Text(msgBroadcastStart)); err != nil {
		return err
	}
	ids, err := h.users.AllIDs(ctx)
	if err != nil {
		return h.fail(c, fmt.Errorf("bot: broadcast: %w", err))
	}

	sent, failed := 0, 0
	for i, id := range ids {
		if i > 0 {
			if err := tgsender.Wait(ctx, h.pace); err != nil {
				logger.Warn(ctx, "broadcast", "broadcast.interrupted",
					slog.Int("count", sent),
					slog.Int("errors", failed),
					slog.Int("pending", len(ids)-i),
				)
				return fmt.Errorf("bot: broadcast stopped after %d of %d: %w", i, len(ids), err)
			}
		}
		if err := h.gateway.Send(ctx, id, chat.Text(text)); err != nil {
			failed++
			logger.Warn(ctx, "broadcast", "broadcast.send_failed",
				slog.Int64("chat_id", id),
				slog.String("err", err.Error()),
			)
			continue
		}
		sent++
	}
	logger.Info(ctx, "broadcast", "broadcast.done",
		slog.Int("count", sent),
		slog.Int("errors", failed),
	)
	return h.reply(ctx, in, chat.Text(fmt.Sprintf(msgBroadcastDone, sent, failed)))
}

// RejectAdmin answers non-admins calling admin commands.
func (h *Handlers) RejectAdmin(c tele.Context) error {
	return tghelpers.SendText(c, msgNoPermission)
}

// UnknownText answers text outside any flow.
func (h *Handlers) UnknownText(c tele.Context) error {
	return tghelpers.SendText(c, msgUnknownText)
}

// UnknownMedia answers images nobody waits for.
func (h *Handlers) UnknownMedia(c tele.Context) error {
	return tghelpers.SendText(c, msgUnknownImage)
}

// RateLimited tells a user to slow down.
func (h *Handlers) RateLimited(c tele.Context) error {
	return tghelpers.SendText(c, msgRateLimited)
}

// InProgress reports whether the sender's session wants this update. Images are only wanted
// by an exchange waiting for its payment proof. Store errors count as in progress so that
// Continue reports them.
func (h *Handlers) InProgress(c tele.Context, media bool) bool {
	ctx := tghelpers.BuildContext(c)
	s, err := session.Active(ctx, h.sessions, inputFrom(c).UserID)
	if err != nil {
		logger.Session.LogAttrs(ctx, slog.LevelWarn, "",
			slog.String("event", "session.load_failed"),
			slog.String("err", err.Error()),
		)
		return true
	}
	if s == nil {
		return false
	}
	if media {
		return s.Flow == exchange.Flow && s.Step == string(exchange.StepPayment)
	}
	return true
}

// Continue hands the update to the flow owning the sender's session.
func (h *Handlers) Continue(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	in := inputFrom(c)
	s, err := session.Active(ctx, h.sessions, in.UserID)
	if err != nil {
		return h.fail(c, fmt.Errorf("bot: load session: %w", err))
	}
	if s == nil {
		return h.UnknownText(c)
	}
	ctx = tghelpers.WithFlow(c, s.Flow)

	switch s.Flow {
	case exchange.Flow:
		err = h.exchange.Handle(ctx, in)
		if errors.Is(err, exchange.ErrNoSession) {
			return h.UnknownText(c)
		}
		return err
	case registration.Flow:
		err = h.register.Handle(ctx, in)
		if errors.Is(err, registration.ErrNoSession) {
			return h.UnknownText(c)
		}
		return err
	case paymentmethods.Flow:
		err = h.methods.Handle(ctx, in)
		if errors.Is(err, paymentmethods.ErrNoSession) {
			return h.UnknownText(c)
		}
		return err
	}

	logger.Session.LogAttrs(ctx, slog.LevelWarn, "",
		slog.String("event", "session.unknown_flow"),
		slog.String("flow", s.Flow),
	)
	if err := h.sessions.Clear(ctx, in.UserID); err != nil {
		return h.fail(c, fmt.Errorf("bot: clear session: %w", err))
	}
	return h.UnknownText(c)
}

func (h *Handlers) home(ctx context.Context, userID int64) chat.Keyboard {
	registered, err := h.users.Exists(ctx, userID)
	if err != nil || !registered {
		return chat.GuestKeyboard
	}
	return chat.MainKeyboard
}

func (h *Handlers) reply(ctx context.Context, in chat.Input, msg chat.Message) error {
	chatID := in.ChatID
	if chatID == 0 {
		chatID = in.UserID
	}
	if err := h.gateway.Send(ctx, chatID, msg); err != nil {
		return fmt.Errorf("bot: reply: %w", err)
	}
	return nil
}

// Panicked answers an update whose handler panicked: the active flow is dropped so the
// user starts over, and the generic error is shown.
func (h *Handlers) Panicked(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	in := inputFrom(c)
	if err := h.sessions.Clear(ctx, in.UserID); err != nil {
		logger.Warn(ctx, "tg", "panic.clear_session_failed", slog.String("err", err.Error()))
	}
	return tghelpers.SendText(c, msgError)
}

// fail shows a generic error and returns cause for the handler summary log.
func (h *Handlers) fail(c tele.Context, cause error) error {
	if err := tghelpers.SendText(c, msgError); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

func sendOptions(k chat.Keyboard, md bool) *tele.SendOptions {
	opts := &tele.SendOptions{ReplyMarkup: markup(k)}
	if md {
		opts.ParseMode = tele.ModeMarkdown
	}
	return opts
}

// inputFrom converts a Telegram update into a flow input. Compressed photos use the largest
// size Telegram kept; image documents are accepted as-is.
func inputFrom(c tele.Context) chat.Input {
	in := chat.Input{Text: strings.TrimSpace(c.Text())}
	if u := c.Sender(); u != nil {
		in.UserID = u.ID
		in.Profile = chat.Profile{Username: u.Username, FirstName: u.FirstName, LastName: u.LastName}
	}
	if ch := c.Chat(); ch != nil {
		in.ChatID = ch.ID
	}
	if msg := c.Message(); msg != nil {
		switch {
		case msg.Photo != nil:
			in.Image = &chat.Image{FileID: msg.Photo.FileID}
		case router.IsImageDocument(msg.Document):
			in.Image = &chat.Image{FileID: msg.Document.FileID}
		}
	}
	return in
}
