// Package registration collects name, email and phone before a user may exchange.
package registration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/m3rciful/exchangebot/core/logger"
	"github.com/m3rciful/exchangebot/internal/chat"
	"github.com/m3rciful/exchangebot/internal/session"
	"github.com/m3rciful/exchangebot/internal/storage"
	"github.com/m3rciful/exchangebot/internal/validation"
)

// Flow is the session flow name owned by this package.
const Flow = "register"

// Steps of the registration conversation.
const (
	StepName  = "name"
	StepEmail = "email"
	StepPhone = "phone"
)

const (
	msgAskName      = "👋 ¡Hola! Por favor, escribe tu nombre completo:"
	msgAskEmail     = "📧 ¡Excelente! Ahora, ingresa tu correo electrónico."
	msgAskPhone     = "📱 ¡Ya casi terminamos! Ingresa tu número de teléfono."
	msgInvalidName  = "Por favor, escribe tu nombre completo."
	msgInvalidEmail = "Ese correo no parece válido. Por favor, inténtalo de nuevo."
	msgInvalidPhone = "Ese número no parece válido. Usa solo dígitos, espacios, guiones o el prefijo +."
	msgDone         = "✅ ¡Registro completado! 🎉 Gracias por unirte."
	msgFailed       = "⚠️ No pudimos completar tu registro. Por favor, inténtalo más tarde."
)

// ErrNoSession is returned by Handle when the user is not registering.
var ErrNoSession = errors.New("registration: no active registration session")

// Users stores registered users.
type Users interface {
	Upsert(ctx context.Context, u storage.User) error
}

// Registrar collects the user profile step by step.
type Registrar struct {
	sessions session.Store
	users    Users
	sender   chat.Sender
	home     chat.Keyboard
}

// New builds the registration flow. home is shown once registration completes.
func New(sessions session.Store, users Users, sender chat.Sender, home chat.Keyboard) *Registrar {
	return &Registrar{sessions: sessions, users: users, sender: sender, home: home}
}

// draft holds the answers so far; each step validates only its own field.
type draft struct {
	Name  string `json:"name,omitempty" validate:"required,min=2,max=255,letters"`
	Email string `json:"email,omitempty" validate:"required,email,max=255"`
	Phone string `json:"-" validate:"required,phone"`
}

// Start opens the registration, replacing any other session.
func (f *Registrar) Start(ctx context.Context, in chat.Input) error {
	ctx = logger.WithFlow(ctx, Flow)
	if err := f.save(ctx, in.UserID, StepName, draft{}); err != nil {
		return err
	}
	return f.reply(ctx, in, chat.Message{Text: msgAskName, Keyboard: chat.CancelKeyboard})
}

// Handle consumes one answer of the registration.
func (f *Registrar) Handle(ctx context.Context, in chat.Input) error {
	ctx = logger.WithFlow(ctx, Flow)
	s, err := session.Active(ctx, f.sessions, in.UserID)
	if err != nil {
		return fmt.Errorf("registration: load session: %w", err)
	}
	if s == nil || s.Flow != Flow {
		return ErrNoSession
	}
	var d draft
	if len(s.Data) > 0 {
		if err := json.Unmarshal(s.Data, &d); err != nil {
			return fmt.Errorf("registration: decode draft: %w", err)
		}
	}
	text := strings.TrimSpace(in.Text)

	switch s.Step {
	case StepName:
		d.Name = text
		if validation.Fields(d, "Name") != nil {
			return f.reply(ctx, in, chat.Text(msgInvalidName))
		}
		if err := f.save(ctx, in.UserID, StepEmail, d); err != nil {
			return err
		}
		return f.reply(ctx, in, chat.Text(msgAskEmail))
	case StepEmail:
		d.Email = text
		if validation.Fields(d, "Email") != nil {
			return f.reply(ctx, in, chat.Text(msgInvalidEmail))
		}
		if err := f.save(ctx, in.UserID, StepPhone, d); err != nil {
			return err
		}
		return f.reply(ctx, in, chat.Text(msgAskPhone))
	case StepPhone:
		d.Phone = text
		if validation.Fields(d, "Phone") != nil {
			return f.reply(ctx, in, chat.Text(msgInvalidPhone))
		}
		return f.complete(ctx, in, d)
	}
	return fmt.Errorf("registration: unknown step %q", s.Step)
}

func (f *Registrar) complete(ctx context.Context, in chat.Input, d draft) error {
	first, last := splitName(d.Name, in.Profile)
	u := storage.User{
		TelegramID: in.UserID,
		Username:   orNA(in.Profile.Username),
		FirstName:  first,
		LastName:   orNA(last),
		Email:      d.Email,
		Phone:      d.Phone,
	}
	upsertErr := f.users.Upsert(ctx, u)
	if err := f.sessions.Clear(ctx, in.UserID); err != nil {
		return errors.Join(upsertErr, fmt.Errorf("registration: clear session: %w", err))
	}
	if upsertErr != nil {
		logger.Component("registration").LogAttrs(ctx, slog.LevelError, "",
			slog.String("event", "registration.failed"),
			slog.String("status", "fail"),
			slog.String("err", upsertErr.Error()),
		)
		return f.reply(ctx, in, chat.Text(msgFailed))
	}
	logger.Component("registration").LogAttrs(ctx, slog.LevelInfo, "",
		slog.String("event", "registration.completed"),
		slog.String("status", "ok"),
	)
	return f.reply(ctx, in, chat.Message{Text: msgDone, Keyboard: f.home})
}

func (f *Registrar) save(ctx context.Context, userID int64, step string, d draft) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("registration: encode draft: %w", err)
	}
	if err := f.sessions.Set(ctx, userID, &session.Session{Flow: Flow, Step: step, Data: data}); err != nil {
		return fmt.Errorf("registration: save session: %w", err)
	}
	return nil
}

func (f *Registrar) reply(ctx context.Context, in chat.Input, msg chat.Message) error {
	chatID := in.ChatID
	if chatID == 0 {
		chatID = in.UserID
	}
	return f.sender.Send(ctx, chatID, msg)
}

// splitName prefers the typed full name; the Telegram profile fills gaps.
func splitName(full string, p chat.Profile) (string, string) {
	parts := strings.Fields(full)
	switch len(parts) {
	case 0:
		return p.FirstName, p.LastName
	case 1:
		return parts[0], p.LastName
	}
	return parts[0], strings.Join(parts[1:], " ")
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}
