// Package paymentmethods lets registered users list their saved payment accounts and add
// PayPal, Zinli or Pago Móvil ones.
package paymentmethods

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/m3rciful/exchangebot/core/logger"
	"github.com/m3rciful/exchangebot/core/telegram/format"
	"github.com/m3rciful/exchangebot/internal/chat"
	"github.com/m3rciful/exchangebot/internal/session"
	"github.com/m3rciful/exchangebot/internal/storage"
	"github.com/m3rciful/exchangebot/internal/validation"
)

// Flow is the session flow name owned by this package.
const Flow = "payment_methods"

// Steps of the conversation.
const (
	StepMenu     = "menu"
	StepType     = "type"
	StepNickname = "nickname"
	StepEmail    = "email"
	StepIdentity = "pm_identity"
	StepPhone    = "pm_phone"
	StepBank     = "pm_bank"
)

// Keyboard labels of the flow.
const (
	ButtonAdd       = "➕ Añadir Nuevo Método"
	ButtonBack      = "⬅️ Volver al Menú Principal"
	ButtonPayPal    = "PayPal"
	ButtonZinli     = "Zinli"
	ButtonPagoMovil = "Pago Móvil"
)

const (
	msgMenuTitle       = "💳 *Gestión de Métodos de Pago*\n\n"
	msgNoMethods       = "Aún no tienes ningún método de pago guardado."
	msgListHeader      = "Aquí están tus métodos de pago guardados:\n"
	msgListItem        = "\n- *%s* (%s)"
	msgChooseType      = "¿Qué tipo de método de pago deseas añadir?"
	msgInvalidOption   = "Por favor, selecciona una opción válida del teclado."
	msgAskNickname     = "Perfecto. Dale un apodo o alias a este método de pago para que lo reconozcas fácilmente (Ej: \"PayPal Personal\", \"Zinli de Mamá\")."
	msgInvalidNickname = "El apodo debe tener entre 2 y 64 caracteres."
	msgAskEmail        = "Ingresa el correo electrónico asociado a tu cuenta de %s:"
	msgInvalidEmail    = "Ese correo no parece válido. Por favor, inténtalo de nuevo."
	msgAskIdentity     = "Ahora, ingresa tu número de Cédula de Identidad (V/E):"
	msgInvalidIdentity = "La cédula debe tener el formato V-12345678 o E-12345678."
	msgAskPhone        = "Ahora, ingresa el número de teléfono afiliado al Pago Móvil:"
	msgInvalidPhone    = "Ese número no parece válido. Usa solo dígitos, espacios, guiones o el prefijo +."
	msgAskBank         = "Finalmente, escribe el nombre de tu banco:"
	msgInvalidBank     = "Por favor, escribe el nombre de tu banco."
	msgSaved           = "✅ ¡Método de pago guardado exitosamente!"
	msgWhatNext        = "¿Qué deseas hacer ahora?"
	msgFailed          = "⚠️ No pudimos guardar tu método de pago. Por favor, inténtalo más tarde."
)

// ErrNoSession is returned by Handle when the user is not in this flow.
var ErrNoSession = errors.New("paymentmethods: no active payment methods session")

var (
	menuKeyboard = chat.Keyboard{Rows: [][]string{{ButtonAdd}, {ButtonBack}}}
	typeKeyboard = chat.Keyboard{Rows: [][]string{
		{ButtonPayPal, ButtonZinli, ButtonPagoMovil},
		{chat.ButtonCancel},
	}}
	typeByLabel = map[string]string{
		ButtonPayPal:    storage.MethodPayPal,
		ButtonZinli:     storage.MethodZinli,
		ButtonPagoMovil: storage.MethodPagoMovil,
	}
	labelByType = map[string]string{
		storage.MethodPayPal:    ButtonPayPal,
		storage.MethodZinli:     ButtonZinli,
		storage.MethodPagoMovil: ButtonPagoMovil,
	}
)

// Methods stores and lists payment methods.
type Methods interface {
	Add(ctx context.Context, m storage.PaymentMethod) error
	ForUser(ctx context.Context, userID int64) ([]storage.PaymentMethod, error)
}

// Manager runs the payment methods conversation.
type Manager struct {
	sessions session.Store
	methods  Methods
	sender   chat.Sender
	home     chat.Keyboard
}

// New builds the flow. home is shown when the user leaves it.
func New(sessions session.Store, methods Methods, sender chat.Sender, home chat.Keyboard) *Manager {
	return &Manager{sessions: sessions, methods: methods, sender: sender, home: home}
}

// draft collects a new method; each step validates only its own field.
type draft struct {
	Type     string `json:"type,omitempty" validate:"required,oneof=PayPal Zinli PagoMovil"`
	Nickname string `json:"nickname,omitempty" validate:"required,min=2,max=64"`
	Email    string `json:"email,omitempty" validate:"required,email,max=255"`
	Identity string `json:"identity,omitempty" validate:"required,cedula"`
	Phone    string `json:"phone,omitempty" validate:"required,phone,max=32"`
	Bank     string `json:"bank,omitempty" validate:"required,min=2,max=64,letters"`
}

// Start shows the saved methods and the menu, replacing any other session.
func (m *Manager) Start(ctx context.Context, in chat.Input) error {
	ctx = logger.WithFlow(ctx, Flow)
	methods, err := m.methods.ForUser(ctx, in.UserID)
	if err != nil {
		return err
	}
	if err := m.save(ctx, in.UserID, StepMenu, draft{}); err != nil {
		return err
	}
	return m.reply(ctx, in, chat.Message{Text: renderMenu(methods), Keyboard: menuKeyboard, Markdown: true})
}

// Handle consumes one answer of the flow.
func (m *Manager) Handle(ctx context.Context, in chat.Input) error {
	ctx = logger.WithFlow(ctx, Flow)
	s, err := session.Active(ctx, m.sessions, in.UserID)
	if err != nil {
		return fmt.Errorf("paymentmethods: load session: %w", err)
	}
	if s == nil || s.Flow != Flow {
		return ErrNoSession
	}
	var d draft
	if len(s.Data) > 0 {
		if err := json.Unmarshal(s.Data, &d); err != nil {
			return fmt.Errorf("paymentmethods: decode draft: %w", err)
		}
	}
	text := strings.TrimSpace(in.Text)

	switch s.Step {
	case StepMenu:
		switch text {
		case ButtonAdd:
			if err := m.save(ctx, in.UserID, StepType, draft{}); err != nil {
				return err
			}
			return m.reply(ctx, in, chat.Message{Text: msgChooseType, Keyboard: typeKeyboard})
		case ButtonBack:
			if err := m.sessions.Clear(ctx, in.UserID); err != nil {
				return fmt.Errorf("paymentmethods: clear session: %w", err)
			}
			return m.reply(ctx, in, chat.Message{Text: msgWhatNext, Keyboard: m.home})
		}
		return m.reply(ctx, in, chat.Text(msgInvalidOption))
	case StepType:
		d.Type = typeByLabel[text]
		if validation.Fields(d, "Type") != nil {
			return m.reply(ctx, in, chat.Text(msgInvalidOption))
		}
		return m.advance(ctx, in, StepNickname, d, chat.Message{Text: msgAskNickname, Keyboard: chat.CancelKeyboard})
	case StepNickname:
		d.Nickname = text
		if validation.Fields(d, "Nickname") != nil {
			return m.reply(ctx, in, chat.Text(msgInvalidNickname))
		}
		if d.Type == storage.MethodPagoMovil {
			return m.advance(ctx, in, StepIdentity, d, chat.Text(msgAskIdentity))
		}
		return m.advance(ctx, in, StepEmail, d, chat.Text(fmt.Sprintf(msgAskEmail, labelByType[d.Type])))
	case StepEmail:
		d.Email = text
		if validation.Fields(d, "Email") != nil {
			return m.reply(ctx, in, chat.Text(msgInvalidEmail))
		}
		return m.complete(ctx, in, d)
	case StepIdentity:
		d.Identity = strings.ToUpper(text)
		if validation.Fields(d, "Identity") != nil {
			return m.reply(ctx, in, chat.Text(msgInvalidIdentity))
		}
		return m.advance(ctx, in, StepPhone, d, chat.Text(msgAskPhone))
	case StepPhone:
		d.Phone = text
		if validation.Fields(d, "Phone") != nil {
			return m.reply(ctx, in, chat.Text(msgInvalidPhone))
		}
		return m.advance(ctx, in, StepBank, d, chat.Text(msgAskBank))
	case StepBank:
		d.Bank = text
		if validation.Fields(d, "Bank") != nil {
			return m.reply(ctx, in, chat.Text(msgInvalidBank))
		}
		return m.complete(ctx, in, d)
	}
	return fmt.Errorf("paymentmethods: unknown step %q", s.Step)
}

func (m *Manager) advance(ctx context.Context, in chat.Input, step string, d draft, msg chat.Message) error {
	if err := m.save(ctx, in.UserID, step, d); err != nil {
		return err
	}
	return m.reply(ctx, in, msg)
}

func (m *Manager) complete(ctx context.Context, in chat.Input, d draft) error {
	method := storage.PaymentMethod{
		UserID:   in.UserID,
		Type:     d.Type,
		Nickname: d.Nickname,
	}
	if d.Type == storage.MethodPagoMovil {
		method.IdentityCard = d.Identity
		method.PhoneNumber = d.Phone
		method.BankName = d.Bank
	} else {
		method.AccountDetails = d.Email
	}

	addErr := m.methods.Add(ctx, method)
	if err := m.sessions.Clear(ctx, in.UserID); err != nil {
		return errors.Join(addErr, fmt.Errorf("paymentmethods: clear session: %w", err))
	}
	log := logger.Component("paymentmethods")
	if addErr != nil {
		log.LogAttrs(ctx, slog.LevelError, "",
			slog.String("event", "payment_method.failed"),
			slog.String("status", "fail"),
			slog.String("err", addErr.Error()),
		)
		return m.reply(ctx, in, chat.Message{Text: msgFailed, Keyboard: m.home})
	}
	log.LogAttrs(ctx, slog.LevelInfo, "",
		slog.String("event", "payment_method.saved"),
		slog.String("status", "ok"),
		slog.String("method_type", d.Type),
	)
	if err := m.reply(ctx, in, chat.Text(msgSaved)); err != nil {
		return err
	}
	return m.reply(ctx, in, chat.Message{Text: msgWhatNext, Keyboard: m.home})
}

func (m *Manager) save(ctx context.Context, userID int64, step string, d draft) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("paymentmethods: encode draft: %w", err)
	}
	if err := m.sessions.Set(ctx, userID, &session.Session{Flow: Flow, Step: step, Data: data}); err != nil {
		return fmt.Errorf("paymentmethods: save session: %w", err)
	}
	return nil
}

func (m *Manager) reply(ctx context.Context, in chat.Input, msg chat.Message) error {
	chatID := in.ChatID
	if chatID == 0 {
		chatID = in.UserID
	}
	return m.sender.Send(ctx, chatID, msg)
}

func renderMenu(methods []storage.PaymentMethod) string {
	var b strings.Builder
	b.WriteString(msgMenuTitle)
	if len(methods) == 0 {
		b.WriteString(msgNoMethods)
		return b.String()
	}
	b.WriteString(msgListHeader)
	for _, pm := range methods {
		label := labelByType[pm.Type]
		if label == "" {
			label = pm.Type
		}
		fmt.Fprintf(&b, msgListItem, format.Plain(pm.Nickname), label)
	}
	return b.String()
}
