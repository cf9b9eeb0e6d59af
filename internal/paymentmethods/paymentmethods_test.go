package paymentmethods

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/exchangebot/internal/chat"
	"github.com/m3rciful/exchangebot/internal/session"
	"github.com/m3rciful/exchangebot/internal/storage"
)

type fakeMethods struct {
	saved  []storage.PaymentMethod
	addErr error
}

func (f *fakeMethods) Add(_ context.Context, m storage.PaymentMethod) error {
	if f.addErr != nil {
		return f.addErr
	}
	f.saved = append(f.saved, m)
	return nil
}

func (f *fakeMethods) ForUser(_ context.Context, userID int64) ([]storage.PaymentMethod, error) {
	var out []storage.PaymentMethod
	for _, m := range f.saved {
		if m.UserID == userID {
			out = append(out, m)
		}
	}
	return out, nil
}

type fakeSender struct {
	msgs []chat.Message
}

func (f *fakeSender) Send(_ context.Context, _ int64, msg chat.Message) error {
	f.msgs = append(f.msgs, msg)
	return nil
}

func (f *fakeSender) last() chat.Message {
	if len(f.msgs) == 0 {
		return chat.Message{}
	}
	return f.msgs[len(f.msgs)-1]
}

func input(text string) chat.Input {
	return chat.Input{UserID: 42, ChatID: 42, Text: text}
}

func newManager() (*Manager, *session.MemoryStore, *fakeMethods, *fakeSender) {
	store := session.NewMemoryStore()
	methods := &fakeMethods{}
	sender := &fakeSender{}
	return New(store, methods, sender, chat.MainKeyboard), store, methods, sender
}

func TestStartShowsEmptyMenu(t *testing.T) {
	ctx := context.Background()
	m, store, _, sender := newManager()

	require.NoError(t, m.Start(ctx, input("")))
	msg := sender.last()
	assert.Equal(t, msgMenuTitle+msgNoMethods, msg.Text)
	assert.True(t, msg.Markdown)
	assert.Equal(t, menuKeyboard, msg.Keyboard)

	s, err := session.Active(ctx, store, 42)
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, Flow, s.Flow)
	assert.Equal(t, StepMenu, s.Step)
}

func TestAddZinliMethod(t *testing.T) {
	ctx := context.Background()
	m, store, methods, sender := newManager()

	require.NoError(t, m.Start(ctx, input("")))
	require.NoError(t, m.Handle(ctx, input(ButtonAdd)))
	assert.Equal(t, msgChooseType, sender.last().Text)
	assert.Equal(t, typeKeyboard, sender.last().Keyboard)

	require.NoError(t, m.Handle(ctx, input(ButtonZinli)))
	assert.Equal(t, msgAskNickname, sender.last().Text)

	require.NoError(t, m.Handle(ctx, input("Zinli_de_Mamá")))
	assert.Equal(t, fmt.Sprintf(msgAskEmail, "Zinli"), sender.last().Text)

	require.NoError(t, m.Handle(ctx, input("mama@example.com")))
	require.GreaterOrEqual(t, len(sender.msgs), 2)
	assert.Equal(t, msgSaved, sender.msgs[len(sender.msgs)-2].Text)
	assert.Equal(t, msgWhatNext, sender.last().Text)
	assert.Equal(t, chat.MainKeyboard, sender.last().Keyboard)

	require.Len(t, methods.saved, 1)
	pm := methods.saved[0]
	assert.Equal(t, int64(42), pm.UserID)
	assert.Equal(t, storage.MethodZinli, pm.Type)
	assert.Equal(t, "Zinli_de_Mamá", pm.Nickname)
	assert.Equal(t, "mama@example.com", pm.AccountDetails)
	assert.Empty(t, pm.IdentityCard)

	s, err := session.Active(ctx, store, 42)
	require.NoError(t, err)
	assert.Nil(t, s)

	require.NoError(t, m.Start(ctx, input("")))
	assert.Equal(t, msgMenuTitle+msgListHeader+"\n- *Zinli\\_de\\_Mamá* (Zinli)", sender.last().Text)
}

func TestAddPagoMovilMethod(t *testing.T) {
	ctx := context.Background()
	m, _, methods, sender := newManager()

	require.NoError(t, m.Start(ctx, input("")))
	require.NoError(t, m.Handle(ctx, input(ButtonAdd)))
	require.NoError(t, m.Handle(ctx, input(ButtonPagoMovil)))
	require.NoError(t, m.Handle(ctx, input("Mi Banesco")))
	assert.Equal(t, msgAskIdentity, sender.last().Text)

	require.NoError(t, m.Handle(ctx, input("v-12.345.678")))
	assert.Equal(t, msgAskPhone, sender.last().Text)

	require.NoError(t, m.Handle(ctx, input("0414-555-0101")))
	assert.Equal(t, msgAskBank, sender.last().Text)

	require.NoError(t, m.Handle(ctx, input("Banesco")))
	assert.Equal(t, msgWhatNext, sender.last().Text)

	require.Len(t, methods.saved, 1)
	pm := methods.saved[0]
	assert.Equal(t, storage.MethodPagoMovil, pm.Type)
	assert.Equal(t, "Mi Banesco", pm.Nickname)
	assert.Equal(t, "V-12.345.678", pm.IdentityCard)
	assert.Equal(t, "0414-555-0101", pm.PhoneNumber)
	assert.Equal(t, "Banesco", pm.BankName)
	assert.Empty(t, pm.AccountDetails)
}

func TestRejectsInvalidAnswers(t *testing.T) {
	ctx := context.Background()
	m, store, methods, sender := newManager()

	require.NoError(t, m.Start(ctx, input("")))
	require.NoError(t, m.Handle(ctx, input("hola")))
	assert.Equal(t, msgInvalidOption, sender.last().Text)

	require.NoError(t, m.Handle(ctx, input(ButtonAdd)))
	require.NoError(t, m.Handle(ctx, input("Bitcoin")))
	assert.Equal(t, msgInvalidOption, sender.last().Text)

	require.NoError(t, m.Handle(ctx, input(ButtonPagoMovil)))
	require.NoError(t, m.Handle(ctx, input("x")))
	assert.Equal(t, msgInvalidNickname, sender.last().Text)

	require.NoError(t, m.Handle(ctx, input("Pago casa")))
	require.NoError(t, m.Handle(ctx, input("12345678")))
	assert.Equal(t, msgInvalidIdentity, sender.last().Text)

	require.NoError(t, m.Handle(ctx, input("E-8765432")))
	require.NoError(t, m.Handle(ctx, input("llámame")))
	assert.Equal(t, msgInvalidPhone, sender.last().Text)

	require.NoError(t, m.Handle(ctx, input("+58 412 5550101")))
	require.NoError(t, m.Handle(ctx, input("123")))
	assert.Equal(t, msgInvalidBank, sender.last().Text)

	s, err := session.Active(ctx, store, 42)
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, StepBank, s.Step)
	assert.Empty(t, methods.saved)
}

func TestRejectsInvalidEmail(t *testing.T) {
	ctx := context.Background()
	m, _, methods, sender := newManager()

	require.NoError(t, m.Start(ctx, input("")))
	require.NoError(t, m.Handle(ctx, input(ButtonAdd)))
	require.NoError(t, m.Handle(ctx, input(ButtonPayPal)))
	require.NoError(t, m.Handle(ctx, input("PayPal Personal")))
	require.NoError(t, m.Handle(ctx, input("no-es-correo")))
	assert.Equal(t, msgInvalidEmail, sender.last().Text)
	assert.Empty(t, methods.saved)
}

func TestBackLeavesFlow(t *testing.T) {
	ctx := context.Background()
	m, store, _, sender := newManager()

	require.NoError(t, m.Start(ctx, input("")))
	require.NoError(t, m.Handle(ctx, input(ButtonBack)))
	assert.Equal(t, msgWhatNext, sender.last().Text)
	assert.Equal(t, chat.MainKeyboard, sender.last().Keyboard)

	s, err := session.Active(ctx, store, 42)
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestSaveFailureClearsSession(t *testing.T) {
	ctx := context.Background()
	m, store, methods, sender := newManager()
	methods.addErr = errors.New("db down")

	require.NoError(t, m.Start(ctx, input("")))
	require.NoError(t, m.Handle(ctx, input(ButtonAdd)))
	require.NoError(t, m.Handle(ctx, input(ButtonPayPal)))
	require.NoError(t, m.Handle(ctx, input("PayPal Personal")))
	require.NoError(t, m.Handle(ctx, input("yo@example.com")))
	assert.Equal(t, msgFailed, sender.last().Text)

	s, err := session.Active(ctx, store, 42)
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestHandleWithoutSession(t *testing.T) {
	m, _, _, _ := newManager()
	err := m.Handle(context.Background(), input("PayPal"))
	assert.ErrorIs(t, err, ErrNoSession)
}
