// Package chat holds the transport-neutral message types shared by the conversation flows.
package chat

import "context"

// Keyboard describes a reply keyboard. A zero Keyboard leaves the current one untouched.
type Keyboard struct {
	Rows   [][]string
	Remove bool
	// OneTime hides the keyboard once a button is pressed.
	OneTime bool
}

// Empty reports whether the keyboard carries no rows and does not remove the current one.
func (k Keyboard) Empty() bool {
	return len(k.Rows) == 0 && !k.Remove
}

// Message is an outbound text with optional keyboard.
type Message struct {
	Text     string
	Keyboard Keyboard
	// Markdown enables Telegram legacy Markdown parsing.
	Markdown bool
}

// Text builds a plain message.
func Text(text string) Message {
	return Message{Text: text}
}

// Profile carries the sender details supplied by the chat platform.
type Profile struct {
	Username  string
	FirstName string
	LastName  string
}

// Image references an inbound picture by its platform file id.
type Image struct {
	FileID string
}

// Input is a single inbound update routed to a flow.
type Input struct {
	UserID  int64
	ChatID  int64
	Text    string
	Image   *Image
	Profile Profile
}

// Sender delivers messages to a chat.
type Sender interface {
	Send(ctx context.Context, chatID int64, msg Message) error
}

// Shared keyboards of the bot menu.
var (
	MainKeyboard = Keyboard{Rows: [][]string{
		{ButtonExchange, ButtonHistory},
		{ButtonPaymentMethods, ButtonHelp},
		{ButtonCancel},
	}}
	GuestKeyboard = Keyboard{Rows: [][]string{
		{ButtonRegister, ButtonHelp},
	}}
	CancelKeyboard = Keyboard{Rows: [][]string{
		{ButtonCancel},
	}}
)

// Menu button labels.
const (
	ButtonExchange = "💹 Realizar Cambio"
	ButtonHistory  = "📜 Mi Historial"
	ButtonHelp     = "ℹ️ Ayuda"
	ButtonRegister = "👤 Registrarme"
	ButtonCancel   = "⬅️ Cancelar"

	ButtonPaymentMethods = "💳 Mis Métodos de Pago"
)
