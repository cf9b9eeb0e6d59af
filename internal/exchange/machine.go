// Package exchange drives the buy/sell conversation: amount selection, quote confirmation,
// payment proof reading and transaction recording.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/m3rciful/exchangebot/core/logger"
	"github.com/m3rciful/exchangebot/internal/chat"
	"github.com/m3rciful/exchangebot/internal/ocr"
	"github.com/m3rciful/exchangebot/internal/proof"
	"github.com/m3rciful/exchangebot/internal/session"
	"github.com/m3rciful/exchangebot/internal/storage"
)

// ErrNoSession is returned by Handle when the user has no exchange in progress.
var ErrNoSession = errors.New("exchange: no active exchange session")

// Payment outcomes reported to the Observer.
const (
	OutcomeRecorded    = "recorded"
	OutcomeNoReference = "no_reference"
	OutcomeTechnical   = "technical"
)

// Gateway delivers messages and resolves inbound images to downloadable URLs.
type Gateway interface {
	chat.Sender
	ResolveImageURL(ctx context.Context, fileID string) (string, error)
}

// Proofs downloads a proof image to local storage.
type Proofs interface {
	Acquire(ctx context.Context, url string) (*proof.File, error)
}

// Extractor reads the reference number from a proof image.
type Extractor interface {
	Extract(ctx context.Context, imagePath string) ocr.Result
}

// Recorder persists completed transactions.
type Recorder interface {
	Record(ctx context.Context, tx storage.Transaction) error
}

// Observer receives flow events for metrics.
type Observer interface {
	Transition(step string)
	Payment(outcome string)
}

type nopObserver struct{}

func (nopObserver) Transition(string) {}
func (nopObserver) Payment(string)    {}

// Config tunes the machine.
type Config struct {
	Pricing       Pricing
	Denominations []int
	// MaxAmountUSD caps a single operation. Zero means DefaultMaxAmountUSD.
	MaxAmountUSD decimal.Decimal
	// Currency is the wallet name shown to users.
	Currency string
	// Home is the keyboard shown when the flow ends.
	Home chat.Keyboard
}

// Deps are the collaborators of the machine. Observer is optional.
type Deps struct {
	Sessions  session.Store
	Gateway   Gateway
	Proofs    Proofs
	Extractor Extractor
	Recorder  Recorder
	Observer  Observer
}

// Machine runs the exchange flow. It keeps no per-user state of its own; everything lives in
// the session store, so callers must serialize updates of the same user.
type Machine struct {
	sessions  session.Store
	gateway   Gateway
	proofs    Proofs
	extractor Extractor
	recorder  Recorder
	observer  Observer

	pricing       Pricing
	denominations []int
	maxAmount     decimal.Decimal
	currency      string
	home          chat.Keyboard

	now   func() time.Time
	newID func() uuid.UUID
}

// NewMachine validates deps and applies config defaults.
func NewMachine(cfg Config, deps Deps) (*Machine, error) {
	switch {
	case deps.Sessions == nil:
		return nil, errors.New("exchange: session store is required")
	case deps.Gateway == nil:
		return nil, errors.New("exchange: gateway is required")
	case deps.Proofs == nil:
		return nil, errors.New("exchange: proof acquirer is required")
	case deps.Extractor == nil:
		return nil, errors.New("exchange: extractor is required")
	case deps.Recorder == nil:
		return nil, errors.New("exchange: recorder is required")
	}
	if cfg.Pricing.CommissionUSD.IsZero() && cfg.Pricing.RateBs.IsZero() {
		cfg.Pricing = DefaultPricing()
	}
	if !cfg.Pricing.RateBs.IsPositive() || cfg.Pricing.CommissionUSD.IsNegative() {
		return nil, fmt.Errorf("exchange: invalid pricing rate=%s commission=%s", cfg.Pricing.RateBs, cfg.Pricing.CommissionUSD)
	}
	if len(cfg.Denominations) == 0 {
		cfg.Denominations = DefaultDenominations()
	}
	if cfg.MaxAmountUSD.IsZero() {
		cfg.MaxAmountUSD = DefaultMaxAmountUSD
	}
	if err := checkLimit(cfg.Pricing, cfg.MaxAmountUSD); err != nil {
		return nil, err
	}
	for _, d := range cfg.Denominations {
		if d <= 0 || decimal.NewFromInt(int64(d)).GreaterThan(cfg.MaxAmountUSD) {
			return nil, fmt.Errorf("exchange: denomination %d outside (0, %s]", d, cfg.MaxAmountUSD)
		}
	}
	if cfg.Currency == "" {
		cfg.Currency = "Zinli"
	}
	if cfg.Home.Empty() {
		cfg.Home = chat.Keyboard{Remove: true}
	}
	obs := deps.Observer
	if obs == nil {
		obs = nopObserver{}
	}
	return &Machine{
		sessions:      deps.Sessions,
		gateway:       deps.Gateway,
		proofs:        deps.Proofs,
		extractor:     deps.Extractor,
		recorder:      deps.Recorder,
		observer:      obs,
		pricing:       cfg.Pricing,
		denominations: cfg.Denominations,
		maxAmount:     cfg.MaxAmountUSD,
		currency:      cfg.Currency,
		home:          cfg.Home,
		now:           time.Now,
		newID:         uuid.New,
	}, nil
}

// Pricing returns the pricing in effect.
func (m *Machine) Pricing() Pricing {
	return m.pricing
}

// Start opens a new exchange for the user, replacing any previous session.
func (m *Machine) Start(ctx context.Context, in chat.Input) error {
	ctx = logger.WithFlow(ctx, Flow)
	if err := m.save(ctx, in.UserID, nil, ChooseAction{}); err != nil {
		return err
	}
	return m.reply(ctx, in, chat.Message{Text: msgWelcome, Keyboard: m.actionKeyboard()})
}

// Cancel clears the user's exchange and tells them so.
func (m *Machine) Cancel(ctx context.Context, in chat.Input) error {
	ctx = logger.WithFlow(ctx, Flow)
	if err := m.sessions.Clear(ctx, in.UserID); err != nil {
		return fmt.Errorf("exchange: clear session: %w", err)
	}
	return m.reply(ctx, in, chat.Message{Text: msgCancelled, Keyboard: m.home})
}

// Current returns the user's exchange state, or nil when no exchange is active.
func (m *Machine) Current(ctx context.Context, userID int64) (State, error) {
	s, err := session.Active(ctx, m.sessions, userID)
	if err != nil {
		return nil, fmt.Errorf("exchange: load session: %w", err)
	}
	if s == nil || s.Flow != Flow {
		return nil, nil
	}
	return Decode(s)
}

// Handle advances the user's exchange with one inbound message.
func (m *Machine) Handle(ctx context.Context, in chat.Input) error {
	ctx = logger.WithFlow(ctx, Flow)
	current, err := m.Current(ctx, in.UserID)
	if err != nil {
		logger.Exchange.LogAttrs(ctx, slog.LevelWarn, "",
			slog.String("event", "exchange.session_invalid"),
			slog.String("err", err.Error()),
		)
		_ = m.sessions.Clear(ctx, in.UserID)
		if sendErr := m.reply(ctx, in, chat.Message{Text: msgTechnical, Keyboard: m.home}); sendErr != nil {
			return errors.Join(err, sendErr)
		}
		return err
	}
	if current == nil {
		return ErrNoSession
	}

	if pay, ok := current.(AwaitPayment); ok && in.Image != nil {
		return m.settle(ctx, in, pay)
	}

	next, err := m.step(ctx, current, in)
	if err != nil {
		return err
	}
	return m.save(ctx, in.UserID, current, next)
}

func (m *Machine) step(ctx context.Context, current State, in chat.Input) (State, error) {
	switch st := current.(type) {
	case ChooseAction:
		return m.onAction(ctx, st, in)
	case SelectAmount:
		return m.onSelectAmount(ctx, st, in)
	case CustomAmount:
		return m.onCustomAmount(ctx, st, in)
	case Confirm:
		return m.onConfirm(ctx, st, in)
	case AwaitPayment:
		return st, m.reply(ctx, in, chat.Text(msgNeedImage))
	}
	return nil, fmt.Errorf("exchange: unhandled state %T", current)
}

func (m *Machine) onAction(ctx context.Context, st ChooseAction, in chat.Input) (State, error) {
	action, ok := parseAction(in.Text)
	if !ok {
		return st, m.reply(ctx, in, chat.Message{Text: msgPickAction, Keyboard: m.actionKeyboard()})
	}
	text := fmt.Sprintf(msgPickAmount, m.currency, lower(action))
	return SelectAmount{Action: action}, m.reply(ctx, in, chat.Message{Text: text, Keyboard: m.amountKeyboard()})
}

func (m *Machine) onSelectAmount(ctx context.Context, st SelectAmount, in chat.Input) (State, error) {
	if isOther(in.Text) {
		return CustomAmount{Action: st.Action}, m.reply(ctx, in, chat.Message{Text: msgAskCustom, Keyboard: chat.CancelKeyboard})
	}
	amount, ok := parseDenomination(in.Text)
	if !ok || amount.GreaterThan(m.maxAmount) {
		return st, m.reply(ctx, in, chat.Message{Text: msgInvalidPreset, Keyboard: m.amountKeyboard()})
	}
	return m.quote(ctx, in, st.Action, amount)
}

func (m *Machine) onCustomAmount(ctx context.Context, st CustomAmount, in chat.Input) (State, error) {
	amount, ok := parseCustomAmount(in.Text)
	if !ok {
		return st, m.reply(ctx, in, chat.Text(msgInvalidCustom))
	}
	if amount.GreaterThan(m.maxAmount) {
		return st, m.reply(ctx, in, chat.Text(fmt.Sprintf(msgAmountTooHigh, money(m.maxAmount))))
	}
	return m.quote(ctx, in, st.Action, amount)
}

func (m *Machine) quote(ctx context.Context, in chat.Input, action Action, amount decimal.Decimal) (State, error) {
	q := m.pricing.Quote(amount)
	logger.Exchange.LogAttrs(ctx, slog.LevelDebug, "",
		slog.String("event", "exchange.quote"),
		slog.String("action", string(action)),
		slog.String("amount_usd", money(q.AmountUSD)),
		slog.String("total_usd", money(q.TotalUSD)),
		slog.String("total_bs", money(q.TotalBs)),
	)
	return Confirm{Action: action, Amount: amount}, m.reply(ctx, in, m.summary(action, q))
}

func (m *Machine) onConfirm(ctx context.Context, st Confirm, in chat.Input) (State, error) {
	switch parseConfirmation(in.Text) {
	case confirmYes:
		return AwaitPayment{Action: st.Action, Amount: st.Amount}, m.reply(ctx, in, chat.Message{Text: msgAskPayment, Keyboard: chat.CancelKeyboard})
	case confirmNo:
		return nil, m.reply(ctx, in, chat.Message{Text: msgCancelled, Keyboard: m.home})
	}
	return st, m.reply(ctx, in, chat.Message{Text: msgConfirmAgain, Keyboard: confirmKeyboard()})
}

// settle handles the proof image. The deferred cleanup releases the downloaded file and clears
// the session exactly once on every exit path, panics included.
func (m *Machine) settle(ctx context.Context, in chat.Input, st AwaitPayment) (err error) {
	start := time.Now()
	outcome := OutcomeTechnical
	var file *proof.File
	defer func() {
		cleanupCtx := context.WithoutCancel(ctx)
		if rerr := file.Release(); rerr != nil {
			logger.Proof.LogAttrs(cleanupCtx, slog.LevelError, "",
				slog.String("event", "proof.release_failed"),
				slog.String("err", rerr.Error()),
			)
		}
		if cerr := m.sessions.Clear(cleanupCtx, in.UserID); cerr != nil {
			err = errors.Join(err, fmt.Errorf("exchange: clear session: %w", cerr))
		}
		m.observer.Payment(outcome)
		logger.Exchange.LogAttrs(cleanupCtx, slog.LevelInfo, "",
			slog.String("event", "exchange.payment"),
			slog.String("step", string(StepPayment)),
			slog.String("outcome", outcome),
			slog.String("action", string(st.Action)),
			slog.String("amount_usd", money(st.Amount)),
			slog.Duration("duration", time.Since(start)),
		)
	}()

	if err := m.reply(ctx, in, chat.Text(msgProcessing)); err != nil {
		logger.Exchange.LogAttrs(ctx, slog.LevelWarn, "",
			slog.String("event", "exchange.notify_failed"),
			slog.String("err", err.Error()),
		)
	}

	url, err := m.gateway.ResolveImageURL(ctx, in.Image.FileID)
	if err != nil {
		return m.technical(ctx, in, fmt.Errorf("exchange: resolve image: %w", err))
	}
	file, err = m.proofs.Acquire(ctx, url)
	if err != nil {
		return m.technical(ctx, in, fmt.Errorf("exchange: acquire proof: %w", err))
	}

	res := m.extractor.Extract(ctx, file.Path())
	if !res.Success {
		if errors.Is(res.Cause, ocr.ErrNoReference) {
			outcome = OutcomeNoReference
			return m.reply(ctx, in, chat.Message{Text: fmt.Sprintf(msgExtractionFail, res.Error), Keyboard: m.home})
		}
		return m.technical(ctx, in, fmt.Errorf("exchange: extract reference: %w", res.Cause))
	}

	tx := m.transaction(in.UserID, st, res.ReferenceID)
	if err := m.recorder.Record(ctx, tx); err != nil {
		return m.technical(ctx, in, fmt.Errorf("exchange: record transaction: %w", err))
	}
	outcome = OutcomeRecorded
	logger.Exchange.LogAttrs(ctx, slog.LevelInfo, "",
		slog.String("event", "exchange.recorded"),
		slog.String("tx_id", tx.ID.String()),
		slog.String("reference", tx.PaymentReference),
		slog.String("total_bs", money(tx.TotalBs)),
	)
	return m.reply(ctx, in, chat.Message{Text: fmt.Sprintf(msgRecorded, tx.PaymentReference), Keyboard: m.home, Markdown: true})
}

func (m *Machine) transaction(userID int64, st AwaitPayment, reference string) storage.Transaction {
	q := m.pricing.Quote(st.Amount)
	return storage.Transaction{
		ID:               m.newID(),
		UserID:           userID,
		Type:             string(st.Action),
		AmountUSD:        q.AmountUSD,
		CommissionUSD:    q.CommissionUSD,
		TotalUSD:         q.TotalUSD,
		RateBs:           q.RateBs,
		TotalBs:          q.TotalBs,
		PaymentReference: reference,
		Status:           storage.StatusPending,
		CreatedAt:        m.now().UTC(),
	}
}

// technical logs cause for operators and shows the user a generic message. The returned error
// is nil unless the reply itself fails; the failure has been handled.
func (m *Machine) technical(ctx context.Context, in chat.Input, cause error) error {
	logger.Exchange.LogAttrs(ctx, slog.LevelError, "",
		slog.String("event", "exchange.technical"),
		slog.String("status", "fail"),
		slog.String("err", logger.SanitizeLimit(cause.Error(), 256)),
	)
	return m.reply(ctx, in, chat.Message{Text: msgTechnical, Keyboard: m.home})
}

func (m *Machine) save(ctx context.Context, userID int64, prev, next State) error {
	if next == nil {
		if err := m.sessions.Clear(ctx, userID); err != nil {
			return fmt.Errorf("exchange: clear session: %w", err)
		}
		m.logTransition(ctx, prev, "cleared")
		return nil
	}
	s, err := Encode(next)
	if err != nil {
		return err
	}
	if err := m.sessions.Set(ctx, userID, s); err != nil {
		return fmt.Errorf("exchange: save session: %w", err)
	}
	if prev == nil || prev.Step() != next.Step() {
		m.logTransition(ctx, prev, string(next.Step()))
	}
	return nil
}

func (m *Machine) logTransition(ctx context.Context, prev State, next string) {
	m.observer.Transition(next)
	from := ""
	if prev != nil {
		from = string(prev.Step())
	}
	logger.Exchange.LogAttrs(ctx, slog.LevelDebug, "",
		slog.String("event", "exchange.transition"),
		slog.String("step", from),
		slog.String("next_step", next),
	)
}

func (m *Machine) reply(ctx context.Context, in chat.Input, msg chat.Message) error {
	chatID := in.ChatID
	if chatID == 0 {
		chatID = in.UserID
	}
	if err := m.gateway.Send(ctx, chatID, msg); err != nil {
		return fmt.Errorf("exchange: send: %w", err)
	}
	return nil
}
