package exchange

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/exchangebot/internal/chat"
	"github.com/m3rciful/exchangebot/internal/ocr"
	"github.com/m3rciful/exchangebot/internal/proof"
	"github.com/m3rciful/exchangebot/internal/session"
	"github.com/m3rciful/exchangebot/internal/storage"
)

const userID int64 = 1001

type sent struct {
	chatID int64
	msg    chat.Message
}

type fakeGateway struct {
	mu         sync.Mutex
	messages   []sent
	baseURL    string
	resolveErr error
}

func (g *fakeGateway) Send(_ context.Context, chatID int64, msg chat.Message) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.messages = append(g.messages, sent{chatID: chatID, msg: msg})
	return nil
}

func (g *fakeGateway) ResolveImageURL(_ context.Context, fileID string) (string, error) {
	if g.resolveErr != nil {
		return "", g.resolveErr
	}
	return g.baseURL + "/file/botTOKEN/photos/" + fileID + ".jpg", nil
}

func (g *fakeGateway) last() chat.Message {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.messages) == 0 {
		return chat.Message{}
	}
	return g.messages[len(g.messages)-1].msg
}

func (g *fakeGateway) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.messages)
}

// fakeExtractor runs the real ocr.Service over a canned engine so that reference parsing is
// exercised end to end.
type fakeExtractor struct {
	text     string
	err      error
	panics   bool
	calls    int
	fileSeen bool
}

func (f *fakeExtractor) Recognize(_ context.Context, path, _ string) (string, error) {
	_, statErr := os.Stat(path)
	f.fileSeen = statErr == nil
	return f.text, f.err
}

func (f *fakeExtractor) Extract(ctx context.Context, path string) ocr.Result {
	f.calls++
	if f.panics {
		panic("extractor crashed")
	}
	return ocr.NewService(f, ocr.Options{}).Extract(ctx, path)
}

type fakeRecorder struct {
	txs []storage.Transaction
	err error
}

func (r *fakeRecorder) Record(_ context.Context, tx storage.Transaction) error {
	if r.err != nil {
		return r.err
	}
	r.txs = append(r.txs, tx)
	return nil
}

type fakeObserver struct {
	transitions []string
	payments    []string
}

func (o *fakeObserver) Transition(step string) { o.transitions = append(o.transitions, step) }
func (o *fakeObserver) Payment(outcome string) { o.payments = append(o.payments, outcome) }

type countingProofs struct {
	inner *proof.Acquirer
	calls int
	err   error
}

func (p *countingProofs) Acquire(ctx context.Context, url string) (*proof.File, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return p.inner.Acquire(ctx, url)
}

type harness struct {
	m         *Machine
	store     *session.MemoryStore
	gateway   *fakeGateway
	proofs    *countingProofs
	extractor *fakeExtractor
	recorder  *fakeRecorder
	observer  *fakeObserver
	dir       string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("receipt-bytes"))
	}))
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	acq, err := proof.NewAcquirer(proof.Config{Dir: dir, Timeout: 5 * time.Second}, srv.Client())
	require.NoError(t, err)

	h := &harness{
		store:     session.NewMemoryStore(),
		gateway:   &fakeGateway{baseURL: srv.URL},
		proofs:    &countingProofs{inner: acq},
		extractor: &fakeExtractor{},
		recorder:  &fakeRecorder{},
		observer:  &fakeObserver{},
		dir:       dir,
	}
	h.m, err = NewMachine(Config{Home: chat.MainKeyboard}, Deps{
		Sessions:  h.store,
		Gateway:   h.gateway,
		Proofs:    h.proofs,
		Extractor: h.extractor,
		Recorder:  h.recorder,
		Observer:  h.observer,
	})
	require.NoError(t, err)
	h.m.now = func() time.Time { return time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC) }
	h.m.newID = func() uuid.UUID { return uuid.MustParse("8f14e45f-ceea-467f-a0e6-7f6c2b0d2e11") }
	return h
}

func (h *harness) text(t *testing.T, text string) {
	t.Helper()
	require.NoError(t, h.m.Handle(context.Background(), chat.Input{UserID: userID, ChatID: userID, Text: text}))
}

func (h *harness) photo(t *testing.T) error {
	t.Helper()
	return h.m.Handle(context.Background(), chat.Input{UserID: userID, ChatID: userID, Image: &chat.Image{FileID: "AgAD"}})
}

func (h *harness) state(t *testing.T) State {
	t.Helper()
	st, err := h.m.Current(context.Background(), userID)
	require.NoError(t, err)
	return st
}

func (h *harness) scratchEmpty(t *testing.T) {
	t.Helper()
	list, err := os.ReadDir(h.dir)
	require.NoError(t, err)
	assert.Empty(t, list, "proof files must not outlive the payment step")
}

func (h *harness) toPayment(t *testing.T, action, amount string) {
	t.Helper()
	require.NoError(t, h.m.Start(context.Background(), chat.Input{UserID: userID, ChatID: userID}))
	h.text(t, action)
	h.text(t, amount)
	h.text(t, "👍 Sí, confirmar")
	require.IsType(t, AwaitPayment{}, h.state(t))
}

func TestEndToEndBuyTenDollars(t *testing.T) {
	h := newHarness(t)
	h.extractor.text = "Banco\nreferencia: 123456789012\nMonto 2156,00"

	require.NoError(t, h.m.Start(context.Background(), chat.Input{UserID: userID, ChatID: userID}))
	assert.Equal(t, ChooseAction{}, h.state(t))

	h.text(t, "📈 Comprar Zinli")
	assert.Equal(t, SelectAmount{Action: Buy}, h.state(t))
	assert.Contains(t, h.gateway.last().Text, "deseas comprar")

	h.text(t, "$10")
	st := h.state(t)
	require.IsType(t, Confirm{}, st)
	assert.True(t, st.(Confirm).Amount.Equal(decimal.NewFromInt(10)))
	summary := h.gateway.last()
	assert.True(t, summary.Markdown)
	assert.Contains(t, summary.Text, "$10.00 USD")
	assert.Contains(t, summary.Text, "$1.00 USD")
	assert.Contains(t, summary.Text, "Total a Pagar (USD): $11.00")
	assert.Contains(t, summary.Text, "Total a Pagar (Bs.): 2156.00")

	h.text(t, "👍 Sí, confirmar")
	require.IsType(t, AwaitPayment{}, h.state(t))

	require.NoError(t, h.photo(t))

	require.Len(t, h.recorder.txs, 1)
	tx := h.recorder.txs[0]
	assert.Equal(t, userID, tx.UserID)
	assert.Equal(t, "Comprar", tx.Type)
	assert.Equal(t, "10.00", tx.AmountUSD.StringFixed(2))
	assert.Equal(t, "1.00", tx.CommissionUSD.StringFixed(2))
	assert.Equal(t, "11.00", tx.TotalUSD.StringFixed(2))
	assert.Equal(t, "196.00", tx.RateBs.StringFixed(2))
	assert.Equal(t, "2156.00", tx.TotalBs.StringFixed(2))
	assert.Equal(t, "123456789012", tx.PaymentReference)
	assert.Equal(t, storage.StatusPending, tx.Status)
	assert.Equal(t, "8f14e45f-ceea-467f-a0e6-7f6c2b0d2e11", tx.ID.String())

	assert.Contains(t, h.gateway.last().Text, "123456789012")
	assert.Equal(t, chat.MainKeyboard, h.gateway.last().Keyboard)
	assert.Nil(t, h.state(t))
	assert.True(t, h.extractor.fileSeen, "proof must exist while being read")
	h.scratchEmpty(t)

	assert.Equal(t, []string{OutcomeRecorded}, h.observer.payments)
	assert.Equal(t, []string{"action", "select_amount", "confirm", "payment"}, h.observer.transitions)
}

func TestCustomAmountFlow(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.m.Start(context.Background(), chat.Input{UserID: userID}))
	h.text(t, "📉 Vender Zinli")
	h.text(t, "Otro monto")
	assert.Equal(t, CustomAmount{Action: Sell}, h.state(t))

	h.text(t, "12,50")
	st := h.state(t)
	require.IsType(t, Confirm{}, st)
	assert.Equal(t, "12.50", st.(Confirm).Amount.StringFixed(2))
	assert.Contains(t, h.gateway.last().Text, "Total a Pagar (Bs.): 2646.00")
	assert.Equal(t, userID, h.gateway.messages[0].chatID, "chat falls back to user id")
}

func TestInvalidCustomAmountStays(t *testing.T) {
	tooHigh := "El monto máximo por operación es $10000.00 USD. Por favor, ingresa un monto menor."
	cases := map[string]string{
		"abc":            msgInvalidCustom,
		"0":              msgInvalidCustom,
		"-5":             msgInvalidCustom,
		"":               msgInvalidCustom,
		"10.555":         msgInvalidCustom,
		"1e3":            msgInvalidCustom,
		"$":              msgInvalidCustom,
		"10000.01":       tooHigh,
		"10000000000000": tooHigh,
	}
	for in, want := range cases {
		t.Run(fmt.Sprintf("%q", in), func(t *testing.T) {
			h := newHarness(t)
			require.NoError(t, h.m.Start(context.Background(), chat.Input{UserID: userID}))
			h.text(t, "Comprar")
			h.text(t, "Otro monto")
			before := h.gateway.count()

			h.text(t, in)

			assert.Equal(t, CustomAmount{Action: Buy}, h.state(t))
			assert.Equal(t, before+1, h.gateway.count())
			assert.Equal(t, want, h.gateway.last().Text)
			assert.NotContains(t, h.gateway.last().Text, "Resumen")
		})
	}
}

func TestCustomAmountAtCapIsQuoted(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.m.Start(context.Background(), chat.Input{UserID: userID}))
	h.text(t, "Comprar")
	h.text(t, "Otro monto")
	h.text(t, "10000")

	st := h.state(t)
	require.IsType(t, Confirm{}, st)
	assert.True(t, st.(Confirm).Amount.Equal(DefaultMaxAmountUSD))
}

func TestInvalidPresetStays(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.m.Start(context.Background(), chat.Input{UserID: userID}))
	h.text(t, "Vender")
	h.text(t, "muchos")
	assert.Equal(t, SelectAmount{Action: Sell}, h.state(t))
	assert.Equal(t, msgInvalidPreset, h.gateway.last().Text)

	h.text(t, "$0")
	assert.Equal(t, SelectAmount{Action: Sell}, h.state(t))
}

func TestUnknownActionReprompts(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.m.Start(context.Background(), chat.Input{UserID: userID}))
	h.text(t, "hola")
	assert.Equal(t, ChooseAction{}, h.state(t))
	assert.Equal(t, msgPickAction, h.gateway.last().Text)
}

func TestNegativeConfirmationClears(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.m.Start(context.Background(), chat.Input{UserID: userID}))
	h.text(t, "Comprar")
	h.text(t, "$5")
	h.text(t, "👎 No, cancelar")

	assert.Nil(t, h.state(t))
	assert.Equal(t, msgCancelled, h.gateway.last().Text)
	assert.Zero(t, h.proofs.calls)
	assert.Zero(t, h.extractor.calls)
	assert.Empty(t, h.recorder.txs)
	assert.Equal(t, "cleared", h.observer.transitions[len(h.observer.transitions)-1])
}

func TestUnclearConfirmationReprompts(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.m.Start(context.Background(), chat.Input{UserID: userID}))
	h.text(t, "Comprar")
	h.text(t, "$5")
	h.text(t, "tal vez")

	require.IsType(t, Confirm{}, h.state(t))
	assert.Equal(t, msgConfirmAgain, h.gateway.last().Text)
}

func TestPaymentRequiresImage(t *testing.T) {
	h := newHarness(t)
	h.toPayment(t, "Comprar", "$20")
	h.text(t, "ya pagué")

	require.IsType(t, AwaitPayment{}, h.state(t))
	assert.Equal(t, msgNeedImage, h.gateway.last().Text)
	assert.Zero(t, h.proofs.calls)
}

func TestPaymentNoReference(t *testing.T) {
	h := newHarness(t)
	h.extractor.text = "Operación 123"
	h.toPayment(t, "Vender", "$1")

	require.NoError(t, h.photo(t))

	assert.Empty(t, h.recorder.txs)
	assert.Nil(t, h.state(t))
	assert.Contains(t, h.gateway.last().Text, ocr.MessageNoReference)
	assert.Equal(t, []string{OutcomeNoReference}, h.observer.payments)
	h.scratchEmpty(t)
}

func TestPaymentTechnicalFailures(t *testing.T) {
	cases := map[string]func(h *harness){
		"resolve":  func(h *harness) { h.gateway.resolveErr = errors.New("file not found") },
		"download": func(h *harness) { h.proofs.err = fmt.Errorf("%w: status 404", proof.ErrDownload) },
		"ocr":      func(h *harness) { h.extractor.err = errors.New("corrupt image") },
		"recorder": func(h *harness) {
			h.extractor.text = "referencia 123456"
			h.recorder.err = errors.New("db down")
		},
	}
	for name, setup := range cases {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			h.toPayment(t, "Comprar", "$10")
			setup(h)

			require.NoError(t, h.photo(t))

			assert.Empty(t, h.recorder.txs)
			assert.Nil(t, h.state(t))
			assert.Equal(t, msgTechnical, h.gateway.last().Text)
			assert.NotContains(t, h.gateway.last().Text, "db down")
			assert.Equal(t, []string{OutcomeTechnical}, h.observer.payments)
			h.scratchEmpty(t)
		})
	}
}

func TestPaymentPanicStillCleansUp(t *testing.T) {
	h := newHarness(t)
	h.toPayment(t, "Comprar", "$10")
	h.extractor.panics = true

	assert.Panics(t, func() { _ = h.photo(t) })

	assert.Nil(t, h.state(t))
	assert.Empty(t, h.recorder.txs)
	h.scratchEmpty(t)
	assert.Equal(t, []string{OutcomeTechnical}, h.observer.payments)
}

func TestHandleWithoutSession(t *testing.T) {
	h := newHarness(t)
	err := h.m.Handle(context.Background(), chat.Input{UserID: userID, Text: "hola"})
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestHandleCorruptSessionClears(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.Set(context.Background(), userID, &session.Session{Flow: Flow, Step: "confirm", Data: []byte(`{"action":"Comprar"}`)}))

	err := h.m.Handle(context.Background(), chat.Input{UserID: userID, Text: "sí"})
	require.Error(t, err)
	assert.Nil(t, h.state(t))
	assert.Equal(t, msgTechnical, h.gateway.last().Text)
}

func TestCancel(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.m.Start(context.Background(), chat.Input{UserID: userID}))
	require.NoError(t, h.m.Cancel(context.Background(), chat.Input{UserID: userID}))
	assert.Nil(t, h.state(t))
	assert.Equal(t, msgCancelled, h.gateway.last().Text)
}

func TestNewMachineValidates(t *testing.T) {
	_, err := NewMachine(Config{}, Deps{})
	require.Error(t, err)

	h := newHarness(t)
	_, err = NewMachine(Config{Pricing: Pricing{CommissionUSD: decimal.NewFromInt(1), RateBs: decimal.Zero}}, Deps{
		Sessions: h.store, Gateway: h.gateway, Proofs: h.proofs, Extractor: h.extractor, Recorder: h.recorder,
	})
	require.Error(t, err)

	deps := Deps{Sessions: h.store, Gateway: h.gateway, Proofs: h.proofs, Extractor: h.extractor, Recorder: h.recorder}
	_, err = NewMachine(Config{MaxAmountUSD: decimal.NewFromInt(1_000_000_000_000)}, deps)
	require.Error(t, err, "a cap beyond NUMERIC(14,2) cannot be recorded")
	_, err = NewMachine(Config{MaxAmountUSD: decimal.NewFromInt(50), Denominations: []int{10, 100}}, deps)
	require.Error(t, err, "denominations above the cap")
	_, err = NewMachine(Config{MaxAmountUSD: decimal.NewFromInt(-1)}, deps)
	require.Error(t, err)
}
