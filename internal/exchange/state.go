package exchange

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/m3rciful/exchangebot/internal/session"
)

// Flow is the session flow name owned by this package.
const Flow = "exchange"

// Action is the direction of the exchange.
type Action string

// Supported actions. Values are persisted in transactions.transaction_type.
const (
	Buy  Action = "Comprar"
	Sell Action = "Vender"
)

// Step names a position in the exchange conversation.
type Step string

// Conversation steps.
const (
	StepAction       Step = "action"
	StepSelectAmount Step = "select_amount"
	StepCustomAmount Step = "custom_amount"
	StepConfirm      Step = "confirm"
	StepPayment      Step = "payment"
)

// State is one of ChooseAction, SelectAmount, CustomAmount, Confirm or AwaitPayment.
// A nil State means the session is cleared.
type State interface {
	Step() Step
	sealed()
}

// ChooseAction waits for the user to pick Buy or Sell.
type ChooseAction struct{}

// SelectAmount waits for a denomination button or the "other amount" option.
type SelectAmount struct {
	Action Action
}

// CustomAmount waits for a typed USD amount.
type CustomAmount struct {
	Action Action
}

// Confirm shows the quote and waits for yes or no.
type Confirm struct {
	Action Action
	Amount decimal.Decimal
}

// AwaitPayment waits for the payment proof image.
type AwaitPayment struct {
	Action Action
	Amount decimal.Decimal
}

func (ChooseAction) Step() Step { return StepAction }
func (SelectAmount) Step() Step { return StepSelectAmount }
func (CustomAmount) Step() Step { return StepCustomAmount }
func (Confirm) Step() Step      { return StepConfirm }
func (AwaitPayment) Step() Step { return StepPayment }

func (ChooseAction) sealed() {}
func (SelectAmount) sealed() {}
func (CustomAmount) sealed() {}
func (Confirm) sealed()      {}
func (AwaitPayment) sealed() {}

type payload struct {
	Action Action           `json:"action,omitempty"`
	Amount *decimal.Decimal `json:"amount,omitempty"`
}

// Encode converts a state into its stored session form.
func Encode(st State) (*session.Session, error) {
	var p payload
	switch s := st.(type) {
	case ChooseAction:
	case SelectAmount:
		p.Action = s.Action
	case CustomAmount:
		p.Action = s.Action
	case Confirm:
		p.Action, p.Amount = s.Action, &s.Amount
	case AwaitPayment:
		p.Action, p.Amount = s.Action, &s.Amount
	default:
		return nil, fmt.Errorf("exchange: cannot encode state %T", st)
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("exchange: encode %s: %w", st.Step(), err)
	}
	return &session.Session{Flow: Flow, Step: string(st.Step()), Data: data}, nil
}

// Decode restores a state from a stored session. Payloads missing required fields are rejected.
func Decode(s *session.Session) (State, error) {
	if s == nil || s.Flow != Flow {
		return nil, fmt.Errorf("exchange: session does not belong to the exchange flow")
	}
	var p payload
	if len(s.Data) > 0 {
		if err := json.Unmarshal(s.Data, &p); err != nil {
			return nil, fmt.Errorf("exchange: decode %s: %w", s.Step, err)
		}
	}
	needAction := func() error {
		if p.Action != Buy && p.Action != Sell {
			return fmt.Errorf("exchange: step %s has invalid action %q", s.Step, p.Action)
		}
		return nil
	}
	needAmount := func() error {
		if err := needAction(); err != nil {
			return err
		}
		if p.Amount == nil || !p.Amount.IsPositive() {
			return fmt.Errorf("exchange: step %s has no positive amount", s.Step)
		}
		return nil
	}

	switch Step(s.Step) {
	case StepAction:
		return ChooseAction{}, nil
	case StepSelectAmount:
		if err := needAction(); err != nil {
			return nil, err
		}
		return SelectAmount{Action: p.Action}, nil
	case StepCustomAmount:
		if err := needAction(); err != nil {
			return nil, err
		}
		return CustomAmount{Action: p.Action}, nil
	case StepConfirm:
		if err := needAmount(); err != nil {
			return nil, err
		}
		return Confirm{Action: p.Action, Amount: *p.Amount}, nil
	case StepPayment:
		if err := needAmount(); err != nil {
			return nil, err
		}
		return AwaitPayment{Action: p.Action, Amount: *p.Amount}, nil
	}
	return nil, fmt.Errorf("exchange: unknown step %q", s.Step)
}
