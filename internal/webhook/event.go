package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sheikh-saqib/subscription-payments-ledger/internal/correlation"
	"github.com/shopspring/decimal"
)

// ErrUnparseable is returned when the body is not a JSON event.
var ErrUnparseable = errors.New("webhook: unparseable event")

// Cents is an integer amount of cents. The processor has been seen sending
// both integers and numeric strings.
type Cents int64

func (c *Cents) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	if raw == "" || raw == "null" {
		*c = 0
		return nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return fmt.Errorf("cents: %w", err)
	}
	*c = Cents(d.Round(0).IntPart())
	return nil
}

// Event is the processor's callback body.
type Event struct {
	Type       string `json:"type"`
	Status     string `json:"status"`
	ExternalID string `json:"externalId"`
	Amount     Cents  `json:"amount"`
	NetAmount  Cents  `json:"netAmount"`
}

// ParseEvent decodes a raw callback body.
func ParseEvent(body []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}
	return ev, nil
}

// PaymentConfirmed is the only event that changes ledger state.
type PaymentConfirmed struct {
	ExternalID  string
	Correlation correlation.ID
	GrossCents  int64
	NetCents    int64
}

// Confirmation narrows ev to a PaymentConfirmed. It returns the outcome to
// report when ev is anything else.
func (ev Event) Confirmation() (*PaymentConfirmed, Outcome) {
	if !isPaymentIn(ev.Type) || !isComplete(ev.Status) {
		return nil, OutcomeIgnoredUnsupported
	}
	id, err := correlation.Parse(ev.ExternalID)
	if err != nil {
		return nil, OutcomeIgnoredMalformed
	}
	return &PaymentConfirmed{
		ExternalID:  ev.ExternalID,
		Correlation: id,
		GrossCents:  int64(ev.Amount),
		NetCents:    int64(ev.NetAmount),
	}, ""
}

func isPaymentIn(t string) bool {
	return t == "paymentIn" || t == "PIX_IN"
}

func isComplete(s string) bool {
	return s == "complete" || s == "COMPLETE"
}
