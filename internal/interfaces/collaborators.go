package interfaces

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrRecipientBlocked is a permanent delivery failure: the user blocked the bot.
	ErrRecipientBlocked = errors.New("messaging: recipient blocked the bot")

	// ErrProcessorRejected means the processor refused the request outright.
	// Nothing was charged or paid out.
	ErrProcessorRejected = errors.New("processor: request rejected")
)

// Messenger is the messaging-platform collaborator. Every call is made with
// the token of the bot acting on the user's behalf.
type Messenger interface {
	SendMessage(ctx context.Context, botToken string, chatID int64, text string) error
	CreateInviteLink(ctx context.Context, botToken string, groupID int64, name string) (string, error)
	RemoveMember(ctx context.Context, botToken string, groupID, userID int64) error
}

// ChargeRequest asks the processor to create an instant-payment charge.
type ChargeRequest struct {
	Amount      decimal.Decimal
	Description string
	PayerName   string
	ExternalID  string
}

// Charge is the processor's answer to a ChargeRequest.
type Charge struct {
	ID           string
	PixCopyPaste string
}

// PayoutRequest asks the processor to transfer funds to a pix key.
type PayoutRequest struct {
	Amount     decimal.Decimal
	PixKey     string
	PixKeyType string
	ExternalID string
}

// Payout is the processor's answer to a PayoutRequest.
type Payout struct {
	ID     string
	Status string
}

// PaymentProcessor is the external instant-payment rail.
type PaymentProcessor interface {
	CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error)
	SendPayout(ctx context.Context, req PayoutRequest) (*Payout, error)
}
