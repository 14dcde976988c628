// Package testutils holds test doubles shared by package tests.
package testutils

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sheikh-saqib/subscription-payments-ledger/internal/interfaces"
	"github.com/sheikh-saqib/subscription-payments-ledger/internal/models/events"
	"github.com/shopspring/decimal"
)

// SentMessage is one message recorded by FakeMessenger.
type SentMessage struct {
	BotToken string
	ChatID   int64
	Text     string
}

// Removal is one group removal recorded by FakeMessenger.
type Removal struct {
	BotToken string
	GroupID  int64
	UserID   int64
}

// FakeMessenger records calls. Errors can be forced per chat id.
type FakeMessenger struct {
	mu        sync.Mutex
	Sent      []SentMessage
	Removed   []Removal
	Invites   int
	SendErr   map[int64]error
	RemoveErr error
	InviteErr error
	// FailSends fails that many SendMessage calls before succeeding.
	FailSends int
	// FailInvites does the same for CreateInviteLink.
	FailInvites int
}

func NewFakeMessenger() *FakeMessenger {
	return &FakeMessenger{SendErr: map[int64]error{}}
}

func (f *FakeMessenger) SendMessage(_ context.Context, botToken string, chatID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.SendErr[chatID]; ok {
		return err
	}
	if f.FailSends > 0 {
		f.FailSends--
		return errors.New("temporary failure")
	}
	f.Sent = append(f.Sent, SentMessage{BotToken: botToken, ChatID: chatID, Text: text})
	return nil
}

func (f *FakeMessenger) CreateInviteLink(_ context.Context, _ string, groupID int64, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.InviteErr != nil {
		return "", f.InviteErr
	}
	if f.FailInvites > 0 {
		f.FailInvites--
		return "", errors.New("temporary failure")
	}
	f.Invites++
	return fmt.Sprintf("https://t.me/+invite%d_%d", -groupID, f.Invites), nil
}

func (f *FakeMessenger) RemoveMember(_ context.Context, botToken string, groupID, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.RemoveErr != nil {
		return f.RemoveErr
	}
	f.Removed = append(f.Removed, Removal{BotToken: botToken, GroupID: groupID, UserID: userID})
	return nil
}

// Messages returns a copy of the sent messages.
func (f *FakeMessenger) Messages() []SentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SentMessage(nil), f.Sent...)
}

// RecordingNotifier collects enqueued notifications.
type RecordingNotifier struct {
	mu   sync.Mutex
	sent []events.Notification
}

func (n *RecordingNotifier) Enqueue(_ context.Context, notification events.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification)
}

func (n *RecordingNotifier) All() []events.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]events.Notification(nil), n.sent...)
}

// FakeProcessor answers charges and payouts, or fails with Err. Charges and
// Payouts hold the successful requests; PayoutCalls counts every attempt.
type FakeProcessor struct {
	mu          sync.Mutex
	Err         error
	Charges     []interfaces.ChargeRequest
	Payouts     []interfaces.PayoutRequest
	PayoutCalls int
}

func (f *FakeProcessor) CreateCharge(_ context.Context, req interfaces.ChargeRequest) (*interfaces.Charge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	f.Charges = append(f.Charges, req)
	return &interfaces.Charge{ID: fmt.Sprintf("ch_%d", len(f.Charges)), PixCopyPaste: "00020126PIX" + req.Amount.StringFixed(2)}, nil
}

func (f *FakeProcessor) SendPayout(_ context.Context, req interfaces.PayoutRequest) (*interfaces.Payout, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.PayoutCalls++
	if f.Err != nil {
		return nil, f.Err
	}
	f.Payouts = append(f.Payouts, req)
	return &interfaces.Payout{ID: fmt.Sprintf("po_%d", len(f.Payouts)), Status: "PENDING"}, nil
}

// Money parses a decimal literal.
func Money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

var (
	_ interfaces.Messenger        = (*FakeMessenger)(nil)
	_ interfaces.Notifier         = (*RecordingNotifier)(nil)
	_ interfaces.PaymentProcessor = (*FakeProcessor)(nil)
)
