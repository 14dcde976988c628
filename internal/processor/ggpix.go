// Package processor is the client for the GGPIX instant-payment API.
package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/sheikh-saqib/subscription-payments-ledger/internal/interfaces"
	"github.com/sirupsen/logrus"
)

// ErrProcessorUnavailable means no usable answer came back: a transport
// error, a timeout, a 5xx or an unreadable 201. The request may still have
// been executed, so a payout must be retried with the same external id rather
// than written off. Definite refusals wrap interfaces.ErrProcessorRejected.
var ErrProcessorUnavailable = errors.New("processor: unavailable")

const (
	maxTextLen      = 50
	chargeTimeout   = 10 * time.Second
	payoutTimeout   = 15 * time.Second
	payoutNarrative = "Platform withdrawal"
)

// Client talks to the processor over HTTP.
type Client struct {
	baseURL    string
	apiKey     string
	webhookURL string
	http       *http.Client
	logger     logrus.FieldLogger
}

// NewClient creates a client. webhookURL is the public base URL of this
// service; confirmations are delivered to {webhookURL}/payment-webhook.
func NewClient(baseURL, apiKey, webhookURL string, logger logrus.FieldLogger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		webhookURL: strings.TrimRight(webhookURL, "/"),
		http:       &http.Client{},
		logger:     logger,
	}
}

type chargeBody struct {
	AmountCents   int64  `json:"amountCents"`
	Description   string `json:"description"`
	PayerName     string `json:"payerName"`
	PayerDocument string `json:"payerDocument"`
	ExternalID    string `json:"externalId"`
	WebhookURL    string `json:"webhookUrl"`
}

type chargeResponse struct {
	ID           string `json:"id"`
	PixCopyPaste string `json:"pixCopyPaste"`
}

// CreateCharge registers a charge and returns the copy-paste payment code.
func (c *Client) CreateCharge(ctx context.Context, req interfaces.ChargeRequest) (*interfaces.Charge, error) {
	body := chargeBody{
		AmountCents:   req.Amount.Shift(2).Round(0).IntPart(),
		Description:   truncate(req.Description),
		PayerName:     truncate(req.PayerName),
		PayerDocument: RandomCPF(),
		ExternalID:    req.ExternalID,
		WebhookURL:    c.webhookURL + "/payment-webhook",
	}

	var resp chargeResponse
	if err := c.post(ctx, "/pix/in", chargeTimeout, body, &resp); err != nil {
		return nil, err
	}
	if resp.PixCopyPaste == "" {
		return nil, fmt.Errorf("%w: charge response has no payment code", ErrProcessorUnavailable)
	}
	return &interfaces.Charge{ID: resp.ID, PixCopyPaste: resp.PixCopyPaste}, nil
}

type payoutBody struct {
	AmountCents int64  `json:"amountCents"`
	PixKey      string `json:"pixKey"`
	PixKeyType  string `json:"pixKeyType"`
	ExternalID  string `json:"externalId"`
	Description string `json:"description"`
}

type payoutResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// SendPayout transfers req.Amount to a pix key.
func (c *Client) SendPayout(ctx context.Context, req interfaces.PayoutRequest) (*interfaces.Payout, error) {
	body := payoutBody{
		AmountCents: req.Amount.Shift(2).Round(0).IntPart(),
		PixKey:      req.PixKey,
		PixKeyType:  strings.ToUpper(req.PixKeyType),
		ExternalID:  req.ExternalID,
		Description: payoutNarrative,
	}

	var resp payoutResponse
	if err := c.post(ctx, "/pix/out", payoutTimeout, body, &resp); err != nil {
		return nil, err
	}
	return &interfaces.Payout{ID: resp.ID, Status: resp.Status}, nil
}

// post sends a JSON request. Only 201 Created succeeds; a 4xx is a rejection.
func (c *Client) post(ctx context.Context, path string, timeout time.Duration, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProcessorUnavailable, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: reading response: %v", ErrProcessorUnavailable, err)
	}
	if res.StatusCode != http.StatusCreated {
		c.logger.WithFields(logrus.Fields{"path": path, "status": res.StatusCode}).
			Warnf("processor answered %d: %s", res.StatusCode, truncateBody(raw))
		if res.StatusCode >= 400 && res.StatusCode < 500 {
			return fmt.Errorf("%w: %s returned %d", interfaces.ErrProcessorRejected, path, res.StatusCode)
		}
		return fmt.Errorf("%w: %s returned %d", ErrProcessorUnavailable, path, res.StatusCode)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: decoding response: %v", ErrProcessorUnavailable, err)
	}
	return nil
}

// RandomCPF returns a random 11-digit CPF with valid check digits. The
// processor requires a payer document but buyers are never asked for one.
func RandomCPF() string {
	digits := make([]int, 9, 11)
	for i := range digits {
		digits[i] = rand.IntN(10)
	}
	digits = append(digits, cpfDigit(digits))
	digits = append(digits, cpfDigit(digits))

	var b strings.Builder
	for _, d := range digits {
		b.WriteByte(byte('0' + d))
	}
	return b.String()
}

func cpfDigit(digits []int) int {
	sum := 0
	weight := len(digits) + 1
	for _, d := range digits {
		sum += d * weight
		weight--
	}
	r := (sum * 10) % 11
	if r == 10 {
		return 0
	}
	return r
}

func truncate(s string) string {
	r := []rune(s)
	if len(r) > maxTextLen {
		return string(r[:maxTextLen])
	}
	return s
}

func truncateBody(raw []byte) string {
	if len(raw) > 512 {
		return string(raw[:512])
	}
	return string(raw)
}

var _ interfaces.PaymentProcessor = (*Client)(nil)
