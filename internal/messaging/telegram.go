// Package messaging is a minimal Telegram Bot API client covering the calls the
// ledger needs: direct messages, single-use invite links and member removal.
package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sheikh-saqib/subscription-payments-ledger/internal/interfaces"
)

// DefaultBaseURL is the public Bot API endpoint.
const DefaultBaseURL = "https://api.telegram.org"

const requestTimeout = 10 * time.Second

// Telegram implements interfaces.Messenger.
type Telegram struct {
	baseURL string
	http    *http.Client
}

// NewTelegram returns a client for baseURL, or the public API when empty.
func NewTelegram(baseURL string) *Telegram {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Telegram{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: requestTimeout},
	}
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
}

// APIError is a non-permanent Bot API failure.
type APIError struct {
	Method      string
	Code        int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram: %s failed (%d): %s", e.Method, e.Code, e.Description)
}

// SendMessage sends an HTML-formatted message to chatID.
func (t *Telegram) SendMessage(ctx context.Context, botToken string, chatID int64, text string) error {
	return t.call(ctx, botToken, "sendMessage", map[string]any{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": "HTML",
	}, nil)
}

// CreateInviteLink creates an invite link to groupID usable by one member.
func (t *Telegram) CreateInviteLink(ctx context.Context, botToken string, groupID int64, name string) (string, error) {
	var link struct {
		InviteLink string `json:"invite_link"`
	}
	err := t.call(ctx, botToken, "createChatInviteLink", map[string]any{
		"chat_id":      groupID,
		"member_limit": 1,
		"name":         name,
	}, &link)
	if err != nil {
		return "", err
	}
	return link.InviteLink, nil
}

// RemoveMember kicks userID from groupID. The ban is lifted right away so the
// user can rejoin after buying again.
func (t *Telegram) RemoveMember(ctx context.Context, botToken string, groupID, userID int64) error {
	params := map[string]any{"chat_id": groupID, "user_id": userID}
	if err := t.call(ctx, botToken, "banChatMember", params, nil); err != nil {
		return err
	}
	params["only_if_banned"] = true
	return t.call(ctx, botToken, "unbanChatMember", params, nil)
}

func (t *Telegram) call(ctx context.Context, botToken, method string, params, result any) error {
	payload, err := json.Marshal(params)
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/bot%s/%s", t.baseURL, botToken, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("telegram: %s: building request", method)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := t.http.Do(req)
	if err != nil {
		// The URL carries the bot token; never surface it.
		return fmt.Errorf("telegram: %s: request failed", method)
	}
	defer res.Body.Close()

	var body apiResponse
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return fmt.Errorf("telegram: %s: decoding response (http %d): %w", method, res.StatusCode, err)
	}
	if res.StatusCode == http.StatusForbidden || body.ErrorCode == http.StatusForbidden {
		return fmt.Errorf("%w: %s", interfaces.ErrRecipientBlocked, body.Description)
	}
	if !body.OK {
		return &APIError{Method: method, Code: body.ErrorCode, Description: body.Description}
	}
	if result != nil {
		if err := json.Unmarshal(body.Result, result); err != nil {
			return fmt.Errorf("telegram: %s: decoding result: %w", method, err)
		}
	}
	return nil
}

var _ interfaces.Messenger = (*Telegram)(nil)
