package events

import (
	"strconv"
	"time"
)

// TopicNotifications is the outbox topic carrying outbound user messages.
const TopicNotifications = "ledger.notifications"

// NotificationKind selects how a notification is delivered.
type NotificationKind string

const (
	NotifyAccessGranted       NotificationKind = "access_granted"
	NotifyWithdrawalRequested NotificationKind = "withdrawal_requested"
	NotifyWithdrawalPaid      NotificationKind = "withdrawal_paid"
	NotifyWithdrawalRejected  NotificationKind = "withdrawal_rejected"
	NotifyWithdrawalFailed    NotificationKind = "withdrawal_failed"
	NotifyAccessExpired       NotificationKind = "access_expired"
)

// Notification is a message queued after a financial commit. BotID zero means
// the platform's own bot sends it. For NotifyAccessGranted, GroupID is the
// destination a single-use invite link is created for.
type Notification struct {
	ID         string           `json:"id"`
	Kind       NotificationKind `json:"kind"`
	BotID      int64            `json:"bot_id"`
	ChatID     int64            `json:"chat_id"`
	GroupID    int64            `json:"group_id,omitempty"`
	Text       string           `json:"text"`
	Reference  string           `json:"reference,omitempty"`
	OccurredAt time.Time        `json:"occurred_at"`
}

// PartitionKey keeps one chat's notifications in order on partitioned transports.
func (n Notification) PartitionKey() string {
	return strconv.FormatInt(n.ChatID, 10)
}
