package models

import (
	"database/sql"
	"time"
)

// Subscription is an access grant: a buyer's permission to stay in a bot's group.
type Subscription struct {
	ID           int64        `db:"id" json:"id"`
	BotID        int64        `db:"bot_id" json:"bot_id"`
	PlanID       int64        `db:"plan_id" json:"plan_id"`
	SubscriberID int64        `db:"subscriber_id" json:"subscriber_id"`
	StartDate    time.Time    `db:"start_date" json:"start_date"`
	EndDate      sql.NullTime `db:"end_date" json:"-"` // invalid for unlimited plans
	Active       bool         `db:"active" json:"active"`
}

// Lead tracks a buyer's interactions with a bot for re-engagement only.
type Lead struct {
	ID                int64        `db:"id" json:"id"`
	BotID             int64        `db:"bot_id" json:"bot_id"`
	UserID            int64        `db:"user_id" json:"user_id"`
	FirstName         string       `db:"first_name" json:"first_name"`
	Username          string       `db:"username" json:"username"`
	CreatedAt         time.Time    `db:"created_at" json:"created_at"`
	LastInteraction   time.Time    `db:"last_interaction" json:"last_interaction"`
	FollowupSent      bool         `db:"followup_sent" json:"followup_sent"`
	Converted         bool         `db:"is_converted" json:"is_converted"`
	LastRemarketingAt sql.NullTime `db:"last_remarketing_at" json:"-"`
}
