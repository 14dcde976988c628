package models

import (
	"database/sql"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// UnlimitedDays is the plan duration from which access never expires.
const UnlimitedDays = 36000

// Bot is a managed sales bot owned by an operator account.
type Bot struct {
	ID        int64          `db:"id" json:"id"`
	OwnerID   int64          `db:"owner_id" json:"owner_id"`
	Token     string         `db:"token" json:"-"`
	Name      string         `db:"name" json:"name"`
	Username  string         `db:"username" json:"username"`
	GroupID   int64          `db:"group_id" json:"group_id"` // gated destination
	Followups pq.StringArray `db:"followups" json:"followups"`
	Active    bool           `db:"active" json:"active"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
}

// Plan is a priced access option sold by a bot.
type Plan struct {
	ID        int64           `db:"id" json:"id"`
	BotID     int64           `db:"bot_id" json:"bot_id"`
	Name      string          `db:"name" json:"name"`
	Price     decimal.Decimal `db:"price" json:"price"`
	Days      int             `db:"days" json:"days"`
	Active    bool            `db:"active" json:"active"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// Unlimited reports whether access bought with this plan never expires.
func (p Plan) Unlimited() bool {
	return p.Days >= UnlimitedDays
}

// AccessEnd returns the end of an access grant starting at start, or an
// invalid NullTime when the plan is unlimited.
func (p Plan) AccessEnd(start time.Time) sql.NullTime {
	if p.Unlimited() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: start.AddDate(0, 0, p.Days), Valid: true}
}
