package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	interfaces "github.com/sheikh-saqib/subscription-payments-ledger/internal/interfaces" // interface LedgerStore
	"github.com/sheikh-saqib/subscription-payments-ledger/internal/models"
	"github.com/shopspring/decimal"
)

const uniqueViolation = "23505"

const (
	entryColumns      = `id, account_id, bot_id, external_id, kind, amount, description, created_at, followup_sent`
	withdrawalColumns = `id, account_id, amount_requested, fee_total, amount_final, pix_key, pix_type, status, payout_id, created_at, processed_at`
	botColumns        = `id, owner_id, token, name, username, group_id, followups, active, created_at`
	planColumns       = `id, bot_id, name, price, days, active, created_at`
	subColumns        = `id, bot_id, plan_id, subscriber_id, start_date, end_date, active`
	leadColumns       = `id, bot_id, user_id, first_name, username, created_at, last_interaction, followup_sent, is_converted, last_remarketing_at`
)

// PostgresLedgerStore implements interfaces.LedgerStore on PostgreSQL.
// Calls made outside InTx run in their own implicit transaction.
type PostgresLedgerStore struct {
	queries
	db *sqlx.DB
}

func NewPostgresLedgerStore(db *sqlx.DB) *PostgresLedgerStore {
	return &PostgresLedgerStore{
		queries: queries{ext: db},
		db:      db,
	}
}

// InTx runs fn inside one database transaction and commits only if fn succeeds.
func (p *PostgresLedgerStore) InTx(ctx context.Context, fn func(tx interfaces.LedgerTx) error) (err error) {
	dbTx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}

	defer func() {
		if r := recover(); r != nil {
			_ = dbTx.Rollback()
			panic(r)
		}
		if err != nil {
			_ = dbTx.Rollback()
		}
	}()

	if err = fn(queries{ext: dbTx}); err != nil {
		return err
	}
	if err = dbTx.Commit(); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

// queries holds every statement; ext is either the pool or an open transaction.
type queries struct {
	ext sqlx.ExtContext
}

// mapErr translates driver errors into the store sentinels.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return interfaces.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", interfaces.ErrConflict, pqErr.Constraint)
	}
	return err
}

func (q queries) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := q.ext.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, mapErr(err)
	}
	return res.RowsAffected()
}

func (q queries) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var ok bool
	if err := sqlx.GetContext(ctx, q.ext, &ok, query, args...); err != nil {
		return false, mapErr(err)
	}
	return ok, nil
}

func (q queries) SaveEntry(ctx context.Context, entry *models.LedgerEntry) error {
	const query = `INSERT INTO ledger_entries (account_id, bot_id, external_id, kind, amount, description, created_at, followup_sent)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	entry.Amount = entry.Amount.Round(2)

	err := q.ext.QueryRowxContext(ctx, query,
		entry.AccountID, entry.BotID, entry.ExternalID, entry.Kind,
		entry.Amount, entry.Description, entry.CreatedAt, entry.FollowupSent,
	).Scan(&entry.ID)
	return mapErr(err)
}

func (q queries) GetEntryByExternalIDForUpdate(ctx context.Context, externalID string) (*models.LedgerEntry, error) {
	const query = `SELECT ` + entryColumns + ` FROM ledger_entries WHERE external_id = $1 FOR UPDATE`

	var entry models.LedgerEntry
	if err := sqlx.GetContext(ctx, q.ext, &entry, query, externalID); err != nil {
		return nil, mapErr(err)
	}
	return &entry, nil
}

// SettleEntry fills in a placeholder. The amount = 0 guard makes a second
// settlement of the same row a conflict even without a prior lock.
func (q queries) SettleEntry(ctx context.Context, entryID int64, amount decimal.Decimal, description string) error {
	const query = `UPDATE ledger_entries SET amount = $2, description = $3 WHERE id = $1 AND amount = 0`

	n, err := q.exec(ctx, query, entryID, amount.Round(2), description)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	found, err := q.exists(ctx, `SELECT EXISTS (SELECT 1 FROM ledger_entries WHERE id = $1)`, entryID)
	if err != nil {
		return err
	}
	if !found {
		return interfaces.ErrNotFound
	}
	return fmt.Errorf("%w: entry %d already settled", interfaces.ErrConflict, entryID)
}

func (q queries) MarkEntryFollowupSent(ctx context.Context, entryID int64) error {
	n, err := q.exec(ctx, `UPDATE ledger_entries SET followup_sent = TRUE WHERE id = $1`, entryID)
	if err != nil {
		return err
	}
	if n == 0 {
		return interfaces.ErrNotFound
	}
	return nil
}

func (q queries) GetBalance(ctx context.Context, accountID int64) (decimal.Decimal, error) {
	const query = `SELECT COALESCE(SUM(amount), 0) FROM ledger_entries WHERE account_id = $1`

	var balance decimal.Decimal
	if err := sqlx.GetContext(ctx, q.ext, &balance, query, accountID); err != nil {
		return decimal.Zero, mapErr(err)
	}
	return balance.Round(2), nil
}

func (q queries) GetRecentEntries(ctx context.Context, accountID int64, limit int) ([]models.LedgerEntry, error) {
	const query = `SELECT ` + entryColumns + ` FROM ledger_entries
	WHERE account_id = $1 AND amount <> 0
	ORDER BY created_at DESC, id DESC LIMIT $2`

	var entries []models.LedgerEntry
	if err := sqlx.SelectContext(ctx, q.ext, &entries, query, accountID, limit); err != nil {
		return nil, mapErr(err)
	}
	return entries, nil
}

func (q queries) GetEntriesByAccount(ctx context.Context, accountID int64) ([]models.LedgerEntry, error) {
	const query = `SELECT ` + entryColumns + ` FROM ledger_entries
	WHERE account_id = $1 ORDER BY id`

	var entries []models.LedgerEntry
	if err := sqlx.SelectContext(ctx, q.ext, &entries, query, accountID); err != nil {
		return nil, mapErr(err)
	}
	return entries, nil
}

func (q queries) GetAbandonedCharges(ctx context.Context, createdBefore time.Time, limit int) ([]models.LedgerEntry, error) {
	const query = `SELECT ` + entryColumns + ` FROM ledger_entries
	WHERE kind = 'sale' AND amount = 0 AND external_id IS NOT NULL
	  AND NOT followup_sent AND created_at < $1
	ORDER BY created_at LIMIT $2`

	var entries []models.LedgerEntry
	if err := sqlx.SelectContext(ctx, q.ext, &entries, query, createdBefore, limit); err != nil {
		return nil, mapErr(err)
	}
	return entries, nil
}

// LockAccount takes a transaction-scoped advisory lock keyed by the account id.
func (q queries) LockAccount(ctx context.Context, accountID int64) error {
	_, err := q.exec(ctx, `SELECT pg_advisory_xact_lock($1)`, accountID)
	return err
}

func (q queries) CreateWithdrawal(ctx context.Context, w *models.Withdrawal) error {
	const query = `INSERT INTO withdrawals (account_id, amount_requested, fee_total, amount_final, pix_key, pix_type, status, payout_id, created_at, processed_at)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) RETURNING id`

	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now().UTC()
	}
	err := q.ext.QueryRowxContext(ctx, query,
		w.AccountID, w.AmountRequested, w.FeeTotal, w.AmountFinal, w.PixKey, w.PixType,
		w.Status, w.PayoutID, w.CreatedAt, w.ProcessedAt,
	).Scan(&w.ID)
	return mapErr(err)
}

func (q queries) GetWithdrawalForUpdate(ctx context.Context, id int64) (*models.Withdrawal, error) {
	const query = `SELECT ` + withdrawalColumns + ` FROM withdrawals WHERE id = $1 FOR UPDATE`

	var w models.Withdrawal
	if err := sqlx.GetContext(ctx, q.ext, &w, query, id); err != nil {
		return nil, mapErr(err)
	}
	return &w, nil
}

func (q queries) UpdateWithdrawal(ctx context.Context, w *models.Withdrawal) error {
	const query = `UPDATE withdrawals SET status = $2, payout_id = $3, processed_at = $4 WHERE id = $1`

	n, err := q.exec(ctx, query, w.ID, w.Status, w.PayoutID, w.ProcessedAt)
	if err != nil {
		return err
	}
	if n == 0 {
		return interfaces.ErrNotFound
	}
	return nil
}

// SaveBot upserts by id; bots are keyed by the messaging platform's id.
func (q queries) SaveBot(ctx context.Context, bot *models.Bot) error {
	const query = `INSERT INTO bots (` + botColumns + `)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	ON CONFLICT (id) DO UPDATE SET
		owner_id = EXCLUDED.owner_id, token = EXCLUDED.token, name = EXCLUDED.name,
		username = EXCLUDED.username, group_id = EXCLUDED.group_id,
		followups = EXCLUDED.followups, active = EXCLUDED.active`

	if bot.CreatedAt.IsZero() {
		bot.CreatedAt = time.Now().UTC()
	}
	_, err := q.exec(ctx, query,
		bot.ID, bot.OwnerID, bot.Token, bot.Name, bot.Username, bot.GroupID,
		bot.Followups, bot.Active, bot.CreatedAt,
	)
	return err
}

func (q queries) GetBot(ctx context.Context, id int64) (*models.Bot, error) {
	var bot models.Bot
	if err := sqlx.GetContext(ctx, q.ext, &bot, `SELECT `+botColumns+` FROM bots WHERE id = $1`, id); err != nil {
		return nil, mapErr(err)
	}
	return &bot, nil
}

func (q queries) SavePlan(ctx context.Context, plan *models.Plan) error {
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = time.Now().UTC()
	}
	if plan.ID == 0 {
		const insert = `INSERT INTO plans (bot_id, name, price, days, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`
		err := q.ext.QueryRowxContext(ctx, insert,
			plan.BotID, plan.Name, plan.Price, plan.Days, plan.Active, plan.CreatedAt,
		).Scan(&plan.ID)
		return mapErr(err)
	}

	const upsert = `INSERT INTO plans (` + planColumns + `)
	VALUES ($1,$2,$3,$4,$5,$6,$7)
	ON CONFLICT (id) DO UPDATE SET
		bot_id = EXCLUDED.bot_id, name = EXCLUDED.name, price = EXCLUDED.price,
		days = EXCLUDED.days, active = EXCLUDED.active`
	_, err := q.exec(ctx, upsert,
		plan.ID, plan.BotID, plan.Name, plan.Price, plan.Days, plan.Active, plan.CreatedAt,
	)
	return err
}

func (q queries) GetPlan(ctx context.Context, id int64) (*models.Plan, error) {
	var plan models.Plan
	if err := sqlx.GetContext(ctx, q.ext, &plan, `SELECT `+planColumns+` FROM plans WHERE id = $1`, id); err != nil {
		return nil, mapErr(err)
	}
	return &plan, nil
}

func (q queries) CreateSubscription(ctx context.Context, sub *models.Subscription) error {
	const query = `INSERT INTO subscriptions (bot_id, plan_id, subscriber_id, start_date, end_date, active)
	VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`

	if sub.StartDate.IsZero() {
		sub.StartDate = time.Now().UTC()
	}
	err := q.ext.QueryRowxContext(ctx, query,
		sub.BotID, sub.PlanID, sub.SubscriberID, sub.StartDate, sub.EndDate, sub.Active,
	).Scan(&sub.ID)
	return mapErr(err)
}

func (q queries) GetExpiredSubscriptions(ctx context.Context, now time.Time, limit int) ([]models.Subscription, error) {
	const query = `SELECT ` + subColumns + ` FROM subscriptions
	WHERE active AND end_date IS NOT NULL AND end_date < $1
	ORDER BY end_date LIMIT $2`

	var subs []models.Subscription
	if err := sqlx.SelectContext(ctx, q.ext, &subs, query, now, limit); err != nil {
		return nil, mapErr(err)
	}
	return subs, nil
}

// DeactivateSubscription reports false when the grant was already inactive.
func (q queries) DeactivateSubscription(ctx context.Context, id int64) (bool, error) {
	n, err := q.exec(ctx, `UPDATE subscriptions SET active = FALSE WHERE id = $1 AND active`, id)
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	found, err := q.exists(ctx, `SELECT EXISTS (SELECT 1 FROM subscriptions WHERE id = $1)`, id)
	if err != nil {
		return false, err
	}
	if !found {
		return false, interfaces.ErrNotFound
	}
	return false, nil
}

func (q queries) HasActiveSubscription(ctx context.Context, botID, subscriberID int64) (bool, error) {
	const query = `SELECT EXISTS (
		SELECT 1 FROM subscriptions WHERE bot_id = $1 AND subscriber_id = $2 AND active
	)`
	return q.exists(ctx, query, botID, subscriberID)
}

// TouchLead upserts the lead. A converted lead keeps its last interaction so
// it never re-enters remarketing.
func (q queries) TouchLead(ctx context.Context, lead *models.Lead) error {
	const query = `INSERT INTO leads (bot_id, user_id, first_name, username, created_at, last_interaction)
	VALUES ($1, $2, $3, $4, NOW(), NOW())
	ON CONFLICT (bot_id, user_id) DO UPDATE SET
		last_interaction = CASE WHEN leads.is_converted THEN leads.last_interaction ELSE EXCLUDED.last_interaction END,
		username = COALESCE(NULLIF(EXCLUDED.username, ''), leads.username)
	RETURNING ` + leadColumns

	err := q.ext.QueryRowxContext(ctx, query, lead.BotID, lead.UserID, lead.FirstName, lead.Username).StructScan(lead)
	return mapErr(err)
}

func (q queries) MarkLeadConverted(ctx context.Context, botID, userID int64) error {
	_, err := q.exec(ctx, `UPDATE leads SET is_converted = TRUE WHERE bot_id = $1 AND user_id = $2`, botID, userID)
	return err
}

func (q queries) GetLeadsForRemarketing(ctx context.Context, interactedBefore, remarketedBefore time.Time, limit int) ([]models.Lead, error) {
	const query = `SELECT ` + leadColumns + ` FROM leads
	WHERE NOT is_converted AND last_interaction < $1
	  AND (last_remarketing_at IS NULL OR last_remarketing_at < $2)
	ORDER BY last_interaction LIMIT $3`

	var leads []models.Lead
	if err := sqlx.SelectContext(ctx, q.ext, &leads, query, interactedBefore, remarketedBefore, limit); err != nil {
		return nil, mapErr(err)
	}
	return leads, nil
}

func (q queries) MarkLeadRemarketed(ctx context.Context, id int64, at time.Time) error {
	const query = `UPDATE leads SET followup_sent = TRUE, last_remarketing_at = $2 WHERE id = $1`

	n, err := q.exec(ctx, query, id, at)
	if err != nil {
		return err
	}
	if n == 0 {
		return interfaces.ErrNotFound
	}
	return nil
}

var _ interfaces.LedgerStore = (*PostgresLedgerStore)(nil)
var _ interfaces.LedgerTx = queries{}
