package memory

import (
	"context" // standard Go package for request-scoped context (timeouts, cancellation)
	"fmt"
	"slices"
	"sort"
	"sync" // standard Go package for concurrency primitives like Mutex
	"time"

	interfaces "github.com/sheikh-saqib/subscription-payments-ledger/internal/interfaces"
	"github.com/sheikh-saqib/subscription-payments-ledger/internal/models"
	"github.com/shopspring/decimal"
)

// MemoryLedgerStore is an in-memory implementation of interfaces.LedgerStore.
// Every call, and every InTx block as a whole, runs under one mutex, so
// transactions are fully serialised. A failed InTx restores the snapshot taken
// before it started.
type MemoryLedgerStore struct {
	mu  sync.Mutex // protects st and serialises transactions
	st  *state
	now func() time.Time
}

// state holds every table. It is cloned before each transaction for rollback.
type state struct {
	entries       []models.LedgerEntry
	withdrawals   map[int64]models.Withdrawal
	bots          map[int64]models.Bot
	plans         map[int64]models.Plan
	subscriptions []models.Subscription
	leads         []models.Lead

	nextEntryID        int64
	nextWithdrawalID   int64
	nextPlanID         int64
	nextSubscriptionID int64
	nextLeadID         int64
}

// NewMemoryLedgerStore creates and returns a new, empty MemoryLedgerStore.
func NewMemoryLedgerStore() *MemoryLedgerStore {
	return &MemoryLedgerStore{
		st: &state{
			entries:     make([]models.LedgerEntry, 0),
			withdrawals: make(map[int64]models.Withdrawal),
			bots:        make(map[int64]models.Bot),
			plans:       make(map[int64]models.Plan),
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

// WithNow injects a deterministic clock used for default timestamps.
func (m *MemoryLedgerStore) WithNow(now func() time.Time) *MemoryLedgerStore {
	m.now = now
	return m
}

func (s *state) clone() *state {
	c := *s
	c.entries = slices.Clone(s.entries)
	c.subscriptions = slices.Clone(s.subscriptions)
	c.leads = slices.Clone(s.leads)
	c.withdrawals = make(map[int64]models.Withdrawal, len(s.withdrawals))
	for k, v := range s.withdrawals {
		c.withdrawals[k] = v
	}
	c.bots = make(map[int64]models.Bot, len(s.bots))
	for k, v := range s.bots {
		c.bots[k] = v
	}
	c.plans = make(map[int64]models.Plan, len(s.plans))
	for k, v := range s.plans {
		c.plans[k] = v
	}
	return &c
}

// InTx runs fn while holding the store lock. Changes are discarded if fn fails.
func (m *MemoryLedgerStore) InTx(ctx context.Context, fn func(tx interfaces.LedgerTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	backup := m.st.clone()
	if err := fn(&memTx{st: m.st, now: m.now}); err != nil {
		m.st = backup
		return err
	}
	return nil
}

func (m *MemoryLedgerStore) do(fn func(tx *memTx) error) error {
	m.mu.Lock()         // lock the mutex to prevent concurrent writes
	defer m.mu.Unlock() // unlock automatically when function exits (even if error occurs)
	return fn(&memTx{st: m.st, now: m.now})
}

func (m *MemoryLedgerStore) SaveEntry(ctx context.Context, entry *models.LedgerEntry) error {
	return m.do(func(tx *memTx) error { return tx.SaveEntry(ctx, entry) })
}

func (m *MemoryLedgerStore) GetEntryByExternalIDForUpdate(ctx context.Context, externalID string) (e *models.LedgerEntry, err error) {
	err = m.do(func(tx *memTx) error {
		e, err = tx.GetEntryByExternalIDForUpdate(ctx, externalID)
		return err
	})
	return e, err
}

func (m *MemoryLedgerStore) SettleEntry(ctx context.Context, entryID int64, amount decimal.Decimal, description string) error {
	return m.do(func(tx *memTx) error { return tx.SettleEntry(ctx, entryID, amount, description) })
}

func (m *MemoryLedgerStore) MarkEntryFollowupSent(ctx context.Context, entryID int64) error {
	return m.do(func(tx *memTx) error { return tx.MarkEntryFollowupSent(ctx, entryID) })
}

func (m *MemoryLedgerStore) GetBalance(ctx context.Context, accountID int64) (b decimal.Decimal, err error) {
	err = m.do(func(tx *memTx) error {
		b, err = tx.GetBalance(ctx, accountID)
		return err
	})
	return b, err
}

func (m *MemoryLedgerStore) GetRecentEntries(ctx context.Context, accountID int64, limit int) (out []models.LedgerEntry, err error) {
	err = m.do(func(tx *memTx) error {
		out, err = tx.GetRecentEntries(ctx, accountID, limit)
		return err
	})
	return out, err
}

func (m *MemoryLedgerStore) GetEntriesByAccount(ctx context.Context, accountID int64) (out []models.LedgerEntry, err error) {
	err = m.do(func(tx *memTx) error {
		out, err = tx.GetEntriesByAccount(ctx, accountID)
		return err
	})
	return out, err
}

func (m *MemoryLedgerStore) GetAbandonedCharges(ctx context.Context, createdBefore time.Time, limit int) (out []models.LedgerEntry, err error) {
	err = m.do(func(tx *memTx) error {
		out, err = tx.GetAbandonedCharges(ctx, createdBefore, limit)
		return err
	})
	return out, err
}

func (m *MemoryLedgerStore) LockAccount(ctx context.Context, accountID int64) error {
	return nil
}

func (m *MemoryLedgerStore) CreateWithdrawal(ctx context.Context, w *models.Withdrawal) error {
	return m.do(func(tx *memTx) error { return tx.CreateWithdrawal(ctx, w) })
}

func (m *MemoryLedgerStore) GetWithdrawalForUpdate(ctx context.Context, id int64) (w *models.Withdrawal, err error) {
	err = m.do(func(tx *memTx) error {
		w, err = tx.GetWithdrawalForUpdate(ctx, id)
		return err
	})
	return w, err
}

func (m *MemoryLedgerStore) UpdateWithdrawal(ctx context.Context, w *models.Withdrawal) error {
	return m.do(func(tx *memTx) error { return tx.UpdateWithdrawal(ctx, w) })
}

func (m *MemoryLedgerStore) SaveBot(ctx context.Context, bot *models.Bot) error {
	return m.do(func(tx *memTx) error { return tx.SaveBot(ctx, bot) })
}

func (m *MemoryLedgerStore) GetBot(ctx context.Context, id int64) (b *models.Bot, err error) {
	err = m.do(func(tx *memTx) error {
		b, err = tx.GetBot(ctx, id)
		return err
	})
	return b, err
}

func (m *MemoryLedgerStore) SavePlan(ctx context.Context, plan *models.Plan) error {
	return m.do(func(tx *memTx) error { return tx.SavePlan(ctx, plan) })
}

func (m *MemoryLedgerStore) GetPlan(ctx context.Context, id int64) (p *models.Plan, err error) {
	err = m.do(func(tx *memTx) error {
		p, err = tx.GetPlan(ctx, id)
		return err
	})
	return p, err
}

func (m *MemoryLedgerStore) CreateSubscription(ctx context.Context, sub *models.Subscription) error {
	return m.do(func(tx *memTx) error { return tx.CreateSubscription(ctx, sub) })
}

func (m *MemoryLedgerStore) GetExpiredSubscriptions(ctx context.Context, now time.Time, limit int) (out []models.Subscription, err error) {
	err = m.do(func(tx *memTx) error {
		out, err = tx.GetExpiredSubscriptions(ctx, now, limit)
		return err
	})
	return out, err
}

func (m *MemoryLedgerStore) DeactivateSubscription(ctx context.Context, id int64) (ok bool, err error) {
	err = m.do(func(tx *memTx) error {
		ok, err = tx.DeactivateSubscription(ctx, id)
		return err
	})
	return ok, err
}

func (m *MemoryLedgerStore) HasActiveSubscription(ctx context.Context, botID, subscriberID int64) (ok bool, err error) {
	err = m.do(func(tx *memTx) error {
		ok, err = tx.HasActiveSubscription(ctx, botID, subscriberID)
		return err
	})
	return ok, err
}

func (m *MemoryLedgerStore) TouchLead(ctx context.Context, lead *models.Lead) error {
	return m.do(func(tx *memTx) error { return tx.TouchLead(ctx, lead) })
}

func (m *MemoryLedgerStore) MarkLeadConverted(ctx context.Context, botID, userID int64) error {
	return m.do(func(tx *memTx) error { return tx.MarkLeadConverted(ctx, botID, userID) })
}

func (m *MemoryLedgerStore) GetLeadsForRemarketing(ctx context.Context, interactedBefore, remarketedBefore time.Time, limit int) (out []models.Lead, err error) {
	err = m.do(func(tx *memTx) error {
		out, err = tx.GetLeadsForRemarketing(ctx, interactedBefore, remarketedBefore, limit)
		return err
	})
	return out, err
}

func (m *MemoryLedgerStore) MarkLeadRemarketed(ctx context.Context, id int64, at time.Time) error {
	return m.do(func(tx *memTx) error { return tx.MarkLeadRemarketed(ctx, id, at) })
}

// memTx operates on the state directly; callers hold the store lock.
type memTx struct {
	st  *state
	now func() time.Time
}

func (t *memTx) SaveEntry(_ context.Context, entry *models.LedgerEntry) error {
	if entry.ExternalID.Valid {
		for _, e := range t.st.entries {
			if e.ExternalID.Valid && e.ExternalID.String == entry.ExternalID.String {
				return fmt.Errorf("%w: external id %s already recorded", interfaces.ErrConflict, entry.ExternalID.String)
			}
		}
	}
	t.st.nextEntryID++
	entry.ID = t.st.nextEntryID
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = t.now()
	}
	entry.Amount = entry.Amount.Round(2)
	t.st.entries = append(t.st.entries, *entry) // append the new entry to the slice
	return nil
}

func (t *memTx) GetEntryByExternalIDForUpdate(_ context.Context, externalID string) (*models.LedgerEntry, error) {
	for _, e := range t.st.entries {
		if e.ExternalID.Valid && e.ExternalID.String == externalID {
			found := e
			return &found, nil
		}
	}
	return nil, interfaces.ErrNotFound
}

func (t *memTx) entryIndex(id int64) int {
	return slices.IndexFunc(t.st.entries, func(e models.LedgerEntry) bool { return e.ID == id })
}

func (t *memTx) SettleEntry(_ context.Context, entryID int64, amount decimal.Decimal, description string) error {
	i := t.entryIndex(entryID)
	if i < 0 {
		return interfaces.ErrNotFound
	}
	if !t.st.entries[i].Amount.IsZero() {
		return fmt.Errorf("%w: entry %d already settled", interfaces.ErrConflict, entryID)
	}
	t.st.entries[i].Amount = amount.Round(2)
	t.st.entries[i].Description = description
	return nil
}

func (t *memTx) MarkEntryFollowupSent(_ context.Context, entryID int64) error {
	i := t.entryIndex(entryID)
	if i < 0 {
		return interfaces.ErrNotFound
	}
	t.st.entries[i].FollowupSent = true
	return nil
}

func (t *memTx) GetBalance(_ context.Context, accountID int64) (decimal.Decimal, error) {
	balance := decimal.Zero
	for _, e := range t.st.entries {
		if e.AccountID == accountID {
			balance = balance.Add(e.Amount)
		}
	}
	return balance.Round(2), nil
}

func (t *memTx) GetRecentEntries(_ context.Context, accountID int64, limit int) ([]models.LedgerEntry, error) {
	var result []models.LedgerEntry
	for _, e := range t.st.entries {
		if e.AccountID == accountID && !e.Amount.IsZero() {
			result = append(result, e)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return truncate(result, limit), nil
}

func (t *memTx) GetEntriesByAccount(_ context.Context, accountID int64) ([]models.LedgerEntry, error) {
	var result []models.LedgerEntry
	for _, e := range t.st.entries {
		if e.AccountID == accountID {
			result = append(result, e)
		}
	}
	return result, nil
}

func (t *memTx) GetAbandonedCharges(_ context.Context, createdBefore time.Time, limit int) ([]models.LedgerEntry, error) {
	var result []models.LedgerEntry
	for _, e := range t.st.entries {
		if e.IsPending() && !e.FollowupSent && e.CreatedAt.Before(createdBefore) {
			result = append(result, e)
		}
	}
	return truncate(result, limit), nil
}

func (t *memTx) LockAccount(context.Context, int64) error {
	return nil
}

func (t *memTx) CreateWithdrawal(_ context.Context, w *models.Withdrawal) error {
	t.st.nextWithdrawalID++
	w.ID = t.st.nextWithdrawalID
	if w.CreatedAt.IsZero() {
		w.CreatedAt = t.now()
	}
	t.st.withdrawals[w.ID] = *w
	return nil
}

func (t *memTx) GetWithdrawalForUpdate(_ context.Context, id int64) (*models.Withdrawal, error) {
	w, ok := t.st.withdrawals[id]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	return &w, nil
}

func (t *memTx) UpdateWithdrawal(_ context.Context, w *models.Withdrawal) error {
	if _, ok := t.st.withdrawals[w.ID]; !ok {
		return interfaces.ErrNotFound
	}
	t.st.withdrawals[w.ID] = *w
	return nil
}

func (t *memTx) SaveBot(_ context.Context, bot *models.Bot) error {
	if bot.CreatedAt.IsZero() {
		bot.CreatedAt = t.now()
	}
	stored := *bot
	stored.Followups = slices.Clone(bot.Followups)
	t.st.bots[bot.ID] = stored
	return nil
}

func (t *memTx) GetBot(_ context.Context, id int64) (*models.Bot, error) {
	b, ok := t.st.bots[id]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	b.Followups = slices.Clone(b.Followups)
	return &b, nil
}

func (t *memTx) SavePlan(_ context.Context, plan *models.Plan) error {
	if plan.ID == 0 {
		t.st.nextPlanID++
		plan.ID = t.st.nextPlanID
	} else if plan.ID > t.st.nextPlanID {
		t.st.nextPlanID = plan.ID
	}
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = t.now()
	}
	t.st.plans[plan.ID] = *plan
	return nil
}

func (t *memTx) GetPlan(_ context.Context, id int64) (*models.Plan, error) {
	p, ok := t.st.plans[id]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	return &p, nil
}

func (t *memTx) CreateSubscription(_ context.Context, sub *models.Subscription) error {
	t.st.nextSubscriptionID++
	sub.ID = t.st.nextSubscriptionID
	if sub.StartDate.IsZero() {
		sub.StartDate = t.now()
	}
	t.st.subscriptions = append(t.st.subscriptions, *sub)
	return nil
}

func (t *memTx) GetExpiredSubscriptions(_ context.Context, now time.Time, limit int) ([]models.Subscription, error) {
	var result []models.Subscription
	for _, s := range t.st.subscriptions {
		if s.Active && s.EndDate.Valid && s.EndDate.Time.Before(now) {
			result = append(result, s)
		}
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].EndDate.Time.Before(result[j].EndDate.Time) })
	return truncate(result, limit), nil
}

func (t *memTx) DeactivateSubscription(_ context.Context, id int64) (bool, error) {
	for i := range t.st.subscriptions {
		if t.st.subscriptions[i].ID == id {
			if !t.st.subscriptions[i].Active {
				return false, nil
			}
			t.st.subscriptions[i].Active = false
			return true, nil
		}
	}
	return false, interfaces.ErrNotFound
}

func (t *memTx) HasActiveSubscription(_ context.Context, botID, subscriberID int64) (bool, error) {
	for _, s := range t.st.subscriptions {
		if s.Active && s.BotID == botID && s.SubscriberID == subscriberID {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) TouchLead(_ context.Context, lead *models.Lead) error {
	now := t.now()
	for i := range t.st.leads {
		existing := &t.st.leads[i]
		if existing.BotID == lead.BotID && existing.UserID == lead.UserID {
			// converted leads keep their last interaction so they never re-enter the funnel
			if !existing.Converted {
				existing.LastInteraction = now
			}
			if lead.Username != "" {
				existing.Username = lead.Username
			}
			*lead = *existing
			return nil
		}
	}
	t.st.nextLeadID++
	lead.ID = t.st.nextLeadID
	lead.CreatedAt = now
	lead.LastInteraction = now
	t.st.leads = append(t.st.leads, *lead)
	return nil
}

func (t *memTx) MarkLeadConverted(_ context.Context, botID, userID int64) error {
	for i := range t.st.leads {
		if t.st.leads[i].BotID == botID && t.st.leads[i].UserID == userID {
			t.st.leads[i].Converted = true
		}
	}
	return nil
}

func (t *memTx) GetLeadsForRemarketing(_ context.Context, interactedBefore, remarketedBefore time.Time, limit int) ([]models.Lead, error) {
	var result []models.Lead
	for _, l := range t.st.leads {
		if l.Converted || !l.LastInteraction.Before(interactedBefore) {
			continue
		}
		if l.LastRemarketingAt.Valid && !l.LastRemarketingAt.Time.Before(remarketedBefore) {
			continue
		}
		result = append(result, l)
	}
	return truncate(result, limit), nil
}

func (t *memTx) MarkLeadRemarketed(_ context.Context, id int64, at time.Time) error {
	for i := range t.st.leads {
		if t.st.leads[i].ID == id {
			t.st.leads[i].FollowupSent = true
			t.st.leads[i].LastRemarketingAt.Time = at
			t.st.leads[i].LastRemarketingAt.Valid = true
			return nil
		}
	}
	return interfaces.ErrNotFound
}

func truncate[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}

// Compile-time check: ensure MemoryLedgerStore implements LedgerStore interface
var _ interfaces.LedgerStore = (*MemoryLedgerStore)(nil)
