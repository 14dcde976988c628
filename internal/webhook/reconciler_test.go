package webhook

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sheikh-saqib/subscription-payments-ledger/internal/correlation"
	"github.com/sheikh-saqib/subscription-payments-ledger/internal/fees"
	"github.com/sheikh-saqib/subscription-payments-ledger/internal/models"
	"github.com/sheikh-saqib/subscription-payments-ledger/internal/models/events"
	"github.com/sheikh-saqib/subscription-payments-ledger/internal/storage/memory"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	ownerID = int64(500)
	botID   = int64(10)
	buyerID = int64(77)
	secret  = "whsec_test"
)

var now = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []events.Notification
}

func (n *recordingNotifier) Enqueue(_ context.Context, notification events.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification)
}

func (n *recordingNotifier) all() []events.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]events.Notification(nil), n.sent...)
}

func engine() fees.Engine {
	return fees.New(
		fees.Rates{PlatformPct: decimal.RequireFromString("0.03"), ProfitPct: decimal.RequireFromString("0.05"), MinFixed: decimal.RequireFromString("0.77")},
		fees.Rates{PlatformPct: decimal.RequireFromString("0.02"), ProfitPct: decimal.RequireFromString("0.05"), MinFixed: decimal.RequireFromString("0.77")},
	)
}

type fixture struct {
	store      *memory.MemoryLedgerStore
	notifier   *recordingNotifier
	reconciler *Reconciler
	externalID string
}

func newFixture(t *testing.T, days int) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.NewMemoryLedgerStore()
	require.NoError(t, store.SaveBot(ctx, &models.Bot{ID: botID, OwnerID: ownerID, Token: "tok", GroupID: -100200, Active: true}))
	plan := &models.Plan{BotID: botID, Name: "Monthly", Price: decimal.NewFromInt(100), Days: days, Active: true}
	require.NoError(t, store.SavePlan(ctx, plan))
	require.NoError(t, store.TouchLead(ctx, &models.Lead{BotID: botID, UserID: buyerID, FirstName: "Ana"}))

	externalID := correlation.New(plan.ID, buyerID).String()
	require.NoError(t, store.SaveEntry(ctx, &models.LedgerEntry{
		AccountID:   ownerID,
		BotID:       sql.NullInt64{Int64: botID, Valid: true},
		ExternalID:  sql.NullString{String: externalID, Valid: true},
		Kind:        models.KindSale,
		Description: "(pending) Monthly - @ana",
	}))

	notifier := &recordingNotifier{}
	logger, _ := test.NewNullLogger()
	r := NewReconciler(store, engine(), NewVerifier(secret), notifier, logger).WithNow(func() time.Time { return now })
	return &fixture{store: store, notifier: notifier, reconciler: r, externalID: externalID}
}

func paymentBody(externalID string) []byte {
	return []byte(fmt.Sprintf(`{"type":"PIX_IN","status":"COMPLETE","externalId":%q,"amount":10000,"netAmount":9700}`, externalID))
}

func (f *fixture) deliver(t *testing.T, body []byte) Result {
	t.Helper()
	res, err := f.reconciler.Handle(context.Background(), Sign(secret, "1700000000", body), body)
	require.NoError(t, err)
	return res
}

func TestSettlementExample(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 30)

	res := f.deliver(t, paymentBody(f.externalID))
	assert.Equal(t, OutcomeSettled, res.Outcome)

	entries, err := f.store.GetEntriesByAccount(ctx, ownerID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.True(t, entries[0].Amount.Equal(decimal.NewFromInt(92)), entries[0].Amount.String())
	assert.Equal(t, "Monthly - @ana", entries[0].Description)
	assert.Equal(t, models.KindServiceFee, entries[1].Kind)
	assert.True(t, entries[1].Amount.Equal(decimal.NewFromInt(-5)))

	balance, err := f.store.GetBalance(ctx, ownerID)
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(87)), balance.String())

	active, err := f.store.HasActiveSubscription(ctx, botID, buyerID)
	require.NoError(t, err)
	assert.True(t, active)

	expired, err := f.store.GetExpiredSubscriptions(ctx, now.AddDate(0, 0, 31), 0)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, now.AddDate(0, 0, 30), expired[0].EndDate.Time)

	leads, err := f.store.GetLeadsForRemarketing(ctx, time.Now().Add(time.Hour), time.Now().Add(time.Hour), 0)
	require.NoError(t, err)
	assert.Empty(t, leads, "converted lead must leave the funnel")

	sent := f.notifier.all()
	require.Len(t, sent, 1)
	assert.Equal(t, events.NotifyAccessGranted, sent[0].Kind)
	assert.Equal(t, buyerID, sent[0].ChatID)
	assert.Equal(t, int64(-100200), sent[0].GroupID)
	assert.Equal(t, botID, sent[0].BotID)
}

func TestDuplicateDeliveryIsIgnored(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 30)

	assert.Equal(t, OutcomeSettled, f.deliver(t, paymentBody(f.externalID)).Outcome)
	again := f.deliver(t, paymentBody(f.externalID))
	assert.Equal(t, OutcomeAlreadyProcessed, again.Outcome)

	entries, err := f.store.GetEntriesByAccount(ctx, ownerID)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.Len(t, f.notifier.all(), 1)
}

func TestConcurrentDuplicateDelivery(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 30)
	body := paymentBody(f.externalID)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		settled int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.reconciler.Handle(ctx, Sign(secret, "1", body), body)
			assert.NoError(t, err)
			if res.Outcome == OutcomeSettled {
				mu.Lock()
				settled++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, settled)
	balance, err := f.store.GetBalance(ctx, ownerID)
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(87)))
}

func TestIgnoredEventsMutateNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 30)

	cases := map[string]struct {
		body []byte
		want Outcome
	}{
		"unknown external id":   {paymentBody(correlation.New(1, buyerID).String()), OutcomeIgnoredNotFound},
		"malformed external id": {paymentBody("legacy-reference"), OutcomeIgnoredMalformed},
		"payment out":           {[]byte(`{"type":"PIX_OUT","status":"COMPLETE"}`), OutcomeIgnoredUnsupported},
		"still pending":         {[]byte(fmt.Sprintf(`{"type":"paymentIn","status":"pending","externalId":%q}`, f.externalID)), OutcomeIgnoredUnsupported},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, f.deliver(t, tc.body).Outcome)
		})
	}

	balance, err := f.store.GetBalance(ctx, ownerID)
	require.NoError(t, err)
	assert.True(t, balance.IsZero())
	assert.Empty(t, f.notifier.all())
}

func TestLowercaseSpellingIsAccepted(t *testing.T) {
	f := newFixture(t, 30)
	body := []byte(fmt.Sprintf(`{"type":"paymentIn","status":"complete","externalId":%q,"amount":"10000","netAmount":9700}`, f.externalID))
	assert.Equal(t, OutcomeSettled, f.deliver(t, body).Outcome)
}

func TestUnlimitedPlanHasNoEnd(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, models.UnlimitedDays)
	assert.Equal(t, OutcomeSettled, f.deliver(t, paymentBody(f.externalID)).Outcome)

	active, err := f.store.HasActiveSubscription(ctx, botID, buyerID)
	require.NoError(t, err)
	assert.True(t, active)
	expired, err := f.store.GetExpiredSubscriptions(ctx, now.AddDate(200, 0, 0), 0)
	require.NoError(t, err)
	assert.Empty(t, expired)
}

func TestAuthenticityAndParseFailures(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 30)
	body := paymentBody(f.externalID)

	_, err := f.reconciler.Handle(ctx, "", body)
	assert.ErrorIs(t, err, ErrInvalidSignature)
	_, err = f.reconciler.Handle(ctx, Sign("wrong", "1", body), body)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	garbage := []byte("{not json")
	_, err = f.reconciler.Handle(ctx, Sign(secret, "1", garbage), garbage)
	assert.ErrorIs(t, err, ErrUnparseable)

	balance, err := f.store.GetBalance(ctx, ownerID)
	require.NoError(t, err)
	assert.True(t, balance.IsZero())
}
