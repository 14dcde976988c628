package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/sheikh-saqib/subscription-payments-ledger/internal/correlation"
	"github.com/sheikh-saqib/subscription-payments-ledger/internal/interfaces"
	"github.com/sheikh-saqib/subscription-payments-ledger/internal/lock"
	"github.com/sheikh-saqib/subscription-payments-ledger/internal/models"
	"github.com/sheikh-saqib/subscription-payments-ledger/internal/storage/memory"
	"github.com/sheikh-saqib/subscription-payments-ledger/internal/testutils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	owner   = int64(500)
	buyer   = int64(77)
	groupID = int64(-100200)
)

var t0 = time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

type harness struct {
	store     *memory.MemoryLedgerStore
	messenger *testutils.FakeMessenger
	clock     time.Time
	sched     *Scheduler
}

func newHarness(t *testing.T, followups ...string) *harness {
	t.Helper()
	h := &harness{messenger: testutils.NewFakeMessenger(), clock: t0}
	h.store = memory.NewMemoryLedgerStore().WithNow(func() time.Time { return h.clock })
	require.NoError(t, h.store.SaveBot(context.Background(), &models.Bot{
		ID: 10, OwnerID: owner, Token: "bot-10", GroupID: groupID, Followups: followups, Active: true,
	}))
	logger, _ := test.NewNullLogger()
	h.sched = New(h.store, h.messenger, nil, time.Minute, logger).WithNow(func() time.Time { return h.clock })
	h.sched.pick = func(int) int { return 0 }
	return h
}

func (h *harness) grant(t *testing.T, end time.Time) *models.Subscription {
	t.Helper()
	sub := &models.Subscription{BotID: 10, PlanID: 1, SubscriberID: buyer, StartDate: end.AddDate(0, 0, -30), EndDate: sql.NullTime{Time: end, Valid: true}, Active: true}
	require.NoError(t, h.store.CreateSubscription(context.Background(), sub))
	return sub
}

func (h *harness) pendingCharge(t *testing.T, createdAt time.Time) *models.LedgerEntry {
	t.Helper()
	e := &models.LedgerEntry{
		AccountID:   owner,
		BotID:       sql.NullInt64{Int64: 10, Valid: true},
		ExternalID:  sql.NullString{String: correlation.New(1, buyer).String(), Valid: true},
		Kind:        models.KindSale,
		Description: "(pending) Monthly - @ana",
		CreatedAt:   createdAt,
	}
	require.NoError(t, h.store.SaveEntry(context.Background(), e))
	return e
}

func TestExpiredAccessIsRevokedOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.grant(t, t0.Add(-time.Minute))
	h.grant(t, t0.Add(time.Hour))

	h.sched.RunOnce(ctx)
	require.Len(t, h.messenger.Removed, 1)
	assert.Equal(t, testutils.Removal{BotToken: "bot-10", GroupID: groupID, UserID: buyer}, h.messenger.Removed[0])
	require.Len(t, h.messenger.Messages(), 1)
	assert.Equal(t, expiredText, h.messenger.Messages()[0].Text)

	h.sched.RunOnce(ctx)
	assert.Len(t, h.messenger.Removed, 1, "an inactive grant is never revisited")

	active, err := h.store.HasActiveSubscription(ctx, 10, buyer)
	require.NoError(t, err)
	assert.True(t, active, "the unexpired grant stays")
}

func TestExpiryDeactivatesEvenWhenRemovalFails(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.messenger.RemoveErr = errors.New("not enough rights")
	h.grant(t, t0.Add(-time.Minute))

	h.sched.RunOnce(ctx)
	expired, err := h.store.GetExpiredSubscriptions(ctx, t0, 0)
	require.NoError(t, err)
	assert.Empty(t, expired)
	assert.Empty(t, h.messenger.Messages())
}

func TestAbandonedChargeReminder(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "Come back! 20% off today.")
	old := h.pendingCharge(t, t0.Add(-31*time.Minute))
	h.pendingCharge(t, t0.Add(-10*time.Minute))

	h.sched.RunOnce(ctx)
	sent := h.messenger.Messages()
	require.Len(t, sent, 1)
	assert.Equal(t, buyer, sent[0].ChatID, "the buyer is reminded, not the operator")
	assert.Equal(t, "Come back! 20% off today.", sent[0].Text)

	h.sched.RunOnce(ctx)
	assert.Len(t, h.messenger.Messages(), 1)

	entries, err := h.store.GetEntriesByAccount(ctx, owner)
	require.NoError(t, err)
	for _, e := range entries {
		if e.ID == old.ID {
			assert.True(t, e.FollowupSent)
			assert.True(t, e.Amount.IsZero(), "a reminder never touches the amount")
		}
	}
}

func TestAbandonedReminderRetriesTransientFailures(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.pendingCharge(t, t0.Add(-time.Hour))
	h.messenger.FailSends = 1

	h.sched.RunOnce(ctx)
	assert.Empty(t, h.messenger.Messages())
	h.sched.RunOnce(ctx)
	require.Len(t, h.messenger.Messages(), 1)
	assert.Equal(t, abandonedText, h.messenger.Messages()[0].Text)
}

func TestAbandonedReminderBlockedBuyerIsMarked(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.messenger.SendErr[buyer] = interfaces.ErrRecipientBlocked
	h.pendingCharge(t, t0.Add(-time.Hour))

	h.sched.RunOnce(ctx)
	pending, err := h.store.GetAbandonedCharges(ctx, t0, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestSettledChargesAreNotReminded(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	e := h.pendingCharge(t, t0.Add(-time.Hour))
	require.NoError(t, h.store.SettleEntry(ctx, e.ID, decimal.NewFromInt(92), "Monthly - @ana"))

	h.sched.RunOnce(ctx)
	assert.Empty(t, h.messenger.Messages())
}

func TestRemarketingCadence(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "  ", "We saved your spot!")
	require.NoError(t, h.store.TouchLead(ctx, &models.Lead{BotID: 10, UserID: buyer, FirstName: "Ana"}))

	h.sched.RunOnce(ctx)
	assert.Empty(t, h.messenger.Messages(), "too soon after the last interaction")

	h.clock = t0.Add(3 * time.Hour)
	h.sched.RunOnce(ctx)
	require.Len(t, h.messenger.Messages(), 1)
	assert.Equal(t, "We saved your spot!", h.messenger.Messages()[0].Text)

	h.clock = t0.Add(10 * time.Hour)
	h.sched.RunOnce(ctx)
	assert.Len(t, h.messenger.Messages(), 1, "at most once a day")

	h.clock = t0.Add(28 * time.Hour)
	h.sched.RunOnce(ctx)
	assert.Len(t, h.messenger.Messages(), 2)
}

func TestRemarketingSkipsSubscribersAndConverted(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.store.TouchLead(ctx, &models.Lead{BotID: 10, UserID: buyer}))
	require.NoError(t, h.store.TouchLead(ctx, &models.Lead{BotID: 10, UserID: 88}))
	require.NoError(t, h.store.MarkLeadConverted(ctx, 10, 88))
	h.grant(t, t0.Add(90*24*time.Hour))

	h.clock = t0.Add(3 * time.Hour)
	h.sched.RunOnce(ctx)
	assert.Empty(t, h.messenger.Messages())
}

type panickingStore struct {
	*memory.MemoryLedgerStore
}

func (panickingStore) GetExpiredSubscriptions(context.Context, time.Time, int) ([]models.Subscription, error) {
	panic("boom")
}

func TestSweepsAreFaultIsolated(t *testing.T) {
	h := newHarness(t)
	h.pendingCharge(t, t0.Add(-time.Hour))
	logger, hook := test.NewNullLogger()
	sched := New(panickingStore{h.store}, h.messenger, nil, time.Minute, logger).WithNow(func() time.Time { return t0 })

	assert.NotPanics(t, func() { sched.RunOnce(context.Background()) })
	assert.Len(t, h.messenger.Messages(), 1, "the abandoned-charge sweep still ran")
	assert.NotEmpty(t, hook.Entries)
}

type busyLocker struct{}

func (busyLocker) TryAcquire(context.Context, string, time.Duration) (lock.Release, bool, error) {
	return nil, false, nil
}

func TestRoundSkippedWhileAnotherReplicaSweeps(t *testing.T) {
	h := newHarness(t)
	h.pendingCharge(t, t0.Add(-time.Hour))
	logger, _ := test.NewNullLogger()
	sched := New(h.store, h.messenger, busyLocker{}, time.Minute, logger).WithNow(func() time.Time { return t0 })

	sched.RunOnce(context.Background())
	assert.Empty(t, h.messenger.Messages())
}

func TestRunStopsOnCancel(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.sched.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
