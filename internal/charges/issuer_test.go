package charges

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/sheikh-saqib/subscription-payments-ledger/internal/correlation"
	"github.com/sheikh-saqib/subscription-payments-ledger/internal/interfaces"
	"github.com/sheikh-saqib/subscription-payments-ledger/internal/models"
	"github.com/sheikh-saqib/subscription-payments-ledger/internal/storage/memory"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProcessor struct {
	err      error
	requests []interfaces.ChargeRequest
}

func (f *fakeProcessor) CreateCharge(_ context.Context, req interfaces.ChargeRequest) (*interfaces.Charge, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &interfaces.Charge{ID: "ch_1", PixCopyPaste: "PIXCODE"}, nil
}

func (f *fakeProcessor) SendPayout(context.Context, interfaces.PayoutRequest) (*interfaces.Payout, error) {
	return nil, errors.New("not used")
}

func seed(t *testing.T) *memory.MemoryLedgerStore {
	t.Helper()
	ctx := context.Background()
	store := memory.NewMemoryLedgerStore()
	require.NoError(t, store.SaveBot(ctx, &models.Bot{ID: 10, OwnerID: 500, Token: "tok", Name: "VIP", GroupID: -100, Active: true}))
	require.NoError(t, store.SaveBot(ctx, &models.Bot{ID: 11, OwnerID: 501, Active: false}))
	require.NoError(t, store.SavePlan(ctx, &models.Plan{ID: 1, BotID: 10, Name: "Monthly", Price: decimal.RequireFromString("19.90"), Days: 30, Active: true}))
	require.NoError(t, store.SavePlan(ctx, &models.Plan{ID: 2, BotID: 10, Name: "Old", Price: decimal.NewFromInt(5), Days: 30}))
	require.NoError(t, store.SavePlan(ctx, &models.Plan{ID: 3, BotID: 11, Name: "Orphan", Price: decimal.NewFromInt(5), Days: 30, Active: true}))
	return store
}

func TestIssueRecordsPendingSale(t *testing.T) {
	ctx := context.Background()
	store := seed(t)
	proc := &fakeProcessor{}
	logger, _ := test.NewNullLogger()

	res, err := NewIssuer(store, proc, logger).Issue(ctx, 1, Buyer{ID: 77, FirstName: "Ana", Username: "ana"})
	require.NoError(t, err)
	assert.Equal(t, "PIXCODE", res.PixCopyPaste)
	assert.True(t, res.Amount.Equal(decimal.RequireFromString("19.90")))

	id, err := correlation.Parse(res.CorrelationID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), id.PlanID)
	assert.Equal(t, int64(77), id.BuyerID)

	require.Len(t, proc.requests, 1)
	assert.Equal(t, res.CorrelationID, proc.requests[0].ExternalID)

	entry, err := store.GetEntryByExternalIDForUpdate(ctx, res.CorrelationID)
	require.NoError(t, err)
	assert.True(t, entry.IsPending())
	assert.Equal(t, int64(500), entry.AccountID)
	assert.Equal(t, "(pending) Monthly - @ana", entry.Description)

	balance, err := store.GetBalance(ctx, 500)
	require.NoError(t, err)
	assert.True(t, balance.IsZero())

	leads, err := store.GetLeadsForRemarketing(ctx, entry.CreatedAt.Add(1), entry.CreatedAt.Add(1), 0)
	require.NoError(t, err)
	require.Len(t, leads, 1)
	assert.Equal(t, int64(77), leads[0].UserID)
}

func TestIssueUnknownOrInactive(t *testing.T) {
	store := seed(t)
	logger, _ := test.NewNullLogger()
	issuer := NewIssuer(store, &fakeProcessor{}, logger)

	_, err := issuer.Issue(context.Background(), 99, Buyer{ID: 1})
	assert.ErrorIs(t, err, ErrPlanNotFound)
	_, err = issuer.Issue(context.Background(), 2, Buyer{ID: 1})
	assert.ErrorIs(t, err, ErrPlanNotFound)
	_, err = issuer.Issue(context.Background(), 3, Buyer{ID: 1})
	assert.ErrorIs(t, err, ErrBotNotFound)
}

func TestIssueProcessorFailureWritesNothing(t *testing.T) {
	ctx := context.Background()
	store := seed(t)
	unavailable := errors.New("processor down")
	logger, _ := test.NewNullLogger()

	_, err := NewIssuer(store, &fakeProcessor{err: unavailable}, logger).Issue(ctx, 1, Buyer{ID: 77, FirstName: "Ana"})
	assert.ErrorIs(t, err, unavailable)

	entries, err := store.GetEntriesByAccount(ctx, 500)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestBuyerHandleFallsBackToFirstName(t *testing.T) {
	assert.Equal(t, "Ana", Buyer{FirstName: "Ana"}.Handle())
	assert.True(t, strings.HasPrefix(Buyer{FirstName: "Ana", Username: "ana_b"}.Handle(), "ana"))
}
