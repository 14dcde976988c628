package withdrawals

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/sheikh-saqib/subscription-payments-ledger/internal/fees"
	"github.com/sheikh-saqib/subscription-payments-ledger/internal/interfaces"
	"github.com/sheikh-saqib/subscription-payments-ledger/internal/models"
	"github.com/sheikh-saqib/subscription-payments-ledger/internal/models/events"
	"github.com/sheikh-saqib/subscription-payments-ledger/internal/storage/memory"
	"github.com/sheikh-saqib/subscription-payments-ledger/internal/testutils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	account = int64(900)
	admins  = int64(-1001)
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixture struct {
	store     *memory.MemoryLedgerStore
	processor *testutils.FakeProcessor
	notifier  *testutils.RecordingNotifier
	svc       *Service
}

func newFixture(t *testing.T, balance string) *fixture {
	t.Helper()
	store := memory.NewMemoryLedgerStore()
	if balance != "" {
		require.NoError(t, store.SaveEntry(context.Background(), &models.LedgerEntry{
			AccountID: account, Kind: models.KindSale, Amount: d(balance), Description: "sale",
		}))
	}
	engine := fees.New(
		fees.Rates{PlatformPct: d("0.03"), ProfitPct: d("0.05"), MinFixed: d("0.77")},
		fees.Rates{PlatformPct: d("0.02"), ProfitPct: d("0.05"), MinFixed: d("0.77")},
	)
	f := &fixture{store: store, processor: &testutils.FakeProcessor{}, notifier: &testutils.RecordingNotifier{}}
	logger, _ := test.NewNullLogger()
	f.svc = NewService(store, engine, f.processor, f.notifier, Config{Minimum: d("50"), AdminGroupID: admins}, logger)
	return f
}

func (f *fixture) balance(t *testing.T) decimal.Decimal {
	t.Helper()
	b, err := f.store.GetBalance(context.Background(), account)
	require.NoError(t, err)
	return b
}

func (f *fixture) request(t *testing.T, gross string) *models.Withdrawal {
	t.Helper()
	w, err := f.svc.Request(context.Background(), Request{AccountID: account, Gross: d(gross), PixKey: "ana@example.com", PixType: "email"})
	require.NoError(t, err)
	return w
}

func TestRequestDebitsGrossOnce(t *testing.T) {
	f := newFixture(t, "200")

	w := f.request(t, "150")
	assert.Equal(t, models.WithdrawalPending, w.Status)
	assert.True(t, w.FeeTotal.Equal(d("10.50")))
	assert.True(t, w.AmountRequested.Equal(d("139.50")))
	assert.True(t, w.AmountFinal.Equal(d("150")))
	assert.Equal(t, "EMAIL", w.PixType)
	assert.True(t, f.balance(t).Equal(d("50")))

	entries, err := f.store.GetEntriesByAccount(context.Background(), account)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, models.KindWithdrawal, entries[1].Kind)
	assert.True(t, entries[1].Amount.Equal(d("-150")))
	assert.Equal(t, "PIX withdrawal (net 139.50)", entries[1].Description)

	sent := f.notifier.All()
	require.Len(t, sent, 1)
	assert.Equal(t, events.NotifyWithdrawalRequested, sent[0].Kind)
	assert.Equal(t, admins, sent[0].ChatID)
}

func TestRequestValidation(t *testing.T) {
	cases := []struct {
		name    string
		balance string
		gross   string
		pixKey  string
		want    error
	}{
		{"below minimum", "200", "49.99", "k", ErrBelowMinimum},
		{"insufficient balance", "100", "150", "k", ErrInsufficientBalance},
		{"no pix key", "200", "60", " ", ErrInvalidRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, tc.balance)
			before := f.balance(t)

			_, err := f.svc.Request(context.Background(), Request{AccountID: account, Gross: d(tc.gross), PixKey: tc.pixKey})
			assert.ErrorIs(t, err, tc.want)
			var verr *ValidationError
			assert.True(t, errors.As(err, &verr))

			assert.True(t, f.balance(t).Equal(before))
			entries, err := f.store.GetEntriesByAccount(context.Background(), account)
			require.NoError(t, err)
			assert.Len(t, entries, 1)
			assert.Empty(t, f.notifier.All())
		})
	}
}

func TestRequestFeeExceedsAmount(t *testing.T) {
	f := newFixture(t, "10")
	f.svc.cfg.Minimum = decimal.Zero

	_, err := f.svc.Request(context.Background(), Request{AccountID: account, Gross: d("0.77"), PixKey: "k"})
	assert.ErrorIs(t, err, fees.ErrFeeExceedsAmount)
	assert.True(t, f.balance(t).Equal(d("10")))
}

func TestApproveConservesBalance(t *testing.T) {
	f := newFixture(t, "200")
	w := f.request(t, "150")

	approved, err := f.svc.Approve(context.Background(), w.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalPaid, approved.Status)
	assert.True(t, approved.ProcessedAt.Valid)
	assert.True(t, f.balance(t).Equal(d("50")))

	_, err = f.svc.Approve(context.Background(), w.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	var terr *TransitionError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, models.WithdrawalPaid, terr.Current)

	_, err = f.svc.Reject(context.Background(), w.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.True(t, f.balance(t).Equal(d("50")))
}

func TestRejectRestoresBalance(t *testing.T) {
	f := newFixture(t, "200")
	w := f.request(t, "150")

	rejected, err := f.svc.Reject(context.Background(), w.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalRejected, rejected.Status)
	assert.True(t, f.balance(t).Equal(d("200")))

	sent := f.notifier.All()
	last := sent[len(sent)-1]
	assert.Equal(t, events.NotifyWithdrawalRejected, last.Kind)
	assert.Equal(t, account, last.ChatID)
}

func TestConcurrentRejectRefundsOnce(t *testing.T) {
	f := newFixture(t, "200")
	w := f.request(t, "150")

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.Reject(context.Background(), w.ID); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, ErrInvalidTransition)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.True(t, f.balance(t).Equal(d("200")))
}

func TestUnknownWithdrawal(t *testing.T) {
	f := newFixture(t, "")
	_, err := f.svc.Approve(context.Background(), 42)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestProcessPaysNetAmount(t *testing.T) {
	f := newFixture(t, "200")
	w := f.request(t, "150")

	paid, err := f.svc.Process(context.Background(), w.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalPaid, paid.Status)
	assert.Equal(t, "po_1", paid.PayoutID.String)
	require.Len(t, f.processor.Payouts, 1)
	assert.True(t, f.processor.Payouts[0].Amount.Equal(d("139.50")))
	assert.Equal(t, fmt.Sprintf("withdrawal-%d", w.ID), f.processor.Payouts[0].ExternalID)
	assert.True(t, f.balance(t).Equal(d("50")))
}

func TestProcessRejectedPayoutRefunds(t *testing.T) {
	f := newFixture(t, "200")
	f.processor.Err = fmt.Errorf("%w: /pix/out returned 422", interfaces.ErrProcessorRejected)
	w := f.request(t, "150")

	failed, err := f.svc.Process(context.Background(), w.ID)
	assert.ErrorIs(t, err, ErrPayoutFailed)
	assert.ErrorIs(t, err, interfaces.ErrProcessorRejected)
	require.NotNil(t, failed)
	assert.Equal(t, models.WithdrawalFailed, failed.Status)
	assert.True(t, f.balance(t).Equal(d("200")))

	sent := f.notifier.All()
	assert.Equal(t, events.NotifyWithdrawalFailed, sent[len(sent)-1].Kind)

	_, err = f.svc.Process(context.Background(), w.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, 1, f.processor.PayoutCalls)
}

func TestProcessUnconfirmedPayoutKeepsDebit(t *testing.T) {
	f := newFixture(t, "200")
	f.processor.Err = errors.New("processor: unavailable: EOF")
	w := f.request(t, "150")

	pending, err := f.svc.Process(context.Background(), w.ID)
	assert.ErrorIs(t, err, ErrPayoutUnconfirmed)
	require.NotNil(t, pending)
	assert.Equal(t, models.WithdrawalProcessing, pending.Status)
	assert.False(t, pending.ProcessedAt.Valid)
	assert.True(t, f.balance(t).Equal(d("50")))

	// Reject would refund a payout that may have gone out.
	_, err = f.svc.Reject(context.Background(), w.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.True(t, f.balance(t).Equal(d("50")))

	f.processor.Err = nil
	paid, err := f.svc.Process(context.Background(), w.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalPaid, paid.Status)
	assert.Equal(t, 2, f.processor.PayoutCalls)
	require.Len(t, f.processor.Payouts, 1)
	assert.Equal(t, fmt.Sprintf("withdrawal-%d", w.ID), f.processor.Payouts[0].ExternalID)
	assert.True(t, f.balance(t).Equal(d("50")))
}

func TestApproveResolvesUnconfirmedPayout(t *testing.T) {
	f := newFixture(t, "200")
	f.processor.Err = errors.New("timeout")
	w := f.request(t, "150")

	_, err := f.svc.Process(context.Background(), w.ID)
	require.ErrorIs(t, err, ErrPayoutUnconfirmed)

	approved, err := f.svc.Approve(context.Background(), w.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalPaid, approved.Status)
	assert.True(t, f.balance(t).Equal(d("50")))
}
