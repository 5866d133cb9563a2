package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradeguard/compliance-engine/internal/domain"
)

func testQuotes() map[string]domain.Quote {
	return map[string]domain.Quote{
		"AAPL": {
			Symbol:   "AAPL",
			Name:     "Apple Inc.",
			Kind:     domain.KindEquity,
			Currency: "USD",
			Price:    decimal.NewFromFloat(187.44),
		},
		"TSLA": {
			Symbol:   "TSLA",
			Name:     "Tesla, Inc.",
			Kind:     domain.KindEquity,
			Currency: "USD",
			Price:    decimal.NewFromFloat(251.05),
		},
		"0700.HK": {
			Symbol:   "0700.HK",
			Name:     "Tencent Holdings",
			Kind:     domain.KindEquity,
			Currency: "HKD",
			Price:    decimal.NewFromInt(500),
		},
	}
}

func newTestEngine(store *fakeStore, maxTradeUSD int64) (*Engine, *stubRates) {
	rates := &stubRates{rates: map[string]decimal.Decimal{
		"HKD": decimal.NewFromFloat(0.128),
	}}
	engine := NewEngine(store, store, &stubResolver{quotes: testQuotes()}, rates, maxTradeUSD)
	return engine, rates
}

func submit(t *testing.T, engine *Engine, symbol string, quantity int64) *domain.TradingRequest {
	t.Helper()

	req, err := engine.Submit(context.Background(), domain.TradeProposal{
		SubmitterID: "emp-1",
		Symbol:      symbol,
		Side:        domain.SideBuy,
		Quantity:    quantity,
	}, "test")
	require.NoError(t, err)
	return req
}

func restrict(t *testing.T, store *fakeStore, symbol string) {
	t.Helper()

	registry := NewRegistry(store)
	_, err := registry.Add(context.Background(), symbol, symbol, domain.KindEquity,
		"admin-1", "insider window", "test")
	require.NoError(t, err)
}

func TestSubmitSnapshotsValuation(t *testing.T) {
	store := newFakeStore()
	engine, _ := newTestEngine(store, 0)

	req := submit(t, engine, " 0700.hk ", 100)

	assert.Equal(t, "0700.HK", req.Symbol)
	assert.Equal(t, "Tencent Holdings", req.InstrumentName)
	assert.Equal(t, domain.StatusPending, req.Status)
	assert.False(t, req.Escalated)
	assert.Equal(t, "HKD", req.Currency)
	assert.Equal(t, "64.00", req.UnitPriceUSD.StringFixed(2))
	assert.Equal(t, "6400.00", req.TotalValueUSD.StringFixed(2))
	assert.Equal(t, "0.128", req.ExchangeRate.String())
	assert.Nil(t, req.ProcessedAt)

	stored, err := engine.Get(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, req.TotalValueUSD.String(), stored.TotalValueUSD.String())

	assert.Equal(t, []string{domain.ActionSubmitRequest}, store.auditActions(req.ID))
}

func TestSubmitValuationIgnoresLaterRateChanges(t *testing.T) {
	store := newFakeStore()
	engine, rates := newTestEngine(store, 0)

	req := submit(t, engine, "0700.HK", 100)
	require.Equal(t, "6400.00", req.TotalValueUSD.StringFixed(2))

	rates.set("HKD", decimal.NewFromFloat(0.5))

	stored, err := engine.Get(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, "6400.00", stored.TotalValueUSD.StringFixed(2))
	assert.Equal(t, "0.128", stored.ExchangeRate.String())
}

func TestSubmitRejectsInvalidProposals(t *testing.T) {
	store := newFakeStore()
	engine, _ := newTestEngine(store, 0)

	proposals := map[string]domain.TradeProposal{
		"missing submitter": {Symbol: "AAPL", Side: domain.SideBuy, Quantity: 10},
		"bad side":          {SubmitterID: "emp-1", Symbol: "AAPL", Side: "hold", Quantity: 10},
		"bad kind":          {SubmitterID: "emp-1", Symbol: "AAPL", Kind: "warrant", Side: domain.SideBuy, Quantity: 10},
		"zero quantity":     {SubmitterID: "emp-1", Symbol: "AAPL", Side: domain.SideBuy, Quantity: 0},
		"over max quantity": {SubmitterID: "emp-1", Symbol: "AAPL", Side: domain.SideBuy, Quantity: 1_000_001},
		"bad symbol":        {SubmitterID: "emp-1", Symbol: "not a symbol!", Side: domain.SideBuy, Quantity: 10},
	}

	for name, proposal := range proposals {
		t.Run(name, func(t *testing.T) {
			_, err := engine.Submit(context.Background(), proposal, "test")
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}

	assert.Empty(t, store.requests)
	assert.Empty(t, store.audit)
}

func TestSubmitUnresolvableCreatesNothing(t *testing.T) {
	store := newFakeStore()
	engine, _ := newTestEngine(store, 0)

	_, err := engine.Submit(context.Background(), domain.TradeProposal{
		SubmitterID: "emp-1",
		Symbol:      "ZZZZ",
		Side:        domain.SideBuy,
		Quantity:    10,
	}, "test")

	assert.ErrorIs(t, err, domain.ErrInstrumentNotFound)
	assert.Empty(t, store.requests)
	assert.Empty(t, store.audit)
}

func TestSubmitEnforcesMaxTradeValue(t *testing.T) {
	store := newFakeStore()
	engine, _ := newTestEngine(store, 10_000)

	// 100 * 187.44 = 18744 USD > 10000, at most 53 shares fit.
	_, err := engine.Submit(context.Background(), domain.TradeProposal{
		SubmitterID: "emp-1",
		Symbol:      "AAPL",
		Side:        domain.SideBuy,
		Quantity:    100,
	}, "test")

	require.ErrorIs(t, err, domain.ErrValidation)
	assert.Contains(t, err.Error(), "at most 53 shares")
	assert.Empty(t, store.requests)

	// At the cap the proposal passes.
	req := submit(t, engine, "AAPL", 53)
	assert.Equal(t, domain.StatusPending, req.Status)
}

func TestDecideApprovesUnrestricted(t *testing.T) {
	store := newFakeStore()
	engine, _ := newTestEngine(store, 0)

	req := submit(t, engine, "AAPL", 10)

	decided, err := engine.Decide(context.Background(), req.ID, "test")
	require.NoError(t, err)

	assert.Equal(t, domain.StatusApproved, decided.Status)
	assert.False(t, decided.Escalated)
	assert.Nil(t, decided.RejectionReason)
	require.NotNil(t, decided.ProcessedAt)
	assert.True(t, decided.Terminal())

	assert.Equal(t,
		[]string{domain.ActionSubmitRequest, domain.ActionApproveRequest},
		store.auditActions(req.ID))
}

func TestDecideRejectsRestricted(t *testing.T) {
	store := newFakeStore()
	engine, _ := newTestEngine(store, 0)
	restrict(t, store, "TSLA")

	req := submit(t, engine, "TSLA", 10)

	decided, err := engine.Decide(context.Background(), req.ID, "test")
	require.NoError(t, err)

	assert.Equal(t, domain.StatusRejected, decided.Status)
	require.NotNil(t, decided.RejectionReason)
	assert.Equal(t, "restricted instrument", *decided.RejectionReason)
	assert.False(t, decided.Terminal(), "a rejected request can still be escalated")
}

func TestDecideTwiceFails(t *testing.T) {
	store := newFakeStore()
	engine, _ := newTestEngine(store, 0)

	req := submit(t, engine, "AAPL", 10)

	_, err := engine.Decide(context.Background(), req.ID, "test")
	require.NoError(t, err)

	_, err = engine.Decide(context.Background(), req.ID, "test")
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestDecideUnknownRequest(t *testing.T) {
	store := newFakeStore()
	engine, _ := newTestEngine(store, 0)

	_, err := engine.Decide(context.Background(), "no-such-id", "test")
	assert.ErrorIs(t, err, domain.ErrRequestNotFound)
}

func TestEscalationToManualApproval(t *testing.T) {
	store := newFakeStore()
	engine, _ := newTestEngine(store, 0)
	restrict(t, store, "TSLA")

	req := submit(t, engine, "TSLA", 10)
	_, err := engine.Decide(context.Background(), req.ID, "test")
	require.NoError(t, err)

	escalated, err := engine.Escalate(context.Background(), req.ID, "emp-1",
		"approved divestment plan on file", "test")
	require.NoError(t, err)

	assert.Equal(t, domain.StatusPending, escalated.Status)
	assert.True(t, escalated.Escalated)
	require.NotNil(t, escalated.EscalationNote)
	assert.Equal(t, "approved divestment plan on file", *escalated.EscalationNote)
	require.NotNil(t, escalated.RejectionReason, "original rejection reason travels with the escalation")
	assert.Equal(t, "restricted instrument", *escalated.RejectionReason)

	approved, err := engine.Approve(context.Background(), req.ID, "admin-1", "test")
	require.NoError(t, err)

	assert.Equal(t, domain.StatusApproved, approved.Status)
	assert.True(t, approved.Escalated)
	assert.True(t, approved.Terminal())

	assert.Equal(t, []string{
		domain.ActionSubmitRequest,
		domain.ActionRejectRequest,
		domain.ActionEscalateRequest,
		domain.ActionApproveRequest,
	}, store.auditActions(req.ID))
}

func TestEscalateReasonTooShort(t *testing.T) {
	store := newFakeStore()
	engine, _ := newTestEngine(store, 0)
	restrict(t, store, "TSLA")

	req := submit(t, engine, "TSLA", 10)
	_, err := engine.Decide(context.Background(), req.ID, "test")
	require.NoError(t, err)

	_, err = engine.Escalate(context.Background(), req.ID, "emp-1", "  short  ", "test")
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestEscalateReasonCountsCharactersNotBytes(t *testing.T) {
	store := newFakeStore()
	engine, _ := newTestEngine(store, 0)
	restrict(t, store, "TSLA")

	req := submit(t, engine, "TSLA", 10)
	_, err := engine.Decide(context.Background(), req.ID, "test")
	require.NoError(t, err)

	// Six characters in eighteen bytes is still too short.
	_, err = engine.Escalate(context.Background(), req.ID, "emp-1", "却下の再審査", "test")
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	escalated, err := engine.Escalate(context.Background(), req.ID, "emp-1", "事前承認済み取引計画", "test")
	require.NoError(t, err)
	assert.True(t, escalated.Escalated)
}

func TestEscalateApprovedFails(t *testing.T) {
	store := newFakeStore()
	engine, _ := newTestEngine(store, 0)

	req := submit(t, engine, "AAPL", 10)
	_, err := engine.Decide(context.Background(), req.ID, "test")
	require.NoError(t, err)

	_, err = engine.Escalate(context.Background(), req.ID, "emp-1",
		"please take another look", "test")
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestEscalateOnlyOnce(t *testing.T) {
	store := newFakeStore()
	engine, _ := newTestEngine(store, 0)
	restrict(t, store, "TSLA")

	req := submit(t, engine, "TSLA", 10)
	_, err := engine.Decide(context.Background(), req.ID, "test")
	require.NoError(t, err)

	_, err = engine.Escalate(context.Background(), req.ID, "emp-1",
		"approved divestment plan on file", "test")
	require.NoError(t, err)

	// The reviewer rejects again; the escalation is spent.
	_, err = engine.Reject(context.Background(), req.ID, "admin-1", "", "test")
	require.NoError(t, err)

	_, err = engine.Escalate(context.Background(), req.ID, "emp-1",
		"one more try, same justification", "test")
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestRejectRequiresReasonUnlessEscalated(t *testing.T) {
	store := newFakeStore()
	engine, _ := newTestEngine(store, 0)

	req := submit(t, engine, "AAPL", 10)

	_, err := engine.Reject(context.Background(), req.ID, "admin-1", "   ", "test")
	assert.ErrorIs(t, err, domain.ErrValidation)

	rejected, err := engine.Reject(context.Background(), req.ID, "admin-1", "policy breach", "test")
	require.NoError(t, err)
	require.NotNil(t, rejected.RejectionReason)
	assert.Equal(t, "policy breach", *rejected.RejectionReason)
}

func TestRejectEscalatedCarriesOriginalReason(t *testing.T) {
	store := newFakeStore()
	engine, _ := newTestEngine(store, 0)
	restrict(t, store, "TSLA")

	req := submit(t, engine, "TSLA", 10)
	_, err := engine.Decide(context.Background(), req.ID, "test")
	require.NoError(t, err)
	_, err = engine.Escalate(context.Background(), req.ID, "emp-1",
		"approved divestment plan on file", "test")
	require.NoError(t, err)

	rejected, err := engine.Reject(context.Background(), req.ID, "admin-1", "", "test")
	require.NoError(t, err)

	assert.Equal(t, domain.StatusRejected, rejected.Status)
	require.NotNil(t, rejected.RejectionReason)
	assert.Equal(t, "restricted instrument", *rejected.RejectionReason)
	assert.True(t, rejected.Terminal())
}

func TestConcurrentDecisionsSingleWinner(t *testing.T) {
	store := newFakeStore()
	engine, _ := newTestEngine(store, 0)
	restrict(t, store, "TSLA")

	req := submit(t, engine, "TSLA", 10)
	_, err := engine.Decide(context.Background(), req.ID, "test")
	require.NoError(t, err)
	_, err = engine.Escalate(context.Background(), req.ID, "emp-1",
		"approved divestment plan on file", "test")
	require.NoError(t, err)

	const workers = 8
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_, errs[i] = engine.Approve(context.Background(), req.ID, "admin-1", "test")
			} else {
				_, errs[i] = engine.Reject(context.Background(), req.ID, "admin-2", "denied", "test")
			}
		}(i)
	}
	wg.Wait()

	var succeeded int
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, domain.ErrInvalidState)
		}
	}
	assert.Equal(t, 1, succeeded, "exactly one concurrent decision may win")

	final, err := engine.Get(context.Background(), req.ID)
	require.NoError(t, err)
	assert.True(t, final.Terminal())
}

func TestEngineClock(t *testing.T) {
	store := newFakeStore()
	engine, _ := newTestEngine(store, 0)

	frozen := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	engine.WithClock(func() time.Time { return frozen })

	req := submit(t, engine, "AAPL", 10)
	assert.True(t, req.CreatedAt.Equal(frozen))

	decided, err := engine.Decide(context.Background(), req.ID, "test")
	require.NoError(t, err)
	require.NotNil(t, decided.ProcessedAt)
	assert.True(t, decided.ProcessedAt.Equal(frozen))
}
