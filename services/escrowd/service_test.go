package escrowd

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	nativecommon "github.com/Ayush1832/tg-escrow-bot-sub001/native/common"
	"github.com/Ayush1832/tg-escrow-bot-sub001/native/escrow"
)

func TestServiceCreateIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first, err := f.service.Create(ctx, Call{Caller: f.seller}, f.definition())
	require.NoError(t, err)
	second, err := f.service.Create(ctx, Call{Caller: f.seller}, f.definition())
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	changed := f.definition()
	changed.Amount = big.NewInt(2000)
	_, err = f.service.Create(ctx, Call{Caller: f.seller}, changed)
	require.ErrorIs(t, err, escrow.ErrTradeExists)
}

func TestServiceAuditsEveryAttempt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.fundedTrade(t)

	err := f.service.ConfirmDelivery(ctx, Call{RequestID: "req-1", Caller: f.buyer}, id)
	require.ErrorIs(t, err, escrow.ErrNotSeller)
	require.NoError(t, f.service.RaiseDispute(ctx, Call{RequestID: "req-2", Caller: f.buyer}, id))

	entries, err := f.service.Audit(ctx, id, 10)
	require.NoError(t, err)
	require.Len(t, entries, 4)

	byRequest := map[string]AuditEntry{}
	for _, entry := range entries {
		byRequest[entry.RequestID] = entry
	}
	rejected := byRequest["req-1"]
	require.Equal(t, ActionConfirm, rejected.Action)
	require.Equal(t, AuditOutcomeRejected, rejected.Outcome)
	require.Contains(t, rejected.Error, "not the seller")
	accepted := byRequest["req-2"]
	require.Equal(t, ActionDispute, accepted.Action)
	require.Equal(t, AuditOutcomeAccepted, accepted.Outcome)
	require.Equal(t, tradeHex(id), accepted.TradeID)
}

func TestServiceResolveToSeller(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.fundedTrade(t)
	require.NoError(t, f.service.RaiseDispute(ctx, Call{Caller: f.buyer}, id))
	require.ErrorIs(t, f.service.Resolve(ctx, Call{Caller: f.seller}, id, false), escrow.ErrNotAdmin)
	require.NoError(t, f.service.Resolve(ctx, Call{Caller: f.admin}, id, false))

	view := f.waitSettled(t, id)
	require.Equal(t, escrow.TradeStatusRefunded, view.Status)
	require.Zero(t, f.ledger.Balance(f.seller, "USDT").Cmp(big.NewInt(1000)))
	require.Zero(t, f.ledger.Balance(f.fees[0], "USDT").Sign())
}

func TestServicePauseBlocksActionsButNotResults(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.fundedTrade(t)
	f.dispatcher.Pause()
	require.NoError(t, f.service.ConfirmDelivery(ctx, Call{Caller: f.seller}, id))

	f.service.SetPaused(ctx, Call{Caller: f.admin}, true)
	require.True(t, f.service.Paused())
	require.ErrorIs(t, f.service.RetryPayout(ctx, Call{Caller: f.admin}, id), nativecommon.ErrModulePaused)
	_, err := f.service.Create(ctx, Call{Caller: f.seller}, func() escrow.TradeDefinition {
		def := f.definition()
		def.Nonce = [32]byte{0x02}
		return def
	}())
	require.ErrorIs(t, err, nativecommon.ErrModulePaused)

	// results still land while the engine is paused
	f.dispatcher.Resume()
	view := f.waitSettled(t, id)
	require.Equal(t, escrow.FullProgress, view.PayoutProgress)

	f.service.SetPaused(ctx, Call{Caller: f.admin}, false)
	require.False(t, f.service.Paused())
}

func TestServiceEmergencyWithdrawIsAuditedAsEmergency(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.fundedTrade(t)
	require.NoError(t, f.service.EmergencyWithdraw(ctx, Call{RequestID: "sos", Caller: f.admin}, id, [20]byte{}))

	require.Eventually(t, func() bool {
		view, err := f.service.Status(id)
		return err == nil && view.Withdrawal != nil && view.Withdrawal.State == escrow.LegAcknowledged
	}, 2*time.Second, 5*time.Millisecond)
	require.Zero(t, f.ledger.Balance(f.admin, "USDT").Cmp(big.NewInt(1000)))

	entries, err := f.service.Audit(ctx, id, 0)
	require.NoError(t, err)
	var found bool
	for _, entry := range entries {
		if entry.RequestID == "sos" {
			found = true
			require.Equal(t, AuditKindEmergency, entry.Kind)
			require.Equal(t, ActionWithdraw, entry.Action)
		}
	}
	require.True(t, found)
}

func TestServiceTradesFor(t *testing.T) {
	f := newFixture(t)
	id := f.fundedTrade(t)
	views, err := f.service.TradesFor(f.buyer)
	require.NoError(t, err)
	require.Len(t, views, 1)
	require.Equal(t, id, views[0].ID)

	none, err := f.service.TradesFor(testAccount(0x99))
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestServiceConcurrentCreatesKeepIndexes(t *testing.T) {
	f := newFixture(t)
	const trades = 100
	var wg sync.WaitGroup
	errs := make(chan error, trades)
	for i := 0; i < trades; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			def := f.definition()
			def.Nonce = [32]byte{byte(i >> 8), byte(i)}
			if _, err := f.service.Create(context.Background(), Call{Caller: f.seller}, def); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	views, err := f.service.TradesFor(f.seller)
	require.NoError(t, err)
	require.Len(t, views, trades)
	all, err := f.trades.TradeIDs()
	require.NoError(t, err)
	require.Len(t, all, trades)
}

func TestServiceCancelledContext(t *testing.T) {
	f := newFixture(t)
	id := f.fundedTrade(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := f.service.RaiseDispute(ctx, Call{Caller: f.buyer}, id)
	require.ErrorIs(t, err, context.Canceled)
	view, err := f.service.Status(id)
	require.NoError(t, err)
	require.Equal(t, escrow.TradeStatusActive, view.Status)
}

func TestNewServiceRequiresCore(t *testing.T) {
	_, err := NewService(ServiceConfig{})
	require.Error(t, err)
}
