package escrow

import (
	"fmt"
	"math/big"
	"math/rand"
	"reflect"
	"testing"
)

func TestEmergencyWithdrawActiveTrade(t *testing.T) {
	f := newFixture(t)
	id := f.funded(t, 1000, 250, 0)
	if err := f.engine.EmergencyWithdraw(id, f.admin, [20]byte{}); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	transfers := f.outbox.drain()
	if len(transfers) != 1 {
		t.Fatalf("expected one withdrawal transfer, got %d", len(transfers))
	}
	withdrawal := transfers[0]
	if withdrawal.Leg != LegWithdrawal || withdrawal.Recipient != f.admin || withdrawal.Amount.Int64() != 1000 {
		t.Fatalf("unexpected withdrawal %+v", withdrawal)
	}
	trade := f.load(t, id)
	if !trade.Withdrawn || trade.Status != TradeStatusActive || trade.Payout != nil {
		t.Fatalf("withdrawal must leave status untouched: %+v", trade)
	}
	evt := f.events.Last(EventTypeTradeEmergencyWithdrawn)
	if evt == nil || evt.Attributes["withdrawalAmount"] != "1000" {
		t.Fatalf("missing emergency event %+v", evt)
	}

	f.requireUnchanged(t, id, ErrAlreadyResolved, func() error { return f.engine.ConfirmDelivery(id, f.seller) })
	f.requireUnchanged(t, id, ErrAlreadyResolved, func() error { return f.engine.ResolveToBuyer(id, f.admin) })
	f.requireUnchanged(t, id, ErrAlreadyResolved, func() error { return f.engine.RaiseDispute(id, f.buyer) })
	f.requireUnchanged(t, id, ErrAlreadyResolved, func() error { return f.engine.EmergencyWithdraw(id, f.admin, [20]byte{}) })

	f.result(t, id, withdrawal.Token, true)
	trade = f.load(t, id)
	if !trade.Inert() || trade.Residual().Sign() != 0 {
		t.Fatalf("acknowledged withdrawal should leave the trade inert")
	}
	f.requireUnchanged(t, id, ErrAlreadyResolved, func() error { return f.engine.RetryPayout(id, f.admin) })
}

func TestEmergencyWithdrawRefusedWhileInFlight(t *testing.T) {
	f := newFixture(t)
	id := f.funded(t, 1000, 250, 0)
	if err := f.engine.ConfirmDelivery(id, f.seller); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	transfers := f.outbox.drain()
	f.requireUnchanged(t, id, ErrTransferInFlight, func() error { return f.engine.EmergencyWithdraw(id, f.admin, [20]byte{}) })

	for _, transfer := range transfers {
		f.result(t, id, transfer.Token, transfer.Leg == LegPrincipal)
	}
	recipient := newTestAddress(0x77)
	if err := f.engine.EmergencyWithdraw(id, f.admin, recipient); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	withdrawal := f.outbox.drain()[0]
	if withdrawal.Amount.Int64() != 25 || withdrawal.Recipient != recipient {
		t.Fatalf("expected residual fees withdrawn to recipient, got %+v", withdrawal)
	}
	trade := f.load(t, id)
	if trade.Status != TradeStatusReleased || trade.Payout.Progress != 0b0001 {
		t.Fatalf("withdrawal must not rewrite settlement bookkeeping: %s %04b", trade.Status, trade.Payout.Progress)
	}
	// abandoned payout legs cannot be resent; only the withdrawal can
	f.result(t, id, withdrawal.Token, false)
	if err := f.engine.RetryPayout(id, f.admin); err != nil {
		t.Fatalf("retry withdrawal: %v", err)
	}
	resent := f.outbox.drain()
	if len(resent) != 1 || resent[0].Leg != LegWithdrawal || resent[0].Attempt != 2 {
		t.Fatalf("expected only the withdrawal to be resent, got %+v", resent)
	}
	f.result(t, id, resent[0].Token, true)
	if !f.load(t, id).Inert() {
		t.Fatalf("expected inert trade")
	}
}

func TestEmergencyWithdrawNothingHeld(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, 1000, 250, 0)
	f.requireUnchanged(t, id, ErrNothingToWithdraw, func() error { return f.engine.EmergencyWithdraw(id, f.admin, [20]byte{}) })
}

func TestResolveDuringDisputeRequiresAdmin(t *testing.T) {
	f := newFixture(t)
	id := f.funded(t, 1000, 250, 0)
	if err := f.engine.RaiseDispute(id, f.buyer); err != nil {
		t.Fatalf("dispute: %v", err)
	}
	f.requireUnchanged(t, id, ErrNotAdmin, func() error { return f.engine.ResolveToBuyer(id, f.buyer) })
	if err := f.engine.ResolveToBuyer(id, f.admin); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if status := f.load(t, id).Status; status != TradeStatusReleased {
		t.Fatalf("expected released, got %s", status)
	}
}

func TestEmergencyWithdrawWaitsForSupersededAttempt(t *testing.T) {
	f := newFixture(t)
	id := f.funded(t, 1000, 250, 0)
	if err := f.engine.ConfirmDelivery(id, f.seller); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	var stuck Transfer
	for _, transfer := range f.outbox.drain() {
		if transfer.Leg == LegFeeSecondary {
			stuck = transfer
			continue
		}
		f.result(t, id, transfer.Token, true)
	}
	if err := f.engine.RetryPayout(id, f.admin); err != nil {
		t.Fatalf("retry: %v", err)
	}
	resent := f.outbox.drain()
	if len(resent) != 1 || resent[0].Leg != LegFeeSecondary || resent[0].Attempt != 2 {
		t.Fatalf("expected fee_2 resent, got %+v", resent)
	}
	f.result(t, id, resent[0].Token, false)

	// attempt 1 may still land, so the residual is not known yet
	f.requireUnchanged(t, id, ErrTransferInFlight, func() error { return f.engine.EmergencyWithdraw(id, f.admin, [20]byte{}) })

	f.result(t, id, stuck.Token, true)
	trade := f.load(t, id)
	if trade.Payout.Progress != FullProgress || trade.Residual().Sign() != 0 {
		t.Fatalf("late delivery should settle the trade: %04b residual %s", trade.Payout.Progress, trade.Residual())
	}
	f.requireUnchanged(t, id, ErrAlreadyResolved, func() error { return f.engine.EmergencyWithdraw(id, f.admin, [20]byte{}) })
}

func TestRepeatedResultOfOneAttemptIsIgnored(t *testing.T) {
	f := newFixture(t)
	id := f.funded(t, 1000, 250, 0)
	if err := f.engine.ConfirmDelivery(id, f.seller); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	principal := f.outbox.drain()[LegPrincipal]
	f.result(t, id, principal.Token, false)
	before := f.load(t, id)
	emitted := len(f.events.Events)
	f.result(t, id, principal.Token, true)
	if after := f.load(t, id); !reflect.DeepEqual(before, after) || len(f.events.Events) != emitted {
		t.Fatalf("second result of one attempt changed the trade")
	}
	if leg := f.load(t, id).Payout.Legs[LegPrincipal]; leg.State != LegBounced || leg.inFlight() {
		t.Fatalf("unexpected principal leg %+v", leg)
	}
}

// transport delivers each leg of a trade at most once, like a disbursement
// wallet keyed on (trade, leg).
type transport struct {
	pending  []Transfer
	credited map[uint8]*big.Int
}

func (tr *transport) paid() *big.Int {
	total := big.NewInt(0)
	for _, amount := range tr.credited {
		total.Add(total, amount)
	}
	return total
}

func TestPayoutNeverExceedsDeposit(t *testing.T) {
	for seed := int64(1); seed <= 200; seed++ {
		t.Run(fmt.Sprintf("seed-%d", seed), func(t *testing.T) {
			rng := rand.New(rand.NewSource(seed))
			f := newFixture(t)
			id := f.funded(t, 1000, 250, 0)
			var err error
			switch rng.Intn(3) {
			case 0:
				err = f.engine.ConfirmDelivery(id, f.seller)
			case 1:
				err = f.engine.ResolveToSeller(id, f.admin)
			default:
				err = f.engine.ResolveToBuyer(id, f.admin)
			}
			if err != nil {
				t.Fatalf("initiate: %v", err)
			}
			tr := &transport{credited: make(map[uint8]*big.Int)}
			for step := 0; step < 40; step++ {
				tr.pending = append(tr.pending, f.outbox.drain()...)
				switch op := rng.Intn(10); {
				case op < 6 && len(tr.pending) > 0:
					i := rng.Intn(len(tr.pending))
					transfer := tr.pending[i]
					tr.pending = append(tr.pending[:i], tr.pending[i+1:]...)
					delivered := rng.Intn(2) == 0
					if delivered {
						if _, done := tr.credited[transfer.Leg]; !done {
							tr.credited[transfer.Leg] = new(big.Int).Set(transfer.Amount)
						}
					}
					f.result(t, id, transfer.Token, delivered)
				case op < 8:
					err = f.engine.RetryPayout(id, f.admin)
				default:
					err = f.engine.EmergencyWithdraw(id, f.admin, [20]byte{})
				}
				if err != nil && !IsRejection(err) {
					t.Fatalf("step %d: unexpected error %v", step, err)
				}
				err = nil
				trade := f.load(t, id)
				accounted := new(big.Int).Add(tr.paid(), trade.Residual())
				if accounted.Cmp(trade.Deposited) != 0 {
					t.Fatalf("step %d: paid %s + residual %s != deposited %s", step, tr.paid(), trade.Residual(), trade.Deposited)
				}
			}
		})
	}
}
