package escrow

import (
	"encoding/binary"
	"encoding/hex"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/Ayush1832/tg-escrow-bot-sub001/native/fees"
)

// TransferResult reports the outcome of a transfer identified by its token.
type TransferResult struct {
	Token     string
	Delivered bool
}

// TransferToken derives the idempotency token of a leg attempt.
func TransferToken(tradeID [32]byte, leg uint8, attempt uint32) string {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], attempt)
	return hex.EncodeToString(ethcrypto.Keccak256(tradeID[:], []byte{leg}, buf[:]))
}

// initiatePayout computes the split once, persists it with an empty progress
// mask and queues one transfer per non-zero leg. Zero-amount legs are
// acknowledged immediately.
func (e *Engine) initiatePayout(t *Trade, kind PayoutKind, trigger string, fx *effects) error {
	var (
		split fees.Breakdown
		err   error
	)
	principal := t.Buyer
	if kind == PayoutRefund {
		principal = t.Seller
		split, err = fees.RefundSplit(t.Deposited)
	} else {
		split, err = fees.Split(t.Deposited, t.CommissionBps)
	}
	if err != nil {
		return err
	}
	payout := &Payout{Kind: kind, Trigger: trigger, Split: split.Clone()}
	recipients := [LegCount][20]byte{principal, t.FeeRecipients[0], t.FeeRecipients[1], t.FeeRecipients[2]}
	amounts := [LegCount]*big.Int{split.Principal, split.Fees[0], split.Fees[1], split.Fees[2]}
	for i := range payout.Legs {
		leg := uint8(i)
		payout.Legs[i] = Leg{Recipient: recipients[i], Amount: new(big.Int).Set(amounts[i])}
		if amounts[i].Sign() == 0 {
			payout.Legs[i].State = LegAcknowledged
			payout.Progress |= 1 << leg
		}
	}
	t.Payout = payout
	if kind == PayoutRefund {
		t.Status = TradeStatusRefunded
	} else {
		t.Status = TradeStatusReleased
	}
	fx.emit(NewTradePayoutEvent(t))
	for i := range payout.Legs {
		if payout.Legs[i].State == LegAcknowledged {
			continue
		}
		fx.send(sendLeg(t, uint8(i), &payout.Legs[i]))
	}
	if payout.Complete() {
		fx.emit(NewTradeSettledEvent(t))
	}
	return nil
}

// sendLeg advances the leg to its next attempt and builds the transfer.
func sendLeg(t *Trade, index uint8, leg *Leg) Transfer {
	leg.Attempts++
	leg.Token = TransferToken(t.ID, index, leg.Attempts)
	leg.State = LegPending
	leg.Outstanding = append(leg.Outstanding, leg.Attempts)
	return Transfer{
		TradeID:   t.ID,
		Leg:       index,
		Recipient: leg.Recipient,
		Asset:     t.Asset,
		Amount:    new(big.Int).Set(leg.Amount),
		Token:     leg.Token,
		Attempt:   leg.Attempts,
	}
}

// findLeg resolves a token of any attempt of any leg and returns the attempt
// it belongs to.
func findLeg(t *Trade, token string) (index uint8, leg *Leg, attempt uint32, ok bool) {
	match := func(i uint8, l *Leg) uint32 {
		for attempt := l.Attempts; attempt >= 1; attempt-- {
			if TransferToken(t.ID, i, attempt) == token {
				return attempt
			}
		}
		return 0
	}
	if t.Payout != nil {
		for i := range t.Payout.Legs {
			if attempt := match(uint8(i), &t.Payout.Legs[i]); attempt > 0 {
				return uint8(i), &t.Payout.Legs[i], attempt, true
			}
		}
	}
	if t.Withdrawal != nil {
		if attempt := match(LegWithdrawal, t.Withdrawal); attempt > 0 {
			return LegWithdrawal, t.Withdrawal, attempt, true
		}
	}
	return 0, nil, 0, false
}

// HandleTransferResult records the outcome of a transfer. Each attempt
// reports once; repeated results of the same token are no-ops. A late result
// of an earlier attempt clears that attempt and acknowledges the leg when it
// was delivered. A bounce leaves the leg unacknowledged until RetryPayout;
// bounces of superseded attempts change nothing but the outstanding set.
// Results are never paused.
func (e *Engine) HandleTransferResult(id [32]byte, result TransferResult) error {
	return e.apply(id, false, func(t *Trade, fx *effects) error {
		index, leg, attempt, ok := findLeg(t, result.Token)
		if !ok {
			return ErrUnknownTransfer
		}
		if !leg.resolve(attempt) {
			return errUnchanged
		}
		if leg.acknowledged() {
			return nil
		}
		if !result.Delivered {
			if attempt != leg.Attempts {
				return nil
			}
			leg.State = LegBounced
			fx.emit(NewTradeLegEvent(EventTypeTradeLegBounced, t, index, result.Token))
			return nil
		}
		leg.State = LegAcknowledged
		if index == LegWithdrawal {
			fx.emit(NewTradeLegEvent(EventTypeTradeWithdrawalAcknowledged, t, index, result.Token))
			return nil
		}
		t.Payout.Progress |= 1 << index
		fx.emit(NewTradeLegEvent(EventTypeTradeLegAcknowledged, t, index, result.Token))
		if t.Payout.Complete() {
			fx.emit(NewTradeSettledEvent(t))
		}
		return nil
	})
}

// RetryPayout resends every unacknowledged leg with a fresh token and the
// amount stored at initiation. After an emergency withdrawal only the
// withdrawal leg can be retried.
func (e *Engine) RetryPayout(id [32]byte, caller [20]byte) error {
	return e.apply(id, true, func(t *Trade, fx *effects) error {
		if err := requireAdmin(t, caller); err != nil {
			return err
		}
		if t.Withdrawn {
			if t.Withdrawal == nil || t.Withdrawal.acknowledged() {
				return ErrAlreadyResolved
			}
			fx.send(sendLeg(t, LegWithdrawal, t.Withdrawal))
			fx.emit(NewTradePayoutRetriedEvent(t, []uint8{LegWithdrawal}))
			return nil
		}
		if t.Payout == nil || t.Payout.Complete() {
			return ErrNoPayoutInProgress
		}
		var retried []uint8
		for i := range t.Payout.Legs {
			leg := &t.Payout.Legs[i]
			if leg.acknowledged() {
				continue
			}
			fx.send(sendLeg(t, uint8(i), leg))
			retried = append(retried, uint8(i))
		}
		if len(retried) == 0 {
			return ErrNoPayoutInProgress
		}
		fx.emit(NewTradePayoutRetriedEvent(t, retried))
		return nil
	})
}
