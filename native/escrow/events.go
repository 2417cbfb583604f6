package escrow

import (
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/Ayush1832/tg-escrow-bot-sub001/core/types"
)

const (
	EventTypeTradeCreated                = "escrow.trade.created"
	EventTypeTradeDepositAccountBound    = "escrow.trade.deposit_account_bound"
	EventTypeTradeFunded                 = "escrow.trade.funded"
	EventTypeTradeDisputed               = "escrow.trade.disputed"
	EventTypeTradeReleased               = "escrow.trade.released"
	EventTypeTradeRefunded               = "escrow.trade.refunded"
	EventTypeTradeCancelled              = "escrow.trade.cancelled"
	EventTypeTradeLegAcknowledged        = "escrow.trade.leg_acknowledged"
	EventTypeTradeLegBounced             = "escrow.trade.leg_bounced"
	EventTypeTradePayoutRetried          = "escrow.trade.payout_retried"
	EventTypeTradeSettled                = "escrow.trade.settled"
	EventTypeTradeEmergencyWithdrawn     = "escrow.trade.emergency_withdrawn"
	EventTypeTradeWithdrawalAcknowledged = "escrow.trade.withdrawal_acknowledged"
)

// escrowEvent adapts a canonical payload to the events.Emitter contract.
type escrowEvent struct {
	evt *types.Event
}

func (e escrowEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e escrowEvent) Event() *types.Event { return e.evt }

// NewTradeCreatedEvent returns the canonical payload for a newly created trade.
func NewTradeCreatedEvent(t *Trade) *types.Event {
	return newTradeEvent(EventTypeTradeCreated, t, nil)
}

// NewTradeFundedEvent returns the payload emitted when the deposit is verified.
func NewTradeFundedEvent(t *Trade, sender [20]byte) *types.Event {
	return newTradeEvent(EventTypeTradeFunded, t, map[string]string{
		"sender": hex.EncodeToString(sender[:]),
	})
}

func NewTradeDepositAccountBoundEvent(t *Trade) *types.Event {
	return newTradeEvent(EventTypeTradeDepositAccountBound, t, nil)
}

func NewTradeDisputedEvent(t *Trade) *types.Event {
	return newTradeEvent(EventTypeTradeDisputed, t, nil)
}

func NewTradeCancelledEvent(t *Trade, caller [20]byte) *types.Event {
	return newTradeEvent(EventTypeTradeCancelled, t, map[string]string{
		"caller": hex.EncodeToString(caller[:]),
	})
}

// NewTradePayoutEvent returns the released or refunded payload emitted when a
// payout is initiated.
func NewTradePayoutEvent(t *Trade) *types.Event {
	eventType := EventTypeTradeReleased
	if t != nil && t.Payout != nil && t.Payout.Kind == PayoutRefund {
		eventType = EventTypeTradeRefunded
	}
	return newTradeEvent(eventType, t, nil)
}

func NewTradeLegEvent(eventType string, t *Trade, leg uint8, token string) *types.Event {
	return newTradeEvent(eventType, t, map[string]string{
		"leg":   LegName(leg),
		"token": token,
	})
}

func NewTradePayoutRetriedEvent(t *Trade, legs []uint8) *types.Event {
	names := make([]string, 0, len(legs))
	for _, leg := range legs {
		names = append(names, LegName(leg))
	}
	return newTradeEvent(EventTypeTradePayoutRetried, t, map[string]string{"legs": strings.Join(names, ",")})
}

func NewTradeSettledEvent(t *Trade) *types.Event {
	return newTradeEvent(EventTypeTradeSettled, t, nil)
}

// NewTradeEmergencyWithdrawnEvent is kept distinct from settlement events so
// audit consumers can separate operator overrides from normal payouts.
func NewTradeEmergencyWithdrawnEvent(t *Trade, caller [20]byte) *types.Event {
	extra := map[string]string{"caller": hex.EncodeToString(caller[:])}
	if t != nil && t.Withdrawal != nil {
		extra["recipient"] = hex.EncodeToString(t.Withdrawal.Recipient[:])
		extra["withdrawalAmount"] = t.Withdrawal.Amount.String()
	}
	return newTradeEvent(EventTypeTradeEmergencyWithdrawn, t, extra)
}

func newTradeEvent(eventType string, t *Trade, extra map[string]string) *types.Event {
	attrs := make(map[string]string)
	if t == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	sanitized, err := SanitizeTrade(t)
	if err != nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["tradeId"] = hex.EncodeToString(sanitized.ID[:])
	attrs["seller"] = hex.EncodeToString(sanitized.Seller[:])
	attrs["buyer"] = hex.EncodeToString(sanitized.Buyer[:])
	attrs["asset"] = sanitized.Asset
	attrs["amount"] = sanitized.Amount.String()
	attrs["deposited"] = sanitized.Deposited.String()
	attrs["commissionBps"] = strconv.FormatUint(uint64(sanitized.CommissionBps), 10)
	attrs["status"] = sanitized.Status.String()
	attrs["deadline"] = strconv.FormatInt(sanitized.Deadline, 10)
	if sanitized.Payout != nil {
		attrs["payoutKind"] = sanitized.Payout.Kind.String()
		attrs["payoutProgress"] = strconv.FormatUint(uint64(sanitized.Payout.Progress), 2)
	}
	for k, v := range extra {
		attrs[k] = v
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}
