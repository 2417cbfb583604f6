package escrow

// ResolveToBuyer releases an active or disputed trade to the buyer.
func (e *Engine) ResolveToBuyer(id [32]byte, caller [20]byte) error {
	return e.resolve(id, caller, PayoutRelease, TriggerResolveBuyer)
}

// ResolveToSeller refunds an active or disputed trade to the seller. The
// refund carries no commission.
func (e *Engine) ResolveToSeller(id [32]byte, caller [20]byte) error {
	return e.resolve(id, caller, PayoutRefund, TriggerResolveSeller)
}

func (e *Engine) resolve(id [32]byte, caller [20]byte, kind PayoutKind, trigger string) error {
	return e.apply(id, true, func(t *Trade, fx *effects) error {
		if err := requireAdmin(t, caller); err != nil {
			return err
		}
		if err := requireReleasable(t, TradeStatusActive, TradeStatusDispute); err != nil {
			return err
		}
		return e.initiatePayout(t, kind, trigger, fx)
	})
}

// EmergencyWithdraw moves the residual balance of a trade to recipient, or to
// the admin when recipient is zero. It is refused while any transfer awaits a
// result because the residual is not yet known. Unacknowledged payout legs
// are abandoned; Status and the payout progress mask are left as they were so
// the record shows where settlement stopped.
func (e *Engine) EmergencyWithdraw(id [32]byte, caller [20]byte, recipient [20]byte) error {
	return e.apply(id, true, func(t *Trade, fx *effects) error {
		if err := requireAdmin(t, caller); err != nil {
			return err
		}
		if err := requireUnresolved(t); err != nil {
			return err
		}
		if t.inFlight() {
			return ErrTransferInFlight
		}
		residual := t.Residual()
		if residual.Sign() == 0 {
			return ErrNothingToWithdraw
		}
		if recipient == ([20]byte{}) {
			recipient = t.Admin
		}
		t.Withdrawal = &Leg{Recipient: recipient, Amount: residual}
		t.Withdrawn = true
		fx.send(sendLeg(t, LegWithdrawal, t.Withdrawal))
		fx.emit(NewTradeEmergencyWithdrawnEvent(t, caller))
		return nil
	})
}
