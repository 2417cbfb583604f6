package escrow

// Guards are evaluated in a fixed order: caller role, payout already
// attempted, withdrawn or terminal, status, deposit verification, deadline.
// The first failing check decides the rejection.

func requireSeller(t *Trade, caller [20]byte) error {
	if caller != t.Seller {
		return ErrNotSeller
	}
	return nil
}

func requireBuyer(t *Trade, caller [20]byte) error {
	if caller != t.Buyer {
		return ErrNotBuyer
	}
	return nil
}

func requireAdmin(t *Trade, caller [20]byte) error {
	if caller != t.Admin {
		return ErrNotAdmin
	}
	return nil
}

// requireUnresolved rejects trades that were cancelled, emergency withdrawn or
// are otherwise inert.
func requireUnresolved(t *Trade) error {
	if t.Cancelled || t.Withdrawn || t.Inert() {
		return ErrAlreadyResolved
	}
	return nil
}

// requireReleasable checks every precondition shared by the actions that
// initiate a payout.
func requireReleasable(t *Trade, allowed ...TradeStatus) error {
	if t.Payout != nil {
		return ErrPayoutAlreadyAttempted
	}
	if err := requireUnresolved(t); err != nil {
		return err
	}
	if !statusIn(t.Status, allowed) {
		return ErrNotActive
	}
	if !t.DepositVerified {
		return ErrDepositNotVerified
	}
	return nil
}

func statusIn(status TradeStatus, allowed []TradeStatus) bool {
	for _, candidate := range allowed {
		if status == candidate {
			return true
		}
	}
	return false
}

// deadlineReached treats the deadline instant itself as reached.
func deadlineReached(t *Trade, now int64) bool {
	return t.Deadline != 0 && now >= t.Deadline
}
