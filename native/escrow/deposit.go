package escrow

import (
	"fmt"
	"math/big"
)

// Deposit is an incoming token-transfer notification for a trade.
type Deposit struct {
	Amount     *big.Int
	Sender     [20]byte
	Subaccount [20]byte
}

// BindDepositAccount fixes the account the trade accepts its deposit from.
// Binding is allowed once, by the seller or admin, while the trade waits for
// its deposit. Repeating the binding with the same account is a no-op.
func (e *Engine) BindDepositAccount(id [32]byte, caller [20]byte, account [20]byte) error {
	return e.apply(id, true, func(t *Trade, fx *effects) error {
		if caller != t.Seller && caller != t.Admin {
			return ErrNotSeller
		}
		if err := requireUnresolved(t); err != nil {
			return err
		}
		if t.Status != TradeStatusPendingDeposit {
			return ErrNotPendingDeposit
		}
		if account == ([20]byte{}) {
			return fmt.Errorf("%w: deposit account", ErrInvalidAccount)
		}
		if t.ExpectedDepositAccount != nil {
			if *t.ExpectedDepositAccount == account {
				return errUnchanged
			}
			return ErrDepositAccountBound
		}
		bound := account
		t.ExpectedDepositAccount = &bound
		fx.emit(NewTradeDepositAccountBoundEvent(t))
		return nil
	})
}

// HandleDeposit verifies an incoming transfer against the trade. Only an exact
// amount from the bound account is accepted; nothing is credited otherwise.
// This is the only path into Active.
func (e *Engine) HandleDeposit(id [32]byte, deposit Deposit) error {
	return e.apply(id, true, func(t *Trade, fx *effects) error {
		if t.Status != TradeStatusPendingDeposit || t.Cancelled {
			return ErrNotPendingDeposit
		}
		if t.ExpectedDepositAccount == nil || *t.ExpectedDepositAccount != deposit.Subaccount {
			return ErrInvalidFundingChannel
		}
		if deposit.Amount == nil || deposit.Amount.Cmp(t.Amount) != 0 {
			return ErrDepositMismatch
		}
		if t.Deposited.Sign() != 0 {
			return ErrAlreadyDeposited
		}
		t.Deposited = new(big.Int).Set(deposit.Amount)
		t.DepositVerified = true
		t.Status = TradeStatusActive
		fx.emit(NewTradeFundedEvent(t, deposit.Sender))
		return nil
	})
}
