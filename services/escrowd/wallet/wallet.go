package wallet

import (
	"context"
	"time"

	"github.com/Ayush1832/tg-escrow-bot-sub001/native/escrow"
)

// Wallet captures what the dispatcher requires from the disbursement
// transport. Send returns a reference that WaitForConfirmations can poll.
type Wallet interface {
	Send(ctx context.Context, transfer escrow.Transfer) (string, error)
	WaitForConfirmations(ctx context.Context, ref string, confirmations int, pollInterval time.Duration) error
}

// FuncWallet adapts callback functions to the Wallet interface.
type FuncWallet struct {
	SendFunc    func(ctx context.Context, transfer escrow.Transfer) (string, error)
	ConfirmFunc func(ctx context.Context, ref string, confirmations int, pollInterval time.Duration) error
}

// Send delegates to the configured callback.
func (w FuncWallet) Send(ctx context.Context, transfer escrow.Transfer) (string, error) {
	if w.SendFunc == nil {
		return transfer.Token, nil
	}
	return w.SendFunc(ctx, transfer)
}

// WaitForConfirmations delegates to the configured callback.
func (w FuncWallet) WaitForConfirmations(ctx context.Context, ref string, confirmations int, pollInterval time.Duration) error {
	if w.ConfirmFunc == nil {
		return nil
	}
	return w.ConfirmFunc(ctx, ref, confirmations, pollInterval)
}
