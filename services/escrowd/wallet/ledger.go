package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/Ayush1832/tg-escrow-bot-sub001/native/escrow"
)

var (
	// ErrBounced is returned by Send when the ledger was told to refuse a leg.
	ErrBounced = errors.New("wallet: transfer bounced")
	// ErrUnknownReference is returned when confirming a reference the ledger
	// never issued.
	ErrUnknownReference = errors.New("wallet: unknown reference")
)

type legKey struct {
	trade [32]byte
	leg   uint8
}

type balanceKey struct {
	account [20]byte
	asset   string
}

type credit struct {
	ref    string
	amount *big.Int
	at     time.Time
}

// Ledger is an in-memory disbursement transport. Each (trade, leg) pair is
// credited at most once no matter how many attempts are sent for it, which
// makes resending an unacknowledged leg safe.
type Ledger struct {
	mu       sync.Mutex
	now      func() time.Time
	credits  map[legKey]credit
	refs     map[string]legKey
	bounces  map[legKey]int
	balances map[balanceKey]*big.Int
	sends    int
}

// NewLedger constructs an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		now:      time.Now,
		credits:  make(map[legKey]credit),
		refs:     make(map[string]legKey),
		bounces:  make(map[legKey]int),
		balances: make(map[balanceKey]*big.Int),
	}
}

// BounceNext makes the next n sends of the leg fail without crediting.
func (l *Ledger) BounceNext(tradeID [32]byte, leg uint8, n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := legKey{trade: tradeID, leg: leg}
	if n <= 0 {
		delete(l.bounces, key)
		return
	}
	l.bounces[key] = n
}

// Send credits the transfer recipient unless the leg was already credited or
// is marked to bounce. A repeated leg returns the original reference.
func (l *Ledger) Send(ctx context.Context, transfer escrow.Transfer) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if transfer.Amount == nil || transfer.Amount.Sign() <= 0 {
		return "", fmt.Errorf("wallet: transfer amount must be positive")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sends++
	key := legKey{trade: transfer.TradeID, leg: transfer.Leg}
	if existing, ok := l.credits[key]; ok {
		l.refs[transfer.Token] = key
		return existing.ref, nil
	}
	if remaining := l.bounces[key]; remaining > 0 {
		if remaining == 1 {
			delete(l.bounces, key)
		} else {
			l.bounces[key] = remaining - 1
		}
		return "", ErrBounced
	}
	ref := transfer.Token
	l.credits[key] = credit{ref: ref, amount: new(big.Int).Set(transfer.Amount), at: l.now()}
	l.refs[ref] = key
	bk := balanceKey{account: transfer.Recipient, asset: strings.ToUpper(transfer.Asset)}
	balance, ok := l.balances[bk]
	if !ok {
		balance = new(big.Int)
		l.balances[bk] = balance
	}
	balance.Add(balance, transfer.Amount)
	return ref, nil
}

// WaitForConfirmations succeeds immediately for any reference the ledger
// issued. Ledger credits are final.
func (l *Ledger) WaitForConfirmations(ctx context.Context, ref string, _ int, _ time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.refs[ref]; !ok {
		return ErrUnknownReference
	}
	return nil
}

// Balance reports the total credited to account in asset.
func (l *Ledger) Balance(account [20]byte, asset string) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	balance, ok := l.balances[balanceKey{account: account, asset: strings.ToUpper(asset)}]
	if !ok {
		return big.NewInt(0)
	}
	return new(big.Int).Set(balance)
}

// Credited reports whether the leg has been credited.
func (l *Ledger) Credited(tradeID [32]byte, leg uint8) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.credits[legKey{trade: tradeID, leg: leg}]
	return ok
}

// Sends counts every Send call, including duplicates and bounces.
func (l *Ledger) Sends() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sends
}
