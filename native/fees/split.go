package fees

import (
	"errors"
	"math/big"
)

const (
	// BasisPoints is the denominator for every basis-point ratio.
	BasisPoints = 10_000

	// Shares of the total commission routed to each fee wallet. The third
	// wallet receives the remainder so the three shares always add up to the
	// total fee.
	PrimaryShareBps   = 7_000
	SecondaryShareBps = 2_250
	TertiaryShareBps  = BasisPoints - PrimaryShareBps - SecondaryShareBps

	// Recipients is the number of fee wallets a commission is split across.
	Recipients = 3
)

var (
	ErrNonPositiveAmount = errors.New("fees: amount must be positive")
	ErrCommissionTooHigh = errors.New("fees: commission exceeds 10000 bps")
)

// Breakdown is the result of splitting a trade amount between the principal
// recipient and the fee wallets.
type Breakdown struct {
	Principal *big.Int
	Fees      [Recipients]*big.Int
}

// Split computes the release breakdown of amount for a commission of bps basis
// points. Every division floors and the final fee wallet absorbs the rounding
// remainder, so Principal plus the fees equals amount exactly.
func Split(amount *big.Int, bps uint32) (Breakdown, error) {
	if amount == nil || amount.Sign() <= 0 {
		return Breakdown{}, ErrNonPositiveAmount
	}
	if bps > BasisPoints {
		return Breakdown{}, ErrCommissionTooHigh
	}
	denom := big.NewInt(BasisPoints)
	total := new(big.Int).Mul(amount, big.NewInt(int64(bps)))
	total.Quo(total, denom)

	first := new(big.Int).Mul(total, big.NewInt(PrimaryShareBps))
	first.Quo(first, denom)
	second := new(big.Int).Mul(total, big.NewInt(SecondaryShareBps))
	second.Quo(second, denom)
	third := new(big.Int).Sub(total, first)
	third.Sub(third, second)

	return Breakdown{
		Principal: new(big.Int).Sub(amount, total),
		Fees:      [Recipients]*big.Int{first, second, third},
	}, nil
}

// RefundSplit returns the breakdown used when the deposit goes back to the
// seller: the full amount to the principal and nothing to the fee wallets.
func RefundSplit(amount *big.Int) (Breakdown, error) {
	if amount == nil || amount.Sign() <= 0 {
		return Breakdown{}, ErrNonPositiveAmount
	}
	return Breakdown{
		Principal: new(big.Int).Set(amount),
		Fees:      [Recipients]*big.Int{big.NewInt(0), big.NewInt(0), big.NewInt(0)},
	}, nil
}

// TotalFee sums the fee shares.
func (b Breakdown) TotalFee() *big.Int {
	total := big.NewInt(0)
	for _, fee := range b.Fees {
		if fee != nil {
			total.Add(total, fee)
		}
	}
	return total
}

// Total returns the principal plus every fee share.
func (b Breakdown) Total() *big.Int {
	total := b.TotalFee()
	if b.Principal != nil {
		total.Add(total, b.Principal)
	}
	return total
}

// Clone returns a deep copy of the breakdown.
func (b Breakdown) Clone() Breakdown {
	out := Breakdown{}
	if b.Principal != nil {
		out.Principal = new(big.Int).Set(b.Principal)
	}
	for i, fee := range b.Fees {
		if fee != nil {
			out.Fees[i] = new(big.Int).Set(fee)
		}
	}
	return out
}
