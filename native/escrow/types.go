package escrow

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/Ayush1832/tg-escrow-bot-sub001/native/fees"
)

// TradeStatus represents the lifecycle states of a trade.
type TradeStatus uint8

const (
	TradeStatusPendingDeposit TradeStatus = iota
	TradeStatusActive
	TradeStatusDispute
	TradeStatusReleased
	TradeStatusRefunded
)

// Valid reports whether the status value is within the supported range.
func (s TradeStatus) Valid() bool {
	return s <= TradeStatusRefunded
}

func (s TradeStatus) String() string {
	switch s {
	case TradeStatusPendingDeposit:
		return "pending_deposit"
	case TradeStatusActive:
		return "active"
	case TradeStatusDispute:
		return "dispute"
	case TradeStatusReleased:
		return "released"
	case TradeStatusRefunded:
		return "refunded"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// PayoutKind distinguishes a release to the buyer from a refund to the seller.
type PayoutKind uint8

const (
	PayoutRelease PayoutKind = iota
	PayoutRefund
)

func (k PayoutKind) String() string {
	if k == PayoutRefund {
		return "refund"
	}
	return "release"
}

// Payout triggers recorded on the payout for audit purposes.
const (
	TriggerConfirm       = "confirm"
	TriggerClaim         = "claim"
	TriggerResolveBuyer  = "resolve_buyer"
	TriggerResolveSeller = "resolve_seller"
)

// LegState tracks the disbursement state of a single payout leg.
type LegState uint8

const (
	LegPending LegState = iota
	LegAcknowledged
	LegBounced
)

func (s LegState) String() string {
	switch s {
	case LegAcknowledged:
		return "acknowledged"
	case LegBounced:
		return "bounced"
	default:
		return "pending"
	}
}

// Leg indices. Bit i of Payout.Progress is set once leg i is acknowledged.
const (
	LegPrincipal uint8 = iota
	LegFeePrimary
	LegFeeSecondary
	LegFeeTertiary

	// LegCount is the number of payout legs.
	LegCount = 4
	// LegWithdrawal tags the transfer emitted by an emergency withdrawal.
	LegWithdrawal uint8 = LegCount

	// FullProgress is the acknowledgment mask with every leg set.
	FullProgress uint8 = 1<<LegCount - 1
)

// LegName returns a stable label for metrics and events.
func LegName(leg uint8) string {
	switch leg {
	case LegPrincipal:
		return "principal"
	case LegFeePrimary:
		return "fee_1"
	case LegFeeSecondary:
		return "fee_2"
	case LegFeeTertiary:
		return "fee_3"
	case LegWithdrawal:
		return "withdrawal"
	default:
		return fmt.Sprintf("leg_%d", leg)
	}
}

// Leg is one outbound transfer of a payout or withdrawal. Outstanding lists
// the attempts that were sent and have not reported a result; a retry does
// not resolve earlier attempts.
type Leg struct {
	Recipient   [20]byte
	Amount      *big.Int
	Attempts    uint32
	Token       string
	State       LegState
	Outstanding []uint32
}

// Clone returns a deep copy of the leg.
func (l Leg) Clone() Leg {
	clone := l
	if l.Amount != nil {
		clone.Amount = new(big.Int).Set(l.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	clone.Outstanding = nil
	if len(l.Outstanding) > 0 {
		clone.Outstanding = append([]uint32(nil), l.Outstanding...)
	}
	return clone
}

func (l Leg) acknowledged() bool { return l.State == LegAcknowledged }

// inFlight reports whether any attempt of the leg still awaits a result.
func (l Leg) inFlight() bool {
	return len(l.Outstanding) > 0
}

// resolve removes attempt from the outstanding set and reports whether it was
// there.
func (l *Leg) resolve(attempt uint32) bool {
	for i, pending := range l.Outstanding {
		if pending == attempt {
			l.Outstanding = append(l.Outstanding[:i], l.Outstanding[i+1:]...)
			return true
		}
	}
	return false
}

// Payout is the precomputed disbursement of a trade. The split is computed
// once at initiation and never derived again.
type Payout struct {
	Kind     PayoutKind
	Trigger  string
	Split    fees.Breakdown
	Legs     [LegCount]Leg
	Progress uint8
}

// Clone returns a deep copy of the payout.
func (p *Payout) Clone() *Payout {
	if p == nil {
		return nil
	}
	clone := *p
	clone.Split = p.Split.Clone()
	for i := range p.Legs {
		clone.Legs[i] = p.Legs[i].Clone()
	}
	return &clone
}

// Complete reports whether every leg has been acknowledged.
func (p *Payout) Complete() bool {
	return p != nil && p.Progress&FullProgress == FullProgress
}

// Trade captures the definition and runtime state of one escrow trade. The
// identifier is the keccak256 hash of seller, buyer and a caller-supplied
// nonce.
type Trade struct {
	ID                     [32]byte
	Seller                 [20]byte
	Buyer                  [20]byte
	Admin                  [20]byte
	ExpectedDepositAccount *[20]byte
	Asset                  string
	Amount                 *big.Int
	CommissionBps          uint32
	FeeRecipients          [fees.Recipients][20]byte
	Status                 TradeStatus
	Deposited              *big.Int
	DepositVerified        bool
	Deadline               int64
	CreatedAt              int64
	Payout                 *Payout
	Cancelled              bool
	Withdrawal             *Leg
	Withdrawn              bool
}

// Clone returns a deep copy of the trade so callers can safely mutate the copy
// without affecting the stored instance.
func (t *Trade) Clone() *Trade {
	if t == nil {
		return nil
	}
	clone := *t
	if t.ExpectedDepositAccount != nil {
		account := *t.ExpectedDepositAccount
		clone.ExpectedDepositAccount = &account
	}
	if t.Amount != nil {
		clone.Amount = new(big.Int).Set(t.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	if t.Deposited != nil {
		clone.Deposited = new(big.Int).Set(t.Deposited)
	} else {
		clone.Deposited = big.NewInt(0)
	}
	clone.Payout = t.Payout.Clone()
	if t.Withdrawal != nil {
		leg := t.Withdrawal.Clone()
		clone.Withdrawal = &leg
	}
	return &clone
}

// Settled reports whether every payout leg has been acknowledged.
func (t *Trade) Settled() bool {
	return t != nil && t.Payout.Complete()
}

// Residual returns the balance still held for the trade: the deposit minus
// every acknowledged leg and an acknowledged withdrawal.
func (t *Trade) Residual() *big.Int {
	residual := big.NewInt(0)
	if t == nil || t.Deposited == nil {
		return residual
	}
	residual.Set(t.Deposited)
	if t.Payout != nil {
		for _, leg := range t.Payout.Legs {
			if leg.acknowledged() && leg.Amount != nil {
				residual.Sub(residual, leg.Amount)
			}
		}
	}
	if t.Withdrawal != nil && t.Withdrawal.acknowledged() && t.Withdrawal.Amount != nil {
		residual.Sub(residual, t.Withdrawal.Amount)
	}
	if residual.Sign() < 0 {
		residual.SetInt64(0)
	}
	return residual
}

// Inert reports whether the trade has reached a terminal outcome and holds no
// balance. Inert trades accept no further action.
func (t *Trade) Inert() bool {
	if t == nil {
		return false
	}
	terminal := t.Cancelled || t.Settled() || (t.Withdrawal != nil && t.Withdrawal.acknowledged())
	return terminal && t.Residual().Sign() == 0
}

func (t *Trade) inFlight() bool {
	if t.Payout != nil {
		for _, leg := range t.Payout.Legs {
			if leg.inFlight() {
				return true
			}
		}
	}
	return t.Withdrawal != nil && t.Withdrawal.inFlight()
}

// TradeDefinition carries the immutable parameters of a new trade.
type TradeDefinition struct {
	Seller         [20]byte
	Buyer          [20]byte
	Admin          [20]byte
	DepositAccount *[20]byte
	Asset          string
	Amount         *big.Int
	CommissionBps  uint32
	FeeRecipients  [fees.Recipients][20]byte
	Deadline       int64
	Nonce          [32]byte
}

var assetPattern = regexp.MustCompile(`^[A-Z0-9._-]{1,16}$`)

// NormalizeAsset returns the canonical upper-case form of a token symbol.
func NormalizeAsset(symbol string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(symbol))
	if !assetPattern.MatchString(trimmed) {
		return "", fmt.Errorf("%w: %q", ErrInvalidAsset, symbol)
	}
	return trimmed, nil
}

// SanitizeTrade validates the supplied trade and returns a normalised clone
// with canonical asset casing and non-nil amounts. The original is not
// mutated.
func SanitizeTrade(t *Trade) (*Trade, error) {
	if t == nil {
		return nil, fmt.Errorf("escrow: nil trade")
	}
	clone := t.Clone()
	asset, err := NormalizeAsset(clone.Asset)
	if err != nil {
		return nil, err
	}
	clone.Asset = asset
	if clone.Amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if clone.CommissionBps > fees.BasisPoints {
		return nil, ErrInvalidCommission
	}
	if clone.Deposited.Sign() < 0 || clone.Deposited.Cmp(clone.Amount) > 0 {
		return nil, fmt.Errorf("escrow: deposited %s outside [0, %s]", clone.Deposited, clone.Amount)
	}
	if clone.DepositVerified && clone.Deposited.Cmp(clone.Amount) != 0 {
		return nil, fmt.Errorf("escrow: verified deposit does not match amount")
	}
	if clone.Deadline < 0 {
		return nil, ErrInvalidDeadline
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("escrow: invalid status %d", clone.Status)
	}
	return clone, nil
}
