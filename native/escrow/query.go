package escrow

import "math/big"

// LegView is the read-only projection of a payout or withdrawal leg.
type LegView struct {
	Leg       uint8
	Name      string
	Recipient [20]byte
	Amount    *big.Int
	Attempts  uint32
	Token     string
	State     LegState
	InFlight  int
}

// StatusView is the read-only projection of a trade used by monitoring and
// reporting surfaces.
type StatusView struct {
	ID                     [32]byte
	Seller                 [20]byte
	Buyer                  [20]byte
	Admin                  [20]byte
	ExpectedDepositAccount *[20]byte
	Status                 TradeStatus
	Asset                  string
	Amount                 *big.Int
	Deposited              *big.Int
	DepositVerified        bool
	Deadline               int64
	CommissionBps          uint32
	CreatedAt              int64
	PayoutProgress         uint8
	PayoutKind             string
	PayoutTrigger          string
	Legs                   []LegView
	Withdrawal             *LegView
	Withdrawn              bool
	Cancelled              bool
	Settled                bool
	Residual               *big.Int
}

// AcknowledgedLegs counts the set bits of the payout progress mask.
func (v StatusView) AcknowledgedLegs() int {
	count := 0
	for i := uint8(0); i < LegCount; i++ {
		if v.PayoutProgress&(1<<i) != 0 {
			count++
		}
	}
	return count
}

func legView(index uint8, leg Leg) LegView {
	clone := leg.Clone()
	return LegView{
		Leg:       index,
		Name:      LegName(index),
		Recipient: clone.Recipient,
		Amount:    clone.Amount,
		Attempts:  clone.Attempts,
		Token:     clone.Token,
		State:     clone.State,
		InFlight:  len(clone.Outstanding),
	}
}

// NewStatusView projects a trade into its status view.
func NewStatusView(t *Trade) StatusView {
	t = t.Clone()
	view := StatusView{
		ID:                     t.ID,
		Seller:                 t.Seller,
		Buyer:                  t.Buyer,
		Admin:                  t.Admin,
		ExpectedDepositAccount: t.ExpectedDepositAccount,
		Status:                 t.Status,
		Asset:                  t.Asset,
		Amount:                 t.Amount,
		Deposited:              t.Deposited,
		DepositVerified:        t.DepositVerified,
		Deadline:               t.Deadline,
		CommissionBps:          t.CommissionBps,
		CreatedAt:              t.CreatedAt,
		Withdrawn:              t.Withdrawn,
		Cancelled:              t.Cancelled,
		Settled:                t.Settled(),
		Residual:               t.Residual(),
	}
	if t.Payout != nil {
		view.PayoutProgress = t.Payout.Progress
		view.PayoutKind = t.Payout.Kind.String()
		view.PayoutTrigger = t.Payout.Trigger
		for i, leg := range t.Payout.Legs {
			view.Legs = append(view.Legs, legView(uint8(i), leg))
		}
	}
	if t.Withdrawal != nil {
		w := legView(LegWithdrawal, *t.Withdrawal)
		view.Withdrawal = &w
	}
	return view
}

// Status returns the read-only view of a trade. It never mutates state and is
// not subject to the pause guard.
func (e *Engine) Status(id [32]byte) (StatusView, error) {
	trade, err := e.loadTrade(id)
	if err != nil {
		return StatusView{}, err
	}
	return NewStatusView(trade), nil
}
