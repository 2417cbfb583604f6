package state

import (
	"fmt"
	"math/big"

	"github.com/Ayush1832/tg-escrow-bot-sub001/native/escrow"
	"github.com/Ayush1832/tg-escrow-bot-sub001/native/fees"
)

var (
	tradePrefix       = []byte("escrow/trade/")
	participantPrefix = []byte("escrow/participant/")
	tradeIndexAllKey  = []byte("escrow/index/all")
)

func tradeKey(id [32]byte) []byte {
	return append(append([]byte(nil), tradePrefix...), id[:]...)
}

func participantKey(account [20]byte) []byte {
	return append(append([]byte(nil), participantPrefix...), account[:]...)
}

type storedLeg struct {
	Recipient   [20]byte
	Amount      *big.Int
	Attempts    uint32
	Token       string
	State       uint8
	Outstanding []uint32
}

type storedPayout struct {
	Kind      uint8
	Trigger   string
	Principal *big.Int
	Fees      [fees.Recipients]*big.Int
	Legs      [escrow.LegCount]storedLeg
	Progress  uint8
}

// storedTrade is the RLP layout of a trade. RLP has no signed integers or
// optional fields, so timestamps are unsigned and optional parts carry a
// presence flag.
type storedTrade struct {
	ID                [32]byte
	Seller            [20]byte
	Buyer             [20]byte
	Admin             [20]byte
	HasDepositAccount bool
	DepositAccount    [20]byte
	Asset             string
	Amount            *big.Int
	CommissionBps     uint32
	FeeRecipients     [fees.Recipients][20]byte
	Status            uint8
	Deposited         *big.Int
	DepositVerified   bool
	Deadline          uint64
	CreatedAt         uint64
	HasPayout         bool
	Payout            storedPayout
	Cancelled         bool
	HasWithdrawal     bool
	Withdrawal        storedLeg
	Withdrawn         bool
}

func nonNil(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func toStoredLeg(l escrow.Leg) storedLeg {
	return storedLeg{
		Recipient:   l.Recipient,
		Amount:      nonNil(l.Amount),
		Attempts:    l.Attempts,
		Token:       l.Token,
		State:       uint8(l.State),
		Outstanding: append([]uint32{}, l.Outstanding...),
	}
}

func (s storedLeg) toLeg() escrow.Leg {
	leg := escrow.Leg{
		Recipient: s.Recipient,
		Amount:    nonNil(s.Amount),
		Attempts:  s.Attempts,
		Token:     s.Token,
		State:     escrow.LegState(s.State),
	}
	if len(s.Outstanding) > 0 {
		leg.Outstanding = append([]uint32(nil), s.Outstanding...)
	}
	return leg
}

func newStoredTrade(t *escrow.Trade) (*storedTrade, error) {
	if t.Deadline < 0 || t.CreatedAt < 0 {
		return nil, fmt.Errorf("state: negative timestamp on trade %x", t.ID)
	}
	record := &storedTrade{
		ID:              t.ID,
		Seller:          t.Seller,
		Buyer:           t.Buyer,
		Admin:           t.Admin,
		Asset:           t.Asset,
		Amount:          nonNil(t.Amount),
		CommissionBps:   t.CommissionBps,
		FeeRecipients:   t.FeeRecipients,
		Status:          uint8(t.Status),
		Deposited:       nonNil(t.Deposited),
		DepositVerified: t.DepositVerified,
		Deadline:        uint64(t.Deadline),
		CreatedAt:       uint64(t.CreatedAt),
		Cancelled:       t.Cancelled,
		Withdrawn:       t.Withdrawn,
		Withdrawal:      storedLeg{Amount: big.NewInt(0)},
	}
	record.Payout.Principal = big.NewInt(0)
	for i := range record.Payout.Fees {
		record.Payout.Fees[i] = big.NewInt(0)
	}
	for i := range record.Payout.Legs {
		record.Payout.Legs[i].Amount = big.NewInt(0)
	}
	if t.ExpectedDepositAccount != nil {
		record.HasDepositAccount = true
		record.DepositAccount = *t.ExpectedDepositAccount
	}
	if p := t.Payout; p != nil {
		record.HasPayout = true
		record.Payout.Kind = uint8(p.Kind)
		record.Payout.Trigger = p.Trigger
		record.Payout.Principal = nonNil(p.Split.Principal)
		for i, fee := range p.Split.Fees {
			record.Payout.Fees[i] = nonNil(fee)
		}
		for i, leg := range p.Legs {
			record.Payout.Legs[i] = toStoredLeg(leg)
		}
		record.Payout.Progress = p.Progress
	}
	if t.Withdrawal != nil {
		record.HasWithdrawal = true
		record.Withdrawal = toStoredLeg(*t.Withdrawal)
	}
	return record, nil
}

func (s *storedTrade) toTrade() *escrow.Trade {
	trade := &escrow.Trade{
		ID:              s.ID,
		Seller:          s.Seller,
		Buyer:           s.Buyer,
		Admin:           s.Admin,
		Asset:           s.Asset,
		Amount:          nonNil(s.Amount),
		CommissionBps:   s.CommissionBps,
		FeeRecipients:   s.FeeRecipients,
		Status:          escrow.TradeStatus(s.Status),
		Deposited:       nonNil(s.Deposited),
		DepositVerified: s.DepositVerified,
		Deadline:        int64(s.Deadline),
		CreatedAt:       int64(s.CreatedAt),
		Cancelled:       s.Cancelled,
		Withdrawn:       s.Withdrawn,
	}
	if s.HasDepositAccount {
		account := s.DepositAccount
		trade.ExpectedDepositAccount = &account
	}
	if s.HasPayout {
		payout := &escrow.Payout{
			Kind:     escrow.PayoutKind(s.Payout.Kind),
			Trigger:  s.Payout.Trigger,
			Split:    fees.Breakdown{Principal: nonNil(s.Payout.Principal)},
			Progress: s.Payout.Progress,
		}
		for i, fee := range s.Payout.Fees {
			payout.Split.Fees[i] = nonNil(fee)
		}
		for i, leg := range s.Payout.Legs {
			payout.Legs[i] = leg.toLeg()
		}
		trade.Payout = payout
	}
	if s.HasWithdrawal {
		leg := s.Withdrawal.toLeg()
		trade.Withdrawal = &leg
	}
	return trade
}

// TradePut persists a trade and indexes it under each participant.
func (m *Manager) TradePut(t *escrow.Trade) error {
	if t == nil {
		return fmt.Errorf("state: nil trade")
	}
	sanitized, err := escrow.SanitizeTrade(t)
	if err != nil {
		return err
	}
	record, err := newStoredTrade(sanitized)
	if err != nil {
		return err
	}
	existed, err := m.KVGet(tradeKey(t.ID), nil)
	if err != nil {
		return err
	}
	if err := m.KVPut(tradeKey(t.ID), record); err != nil {
		return err
	}
	if existed {
		return nil
	}
	if err := m.KVAppend(tradeIndexAllKey, t.ID[:]); err != nil {
		return err
	}
	for _, account := range [][20]byte{t.Seller, t.Buyer, t.Admin} {
		if err := m.KVAppend(participantKey(account), t.ID[:]); err != nil {
			return err
		}
	}
	return nil
}

// TradeGet loads a trade by identifier.
func (m *Manager) TradeGet(id [32]byte) (*escrow.Trade, bool, error) {
	var record storedTrade
	ok, err := m.KVGet(tradeKey(id), &record)
	if err != nil {
		return nil, false, fmt.Errorf("state: load trade %x: %w", id[:4], err)
	}
	if !ok {
		return nil, false, nil
	}
	return record.toTrade(), true, nil
}

func decodeIDs(raw [][]byte) ([][32]byte, error) {
	out := make([][32]byte, 0, len(raw))
	for _, entry := range raw {
		if len(entry) != 32 {
			return nil, fmt.Errorf("state: malformed trade index entry")
		}
		var id [32]byte
		copy(id[:], entry)
		out = append(out, id)
	}
	return out, nil
}

// TradeIDs lists every stored trade in creation order.
func (m *Manager) TradeIDs() ([][32]byte, error) {
	var raw [][]byte
	if err := m.KVGetList(tradeIndexAllKey, &raw); err != nil {
		return nil, err
	}
	return decodeIDs(raw)
}

// TradesFor lists the trades in which account is seller, buyer or admin.
func (m *Manager) TradesFor(account [20]byte) ([][32]byte, error) {
	var raw [][]byte
	if err := m.KVGetList(participantKey(account), &raw); err != nil {
		return nil, err
	}
	return decodeIDs(raw)
}
