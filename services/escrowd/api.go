package escrowd

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/Ayush1832/tg-escrow-bot-sub001/crypto"
	"github.com/Ayush1832/tg-escrow-bot-sub001/native/escrow"
	"github.com/Ayush1832/tg-escrow-bot-sub001/native/fees"
)

// CreateTradeRequest is the body of POST /v1/trades. Amounts are decimal
// strings and accounts bech32.
type CreateTradeRequest struct {
	Seller         string   `json:"seller"`
	Buyer          string   `json:"buyer"`
	Admin          string   `json:"admin"`
	DepositAccount string   `json:"deposit_account,omitempty"`
	Asset          string   `json:"asset"`
	Amount         string   `json:"amount"`
	CommissionBps  uint32   `json:"commission_bps"`
	FeeRecipients  []string `json:"fee_recipients"`
	Deadline       int64    `json:"deadline,omitempty"`
	Nonce          string   `json:"nonce,omitempty"`
}

// AccountRequest carries a single account, used for binding and withdrawals.
type AccountRequest struct {
	Account string `json:"account"`
}

// DepositRequest is a funding notification from the transport.
type DepositRequest struct {
	Amount     string `json:"amount"`
	Sender     string `json:"sender"`
	Subaccount string `json:"subaccount"`
}

// ResolveRequest selects the arbitration outcome: "buyer" or "seller".
type ResolveRequest struct {
	Outcome string `json:"outcome"`
}

// TransferResultRequest reports a transfer outcome from the transport.
type TransferResultRequest struct {
	TradeID   string `json:"trade_id"`
	Token     string `json:"token"`
	Delivered bool   `json:"delivered"`
}

// LegResponse is the JSON form of a payout leg.
type LegResponse struct {
	Leg       uint8  `json:"leg"`
	Name      string `json:"name"`
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
	Attempts  uint32 `json:"attempts"`
	Token     string `json:"token,omitempty"`
	State     string `json:"state"`
	InFlight  int    `json:"in_flight"`
}

// PayoutResponse is the JSON form of an initiated payout.
type PayoutResponse struct {
	Kind     string        `json:"kind"`
	Trigger  string        `json:"trigger"`
	Progress uint8         `json:"progress"`
	Legs     []LegResponse `json:"legs"`
}

// TradeResponse is the JSON form of a trade status view.
type TradeResponse struct {
	ID              string          `json:"id"`
	Seller          string          `json:"seller"`
	Buyer           string          `json:"buyer"`
	Admin           string          `json:"admin"`
	DepositAccount  string          `json:"deposit_account,omitempty"`
	Status          string          `json:"status"`
	Asset           string          `json:"asset"`
	Amount          string          `json:"amount"`
	Deposited       string          `json:"deposited"`
	DepositVerified bool            `json:"deposit_verified"`
	Deadline        int64           `json:"deadline"`
	CommissionBps   uint32          `json:"commission_bps"`
	CreatedAt       int64           `json:"created_at"`
	Payout          *PayoutResponse `json:"payout,omitempty"`
	Withdrawal      *LegResponse    `json:"withdrawal,omitempty"`
	Withdrawn       bool            `json:"withdrawn"`
	Cancelled       bool            `json:"cancelled"`
	Settled         bool            `json:"settled"`
	Residual        string          `json:"residual"`
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func newLegResponse(view escrow.LegView) LegResponse {
	return LegResponse{
		Leg:       view.Leg,
		Name:      view.Name,
		Recipient: crypto.FormatAccount(view.Recipient),
		Amount:    amountString(view.Amount),
		Attempts:  view.Attempts,
		Token:     view.Token,
		State:     view.State.String(),
		InFlight:  view.InFlight,
	}
}

// NewTradeResponse converts a status view into its JSON form.
func NewTradeResponse(view escrow.StatusView) TradeResponse {
	resp := TradeResponse{
		ID:              tradeHex(view.ID),
		Seller:          crypto.FormatAccount(view.Seller),
		Buyer:           crypto.FormatAccount(view.Buyer),
		Admin:           crypto.FormatAccount(view.Admin),
		Status:          view.Status.String(),
		Asset:           view.Asset,
		Amount:          amountString(view.Amount),
		Deposited:       amountString(view.Deposited),
		DepositVerified: view.DepositVerified,
		Deadline:        view.Deadline,
		CommissionBps:   view.CommissionBps,
		CreatedAt:       view.CreatedAt,
		Withdrawn:       view.Withdrawn,
		Cancelled:       view.Cancelled,
		Settled:         view.Settled,
		Residual:        amountString(view.Residual),
	}
	if view.ExpectedDepositAccount != nil {
		resp.DepositAccount = crypto.FormatAccount(*view.ExpectedDepositAccount)
	}
	if len(view.Legs) > 0 {
		payout := &PayoutResponse{
			Kind:     view.PayoutKind,
			Trigger:  view.PayoutTrigger,
			Progress: view.PayoutProgress,
		}
		for _, leg := range view.Legs {
			payout.Legs = append(payout.Legs, newLegResponse(leg))
		}
		resp.Payout = payout
	}
	if view.Withdrawal != nil {
		w := newLegResponse(*view.Withdrawal)
		resp.Withdrawal = &w
	}
	return resp
}

// parseTradeID decodes a hex trade identifier.
func parseTradeID(raw string) ([32]byte, error) {
	var id [32]byte
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	decoded, err := hex.DecodeString(raw)
	if err != nil || len(decoded) != len(id) {
		return id, fmt.Errorf("trade id must be 32 hex-encoded bytes")
	}
	copy(id[:], decoded)
	return id, nil
}

func parseAmount(raw string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q is not a decimal integer", escrow.ErrInvalidAmount, raw)
	}
	return amount, nil
}

func parseAccountField(field, raw string) ([20]byte, error) {
	account, err := crypto.ParseAccount(strings.TrimSpace(raw))
	if err != nil {
		return account, fmt.Errorf("%w: %s: %v", escrow.ErrInvalidAccount, field, err)
	}
	return account, nil
}

// Definition converts the request into an engine definition. A missing
// nonce is drawn at random, which makes the request non-idempotent.
func (r CreateTradeRequest) Definition() (escrow.TradeDefinition, error) {
	var def escrow.TradeDefinition
	var err error
	if def.Seller, err = parseAccountField("seller", r.Seller); err != nil {
		return def, err
	}
	if def.Buyer, err = parseAccountField("buyer", r.Buyer); err != nil {
		return def, err
	}
	if def.Admin, err = parseAccountField("admin", r.Admin); err != nil {
		return def, err
	}
	if strings.TrimSpace(r.DepositAccount) != "" {
		account, err := parseAccountField("deposit_account", r.DepositAccount)
		if err != nil {
			return def, err
		}
		def.DepositAccount = &account
	}
	if len(r.FeeRecipients) != fees.Recipients {
		return def, fmt.Errorf("%w: exactly %d fee recipients required", escrow.ErrInvalidAccount, fees.Recipients)
	}
	for i, raw := range r.FeeRecipients {
		if def.FeeRecipients[i], err = parseAccountField(fmt.Sprintf("fee_recipients[%d]", i), raw); err != nil {
			return def, err
		}
	}
	if def.Amount, err = parseAmount(r.Amount); err != nil {
		return def, err
	}
	def.Asset = r.Asset
	def.CommissionBps = r.CommissionBps
	def.Deadline = r.Deadline
	if nonce := strings.TrimPrefix(strings.TrimSpace(r.Nonce), "0x"); nonce != "" {
		decoded, err := hex.DecodeString(nonce)
		if err != nil || len(decoded) > len(def.Nonce) {
			return def, fmt.Errorf("nonce must be at most 32 hex-encoded bytes")
		}
		copy(def.Nonce[len(def.Nonce)-len(decoded):], decoded)
	} else if _, err := rand.Read(def.Nonce[:]); err != nil {
		return def, fmt.Errorf("draw nonce: %w", err)
	}
	return def, nil
}
