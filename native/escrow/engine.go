package escrow

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/Ayush1832/tg-escrow-bot-sub001/core/events"
	"github.com/Ayush1832/tg-escrow-bot-sub001/core/types"
	nativecommon "github.com/Ayush1832/tg-escrow-bot-sub001/native/common"
	"github.com/Ayush1832/tg-escrow-bot-sub001/native/fees"
)

// ModuleName is the pause-guard key of the escrow engine.
const ModuleName = "escrow"

type engineState interface {
	TradeGet(id [32]byte) (*Trade, bool, error)
	TradePut(*Trade) error
}

// Transfer is an outbound disbursement request. Token is unique per
// (trade, leg, attempt) so the transport can correlate the result.
type Transfer struct {
	TradeID   [32]byte
	Leg       uint8
	Recipient [20]byte
	Asset     string
	Amount    *big.Int
	Token     string
	Attempt   uint32
}

// Outbox receives transfers once the action that produced them has been
// persisted. Delivery is fire-and-forget from the engine's point of view.
type Outbox interface {
	Enqueue(Transfer)
}

// NoopOutbox discards every transfer.
type NoopOutbox struct{}

// Enqueue implements Outbox.
func (NoopOutbox) Enqueue(Transfer) {}

// Engine applies trade actions against the configured state. It holds no
// locks: callers must serialize actions per trade.
type Engine struct {
	state   engineState
	emitter events.Emitter
	outbox  Outbox
	nowFn   func() int64
	pauses  nativecommon.PauseView
}

// NewEngine creates an escrow engine with a no-op emitter and outbox.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		outbox:  NoopOutbox{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetOutbox configures where outbound transfers are delivered.
func (e *Engine) SetOutbox(outbox Outbox) {
	if outbox == nil {
		e.outbox = NoopOutbox{}
		return
	}
	e.outbox = outbox
}

// SetPauses wires the pause view consulted before every mutating action.
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(escrowEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) loadTrade(id [32]byte) (*Trade, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	trade, ok, err := e.state.TradeGet(id)
	if err != nil {
		return nil, fmt.Errorf("escrow: load trade: %w", err)
	}
	if !ok || trade == nil {
		return nil, ErrTradeNotFound
	}
	return trade, nil
}

// effects collects what an action produces. They are released only after the
// mutated trade is persisted.
type effects struct {
	events    []*types.Event
	transfers []Transfer
}

func (fx *effects) emit(evt *types.Event) { fx.events = append(fx.events, evt) }

func (fx *effects) send(t Transfer) { fx.transfers = append(fx.transfers, t) }

// errUnchanged lets an action succeed without persisting anything.
var errUnchanged = errors.New("escrow: unchanged")

// apply runs fn against a working copy of the trade. A failing fn leaves the
// stored trade untouched and releases no effects.
func (e *Engine) apply(id [32]byte, guarded bool, fn func(*Trade, *effects) error) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if guarded {
		if err := nativecommon.Guard(e.pauses, ModuleName); err != nil {
			return err
		}
	}
	stored, err := e.loadTrade(id)
	if err != nil {
		return err
	}
	working := stored.Clone()
	fx := &effects{}
	if err := fn(working, fx); err != nil {
		if errors.Is(err, errUnchanged) {
			return nil
		}
		return err
	}
	if err := e.state.TradePut(working); err != nil {
		return fmt.Errorf("escrow: persist trade: %w", err)
	}
	for _, evt := range fx.events {
		e.emit(evt)
	}
	for _, transfer := range fx.transfers {
		e.outbox.Enqueue(transfer)
	}
	return nil
}

// TradeID derives the deterministic identifier of a trade.
func TradeID(seller, buyer [20]byte, nonce [32]byte) [32]byte {
	var id [32]byte
	copy(id[:], ethcrypto.Keccak256(seller[:], buyer[:], nonce[:]))
	return id
}

func validateDefinition(def TradeDefinition, now int64) (TradeDefinition, error) {
	if def.Amount == nil || def.Amount.Sign() <= 0 {
		return def, ErrInvalidAmount
	}
	if def.CommissionBps > fees.BasisPoints {
		return def, ErrInvalidCommission
	}
	zero := [20]byte{}
	if def.Seller == zero || def.Buyer == zero || def.Admin == zero {
		return def, fmt.Errorf("%w: seller, buyer and admin are required", ErrInvalidAccount)
	}
	if def.Seller == def.Buyer || def.Admin == def.Seller || def.Admin == def.Buyer {
		return def, fmt.Errorf("%w: seller, buyer and admin must differ", ErrInvalidAccount)
	}
	for i, recipient := range def.FeeRecipients {
		if recipient == zero {
			return def, fmt.Errorf("%w: fee recipient %d missing", ErrInvalidAccount, i+1)
		}
	}
	if def.DepositAccount != nil && *def.DepositAccount == zero {
		return def, fmt.Errorf("%w: deposit account", ErrInvalidAccount)
	}
	if def.Deadline < 0 || (def.Deadline != 0 && def.Deadline <= now) {
		return def, ErrInvalidDeadline
	}
	asset, err := NormalizeAsset(def.Asset)
	if err != nil {
		return def, err
	}
	def.Asset = asset
	return def, nil
}

func sameDefinition(t *Trade, def TradeDefinition) bool {
	if t.Seller != def.Seller || t.Buyer != def.Buyer || t.Admin != def.Admin {
		return false
	}
	if t.Asset != def.Asset || t.Amount.Cmp(def.Amount) != 0 || t.CommissionBps != def.CommissionBps {
		return false
	}
	return t.FeeRecipients == def.FeeRecipients && t.Deadline == def.Deadline
}

// Create persists a new trade in PendingDeposit. Creating a trade whose
// identifier already exists returns the stored trade when the definition is
// identical and ErrTradeExists otherwise.
func (e *Engine) Create(def TradeDefinition) (*Trade, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if err := nativecommon.Guard(e.pauses, ModuleName); err != nil {
		return nil, err
	}
	now := e.now()
	def, err := validateDefinition(def, now)
	if err != nil {
		return nil, err
	}
	id := TradeID(def.Seller, def.Buyer, def.Nonce)
	existing, ok, err := e.state.TradeGet(id)
	if err != nil {
		return nil, fmt.Errorf("escrow: load trade: %w", err)
	}
	if ok && existing != nil {
		if sameDefinition(existing, def) {
			return existing.Clone(), nil
		}
		return nil, ErrTradeExists
	}
	trade := &Trade{
		ID:            id,
		Seller:        def.Seller,
		Buyer:         def.Buyer,
		Admin:         def.Admin,
		Asset:         def.Asset,
		Amount:        new(big.Int).Set(def.Amount),
		CommissionBps: def.CommissionBps,
		FeeRecipients: def.FeeRecipients,
		Status:        TradeStatusPendingDeposit,
		Deposited:     big.NewInt(0),
		Deadline:      def.Deadline,
		CreatedAt:     now,
	}
	if def.DepositAccount != nil {
		account := *def.DepositAccount
		trade.ExpectedDepositAccount = &account
	}
	if err := e.state.TradePut(trade); err != nil {
		return nil, fmt.Errorf("escrow: persist trade: %w", err)
	}
	e.emit(NewTradeCreatedEvent(trade))
	return trade.Clone(), nil
}

// Get returns a copy of the stored trade.
func (e *Engine) Get(id [32]byte) (*Trade, error) {
	trade, err := e.loadTrade(id)
	if err != nil {
		return nil, err
	}
	return trade.Clone(), nil
}

// ConfirmDelivery lets the seller release the deposit to the buyer minus the
// commission.
func (e *Engine) ConfirmDelivery(id [32]byte, caller [20]byte) error {
	return e.apply(id, true, func(t *Trade, fx *effects) error {
		if err := requireSeller(t, caller); err != nil {
			return err
		}
		if err := requireReleasable(t, TradeStatusActive); err != nil {
			return err
		}
		return e.initiatePayout(t, PayoutRelease, TriggerConfirm, fx)
	})
}

// RaiseDispute moves an active trade into Dispute on behalf of the buyer.
func (e *Engine) RaiseDispute(id [32]byte, caller [20]byte) error {
	return e.apply(id, true, func(t *Trade, fx *effects) error {
		if err := requireBuyer(t, caller); err != nil {
			return err
		}
		if err := requireUnresolved(t); err != nil {
			return err
		}
		if t.Status != TradeStatusActive {
			return ErrNotActive
		}
		t.Status = TradeStatusDispute
		fx.emit(NewTradeDisputedEvent(t))
		return nil
	})
}

// CancelIfNoDeposit closes a trade that was never funded. The admin may cancel
// at any time; the seller only once the deadline has been reached.
func (e *Engine) CancelIfNoDeposit(id [32]byte, caller [20]byte) error {
	return e.apply(id, true, func(t *Trade, fx *effects) error {
		if caller != t.Seller && caller != t.Admin {
			return ErrNotSeller
		}
		if t.Payout != nil {
			return ErrPayoutAlreadyAttempted
		}
		if err := requireUnresolved(t); err != nil {
			return err
		}
		if t.Status != TradeStatusPendingDeposit {
			return ErrNotPendingDeposit
		}
		if t.Deposited.Sign() != 0 {
			return ErrAlreadyDeposited
		}
		if caller != t.Admin {
			if t.Deadline == 0 {
				return ErrNoDeadlineSet
			}
			if !deadlineReached(t, e.now()) {
				return ErrSellerMustWaitForDeadline
			}
		}
		t.Status = TradeStatusRefunded
		t.Cancelled = true
		fx.emit(NewTradeCancelledEvent(t, caller))
		return nil
	})
}

// ClaimExpired lets the buyer release a funded trade once its deadline has
// been reached without seller confirmation.
func (e *Engine) ClaimExpired(id [32]byte, caller [20]byte) error {
	return e.apply(id, true, func(t *Trade, fx *effects) error {
		if err := requireBuyer(t, caller); err != nil {
			return err
		}
		if err := requireReleasable(t, TradeStatusActive); err != nil {
			return err
		}
		if t.Deadline == 0 {
			return ErrNoDeadlineSet
		}
		if !deadlineReached(t, e.now()) {
			return ErrDeadlineNotReached
		}
		return e.initiatePayout(t, PayoutRelease, TriggerClaim, fx)
	})
}
