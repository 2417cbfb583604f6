package escrowd

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Ayush1832/tg-escrow-bot-sub001/core/mailbox"
	"github.com/Ayush1832/tg-escrow-bot-sub001/core/state"
	"github.com/Ayush1832/tg-escrow-bot-sub001/crypto"
	nativecommon "github.com/Ayush1832/tg-escrow-bot-sub001/native/common"
	"github.com/Ayush1832/tg-escrow-bot-sub001/native/escrow"
	"github.com/Ayush1832/tg-escrow-bot-sub001/observability"
)

// Action names used in audit entries, metrics and logs.
const (
	ActionCreate         = "create"
	ActionBind           = "bind_deposit_account"
	ActionDeposit        = "deposit"
	ActionConfirm        = "confirm"
	ActionDispute        = "dispute"
	ActionResolveBuyer   = "resolve_buyer"
	ActionResolveSeller  = "resolve_seller"
	ActionCancel         = "cancel"
	ActionClaim          = "claim"
	ActionWithdraw       = "emergency_withdraw"
	ActionRetry          = "retry"
	ActionTransferResult = "transfer_result"
	ActionPause          = "pause"
	ActionResume         = "resume"
)

// Call identifies who issued an action. Caller is empty for system callers
// such as the dispatcher; Name then labels them in the audit log.
type Call struct {
	RequestID string
	Caller    [20]byte
	Name      string
}

func (c Call) callerLabel() string {
	if c.Caller != ([20]byte{}) {
		return crypto.FormatAccount(c.Caller)
	}
	if c.Name != "" {
		return c.Name
	}
	return "system"
}

// Service runs engine actions one at a time per trade and records every
// attempt.
type Service struct {
	engine  *escrow.Engine
	trades  *state.Manager
	mailbox *mailbox.Mailbox[[32]byte]
	pauses  *nativecommon.Pauses
	audit   *AuditLog
	metrics *observability.EscrowMetrics
	logger  *slog.Logger
}

// ServiceConfig wires a Service. Engine, Trades and Mailbox are required.
type ServiceConfig struct {
	Engine  *escrow.Engine
	Trades  *state.Manager
	Mailbox *mailbox.Mailbox[[32]byte]
	Pauses  *nativecommon.Pauses
	Audit   *AuditLog
	Metrics *observability.EscrowMetrics
	Logger  *slog.Logger
}

// NewService validates cfg and builds the service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Engine == nil || cfg.Trades == nil || cfg.Mailbox == nil {
		return nil, fmt.Errorf("escrowd: engine, trades and mailbox are required")
	}
	if cfg.Pauses == nil {
		cfg.Pauses = nativecommon.NewPauses()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		engine:  cfg.Engine,
		trades:  cfg.Trades,
		mailbox: cfg.Mailbox,
		pauses:  cfg.Pauses,
		audit:   cfg.Audit,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
	}, nil
}

func tradeHex(id [32]byte) string { return hex.EncodeToString(id[:]) }

func outcomeClass(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, nativecommon.ErrModulePaused):
		return "paused"
	case escrow.IsAuthorization(err):
		return "unauthorized"
	case escrow.IsValidation(err):
		return "invalid"
	case escrow.IsRejection(err):
		return "rejected"
	default:
		return "error"
	}
}

func (s *Service) record(ctx context.Context, call Call, tradeID, action, kind string, err error) {
	class := outcomeClass(err)
	s.metrics.RecordAction(action, class)

	entry := AuditEntry{
		RequestID: call.RequestID,
		TradeID:   tradeID,
		Action:    action,
		Caller:    call.callerLabel(),
		Outcome:   AuditOutcomeAccepted,
		Kind:      kind,
	}
	attrs := []any{"trade", tradeID, "action", action, "caller", entry.Caller, "request", call.RequestID}
	switch {
	case err == nil:
		s.logger.Info("trade action accepted", attrs...)
	case class != "error":
		entry.Outcome = AuditOutcomeRejected
		entry.Error = err.Error()
		s.logger.Info("trade action rejected", append(attrs, "outcome", class, "error", err)...)
	default:
		entry.Outcome = AuditOutcomeFailed
		entry.Error = err.Error()
		s.logger.Error("trade action failed", append(attrs, "error", err)...)
	}
	if auditErr := s.audit.Record(context.WithoutCancel(ctx), entry); auditErr != nil {
		s.logger.Error("write audit entry", "trade", tradeID, "action", action, "error", auditErr)
	}
}

// do runs fn on the trade's mailbox and records the attempt.
func (s *Service) do(ctx context.Context, call Call, id [32]byte, action, kind string, fn func() error) error {
	err := s.mailbox.Do(ctx, id, fn)
	s.record(ctx, call, tradeHex(id), action, kind, err)
	return err
}

// Create opens a trade. Repeating an identical definition returns the
// existing trade.
func (s *Service) Create(ctx context.Context, call Call, def escrow.TradeDefinition) (escrow.StatusView, error) {
	id := escrow.TradeID(def.Seller, def.Buyer, def.Nonce)
	var view escrow.StatusView
	err := s.do(ctx, call, id, ActionCreate, AuditKindNormal, func() error {
		trade, err := s.engine.Create(def)
		if err != nil {
			return err
		}
		view = escrow.NewStatusView(trade)
		return nil
	})
	return view, err
}

// Status returns the read-only view of a trade.
func (s *Service) Status(id [32]byte) (escrow.StatusView, error) {
	return s.engine.Status(id)
}

// TradesFor lists the trades in which account participates.
func (s *Service) TradesFor(account [20]byte) ([]escrow.StatusView, error) {
	ids, err := s.trades.TradesFor(account)
	if err != nil {
		return nil, err
	}
	views := make([]escrow.StatusView, 0, len(ids))
	for _, id := range ids {
		view, err := s.engine.Status(id)
		if err != nil {
			return nil, err
		}
		views = append(views, view)
	}
	return views, nil
}

// BindDepositAccount fixes the account the trade accepts its deposit from.
func (s *Service) BindDepositAccount(ctx context.Context, call Call, id [32]byte, account [20]byte) error {
	return s.do(ctx, call, id, ActionBind, AuditKindNormal, func() error {
		return s.engine.BindDepositAccount(id, call.Caller, account)
	})
}

// Deposit delivers a funding notification.
func (s *Service) Deposit(ctx context.Context, call Call, id [32]byte, deposit escrow.Deposit) error {
	return s.do(ctx, call, id, ActionDeposit, AuditKindNormal, func() error {
		return s.engine.HandleDeposit(id, deposit)
	})
}

func (s *Service) ConfirmDelivery(ctx context.Context, call Call, id [32]byte) error {
	return s.do(ctx, call, id, ActionConfirm, AuditKindNormal, func() error {
		return s.engine.ConfirmDelivery(id, call.Caller)
	})
}

func (s *Service) RaiseDispute(ctx context.Context, call Call, id [32]byte) error {
	return s.do(ctx, call, id, ActionDispute, AuditKindNormal, func() error {
		return s.engine.RaiseDispute(id, call.Caller)
	})
}

// Resolve settles a trade in favour of the buyer or the seller.
func (s *Service) Resolve(ctx context.Context, call Call, id [32]byte, toBuyer bool) error {
	if toBuyer {
		return s.do(ctx, call, id, ActionResolveBuyer, AuditKindNormal, func() error {
			return s.engine.ResolveToBuyer(id, call.Caller)
		})
	}
	return s.do(ctx, call, id, ActionResolveSeller, AuditKindNormal, func() error {
		return s.engine.ResolveToSeller(id, call.Caller)
	})
}

func (s *Service) Cancel(ctx context.Context, call Call, id [32]byte) error {
	return s.do(ctx, call, id, ActionCancel, AuditKindNormal, func() error {
		return s.engine.CancelIfNoDeposit(id, call.Caller)
	})
}

func (s *Service) ClaimExpired(ctx context.Context, call Call, id [32]byte) error {
	return s.do(ctx, call, id, ActionClaim, AuditKindNormal, func() error {
		return s.engine.ClaimExpired(id, call.Caller)
	})
}

// EmergencyWithdraw is audited as an emergency action.
func (s *Service) EmergencyWithdraw(ctx context.Context, call Call, id [32]byte, recipient [20]byte) error {
	return s.do(ctx, call, id, ActionWithdraw, AuditKindEmergency, func() error {
		return s.engine.EmergencyWithdraw(id, call.Caller, recipient)
	})
}

func (s *Service) RetryPayout(ctx context.Context, call Call, id [32]byte) error {
	return s.do(ctx, call, id, ActionRetry, AuditKindNormal, func() error {
		return s.engine.RetryPayout(id, call.Caller)
	})
}

// ReportTransfer feeds a transfer outcome back into its trade.
func (s *Service) ReportTransfer(ctx context.Context, call Call, id [32]byte, result escrow.TransferResult) error {
	return s.do(ctx, call, id, ActionTransferResult, AuditKindNormal, func() error {
		return s.engine.HandleTransferResult(id, result)
	})
}

// SetPaused toggles the engine pause guard. Transfer results keep flowing
// while paused.
func (s *Service) SetPaused(ctx context.Context, call Call, paused bool) {
	s.pauses.Set(escrow.ModuleName, paused)
	action := ActionResume
	if paused {
		action = ActionPause
	}
	s.record(ctx, call, "", action, AuditKindEmergency, nil)
}

// Paused reports whether the engine pause guard is engaged.
func (s *Service) Paused() bool {
	return s.pauses.IsPaused(escrow.ModuleName)
}

// Audit returns recent audit entries for a trade.
func (s *Service) Audit(ctx context.Context, id [32]byte, limit int) ([]AuditEntry, error) {
	return s.audit.ForTrade(ctx, tradeHex(id), limit)
}
