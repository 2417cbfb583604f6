package escrow

import (
	"errors"

	nativecommon "github.com/Ayush1832/tg-escrow-bot-sub001/native/common"
)

// Validation.
var (
	ErrInvalidAmount     = errors.New("escrow: amount must be positive")
	ErrInvalidCommission = errors.New("escrow: commission exceeds 10000 bps")
	ErrInvalidAccount    = errors.New("escrow: invalid account")
	ErrInvalidDeadline   = errors.New("escrow: invalid deadline")
	ErrInvalidAsset      = errors.New("escrow: invalid asset")
	ErrTradeExists       = errors.New("escrow: trade already exists with a different definition")
)

// Authorization.
var (
	ErrNotSeller = errors.New("escrow: caller is not the seller")
	ErrNotBuyer  = errors.New("escrow: caller is not the buyer")
	ErrNotAdmin  = errors.New("escrow: caller is not the admin")
)

// State.
var (
	ErrNotPendingDeposit = errors.New("escrow: trade is not pending deposit")
	ErrNotActive         = errors.New("escrow: trade is not active")
	ErrAlreadyResolved   = errors.New("escrow: trade already resolved")
)

// Funding.
var (
	ErrDepositMismatch       = errors.New("escrow: deposit does not match trade amount")
	ErrInvalidFundingChannel = errors.New("escrow: deposit from unexpected account")
	ErrAlreadyDeposited      = errors.New("escrow: deposit already recorded")
	ErrDepositNotVerified    = errors.New("escrow: deposit not verified")
	ErrDepositAccountBound   = errors.New("escrow: deposit account already bound")
)

// Timing.
var (
	ErrDeadlineNotReached        = errors.New("escrow: deadline not reached")
	ErrSellerMustWaitForDeadline = errors.New("escrow: seller must wait for deadline")
	ErrNoDeadlineSet             = errors.New("escrow: no deadline set")
)

// Payout.
var (
	ErrPayoutAlreadyAttempted = errors.New("escrow: payout already attempted")
	ErrNoPayoutInProgress     = errors.New("escrow: no payout in progress")
	ErrTransferInFlight       = errors.New("escrow: transfer in flight")
	ErrNothingToWithdraw      = errors.New("escrow: nothing to withdraw")
	ErrUnknownTransfer        = errors.New("escrow: unknown transfer token")
)

var (
	ErrTradeNotFound = errors.New("escrow: trade not found")
	ErrNilState      = errors.New("escrow: state not configured")
)

var rejections = []error{
	ErrInvalidAmount, ErrInvalidCommission, ErrInvalidAccount, ErrInvalidDeadline, ErrInvalidAsset, ErrTradeExists,
	ErrNotSeller, ErrNotBuyer, ErrNotAdmin,
	ErrNotPendingDeposit, ErrNotActive, ErrAlreadyResolved,
	ErrDepositMismatch, ErrInvalidFundingChannel, ErrAlreadyDeposited, ErrDepositNotVerified, ErrDepositAccountBound,
	ErrDeadlineNotReached, ErrSellerMustWaitForDeadline, ErrNoDeadlineSet,
	ErrPayoutAlreadyAttempted, ErrNoPayoutInProgress, ErrTransferInFlight, ErrNothingToWithdraw, ErrUnknownTransfer,
	ErrTradeNotFound, nativecommon.ErrModulePaused,
}

// IsRejection reports whether err is a terminal rejection of a single action
// attempt as opposed to an infrastructure failure.
func IsRejection(err error) bool {
	if err == nil {
		return false
	}
	for _, target := range rejections {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsAuthorization reports whether err rejects the caller's role.
func IsAuthorization(err error) bool {
	return errors.Is(err, ErrNotSeller) || errors.Is(err, ErrNotBuyer) || errors.Is(err, ErrNotAdmin)
}

// IsValidation reports whether err rejects the supplied input.
func IsValidation(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidCommission),
		errors.Is(err, ErrInvalidAccount), errors.Is(err, ErrInvalidDeadline),
		errors.Is(err, ErrInvalidAsset):
		return true
	default:
		return false
	}
}
