package redeem

import (
	"errors"

	"github.com/0gfoundation/lazymint/internal/voucher"
)

// Failure conditions of a redemption. Every one reverts the whole transaction.
var (
	ErrInvalidSignature    = errors.New("invalid signature")
	ErrUnauthorizedSigner  = errors.New("unauthorized signer")
	ErrInsufficientPayment = errors.New("insufficient payment")
	ErrDuplicateIdentifier = errors.New("duplicate identifier")
	ErrTransferFailed      = errors.New("transfer failed")
	// ErrRejected covers failures outside the protocol taxonomy: a malformed
	// voucher, a payer that cannot fund the attached value, storage errors.
	ErrRejected = errors.New("redemption rejected")
)

// Status is the outcome of a redemption.
type Status uint8

const (
	StatusSuccess Status = iota
	StatusInvalidSignature
	StatusUnauthorizedSigner
	StatusInsufficientPayment
	StatusDuplicateIdentifier
	StatusTransferFailed
	StatusRejected
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusInvalidSignature:
		return "INVALID_SIGNATURE"
	case StatusUnauthorizedSigner:
		return "UNAUTHORIZED_SIGNER"
	case StatusInsufficientPayment:
		return "INSUFFICIENT_PAYMENT"
	case StatusDuplicateIdentifier:
		return "DUPLICATE_IDENTIFIER"
	case StatusTransferFailed:
		return "TRANSFER_FAILED"
	case StatusRejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

// Retryable reports whether resubmitting the same voucher can ever succeed.
// Only payment (more value) and host-level rejections qualify.
func (s Status) Retryable() bool {
	return s == StatusInsufficientPayment || s == StatusRejected
}

// StatusOf maps an error returned by Redeem to its Status.
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return StatusSuccess
	case errors.Is(err, ErrInvalidSignature), errors.Is(err, voucher.ErrInvalidSignature):
		return StatusInvalidSignature
	case errors.Is(err, ErrUnauthorizedSigner):
		return StatusUnauthorizedSigner
	case errors.Is(err, ErrInsufficientPayment):
		return StatusInsufficientPayment
	case errors.Is(err, ErrDuplicateIdentifier):
		return StatusDuplicateIdentifier
	case errors.Is(err, ErrTransferFailed):
		return StatusTransferFailed
	default:
		return StatusRejected
	}
}
