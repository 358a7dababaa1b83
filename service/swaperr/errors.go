// Package swaperr defines the error taxonomy shared by every stage of the
// swap pipeline and maps each member to a user-facing message category.
package swaperr

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidKeyFormat       = errors.New("invalid key format")
	ErrAttestationUnavailable = errors.New("attestation unavailable")
	ErrRefreshFailed          = errors.New("token refresh failed")
	ErrAssetNotFound          = errors.New("asset not found")
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrFormatMismatch         = errors.New("transaction format mismatch")
	ErrMalformedTransaction   = errors.New("malformed transaction")
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrSimulationFailed       = errors.New("transaction simulation failed")
	ErrNetwork                = errors.New("network error")
	ErrPollTimeout            = errors.New("poll timeout")
)

// Category is a coarse, user-visible grouping of errors.
type Category string

const (
	CategoryInvalidKey        Category = "invalid_key"
	CategoryAuth              Category = "auth"
	CategoryInvalidInput      Category = "invalid_input"
	CategoryInvalidTx         Category = "invalid_transaction"
	CategoryInsufficientFunds Category = "insufficient_funds"
	CategorySimulation        Category = "simulation"
	CategoryNetwork           Category = "network"
	CategoryPending           Category = "still_pending"
	CategoryCancelled         Category = "cancelled"
	CategoryUnknown           Category = "unknown"
)

// insufficientFundsPatterns match the text the chain's preflight simulation
// produces when the payer cannot cover the transfer or the fees.
var insufficientFundsPatterns = []string{
	"insufficient funds",
	"insufficient lamports",
	"attempt to debit an account but found no record of a prior credit",
}

var simulationPatterns = []string{
	"simulation failed",
	"transaction simulation",
	"blockhash not found",
	"custom program error",
	"instruction error",
}

// ClassifyChainError maps raw chain/aggregator error text onto the taxonomy.
// It returns nil for an empty message.
func ClassifyChainError(msg string) error {
	if msg == "" {
		return nil
	}
	lower := strings.ToLower(msg)
	for _, p := range insufficientFundsPatterns {
		if strings.Contains(lower, p) {
			return fmt.Errorf("%w: %s", ErrInsufficientFunds, msg)
		}
	}
	for _, p := range simulationPatterns {
		if strings.Contains(lower, p) {
			return fmt.Errorf("%w: %s", ErrSimulationFailed, msg)
		}
	}
	return fmt.Errorf("%w: %s", ErrNetwork, msg)
}

// Classify returns the category of err.
func Classify(err error) Category {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidKeyFormat):
		return CategoryInvalidKey
	case errors.Is(err, ErrAttestationUnavailable), errors.Is(err, ErrRefreshFailed):
		return CategoryAuth
	case errors.Is(err, ErrAssetNotFound), errors.Is(err, ErrInvalidAmount):
		return CategoryInvalidInput
	case errors.Is(err, ErrFormatMismatch), errors.Is(err, ErrMalformedTransaction):
		return CategoryInvalidTx
	case errors.Is(err, ErrInsufficientFunds):
		return CategoryInsufficientFunds
	case errors.Is(err, ErrSimulationFailed):
		return CategorySimulation
	case errors.Is(err, ErrPollTimeout):
		return CategoryPending
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return CategoryCancelled
	case errors.Is(err, ErrNetwork):
		return CategoryNetwork
	default:
		return CategoryUnknown
	}
}

// UserMessage renders err as a short human-readable sentence. Raw error
// chains are left to the logs.
func UserMessage(err error) string {
	switch Classify(err) {
	case "":
		return ""
	case CategoryInvalidKey:
		return "The wallet key could not be read. Check that it is a 64-byte base58 or base64 secret key."
	case CategoryAuth:
		return "Could not authenticate with the swap service. Please try again."
	case CategoryInvalidInput:
		if errors.Is(err, ErrAssetNotFound) {
			return "One of the selected assets is not supported."
		}
		return "The amount entered is not valid."
	case CategoryInvalidTx:
		return "The swap transaction could not be verified and was not signed."
	case CategoryInsufficientFunds:
		return "Insufficient funds to cover this swap and its network fees."
	case CategorySimulation:
		return "The swap failed simulation. The address or route may be stale; request a new quote."
	case CategoryPending:
		return "The swap was submitted and is still pending confirmation."
	case CategoryCancelled:
		return "Stopped watching the swap. It may still complete on-chain."
	case CategoryNetwork:
		return "A network error occurred. Please check your connection and try again."
	default:
		return "Something went wrong while processing the swap."
	}
}
