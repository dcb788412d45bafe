/*
errors.go - Error taxonomy for statement generation

ERROR CATEGORIES:
  1. ConfigurationError - malformed tiers, ownership not summing to 100.
     Fatal: generation aborts, nothing is persisted.
  2. NotFoundError - missing contract, title or sales data.
  3. InvariantViolationError - an internal arithmetic bug (negative remaining
     advance, net payable formula mismatch). Never clamped.
  4. Lifecycle errors - finalized statements, stale drafts, out-of-order periods,
     locked contract terms.

USAGE:
  var cfgErr *royalty.ConfigurationError
  if errors.As(err, &cfgErr) {
      // tell the caller to fix the contract tiers
  }

SEE ALSO:
  - tiers.go: Raises ConfigurationError for malformed tiers
  - composer.go: Raises InvariantViolationError
  - api/handlers.go: Maps errors to HTTP status codes
*/
package royalty

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrConfiguration = errors.New("configuration error")

	ErrNotFound = errors.New("not found")

	ErrInvariantViolation = errors.New("arithmetic invariant violation")

	// ErrInvalidPeriod is returned when a period ends before it starts.
	ErrInvalidPeriod = errors.New("invalid period: end before start")

	// ErrStatementFinalized is returned when regenerating or finalizing a
	// period that already has a final statement.
	ErrStatementFinalized = errors.New("statement already finalized")

	// ErrNoDraft is returned when finalizing a period with no draft statements.
	ErrNoDraft = errors.New("no draft statement to finalize")

	// ErrStatementNotFinal is returned when publishing a draft.
	ErrStatementNotFinal = errors.New("statement is not final")

	// ErrPriorPeriodNotFinalized is returned when a Lifetime-mode contract
	// has an earlier period still in draft. Lifetime totals only count
	// finalized statements, so periods must be closed in order.
	ErrPriorPeriodNotFinalized = errors.New("earlier period is not finalized")

	// ErrLaterPeriodFinalized is returned when a Lifetime-mode contract
	// already has a final statement for a later period.
	ErrLaterPeriodFinalized = errors.New("later period already finalized")

	// ErrContractLocked is returned when saving changed tiers, mode or
	// advance for a contract that has a final statement. Amended terms
	// need a new contract.
	ErrContractLocked = errors.New("contract terms are locked by a finalized statement")

	// ErrConcurrentModification is returned when the recoupment snapshot a
	// draft was computed from no longer matches the contract.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrDuplicateIdempotencyKey is returned when a ledger entry with the
	// same key already exists.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ConfigurationError identifies contract configuration the engine refuses to
// repair.
type ConfigurationError struct {
	ContractID ContractID
	Format     Format
	TierIndex  int // -1 when not about a specific tier
	Reason     string
}

func (e *ConfigurationError) Error() string {
	msg := "configuration error"
	if e.ContractID != "" {
		msg += fmt.Sprintf(" in contract %s", e.ContractID)
	}
	if e.Format != "" {
		msg += fmt.Sprintf(" for format %s", e.Format)
	}
	if e.TierIndex >= 0 {
		msg += fmt.Sprintf(" at tier %d", e.TierIndex)
	}
	return msg + ": " + e.Reason
}

func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }

// NotFoundError names the missing record.
type NotFoundError struct {
	Kind string // "contract", "title", "sales", "statement"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// InvariantViolationError reports a computed value that breaks a financial
// invariant.
type InvariantViolationError struct {
	Invariant string
	Detail    string
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("invariant %s violated: %s", e.Invariant, e.Detail)
}

func (e *InvariantViolationError) Unwrap() error { return ErrInvariantViolation }

func configErr(format Format, tier int, reason string, args ...any) *ConfigurationError {
	return &ConfigurationError{Format: format, TierIndex: tier, Reason: fmt.Sprintf(reason, args...)}
}

// withContract stamps the contract id onto a ConfigurationError.
func withContract(err error, id ContractID) error {
	var cfg *ConfigurationError
	if errors.As(err, &cfg) && cfg.ContractID == "" {
		cfg.ContractID = id
	}
	return err
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsConfiguration returns true if the contract setup must be fixed first.
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsClientError returns true if the request conflicts with statement state.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidPeriod) ||
		errors.Is(err, ErrStatementFinalized) ||
		errors.Is(err, ErrNoDraft) ||
		errors.Is(err, ErrStatementNotFinal) ||
		errors.Is(err, ErrPriorPeriodNotFinalized) ||
		errors.Is(err, ErrLaterPeriodFinalized) ||
		errors.Is(err, ErrContractLocked) ||
		errors.Is(err, ErrDuplicateIdempotencyKey)
}
