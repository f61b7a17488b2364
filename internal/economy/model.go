package economy

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// CurrencyPlaces is the fixed precision of every amount the engine
	// produces: one micro-coin.
	CurrencyPlaces = int32(6)

	// FingerprintPlaces is the balance precision used for dirty checks.
	FingerprintPlaces = int32(0)
)

var DefaultClickReward = decimal.NewFromInt(1)

var (
	ErrUnknownUpgrade    = errors.New("unknown upgrade")
	ErrRequirementUnmet  = errors.New("upgrade requirements not met")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAmount     = errors.New("amount must be > 0")
	ErrInvalidCurve      = errors.New("invalid cost/income curve")
	ErrInvalidSeed       = errors.New("invalid state seed")
	ErrClosed            = errors.New("economy closed")

	ErrCycle               = errors.New("requirement cycle")
	ErrDanglingRequirement = errors.New("requirement references unknown upgrade")
	ErrDuplicateUpgrade    = errors.New("duplicate upgrade id")
	ErrInvalidRequirement  = errors.New("invalid requirement")
)

var validationErrors = []error{
	ErrUnknownUpgrade,
	ErrRequirementUnmet,
	ErrInsufficientFunds,
	ErrInvalidAmount,
	ErrInvalidCurve,
}

// IsValidation reports whether err is a rejected request that left the
// state untouched.
func IsValidation(err error) bool {
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IntegrityError is returned by LoadCatalog when the requirement graph is
// unusable. The engine must not start with such a catalog.
type IntegrityError struct {
	UpgradeID string
	Err       error
	Detail    string
}

func (e *IntegrityError) Error() string {
	msg := fmt.Sprintf("catalog integrity: %v", e.Err)
	if e.UpgradeID != "" {
		msg += fmt.Sprintf(" (upgrade %q)", e.UpgradeID)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *IntegrityError) Unwrap() error {
	return e.Err
}

// ParseAmount parses a user supplied coin amount. It must be strictly
// positive and is truncated to CurrencyPlaces.
func ParseAmount(raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}
	d = d.Truncate(CurrencyPlaces)
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}
	return d, nil
}

func roundCurrency(d decimal.Decimal) decimal.Decimal {
	return d.Round(CurrencyPlaces)
}
