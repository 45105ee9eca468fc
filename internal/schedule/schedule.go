// Package schedule computes loan repayment terms. All functions are pure:
// the same inputs always produce the same schedule, so callers are free to
// recompute instead of persisting intermediate values.
package schedule

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	UnitDays   = "days"
	UnitWeeks  = "weeks"
	UnitMonths = "months"
)

var hundred = decimal.NewFromInt(100)

type Schedule struct {
	TotalInterest     decimal.Decimal
	TotalRepayable    decimal.Decimal
	InstallmentAmount decimal.Decimal
}

// Compute derives the repayment schedule from flat-rate loan terms.
// Interest is principal * rate / 100; the installment is the total repayable
// split evenly over termCount, rounded half-up to 2 decimal places.
func Compute(principal, rate decimal.Decimal, termCount int) (Schedule, error) {
	if principal.Sign() <= 0 {
		return Schedule{}, fmt.Errorf("principal must be positive, got %s", principal)
	}
	if rate.Sign() < 0 {
		return Schedule{}, fmt.Errorf("interest rate must not be negative, got %s", rate)
	}
	if termCount <= 0 {
		return Schedule{}, fmt.Errorf("term count must be positive, got %d", termCount)
	}

	interest := principal.Mul(rate).Div(hundred).Round(2)
	total := principal.Add(interest)
	installment := total.Div(decimal.NewFromInt(int64(termCount))).Round(2)

	return Schedule{
		TotalInterest:     interest,
		TotalRepayable:    total,
		InstallmentAmount: installment,
	}, nil
}

// DueDate advances issued by term units of unit.
func DueDate(issued time.Time, term int, unit string) (time.Time, error) {
	switch unit {
	case UnitDays:
		return issued.AddDate(0, 0, term), nil
	case UnitWeeks:
		return issued.AddDate(0, 0, term*7), nil
	case UnitMonths:
		return issued.AddDate(0, term, 0), nil
	default:
		return time.Time{}, fmt.Errorf("unknown term unit %q", unit)
	}
}

// NextDueDate rolls a due date forward by one installment period. The
// scheduler uses this after penalizing a missed installment so the loan is
// evaluated against the next boundary, not the one already penalized.
func NextDueDate(current time.Time, frequency string) (time.Time, error) {
	switch frequency {
	case "daily":
		return current.AddDate(0, 0, 1), nil
	case "weekly":
		return current.AddDate(0, 0, 7), nil
	case "monthly":
		return current.AddDate(0, 1, 0), nil
	default:
		return time.Time{}, fmt.Errorf("unknown installment frequency %q", frequency)
	}
}

// PenaltyAmount is the per-installment default penalty: installment * rate / 100,
// rounded half-up to 2 decimal places. The installment amount is the canonical
// basis for penalties.
func PenaltyAmount(installment, penaltyRate decimal.Decimal) decimal.Decimal {
	return installment.Mul(penaltyRate).Div(hundred).Round(2)
}
