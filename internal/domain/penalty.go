package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type PenaltyStatus string

const (
	PenaltyActive PenaltyStatus = "active"
	PenaltyWaived PenaltyStatus = "waived"
	PenaltyPaid   PenaltyStatus = "paid"
)

type Penalty struct {
	ID       string
	LoanID   string
	ClientID string

	Amount decimal.Decimal
	Reason string
	Status PenaltyStatus

	CreatedAt *time.Time
	WaivedAt  *time.Time

	ClientName *string
}
