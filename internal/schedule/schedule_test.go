package schedule

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestCompute(t *testing.T) {
	s, err := Compute(d("10000"), d("5"), 5)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if !s.TotalInterest.Equal(d("500")) {
		t.Errorf("total interest: expected 500, got %s", s.TotalInterest)
	}
	if !s.TotalRepayable.Equal(d("10500")) {
		t.Errorf("total repayable: expected 10500, got %s", s.TotalRepayable)
	}
	if !s.InstallmentAmount.Equal(d("2100.00")) {
		t.Errorf("installment: expected 2100.00, got %s", s.InstallmentAmount)
	}
}

func TestCompute_RoundingStaysWithinOneUnit(t *testing.T) {
	cases := []struct {
		principal string
		rate      string
		term      int
	}{
		{"10000", "5", 5},
		{"1000", "7.5", 3},
		{"999.99", "12.34", 7},
		{"50000", "10", 12},
		{"333.33", "3", 9},
	}

	one := decimal.NewFromInt(1)
	for _, tc := range cases {
		s, err := Compute(d(tc.principal), d(tc.rate), tc.term)
		if err != nil {
			t.Fatalf("compute(%s, %s, %d): %v", tc.principal, tc.rate, tc.term, err)
		}
		sum := s.InstallmentAmount.Mul(decimal.NewFromInt(int64(tc.term)))
		diff := sum.Sub(s.TotalRepayable).Abs()
		if diff.GreaterThan(one) {
			t.Errorf("compute(%s, %s, %d): installment*term=%s drifts %s from total %s",
				tc.principal, tc.rate, tc.term, sum, diff, s.TotalRepayable)
		}
	}
}

func TestCompute_RejectsBadTerms(t *testing.T) {
	if _, err := Compute(d("0"), d("5"), 5); err == nil {
		t.Error("expected error for zero principal")
	}
	if _, err := Compute(d("-100"), d("5"), 5); err == nil {
		t.Error("expected error for negative principal")
	}
	if _, err := Compute(d("1000"), d("-1"), 5); err == nil {
		t.Error("expected error for negative rate")
	}
	if _, err := Compute(d("1000"), d("5"), 0); err == nil {
		t.Error("expected error for zero term count")
	}
}

func TestDueDate(t *testing.T) {
	issued := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	got, err := DueDate(issued, 5, UnitMonths)
	if err != nil {
		t.Fatalf("due date: %v", err)
	}
	want := time.Date(2025, 8, 10, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("months: expected %v, got %v", want, got)
	}

	got, err = DueDate(issued, 2, UnitWeeks)
	if err != nil {
		t.Fatalf("due date: %v", err)
	}
	want = time.Date(2025, 3, 24, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("weeks: expected %v, got %v", want, got)
	}

	if _, err := DueDate(issued, 3, "fortnights"); err == nil {
		t.Error("expected error for unknown unit")
	}
}

func TestNextDueDate(t *testing.T) {
	current := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	got, err := NextDueDate(current, "monthly")
	if err != nil {
		t.Fatalf("next due date: %v", err)
	}
	if !got.Equal(time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("monthly: got %v", got)
	}

	got, err = NextDueDate(current, "weekly")
	if err != nil {
		t.Fatalf("next due date: %v", err)
	}
	if !got.Equal(time.Date(2025, 6, 8, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("weekly: got %v", got)
	}

	if _, err := NextDueDate(current, "yearly"); err == nil {
		t.Error("expected error for unknown frequency")
	}
}

func TestPenaltyAmount(t *testing.T) {
	got := PenaltyAmount(d("2100"), d("2.5"))
	if !got.Equal(d("52.50")) {
		t.Errorf("expected 52.50, got %s", got)
	}
}
