package domain

import (
	"testing"

	"github.com/google/uuid"
)

func TestApplyRepayment(t *testing.T) {
	tests := []struct {
		name        string
		balance     int64
		paid        int64
		amount      int64
		wantBalance int64
		wantPaid    int64
		wantStatus  string
	}{
		{
			name:        "partial repayment keeps loan active",
			balance:     500000,
			paid:        100000,
			amount:      20000,
			wantBalance: 480000,
			wantPaid:    120000,
			wantStatus:  LoanStatusActive,
		},
		{
			name:        "exact repayment closes the loan",
			balance:     20000,
			paid:        580000,
			amount:      20000,
			wantBalance: 0,
			wantPaid:    600000,
			wantStatus:  LoanStatusRepaid,
		},
		{
			name:        "overpayment clamps balance at zero",
			balance:     15000,
			paid:        0,
			amount:      20000,
			wantBalance: 0,
			wantPaid:    20000,
			wantStatus:  LoanStatusRepaid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			balance, paid, status := ApplyRepayment(tt.balance, tt.paid, tt.amount)
			if balance != tt.wantBalance {
				t.Fatalf("expected balance %d, got %d", tt.wantBalance, balance)
			}
			if paid != tt.wantPaid {
				t.Fatalf("expected paid %d, got %d", tt.wantPaid, paid)
			}
			if status != tt.wantStatus {
				t.Fatalf("expected status %q, got %q", tt.wantStatus, status)
			}
		})
	}
}

func TestBreakdownTotal(t *testing.T) {
	loanID := uuid.New()
	b := Breakdown{
		DailyDeposit:  10000,
		LoanRepayment: &LoanRepaymentLine{LoanID: &loanID, Amount: 20000},
		Shares:        5000,
		Welfare:       20000,
		Membership:    100000,
	}
	if got := b.Total(); got != 155000 {
		t.Fatalf("expected total 155000, got %d", got)
	}
	if b.IsEmpty() {
		t.Fatal("expected funded breakdown to be non-empty")
	}
	if !(Breakdown{}).IsEmpty() {
		t.Fatal("expected zero breakdown to be empty")
	}
}

func TestBreakdownHasNegative(t *testing.T) {
	tests := []struct {
		name string
		b    Breakdown
		want bool
	}{
		{name: "all non-negative", b: Breakdown{DailyDeposit: 10000, Shares: 20000}, want: false},
		{name: "zero breakdown", b: Breakdown{}, want: false},
		{name: "negative daily deposit", b: Breakdown{DailyDeposit: -5000, Shares: 35000}, want: true},
		{name: "negative shares", b: Breakdown{Shares: -1}, want: true},
		{name: "negative welfare", b: Breakdown{Welfare: -20000}, want: true},
		{name: "negative membership", b: Breakdown{Membership: -100000}, want: true},
		{name: "negative loan repayment", b: Breakdown{LoanRepayment: &LoanRepaymentLine{Amount: -10000}}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.b.HasNegative(); got != tt.want {
				t.Fatalf("expected %t, got %t", tt.want, got)
			}
		})
	}
}
