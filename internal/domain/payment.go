/**
 * @description
 * This file defines the core domain models for the payments-service.
 * These structs represent the main entities and data transfer objects (DTOs)
 * used throughout the service's business logic, database interactions, and API layers.
 *
 * @notes
 * - Amounts are stored as `int64` in cents (the smallest KES unit), which avoids
 *   floating-point inaccuracies with financial data. The Daraja API itself deals
 *   in whole shillings; conversion happens at the gateway boundary.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Payment request lifecycle states. A request transitions out of Pending
// exactly once and never leaves Success or Failed.
const (
	RequestStatusPending = "Pending"
	RequestStatusSuccess = "Success"
	RequestStatusFailed  = "Failed"
)

// Allocation categories. These double as the payment_for tags on ledger rows.
const (
	CategoryDailyDeposit  = "DailyDeposit"
	CategoryLoanRepayment = "LoanRepayment"
	CategoryShares        = "Shares"
	CategoryMembership    = "Membership"
	CategoryWelfare       = "Welfare"

	// PurposeMixed marks a payment whose split is decided by the rule-based
	// allocation engine rather than a member-declared breakdown.
	PurposeMixed = "MixedPayment"
)

// AllowedPurposeTags is the allow-list for the payment_for column on settled
// payments. Anything else is stored as null rather than rejected.
var AllowedPurposeTags = []string{
	CategoryDailyDeposit,
	CategoryLoanRepayment,
	CategoryShares,
	CategoryMembership,
	CategoryWelfare,
	PurposeMixed,
}

// LoanRepaymentLine is the loan-repayment portion of a breakdown. The loan id
// names which loan the amount is applied against.
type LoanRepaymentLine struct {
	LoanID *uuid.UUID `json:"loan_id,omitempty"`
	Amount int64      `json:"amount"` // in cents
}

// Breakdown is a member-declared split of a push payment across the obligation
// categories. All sub-amounts are in cents and non-negative; their sum must
// equal the payment request's total.
type Breakdown struct {
	DailyDeposit  int64              `json:"dailyDeposit,omitempty"`
	LoanRepayment *LoanRepaymentLine `json:"loanRepayment,omitempty"`
	Shares        int64              `json:"shares,omitempty"`
	Welfare       int64              `json:"welfare,omitempty"`
	Membership    int64              `json:"membership,omitempty"`
}

// Total sums all category sub-amounts.
func (b Breakdown) Total() int64 {
	total := b.DailyDeposit + b.Shares + b.Welfare + b.Membership
	if b.LoanRepayment != nil {
		total += b.LoanRepayment.Amount
	}
	return total
}

// IsEmpty reports whether no category carries a positive amount.
func (b Breakdown) IsEmpty() bool {
	return b.Total() == 0
}

// HasNegative reports whether any category carries a negative amount. A
// negative sub-amount could make the remaining categories over-post against
// the payment total, so the factory rejects it outright.
func (b Breakdown) HasNegative() bool {
	if b.DailyDeposit < 0 || b.Shares < 0 || b.Welfare < 0 || b.Membership < 0 {
		return true
	}
	return b.LoanRepayment != nil && b.LoanRepayment.Amount < 0
}

// PaymentRequest represents one push-payment attempt. It aligns with the
// `payment_requests` table schema. The checkout request id is the provider's
// correlation id and is immutable once set.
type PaymentRequest struct {
	ID                uuid.UUID  `json:"id" db:"id"`
	MemberID          uuid.UUID  `json:"member_id" db:"member_id"`
	Amount            int64      `json:"amount" db:"amount"` // in cents
	Phone             string     `json:"phone" db:"phone"`
	PaymentFor        string     `json:"payment_for" db:"payment_for"`
	RelatedID         *uuid.UUID `json:"related_id,omitempty" db:"related_id"`
	Breakdown         Breakdown  `json:"breakdown" db:"breakdown"`
	Status            string     `json:"status" db:"status"`
	CheckoutRequestID *string    `json:"checkout_request_id,omitempty" db:"checkout_request_id"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
}

// SettledPayment is a provider-confirmed money movement, one row per callback
// or bill-pay confirmation. Immutable once created. The raw provider payload
// is retained for audit and manual reconciliation.
type SettledPayment struct {
	ID                uuid.UUID  `json:"id" db:"id"`
	CheckoutRequestID *string    `json:"checkout_request_id,omitempty" db:"checkout_request_id"`
	MerchantRequestID *string    `json:"merchant_request_id,omitempty" db:"merchant_request_id"`
	Receipt           *string    `json:"mpesa_receipt,omitempty" db:"mpesa_receipt"`
	Phone             *string    `json:"phone,omitempty" db:"phone"`
	Amount            int64      `json:"amount" db:"amount"` // in cents
	TransactionDate   *time.Time `json:"transaction_date,omitempty" db:"transaction_date"`
	Status            string     `json:"status" db:"status"`
	PaymentFor        *string    `json:"payment_for,omitempty" db:"payment_for"`
	RelatedID         *uuid.UUID `json:"related_id,omitempty" db:"related_id"`
	RawCallback       []byte     `json:"-" db:"raw_callback"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
}

// AllocationLine is one (category, amount, related entity) tuple produced by
// the allocation engine and consumed by the ledger poster.
type AllocationLine struct {
	Category  string
	Amount    int64 // in cents
	RelatedID *uuid.UUID
}

// Member is the slice of a member profile this service needs: identity plus
// the member number used as the bill-pay account reference.
type Member struct {
	ID       uuid.UUID `json:"id"`
	MemberNo string    `json:"member_no"`
	FullName *string   `json:"full_name,omitempty"`
	Phone    *string   `json:"phone,omitempty"`
}

// Loan is the view of a loan row needed by allocation and repayment posting.
type Loan struct {
	ID           uuid.UUID  `json:"id"`
	MemberID     uuid.UUID  `json:"member_id"`
	Status       string     `json:"status"` // 'Active' or 'Repaid'
	Balance      int64      `json:"loan_balance"` // in cents
	PaidAmount   int64      `json:"paid_amount"`  // in cents
	ApprovedDate *time.Time `json:"approved_date,omitempty"`
}

// Loan lifecycle states touched by the ledger poster.
const (
	LoanStatusActive = "Active"
	LoanStatusRepaid = "Repaid"
)

// ApplyRepayment computes the loan row after a repayment of amount cents.
// The balance never goes below zero; the loan flips to Repaid when the new
// balance reaches exactly zero, else stays (or resets to) Active.
func ApplyRepayment(balance, paid, amount int64) (newBalance, newPaid int64, status string) {
	newPaid = paid + amount
	newBalance = balance - amount
	if newBalance < 0 {
		newBalance = 0
	}
	status = LoanStatusActive
	if newBalance == 0 {
		status = LoanStatusRepaid
	}
	return newBalance, newPaid, status
}

// MemberFinancialState is the snapshot of a member's obligations read by the
// rule-based allocation engine. ActiveLoans is ordered oldest-approved first,
// which is the tie-break for picking the repayment target.
type MemberFinancialState struct {
	MemberID        uuid.UUID
	MembershipPaid  bool
	SharesPaid      int64 // cumulative, in cents
	ActiveLoans     []Loan
	LastWelfarePaid bool
}

// StkPushPayload is the DTO for the internal push-initiation endpoint.
type StkPushPayload struct {
	Phone      string     `json:"phone"`
	Total      int64      `json:"total"` // in cents
	MemberID   uuid.UUID  `json:"member_id"`
	Breakdown  Breakdown  `json:"breakdown"`
	PaymentFor string     `json:"payment_for,omitempty"`
	RelatedID  *uuid.UUID `json:"related_id,omitempty"`
}

// ActivityLog records one automated-job run for the admin audit trail.
type ActivityLog struct {
	JobName      string         `json:"cron_job_name"`
	ActivityType string         `json:"activity_type"`
	RelatedTable *string        `json:"related_table,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
	Status       string         `json:"status"` // 'success', 'failed' or 'partial'
}

// PaymentSettledEvent is the message payload published when a payment settles
// (either outcome). The SMS dispatcher consumes these to notify the member.
type PaymentSettledEvent struct {
	PaymentID uuid.UUID  `json:"payment_id"`
	MemberID  *uuid.UUID `json:"member_id,omitempty"`
	Amount    int64      `json:"amount"`
	Status    string     `json:"status"`
	Receipt   *string    `json:"receipt,omitempty"`
	Phone     *string    `json:"phone,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}
