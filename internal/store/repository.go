/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for all
 * data access operations required by the payments-service. By defining an interface,
 * we decouple the application's business logic from the specific database implementation
 * (e.g., PostgreSQL), making the code more modular and easier to test.
 */

package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/tps-sacco/payments-service/internal/domain"
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Payment request methods
	CreatePaymentRequest(ctx context.Context, req *domain.PaymentRequest) (*domain.PaymentRequest, error)
	// FindPendingPaymentRequest returns the most recently created Pending
	// request for the same member and amount, used by the deduplicating
	// factory path.
	FindPendingPaymentRequest(ctx context.Context, memberID uuid.UUID, amount int64) (*domain.PaymentRequest, error)
	GetPaymentRequestByID(ctx context.Context, requestID uuid.UUID) (*domain.PaymentRequest, error)
	FindPaymentRequestByCheckoutID(ctx context.Context, checkoutRequestID string) (*domain.PaymentRequest, error)
	AttachCheckoutRequestID(ctx context.Context, requestID uuid.UUID, checkoutRequestID string) error
	MarkPaymentRequestFailed(ctx context.Context, requestID uuid.UUID) error
	// FinalizePaymentRequest transitions a request out of Pending with a
	// conditional update. It reports false when the request was already
	// finalized, which is how replayed callbacks are detected.
	FinalizePaymentRequest(ctx context.Context, requestID uuid.UUID, status string) (bool, error)
	// ExpirePendingRequests marks Pending requests older than the cutoff as
	// Failed and returns how many rows were affected.
	ExpirePendingRequests(ctx context.Context, olderThan time.Time) (int64, error)

	// Settled payment methods
	CreateSettledPayment(ctx context.Context, payment *domain.SettledPayment) (*domain.SettledPayment, error)
	FindSettledPaymentByReceipt(ctx context.Context, receipt string) (*domain.SettledPayment, error)

	// Allocation / ledger methods
	// ApplyAllocation posts all allocation lines for one settled payment as a
	// single unit of work: the domain-table mutations plus one ledger row per
	// line, inside one database transaction. Re-applying for a payment that
	// already has ledger rows is a no-op.
	ApplyAllocation(ctx context.Context, memberID uuid.UUID, payment *domain.SettledPayment, lines []domain.AllocationLine) error

	// Member state methods
	FindMemberByNumber(ctx context.Context, memberNo string) (*domain.Member, error)
	GetMemberFinancialState(ctx context.Context, memberID uuid.UUID) (*domain.MemberFinancialState, error)

	// Scheduled job methods
	// ApplyDailySavingsFines inserts a deduction row for every active member
	// with no daily deposit recorded for the previous day.
	ApplyDailySavingsFines(ctx context.Context, fineAmount int64) (int64, error)
	RecordActivityLog(ctx context.Context, entry domain.ActivityLog) error
}
