/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains all the necessary SQL queries to interact with the database tables
 * related to payment requests, settled M-Pesa payments, the payments ledger, and
 * the domain tables mutated during allocation (loans, shares, membership, welfare,
 * daily deposits).
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tps-sacco/payments-service/internal/domain"
)

var (
	ErrPaymentRequestNotFound = errors.New("payment request not found")
	ErrSettledPaymentNotFound = errors.New("settled payment not found")
	ErrMemberNotFound         = errors.New("member not found")
	ErrLoanNotFound           = errors.New("loan not found")
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// CreatePaymentRequest inserts a new Pending payment request row.
func (r *PostgresRepository) CreatePaymentRequest(ctx context.Context, req *domain.PaymentRequest) (*domain.PaymentRequest, error) {
	breakdownJSON, err := json.Marshal(req.Breakdown)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal breakdown: %w", err)
	}

	query := `
		INSERT INTO payment_requests (member_id, amount, phone, payment_for, related_id, breakdown, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`
	err = r.db.QueryRow(ctx, query,
		req.MemberID, req.Amount, req.Phone, req.PaymentFor, req.RelatedID, breakdownJSON, req.Status,
	).Scan(&req.ID, &req.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert payment request: %w", err)
	}
	return req, nil
}

const paymentRequestColumns = `
	id, member_id, amount, phone, payment_for, related_id, breakdown, status, checkout_request_id, created_at
`

func scanPaymentRequest(row pgx.Row) (*domain.PaymentRequest, error) {
	var req domain.PaymentRequest
	var breakdownJSON []byte
	err := row.Scan(
		&req.ID, &req.MemberID, &req.Amount, &req.Phone, &req.PaymentFor,
		&req.RelatedID, &breakdownJSON, &req.Status, &req.CheckoutRequestID, &req.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(breakdownJSON) > 0 {
		if err := json.Unmarshal(breakdownJSON, &req.Breakdown); err != nil {
			return nil, fmt.Errorf("failed to unmarshal breakdown: %w", err)
		}
	}
	return &req, nil
}

// FindPendingPaymentRequest returns the most recent Pending request for the
// (member, amount) pair. This backs the best-effort idempotency check in the
// request factory; it is read-then-write, not a transactional guarantee.
func (r *PostgresRepository) FindPendingPaymentRequest(ctx context.Context, memberID uuid.UUID, amount int64) (*domain.PaymentRequest, error) {
	query := `
		SELECT ` + paymentRequestColumns + `
		FROM payment_requests
		WHERE member_id = $1 AND amount = $2 AND status = 'Pending'
		ORDER BY created_at DESC
		LIMIT 1
	`
	req, err := scanPaymentRequest(r.db.QueryRow(ctx, query, memberID, amount))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentRequestNotFound
		}
		return nil, err
	}
	return req, nil
}

// GetPaymentRequestByID fetches a payment request by its identifier.
func (r *PostgresRepository) GetPaymentRequestByID(ctx context.Context, requestID uuid.UUID) (*domain.PaymentRequest, error) {
	query := `SELECT ` + paymentRequestColumns + ` FROM payment_requests WHERE id = $1`
	req, err := scanPaymentRequest(r.db.QueryRow(ctx, query, requestID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentRequestNotFound
		}
		return nil, err
	}
	return req, nil
}

// FindPaymentRequestByCheckoutID resolves a request from the provider's
// correlation id carried on the settlement callback.
func (r *PostgresRepository) FindPaymentRequestByCheckoutID(ctx context.Context, checkoutRequestID string) (*domain.PaymentRequest, error) {
	query := `SELECT ` + paymentRequestColumns + ` FROM payment_requests WHERE checkout_request_id = $1`
	req, err := scanPaymentRequest(r.db.QueryRow(ctx, query, checkoutRequestID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentRequestNotFound
		}
		return nil, err
	}
	return req, nil
}

// AttachCheckoutRequestID persists the provider's correlation id onto a
// request. A reused Pending request gets a fresh push, so the id may be
// rewritten until the request leaves Pending; finalized rows stay untouched.
func (r *PostgresRepository) AttachCheckoutRequestID(ctx context.Context, requestID uuid.UUID, checkoutRequestID string) error {
	query := `
		UPDATE payment_requests
		SET checkout_request_id = $2
		WHERE id = $1 AND status = 'Pending'
	`
	_, err := r.db.Exec(ctx, query, requestID, checkoutRequestID)
	if err != nil {
		return fmt.Errorf("failed to attach checkout request id: %w", err)
	}
	return nil
}

// MarkPaymentRequestFailed flips a still-Pending request to Failed. Used when
// the gateway rejects the push before any callback can arrive.
func (r *PostgresRepository) MarkPaymentRequestFailed(ctx context.Context, requestID uuid.UUID) error {
	query := `UPDATE payment_requests SET status = 'Failed' WHERE id = $1 AND status = 'Pending'`
	_, err := r.db.Exec(ctx, query, requestID)
	if err != nil {
		return fmt.Errorf("failed to mark payment request failed: %w", err)
	}
	return nil
}

// FinalizePaymentRequest applies the single allowed status transition as a
// conditional update. A replayed callback sees zero affected rows and the
// caller treats that as a no-op.
func (r *PostgresRepository) FinalizePaymentRequest(ctx context.Context, requestID uuid.UUID, status string) (bool, error) {
	query := `UPDATE payment_requests SET status = $2 WHERE id = $1 AND status = 'Pending'`
	tag, err := r.db.Exec(ctx, query, requestID, status)
	if err != nil {
		return false, fmt.Errorf("failed to finalize payment request: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ExpirePendingRequests fails Pending requests created before the cutoff.
func (r *PostgresRepository) ExpirePendingRequests(ctx context.Context, olderThan time.Time) (int64, error) {
	query := `UPDATE payment_requests SET status = 'Failed' WHERE status = 'Pending' AND created_at < $1`
	tag, err := r.db.Exec(ctx, query, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to expire pending requests: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CreateSettledPayment inserts the immutable record of a provider-confirmed
// payment, including the raw payload for audit.
func (r *PostgresRepository) CreateSettledPayment(ctx context.Context, payment *domain.SettledPayment) (*domain.SettledPayment, error) {
	query := `
		INSERT INTO mpesa_payments (
			checkout_request_id, merchant_request_id, mpesa_receipt, phone, amount,
			transaction_date, status, payment_for, related_id, raw_callback
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at
	`
	raw := payment.RawCallback
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	err := r.db.QueryRow(ctx, query,
		payment.CheckoutRequestID, payment.MerchantRequestID, payment.Receipt, payment.Phone,
		payment.Amount, payment.TransactionDate, payment.Status, payment.PaymentFor,
		payment.RelatedID, raw,
	).Scan(&payment.ID, &payment.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert settled payment: %w", err)
	}
	return payment, nil
}

// FindSettledPaymentByReceipt looks up a payment by the provider receipt
// number. Backs the bill-pay confirmation replay check.
func (r *PostgresRepository) FindSettledPaymentByReceipt(ctx context.Context, receipt string) (*domain.SettledPayment, error) {
	var payment domain.SettledPayment
	query := `
		SELECT id, checkout_request_id, merchant_request_id, mpesa_receipt, phone, amount,
		       transaction_date, status, payment_for, related_id, created_at
		FROM mpesa_payments
		WHERE mpesa_receipt = $1
	`
	err := r.db.QueryRow(ctx, query, receipt).Scan(
		&payment.ID, &payment.CheckoutRequestID, &payment.MerchantRequestID, &payment.Receipt,
		&payment.Phone, &payment.Amount, &payment.TransactionDate, &payment.Status,
		&payment.PaymentFor, &payment.RelatedID, &payment.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSettledPaymentNotFound
		}
		return nil, err
	}
	return &payment, nil
}

// ApplyAllocation posts one settled payment's allocation lines atomically:
// each line mutates its domain table and appends a payments_ledger row, all
// inside one transaction. If ledger rows already exist for the payment the
// whole call is a no-op, which makes retries safe.
func (r *PostgresRepository) ApplyAllocation(ctx context.Context, memberID uuid.UUID, payment *domain.SettledPayment, lines []domain.AllocationLine) error {
	if len(lines) == 0 {
		return nil
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var posted int
	err = tx.QueryRow(ctx, `SELECT COUNT(*) FROM payments_ledger WHERE mpesa_payment_id = $1`, payment.ID).Scan(&posted)
	if err != nil {
		return fmt.Errorf("failed to check existing ledger rows: %w", err)
	}
	if posted > 0 {
		return nil
	}

	for _, line := range lines {
		if line.Amount <= 0 {
			continue
		}
		if err := r.applyAllocationLine(ctx, tx, memberID, line); err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO payments_ledger (member_id, payment_for, amount, related_id, mpesa_payment_id)
			VALUES ($1, $2, $3, $4, $5)
		`, memberID, line.Category, line.Amount, line.RelatedID, payment.ID)
		if err != nil {
			return fmt.Errorf("failed to insert ledger entry for %s: %w", line.Category, err)
		}
	}

	return tx.Commit(ctx)
}

// applyAllocationLine performs the domain-table mutation for one category.
func (r *PostgresRepository) applyAllocationLine(ctx context.Context, tx pgx.Tx, memberID uuid.UUID, line domain.AllocationLine) error {
	switch line.Category {
	case domain.CategoryDailyDeposit:
		_, err := tx.Exec(ctx, `INSERT INTO daily_deposits (member_id, amount) VALUES ($1, $2)`, memberID, line.Amount)
		if err != nil {
			return fmt.Errorf("failed to insert daily deposit: %w", err)
		}

	case domain.CategoryLoanRepayment:
		if line.RelatedID == nil {
			return fmt.Errorf("loan repayment line missing loan id")
		}
		var balance, paid int64
		err := tx.QueryRow(ctx, `
			SELECT loan_balance, paid_amount FROM loans WHERE id = $1 FOR UPDATE
		`, *line.RelatedID).Scan(&balance, &paid)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrLoanNotFound
			}
			return fmt.Errorf("failed to lock loan row: %w", err)
		}
		newBalance, newPaid, status := domain.ApplyRepayment(balance, paid, line.Amount)
		_, err = tx.Exec(ctx, `
			UPDATE loans SET paid_amount = $2, loan_balance = $3, status = $4 WHERE id = $1
		`, *line.RelatedID, newPaid, newBalance, status)
		if err != nil {
			return fmt.Errorf("failed to update loan: %w", err)
		}

	case domain.CategoryShares:
		// The shares row carries both the increment and a running total snapshot.
		var previous int64
		err := tx.QueryRow(ctx, `
			SELECT COALESCE(SUM(amount), 0) FROM shares WHERE member_id = $1
		`, memberID).Scan(&previous)
		if err != nil {
			return fmt.Errorf("failed to sum shares: %w", err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO shares (member_id, amount, total_shares) VALUES ($1, $2, $3)
		`, memberID, line.Amount, previous+line.Amount)
		if err != nil {
			return fmt.Errorf("failed to insert shares row: %w", err)
		}

	case domain.CategoryMembership:
		_, err := tx.Exec(ctx, `
			INSERT INTO membership (member_id, reg_fee, status)
			VALUES ($1, $2, 'paid')
			ON CONFLICT (member_id) DO UPDATE SET reg_fee = EXCLUDED.reg_fee, status = 'paid'
		`, memberID, line.Amount)
		if err != nil {
			return fmt.Errorf("failed to upsert membership: %w", err)
		}

	case domain.CategoryWelfare:
		_, err := tx.Exec(ctx, `
			INSERT INTO welfare (member_id, amount, status) VALUES ($1, $2, 'paid')
		`, memberID, line.Amount)
		if err != nil {
			return fmt.Errorf("failed to insert welfare row: %w", err)
		}

	default:
		return fmt.Errorf("unknown allocation category %q", line.Category)
	}
	return nil
}

// FindMemberByNumber resolves a member from the normalized member number used
// as the bill-pay account reference.
func (r *PostgresRepository) FindMemberByNumber(ctx context.Context, memberNo string) (*domain.Member, error) {
	var member domain.Member
	query := `SELECT id, member_no, full_name, phone FROM members WHERE member_no = $1`
	err := r.db.QueryRow(ctx, query, memberNo).Scan(&member.ID, &member.MemberNo, &member.FullName, &member.Phone)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMemberNotFound
		}
		return nil, err
	}
	return &member, nil
}

// GetMemberFinancialState reads the snapshot the rule-based allocation engine
// evaluates: membership paid flag, cumulative shares, active loans in
// oldest-approved-first order, and the most recent welfare payment status.
func (r *PostgresRepository) GetMemberFinancialState(ctx context.Context, memberID uuid.UUID) (*domain.MemberFinancialState, error) {
	state := &domain.MemberFinancialState{MemberID: memberID}

	var membershipStatus *string
	err := r.db.QueryRow(ctx, `SELECT status FROM membership WHERE member_id = $1`, memberID).Scan(&membershipStatus)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to read membership: %w", err)
	}
	state.MembershipPaid = membershipStatus != nil && *membershipStatus == "paid"

	err = r.db.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM shares WHERE member_id = $1`, memberID).Scan(&state.SharesPaid)
	if err != nil {
		return nil, fmt.Errorf("failed to sum shares: %w", err)
	}

	rows, err := r.db.Query(ctx, `
		SELECT id, member_id, status, loan_balance, paid_amount, approved_date
		FROM loans
		WHERE member_id = $1 AND status = 'Active'
		ORDER BY approved_date ASC NULLS LAST
	`, memberID)
	if err != nil {
		return nil, fmt.Errorf("failed to list active loans: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var loan domain.Loan
		if err := rows.Scan(&loan.ID, &loan.MemberID, &loan.Status, &loan.Balance, &loan.PaidAmount, &loan.ApprovedDate); err != nil {
			return nil, fmt.Errorf("failed to scan loan: %w", err)
		}
		state.ActiveLoans = append(state.ActiveLoans, loan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate loans: %w", err)
	}

	var welfareStatus *string
	err = r.db.QueryRow(ctx, `
		SELECT status FROM welfare WHERE member_id = $1 ORDER BY deposit_date DESC LIMIT 1
	`, memberID).Scan(&welfareStatus)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to read welfare: %w", err)
	}
	state.LastWelfarePaid = welfareStatus != nil && *welfareStatus == "paid"

	return state, nil
}

// ApplyDailySavingsFines inserts one deduction per active member who made no
// daily deposit yesterday. The anti-join keeps the sweep idempotent within a
// day: a member already fined for that date is not fined again.
func (r *PostgresRepository) ApplyDailySavingsFines(ctx context.Context, fineAmount int64) (int64, error) {
	query := `
		INSERT INTO deductions (member_id, amount, reason, fine_date)
		SELECT m.id, $1, 'missed_daily_deposit', CURRENT_DATE - 1
		FROM members m
		WHERE m.active
		  AND NOT EXISTS (
			SELECT 1 FROM daily_deposits d
			WHERE d.member_id = m.id AND d.created_at::date = CURRENT_DATE - 1
		  )
		  AND NOT EXISTS (
			SELECT 1 FROM deductions x
			WHERE x.member_id = m.id AND x.fine_date = CURRENT_DATE - 1
		  )
	`
	tag, err := r.db.Exec(ctx, query, fineAmount)
	if err != nil {
		return 0, fmt.Errorf("failed to apply savings fines: %w", err)
	}
	return tag.RowsAffected(), nil
}

// RecordActivityLog appends an audit row for an automated job run.
func (r *PostgresRepository) RecordActivityLog(ctx context.Context, entry domain.ActivityLog) error {
	detailsJSON, err := json.Marshal(entry.Details)
	if err != nil {
		return fmt.Errorf("failed to marshal activity details: %w", err)
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO activity_logs (cron_job_name, activity_type, related_table, details, status)
		VALUES ($1, $2, $3, $4, $5)
	`, entry.JobName, entry.ActivityType, entry.RelatedTable, detailsJSON, entry.Status)
	if err != nil {
		return fmt.Errorf("failed to insert activity log: %w", err)
	}
	return nil
}
