/**
 * @description
 * This file contains the core application service for the payments-service. The
 * Service orchestrates the payment request factory, the gateway push, callback
 * correlation, allocation, and ledger posting, delegating persistence to the
 * store.Repository and transport to the gateway client.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/tps-sacco/payments-service/internal/domain"
	"github.com/tps-sacco/payments-service/internal/store"
)

var (
	ErrInvalidPhone         = errors.New("phone number is not a valid subscriber number")
	ErrInvalidAmount        = errors.New("amount must be greater than zero")
	ErrMissingMember        = errors.New("member id is required")
	ErrBreakdownMismatch    = errors.New("breakdown category sums do not match the total amount")
	ErrNegativeBreakdown    = errors.New("breakdown sub-amounts must be non-negative")
	ErrGatewayRejected      = errors.New("payment gateway rejected the push request")
	ErrMissingCorrelationID = errors.New("callback carries no checkout request id")
	ErrInvalidMSISDN        = errors.New("msisdn is not in the expected national format")
	ErrUnknownMember        = errors.New("no member matches the bill reference")
	ErrMissingBillFields    = errors.New("bill-pay confirmation is missing required fields")
)

// Gateway abstracts the mobile-money push client. The returned value is the
// provider's correlation id for the accepted push.
type Gateway interface {
	InitiateStkPush(ctx context.Context, phone string, amount int64, accountReference, description string) (string, error)
}

// EventPublisher abstracts the settlement-event producer feeding the SMS
// notification dispatcher.
type EventPublisher interface {
	PublishPaymentSettled(ctx context.Context, event domain.PaymentSettledEvent) error
}

// ReplayGuard is a best-effort fast path for spotting replayed callbacks
// before touching the database. FirstSeen reports whether the key is new;
// Forget releases a key claimed by FirstSeen so a redelivery is not dropped
// after processing failed partway through.
type ReplayGuard interface {
	FirstSeen(ctx context.Context, key string) (bool, error)
	Forget(ctx context.Context, key string) error
}

// Service implements the payment intake and allocation pipeline.
type Service struct {
	repo      store.Repository
	gateway   Gateway
	publisher EventPublisher
	guard     ReplayGuard
	alloc     AllocationConfig
}

// NewService creates the application service. publisher and guard may be nil;
// both degrade to no-ops so the service keeps working without RabbitMQ or
// Redis.
func NewService(repo store.Repository, gateway Gateway, publisher EventPublisher, guard ReplayGuard, alloc AllocationConfig) *Service {
	return &Service{
		repo:      repo,
		gateway:   gateway,
		publisher: publisher,
		guard:     guard,
		alloc:     alloc,
	}
}

// PushResult is returned to the push-initiation caller.
type PushResult struct {
	RequestID         uuid.UUID
	CheckoutRequestID string
	Reused            bool
}

// CreateOrReusePaymentRequest is the deduplicating factory path: it validates
// the payload, then reuses the most recent still-Pending request for the same
// member and amount before inserting a fresh one. The lookup is read-then-write,
// so concurrent duplicate submissions can still race past it; the provider-side
// correlation id keeps settlements unambiguous either way.
func (s *Service) CreateOrReusePaymentRequest(ctx context.Context, payload domain.StkPushPayload) (*domain.PaymentRequest, bool, error) {
	if payload.Total <= 0 {
		return nil, false, ErrInvalidAmount
	}
	if payload.MemberID == uuid.Nil {
		return nil, false, ErrMissingMember
	}
	if !IsValidSubscriberNumber(payload.Phone) {
		return nil, false, ErrInvalidPhone
	}
	if payload.Breakdown.HasNegative() {
		return nil, false, ErrNegativeBreakdown
	}
	if !payload.Breakdown.IsEmpty() && payload.Breakdown.Total() != payload.Total {
		return nil, false, ErrBreakdownMismatch
	}

	existing, err := s.repo.FindPendingPaymentRequest(ctx, payload.MemberID, payload.Total)
	if err == nil {
		return existing, true, nil
	}
	if !errors.Is(err, store.ErrPaymentRequestNotFound) {
		return nil, false, fmt.Errorf("failed to look up pending request: %w", err)
	}

	paymentFor := payload.PaymentFor
	if paymentFor == "" {
		paymentFor = domain.PurposeMixed
	}

	req := &domain.PaymentRequest{
		MemberID:   payload.MemberID,
		Amount:     payload.Total,
		Phone:      payload.Phone,
		PaymentFor: paymentFor,
		RelatedID:  payload.RelatedID,
		Breakdown:  payload.Breakdown,
		Status:     domain.RequestStatusPending,
	}
	created, err := s.repo.CreatePaymentRequest(ctx, req)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create payment request: %w", err)
	}
	return created, false, nil
}

// InitiateStkPush runs the full push-initiation flow: normalize the phone,
// create or reuse the pending request, submit the push, and persist the
// provider's correlation id. A gateway rejection marks the request Failed so
// no orphaned Pending row is left behind.
func (s *Service) InitiateStkPush(ctx context.Context, payload domain.StkPushPayload) (*PushResult, error) {
	payload.Phone = NormalizePhone(payload.Phone)
	if !IsValidSubscriberNumber(payload.Phone) {
		return nil, ErrInvalidPhone
	}

	req, reused, err := s.CreateOrReusePaymentRequest(ctx, payload)
	if err != nil {
		return nil, err
	}

	checkoutID, err := s.gateway.InitiateStkPush(ctx, req.Phone, req.Amount, req.ID.String(), "SACCO Payment")
	if err != nil {
		if markErr := s.repo.MarkPaymentRequestFailed(ctx, req.ID); markErr != nil {
			log.Printf("level=error component=service msg=\"failed to mark rejected request\" request_id=%s err=%v", req.ID, markErr)
		}
		return nil, fmt.Errorf("%w: %v", ErrGatewayRejected, err)
	}

	// The correlation id must land on the row before we report success;
	// without it the settlement callback cannot be matched.
	if err := s.repo.AttachCheckoutRequestID(ctx, req.ID, checkoutID); err != nil {
		return nil, fmt.Errorf("push accepted but correlation id not persisted: %w", err)
	}

	return &PushResult{RequestID: req.ID, CheckoutRequestID: checkoutID, Reused: reused}, nil
}

// GetPaymentRequest returns the request for the status-polling endpoint.
func (s *Service) GetPaymentRequest(ctx context.Context, requestID uuid.UUID) (*domain.PaymentRequest, error) {
	return s.repo.GetPaymentRequestByID(ctx, requestID)
}

// publishSettled emits the settlement event consumed by the SMS dispatcher.
// Best-effort: a publish failure must never fail the settlement itself.
func (s *Service) publishSettled(ctx context.Context, payment *domain.SettledPayment, memberID *uuid.UUID) {
	if s.publisher == nil {
		return
	}
	event := domain.PaymentSettledEvent{
		PaymentID: payment.ID,
		MemberID:  memberID,
		Amount:    payment.Amount,
		Status:    payment.Status,
		Receipt:   payment.Receipt,
		Phone:     payment.Phone,
		Timestamp: payment.CreatedAt,
	}
	if err := s.publisher.PublishPaymentSettled(ctx, event); err != nil {
		log.Printf("level=warn component=service msg=\"settlement event publish failed\" payment_id=%s err=%v", payment.ID, err)
	}
}
