package app

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/tps-sacco/payments-service/internal/domain"
	"github.com/tps-sacco/payments-service/internal/store"
)

type callbackRepoStub struct {
	store.Repository

	request        *domain.PaymentRequest
	finalizeResult bool
	lookupErr      error

	lookupCalled    bool
	finalizedStatus string
	createdPayment  *domain.SettledPayment
	allocatedLines  []domain.AllocationLine
	allocatedMember uuid.UUID
}

func (s *callbackRepoStub) FindPaymentRequestByCheckoutID(ctx context.Context, checkoutRequestID string) (*domain.PaymentRequest, error) {
	s.lookupCalled = true
	if s.lookupErr != nil {
		return nil, s.lookupErr
	}
	if s.request == nil {
		return nil, store.ErrPaymentRequestNotFound
	}
	return s.request, nil
}

func (s *callbackRepoStub) FinalizePaymentRequest(ctx context.Context, requestID uuid.UUID, status string) (bool, error) {
	s.finalizedStatus = status
	return s.finalizeResult, nil
}

func (s *callbackRepoStub) CreateSettledPayment(ctx context.Context, payment *domain.SettledPayment) (*domain.SettledPayment, error) {
	payment.ID = uuid.New()
	s.createdPayment = payment
	return payment, nil
}

func (s *callbackRepoStub) ApplyAllocation(ctx context.Context, memberID uuid.UUID, payment *domain.SettledPayment, lines []domain.AllocationLine) error {
	s.allocatedMember = memberID
	s.allocatedLines = lines
	return nil
}

type replayGuardStub struct {
	fresh bool
	err   error

	keys      []string
	forgotten []string
}

func (g *replayGuardStub) FirstSeen(ctx context.Context, key string) (bool, error) {
	g.keys = append(g.keys, key)
	return g.fresh, g.err
}

func (g *replayGuardStub) Forget(ctx context.Context, key string) error {
	g.forgotten = append(g.forgotten, key)
	return nil
}

func pendingRequest() *domain.PaymentRequest {
	loanID := uuid.New()
	return &domain.PaymentRequest{
		ID:       uuid.New(),
		MemberID: uuid.New(),
		Amount:   30000,
		Phone:    "254712345678",
		Status:   domain.RequestStatusPending,
		Breakdown: domain.Breakdown{
			DailyDeposit:  10000,
			LoanRepayment: &domain.LoanRepaymentLine{LoanID: &loanID, Amount: 20000},
		},
	}
}

func successCallbackBody(checkoutID string) []byte {
	return []byte(`{
		"Body": {
			"stkCallback": {
				"CheckoutRequestID": "` + checkoutID + `",
				"ResultCode": 0,
				"ResultDesc": "Processed",
				"CallbackMetadata": {
					"Item": [
						{"Name": "Amount", "Value": 300},
						{"Name": "MpesaReceiptNumber", "Value": "NLJ7RT61SV"},
						{"Name": "PhoneNumber", "Value": 254712345678}
					]
				}
			}
		}
	}`)
}

func TestProcessStkCallback_SuccessAllocatesBreakdown(t *testing.T) {
	repo := &callbackRepoStub{request: pendingRequest(), finalizeResult: true}
	svc := NewService(repo, nil, nil, nil, testAllocationConfig())

	if err := svc.ProcessStkCallback(context.Background(), successCallbackBody("ws_CO_test")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if repo.finalizedStatus != domain.RequestStatusSuccess {
		t.Fatalf("expected request finalized as Success, got %q", repo.finalizedStatus)
	}
	if repo.createdPayment == nil {
		t.Fatal("expected a settled payment to be recorded")
	}
	if repo.createdPayment.Amount != 30000 {
		t.Fatalf("expected payment amount 30000, got %d", repo.createdPayment.Amount)
	}
	if repo.createdPayment.Receipt == nil || *repo.createdPayment.Receipt != "NLJ7RT61SV" {
		t.Fatalf("expected receipt to be carried over, got %+v", repo.createdPayment.Receipt)
	}
	if len(repo.allocatedLines) != 2 {
		t.Fatalf("expected breakdown allocation with 2 lines, got %+v", repo.allocatedLines)
	}
	if repo.allocatedMember != repo.request.MemberID {
		t.Fatalf("expected allocation for member %s, got %s", repo.request.MemberID, repo.allocatedMember)
	}
}

func TestProcessStkCallback_FailureRecordsPaymentWithoutAllocation(t *testing.T) {
	repo := &callbackRepoStub{request: pendingRequest(), finalizeResult: true}
	svc := NewService(repo, nil, nil, nil, testAllocationConfig())

	raw := []byte(`{"Body":{"stkCallback":{"CheckoutRequestID":"ws_CO_fail","ResultCode":1032,"ResultDesc":"Request cancelled by user"}}}`)
	if err := svc.ProcessStkCallback(context.Background(), raw); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if repo.finalizedStatus != domain.RequestStatusFailed {
		t.Fatalf("expected request finalized as Failed, got %q", repo.finalizedStatus)
	}
	if repo.createdPayment == nil {
		t.Fatal("expected failed settlement to still be recorded for audit")
	}
	if repo.createdPayment.Status != domain.RequestStatusFailed {
		t.Fatalf("expected payment status Failed, got %q", repo.createdPayment.Status)
	}
	// Failed settlements fall back to the request's own amount.
	if repo.createdPayment.Amount != 30000 {
		t.Fatalf("expected fallback amount 30000, got %d", repo.createdPayment.Amount)
	}
	if repo.allocatedLines != nil {
		t.Fatalf("did not expect any allocation for a failed settlement, got %+v", repo.allocatedLines)
	}
}

func TestProcessStkCallback_ReplayIsNoOp(t *testing.T) {
	repo := &callbackRepoStub{request: pendingRequest(), finalizeResult: false}
	svc := NewService(repo, nil, nil, nil, testAllocationConfig())

	if err := svc.ProcessStkCallback(context.Background(), successCallbackBody("ws_CO_replay")); err != nil {
		t.Fatalf("expected replay to be acknowledged, got %v", err)
	}

	if repo.createdPayment != nil {
		t.Fatal("did not expect a second settled payment for a replayed callback")
	}
	if repo.allocatedLines != nil {
		t.Fatal("did not expect allocation for a replayed callback")
	}
}

func TestProcessStkCallback_MissingCorrelationID(t *testing.T) {
	repo := &callbackRepoStub{}
	svc := NewService(repo, nil, nil, nil, testAllocationConfig())

	err := svc.ProcessStkCallback(context.Background(), []byte(`{"Body":{"stkCallback":{"ResultCode":0}}}`))
	if !errors.Is(err, ErrMissingCorrelationID) {
		t.Fatalf("expected ErrMissingCorrelationID, got %v", err)
	}
	if repo.lookupCalled {
		t.Fatal("did not expect a request lookup without a correlation id")
	}
}

func TestProcessStkCallback_GuardDropsDuplicate(t *testing.T) {
	repo := &callbackRepoStub{request: pendingRequest(), finalizeResult: true}
	guard := &replayGuardStub{fresh: false}
	svc := NewService(repo, nil, nil, guard, testAllocationConfig())

	if err := svc.ProcessStkCallback(context.Background(), successCallbackBody("ws_CO_dup")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if repo.lookupCalled {
		t.Fatal("expected the guard to stop the callback before the database")
	}
	if len(guard.keys) != 1 || guard.keys[0] != "stk_callback:ws_CO_dup" {
		t.Fatalf("unexpected guard keys %v", guard.keys)
	}
}

func TestProcessStkCallback_TransientFailureReleasesGuardClaim(t *testing.T) {
	// A delivery that claims the guard key but then fails in the database
	// must give the claim back, otherwise the provider's redelivery would be
	// dropped as a duplicate while the request is still Pending.
	repo := &callbackRepoStub{request: pendingRequest(), finalizeResult: true, lookupErr: errors.New("connection reset")}
	guard := &replayGuardStub{fresh: true}
	svc := NewService(repo, nil, nil, guard, testAllocationConfig())

	if err := svc.ProcessStkCallback(context.Background(), successCallbackBody("ws_CO_retry")); err == nil {
		t.Fatal("expected the transient lookup failure to surface")
	}
	if len(guard.forgotten) != 1 || guard.forgotten[0] != "stk_callback:ws_CO_retry" {
		t.Fatalf("expected the guard claim to be released, got %v", guard.forgotten)
	}
	if repo.createdPayment != nil {
		t.Fatal("did not expect a settled payment on the failed delivery")
	}

	// Redelivery after the outage clears goes through in full.
	repo.lookupErr = nil
	if err := svc.ProcessStkCallback(context.Background(), successCallbackBody("ws_CO_retry")); err != nil {
		t.Fatalf("expected the redelivery to settle, got %v", err)
	}
	if repo.createdPayment == nil {
		t.Fatal("expected the redelivery to record the settled payment")
	}
	if len(guard.forgotten) != 1 {
		t.Fatalf("did not expect the successful redelivery to release the guard, got %v", guard.forgotten)
	}
}

func TestProcessStkCallback_GuardFailureFallsThrough(t *testing.T) {
	repo := &callbackRepoStub{request: pendingRequest(), finalizeResult: true}
	guard := &replayGuardStub{err: errors.New("redis down")}
	svc := NewService(repo, nil, nil, guard, testAllocationConfig())

	if err := svc.ProcessStkCallback(context.Background(), successCallbackBody("ws_CO_degraded")); err != nil {
		t.Fatalf("expected processing to continue without the guard, got %v", err)
	}
	if repo.createdPayment == nil {
		t.Fatal("expected the settlement to be recorded despite the guard outage")
	}
}
