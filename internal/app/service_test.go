package app

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/tps-sacco/payments-service/internal/domain"
	"github.com/tps-sacco/payments-service/internal/store"
)

type requestRepoStub struct {
	store.Repository

	pending *domain.PaymentRequest

	created          *domain.PaymentRequest
	attachedID       uuid.UUID
	attachedCheckout string
	markedFailed     bool
}

func (s *requestRepoStub) FindPendingPaymentRequest(ctx context.Context, memberID uuid.UUID, amount int64) (*domain.PaymentRequest, error) {
	if s.pending != nil && s.pending.MemberID == memberID && s.pending.Amount == amount {
		return s.pending, nil
	}
	return nil, store.ErrPaymentRequestNotFound
}

func (s *requestRepoStub) CreatePaymentRequest(ctx context.Context, req *domain.PaymentRequest) (*domain.PaymentRequest, error) {
	req.ID = uuid.New()
	s.created = req
	return req, nil
}

func (s *requestRepoStub) AttachCheckoutRequestID(ctx context.Context, requestID uuid.UUID, checkoutRequestID string) error {
	s.attachedID = requestID
	s.attachedCheckout = checkoutRequestID
	return nil
}

func (s *requestRepoStub) MarkPaymentRequestFailed(ctx context.Context, requestID uuid.UUID) error {
	s.markedFailed = true
	return nil
}

type gatewayStub struct {
	checkoutID string
	err        error

	pushedPhone  string
	pushedAmount int64
	pushedRef    string
}

func (g *gatewayStub) InitiateStkPush(ctx context.Context, phone string, amount int64, accountReference, description string) (string, error) {
	g.pushedPhone = phone
	g.pushedAmount = amount
	g.pushedRef = accountReference
	if g.err != nil {
		return "", g.err
	}
	return g.checkoutID, nil
}

func validPushPayload(memberID uuid.UUID) domain.StkPushPayload {
	return domain.StkPushPayload{
		Phone:    "0712345678",
		Total:    30000,
		MemberID: memberID,
		Breakdown: domain.Breakdown{
			DailyDeposit: 10000,
			Shares:       20000,
		},
	}
}

func TestCreateOrReusePaymentRequest_Validation(t *testing.T) {
	memberID := uuid.New()
	tests := []struct {
		name    string
		mutate  func(*domain.StkPushPayload)
		wantErr error
	}{
		{
			name:    "rejects non-positive amount",
			mutate:  func(p *domain.StkPushPayload) { p.Total = 0 },
			wantErr: ErrInvalidAmount,
		},
		{
			name:    "rejects missing member",
			mutate:  func(p *domain.StkPushPayload) { p.MemberID = uuid.Nil },
			wantErr: ErrMissingMember,
		},
		{
			name:    "rejects unnormalized phone",
			mutate:  func(p *domain.StkPushPayload) { p.Phone = "0712345678" },
			wantErr: ErrInvalidPhone,
		},
		{
			name:    "rejects breakdown that does not sum to total",
			mutate:  func(p *domain.StkPushPayload) { p.Breakdown.Shares = 5000 },
			wantErr: ErrBreakdownMismatch,
		},
		{
			// A negative slice can cancel out inside the sum check while the
			// positive slices over-post against the payment total.
			name: "rejects negative sub-amount hidden by a matching sum",
			mutate: func(p *domain.StkPushPayload) {
				p.Breakdown.DailyDeposit = -5000
				p.Breakdown.Shares = 35000
			},
			wantErr: ErrNegativeBreakdown,
		},
		{
			name: "rejects negative loan repayment slice",
			mutate: func(p *domain.StkPushPayload) {
				p.Breakdown.LoanRepayment = &domain.LoanRepaymentLine{Amount: -10000}
				p.Breakdown.Shares = 40000
			},
			wantErr: ErrNegativeBreakdown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &requestRepoStub{}
			svc := NewService(repo, &gatewayStub{}, nil, nil, testAllocationConfig())

			payload := validPushPayload(memberID)
			payload.Phone = "254712345678"
			tt.mutate(&payload)

			_, _, err := svc.CreateOrReusePaymentRequest(context.Background(), payload)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if repo.created != nil {
				t.Fatal("did not expect a request row for an invalid payload")
			}
		})
	}
}

func TestCreateOrReusePaymentRequest_ReusesPending(t *testing.T) {
	memberID := uuid.New()
	existing := &domain.PaymentRequest{
		ID:       uuid.New(),
		MemberID: memberID,
		Amount:   30000,
		Status:   domain.RequestStatusPending,
	}
	repo := &requestRepoStub{pending: existing}
	svc := NewService(repo, &gatewayStub{}, nil, nil, testAllocationConfig())

	payload := validPushPayload(memberID)
	payload.Phone = "254712345678"

	req, reused, err := svc.CreateOrReusePaymentRequest(context.Background(), payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reused {
		t.Fatal("expected the pending request to be reused")
	}
	if req.ID != existing.ID {
		t.Fatalf("expected request %s, got %s", existing.ID, req.ID)
	}
	if repo.created != nil {
		t.Fatal("did not expect a new request row when one is pending")
	}
}

func TestCreateOrReusePaymentRequest_DefaultsPurpose(t *testing.T) {
	repo := &requestRepoStub{}
	svc := NewService(repo, &gatewayStub{}, nil, nil, testAllocationConfig())

	payload := validPushPayload(uuid.New())
	payload.Phone = "254712345678"

	req, reused, err := svc.CreateOrReusePaymentRequest(context.Background(), payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reused {
		t.Fatal("expected a fresh request")
	}
	if req.PaymentFor != domain.PurposeMixed {
		t.Fatalf("expected default purpose %q, got %q", domain.PurposeMixed, req.PaymentFor)
	}
	if req.Status != domain.RequestStatusPending {
		t.Fatalf("expected Pending status, got %q", req.Status)
	}
}

func TestInitiateStkPush_Success(t *testing.T) {
	repo := &requestRepoStub{}
	gateway := &gatewayStub{checkoutID: "ws_CO_accepted"}
	svc := NewService(repo, gateway, nil, nil, testAllocationConfig())

	result, err := svc.InitiateStkPush(context.Background(), validPushPayload(uuid.New()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gateway.pushedPhone != "254712345678" {
		t.Fatalf("expected the phone to be normalized before the push, got %q", gateway.pushedPhone)
	}
	if gateway.pushedAmount != 30000 {
		t.Fatalf("expected push amount 30000, got %d", gateway.pushedAmount)
	}
	if gateway.pushedRef != repo.created.ID.String() {
		t.Fatalf("expected the request id as account reference, got %q", gateway.pushedRef)
	}
	if result.CheckoutRequestID != "ws_CO_accepted" {
		t.Fatalf("unexpected checkout request id %q", result.CheckoutRequestID)
	}
	if repo.attachedID != repo.created.ID || repo.attachedCheckout != "ws_CO_accepted" {
		t.Fatalf("expected correlation id persisted on the request, got %s / %q", repo.attachedID, repo.attachedCheckout)
	}
}

func TestInitiateStkPush_GatewayRejectionFailsRequest(t *testing.T) {
	repo := &requestRepoStub{}
	gateway := &gatewayStub{err: errors.New("invalid credentials")}
	svc := NewService(repo, gateway, nil, nil, testAllocationConfig())

	_, err := svc.InitiateStkPush(context.Background(), validPushPayload(uuid.New()))
	if !errors.Is(err, ErrGatewayRejected) {
		t.Fatalf("expected ErrGatewayRejected, got %v", err)
	}
	if !repo.markedFailed {
		t.Fatal("expected the rejected request to be marked Failed")
	}
	if repo.attachedCheckout != "" {
		t.Fatal("did not expect a correlation id after a rejection")
	}
}
