/**
 * @description
 * Settlement callback correlation. One webhook payload from the provider is
 * parsed into the canonical field set, matched back to its payment request by
 * checkout request id, and (on success only) allocated and posted to the
 * ledger. The handler above this layer always acknowledges the provider with
 * a 200 regardless of the outcome here; errors returned from ProcessStkCallback
 * only decide the embedded result code and what gets logged.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/tps-sacco/payments-service/internal/domain"
	"github.com/tps-sacco/payments-service/internal/store"
)

// ProcessStkCallback handles one settlement webhook end to end. Replayed
// callbacks for an already-finalized request are detected by the conditional
// status transition and treated as a successful no-op.
func (s *Service) ProcessStkCallback(ctx context.Context, raw []byte) error {
	fields, err := extractStkCallback(raw)
	if err != nil {
		return err
	}
	if fields.CheckoutRequestID == "" {
		return ErrMissingCorrelationID
	}

	// Fast-path replay check; the database transition below stays authoritative.
	// A claimed key is released again if processing fails before the request is
	// finalized, so a redelivery of the same callback gets a second chance.
	var guardKey string
	if s.guard != nil {
		key := "stk_callback:" + fields.CheckoutRequestID
		fresh, guardErr := s.guard.FirstSeen(ctx, key)
		if guardErr != nil {
			log.Printf("level=warn component=callback msg=\"replay guard unavailable; continuing\" checkout_request_id=%s err=%v",
				fields.CheckoutRequestID, guardErr)
		} else if !fresh {
			log.Printf("level=info component=callback msg=\"duplicate callback dropped by replay guard\" checkout_request_id=%s",
				fields.CheckoutRequestID)
			return nil
		} else {
			guardKey = key
		}
	}

	if err := s.settleStkCallback(ctx, fields, raw); err != nil {
		s.releaseGuard(ctx, guardKey)
		return err
	}
	return nil
}

// settleStkCallback runs the database side of a callback after correlation and
// replay screening. Errors returned from here mean no settled payment was
// recorded, so the caller must release the replay guard claim.
func (s *Service) settleStkCallback(ctx context.Context, fields *stkCallbackFields, raw []byte) error {
	req, err := s.repo.FindPaymentRequestByCheckoutID(ctx, fields.CheckoutRequestID)
	if err != nil {
		if errors.Is(err, store.ErrPaymentRequestNotFound) {
			return fmt.Errorf("%w: checkout_request_id=%s", store.ErrPaymentRequestNotFound, fields.CheckoutRequestID)
		}
		return fmt.Errorf("failed to look up request for callback: %w", err)
	}

	status := domain.RequestStatusFailed
	if fields.ResultCode == 0 {
		status = domain.RequestStatusSuccess
	}

	claimed, err := s.repo.FinalizePaymentRequest(ctx, req.ID, status)
	if err != nil {
		return fmt.Errorf("failed to finalize request: %w", err)
	}
	if !claimed {
		// At-least-once delivery: the request was already finalized, so this
		// callback is a replay. No second payment row, no ledger rows.
		log.Printf("level=info component=callback msg=\"replayed callback for finalized request; no-op\" request_id=%s status=%s",
			req.ID, req.Status)
		return nil
	}

	payment := s.buildSettledPayment(req, fields, status, raw)
	created, err := s.repo.CreateSettledPayment(ctx, payment)
	if err != nil {
		return fmt.Errorf("failed to record settled payment: %w", err)
	}

	memberID := req.MemberID
	s.publishSettled(ctx, created, &memberID)

	if status != domain.RequestStatusSuccess {
		log.Printf("level=info component=callback msg=\"settlement failed at provider\" request_id=%s result_code=%d result_desc=%q",
			req.ID, fields.ResultCode, fields.ResultDesc)
		return nil
	}

	lines := AllocateFromBreakdown(req.ID, req.Breakdown)
	if len(lines) == 0 {
		log.Printf("level=warn component=callback msg=\"settled push carries no allocatable breakdown\" request_id=%s payment_id=%s",
			req.ID, created.ID)
		return nil
	}

	if err := s.repo.ApplyAllocation(ctx, req.MemberID, created, lines); err != nil {
		return fmt.Errorf("failed to post allocation for payment %s: %w", created.ID, err)
	}

	log.Printf("level=info component=callback msg=\"settlement allocated\" request_id=%s payment_id=%s categories=%d amount=%d",
		req.ID, created.ID, len(lines), created.Amount)
	return nil
}

// releaseGuard gives back a replay guard claim after a processing failure.
// Best effort, a failed delete only costs one TTL window of dropped retries.
func (s *Service) releaseGuard(ctx context.Context, key string) {
	if s.guard == nil || key == "" {
		return
	}
	if err := s.guard.Forget(ctx, key); err != nil {
		log.Printf("level=warn component=callback msg=\"failed to release replay guard claim\" key=%s err=%v", key, err)
	}
}

// buildSettledPayment assembles the immutable payment record, falling back to
// the request's own amount and phone when the provider omitted them, and
// applying the purpose allow-list.
func (s *Service) buildSettledPayment(req *domain.PaymentRequest, fields *stkCallbackFields, status string, raw []byte) *domain.SettledPayment {
	amount := fields.Amount
	if amount == 0 {
		amount = req.Amount
	}
	phone := fields.Phone
	if phone == "" {
		phone = req.Phone
	}

	payment := &domain.SettledPayment{
		CheckoutRequestID: optionalString(fields.CheckoutRequestID),
		MerchantRequestID: optionalString(fields.MerchantRequestID),
		Receipt:           optionalString(fields.Receipt),
		Phone:             optionalString(phone),
		Amount:            amount,
		TransactionDate:   fields.TransactionDate,
		Status:            status,
		PaymentFor:        allowedPurpose(req.PaymentFor),
		RelatedID:         req.RelatedID,
		RawCallback:       raw,
	}
	return payment
}

// allowedPurpose validates a purpose tag against the fixed allow-list;
// unrecognized tags become null rather than being rejected.
func allowedPurpose(tag string) *string {
	for _, allowed := range domain.AllowedPurposeTags {
		if tag == allowed {
			return &tag
		}
	}
	return nil
}

func optionalString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
