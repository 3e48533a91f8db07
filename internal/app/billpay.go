/**
 * @description
 * Bill-pay (C2B) handling: the synchronous validation phase the provider calls
 * before prompting the payer, and the confirmation phase it calls after the
 * payer completes payment at the paybill. Confirmation has no prior pending
 * request; the split is decided by the rule-based allocation engine from the
 * member's live financial state.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/tps-sacco/payments-service/internal/domain"
	"github.com/tps-sacco/payments-service/internal/store"
)

// BillPayConfirmation carries the provider's confirmation payload after the
// payer completed an unsolicited paybill payment.
type BillPayConfirmation struct {
	BillRefNumber string
	Amount        int64 // in cents
	TransID       string
	Phone         string
	PaymentDate   string // provider compact timestamp, may be empty
}

// ValidateBillPay is the accept/reject check the provider runs before showing
// its own prompt. It verifies the payer's MSISDN format and that the bill
// reference resolves to a known member.
func (s *Service) ValidateBillPay(ctx context.Context, msisdn, billRef string) (*domain.Member, error) {
	if !IsValidBillPayMSISDN(msisdn) {
		return nil, ErrInvalidMSISDN
	}

	memberNo := NormalizeMemberNo(billRef)
	if memberNo == "" {
		return nil, ErrUnknownMember
	}

	member, err := s.repo.FindMemberByNumber(ctx, memberNo)
	if err != nil {
		if errors.Is(err, store.ErrMemberNotFound) {
			return nil, ErrUnknownMember
		}
		return nil, fmt.Errorf("failed to resolve member %q: %w", memberNo, err)
	}
	return member, nil
}

// ConfirmBillPay records an unsolicited payment and allocates it by the rule
// cascade. A confirmation replayed with a transaction id we have already seen
// is acknowledged without inserting a second payment.
func (s *Service) ConfirmBillPay(ctx context.Context, confirmation BillPayConfirmation, raw []byte) error {
	if confirmation.BillRefNumber == "" || confirmation.TransID == "" || confirmation.Amount <= 0 {
		return ErrMissingBillFields
	}

	memberNo := NormalizeMemberNo(confirmation.BillRefNumber)
	member, err := s.repo.FindMemberByNumber(ctx, memberNo)
	if err != nil {
		if errors.Is(err, store.ErrMemberNotFound) {
			return ErrUnknownMember
		}
		return fmt.Errorf("failed to resolve member %q: %w", memberNo, err)
	}

	if _, err := s.repo.FindSettledPaymentByReceipt(ctx, confirmation.TransID); err == nil {
		log.Printf("level=info component=billpay msg=\"duplicate confirmation acknowledged\" trans_id=%s member_no=%s",
			confirmation.TransID, memberNo)
		return nil
	} else if !errors.Is(err, store.ErrSettledPaymentNotFound) {
		return fmt.Errorf("failed to check for duplicate confirmation: %w", err)
	}

	txDate := parseTransactionTimestamp(confirmation.PaymentDate)
	if txDate == nil {
		now := time.Now().UTC()
		txDate = &now
	}

	purpose := domain.PurposeMixed
	memberID := member.ID
	payment := &domain.SettledPayment{
		Receipt:         optionalString(confirmation.TransID),
		Phone:           optionalString(confirmation.Phone),
		Amount:          confirmation.Amount,
		TransactionDate: txDate,
		Status:          domain.RequestStatusSuccess,
		PaymentFor:      &purpose,
		RelatedID:       &memberID,
		RawCallback:     raw,
	}
	created, err := s.repo.CreateSettledPayment(ctx, payment)
	if err != nil {
		return fmt.Errorf("failed to record bill-pay payment: %w", err)
	}

	s.publishSettled(ctx, created, &memberID)

	state, err := s.repo.GetMemberFinancialState(ctx, member.ID)
	if err != nil {
		return fmt.Errorf("failed to read member state for allocation: %w", err)
	}

	lines := s.alloc.AllocateFromState(state, confirmation.Amount)
	if err := s.repo.ApplyAllocation(ctx, member.ID, created, lines); err != nil {
		return fmt.Errorf("failed to post bill-pay allocation for payment %s: %w", created.ID, err)
	}

	log.Printf("level=info component=billpay msg=\"bill-pay allocated\" payment_id=%s member_no=%s categories=%d amount=%d",
		created.ID, memberNo, len(lines), confirmation.Amount)
	return nil
}
