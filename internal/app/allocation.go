/**
 * @description
 * The allocation engine: the rule set deciding how a settled amount is split
 * across a member's obligation categories. Two policies exist:
 *
 *  - Breakdown allocation: the member declared the split at request time;
 *    the engine replays the non-zero categories as allocation lines.
 *  - Rule-based allocation: no breakdown exists (unsolicited bill-pay); the
 *    split is decided purely from the member's current financial state and
 *    the paid amount, by an ordered rule cascade with first-match-wins
 *    semantics.
 *
 * Both policies are pure functions of their inputs, so the policy is unit
 * testable per rule without a database.
 */

package app

import (
	"log"

	"github.com/google/uuid"
	"github.com/tps-sacco/payments-service/internal/domain"
)

// AllocationConfig carries the fixed amounts the rule cascade evaluates
// against, all in cents.
type AllocationConfig struct {
	MembershipThreshold int64 // registration fee settled before anything else
	DailyDepositAmount  int64 // fixed daily-deposit slice for existing members
	SharesTarget        int64 // cumulative shares level a member builds toward
	WelfareAmount       int64 // fixed welfare contribution
}

// AllocateFromBreakdown converts a member-declared breakdown into allocation
// lines, one per funded category. A funded loan-repayment slice without a
// target loan id is an inconsistency: it is logged and skipped rather than
// failing the whole settlement, so the other categories still post.
func AllocateFromBreakdown(requestID uuid.UUID, b domain.Breakdown) []domain.AllocationLine {
	var lines []domain.AllocationLine

	if b.DailyDeposit > 0 {
		lines = append(lines, domain.AllocationLine{Category: domain.CategoryDailyDeposit, Amount: b.DailyDeposit})
	}
	if b.LoanRepayment != nil && b.LoanRepayment.Amount > 0 {
		if b.LoanRepayment.LoanID == nil {
			log.Printf("level=warn component=allocation msg=\"loan repayment slice has no loan id; skipping category\" request_id=%s amount=%d",
				requestID, b.LoanRepayment.Amount)
		} else {
			lines = append(lines, domain.AllocationLine{
				Category:  domain.CategoryLoanRepayment,
				Amount:    b.LoanRepayment.Amount,
				RelatedID: b.LoanRepayment.LoanID,
			})
		}
	}
	if b.Shares > 0 {
		lines = append(lines, domain.AllocationLine{Category: domain.CategoryShares, Amount: b.Shares})
	}
	if b.Membership > 0 {
		lines = append(lines, domain.AllocationLine{Category: domain.CategoryMembership, Amount: b.Membership})
	}
	if b.Welfare > 0 {
		lines = append(lines, domain.AllocationLine{Category: domain.CategoryWelfare, Amount: b.Welfare})
	}

	return lines
}

// allocationRule is one (predicate, allocator) pair in the ordered cascade.
type allocationRule struct {
	name     string
	applies  func(state *domain.MemberFinancialState, amount int64) bool
	allocate func(state *domain.MemberFinancialState, amount int64) []domain.AllocationLine
}

// rules returns the ordered cascade. Evaluation is strictly top-to-bottom and
// exactly one rule's allocator runs per payment.
func (c AllocationConfig) rules() []allocationRule {
	return []allocationRule{
		{
			// New member: settle the registration fee first, overflow to shares.
			name: "membership_first",
			applies: func(state *domain.MemberFinancialState, _ int64) bool {
				return !state.MembershipPaid
			},
			allocate: func(state *domain.MemberFinancialState, amount int64) []domain.AllocationLine {
				lines := []domain.AllocationLine{{
					Category: domain.CategoryMembership,
					Amount:   minInt64(amount, c.MembershipThreshold),
				}}
				if remainder := amount - c.MembershipThreshold; remainder > 0 {
					lines = append(lines, domain.AllocationLine{Category: domain.CategoryShares, Amount: remainder})
				}
				return lines
			},
		},
		{
			// Active borrower: fixed daily deposit, the rest against the
			// oldest active loan.
			name: "loan_priority",
			applies: func(state *domain.MemberFinancialState, _ int64) bool {
				return len(state.ActiveLoans) > 0
			},
			allocate: func(state *domain.MemberFinancialState, amount int64) []domain.AllocationLine {
				daily := minInt64(amount, c.DailyDepositAmount)
				lines := []domain.AllocationLine{{Category: domain.CategoryDailyDeposit, Amount: daily}}
				if remainder := amount - daily; remainder > 0 {
					loanID := state.ActiveLoans[0].ID
					lines = append(lines, domain.AllocationLine{
						Category:  domain.CategoryLoanRepayment,
						Amount:    remainder,
						RelatedID: &loanID,
					})
				}
				return lines
			},
		},
		{
			// No loan, shares still building: fixed daily deposit, rest to shares.
			name: "shares_building",
			applies: func(state *domain.MemberFinancialState, _ int64) bool {
				return state.SharesPaid < c.SharesTarget
			},
			allocate: func(state *domain.MemberFinancialState, amount int64) []domain.AllocationLine {
				daily := minInt64(amount, c.DailyDepositAmount)
				lines := []domain.AllocationLine{{Category: domain.CategoryDailyDeposit, Amount: daily}}
				if remainder := amount - daily; remainder > 0 {
					lines = append(lines, domain.AllocationLine{Category: domain.CategoryShares, Amount: remainder})
				}
				return lines
			},
		},
		{
			// Shares target met, no loan: top up welfare when due or when the
			// amount covers it, then daily deposit takes the rest.
			name: "welfare_then_savings",
			applies: func(_ *domain.MemberFinancialState, _ int64) bool {
				return true
			},
			allocate: func(state *domain.MemberFinancialState, amount int64) []domain.AllocationLine {
				if !state.LastWelfarePaid || amount >= c.WelfareAmount {
					welfare := minInt64(amount, c.WelfareAmount)
					lines := []domain.AllocationLine{{Category: domain.CategoryWelfare, Amount: welfare}}
					if remainder := amount - welfare; remainder > 0 {
						lines = append(lines, domain.AllocationLine{Category: domain.CategoryDailyDeposit, Amount: remainder})
					}
					return lines
				}
				return []domain.AllocationLine{{Category: domain.CategoryDailyDeposit, Amount: amount}}
			},
		},
	}
}

// AllocateFromState runs the rule cascade for an unsolicited payment.
// Deterministic: identical state and amount always yield the same split.
func (c AllocationConfig) AllocateFromState(state *domain.MemberFinancialState, amount int64) []domain.AllocationLine {
	if amount <= 0 {
		return nil
	}
	for _, rule := range c.rules() {
		if rule.applies(state, amount) {
			return dropNonPositive(rule.allocate(state, amount))
		}
	}
	return nil
}

// dropNonPositive removes lines that would post a zero or negative amount.
func dropNonPositive(lines []domain.AllocationLine) []domain.AllocationLine {
	kept := lines[:0]
	for _, line := range lines {
		if line.Amount > 0 {
			kept = append(kept, line)
		}
	}
	return kept
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
