/**
 * @description
 * Scheduled job implementations: the daily savings-fine sweep and the stale
 * pending-request sweep. Each run records an activity_logs row so admins can
 * audit automated mutations.
 */

package app

import (
	"context"
	"log"
	"time"

	"github.com/tps-sacco/payments-service/internal/domain"
)

const (
	savingsFineJobName  = "daily_savings_fine_job"
	requestSweepJobName = "pending_request_timeout_job"
)

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	service       *Service
	fineAmount    int64 // in cents
	pendingMaxAge time.Duration
	runTimeout    time.Duration
}

// NewJobs creates a new Jobs runner.
func NewJobs(service *Service, fineAmount int64, pendingMaxAge time.Duration) *Jobs {
	return &Jobs{
		service:       service,
		fineAmount:    fineAmount,
		pendingMaxAge: pendingMaxAge,
		runTimeout:    2 * time.Minute,
	}
}

// ApplySavingsFines fines every active member who made no daily deposit for
// the previous day.
func (j *Jobs) ApplySavingsFines() {
	ctx, cancel := context.WithTimeout(context.Background(), j.runTimeout)
	defer cancel()

	fined, err := j.service.repo.ApplyDailySavingsFines(ctx, j.fineAmount)
	if err != nil {
		log.Printf("level=error component=jobs job=%s msg=\"fine sweep failed\" err=%v", savingsFineJobName, err)
		j.logActivity(ctx, savingsFineJobName, "apply_fines", "deductions", map[string]any{"error": err.Error()}, "failed")
		return
	}

	log.Printf("level=info component=jobs job=%s msg=\"fine sweep finished\" members_fined=%d", savingsFineJobName, fined)
	j.logActivity(ctx, savingsFineJobName, "apply_fines", "deductions", map[string]any{"members_fined": fined}, "success")
}

// ExpireStalePushRequests fails Pending requests older than the configured
// window. A request a member never acted on otherwise stays Pending forever,
// since the provider only calls back after a device-side decision.
func (j *Jobs) ExpireStalePushRequests() {
	ctx, cancel := context.WithTimeout(context.Background(), j.runTimeout)
	defer cancel()

	cutoff := time.Now().Add(-j.pendingMaxAge)
	expired, err := j.service.repo.ExpirePendingRequests(ctx, cutoff)
	if err != nil {
		log.Printf("level=error component=jobs job=%s msg=\"request sweep failed\" err=%v", requestSweepJobName, err)
		j.logActivity(ctx, requestSweepJobName, "expire_requests", "payment_requests", map[string]any{"error": err.Error()}, "failed")
		return
	}

	if expired > 0 {
		log.Printf("level=info component=jobs job=%s msg=\"stale requests expired\" count=%d", requestSweepJobName, expired)
	}
	j.logActivity(ctx, requestSweepJobName, "expire_requests", "payment_requests", map[string]any{"expired": expired}, "success")
}

func (j *Jobs) logActivity(ctx context.Context, jobName, activityType, relatedTable string, details map[string]any, status string) {
	var table *string
	if relatedTable != "" {
		table = &relatedTable
	}
	entry := domain.ActivityLog{
		JobName:      jobName,
		ActivityType: activityType,
		RelatedTable: table,
		Details:      details,
		Status:       status,
	}
	if err := j.service.repo.RecordActivityLog(ctx, entry); err != nil {
		log.Printf("level=warn component=jobs job=%s msg=\"activity log write failed\" err=%v", jobName, err)
	}
}
