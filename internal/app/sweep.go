/**
 * @description
 * The periodic sweep: warns subscribers whose plans are about to lapse and
 * deactivates the ones that have lapsed, sending one expiry notice each.
 *
 * Deactivations of one run share a single store transaction. Each record is
 * isolated so one failure is logged and skipped without aborting the run.
 * Expiry notices go out only after the commit; the stored flag is authoritative.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/transfa/subscription-tracker/internal/config"
	"github.com/transfa/subscription-tracker/internal/domain"
	"github.com/transfa/subscription-tracker/internal/lifecycle"
	"github.com/transfa/subscription-tracker/internal/metrics"
	"github.com/transfa/subscription-tracker/internal/notifier"
	"github.com/transfa/subscription-tracker/internal/store"
)

// ErrSweepInProgress is returned when a sweep is requested while another is running.
var ErrSweepInProgress = errors.New("sweep already in progress")

// SweepReport summarizes one sweep run.
type SweepReport struct {
	Warned               int       `json:"warned"`
	WarnFailures         int       `json:"warn_failures"`
	Deactivated          int       `json:"deactivated"`
	ExpiryNoticesSent    int       `json:"expiry_notices_sent"`
	ExpiryNoticeFailures int       `json:"expiry_notice_failures"`
	Errors               int       `json:"errors"`
	StartedAt            time.Time `json:"started_at"`
	FinishedAt           time.Time `json:"finished_at"`
}

// SweepJob runs the warning and expiry passes over the store.
type SweepJob struct {
	repo          store.Repository
	notifier      notifier.Notifier
	metrics       *metrics.Metrics
	logger        *slog.Logger
	clock         Clock
	warningWindow time.Duration
	timeout       time.Duration
	running       atomic.Bool
}

// NewSweepJob creates a sweep runner. A nil clock means time.Now.
func NewSweepJob(repo store.Repository, n notifier.Notifier, m *metrics.Metrics, logger *slog.Logger, cfg config.Config, clock Clock) *SweepJob {
	if clock == nil {
		clock = time.Now
	}
	window := cfg.WarningWindow
	if window <= 0 {
		window = lifecycle.DefaultWarningWindow
	}
	return &SweepJob{
		repo:          repo,
		notifier:      n,
		metrics:       m,
		logger:        logger,
		clock:         clock,
		warningWindow: window,
		timeout:       cfg.SweepTimeout,
	}
}

// RunScheduled is the cron entry point. Outcomes are logged, never returned.
func (j *SweepJob) RunScheduled() {
	report, err := j.Run(context.Background())
	if errors.Is(err, ErrSweepInProgress) {
		j.logger.Warn("skipping sweep; previous run still in progress")
		return
	}
	if err != nil {
		j.logger.Error("sweep failed", "error", err, "deactivated", report.Deactivated, "errors", report.Errors)
	}
}

// Run performs one sweep. Only one run may be active at a time.
func (j *SweepJob) Run(ctx context.Context) (SweepReport, error) {
	if !j.running.CompareAndSwap(false, true) {
		j.metrics.SweepRunsTotal.WithLabelValues("skipped").Inc()
		return SweepReport{}, ErrSweepInProgress
	}
	defer j.running.Store(false)

	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}

	started := time.Now()
	now := j.clock()
	report := SweepReport{StartedAt: now}
	j.logger.Info("starting subscription sweep", "as_of", now, "warning_window", j.warningWindow.String())

	j.warn(ctx, now, &report)
	err := j.expire(ctx, now, &report)

	report.FinishedAt = j.clock()
	j.metrics.SweepDuration.Observe(time.Since(started).Seconds())
	j.metrics.SweepErrorsTotal.Add(float64(report.Errors))
	if err != nil {
		j.metrics.SweepRunsTotal.WithLabelValues("failed").Inc()
		return report, err
	}

	j.metrics.SweepRunsTotal.WithLabelValues("completed").Inc()
	j.metrics.SweepLastSuccess.SetToCurrentTime()
	j.logger.Info("subscription sweep finished",
		"warned", report.Warned,
		"warn_failures", report.WarnFailures,
		"deactivated", report.Deactivated,
		"expiry_notices_sent", report.ExpiryNoticesSent,
		"expiry_notice_failures", report.ExpiryNoticeFailures,
		"errors", report.Errors,
	)
	return report, nil
}

// warn notifies active subscriptions inside the warning window. A failed
// listing is counted and the expiry pass still runs.
func (j *SweepJob) warn(ctx context.Context, now time.Time, report *SweepReport) {
	subs, err := j.repo.ListExpiringWithin(ctx, now, j.warningWindow, true)
	if err != nil {
		report.Errors++
		j.logger.Error("failed to list expiring subscriptions", "error", err)
		return
	}

	for _, sub := range subs {
		if !lifecycle.ShouldWarn(sub, now, j.warningWindow) {
			continue
		}
		daysLeft := lifecycle.DaysLeft(sub, now)
		if notifier.SendMessage(ctx, j.notifier, sub.UserEmail, notifier.ExpiryWarning(sub.PlanName, daysLeft)) {
			report.Warned++
			j.metrics.NotificationsTotal.WithLabelValues("warning", "sent").Inc()
			j.logger.Info("expiry warning sent", "subscription_id", sub.ID, "days_left", daysLeft)
			continue
		}
		report.WarnFailures++
		j.metrics.NotificationsTotal.WithLabelValues("warning", "failed").Inc()
		j.logger.Warn("expiry warning not delivered", "subscription_id", sub.ID,
			"error", fmt.Errorf("%w: warning for subscription %d", domain.ErrNotificationFailure, sub.ID))
	}
}

// expire deactivates lapsed subscriptions in one batch and, once the batch is
// committed, sends the expiry notices.
func (j *SweepJob) expire(ctx context.Context, now time.Time, report *SweepReport) error {
	candidates, err := j.repo.ListExpiredActive(ctx, now)
	if err != nil {
		report.Errors++
		return fmt.Errorf("list expired subscriptions: %w", err)
	}
	if len(candidates) == 0 {
		j.logger.Info("no expired subscriptions to deactivate")
		return nil
	}

	batch, err := j.repo.BeginSweep(ctx)
	if err != nil {
		report.Errors++
		return fmt.Errorf("begin sweep batch: %w", err)
	}
	defer func() {
		if rbErr := batch.Rollback(context.Background()); rbErr != nil {
			j.logger.Error("failed to roll back sweep batch", "error", rbErr)
		}
	}()

	deactivated := make([]domain.Subscription, 0, len(candidates))
	for _, sub := range candidates {
		if !lifecycle.ShouldDeactivateAndNotify(sub, now) {
			continue
		}
		changed, err := batch.Deactivate(ctx, sub.ID, now)
		if err != nil {
			report.Errors++
			j.logger.Error("failed to deactivate subscription", "subscription_id", sub.ID, "error", err)
			continue
		}
		if !changed {
			// Renewed or deactivated since it was listed.
			j.logger.Info("subscription no longer due for deactivation", "subscription_id", sub.ID)
			continue
		}
		deactivated = append(deactivated, sub)
	}

	if err := batch.Commit(ctx); err != nil {
		report.Errors++
		return fmt.Errorf("commit sweep batch: %w", err)
	}
	report.Deactivated = len(deactivated)
	j.metrics.SweepDeactivations.Add(float64(len(deactivated)))

	for _, sub := range deactivated {
		j.logger.Info("subscription deactivated", "subscription_id", sub.ID, "end_date", sub.EndDate)
		if notifier.SendMessage(ctx, j.notifier, sub.UserEmail, notifier.ExpiryNotice(sub.PlanName)) {
			report.ExpiryNoticesSent++
			j.metrics.NotificationsTotal.WithLabelValues("expiry", "sent").Inc()
			continue
		}
		report.ExpiryNoticeFailures++
		j.metrics.NotificationsTotal.WithLabelValues("expiry", "failed").Inc()
		j.logger.Warn("expiry notice not delivered", "subscription_id", sub.ID,
			"error", fmt.Errorf("%w: expiry notice for subscription %d", domain.ErrNotificationFailure, sub.ID))
	}
	return nil
}
