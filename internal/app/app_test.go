package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/transfa/subscription-tracker/internal/config"
	"github.com/transfa/subscription-tracker/internal/domain"
	"github.com/transfa/subscription-tracker/internal/metrics"
	"github.com/transfa/subscription-tracker/internal/store"
)

const day = 24 * time.Hour

type sentMessage struct {
	address string
	subject string
	body    string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
	fail bool
}

func (n *recordingNotifier) Send(ctx context.Context, address, subject, body string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentMessage{address: address, subject: subject, body: body})
	return !n.fail
}

func (n *recordingNotifier) take() []sentMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := n.sent
	n.sent = nil
	return out
}

// virtualClock is a settable Clock shared by the service and the sweep.
type virtualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *virtualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *virtualClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type fixture struct {
	repo     *store.MemoryRepository
	clock    *virtualClock
	notifier *recordingNotifier
	metrics  *metrics.Metrics
	service  *Service
	sweep    *SweepJob
	base     time.Time
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	base := time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC)
	f := &fixture{
		repo:     store.NewMemoryRepository(),
		clock:    &virtualClock{now: base},
		notifier: &recordingNotifier{},
		metrics:  metrics.New(prometheus.NewRegistry()),
		base:     base,
	}
	cfg := config.Config{WarningWindow: 3 * day, SweepTimeout: time.Minute}
	f.service = NewService(f.repo, testLogger(), f.clock.Now)
	f.sweep = NewSweepJob(f.repo, f.notifier, f.metrics, testLogger(), cfg, f.clock.Now)
	return f
}

func (f *fixture) create(t *testing.T, email string, end time.Time) domain.SubscriptionResponse {
	t.Helper()
	resp, err := f.service.CreateSubscription(context.Background(), domain.CreateSubscriptionRequest{
		UserEmail: email,
		PlanName:  "Pro",
		EndDate:   end,
	})
	if err != nil {
		t.Fatalf("create subscription: %v", err)
	}
	return resp
}

func (f *fixture) run(t *testing.T) SweepReport {
	t.Helper()
	report, err := f.sweep.Run(context.Background())
	if err != nil {
		t.Fatalf("sweep returned error: %v", err)
	}
	return report
}

func TestSweep_WarningThenSingleExpiryNotice(t *testing.T) {
	f := newFixture(t)
	sub := f.create(t, "user@example.com", f.base.Add(31*day))

	if report := f.run(t); report.Warned != 0 || report.Deactivated != 0 {
		t.Fatalf("expected no activity 31 days out, got %+v", report)
	}
	if sent := f.notifier.take(); len(sent) != 0 {
		t.Fatalf("expected no notifications, got %d", len(sent))
	}

	f.clock.Set(f.base.Add(29 * day))
	report := f.run(t)
	if report.Warned != 1 {
		t.Fatalf("expected exactly one warning, got %+v", report)
	}
	sent := f.notifier.take()
	if len(sent) != 1 {
		t.Fatalf("expected one message, got %d", len(sent))
	}
	if sent[0].subject != "Subscription Expiry Warning - Pro" || !strings.Contains(sent[0].body, "expire in 2 days") {
		t.Fatalf("unexpected warning %+v", sent[0])
	}

	f.clock.Set(f.base.Add(32 * day))
	report = f.run(t)
	if report.Deactivated != 1 || report.ExpiryNoticesSent != 1 || report.Warned != 0 {
		t.Fatalf("expected one deactivation and one notice, got %+v", report)
	}
	sent = f.notifier.take()
	if len(sent) != 1 || sent[0].subject != "Subscription Expired - Pro" || sent[0].address != "user@example.com" {
		t.Fatalf("unexpected expiry notices %+v", sent)
	}

	status, err := f.service.GetSubscriptionStatus(context.Background(), sub.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.IsActive || !status.IsExpired {
		t.Fatalf("expected inactive and expired, got %+v", status)
	}

	report = f.run(t)
	if report.Deactivated != 0 || report.ExpiryNoticesSent != 0 {
		t.Fatalf("expected repeated sweep to be silent, got %+v", report)
	}
	if sent := f.notifier.take(); len(sent) != 0 {
		t.Fatalf("expected no further notifications, got %d", len(sent))
	}
	if got := testutil.ToFloat64(f.metrics.SweepDeactivations); got != 1 {
		t.Fatalf("expected deactivation counter 1, got %v", got)
	}
}

func TestSweep_WarnsOncePerPassWhileActive(t *testing.T) {
	f := newFixture(t)
	f.create(t, "user@example.com", f.base.Add(2*day+time.Hour))

	for i := 0; i < 2; i++ {
		if report := f.run(t); report.Warned != 1 {
			t.Fatalf("pass %d: expected one warning, got %+v", i, report)
		}
	}
}

func TestSweep_InactiveSubscriptionIsNeverWarned(t *testing.T) {
	f := newFixture(t)
	sub := f.create(t, "user@example.com", f.base.Add(2*day))

	inactive := false
	if _, err := f.service.UpdateSubscription(context.Background(), sub.ID, domain.SubscriptionUpdate{IsActive: &inactive}); err != nil {
		t.Fatalf("update: %v", err)
	}

	if report := f.run(t); report.Warned != 0 {
		t.Fatalf("expected no warning for inactive subscription, got %+v", report)
	}
}

func TestSweep_LessThanOneDayLeftDoesNotWarn(t *testing.T) {
	f := newFixture(t)
	f.create(t, "user@example.com", f.base.Add(6*time.Hour))

	if report := f.run(t); report.Warned != 0 {
		t.Fatalf("expected no warning with zero whole days left, got %+v", report)
	}
}

func TestSweep_NotificationFailureKeepsDeactivation(t *testing.T) {
	f := newFixture(t)
	sub := f.create(t, "user@example.com", f.base.Add(-time.Hour))
	f.notifier.fail = true

	report := f.run(t)
	if report.Deactivated != 1 || report.ExpiryNoticeFailures != 1 || report.ExpiryNoticesSent != 0 {
		t.Fatalf("unexpected report %+v", report)
	}

	got, err := f.service.GetSubscription(context.Background(), sub.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.IsActive {
		t.Fatal("expected deactivation to persist despite notification failure")
	}

	if report := f.run(t); report.Deactivated != 0 || report.ExpiryNoticeFailures != 0 {
		t.Fatalf("expected no retry of failed notice, got %+v", report)
	}
}

type failingBatch struct {
	store.SweepBatch
	failID int64
}

func (b failingBatch) Deactivate(ctx context.Context, id int64, asOf time.Time) (bool, error) {
	if id == b.failID {
		return false, errors.New("deadlock detected")
	}
	return b.SweepBatch.Deactivate(ctx, id, asOf)
}

type failingRepo struct {
	*store.MemoryRepository
	failID int64
}

func (r failingRepo) BeginSweep(ctx context.Context) (store.SweepBatch, error) {
	batch, err := r.MemoryRepository.BeginSweep(ctx)
	if err != nil {
		return nil, err
	}
	return failingBatch{SweepBatch: batch, failID: r.failID}, nil
}

func TestSweep_PerRecordFailureDoesNotAbortRun(t *testing.T) {
	f := newFixture(t)
	first := f.create(t, "a@example.com", f.base.Add(-2*day))
	second := f.create(t, "b@example.com", f.base.Add(-day))

	job := NewSweepJob(failingRepo{MemoryRepository: f.repo, failID: first.ID}, f.notifier, f.metrics, testLogger(),
		config.Config{WarningWindow: 3 * day}, f.clock.Now)

	report, err := job.Run(context.Background())
	if err != nil {
		t.Fatalf("sweep returned error: %v", err)
	}
	if report.Errors != 1 || report.Deactivated != 1 || report.ExpiryNoticesSent != 1 {
		t.Fatalf("unexpected report %+v", report)
	}

	a, _ := f.service.GetSubscription(context.Background(), first.ID)
	b, _ := f.service.GetSubscription(context.Background(), second.ID)
	if !a.IsActive || b.IsActive {
		t.Fatalf("expected only the second subscription deactivated, got a=%v b=%v", a.IsActive, b.IsActive)
	}
	sent := f.notifier.take()
	if len(sent) != 1 || sent[0].address != "b@example.com" {
		t.Fatalf("expected one notice to b@example.com, got %+v", sent)
	}
}

func TestSweep_RejectsOverlappingRun(t *testing.T) {
	f := newFixture(t)
	f.sweep.running.Store(true)

	if _, err := f.sweep.Run(context.Background()); !errors.Is(err, ErrSweepInProgress) {
		t.Fatalf("expected ErrSweepInProgress, got %v", err)
	}
	if got := testutil.ToFloat64(f.metrics.SweepRunsTotal.WithLabelValues("skipped")); got != 1 {
		t.Fatalf("expected skipped counter 1, got %v", got)
	}

	f.sweep.running.Store(false)
	if _, err := f.sweep.Run(context.Background()); err != nil {
		t.Fatalf("expected run after release to succeed, got %v", err)
	}
}

func TestService_CreateNormalizesAndDefaults(t *testing.T) {
	f := newFixture(t)
	resp := f.create(t, "  User@Example.COM ", f.base.Add(10*day))

	if resp.UserEmail != "user@example.com" {
		t.Fatalf("expected normalized email, got %q", resp.UserEmail)
	}
	if !resp.IsActive || resp.IsExpired {
		t.Fatalf("expected new subscription active and unexpired, got %+v", resp)
	}
	if !resp.StartDate.Equal(f.base) {
		t.Fatalf("expected start date to default to now, got %s", resp.StartDate)
	}

	list, err := f.service.ListSubscriptionsByEmail(context.Background(), "USER@example.com")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].ID != resp.ID {
		t.Fatalf("expected one listed subscription, got %+v", list)
	}
}

func TestService_RejectsInvalidInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  domain.CreateSubscriptionRequest
	}{
		{name: "bad email", req: domain.CreateSubscriptionRequest{UserEmail: "nope", PlanName: "Pro", EndDate: f.base}},
		{name: "blank plan", req: domain.CreateSubscriptionRequest{UserEmail: "a@example.com", PlanName: "  ", EndDate: f.base}},
		{name: "missing end date", req: domain.CreateSubscriptionRequest{UserEmail: "a@example.com", PlanName: "Pro"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.service.CreateSubscription(ctx, tt.req); !errors.Is(err, domain.ErrInvalidArgument) {
				t.Fatalf("expected ErrInvalidArgument, got %v", err)
			}
		})
	}

	if _, err := f.service.ListSubscriptionsByEmail(ctx, ""); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for empty email, got %v", err)
	}
}

func TestService_RenewExpiredSubscription(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub := f.create(t, "user@example.com", f.base.Add(-5*day))
	f.run(t)

	renewed, err := f.service.RenewSubscription(ctx, sub.ID, 1)
	if err != nil {
		t.Fatalf("renew: %v", err)
	}
	if !renewed.IsActive || renewed.IsExpired {
		t.Fatalf("expected renewed subscription active and unexpired, got %+v", renewed)
	}
	if want := sub.EndDate.AddDate(0, 0, 30); !renewed.EndDate.Equal(want) {
		t.Fatalf("expected end date %s, got %s", want, renewed.EndDate)
	}

	if _, err := f.service.RenewSubscription(ctx, sub.ID, 0); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for zero months, got %v", err)
	}
	if _, err := f.service.RenewSubscription(ctx, 9999, 1); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestService_EmptyUpdateReturnsCurrentRecord(t *testing.T) {
	f := newFixture(t)
	sub := f.create(t, "user@example.com", f.base.Add(10*day))
	f.clock.Set(f.base.Add(time.Hour))

	got, err := f.service.UpdateSubscription(context.Background(), sub.ID, domain.SubscriptionUpdate{})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !got.UpdatedAt.Equal(sub.UpdatedAt) {
		t.Fatalf("expected empty update to leave updated_at alone, got %s", got.UpdatedAt)
	}

	if _, err := f.service.UpdateSubscription(context.Background(), 9999, domain.SubscriptionUpdate{}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestScheduler_RunsStartupSweepAndStops(t *testing.T) {
	f := newFixture(t)
	f.create(t, "user@example.com", f.base.Add(-time.Hour))

	cfg := config.Config{SweepInterval: time.Hour, SweepRunOnStartup: true}
	s := NewScheduler(f.sweep, testLogger(), cfg)
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	select {
	case <-s.Stop().Done():
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}

	sent := f.notifier.take()
	if len(sent) != 1 || sent[0].subject != "Subscription Expired - Pro" {
		t.Fatalf("expected startup sweep to send one expiry notice, got %+v", sent)
	}
}

func TestScheduler_RejectsInvalidSchedule(t *testing.T) {
	f := newFixture(t)
	s := NewScheduler(f.sweep, testLogger(), config.Config{SweepSchedule: "not a schedule"})
	if err := s.Start(); err == nil {
		t.Fatal("expected invalid schedule to fail")
	}
}
