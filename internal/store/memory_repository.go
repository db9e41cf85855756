package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/transfa/subscription-tracker/internal/domain"
)

var errBatchClosed = errors.New("sweep batch already closed")

var (
	_ Repository = (*PostgresRepository)(nil)
	_ Repository = (*MemoryRepository)(nil)
)

// MemoryRepository is an in-process Repository used for local runs and tests.
// Writers, including an open sweep batch, are serialized by writeMu, which plays
// the part of the row locks held by the Postgres implementation.
type MemoryRepository struct {
	writeMu sync.Mutex

	mu     sync.RWMutex
	subs   map[int64]domain.Subscription
	nextID int64
}

// NewMemoryRepository creates an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{subs: make(map[int64]domain.Subscription)}
}

func (r *MemoryRepository) CreateSubscription(ctx context.Context, sub domain.Subscription) (*domain.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, persistenceErr("create subscription", err)
	}
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	sub.ID = r.nextID
	sub.UpdatedAt = sub.CreatedAt
	normalizeTimes(&sub)
	r.subs[sub.ID] = sub
	return &sub, nil
}

func (r *MemoryRepository) GetSubscriptionByID(ctx context.Context, id int64) (*domain.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, persistenceErr("get subscription", err)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub, ok := r.subs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &sub, nil
}

func (r *MemoryRepository) UpdateSubscription(ctx context.Context, id int64, upd domain.SubscriptionUpdate, now time.Time) (*domain.Subscription, error) {
	if upd.IsEmpty() {
		return r.GetSubscriptionByID(ctx, id)
	}
	return r.ModifySubscription(ctx, id, now, func(sub domain.Subscription) (domain.Subscription, error) {
		return upd.Apply(sub), nil
	})
}

func (r *MemoryRepository) ModifySubscription(ctx context.Context, id int64, now time.Time, fn func(domain.Subscription) (domain.Subscription, error)) (*domain.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, persistenceErr("modify subscription", err)
	}
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.mu.RLock()
	current, ok := r.subs[id]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.ErrNotFound
	}

	next, err := fn(current)
	if err != nil {
		return nil, err
	}
	// Identity and audit fields are owned by the store.
	next.ID = current.ID
	next.UserEmail = current.UserEmail
	next.StartDate = current.StartDate
	next.CreatedAt = current.CreatedAt
	next.UpdatedAt = now
	normalizeTimes(&next)

	r.mu.Lock()
	r.subs[id] = next
	r.mu.Unlock()
	return &next, nil
}

func (r *MemoryRepository) ListSubscriptionsByEmail(ctx context.Context, email string) ([]domain.Subscription, error) {
	return r.filter(ctx, func(sub domain.Subscription) bool {
		return sub.UserEmail == email
	}, byID)
}

func (r *MemoryRepository) ListExpiringWithin(ctx context.Context, now time.Time, window time.Duration, activeOnly bool) ([]domain.Subscription, error) {
	cutoff := now.Add(window)
	return r.filter(ctx, func(sub domain.Subscription) bool {
		if activeOnly && !sub.IsActive {
			return false
		}
		return !sub.EndDate.Before(now) && !sub.EndDate.After(cutoff)
	}, byEndDate)
}

func (r *MemoryRepository) ListExpiredActive(ctx context.Context, now time.Time) ([]domain.Subscription, error) {
	return r.filter(ctx, func(sub domain.Subscription) bool {
		return sub.IsActive && sub.EndDate.Before(now)
	}, byEndDate)
}

func (r *MemoryRepository) filter(ctx context.Context, keep func(domain.Subscription) bool, less func(a, b domain.Subscription) bool) ([]domain.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, persistenceErr("list subscriptions", err)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	subs := []domain.Subscription{}
	for _, sub := range r.subs {
		if keep(sub) {
			subs = append(subs, sub)
		}
	}
	sort.Slice(subs, func(i, j int) bool { return less(subs[i], subs[j]) })
	return subs, nil
}

func byID(a, b domain.Subscription) bool { return a.ID < b.ID }

func byEndDate(a, b domain.Subscription) bool {
	if a.EndDate.Equal(b.EndDate) {
		return a.ID < b.ID
	}
	return a.EndDate.Before(b.EndDate)
}

// BeginSweep takes the write lock until the batch is committed or rolled back.
func (r *MemoryRepository) BeginSweep(ctx context.Context) (SweepBatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, persistenceErr("begin sweep", err)
	}
	r.writeMu.Lock()
	return &memorySweepBatch{repo: r, staged: make(map[int64]domain.Subscription)}, nil
}

type memorySweepBatch struct {
	repo   *MemoryRepository
	staged map[int64]domain.Subscription
	done   bool
}

func (b *memorySweepBatch) Deactivate(ctx context.Context, id int64, asOf time.Time) (bool, error) {
	if b.done {
		return false, persistenceErr("deactivate subscription", errBatchClosed)
	}
	if err := ctx.Err(); err != nil {
		return false, persistenceErr("deactivate subscription", err)
	}
	if _, ok := b.staged[id]; ok {
		return false, nil
	}

	b.repo.mu.RLock()
	sub, ok := b.repo.subs[id]
	b.repo.mu.RUnlock()
	if !ok || !sub.IsActive || !sub.EndDate.Before(asOf) {
		return false, nil
	}

	sub.IsActive = false
	sub.UpdatedAt = asOf.UTC()
	b.staged[id] = sub
	return true, nil
}

func (b *memorySweepBatch) Commit(ctx context.Context) error {
	if b.done {
		return persistenceErr("commit sweep", errBatchClosed)
	}
	b.repo.mu.Lock()
	for id, sub := range b.staged {
		b.repo.subs[id] = sub
	}
	b.repo.mu.Unlock()
	b.release()
	return nil
}

func (b *memorySweepBatch) Rollback(ctx context.Context) error {
	if b.done {
		return nil
	}
	b.release()
	return nil
}

func (b *memorySweepBatch) release() {
	b.done = true
	b.staged = nil
	b.repo.writeMu.Unlock()
}
