/**
 * @description
 * This file provides the PostgreSQL implementation of the Repository interface.
 * Row-level locks (SELECT ... FOR UPDATE) serialize concurrent writers to the same
 * subscription, and the sweep batch isolates each deactivation in a savepoint so a
 * single failing record does not abort the whole run.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */
package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/transfa/subscription-tracker/internal/domain"
)

//go:embed schema.sql
var schemaSQL string

const subscriptionColumns = `id, user_email, plan_name, start_date, end_date, is_active, created_at, updated_at`

// PostgresRepository is the PostgreSQL implementation of Repository.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// EnsureSchema creates the subscriptions table and its indexes if they do not exist.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schemaSQL); err != nil {
		return persistenceErr("ensure schema", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row rowScanner) (*domain.Subscription, error) {
	var sub domain.Subscription
	err := row.Scan(
		&sub.ID,
		&sub.UserEmail,
		&sub.PlanName,
		&sub.StartDate,
		&sub.EndDate,
		&sub.IsActive,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	normalizeTimes(&sub)
	return &sub, nil
}

func persistenceErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", domain.ErrPersistence, op, err)
}

// CreateSubscription inserts a new subscription and returns it with its assigned id.
func (r *PostgresRepository) CreateSubscription(ctx context.Context, sub domain.Subscription) (*domain.Subscription, error) {
	query := `
        INSERT INTO subscriptions (user_email, plan_name, start_date, end_date, is_active, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $6)
        RETURNING ` + subscriptionColumns
	created, err := scanSubscription(r.db.QueryRow(ctx, query,
		sub.UserEmail,
		sub.PlanName,
		sub.StartDate,
		sub.EndDate,
		sub.IsActive,
		sub.CreatedAt,
	))
	if err != nil {
		return nil, persistenceErr("create subscription", err)
	}
	return created, nil
}

// GetSubscriptionByID retrieves a subscription by id.
func (r *PostgresRepository) GetSubscriptionByID(ctx context.Context, id int64) (*domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id = $1`
	sub, err := scanSubscription(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, persistenceErr("get subscription", err)
	}
	return sub, nil
}

// UpdateSubscription applies a partial update. Absent fields keep their stored value.
func (r *PostgresRepository) UpdateSubscription(ctx context.Context, id int64, upd domain.SubscriptionUpdate, now time.Time) (*domain.Subscription, error) {
	if upd.IsEmpty() {
		return r.GetSubscriptionByID(ctx, id)
	}

	query := `
        UPDATE subscriptions
        SET plan_name = COALESCE($2, plan_name),
            end_date = COALESCE($3, end_date),
            is_active = COALESCE($4, is_active),
            updated_at = $5
        WHERE id = $1
        RETURNING ` + subscriptionColumns
	sub, err := scanSubscription(r.db.QueryRow(ctx, query, id, upd.PlanName, upd.EndDate, upd.IsActive, now))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, persistenceErr("update subscription", err)
	}
	return sub, nil
}

// ModifySubscription locks the row, hands a copy to fn and writes back the result
// in the same transaction.
func (r *PostgresRepository) ModifySubscription(ctx context.Context, id int64, now time.Time, fn func(domain.Subscription) (domain.Subscription, error)) (*domain.Subscription, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, persistenceErr("begin modify", err)
	}
	defer tx.Rollback(ctx)

	// Use FOR UPDATE to lock the row, so a concurrent sweep or renewal waits for us.
	current, err := scanSubscription(tx.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, persistenceErr("lock subscription", err)
	}

	next, err := fn(*current)
	if err != nil {
		return nil, err
	}

	query := `
        UPDATE subscriptions
        SET plan_name = $2,
            end_date = $3,
            is_active = $4,
            updated_at = $5
        WHERE id = $1
        RETURNING ` + subscriptionColumns
	updated, err := scanSubscription(tx.QueryRow(ctx, query, id, next.PlanName, next.EndDate, next.IsActive, now))
	if err != nil {
		return nil, persistenceErr("modify subscription", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, persistenceErr("commit modify", err)
	}
	return updated, nil
}

// ListSubscriptionsByEmail returns every subscription held by the given address.
func (r *PostgresRepository) ListSubscriptionsByEmail(ctx context.Context, email string) ([]domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE user_email = $1 ORDER BY id`
	return r.list(ctx, "list by email", query, email)
}

// ListExpiringWithin returns subscriptions whose end date lies between now and now+window.
func (r *PostgresRepository) ListExpiringWithin(ctx context.Context, now time.Time, window time.Duration, activeOnly bool) ([]domain.Subscription, error) {
	query := `
        SELECT ` + subscriptionColumns + `
        FROM subscriptions
        WHERE end_date >= $1
          AND end_date <= $2
          AND ($3::boolean = FALSE OR is_active = TRUE)
        ORDER BY end_date, id`
	return r.list(ctx, "list expiring", query, now, now.Add(window), activeOnly)
}

// ListExpiredActive returns active subscriptions whose end date has passed.
func (r *PostgresRepository) ListExpiredActive(ctx context.Context, now time.Time) ([]domain.Subscription, error) {
	query := `
        SELECT ` + subscriptionColumns + `
        FROM subscriptions
        WHERE end_date < $1
          AND is_active = TRUE
        ORDER BY end_date, id`
	return r.list(ctx, "list expired", query, now)
}

func (r *PostgresRepository) list(ctx context.Context, op, query string, args ...any) ([]domain.Subscription, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, persistenceErr(op, err)
	}
	defer rows.Close()

	subs := []domain.Subscription{}
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, persistenceErr(op, err)
		}
		subs = append(subs, *sub)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceErr(op, err)
	}
	return subs, nil
}

// BeginSweep opens the transaction that holds one sweep run's deactivations.
func (r *PostgresRepository) BeginSweep(ctx context.Context) (SweepBatch, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, persistenceErr("begin sweep", err)
	}
	return &postgresSweepBatch{tx: tx}, nil
}

type postgresSweepBatch struct {
	tx pgx.Tx
}

func (b *postgresSweepBatch) Deactivate(ctx context.Context, id int64, asOf time.Time) (bool, error) {
	// A nested pgx transaction is a savepoint: a failure here rolls back only this record.
	sp, err := b.tx.Begin(ctx)
	if err != nil {
		return false, persistenceErr("savepoint", err)
	}

	tag, err := sp.Exec(ctx, `
        UPDATE subscriptions
        SET is_active = FALSE,
            updated_at = $2
        WHERE id = $1
          AND is_active = TRUE
          AND end_date < $2`, id, asOf)
	if err != nil {
		_ = sp.Rollback(ctx)
		return false, persistenceErr("deactivate subscription", err)
	}
	if err := sp.Commit(ctx); err != nil {
		return false, persistenceErr("release savepoint", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (b *postgresSweepBatch) Commit(ctx context.Context) error {
	if err := b.tx.Commit(ctx); err != nil {
		return persistenceErr("commit sweep", err)
	}
	return nil
}

func (b *postgresSweepBatch) Rollback(ctx context.Context) error {
	err := b.tx.Rollback(ctx)
	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return persistenceErr("rollback sweep", err)
	}
	return nil
}

func normalizeTimes(sub *domain.Subscription) {
	sub.StartDate = sub.StartDate.UTC()
	sub.EndDate = sub.EndDate.UTC()
	sub.CreatedAt = sub.CreatedAt.UTC()
	sub.UpdatedAt = sub.UpdatedAt.UTC()
}
