package repository

import (
	"context"
	"database/sql"
	"time"

	"wgkeeper/internal/subscription"
)

type SubscriptionRepository struct {
	db *sql.DB
}

func NewSubscriptionRepository(db *sql.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

// EnsureSchema создает таблицы при первом запуске
func (r *SubscriptionRepository) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS subscriptions (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL,
			expiration TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			is_active BOOLEAN NOT NULL DEFAULT TRUE
		)`,
		// не больше одной активной подписки на пользователя
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_subscriptions_user_active
			ON subscriptions (user_id) WHERE is_active`,
		`CREATE TABLE IF NOT EXISTS payments (
			payment_id TEXT PRIMARY KEY,
			user_id BIGINT NOT NULL,
			amount NUMERIC NOT NULL,
			duration_months INT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_payments_user ON payments (user_id)`,
	}

	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (r *SubscriptionRepository) GetActiveByUserID(ctx context.Context, userID int64) (*subscription.Subscription, error) {
	sub := &subscription.Subscription{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, expiration, created_at, is_active FROM subscriptions
		 WHERE user_id = $1 AND is_active`,
		userID).Scan(&sub.ID, &sub.UserID, &sub.Expiration, &sub.CreatedAt, &sub.Active)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return sub, nil
}

// ListActive возвращает активные неистекшие подписки, самые срочные первыми
func (r *SubscriptionRepository) ListActive(ctx context.Context, now time.Time) ([]subscription.Subscription, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, expiration, created_at, is_active FROM subscriptions
		 WHERE is_active AND expiration > $1
		 ORDER BY expiration ASC`,
		now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSubscriptions(rows)
}

// ListExpired возвращает активные подписки с истекшим сроком,
// самые давно истекшие первыми
func (r *SubscriptionRepository) ListExpired(ctx context.Context, now time.Time) ([]subscription.Subscription, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, expiration, created_at, is_active FROM subscriptions
		 WHERE is_active AND expiration <= $1
		 ORDER BY expiration ASC`,
		now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSubscriptions(rows)
}

func scanSubscriptions(rows *sql.Rows) ([]subscription.Subscription, error) {
	var subs []subscription.Subscription
	for rows.Next() {
		var sub subscription.Subscription
		if err := rows.Scan(&sub.ID, &sub.UserID, &sub.Expiration, &sub.CreatedAt, &sub.Active); err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// Deactivate снимает флаг активности. Повторная деактивация — no-op.
func (r *SubscriptionRepository) Deactivate(ctx context.Context, userID int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE subscriptions SET is_active = FALSE WHERE user_id = $1 AND is_active`,
		userID)
	return err
}

func (r *SubscriptionRepository) UpdateExpiration(ctx context.Context, userID int64, expiration time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE subscriptions SET expiration = $1 WHERE user_id = $2 AND is_active`,
		expiration, userID)
	return err
}

func (r *SubscriptionRepository) CreateActive(ctx context.Context, userID int64, expiration time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO subscriptions (user_id, expiration, is_active) VALUES ($1, $2, TRUE)`,
		userID, expiration)
	return err
}

func (r *SubscriptionRepository) CreatePayment(ctx context.Context, p *subscription.Payment) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO payments (payment_id, user_id, amount, duration_months, status)
		 VALUES ($1, $2, $3, $4, $5)`,
		p.PaymentID, p.UserID, p.Amount, p.DurationMonths, p.Status)
	return err
}

func (r *SubscriptionRepository) GetPayment(ctx context.Context, paymentID string) (*subscription.Payment, error) {
	p := &subscription.Payment{}
	err := r.db.QueryRowContext(ctx,
		`SELECT payment_id, user_id, amount, duration_months, status, created_at
		 FROM payments WHERE payment_id = $1`,
		paymentID).Scan(&p.PaymentID, &p.UserID, &p.Amount, &p.DurationMonths, &p.Status, &p.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}

func (r *SubscriptionRepository) UpdatePaymentStatus(ctx context.Context, paymentID, status string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE payments SET status = $1 WHERE payment_id = $2`,
		status, paymentID)
	return err
}

// ClearAll — административный полный сброс
func (r *SubscriptionRepository) ClearAll(ctx context.Context) error {
	for _, stmt := range []string{`DELETE FROM payments`, `DELETE FROM subscriptions`} {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
