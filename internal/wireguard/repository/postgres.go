package repository

import (
	"context"
	"database/sql"
	"time"
)

// ClientConfig — выданный пользователю ключевой материал
type ClientConfig struct {
	UserID       int64
	ServerID     string
	ClientID     string
	PrivateKey   string
	PublicKey    string
	PreSharedKey string
	CreatedAt    time.Time
}

type ClientConfigRepository struct {
	db *sql.DB
}

func NewClientConfigRepository(db *sql.DB) *ClientConfigRepository {
	return &ClientConfigRepository{db: db}
}

func (r *ClientConfigRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS client_configs (
			user_id BIGINT PRIMARY KEY,
			server_id TEXT NOT NULL,
			client_id TEXT NOT NULL,
			private_key TEXT NOT NULL,
			public_key TEXT NOT NULL,
			pre_shared_key TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	return err
}

// Save перезаписывает конфигурацию пользователя (одна на пользователя)
func (r *ClientConfigRepository) Save(ctx context.Context, c *ClientConfig) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO client_configs (user_id, server_id, client_id, private_key, public_key, pre_shared_key)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (user_id) DO UPDATE SET
			server_id = EXCLUDED.server_id,
			client_id = EXCLUDED.client_id,
			private_key = EXCLUDED.private_key,
			public_key = EXCLUDED.public_key,
			pre_shared_key = EXCLUDED.pre_shared_key`,
		c.UserID, c.ServerID, c.ClientID, c.PrivateKey, c.PublicKey, c.PreSharedKey)
	return err
}

func (r *ClientConfigRepository) Get(ctx context.Context, userID int64) (*ClientConfig, error) {
	c := &ClientConfig{}
	err := r.db.QueryRowContext(ctx,
		`SELECT user_id, server_id, client_id, private_key, public_key, pre_shared_key, created_at
		 FROM client_configs WHERE user_id = $1`,
		userID).Scan(&c.UserID, &c.ServerID, &c.ClientID, &c.PrivateKey, &c.PublicKey, &c.PreSharedKey, &c.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return c, nil
}

func (r *ClientConfigRepository) Delete(ctx context.Context, userID int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM client_configs WHERE user_id = $1`, userID)
	return err
}
