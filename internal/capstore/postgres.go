package capstore

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Postgres is a Store backed by the cap_entries table. Expired rows are
// treated as absent on read and removed by SweepExpired, which the
// server runs on a timer.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres returns a Store sharing the given connection pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := p.pool.QueryRow(ctx,
		`SELECT value FROM cap_entries WHERE key = $1 AND expires_at > NOW()`,
		key,
	).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return value, true, nil
}

func (p *Postgres) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO cap_entries (key, value, expires_at)
		 VALUES ($1, $2, NOW() + $3)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at`,
		key, value, ttl,
	)
	return err
}

// SweepExpired deletes entries whose TTL has elapsed.
func (p *Postgres) SweepExpired(ctx context.Context) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM cap_entries WHERE expires_at <= NOW()`)
	if err != nil {
		log.Warn().Err(err).Msg("capstore sweep failed")
		return
	}
	if n := tag.RowsAffected(); n > 0 {
		log.Debug().Int64("removed", n).Msg("capstore sweep")
	}
}
