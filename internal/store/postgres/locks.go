package postgres

import (
	"context"
	"database/sql"
	"time"
)

type LockStore struct {
	db *sql.DB
}

func NewLockStore(db *sql.DB) *LockStore {
	return &LockStore{db: db}
}

// AcquireLock is an insert-if-absent-or-expired conditional upsert. A held,
// non-expired lock makes the conditional update match nothing, which the
// RETURNING clause reports as sql.ErrNoRows.
func (s *LockStore) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	var expiresAt time.Time
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO ingest_locks (key, expires_at)
		 VALUES ($1, NOW() + make_interval(secs => $2))
		 ON CONFLICT (key) DO UPDATE
		 SET expires_at = EXCLUDED.expires_at
		 WHERE ingest_locks.expires_at <= NOW()
		 RETURNING expires_at`,
		key, ttl.Seconds(),
	).Scan(&expiresAt)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *LockStore) ReleaseLock(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM ingest_locks WHERE key = $1`, key)
	return err
}
