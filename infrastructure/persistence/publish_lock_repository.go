package persistence

import (
	"context"
	"database/sql"
	"time"

	"smm-publisher/domain/repository"

	"github.com/google/uuid"
)

// PublishLockRepository is a lease table in PostgreSQL. A lease is taken by
// inserting its row, or by overwriting a row whose lease already expired.
type PublishLockRepository struct {
	db  *sql.DB
	now func() time.Time
}

var _ repository.IPublishLock = (*PublishLockRepository)(nil)

func NewPublishLockRepository(db *sql.DB) *PublishLockRepository {
	return &PublishLockRepository{db: db, now: time.Now}
}

func (r *PublishLockRepository) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	now := r.now().UTC()
	q := `INSERT INTO publication_locks (lock_key, token, expires_at, created_at)
		  VALUES ($1,$2,$3,$4)
		  ON CONFLICT (lock_key) DO UPDATE SET
			token=EXCLUDED.token,
			expires_at=EXCLUDED.expires_at,
			created_at=EXCLUDED.created_at
		  WHERE publication_locks.expires_at <= EXCLUDED.created_at`
	res, err := r.db.ExecContext(ctx, q, key, token, now.Add(ttl), now)
	if err != nil {
		return "", false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", false, err
	}
	if n == 0 {
		return "", false, nil
	}
	return token, true, nil
}

func (r *PublishLockRepository) Extend(ctx context.Context, key string, token string, ttl time.Duration) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE publication_locks SET expires_at=$3 WHERE lock_key=$1 AND token=$2`, key, token, r.now().UTC().Add(ttl))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Release only deletes the row when the caller still holds the lease.
func (r *PublishLockRepository) Release(ctx context.Context, key string, token string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM publication_locks WHERE lock_key=$1 AND token=$2`, key, token)
	return err
}

// PurgeExpired removes leases that expired before now.
func (r *PublishLockRepository) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM publication_locks WHERE expires_at < $1`, r.now().UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
