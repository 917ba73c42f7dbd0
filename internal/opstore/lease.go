package opstore

import (
	"context"
	"time"

	"github.com/linksmith/chrono-scraper-sub007/pkg/pipeerrors"
)

// LeaseStore enforces single-writer sync cycles per stream with an
// expiring row. A crashed holder frees the stream once its lease
// expires; no manual cleanup needed.
type LeaseStore struct {
	db DB
}

// NewLeaseStore creates a lease store.
func NewLeaseStore(db DB) *LeaseStore {
	return &LeaseStore{db: db}
}

// Acquire takes the stream lease for ttl. Returns false without error
// when another live holder owns it. Re-acquiring one's own lease
// extends it.
func (l *LeaseStore) Acquire(ctx context.Context, stream, holder string, ttl time.Duration) (bool, error) {
	tag, err := l.db.Exec(ctx, `
		INSERT INTO analytics_sync_lease (stream, holder, expires_at)
		VALUES ($1, $2, now() + $3)
		ON CONFLICT (stream) DO UPDATE
		SET holder = EXCLUDED.holder, expires_at = EXCLUDED.expires_at
		WHERE analytics_sync_lease.expires_at < now()
		   OR analytics_sync_lease.holder = EXCLUDED.holder`,
		stream, holder, ttl)
	if err != nil {
		return false, pipeerrors.Wrap(err, pipeerrors.ErrorTypeTransientIO, "acquire sync lease")
	}
	return tag.RowsAffected() > 0, nil
}

// Release drops the lease if we still hold it. Best effort; an expired
// or stolen lease releases as a no-op.
func (l *LeaseStore) Release(ctx context.Context, stream, holder string) error {
	_, err := l.db.Exec(ctx,
		`DELETE FROM analytics_sync_lease WHERE stream = $1 AND holder = $2`,
		stream, holder)
	if err != nil {
		return pipeerrors.Wrap(err, pipeerrors.ErrorTypeTransientIO, "release sync lease")
	}
	return nil
}
