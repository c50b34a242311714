package unlock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sendrec/portal/internal/database"
)

var _ Storage = (*PostgresStorage)(nil)

// PostgresStorage scopes keys by session ID in the session_storage table.
type PostgresStorage struct {
	db        database.DBTX
	sessionID string
}

func NewPostgresStorage(db database.DBTX, sessionID string) *PostgresStorage {
	return &PostgresStorage{db: db, sessionID: sessionID}
}

func (p *PostgresStorage) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := p.db.QueryRow(ctx,
		`SELECT value FROM session_storage WHERE session_id = $1 AND key = $2`,
		p.sessionID, key,
	).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read session storage: %w", err)
	}
	return value, true, nil
}

func (p *PostgresStorage) Set(ctx context.Context, key, value string) error {
	_, err := p.db.Exec(ctx,
		`INSERT INTO session_storage (session_id, key, value, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (session_id, key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		p.sessionID, key, value,
	)
	if err != nil {
		return fmt.Errorf("write session storage: %w", err)
	}
	return nil
}

func (p *PostgresStorage) Delete(ctx context.Context, keys ...string) error {
	_, err := p.db.Exec(ctx,
		`DELETE FROM session_storage WHERE session_id = $1 AND key = ANY($2)`,
		p.sessionID, keys,
	)
	if err != nil {
		return fmt.Errorf("delete session storage: %w", err)
	}
	return nil
}

// PurgeExpiredSessions drops storage rows untouched for longer than maxAge,
// ending sessions whose learner never came back.
func PurgeExpiredSessions(ctx context.Context, db database.DBTX, maxAge time.Duration) (int64, error) {
	tag, err := db.Exec(ctx,
		`DELETE FROM session_storage WHERE updated_at < now() - make_interval(secs => $1)`,
		maxAge.Seconds(),
	)
	if err != nil {
		return 0, fmt.Errorf("purge session storage: %w", err)
	}
	return tag.RowsAffected(), nil
}

func StartPurgeLoop(ctx context.Context, db database.DBTX, interval, maxAge time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				slog.Info("unlock: purge loop shutting down")
				return
			case <-ticker.C:
				n, err := PurgeExpiredSessions(ctx, db, maxAge)
				if err != nil {
					slog.Error("unlock: failed to purge expired sessions", "error", err)
					continue
				}
				if n > 0 {
					slog.Info("unlock: purged expired session storage", "rows", n)
				}
			}
		}
	}()
}
