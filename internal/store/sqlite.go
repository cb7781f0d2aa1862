package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/RogerTapfit/tapfit-ai-sync-sub005/internal/session"
)

// SQLiteStore is the on-device cache: the checkpoint target when the
// remote store is unreachable and the retention area for sessions whose
// finalize has not landed remotely yet.
type SQLiteStore struct {
	db  *sql.DB
	log *zap.Logger
}

func NewSQLiteStore(conn *sql.DB, log *zap.Logger) *SQLiteStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &SQLiteStore{db: conn, log: log}
}

const localSchema = `
CREATE TABLE IF NOT EXISTS activity_sessions (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	started_at TEXT NOT NULL,
	status TEXT NOT NULL,
	payload BLOB NOT NULL,
	finalize_pending INTEGER NOT NULL DEFAULT 0,
	updated_at TEXT NOT NULL DEFAULT (datetime('now'))
)`

// Init creates the cache table.
func (s *SQLiteStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, localSchema)
	return err
}

func (s *SQLiteStore) Upsert(ctx context.Context, sess *session.Session) error {
	return s.write(ctx, sess, 0)
}

// Finalize retains the completed session with the pending marker set so a
// later sync can push it to the remote store.
func (s *SQLiteStore) Finalize(ctx context.Context, sess *session.Session) error {
	return s.write(ctx, sess, 1)
}

func (s *SQLiteStore) write(ctx context.Context, sess *session.Session, pending int) error {
	payload, err := sess.MarshalPayload()
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO activity_sessions (id, owner_id, started_at, status, payload, finalize_pending, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, datetime('now'))
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			payload = excluded.payload,
			finalize_pending = MAX(finalize_pending, excluded.finalize_pending),
			updated_at = datetime('now')
	`, sess.ID, sess.OwnerID, sess.StartedAt.UTC().Format("2006-01-02 15:04:05"),
		string(sess.Status), payload, pending)
	if err != nil {
		return fmt.Errorf("cache session %s: %w", sess.ID, err)
	}
	return nil
}

func (s *SQLiteStore) LoadActive(ctx context.Context, ownerID string) (*session.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT payload FROM activity_sessions
		WHERE owner_id = ? AND status IN ('acquiring_signal','active','paused')
		ORDER BY started_at DESC
		LIMIT 1
	`, ownerID)

	var payload []byte
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return session.UnmarshalPayload(payload)
}

// PendingFinalize lists sessions whose durable finalize has not reached
// the remote store.
func (s *SQLiteStore) PendingFinalize(ctx context.Context) ([]*session.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM activity_sessions WHERE finalize_pending = 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*session.Session
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		sess, err := session.UnmarshalPayload(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// Delete removes a cached session, typically after its remote finalize
// succeeded.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM activity_sessions WHERE id = ?`, id)
	return err
}
