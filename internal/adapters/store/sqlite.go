// Package store holds the durable per-call signaling record and the offline outbox.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dkeye/voicecall/internal/domain"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

var ErrNotParticipant = errors.New("user is not a participant of the call")

// Store is the sqlite backed call record store.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS call_signals (
	seq      INTEGER PRIMARY KEY AUTOINCREMENT,
	msg_id   TEXT NOT NULL UNIQUE,
	call_id  TEXT NOT NULL,
	kind     TEXT NOT NULL,
	from_uid TEXT NOT NULL,
	to_uid   TEXT NOT NULL,
	payload  BLOB,
	sent_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_call_signals_call ON call_signals(call_id, seq);

CREATE TABLE IF NOT EXISTS outbox (
	seq      INTEGER PRIMARY KEY AUTOINCREMENT,
	msg_id   TEXT NOT NULL UNIQUE,
	call_id  TEXT NOT NULL,
	kind     TEXT NOT NULL,
	from_uid TEXT NOT NULL,
	to_uid   TEXT NOT NULL,
	payload  BLOB,
	sent_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_outbox_to ON outbox(to_uid, seq);
`

// Open opens or creates the database at path. ":memory:" is accepted for tests.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	log.Info().Str("module", "store").Str("path", path).Msg("call store ready")
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

const columns = `msg_id, call_id, kind, from_uid, to_uid, payload, sent_at`

// AppendSignal writes an offer, answer or candidate into the call record.
// Duplicate message ids are ignored.
func (s *Store) AppendSignal(ctx context.Context, msg domain.SignalingMessage) error {
	if err := s.insert(ctx, "call_signals", msg); err != nil {
		return fmt.Errorf("failed to append signal: %w", err)
	}
	return nil
}

// Signals returns the record of callID addressed to uid, in write order.
func (s *Store) Signals(ctx context.Context, callID domain.CallID, uid domain.UserID) ([]domain.SignalingMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+columns+` FROM call_signals WHERE call_id = ? AND to_uid = ? ORDER BY seq`,
		string(callID), string(uid))
	if err != nil {
		return nil, fmt.Errorf("failed to query signals: %w", err)
	}
	return scanMessages(rows)
}

// IsParticipant reports whether uid sent or received any signal of callID.
// A call without any record has no participants to check against and reports true.
func (s *Store) IsParticipant(ctx context.Context, callID domain.CallID, uid domain.UserID) (bool, error) {
	var total, mine int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(from_uid = ? OR to_uid = ?), 0)
		FROM call_signals WHERE call_id = ?`,
		string(uid), string(uid), string(callID)).Scan(&total, &mine)
	if err != nil {
		return false, fmt.Errorf("failed to check participant: %w", err)
	}
	return total == 0 || mine > 0, nil
}

// DeleteCall removes the call record and any queued messages of the call.
func (s *Store) DeleteCall(ctx context.Context, callID domain.CallID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM call_signals WHERE call_id = ?`, string(callID))
	if err != nil {
		return fmt.Errorf("failed to delete call record: %w", err)
	}
	// Closing messages stay queued so an offline peer still learns the call ended.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM outbox WHERE call_id = ? AND kind NOT IN ('decline', 'busy', 'end')`,
		string(callID)); err != nil {
		return fmt.Errorf("failed to prune outbox: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	n, _ := res.RowsAffected()
	log.Debug().Str("module", "store").Str("call_id", string(callID)).Int64("rows", n).Msg("call record deleted")
	return nil
}

// Enqueue stores a control message for a recipient that is not connected.
func (s *Store) Enqueue(ctx context.Context, msg domain.SignalingMessage) error {
	if err := s.insert(ctx, "outbox", msg); err != nil {
		return fmt.Errorf("failed to enqueue: %w", err)
	}
	return nil
}

// TakeOutbox returns and removes every message queued for uid, oldest first.
func (s *Store) TakeOutbox(ctx context.Context, uid domain.UserID) ([]domain.SignalingMessage, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT `+columns+` FROM outbox WHERE to_uid = ? ORDER BY seq`, string(uid))
	if err != nil {
		return nil, fmt.Errorf("failed to query outbox: %w", err)
	}
	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM outbox WHERE to_uid = ?`, string(uid)); err != nil {
		return nil, fmt.Errorf("failed to clear outbox: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return msgs, nil
}

// PurgeOutbox drops queued messages older than maxAge.
func (s *Store) PurgeOutbox(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-maxAge).Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx, `DELETE FROM outbox WHERE sent_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge outbox: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) insert(ctx context.Context, table string, msg domain.SignalingMessage) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO `+table+` (`+columns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, string(msg.CallID), string(msg.Kind),
		string(msg.FromUserID), string(msg.ToUserID),
		[]byte(msg.Payload), msg.SentAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

func scanMessages(rows *sql.Rows) ([]domain.SignalingMessage, error) {
	defer rows.Close()
	var out []domain.SignalingMessage
	for rows.Next() {
		var (
			m                          domain.SignalingMessage
			callID, kind, from, to, at string
			payload                    []byte
		)
		if err := rows.Scan(&m.ID, &callID, &kind, &from, &to, &payload, &at); err != nil {
			return nil, fmt.Errorf("failed to scan signal: %w", err)
		}
		m.CallID = domain.CallID(callID)
		m.Kind = domain.Kind(kind)
		m.FromUserID = domain.UserID(from)
		m.ToUserID = domain.UserID(to)
		if len(payload) > 0 {
			m.Payload = payload
		}
		m.SentAt, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate signals: %w", err)
	}
	return out, nil
}
