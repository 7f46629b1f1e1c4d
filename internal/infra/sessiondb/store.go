package sessiondb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/aegis-sign/wcsigner/internal/namespace"
	"github.com/aegis-sign/wcsigner/internal/session"
)

// Store 将会话快照写入本地 sqlite，实现 session.Persister。
type Store struct {
	db *sql.DB
}

// Open 打开（必要时创建）path 上的数据库。
func Open(path string) (*Store, error) {
	p := filepath.Clean(strings.TrimSpace(path))
	if p == "" || p == "." {
		return nil, errors.New("missing session db path")
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// 单进程本地库，保持单连接。
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
CREATE TABLE IF NOT EXISTS sessions (
	topic TEXT PRIMARY KEY,
	proposal_id INTEGER NOT NULL,
	proposer_json TEXT NOT NULL,
	namespaces_json TEXT NOT NULL,
	status TEXT NOT NULL,
	reject_reason TEXT NOT NULL DEFAULT '',
	created_at_unix_ms INTEGER NOT NULL,
	updated_at_unix_ms INTEGER NOT NULL,
	expires_at_unix_ms INTEGER NOT NULL DEFAULT 0
);
`)
	if err != nil {
		return fmt.Errorf("init session schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save 以 topic 为主键写入最新快照。
func (s *Store) Save(ctx context.Context, sess session.Session) error {
	if s == nil || s.db == nil {
		return errors.New("session db not initialized")
	}
	proposer, err := json.Marshal(sess.Proposer)
	if err != nil {
		return err
	}
	approved := []byte("{}")
	if sess.Approved != nil {
		if approved, err = json.Marshal(sess.Approved); err != nil {
			return err
		}
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO sessions (topic, proposal_id, proposer_json, namespaces_json, status, reject_reason, created_at_unix_ms, updated_at_unix_ms, expires_at_unix_ms)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(topic) DO UPDATE SET
	proposal_id = excluded.proposal_id,
	proposer_json = excluded.proposer_json,
	namespaces_json = excluded.namespaces_json,
	status = excluded.status,
	reject_reason = excluded.reject_reason,
	created_at_unix_ms = excluded.created_at_unix_ms,
	updated_at_unix_ms = excluded.updated_at_unix_ms,
	expires_at_unix_ms = excluded.expires_at_unix_ms
`, sess.Topic, sess.ProposalID, string(proposer), string(approved), string(sess.Status), sess.RejectReason,
		toUnixMs(sess.CreatedAt), toUnixMs(sess.UpdatedAt), toUnixMs(sess.ExpiresAt))
	return err
}

// LoadAll 返回全部会话，按创建时间排序。
func (s *Store) LoadAll(ctx context.Context) ([]session.Session, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("session db not initialized")
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT topic, proposal_id, proposer_json, namespaces_json, status, reject_reason, created_at_unix_ms, updated_at_unix_ms, expires_at_unix_ms
FROM sessions
ORDER BY created_at_unix_ms ASC, topic ASC
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []session.Session
	for rows.Next() {
		var (
			sess                          session.Session
			proposer, approved, status    string
			createdMs, updatedMs, expires int64
		)
		if err := rows.Scan(&sess.Topic, &sess.ProposalID, &proposer, &approved, &status, &sess.RejectReason, &createdMs, &updatedMs, &expires); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(proposer), &sess.Proposer); err != nil {
			return nil, fmt.Errorf("session %s proposer: %w", sess.Topic, err)
		}
		var ns namespace.ApprovedNamespaces
		if err := json.Unmarshal([]byte(approved), &ns); err != nil {
			return nil, fmt.Errorf("session %s namespaces: %w", sess.Topic, err)
		}
		if len(ns) > 0 {
			sess.Approved = ns
		}
		sess.Status = session.Status(status)
		sess.CreatedAt = fromUnixMs(createdMs)
		sess.UpdatedAt = fromUnixMs(updatedMs)
		sess.ExpiresAt = fromUnixMs(expires)
		out = append(out, sess)
	}
	return out, rows.Err()
}

// Delete 删除 topic 的记录。
func (s *Store) Delete(ctx context.Context, topic string) error {
	if s == nil || s.db == nil {
		return errors.New("session db not initialized")
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE topic = ?`, topic)
	return err
}

func toUnixMs(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromUnixMs(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

var _ session.Persister = (*Store)(nil)
