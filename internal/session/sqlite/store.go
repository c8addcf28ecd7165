// Package sqlite implements session.Store on a local SQLite file using the
// pure-Go modernc.org/sqlite driver. Zero CGO required. Message parts are
// serialized as JSON with their discriminator field, so the table stays
// readable with plain SQL tooling.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gentcli/gent/internal/model"
	"github.com/gentcli/gent/internal/session"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// Store implements session.Store backed by a SQLite file.
type Store struct {
	db *sql.DB
}

var _ session.Store = (*Store)(nil)

// Open opens (creating if needed) the database at dbPath and ensures the
// schema exists. All goroutines serialize through one connection,
// eliminating SQLITE_BUSY errors from concurrent writers.
func Open(ctx context.Context, dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, &session.StorageError{Op: "open", Err: err}
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	if err := s.init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the handle so the event store can share the same file.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) init(ctx context.Context) error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			cwd TEXT NOT NULL DEFAULT '',
			bypass INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS branches (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			parent_branch_id TEXT NOT NULL DEFAULT '',
			parent_message_id TEXT NOT NULL DEFAULT '',
			name TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL DEFAULT '',
			summary TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			branch_id TEXT NOT NULL,
			role TEXT NOT NULL,
			parts TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			turn_duration_ms INTEGER NOT NULL DEFAULT 0,
			interrupted INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_branch ON messages(branch_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS checkpoints (
			id TEXT PRIMARY KEY,
			branch_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			payload TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_checkpoints_branch ON checkpoints(branch_id, created_at)`,
	}
	for _, stmt := range tables {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return &session.StorageError{Op: "init schema", Err: err}
		}
	}
	return nil
}

func (s *Store) CreateSession(ctx context.Context, in session.Session) (session.Session, error) {
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	in.CreatedAt, in.UpdatedAt = now, now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, name, cwd, bypass, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		in.ID, in.Name, in.CWD, boolInt(in.Bypass), now.UnixNano(), now.UnixNano())
	if err != nil {
		return session.Session{}, &session.StorageError{Op: "create session", Err: err}
	}
	return in, nil
}

func (s *Store) GetSession(ctx context.Context, id string) (session.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, cwd, bypass, created_at, updated_at FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return session.Session{}, session.ErrSessionNotFound
	}
	if err != nil {
		return session.Session{}, &session.StorageError{Op: "get session", Err: err}
	}
	return sess, nil
}

func (s *Store) UpdateSession(ctx context.Context, in session.Session) (session.Session, error) {
	in.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET name = ?, cwd = ?, bypass = ?, updated_at = ? WHERE id = ?`,
		in.Name, in.CWD, boolInt(in.Bypass), in.UpdatedAt.UnixNano(), in.ID)
	if err != nil {
		return session.Session{}, &session.StorageError{Op: "update session", Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return session.Session{}, session.ErrSessionNotFound
	}
	return s.GetSession(ctx, in.ID)
}

func (s *Store) ListSessions(ctx context.Context, cwd string) ([]session.Session, error) {
	query := `SELECT id, name, cwd, bypass, created_at, updated_at FROM sessions`
	args := []any{}
	if cwd != "" {
		query += ` WHERE cwd = ?`
		args = append(args, cwd)
	}
	query += ` ORDER BY created_at`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &session.StorageError{Op: "list sessions", Err: err}
	}
	defer rows.Close()
	var out []session.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, &session.StorageError{Op: "list sessions", Err: err}
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *Store) CreateBranch(ctx context.Context, in session.Branch) (session.Branch, error) {
	if _, err := s.GetSession(ctx, in.SessionID); err != nil {
		return session.Branch{}, err
	}
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	in.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO branches (id, session_id, parent_branch_id, parent_message_id, name, model, summary, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		in.ID, in.SessionID, in.ParentBranchID, in.ParentMessageID, in.Name, in.Model, in.Summary, in.CreatedAt.UnixNano())
	if err != nil {
		return session.Branch{}, &session.StorageError{Op: "create branch", Err: err}
	}
	return in, nil
}

func (s *Store) ListBranches(ctx context.Context, sessionID string) ([]session.Branch, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, parent_branch_id, parent_message_id, name, model, summary, created_at
		 FROM branches WHERE session_id = ? ORDER BY created_at`, sessionID)
	if err != nil {
		return nil, &session.StorageError{Op: "list branches", Err: err}
	}
	defer rows.Close()
	var out []session.Branch
	for rows.Next() {
		b, err := scanBranch(rows)
		if err != nil {
			return nil, &session.StorageError{Op: "list branches", Err: err}
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) GetLatestBranch(ctx context.Context, sessionID string) (session.Branch, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, parent_branch_id, parent_message_id, name, model, summary, created_at
		 FROM branches WHERE session_id = ? ORDER BY created_at DESC LIMIT 1`, sessionID)
	b, err := scanBranch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return session.Branch{}, session.ErrBranchNotFound
	}
	if err != nil {
		return session.Branch{}, &session.StorageError{Op: "get latest branch", Err: err}
	}
	return b, nil
}

func (s *Store) CreateMessage(ctx context.Context, m *model.Message) (*model.Message, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt == 0 {
		m.CreatedAt = time.Now().UTC().UnixNano()
	}
	parts, err := marshalParts(m)
	if err != nil {
		return nil, &session.StorageError{Op: "encode message parts", Err: err}
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (id, session_id, branch_id, role, parts, created_at, turn_duration_ms, interrupted)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.SessionID, m.BranchID, string(m.Role), parts, m.CreatedAt, m.TurnDurationMs, boolInt(m.Interrupted))
	if err != nil {
		return nil, &session.StorageError{Op: "create message", Err: err}
	}
	cp := *m
	return &cp, nil
}

func (s *Store) ListMessages(ctx context.Context, branchID string) ([]*model.Message, error) {
	return s.queryMessages(ctx,
		`SELECT id, session_id, branch_id, role, parts, created_at, turn_duration_ms, interrupted
		 FROM messages WHERE branch_id = ? ORDER BY created_at, id`, branchID)
}

func (s *Store) ListMessagesAfter(ctx context.Context, branchID, afterMessageID string) ([]*model.Message, error) {
	if afterMessageID == "" {
		return s.ListMessages(ctx, branchID)
	}
	row := s.db.QueryRowContext(ctx, `SELECT created_at FROM messages WHERE id = ?`, afterMessageID)
	var cut int64
	if err := row.Scan(&cut); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return s.ListMessages(ctx, branchID)
		}
		return nil, &session.StorageError{Op: "list messages after", Err: err}
	}
	return s.queryMessages(ctx,
		`SELECT id, session_id, branch_id, role, parts, created_at, turn_duration_ms, interrupted
		 FROM messages WHERE branch_id = ? AND (created_at > ? OR (created_at = ? AND id > ?))
		 ORDER BY created_at, id`, branchID, cut, cut, afterMessageID)
}

func (s *Store) ListMessagesSince(ctx context.Context, branchID string, since time.Time) ([]*model.Message, error) {
	return s.queryMessages(ctx,
		`SELECT id, session_id, branch_id, role, parts, created_at, turn_duration_ms, interrupted
		 FROM messages WHERE branch_id = ? AND created_at > ? ORDER BY created_at, id`,
		branchID, since.UnixNano())
}

func (s *Store) queryMessages(ctx context.Context, query string, args ...any) ([]*model.Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &session.StorageError{Op: "query messages", Err: err}
	}
	defer rows.Close()
	var out []*model.Message
	for rows.Next() {
		var (
			m           model.Message
			role, parts string
			interrupted int
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &m.BranchID, &role, &parts, &m.CreatedAt, &m.TurnDurationMs, &interrupted); err != nil {
			return nil, &session.StorageError{Op: "scan message", Err: err}
		}
		m.Role = model.ConversationRole(role)
		m.Interrupted = interrupted != 0
		if err := unmarshalParts(parts, &m); err != nil {
			return nil, &session.StorageError{Op: "decode message parts", Err: err}
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (s *Store) CreateCheckpoint(ctx context.Context, in session.Checkpoint) (session.Checkpoint, error) {
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	in.CreatedAt = time.Now().UTC()
	kind, payload, err := encodeCheckpoint(in)
	if err != nil {
		return session.Checkpoint{}, &session.StorageError{Op: "encode checkpoint", Err: err}
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO checkpoints (id, branch_id, kind, payload, created_at) VALUES (?, ?, ?, ?, ?)`,
		in.ID, in.BranchID, kind, payload, in.CreatedAt.UnixNano())
	if err != nil {
		return session.Checkpoint{}, &session.StorageError{Op: "create checkpoint", Err: err}
	}
	return in, nil
}

func (s *Store) GetLatestCheckpoint(ctx context.Context, branchID string) (session.Checkpoint, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, branch_id, kind, payload, created_at FROM checkpoints
		 WHERE branch_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`, branchID)
	var (
		cp            session.Checkpoint
		kind, payload string
		createdAt     int64
	)
	err := row.Scan(&cp.ID, &cp.BranchID, &kind, &payload, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return session.Checkpoint{}, false, nil
	}
	if err != nil {
		return session.Checkpoint{}, false, &session.StorageError{Op: "get latest checkpoint", Err: err}
	}
	cp.CreatedAt = time.Unix(0, createdAt).UTC()
	if err := decodeCheckpoint(kind, payload, &cp); err != nil {
		return session.Checkpoint{}, false, &session.StorageError{Op: "decode checkpoint", Err: err}
	}
	return cp, true, nil
}

const (
	checkpointKindCompaction = "compaction"
	checkpointKindPlan       = "plan"
)

func encodeCheckpoint(cp session.Checkpoint) (kind, payload string, err error) {
	switch {
	case cp.Compaction != nil:
		raw, err := json.Marshal(cp.Compaction)
		return checkpointKindCompaction, string(raw), err
	case cp.Plan != nil:
		raw, err := json.Marshal(cp.Plan)
		return checkpointKindPlan, string(raw), err
	default:
		return "", "", fmt.Errorf("checkpoint has neither compaction nor plan payload")
	}
}

func decodeCheckpoint(kind, payload string, cp *session.Checkpoint) error {
	switch kind {
	case checkpointKindCompaction:
		cp.Compaction = &session.CompactionCheckpoint{}
		return json.Unmarshal([]byte(payload), cp.Compaction)
	case checkpointKindPlan:
		cp.Plan = &session.PlanCheckpoint{}
		return json.Unmarshal([]byte(payload), cp.Plan)
	default:
		return fmt.Errorf("unknown checkpoint kind %q", kind)
	}
}

// marshalParts stores only the parts array; the scalar columns carry the
// rest of the message.
func marshalParts(m *model.Message) (string, error) {
	data, err := json.Marshal(*m)
	if err != nil {
		return "", err
	}
	var wire struct {
		Parts json.RawMessage `json:"parts"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return "", err
	}
	return string(wire.Parts), nil
}

func unmarshalParts(parts string, m *model.Message) error {
	doc, err := json.Marshal(map[string]json.RawMessage{
		"parts": json.RawMessage(parts),
	})
	if err != nil {
		return err
	}
	var decoded model.Message
	if err := json.Unmarshal(doc, &decoded); err != nil {
		return err
	}
	m.Parts = decoded.Parts
	return nil
}

type rowScanner interface{ Scan(dest ...any) error }

func scanSession(row rowScanner) (session.Session, error) {
	var (
		sess               session.Session
		bypass             int
		created, updated   int64
	)
	if err := row.Scan(&sess.ID, &sess.Name, &sess.CWD, &bypass, &created, &updated); err != nil {
		return session.Session{}, err
	}
	sess.Bypass = bypass != 0
	sess.CreatedAt = time.Unix(0, created).UTC()
	sess.UpdatedAt = time.Unix(0, updated).UTC()
	return sess, nil
}

func scanBranch(row rowScanner) (session.Branch, error) {
	var (
		b       session.Branch
		created int64
	)
	if err := row.Scan(&b.ID, &b.SessionID, &b.ParentBranchID, &b.ParentMessageID, &b.Name, &b.Model, &b.Summary, &created); err != nil {
		return session.Branch{}, err
	}
	b.CreatedAt = time.Unix(0, created).UTC()
	return b, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
