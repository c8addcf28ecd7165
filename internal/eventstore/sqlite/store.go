// Package sqlite implements eventstore.Store on SQLite via the pure-Go
// modernc.org/sqlite driver. The append is durable-first: the row is
// inserted before any live subscriber sees the envelope, so a failed
// append is never observed. Live
// fan-out reuses the bounded-buffer subscription discipline of the inmem
// store.
package sqlite

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/gentcli/gent/internal/eventstore"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// subscriberBuffer is the live-delivery headroom of each subscription
// beyond its replayed history. A subscriber that falls this far behind is
// terminated with eventstore.ErrSlowConsumer rather than served a gapped
// stream.
const subscriberBuffer = 256

// Store is a durable eventstore.Store. Safe for concurrent use.
type Store struct {
	db *sql.DB

	mu          sync.Mutex
	closed      bool
	nextID      map[string]uint64 // branchID -> next cursor value
	subscribers map[*subscription]struct{}
}

// Open opens (creating if needed) the event log at dbPath.
func Open(ctx context.Context, dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, &eventstore.Error{Op: "open", Err: err}
	}
	db.SetMaxOpenConns(1)
	return Attach(ctx, db)
}

// Attach builds a Store over an existing database handle so the event log
// can share a file with the session store. The caller keeps ownership of
// db; Close leaves it open.
func Attach(ctx context.Context, db *sql.DB) (*Store, error) {
	s := &Store{
		db:          db,
		nextID:      make(map[string]uint64),
		subscribers: make(map[*subscription]struct{}),
	}
	if err := s.init(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS events (
			branch_id TEXT NOT NULL,
			id INTEGER NOT NULL,
			type TEXT NOT NULL,
			session_id TEXT NOT NULL,
			data TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (branch_id, id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id, id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return &eventstore.Error{Op: "init schema", Err: err}
		}
	}
	return nil
}

func (s *Store) Publish(ctx context.Context, event eventstore.Event) (eventstore.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return eventstore.Envelope{}, eventstore.ErrClosed
	}

	id, err := s.reserveID(ctx, event.BranchID)
	if err != nil {
		return eventstore.Envelope{}, err
	}
	env := eventstore.Envelope{
		ID:        id,
		Event:     event,
		CreatedAt: time.Now().UTC(),
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO events (branch_id, id, type, session_id, data, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		event.BranchID, id, string(event.Type), event.SessionID, string(event.Data), env.CreatedAt.UnixNano())
	if err != nil {
		// The reserved id is surrendered so the sequence stays gap-free.
		s.nextID[event.BranchID] = id - 1
		return eventstore.Envelope{}, &eventstore.Error{Op: "append event", Err: err}
	}

	for sub := range s.subscribers {
		if !sub.matches(env) {
			continue
		}
		if !sub.deliver(env) {
			delete(s.subscribers, sub)
		}
	}
	return env, nil
}

// reserveID returns the next cursor value for branchID, seeding the
// in-memory counter from the table on first use after open.
// Called with s.mu held.
func (s *Store) reserveID(ctx context.Context, branchID string) (uint64, error) {
	if _, ok := s.nextID[branchID]; !ok {
		var max sql.NullInt64
		row := s.db.QueryRowContext(ctx, `SELECT MAX(id) FROM events WHERE branch_id = ?`, branchID)
		if err := row.Scan(&max); err != nil {
			return 0, &eventstore.Error{Op: "seed cursor", Err: err}
		}
		s.nextID[branchID] = uint64(max.Int64)
	}
	s.nextID[branchID]++
	return s.nextID[branchID], nil
}

func (s *Store) History(ctx context.Context, branchID string, after uint64) ([]eventstore.Envelope, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT branch_id, id, type, session_id, data, created_at FROM events
		 WHERE branch_id = ? AND id > ? ORDER BY id`, branchID, after)
	if err != nil {
		return nil, &eventstore.Error{Op: "history", Err: err}
	}
	defer rows.Close()
	var out []eventstore.Envelope
	for rows.Next() {
		env, err := scanEnvelope(rows)
		if err != nil {
			return nil, &eventstore.Error{Op: "history", Err: err}
		}
		out = append(out, env)
	}
	return out, rows.Err()
}

func (s *Store) Subscribe(ctx context.Context, opts eventstore.SubscribeOptions) (eventstore.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, eventstore.ErrClosed
	}

	sub := &subscription{
		store:   s,
		branch:  opts.BranchID,
		session: opts.SessionID,
	}

	// Replay under the same lock that serializes Publish so the handoff
	// from history to live delivery has no gap and no duplicate. The
	// channel is sized to hold the whole replay plus live headroom so
	// replay itself can never overflow.
	replay, err := s.replayFor(ctx, sub, opts.After)
	if err != nil {
		return nil, err
	}
	sub.ch = make(chan eventstore.Envelope, len(replay)+subscriberBuffer)
	for _, env := range replay {
		sub.deliver(env)
	}

	s.subscribers[sub] = struct{}{}
	return sub, nil
}

// replayFor gathers the history a new subscription must see, in publish
// order. Branch-scoped subscriptions merge their branch's rows with the
// session's branchless rows; session-wide subscriptions take every row of
// the session.
func (s *Store) replayFor(ctx context.Context, sub *subscription, after uint64) ([]eventstore.Envelope, error) {
	query := `SELECT branch_id, id, type, session_id, data, created_at FROM events WHERE id > ?`
	args := []any{after}
	if sub.branch != "" {
		query += ` AND (branch_id = ? OR branch_id = '')`
		args = append(args, sub.branch)
	}
	if sub.session != "" {
		query += ` AND session_id = ?`
		args = append(args, sub.session)
	}
	query += ` ORDER BY created_at, branch_id, id`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &eventstore.Error{Op: "replay", Err: err}
	}
	defer rows.Close()
	var out []eventstore.Envelope
	for rows.Next() {
		env, err := scanEnvelope(rows)
		if err != nil {
			return nil, &eventstore.Error{Op: "replay", Err: err}
		}
		out = append(out, env)
	}
	return out, rows.Err()
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for sub := range s.subscribers {
		sub.terminate(nil)
	}
	s.subscribers = make(map[*subscription]struct{})
	return nil
}

func (s *Store) unsubscribe(sub *subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscribers, sub)
}

func scanEnvelope(rows *sql.Rows) (eventstore.Envelope, error) {
	var (
		env        eventstore.Envelope
		typ, data  string
		createdAt  int64
	)
	if err := rows.Scan(&env.Event.BranchID, &env.ID, &typ, &env.Event.SessionID, &data, &createdAt); err != nil {
		return eventstore.Envelope{}, err
	}
	env.Event.Type = eventstore.EventType(typ)
	env.Event.Data = []byte(data)
	env.CreatedAt = time.Unix(0, createdAt).UTC()
	return env, nil
}

// subscription mirrors the inmem store's fan-out discipline: deliver is
// called with the store's mutex held, so it must never block. A full
// buffer terminates the subscription with ErrSlowConsumer instead of
// stalling Publish or silently gapping the stream.
type subscription struct {
	ch      chan eventstore.Envelope
	store   *Store
	branch  string
	session string

	once  sync.Once
	errMu sync.Mutex
	err   error
}

// matches applies the subscription filter: the session must match, and a
// branch-scoped subscription sees its branch's events plus the session's
// branchless events.
func (sub *subscription) matches(env eventstore.Envelope) bool {
	if sub.session != "" && env.Event.SessionID != sub.session {
		return false
	}
	if sub.branch == "" {
		return true
	}
	return env.Event.BranchID == sub.branch || env.Event.BranchID == ""
}

// deliver reports false when the subscriber's buffer is full, in which
// case the subscription has been terminated and the caller must forget it.
func (sub *subscription) deliver(env eventstore.Envelope) bool {
	select {
	case sub.ch <- env:
		return true
	default:
		sub.terminate(eventstore.ErrSlowConsumer)
		return false
	}
}

// terminate closes the channel exactly once, recording the terminal error.
func (sub *subscription) terminate(err error) {
	sub.once.Do(func() {
		sub.errMu.Lock()
		sub.err = err
		sub.errMu.Unlock()
		close(sub.ch)
	})
}

func (sub *subscription) Envelopes() <-chan eventstore.Envelope { return sub.ch }

func (sub *subscription) Err() error {
	sub.errMu.Lock()
	defer sub.errMu.Unlock()
	return sub.err
}

func (sub *subscription) Close() {
	sub.store.unsubscribe(sub)
	sub.terminate(nil)
}
