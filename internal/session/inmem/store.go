// Package inmem provides an in-memory implementation of session.Store. It
// is intended for tests and local development; production deployments
// should use session/sqlite or an equivalent durable adapter.
package inmem

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gentcli/gent/internal/model"
	"github.com/gentcli/gent/internal/session"
)

// Store is an in-memory implementation of session.Store. Safe for
// concurrent use.
type Store struct {
	mu          sync.RWMutex
	sessions    map[string]session.Session
	branches    map[string]session.Branch
	messages    map[string][]*model.Message // by branch id, append-only, createdAt order
	checkpoints map[string][]session.Checkpoint
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		sessions:    make(map[string]session.Session),
		branches:    make(map[string]session.Branch),
		messages:    make(map[string][]*model.Message),
		checkpoints: make(map[string][]session.Checkpoint),
	}
}

func (s *Store) CreateSession(_ context.Context, in session.Session) (session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	in.CreatedAt, in.UpdatedAt = now, now
	s.sessions[in.ID] = in
	return in, nil
}

func (s *Store) GetSession(_ context.Context, id string) (session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return session.Session{}, session.ErrSessionNotFound
	}
	return sess, nil
}

func (s *Store) UpdateSession(_ context.Context, in session.Session) (session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.sessions[in.ID]
	if !ok {
		return session.Session{}, session.ErrSessionNotFound
	}
	in.CreatedAt = existing.CreatedAt
	in.UpdatedAt = time.Now().UTC()
	s.sessions[in.ID] = in
	return in, nil
}

func (s *Store) ListSessions(_ context.Context, cwd string) ([]session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]session.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if cwd != "" && sess.CWD != cwd {
			continue
		}
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) CreateBranch(_ context.Context, in session.Branch) (session.Branch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[in.SessionID]; !ok {
		return session.Branch{}, session.ErrSessionNotFound
	}
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	in.CreatedAt = time.Now().UTC()
	s.branches[in.ID] = in
	return in, nil
}

func (s *Store) ListBranches(_ context.Context, sessionID string) ([]session.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]session.Branch, 0)
	for _, b := range s.branches {
		if b.SessionID == sessionID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) GetLatestBranch(_ context.Context, sessionID string) (session.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest session.Branch
	found := false
	for _, b := range s.branches {
		if b.SessionID != sessionID {
			continue
		}
		if !found || b.CreatedAt.After(latest.CreatedAt) {
			latest, found = b, true
		}
	}
	if !found {
		return session.Branch{}, session.ErrBranchNotFound
	}
	return latest, nil
}

func (s *Store) CreateMessage(_ context.Context, m *model.Message) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt == 0 {
		m.CreatedAt = time.Now().UTC().UnixNano()
	}
	cp := *m
	cp.Parts = append([]model.Part(nil), m.Parts...)
	s.messages[m.BranchID] = append(s.messages[m.BranchID], &cp)
	return &cp, nil
}

func (s *Store) ListMessages(_ context.Context, branchID string) ([]*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneMessages(s.messages[branchID]), nil
}

func (s *Store) ListMessagesAfter(_ context.Context, branchID, afterMessageID string) ([]*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.messages[branchID]
	if afterMessageID == "" {
		return cloneMessages(all), nil
	}
	for i, m := range all {
		if m.ID == afterMessageID {
			return cloneMessages(all[i+1:]), nil
		}
	}
	return cloneMessages(all), nil
}

func (s *Store) ListMessagesSince(_ context.Context, branchID string, since time.Time) ([]*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cut := since.UnixNano()
	var out []*model.Message
	for _, m := range s.messages[branchID] {
		if m.CreatedAt > cut {
			out = append(out, m)
		}
	}
	return cloneMessages(out), nil
}

func (s *Store) CreateCheckpoint(_ context.Context, in session.Checkpoint) (session.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	in.CreatedAt = time.Now().UTC()
	s.checkpoints[in.BranchID] = append(s.checkpoints[in.BranchID], in)
	return in, nil
}

func (s *Store) GetLatestCheckpoint(_ context.Context, branchID string) (session.Checkpoint, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cps := s.checkpoints[branchID]
	if len(cps) == 0 {
		return session.Checkpoint{}, false, nil
	}
	return cps[len(cps)-1], true, nil
}

func cloneMessages(in []*model.Message) []*model.Message {
	out := make([]*model.Message, len(in))
	for i, m := range in {
		cp := *m
		cp.Parts = append([]model.Part(nil), m.Parts...)
		out[i] = &cp
	}
	return out
}
