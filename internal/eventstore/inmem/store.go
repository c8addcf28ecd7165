// Package inmem implements eventstore.Store with an in-process,
// mutex-guarded append log and a fan-out subscriber registry. It merges
// two ideas: a durable-looking append log keyed by monotonic per-branch
// cursor, and a bus of live subscribers that each get their own bounded
// channel so one slow reader can't stall publication to the others.
package inmem

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gentcli/gent/internal/eventstore"
)

// subscriberBuffer is the live-delivery headroom of each subscription
// beyond its replayed history. A subscriber that falls this far behind is
// terminated with eventstore.ErrSlowConsumer rather than served a gapped
// stream.
const subscriberBuffer = 256

// Store is an in-memory eventstore.Store. Safe for concurrent use.
type Store struct {
	mu          sync.Mutex
	closed      bool
	nextID      map[string]uint64 // branchID -> next cursor value
	log         map[string][]eventstore.Envelope
	subscribers map[*subscription]struct{}
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		nextID:      make(map[string]uint64),
		log:         make(map[string][]eventstore.Envelope),
		subscribers: make(map[*subscription]struct{}),
	}
}

func (s *Store) Publish(_ context.Context, event eventstore.Event) (eventstore.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return eventstore.Envelope{}, eventstore.ErrClosed
	}

	s.nextID[event.BranchID]++
	env := eventstore.Envelope{
		ID:        s.nextID[event.BranchID],
		Event:     event,
		CreatedAt: time.Now().UTC(),
	}
	s.log[event.BranchID] = append(s.log[event.BranchID], env)

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

func (s *Store) History(_ context.Context, branchID string, after uint64) ([]eventstore.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sliceAfter(s.log[branchID], after), nil
}

func (s *Store) Subscribe(_ context.Context, opts eventstore.SubscribeOptions) (eventstore.Subscription, error) {
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

	// Replay under the same lock that serializes Publish so no envelope
	// published after Subscribe returns can be missed or duplicated:
	// everything matching in s.log right now is replay, everything
	// published from here on goes through sub.deliver. The channel is
	// sized to hold the whole replay plus live headroom so replay itself
	// can never overflow.
	replay := s.replayFor(sub, opts.After)
	sub.ch = make(chan eventstore.Envelope, len(replay)+subscriberBuffer)
	for _, env := range replay {
		sub.deliver(env)
	}

	s.subscribers[sub] = struct{}{}
	return sub, nil
}

// replayFor gathers the history a new subscription must see, in publish
// order. Branch-scoped subscriptions merge their branch's log with the
// session's branchless events; session-wide subscriptions merge every
// bucket of the session. Called with s.mu held.
func (s *Store) replayFor(sub *subscription, after uint64) []eventstore.Envelope {
	var out []eventstore.Envelope
	for branch, envs := range s.log {
		if sub.branch != "" && branch != sub.branch && branch != "" {
			continue
		}
		for _, env := range sliceAfter(envs, after) {
			if sub.matches(env) {
				out = append(out, env)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
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

func sliceAfter(envs []eventstore.Envelope, after uint64) []eventstore.Envelope {
	if after == 0 {
		out := make([]eventstore.Envelope, len(envs))
		copy(out, envs)
		return out
	}
	out := make([]eventstore.Envelope, 0, len(envs))
	for _, e := range envs {
		if e.ID > after {
			out = append(out, e)
		}
	}
	return out
}

// subscription implements eventstore.Subscription. deliver is called with
// the store's mutex held, so it must never block: a full buffer terminates
// the subscription with ErrSlowConsumer instead of stalling Publish or
// silently gapping the stream.
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
