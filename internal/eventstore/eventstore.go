package eventstore

import (
	"context"
	"errors"
	"time"
)

// Envelope wraps an Event with the monotonic cursor position it was
// assigned on publish. IDs are strictly increasing per branch and are
// never reused, so a subscriber can resume a stream by passing the last
// Envelope.ID it saw as SubscribeOptions.After.
type Envelope struct {
	ID        uint64
	Event     Event
	CreatedAt time.Time
}

// SubscribeOptions scopes a subscription to a session/branch and
// optionally replays history before switching to live delivery. With
// BranchID set, the stream carries that branch's events plus the
// session's branchless (session-scoped) events. With BranchID empty, the
// stream carries every event of the session across all its branches.
type SubscribeOptions struct {
	SessionID string
	BranchID  string

	// After, when non-zero, replays every envelope with ID > After before
	// delivering new ones live. Zero replays the whole branch history.
	After uint64
}

// Subscription is a live handle to an event stream. Envelopes() delivers
// replayed history followed by live events with no gap and no duplicate.
// A slow consumer that lets its buffer fill is terminated rather than
// served a gapped stream: the channel closes and Err returns
// ErrSlowConsumer. After a clean Close, Err returns nil.
type Subscription interface {
	Envelopes() <-chan Envelope
	Err() error
	Close()
}

// ErrClosed is returned by Publish/Subscribe after the Store has been closed.
var ErrClosed = errors.New("eventstore: closed")

// ErrSlowConsumer is the terminal error of a subscription whose buffer
// overflowed. The consumer must resubscribe from its last seen cursor.
var ErrSlowConsumer = errors.New("eventstore: slow consumer")

// Error wraps a persistence failure surfaced by a Store implementation.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return "eventstore: " + e.Op + ": " + e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// Store is the append-only event log capability the core runtime depends
// on. Concrete implementations: inmem (tests, local
// dev) and sqlite (durable).
type Store interface {
	// Publish appends event to its branch's log and assigns it the next
	// monotonic ID for that branch, fanning it out to live subscribers.
	Publish(ctx context.Context, event Event) (Envelope, error)

	// Subscribe opens a Subscription per SubscribeOptions. The returned
	// Subscription must be closed by the caller.
	Subscribe(ctx context.Context, opts SubscribeOptions) (Subscription, error)

	// History returns every envelope for a branch with ID > after, in
	// order, without opening a live subscription.
	History(ctx context.Context, branchID string, after uint64) ([]Envelope, error)

	Close() error
}
