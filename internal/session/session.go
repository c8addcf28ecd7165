// Package session defines the durable session/branch/message data model and
// the Storage capability the core runtime consumes. The
// on-disk storage engine is pluggable; this
// package defines the interface and ships two concrete
// implementations (inmem, sqlite) that satisfy it.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/gentcli/gent/internal/model"
)

type (
	// Session is the top-level conversational container.
	Session struct {
		ID        string
		Name      string
		CWD       string
		Bypass    bool
		CreatedAt time.Time
		UpdatedAt time.Time
	}

	// Branch is a linear conversation within a session. Branches form a
	// forest rooted at a session; forking copies history up to
	// ParentMessageID.
	Branch struct {
		ID              string
		SessionID       string
		ParentBranchID  string
		ParentMessageID string
		Name            string
		Model           string
		Summary         string
		CreatedAt       time.Time
	}

	// Store persists sessions, branches, messages, and checkpoints. All
	// methods are effect-wrapped: failures return a non-nil error
	// (StorageError-compatible) rather than panicking.
	Store interface {
		CreateSession(ctx context.Context, s Session) (Session, error)
		GetSession(ctx context.Context, id string) (Session, error)
		UpdateSession(ctx context.Context, s Session) (Session, error)
		ListSessions(ctx context.Context, cwd string) ([]Session, error)

		CreateBranch(ctx context.Context, b Branch) (Branch, error)
		ListBranches(ctx context.Context, sessionID string) ([]Branch, error)
		GetLatestBranch(ctx context.Context, sessionID string) (Branch, error)

		CreateMessage(ctx context.Context, m *model.Message) (*model.Message, error)
		ListMessages(ctx context.Context, branchID string) ([]*model.Message, error)
		ListMessagesAfter(ctx context.Context, branchID, afterMessageID string) ([]*model.Message, error)
		ListMessagesSince(ctx context.Context, branchID string, since time.Time) ([]*model.Message, error)

		CreateCheckpoint(ctx context.Context, c Checkpoint) (Checkpoint, error)
		GetLatestCheckpoint(ctx context.Context, branchID string) (Checkpoint, bool, error)
	}

	// Checkpoint is a tagged union: either a
	// CompactionCheckpoint or a PlanCheckpoint. Exactly one of the two
	// payload pointers is non-nil.
	Checkpoint struct {
		ID        string
		BranchID  string
		CreatedAt time.Time

		Compaction *CompactionCheckpoint
		Plan       *PlanCheckpoint
	}

	// CompactionCheckpoint replaces a prefix of messages with a
	// summarizer-produced text.
	CompactionCheckpoint struct {
		Summary            string
		FirstKeptMessageID string
		MessageCount       int
		TokenCount         int
	}

	// PlanCheckpoint marks "everything before this is superseded; the only
	// carry-over is the file at PlanPath".
	PlanCheckpoint struct {
		PlanPath     string
		MessageCount int
		TokenCount   int
	}
)

// ErrSessionNotFound indicates a session does not exist in the store.
var ErrSessionNotFound = errors.New("session: not found")

// ErrBranchNotFound indicates a branch does not exist in the store.
var ErrBranchNotFound = errors.New("session: branch not found")

// StorageError wraps a persistence failure surfaced by a Store
// implementation.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return "session: " + e.Op + ": " + e.Err.Error() }
func (e *StorageError) Unwrap() error { return e.Err }
