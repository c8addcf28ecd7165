// Package checkpoint implements CheckpointService: deciding when to
// compact a branch's history and assembling the context window the
// actor loop sends to the provider.
package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/gentcli/gent/internal/model"
	"github.com/gentcli/gent/internal/session"
)

// DefaultCompactionThreshold is the estimated-token count at which
// shouldCompact returns true.
const DefaultCompactionThreshold = 100_000

// SummaryMaxTokens bounds the summarizer's output.
const SummaryMaxTokens = 2_000

// PruneProtect is how many trailing tokens of tool-result content are
// kept verbatim by PruneToolOutputs.
const PruneProtect = 40_000

// PruneMinimum is the excess-token floor that must be exceeded before
// PruneToolOutputs does anything.
const PruneMinimum = 20_000

// Summarizer compresses a run of messages into a short prose summary.
// Implementations call a dedicated, separately configured model.
type Summarizer interface {
	Summarize(ctx context.Context, messages []*model.Message, maxOutputTokens int) (string, error)
}

// Service implements the token-budget and compaction logic the actor
// loop consults between turns.
type Service struct {
	store      session.Store
	summarizer Summarizer
	threshold  int
}

// New builds a Service. threshold <= 0 uses DefaultCompactionThreshold.
func New(store session.Store, summarizer Summarizer, threshold int) *Service {
	if threshold <= 0 {
		threshold = DefaultCompactionThreshold
	}
	return &Service{store: store, summarizer: summarizer, threshold: threshold}
}

// EstimateTokens sums ceil(chars/4) over every text/tool-call-input/
// tool-result-output part across messages. Reasoning parts are excluded
// as model-private.
func EstimateTokens(messages []*model.Message) int {
	total := 0
	for _, m := range messages {
		for _, p := range m.Parts {
			total += int(math.Ceil(float64(partChars(p)) / 4))
		}
	}
	return total
}

func partChars(p model.Part) int {
	switch v := p.(type) {
	case model.TextPart:
		return len(v.Text)
	case model.ToolCallPart:
		return len(v.Input)
	case model.ToolResultPart:
		return len(v.Output.Value)
	default:
		return 0
	}
}

// ShouldCompact reports whether branch history has reached the
// compaction threshold. The loop consults this between turns, never
// mid-stream.
func (s *Service) ShouldCompact(ctx context.Context, branchID string) (bool, error) {
	messages, err := s.store.ListMessages(ctx, branchID)
	if err != nil {
		return false, err
	}
	return EstimateTokens(messages) >= s.threshold, nil
}

// CreateCompactionCheckpoint splits history into head/tail, summarizes
// the head, and persist a CompactionCheckpoint pinned at the tail's
// first message.
func (s *Service) CreateCompactionCheckpoint(ctx context.Context, branchID string) (session.Checkpoint, error) {
	messages, err := s.store.ListMessages(ctx, branchID)
	if err != nil {
		return session.Checkpoint{}, err
	}

	tailCount := int(math.Ceil(0.2 * float64(len(messages))))
	if tailCount < 10 {
		tailCount = 10
	}
	if tailCount > len(messages) {
		tailCount = len(messages)
	}
	head := messages[:len(messages)-tailCount]
	tail := messages[len(messages)-tailCount:]

	if len(head) == 0 {
		return s.store.CreateCheckpoint(ctx, session.Checkpoint{
			BranchID:   branchID,
			Compaction: &session.CompactionCheckpoint{},
		})
	}

	summary, err := s.summarizer.Summarize(ctx, head, SummaryMaxTokens)
	if err != nil {
		return session.Checkpoint{}, fmt.Errorf("checkpoint: summarize head: %w", err)
	}

	var firstKeptID string
	if len(tail) > 0 {
		firstKeptID = tail[0].ID
	}

	return s.store.CreateCheckpoint(ctx, session.Checkpoint{
		BranchID: branchID,
		Compaction: &session.CompactionCheckpoint{
			Summary:            summary,
			FirstKeptMessageID: firstKeptID,
			MessageCount:       len(head),
			TokenCount:         EstimateTokens(head),
		},
	})
}

// CreatePlanCheckpoint persists a PlanCheckpoint: everything before it
// is superseded; the only carry-over is the file at planPath.
func (s *Service) CreatePlanCheckpoint(ctx context.Context, branchID, planPath string) (session.Checkpoint, error) {
	messages, err := s.store.ListMessages(ctx, branchID)
	if err != nil {
		return session.Checkpoint{}, err
	}
	return s.store.CreateCheckpoint(ctx, session.Checkpoint{
		BranchID: branchID,
		Plan: &session.PlanCheckpoint{
			PlanPath:     planPath,
			MessageCount: len(messages),
			TokenCount:   EstimateTokens(messages),
		},
	})
}

// LoadContext implements the context load rule the loop uses to build
// the next provider request: fetch the latest checkpoint, then splice
// in only the messages the checkpoint says still matter.
func (s *Service) LoadContext(ctx context.Context, branchID string) ([]*model.Message, error) {
	cp, ok, err := s.store.GetLatestCheckpoint(ctx, branchID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return s.store.ListMessages(ctx, branchID)
	}

	switch {
	case cp.Compaction != nil:
		kept, err := s.store.ListMessages(ctx, branchID)
		if err != nil {
			return nil, err
		}
		kept = messagesFromID(kept, cp.Compaction.FirstKeptMessageID)
		if cp.Compaction.Summary == "" {
			return kept, nil
		}
		return append([]*model.Message{syntheticSystemMessage(branchID, cp.Compaction.Summary)}, kept...), nil

	case cp.Plan != nil:
		contents, err := os.ReadFile(cp.Plan.PlanPath)
		if err != nil {
			return nil, fmt.Errorf("checkpoint: read plan file: %w", err)
		}
		all, err := s.store.ListMessages(ctx, branchID)
		if err != nil {
			return nil, err
		}
		kept := messagesAfter(all, cp.CreatedAt)
		return append([]*model.Message{syntheticSystemMessage(branchID, string(contents))}, kept...), nil

	default:
		return s.store.ListMessages(ctx, branchID)
	}
}

func messagesFromID(messages []*model.Message, firstKeptID string) []*model.Message {
	if firstKeptID == "" {
		return messages
	}
	for i, m := range messages {
		if m.ID == firstKeptID {
			return messages[i:]
		}
	}
	return nil
}

func messagesAfter(messages []*model.Message, t time.Time) []*model.Message {
	cut := t.UnixNano()
	var out []*model.Message
	for _, m := range messages {
		if m.CreatedAt > cut {
			out = append(out, m)
		}
	}
	return out
}

func syntheticSystemMessage(branchID, text string) *model.Message {
	return &model.Message{
		BranchID: branchID,
		Role:     model.RoleSystem,
		Parts:    []model.Part{model.TextPart{Text: text}},
	}
}

// prunedMarker is the sentinel value a pruned tool-result's output is
// replaced with.
type prunedMarker struct {
	Pruned bool `json:"_pruned"`
}

// PruneToolOutputs applies the softer, per-turn pruning measure: newest
// to oldest, keep the last PruneProtect tokens of tool-result content
// verbatim, replacing older ones with a pruned marker. Only applied if
// doing so would reclaim more than PruneMinimum tokens; otherwise
// messages is returned unmodified. messages is not mutated in place.
func PruneToolOutputs(messages []*model.Message) []*model.Message {
	toolResultTokens := 0
	for _, m := range messages {
		for _, p := range m.Parts {
			if tr, ok := p.(model.ToolResultPart); ok {
				toolResultTokens += int(math.Ceil(float64(len(tr.Output.Value)) / 4))
			}
		}
	}
	if toolResultTokens <= PruneProtect {
		return messages
	}
	if toolResultTokens-PruneProtect <= PruneMinimum {
		return messages
	}

	out := make([]*model.Message, len(messages))
	budget := PruneProtect
	for i := len(messages) - 1; i >= 0; i-- {
		out[i] = pruneMessage(messages[i], &budget)
	}
	return out
}

func pruneMessage(m *model.Message, budget *int) *model.Message {
	parts := make([]model.Part, len(m.Parts))
	changed := false
	for i, p := range m.Parts {
		tr, ok := p.(model.ToolResultPart)
		if !ok {
			parts[i] = p
			continue
		}
		cost := int(math.Ceil(float64(len(tr.Output.Value)) / 4))
		if *budget >= cost {
			*budget -= cost
			parts[i] = p
			continue
		}
		changed = true
		marker, _ := json.Marshal(prunedMarker{Pruned: true})
		parts[i] = model.ToolResultPart{
			ToolCallID: tr.ToolCallID,
			ToolName:   tr.ToolName,
			Output:     model.ToolOutput{Type: tr.Output.Type, Value: marker},
		}
	}
	if !changed {
		return m
	}
	cp := *m
	cp.Parts = parts
	return &cp
}
