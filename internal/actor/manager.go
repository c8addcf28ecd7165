package actor

import (
	"context"
	"sync"
	"time"

	"github.com/gentcli/gent/internal/agentreg"
	"github.com/gentcli/gent/internal/checkpoint"
	"github.com/gentcli/gent/internal/eventstore"
	"github.com/gentcli/gent/internal/interaction"
	"github.com/gentcli/gent/internal/model"
	"github.com/gentcli/gent/internal/policy"
	"github.com/gentcli/gent/internal/session"
	"github.com/gentcli/gent/internal/telemetry"
	"github.com/gentcli/gent/internal/toolrunner"
	"github.com/gentcli/gent/internal/tools"
	"github.com/gentcli/gent/internal/wideevent"
)

// Deps carries the process-wide collaborators a Manager wires into every
// actor it creates.
type Deps struct {
	Store       session.Store
	Events      eventstore.Store
	Checkpoints *checkpoint.Service
	Client      model.Client
	Tools       *tools.Registry
	Agents      *agentreg.Registry
	Perms       *interaction.PermissionHandler

	SystemPrompt string
	MaxTokens    int
	AgentName    string

	ParallelPermits int

	Logger  telemetry.Logger
	Metrics telemetry.Metrics

	MaxStreamAttempts int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration

	// WideEvents, when set, is fed every branch's event stream so per-turn
	// telemetry records accumulate for each actor the manager creates.
	WideEvents *wideevent.Aggregator
}

// Manager owns one Actor per (sessionID, branchID) pair and one
// PermissionPolicy per session, created on demand. The policy is seeded
// from the session's bypass flag so approvals persisted on one branch
// apply to the session's other branches.
type Manager struct {
	deps Deps

	mu       sync.Mutex
	actors   map[string]*Actor
	policies map[string]*policy.Policy
}

// NewManager builds an empty Manager.
func NewManager(deps Deps) *Manager {
	return &Manager{
		deps:     deps,
		actors:   make(map[string]*Actor),
		policies: make(map[string]*policy.Policy),
	}
}

// Policy returns the session-scoped permission policy, creating it from
// the session's bypass flag on first use.
func (m *Manager) Policy(ctx context.Context, sessionID string) (*policy.Policy, error) {
	m.mu.Lock()
	if pol, ok := m.policies[sessionID]; ok {
		m.mu.Unlock()
		return pol, nil
	}
	m.mu.Unlock()

	sess, err := m.deps.Store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if pol, ok := m.policies[sessionID]; ok {
		return pol, nil
	}
	pol := policy.New(sess.Bypass)
	m.policies[sessionID] = pol
	return pol, nil
}

// SetBypass flips the session's permission default for subsequent checks.
func (m *Manager) SetBypass(ctx context.Context, sessionID string, bypass bool) error {
	pol, err := m.Policy(ctx, sessionID)
	if err != nil {
		return err
	}
	pol.SetBypass(bypass)
	return nil
}

// Get returns the actor for the pair, creating it on first use.
func (m *Manager) Get(ctx context.Context, sessionID, branchID string) (*Actor, error) {
	key := sessionID + "/" + branchID
	m.mu.Lock()
	if a, ok := m.actors[key]; ok {
		m.mu.Unlock()
		return a, nil
	}
	m.mu.Unlock()

	pol, err := m.Policy(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	runner := toolrunner.New(m.deps.Tools, pol, m.deps.Perms, m.deps.Events, m.deps.ParallelPermits)

	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.actors[key]; ok {
		return a, nil
	}
	a := New(Config{
		SessionID:         sessionID,
		BranchID:          branchID,
		AgentName:         m.deps.AgentName,
		Store:             m.deps.Store,
		Events:            m.deps.Events,
		Checkpoints:       m.deps.Checkpoints,
		Runner:            runner,
		Client:            m.deps.Client,
		Tools:             m.deps.Tools,
		Agents:            m.deps.Agents,
		SystemPrompt:      m.deps.SystemPrompt,
		MaxTokens:         m.deps.MaxTokens,
		Logger:            m.deps.Logger,
		Metrics:           m.deps.Metrics,
		MaxStreamAttempts: m.deps.MaxStreamAttempts,
		InitialBackoff:    m.deps.InitialBackoff,
		MaxBackoff:        m.deps.MaxBackoff,
	})
	m.actors[key] = a

	if m.deps.WideEvents != nil {
		if sub, err := m.deps.Events.Subscribe(ctx, eventstore.SubscribeOptions{
			SessionID: sessionID,
			BranchID:  branchID,
		}); err == nil {
			go m.deps.WideEvents.Drain(sub)
		}
	}
	return a, nil
}

// Peek returns the actor for the pair without creating one.
func (m *Manager) Peek(sessionID, branchID string) (*Actor, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.actors[sessionID+"/"+branchID]
	return a, ok
}

// Close stops every actor.
func (m *Manager) Close() {
	m.mu.Lock()
	actors := make([]*Actor, 0, len(m.actors))
	for _, a := range m.actors {
		actors = append(actors, a)
	}
	m.actors = make(map[string]*Actor)
	m.mu.Unlock()
	for _, a := range actors {
		a.Close()
	}
}
