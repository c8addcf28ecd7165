// Package toolrunner implements ToolRunner, the single entry point for
// every tool invocation. It wires together ToolRegistry
// lookup, JSON schema validation, PermissionPolicy, the interaction
// PermissionHandler, per-tool concurrency gating, and EventStore
// publication of the ToolCallStarted/ToolCallCompleted pair.
package toolrunner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/gentcli/gent/internal/eventstore"
	"github.com/gentcli/gent/internal/interaction"
	"github.com/gentcli/gent/internal/model"
	"github.com/gentcli/gent/internal/policy"
	"github.com/gentcli/gent/internal/tools"
)

// DefaultParallelPermits is the default bound on concurrently executing
// "parallel" tools.
const DefaultParallelPermits = 4

// Runner is the single entry point for tool invocations. It owns one global
// mutex for serial tools and one bounded semaphore for parallel tools,
// so a slow serial tool never blocks parallel ones and vice versa.
type Runner struct {
	registry *tools.Registry
	policy   *policy.Policy
	perms    *interaction.PermissionHandler
	events   eventstore.Store

	serialMu sync.Mutex
	parallel chan struct{}

	schemaMu sync.Mutex
	schemas  map[string]*jsonschema.Schema
}

// New builds a Runner. parallelPermits <= 0 uses DefaultParallelPermits.
func New(registry *tools.Registry, pol *policy.Policy, perms *interaction.PermissionHandler, events eventstore.Store, parallelPermits int) *Runner {
	if parallelPermits <= 0 {
		parallelPermits = DefaultParallelPermits
	}
	return &Runner{
		registry: registry,
		policy:   pol,
		perms:    perms,
		events:   events,
		parallel: make(chan struct{}, parallelPermits),
		schemas:  make(map[string]*jsonschema.Schema),
	}
}

// Request is a single tool call as decoded from a provider's ToolCallPart.
type Request struct {
	SessionID  string
	BranchID   string
	ToolCallID string
	ToolName   string
	Input      json.RawMessage
	AgentName  string
}

// Run resolves, validates, checks permission for, executes, and reports
// a single tool call. It never returns an error for tool-level failures:
// those are encoded into the returned ToolResultPart's error-json
// output so the model can recover. The only errors returned are
// EventStore publish failures, the runner's sole fatal failure mode.
func (r *Runner) Run(ctx context.Context, req Request) (model.ToolResultPart, error) {
	def, err := r.registry.Lookup(req.ToolName)
	if err != nil {
		return model.ToolResultPart{
			ToolCallID: req.ToolCallID,
			ToolName:   req.ToolName,
			Output:     model.ErrorResult(fmt.Sprintf("unknown tool: %s", req.ToolName)),
		}, nil
	}

	if verr := r.validate(def, req.Input); verr != nil {
		return model.ToolResultPart{
			ToolCallID: req.ToolCallID,
			ToolName:   req.ToolName,
			Output:     model.ErrorResult(verr.Error()),
		}, nil
	}

	decision := r.policy.Check(req.ToolName, req.Input, def.ReadOnly)
	if decision == policy.Ask {
		resp, err := r.perms.Request(ctx, req.SessionID, req.BranchID, req.ToolName, req.Input)
		if err != nil {
			return r.deniedResult(ctx, req, fmt.Sprintf("permission request failed: %v", err))
		}
		if !resp.Allow {
			return r.deniedResult(ctx, req, "denied by policy")
		}
		if resp.Persist {
			var pattern *regexp.Regexp
			if resp.Pattern != "" {
				if compiled, err := regexp.Compile(resp.Pattern); err == nil {
					pattern = compiled
				}
			}
			r.policy.PersistAllow(req.ToolName, pattern)
		}
		decision = policy.Allowed
	}
	if decision == policy.Denied {
		return r.deniedResult(ctx, req, "denied by policy")
	}

	if err := r.publishStarted(ctx, req); err != nil {
		return model.ToolResultPart{}, err
	}

	output := r.execute(ctx, def, req)

	return r.publishCompleted(ctx, req, output)
}

// deniedResult reports ToolCallCompleted{isError:true} without a
// preceding ToolCallStarted: denial short-circuits before execution
// begins, so no start event is emitted.
func (r *Runner) deniedResult(ctx context.Context, req Request, message string) (model.ToolResultPart, error) {
	return r.publishCompleted(ctx, req, model.ErrorResult(message))
}

// execute runs the tool's Execute function under the appropriate
// concurrency gate and normalizes its outcome into a ToolOutput.
func (r *Runner) execute(ctx context.Context, def tools.Definition, req Request) model.ToolOutput {
	release := r.acquire(ctx, def.Concurrency)
	defer release()

	ec := tools.ExecContext{
		SessionID:  req.SessionID,
		BranchID:   req.BranchID,
		ToolCallID: req.ToolCallID,
		AgentName:  req.AgentName,
	}
	result, err := def.Execute(ctx, req.Input, ec)
	if err != nil {
		return model.ErrorResult(err.Error())
	}
	return model.JSONResult(result)
}

// acquire blocks until the concurrency gate for conc grants a permit and
// returns a function that releases it. Serial tools funnel through a
// single mutex; parallel tools funnel through a bounded semaphore.
func (r *Runner) acquire(ctx context.Context, conc tools.Concurrency) func() {
	if conc == tools.Serial {
		r.serialMu.Lock()
		return r.serialMu.Unlock
	}
	select {
	case r.parallel <- struct{}{}:
	case <-ctx.Done():
		return func() {}
	}
	return func() { <-r.parallel }
}

func (r *Runner) validate(def tools.Definition, input json.RawMessage) error {
	if len(def.Schema) == 0 {
		return nil
	}
	sch, err := r.compiledSchema(def.Name, def.Schema)
	if err != nil {
		return fmt.Errorf("tool schema %s: %w", def.Name, err)
	}
	var instance any
	dec := json.NewDecoder(bytes.NewReader(input))
	dec.UseNumber()
	if err := dec.Decode(&instance); err != nil {
		return fmt.Errorf("decode input: %w", err)
	}
	if err := sch.Validate(instance); err != nil {
		return fmt.Errorf("invalid input: %w", err)
	}
	return nil
}

func (r *Runner) compiledSchema(name string, raw []byte) (*jsonschema.Schema, error) {
	r.schemaMu.Lock()
	defer r.schemaMu.Unlock()
	if sch, ok := r.schemas[name]; ok {
		return sch, nil
	}
	url := name + ".json"
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	sch, err := c.Compile(url)
	if err != nil {
		return nil, err
	}
	r.schemas[name] = sch
	return sch, nil
}

func (r *Runner) publishStarted(ctx context.Context, req Request) error {
	ev, err := eventstore.NewEvent(eventstore.EventToolCallStarted, req.SessionID, req.BranchID, eventstore.ToolCallStartedData{
		ToolCallID: req.ToolCallID,
		ToolName:   req.ToolName,
		Input:      req.Input,
	})
	if err != nil {
		return err
	}
	_, err = r.events.Publish(ctx, ev)
	return err
}

func (r *Runner) publishCompleted(ctx context.Context, req Request, output model.ToolOutput) (model.ToolResultPart, error) {
	part := model.ToolResultPart{ToolCallID: req.ToolCallID, ToolName: req.ToolName, Output: output}
	isError := output.Type == model.OutputTypeErrorJSON

	raw := []byte(output.Value)
	ev, err := eventstore.NewEvent(eventstore.EventToolCallCompleted, req.SessionID, req.BranchID, eventstore.ToolCallCompletedData{
		ToolCallID: req.ToolCallID,
		IsError:    isError,
		Summary:    summarize(raw),
		Output:     raw,
	})
	if err != nil {
		return part, err
	}
	if _, err := r.events.Publish(ctx, ev); err != nil {
		return part, err
	}
	return part, nil
}

// summarize is the first-line-or-100-char digest attached to
// ToolCallCompleted events.
func summarize(raw []byte) string {
	s := string(raw)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	const max = 100
	if len(s) > max {
		s = s[:max]
	}
	return s
}
