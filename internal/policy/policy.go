// Package policy implements PermissionPolicy: the rule list the
// ToolRunner consults before executing any tool.
package policy

import (
	"encoding/json"
	"regexp"
	"sync"
)

// Decision is the resolved outcome of checking a tool call against the
// rule list.
type Decision string

const (
	Allowed Decision = "allowed"
	Denied  Decision = "denied"
	Ask     Decision = "ask"
)

// Action is what a Rule resolves to when it matches.
type Action string

const (
	ActionAllow Action = "allow"
	ActionDeny  Action = "deny"
	ActionAsk   Action = "ask"
)

// RuleToolAny is the wildcard Tool value matching every tool.
const RuleToolAny = "*"

// Rule is one entry in the policy's ordered rule list. Tool is an exact
// tool name or RuleToolAny. Pattern, when non-nil, is matched against the
// input's canonical JSON encoding; a nil Pattern matches every input for
// Tool (a "whole tool" rule).
type Rule struct {
	Tool    string
	Pattern *regexp.Regexp
	Action  Action
}

// Policy resolves (tool, input) pairs to a Decision by scanning an
// ordered rule list and returning the first match. Bypass flips the
// zero-match default from Ask to Allowed without overriding explicit
// deny rules.
type Policy struct {
	mu     sync.RWMutex
	rules  []Rule
	bypass bool
}

// New returns a Policy with no rules. bypass flips the zero-match
// default from Ask to Allowed.
func New(bypass bool) *Policy {
	return &Policy{bypass: bypass}
}

// SetBypass updates the zero-match default.
func (p *Policy) SetBypass(bypass bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bypass = bypass
}

// AddRule appends a rule to the end of the list. Rules are scanned in
// insertion order, so earlier calls take precedence over later ones.
func (p *Policy) AddRule(r Rule) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rules = append(p.rules, r)
}

// Check resolves tool/input against the rule list. readOnly marks a tool
// that only reads state; read tools default to allowed
// regardless of the session's bypass flag ("ask on every non-read
// tool"). Safe for concurrent use alongside AddRule.
func (p *Policy) Check(tool string, input json.RawMessage, readOnly bool) Decision {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, r := range p.rules {
		if r.Tool != tool && r.Tool != RuleToolAny {
			continue
		}
		if r.Pattern != nil && !r.Pattern.Match(input) {
			continue
		}
		switch r.Action {
		case ActionAllow:
			return Allowed
		case ActionDeny:
			return Denied
		case ActionAsk:
			return Ask
		}
	}

	if p.bypass || readOnly {
		return Allowed
	}
	return Ask
}

// PersistAllow appends a whole-tool allow rule for tool. Passing a
// non-nil pattern narrows the persisted rule to inputs matching it.
func (p *Policy) PersistAllow(tool string, pattern *regexp.Regexp) {
	p.AddRule(Rule{Tool: tool, Pattern: pattern, Action: ActionAllow})
}
