package policy_test

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gentcli/gent/internal/policy"
)

func TestCheckDefaultsToAskWithoutBypass(t *testing.T) {
	p := policy.New(false)
	assert.Equal(t, policy.Ask, p.Check("bash", []byte(`{"command":"ls"}`), false))
}

func TestCheckDefaultsToAllowedWithBypass(t *testing.T) {
	p := policy.New(true)
	assert.Equal(t, policy.Allowed, p.Check("bash", []byte(`{"command":"ls"}`), false))
}

func TestReadOnlyToolDefaultsToAllowedRegardlessOfBypass(t *testing.T) {
	p := policy.New(false)
	assert.Equal(t, policy.Allowed, p.Check("read", []byte(`{"path":"a.go"}`), true))
}

func TestExplicitDenyOverridesBypass(t *testing.T) {
	p := policy.New(true)
	p.AddRule(policy.Rule{Tool: "bash", Action: policy.ActionDeny})
	assert.Equal(t, policy.Denied, p.Check("bash", []byte(`{"command":"rm -rf /"}`), false))
}

func TestFirstMatchingRuleWins(t *testing.T) {
	p := policy.New(false)
	p.AddRule(policy.Rule{Tool: "bash", Pattern: regexp.MustCompile(`"command":"ls`), Action: policy.ActionAllow})
	p.AddRule(policy.Rule{Tool: "bash", Action: policy.ActionDeny})

	assert.Equal(t, policy.Allowed, p.Check("bash", []byte(`{"command":"ls -la"}`), false))
	assert.Equal(t, policy.Denied, p.Check("bash", []byte(`{"command":"rm -rf /"}`), false))
}

func TestPersistAllowAddsWholeToolRule(t *testing.T) {
	p := policy.New(false)
	p.PersistAllow("bash", nil)
	assert.Equal(t, policy.Allowed, p.Check("bash", []byte(`{"command":"anything"}`), false))
}
