package authz

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEvaluateInput_AllowAndDenyParams(t *testing.T) {
	input := &Input{AllowParams: []string{"foo"}}
	ok := EvaluateInput(input, Request{Body: map[string]any{"foo": 1}}, nil, GuardContext{})
	require.True(t, ok.OK)

	bad := EvaluateInput(input, Request{Body: map[string]any{"foo": 1, "bar": 2}}, nil, GuardContext{})
	require.False(t, bad.OK)
	require.Equal(t, ReasonAllowedParams, bad.Reason)

	deny := &Input{DenyParams: []string{"secret"}}
	denied := EvaluateInput(deny, Request{Body: map[string]any{"secret": "x"}}, nil, GuardContext{})
	require.Equal(t, ReasonDeniedParam, denied.Reason)
	require.Equal(t, "secret", denied.Detail)
}

func TestEvaluateInput_ValueRules(t *testing.T) {
	input := &Input{ValueRules: []ValueRule{
		{Path: "mode", OneOf: []any{"fast", "slow"}},
		{Path: "note", MaxLen: 5},
		{Path: "env", Matches: "^(dev|prod)$"},
	}}

	pass := EvaluateInput(input, Request{Body: map[string]any{"mode": "fast", "note": "ok", "env": "dev"}}, nil, GuardContext{})
	require.True(t, pass.OK)

	fail := EvaluateInput(input, Request{Body: map[string]any{"mode": "warp"}}, nil, GuardContext{})
	require.Equal(t, ReasonValueRule, fail.Reason)
	require.Equal(t, "mode", fail.Detail)

	long := EvaluateInput(input, Request{Body: map[string]any{"mode": "fast", "note": "toolong"}}, nil, GuardContext{})
	require.Equal(t, ReasonValueRule, long.Reason)

	regex := EvaluateInput(input, Request{Body: map[string]any{"mode": "fast", "env": "staging"}}, nil, GuardContext{})
	require.Equal(t, ReasonValueRule, regex.Reason)
}

func TestEvaluateInput_ValueRuleFallsBackToQuery(t *testing.T) {
	input := &Input{ValueRules: []ValueRule{{Path: "environment", OneOf: []any{"prod"}}}}
	result := EvaluateInput(input, Request{Query: map[string]string{"environment": "prod"}}, nil, GuardContext{})
	require.True(t, result.OK)
}

func TestEvaluateInput_NestedPath(t *testing.T) {
	input := &Input{ValueRules: []ValueRule{{Path: "bundle.id", OneOf: []any{"b-1"}}}}
	result := EvaluateInput(input, Request{Body: map[string]any{"bundle": map[string]any{"id": "b-1"}}}, nil, GuardContext{})
	require.True(t, result.OK)
}

func TestEvaluateInput_DryRunOnly(t *testing.T) {
	input := &Input{DryRunOnly: true}

	require.False(t, EvaluateInput(input, Request{}, nil, GuardContext{}).OK)
	require.True(t, EvaluateInput(input, Request{Body: map[string]any{"dryRun": true}}, nil, GuardContext{}).OK)
	require.True(t, EvaluateInput(input, Request{Query: map[string]string{"dryRun": "1"}}, nil, GuardContext{}).OK)
	require.True(t, EvaluateInput(input, Request{Query: map[string]string{"dryRun": "TRUE"}}, nil, GuardContext{}).OK)
	require.True(t, EvaluateInput(input, Request{Headers: map[string]string{"x-latchflow-dry-run": "true"}}, nil, GuardContext{}).OK)

	miss := EvaluateInput(input, Request{Body: map[string]any{"dryRun": "yes"}}, nil, GuardContext{})
	require.Equal(t, ReasonDryRunOnly, miss.Reason, "non-boolean body dryRun is not truthy")
}

func TestEvaluateInput_RateLimitPerMin(t *testing.T) {
	// Spec scenario: {allowParams:["foo"], rateLimit:{perMin:2}} at t,
	// t+1s, t+2s yields allow, allow, RATE_LIMIT.
	input := &Input{AllowParams: []string{"foo"}, DenyParams: []string{}, RateLimit: &RateLimit{PerMin: 2}}
	limiter := NewRateLimiter()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	gc := func(at time.Time) GuardContext {
		return GuardContext{RuleID: "r", UserID: "u", RulesHash: "h", Now: at}
	}
	req := Request{Body: map[string]any{"foo": 1}}

	require.True(t, EvaluateInput(input, req, limiter, gc(base)).OK)
	require.True(t, EvaluateInput(input, req, limiter, gc(base.Add(time.Second))).OK)
	third := EvaluateInput(input, req, limiter, gc(base.Add(2*time.Second)))
	require.False(t, third.OK)
	require.Equal(t, ReasonRateLimit, third.Reason)

	// Outside the minute window the budget refills.
	require.True(t, EvaluateInput(input, req, limiter, gc(base.Add(2*time.Minute))).OK)
}

func TestRateLimiter_Burst(t *testing.T) {
	limiter := NewRateLimiter()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	limit := RateLimit{Burst: 2}

	require.True(t, limiter.Allow("k", limit, base))
	require.True(t, limiter.Allow("k", limit, base.Add(100*time.Millisecond)))
	require.False(t, limiter.Allow("k", limit, base.Add(200*time.Millisecond)))
	require.True(t, limiter.Allow("k", limit, base.Add(2*time.Second)))
}

func TestRateLimiter_KeysAreIndependent(t *testing.T) {
	limiter := NewRateLimiter()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	limit := RateLimit{PerMin: 1}

	require.True(t, limiter.Allow("a", limit, base))
	require.True(t, limiter.Allow("b", limit, base))
	require.False(t, limiter.Allow("a", limit, base.Add(time.Second)))
}
