package authz

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var whereNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestMatchWhere_NilMatchesEverything(t *testing.T) {
	require.True(t, MatchWhere(nil, Request{}, Context{}, "system", whereNow))
}

func TestMatchWhere_BundleIDs(t *testing.T) {
	where := &Where{BundleIDs: []string{"b-1", "b-2"}}

	// From context.
	require.True(t, MatchWhere(where, Request{}, Context{IDs: ContextIDs{BundleID: "b-1"}}, "", whereNow))
	// From body dotted path.
	require.True(t, MatchWhere(where, Request{Body: map[string]any{"bundle": map[string]any{"id": "b-2"}}}, Context{}, "", whereNow))
	// Empty candidates against a non-empty constraint miss.
	require.False(t, MatchWhere(where, Request{}, Context{}, "", whereNow))
	require.False(t, MatchWhere(where, Request{Body: map[string]any{"bundleId": "b-9"}}, Context{}, "", whereNow))
}

func TestMatchWhere_Kinds(t *testing.T) {
	where := &Where{TriggerKinds: []string{"webhook"}}
	require.True(t, MatchWhere(where, Request{Body: map[string]any{"kind": "webhook"}}, Context{}, "", whereNow))
	require.True(t, MatchWhere(where, Request{Body: map[string]any{"trigger": map[string]any{"kind": "webhook"}}}, Context{}, "", whereNow))
	require.False(t, MatchWhere(where, Request{Body: map[string]any{"kind": "schedule"}}, Context{}, "", whereNow))
}

func TestMatchWhere_RecipientTags(t *testing.T) {
	where := &Where{RecipientTagsAny: []string{"vip"}}
	require.True(t, MatchWhere(where, Request{Body: map[string]any{"tags": []any{"vip", "beta"}}}, Context{}, "", whereNow))
	require.True(t, MatchWhere(where, Request{Body: map[string]any{"recipient": map[string]any{"tags": []any{"vip"}}}}, Context{}, "", whereNow))
	require.False(t, MatchWhere(where, Request{Body: map[string]any{"tags": []any{"beta"}}}, Context{}, "", whereNow))
}

func TestMatchWhere_Environments(t *testing.T) {
	where := &Where{Environments: []string{"prod"}}
	require.True(t, MatchWhere(where, Request{Query: map[string]string{"environment": "prod"}}, Context{}, "", whereNow))
	require.True(t, MatchWhere(where, Request{Body: map[string]any{"environment": "prod"}}, Context{}, "", whereNow))
	require.True(t, MatchWhere(where, Request{Headers: map[string]string{"x-latchflow-environment": "prod"}}, Context{}, "", whereNow))
	require.False(t, MatchWhere(where, Request{Query: map[string]string{"environment": "dev"}}, Context{}, "", whereNow))
}

func TestMatchWhere_SystemOnlyAndOwnerIsSelf(t *testing.T) {
	system := &Where{SystemOnly: true}
	require.True(t, MatchWhere(system, Request{}, Context{UserID: "system"}, "system", whereNow))
	require.False(t, MatchWhere(system, Request{}, Context{UserID: "u-1"}, "system", whereNow))

	owner := &Where{OwnerIsSelf: true}
	require.True(t, MatchWhere(owner, Request{Params: map[string]string{"userId": "u-1"}}, Context{UserID: "u-1"}, "", whereNow))
	require.True(t, MatchWhere(owner, Request{Body: map[string]any{"ownerId": "u-1"}}, Context{UserID: "u-1"}, "", whereNow))
	require.True(t, MatchWhere(owner, Request{Query: map[string]string{"userId": "u-1"}}, Context{UserID: "u-1"}, "", whereNow))
	require.False(t, MatchWhere(owner, Request{Body: map[string]any{"userId": "u-2"}}, Context{UserID: "u-1"}, "", whereNow))
}

func TestMatchWhere_TimeWindow(t *testing.T) {
	since := whereNow.Add(-time.Hour)
	until := whereNow.Add(time.Hour)

	require.True(t, MatchWhere(&Where{TimeWindow: &TimeWindow{Since: &since, Until: &until}}, Request{}, Context{}, "", whereNow))
	require.False(t, MatchWhere(&Where{TimeWindow: &TimeWindow{Since: &until}}, Request{}, Context{}, "", whereNow))
	require.False(t, MatchWhere(&Where{TimeWindow: &TimeWindow{Until: &since}}, Request{}, Context{}, "", whereNow))
	require.True(t, MatchWhere(&Where{TimeWindow: &TimeWindow{Since: &since}}, Request{}, Context{}, "", whereNow))
}
