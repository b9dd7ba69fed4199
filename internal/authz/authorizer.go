package authz

import (
	"log/slog"
	"time"

	"github.com/latchflow/latchflow/internal/metrics"
)

// User is the permission-bearing view of a principal.
type User struct {
	ID                 string
	Role               Role
	IsActive           bool
	MFAEnabled         bool
	PermissionsHash    string
	DirectPermissions  []Rule
	PermissionPresetID string
	PermissionPreset   *Preset
}

// Preset is a named, versioned ruleset shared between users.
type Preset struct {
	ID      string
	Version int
	Rules   []Rule
}

// SessionInfo carries the timestamps the two-factor post-check consults.
type SessionInfo struct {
	CreatedAt         time.Time
	MFAVerifiedAt     *time.Time
	ReauthenticatedAt *time.Time
}

// Options fixes the deployment-level evaluation settings.
type Options struct {
	Mode            Mode
	SystemUserID    string
	RequireAdmin2FA bool
	ReauthWindow    time.Duration
}

// Authorizer evaluates policy entries against compiled permission sets.
type Authorizer struct {
	cache    *Cache
	limiter  *RateLimiter
	logger   *slog.Logger
	recorder *metrics.Recorder
	opts     Options
}

// EvalInput bundles everything one evaluation consumes.
type EvalInput struct {
	Entry     *PolicyEntry
	Signature string
	Method    string
	Route     string
	Request   Request
	Context   Context
	User      *User
	Session   *SessionInfo
	Now       time.Time
}

// NewAuthorizer wires the engine's shared state.
func NewAuthorizer(cache *Cache, limiter *RateLimiter, logger *slog.Logger, recorder *metrics.Recorder, opts Options) *Authorizer {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Mode == "" {
		opts.Mode = ModeShadow
	}
	if opts.ReauthWindow <= 0 {
		opts.ReauthWindow = 15 * time.Minute
	}
	return &Authorizer{cache: cache, limiter: limiter, logger: logger, recorder: recorder, opts: opts}
}

// Mode reports the configured evaluation mode.
func (a *Authorizer) Mode() Mode { return a.opts.Mode }

// LegacyAllow is the v1 decision: ADMIN always, EXECUTOR when the policy
// entry opts in. Shadow and off modes admit per this rule.
func LegacyAllow(entry *PolicyEntry, user *User) bool {
	if user == nil || !user.IsActive {
		return false
	}
	if user.Role == RoleAdmin {
		return true
	}
	return entry != nil && entry.V1AllowExecutor && user.Role == RoleExecutor
}

// Authorize computes the decision for one request. The decision is always
// fully evaluated (even in shadow mode) so the observability pipeline sees
// the counterfactual outcome; the caller applies Mode to decide admission.
func (a *Authorizer) Authorize(in EvalInput) Decision {
	started := time.Now()
	now := in.Now
	if now.IsZero() {
		now = started
	}

	decision := a.evaluate(in, now)
	decision.DurationMs = float64(time.Since(started).Microseconds()) / 1000.0
	a.observe(in, decision, time.Since(started))
	return decision
}

func (a *Authorizer) evaluate(in EvalInput, now time.Time) Decision {
	if in.Entry == nil {
		return Decision{Reason: ReasonNoPolicy}
	}
	user := in.User
	if user == nil || !user.IsActive {
		return Decision{Reason: ReasonInactive}
	}
	if user.Role == RoleAdmin {
		return a.twoFactorPostCheck(Decision{OK: true, Reason: ReasonAdmin}, in, now)
	}

	rules := normalizeRules(user)
	compiled := a.cache.GetOrCompile(rules, user.PermissionsHash)

	candidates := candidateRules(compiled, in.Entry.Resource, in.Entry.Action)

	sawInputFailure := false
	sawWhereMiss := false
	for _, rule := range candidates {
		if !MatchWhere(rule.Where, in.Request, in.Context, a.opts.SystemUserID, now) {
			sawWhereMiss = true
			continue
		}
		guard := EvaluateInput(rule.Input, in.Request, a.limiter, GuardContext{
			RuleID:    rule.ID,
			UserID:    in.Context.UserID,
			RulesHash: compiled.RulesHash,
			Now:       now,
		})
		if !guard.OK {
			if guard.Reason == ReasonRateLimit {
				// A tripped rate limit denies the whole request; later
				// rules are not attempted.
				return Decision{Reason: ReasonRateLimit}
			}
			sawInputFailure = true
			continue
		}

		decision := Decision{OK: true, Reason: ReasonRuleMatch, MatchedRuleID: rule.ID}
		if rule.Source == SourcePreset && user.PermissionPreset != nil {
			decision.PresetID = user.PermissionPreset.ID
			decision.PresetVersion = user.PermissionPreset.Version
		}
		return decision
	}

	switch {
	case sawInputFailure:
		return Decision{Reason: ReasonInputGuard}
	case sawWhereMiss:
		return Decision{Reason: ReasonWhereMiss}
	default:
		return Decision{Reason: ReasonNoMatch}
	}
}

// twoFactorPostCheck applies the admin 2FA requirement after an ADMIN
// allow. It never upgrades a deny.
func (a *Authorizer) twoFactorPostCheck(decision Decision, in EvalInput, now time.Time) Decision {
	if !decision.OK || !a.opts.RequireAdmin2FA {
		return decision
	}
	user := in.User
	if !user.MFAEnabled {
		a.twoFactorEvent("challenge_required")
		return Decision{Reason: ReasonMFARequired, TwoFactor: "challenge_required"}
	}
	if in.Session != nil {
		lastAuth := in.Session.CreatedAt
		if in.Session.MFAVerifiedAt != nil {
			lastAuth = *in.Session.MFAVerifiedAt
		}
		if in.Session.ReauthenticatedAt != nil {
			lastAuth = *in.Session.ReauthenticatedAt
		}
		if now.Sub(lastAuth) > a.opts.ReauthWindow {
			a.twoFactorEvent("session_expired")
			return Decision{Reason: ReasonMFARequired, TwoFactor: "session_expired"}
		}
	}
	a.twoFactorEvent("challenge_satisfied")
	decision.TwoFactor = "challenge_satisfied"
	return decision
}

func (a *Authorizer) twoFactorEvent(event string) {
	if a.recorder != nil {
		a.recorder.CountTwoFactorEvent(event)
	}
}

// normalizeRules concatenates preset rules before direct rules, stamping
// the source on each so matched-rule attribution survives compilation.
func normalizeRules(user *User) []Rule {
	var out []Rule
	if user.PermissionPreset != nil {
		for _, rule := range user.PermissionPreset.Rules {
			rule.Source = SourcePreset
			out = append(out, rule)
		}
	}
	for _, rule := range user.DirectPermissions {
		rule.Source = SourceDirect
		out = append(out, rule)
	}
	return out
}

// candidateRules unions the exact-resource bucket with the wildcard
// bucket, preserving compile order and de-duplicating shared rules.
func candidateRules(compiled *CompiledPermissions, resource, action string) []*CompiledRule {
	var out []*CompiledRule
	seen := make(map[*CompiledRule]struct{})
	appendBucket := func(res string) {
		actions, ok := compiled.Buckets[res]
		if !ok {
			return
		}
		for _, rule := range actions[action] {
			if _, dup := seen[rule]; dup {
				continue
			}
			seen[rule] = struct{}{}
			out = append(out, rule)
		}
	}
	appendBucket(resource)
	if resource != "*" {
		appendBucket("*")
	}
	return out
}

func (a *Authorizer) observe(in EvalInput, decision Decision, elapsed time.Duration) {
	outcome := "DENY"
	if decision.OK {
		outcome = "ALLOW"
	}

	role := ""
	userID := ""
	rulesHash := ""
	if in.User != nil {
		role = string(in.User.Role)
		userID = in.User.ID
		rulesHash = in.User.PermissionsHash
	}

	attrs := []any{
		slog.String("kind", "authz_decision"),
		slog.String("decision", outcome),
		slog.String("reason", string(decision.Reason)),
		slog.Float64("durationMs", decision.DurationMs),
	}
	if userID != "" {
		attrs = append(attrs, slog.String("userId", userID))
	}
	if role != "" {
		attrs = append(attrs, slog.String("role", role))
	}
	if in.Entry != nil {
		attrs = append(attrs, slog.String("resource", in.Entry.Resource), slog.String("action", in.Entry.Action))
	}
	if in.Signature != "" {
		attrs = append(attrs, slog.String("signature", in.Signature))
	}
	if a.opts.Mode == ModeShadow {
		attrs = append(attrs, slog.Bool("shadowMode", true))
	}
	if rulesHash != "" {
		attrs = append(attrs, slog.String("rulesHash", rulesHash))
	}
	if decision.PresetID != "" {
		attrs = append(attrs, slog.String("presetId", decision.PresetID))
	}
	if decision.MatchedRuleID != "" {
		attrs = append(attrs, slog.String("ruleId", decision.MatchedRuleID))
	}
	a.logger.Info("authz decision", attrs...)

	if a.recorder != nil {
		a.recorder.CountDecision(in.Route, in.Method, string(a.opts.Mode), outcome, string(decision.Reason), role, elapsed)
	}
}
