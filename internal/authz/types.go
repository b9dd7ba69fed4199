// Package authz implements the permission engine: rule compilation and
// caching, where-clause matching, input guards with sliding-window rate
// limits, and the authorizer that combines them into a single decision per
// request.
package authz

import "time"

// RuleSource distinguishes preset-attached rules from rules granted
// directly to a user. Preset rules are always evaluated first.
type RuleSource string

const (
	SourcePreset RuleSource = "preset"
	SourceDirect RuleSource = "direct"
)

// Role is the coarse principal classification carried by sessions and
// tokens. ADMIN short-circuits rule evaluation.
type Role string

const (
	RoleAdmin    Role = "ADMIN"
	RoleExecutor Role = "EXECUTOR"
	RoleUnknown  Role = "UNKNOWN"
)

// Rule is one permission grant. Resource "*" is a wildcard.
type Rule struct {
	ID       string     `json:"id,omitempty"`
	Source   RuleSource `json:"source,omitempty"`
	Action   string     `json:"action"`
	Resource string     `json:"resource"`
	Where    *Where     `json:"where,omitempty"`
	Input    *Input     `json:"input,omitempty"`
}

// Where narrows a rule to requests matching contextual constraints. Empty
// slices and false booleans impose no constraint.
type Where struct {
	BundleIDs        []string    `json:"bundleIds,omitempty"`
	PipelineIDs      []string    `json:"pipelineIds,omitempty"`
	TriggerKinds     []string    `json:"triggerKinds,omitempty"`
	ActionKinds      []string    `json:"actionKinds,omitempty"`
	RecipientTagsAny []string    `json:"recipientTagsAny,omitempty"`
	Environments     []string    `json:"environments,omitempty"`
	SystemOnly       bool        `json:"systemOnly,omitempty"`
	OwnerIsSelf      bool        `json:"ownerIsSelf,omitempty"`
	TimeWindow       *TimeWindow `json:"timeWindow,omitempty"`
}

// TimeWindow bounds rule applicability; either endpoint may be open.
type TimeWindow struct {
	Since *time.Time `json:"since,omitempty"`
	Until *time.Time `json:"until,omitempty"`
}

// Input guards constrain the request payload a matched rule admits.
type Input struct {
	AllowParams []string    `json:"allowParams,omitempty"`
	DenyParams  []string    `json:"denyParams,omitempty"`
	ValueRules  []ValueRule `json:"valueRules,omitempty"`
	DryRunOnly  bool        `json:"dryRunOnly,omitempty"`
	RateLimit   *RateLimit  `json:"rateLimit,omitempty"`
}

// ValueRule constrains one dotted path in the request body or query.
type ValueRule struct {
	Path    string `json:"path"`
	OneOf   []any  `json:"oneOf,omitempty"`
	Matches string `json:"matches,omitempty"`
	MaxLen  int    `json:"maxLen,omitempty"`
}

// RateLimit is a sliding-window budget keyed per (rules hash, rule, user).
type RateLimit struct {
	Burst   int `json:"burst,omitempty"`
	PerMin  int `json:"perMin,omitempty"`
	PerHour int `json:"perHour,omitempty"`
}

// CompiledRule is a normalized rule placed into lookup buckets. The same
// rule value is shared between its resource bucket and the wildcard bucket.
type CompiledRule struct {
	ID       string
	Source   RuleSource
	Action   string
	Resource string
	Where    *Where
	Input    *Input
}

// CompiledPermissions is the bucketed form of a permission set.
type CompiledPermissions struct {
	RulesHash string
	Rules     []*CompiledRule
	Buckets   map[string]map[string][]*CompiledRule
}

// PolicyEntry maps a route signature ("METHOD /path") to the action and
// resource the authorizer evaluates, plus the legacy v1 executor flag used
// in shadow mode.
type PolicyEntry struct {
	Action          string
	Resource        string
	V1AllowExecutor bool
}

// Request is the snapshot of an inbound request the engine evaluates.
// Query and header values are first-values only.
type Request struct {
	Params  map[string]string
	Query   map[string]string
	Body    map[string]any
	Headers map[string]string
}

// Context identifies the acting principal and any route-scoped entity ids.
type Context struct {
	UserID   string
	Role     Role
	IsActive bool
	IDs      ContextIDs
}

// ContextIDs carries entity ids resolved from the route.
type ContextIDs struct {
	BundleID   string
	PipelineID string
	ActionID   string
	TriggerID  string
}

// Reason explains a decision outcome.
type Reason string

const (
	ReasonAdmin         Reason = "ADMIN"
	ReasonRuleMatch     Reason = "RULE_MATCH"
	ReasonNoPolicy      Reason = "NO_POLICY"
	ReasonInactive      Reason = "INACTIVE"
	ReasonNoMatch       Reason = "NO_MATCH"
	ReasonWhereMiss     Reason = "WHERE_MISS"
	ReasonInputGuard    Reason = "INPUT_GUARD"
	ReasonAllowedParams Reason = "ALLOWED_PARAMS"
	ReasonDeniedParam   Reason = "DENIED_PARAM"
	ReasonValueRule     Reason = "VALUE_RULE"
	ReasonDryRunOnly    Reason = "DRY_RUN_ONLY"
	ReasonRateLimit     Reason = "RATE_LIMIT"
	ReasonMFARequired   Reason = "MFA_REQUIRED"
)

// Decision is the authorizer's outcome, one per evaluation.
type Decision struct {
	OK            bool
	Reason        Reason
	MatchedRuleID string
	PresetID      string
	PresetVersion int
	TwoFactor     string
	DurationMs    float64
}

// Mode selects how the computed decision is applied.
type Mode string

const (
	ModeEnforce Mode = "enforce"
	ModeShadow  Mode = "shadow"
	ModeOff     Mode = "off"
)
