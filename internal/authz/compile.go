package authz

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/latchflow/latchflow/internal/canonical"
)

// Compile normalizes a permission list into per-(resource, action) buckets.
// Entries without an action are skipped. Every rule with a concrete
// resource is placed both in its own bucket and in the "*" bucket for its
// action so wildcard lookups stay O(1).
//
// The returned RulesHash is the sha256 of the canonical JSON of the rule
// sequence: rule order is preserved (a ruleset is a sequence) while each
// rule's internal structure is deeply canonicalized. A rule whose value
// cannot be canonicalized is logged and skipped from the hash; if any rule
// is skipped the caller-provided fallback hash wins, else a time-seeded
// sentinel keeps cache keys unique.
func Compile(rules []Rule, fallbackHash string, logger *slog.Logger) *CompiledPermissions {
	if logger == nil {
		logger = slog.Default()
	}

	compiled := &CompiledPermissions{
		Rules:   make([]*CompiledRule, 0, len(rules)),
		Buckets: make(map[string]map[string][]*CompiledRule),
	}

	hashInput := make([]any, 0, len(rules))
	hashFailed := false

	for i, rule := range rules {
		if rule.Action == "" {
			continue
		}
		resource := rule.Resource
		if resource == "" {
			resource = "*"
		}
		id := rule.ID
		if id == "" {
			id = fmt.Sprintf("%s:%s:%d", resource, rule.Action, i)
		}

		cr := &CompiledRule{
			ID:       id,
			Source:   rule.Source,
			Action:   rule.Action,
			Resource: resource,
			Where:    cloneWhere(rule.Where),
			Input:    cloneInput(rule.Input),
		}
		compiled.Rules = append(compiled.Rules, cr)
		addToBucket(compiled.Buckets, resource, rule.Action, cr)
		if resource != "*" {
			addToBucket(compiled.Buckets, "*", rule.Action, cr)
		}

		canon, err := canonical.Canonicalize(rule)
		if err != nil {
			logger.Warn("rule canonicalization failed, excluded from hash",
				slog.String("rule_id", id), slog.Any("error", err))
			hashFailed = true
			continue
		}
		hashInput = append(hashInput, canon)
	}

	compiled.RulesHash = hashRules(hashInput, hashFailed, fallbackHash)
	return compiled
}

func hashRules(canonRules []any, failed bool, fallback string) string {
	if failed && fallback != "" {
		return fallback
	}
	encoded, err := canonical.MarshalCanonical(canonRules)
	if err != nil {
		if fallback != "" {
			return fallback
		}
		return sentinelHash()
	}
	if failed && fallback == "" {
		return sentinelHash()
	}
	return canonical.HashBytes(encoded)
}

func sentinelHash() string {
	return canonical.HashBytes([]byte(fmt.Sprintf("unhashable:%d", time.Now().UnixNano())))
}

func addToBucket(buckets map[string]map[string][]*CompiledRule, resource, action string, rule *CompiledRule) {
	actions, ok := buckets[resource]
	if !ok {
		actions = make(map[string][]*CompiledRule)
		buckets[resource] = actions
	}
	actions[action] = append(actions[action], rule)
}

// cloneWhere copies the constraint data so compiled rules never alias
// caller-owned slices.
func cloneWhere(w *Where) *Where {
	if w == nil {
		return nil
	}
	out := &Where{
		BundleIDs:        cloneStrings(w.BundleIDs),
		PipelineIDs:      cloneStrings(w.PipelineIDs),
		TriggerKinds:     cloneStrings(w.TriggerKinds),
		ActionKinds:      cloneStrings(w.ActionKinds),
		RecipientTagsAny: cloneStrings(w.RecipientTagsAny),
		Environments:     cloneStrings(w.Environments),
		SystemOnly:       w.SystemOnly,
		OwnerIsSelf:      w.OwnerIsSelf,
	}
	if w.TimeWindow != nil {
		tw := *w.TimeWindow
		if w.TimeWindow.Since != nil {
			since := *w.TimeWindow.Since
			tw.Since = &since
		}
		if w.TimeWindow.Until != nil {
			until := *w.TimeWindow.Until
			tw.Until = &until
		}
		out.TimeWindow = &tw
	}
	return out
}

func cloneInput(in *Input) *Input {
	if in == nil {
		return nil
	}
	out := &Input{
		AllowParams: cloneStrings(in.AllowParams),
		DenyParams:  cloneStrings(in.DenyParams),
		DryRunOnly:  in.DryRunOnly,
	}
	if len(in.ValueRules) > 0 {
		out.ValueRules = make([]ValueRule, len(in.ValueRules))
		for i, vr := range in.ValueRules {
			copied := vr
			copied.OneOf = append([]any(nil), vr.OneOf...)
			out.ValueRules[i] = copied
		}
	}
	if in.RateLimit != nil {
		rl := *in.RateLimit
		out.RateLimit = &rl
	}
	return out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}
