package authz

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"
	"time"
)

// GuardContext carries the identifiers the input-guard evaluator needs for
// rate-limit keying.
type GuardContext struct {
	RuleID    string
	UserID    string
	RulesHash string
	Now       time.Time
}

// GuardResult reports an input-guard evaluation. A failed guard names the
// failing check in Reason; Detail points at the offending parameter or
// path.
type GuardResult struct {
	OK     bool
	Reason Reason
	Detail string
}

var guardPass = GuardResult{OK: true}

// regex compilation is cached process-wide; value-rule patterns repeat for
// every request matching the same rule.
var (
	regexMu    sync.RWMutex
	regexCache = map[string]*regexp.Regexp{}
)

// EvaluateInput checks a rule's input guards against a request snapshot.
// Checks run in the documented order: allowParams, denyParams, valueRules
// (declaration order), dryRunOnly, rateLimit. The first failure wins.
func EvaluateInput(input *Input, req Request, limiter *RateLimiter, gc GuardContext) GuardResult {
	if input == nil {
		return guardPass
	}

	if len(input.AllowParams) > 0 && req.Body != nil {
		allowed := make(map[string]struct{}, len(input.AllowParams))
		for _, key := range input.AllowParams {
			allowed[key] = struct{}{}
		}
		for key := range req.Body {
			if _, ok := allowed[key]; !ok {
				return GuardResult{Reason: ReasonAllowedParams, Detail: key}
			}
		}
	}

	if req.Body != nil {
		for _, key := range input.DenyParams {
			if _, present := req.Body[key]; present {
				return GuardResult{Reason: ReasonDeniedParam, Detail: key}
			}
		}
	}

	for _, vr := range input.ValueRules {
		if result := evaluateValueRule(vr, req); !result.OK {
			return result
		}
	}

	if input.DryRunOnly && !isDryRun(req) {
		return GuardResult{Reason: ReasonDryRunOnly}
	}

	if input.RateLimit != nil && limiter != nil {
		key := fmt.Sprintf("%s:%s:%s", gc.RulesHash, gc.RuleID, gc.UserID)
		now := gc.Now
		if now.IsZero() {
			now = time.Now()
		}
		if !limiter.Allow(key, *input.RateLimit, now) {
			return GuardResult{Reason: ReasonRateLimit}
		}
	}

	return guardPass
}

func evaluateValueRule(vr ValueRule, req Request) GuardResult {
	value, found := resolvePath(req.Body, vr.Path)
	if !found {
		if qv, ok := req.Query[vr.Path]; ok {
			value, found = qv, true
		}
	}
	fail := GuardResult{Reason: ReasonValueRule, Detail: vr.Path}

	if len(vr.OneOf) > 0 {
		if !found || !valueIn(value, vr.OneOf) {
			return fail
		}
	}
	if vr.Matches != "" {
		str, ok := value.(string)
		if found && ok {
			re, err := compileMatch(vr.Matches)
			if err != nil || !re.MatchString(str) {
				return fail
			}
		}
	}
	if vr.MaxLen > 0 {
		if str, ok := value.(string); found && ok && len(str) > vr.MaxLen {
			return fail
		}
	}
	return guardPass
}

func compileMatch(pattern string) (*regexp.Regexp, error) {
	regexMu.RLock()
	re, ok := regexCache[pattern]
	regexMu.RUnlock()
	if ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	regexMu.Lock()
	regexCache[pattern] = re
	regexMu.Unlock()
	return re, nil
}

// resolvePath walks a dot-separated path through nested body objects.
func resolvePath(body map[string]any, path string) (any, bool) {
	if body == nil || path == "" {
		return nil, false
	}
	var current any = body
	for _, segment := range strings.Split(path, ".") {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = obj[segment]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func valueIn(value any, candidates []any) bool {
	for _, cand := range candidates {
		if reflect.DeepEqual(value, cand) {
			return true
		}
		// JSON decoding leaves numbers as float64 on one side and ints on
		// the other depending on origin; compare display forms as a
		// fallback.
		if fmt.Sprint(value) == fmt.Sprint(cand) {
			return true
		}
	}
	return false
}

func isDryRun(req Request) bool {
	if v, ok := req.Body["dryRun"]; ok {
		if b, isBool := v.(bool); isBool && b {
			return true
		}
	}
	if qv, ok := req.Query["dryRun"]; ok {
		if qv == "1" || strings.EqualFold(qv, "true") {
			return true
		}
	}
	if hv, ok := req.Headers["x-latchflow-dry-run"]; ok {
		if hv == "1" || strings.EqualFold(hv, "true") {
			return true
		}
	}
	return false
}
