package authz

import "time"

// MatchWhere tests a rule's where constraints against the request and
// context. An undefined where matches everything; an empty candidate list
// against a non-empty constraint is a miss.
func MatchWhere(where *Where, req Request, ctx Context, systemUserID string, now time.Time) bool {
	if where == nil {
		return true
	}

	if len(where.BundleIDs) > 0 {
		candidates := collectValues(req, ctx.IDs.BundleID, "bundleId", "bundle.id")
		if !intersects(candidates, where.BundleIDs) {
			return false
		}
	}
	if len(where.PipelineIDs) > 0 {
		candidates := collectValues(req, ctx.IDs.PipelineID, "pipelineId", "pipeline.id")
		if !intersects(candidates, where.PipelineIDs) {
			return false
		}
	}
	if len(where.TriggerKinds) > 0 {
		candidates := collectBodyStrings(req.Body, "kind", "trigger.kind")
		if !intersects(candidates, where.TriggerKinds) {
			return false
		}
	}
	if len(where.ActionKinds) > 0 {
		candidates := collectBodyStrings(req.Body, "kind", "action.kind")
		if !intersects(candidates, where.ActionKinds) {
			return false
		}
	}
	if len(where.RecipientTagsAny) > 0 {
		tags := collectStringArrays(req.Body, "tags", "recipient.tags")
		if !intersects(tags, where.RecipientTagsAny) {
			return false
		}
	}
	if len(where.Environments) > 0 {
		var candidates []string
		if v, ok := req.Query["environment"]; ok && v != "" {
			candidates = append(candidates, v)
		}
		candidates = append(candidates, collectBodyStrings(req.Body, "environment")...)
		if v, ok := req.Headers["x-latchflow-environment"]; ok && v != "" {
			candidates = append(candidates, v)
		}
		if !intersects(candidates, where.Environments) {
			return false
		}
	}
	if where.SystemOnly && ctx.UserID != systemUserID {
		return false
	}
	if where.OwnerIsSelf {
		owners := make([]string, 0, 4)
		if v, ok := req.Params["userId"]; ok && v != "" {
			owners = append(owners, v)
		}
		owners = append(owners, collectBodyStrings(req.Body, "userId", "ownerId")...)
		if v, ok := req.Query["userId"]; ok && v != "" {
			owners = append(owners, v)
		}
		if !contains(owners, ctx.UserID) {
			return false
		}
	}
	if tw := where.TimeWindow; tw != nil {
		if tw.Since != nil && now.Before(*tw.Since) {
			return false
		}
		if tw.Until != nil && now.After(*tw.Until) {
			return false
		}
	}
	return true
}

// collectValues gathers a context id plus dotted body paths.
func collectValues(req Request, contextID string, paths ...string) []string {
	out := make([]string, 0, len(paths)+1)
	if contextID != "" {
		out = append(out, contextID)
	}
	out = append(out, collectBodyStrings(req.Body, paths...)...)
	return out
}

func collectBodyStrings(body map[string]any, paths ...string) []string {
	var out []string
	for _, path := range paths {
		if v, ok := resolvePath(body, path); ok {
			if str, isStr := v.(string); isStr && str != "" {
				out = append(out, str)
			}
		}
	}
	return out
}

func collectStringArrays(body map[string]any, paths ...string) []string {
	var out []string
	for _, path := range paths {
		v, ok := resolvePath(body, path)
		if !ok {
			continue
		}
		arr, isArr := v.([]any)
		if !isArr {
			continue
		}
		for _, elem := range arr {
			if str, isStr := elem.(string); isStr && str != "" {
				out = append(out, str)
			}
		}
	}
	return out
}

func intersects(candidates, constraint []string) bool {
	if len(candidates) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(constraint))
	for _, v := range constraint {
		set[v] = struct{}{}
	}
	for _, v := range candidates {
		if _, ok := set[v]; ok {
			return true
		}
	}
	return false
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
