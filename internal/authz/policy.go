package authz

// policyTable maps route signatures to the action/resource pair the
// authorizer evaluates. Signatures use the chi route pattern, not the
// concrete URL. v1AllowExecutor preserves the legacy admission rule for
// shadow mode.
var policyTable = map[string]PolicyEntry{
	"GET /admin/bundles":                            {Action: "read", Resource: "bundle", V1AllowExecutor: true},
	"POST /admin/bundles":                           {Action: "create", Resource: "bundle"},
	"GET /admin/bundles/{bundleId}":                 {Action: "read", Resource: "bundle", V1AllowExecutor: true},
	"PATCH /admin/bundles/{bundleId}":               {Action: "update", Resource: "bundle"},
	"DELETE /admin/bundles/{bundleId}":              {Action: "delete", Resource: "bundle"},
	"GET /admin/bundles/{bundleId}/objects":         {Action: "read", Resource: "bundle", V1AllowExecutor: true},
	"POST /admin/bundles/{bundleId}/objects":        {Action: "update", Resource: "bundle"},
	"DELETE /admin/bundles/{bundleId}/objects/{objectId}": {Action: "update", Resource: "bundle"},
	"POST /admin/bundles/{bundleId}/build":          {Action: "build", Resource: "bundle"},
	"GET /admin/bundles/{bundleId}/build/status":    {Action: "read", Resource: "bundle", V1AllowExecutor: true},

	"GET /admin/files":             {Action: "read", Resource: "file", V1AllowExecutor: true},
	"POST /admin/files":            {Action: "create", Resource: "file"},
	"DELETE /admin/files/{fileId}": {Action: "delete", Resource: "file"},

	"GET /admin/users":              {Action: "read", Resource: "user"},
	"POST /admin/users":             {Action: "create", Resource: "user"},
	"GET /admin/users/{userId}":     {Action: "read", Resource: "user"},
	"PATCH /admin/users/{userId}":   {Action: "update", Resource: "user"},
	"DELETE /admin/users/{userId}":  {Action: "delete", Resource: "user"},

	"GET /admin/recipients":                  {Action: "read", Resource: "recipient", V1AllowExecutor: true},
	"POST /admin/recipients":                 {Action: "create", Resource: "recipient"},
	"GET /admin/recipients/{recipientId}":    {Action: "read", Resource: "recipient", V1AllowExecutor: true},
	"PATCH /admin/recipients/{recipientId}":  {Action: "update", Resource: "recipient"},
	"DELETE /admin/recipients/{recipientId}": {Action: "delete", Resource: "recipient"},

	"GET /admin/assignments":                   {Action: "read", Resource: "assignment", V1AllowExecutor: true},
	"POST /admin/assignments":                  {Action: "create", Resource: "assignment"},
	"PATCH /admin/assignments/{assignmentId}":  {Action: "update", Resource: "assignment"},
	"DELETE /admin/assignments/{assignmentId}": {Action: "delete", Resource: "assignment"},

	"GET /admin/presets":                 {Action: "read", Resource: "preset"},
	"POST /admin/presets":                {Action: "create", Resource: "preset"},
	"GET /admin/presets/{presetId}":      {Action: "read", Resource: "preset"},
	"PATCH /admin/presets/{presetId}":    {Action: "update", Resource: "preset"},
	"DELETE /admin/presets/{presetId}":   {Action: "delete", Resource: "preset"},
	"POST /admin/presets/{presetId}/activate": {Action: "update", Resource: "preset"},

	"GET /admin/triggers":                         {Action: "read", Resource: "pipeline", V1AllowExecutor: true},
	"POST /admin/triggers":                        {Action: "create", Resource: "pipeline"},
	"PATCH /admin/triggers/{triggerId}":           {Action: "update", Resource: "pipeline"},
	"DELETE /admin/triggers/{triggerId}":          {Action: "delete", Resource: "pipeline"},
	"POST /admin/triggers/{triggerId}/fire":       {Action: "execute", Resource: "pipeline", V1AllowExecutor: true},
	"GET /admin/actions":                          {Action: "read", Resource: "pipeline", V1AllowExecutor: true},
	"POST /admin/actions":                         {Action: "create", Resource: "pipeline"},
	"PATCH /admin/actions/{actionId}":             {Action: "update", Resource: "pipeline"},
	"DELETE /admin/actions/{actionId}":            {Action: "delete", Resource: "pipeline"},
	"GET /admin/actions/{actionId}/invocations":   {Action: "read", Resource: "pipeline", V1AllowExecutor: true},
	"GET /admin/capabilities":                     {Action: "read", Resource: "pipeline", V1AllowExecutor: true},
	"GET /admin/pipelines":                        {Action: "read", Resource: "pipeline", V1AllowExecutor: true},
	"POST /admin/pipelines":                       {Action: "create", Resource: "pipeline"},
	"PATCH /admin/pipelines/{mappingId}":          {Action: "update", Resource: "pipeline"},
	"DELETE /admin/pipelines/{mappingId}":         {Action: "delete", Resource: "pipeline"},

	"GET /admin/tokens":                  {Action: "read", Resource: "token"},
	"POST /admin/tokens":                 {Action: "create", Resource: "token"},
	"DELETE /admin/tokens/{tokenId}":     {Action: "delete", Resource: "token"},
	"POST /admin/permissions/simulate":   {Action: "simulate", Resource: "permission"},
	"GET /admin/history/{entityType}/{entityId}":           {Action: "read", Resource: "history"},
	"GET /admin/history/{entityType}/{entityId}/{version}": {Action: "read", Resource: "history"},
}

// LookupPolicy resolves the policy entry for a route signature. A nil
// return means no policy is declared and the authorizer denies NO_POLICY.
func LookupPolicy(signature string) *PolicyEntry {
	entry, ok := policyTable[signature]
	if !ok {
		return nil
	}
	return &entry
}
