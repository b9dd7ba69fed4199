package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/latchflow/latchflow/internal/authz"
)

// maxBodySnapshot bounds how much of a request body the permission
// engine will inspect.
const maxBodySnapshot = 1 << 20

// snapshotRequest captures the request for policy evaluation. The body
// is read once and restored so handlers can decode it again.
func snapshotRequest(r *http.Request) authz.Request {
	req := authz.Request{
		Params:  map[string]string{},
		Query:   map[string]string{},
		Headers: map[string]string{},
	}

	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		for i, key := range rctx.URLParams.Keys {
			if key == "*" {
				continue
			}
			req.Params[key] = rctx.URLParams.Values[i]
		}
	}
	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			req.Query[key] = values[0]
		}
	}
	for key, values := range r.Header {
		if len(values) > 0 {
			req.Headers[strings.ToLower(key)] = values[0]
		}
	}

	if r.Body != nil && strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		data, err := io.ReadAll(io.LimitReader(r.Body, maxBodySnapshot))
		if err == nil {
			r.Body = io.NopCloser(bytes.NewReader(data))
			var body map[string]any
			if json.Unmarshal(data, &body) == nil {
				req.Body = body
			}
		}
	}
	return req
}

// routeSignature is the policy-table key for the matched route.
func routeSignature(r *http.Request) string {
	pattern := r.URL.Path
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			pattern = p
		}
	}
	return r.Method + " " + pattern
}

// contextIDs lifts route-scoped entity ids out of the URL params.
func contextIDs(req authz.Request) authz.ContextIDs {
	return authz.ContextIDs{
		BundleID:   req.Params["bundleId"],
		PipelineID: req.Params["mappingId"],
		ActionID:   req.Params["actionId"],
		TriggerID:  req.Params["triggerId"],
	}
}

// decodeJSON parses the request body into dst; empty bodies fail.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodySnapshot))
	if err := dec.Decode(dst); err != nil {
		return httpError(http.StatusBadRequest, CodeBadRequest, "invalid JSON body")
	}
	return nil
}

func clientIP(r *http.Request) string {
	host := r.RemoteAddr
	if i := strings.LastIndex(host, ":"); i > 0 {
		host = host[:i]
	}
	return host
}
