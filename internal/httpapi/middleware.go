package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/latchflow/latchflow/internal/authz"
	"github.com/latchflow/latchflow/internal/canonical"
	"github.com/latchflow/latchflow/internal/store"
)

// Session cookie names.
const (
	adminCookieName     = "lf_admin_sess"
	recipientCookieName = "lf_recipient_sess"
)

type contextKey string

const (
	principalKey contextKey = "principal"
	recipientKey contextKey = "recipient"
)

// principal is the authenticated admin-side caller: a cookie session or
// an API token, never both.
type principal struct {
	User    *store.User
	Session *store.AdminSession
	Token   *store.APIToken
}

// recipientPrincipal is the authenticated portal caller.
type recipientPrincipal struct {
	Recipient  *store.Recipient
	Session    *store.RecipientSession
	Assignment *store.BundleAssignment
}

func principalFrom(ctx context.Context) *principal {
	p, _ := ctx.Value(principalKey).(*principal)
	return p
}

func recipientFrom(ctx context.Context) *recipientPrincipal {
	p, _ := ctx.Value(recipientKey).(*recipientPrincipal)
	return p
}

// requireSession admits only cookie-authenticated admins.
func (a *API) requireSession(h handlerFunc) http.HandlerFunc {
	return a.wrap(func(w http.ResponseWriter, r *http.Request) error {
		p, err := a.authenticateSession(r)
		if err != nil {
			return err
		}
		return h(w, r.WithContext(context.WithValue(r.Context(), principalKey, p)))
	})
}

// requireAdminOrAPIToken admits a session cookie or a bearer token.
func (a *API) requireAdminOrAPIToken(h handlerFunc) http.HandlerFunc {
	return a.wrap(func(w http.ResponseWriter, r *http.Request) error {
		var p *principal
		var err error
		switch {
		case hasCookie(r, adminCookieName):
			p, err = a.authenticateSession(r)
		case r.Header.Get("Authorization") != "":
			p, err = a.authenticateAPIToken(r)
		default:
			return httpError(http.StatusUnauthorized, CodeUnauthorized, "authentication required")
		}
		if err != nil {
			return err
		}
		return h(w, r.WithContext(context.WithValue(r.Context(), principalKey, p)))
	})
}

func hasCookie(r *http.Request, name string) bool {
	_, err := r.Cookie(name)
	return err == nil
}

func (a *API) authenticateSession(r *http.Request) (*principal, error) {
	cookie, err := r.Cookie(adminCookieName)
	if err != nil || cookie.Value == "" {
		return nil, httpError(http.StatusUnauthorized, CodeUnauthorized, "session required")
	}
	session, err := a.store.GetAdminSession(r.Context(), canonical.HashToken(cookie.Value))
	if err != nil {
		return nil, httpError(http.StatusUnauthorized, CodeUnauthorized, "invalid session")
	}
	now := a.now()
	if session.RevokedAt != nil || now.After(session.ExpiresAt) {
		return nil, httpError(http.StatusUnauthorized, CodeUnauthorized, "session expired")
	}
	user, err := a.store.GetUser(r.Context(), session.UserID)
	if err != nil {
		return nil, httpError(http.StatusUnauthorized, CodeUnauthorized, "invalid session")
	}
	if !user.IsActive {
		return nil, httpError(http.StatusForbidden, CodeInactive, "account disabled")
	}
	return &principal{User: user, Session: session}, nil
}

func (a *API) authenticateAPIToken(r *http.Request) (*principal, error) {
	raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if raw == "" || raw == r.Header.Get("Authorization") {
		return nil, httpError(http.StatusUnauthorized, CodeUnauthorized, "bearer token required")
	}
	secret := strings.TrimPrefix(raw, a.cfg.APIToken.Prefix)
	token, err := a.store.GetAPITokenByHash(r.Context(), canonical.HashToken(secret))
	if err != nil {
		return nil, httpError(http.StatusUnauthorized, CodeInvalidToken, "invalid token")
	}
	now := a.now()
	if token.RevokedAt != nil {
		return nil, httpError(http.StatusUnauthorized, CodeInvalidToken, "token revoked")
	}
	if token.ExpiresAt != nil && now.After(*token.ExpiresAt) {
		return nil, httpError(http.StatusUnauthorized, CodeInvalidToken, "token expired")
	}
	user, err := a.store.GetUser(r.Context(), token.UserID)
	if err != nil {
		return nil, httpError(http.StatusUnauthorized, CodeInvalidToken, "invalid token")
	}
	if !user.IsActive {
		return nil, httpError(http.StatusForbidden, CodeInactive, "account disabled")
	}
	if !tokenAllows(token.Scopes, r.Method) {
		return nil, httpError(http.StatusForbidden, CodeForbidden, "insufficient scope")
	}
	if err := a.store.TouchAPIToken(r.Context(), token.ID); err != nil {
		a.logger.Warn("touch api token", "tokenId", token.ID, "error", err)
	}
	return &principal{User: user, Token: token}, nil
}

// tokenAllows maps the HTTP method onto the coarse core scopes.
func tokenAllows(scopes []string, method string) bool {
	need := "core:write"
	if method == http.MethodGet || method == http.MethodHead {
		need = "core:read"
	}
	for _, scope := range scopes {
		if scope == need || scope == "core:*" {
			return true
		}
	}
	return false
}

// requirePermission runs the policy engine for the matched admin route.
// In enforce mode the computed decision admits or denies; in shadow and
// off modes the legacy role rule admits while the decision is still
// evaluated for observability.
func (a *API) requirePermission(h handlerFunc) handlerFunc {
	return func(w http.ResponseWriter, r *http.Request) error {
		p := principalFrom(r.Context())
		if p == nil {
			return httpError(http.StatusUnauthorized, CodeUnauthorized, "authentication required")
		}

		signature := routeSignature(r)
		entry := authz.LookupPolicy(signature)
		req := snapshotRequest(r)

		user, err := a.authzUser(r.Context(), p.User)
		if err != nil {
			return err
		}
		in := authz.EvalInput{
			Entry:     entry,
			Signature: signature,
			Method:    r.Method,
			Route:     strings.TrimPrefix(signature, r.Method+" "),
			Request:   req,
			Context: authz.Context{
				UserID:   p.User.ID,
				Role:     p.User.Role,
				IsActive: p.User.IsActive,
				IDs:      contextIDs(req),
			},
			User: user,
			Now:  a.now(),
		}
		if p.Session != nil {
			in.Session = &authz.SessionInfo{
				CreatedAt:         p.Session.CreatedAt,
				MFAVerifiedAt:     p.Session.MFAVerifiedAt,
				ReauthenticatedAt: p.Session.ReauthenticatedAt,
			}
		}

		decision := a.auth.Authorize(in)
		if a.auth.Mode() == authz.ModeEnforce {
			if !decision.OK {
				return denyError(decision.Reason)
			}
			return h(w, r)
		}
		if !authz.LegacyAllow(entry, user) {
			if user != nil && !user.IsActive {
				return httpError(http.StatusForbidden, CodeInactive, "account disabled")
			}
			return httpError(http.StatusForbidden, CodeForbidden, "forbidden")
		}
		return h(w, r)
	}
}

// denyError maps an enforce-mode denial onto the HTTP surface.
func denyError(reason authz.Reason) error {
	switch reason {
	case authz.ReasonNoPolicy:
		return httpError(http.StatusForbidden, CodeNoPolicy, "no policy for route")
	case authz.ReasonInactive:
		return httpError(http.StatusForbidden, CodeInactive, "account disabled")
	case authz.ReasonMFARequired:
		return httpError(http.StatusUnauthorized, CodeMFARequired, "two-factor verification required")
	case authz.ReasonRateLimit:
		return httpError(http.StatusTooManyRequests, CodeRateLimit, "rule rate limit exceeded")
	default:
		return httpError(http.StatusForbidden, CodeForbidden, "forbidden")
	}
}

// authzUser builds the permission-bearing view of a user, resolving the
// attached preset when one is set.
func (a *API) authzUser(ctx context.Context, u *store.User) (*authz.User, error) {
	if u == nil {
		return nil, nil
	}
	user := &authz.User{
		ID:                 u.ID,
		Role:               u.Role,
		IsActive:           u.IsActive,
		MFAEnabled:         u.MFAEnabled,
		PermissionsHash:    u.PermissionsHash,
		DirectPermissions:  u.DirectPermissions,
		PermissionPresetID: u.PermissionPresetID,
	}
	if u.PermissionPresetID != "" {
		preset, err := a.store.GetPreset(ctx, u.PermissionPresetID)
		switch {
		case err == nil:
			user.PermissionPreset = &authz.Preset{ID: preset.ID, Version: preset.Version, Rules: preset.Rules}
		case errors.Is(err, store.ErrNotFound):
			// Dangling preset reference degrades to direct rules only.
		default:
			return nil, err
		}
	}
	return user, nil
}

// requireRecipient admits cookie-authenticated recipients. When
// bundleScoped is set the route must name a bundle the recipient is
// assigned to; unassigned bundles read as missing.
func (a *API) requireRecipient(h handlerFunc, bundleScoped bool) http.HandlerFunc {
	return a.wrap(func(w http.ResponseWriter, r *http.Request) error {
		cookie, err := r.Cookie(recipientCookieName)
		if err != nil || cookie.Value == "" {
			return httpError(http.StatusUnauthorized, CodeUnauthorized, "session required")
		}
		session, err := a.store.GetRecipientSession(r.Context(), canonical.HashToken(cookie.Value))
		if err != nil {
			return httpError(http.StatusUnauthorized, CodeUnauthorized, "invalid session")
		}
		if session.RevokedAt != nil || a.now().After(session.ExpiresAt) {
			return httpError(http.StatusUnauthorized, CodeUnauthorized, "session expired")
		}
		recipient, err := a.store.GetRecipient(r.Context(), session.RecipientID)
		if err != nil {
			return httpError(http.StatusUnauthorized, CodeUnauthorized, "invalid session")
		}
		if !recipient.IsEnabled {
			return httpError(http.StatusForbidden, CodeInactive, "account disabled")
		}

		p := &recipientPrincipal{Recipient: recipient, Session: session}
		if bundleScoped {
			bundleID := routeParam(r, "bundleId")
			assignment, err := a.store.FindAssignment(r.Context(), recipient.ID, bundleID)
			if err != nil || !assignment.IsEnabled {
				return httpError(http.StatusNotFound, CodeNotFound, "bundle not found")
			}
			p.Assignment = assignment
		}
		return h(w, r.WithContext(context.WithValue(r.Context(), recipientKey, p)))
	})
}

func routeParam(r *http.Request, name string) string {
	return chi.URLParam(r, name)
}

// setSessionCookie writes an auth cookie scoped per the deployment
// configuration.
func (a *API) setSessionCookie(w http.ResponseWriter, name, value string, ttl time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   a.cfg.Auth.CookieDomain,
		MaxAge:   int(ttl / time.Second),
		HttpOnly: true,
		Secure:   a.cfg.CookieSecure(),
		SameSite: http.SameSiteLaxMode,
	})
}

func (a *API) clearSessionCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Domain:   a.cfg.Auth.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.cfg.CookieSecure(),
		SameSite: http.SameSiteLaxMode,
	})
}
