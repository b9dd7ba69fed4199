package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/latchflow/latchflow/internal/authz"
	"github.com/latchflow/latchflow/internal/canonical"
	"github.com/latchflow/latchflow/internal/mail"
	"github.com/latchflow/latchflow/internal/store"
)

type adminStartRequest struct {
	Email string `json:"email"`
}

// startAdminAuth issues a magic link. The response is 204 regardless of
// whether the email resolved, so the endpoint cannot enumerate accounts.
func (a *API) startAdminAuth(w http.ResponseWriter, r *http.Request) error {
	var body adminStartRequest
	if err := decodeJSON(r, &body); err != nil {
		return err
	}
	email := strings.TrimSpace(strings.ToLower(body.Email))
	if email == "" {
		return httpError(http.StatusBadRequest, CodeBadRequest, "email is required")
	}
	if !a.authLimiter.AllowN("auth:admin:start|"+clientIP(r)+"|"+email, 10, a.now()) {
		return httpError(http.StatusTooManyRequests, CodeRateLimited, "too many requests")
	}

	user, err := a.resolveAdminUser(r, email)
	if err != nil {
		return err
	}
	if user == nil || !user.IsActive {
		w.WriteHeader(http.StatusNoContent)
		return nil
	}

	raw, err := canonical.NewToken()
	if err != nil {
		return err
	}
	now := a.now()
	link := &store.MagicLink{
		ID:        uuid.NewString(),
		TokenHash: canonical.HashToken(raw),
		UserID:    user.ID,
		ExpiresAt: now.Add(a.cfg.MagicLinkTTL()),
		CreatedAt: now,
	}
	if err := a.store.CreateMagicLink(r.Context(), link); err != nil {
		return err
	}

	msg, err := a.templates.MagicLink(user.Email, mail.MagicLinkData{
		Name:       user.Name,
		URL:        a.cfg.PublicBaseURL + "/auth/admin/callback?token=" + raw,
		TTLMinutes: a.cfg.Auth.MagicLinkTTLMin,
	})
	if err != nil {
		return err
	}
	if err := a.mailer.Send(r.Context(), msg); err != nil {
		return err
	}

	w.WriteHeader(http.StatusNoContent)
	return nil
}

// resolveAdminUser bootstraps the account model: the very first sign-in
// creates the ADMIN, later unknown emails create inactive EXECUTORs
// that an admin has to activate.
func (a *API) resolveAdminUser(r *http.Request, email string) (*store.User, error) {
	user, err := a.store.GetUserByEmail(r.Context(), email)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	existing, err := a.store.ListUsers(r.Context())
	if err != nil {
		return nil, err
	}
	now := a.now()
	user = &store.User{
		ID:        uuid.NewString(),
		Email:     email,
		Role:      authz.RoleExecutor,
		IsActive:  false,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if len(existing) == 0 {
		user.Role = authz.RoleAdmin
		user.IsActive = true
	}
	if err := a.store.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return a.store.GetUserByEmail(r.Context(), email)
		}
		return nil, err
	}
	a.recordChange(r.Context(), "USER", user.ID, user.ID, "bootstrap via magic-link start")
	return user, nil
}

// adminCallback exchanges a magic-link token for a session cookie.
func (a *API) adminCallback(w http.ResponseWriter, r *http.Request) error {
	token := r.URL.Query().Get("token")
	if token == "" {
		return httpError(http.StatusBadRequest, CodeBadRequest, "token is required")
	}
	link, err := a.store.GetMagicLinkByHash(r.Context(), canonical.HashToken(token))
	if err != nil {
		return httpError(http.StatusUnauthorized, CodeInvalidToken, "invalid or expired link")
	}
	now := a.now()
	if now.After(link.ExpiresAt) || link.ConsumedAt != nil {
		return httpError(http.StatusUnauthorized, CodeInvalidToken, "invalid or expired link")
	}
	if err := a.store.ConsumeMagicLink(r.Context(), link.ID); err != nil {
		// Lost the race to another consumer; the link is single use.
		return httpError(http.StatusUnauthorized, CodeInvalidToken, "invalid or expired link")
	}
	user, err := a.store.GetUser(r.Context(), link.UserID)
	if err != nil {
		return httpError(http.StatusUnauthorized, CodeInvalidToken, "invalid or expired link")
	}
	if !user.IsActive {
		return httpError(http.StatusForbidden, CodeInactive, "account disabled")
	}

	raw, err := canonical.NewToken()
	if err != nil {
		return err
	}
	session := &store.AdminSession{
		JTI:       canonical.HashToken(raw),
		UserID:    user.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(a.cfg.SessionTTL()),
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
	}
	if err := a.store.CreateAdminSession(r.Context(), session); err != nil {
		return err
	}
	a.setSessionCookie(w, adminCookieName, raw, a.cfg.SessionTTL())

	if a.cfg.AdminUIOrigin != "" {
		http.Redirect(w, r, a.cfg.AdminUIOrigin, http.StatusFound)
		return nil
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// adminLogout revokes the current session. Always 204; logout of a dead
// session is not an error.
func (a *API) adminLogout(w http.ResponseWriter, r *http.Request) error {
	if cookie, err := r.Cookie(adminCookieName); err == nil && cookie.Value != "" {
		if err := a.store.RevokeAdminSession(r.Context(), canonical.HashToken(cookie.Value)); err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
	}
	a.clearSessionCookie(w, adminCookieName)
	w.WriteHeader(http.StatusNoContent)
	return nil
}
