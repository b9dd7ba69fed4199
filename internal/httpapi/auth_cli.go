package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/latchflow/latchflow/internal/authz"
	"github.com/latchflow/latchflow/internal/canonical"
	"github.com/latchflow/latchflow/internal/mail"
	"github.com/latchflow/latchflow/internal/store"
)

type deviceStartRequest struct {
	Email      string `json:"email"`
	DeviceName string `json:"deviceName,omitempty"`
}

type deviceStartResponse struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURI string `json:"verification_uri"`
	ExpiresIn       int    `json:"expires_in"`
	Interval        int    `json:"interval"`
}

type deviceApproveRequest struct {
	UserCode string `json:"user_code"`
}

type devicePollRequest struct {
	DeviceCode string `json:"device_code"`
}

type deviceTokenResponse struct {
	AccessToken string     `json:"access_token"`
	TokenType   string     `json:"token_type"`
	Scopes      []string   `json:"scopes"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// deviceStart opens a CLI device-code flow.
func (a *API) deviceStart(w http.ResponseWriter, r *http.Request) error {
	var body deviceStartRequest
	if err := decodeJSON(r, &body); err != nil {
		return err
	}
	email := strings.TrimSpace(strings.ToLower(body.Email))
	if email == "" {
		return httpError(http.StatusBadRequest, CodeBadRequest, "email is required")
	}
	if !a.authLimiter.AllowN("auth:cli:start|"+clientIP(r)+"|"+email, 10, a.now()) {
		return httpError(http.StatusTooManyRequests, CodeRateLimited, "too many requests")
	}

	deviceCode, err := canonical.NewToken()
	if err != nil {
		return err
	}
	rawUserCode, err := canonical.NewOTP(8)
	if err != nil {
		return err
	}
	userCode := rawUserCode[:4] + "-" + rawUserCode[4:]

	now := a.now()
	device := &store.DeviceAuth{
		ID:             uuid.NewString(),
		DeviceCodeHash: canonical.HashToken(deviceCode),
		UserCodeHash:   canonical.HashToken(normalizeUserCode(userCode)),
		Email:          email,
		DeviceName:     body.DeviceName,
		IntervalSec:    a.cfg.Auth.DeviceCodeIntervalSec,
		ExpiresAt:      now.Add(a.cfg.DeviceCodeTTL()),
		CreatedAt:      now,
	}
	if err := a.store.CreateDeviceAuth(r.Context(), device); err != nil {
		return err
	}

	writeJSON(w, http.StatusOK, deviceStartResponse{
		DeviceCode:      deviceCode,
		UserCode:        userCode,
		VerificationURI: a.cfg.PublicBaseURL + "/cli/device",
		ExpiresIn:       int(a.cfg.DeviceCodeTTL() / time.Second),
		Interval:        device.IntervalSec,
	})
	return nil
}

func normalizeUserCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	code = strings.ReplaceAll(code, "-", "")
	return strings.ReplaceAll(code, " ", "")
}

// deviceApprove lets a signed-in admin approve a pending device by its
// user code. The minted token belongs to the account that started the
// flow, and its plaintext is parked for exactly one poll.
func (a *API) deviceApprove(w http.ResponseWriter, r *http.Request) error {
	var body deviceApproveRequest
	if err := decodeJSON(r, &body); err != nil {
		return err
	}
	if body.UserCode == "" {
		return httpError(http.StatusBadRequest, CodeBadRequest, "user_code is required")
	}
	device, err := a.store.GetDeviceAuthByUserCode(r.Context(), canonical.HashToken(normalizeUserCode(body.UserCode)))
	if err != nil {
		return httpError(http.StatusBadRequest, CodeInvalidCode, "unknown code")
	}
	now := a.now()
	if now.After(device.ExpiresAt) {
		return httpError(http.StatusGone, CodeExpired, "code expired")
	}
	if device.ApprovedAt != nil {
		w.WriteHeader(http.StatusNoContent)
		return nil
	}

	owner, err := a.store.GetUserByEmail(r.Context(), device.Email)
	if err != nil {
		return httpError(http.StatusBadRequest, CodeInvalidCode, "unknown account")
	}
	if !owner.IsActive {
		return httpError(http.StatusForbidden, CodeInactive, "account disabled")
	}
	p := principalFrom(r.Context())
	if p.User.Role != authz.RoleAdmin && p.User.ID != owner.ID {
		return httpError(http.StatusForbidden, CodeForbidden, "cannot approve for another account")
	}

	secret, err := canonical.NewToken()
	if err != nil {
		return err
	}
	token := &store.APIToken{
		ID:         uuid.NewString(),
		TokenHash:  canonical.HashToken(secret),
		UserID:     owner.ID,
		Scopes:     append([]string(nil), a.cfg.APIToken.ScopesDefault...),
		DeviceName: device.DeviceName,
		CreatedAt:  now,
	}
	if a.cfg.APIToken.TTLDays > 0 {
		expires := now.Add(time.Duration(a.cfg.APIToken.TTLDays) * 24 * time.Hour)
		token.ExpiresAt = &expires
	}
	if err := a.store.CreateAPIToken(r.Context(), token); err != nil {
		return err
	}
	if err := a.store.ApproveDeviceAuth(r.Context(), device.ID, token.ID); err != nil {
		return err
	}
	a.deviceTokens.put(device.ID, a.cfg.APIToken.Prefix+secret, time.Until(device.ExpiresAt))

	if msg, err := a.templates.DeviceApproved(owner.Email, mail.DeviceApprovedData{
		Email:      owner.Email,
		DeviceName: device.DeviceName,
	}); err == nil {
		if err := a.mailer.Send(r.Context(), msg); err != nil {
			a.logger.Warn("device approval mail", "error", err)
		}
	}

	w.WriteHeader(http.StatusNoContent)
	return nil
}

// devicePoll is the CLI side of the flow. Pending polls get 202; once
// approved the first compliant poll receives the token plaintext.
func (a *API) devicePoll(w http.ResponseWriter, r *http.Request) error {
	var body devicePollRequest
	if err := decodeJSON(r, &body); err != nil {
		return err
	}
	if body.DeviceCode == "" {
		return httpError(http.StatusBadRequest, CodeBadRequest, "device_code is required")
	}
	device, err := a.store.GetDeviceAuthByDeviceCode(r.Context(), canonical.HashToken(body.DeviceCode))
	if err != nil {
		return httpError(http.StatusBadRequest, CodeInvalidCode, "unknown code")
	}
	now := a.now()
	ip := clientIP(r)
	// The interval throttles one impatient caller, not every poller of
	// the code.
	tooFast := device.LastPollAt != nil && device.LastPollIP == ip &&
		now.Sub(*device.LastPollAt) < time.Duration(device.IntervalSec)*time.Second
	if err := a.store.TouchDeviceAuthPoll(r.Context(), device.ID, ip); err != nil {
		a.logger.Warn("touch device poll", "deviceAuthId", device.ID, "error", err)
	}
	if tooFast {
		return httpError(http.StatusTooManyRequests, CodeSlowDown, "polling too fast")
	}
	if now.After(device.ExpiresAt) {
		return httpError(http.StatusGone, CodeExpired, "code expired")
	}
	if device.ApprovedAt == nil {
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "pending"})
		return nil
	}

	token, err := a.store.GetAPIToken(r.Context(), device.TokenID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return httpError(http.StatusGone, CodeUnavailable, "token no longer available")
		}
		return err
	}
	if token.RevokedAt != nil {
		return httpError(http.StatusGone, CodeRevoked, "token revoked")
	}
	plaintext, ok := a.deviceTokens.take(device.ID)
	if !ok {
		// The plaintext is handed out exactly once.
		return httpError(http.StatusGone, CodeUnavailable, "token no longer available")
	}
	writeJSON(w, http.StatusOK, deviceTokenResponse{
		AccessToken: plaintext,
		TokenType:   "Bearer",
		Scopes:      token.Scopes,
		ExpiresAt:   token.ExpiresAt,
	})
	return nil
}
