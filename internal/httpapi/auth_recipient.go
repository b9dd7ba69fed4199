package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/latchflow/latchflow/internal/canonical"
	"github.com/latchflow/latchflow/internal/mail"
	"github.com/latchflow/latchflow/internal/store"
)

// maxOTPAttempts caps verification tries per issued code.
const maxOTPAttempts = 5

type recipientStartRequest struct {
	RecipientID string `json:"recipientId,omitempty"`
	Email       string `json:"email,omitempty"`
}

type recipientVerifyRequest struct {
	RecipientID string `json:"recipientId,omitempty"`
	Email       string `json:"email,omitempty"`
	OTP         string `json:"otp"`
}

// startRecipientAuth issues a fresh OTP, invalidating earlier ones.
// Always 204 so the endpoint cannot enumerate recipients.
func (a *API) startRecipientAuth(w http.ResponseWriter, r *http.Request) error {
	var body recipientStartRequest
	if err := decodeJSON(r, &body); err != nil {
		return err
	}
	subject := body.RecipientID
	if subject == "" {
		subject = strings.ToLower(strings.TrimSpace(body.Email))
	}
	if subject == "" {
		return httpError(http.StatusBadRequest, CodeBadRequest, "recipientId or email is required")
	}
	if !a.authLimiter.AllowN("auth:recipient:start|"+clientIP(r)+"|"+subject, 10, a.now()) {
		return httpError(http.StatusTooManyRequests, CodeRateLimited, "too many requests")
	}

	recipient := a.lookupRecipient(r, body.RecipientID, body.Email)
	if recipient == nil || !recipient.IsEnabled {
		w.WriteHeader(http.StatusNoContent)
		return nil
	}
	if err := a.issueOTP(r, recipient); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// resendRecipientOTP re-issues under the same rate budget as start.
func (a *API) resendRecipientOTP(w http.ResponseWriter, r *http.Request) error {
	return a.startRecipientAuth(w, r)
}

func (a *API) lookupRecipient(r *http.Request, recipientID, email string) *store.Recipient {
	if recipientID != "" {
		recipient, err := a.store.GetRecipient(r.Context(), recipientID)
		if err != nil {
			return nil
		}
		return recipient
	}
	recipient, err := a.store.GetRecipientByEmail(r.Context(), strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return nil
	}
	return recipient
}

func (a *API) issueOTP(r *http.Request, recipient *store.Recipient) error {
	if err := a.store.DeleteRecipientOTPs(r.Context(), recipient.ID); err != nil {
		return err
	}
	code, err := canonical.NewOTP(a.cfg.Auth.OTPLength)
	if err != nil {
		return err
	}
	now := a.now()
	otp := &store.RecipientOTP{
		ID:          uuid.NewString(),
		RecipientID: recipient.ID,
		CodeHash:    canonical.HashToken(code),
		ExpiresAt:   now.Add(a.cfg.OTPTTL()),
		CreatedAt:   now,
	}
	if err := a.store.CreateRecipientOTP(r.Context(), otp); err != nil {
		return err
	}
	if a.cfg.IsDevelopment() {
		a.logger.Info("recipient otp issued", "recipientId", recipient.ID, "code", code)
	}
	msg, err := a.templates.OTP(recipient.Email, mail.OTPData{
		Code:       code,
		TTLMinutes: a.cfg.Auth.OTPTTLMin,
	})
	if err != nil {
		return err
	}
	return a.mailer.Send(r.Context(), msg)
}

// verifyRecipientOTP exchanges a valid code for a portal session cookie.
func (a *API) verifyRecipientOTP(w http.ResponseWriter, r *http.Request) error {
	var body recipientVerifyRequest
	if err := decodeJSON(r, &body); err != nil {
		return err
	}
	if body.OTP == "" {
		return httpError(http.StatusBadRequest, CodeBadRequest, "otp is required")
	}
	subject := body.RecipientID
	if subject == "" {
		subject = strings.ToLower(strings.TrimSpace(body.Email))
	}
	if !a.authLimiter.AllowN("auth:recipient:verify|"+clientIP(r)+"|"+subject, 10, a.now()) {
		return httpError(http.StatusTooManyRequests, CodeRateLimited, "too many requests")
	}

	recipient := a.lookupRecipient(r, body.RecipientID, body.Email)
	if recipient == nil {
		return httpError(http.StatusUnauthorized, CodeInvalidOTP, "invalid code")
	}
	if !recipient.IsEnabled {
		return httpError(http.StatusForbidden, CodeInactive, "account disabled")
	}

	otp, err := a.store.GetLatestRecipientOTP(r.Context(), recipient.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return httpError(http.StatusUnauthorized, CodeInvalidOTP, "invalid code")
		}
		return err
	}
	now := a.now()
	if now.After(otp.ExpiresAt) {
		return httpError(http.StatusUnauthorized, CodeInvalidOTP, "code expired")
	}
	if otp.Attempts >= maxOTPAttempts {
		return httpError(http.StatusTooManyRequests, CodeTooManyAttempts, "too many attempts")
	}
	if canonical.HashToken(body.OTP) != otp.CodeHash {
		if err := a.store.IncrementOTPAttempts(r.Context(), otp.ID); err != nil {
			a.logger.Warn("increment otp attempts", "otpId", otp.ID, "error", err)
		}
		return httpError(http.StatusUnauthorized, CodeInvalidOTP, "invalid code")
	}

	if err := a.store.DeleteRecipientOTP(r.Context(), otp.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if recipient.VerifiedAt == nil {
		recipient.VerifiedAt = &now
		recipient.UpdatedAt = now
		if err := a.store.UpdateRecipient(r.Context(), recipient); err != nil {
			return err
		}
	}

	raw, err := canonical.NewToken()
	if err != nil {
		return err
	}
	session := &store.RecipientSession{
		JTI:         canonical.HashToken(raw),
		RecipientID: recipient.ID,
		CreatedAt:   now,
		ExpiresAt:   now.Add(a.cfg.RecipientSessionTTL()),
		IP:          clientIP(r),
		UserAgent:   r.UserAgent(),
	}
	if err := a.store.CreateRecipientSession(r.Context(), session); err != nil {
		return err
	}
	a.setSessionCookie(w, recipientCookieName, raw, a.cfg.RecipientSessionTTL())
	w.WriteHeader(http.StatusNoContent)
	return nil
}
