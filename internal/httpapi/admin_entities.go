package httpapi

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/latchflow/latchflow/internal/authz"
	"github.com/latchflow/latchflow/internal/canonical"
	"github.com/latchflow/latchflow/internal/history"
	"github.com/latchflow/latchflow/internal/store"
)

// --- users ---

type userRequest struct {
	Email              *string      `json:"email,omitempty"`
	Name               *string      `json:"name,omitempty"`
	Role               *string      `json:"role,omitempty"`
	IsActive           *bool        `json:"isActive,omitempty"`
	MFAEnabled         *bool        `json:"mfaEnabled,omitempty"`
	DirectPermissions  []authz.Rule `json:"directPermissions,omitempty"`
	PermissionPresetID *string      `json:"permissionPresetId,omitempty"`
}

func (a *API) listUsers(w http.ResponseWriter, r *http.Request) error {
	users, err := a.store.ListUsers(r.Context())
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": users})
	return nil
}

func (a *API) getUser(w http.ResponseWriter, r *http.Request) error {
	user, err := a.store.GetUser(r.Context(), routeParam(r, "userId"))
	if err != nil {
		return mapStoreErr(err)
	}
	writeJSON(w, http.StatusOK, user)
	return nil
}

func (a *API) createUser(w http.ResponseWriter, r *http.Request) error {
	var body userRequest
	if err := decodeJSON(r, &body); err != nil {
		return err
	}
	if body.Email == nil || *body.Email == "" {
		return httpError(http.StatusBadRequest, CodeBadRequest, "email is required")
	}
	role, err := parseRole(body.Role)
	if err != nil {
		return err
	}
	now := a.now()
	user := &store.User{
		ID:                uuid.NewString(),
		Email:             strings.ToLower(strings.TrimSpace(*body.Email)),
		Role:              role,
		IsActive:          body.IsActive == nil || *body.IsActive,
		DirectPermissions: body.DirectPermissions,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if body.Name != nil {
		user.Name = *body.Name
	}
	if body.MFAEnabled != nil {
		user.MFAEnabled = *body.MFAEnabled
	}
	if body.PermissionPresetID != nil {
		user.PermissionPresetID = *body.PermissionPresetID
	}
	a.stampPermissionsHash(user)
	if err := a.store.CreateUser(r.Context(), user); err != nil {
		return mapStoreErr(err)
	}
	a.recordChange(r.Context(), history.EntityUser, user.ID, a.actorID(r.Context()), "created")
	writeJSON(w, http.StatusCreated, user)
	return nil
}

func (a *API) updateUser(w http.ResponseWriter, r *http.Request) error {
	var body userRequest
	if err := decodeJSON(r, &body); err != nil {
		return err
	}
	user, err := a.store.GetUser(r.Context(), routeParam(r, "userId"))
	if err != nil {
		return mapStoreErr(err)
	}
	if body.Email != nil && *body.Email != "" {
		user.Email = strings.ToLower(strings.TrimSpace(*body.Email))
	}
	if body.Name != nil {
		user.Name = *body.Name
	}
	if body.Role != nil {
		role, err := parseRole(body.Role)
		if err != nil {
			return err
		}
		user.Role = role
	}
	if body.IsActive != nil {
		user.IsActive = *body.IsActive
	}
	if body.MFAEnabled != nil {
		user.MFAEnabled = *body.MFAEnabled
	}
	if body.DirectPermissions != nil {
		user.DirectPermissions = body.DirectPermissions
	}
	if body.PermissionPresetID != nil {
		user.PermissionPresetID = *body.PermissionPresetID
	}
	a.stampPermissionsHash(user)
	user.UpdatedAt = a.now()
	if err := a.store.UpdateUser(r.Context(), user); err != nil {
		return mapStoreErr(err)
	}
	a.recordChange(r.Context(), history.EntityUser, user.ID, a.actorID(r.Context()), "updated")
	writeJSON(w, http.StatusOK, user)
	return nil
}

func (a *API) deleteUser(w http.ResponseWriter, r *http.Request) error {
	id := routeParam(r, "userId")
	if err := a.store.DeleteUser(r.Context(), id); err != nil {
		return mapStoreErr(err)
	}
	a.recordChange(r.Context(), history.EntityUser, id, a.actorID(r.Context()), "deleted")
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func parseRole(raw *string) (authz.Role, error) {
	if raw == nil || *raw == "" {
		return authz.RoleExecutor, nil
	}
	switch authz.Role(strings.ToUpper(*raw)) {
	case authz.RoleAdmin:
		return authz.RoleAdmin, nil
	case authz.RoleExecutor:
		return authz.RoleExecutor, nil
	default:
		return "", httpError(http.StatusBadRequest, CodeBadRequest, "role must be ADMIN or EXECUTOR")
	}
}

// stampPermissionsHash recomputes the canonical rules hash carried on
// the user so the rule cache can key compiled sets.
func (a *API) stampPermissionsHash(user *store.User) {
	hash, err := canonical.Hash(user.DirectPermissions)
	if err != nil {
		a.logger.Warn("hash permissions", "userId", user.ID, "error", err)
		return
	}
	user.PermissionsHash = hash
}

// --- recipients ---

type recipientRequest struct {
	Email     *string  `json:"email,omitempty"`
	Name      *string  `json:"name,omitempty"`
	IsEnabled *bool    `json:"isEnabled,omitempty"`
	Tags      []string `json:"tags,omitempty"`
}

func (a *API) listRecipients(w http.ResponseWriter, r *http.Request) error {
	recipients, err := a.store.ListRecipients(r.Context())
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": recipients})
	return nil
}

func (a *API) createRecipient(w http.ResponseWriter, r *http.Request) error {
	var body recipientRequest
	if err := decodeJSON(r, &body); err != nil {
		return err
	}
	if body.Email == nil || *body.Email == "" {
		return httpError(http.StatusBadRequest, CodeBadRequest, "email is required")
	}
	now := a.now()
	recipient := &store.Recipient{
		ID:        uuid.NewString(),
		Email:     strings.ToLower(strings.TrimSpace(*body.Email)),
		IsEnabled: body.IsEnabled == nil || *body.IsEnabled,
		Tags:      body.Tags,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if body.Name != nil {
		recipient.Name = *body.Name
	}
	if err := a.store.CreateRecipient(r.Context(), recipient); err != nil {
		return mapStoreErr(err)
	}
	a.recordChange(r.Context(), history.EntityRecipient, recipient.ID, a.actorID(r.Context()), "created")
	writeJSON(w, http.StatusCreated, recipient)
	return nil
}

func (a *API) updateRecipient(w http.ResponseWriter, r *http.Request) error {
	var body recipientRequest
	if err := decodeJSON(r, &body); err != nil {
		return err
	}
	recipient, err := a.store.GetRecipient(r.Context(), routeParam(r, "recipientId"))
	if err != nil {
		return mapStoreErr(err)
	}
	if body.Email != nil && *body.Email != "" {
		recipient.Email = strings.ToLower(strings.TrimSpace(*body.Email))
	}
	if body.Name != nil {
		recipient.Name = *body.Name
	}
	if body.IsEnabled != nil {
		recipient.IsEnabled = *body.IsEnabled
	}
	if body.Tags != nil {
		recipient.Tags = body.Tags
	}
	recipient.UpdatedAt = a.now()
	if err := a.store.UpdateRecipient(r.Context(), recipient); err != nil {
		return mapStoreErr(err)
	}
	a.recordChange(r.Context(), history.EntityRecipient, recipient.ID, a.actorID(r.Context()), "updated")
	writeJSON(w, http.StatusOK, recipient)
	return nil
}

func (a *API) deleteRecipient(w http.ResponseWriter, r *http.Request) error {
	id := routeParam(r, "recipientId")
	if err := a.store.DeleteRecipient(r.Context(), id); err != nil {
		return mapStoreErr(err)
	}
	a.recordChange(r.Context(), history.EntityRecipient, id, a.actorID(r.Context()), "deleted")
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// --- assignments ---

type assignmentRequest struct {
	RecipientID          *string `json:"recipientId,omitempty"`
	BundleID             *string `json:"bundleId,omitempty"`
	IsEnabled            *bool   `json:"isEnabled,omitempty"`
	MaxDownloads         *int    `json:"maxDownloads,omitempty"`
	CooldownSeconds      *int    `json:"cooldownSeconds,omitempty"`
	VerificationRequired *bool   `json:"verificationRequired,omitempty"`
}

func (a *API) listAssignments(w http.ResponseWriter, r *http.Request) error {
	recipientID := r.URL.Query().Get("recipientId")
	if recipientID == "" {
		return httpError(http.StatusBadRequest, CodeBadRequest, "recipientId query param is required")
	}
	assignments, err := a.store.ListAssignmentsForRecipient(r.Context(), recipientID)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": assignments})
	return nil
}

func (a *API) createAssignment(w http.ResponseWriter, r *http.Request) error {
	var body assignmentRequest
	if err := decodeJSON(r, &body); err != nil {
		return err
	}
	if body.RecipientID == nil || body.BundleID == nil {
		return httpError(http.StatusBadRequest, CodeBadRequest, "recipientId and bundleId are required")
	}
	if _, err := a.store.GetRecipient(r.Context(), *body.RecipientID); err != nil {
		return mapStoreErr(err)
	}
	if _, err := a.store.GetBundle(r.Context(), *body.BundleID); err != nil {
		return mapStoreErr(err)
	}
	now := a.now()
	assignment := &store.BundleAssignment{
		ID:              uuid.NewString(),
		RecipientID:     *body.RecipientID,
		BundleID:        *body.BundleID,
		IsEnabled:       body.IsEnabled == nil || *body.IsEnabled,
		MaxDownloads:    body.MaxDownloads,
		CooldownSeconds: body.CooldownSeconds,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if body.VerificationRequired != nil {
		assignment.VerificationRequired = *body.VerificationRequired
	}
	if err := a.store.CreateAssignment(r.Context(), assignment); err != nil {
		return mapStoreErr(err)
	}
	a.recordChange(r.Context(), history.EntityAssignment, assignment.ID, a.actorID(r.Context()), "created")
	writeJSON(w, http.StatusCreated, assignment)
	return nil
}

func (a *API) updateAssignment(w http.ResponseWriter, r *http.Request) error {
	var body assignmentRequest
	if err := decodeJSON(r, &body); err != nil {
		return err
	}
	assignment, err := a.store.GetAssignment(r.Context(), routeParam(r, "assignmentId"))
	if err != nil {
		return mapStoreErr(err)
	}
	if body.IsEnabled != nil {
		assignment.IsEnabled = *body.IsEnabled
	}
	if body.MaxDownloads != nil {
		assignment.MaxDownloads = body.MaxDownloads
	}
	if body.CooldownSeconds != nil {
		assignment.CooldownSeconds = body.CooldownSeconds
	}
	if body.VerificationRequired != nil {
		assignment.VerificationRequired = *body.VerificationRequired
	}
	assignment.UpdatedAt = a.now()
	if err := a.store.UpdateAssignment(r.Context(), assignment); err != nil {
		return mapStoreErr(err)
	}
	a.recordChange(r.Context(), history.EntityAssignment, assignment.ID, a.actorID(r.Context()), "updated")
	writeJSON(w, http.StatusOK, assignment)
	return nil
}

func (a *API) deleteAssignment(w http.ResponseWriter, r *http.Request) error {
	id := routeParam(r, "assignmentId")
	if err := a.store.DeleteAssignment(r.Context(), id); err != nil {
		return mapStoreErr(err)
	}
	a.recordChange(r.Context(), history.EntityAssignment, id, a.actorID(r.Context()), "deleted")
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// --- presets ---

type presetRequest struct {
	Name  *string      `json:"name,omitempty"`
	Rules []authz.Rule `json:"rules,omitempty"`
}

func (a *API) listPresets(w http.ResponseWriter, r *http.Request) error {
	presets, err := a.store.ListPresets(r.Context())
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": presets})
	return nil
}

func (a *API) createPreset(w http.ResponseWriter, r *http.Request) error {
	var body presetRequest
	if err := decodeJSON(r, &body); err != nil {
		return err
	}
	if body.Name == nil || *body.Name == "" {
		return httpError(http.StatusBadRequest, CodeBadRequest, "name is required")
	}
	now := a.now()
	preset := &store.PermissionPreset{
		ID:        uuid.NewString(),
		Name:      *body.Name,
		Version:   1,
		Rules:     body.Rules,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.store.CreatePreset(r.Context(), preset); err != nil {
		return mapStoreErr(err)
	}
	a.recordChange(r.Context(), history.EntityPreset, preset.ID, a.actorID(r.Context()), "created")
	writeJSON(w, http.StatusCreated, preset)
	return nil
}

// updatePreset edits the draft in place without bumping the version;
// activation publishes the edit.
func (a *API) updatePreset(w http.ResponseWriter, r *http.Request) error {
	var body presetRequest
	if err := decodeJSON(r, &body); err != nil {
		return err
	}
	preset, err := a.store.GetPreset(r.Context(), routeParam(r, "presetId"))
	if err != nil {
		return mapStoreErr(err)
	}
	if body.Name != nil && *body.Name != "" {
		preset.Name = *body.Name
	}
	if body.Rules != nil {
		preset.Rules = body.Rules
	}
	preset.UpdatedAt = a.now()
	if err := a.store.UpdatePreset(r.Context(), preset); err != nil {
		return mapStoreErr(err)
	}
	a.recordChange(r.Context(), history.EntityPreset, preset.ID, a.actorID(r.Context()), "updated")
	writeJSON(w, http.StatusOK, preset)
	return nil
}

// activatePreset bumps the published version so attached users pick up
// the edited ruleset on their next evaluation.
func (a *API) activatePreset(w http.ResponseWriter, r *http.Request) error {
	preset, err := a.store.GetPreset(r.Context(), routeParam(r, "presetId"))
	if err != nil {
		return mapStoreErr(err)
	}
	preset.Version++
	preset.UpdatedAt = a.now()
	if err := a.store.UpdatePreset(r.Context(), preset); err != nil {
		return mapStoreErr(err)
	}
	a.recordChange(r.Context(), history.EntityPreset, preset.ID, a.actorID(r.Context()), "activated")
	writeJSON(w, http.StatusOK, preset)
	return nil
}

func (a *API) deletePreset(w http.ResponseWriter, r *http.Request) error {
	id := routeParam(r, "presetId")
	if err := a.store.DeletePreset(r.Context(), id); err != nil {
		return mapStoreErr(err)
	}
	a.recordChange(r.Context(), history.EntityPreset, id, a.actorID(r.Context()), "deleted")
	w.WriteHeader(http.StatusNoContent)
	return nil
}
