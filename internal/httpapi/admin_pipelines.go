package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/latchflow/latchflow/internal/authz"
	"github.com/latchflow/latchflow/internal/canonical"
	"github.com/latchflow/latchflow/internal/history"
	"github.com/latchflow/latchflow/internal/pipeline"
	"github.com/latchflow/latchflow/internal/store"
)

// --- trigger definitions ---

type triggerRequest struct {
	Name         *string        `json:"name,omitempty"`
	CapabilityID *string        `json:"capabilityId,omitempty"`
	Config       map[string]any `json:"config,omitempty"`
	IsEnabled    *bool          `json:"isEnabled,omitempty"`
}

func (a *API) listTriggers(w http.ResponseWriter, r *http.Request) error {
	defs, err := a.store.ListTriggerDefinitions(r.Context())
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": defs})
	return nil
}

func (a *API) createTrigger(w http.ResponseWriter, r *http.Request) error {
	var body triggerRequest
	if err := decodeJSON(r, &body); err != nil {
		return err
	}
	if body.Name == nil || *body.Name == "" || body.CapabilityID == nil || *body.CapabilityID == "" {
		return httpError(http.StatusBadRequest, CodeBadRequest, "name and capabilityId are required")
	}
	if _, ok := a.registry.GetTriggerByID(*body.CapabilityID); !ok {
		return httpError(http.StatusBadRequest, CodeBadRequest, "unknown trigger capability")
	}
	now := a.now()
	def := &store.TriggerDefinition{
		ID:           uuid.NewString(),
		Name:         *body.Name,
		CapabilityID: *body.CapabilityID,
		Config:       body.Config,
		IsEnabled:    body.IsEnabled == nil || *body.IsEnabled,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.store.CreateTriggerDefinition(r.Context(), def); err != nil {
		return mapStoreErr(err)
	}
	a.recordChange(r.Context(), history.EntityTrigger, def.ID, a.actorID(r.Context()), "created")
	writeJSON(w, http.StatusCreated, def)
	return nil
}

func (a *API) updateTrigger(w http.ResponseWriter, r *http.Request) error {
	var body triggerRequest
	if err := decodeJSON(r, &body); err != nil {
		return err
	}
	def, err := a.store.GetTriggerDefinition(r.Context(), routeParam(r, "triggerId"))
	if err != nil {
		return mapStoreErr(err)
	}
	if body.Name != nil && *body.Name != "" {
		def.Name = *body.Name
	}
	if body.CapabilityID != nil && *body.CapabilityID != "" {
		if _, ok := a.registry.GetTriggerByID(*body.CapabilityID); !ok {
			return httpError(http.StatusBadRequest, CodeBadRequest, "unknown trigger capability")
		}
		def.CapabilityID = *body.CapabilityID
	}
	if body.Config != nil {
		def.Config = body.Config
	}
	if body.IsEnabled != nil {
		def.IsEnabled = *body.IsEnabled
	}
	def.UpdatedAt = a.now()
	if err := a.store.UpdateTriggerDefinition(r.Context(), def); err != nil {
		return mapStoreErr(err)
	}
	a.recordChange(r.Context(), history.EntityTrigger, def.ID, a.actorID(r.Context()), "updated")
	writeJSON(w, http.StatusOK, def)
	return nil
}

func (a *API) deleteTrigger(w http.ResponseWriter, r *http.Request) error {
	id := routeParam(r, "triggerId")
	if err := a.store.DeleteTriggerDefinition(r.Context(), id); err != nil {
		return mapStoreErr(err)
	}
	a.recordChange(r.Context(), history.EntityTrigger, id, a.actorID(r.Context()), "deleted")
	w.WriteHeader(http.StatusNoContent)
	return nil
}

type fireTriggerRequest struct {
	Context map[string]any `json:"context,omitempty"`
}

// fireTrigger performs a manual test fire through the same path real
// triggers use.
func (a *API) fireTrigger(w http.ResponseWriter, r *http.Request) error {
	var body fireTriggerRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &body); err != nil {
			return err
		}
	}
	event, err := a.runner.FireTriggerOnce(r.Context(), routeParam(r, "triggerId"), body.Context)
	if err != nil {
		if errors.Is(err, pipeline.ErrTriggerNotFound) {
			return httpError(http.StatusNotFound, CodeNotFound, "trigger not found")
		}
		return err
	}
	writeJSON(w, http.StatusAccepted, event)
	return nil
}

// --- action definitions ---

type actionRequest struct {
	Name         *string        `json:"name,omitempty"`
	CapabilityID *string        `json:"capabilityId,omitempty"`
	Config       map[string]any `json:"config,omitempty"`
	IsEnabled    *bool          `json:"isEnabled,omitempty"`
}

func (a *API) listActions(w http.ResponseWriter, r *http.Request) error {
	defs, err := a.store.ListActionDefinitions(r.Context())
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": defs})
	return nil
}

func (a *API) createAction(w http.ResponseWriter, r *http.Request) error {
	var body actionRequest
	if err := decodeJSON(r, &body); err != nil {
		return err
	}
	if body.Name == nil || *body.Name == "" || body.CapabilityID == nil || *body.CapabilityID == "" {
		return httpError(http.StatusBadRequest, CodeBadRequest, "name and capabilityId are required")
	}
	if _, ok := a.registry.GetActionByID(*body.CapabilityID); !ok {
		return httpError(http.StatusBadRequest, CodeBadRequest, "unknown action capability")
	}
	now := a.now()
	def := &store.ActionDefinition{
		ID:           uuid.NewString(),
		Name:         *body.Name,
		CapabilityID: *body.CapabilityID,
		Config:       body.Config,
		IsEnabled:    body.IsEnabled == nil || *body.IsEnabled,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.store.CreateActionDefinition(r.Context(), def); err != nil {
		return mapStoreErr(err)
	}
	a.recordChange(r.Context(), history.EntityAction, def.ID, a.actorID(r.Context()), "created")
	writeJSON(w, http.StatusCreated, def)
	return nil
}

func (a *API) updateAction(w http.ResponseWriter, r *http.Request) error {
	var body actionRequest
	if err := decodeJSON(r, &body); err != nil {
		return err
	}
	def, err := a.store.GetActionDefinition(r.Context(), routeParam(r, "actionId"))
	if err != nil {
		return mapStoreErr(err)
	}
	if body.Name != nil && *body.Name != "" {
		def.Name = *body.Name
	}
	if body.CapabilityID != nil && *body.CapabilityID != "" {
		if _, ok := a.registry.GetActionByID(*body.CapabilityID); !ok {
			return httpError(http.StatusBadRequest, CodeBadRequest, "unknown action capability")
		}
		def.CapabilityID = *body.CapabilityID
	}
	if body.Config != nil {
		def.Config = body.Config
	}
	if body.IsEnabled != nil {
		def.IsEnabled = *body.IsEnabled
	}
	def.UpdatedAt = a.now()
	if err := a.store.UpdateActionDefinition(r.Context(), def); err != nil {
		return mapStoreErr(err)
	}
	a.recordChange(r.Context(), history.EntityAction, def.ID, a.actorID(r.Context()), "updated")
	writeJSON(w, http.StatusOK, def)
	return nil
}

func (a *API) deleteAction(w http.ResponseWriter, r *http.Request) error {
	id := routeParam(r, "actionId")
	if err := a.store.DeleteActionDefinition(r.Context(), id); err != nil {
		return mapStoreErr(err)
	}
	a.recordChange(r.Context(), history.EntityAction, id, a.actorID(r.Context()), "deleted")
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (a *API) listInvocations(w http.ResponseWriter, r *http.Request) error {
	if _, err := a.store.GetActionDefinition(r.Context(), routeParam(r, "actionId")); err != nil {
		return mapStoreErr(err)
	}
	invocations, err := a.store.ListActionInvocations(r.Context(), routeParam(r, "actionId"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": invocations})
	return nil
}

// --- trigger/action mappings ---

type mappingRequest struct {
	TriggerID *string `json:"triggerId,omitempty"`
	ActionID  *string `json:"actionId,omitempty"`
	SortOrder *int    `json:"sortOrder,omitempty"`
	IsEnabled *bool   `json:"isEnabled,omitempty"`
	Condition *string `json:"condition,omitempty"`
}

func (a *API) listMappings(w http.ResponseWriter, r *http.Request) error {
	mappings, err := a.store.ListMappings(r.Context())
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": mappings})
	return nil
}

func (a *API) createMapping(w http.ResponseWriter, r *http.Request) error {
	var body mappingRequest
	if err := decodeJSON(r, &body); err != nil {
		return err
	}
	if body.TriggerID == nil || body.ActionID == nil {
		return httpError(http.StatusBadRequest, CodeBadRequest, "triggerId and actionId are required")
	}
	if _, err := a.store.GetTriggerDefinition(r.Context(), *body.TriggerID); err != nil {
		return mapStoreErr(err)
	}
	if _, err := a.store.GetActionDefinition(r.Context(), *body.ActionID); err != nil {
		return mapStoreErr(err)
	}
	now := a.now()
	mapping := &store.TriggerActionMapping{
		ID:        uuid.NewString(),
		TriggerID: *body.TriggerID,
		ActionID:  *body.ActionID,
		IsEnabled: body.IsEnabled == nil || *body.IsEnabled,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if body.SortOrder != nil {
		mapping.SortOrder = *body.SortOrder
	}
	if body.Condition != nil {
		mapping.Condition = *body.Condition
	}
	if err := a.store.CreateMapping(r.Context(), mapping); err != nil {
		return mapStoreErr(err)
	}
	a.recordChange(r.Context(), history.EntityMapping, mapping.ID, a.actorID(r.Context()), "created")
	writeJSON(w, http.StatusCreated, mapping)
	return nil
}

func (a *API) updateMapping(w http.ResponseWriter, r *http.Request) error {
	var body mappingRequest
	if err := decodeJSON(r, &body); err != nil {
		return err
	}
	mapping, err := a.store.GetMapping(r.Context(), routeParam(r, "mappingId"))
	if err != nil {
		return mapStoreErr(err)
	}
	if body.SortOrder != nil {
		mapping.SortOrder = *body.SortOrder
	}
	if body.IsEnabled != nil {
		mapping.IsEnabled = *body.IsEnabled
	}
	if body.Condition != nil {
		mapping.Condition = *body.Condition
	}
	mapping.UpdatedAt = a.now()
	if err := a.store.UpdateMapping(r.Context(), mapping); err != nil {
		return mapStoreErr(err)
	}
	a.recordChange(r.Context(), history.EntityMapping, mapping.ID, a.actorID(r.Context()), "updated")
	writeJSON(w, http.StatusOK, mapping)
	return nil
}

func (a *API) deleteMapping(w http.ResponseWriter, r *http.Request) error {
	id := routeParam(r, "mappingId")
	if err := a.store.DeleteMapping(r.Context(), id); err != nil {
		return mapStoreErr(err)
	}
	a.recordChange(r.Context(), history.EntityMapping, id, a.actorID(r.Context()), "deleted")
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (a *API) listCapabilities(w http.ResponseWriter, _ *http.Request) error {
	writeJSON(w, http.StatusOK, map[string]any{"items": a.registry.Capabilities()})
	return nil
}

// --- API tokens ---

type createTokenRequest struct {
	Scopes     []string `json:"scopes,omitempty"`
	DeviceName string   `json:"deviceName,omitempty"`
	TTLDays    int      `json:"ttlDays,omitempty"`
}

// createToken mints an API token directly, without the device-code
// handshake. The plaintext appears in this response and nowhere else.
func (a *API) createToken(w http.ResponseWriter, r *http.Request) error {
	var body createTokenRequest
	if err := decodeJSON(r, &body); err != nil {
		return err
	}
	scopes := body.Scopes
	if len(scopes) == 0 {
		scopes = append([]string(nil), a.cfg.APIToken.ScopesDefault...)
	}
	ttlDays := body.TTLDays
	if ttlDays <= 0 {
		ttlDays = a.cfg.APIToken.TTLDays
	}

	secret, err := canonical.NewToken()
	if err != nil {
		return err
	}
	now := a.now()
	token := &store.APIToken{
		ID:         uuid.NewString(),
		TokenHash:  canonical.HashToken(secret),
		UserID:     a.actorID(r.Context()),
		Scopes:     scopes,
		DeviceName: body.DeviceName,
		CreatedAt:  now,
	}
	if ttlDays > 0 {
		expires := now.Add(time.Duration(ttlDays) * 24 * time.Hour)
		token.ExpiresAt = &expires
	}
	if err := a.store.CreateAPIToken(r.Context(), token); err != nil {
		return err
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"id":        token.ID,
		"token":     a.cfg.APIToken.Prefix + secret,
		"scopes":    token.Scopes,
		"expiresAt": token.ExpiresAt,
	})
	return nil
}

func (a *API) listTokens(w http.ResponseWriter, r *http.Request) error {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		userID = a.actorID(r.Context())
	}
	tokens, err := a.store.ListAPITokensForUser(r.Context(), userID)
	if err != nil {
		return err
	}
	// The hash never leaves the server.
	type tokenView struct {
		ID         string   `json:"id"`
		UserID     string   `json:"userId"`
		Scopes     []string `json:"scopes"`
		DeviceName string   `json:"deviceName,omitempty"`
		ExpiresAt  any      `json:"expiresAt,omitempty"`
		RevokedAt  any      `json:"revokedAt,omitempty"`
		LastUsedAt any      `json:"lastUsedAt,omitempty"`
		CreatedAt  any      `json:"createdAt"`
	}
	items := make([]tokenView, 0, len(tokens))
	for _, tok := range tokens {
		items = append(items, tokenView{
			ID:         tok.ID,
			UserID:     tok.UserID,
			Scopes:     tok.Scopes,
			DeviceName: tok.DeviceName,
			ExpiresAt:  tok.ExpiresAt,
			RevokedAt:  tok.RevokedAt,
			LastUsedAt: tok.LastUsedAt,
			CreatedAt:  tok.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
	return nil
}

func (a *API) revokeToken(w http.ResponseWriter, r *http.Request) error {
	if err := a.store.RevokeAPIToken(r.Context(), routeParam(r, "tokenId")); err != nil {
		return mapStoreErr(err)
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// --- permission simulation ---

type simulateRequest struct {
	UserID  string            `json:"userId"`
	Method  string            `json:"method"`
	Route   string            `json:"route"`
	Params  map[string]string `json:"params,omitempty"`
	Query   map[string]string `json:"query,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    map[string]any    `json:"body,omitempty"`
}

// simulatePermission evaluates the engine for an arbitrary user and
// route without side effects, for debugging rulesets.
func (a *API) simulatePermission(w http.ResponseWriter, r *http.Request) error {
	var body simulateRequest
	if err := decodeJSON(r, &body); err != nil {
		return err
	}
	if body.UserID == "" || body.Method == "" || body.Route == "" {
		return httpError(http.StatusBadRequest, CodeBadRequest, "userId, method, and route are required")
	}
	target, err := a.store.GetUser(r.Context(), body.UserID)
	if err != nil {
		return mapStoreErr(err)
	}
	user, err := a.authzUser(r.Context(), target)
	if err != nil {
		return err
	}

	signature := strings.ToUpper(body.Method) + " " + body.Route
	req := authz.Request{Params: body.Params, Query: body.Query, Headers: body.Headers, Body: body.Body}
	decision := a.auth.Authorize(authz.EvalInput{
		Entry:     authz.LookupPolicy(signature),
		Signature: signature,
		Method:    strings.ToUpper(body.Method),
		Route:     body.Route,
		Request:   req,
		Context: authz.Context{
			UserID:   target.ID,
			Role:     target.Role,
			IsActive: target.IsActive,
			IDs:      contextIDs(req),
		},
		User: user,
		Now:  a.now(),
	})
	a.recorder.CountSimulation()

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":            decision.OK,
		"reason":        decision.Reason,
		"matchedRuleId": decision.MatchedRuleID,
		"presetId":      decision.PresetID,
		"presetVersion": decision.PresetVersion,
		"twoFactor":     decision.TwoFactor,
		"durationMs":    decision.DurationMs,
	})
	return nil
}

// --- change history ---

func (a *API) listHistory(w http.ResponseWriter, r *http.Request) error {
	entityType := strings.ToUpper(routeParam(r, "entityType"))
	entityID := routeParam(r, "entityId")
	entries, err := a.history.Entries(r.Context(), entityType, entityID, 0)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return httpError(http.StatusNotFound, CodeNotFound, "no history for entity")
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": entries})
	return nil
}

func (a *API) materializeHistory(w http.ResponseWriter, r *http.Request) error {
	entityType := strings.ToUpper(routeParam(r, "entityType"))
	entityID := routeParam(r, "entityId")
	version, err := strconv.Atoi(routeParam(r, "version"))
	if err != nil || version < 1 {
		return httpError(http.StatusBadRequest, CodeBadRequest, "version must be a positive integer")
	}
	state, err := a.history.Materialize(r.Context(), entityType, entityID, version)
	if err != nil {
		return err
	}
	if state == nil {
		return httpError(http.StatusNotFound, CodeNotFound, "version not found")
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entityType": entityType,
		"entityId":   entityID,
		"version":    version,
		"state":      state,
	})
	return nil
}
