package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/latchflow/latchflow/internal/history"
	"github.com/latchflow/latchflow/internal/store"
)

// mapStoreErr translates store sentinels onto the HTTP surface.
func mapStoreErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return httpError(http.StatusNotFound, CodeNotFound, "not found")
	case errors.Is(err, store.ErrInUse):
		return httpError(http.StatusConflict, CodeInUse, "resource is referenced by other entities")
	case errors.Is(err, store.ErrConflict):
		return httpError(http.StatusConflict, CodeInUse, "conflicting resource exists")
	default:
		return err
	}
}

// recordChange appends a change-log entry for a mutated entity. Append
// failures are logged, not surfaced; the mutation already happened.
func (a *API) recordChange(ctx context.Context, entityType, entityID, actorUserID, note string) {
	actor := history.Actor{Type: store.ActorSystem, UserID: a.cfg.History.SystemUserID}
	if actorUserID != "" {
		actor = history.Actor{Type: store.ActorUser, UserID: actorUserID}
	}
	var opts *history.AppendOptions
	if note != "" {
		opts = &history.AppendOptions{ChangeNote: note}
	}
	if _, err := a.history.Append(ctx, entityType, entityID, actor, opts); err != nil {
		a.logger.Warn("change log append failed",
			"entityType", entityType, "entityId", entityID, "error", err)
	}
}

func (a *API) actorID(ctx context.Context) string {
	if p := principalFrom(ctx); p != nil && p.User != nil {
		return p.User.ID
	}
	return ""
}

// --- bundles ---

type bundleRequest struct {
	Name      *string `json:"name,omitempty"`
	IsEnabled *bool   `json:"isEnabled,omitempty"`
}

func (a *API) listBundles(w http.ResponseWriter, r *http.Request) error {
	bundles, err := a.store.ListBundles(r.Context())
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": bundles})
	return nil
}

func (a *API) createBundle(w http.ResponseWriter, r *http.Request) error {
	var body bundleRequest
	if err := decodeJSON(r, &body); err != nil {
		return err
	}
	if body.Name == nil || *body.Name == "" {
		return httpError(http.StatusBadRequest, CodeBadRequest, "name is required")
	}
	now := a.now()
	bundle := &store.Bundle{
		ID:        uuid.NewString(),
		Name:      *body.Name,
		IsEnabled: true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if body.IsEnabled != nil {
		bundle.IsEnabled = *body.IsEnabled
	}
	if err := a.store.CreateBundle(r.Context(), bundle); err != nil {
		return mapStoreErr(err)
	}
	a.recordChange(r.Context(), history.EntityBundle, bundle.ID, a.actorID(r.Context()), "created")
	writeJSON(w, http.StatusCreated, bundle)
	return nil
}

func (a *API) getBundle(w http.ResponseWriter, r *http.Request) error {
	bundle, err := a.store.GetBundle(r.Context(), routeParam(r, "bundleId"))
	if err != nil {
		return mapStoreErr(err)
	}
	writeJSON(w, http.StatusOK, bundle)
	return nil
}

func (a *API) updateBundle(w http.ResponseWriter, r *http.Request) error {
	var body bundleRequest
	if err := decodeJSON(r, &body); err != nil {
		return err
	}
	bundle, err := a.store.GetBundle(r.Context(), routeParam(r, "bundleId"))
	if err != nil {
		return mapStoreErr(err)
	}
	if body.Name != nil {
		bundle.Name = *body.Name
	}
	if body.IsEnabled != nil {
		bundle.IsEnabled = *body.IsEnabled
	}
	bundle.UpdatedAt = a.now()
	if err := a.store.UpdateBundle(r.Context(), bundle); err != nil {
		return mapStoreErr(err)
	}
	a.recordChange(r.Context(), history.EntityBundle, bundle.ID, a.actorID(r.Context()), "updated")
	writeJSON(w, http.StatusOK, bundle)
	return nil
}

func (a *API) deleteBundle(w http.ResponseWriter, r *http.Request) error {
	id := routeParam(r, "bundleId")
	if err := a.store.DeleteBundle(r.Context(), id); err != nil {
		return mapStoreErr(err)
	}
	a.recordChange(r.Context(), history.EntityBundle, id, a.actorID(r.Context()), "deleted")
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// --- bundle composition ---

type bundleObjectRequest struct {
	FileID    string  `json:"fileId"`
	Path      string  `json:"path,omitempty"`
	Required  *bool   `json:"required,omitempty"`
	SortOrder int     `json:"sortOrder,omitempty"`
	IsEnabled *bool   `json:"isEnabled,omitempty"`
}

func (a *API) listBundleObjects(w http.ResponseWriter, r *http.Request) error {
	if _, err := a.store.GetBundle(r.Context(), routeParam(r, "bundleId")); err != nil {
		return mapStoreErr(err)
	}
	objects, err := a.store.ListBundleObjects(r.Context(), routeParam(r, "bundleId"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": objects})
	return nil
}

func (a *API) addBundleObject(w http.ResponseWriter, r *http.Request) error {
	var body bundleObjectRequest
	if err := decodeJSON(r, &body); err != nil {
		return err
	}
	if body.FileID == "" {
		return httpError(http.StatusBadRequest, CodeBadRequest, "fileId is required")
	}
	bundleID := routeParam(r, "bundleId")
	if _, err := a.store.GetBundle(r.Context(), bundleID); err != nil {
		return mapStoreErr(err)
	}
	if _, err := a.store.GetFile(r.Context(), body.FileID); err != nil {
		return mapStoreErr(err)
	}
	object := &store.BundleObject{
		ID:        uuid.NewString(),
		BundleID:  bundleID,
		FileID:    body.FileID,
		Path:      body.Path,
		Required:  body.Required == nil || *body.Required,
		SortOrder: body.SortOrder,
		IsEnabled: body.IsEnabled == nil || *body.IsEnabled,
	}
	if err := a.store.CreateBundleObject(r.Context(), object); err != nil {
		return mapStoreErr(err)
	}
	a.recordChange(r.Context(), history.EntityBundle, bundleID, a.actorID(r.Context()), "object added")
	a.scheduler.Schedule(bundleID, false)
	writeJSON(w, http.StatusCreated, object)
	return nil
}

func (a *API) removeBundleObject(w http.ResponseWriter, r *http.Request) error {
	bundleID := routeParam(r, "bundleId")
	if err := a.store.DeleteBundleObject(r.Context(), routeParam(r, "objectId")); err != nil {
		return mapStoreErr(err)
	}
	a.recordChange(r.Context(), history.EntityBundle, bundleID, a.actorID(r.Context()), "object removed")
	a.scheduler.Schedule(bundleID, false)
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// --- builds ---

func (a *API) buildBundle(w http.ResponseWriter, r *http.Request) error {
	bundleID := routeParam(r, "bundleId")
	if _, err := a.store.GetBundle(r.Context(), bundleID); err != nil {
		return mapStoreErr(err)
	}
	var body struct {
		Force bool `json:"force"`
	}
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &body); err != nil {
			return err
		}
	}
	a.scheduler.Schedule(bundleID, body.Force)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
	return nil
}

func (a *API) buildStatus(w http.ResponseWriter, r *http.Request) error {
	bundleID := routeParam(r, "bundleId")
	bundle, err := a.store.GetBundle(r.Context(), bundleID)
	if err != nil {
		return mapStoreErr(err)
	}
	status := a.scheduler.GetStatus(bundleID)
	writeJSON(w, http.StatusOK, map[string]any{
		"state":        status.State,
		"last":         status.Last,
		"storagePath":  bundle.StoragePath,
		"checksum":     bundle.Checksum,
		"bundleDigest": bundle.BundleDigest,
	})
	return nil
}

// --- files ---

func (a *API) listFiles(w http.ResponseWriter, r *http.Request) error {
	files, err := a.store.ListFiles(r.Context())
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": files})
	return nil
}

// uploadFile accepts the raw body and stores it content-addressed. The
// logical key comes from the X-File-Key header or the key query param.
func (a *API) uploadFile(w http.ResponseWriter, r *http.Request) error {
	key := r.Header.Get("X-File-Key")
	if key == "" {
		key = r.URL.Query().Get("key")
	}
	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	result, err := a.storage.PutFile(r.Context(), r.Body, contentType)
	if err != nil {
		return err
	}
	now := a.now()
	file := &store.File{
		ID:          uuid.NewString(),
		Key:         key,
		ContentHash: result.SHA256,
		StorageKey:  result.StorageKey,
		Size:        result.Size,
		ContentType: contentType,
		CreatedAt:   now,
	}
	if err := a.store.CreateFile(r.Context(), file); err != nil {
		return mapStoreErr(err)
	}
	a.recordChange(r.Context(), history.EntityFile, file.ID, a.actorID(r.Context()), "uploaded")
	writeJSON(w, http.StatusCreated, file)
	return nil
}

func (a *API) deleteFile(w http.ResponseWriter, r *http.Request) error {
	id := routeParam(r, "fileId")
	if err := a.store.DeleteFile(r.Context(), id); err != nil {
		return mapStoreErr(err)
	}
	a.recordChange(r.Context(), history.EntityFile, id, a.actorID(r.Context()), "deleted")
	w.WriteHeader(http.StatusNoContent)
	return nil
}
