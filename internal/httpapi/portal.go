package httpapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/latchflow/latchflow/internal/store"
)

const (
	defaultPortalPageSize = 20
	maxPortalPageSize     = 100
)

type portalMeResponse struct {
	ID         string   `json:"id"`
	Email      string   `json:"email"`
	Name       string   `json:"name,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	VerifiedAt any      `json:"verifiedAt,omitempty"`
}

type portalBundle struct {
	ID        string                  `json:"id"`
	Name      string                  `json:"name"`
	Checksum  string                  `json:"checksum,omitempty"`
	Available bool                    `json:"available"`
	Summary   store.AssignmentSummary `json:"summary"`
}

// portalMe reports the caller's identity plus a short listing of the
// bundles assigned to them.
func (a *API) portalMe(w http.ResponseWriter, r *http.Request) error {
	p := recipientFrom(r.Context())
	assignments, err := a.store.ListAssignmentsForRecipient(r.Context(), p.Recipient.ID)
	if err != nil {
		return err
	}
	bundles := make([]map[string]string, 0, len(assignments))
	for _, assignment := range assignments {
		if !assignment.IsEnabled {
			continue
		}
		bundle, err := a.store.GetBundle(r.Context(), assignment.BundleID)
		if err != nil || !bundle.IsEnabled {
			continue
		}
		bundles = append(bundles, map[string]string{"id": bundle.ID, "name": bundle.Name})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"recipient": portalMeResponse{
			ID:         p.Recipient.ID,
			Email:      p.Recipient.Email,
			Name:       p.Recipient.Name,
			Tags:       p.Recipient.Tags,
			VerifiedAt: p.Recipient.VerifiedAt,
		},
		"bundles": bundles,
	})
	return nil
}

// portalBundles lists the caller's enabled assignments with derived
// delivery counters. Pagination is offset-based with limit clamped to
// [1, 100].
func (a *API) portalBundles(w http.ResponseWriter, r *http.Request) error {
	p := recipientFrom(r.Context())
	limit := queryInt(r, "limit", defaultPortalPageSize)
	if limit < 1 {
		limit = 1
	}
	if limit > maxPortalPageSize {
		limit = maxPortalPageSize
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	assignments, err := a.store.ListAssignmentsForRecipient(r.Context(), p.Recipient.ID)
	if err != nil {
		return err
	}
	now := a.now()
	items := make([]portalBundle, 0, limit)
	total := 0
	for _, assignment := range assignments {
		if !assignment.IsEnabled {
			continue
		}
		bundle, err := a.store.GetBundle(r.Context(), assignment.BundleID)
		if err != nil || !bundle.IsEnabled {
			continue
		}
		if total >= offset && len(items) < limit {
			items = append(items, portalBundle{
				ID:        bundle.ID,
				Name:      bundle.Name,
				Checksum:  bundle.Checksum,
				Available: bundle.StoragePath != "",
				Summary:   assignment.Summary(now),
			})
		}
		total++
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":  items,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
	return nil
}

// portalBundleObjects lists the enabled composition of an assigned
// bundle.
func (a *API) portalBundleObjects(w http.ResponseWriter, r *http.Request) error {
	p := recipientFrom(r.Context())
	objects, err := a.store.ListBundleObjects(r.Context(), p.Assignment.BundleID)
	if err != nil {
		return err
	}
	items := make([]map[string]any, 0, len(objects))
	for _, object := range objects {
		if !object.IsEnabled {
			continue
		}
		entry := map[string]any{
			"id":        object.ID,
			"fileId":    object.FileID,
			"path":      object.Path,
			"required":  object.Required,
			"sortOrder": object.SortOrder,
		}
		if file, err := a.store.GetFile(r.Context(), object.FileID); err == nil {
			entry["size"] = file.Size
			entry["contentHash"] = file.ContentHash
		}
		items = append(items, entry)
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
	return nil
}

// portalDownload streams the built archive. The admission checks run in
// a fixed order so the caller always sees the most actionable failure:
// verification, then download budget, then cooldown, then artifact
// presence.
func (a *API) portalDownload(w http.ResponseWriter, r *http.Request) error {
	p := recipientFrom(r.Context())
	assignment := p.Assignment
	now := a.now()

	if assignment.VerificationRequired && p.Recipient.VerifiedAt == nil {
		a.recorder.CountDownload("verification_required")
		return httpError(http.StatusForbidden, CodeVerification, "verification required")
	}
	if assignment.MaxDownloads != nil && assignment.DownloadsUsed >= *assignment.MaxDownloads {
		a.recorder.CountDownload("max_downloads")
		return httpError(http.StatusForbidden, CodeMaxDownloads, "download limit reached")
	}
	summary := assignment.Summary(now)
	if summary.CooldownRemainingSeconds > 0 {
		a.recorder.CountDownload("cooldown")
		return &apiError{
			Status:  http.StatusTooManyRequests,
			Code:    CodeCooldownActive,
			Message: fmt.Sprintf("cooldown active, retry in %ds", summary.CooldownRemainingSeconds),
		}
	}

	bundle, err := a.store.GetBundle(r.Context(), assignment.BundleID)
	if err != nil || !bundle.IsEnabled {
		a.recorder.CountDownload("not_found")
		return httpError(http.StatusNotFound, CodeNotFound, "bundle not found")
	}
	if bundle.StoragePath == "" {
		a.recorder.CountDownload("no_storage_path")
		return httpError(http.StatusConflict, CodeNoStoragePath, "bundle has not been built")
	}

	body, err := a.storage.GetFileStream(r.Context(), bundle.StoragePath)
	if err != nil {
		a.recorder.CountDownload("storage_error")
		return err
	}
	defer body.Close()

	event := &store.DownloadEvent{
		ID:           uuid.NewString(),
		AssignmentID: assignment.ID,
		BundleID:     bundle.ID,
		RecipientID:  p.Recipient.ID,
		IP:           clientIP(r),
		CreatedAt:    now,
	}
	if err := a.store.RecordDownload(r.Context(), assignment.ID, event); err != nil {
		return err
	}
	a.recorder.CountDownload("success")

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", bundle.Name+".zip"))
	if bundle.Checksum != "" {
		// The raw checksum, not an RFC 9110 quoted tag; clients compare
		// it against the bundle record's checksum field.
		w.Header().Set("ETag", bundle.Checksum)
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		a.logger.Warn("download stream interrupted", "bundleId", bundle.ID, "error", err)
	}
	return nil
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

// releaseDownload serves an HMAC-signed link without a session. The
// signature binds bundle, recipient, and expiry; the assignment checks
// still apply.
func (a *API) releaseDownload(w http.ResponseWriter, r *http.Request) error {
	bundleID := routeParam(r, "bundleId")
	recipientID := r.URL.Query().Get("recipient")
	expires, err := strconv.ParseInt(r.URL.Query().Get("exp"), 10, 64)
	if err != nil {
		return httpError(http.StatusBadRequest, CodeBadRequest, "invalid expiry")
	}
	if err := a.storage.VerifyReleaseLink(bundleID, recipientID, expires, r.URL.Query().Get("sig")); err != nil {
		return httpError(http.StatusUnauthorized, CodeInvalidToken, "invalid link")
	}

	recipient, err := a.store.GetRecipient(r.Context(), recipientID)
	if err != nil || !recipient.IsEnabled {
		return httpError(http.StatusNotFound, CodeNotFound, "bundle not found")
	}
	assignment, err := a.store.FindAssignment(r.Context(), recipientID, bundleID)
	if err != nil || !assignment.IsEnabled {
		return httpError(http.StatusNotFound, CodeNotFound, "bundle not found")
	}
	p := &recipientPrincipal{Recipient: recipient, Assignment: assignment}
	ctx := context.WithValue(r.Context(), recipientKey, p)
	return a.portalDownload(w, r.WithContext(ctx))
}
