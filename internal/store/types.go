// Package store defines the persisted entity model and the Store contract
// the rest of the system consumes. Persistence itself is pluggable; the
// in-memory driver in this package is the reference implementation.
package store

import (
	"time"

	"github.com/latchflow/latchflow/internal/authz"
)

// User is an administrator or machine principal.
type User struct {
	ID                 string       `json:"id"`
	Email              string       `json:"email"`
	Name               string       `json:"name,omitempty"`
	Role               authz.Role   `json:"role"`
	IsActive           bool         `json:"isActive"`
	MFAEnabled         bool         `json:"mfaEnabled,omitempty"`
	PermissionsHash    string       `json:"permissionsHash,omitempty"`
	DirectPermissions  []authz.Rule `json:"directPermissions,omitempty"`
	PermissionPresetID string       `json:"permissionPresetId,omitempty"`
	CreatedAt          time.Time    `json:"createdAt"`
	UpdatedAt          time.Time    `json:"updatedAt"`
}

// Recipient is a file-delivery principal authenticated by OTP.
type Recipient struct {
	ID         string     `json:"id"`
	Email      string     `json:"email"`
	Name       string     `json:"name,omitempty"`
	IsEnabled  bool       `json:"isEnabled"`
	Tags       []string   `json:"tags,omitempty"`
	VerifiedAt *time.Time `json:"verifiedAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// Bundle is a named ordered collection of files delivered as one archive.
// The pointer triple (StoragePath, Checksum, BundleDigest) is updated
// atomically after a successful build.
type Bundle struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	IsEnabled    bool      `json:"isEnabled"`
	StoragePath  string    `json:"storagePath,omitempty"`
	Checksum     string    `json:"checksum,omitempty"`
	BundleDigest string    `json:"bundleDigest,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// File is an uploaded object held in content-addressed storage.
type File struct {
	ID          string    `json:"id"`
	Key         string    `json:"key,omitempty"`
	ContentHash string    `json:"contentHash,omitempty"`
	StorageKey  string    `json:"storageKey,omitempty"`
	Size        int64     `json:"size"`
	ContentType string    `json:"contentType,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// BundleObject binds a file into a bundle with a rendered path and order.
type BundleObject struct {
	ID        string `json:"id"`
	BundleID  string `json:"bundleId"`
	FileID    string `json:"fileId"`
	Path      string `json:"path,omitempty"`
	Required  bool   `json:"required"`
	SortOrder int    `json:"sortOrder"`
	IsEnabled bool   `json:"isEnabled"`
}

// BundleAssignment binds a recipient to a bundle with delivery limits.
type BundleAssignment struct {
	ID                   string     `json:"id"`
	RecipientID          string     `json:"recipientId"`
	BundleID             string     `json:"bundleId"`
	IsEnabled            bool       `json:"isEnabled"`
	MaxDownloads         *int       `json:"maxDownloads,omitempty"`
	DownloadsUsed        int        `json:"downloadsUsed"`
	CooldownSeconds      *int       `json:"cooldownSeconds,omitempty"`
	LastDownloadAt       *time.Time `json:"lastDownloadAt,omitempty"`
	VerificationRequired bool       `json:"verificationRequired,omitempty"`
	CreatedAt            time.Time  `json:"createdAt"`
	UpdatedAt            time.Time  `json:"updatedAt"`
}

// AdminSession is a cookie-backed admin login. The JTI is stored as the
// sha256 of the cookie's random value.
type AdminSession struct {
	JTI               string     `json:"jti"`
	UserID            string     `json:"userId"`
	CreatedAt         time.Time  `json:"createdAt"`
	ExpiresAt         time.Time  `json:"expiresAt"`
	RevokedAt         *time.Time `json:"revokedAt,omitempty"`
	IP                string     `json:"ip,omitempty"`
	UserAgent         string     `json:"ua,omitempty"`
	MFAVerifiedAt     *time.Time `json:"mfaVerifiedAt,omitempty"`
	ReauthenticatedAt *time.Time `json:"reauthenticatedAt,omitempty"`
}

// RecipientSession mirrors AdminSession for portal logins.
type RecipientSession struct {
	JTI         string     `json:"jti"`
	RecipientID string     `json:"recipientId"`
	CreatedAt   time.Time  `json:"createdAt"`
	ExpiresAt   time.Time  `json:"expiresAt"`
	RevokedAt   *time.Time `json:"revokedAt,omitempty"`
	IP          string     `json:"ip,omitempty"`
	UserAgent   string     `json:"ua,omitempty"`
}

// APIToken is a bearer credential for machine callers; only the hash is
// persisted.
type APIToken struct {
	ID         string     `json:"id"`
	TokenHash  string     `json:"tokenHash"`
	UserID     string     `json:"userId"`
	Scopes     []string   `json:"scopes"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
	RevokedAt  *time.Time `json:"revokedAt,omitempty"`
	LastUsedAt *time.Time `json:"lastUsedAt,omitempty"`
	DeviceName string     `json:"deviceName,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// MagicLink is a single-use admin login credential.
type MagicLink struct {
	ID         string     `json:"id"`
	TokenHash  string     `json:"tokenHash"`
	UserID     string     `json:"userId"`
	ExpiresAt  time.Time  `json:"expiresAt"`
	ConsumedAt *time.Time `json:"consumedAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// RecipientOTP is a short-lived numeric login code.
type RecipientOTP struct {
	ID          string    `json:"id"`
	RecipientID string    `json:"recipientId"`
	CodeHash    string    `json:"codeHash"`
	Attempts    int       `json:"attempts"`
	ExpiresAt   time.Time `json:"expiresAt"`
	CreatedAt   time.Time `json:"createdAt"`
}

// DeviceAuth tracks one CLI device-code login flow.
type DeviceAuth struct {
	ID             string     `json:"id"`
	DeviceCodeHash string     `json:"deviceCodeHash"`
	UserCodeHash   string     `json:"userCodeHash"`
	Email          string     `json:"email"`
	DeviceName     string     `json:"deviceName,omitempty"`
	IntervalSec    int        `json:"intervalSec"`
	ExpiresAt      time.Time  `json:"expiresAt"`
	ApprovedAt     *time.Time `json:"approvedAt,omitempty"`
	TokenID        string     `json:"tokenId,omitempty"`
	LastPollAt     *time.Time `json:"lastPollAt,omitempty"`
	LastPollIP     string     `json:"lastPollIp,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// PermissionPreset is a named, versioned ruleset assignable to users.
type PermissionPreset struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Version   int          `json:"version"`
	Rules     []authz.Rule `json:"rules"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

// TriggerDefinition binds a trigger capability to a configuration.
type TriggerDefinition struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	CapabilityID string         `json:"capabilityId"`
	Config       map[string]any `json:"config,omitempty"`
	IsEnabled    bool           `json:"isEnabled"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

// ActionDefinition binds an action capability to a configuration.
type ActionDefinition struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	CapabilityID string         `json:"capabilityId"`
	Config       map[string]any `json:"config,omitempty"`
	IsEnabled    bool           `json:"isEnabled"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

// TriggerActionMapping fans a trigger out to one action, ordered by
// SortOrder. Condition is an optional CEL expression over the fire
// context; empty always passes.
type TriggerActionMapping struct {
	ID        string    `json:"id"`
	TriggerID string    `json:"triggerId"`
	ActionID  string    `json:"actionId"`
	SortOrder int       `json:"sortOrder"`
	IsEnabled bool      `json:"isEnabled"`
	Condition string    `json:"condition,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TriggerEvent records one firing of a trigger definition.
type TriggerEvent struct {
	ID                  string         `json:"id"`
	TriggerDefinitionID string         `json:"triggerDefinitionId"`
	Context             map[string]any `json:"context,omitempty"`
	CreatedAt           time.Time      `json:"createdAt"`
}

// InvocationStatus is the terminal state of an action invocation.
type InvocationStatus string

const (
	InvocationSuccess InvocationStatus = "SUCCESS"
	InvocationFailed  InvocationStatus = "FAILED"
	InvocationRetry   InvocationStatus = "RETRY"
)

// ActionInvocation records one plug-in execution attempt.
type ActionInvocation struct {
	ID                 string           `json:"id"`
	ActionDefinitionID string           `json:"actionDefinitionId"`
	TriggerEventID     string           `json:"triggerEventId,omitempty"`
	ManualInvokerID    string           `json:"manualInvokerId,omitempty"`
	Status             InvocationStatus `json:"status"`
	StartedAt          time.Time        `json:"startedAt"`
	FinishedAt         *time.Time       `json:"finishedAt,omitempty"`
	Output             map[string]any   `json:"output,omitempty"`
	Error              string           `json:"error,omitempty"`
	Attempt            int              `json:"attempt"`
}

// DownloadEvent records one successful portal download.
type DownloadEvent struct {
	ID           string    `json:"id"`
	AssignmentID string    `json:"assignmentId"`
	BundleID     string    `json:"bundleId"`
	RecipientID  string    `json:"recipientId"`
	IP           string    `json:"ip,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// ActorType classifies who performed a change-log append.
type ActorType string

const (
	ActorUser   ActorType = "USER"
	ActorAction ActorType = "ACTION"
	ActorSystem ActorType = "SYSTEM"
)

// ChangeEntry is one row of the versioned change log.
type ChangeEntry struct {
	ID                 string    `json:"id"`
	EntityType         string    `json:"entityType"`
	EntityID           string    `json:"entityId"`
	Version            int       `json:"version"`
	IsSnapshot         bool      `json:"isSnapshot"`
	State              any       `json:"state,omitempty"`
	Diff               any       `json:"diff,omitempty"`
	Hash               string    `json:"hash"`
	ActorType          ActorType `json:"actorType"`
	ActorUserID        string    `json:"actorUserId,omitempty"`
	ActorInvocationID  string    `json:"actorInvocationId,omitempty"`
	ActorActionID      string    `json:"actorActionId,omitempty"`
	OnBehalfOfUserID   string    `json:"onBehalfOfUserId,omitempty"`
	ChangeNote         string    `json:"changeNote,omitempty"`
	ChangedPath        string    `json:"changedPath,omitempty"`
	ChangeKind         string    `json:"changeKind,omitempty"`
	CreatedAt          time.Time `json:"createdAt"`
}

// AssignmentSummary is the derived delivery status for one assignment.
type AssignmentSummary struct {
	MaxDownloads             *int       `json:"maxDownloads,omitempty"`
	DownloadsUsed            int        `json:"downloadsUsed"`
	DownloadsRemaining       *int       `json:"downloadsRemaining,omitempty"`
	CooldownSeconds          *int       `json:"cooldownSeconds,omitempty"`
	LastDownloadAt           *time.Time `json:"lastDownloadAt,omitempty"`
	NextAvailableAt          *time.Time `json:"nextAvailableAt,omitempty"`
	CooldownRemainingSeconds int        `json:"cooldownRemainingSeconds"`
}

// Summary derives the delivery counters for an assignment at now.
func (a *BundleAssignment) Summary(now time.Time) AssignmentSummary {
	summary := AssignmentSummary{
		MaxDownloads:    a.MaxDownloads,
		DownloadsUsed:   a.DownloadsUsed,
		CooldownSeconds: a.CooldownSeconds,
		LastDownloadAt:  a.LastDownloadAt,
	}
	if a.MaxDownloads != nil {
		remaining := *a.MaxDownloads - a.DownloadsUsed
		if remaining < 0 {
			remaining = 0
		}
		summary.DownloadsRemaining = &remaining
	}
	if a.LastDownloadAt != nil && a.CooldownSeconds != nil {
		next := a.LastDownloadAt.Add(time.Duration(*a.CooldownSeconds) * time.Second)
		summary.NextAvailableAt = &next
		if next.After(now) {
			summary.CooldownRemainingSeconds = int((next.Sub(now) + time.Second - 1) / time.Second)
		}
	}
	return summary
}
