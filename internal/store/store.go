package store

import (
	"context"
	"errors"
)

// Sentinel errors every driver maps its failures onto.
var (
	// ErrNotFound reports a missing entity.
	ErrNotFound = errors.New("store: not found")
	// ErrInUse reports a delete blocked by dependent rows.
	ErrInUse = errors.New("store: in use")
	// ErrConflict reports a uniqueness or optimistic-concurrency clash.
	ErrConflict = errors.New("store: conflict")
)

// Store is the persistence contract. The in-memory driver is the reference
// implementation; a SQL driver is an external collaborator that must honor
// the same semantics, in particular dense change-log versions under
// concurrent appends and delete protection for referenced rows.
type Store interface {
	// Users.
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	ListUsers(ctx context.Context) ([]*User, error)
	UpdateUser(ctx context.Context, user *User) error
	DeleteUser(ctx context.Context, id string) error

	// Recipients.
	CreateRecipient(ctx context.Context, recipient *Recipient) error
	GetRecipient(ctx context.Context, id string) (*Recipient, error)
	GetRecipientByEmail(ctx context.Context, email string) (*Recipient, error)
	ListRecipients(ctx context.Context) ([]*Recipient, error)
	UpdateRecipient(ctx context.Context, recipient *Recipient) error
	DeleteRecipient(ctx context.Context, id string) error

	// Bundles and composition.
	CreateBundle(ctx context.Context, bundle *Bundle) error
	GetBundle(ctx context.Context, id string) (*Bundle, error)
	ListBundles(ctx context.Context) ([]*Bundle, error)
	UpdateBundle(ctx context.Context, bundle *Bundle) error
	DeleteBundle(ctx context.Context, id string) error
	// UpdateBundlePointer atomically replaces the build pointer triple.
	UpdateBundlePointer(ctx context.Context, bundleID, storagePath, checksum, digest string) error

	CreateFile(ctx context.Context, file *File) error
	GetFile(ctx context.Context, id string) (*File, error)
	ListFiles(ctx context.Context) ([]*File, error)
	DeleteFile(ctx context.Context, id string) error

	CreateBundleObject(ctx context.Context, object *BundleObject) error
	// ListBundleObjects returns the composition ordered by
	// (sortOrder asc, id asc), enabled and disabled rows alike.
	ListBundleObjects(ctx context.Context, bundleID string) ([]*BundleObject, error)
	DeleteBundleObject(ctx context.Context, id string) error
	// ListBundleIDsForFiles resolves the distinct bundles containing any
	// of the given files.
	ListBundleIDsForFiles(ctx context.Context, fileIDs []string) ([]string, error)

	// Assignments.
	CreateAssignment(ctx context.Context, assignment *BundleAssignment) error
	GetAssignment(ctx context.Context, id string) (*BundleAssignment, error)
	FindAssignment(ctx context.Context, recipientID, bundleID string) (*BundleAssignment, error)
	ListAssignmentsForRecipient(ctx context.Context, recipientID string) ([]*BundleAssignment, error)
	UpdateAssignment(ctx context.Context, assignment *BundleAssignment) error
	DeleteAssignment(ctx context.Context, id string) error
	// RecordDownload atomically increments downloadsUsed and stamps
	// lastDownloadAt, then inserts the event.
	RecordDownload(ctx context.Context, assignmentID string, event *DownloadEvent) error

	// Sessions.
	CreateAdminSession(ctx context.Context, session *AdminSession) error
	GetAdminSession(ctx context.Context, jti string) (*AdminSession, error)
	RevokeAdminSession(ctx context.Context, jti string) error
	CreateRecipientSession(ctx context.Context, session *RecipientSession) error
	GetRecipientSession(ctx context.Context, jti string) (*RecipientSession, error)
	RevokeRecipientSession(ctx context.Context, jti string) error

	// API tokens.
	CreateAPIToken(ctx context.Context, token *APIToken) error
	GetAPIToken(ctx context.Context, id string) (*APIToken, error)
	GetAPITokenByHash(ctx context.Context, tokenHash string) (*APIToken, error)
	ListAPITokensForUser(ctx context.Context, userID string) ([]*APIToken, error)
	TouchAPIToken(ctx context.Context, id string) error
	RevokeAPIToken(ctx context.Context, id string) error

	// Login credentials.
	CreateMagicLink(ctx context.Context, link *MagicLink) error
	GetMagicLinkByHash(ctx context.Context, tokenHash string) (*MagicLink, error)
	// ConsumeMagicLink marks the link consumed; ErrConflict when already
	// consumed.
	ConsumeMagicLink(ctx context.Context, id string) error

	DeleteRecipientOTPs(ctx context.Context, recipientID string) error
	CreateRecipientOTP(ctx context.Context, otp *RecipientOTP) error
	GetLatestRecipientOTP(ctx context.Context, recipientID string) (*RecipientOTP, error)
	IncrementOTPAttempts(ctx context.Context, id string) error
	DeleteRecipientOTP(ctx context.Context, id string) error

	CreateDeviceAuth(ctx context.Context, device *DeviceAuth) error
	GetDeviceAuthByDeviceCode(ctx context.Context, deviceCodeHash string) (*DeviceAuth, error)
	GetDeviceAuthByUserCode(ctx context.Context, userCodeHash string) (*DeviceAuth, error)
	ApproveDeviceAuth(ctx context.Context, id, tokenID string) error
	TouchDeviceAuthPoll(ctx context.Context, id, ip string) error

	// Presets.
	CreatePreset(ctx context.Context, preset *PermissionPreset) error
	GetPreset(ctx context.Context, id string) (*PermissionPreset, error)
	ListPresets(ctx context.Context) ([]*PermissionPreset, error)
	UpdatePreset(ctx context.Context, preset *PermissionPreset) error
	DeletePreset(ctx context.Context, id string) error

	// Pipelines.
	CreateTriggerDefinition(ctx context.Context, def *TriggerDefinition) error
	GetTriggerDefinition(ctx context.Context, id string) (*TriggerDefinition, error)
	ListTriggerDefinitions(ctx context.Context) ([]*TriggerDefinition, error)
	UpdateTriggerDefinition(ctx context.Context, def *TriggerDefinition) error
	DeleteTriggerDefinition(ctx context.Context, id string) error

	CreateActionDefinition(ctx context.Context, def *ActionDefinition) error
	GetActionDefinition(ctx context.Context, id string) (*ActionDefinition, error)
	ListActionDefinitions(ctx context.Context) ([]*ActionDefinition, error)
	UpdateActionDefinition(ctx context.Context, def *ActionDefinition) error
	DeleteActionDefinition(ctx context.Context, id string) error

	CreateMapping(ctx context.Context, mapping *TriggerActionMapping) error
	GetMapping(ctx context.Context, id string) (*TriggerActionMapping, error)
	// ListMappingsForTrigger returns enabled mappings ordered by
	// (sortOrder asc, id asc).
	ListMappingsForTrigger(ctx context.Context, triggerID string) ([]*TriggerActionMapping, error)
	ListMappings(ctx context.Context) ([]*TriggerActionMapping, error)
	UpdateMapping(ctx context.Context, mapping *TriggerActionMapping) error
	DeleteMapping(ctx context.Context, id string) error

	CreateTriggerEvent(ctx context.Context, event *TriggerEvent) error
	GetTriggerEvent(ctx context.Context, id string) (*TriggerEvent, error)

	CreateActionInvocation(ctx context.Context, invocation *ActionInvocation) error
	UpdateActionInvocation(ctx context.Context, invocation *ActionInvocation) error
	ListActionInvocations(ctx context.Context, actionDefinitionID string) ([]*ActionInvocation, error)

	// Change log. AppendChangeEntry must serialize per (entityType,
	// entityId): the version assigned inside must stay dense.
	AppendChangeEntry(ctx context.Context, entry *ChangeEntry) error
	LatestChangeVersion(ctx context.Context, entityType, entityID string) (int, error)
	// ListChangeEntries returns entries with version <= maxVersion in
	// ascending version order; maxVersion <= 0 means all.
	ListChangeEntries(ctx context.Context, entityType, entityID string, maxVersion int) ([]*ChangeEntry, error)
}
