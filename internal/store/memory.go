package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Memory is the reference Store driver: mutex-guarded maps, value-copy
// reads and writes so callers never alias driver-owned rows.
type Memory struct {
	mu sync.RWMutex

	users             map[string]User
	recipients        map[string]Recipient
	bundles           map[string]Bundle
	files             map[string]File
	bundleObjects     map[string]BundleObject
	assignments       map[string]BundleAssignment
	adminSessions     map[string]AdminSession
	recipientSessions map[string]RecipientSession
	apiTokens         map[string]APIToken
	magicLinks        map[string]MagicLink
	recipientOTPs     map[string]RecipientOTP
	deviceAuths       map[string]DeviceAuth
	presets           map[string]PermissionPreset
	triggerDefs       map[string]TriggerDefinition
	actionDefs        map[string]ActionDefinition
	mappings          map[string]TriggerActionMapping
	triggerEvents     map[string]TriggerEvent
	invocations       map[string]ActionInvocation
	downloadEvents    map[string]DownloadEvent
	changeEntries     map[string][]ChangeEntry // key entityType/entityID, ascending version
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		users:             map[string]User{},
		recipients:        map[string]Recipient{},
		bundles:           map[string]Bundle{},
		files:             map[string]File{},
		bundleObjects:     map[string]BundleObject{},
		assignments:       map[string]BundleAssignment{},
		adminSessions:     map[string]AdminSession{},
		recipientSessions: map[string]RecipientSession{},
		apiTokens:         map[string]APIToken{},
		magicLinks:        map[string]MagicLink{},
		recipientOTPs:     map[string]RecipientOTP{},
		deviceAuths:       map[string]DeviceAuth{},
		presets:           map[string]PermissionPreset{},
		triggerDefs:       map[string]TriggerDefinition{},
		actionDefs:        map[string]ActionDefinition{},
		mappings:          map[string]TriggerActionMapping{},
		triggerEvents:     map[string]TriggerEvent{},
		invocations:       map[string]ActionInvocation{},
		downloadEvents:    map[string]DownloadEvent{},
		changeEntries:     map[string][]ChangeEntry{},
	}
}

var _ Store = (*Memory)(nil)

func changeKey(entityType, entityID string) string {
	return entityType + "/" + entityID
}

// Users.

func (m *Memory) CreateUser(_ context.Context, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if strings.EqualFold(existing.Email, user.Email) {
			return fmt.Errorf("user email %s: %w", user.Email, ErrConflict)
		}
	}
	m.users[user.ID] = *user
	return nil
}

func (m *Memory) GetUser(_ context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	user, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &user, nil
}

func (m *Memory) GetUserByEmail(_ context.Context, email string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, user := range m.users {
		if strings.EqualFold(user.Email, email) {
			u := user
			return &u, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) ListUsers(_ context.Context) ([]*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*User, 0, len(m.users))
	for _, user := range m.users {
		u := user
		out = append(out, &u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) UpdateUser(_ context.Context, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[user.ID]; !ok {
		return ErrNotFound
	}
	m.users[user.ID] = *user
	return nil
}

func (m *Memory) DeleteUser(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return ErrNotFound
	}
	for _, token := range m.apiTokens {
		if token.UserID == id && token.RevokedAt == nil {
			return ErrInUse
		}
	}
	delete(m.users, id)
	return nil
}

// Recipients.

func (m *Memory) CreateRecipient(_ context.Context, recipient *Recipient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.recipients {
		if strings.EqualFold(existing.Email, recipient.Email) {
			return fmt.Errorf("recipient email %s: %w", recipient.Email, ErrConflict)
		}
	}
	m.recipients[recipient.ID] = *recipient
	return nil
}

func (m *Memory) GetRecipient(_ context.Context, id string) (*Recipient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	recipient, ok := m.recipients[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &recipient, nil
}

func (m *Memory) GetRecipientByEmail(_ context.Context, email string) (*Recipient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, recipient := range m.recipients {
		if strings.EqualFold(recipient.Email, email) {
			r := recipient
			return &r, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) ListRecipients(_ context.Context) ([]*Recipient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Recipient, 0, len(m.recipients))
	for _, recipient := range m.recipients {
		r := recipient
		out = append(out, &r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) UpdateRecipient(_ context.Context, recipient *Recipient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.recipients[recipient.ID]; !ok {
		return ErrNotFound
	}
	m.recipients[recipient.ID] = *recipient
	return nil
}

func (m *Memory) DeleteRecipient(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.recipients[id]; !ok {
		return ErrNotFound
	}
	for _, assignment := range m.assignments {
		if assignment.RecipientID == id {
			return ErrInUse
		}
	}
	delete(m.recipients, id)
	return nil
}

// Bundles.

func (m *Memory) CreateBundle(_ context.Context, bundle *Bundle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bundles[bundle.ID] = *bundle
	return nil
}

func (m *Memory) GetBundle(_ context.Context, id string) (*Bundle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bundle, ok := m.bundles[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &bundle, nil
}

func (m *Memory) ListBundles(_ context.Context) ([]*Bundle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Bundle, 0, len(m.bundles))
	for _, bundle := range m.bundles {
		b := bundle
		out = append(out, &b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) UpdateBundle(_ context.Context, bundle *Bundle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bundles[bundle.ID]; !ok {
		return ErrNotFound
	}
	m.bundles[bundle.ID] = *bundle
	return nil
}

func (m *Memory) DeleteBundle(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bundles[id]; !ok {
		return ErrNotFound
	}
	for _, assignment := range m.assignments {
		if assignment.BundleID == id {
			return ErrInUse
		}
	}
	for _, object := range m.bundleObjects {
		if object.BundleID == id {
			return ErrInUse
		}
	}
	delete(m.bundles, id)
	return nil
}

func (m *Memory) UpdateBundlePointer(_ context.Context, bundleID, storagePath, checksum, digest string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bundle, ok := m.bundles[bundleID]
	if !ok {
		return ErrNotFound
	}
	bundle.StoragePath = storagePath
	bundle.Checksum = checksum
	bundle.BundleDigest = digest
	bundle.UpdatedAt = time.Now().UTC()
	m.bundles[bundleID] = bundle
	return nil
}

// Files.

func (m *Memory) CreateFile(_ context.Context, file *File) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[file.ID] = *file
	return nil
}

func (m *Memory) GetFile(_ context.Context, id string) (*File, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	file, ok := m.files[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &file, nil
}

func (m *Memory) ListFiles(_ context.Context) ([]*File, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*File, 0, len(m.files))
	for _, file := range m.files {
		f := file
		out = append(out, &f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) DeleteFile(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[id]; !ok {
		return ErrNotFound
	}
	for _, object := range m.bundleObjects {
		if object.FileID == id {
			return ErrInUse
		}
	}
	delete(m.files, id)
	return nil
}

// Bundle objects.

func (m *Memory) CreateBundleObject(_ context.Context, object *BundleObject) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bundles[object.BundleID]; !ok {
		return ErrNotFound
	}
	if _, ok := m.files[object.FileID]; !ok {
		return ErrNotFound
	}
	m.bundleObjects[object.ID] = *object
	return nil
}

func (m *Memory) ListBundleObjects(_ context.Context, bundleID string) ([]*BundleObject, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*BundleObject
	for _, object := range m.bundleObjects {
		if object.BundleID == bundleID {
			o := object
			out = append(out, &o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) DeleteBundleObject(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bundleObjects[id]; !ok {
		return ErrNotFound
	}
	delete(m.bundleObjects, id)
	return nil
}

func (m *Memory) ListBundleIDsForFiles(_ context.Context, fileIDs []string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	wanted := make(map[string]struct{}, len(fileIDs))
	for _, id := range fileIDs {
		wanted[id] = struct{}{}
	}
	seen := map[string]struct{}{}
	var out []string
	for _, object := range m.bundleObjects {
		if _, ok := wanted[object.FileID]; !ok {
			continue
		}
		if _, dup := seen[object.BundleID]; dup {
			continue
		}
		seen[object.BundleID] = struct{}{}
		out = append(out, object.BundleID)
	}
	sort.Strings(out)
	return out, nil
}

// Assignments.

func (m *Memory) CreateAssignment(_ context.Context, assignment *BundleAssignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.recipients[assignment.RecipientID]; !ok {
		return ErrNotFound
	}
	if _, ok := m.bundles[assignment.BundleID]; !ok {
		return ErrNotFound
	}
	m.assignments[assignment.ID] = *assignment
	return nil
}

func (m *Memory) GetAssignment(_ context.Context, id string) (*BundleAssignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	assignment, ok := m.assignments[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &assignment, nil
}

func (m *Memory) FindAssignment(_ context.Context, recipientID, bundleID string) (*BundleAssignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, assignment := range m.assignments {
		if assignment.RecipientID == recipientID && assignment.BundleID == bundleID {
			a := assignment
			return &a, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) ListAssignmentsForRecipient(_ context.Context, recipientID string) ([]*BundleAssignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*BundleAssignment
	for _, assignment := range m.assignments {
		if assignment.RecipientID == recipientID {
			a := assignment
			out = append(out, &a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) UpdateAssignment(_ context.Context, assignment *BundleAssignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.assignments[assignment.ID]; !ok {
		return ErrNotFound
	}
	m.assignments[assignment.ID] = *assignment
	return nil
}

func (m *Memory) DeleteAssignment(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.assignments[id]; !ok {
		return ErrNotFound
	}
	delete(m.assignments, id)
	return nil
}

func (m *Memory) RecordDownload(_ context.Context, assignmentID string, event *DownloadEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	assignment, ok := m.assignments[assignmentID]
	if !ok {
		return ErrNotFound
	}
	now := event.CreatedAt
	if now.IsZero() {
		now = time.Now().UTC()
		event.CreatedAt = now
	}
	assignment.DownloadsUsed++
	assignment.LastDownloadAt = &now
	assignment.UpdatedAt = now
	m.assignments[assignmentID] = assignment
	m.downloadEvents[event.ID] = *event
	return nil
}

// Sessions.

func (m *Memory) CreateAdminSession(_ context.Context, session *AdminSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.adminSessions[session.JTI] = *session
	return nil
}

func (m *Memory) GetAdminSession(_ context.Context, jti string) (*AdminSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.adminSessions[jti]
	if !ok {
		return nil, ErrNotFound
	}
	return &session, nil
}

func (m *Memory) RevokeAdminSession(_ context.Context, jti string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.adminSessions[jti]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	session.RevokedAt = &now
	m.adminSessions[jti] = session
	return nil
}

func (m *Memory) CreateRecipientSession(_ context.Context, session *RecipientSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recipientSessions[session.JTI] = *session
	return nil
}

func (m *Memory) GetRecipientSession(_ context.Context, jti string) (*RecipientSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.recipientSessions[jti]
	if !ok {
		return nil, ErrNotFound
	}
	return &session, nil
}

func (m *Memory) RevokeRecipientSession(_ context.Context, jti string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.recipientSessions[jti]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	session.RevokedAt = &now
	m.recipientSessions[jti] = session
	return nil
}

// API tokens.

func (m *Memory) CreateAPIToken(_ context.Context, token *APIToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.apiTokens[token.ID] = *token
	return nil
}

func (m *Memory) GetAPIToken(_ context.Context, id string) (*APIToken, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	token, ok := m.apiTokens[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &token, nil
}

func (m *Memory) GetAPITokenByHash(_ context.Context, tokenHash string) (*APIToken, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, token := range m.apiTokens {
		if token.TokenHash == tokenHash {
			t := token
			return &t, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) ListAPITokensForUser(_ context.Context, userID string) ([]*APIToken, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*APIToken
	for _, token := range m.apiTokens {
		if token.UserID == userID {
			t := token
			out = append(out, &t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) TouchAPIToken(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	token, ok := m.apiTokens[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	token.LastUsedAt = &now
	m.apiTokens[id] = token
	return nil
}

func (m *Memory) RevokeAPIToken(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	token, ok := m.apiTokens[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	token.RevokedAt = &now
	m.apiTokens[id] = token
	return nil
}

// Magic links.

func (m *Memory) CreateMagicLink(_ context.Context, link *MagicLink) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.magicLinks[link.ID] = *link
	return nil
}

func (m *Memory) GetMagicLinkByHash(_ context.Context, tokenHash string) (*MagicLink, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, link := range m.magicLinks {
		if link.TokenHash == tokenHash {
			l := link
			return &l, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) ConsumeMagicLink(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	link, ok := m.magicLinks[id]
	if !ok {
		return ErrNotFound
	}
	if link.ConsumedAt != nil {
		return ErrConflict
	}
	now := time.Now().UTC()
	link.ConsumedAt = &now
	m.magicLinks[id] = link
	return nil
}

// Recipient OTPs.

func (m *Memory) DeleteRecipientOTPs(_ context.Context, recipientID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, otp := range m.recipientOTPs {
		if otp.RecipientID == recipientID {
			delete(m.recipientOTPs, id)
		}
	}
	return nil
}

func (m *Memory) CreateRecipientOTP(_ context.Context, otp *RecipientOTP) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recipientOTPs[otp.ID] = *otp
	return nil
}

func (m *Memory) GetLatestRecipientOTP(_ context.Context, recipientID string) (*RecipientOTP, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *RecipientOTP
	for _, otp := range m.recipientOTPs {
		if otp.RecipientID != recipientID {
			continue
		}
		o := otp
		if latest == nil || o.CreatedAt.After(latest.CreatedAt) {
			latest = &o
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return latest, nil
}

func (m *Memory) IncrementOTPAttempts(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	otp, ok := m.recipientOTPs[id]
	if !ok {
		return ErrNotFound
	}
	otp.Attempts++
	m.recipientOTPs[id] = otp
	return nil
}

func (m *Memory) DeleteRecipientOTP(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.recipientOTPs, id)
	return nil
}

// Device auth.

func (m *Memory) CreateDeviceAuth(_ context.Context, device *DeviceAuth) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deviceAuths[device.ID] = *device
	return nil
}

func (m *Memory) GetDeviceAuthByDeviceCode(_ context.Context, deviceCodeHash string) (*DeviceAuth, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, device := range m.deviceAuths {
		if device.DeviceCodeHash == deviceCodeHash {
			d := device
			return &d, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) GetDeviceAuthByUserCode(_ context.Context, userCodeHash string) (*DeviceAuth, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, device := range m.deviceAuths {
		if device.UserCodeHash == userCodeHash {
			d := device
			return &d, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) ApproveDeviceAuth(_ context.Context, id, tokenID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	device, ok := m.deviceAuths[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	device.ApprovedAt = &now
	device.TokenID = tokenID
	m.deviceAuths[id] = device
	return nil
}

func (m *Memory) TouchDeviceAuthPoll(_ context.Context, id, ip string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	device, ok := m.deviceAuths[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	device.LastPollAt = &now
	device.LastPollIP = ip
	m.deviceAuths[id] = device
	return nil
}

// Presets.

func (m *Memory) CreatePreset(_ context.Context, preset *PermissionPreset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.presets[preset.ID] = *preset
	return nil
}

func (m *Memory) GetPreset(_ context.Context, id string) (*PermissionPreset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	preset, ok := m.presets[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &preset, nil
}

func (m *Memory) ListPresets(_ context.Context) ([]*PermissionPreset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*PermissionPreset, 0, len(m.presets))
	for _, preset := range m.presets {
		p := preset
		out = append(out, &p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) UpdatePreset(_ context.Context, preset *PermissionPreset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.presets[preset.ID]; !ok {
		return ErrNotFound
	}
	m.presets[preset.ID] = *preset
	return nil
}

func (m *Memory) DeletePreset(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.presets[id]; !ok {
		return ErrNotFound
	}
	for _, user := range m.users {
		if user.PermissionPresetID == id {
			return ErrInUse
		}
	}
	delete(m.presets, id)
	return nil
}

// Trigger and action definitions.

func (m *Memory) CreateTriggerDefinition(_ context.Context, def *TriggerDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.triggerDefs[def.ID] = *def
	return nil
}

func (m *Memory) GetTriggerDefinition(_ context.Context, id string) (*TriggerDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	def, ok := m.triggerDefs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &def, nil
}

func (m *Memory) ListTriggerDefinitions(_ context.Context) ([]*TriggerDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*TriggerDefinition, 0, len(m.triggerDefs))
	for _, def := range m.triggerDefs {
		d := def
		out = append(out, &d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) UpdateTriggerDefinition(_ context.Context, def *TriggerDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.triggerDefs[def.ID]; !ok {
		return ErrNotFound
	}
	m.triggerDefs[def.ID] = *def
	return nil
}

func (m *Memory) DeleteTriggerDefinition(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.triggerDefs[id]; !ok {
		return ErrNotFound
	}
	for _, mapping := range m.mappings {
		if mapping.TriggerID == id {
			return ErrInUse
		}
	}
	delete(m.triggerDefs, id)
	return nil
}

func (m *Memory) CreateActionDefinition(_ context.Context, def *ActionDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actionDefs[def.ID] = *def
	return nil
}

func (m *Memory) GetActionDefinition(_ context.Context, id string) (*ActionDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	def, ok := m.actionDefs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &def, nil
}

func (m *Memory) ListActionDefinitions(_ context.Context) ([]*ActionDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*ActionDefinition, 0, len(m.actionDefs))
	for _, def := range m.actionDefs {
		d := def
		out = append(out, &d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) UpdateActionDefinition(_ context.Context, def *ActionDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.actionDefs[def.ID]; !ok {
		return ErrNotFound
	}
	m.actionDefs[def.ID] = *def
	return nil
}

func (m *Memory) DeleteActionDefinition(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.actionDefs[id]; !ok {
		return ErrNotFound
	}
	for _, mapping := range m.mappings {
		if mapping.ActionID == id {
			return ErrInUse
		}
	}
	delete(m.actionDefs, id)
	return nil
}

// Mappings.

func (m *Memory) CreateMapping(_ context.Context, mapping *TriggerActionMapping) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.triggerDefs[mapping.TriggerID]; !ok {
		return ErrNotFound
	}
	if _, ok := m.actionDefs[mapping.ActionID]; !ok {
		return ErrNotFound
	}
	m.mappings[mapping.ID] = *mapping
	return nil
}

func (m *Memory) GetMapping(_ context.Context, id string) (*TriggerActionMapping, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mapping, ok := m.mappings[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &mapping, nil
}

func (m *Memory) ListMappingsForTrigger(_ context.Context, triggerID string) ([]*TriggerActionMapping, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*TriggerActionMapping
	for _, mapping := range m.mappings {
		if mapping.TriggerID == triggerID && mapping.IsEnabled {
			mp := mapping
			out = append(out, &mp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) ListMappings(_ context.Context) ([]*TriggerActionMapping, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*TriggerActionMapping, 0, len(m.mappings))
	for _, mapping := range m.mappings {
		mp := mapping
		out = append(out, &mp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) UpdateMapping(_ context.Context, mapping *TriggerActionMapping) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.mappings[mapping.ID]; !ok {
		return ErrNotFound
	}
	m.mappings[mapping.ID] = *mapping
	return nil
}

func (m *Memory) DeleteMapping(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.mappings[id]; !ok {
		return ErrNotFound
	}
	delete(m.mappings, id)
	return nil
}

// Trigger events and invocations.

func (m *Memory) CreateTriggerEvent(_ context.Context, event *TriggerEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.triggerEvents[event.ID] = *event
	return nil
}

func (m *Memory) GetTriggerEvent(_ context.Context, id string) (*TriggerEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	event, ok := m.triggerEvents[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &event, nil
}

func (m *Memory) CreateActionInvocation(_ context.Context, invocation *ActionInvocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invocations[invocation.ID] = *invocation
	return nil
}

func (m *Memory) UpdateActionInvocation(_ context.Context, invocation *ActionInvocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.invocations[invocation.ID]; !ok {
		return ErrNotFound
	}
	m.invocations[invocation.ID] = *invocation
	return nil
}

func (m *Memory) ListActionInvocations(_ context.Context, actionDefinitionID string) ([]*ActionInvocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*ActionInvocation
	for _, invocation := range m.invocations {
		if invocation.ActionDefinitionID == actionDefinitionID {
			inv := invocation
			out = append(out, &inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

// Change log.

func (m *Memory) AppendChangeEntry(_ context.Context, entry *ChangeEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := changeKey(entry.EntityType, entry.EntityID)
	entries := m.changeEntries[key]
	next := 1
	if len(entries) > 0 {
		next = entries[len(entries)-1].Version + 1
	}
	if entry.Version != 0 && entry.Version != next {
		return fmt.Errorf("version %d, expected %d: %w", entry.Version, next, ErrConflict)
	}
	entry.Version = next
	m.changeEntries[key] = append(entries, *entry)
	return nil
}

func (m *Memory) LatestChangeVersion(_ context.Context, entityType, entityID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := m.changeEntries[changeKey(entityType, entityID)]
	if len(entries) == 0 {
		return 0, nil
	}
	return entries[len(entries)-1].Version, nil
}

func (m *Memory) ListChangeEntries(_ context.Context, entityType, entityID string, maxVersion int) ([]*ChangeEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := m.changeEntries[changeKey(entityType, entityID)]
	out := make([]*ChangeEntry, 0, len(entries))
	for _, entry := range entries {
		if maxVersion > 0 && entry.Version > maxVersion {
			break
		}
		e := entry
		out = append(out, &e)
	}
	return out, nil
}
