package httpapi

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/latchflow/latchflow/internal/authz"
	"github.com/latchflow/latchflow/internal/bundle"
	"github.com/latchflow/latchflow/internal/config"
	"github.com/latchflow/latchflow/internal/history"
	"github.com/latchflow/latchflow/internal/mail"
	"github.com/latchflow/latchflow/internal/metrics"
	"github.com/latchflow/latchflow/internal/pipeline"
	"github.com/latchflow/latchflow/internal/plugins"
	"github.com/latchflow/latchflow/internal/storage"
	"github.com/latchflow/latchflow/internal/store"
)

// Deps is everything the HTTP surface needs.
type Deps struct {
	Config     config.Config
	Store      store.Store
	Logger     *slog.Logger
	Recorder   *metrics.Recorder
	Authorizer *authz.Authorizer
	Storage    *storage.Service
	Builder    *bundle.Builder
	Scheduler  *bundle.Scheduler
	Runner     *pipeline.Runner
	Registry   *plugins.Registry
	History    *history.Log
	Mailer     mail.Mailer
	Templates  *mail.Templates
	QueueName  string
}

// API owns the router and handler state.
type API struct {
	cfg       config.Config
	store     store.Store
	logger    *slog.Logger
	recorder  *metrics.Recorder
	auth      *authz.Authorizer
	storage   *storage.Service
	builder   *bundle.Builder
	scheduler *bundle.Scheduler
	runner    *pipeline.Runner
	registry  *plugins.Registry
	history   *history.Log
	mailer    mail.Mailer
	templates *mail.Templates
	queueName string

	// authLimiter throttles the credential endpoints by
	// (route, ip, subject).
	authLimiter *authz.RateLimiter

	// deviceTokens caches plaintext API tokens between CLI approval and
	// the next poll. Never persisted.
	deviceTokens *deviceTokenCache

	now func() time.Time
}

// New assembles the API.
func New(deps Deps) *API {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &API{
		cfg:          deps.Config,
		store:        deps.Store,
		logger:       deps.Logger,
		recorder:     deps.Recorder,
		auth:         deps.Authorizer,
		storage:      deps.Storage,
		builder:      deps.Builder,
		scheduler:    deps.Scheduler,
		runner:       deps.Runner,
		registry:     deps.Registry,
		history:      deps.History,
		mailer:       deps.Mailer,
		templates:    deps.Templates,
		queueName:    deps.QueueName,
		authLimiter:  authz.NewRateLimiter(),
		deviceTokens: newDeviceTokenCache(),
		now:          time.Now,
	}
}

// Router builds the chi tree.
func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/health", a.handleHealth)
	r.Method(http.MethodGet, "/metrics", a.recorder.Handler())

	r.Route("/auth", func(r chi.Router) {
		r.Post("/admin/start", a.wrap(a.startAdminAuth))
		r.Get("/admin/callback", a.wrap(a.adminCallback))
		r.Post("/admin/logout", a.wrap(a.adminLogout))

		r.Post("/recipient/start", a.wrap(a.startRecipientAuth))
		r.Post("/recipient/verify", a.wrap(a.verifyRecipientOTP))
		r.Post("/recipient/resend", a.wrap(a.resendRecipientOTP))

		r.Post("/cli/device/start", a.wrap(a.deviceStart))
		r.Post("/cli/device/approve", a.requireSession(a.deviceApprove))
		r.Post("/cli/device/poll", a.wrap(a.devicePoll))
	})

	r.Route("/portal", func(r chi.Router) {
		r.Get("/me", a.requireRecipient(a.portalMe, false))
		r.Get("/bundles", a.requireRecipient(a.portalBundles, false))
		r.Get("/bundles/{bundleId}/objects", a.requireRecipient(a.portalBundleObjects, true))
		r.Get("/bundles/{bundleId}", a.requireRecipient(a.portalDownload, true))
		// Signed release links carry their own credentials.
		r.Get("/bundles/{bundleId}/download", a.wrap(a.releaseDownload))
	})

	r.Route("/admin", func(r chi.Router) {
		r.Get("/bundles", a.guarded(a.listBundles))
		r.Post("/bundles", a.guarded(a.createBundle))
		r.Get("/bundles/{bundleId}", a.guarded(a.getBundle))
		r.Patch("/bundles/{bundleId}", a.guarded(a.updateBundle))
		r.Delete("/bundles/{bundleId}", a.guarded(a.deleteBundle))
		r.Get("/bundles/{bundleId}/objects", a.guarded(a.listBundleObjects))
		r.Post("/bundles/{bundleId}/objects", a.guarded(a.addBundleObject))
		r.Delete("/bundles/{bundleId}/objects/{objectId}", a.guarded(a.removeBundleObject))
		r.Post("/bundles/{bundleId}/build", a.guarded(a.buildBundle))
		r.Get("/bundles/{bundleId}/build/status", a.guarded(a.buildStatus))

		r.Get("/files", a.guarded(a.listFiles))
		r.Post("/files", a.guarded(a.uploadFile))
		r.Delete("/files/{fileId}", a.guarded(a.deleteFile))

		r.Get("/users", a.guarded(a.listUsers))
		r.Post("/users", a.guarded(a.createUser))
		r.Get("/users/{userId}", a.guarded(a.getUser))
		r.Patch("/users/{userId}", a.guarded(a.updateUser))
		r.Delete("/users/{userId}", a.guarded(a.deleteUser))

		r.Get("/recipients", a.guarded(a.listRecipients))
		r.Post("/recipients", a.guarded(a.createRecipient))
		r.Patch("/recipients/{recipientId}", a.guarded(a.updateRecipient))
		r.Delete("/recipients/{recipientId}", a.guarded(a.deleteRecipient))

		r.Get("/assignments", a.guarded(a.listAssignments))
		r.Post("/assignments", a.guarded(a.createAssignment))
		r.Patch("/assignments/{assignmentId}", a.guarded(a.updateAssignment))
		r.Delete("/assignments/{assignmentId}", a.guarded(a.deleteAssignment))

		r.Get("/presets", a.guarded(a.listPresets))
		r.Post("/presets", a.guarded(a.createPreset))
		r.Patch("/presets/{presetId}", a.guarded(a.updatePreset))
		r.Post("/presets/{presetId}/activate", a.guarded(a.activatePreset))
		r.Delete("/presets/{presetId}", a.guarded(a.deletePreset))

		r.Get("/triggers", a.guarded(a.listTriggers))
		r.Post("/triggers", a.guarded(a.createTrigger))
		r.Patch("/triggers/{triggerId}", a.guarded(a.updateTrigger))
		r.Delete("/triggers/{triggerId}", a.guarded(a.deleteTrigger))
		r.Post("/triggers/{triggerId}/fire", a.guarded(a.fireTrigger))

		r.Get("/actions", a.guarded(a.listActions))
		r.Post("/actions", a.guarded(a.createAction))
		r.Patch("/actions/{actionId}", a.guarded(a.updateAction))
		r.Delete("/actions/{actionId}", a.guarded(a.deleteAction))
		r.Get("/actions/{actionId}/invocations", a.guarded(a.listInvocations))

		r.Get("/pipelines", a.guarded(a.listMappings))
		r.Post("/pipelines", a.guarded(a.createMapping))
		r.Patch("/pipelines/{mappingId}", a.guarded(a.updateMapping))
		r.Delete("/pipelines/{mappingId}", a.guarded(a.deleteMapping))

		r.Get("/capabilities", a.guarded(a.listCapabilities))

		r.Post("/tokens", a.guarded(a.createToken))
		r.Get("/tokens", a.guarded(a.listTokens))
		r.Delete("/tokens/{tokenId}", a.guarded(a.revokeToken))

		r.Post("/permissions/simulate", a.guarded(a.simulatePermission))

		r.Get("/history/{entityType}/{entityId}", a.guarded(a.listHistory))
		r.Get("/history/{entityType}/{entityId}/{version}", a.guarded(a.materializeHistory))
	})

	return r
}

// handlerFunc is a handler that reports failures as errors.
type handlerFunc func(w http.ResponseWriter, r *http.Request) error

// wrap converts a handlerFunc into http.HandlerFunc with envelope
// error handling.
func (a *API) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h(w, r); err != nil {
			writeError(w, a.logger, err)
		}
	}
}

// guarded wires session-or-token auth plus the policy check for an
// admin route.
func (a *API) guarded(h handlerFunc) http.HandlerFunc {
	return a.requireAdminOrAPIToken(a.requirePermission(h))
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"queue":   a.queueName,
		"storage": a.storage.DriverName(),
	})
}

// deviceTokenCache holds plaintext tokens for the short approval
// window of the CLI device flow.
type deviceTokenCache struct {
	mu     sync.Mutex
	tokens map[string]deviceToken
}

type deviceToken struct {
	plaintext string
	expiresAt time.Time
}

func newDeviceTokenCache() *deviceTokenCache {
	return &deviceTokenCache{tokens: map[string]deviceToken{}}
}

func (c *deviceTokenCache) put(deviceAuthID, plaintext string, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens[deviceAuthID] = deviceToken{plaintext: plaintext, expiresAt: time.Now().Add(ttl)}
}

// take removes and returns the cached token; single use.
func (c *deviceTokenCache) take(deviceAuthID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tok, ok := c.tokens[deviceAuthID]
	if !ok {
		return "", false
	}
	delete(c.tokens, deviceAuthID)
	if time.Now().After(tok.expiresAt) {
		return "", false
	}
	return tok.plaintext, true
}
