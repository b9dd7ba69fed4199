package httpapi

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gavv/httpexpect/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/latchflow/latchflow/internal/authz"
	"github.com/latchflow/latchflow/internal/bundle"
	"github.com/latchflow/latchflow/internal/canonical"
	"github.com/latchflow/latchflow/internal/config"
	"github.com/latchflow/latchflow/internal/history"
	"github.com/latchflow/latchflow/internal/mail"
	"github.com/latchflow/latchflow/internal/metrics"
	"github.com/latchflow/latchflow/internal/pipeline"
	"github.com/latchflow/latchflow/internal/plugins"
	"github.com/latchflow/latchflow/internal/queue"
	"github.com/latchflow/latchflow/internal/storage"
	"github.com/latchflow/latchflow/internal/store"
)

// captureMailer keeps rendered mail in memory so tests can pull tokens
// and codes out of the bodies.
type captureMailer struct {
	mu       sync.Mutex
	messages []mail.Message
}

func (m *captureMailer) Send(_ context.Context, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	return nil
}

func (m *captureMailer) last(t *testing.T) mail.Message {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.messages)
	return m.messages[len(m.messages)-1]
}

type testEnv struct {
	api     *API
	store   *store.Memory
	storage *storage.Service
	mailer  *captureMailer
	expect  *httpexpect.Expect
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DatabaseURL = "memory://"
	cfg.Env = "test"
	cfg.Storage.LinkSecret = "test-link-secret"

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	recorder := metrics.NewRecorder(prometheus.NewRegistry())
	mem := store.NewMemory()

	limiter := authz.NewRateLimiter()
	cache := authz.NewCache(logger, recorder)
	auth := authz.NewAuthorizer(cache, limiter, logger, recorder, authz.Options{
		Mode:         cfg.Authz.Mode(),
		SystemUserID: cfg.History.SystemUserID,
	})

	driver, err := storage.NewFSDriver(t.TempDir())
	require.NoError(t, err)
	signer := storage.NewLinkSigner([]byte(cfg.Storage.LinkSecret), cfg.PublicBaseURL)
	svc := storage.NewService(driver, signer, logger)

	builder := bundle.NewBuilder(mem, svc, recorder, logger)
	scheduler := bundle.NewScheduler(builder, mem, logger, 10*time.Millisecond)
	t.Cleanup(scheduler.Stop)

	registry := plugins.NewRegistry(logger)
	q := queue.NewMemory(recorder)
	t.Cleanup(func() { _ = q.Stop(context.Background()) })
	runner, err := pipeline.NewRunner(mem, q, registry, logger)
	require.NoError(t, err)

	hist := history.NewLog(mem, history.StoreSerializer(mem), logger, history.Options{})
	templates, err := mail.NewTemplates()
	require.NoError(t, err)
	mailer := &captureMailer{}

	api := New(Deps{
		Config:     cfg,
		Store:      mem,
		Logger:     logger,
		Recorder:   recorder,
		Authorizer: auth,
		Storage:    svc,
		Builder:    builder,
		Scheduler:  scheduler,
		Runner:     runner,
		Registry:   registry,
		History:    hist,
		Mailer:     mailer,
		Templates:  templates,
		QueueName:  "memory",
	})

	srv := httptest.NewServer(api.Router())
	t.Cleanup(srv.Close)

	expect := httpexpect.WithConfig(httpexpect.Config{
		BaseURL:  srv.URL,
		Reporter: httpexpect.NewRequireReporter(t),
	})
	return &testEnv{api: api, store: mem, storage: svc, mailer: mailer, expect: expect}
}

// seedAdmin creates an active ADMIN and a live session, returning the
// raw cookie value.
func (env *testEnv) seedAdmin(t *testing.T, email string) (*store.User, string) {
	t.Helper()
	ctx := context.Background()
	now := time.Now()
	user := &store.User{
		ID:        uuid.NewString(),
		Email:     email,
		Role:      authz.RoleAdmin,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, env.store.CreateUser(ctx, user))
	raw, err := canonical.NewToken()
	require.NoError(t, err)
	require.NoError(t, env.store.CreateAdminSession(ctx, &store.AdminSession{
		JTI:       canonical.HashToken(raw),
		UserID:    user.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}))
	return user, raw
}

func (env *testEnv) seedRecipientSession(t *testing.T, recipientID string) string {
	t.Helper()
	raw, err := canonical.NewToken()
	require.NoError(t, err)
	now := time.Now()
	require.NoError(t, env.store.CreateRecipientSession(context.Background(), &store.RecipientSession{
		JTI:         canonical.HashToken(raw),
		RecipientID: recipientID,
		CreatedAt:   now,
		ExpiresAt:   now.Add(time.Hour),
	}))
	return raw
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	env.expect.GET("/health").Expect().
		Status(http.StatusOK).
		JSON().Object().
		HasValue("status", "ok").
		HasValue("queue", "memory").
		HasValue("storage", "fs")
}

func TestAdminRoutesRequireAuth(t *testing.T) {
	env := newTestEnv(t)
	env.expect.GET("/admin/bundles").Expect().
		Status(http.StatusUnauthorized).
		JSON().Object().
		HasValue("status", "error").
		HasValue("code", CodeUnauthorized)
}

func TestMagicLinkFlow(t *testing.T) {
	env := newTestEnv(t)

	// First sign-in bootstraps the ADMIN account.
	env.expect.POST("/auth/admin/start").
		WithJSON(map[string]string{"email": "root@example.com"}).
		Expect().Status(http.StatusNoContent)

	body := env.mailer.last(t).Body
	match := regexp.MustCompile(`token=([A-Za-z0-9_-]+)`).FindStringSubmatch(body)
	require.Len(t, match, 2)
	token := match[1]

	result := env.expect.GET("/auth/admin/callback").
		WithQuery("token", token).
		Expect().Status(http.StatusNoContent)
	cookie := result.Cookie(adminCookieName)
	cookie.Value().NotEmpty()
	require.Contains(t, result.Header("Set-Cookie").Raw(), "Max-Age=43200")

	// The link is single use.
	env.expect.GET("/auth/admin/callback").
		WithQuery("token", token).
		Expect().Status(http.StatusUnauthorized).
		JSON().Object().HasValue("code", CodeInvalidToken)

	// The cookie works against the admin surface.
	env.expect.GET("/admin/bundles").
		WithCookie(adminCookieName, cookie.Value().Raw()).
		Expect().Status(http.StatusOK)
}

func TestAdminLogoutRevokesSession(t *testing.T) {
	env := newTestEnv(t)
	_, cookie := env.seedAdmin(t, "admin@example.com")

	env.expect.POST("/auth/admin/logout").
		WithCookie(adminCookieName, cookie).
		Expect().Status(http.StatusNoContent)

	env.expect.GET("/admin/bundles").
		WithCookie(adminCookieName, cookie).
		Expect().Status(http.StatusUnauthorized)
}

func TestRecipientOTPFlow(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now()
	recipient := &store.Recipient{
		ID:        uuid.NewString(),
		Email:     "dana@example.com",
		IsEnabled: true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, env.store.CreateRecipient(context.Background(), recipient))

	env.expect.POST("/auth/recipient/start").
		WithJSON(map[string]string{"email": "dana@example.com"}).
		Expect().Status(http.StatusNoContent)

	body := env.mailer.last(t).Body
	match := regexp.MustCompile(`code is (\d{6})`).FindStringSubmatch(body)
	require.Len(t, match, 2)
	code := match[1]

	// A wrong code burns an attempt but not the flow.
	env.expect.POST("/auth/recipient/verify").
		WithJSON(map[string]string{"email": "dana@example.com", "otp": "000000"}).
		Expect().Status(http.StatusUnauthorized).
		JSON().Object().HasValue("code", CodeInvalidOTP)

	result := env.expect.POST("/auth/recipient/verify").
		WithJSON(map[string]string{"email": "dana@example.com", "otp": code}).
		Expect().Status(http.StatusNoContent)
	cookie := result.Cookie(recipientCookieName).Value().Raw()

	me := env.expect.GET("/portal/me").
		WithCookie(recipientCookieName, cookie).
		Expect().Status(http.StatusOK).
		JSON().Object()
	me.Value("recipient").Object().HasValue("id", recipient.ID)
	me.Value("bundles").Array().IsEmpty()
}

func TestRecipientStartNeverEnumerates(t *testing.T) {
	env := newTestEnv(t)
	env.expect.POST("/auth/recipient/start").
		WithJSON(map[string]string{"email": "nobody@example.com"}).
		Expect().Status(http.StatusNoContent)
}

func TestPortalDownloadAndLimit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	now := time.Now()

	recipient := &store.Recipient{
		ID: uuid.NewString(), Email: "r@example.com", IsEnabled: true,
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, env.store.CreateRecipient(ctx, recipient))
	cookie := env.seedRecipientSession(t, recipient.ID)

	bundleRow := &store.Bundle{
		ID: uuid.NewString(), Name: "release", IsEnabled: true,
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, env.store.CreateBundle(ctx, bundleRow))

	artifact := []byte("zip-bytes-stand-in")
	put, err := env.storage.PutFile(ctx, strings.NewReader(string(artifact)), "application/zip")
	require.NoError(t, err)
	require.NoError(t, env.store.UpdateBundlePointer(ctx, bundleRow.ID, put.StorageKey, put.SHA256, "digest"))

	maxDownloads := 1
	require.NoError(t, env.store.CreateAssignment(ctx, &store.BundleAssignment{
		ID: uuid.NewString(), RecipientID: recipient.ID, BundleID: bundleRow.ID,
		IsEnabled: true, MaxDownloads: &maxDownloads,
		CreatedAt: now, UpdatedAt: now,
	}))

	me := env.expect.GET("/portal/me").
		WithCookie(recipientCookieName, cookie).
		Expect().Status(http.StatusOK).
		JSON().Object()
	me.Value("recipient").Object().HasValue("email", "r@example.com")
	me.Value("bundles").Array().Length().IsEqual(1)
	me.Value("bundles").Array().Value(0).Object().
		HasValue("id", bundleRow.ID).
		HasValue("name", "release")

	first := env.expect.GET("/portal/bundles/" + bundleRow.ID).
		WithCookie(recipientCookieName, cookie).
		Expect().Status(http.StatusOK)
	// The header carries the bundle checksum verbatim.
	first.Header("ETag").IsEqual(put.SHA256)
	first.Body().IsEqual(string(artifact))

	env.expect.GET("/portal/bundles/" + bundleRow.ID).
		WithCookie(recipientCookieName, cookie).
		Expect().Status(http.StatusForbidden).
		JSON().Object().HasValue("code", CodeMaxDownloads)
}

func TestPortalDownloadUnbuiltBundle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	now := time.Now()

	recipient := &store.Recipient{
		ID: uuid.NewString(), Email: "r@example.com", IsEnabled: true,
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, env.store.CreateRecipient(ctx, recipient))
	cookie := env.seedRecipientSession(t, recipient.ID)

	bundleRow := &store.Bundle{
		ID: uuid.NewString(), Name: "pending", IsEnabled: true,
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, env.store.CreateBundle(ctx, bundleRow))
	require.NoError(t, env.store.CreateAssignment(ctx, &store.BundleAssignment{
		ID: uuid.NewString(), RecipientID: recipient.ID, BundleID: bundleRow.ID,
		IsEnabled: true, CreatedAt: now, UpdatedAt: now,
	}))

	env.expect.GET("/portal/bundles/" + bundleRow.ID).
		WithCookie(recipientCookieName, cookie).
		Expect().Status(http.StatusConflict).
		JSON().Object().HasValue("code", CodeNoStoragePath)
}

func TestPortalUnassignedBundleReadsAsMissing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	now := time.Now()

	recipient := &store.Recipient{
		ID: uuid.NewString(), Email: "r@example.com", IsEnabled: true,
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, env.store.CreateRecipient(ctx, recipient))
	cookie := env.seedRecipientSession(t, recipient.ID)

	bundleRow := &store.Bundle{
		ID: uuid.NewString(), Name: "private", IsEnabled: true,
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, env.store.CreateBundle(ctx, bundleRow))

	env.expect.GET("/portal/bundles/" + bundleRow.ID).
		WithCookie(recipientCookieName, cookie).
		Expect().Status(http.StatusNotFound).
		JSON().Object().HasValue("code", CodeNotFound)
}

func TestBundleLifecycleAndBuild(t *testing.T) {
	env := newTestEnv(t)
	_, cookie := env.seedAdmin(t, "admin@example.com")

	created := env.expect.POST("/admin/bundles").
		WithCookie(adminCookieName, cookie).
		WithJSON(map[string]any{"name": "nightly"}).
		Expect().Status(http.StatusCreated).
		JSON().Object()
	bundleID := created.Value("id").String().Raw()

	env.expect.POST("/admin/bundles/"+bundleID+"/build").
		WithCookie(adminCookieName, cookie).
		Expect().Status(http.StatusAccepted).
		JSON().Object().HasValue("status", "queued")

	// force is an optional body field.
	env.expect.POST("/admin/bundles/"+bundleID+"/build").
		WithCookie(adminCookieName, cookie).
		WithJSON(map[string]any{"force": true}).
		Expect().Status(http.StatusAccepted).
		JSON().Object().HasValue("status", "queued")

	require.Eventually(t, func() bool {
		bundleRow, err := env.store.GetBundle(context.Background(), bundleID)
		return err == nil && bundleRow.Checksum != ""
	}, 2*time.Second, 20*time.Millisecond)

	status := env.expect.GET("/admin/bundles/"+bundleID+"/build/status").
		WithCookie(adminCookieName, cookie).
		Expect().Status(http.StatusOK).
		JSON().Object()
	status.Value("checksum").String().NotEmpty()
	status.Value("storagePath").String().NotEmpty()
}

func TestBundleDeleteInUse(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	now := time.Now()
	_, cookie := env.seedAdmin(t, "admin@example.com")

	bundleRow := &store.Bundle{ID: uuid.NewString(), Name: "held", IsEnabled: true, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, env.store.CreateBundle(ctx, bundleRow))
	recipient := &store.Recipient{ID: uuid.NewString(), Email: "r@example.com", IsEnabled: true, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, env.store.CreateRecipient(ctx, recipient))
	require.NoError(t, env.store.CreateAssignment(ctx, &store.BundleAssignment{
		ID: uuid.NewString(), RecipientID: recipient.ID, BundleID: bundleRow.ID,
		IsEnabled: true, CreatedAt: now, UpdatedAt: now,
	}))

	env.expect.DELETE("/admin/bundles/"+bundleRow.ID).
		WithCookie(adminCookieName, cookie).
		Expect().Status(http.StatusConflict).
		JSON().Object().HasValue("code", CodeInUse)
}

func TestAdminWritesAppendHistory(t *testing.T) {
	env := newTestEnv(t)
	_, cookie := env.seedAdmin(t, "admin@example.com")

	created := env.expect.POST("/admin/bundles").
		WithCookie(adminCookieName, cookie).
		WithJSON(map[string]any{"name": "audited"}).
		Expect().Status(http.StatusCreated).
		JSON().Object()
	bundleID := created.Value("id").String().Raw()

	env.expect.PATCH("/admin/bundles/"+bundleID).
		WithCookie(adminCookieName, cookie).
		WithJSON(map[string]any{"name": "audited-v2"}).
		Expect().Status(http.StatusOK)

	entries := env.expect.GET("/admin/history/bundle/"+bundleID).
		WithCookie(adminCookieName, cookie).
		Expect().Status(http.StatusOK).
		JSON().Object().Value("items").Array()
	entries.Length().IsEqual(2)

	state := env.expect.GET("/admin/history/bundle/"+bundleID+"/2").
		WithCookie(adminCookieName, cookie).
		Expect().Status(http.StatusOK).
		JSON().Object().Value("state").Object()
	state.HasValue("name", "audited-v2")
}

func TestDeviceFlow(t *testing.T) {
	env := newTestEnv(t)
	admin, cookie := env.seedAdmin(t, "admin@example.com")

	started := env.expect.POST("/auth/cli/device/start").
		WithJSON(map[string]string{"email": admin.Email, "deviceName": "laptop"}).
		Expect().Status(http.StatusOK).
		JSON().Object()
	deviceCode := started.Value("device_code").String().Raw()
	userCode := started.Value("user_code").String().Raw()
	started.Value("interval").Number().IsEqual(5)
	started.Value("expires_in").Number().Gt(0)

	// Pending before approval.
	env.expect.POST("/auth/cli/device/poll").
		WithJSON(map[string]string{"device_code": deviceCode}).
		Expect().Status(http.StatusAccepted).
		JSON().Object().HasValue("status", "pending")

	env.expect.POST("/auth/cli/device/approve").
		WithCookie(adminCookieName, cookie).
		WithJSON(map[string]string{"user_code": userCode}).
		Expect().Status(http.StatusNoContent)

	// The poll interval applies between polls.
	env.expect.POST("/auth/cli/device/poll").
		WithJSON(map[string]string{"device_code": deviceCode}).
		Expect().Status(http.StatusTooManyRequests).
		JSON().Object().HasValue("code", CodeSlowDown)

	// Clear the interval gate, then collect the token.
	advanceClock(t, env, 10*time.Second)

	token := env.expect.POST("/auth/cli/device/poll").
		WithJSON(map[string]string{"device_code": deviceCode}).
		Expect().Status(http.StatusOK).
		JSON().Object()
	token.HasValue("token_type", "Bearer")
	access := token.Value("access_token").String().Raw()
	require.True(t, strings.HasPrefix(access, "lfk_"))

	env.expect.GET("/admin/bundles").
		WithHeader("Authorization", "Bearer "+access).
		Expect().Status(http.StatusOK)

	// The plaintext is handed out exactly once.
	advanceClock(t, env, 20*time.Second)
	env.expect.POST("/auth/cli/device/poll").
		WithJSON(map[string]string{"device_code": deviceCode}).
		Expect().Status(http.StatusGone).
		JSON().Object().HasValue("code", CodeUnavailable)
}

func TestDevicePollIntervalPerIP(t *testing.T) {
	env := newTestEnv(t)
	admin, _ := env.seedAdmin(t, "admin@example.com")

	deviceCode := env.expect.POST("/auth/cli/device/start").
		WithJSON(map[string]string{"email": admin.Email}).
		Expect().Status(http.StatusOK).
		JSON().Object().Value("device_code").String().Raw()

	env.expect.POST("/auth/cli/device/poll").
		WithHeader("X-Forwarded-For", "198.51.100.7").
		WithJSON(map[string]string{"device_code": deviceCode}).
		Expect().Status(http.StatusAccepted)

	// A different caller is not throttled by the first one's poll.
	env.expect.POST("/auth/cli/device/poll").
		WithHeader("X-Forwarded-For", "203.0.113.9").
		WithJSON(map[string]string{"device_code": deviceCode}).
		Expect().Status(http.StatusAccepted)

	env.expect.POST("/auth/cli/device/poll").
		WithHeader("X-Forwarded-For", "203.0.113.9").
		WithJSON(map[string]string{"device_code": deviceCode}).
		Expect().Status(http.StatusTooManyRequests).
		JSON().Object().HasValue("code", CodeSlowDown)
}

// advanceClock shifts the API's clock forward so poll-interval gates
// clear without sleeping.
func advanceClock(t *testing.T, env *testEnv, d time.Duration) {
	t.Helper()
	env.api.now = func() time.Time { return time.Now().Add(d) }
	t.Cleanup(func() { env.api.now = time.Now })
}

func TestSimulatePermission(t *testing.T) {
	env := newTestEnv(t)
	_, cookie := env.seedAdmin(t, "admin@example.com")
	ctx := context.Background()
	now := time.Now()

	executor := &store.User{
		ID: uuid.NewString(), Email: "exec@example.com",
		Role: authz.RoleExecutor, IsActive: true,
		DirectPermissions: []authz.Rule{{Action: "read", Resource: "bundle"}},
		CreatedAt:         now, UpdatedAt: now,
	}
	require.NoError(t, env.store.CreateUser(ctx, executor))

	result := env.expect.POST("/admin/permissions/simulate").
		WithCookie(adminCookieName, cookie).
		WithJSON(map[string]any{
			"userId": executor.ID,
			"method": "GET",
			"route":  "/admin/bundles",
		}).
		Expect().Status(http.StatusOK).
		JSON().Object()
	result.HasValue("ok", true)
	result.HasValue("reason", string(authz.ReasonRuleMatch))

	denied := env.expect.POST("/admin/permissions/simulate").
		WithCookie(adminCookieName, cookie).
		WithJSON(map[string]any{
			"userId": executor.ID,
			"method": "DELETE",
			"route":  "/admin/bundles/{bundleId}",
		}).
		Expect().Status(http.StatusOK).
		JSON().Object()
	denied.HasValue("ok", false)
}

func TestCreateTokenMintedOnce(t *testing.T) {
	env := newTestEnv(t)
	_, cookie := env.seedAdmin(t, "admin@example.com")

	obj := env.expect.POST("/admin/tokens").
		WithCookie(adminCookieName, cookie).
		WithJSON(map[string]any{"deviceName": "ci-runner"}).
		Expect().Status(http.StatusCreated).
		JSON().Object()
	plaintext := obj.Value("token").String().Raw()
	require.True(t, strings.HasPrefix(plaintext, "lfk_"))

	env.expect.GET("/admin/bundles").
		WithHeader("Authorization", "Bearer "+plaintext).
		Expect().Status(http.StatusOK)

	// Listing never echoes the secret back.
	items := env.expect.GET("/admin/tokens").
		WithCookie(adminCookieName, cookie).
		Expect().Status(http.StatusOK).
		JSON().Object().Value("items").Array()
	items.Length().IsEqual(1)
	items.Value(0).Object().NotContainsKey("token")

	tokenID := items.Value(0).Object().Value("id").String().Raw()
	env.expect.DELETE("/admin/tokens/"+tokenID).
		WithCookie(adminCookieName, cookie).
		Expect().Status(http.StatusNoContent)

	env.expect.GET("/admin/bundles").
		WithHeader("Authorization", "Bearer "+plaintext).
		Expect().Status(http.StatusUnauthorized)
}

func TestAPITokenScopes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	now := time.Now()
	admin, _ := env.seedAdmin(t, "admin@example.com")

	secret, err := canonical.NewToken()
	require.NoError(t, err)
	require.NoError(t, env.store.CreateAPIToken(ctx, &store.APIToken{
		ID: uuid.NewString(), TokenHash: canonical.HashToken(secret),
		UserID: admin.ID, Scopes: []string{"core:read"}, CreatedAt: now,
	}))

	env.expect.GET("/admin/bundles").
		WithHeader("Authorization", "Bearer lfk_"+secret).
		Expect().Status(http.StatusOK)

	env.expect.POST("/admin/bundles").
		WithHeader("Authorization", "Bearer lfk_"+secret).
		WithJSON(map[string]any{"name": "blocked"}).
		Expect().Status(http.StatusForbidden).
		JSON().Object().HasValue("code", CodeForbidden)
}
