package mail

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTemplates_MagicLink(t *testing.T) {
	templates, err := NewTemplates()
	require.NoError(t, err)

	msg, err := templates.MagicLink("ops@example.com", MagicLinkData{
		Name:       "Sam",
		URL:        "https://latchflow.example.com/auth/admin/callback?token=abc",
		TTLMinutes: 15,
	})
	require.NoError(t, err)
	require.Equal(t, "ops@example.com", msg.To)
	require.Contains(t, msg.Body, "Hello Sam")
	require.Contains(t, msg.Body, "token=abc")
	require.Contains(t, msg.Body, "15 minutes")

	// Nameless greeting still reads cleanly.
	anon, err := templates.MagicLink("x@example.com", MagicLinkData{URL: "u", TTLMinutes: 15})
	require.NoError(t, err)
	require.Contains(t, anon.Body, "Hello,")
}

func TestTemplates_OTP(t *testing.T) {
	templates, err := NewTemplates()
	require.NoError(t, err)

	msg, err := templates.OTP("r@example.com", OTPData{Code: "123456", TTLMinutes: 10, BundleName: "Q3 Reports"})
	require.NoError(t, err)
	require.Contains(t, msg.Body, "123456")
	require.Contains(t, msg.Body, `"Q3 Reports"`)
}

func TestTemplates_DeviceApproved(t *testing.T) {
	templates, err := NewTemplates()
	require.NoError(t, err)

	msg, err := templates.DeviceApproved("ops@example.com", DeviceApprovedData{Email: "ops@example.com"})
	require.NoError(t, err)
	// Sprig default fills the missing device name.
	require.Contains(t, msg.Body, "Device CLI was approved")
}

func TestLogMailer_Send(t *testing.T) {
	mailer := NewLogMailer(nil)
	require.NoError(t, mailer.Send(context.Background(), Message{To: "x@example.com", Subject: "s", Body: "b"}))
}
