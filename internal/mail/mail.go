// Package mail renders and delivers authentication mail. The reference
// Mailer writes to the structured log, which doubles as the dev-mode
// delivery path; an SMTP implementation is an external collaborator.
package mail

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"text/template"

	sprig "github.com/Masterminds/sprig/v3"
)

// Message is one rendered mail ready for delivery.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Mailer delivers rendered messages.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// LogMailer logs instead of delivering. In dev deployments the logged
// body carries the magic link or OTP for manual pickup.
type LogMailer struct {
	logger *slog.Logger
}

// NewLogMailer wraps the logger.
func NewLogMailer(logger *slog.Logger) *LogMailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Send(_ context.Context, msg Message) error {
	m.logger.Info("mail delivery",
		"to", msg.To,
		"subject", msg.Subject,
		"body", msg.Body,
	)
	return nil
}

const magicLinkSource = `Hello{{ if .Name }} {{ .Name }}{{ end }},

Sign in to Latchflow with this link (valid {{ .TTLMinutes }} minutes):

  {{ .URL }}

If you did not request this, ignore this message.`

const otpSource = `Your Latchflow access code is {{ .Code }}.

It expires in {{ .TTLMinutes }} minutes. Code{{ if .BundleName }} for bundle {{ .BundleName | quote }}{{ end }} is single use.`

const deviceApprovedSource = `Device {{ .DeviceName | default "CLI" }} was approved for {{ .Email }}.

If this was not you, revoke the token immediately.`

// Templates holds the compiled mail bodies.
type Templates struct {
	magicLink      *template.Template
	otp            *template.Template
	deviceApproved *template.Template
}

// NewTemplates compiles the built-in mail templates with the sprig
// function set.
func NewTemplates() (*Templates, error) {
	funcs := sprig.TxtFuncMap()
	compile := func(name, source string) (*template.Template, error) {
		tmpl, err := template.New(name).Funcs(funcs).Parse(source)
		if err != nil {
			return nil, fmt.Errorf("mail: parse %s template: %w", name, err)
		}
		return tmpl, nil
	}
	magicLink, err := compile("magic-link", magicLinkSource)
	if err != nil {
		return nil, err
	}
	otp, err := compile("otp", otpSource)
	if err != nil {
		return nil, err
	}
	deviceApproved, err := compile("device-approved", deviceApprovedSource)
	if err != nil {
		return nil, err
	}
	return &Templates{magicLink: magicLink, otp: otp, deviceApproved: deviceApproved}, nil
}

func render(tmpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("mail: render %s: %w", tmpl.Name(), err)
	}
	return buf.String(), nil
}

// MagicLinkData feeds the admin sign-in template.
type MagicLinkData struct {
	Name       string
	URL        string
	TTLMinutes int
}

// MagicLink renders the admin sign-in message.
func (t *Templates) MagicLink(to string, data MagicLinkData) (Message, error) {
	body, err := render(t.magicLink, data)
	if err != nil {
		return Message{}, err
	}
	return Message{To: to, Subject: "Your Latchflow sign-in link", Body: body}, nil
}

// OTPData feeds the recipient code template.
type OTPData struct {
	Code       string
	TTLMinutes int
	BundleName string
}

// OTP renders the recipient access-code message.
func (t *Templates) OTP(to string, data OTPData) (Message, error) {
	body, err := render(t.otp, data)
	if err != nil {
		return Message{}, err
	}
	return Message{To: to, Subject: "Your Latchflow access code", Body: body}, nil
}

// DeviceApprovedData feeds the CLI approval notice.
type DeviceApprovedData struct {
	Email      string
	DeviceName string
}

// DeviceApproved renders the CLI approval notice.
func (t *Templates) DeviceApproved(to string, data DeviceApprovedData) (Message, error) {
	body, err := render(t.deviceApproved, data)
	if err != nil {
		return Message{}, err
	}
	return Message{To: to, Subject: "Latchflow device approved", Body: body}, nil
}
