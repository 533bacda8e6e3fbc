// Package notify delivers best-effort email notifications to attendees:
// freshly provisioned credentials and end-of-workshop teardown notices.
//
// Messages are multipart/alternative with plain-text and HTML bodies. An
// unconfigured mailer logs and skips rather than failing, so environments
// without SMTP still orchestrate normally.
package notify

import (
	"context"
	"fmt"
	"mime/multipart"
	"net/smtp"
	"net/textproto"
	"sort"
	"strings"

	"github.com/techlabs/labforge/pkg/telemetry"
)

// Config configures the SMTP mailer. An empty host disables sending.
type Config struct {
	// Host is the SMTP server hostname.
	Host string `yaml:"host"`

	// Port is the SMTP server port.
	Port int `yaml:"port"`

	// Username authenticates against the server; empty skips auth.
	Username string `yaml:"username"`

	// Password authenticates against the server.
	Password string `yaml:"password"`

	// From is the sender address.
	From string `yaml:"from"`
}

// Configured reports whether the mailer can actually send.
func (c Config) Configured() bool {
	return c.Host != "" && c.From != ""
}

// sendFunc matches smtp.SendMail; tests substitute it.
type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Mailer sends attendee notifications over SMTP. It implements
// orchestrator.Notifier.
type Mailer struct {
	config Config
	logger *telemetry.Logger
	send   sendFunc
}

// NewMailer creates a mailer with the given configuration.
func NewMailer(cfg Config, logger *telemetry.Logger) *Mailer {
	if logger == nil {
		logger = telemetry.FromContext(context.Background())
	}
	return &Mailer{
		config: cfg,
		logger: logger.NewComponentLogger("notify"),
		send:   smtp.SendMail,
	}
}

// SendCredentials mails freshly provisioned credentials to an attendee.
func (m *Mailer) SendCredentials(ctx context.Context, email, name, workshopName string, credentials map[string]string) error {
	subject := fmt.Sprintf("Your environment for %s is ready", workshopName)

	var plain, html strings.Builder
	fmt.Fprintf(&plain, "Hello %s,\n\n", name)
	fmt.Fprintf(&plain, "Your cloud environment for the workshop %q has been provisioned.\n\n", workshopName)
	fmt.Fprintf(&plain, "Your credentials:\n")

	fmt.Fprintf(&html, "<html><body>")
	fmt.Fprintf(&html, "<p>Hello %s,</p>", name)
	fmt.Fprintf(&html, "<p>Your cloud environment for the workshop <strong>%s</strong> has been provisioned.</p>", workshopName)
	fmt.Fprintf(&html, "<p>Your credentials:</p><table>")

	for _, key := range sortedKeys(credentials) {
		fmt.Fprintf(&plain, "  %s: %s\n", key, credentials[key])
		fmt.Fprintf(&html, "<tr><td><strong>%s</strong></td><td><code>%s</code></td></tr>", key, credentials[key])
	}

	fmt.Fprintf(&plain, "\nPlease change your password after the first login.\n")
	fmt.Fprintf(&html, "</table><p>Please change your password after the first login.</p>")
	fmt.Fprintf(&html, "</body></html>")

	return m.deliver(ctx, email, subject, plain.String(), html.String())
}

// SendCompletionNotice mails the end-of-workshop teardown warning.
func (m *Mailer) SendCompletionNotice(ctx context.Context, email, name, workshopName string) error {
	subject := fmt.Sprintf("Workshop %s has ended", workshopName)

	var plain, html strings.Builder
	fmt.Fprintf(&plain, "Hello %s,\n\n", name)
	fmt.Fprintf(&plain, "The workshop %q has ended. Your cloud environment will be removed soon.\n", workshopName)
	fmt.Fprintf(&plain, "Please save any work you want to keep.\n")

	fmt.Fprintf(&html, "<html><body>")
	fmt.Fprintf(&html, "<p>Hello %s,</p>", name)
	fmt.Fprintf(&html, "<p>The workshop <strong>%s</strong> has ended. Your cloud environment will be removed soon.</p>", workshopName)
	fmt.Fprintf(&html, "<p>Please save any work you want to keep.</p>")
	fmt.Fprintf(&html, "</body></html>")

	return m.deliver(ctx, email, subject, plain.String(), html.String())
}

// deliver builds and sends one multipart/alternative message.
func (m *Mailer) deliver(ctx context.Context, to, subject, plain, html string) error {
	if !m.config.Configured() {
		m.logger.WithField("to", to).Debug("smtp not configured, notification skipped")
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg, err := buildMessage(m.config.From, to, subject, plain, html)
	if err != nil {
		return fmt.Errorf("failed to build message: %w", err)
	}

	var auth smtp.Auth
	if m.config.Username != "" {
		auth = smtp.PlainAuth("", m.config.Username, m.config.Password, m.config.Host)
	}

	addr := fmt.Sprintf("%s:%d", m.config.Host, m.config.Port)
	if err := m.send(addr, auth, m.config.From, []string{to}, msg); err != nil {
		return fmt.Errorf("smtp send failed: %w", err)
	}

	m.logger.WithField("to", to).Infof("notification sent: %s", subject)
	return nil
}

// buildMessage assembles headers and the multipart/alternative body.
func buildMessage(from, to, subject, plain, html string) ([]byte, error) {
	var buf strings.Builder
	mw := multipart.NewWriter(&buf)

	headers := []string{
		"From: " + from,
		"To: " + to,
		"Subject: " + subject,
		"MIME-Version: 1.0",
		`Content-Type: multipart/alternative; boundary="` + mw.Boundary() + `"`,
	}

	// Plain text first; clients prefer the last part they support
	plainPart, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type": {"text/plain; charset=utf-8"},
	})
	if err != nil {
		return nil, err
	}
	if _, err := plainPart.Write([]byte(plain)); err != nil {
		return nil, err
	}

	htmlPart, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type": {"text/html; charset=utf-8"},
	})
	if err != nil {
		return nil, err
	}
	if _, err := htmlPart.Write([]byte(html)); err != nil {
		return nil, err
	}

	if err := mw.Close(); err != nil {
		return nil, err
	}

	msg := strings.Join(headers, "\r\n") + "\r\n\r\n" + buf.String()
	return []byte(msg), nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
