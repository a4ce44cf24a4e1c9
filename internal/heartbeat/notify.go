package heartbeat

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"plughub/internal/config"
	"plughub/pkg/contracts/domain"
)

// Notice tells the site administrator that a plugin license needs attention
type Notice struct {
	PluginSlug     string
	SiteDomain     string
	Reason         domain.Reason
	Message        string
	Remediation    string
	RemediationURL string
	DaysRemaining  *int
	Time           time.Time
}

// Notifier delivers notices to the site administrator
type Notifier interface {
	Notify(ctx context.Context, n Notice) error
}

// LogNotifier writes notices to the log
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a notifier that logs at WARN
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With(slog.String("component", "notifier"))}
}

func (n *LogNotifier) Notify(ctx context.Context, notice Notice) error {
	attrs := []any{
		slog.String("plugin_slug", notice.PluginSlug),
		slog.String("reason", string(notice.Reason)),
		slog.String("remediation_url", notice.RemediationURL),
	}
	if notice.DaysRemaining != nil {
		attrs = append(attrs, slog.Int("days_remaining", *notice.DaysRemaining))
	}
	n.logger.WarnContext(ctx, "license notice: "+notice.Message, attrs...)
	return nil
}

// MultiNotifier fans a notice out to several notifiers
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(ctx context.Context, notice Notice) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, notice); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SendFunc matches smtp.SendMail
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPNotifier emails notices to the administrator
type SMTPNotifier struct {
	cfg  config.NotifyConfig
	send SendFunc
}

// NewSMTPNotifier creates an email notifier
func NewSMTPNotifier(cfg config.NotifyConfig) *SMTPNotifier {
	return &SMTPNotifier{cfg: cfg, send: smtp.SendMail}
}

// WithSender replaces the mail transport
func (n *SMTPNotifier) WithSender(send SendFunc) *SMTPNotifier {
	n.send = send
	return n
}

var noticeTemplate = template.Must(template.New("notice").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: sans-serif">
<h2>License attention needed: {{.PluginSlug}}</h2>
<p>{{.Message}}</p>
{{if .SiteDomain}}<p>Site: {{.SiteDomain}}</p>{{end}}
{{if .DaysRemaining}}<p>The plugin keeps working for {{.DaysRemaining}} more day(s) while the license server is unreachable.</p>{{end}}
<p>Reason code: <code>{{.Reason}}</code></p>
{{if .Remediation}}<p>{{.Remediation}}</p>{{end}}
{{if .RemediationURL}}<p><a href="{{.RemediationURL}}">Manage your license</a></p>{{end}}
<p style="color: #888">Checked at {{.Time.Format "2006-01-02 15:04 MST"}}</p>
</body>
</html>
`))

func (n *SMTPNotifier) Notify(ctx context.Context, notice Notice) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var body bytes.Buffer
	view := struct {
		Notice
		DaysRemaining int
	}{Notice: notice}
	if notice.DaysRemaining != nil {
		view.DaysRemaining = *notice.DaysRemaining
	}
	if err := noticeTemplate.Execute(&body, view); err != nil {
		return fmt.Errorf("render notice: %w", err)
	}

	msg := buildMessage(n.cfg.From, n.cfg.AdminEmail,
		fmt.Sprintf("[%s] License notice: %s", notice.SiteDomain, notice.PluginSlug), body.Bytes())

	var auth smtp.Auth
	if n.cfg.SMTPUsername != "" {
		auth = smtp.PlainAuth("", n.cfg.SMTPUsername, n.cfg.SMTPPassword, n.cfg.SMTPHost)
	}
	addr := net.JoinHostPort(n.cfg.SMTPHost, strconv.Itoa(n.cfg.SMTPPort))
	if err := n.send(addr, auth, n.cfg.From, []string{n.cfg.AdminEmail}, msg); err != nil {
		return fmt.Errorf("send notice email: %w", err)
	}
	return nil
}

func buildMessage(from, to, subject string, html []byte) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + subject + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.Write(html)
	return []byte(b.String())
}

// NewNotifier picks email plus log delivery when SMTP is configured, log only otherwise
func NewNotifier(cfg config.NotifyConfig, logger *slog.Logger) Notifier {
	logNotifier := NewLogNotifier(logger)
	if !cfg.SMTPConfigured() {
		return logNotifier
	}
	return MultiNotifier{logNotifier, NewSMTPNotifier(cfg)}
}
