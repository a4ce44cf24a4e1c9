package heartbeat

import (
	"context"
	"errors"
	"log/slog"
	"net/smtp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plughub/internal/config"
	"plughub/internal/shared/testutil"
	"plughub/pkg/contracts/domain"
)

func testNotice() Notice {
	days := 2
	return Notice{
		PluginSlug:     "acme-pro",
		SiteDomain:     "example.com",
		Reason:         domain.ReasonGracePeriod,
		Message:        "Checking <license>",
		RemediationURL: "https://plughub.example/account",
		DaysRemaining:  &days,
		Time:           time.Date(2026, 7, 1, 6, 0, 0, 0, time.UTC),
	}
}

func TestSMTPNotifier(t *testing.T) {
	cfg := config.NotifyConfig{
		SMTPHost: "mail.example.com", SMTPPort: 2525,
		SMTPUsername: "bot", SMTPPassword: "pw",
		From: "licenses@example.com", AdminEmail: "admin@example.com",
	}

	var (
		gotAddr string
		gotFrom string
		gotTo   []string
		gotMsg  string
		gotAuth smtp.Auth
	)
	n := NewSMTPNotifier(cfg).WithSender(func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotAuth, gotFrom, gotTo, gotMsg = addr, a, from, to, string(msg)
		return nil
	})

	require.NoError(t, n.Notify(context.Background(), testNotice()))
	assert.Equal(t, "mail.example.com:2525", gotAddr)
	assert.NotNil(t, gotAuth)
	assert.Equal(t, "licenses@example.com", gotFrom)
	assert.Equal(t, []string{"admin@example.com"}, gotTo)
	assert.Contains(t, gotMsg, "Subject: [example.com] License notice: acme-pro\r\n")
	assert.Contains(t, gotMsg, "Content-Type: text/html; charset=UTF-8")
	assert.Contains(t, gotMsg, "Checking &lt;license&gt;")
	assert.Contains(t, gotMsg, "2 more day(s)")
	assert.Contains(t, gotMsg, `href="https://plughub.example/account"`)
}

func TestSMTPNotifier_Errors(t *testing.T) {
	n := NewSMTPNotifier(config.NotifyConfig{SMTPHost: "h", SMTPPort: 25}).
		WithSender(func(string, smtp.Auth, string, []string, []byte) error { return errors.New("refused") })
	assert.ErrorContains(t, n.Notify(context.Background(), testNotice()), "refused")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, n.Notify(ctx, testNotice()), context.Canceled)
}

type failingNotifier struct{}

func (failingNotifier) Notify(context.Context, Notice) error { return errors.New("boom") }

func TestMultiNotifierAndFactory(t *testing.T) {
	logger, logs := testutil.NewTestLogger(t)

	multi := MultiNotifier{NewLogNotifier(logger), failingNotifier{}}
	assert.ErrorContains(t, multi.Notify(context.Background(), testNotice()), "boom")
	testutil.AssertLogContains(t, logs, slog.LevelWarn, "license notice")
	assert.True(t, logs.ContainsAttr("days_remaining", int64(2)))

	_, isLog := NewNotifier(config.NotifyConfig{}, logger).(*LogNotifier)
	assert.True(t, isLog)

	configured := NewNotifier(config.NotifyConfig{SMTPHost: "h", From: "f@x", AdminEmail: "a@x"}, logger)
	assert.IsType(t, MultiNotifier{}, configured)
}
