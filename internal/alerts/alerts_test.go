package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wxdecoder/wxdecoder/internal/config"
	"github.com/wxdecoder/wxdecoder/pkg/logger"
)

type staticRules map[string][]string

func (r staticRules) Channels(_ context.Context, eventType string) ([]string, error) {
	return r[eventType], nil
}

type brokenRules struct{}

func (brokenRules) Channels(context.Context, string) ([]string, error) {
	return nil, errors.New("database is locked")
}

type webhook struct {
	srv *httptest.Server
	mu  sync.Mutex
	got []map[string]any
}

func newWebhook(t *testing.T) *webhook {
	w := &webhook{}
	w.srv = httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var m map[string]any
		assert.NoError(t, json.Unmarshal(body, &m))
		w.mu.Lock()
		w.got = append(w.got, m)
		w.mu.Unlock()
		rw.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(w.srv.Close)
	return w
}

func (w *webhook) received() []map[string]any {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]map[string]any(nil), w.got...)
}

func TestSendRoutesByRule(t *testing.T) {
	discord := newWebhook(t)
	slack := newWebhook(t)
	n := NewNotifier(staticRules{
		EventRateLimit: {ChannelDiscord},
		EventError:     {ChannelDiscord, ChannelSlack, ChannelSMTP},
	}, config.AlertsConfig{
		DiscordWebhookURL: discord.srv.URL,
		SlackWebhookURL:   slack.srv.URL,
	}, logger.NewNop())

	sent := n.Send(context.Background(), EventRateLimit, "Rate Limit Hit", "X exceeded")
	assert.Equal(t, []string{ChannelDiscord}, sent)
	require.Len(t, discord.received(), 1)
	assert.Empty(t, slack.received())

	msg := discord.received()[0]
	assert.Equal(t, "WxDecoder Watchdog", msg["username"])
	embed := msg["embeds"].([]any)[0].(map[string]any)
	assert.Equal(t, "Rate Limit Hit", embed["title"])
	assert.Equal(t, float64(15158332), embed["color"])

	// smtp is enabled but unconfigured, so it is skipped
	sent = n.Send(context.Background(), EventError, "Boom", "trace")
	assert.Equal(t, []string{ChannelDiscord, ChannelSlack}, sent)
	assert.Equal(t, "*Boom*\ntrace", slack.received()[0]["text"])
}

func TestSendNoRules(t *testing.T) {
	n := NewNotifier(staticRules{}, config.AlertsConfig{}, logger.NewNop())
	assert.Nil(t, n.Send(context.Background(), EventAPIOutage, "s", "b"))

	n = NewNotifier(brokenRules{}, config.AlertsConfig{}, logger.NewNop())
	assert.Nil(t, n.Send(context.Background(), EventAPIOutage, "s", "b"))
}

func TestDispatchIsAsync(t *testing.T) {
	hook := newWebhook(t)
	n := NewNotifier(staticRules{EventError: {ChannelSlack}}, config.AlertsConfig{SlackWebhookURL: hook.srv.URL}, logger.NewNop())

	n.Dispatch(EventError, "Crash", "stack")
	n.Wait()
	assert.Len(t, hook.received(), 1)
}

func TestSendEmail(t *testing.T) {
	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte
	n := NewNotifier(staticRules{EventAPIOutage: {ChannelSMTP}}, config.AlertsConfig{
		SMTPHost:   "smtp.example.com",
		SMTPUser:   "user",
		SMTPPass:   "pass",
		FromEmail:  "wx@example.com",
		AdminEmail: "ops@example.com",
	}, logger.NewNop())
	n.SetMailFunc(func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		return nil
	})

	sent := n.Send(context.Background(), EventAPIOutage, "Weather API down", "probe failed")
	assert.Equal(t, []string{ChannelSMTP}, sent)
	assert.Equal(t, "smtp.example.com:587", gotAddr)
	assert.Equal(t, "wx@example.com", gotFrom)
	assert.Equal(t, []string{"ops@example.com"}, gotTo)
	assert.Contains(t, string(gotMsg), "Subject: [WxDecoder CRITICAL] Weather API down\r\n")
	assert.Contains(t, string(gotMsg), "probe failed")
}

func TestSubjectPrefix(t *testing.T) {
	assert.Equal(t, "[WxDecoder CRITICAL]", SubjectPrefix(EventAPIOutage, "Test"))
	assert.Equal(t, "[WxDecoder Test]", SubjectPrefix(EventError, "Test Alert"))
	assert.Equal(t, "[WxDecoder Sales]", SubjectPrefix(EventUserReport, "Kiosk Inquiry from X"))
	assert.Equal(t, "[WxDecoder Feedback]", SubjectPrefix(EventUserReport, "Bad wind"))
	assert.Equal(t, "[WxDecoder]", SubjectPrefix(EventRateLimit, "Rate Limit Hit"))
}
