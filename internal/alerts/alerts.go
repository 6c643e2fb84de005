// Package alerts delivers operator notifications over email and chat webhooks.
package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/smtp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/wxdecoder/wxdecoder/internal/config"
	"github.com/wxdecoder/wxdecoder/pkg/logger"
)

// Event types with configurable routing
const (
	EventRateLimit  = "rate_limit"
	EventError      = "error"
	EventAPIOutage  = "api_outage"
	EventUserReport = "user_report"
)

// Channel names stored in notification rules
const (
	ChannelSMTP    = "smtp"
	ChannelDiscord = "discord"
	ChannelSlack   = "slack"
)

const (
	discordUsername = "WxDecoder Watchdog"
	discordColor    = 15158332
	sendTimeout     = 15 * time.Second
)

// RuleStore returns the enabled channels for an event type
type RuleStore interface {
	Channels(ctx context.Context, eventType string) ([]string, error)
}

// Dispatcher is the fire-and-forget alert surface used by request handlers
type Dispatcher interface {
	Dispatch(eventType, subject, body string)
}

// Nop discards alerts
type Nop struct{}

// Dispatch implements Dispatcher
func (Nop) Dispatch(string, string, string) {}

// MailFunc matches smtp.SendMail
type MailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Notifier routes alerts to channels per the stored rules
type Notifier struct {
	rules      RuleStore
	cfg        config.AlertsConfig
	httpClient *http.Client
	sendMail   MailFunc
	logger     *logger.Logger
	wg         sync.WaitGroup
}

// NewNotifier creates a notifier
func NewNotifier(rules RuleStore, cfg config.AlertsConfig, log *logger.Logger) *Notifier {
	return &Notifier{
		rules:      rules,
		cfg:        cfg,
		httpClient: &http.Client{Timeout: sendTimeout},
		sendMail:   smtp.SendMail,
		logger:     log.Named("alerts"),
	}
}

// SetMailFunc replaces the SMTP transport
func (n *Notifier) SetMailFunc(f MailFunc) { n.sendMail = f }

// Dispatch sends the alert in the background. Failures are logged only.
func (n *Notifier) Dispatch(eventType, subject, body string) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		n.Send(ctx, eventType, subject, body)
	}()
}

// Wait blocks until in-flight dispatches finish
func (n *Notifier) Wait() { n.wg.Wait() }

// Send delivers the alert to every enabled and configured channel and reports
// which channels accepted it
func (n *Notifier) Send(ctx context.Context, eventType, subject, body string) []string {
	channels, err := n.rules.Channels(ctx, eventType)
	if err != nil {
		n.logger.Warn("Failed to read notification rules",
			logger.String("event", eventType),
			logger.Error(err))
		return nil
	}
	if len(channels) == 0 {
		n.logger.Debug("Alert skipped, no channels enabled", logger.String("event", eventType))
		return nil
	}

	var sent []string
	for _, ch := range channels {
		var err error
		switch ch {
		case ChannelSMTP:
			if n.cfg.SMTPHost == "" {
				continue
			}
			err = n.sendEmail(eventType, subject, body)
		case ChannelDiscord:
			if n.cfg.DiscordWebhookURL == "" {
				continue
			}
			err = n.SendDiscord(ctx, subject, body)
		case ChannelSlack:
			if n.cfg.SlackWebhookURL == "" {
				continue
			}
			err = n.SendSlack(ctx, subject, body)
		default:
			continue
		}
		if err != nil {
			n.logger.Warn("Alert delivery failed",
				logger.String("event", eventType),
				logger.String("channel", ch),
				logger.Error(err))
			continue
		}
		sent = append(sent, ch)
	}
	n.logger.Info("Alert dispatched",
		logger.String("event", eventType),
		logger.Strings("channels", sent))
	return sent
}

// SendDiscord posts an embed to the Discord webhook
func (n *Notifier) SendDiscord(ctx context.Context, subject, body string) error {
	payload := map[string]any{
		"username": discordUsername,
		"embeds": []map[string]any{{
			"title":       subject,
			"description": body,
			"color":       discordColor,
		}},
	}
	return n.postJSON(ctx, n.cfg.DiscordWebhookURL, payload)
}

// SendSlack posts a message to the Slack webhook
func (n *Notifier) SendSlack(ctx context.Context, subject, body string) error {
	return n.postJSON(ctx, n.cfg.SlackWebhookURL, map[string]string{
		"text": fmt.Sprintf("*%s*\n%s", subject, body),
	})
}

func (n *Notifier) postJSON(ctx context.Context, url string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}

// SubjectPrefix tags the email subject by event
func SubjectPrefix(eventType, subject string) string {
	switch {
	case eventType == EventAPIOutage:
		return "[WxDecoder CRITICAL]"
	case strings.HasPrefix(subject, "Test"):
		return "[WxDecoder Test]"
	case strings.HasPrefix(subject, "Kiosk Inquiry"):
		return "[WxDecoder Sales]"
	case eventType == EventUserReport:
		return "[WxDecoder Feedback]"
	}
	return "[WxDecoder]"
}

func (n *Notifier) sendEmail(eventType, subject, body string) error {
	if n.cfg.FromEmail == "" || n.cfg.AdminEmail == "" {
		return fmt.Errorf("from_email and admin_email must be set")
	}

	port := n.cfg.SMTPPort
	if port == 0 {
		port = 587
	}
	addr := net.JoinHostPort(n.cfg.SMTPHost, strconv.Itoa(port))

	var auth smtp.Auth
	if n.cfg.SMTPUser != "" {
		auth = smtp.PlainAuth("", n.cfg.SMTPUser, n.cfg.SMTPPass, n.cfg.SMTPHost)
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", n.cfg.FromEmail)
	fmt.Fprintf(&msg, "To: %s\r\n", n.cfg.AdminEmail)
	fmt.Fprintf(&msg, "Subject: %s %s\r\n", SubjectPrefix(eventType, subject), subject)
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n\r\n")
	msg.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))

	// smtp.SendMail upgrades with STARTTLS when the server offers it
	return n.sendMail(addr, auth, n.cfg.FromEmail, []string{n.cfg.AdminEmail}, msg.Bytes())
}
