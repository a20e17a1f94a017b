package services

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/BradenHooton/bastion/internal/models"
	"github.com/BradenHooton/bastion/pkg/logger"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// Alert is a message for the on-call channels
type Alert struct {
	Subject  string
	Body     string
	Severity models.Severity
	Data     map[string]any
}

// Notifier delivers alerts. Delivery is best-effort and never returns an error.
type Notifier interface {
	Notify(ctx context.Context, alert Alert)
}

// NotificationChannel is one delivery target
type NotificationChannel interface {
	Name() string
	Send(ctx context.Context, alert Alert) error
}

// NotificationService fans an alert out to every channel. A failing channel
// is logged and does not affect the others.
type NotificationService struct {
	channels []NotificationChannel
	timeout  time.Duration
	logger   *slog.Logger
}

func NewNotificationService(timeout time.Duration, logger *slog.Logger, channels ...NotificationChannel) *NotificationService {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &NotificationService{
		channels: channels,
		timeout:  timeout,
		logger:   logger,
	}
}

func (s *NotificationService) Notify(ctx context.Context, alert Alert) {
	for _, ch := range s.channels {
		sendCtx, cancel := context.WithTimeout(ctx, s.timeout)
		err := ch.Send(sendCtx, alert)
		cancel()
		if err != nil {
			s.logger.Error("alert delivery failed",
				slog.String("channel", ch.Name()),
				slog.String("subject", alert.Subject),
				slog.Any("error", err))
		}
	}
}

// Channels returns the configured channel names
func (s *NotificationService) Channels() []string {
	names := make([]string, len(s.channels))
	for i, ch := range s.channels {
		names[i] = ch.Name()
	}
	return names
}

// LogChannel writes alerts to the structured log
type LogChannel struct {
	logger *slog.Logger
}

func NewLogChannel(logger *slog.Logger) *LogChannel {
	return &LogChannel{logger: logger}
}

func (c *LogChannel) Name() string { return "log" }

func (c *LogChannel) Send(ctx context.Context, alert Alert) error {
	attrs := []any{
		slog.String("subject", alert.Subject),
		slog.String("severity", string(alert.Severity)),
		slog.String("body", alert.Body),
	}
	if len(alert.Data) > 0 {
		attrs = append(attrs, slog.Any("data", alert.Data))
	}
	c.logger.Log(ctx, logger.SeverityLevel(string(alert.Severity)), "security alert", attrs...)
	return nil
}

// SESSender is the part of the SES client the email channel uses
type SESSender interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESChannel emails alerts through AWS SES
type SESChannel struct {
	client      SESSender
	fromAddress string
	recipients  []string
}

// NewSESChannel loads the default AWS credential chain for region
func NewSESChannel(ctx context.Context, region, fromAddress string, recipients []string) (*SESChannel, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewSESChannelWithClient(ses.NewFromConfig(cfg), fromAddress, recipients), nil
}

func NewSESChannelWithClient(client SESSender, fromAddress string, recipients []string) *SESChannel {
	return &SESChannel{client: client, fromAddress: fromAddress, recipients: recipients}
}

func (c *SESChannel) Name() string { return "email" }

func (c *SESChannel) Send(ctx context.Context, alert Alert) error {
	if len(c.recipients) == 0 {
		return nil
	}

	input := &ses.SendEmailInput{
		Source: aws.String(c.fromAddress),
		Destination: &types.Destination{
			ToAddresses: c.recipients,
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String(fmt.Sprintf("[%s] %s", strings.ToUpper(string(alert.Severity)), alert.Subject)),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data: aws.String(alertText(alert)),
				},
			},
		},
	}

	if _, err := c.client.SendEmail(ctx, input); err != nil {
		return fmt.Errorf("failed to send alert email: %w", err)
	}
	return nil
}

func alertText(alert Alert) string {
	var b strings.Builder
	b.WriteString(alert.Body)
	b.WriteString("\n\n")

	keys := make([]string, 0, len(alert.Data))
	for k := range alert.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %v\n", k, alert.Data[k])
	}
	return b.String()
}

// WebhookChannel posts alerts as JSON. With a secret, the body is signed
// with HMAC-SHA256 in the X-Bastion-Signature header.
type WebhookChannel struct {
	url    string
	secret string
	client *http.Client
}

func NewWebhookChannel(url, secret string, client *http.Client) *WebhookChannel {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookChannel{url: url, secret: secret, client: client}
}

func (c *WebhookChannel) Name() string { return "webhook" }

type webhookPayload struct {
	Subject   string         `json:"subject"`
	Text      string         `json:"text"`
	Severity  string         `json:"severity"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

func (c *WebhookChannel) Send(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(webhookPayload{
		Subject:   alert.Subject,
		Text:      alert.Body,
		Severity:  string(alert.Severity),
		Data:      alert.Data,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.secret != "" {
		req.Header.Set("X-Bastion-Signature", "sha256="+SignWebhookBody(c.secret, body))
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// SignWebhookBody returns the hex HMAC-SHA256 of body under secret
func SignWebhookBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
