package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

const (
	ChannelEmail  = "email"
	ChannelSMS    = "sms"
	ChannelPush   = "push"
	ChannelBroker = "broker"
)

// Message is one rendered notification handed to a provider.
type Message struct {
	NotificationID string          `json:"notification_id"`
	Channel        string          `json:"channel"`
	Recipient      string          `json:"recipient"`
	Body           string          `json:"message"`
	EventType      string          `json:"event_type"`
	EntityID       string          `json:"entity_id"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

type Provider interface {
	Send(ctx context.Context, msg Message) error
}

// Brokers holds the shared message broker connections providers publish through.
type Brokers struct {
	AMQP *AMQPPublisher
	MQTT *MQTTPublisher
}

// NewProvider resolves a provider kind for a channel. Unknown kinds and
// unconfigured brokers fall back to logging.
func NewProvider(kind, channel string, brokers Brokers, logger *zap.Logger) Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch kind {
	case "", "stub", "log":
		return logProvider{channel: channel, logger: logger}
	case "noop":
		return noopProvider{}
	case "fail":
		return failProvider{}
	case "webhook":
		url := os.Getenv("NOTIF_" + strings.ToUpper(channel) + "_WEBHOOK_URL")
		token := os.Getenv("NOTIF_" + strings.ToUpper(channel) + "_WEBHOOK_TOKEN")
		if url == "" {
			return logProvider{channel: channel, logger: logger}
		}
		return newWebhookProvider(url, token)
	case "amqp":
		if brokers.AMQP == nil {
			logger.Warn("amqp provider requested without AMQP_URL", zap.String("channel", channel))
			return logProvider{channel: channel, logger: logger}
		}
		return brokers.AMQP
	case "mqtt":
		if brokers.MQTT == nil {
			logger.Warn("mqtt provider requested without MQTT_BROKER_URL", zap.String("channel", channel))
			return logProvider{channel: channel, logger: logger}
		}
		return brokers.MQTT
	default:
		if strings.HasPrefix(kind, "http://") || strings.HasPrefix(kind, "https://") {
			return newWebhookProvider(kind, "")
		}
		return logProvider{channel: channel, logger: logger}
	}
}

// NewProviders builds one provider per configured channel.
func NewProviders(kinds map[string]string, brokers Brokers, logger *zap.Logger) map[string]Provider {
	providers := make(map[string]Provider, len(kinds))
	for channel, kind := range kinds {
		providers[channel] = NewProvider(kind, channel, brokers, logger)
	}
	return providers
}

type logProvider struct {
	channel string
	logger  *zap.Logger
}

func (p logProvider) Send(ctx context.Context, msg Message) error {
	p.logger.Info("notification sent",
		zap.String("channel", p.channel),
		zap.String("recipient", msg.Recipient),
		zap.String("event_type", msg.EventType),
		zap.String("message", msg.Body),
	)
	return nil
}

type noopProvider struct{}

func (noopProvider) Send(ctx context.Context, msg Message) error {
	return nil
}

type failProvider struct{}

func (failProvider) Send(ctx context.Context, msg Message) error {
	return errors.New("provider failure")
}

type webhookProvider struct {
	url    string
	token  string
	client *http.Client
}

func newWebhookProvider(url, token string) webhookProvider {
	return webhookProvider{
		url:   url,
		token: token,
		client: &http.Client{
			Timeout:   5 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (p webhookProvider) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("provider rejected request: status %d", resp.StatusCode)
	}
	return nil
}
