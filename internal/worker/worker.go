// Package worker turns outbox events into customer notifications.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/khoi0903/ev-maintenance-app-sub001/internal/store"
)

// Offset is the last processed outbox position. EventID breaks ties between
// events committed in the same instant.
type Offset struct {
	CreatedAt time.Time
	EventID   string
}

type Contact struct {
	AccountID string
	FullName  string
	Email     string
	Phone     string
}

type Notification struct {
	NotificationID string
	EventID        string
	AccountID      string
	Channel        string
	Recipient      string
	Body           string
	Status         string
	Attempts       int
	LastError      string
	CreatedAt      time.Time
}

type Store interface {
	GetLastOffset(ctx context.Context) (Offset, error)
	UpdateOffset(ctx context.Context, offset Offset) error
	ListOutboxEvents(ctx context.Context, after Offset, limit int) ([]store.OutboxEvent, error)
	// GetContact returns store.ErrNotFound for unknown accounts.
	GetContact(ctx context.Context, accountID string) (Contact, error)
	InsertNotification(ctx context.Context, notification Notification) error
	MarkNotificationSent(ctx context.Context, notificationID string, attempts int) error
	MarkNotificationFailed(ctx context.Context, notificationID string, attempts int, lastError string) error
	InsertDLQ(ctx context.Context, notificationID, reason string) error
}

type Config struct {
	BatchSize   int
	MaxAttempts int
	RetryDelay  time.Duration
}

type Worker struct {
	store       Store
	providers   map[string]Provider
	logger      *zap.Logger
	batchSize   int
	maxAttempts int
	retryDelay  time.Duration
	now         func() time.Time
	running     atomic.Bool
}

func New(st Store, providers map[string]Provider, logger *zap.Logger, cfg Config) *Worker {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 50
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		store:       st,
		providers:   providers,
		logger:      logger,
		batchSize:   batch,
		maxAttempts: maxAttempts,
		retryDelay:  cfg.RetryDelay,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Run processes one batch. The offset advances past every event in the batch,
// including ones that failed delivery; those are kept in the DLQ.
func (w *Worker) Run(ctx context.Context) error {
	if !w.running.CompareAndSwap(false, true) {
		return nil
	}
	defer w.running.Store(false)

	last, err := w.store.GetLastOffset(ctx)
	if err != nil {
		return fmt.Errorf("load offset: %w", err)
	}
	events, err := w.store.ListOutboxEvents(ctx, last, w.batchSize)
	if err != nil {
		return fmt.Errorf("list outbox: %w", err)
	}

	for _, event := range events {
		if err := w.processEvent(ctx, event); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Error("notification event failed",
				zap.String("event_id", event.EventID),
				zap.String("type", event.Type),
				zap.Error(err),
			)
		}
		last = Offset{CreatedAt: event.CreatedAt, EventID: event.EventID}
	}

	if len(events) > 0 {
		if err := w.store.UpdateOffset(ctx, last); err != nil {
			return fmt.Errorf("update offset: %w", err)
		}
	}
	return nil
}

func (w *Worker) processEvent(ctx context.Context, event store.OutboxEvent) error {
	tmpl, ok := templateFor(event.Type)
	if !ok || event.AccountID == "" {
		return nil
	}

	payload := payloadData{}
	if len(event.Payload) > 0 {
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return fmt.Errorf("decode payload: %w", err)
		}
	}

	contact, err := w.store.GetContact(ctx, event.AccountID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	contact.AccountID = event.AccountID

	body := renderTemplate(tmpl, payload, contact)
	for _, target := range pickChannels(event, contact) {
		provider, ok := w.providers[target.name]
		if !ok {
			continue
		}
		if err := w.deliver(ctx, provider, event, target, body); err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) deliver(ctx context.Context, provider Provider, event store.OutboxEvent, target channelTarget, body string) error {
	notification := Notification{
		NotificationID: uuid.NewString(),
		EventID:        event.EventID,
		AccountID:      event.AccountID,
		Channel:        target.name,
		Recipient:      target.recipient,
		Body:           body,
		Status:         "pending",
		CreatedAt:      w.now(),
	}
	if err := w.store.InsertNotification(ctx, notification); err != nil {
		return err
	}

	msg := Message{
		NotificationID: notification.NotificationID,
		Channel:        target.name,
		Recipient:      target.recipient,
		Body:           body,
		EventType:      event.Type,
		EntityID:       event.EntityID,
		Payload:        event.Payload,
	}
	var sendErr error
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		if sendErr = provider.Send(ctx, msg); sendErr == nil {
			return w.store.MarkNotificationSent(ctx, notification.NotificationID, attempt)
		}
		w.logger.Warn("notification attempt failed",
			zap.String("notification_id", notification.NotificationID),
			zap.String("channel", target.name),
			zap.Int("attempt", attempt),
			zap.Error(sendErr),
		)
		if attempt < w.maxAttempts && !sleep(ctx, w.retryDelay*time.Duration(attempt)) {
			return ctx.Err()
		}
	}

	if err := w.store.MarkNotificationFailed(ctx, notification.NotificationID, w.maxAttempts, sendErr.Error()); err != nil {
		return err
	}
	return w.store.InsertDLQ(ctx, notification.NotificationID, "max attempts reached")
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

type channelTarget struct {
	name      string
	recipient string
}

// pickChannels maps an event to its delivery targets. Email and SMS need
// contact details; push is addressed by account; broker carries every event.
func pickChannels(event store.OutboxEvent, contact Contact) []channelTarget {
	var channels []channelTarget
	if contact.Email != "" {
		channels = append(channels, channelTarget{name: ChannelEmail, recipient: contact.Email})
	}
	if contact.Phone != "" {
		channels = append(channels, channelTarget{name: ChannelSMS, recipient: contact.Phone})
	}
	channels = append(channels,
		channelTarget{name: ChannelPush, recipient: event.AccountID},
		channelTarget{name: ChannelBroker, recipient: event.Type},
	)
	return channels
}

// Start runs the worker every interval until ctx is cancelled.
func Start(ctx context.Context, interval time.Duration, w *Worker) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.Run(ctx); err != nil && ctx.Err() == nil {
				w.logger.Error("notification worker run failed", zap.Error(err))
			}
		}
	}
}
