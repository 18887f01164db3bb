package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/khoi0903/ev-maintenance-app-sub001/internal/store"
	"github.com/khoi0903/ev-maintenance-app-sub001/internal/worker"
)

const defaultConsumer = "notification-worker"

// WorkerStore backs the notification worker: the outbox offset, contact
// lookup and the delivery log with its dead letter table.
type WorkerStore struct {
	pool     *pgxpool.Pool
	consumer string
}

var _ worker.Store = (*WorkerStore)(nil)

func NewWorkerStore(pool *pgxpool.Pool, consumer string) *WorkerStore {
	if consumer == "" {
		consumer = defaultConsumer
	}
	return &WorkerStore{pool: pool, consumer: consumer}
}

func (s *WorkerStore) GetLastOffset(ctx context.Context) (worker.Offset, error) {
	var offset worker.Offset
	var eventID sql.NullString
	err := s.pool.QueryRow(ctx, `
		SELECT last_created_at, last_event_id FROM notification_offsets WHERE consumer = $1
	`, s.consumer).Scan(&offset.CreatedAt, &eventID)
	if errors.Is(err, pgx.ErrNoRows) {
		return worker.Offset{}, nil
	}
	if err != nil {
		return worker.Offset{}, err
	}
	offset.CreatedAt = offset.CreatedAt.UTC()
	offset.EventID = eventID.String
	return offset, nil
}

func (s *WorkerStore) UpdateOffset(ctx context.Context, offset worker.Offset) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notification_offsets (consumer, last_created_at, last_event_id, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (consumer) DO UPDATE
		SET last_created_at = EXCLUDED.last_created_at, last_event_id = EXCLUDED.last_event_id, updated_at = now()
	`, s.consumer, offset.CreatedAt, nullIfEmpty(offset.EventID))
	return err
}

// ListOutboxEvents pages strictly after offset in (created_at, event_id) order.
func (s *WorkerStore) ListOutboxEvents(ctx context.Context, after worker.Offset, limit int) ([]store.OutboxEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows pgx.Rows
	var err error
	if after.EventID == "" {
		rows, err = s.pool.Query(ctx, `
			SELECT event_id, type, entity_id, account_id, payload_json, created_at
			FROM outbox_events
			WHERE created_at > $1
			ORDER BY created_at ASC, event_id ASC
			LIMIT $2
		`, after.CreatedAt, limit)
	} else {
		rows, err = s.pool.Query(ctx, `
			SELECT event_id, type, entity_id, account_id, payload_json, created_at
			FROM outbox_events
			WHERE (created_at, event_id) > ($1, $2::uuid)
			ORDER BY created_at ASC, event_id ASC
			LIMIT $3
		`, after.CreatedAt, after.EventID, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOutbox(rows)
}

func (s *WorkerStore) GetContact(ctx context.Context, accountID string) (worker.Contact, error) {
	if !validID(accountID) {
		return worker.Contact{}, store.ErrAccountNotFound
	}
	contact := worker.Contact{AccountID: accountID}
	var email, phone sql.NullString
	err := s.pool.QueryRow(ctx, `SELECT full_name, email, phone FROM accounts WHERE account_id = $1`, accountID).Scan(&contact.FullName, &email, &phone)
	if errors.Is(err, pgx.ErrNoRows) {
		return worker.Contact{}, store.ErrAccountNotFound
	}
	if err != nil {
		return worker.Contact{}, err
	}
	contact.Email = email.String
	contact.Phone = phone.String
	return contact, nil
}

func (s *WorkerStore) InsertNotification(ctx context.Context, notification worker.Notification) error {
	createdAt := notification.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notifications (notification_id, event_id, account_id, channel, recipient, body, status, attempts, last_error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
	`, notification.NotificationID, notification.EventID, nullIfEmpty(notification.AccountID), notification.Channel, notification.Recipient,
		notification.Body, notification.Status, notification.Attempts, nullIfEmpty(notification.LastError), createdAt)
	return err
}

func (s *WorkerStore) MarkNotificationSent(ctx context.Context, notificationID string, attempts int) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE notifications SET status = 'sent', attempts = $2, last_error = NULL, updated_at = now()
		WHERE notification_id = $1
	`, notificationID, attempts)
	return err
}

func (s *WorkerStore) MarkNotificationFailed(ctx context.Context, notificationID string, attempts int, lastError string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE notifications SET status = 'failed', attempts = $2, last_error = $3, updated_at = now()
		WHERE notification_id = $1
	`, notificationID, attempts, lastError)
	return err
}

func (s *WorkerStore) InsertDLQ(ctx context.Context, notificationID, reason string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notification_dlq (notification_id, reason, created_at)
		VALUES ($1, $2, now())
		ON CONFLICT (notification_id) DO UPDATE SET reason = EXCLUDED.reason
	`, notificationID, reason)
	return err
}
