package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/khoi0903/ev-maintenance-app-sub001/internal/store"
)

// record appends the next link of the entity audit chain and an outbox row in
// the caller's transaction.
func record(ctx context.Context, tx pgx.Tx, entityID, accountID, eventType string, entity any, at time.Time) error {
	payload, err := jsonBytes(entity)
	if err != nil {
		return err
	}
	createdAt := dbTime(at)
	if err := insertEntityEvent(ctx, tx, entityID, eventType, payload, createdAt); err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO outbox_events (event_id, account_id, entity_id, type, payload_json, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, uuid.NewString(), nullIfEmpty(accountID), entityID, eventType, payload, createdAt)
	return err
}

func insertEntityEvent(ctx context.Context, tx pgx.Tx, entityID, eventType string, payload []byte, createdAt time.Time) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, entityID); err != nil {
		return err
	}

	var prev *store.EntityEvent
	var last store.EntityEvent
	var prevHash sql.NullString
	row := tx.QueryRow(ctx, `
		SELECT seq, hash
		FROM entity_events
		WHERE entity_id = $1
		ORDER BY seq DESC
		LIMIT 1
		FOR UPDATE
	`, entityID)
	err := row.Scan(&last.Seq, &prevHash)
	switch {
	case err == nil:
		last.Hash = prevHash.String
		prev = &last
	case !errors.Is(err, pgx.ErrNoRows):
		return err
	}

	event := store.ChainEvent(prev, entityID, eventType, payload, createdAt)
	_, err = tx.Exec(ctx, `
		INSERT INTO entity_events (entity_id, seq, type, payload, created_at, prev_hash, hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, event.EntityID, event.Seq, event.Type, []byte(event.Payload), event.CreatedAt, event.PrevHash, event.Hash)
	return err
}

func (s *Store) ListEntityEvents(ctx context.Context, entityID string) ([]store.EntityEvent, error) {
	if !validID(entityID) {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT entity_id, seq, type, payload, created_at, prev_hash, hash
		FROM entity_events
		WHERE entity_id = $1
		ORDER BY seq ASC
	`, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []store.EntityEvent
	for rows.Next() {
		var event store.EntityEvent
		var payload []byte
		if err := rows.Scan(&event.EntityID, &event.Seq, &event.Type, &payload, &event.CreatedAt, &event.PrevHash, &event.Hash); err != nil {
			return nil, err
		}
		event.Payload = payload
		event.CreatedAt = event.CreatedAt.UTC()
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func scanOutbox(rows pgx.Rows) ([]store.OutboxEvent, error) {
	var events []store.OutboxEvent
	for rows.Next() {
		var event store.OutboxEvent
		var accountID sql.NullString
		var payload []byte
		if err := rows.Scan(&event.EventID, &event.Type, &event.EntityID, &accountID, &payload, &event.CreatedAt); err != nil {
			return nil, err
		}
		event.AccountID = accountID.String
		event.Payload = json.RawMessage(payload)
		event.CreatedAt = event.CreatedAt.UTC()
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func jsonBytes(value any) ([]byte, error) {
	return json.Marshal(value)
}

// dbTime matches the microsecond precision of timestamptz so hashes computed
// before insert still verify after a round trip.
func dbTime(at time.Time) time.Time {
	if at.IsZero() {
		at = time.Now()
	}
	return at.UTC().Truncate(time.Microsecond)
}
