package storage

import (
	"context"
	"encoding/json"

	"github.com/example/tablebook/libs/db"
)

type Notification struct {
	ReservationID string
	RequesterID   string
	EventType     string
	Channel       string
	Recipient     string
	Message       string
	Payload       map[string]any
	Status        string
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Insert(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n.Payload)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO notifications (reservation_id, requester_id, event_type, channel, recipient, message, payload, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, n.ReservationID, n.RequesterID, n.EventType, n.Channel, n.Recipient, n.Message, payload, n.Status)
	return err
}

// EnsureSchema creates the notifier tables. Safe to run on every start.
func EnsureSchema(ctx context.Context, pool *db.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS inbox_events (
			event_id   TEXT PRIMARY KEY,
			event_type TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);

		CREATE TABLE IF NOT EXISTS notifications (
			id             BIGSERIAL PRIMARY KEY,
			reservation_id TEXT NOT NULL,
			requester_id   TEXT NOT NULL,
			event_type     TEXT NOT NULL,
			channel        TEXT NOT NULL,
			recipient      TEXT NOT NULL DEFAULT '',
			message        TEXT NOT NULL,
			payload        JSONB NOT NULL DEFAULT '{}'::jsonb,
			status         TEXT NOT NULL,
			created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
		);

		CREATE INDEX IF NOT EXISTS idx_notifications_reservation
			ON notifications (reservation_id);
	`)
	return err
}
