package storage

import (
	"context"

	"github.com/example/tablebook/libs/db"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS reservations (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	requester_id TEXT NOT NULL,
	display_name TEXT NOT NULL DEFAULT 'Unknown',
	author_name TEXT NOT NULL DEFAULT '',
	event_name TEXT NOT NULL DEFAULT '',
	res_date TEXT NOT NULL,
	start_time TEXT NOT NULL,
	duration_minutes INT NOT NULL CHECK (duration_minutes > 0),
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (res_date, start_time)
);

CREATE INDEX IF NOT EXISTS idx_reservations_date ON reservations(res_date, start_time);
CREATE INDEX IF NOT EXISTS idx_reservations_requester ON reservations(requester_id);

CREATE TABLE IF NOT EXISTS outbox_events (
	id BIGSERIAL PRIMARY KEY,
	event_id UUID NOT NULL DEFAULT gen_random_uuid(),
	aggregate_type TEXT NOT NULL,
	aggregate_id TEXT NOT NULL,
	event_type TEXT NOT NULL,
	payload JSONB NOT NULL,
	traceparent TEXT NOT NULL DEFAULT '',
	tracestate TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	published_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_outbox_unpublished ON outbox_events(id) WHERE published_at IS NULL;
`

// EnsureSchema creates the reservation and outbox tables. The statements
// are idempotent so every service start can run it.
func EnsureSchema(ctx context.Context, pool *db.Pool) error {
	_, err := pool.Exec(ctx, schemaSQL)
	return err
}
