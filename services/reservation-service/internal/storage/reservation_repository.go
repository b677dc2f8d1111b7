package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/example/tablebook/libs/db"
	"github.com/example/tablebook/services/reservation-service/internal/model"
	"github.com/example/tablebook/services/reservation-service/internal/outbox"
	"github.com/example/tablebook/services/reservation-service/internal/schedule"
	"github.com/example/tablebook/services/reservation-service/internal/timeslot"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound     = errors.New("reservation not found")
	ErrSlotConflict = errors.New("time slot already booked")
	ErrInvalidField = errors.New("field cannot be edited")
	ErrEmptyValue   = errors.New("value must not be empty")
)

// Columns reachable through UpdateField. Everything else is a programming
// error on the caller's side and is rejected.
var editableColumns = map[string]string{
	"date":        "res_date",
	"time":        "start_time",
	"duration":    "duration_minutes",
	"author_name": "author_name",
	"event_name":  "event_name",
}

const (
	EventBooked      = "reservation.booked.v1"
	EventRescheduled = "reservation.rescheduled.v1"
	EventCancelled   = "reservation.cancelled.v1"
)

// ReservationRepository owns reservation persistence and the no-overlap
// invariant. Check-then-write runs inside one transaction serialized per
// date with an advisory lock, so two sessions cannot race the same slot;
// the unique (res_date, start_time) constraint backstops identical starts.
type ReservationRepository struct {
	pool   *db.Pool
	outbox *outbox.Repository
	window schedule.Window
	logger *slog.Logger
}

func NewReservationRepository(pool *db.Pool, outboxRepo *outbox.Repository, window schedule.Window, logger *slog.Logger) *ReservationRepository {
	return &ReservationRepository{pool: pool, outbox: outboxRepo, window: window, logger: logger}
}

func lockDate(ctx context.Context, tx pgx.Tx, dates ...string) error {
	// Stable order avoids lock inversion when an edit moves between dates.
	if len(dates) == 2 && dates[1] < dates[0] {
		dates[0], dates[1] = dates[1], dates[0]
	}
	for _, d := range dates {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext('reservations:' || $1::text))`, d); err != nil {
			return err
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Create inserts the reservation if its interval is free on that date.
func (r *ReservationRepository) Create(ctx context.Context, res model.Reservation) (model.Reservation, error) {
	date, err := timeslot.ParseDate(res.Date)
	if err != nil {
		return model.Reservation{}, err
	}
	res.Date = date
	iv, err := res.Interval()
	if err != nil {
		return model.Reservation{}, err
	}
	if !r.window.Contains(iv) {
		return model.Reservation{}, schedule.ErrOutsideHours
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.Reservation{}, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := lockDate(ctx, tx, res.Date); err != nil {
		return model.Reservation{}, err
	}

	existing, err := listByDateTx(ctx, tx, res.Date)
	if err != nil {
		return model.Reservation{}, err
	}
	if !schedule.Available(iv, schedule.BusyIntervals(r.logger, existing, "")) {
		return model.Reservation{}, ErrSlotConflict
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO reservations
			(requester_id, display_name, author_name, event_name, res_date, start_time, duration_minutes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`, res.RequesterID, res.DisplayName, res.AuthorName, res.EventName,
		res.Date, res.StartTime, res.DurationMinutes).Scan(&res.ID, &res.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return model.Reservation{}, ErrSlotConflict
		}
		return model.Reservation{}, fmt.Errorf("insert reservation: %w", err)
	}

	if err := r.emit(ctx, tx, EventBooked, res); err != nil {
		return model.Reservation{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Reservation{}, fmt.Errorf("commit: %w", err)
	}
	return res, nil
}

func (r *ReservationRepository) GetByID(ctx context.Context, id string) (model.Reservation, error) {
	return scanOne(r.pool.QueryRow(ctx, selectColumns+` WHERE id = $1`, id))
}

// ListByDate returns the day's reservations ordered by start time.
func (r *ReservationRepository) ListByDate(ctx context.Context, date string) ([]model.Reservation, error) {
	rows, err := r.pool.Query(ctx, selectColumns+` WHERE res_date = $1 ORDER BY start_time ASC`, date)
	if err != nil {
		return nil, err
	}
	return scanAll(rows)
}

func (r *ReservationRepository) ListByRequester(ctx context.Context, requesterID string) ([]model.Reservation, error) {
	rows, err := r.pool.Query(ctx, selectColumns+` WHERE requester_id = $1 ORDER BY res_date ASC, start_time ASC`, requesterID)
	if err != nil {
		return nil, err
	}
	return scanAll(rows)
}

// UpdateField changes one editable field. Changes to date, time, or
// duration re-validate availability on the (possibly new) date with the
// reservation itself excluded, in the same transaction as the write, so a
// rejected edit leaves the row untouched.
func (r *ReservationRepository) UpdateField(ctx context.Context, id, field, newValue string) error {
	column, ok := editableColumns[field]
	if !ok {
		return fmt.Errorf("%w: %q", ErrInvalidField, field)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	current, err := scanOne(tx.QueryRow(ctx, selectColumns+` WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return err
	}

	updated := current
	var value any = newValue
	switch field {
	case "date":
		canonical, err := timeslot.ParseDate(newValue)
		if err != nil {
			return err
		}
		updated.Date = canonical
		value = canonical
	case "time":
		if _, err := timeslot.ParseClock(newValue); err != nil {
			return err
		}
		updated.StartTime = newValue
	case "duration":
		minutes, err := strconv.Atoi(newValue)
		if err != nil || minutes <= 0 {
			return timeslot.ErrBadDuration
		}
		updated.DurationMinutes = minutes
		value = minutes
	case "author_name", "event_name":
		if newValue == "" {
			return ErrEmptyValue
		}
	}

	timingChanged := field == "date" || field == "time" || field == "duration"
	if timingChanged {
		iv, err := updated.Interval()
		if err != nil {
			return err
		}
		if !r.window.Contains(iv) {
			return schedule.ErrOutsideHours
		}
		if err := lockDate(ctx, tx, current.Date, updated.Date); err != nil {
			return err
		}
		siblings, err := listByDateTx(ctx, tx, updated.Date)
		if err != nil {
			return err
		}
		if !schedule.Available(iv, schedule.BusyIntervals(r.logger, siblings, id)) {
			return ErrSlotConflict
		}
	}

	tag, err := tx.Exec(ctx, `UPDATE reservations SET `+column+` = $1 WHERE id = $2`, value, id)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrSlotConflict
		}
		return fmt.Errorf("update reservation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	if timingChanged {
		if err := r.emit(ctx, tx, EventRescheduled, updated); err != nil {
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Delete removes a reservation. A missing id reports ErrNotFound; the
// caller treats that as "already gone", not a fault.
func (r *ReservationRepository) Delete(ctx context.Context, id string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	res, err := scanOne(tx.QueryRow(ctx, selectColumns+` WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM reservations WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete reservation: %w", err)
	}
	if err := r.emit(ctx, tx, EventCancelled, res); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *ReservationRepository) emit(ctx context.Context, tx pgx.Tx, eventType string, res model.Reservation) error {
	endTime, err := res.EndTime()
	if err != nil {
		endTime = ""
	}
	payload, err := json.Marshal(map[string]any{
		"reservation_id":   res.ID,
		"requester_id":     res.RequesterID,
		"display_name":     res.DisplayName,
		"author_name":      res.AuthorName,
		"event_name":       res.EventName,
		"date":             res.Date,
		"start_time":       res.StartTime,
		"end_time":         endTime,
		"duration_minutes": res.DurationMinutes,
	})
	if err != nil {
		return err
	}
	return r.outbox.Insert(ctx, tx, outbox.Event{
		AggregateType: "reservation",
		AggregateID:   res.ID,
		EventType:     eventType,
		Payload:       payload,
	})
}

const selectColumns = `
	SELECT id, requester_id, display_name, author_name, event_name,
		res_date, start_time, duration_minutes, created_at
	FROM reservations`

func scanOne(row pgx.Row) (model.Reservation, error) {
	var res model.Reservation
	err := row.Scan(&res.ID, &res.RequesterID, &res.DisplayName, &res.AuthorName,
		&res.EventName, &res.Date, &res.StartTime, &res.DurationMinutes, &res.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Reservation{}, ErrNotFound
		}
		return model.Reservation{}, err
	}
	return res, nil
}

func scanAll(rows pgx.Rows) ([]model.Reservation, error) {
	defer rows.Close()
	var out []model.Reservation
	for rows.Next() {
		var res model.Reservation
		if err := rows.Scan(&res.ID, &res.RequesterID, &res.DisplayName, &res.AuthorName,
			&res.EventName, &res.Date, &res.StartTime, &res.DurationMinutes, &res.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func listByDateTx(ctx context.Context, tx pgx.Tx, date string) ([]model.Reservation, error) {
	rows, err := tx.Query(ctx, selectColumns+` WHERE res_date = $1 ORDER BY start_time ASC`, date)
	if err != nil {
		return nil, err
	}
	return scanAll(rows)
}
