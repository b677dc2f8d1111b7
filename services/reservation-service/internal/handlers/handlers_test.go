package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/example/tablebook/services/reservation-service/internal/model"
	"github.com/example/tablebook/services/reservation-service/internal/schedule"
	"github.com/example/tablebook/services/reservation-service/internal/session"
	"github.com/example/tablebook/services/reservation-service/internal/storage"
	"github.com/example/tablebook/services/reservation-service/internal/timeslot"
	"github.com/example/tablebook/services/reservation-service/internal/workflow"
)

type memStore struct {
	mu     sync.Mutex
	nextID int
	window schedule.Window
	byID   map[string]model.Reservation
}

func newMemStore() *memStore {
	return &memStore{window: schedule.DefaultWindow(), byID: map[string]model.Reservation{}}
}

func (m *memStore) Create(_ context.Context, res model.Reservation) (model.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	iv, err := res.Interval()
	if err != nil {
		return model.Reservation{}, err
	}
	if !m.window.Contains(iv) {
		return model.Reservation{}, schedule.ErrOutsideHours
	}
	if !schedule.Available(iv, m.busyLocked(res.Date, "")) {
		return model.Reservation{}, storage.ErrSlotConflict
	}
	m.nextID++
	res.ID = fmt.Sprintf("res-%d", m.nextID)
	res.CreatedAt = time.Now()
	m.byID[res.ID] = res
	return res, nil
}

func (m *memStore) GetByID(_ context.Context, id string) (model.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, ok := m.byID[id]
	if !ok {
		return model.Reservation{}, storage.ErrNotFound
	}
	return res, nil
}

func (m *memStore) ListByDate(_ context.Context, date string) ([]model.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Reservation
	for _, res := range m.byID {
		if res.Date == date {
			out = append(out, res)
		}
	}
	return out, nil
}

func (m *memStore) ListByRequester(_ context.Context, requesterID string) ([]model.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Reservation
	for _, res := range m.byID {
		if res.RequesterID == requesterID {
			out = append(out, res)
		}
	}
	return out, nil
}

func (m *memStore) UpdateField(_ context.Context, id, field, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, ok := m.byID[id]
	if !ok {
		return storage.ErrNotFound
	}
	updated := res
	switch field {
	case "date":
		canonical, err := timeslot.ParseDate(value)
		if err != nil {
			return err
		}
		updated.Date = canonical
	case "time":
		if _, err := timeslot.ParseClock(value); err != nil {
			return err
		}
		updated.StartTime = value
	case "duration":
		minutes, err := strconv.Atoi(value)
		if err != nil || minutes <= 0 {
			return timeslot.ErrBadDuration
		}
		updated.DurationMinutes = minutes
	case "author_name":
		if value == "" {
			return storage.ErrEmptyValue
		}
		updated.AuthorName = value
	case "event_name":
		if value == "" {
			return storage.ErrEmptyValue
		}
		updated.EventName = value
	default:
		return storage.ErrInvalidField
	}
	if field == "date" || field == "time" || field == "duration" {
		iv, err := updated.Interval()
		if err != nil {
			return err
		}
		if !m.window.Contains(iv) {
			return schedule.ErrOutsideHours
		}
		if !schedule.Available(iv, m.busyLocked(updated.Date, id)) {
			return storage.ErrSlotConflict
		}
	}
	m.byID[id] = updated
	return nil
}

func (m *memStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[id]; !ok {
		return storage.ErrNotFound
	}
	delete(m.byID, id)
	return nil
}

func (m *memStore) busyLocked(date, excludeID string) []timeslot.Interval {
	var busy []timeslot.Interval
	for _, res := range m.byID {
		if res.Date != date || res.ID == excludeID {
			continue
		}
		iv, err := res.Interval()
		if err != nil {
			continue
		}
		busy = append(busy, iv)
	}
	return busy
}

func newTestHandlers(t *testing.T, policy workflow.ConflictPolicy) (*ReservationHandler, *DialogHandler, *memStore) {
	t.Helper()
	store := newMemStore()
	logger := slog.New(slog.DiscardHandler)
	window := schedule.DefaultWindow()
	engine := workflow.NewEngine(store, window, policy, logger)
	rh := NewReservationHandler(store, engine, window, logger)
	dh := NewDialogHandler(engine, session.NewMemoryStore(), logger)
	return rh, dh, store
}

func seed(t *testing.T, store *memStore, requesterID, date, start string, duration int) model.Reservation {
	t.Helper()
	res, err := store.Create(context.Background(), model.Reservation{
		RequesterID: requesterID, DisplayName: "Seed", AuthorName: "Seed",
		EventName: "Seed", Date: date, StartTime: start, DurationMinutes: duration,
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return res
}

func doJSON(t *testing.T, h http.HandlerFunc, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func TestScheduleRejectsBadDate(t *testing.T) {
	rh, _, _ := newTestHandlers(t, workflow.PolicySuggestConfirm)
	rec := doJSON(t, rh.Schedule, http.MethodGet, "/v1/schedule?date=yesterday", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestScheduleListsDay(t *testing.T) {
	rh, _, store := newTestHandlers(t, workflow.PolicySuggestConfirm)
	seed(t, store, "user-1", "2030-03-02", "09:00", 60)
	seed(t, store, "user-2", "2030-03-03", "09:00", 60)

	rec := doJSON(t, rh.Schedule, http.MethodGet, "/v1/schedule?date=2030-03-02", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	var items []reservationItem
	if err := json.Unmarshal(rec.Body.Bytes(), &items); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(items) != 1 || items[0].StartTime != "09:00" || items[0].EndTime != "10:00" {
		t.Fatalf("items = %+v", items)
	}
}

func TestSlotsExcludesBookedGrid(t *testing.T) {
	rh, _, store := newTestHandlers(t, workflow.PolicySuggestConfirm)
	seed(t, store, "user-1", "2030-03-02", "05:00", 60)

	rec := doJSON(t, rh.Slots, http.MethodGet, "/v1/slots?date=2030-03-02&duration_minutes=60", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	var slots []string
	if err := json.Unmarshal(rec.Body.Bytes(), &slots); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(slots) == 0 || slots[0] != "06:00" {
		t.Fatalf("slots = %v, want first free slot 06:00", slots)
	}
	for _, s := range slots {
		if s < "06:00" {
			t.Fatalf("slot %s overlaps the seeded booking", s)
		}
	}
}

func TestBookCreatesReservation(t *testing.T) {
	rh, _, _ := newTestHandlers(t, workflow.PolicySuggestConfirm)
	rec := doJSON(t, rh.Book, http.MethodPost, "/v1/reservations", `{
		"requester_id": "user-1", "author_name": "Dana", "event_name": "Standup",
		"date": "2030-03-02", "start_time": "09:00", "duration_minutes": 30
	}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	var resp bookResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "booked" || resp.Reservation == nil || resp.Reservation.EndTime != "09:30" {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestBookConflictSuggestsAlternative(t *testing.T) {
	rh, _, store := newTestHandlers(t, workflow.PolicySuggestConfirm)
	seed(t, store, "user-0", "2030-03-02", "14:00", 120)

	rec := doJSON(t, rh.Book, http.MethodPost, "/v1/reservations", `{
		"requester_id": "user-1", "author_name": "Dana", "event_name": "Standup",
		"date": "2030-03-02", "start_time": "14:00", "duration_minutes": 60
	}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	var resp bookResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "conflict" || resp.SuggestedTime != "16:00" {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestUpdateRejectsDisallowedField(t *testing.T) {
	rh, _, store := newTestHandlers(t, workflow.PolicySuggestConfirm)
	res := seed(t, store, "user-1", "2030-03-02", "09:00", 60)

	rec := doJSON(t, rh.Update, http.MethodPost, "/v1/reservations/update", fmt.Sprintf(`{
		"requester_id": "user-1", "reservation_id": %q, "field": "requester_id", "value": "user-9"
	}`, res.ID))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
}

func TestUpdateForeignReservationHidden(t *testing.T) {
	rh, _, store := newTestHandlers(t, workflow.PolicySuggestConfirm)
	res := seed(t, store, "user-0", "2030-03-02", "09:00", 60)

	rec := doJSON(t, rh.Update, http.MethodPost, "/v1/reservations/update", fmt.Sprintf(`{
		"requester_id": "user-1", "reservation_id": %q, "field": "event_name", "value": "Hijack"
	}`, res.ID))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
}

func TestCancelNotFound(t *testing.T) {
	rh, _, _ := newTestHandlers(t, workflow.PolicySuggestConfirm)
	rec := doJSON(t, rh.Cancel, http.MethodPost, "/v1/reservations/cancel", `{
		"requester_id": "user-1", "reservation_id": "no-such-id"
	}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
}

func TestDialogFullBookingFlow(t *testing.T) {
	_, dh, store := newTestHandlers(t, workflow.PolicySuggestConfirm)

	step := func(event string) dialogResponse {
		t.Helper()
		rec := doJSON(t, dh.Handle, http.MethodPost, "/v1/dialog",
			`{"requester_id": "user-1", "display_name": "Dana", "event": `+event+`}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", rec.Code, rec.Body)
		}
		var resp dialogResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return resp
	}

	resp := step(`{"type": "start_booking"}`)
	if resp.Outcome != "prompt" || resp.State != "collecting_date" {
		t.Fatalf("start: %+v", resp)
	}
	step(`{"type": "date", "value": "2030-03-02"}`)
	step(`{"type": "time", "value": "09:00"}`)
	step(`{"type": "duration", "value": "30"}`)
	step(`{"type": "author", "value": "Dana"}`)
	resp = step(`{"type": "event_name", "value": "Standup"}`)
	if resp.Outcome != "committed" || resp.Reservation == nil {
		t.Fatalf("commit: %+v", resp)
	}
	if resp.Reservation.EndTime != "09:30" {
		t.Fatalf("end time = %q", resp.Reservation.EndTime)
	}

	day, _ := store.ListByDate(context.Background(), "2030-03-02")
	if len(day) != 1 {
		t.Fatalf("stored = %d, want 1", len(day))
	}
}

func TestDialogRejectsUnknownEventType(t *testing.T) {
	_, dh, _ := newTestHandlers(t, workflow.PolicySuggestConfirm)
	rec := doJSON(t, dh.Handle, http.MethodPost, "/v1/dialog",
		`{"requester_id": "user-1", "event": {"type": "teleport"}}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
}

func TestDialogBadInputKeepsSessionState(t *testing.T) {
	_, dh, _ := newTestHandlers(t, workflow.PolicySuggestConfirm)

	doJSON(t, dh.Handle, http.MethodPost, "/v1/dialog",
		`{"requester_id": "user-1", "event": {"type": "start_booking"}}`)
	rec := doJSON(t, dh.Handle, http.MethodPost, "/v1/dialog",
		`{"requester_id": "user-1", "event": {"type": "date", "value": "not-a-date"}}`)
	var resp dialogResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Outcome != "retry" || resp.State != "collecting_date" || resp.Error == "" {
		t.Fatalf("resp = %+v", resp)
	}
}
