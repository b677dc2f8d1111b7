package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/example/tablebook/services/reservation-service/internal/model"
	"github.com/example/tablebook/services/reservation-service/internal/schedule"
	"github.com/example/tablebook/services/reservation-service/internal/storage"
	"github.com/example/tablebook/services/reservation-service/internal/timeslot"
	"github.com/example/tablebook/services/reservation-service/internal/workflow"
)

// ReservationHandler is the HTTP front for direct (non-dialogue) calls:
// schedules, free slots, one-shot booking, edits, and cancellations.
type ReservationHandler struct {
	store  workflow.Store
	engine *workflow.Engine
	window schedule.Window
	logger *slog.Logger
}

func NewReservationHandler(store workflow.Store, engine *workflow.Engine, window schedule.Window, logger *slog.Logger) *ReservationHandler {
	return &ReservationHandler{store: store, engine: engine, window: window, logger: logger}
}

type reservationItem struct {
	ReservationID   string `json:"reservation_id"`
	RequesterID     string `json:"requester_id"`
	DisplayName     string `json:"display_name"`
	AuthorName      string `json:"author_name"`
	EventName       string `json:"event_name"`
	Date            string `json:"date"`
	StartTime       string `json:"start_time"`
	EndTime         string `json:"end_time,omitempty"`
	DurationMinutes int    `json:"duration_minutes"`
	CreatedAt       string `json:"created_at"`
}

type bookRequest struct {
	RequesterID     string `json:"requester_id"`
	DisplayName     string `json:"display_name"`
	AuthorName      string `json:"author_name"`
	EventName       string `json:"event_name"`
	Date            string `json:"date"`
	StartTime       string `json:"start_time"`
	DurationMinutes int    `json:"duration_minutes"`
}

type bookResponse struct {
	Status        string           `json:"status"`
	SuggestedTime string           `json:"suggested_time,omitempty"`
	Reservation   *reservationItem `json:"reservation,omitempty"`
}

type updateRequest struct {
	RequesterID   string `json:"requester_id"`
	ReservationID string `json:"reservation_id"`
	Field         string `json:"field"`
	Value         string `json:"value"`
}

type cancelRequest struct {
	RequesterID   string `json:"requester_id"`
	ReservationID string `json:"reservation_id"`
}

// Schedule serves the day's reservations ordered by start time.
func (h *ReservationHandler) Schedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	date, err := timeslot.ParseDate(strings.TrimSpace(r.URL.Query().Get("date")))
	if err != nil {
		http.Error(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	reservations, err := h.store.ListByDate(r.Context(), date)
	if err != nil {
		h.logger.Error("list by date failed", "date", date, "err", err)
		http.Error(w, "failed to load schedule", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, toItems(reservations))
}

// Slots serves the free grid slots for a date and duration.
func (h *ReservationHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	date, err := timeslot.ParseDate(strings.TrimSpace(r.URL.Query().Get("date")))
	if err != nil {
		http.Error(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	duration := h.window.DefaultDurationMinutes
	if raw := strings.TrimSpace(r.URL.Query().Get("duration_minutes")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "duration_minutes must be a positive integer", http.StatusBadRequest)
			return
		}
		duration = n
	}

	reservations, err := h.store.ListByDate(r.Context(), date)
	if err != nil {
		h.logger.Error("list by date failed", "date", date, "err", err)
		http.Error(w, "failed to load schedule", http.StatusInternalServerError)
		return
	}
	busy := schedule.BusyIntervals(h.logger, reservations, "")

	slots := h.window.FreeSlots(duration, busy)
	out := make([]string, 0, len(slots))
	for _, s := range slots {
		out = append(out, s.String())
	}
	writeJSON(w, http.StatusOK, out)
}

// Book creates a reservation in one call. A conflict answers 409 with the
// nearest free start so the client can confirm or pick another time; under
// the auto-substitute policy the nearest slot is booked directly.
func (h *ReservationHandler) Book(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req bookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.RequesterID = strings.TrimSpace(req.RequesterID)
	req.AuthorName = strings.TrimSpace(req.AuthorName)
	req.EventName = strings.TrimSpace(req.EventName)
	if req.RequesterID == "" || req.AuthorName == "" || req.EventName == "" {
		http.Error(w, "requester_id, author_name, and event_name are required", http.StatusBadRequest)
		return
	}
	if req.DisplayName == "" {
		req.DisplayName = "Unknown"
	}

	out, err := h.engine.QuickBook(r.Context(), model.Reservation{
		RequesterID:     req.RequesterID,
		DisplayName:     req.DisplayName,
		AuthorName:      req.AuthorName,
		EventName:       req.EventName,
		Date:            req.Date,
		StartTime:       req.StartTime,
		DurationMinutes: req.DurationMinutes,
	})
	if err != nil {
		h.logger.Error("book failed", "requester_id", req.RequesterID, "err", err)
		http.Error(w, "failed to book reservation", http.StatusInternalServerError)
		return
	}

	switch out.Kind {
	case workflow.OutcomeCommitted:
		writeJSON(w, http.StatusCreated, bookResponse{
			Status:        "booked",
			SuggestedTime: out.SuggestedTime,
			Reservation:   toItem(*out.Reservation),
		})
	case workflow.OutcomeSuggestion:
		writeJSON(w, http.StatusConflict, bookResponse{
			Status:        "conflict",
			SuggestedTime: out.SuggestedTime,
		})
	case workflow.OutcomeNoCapacity:
		writeJSON(w, http.StatusConflict, bookResponse{Status: "no_capacity"})
	default:
		http.Error(w, userMessage(out.Err), http.StatusBadRequest)
	}
}

// List serves one requester's reservations across dates.
func (h *ReservationHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	requesterID := strings.TrimSpace(r.URL.Query().Get("requester_id"))
	if requesterID == "" {
		http.Error(w, "requester_id required", http.StatusBadRequest)
		return
	}
	reservations, err := h.store.ListByRequester(r.Context(), requesterID)
	if err != nil {
		h.logger.Error("list by requester failed", "requester_id", requesterID, "err", err)
		http.Error(w, "failed to list reservations", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, toItems(reservations))
}

// Update changes one editable field of the caller's own reservation.
func (h *ReservationHandler) Update(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.ReservationID = strings.TrimSpace(req.ReservationID)
	req.Field = strings.TrimSpace(req.Field)
	if req.ReservationID == "" || req.Field == "" {
		http.Error(w, "reservation_id and field required", http.StatusBadRequest)
		return
	}

	if !h.ownedByRequester(w, r, req.ReservationID, req.RequesterID) {
		return
	}

	if err := h.store.UpdateField(r.Context(), req.ReservationID, req.Field, req.Value); err != nil {
		h.writeStoreError(w, err)
		return
	}
	updated, err := h.store.GetByID(r.Context(), req.ReservationID)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toItem(updated))
}

// Cancel deletes the caller's own reservation. A missing id answers 404;
// clients treat that as already cancelled.
func (h *ReservationHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.ReservationID = strings.TrimSpace(req.ReservationID)
	if req.ReservationID == "" {
		http.Error(w, "reservation_id required", http.StatusBadRequest)
		return
	}

	if !h.ownedByRequester(w, r, req.ReservationID, req.RequesterID) {
		return
	}

	if err := h.store.Delete(r.Context(), req.ReservationID); err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// ownedByRequester answers 404 for missing or foreign reservations so the
// response does not reveal whether the id exists. An empty requester_id is
// a trusted internal caller and skips the check.
func (h *ReservationHandler) ownedByRequester(w http.ResponseWriter, r *http.Request, reservationID, requesterID string) bool {
	res, err := h.store.GetByID(r.Context(), reservationID)
	if err != nil {
		h.writeStoreError(w, err)
		return false
	}
	if requesterID != "" && res.RequesterID != requesterID {
		http.Error(w, "reservation not found", http.StatusNotFound)
		return false
	}
	return true
}

func (h *ReservationHandler) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		http.Error(w, "reservation not found", http.StatusNotFound)
	case errors.Is(err, storage.ErrSlotConflict):
		http.Error(w, "time slot already booked", http.StatusConflict)
	case errors.Is(err, storage.ErrInvalidField),
		errors.Is(err, storage.ErrEmptyValue),
		errors.Is(err, schedule.ErrOutsideHours),
		errors.Is(err, timeslot.ErrMalformedDate),
		errors.Is(err, timeslot.ErrMalformedTime),
		errors.Is(err, timeslot.ErrBadDuration):
		http.Error(w, userMessage(err), http.StatusBadRequest)
	default:
		h.logger.Error("reservation store error", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func userMessage(err error) string {
	if err == nil {
		return "invalid request"
	}
	return err.Error()
}

func toItem(res model.Reservation) *reservationItem {
	item := &reservationItem{
		ReservationID:   res.ID,
		RequesterID:     res.RequesterID,
		DisplayName:     res.DisplayName,
		AuthorName:      res.AuthorName,
		EventName:       res.EventName,
		Date:            res.Date,
		StartTime:       res.StartTime,
		DurationMinutes: res.DurationMinutes,
		CreatedAt:       res.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
	if end, err := res.EndTime(); err == nil {
		item.EndTime = end
	}
	return item
}

func toItems(reservations []model.Reservation) []reservationItem {
	items := make([]reservationItem, 0, len(reservations))
	for _, res := range reservations {
		items = append(items, *toItem(res))
	}
	return items
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	raw, err := json.Marshal(body)
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(raw)
}
