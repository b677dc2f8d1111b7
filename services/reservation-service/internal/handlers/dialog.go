package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/example/tablebook/services/reservation-service/internal/session"
	"github.com/example/tablebook/services/reservation-service/internal/workflow"
)

// DialogHandler drives the step-by-step booking dialogue for chat front
// ends. Each request carries exactly one dialogue event; the raw payload is
// decoded into a typed event here and nowhere else.
type DialogHandler struct {
	engine   *workflow.Engine
	sessions session.Store
	logger   *slog.Logger
}

func NewDialogHandler(engine *workflow.Engine, sessions session.Store, logger *slog.Logger) *DialogHandler {
	return &DialogHandler{engine: engine, sessions: sessions, logger: logger}
}

type dialogRequest struct {
	RequesterID string `json:"requester_id"`
	DisplayName string `json:"display_name"`
	Event       struct {
		Type          string `json:"type"`
		Value         string `json:"value,omitempty"`
		Field         string `json:"field,omitempty"`
		ReservationID string `json:"reservation_id,omitempty"`
		Accept        *bool  `json:"accept,omitempty"`
		Confirmed     *bool  `json:"confirmed,omitempty"`
	} `json:"event"`
}

type dialogResponse struct {
	Outcome       string           `json:"outcome"`
	State         string           `json:"state"`
	SuggestedTime string           `json:"suggested_time,omitempty"`
	Reservation   *reservationItem `json:"reservation,omitempty"`
	Error         string           `json:"error,omitempty"`
}

func (h *DialogHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req dialogRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.RequesterID = strings.TrimSpace(req.RequesterID)
	if req.RequesterID == "" {
		http.Error(w, "requester_id required", http.StatusBadRequest)
		return
	}

	ev, err := decodeEvent(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	sess, err := h.sessions.Load(ctx, req.RequesterID)
	if err != nil {
		if !errors.Is(err, session.ErrNotFound) {
			h.logger.Error("session load failed", "requester_id", req.RequesterID, "err", err)
			http.Error(w, "session store unavailable", http.StatusServiceUnavailable)
			return
		}
		sess = session.New(req.RequesterID, req.DisplayName)
	}
	if req.DisplayName != "" {
		sess.DisplayName = req.DisplayName
	}

	out, err := h.engine.Apply(ctx, sess, ev)
	if err != nil {
		h.logger.Error("dialogue step failed", "requester_id", req.RequesterID, "state", sess.State, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	// Finished dialogues drop the session; everything else persists it so
	// the next message resumes where this one left off.
	if sess.State == workflow.StateIdle {
		if err := h.sessions.Delete(ctx, req.RequesterID); err != nil {
			h.logger.Warn("session delete failed", "requester_id", req.RequesterID, "err", err)
		}
	} else if err := h.sessions.Save(ctx, sess); err != nil {
		h.logger.Error("session save failed", "requester_id", req.RequesterID, "err", err)
		http.Error(w, "session store unavailable", http.StatusServiceUnavailable)
		return
	}

	resp := dialogResponse{
		Outcome:       string(out.Kind),
		State:         string(sess.State),
		SuggestedTime: out.SuggestedTime,
	}
	if out.Reservation != nil {
		resp.Reservation = toItem(*out.Reservation)
	}
	if out.Err != nil {
		resp.Error = out.Err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func decodeEvent(req dialogRequest) (workflow.Event, error) {
	e := req.Event
	switch e.Type {
	case "start_booking":
		return workflow.StartBooking{}, nil
	case "date":
		return workflow.DateChosen{Date: strings.TrimSpace(e.Value)}, nil
	case "time":
		return workflow.TimeChosen{Time: strings.TrimSpace(e.Value)}, nil
	case "duration":
		return workflow.DurationEntered{Minutes: strings.TrimSpace(e.Value)}, nil
	case "author":
		return workflow.AuthorEntered{Name: strings.TrimSpace(e.Value)}, nil
	case "event_name":
		return workflow.EventNameEntered{Name: strings.TrimSpace(e.Value)}, nil
	case "slot_decision":
		if e.Accept == nil {
			return nil, errors.New("slot_decision requires accept")
		}
		return workflow.SlotDecision{Accept: *e.Accept}, nil
	case "edit":
		if e.ReservationID == "" || e.Field == "" {
			return nil, errors.New("edit requires reservation_id and field")
		}
		return workflow.EditRequested{ReservationID: e.ReservationID, Field: e.Field}, nil
	case "edit_value":
		return workflow.EditValue{Value: strings.TrimSpace(e.Value)}, nil
	case "cancel":
		if e.ReservationID == "" {
			return nil, errors.New("cancel requires reservation_id")
		}
		return workflow.CancelRequested{ReservationID: e.ReservationID}, nil
	case "cancel_decision":
		if e.Confirmed == nil {
			return nil, errors.New("cancel_decision requires confirmed")
		}
		return workflow.CancelDecision{Confirmed: *e.Confirmed}, nil
	default:
		return nil, fmt.Errorf("unknown event type %q", e.Type)
	}
}
