package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/example/tablebook/services/reservation-service/internal/model"
	"github.com/example/tablebook/services/reservation-service/internal/schedule"
	"github.com/example/tablebook/services/reservation-service/internal/storage"
	"github.com/example/tablebook/services/reservation-service/internal/timeslot"
)

var (
	// ErrPastDate rejects booking dates before today.
	ErrPastDate = errors.New("date is in the past")
	// ErrUnexpectedEvent signals an event that does not fit the session's
	// current state (stale button press, out-of-order callback).
	ErrUnexpectedEvent = errors.New("event does not match dialogue state")
)

// ConflictPolicy selects what happens when a requested slot is taken: pick
// the nearest free slot silently, or offer it and wait for confirmation.
// Both behaviors exist in the bots' entry points, so both are supported.
type ConflictPolicy string

const (
	PolicyAutoSubstitute ConflictPolicy = "auto_substitute"
	PolicySuggestConfirm ConflictPolicy = "suggest_confirm"
)

// Store is the persistence contract the engine books against. Implemented
// by storage.ReservationRepository; tests use an in-memory fake.
type Store interface {
	Create(ctx context.Context, res model.Reservation) (model.Reservation, error)
	GetByID(ctx context.Context, id string) (model.Reservation, error)
	ListByDate(ctx context.Context, date string) ([]model.Reservation, error)
	ListByRequester(ctx context.Context, requesterID string) ([]model.Reservation, error)
	UpdateField(ctx context.Context, id, field, value string) error
	Delete(ctx context.Context, id string) error
}

type OutcomeKind string

const (
	// OutcomePrompt: the step was accepted, the session now waits for the
	// input named by NextState.
	OutcomePrompt OutcomeKind = "prompt"
	// OutcomeRetry: recoverable bad input; same prompt again, Err says why.
	OutcomeRetry OutcomeKind = "retry"
	// OutcomeSuggestion: the slot is taken; SuggestedTime is offered and the
	// session waits for a SlotDecision.
	OutcomeSuggestion OutcomeKind = "suggestion"
	// OutcomeSubstituted: the slot was taken and the nearest free one was
	// chosen automatically; the dialogue continues.
	OutcomeSubstituted OutcomeKind = "substituted"
	OutcomeCommitted   OutcomeKind = "committed"
	OutcomeUpdated     OutcomeKind = "updated"
	OutcomeCancelled   OutcomeKind = "cancelled"
	OutcomeAborted     OutcomeKind = "aborted"
	OutcomeNotFound    OutcomeKind = "not_found"
	// OutcomeNoCapacity: no free slot of the requested duration remains that
	// day. Not an error; the caller reports "no capacity today".
	OutcomeNoCapacity OutcomeKind = "no_capacity"
)

type Outcome struct {
	Kind          OutcomeKind
	NextState     State
	Reservation   *model.Reservation
	SuggestedTime string
	Err           error
}

// Engine drives the booking, edit, and cancel dialogues. It owns no
// session storage: callers load the session, apply one event, and persist
// what comes back.
type Engine struct {
	store  Store
	window schedule.Window
	policy ConflictPolicy
	logger *slog.Logger
	now    func() time.Time
}

func NewEngine(store Store, window schedule.Window, policy ConflictPolicy, logger *slog.Logger) *Engine {
	if policy == "" {
		policy = PolicySuggestConfirm
	}
	return &Engine{
		store:  store,
		window: window,
		policy: policy,
		logger: logger,
		now:    time.Now,
	}
}

// Apply advances the session with one dialogue event. Recoverable problems
// (bad input, conflicts, missing reservations) come back inside the
// Outcome; only persistence failures are returned as errors.
func (e *Engine) Apply(ctx context.Context, s *Session, ev Event) (Outcome, error) {
	s.UpdatedAt = e.now()

	switch ev := ev.(type) {
	case StartBooking:
		s.reset()
		s.State = StateCollectingDate
		return e.prompt(s), nil
	case DateChosen:
		return e.applyDate(s, ev)
	case TimeChosen:
		return e.applyTime(ctx, s, ev)
	case DurationEntered:
		return e.applyDuration(s, ev)
	case AuthorEntered:
		if s.State != StateCollectingAuthor {
			return e.retry(s, ErrUnexpectedEvent), nil
		}
		if ev.Name == "" {
			return e.retry(s, storage.ErrEmptyValue), nil
		}
		s.Draft.AuthorName = ev.Name
		s.State = StateCollectingEventName
		return e.prompt(s), nil
	case EventNameEntered:
		if s.State != StateCollectingEventName {
			return e.retry(s, ErrUnexpectedEvent), nil
		}
		if ev.Name == "" {
			return e.retry(s, storage.ErrEmptyValue), nil
		}
		s.Draft.EventName = ev.Name
		return e.commit(ctx, s)
	case SlotDecision:
		return e.applySlotDecision(ctx, s, ev)
	case EditRequested:
		return e.applyEditRequest(ctx, s, ev)
	case EditValue:
		return e.applyEditValue(ctx, s, ev)
	case CancelRequested:
		return e.applyCancelRequest(ctx, s, ev)
	case CancelDecision:
		return e.applyCancelDecision(ctx, s, ev)
	default:
		return Outcome{}, fmt.Errorf("unknown event type %T", ev)
	}
}

func (e *Engine) applyDate(s *Session, ev DateChosen) (Outcome, error) {
	if s.State != StateCollectingDate {
		return e.retry(s, ErrUnexpectedEvent), nil
	}
	date, err := timeslot.ParseDate(ev.Date)
	if err != nil {
		return e.retry(s, err), nil
	}
	// Canonical dates compare correctly as strings.
	if date < e.now().Format("2006-01-02") {
		return e.retry(s, ErrPastDate), nil
	}
	s.Draft.Date = date
	s.State = StateCollectingTime
	return e.prompt(s), nil
}

// applyTime validates the chosen start and checks availability right away
// using the default duration, so the user hears about a conflict before
// typing out the rest of the booking.
func (e *Engine) applyTime(ctx context.Context, s *Session, ev TimeChosen) (Outcome, error) {
	if s.State != StateCollectingTime {
		return e.retry(s, ErrUnexpectedEvent), nil
	}
	start, err := timeslot.ParseClock(ev.Time)
	if err != nil {
		return e.retry(s, err), nil
	}
	duration := s.Draft.DurationMinutes
	if duration <= 0 {
		duration = e.window.DefaultDurationMinutes
	}
	candidate := timeslot.Interval{Start: start, DurationMinutes: duration}
	if !e.window.Contains(candidate) {
		return e.retry(s, schedule.ErrOutsideHours), nil
	}

	busy, err := e.busyForDate(ctx, s.Draft.Date, "")
	if err != nil {
		return Outcome{}, err
	}
	if schedule.Available(candidate, busy) {
		s.Draft.Time = start.String()
		s.State = StateCollectingDuration
		return e.prompt(s), nil
	}
	return e.handleConflict(s, start, duration, busy, StateCollectingDuration), nil
}

func (e *Engine) applyDuration(s *Session, ev DurationEntered) (Outcome, error) {
	if s.State != StateCollectingDuration {
		return e.retry(s, ErrUnexpectedEvent), nil
	}
	minutes, err := strconv.Atoi(ev.Minutes)
	if err != nil || minutes <= 0 {
		return e.retry(s, timeslot.ErrBadDuration), nil
	}
	start, err := timeslot.ParseClock(s.Draft.Time)
	if err != nil {
		return Outcome{}, fmt.Errorf("draft time corrupted: %w", err)
	}
	if !e.window.Contains(timeslot.Interval{Start: start, DurationMinutes: minutes}) {
		return e.retry(s, schedule.ErrOutsideHours), nil
	}
	s.Draft.DurationMinutes = minutes
	s.State = StateCollectingAuthor
	return e.prompt(s), nil
}

func (e *Engine) applySlotDecision(ctx context.Context, s *Session, ev SlotDecision) (Outcome, error) {
	if s.State != StateAwaitingSlotConfirm || s.SuggestedTime == "" {
		return e.retry(s, ErrUnexpectedEvent), nil
	}
	suggested := s.SuggestedTime
	s.SuggestedTime = ""

	if !ev.Accept {
		if s.EditID != "" {
			s.State = StateCollectingEditValue
		} else {
			s.State = StateCollectingTime
		}
		return e.prompt(s), nil
	}

	if s.EditID != "" {
		return e.finishEdit(ctx, s, suggested)
	}

	s.Draft.Time = suggested
	if s.Draft.EventName != "" {
		// The conflict surfaced at commit time; all fields are present.
		return e.commit(ctx, s)
	}
	s.State = StateCollectingDuration
	return e.prompt(s), nil
}

// commit attempts the single Store.Create for a completed draft. A
// conflict here means the slot was taken between selection and commit.
func (e *Engine) commit(ctx context.Context, s *Session) (Outcome, error) {
	res := model.Reservation{
		RequesterID:     s.RequesterID,
		DisplayName:     s.DisplayName,
		AuthorName:      s.Draft.AuthorName,
		EventName:       s.Draft.EventName,
		Date:            s.Draft.Date,
		StartTime:       s.Draft.Time,
		DurationMinutes: s.Draft.DurationMinutes,
	}
	created, err := e.store.Create(ctx, res)
	if err == nil {
		s.reset()
		return Outcome{Kind: OutcomeCommitted, Reservation: &created}, nil
	}
	if !errors.Is(err, storage.ErrSlotConflict) {
		return Outcome{}, err
	}

	start, perr := timeslot.ParseClock(res.StartTime)
	if perr != nil {
		return Outcome{}, fmt.Errorf("draft time corrupted: %w", perr)
	}
	busy, berr := e.busyForDate(ctx, res.Date, "")
	if berr != nil {
		return Outcome{}, berr
	}
	return e.handleConflict(s, start, res.DurationMinutes, busy, StateCollectingEventName), nil
}

// handleConflict resolves a taken slot per the configured policy.
// resumeState is where an auto-substituted dialogue continues.
func (e *Engine) handleConflict(s *Session, desired timeslot.Clock, duration int, busy []timeslot.Interval, resumeState State) Outcome {
	nearest, ok := e.window.FindNearest(desired, duration, busy)
	if !ok {
		s.State = StateCollectingDate
		return Outcome{Kind: OutcomeNoCapacity, NextState: s.State}
	}

	if e.policy == PolicyAutoSubstitute {
		s.Draft.Time = nearest.String()
		if resumeState == StateCollectingEventName {
			// Commit-stage conflict: substituting completes the booking, but
			// that needs another Create, so fall through to a suggestion and
			// let the caller re-drive commit via SlotDecision{Accept: true}.
			s.SuggestedTime = nearest.String()
			s.State = StateAwaitingSlotConfirm
			return Outcome{Kind: OutcomeSuggestion, NextState: s.State, SuggestedTime: nearest.String()}
		}
		s.State = resumeState
		return Outcome{Kind: OutcomeSubstituted, NextState: s.State, SuggestedTime: nearest.String()}
	}

	s.SuggestedTime = nearest.String()
	s.State = StateAwaitingSlotConfirm
	return Outcome{Kind: OutcomeSuggestion, NextState: s.State, SuggestedTime: nearest.String()}
}

func (e *Engine) applyEditRequest(ctx context.Context, s *Session, ev EditRequested) (Outcome, error) {
	res, err := e.store.GetByID(ctx, ev.ReservationID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.reset()
			return Outcome{Kind: OutcomeNotFound, NextState: s.State}, nil
		}
		return Outcome{}, err
	}
	// Requesters only ever see their own list; anything else is a stale or
	// forged callback.
	if res.RequesterID != s.RequesterID {
		s.reset()
		return Outcome{Kind: OutcomeNotFound, NextState: s.State}, nil
	}
	if !editableField(ev.Field) {
		// Not reachable from real front ends; a defect in the caller.
		e.logger.Error("edit requested for disallowed field", "field", ev.Field, "reservation_id", ev.ReservationID)
		return e.retry(s, storage.ErrInvalidField), nil
	}
	s.reset()
	s.EditID = ev.ReservationID
	s.EditField = ev.Field
	s.State = StateCollectingEditValue
	return e.prompt(s), nil
}

func (e *Engine) applyEditValue(ctx context.Context, s *Session, ev EditValue) (Outcome, error) {
	if s.State != StateCollectingEditValue || s.EditID == "" {
		return e.retry(s, ErrUnexpectedEvent), nil
	}
	return e.finishEdit(ctx, s, ev.Value)
}

func (e *Engine) finishEdit(ctx context.Context, s *Session, value string) (Outcome, error) {
	err := e.store.UpdateField(ctx, s.EditID, s.EditField, value)
	if err == nil {
		updated, gerr := e.store.GetByID(ctx, s.EditID)
		s.reset()
		out := Outcome{Kind: OutcomeUpdated, NextState: s.State}
		if gerr == nil {
			out.Reservation = &updated
		}
		return out, nil
	}

	switch {
	case errors.Is(err, storage.ErrNotFound):
		s.reset()
		return Outcome{Kind: OutcomeNotFound, NextState: s.State}, nil
	case errors.Is(err, storage.ErrSlotConflict):
		if s.EditField == "time" {
			return e.suggestForEdit(ctx, s, value)
		}
		return e.retry(s, err), nil
	case errors.Is(err, timeslot.ErrMalformedTime),
		errors.Is(err, timeslot.ErrMalformedDate),
		errors.Is(err, timeslot.ErrBadDuration),
		errors.Is(err, schedule.ErrOutsideHours),
		errors.Is(err, storage.ErrEmptyValue),
		errors.Is(err, storage.ErrInvalidField):
		return e.retry(s, err), nil
	default:
		return Outcome{}, err
	}
}

// suggestForEdit offers the nearest free slot when a time edit collides,
// excluding the reservation being edited from the busy set.
func (e *Engine) suggestForEdit(ctx context.Context, s *Session, requested string) (Outcome, error) {
	res, err := e.store.GetByID(ctx, s.EditID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.reset()
			return Outcome{Kind: OutcomeNotFound, NextState: s.State}, nil
		}
		return Outcome{}, err
	}
	desired, perr := timeslot.ParseClock(requested)
	if perr != nil {
		return e.retry(s, perr), nil
	}
	busy, err := e.busyForDate(ctx, res.Date, s.EditID)
	if err != nil {
		return Outcome{}, err
	}
	nearest, ok := e.window.FindNearest(desired, res.DurationMinutes, busy)
	if !ok {
		return Outcome{Kind: OutcomeNoCapacity, NextState: s.State}, nil
	}
	s.SuggestedTime = nearest.String()
	s.State = StateAwaitingSlotConfirm
	return Outcome{Kind: OutcomeSuggestion, NextState: s.State, SuggestedTime: nearest.String()}, nil
}

func (e *Engine) applyCancelRequest(ctx context.Context, s *Session, ev CancelRequested) (Outcome, error) {
	res, err := e.store.GetByID(ctx, ev.ReservationID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.reset()
			return Outcome{Kind: OutcomeNotFound, NextState: s.State}, nil
		}
		return Outcome{}, err
	}
	if res.RequesterID != s.RequesterID {
		s.reset()
		return Outcome{Kind: OutcomeNotFound, NextState: s.State}, nil
	}
	s.reset()
	s.CancelID = ev.ReservationID
	s.State = StateAwaitingCancelConfirm
	return e.prompt(s), nil
}

func (e *Engine) applyCancelDecision(ctx context.Context, s *Session, ev CancelDecision) (Outcome, error) {
	if s.State != StateAwaitingCancelConfirm || s.CancelID == "" {
		return e.retry(s, ErrUnexpectedEvent), nil
	}
	id := s.CancelID
	s.reset()

	if !ev.Confirmed {
		return Outcome{Kind: OutcomeAborted, NextState: s.State}, nil
	}
	if err := e.store.Delete(ctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// Already gone, e.g. a double-tapped confirm button.
			return Outcome{Kind: OutcomeNotFound, NextState: s.State}, nil
		}
		return Outcome{}, err
	}
	return Outcome{Kind: OutcomeCancelled, NextState: s.State}, nil
}

// QuickBook books a fully-specified reservation in one call, the bots'
// shortcut entry point. The conflict policy applies: auto-substitute books
// the nearest slot immediately, suggest-confirm reports it for the front
// end to confirm.
func (e *Engine) QuickBook(ctx context.Context, res model.Reservation) (Outcome, error) {
	date, err := timeslot.ParseDate(res.Date)
	if err != nil {
		return Outcome{Kind: OutcomeRetry, Err: err}, nil
	}
	res.Date = date
	start, err := timeslot.ParseClock(res.StartTime)
	if err != nil {
		return Outcome{Kind: OutcomeRetry, Err: err}, nil
	}
	if res.DurationMinutes == 0 {
		res.DurationMinutes = e.window.DefaultDurationMinutes
	}
	iv, err := timeslot.NewInterval(start, res.DurationMinutes)
	if err != nil {
		return Outcome{Kind: OutcomeRetry, Err: err}, nil
	}
	if !e.window.Contains(iv) {
		return Outcome{Kind: OutcomeRetry, Err: schedule.ErrOutsideHours}, nil
	}

	created, err := e.store.Create(ctx, res)
	if err == nil {
		return Outcome{Kind: OutcomeCommitted, Reservation: &created}, nil
	}
	if !errors.Is(err, storage.ErrSlotConflict) {
		return Outcome{}, err
	}

	busy, berr := e.busyForDate(ctx, res.Date, "")
	if berr != nil {
		return Outcome{}, berr
	}
	nearest, ok := e.window.FindNearest(start, res.DurationMinutes, busy)
	if !ok {
		return Outcome{Kind: OutcomeNoCapacity}, nil
	}
	if e.policy == PolicyAutoSubstitute {
		res.StartTime = nearest.String()
		created, err := e.store.Create(ctx, res)
		if err == nil {
			return Outcome{Kind: OutcomeCommitted, Reservation: &created, SuggestedTime: nearest.String()}, nil
		}
		if errors.Is(err, storage.ErrSlotConflict) {
			// Lost a second race; hand the decision back.
			return Outcome{Kind: OutcomeSuggestion, SuggestedTime: nearest.String()}, nil
		}
		return Outcome{}, err
	}
	return Outcome{Kind: OutcomeSuggestion, SuggestedTime: nearest.String()}, nil
}

func (e *Engine) busyForDate(ctx context.Context, date, excludeID string) ([]timeslot.Interval, error) {
	existing, err := e.store.ListByDate(ctx, date)
	if err != nil {
		return nil, err
	}
	return schedule.BusyIntervals(e.logger, existing, excludeID), nil
}

func (e *Engine) prompt(s *Session) Outcome {
	return Outcome{Kind: OutcomePrompt, NextState: s.State}
}

func (e *Engine) retry(s *Session, err error) Outcome {
	return Outcome{Kind: OutcomeRetry, NextState: s.State, Err: err}
}

func editableField(field string) bool {
	switch field {
	case "date", "time", "duration", "author_name", "event_name":
		return true
	}
	return false
}
