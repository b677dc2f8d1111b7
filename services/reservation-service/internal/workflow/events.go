package workflow

// Event is the closed set of dialogue inputs. Front ends decode their own
// callbacks and messages into exactly one of these at the boundary;
// nothing downstream re-parses payload strings.
type Event interface{ isEvent() }

// StartBooking begins a fresh booking dialogue, discarding any half-built
// draft for the same requester.
type StartBooking struct{}

// DateChosen carries a calendar date in YYYY-MM-DD form.
type DateChosen struct {
	Date string
}

// TimeChosen carries an HH:MM start time.
type TimeChosen struct {
	Time string
}

// DurationEntered carries the raw duration text the user typed; the engine
// validates it so a bad value re-prompts instead of failing.
type DurationEntered struct {
	Minutes string
}

// AuthorEntered carries the responsible person's name.
type AuthorEntered struct {
	Name string
}

// EventNameEntered carries the event title and completes the booking.
type EventNameEntered struct {
	Name string
}

// SlotDecision answers a suggested-alternative prompt after a conflict.
type SlotDecision struct {
	Accept bool
}

// EditRequested opens an edit dialogue for one field of an existing
// reservation.
type EditRequested struct {
	ReservationID string
	Field         string
}

// EditValue carries the replacement value for the field being edited.
type EditValue struct {
	Value string
}

// CancelRequested asks to cancel a reservation; the engine requires an
// explicit confirmation before deleting.
type CancelRequested struct {
	ReservationID string
}

// CancelDecision confirms or aborts a pending cancellation.
type CancelDecision struct {
	Confirmed bool
}

func (StartBooking) isEvent()     {}
func (DateChosen) isEvent()       {}
func (TimeChosen) isEvent()       {}
func (DurationEntered) isEvent()  {}
func (AuthorEntered) isEvent()    {}
func (EventNameEntered) isEvent() {}
func (SlotDecision) isEvent()     {}
func (EditRequested) isEvent()    {}
func (EditValue) isEvent()        {}
func (CancelRequested) isEvent()  {}
func (CancelDecision) isEvent()   {}
