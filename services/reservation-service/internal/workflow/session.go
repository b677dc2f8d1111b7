package workflow

import "time"

// State names the dialogue step a session is waiting on.
type State string

const (
	StateIdle                  State = "idle"
	StateCollectingDate        State = "collecting_date"
	StateCollectingTime        State = "collecting_time"
	StateCollectingDuration    State = "collecting_duration"
	StateCollectingAuthor      State = "collecting_author"
	StateCollectingEventName   State = "collecting_event_name"
	StateAwaitingSlotConfirm   State = "awaiting_slot_confirm"
	StateCollectingEditValue   State = "collecting_edit_value"
	StateAwaitingCancelConfirm State = "awaiting_cancel_confirm"
)

// Draft accumulates booking fields across dialogue steps.
type Draft struct {
	Date            string `json:"date"`
	Time            string `json:"time"`
	DurationMinutes int    `json:"duration_minutes"`
	AuthorName      string `json:"author_name"`
	EventName       string `json:"event_name"`
}

// Session is the per-requester dialogue state. It replaces shared mutable
// maps with an explicit object: created on first interaction, persisted
// between messages, cleared on completion, abort, or TTL expiry.
type Session struct {
	ID            string    `json:"id"`
	RequesterID   string    `json:"requester_id"`
	DisplayName   string    `json:"display_name"`
	State         State     `json:"state"`
	Draft         Draft     `json:"draft"`
	EditID        string    `json:"edit_id,omitempty"`
	EditField     string    `json:"edit_field,omitempty"`
	CancelID      string    `json:"cancel_id,omitempty"`
	SuggestedTime string    `json:"suggested_time,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (s *Session) reset() {
	s.State = StateIdle
	s.Draft = Draft{}
	s.EditID = ""
	s.EditField = ""
	s.CancelID = ""
	s.SuggestedTime = ""
}
