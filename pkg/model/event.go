package model

import (
	"time"

	"github.com/jxucoder/researcher/pkg/activity"
)

// Event types streamed for a run.
const (
	EventActivity = "activity"
	EventStatus   = "status"
	EventDone     = "done"
	EventError    = "error"
)

// Event is a single entry in a run's live event stream.
type Event struct {
	ID        int64           `json:"id"`
	RunID     string          `json:"run_id"`
	Type      string          `json:"type"`
	Data      string          `json:"data,omitempty"`
	Entry     *activity.Entry `json:"entry,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}
