package model

import "time"

// RunStatus represents the current state of a research run.
type RunStatus string

const (
	RunPending  RunStatus = "pending"
	RunRunning  RunStatus = "running"
	RunComplete RunStatus = "complete"
	RunError    RunStatus = "error"
)

// Done reports whether the run has finished, successfully or not.
func (s RunStatus) Done() bool { return s == RunComplete || s == RunError }

// Run is a single research request tracked by the engine.
type Run struct {
	ID        string    `json:"id"`
	Topic     string    `json:"topic"`
	Depth     Depth     `json:"depth"`
	Status    RunStatus `json:"status"`
	Stage     string    `json:"stage,omitempty"`
	ReportID  string    `json:"report_id,omitempty"`
	Error     string    `json:"error,omitempty"`
	Published []string  `json:"published,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
