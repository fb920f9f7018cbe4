// Package store defines the ReportStore interface for report persistence.
package store

import (
	"errors"

	"github.com/jxucoder/researcher/pkg/model"
)

// ErrNotFound is returned by Load when no report has the given ID.
var ErrNotFound = errors.New("report not found")

// ReportStore persists finished research reports.
type ReportStore interface {
	// Save persists r, sets r.ID to the key it was stored under and
	// returns that key.
	Save(r *model.Report) (string, error)
	// List returns summaries of all stored reports, newest first.
	List() ([]model.Summary, error)
	Load(id string) (*model.Report, error)
	Close() error
}
