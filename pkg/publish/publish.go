// Package publish defines the Publisher interface for delivering finished
// reports to external services.
package publish

import (
	"context"
	"errors"
	"fmt"

	"github.com/jxucoder/researcher/pkg/model"
)

// Publisher delivers a report somewhere and returns a link or identifier for
// the published copy.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, r *model.Report) (string, error)
}

// Result is the outcome of publishing to one destination.
type Result struct {
	Publisher string
	Location  string
	Err       error
}

// All publishes r to every publisher in order. It never stops early; the
// returned error joins every individual failure.
func All(ctx context.Context, r *model.Report, pubs ...Publisher) ([]Result, error) {
	var (
		results []Result
		errs    []error
	)
	for _, p := range pubs {
		loc, err := p.Publish(ctx, r)
		if err != nil {
			err = fmt.Errorf("publishing to %s: %w", p.Name(), err)
			errs = append(errs, err)
		}
		results = append(results, Result{Publisher: p.Name(), Location: loc, Err: err})
	}
	return results, errors.Join(errs...)
}
