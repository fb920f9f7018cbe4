// Package jsonfile implements store.ReportStore as one JSON document per
// report in a directory.
package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/felixgeelhaar/fortify/retry"
	"github.com/xeipuuv/gojsonschema"

	"github.com/jxucoder/researcher/pkg/model"
	"github.com/jxucoder/researcher/pkg/store"
)

const (
	filePrefix = "report_"
	fileSuffix = ".json"
	timeLayout = "20060102_150405"
)

const documentSchema = `{
  "type": "object",
  "required": ["topic", "timestamp", "datetime", "report"],
  "properties": {
    "topic":     {"type": "string"},
    "timestamp": {"type": "string", "pattern": "^[0-9]{8}_[0-9]{6}$"},
    "datetime":  {"type": "string"},
    "report": {
      "type": "object",
      "required": ["report"],
      "properties": {
        "report":  {"type": "string"},
        "queries": {"type": ["array", "null"], "items": {"type": "string"}},
        "sources": {"type": ["array", "null"]},
        "logs":    {"type": ["array", "null"]}
      }
    }
  }
}`

var schemaLoader = gojsonschema.NewStringLoader(documentSchema)

// document is the on-disk layout of a saved report.
type document struct {
	Topic     string        `json:"topic"`
	Timestamp string        `json:"timestamp"`
	Datetime  string        `json:"datetime"`
	Report    *model.Report `json:"report"`
}

// Store writes reports under dir as report_<topic>_<timestamp>.json. The file
// name without extension is the report ID.
type Store struct {
	dir         string
	now         func() time.Time
	retryConfig retry.Config
}

var _ store.ReportStore = (*Store)(nil)

// New creates the directory if needed and returns a store rooted there.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating report directory: %w", err)
	}
	return &Store{
		dir: dir,
		now: time.Now,
		retryConfig: retry.Config{
			MaxAttempts:   3,
			InitialDelay:  10 * time.Millisecond,
			BackoffPolicy: retry.BackoffExponential,
		},
	}, nil
}

// Dir returns the directory reports are written to.
func (s *Store) Dir() string { return s.dir }

// Close is a no-op.
func (s *Store) Close() error { return nil }

// Save writes r to a new file and returns its ID. Name collisions within the
// same second get a numeric suffix. A report whose ID names an existing file
// replaces that file.
func (s *Store) Save(r *model.Report) (string, error) {
	now := s.now()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now.UTC()
	}
	stamp := r.CreatedAt.Local().Format(timeLayout)

	retryer := retry.New[string](s.retryConfig)
	if validID(r.ID) {
		if _, err := os.Stat(s.path(r.ID)); err == nil {
			return retryer.Do(context.Background(), func(ctx context.Context) (string, error) {
				return r.ID, s.replace(r, stamp)
			})
		}
	}

	base := filePrefix + model.SafeTopic(r.Topic) + "_" + stamp
	return retryer.Do(context.Background(), func(ctx context.Context) (string, error) {
		for n := 1; ; n++ {
			id := base
			if n > 1 {
				id = base + "_" + strconv.Itoa(n)
			}
			r.ID = id
			data, err := json.MarshalIndent(document{
				Topic:     r.Topic,
				Timestamp: stamp,
				Datetime:  r.CreatedAt.Local().Format(time.RFC3339Nano),
				Report:    r,
			}, "", "  ")
			if err != nil {
				return "", fmt.Errorf("encoding report: %w", err)
			}

			f, err := os.OpenFile(s.path(id), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
			if errors.Is(err, os.ErrExist) {
				continue
			}
			if err != nil {
				return "", fmt.Errorf("creating report file: %w", err)
			}
			if _, err := f.Write(data); err != nil {
				f.Close()
				os.Remove(f.Name())
				return "", fmt.Errorf("writing report file: %w", err)
			}
			if err := f.Close(); err != nil {
				return "", fmt.Errorf("closing report file: %w", err)
			}
			return id, nil
		}
	})
}

// List returns summaries for every report file, most recently modified first.
// Files that fail validation are skipped.
func (s *Store) List() ([]model.Summary, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading report directory: %w", err)
	}

	type item struct {
		sum   model.Summary
		mtime time.Time
	}
	var items []item
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		r, err := s.Load(strings.TrimSuffix(name, fileSuffix))
		if err != nil {
			continue
		}
		items = append(items, item{sum: r.Summary(), mtime: info.ModTime()})
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].mtime.After(items[j].mtime)
	})

	out := make([]model.Summary, len(items))
	for i, it := range items {
		out[i] = it.sum
	}
	return out, nil
}

// Load reads and validates the report with the given ID. A trailing ".json"
// on id is accepted.
func (s *Store) Load(id string) (*model.Report, error) {
	id = strings.TrimSuffix(id, fileSuffix)
	if !validID(id) {
		return nil, store.ErrNotFound
	}

	data, err := os.ReadFile(s.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading report %s: %w", id, err)
	}

	if err := validate(data); err != nil {
		return nil, fmt.Errorf("report %s: %w", id, err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding report %s: %w", id, err)
	}
	r := doc.Report
	r.ID = id
	if r.Topic == "" {
		r.Topic = doc.Topic
	}
	if r.CreatedAt.IsZero() {
		if t, err := time.ParseInLocation(timeLayout, doc.Timestamp, time.Local); err == nil {
			r.CreatedAt = t.UTC()
		}
	}
	return r, nil
}

// replace rewrites the file for r.ID through a temporary file and rename.
func (s *Store) replace(r *model.Report, stamp string) error {
	data, err := json.MarshalIndent(document{
		Topic:     r.Topic,
		Timestamp: stamp,
		Datetime:  r.CreatedAt.Local().Format(time.RFC3339Nano),
		Report:    r,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, ".tmp-"+r.ID+"-*")
	if err != nil {
		return fmt.Errorf("creating report file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing report file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("closing report file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path(r.ID)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replacing report %s: %w", r.ID, err)
	}
	return nil
}

func validID(id string) bool {
	return id != "" && id == filepath.Base(id) && strings.HasPrefix(id, filePrefix)
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+fileSuffix)
}

func validate(data []byte) error {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("validating report: %w", err)
	}
	if !result.Valid() {
		var msgs []string
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		return fmt.Errorf("invalid report document: %s", strings.Join(msgs, "; "))
	}
	return nil
}
