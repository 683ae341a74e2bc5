// internal/results/report.go
package results

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	json "github.com/json-iterator/go"
)

// Status is where an element ended up in a pass.
type Status string

const (
	// StatusPending means the element was rewritten and its image is loading.
	StatusPending Status = "pending"
	// StatusLoaded means the final image loaded and was swapped in.
	StatusLoaded Status = "loaded"
	// StatusFailed means the final image failed to load; the placeholder stays.
	StatusFailed Status = "failed"
	// StatusStale means the load finished after the element was reprocessed
	// and the result was discarded.
	StatusStale Status = "stale"
	// StatusInvalid means the element's attributes did not validate.
	StatusInvalid Status = "invalid"
	// StatusSkipped means the element was already processed.
	StatusSkipped Status = "skipped"
)

// Entry describes one element in a pass.
type Entry struct {
	ElementID uint64 `json:"element_id"`
	Tag       string `json:"tag"`
	Source    string `json:"source,omitempty"`
	URL       string `json:"url,omitempty"`
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
	Strategy  string `json:"strategy,omitempty"`
	Status    Status `json:"status"`
	Error     string `json:"error,omitempty"`
}

// PassReport records a single rewrite pass. Entries may be updated after
// the pass returns as image loads complete; all methods are safe for
// concurrent use.
type PassReport struct {
	mu         sync.Mutex
	id         string
	forced     bool
	startedAt  time.Time
	finishedAt time.Time
	entries    []Entry
	index      map[uint64]int
}

// NewPassReport starts a report with a fresh pass ID.
func NewPassReport(forced bool) *PassReport {
	return &PassReport{
		id:        uuid.New().String(),
		forced:    forced,
		startedAt: time.Now().UTC(),
		index:     make(map[uint64]int),
	}
}

// ID returns the pass ID.
func (r *PassReport) ID() string { return r.id }

// Forced reports whether the pass reprocessed every element.
func (r *PassReport) Forced() bool { return r.forced }

// Add records an element. A later Add for the same element replaces the entry.
func (r *PassReport) Add(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i, ok := r.index[e.ElementID]; ok {
		r.entries[i] = e
		return
	}
	r.index[e.ElementID] = len(r.entries)
	r.entries = append(r.entries, e)
}

// SetStatus updates the status of a recorded element. err may be nil.
func (r *PassReport) SetStatus(elementID uint64, status Status, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.index[elementID]
	if !ok {
		return
	}
	r.entries[i].Status = status
	if err != nil {
		r.entries[i].Error = err.Error()
	}
}

// Finish stamps the end time of the synchronous part of the pass.
func (r *PassReport) Finish() {
	r.mu.Lock()
	r.finishedAt = time.Now().UTC()
	r.mu.Unlock()
}

// Entries returns a copy of the entries in document order.
func (r *PassReport) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.entries...)
}

// Entry returns the entry for an element.
func (r *PassReport) Entry(elementID uint64) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.index[elementID]
	if !ok {
		return Entry{}, false
	}
	return r.entries[i], true
}

// Counts tallies entries by status.
func (r *PassReport) Counts() map[Status]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[Status]int)
	for _, e := range r.entries {
		counts[e.Status]++
	}
	return counts
}

type passReportJSON struct {
	ID         string         `json:"id"`
	Forced     bool           `json:"forced"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at,omitempty"`
	Counts     map[Status]int `json:"counts"`
	Entries    []Entry        `json:"entries"`
}

// MarshalJSON implements json.Marshaler.
func (r *PassReport) MarshalJSON() ([]byte, error) {
	counts := r.Counts()
	r.mu.Lock()
	out := passReportJSON{
		ID:         r.id,
		Forced:     r.forced,
		StartedAt:  r.startedAt,
		FinishedAt: r.finishedAt,
		Counts:     counts,
		Entries:    append([]Entry{}, r.entries...),
	}
	r.mu.Unlock()
	return json.Marshal(out)
}

// Write encodes the reports as an indented JSON array.
func Write(w io.Writer, reports ...*PassReport) error {
	data, err := json.MarshalIndent(reports, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode pass report: %w", err)
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write pass report: %w", err)
	}
	return nil
}

// WriteFile writes the reports to path, or to stdout when path is "-".
func WriteFile(path string, reports ...*PassReport) error {
	if path == "-" || path == "stdout" {
		return Write(os.Stdout, reports...)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report file %s: %w", path, err)
	}
	if err := Write(f, reports...); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
