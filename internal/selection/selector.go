// Package selection tracks which processed rows are picked for analysis and
// turns the pick into a new CSV snapshot.
package selection

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/trendreview/trendreview/internal/constants"
	"github.com/trendreview/trendreview/internal/dataset"
)

var (
	// ErrSelectionLimitExceeded is returned when adding a row to a full selection.
	ErrSelectionLimitExceeded = errors.New("selection limit reached")
	// ErrEmptySelection is returned when materializing with nothing selected.
	ErrEmptySelection = errors.New("no rows selected")
	// ErrRowOutOfRange is returned for an index outside the current table.
	ErrRowOutOfRange = errors.New("row index out of range")
)

// State is a read-only view of the selection.
type State struct {
	Indices []int // ascending
	Max     int
	Rows    int // body rows of the table being selected from
}

// Count returns the number of selected rows.
func (s State) Count() int { return len(s.Indices) }

// Full reports whether another row can be added.
func (s State) Full() bool { return len(s.Indices) >= s.Max }

// Selector holds a bounded set of selected body-row indices.
type Selector struct {
	mu       sync.Mutex
	max      int
	rows     int
	selected map[int]struct{}
	now      func() time.Time
}

// NewSelector creates a selector bounded to max rows (constants.MaxSelection if max <= 0).
func NewSelector(max int) *Selector {
	if max <= 0 {
		max = constants.MaxSelection
	}
	return &Selector{
		max:      max,
		selected: make(map[int]struct{}),
		now:      time.Now,
	}
}

// Reset clears the selection and sets the number of selectable rows.
func (s *Selector) Reset(rows int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = rows
	s.selected = make(map[int]struct{})
}

// Toggle adds row i when absent and removes it when present. Adding to a full
// selection fails with ErrSelectionLimitExceeded and leaves the state unchanged.
func (s *Selector) Toggle(i int) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i < 0 || i >= s.rows {
		return s.stateLocked(), fmt.Errorf("%w: %d not in [0, %d)", ErrRowOutOfRange, i, s.rows)
	}
	if _, ok := s.selected[i]; ok {
		delete(s.selected, i)
		return s.stateLocked(), nil
	}
	if len(s.selected) >= s.max {
		return s.stateLocked(), fmt.Errorf("%w: at most %d rows can be selected", ErrSelectionLimitExceeded, s.max)
	}
	s.selected[i] = struct{}{}
	return s.stateLocked(), nil
}

// Count returns the number of selected rows.
func (s *Selector) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.selected)
}

// Max returns the selection bound.
func (s *Selector) Max() int { return s.max }

// State returns a snapshot of the selection.
func (s *Selector) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *Selector) stateLocked() State {
	idx := make([]int, 0, len(s.selected))
	for i := range s.selected {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	return State{Indices: idx, Max: s.max, Rows: s.rows}
}

// Materialize returns the header plus the selected body rows of full, in
// ascending index order regardless of the order rows were toggled. The
// snapshot is named selected_data_<timestamp>.csv.
func (s *Selector) Materialize(full *dataset.Snapshot) (*dataset.Snapshot, error) {
	st := s.State()
	if st.Count() == 0 {
		return nil, ErrEmptySelection
	}
	if full == nil {
		return nil, dataset.ErrEmptySnapshot
	}
	if last := st.Indices[len(st.Indices)-1]; last >= full.Len() {
		return nil, fmt.Errorf("%w: %d not in [0, %d)", ErrRowOutOfRange, last, full.Len())
	}
	return full.Subset(FileName(s.now()), dataset.OriginSelection, st.Indices)
}

// FileName returns the upload name for a selection made at t.
func FileName(t time.Time) string {
	return fmt.Sprintf("selected_data_%s.csv", t.Format("20060102T150405.000"))
}
