package dataset

import "sync"

// Store holds the snapshots of one session and the ready flag.
//
// The ready flag means "the current selection has been materialized and
// accepted by the backend". Setting any snapshot clears it, except a
// snapshot whose origin is OriginSelection.
type Store struct {
	mu        sync.RWMutex
	raw       *Snapshot
	edited    *Snapshot
	processed *Snapshot
	ready     bool
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{}
}

// SetRaw replaces the uploaded data and drops everything derived from it.
func (s *Store) SetRaw(snap *Snapshot) error {
	if snap == nil {
		return ErrEmptySnapshot
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.raw = snap
	s.edited = nil
	s.processed = nil
	s.ready = false
	return nil
}

// SetEdited records a user-edited copy of the raw data. Processed data
// derived from the previous source is dropped.
func (s *Store) SetEdited(snap *Snapshot) error {
	if snap == nil {
		return ErrEmptySnapshot
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.edited = snap
	s.processed = nil
	s.ready = false
	return nil
}

// SetProcessed replaces the processed data.
func (s *Store) SetProcessed(snap *Snapshot) error {
	if snap == nil {
		return ErrEmptySnapshot
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed = snap
	if snap.Origin() != OriginSelection {
		s.ready = false
	}
	return nil
}

// RestoreProcessed puts back a previous processed snapshot and ready flag.
// It is used to roll back a failed selection submission.
func (s *Store) RestoreProcessed(snap *Snapshot, ready bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed = snap
	s.ready = ready
}

// MarkReady sets the ready flag. It is a no-op without processed data.
func (s *Store) MarkReady() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.processed != nil {
		s.ready = true
	}
}

// Ready reports whether a selection has been submitted for the current data.
func (s *Store) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

// Active returns the most downstream snapshot present: processed, else
// edited, else raw. It returns nil for an empty store.
func (s *Store) Active() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch {
	case s.processed != nil:
		return s.processed
	case s.edited != nil:
		return s.edited
	default:
		return s.raw
	}
}

// Source returns the input of processing: the edited snapshot, else raw.
func (s *Store) Source() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.edited != nil {
		return s.edited
	}
	return s.raw
}

// Raw returns the uploaded snapshot or nil.
func (s *Store) Raw() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.raw
}

// Processed returns the processed snapshot or nil.
func (s *Store) Processed() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.processed
}

// Reset drops every snapshot.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.raw, s.edited, s.processed = nil, nil, nil
	s.ready = false
}
