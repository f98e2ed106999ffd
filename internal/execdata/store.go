package execdata

import (
	"cmp"
	"slices"
)

// Store keeps execution data by class id. Adding a record for a known class
// merges it into the existing one.
//
// Concurrent reads are safe; writes need external locking.
type Store struct {
	entries map[uint64]*ExecutionData
	names   map[string]int
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		entries: make(map[uint64]*ExecutionData),
		names:   make(map[string]int),
	}
}

// Put adds d to the store. The first record of a class is stored as a copy;
// later ones are merged into it.
func (s *Store) Put(d *ExecutionData) error {
	return s.visit(d, true)
}

// Subtract removes the hits of d from the stored record of the same class.
// Classes not in the store are ignored.
func (s *Store) Subtract(d *ExecutionData) error {
	if _, ok := s.entries[d.ID()]; !ok {
		return nil
	}
	return s.visit(d, false)
}

// SubtractAll subtracts every record of other.
func (s *Store) SubtractAll(other *Store) error {
	for _, d := range other.entries {
		if err := s.Subtract(d); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) visit(d *ExecutionData, flag bool) error {
	cur, ok := s.entries[d.ID()]
	if !ok {
		s.entries[d.ID()] = d.Clone()
		s.names[d.Name()]++
		return nil
	}
	return cur.MergeFlag(d, flag)
}

// Get returns the record for id, or nil.
func (s *Store) Get(id uint64) *ExecutionData { return s.entries[id] }

// GetOrCreate returns the record for id, creating an empty one if needed.
// An existing record must match name and probe count.
func (s *Store) GetOrCreate(id uint64, name string, n int, mode Mode) (*ExecutionData, error) {
	if d, ok := s.entries[id]; ok {
		if err := d.AssertCompatibility(id, name, n); err != nil {
			return nil, err
		}
		return d, nil
	}
	d := New(id, name, n, mode)
	s.entries[id] = d
	s.names[name]++
	return d, nil
}

// ContainsName reports whether data for a class of that name is stored,
// whatever its id.
func (s *Store) ContainsName(name string) bool { return s.names[name] > 0 }

// Len returns the number of classes.
func (s *Store) Len() int { return len(s.entries) }

// Contents returns all records ordered by class name, then id.
func (s *Store) Contents() []*ExecutionData {
	out := make([]*ExecutionData, 0, len(s.entries))
	for _, d := range s.entries {
		out = append(out, d)
	}
	slices.SortFunc(out, func(a, b *ExecutionData) int {
		if c := cmp.Compare(a.Name(), b.Name()); c != 0 {
			return c
		}
		return cmp.Compare(a.ID(), b.ID())
	})
	return out
}

// Reset clears the probes of every record but keeps the records.
func (s *Store) Reset() {
	for _, d := range s.entries {
		d.Reset()
	}
}
