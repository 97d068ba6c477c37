package analysis

import (
	"encoding/json"
	"sort"
)

// IDSet is a set of identifiers that marshals as a sorted JSON array, keeping
// emitted artifacts stable across runs.
type IDSet map[string]bool

// NewIDSet creates a set holding the given ids.
func NewIDSet(ids ...string) IDSet {
	s := make(IDSet, len(ids))
	for _, id := range ids {
		s[id] = true
	}
	return s
}

// Add inserts an id.
func (s IDSet) Add(id string) {
	s[id] = true
}

// Has reports membership.
func (s IDSet) Has(id string) bool {
	return s[id]
}

// Merge inserts every id of other.
func (s IDSet) Merge(other IDSet) {
	for id := range other {
		s[id] = true
	}
}

// Sorted returns the members in sorted order.
func (s IDSet) Sorted() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// MarshalJSON renders the set as a sorted array.
func (s IDSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

// UnmarshalJSON reads the array form back into a set.
func (s *IDSet) UnmarshalJSON(data []byte) error {
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	*s = NewIDSet(ids...)
	return nil
}
