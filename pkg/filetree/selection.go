package filetree

import (
	"sort"
	"sync"
)

// Finder resolves entity ids against the current tree.
type Finder interface {
	Find(id string) (Entity, bool)
}

// IDSet is a set of entity ids.
type IDSet map[string]struct{}

// Has reports whether id is in the set.
func (s IDSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Selection is the selection store. Select replaces the selection with a
// single entity; Toggle adds or removes one for multi-selection.
type Selection struct {
	mu       sync.RWMutex
	ids      IDSet
	tree     Finder
	onChange func(count int)
}

// NewSelection creates an empty selection over tree.
func NewSelection(tree Finder) *Selection {
	return &Selection{ids: make(IDSet), tree: tree}
}

// OnChange registers fn to be called with the selection size after every
// change. fn must not call back into the selection.
func (s *Selection) OnChange(fn func(count int)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

func (s *Selection) changed() {
	if s.onChange != nil {
		s.onChange(len(s.ids))
	}
}

// Select makes id the only selected entity.
func (s *Selection) Select(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = IDSet{id: {}}
	s.changed()
}

// Toggle adds id to the selection, or removes it if already selected.
func (s *Selection) Toggle(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ids.Has(id) {
		delete(s.ids, id)
	} else {
		s.ids[id] = struct{}{}
	}
	s.changed()
}

// Unselect removes id from the selection. Unknown ids are ignored.
func (s *Selection) Unselect(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ids.Has(id) {
		return
	}
	delete(s.ids, id)
	s.changed()
}

// Prune unselects every id no longer in the tree and returns them.
func (s *Selection) Prune() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var gone []string
	for id := range s.ids {
		if _, ok := s.tree.Find(id); !ok {
			gone = append(gone, id)
		}
	}
	if len(gone) == 0 {
		return nil
	}
	for _, id := range gone {
		delete(s.ids, id)
	}
	sort.Strings(gone)
	s.changed()
	return gone
}

// IsSelected reports whether id is selected.
func (s *Selection) IsSelected(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ids.Has(id)
}

// SelectedIDs returns the selected ids, sorted.
func (s *Selection) SelectedIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.ids))
	for id := range s.ids {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SelectedParentIDs returns every ancestor of every selected entity, as
// resolved against the tree now. Selected ids missing from the tree
// contribute nothing.
func (s *Selection) SelectedParentIDs() IDSet {
	parents := make(IDSet)
	for _, id := range s.SelectedIDs() {
		e, ok := s.tree.Find(id)
		if !ok {
			continue
		}
		for _, p := range e.Path {
			parents[p] = struct{}{}
		}
	}
	return parents
}
