// Package registry keeps the ordered, de-duplicated set of test cases a plan executes.
package registry

import (
	"sort"
	"strings"
	"sync"

	"github.com/msageha/tcexec/internal/model"
)

// Registry orders cases by execution order, then visible id (or name when a
// visible id is missing). Two cases are the same entry when their internal id,
// visible id or name match, checked in that priority.
type Registry struct {
	mu    sync.RWMutex
	cases []*model.TestCase
}

func New() *Registry {
	return &Registry{}
}

// Put replaces the matching entry in place or appends a new one.
func (r *Registry) Put(tc *model.TestCase) {
	if tc == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if idx := r.findCase(tc); idx >= 0 {
		r.cases[idx] = tc
	} else {
		r.cases = append(r.cases, tc)
	}
	r.sortLocked()
}

// Remove deletes the entry matching tc. It reports whether one was found.
func (r *Registry) Remove(tc *model.TestCase) bool {
	if tc == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.findCase(tc)
	if idx < 0 {
		return false
	}
	r.cases = append(r.cases[:idx], r.cases[idx+1:]...)
	r.sortLocked()
	return true
}

func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cases = nil
}

func (r *Registry) Contains(tc *model.TestCase) bool {
	if tc == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.findCase(tc) >= 0
}

// ContainsKey looks up by visible id, then by name.
func (r *Registry) ContainsKey(nameOrVisibleID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.findKey(nameOrVisibleID) >= 0
}

func (r *Registry) ContainsID(internalID int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.findID(internalID) >= 0
}

// Get returns the case with the given visible id or, failing that, name.
func (r *Registry) Get(nameOrVisibleID string) (*model.TestCase, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx := r.findKey(nameOrVisibleID)
	if idx < 0 {
		return nil, false
	}
	return r.cases[idx], true
}

func (r *Registry) GetByID(internalID int) (*model.TestCase, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx := r.findID(internalID)
	if idx < 0 {
		return nil, false
	}
	return r.cases[idx], true
}

// At returns the case at position i in execution order.
func (r *Registry) At(i int) (*model.TestCase, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if i < 0 || i >= len(r.cases) {
		return nil, false
	}
	return r.cases[i], true
}

// Find returns the position of the entry matching tc, or -1.
func (r *Registry) Find(tc *model.TestCase) int {
	if tc == nil {
		return -1
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.findCase(tc)
}

func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cases)
}

func (r *Registry) IsEmpty() bool {
	return r.Size() == 0
}

// Slice returns a snapshot of the cases in execution order.
func (r *Registry) Slice() []*model.TestCase {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*model.TestCase, len(r.cases))
	copy(out, r.cases)
	return out
}

func (r *Registry) findCase(tc *model.TestCase) int {
	if idx := r.findID(tc.InternalID()); idx >= 0 {
		return idx
	}
	if idx := r.findKey(tc.VisibleID()); idx >= 0 {
		return idx
	}
	return r.findName(tc.Name())
}

func (r *Registry) findID(id int) int {
	if id == 0 {
		return -1
	}
	for i, c := range r.cases {
		if c.InternalID() == id {
			return i
		}
	}
	return -1
}

func (r *Registry) findKey(key string) int {
	if key == "" {
		return -1
	}
	for i, c := range r.cases {
		if c.VisibleID() == key {
			return i
		}
	}
	return r.findName(key)
}

func (r *Registry) findName(name string) int {
	if name == "" {
		return -1
	}
	for i, c := range r.cases {
		if c.Name() == name {
			return i
		}
	}
	return -1
}

func (r *Registry) sortLocked() {
	sort.SliceStable(r.cases, func(i, j int) bool {
		return Less(r.cases[i], r.cases[j])
	})
}

// Less orders by execution order, then visible id when both have one, else name.
func Less(a, b *model.TestCase) bool {
	if a.ExecOrder() != b.ExecOrder() {
		return a.ExecOrder() < b.ExecOrder()
	}
	av, bv := a.VisibleID(), b.VisibleID()
	if av != "" && bv != "" {
		return strings.Compare(av, bv) < 0
	}
	return strings.Compare(a.Name(), b.Name()) < 0
}
