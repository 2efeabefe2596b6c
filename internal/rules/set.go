package rules

import (
	"sort"
	"sync"

	"larder/internal/category"
)

// Set is the active rule set.
//
// It is safe for concurrent use.
type Set struct {
	mu    sync.RWMutex
	rules map[Key]Rule
}

func NewSet() *Set {
	return &Set{rules: map[Key]Rule{}}
}

// Put adds or replaces a rule (last write wins per key) and reports overlaps
// with rules of the same specificity.
func (s *Set) Put(r Rule) ([]Conflict, error) {
	r, err := r.Normalize()
	if err != nil {
		return nil, err
	}
	k := r.Key()

	s.mu.Lock()
	defer s.mu.Unlock()
	var conflicts []Conflict
	for ek := range s.rules {
		if ek == k || ek.Category != k.Category {
			continue
		}
		winner := ek
		if k.Threshold < ek.Threshold {
			winner = k
		}
		conflicts = append(conflicts, Conflict{Added: k, Existing: ek, Winner: winner})
	}
	s.rules[k] = r
	sort.Slice(conflicts, func(i, j int) bool { return conflicts[i].Existing.Threshold < conflicts[j].Existing.Threshold })
	return conflicts, nil
}

// Remove deletes every rule of category c and returns how many were removed.
func (s *Set) Remove(c category.Category) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k := range s.rules {
		if k.Category == c {
			delete(s.rules, k)
			n++
		}
	}
	return n
}

// Replace swaps the whole rule set. Invalid rules are skipped and returned as errors.
func (s *Set) Replace(rs []Rule) []error {
	next := make(map[Key]Rule, len(rs))
	var errs []error
	for _, r := range rs {
		nr, err := r.Normalize()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		next[nr.Key()] = nr
	}
	s.mu.Lock()
	s.rules = next
	s.mu.Unlock()
	return errs
}

// Match returns the single effective rule for (c, p): an exact category beats
// the wildcard, then the lowest threshold wins.
func (s *Set) Match(c category.Category, p int) (Rule, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		best  Rule
		found bool
	)
	for _, r := range s.rules {
		if !r.Matches(c, p) {
			continue
		}
		if !found || better(r, best) {
			best, found = r, true
		}
	}
	return best, found
}

func better(a, b Rule) bool {
	if a.Specific() != b.Specific() {
		return a.Specific()
	}
	return a.Threshold() < b.Threshold()
}

// List returns all rules ordered by category then threshold.
func (s *Set) List() []Rule {
	s.mu.RLock()
	out := make([]Rule, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, r)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].Threshold() < out[j].Threshold()
	})
	return out
}

func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rules)
}
