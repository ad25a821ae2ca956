package search

import "github.com/golang/groupcache/lru"

// visitedSet remembers state fingerprints. With a capacity the least
// recently matched states are forgotten first, which trades revisiting
// for bounded memory.
type visitedSet struct {
	c *lru.Cache
}

func newVisitedSet(capacity int) *visitedSet {
	return &visitedSet{c: lru.New(capacity)}
}

// add reports whether h was not in the set, and adds it.
func (v *visitedSet) add(h uint64) bool {
	if _, ok := v.c.Get(h); ok {
		return false
	}
	v.c.Add(h, struct{}{})
	return true
}

func (v *visitedSet) len() int { return v.c.Len() }
