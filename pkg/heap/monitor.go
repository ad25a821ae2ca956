package heap

import "sort"

// Monitor is the intrinsic lock of a record. Owner is -1 when free.
// Contenders lists, in arrival order, threads blocked on the lock or
// waiting on it.
type Monitor struct {
	Owner      int
	Count      int
	Contenders []int
}

func newMonitor() Monitor { return Monitor{Owner: -1} }

func (m *Monitor) IsLocked() bool { return m.Count > 0 }

func (m *Monitor) HasContender(tid int) bool {
	for _, c := range m.Contenders {
		if c == tid {
			return true
		}
	}
	return false
}

func (m Monitor) clone() Monitor {
	m.Contenders = append([]int(nil), m.Contenders...)
	return m
}

// ThreadSet is an immutable, sorted set of thread ids.
type ThreadSet struct {
	ids []int
}

// NewThreadSet returns a set holding ids.
func NewThreadSet(ids ...int) ThreadSet {
	s := ThreadSet{}
	for _, id := range ids {
		s = s.Add(id)
	}
	return s
}

func (s ThreadSet) Len() int { return len(s.ids) }

func (s ThreadSet) Contains(id int) bool {
	i := sort.SearchInts(s.ids, id)
	return i < len(s.ids) && s.ids[i] == id
}

// Add returns a set that also holds id. The receiver is unchanged.
func (s ThreadSet) Add(id int) ThreadSet {
	i := sort.SearchInts(s.ids, id)
	if i < len(s.ids) && s.ids[i] == id {
		return s
	}
	ids := make([]int, 0, len(s.ids)+1)
	ids = append(ids, s.ids[:i]...)
	ids = append(ids, id)
	ids = append(ids, s.ids[i:]...)
	return ThreadSet{ids: ids}
}

// IDs returns a copy of the members in ascending order.
func (s ThreadSet) IDs() []int {
	return append([]int(nil), s.ids...)
}
