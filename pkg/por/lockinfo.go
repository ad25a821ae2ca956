package por

import (
	"fmt"

	"github.com/javapathfinder/jpf-core-sub000/pkg/heap"
)

// Lock-protection inference. Each shared field tracks the intersection of
// the lock sets held at its accesses; while that intersection is non-empty
// and has been confirmed threshold times, accesses to the field do not
// break. An empty intersection is final.
//
// All states are immutable. Check returns the receiver when nothing
// changed, so callers can skip cloning the owning record.

type unprotected struct{}

func (unprotected) Check(int, []heap.Ref) heap.FieldLockInfo { return empty }
func (unprotected) IsProtected() bool                        { return false }
func (unprotected) String() string                           { return "unprotected" }

var empty heap.FieldLockInfo = unprotected{}

type singleLock struct {
	lock      heap.Ref
	checks    int
	threshold int
}

func (s *singleLock) IsProtected() bool { return s.checks >= s.threshold }

func (s *singleLock) Check(tid int, held []heap.Ref) heap.FieldLockInfo {
	for _, r := range held {
		if r == s.lock {
			if s.checks >= s.threshold {
				return s
			}
			return &singleLock{lock: s.lock, checks: s.checks + 1, threshold: s.threshold}
		}
	}
	return empty
}

func (s *singleLock) String() string {
	return fmt.Sprintf("single{lock=%d,checks=%d}", s.lock, s.checks)
}

type multiLock struct {
	locks     []heap.Ref
	checks    int
	threshold int
}

func (m *multiLock) IsProtected() bool { return m.checks >= m.threshold }

func (m *multiLock) Check(tid int, held []heap.Ref) heap.FieldLockInfo {
	var common []heap.Ref
	for _, l := range m.locks {
		for _, r := range held {
			if r == l {
				common = append(common, l)
				break
			}
		}
	}
	checks := m.checks
	if checks < m.threshold {
		checks++
	}
	switch {
	case len(common) == 0:
		return empty
	case len(common) == 1:
		return &singleLock{lock: common[0], checks: checks, threshold: m.threshold}
	case len(common) == len(m.locks) && checks == m.checks:
		return m
	}
	return &multiLock{locks: common, checks: checks, threshold: m.threshold}
}

func (m *multiLock) String() string {
	return fmt.Sprintf("multi{locks=%v,checks=%d}", m.locks, m.checks)
}

// newLockInfo creates the state for the first shared access of a field.
func newLockInfo(held []heap.Ref, threshold int) heap.FieldLockInfo {
	switch len(held) {
	case 0:
		return empty
	case 1:
		return &singleLock{lock: held[0], threshold: threshold}
	}
	return &multiLock{locks: append([]heap.Ref(nil), held...), threshold: threshold}
}
