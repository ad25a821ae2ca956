package vm

import (
	"fmt"
	"strings"

	"github.com/javapathfinder/jpf-core-sub000/pkg/vmerr"
)

// Choice ids.
const (
	ChoiceRoot         = "ROOT"
	ChoiceStart        = "START"
	ChoiceYield        = "YIELD"
	ChoiceSleep        = "SLEEP"
	ChoiceBlock        = "BLOCK"
	ChoiceLock         = "LOCK"
	ChoiceRelease      = "RELEASE"
	ChoiceWait         = "WAIT"
	ChoiceNotify       = "NOTIFY"
	ChoiceNotifyAll    = "NOTIFYALL"
	ChoiceInterrupt    = "INTERRUPT"
	ChoiceTerminate    = "TERMINATE"
	ChoiceJoin         = "JOIN"
	ChoiceClinit       = "CLINIT"
	ChoiceBreak        = "BREAK"
	ChoiceMaxLength    = "MAX_TRANSITION_LENGTH"
	ChoiceEndTransit   = "END_TRANSITION"
	ChoiceNotifyWaiter = "NOTIFY_WAITER"
	ChoiceGetInt       = "VERIFY_GETINT"
	ChoiceGetBoolean   = "VERIFY_GETBOOLEAN"
)

// ChoiceGenerator enumerates the alternatives at one decision point. The
// index starts before the first choice; Advance moves to the next one.
type ChoiceGenerator interface {
	ID() string
	// Thread is the thread that registered the generator.
	Thread() int
	Len() int
	HasMore() bool
	Advance()
	Index() int
	Select(i int)
	Reset()
	String() string
}

type choiceBase struct {
	id  string
	tid int
	idx int
	n   int
}

func newChoiceBase(id string, tid, n int) choiceBase {
	return choiceBase{id: id, tid: tid, idx: -1, n: n}
}

func (c *choiceBase) ID() string    { return c.id }
func (c *choiceBase) Thread() int   { return c.tid }
func (c *choiceBase) Len() int      { return c.n }
func (c *choiceBase) HasMore() bool { return c.idx+1 < c.n }
func (c *choiceBase) Index() int    { return c.idx }
func (c *choiceBase) Reset()        { c.idx = -1 }

func (c *choiceBase) Advance() {
	if !c.HasMore() {
		vmerr.Fail(vmerr.IllegalState, c, "choice %s exhausted", c.id)
	}
	c.idx++
}

func (c *choiceBase) Select(i int) {
	if i < 0 || i >= c.n {
		vmerr.Fail(vmerr.IllegalState, c, "choice %s: index %d out of range [0,%d)", c.id, i, c.n)
	}
	c.idx = i
}

// ThreadChoice selects the thread that runs the next transition.
type ThreadChoice struct {
	choiceBase
	threads []int
}

func newThreadChoice(id string, tid int, threads []int) *ThreadChoice {
	return &ThreadChoice{choiceBase: newChoiceBase(id, tid, len(threads)), threads: threads}
}

// Choice returns the selected thread id.
func (c *ThreadChoice) Choice() int { return c.threads[c.idx] }

// Threads returns the candidate thread ids in exploration order.
func (c *ThreadChoice) Threads() []int { return append([]int(nil), c.threads...) }

func (c *ThreadChoice) String() string {
	return fmt.Sprintf("%s%s %d/%d", c.id, joinInts(c.threads), c.idx+1, c.n)
}

// WaiterChoice selects the waiter a notify wakes up.
type WaiterChoice struct {
	choiceBase
	waiters []int
}

func newWaiterChoice(tid int, waiters []int) *WaiterChoice {
	return &WaiterChoice{choiceBase: newChoiceBase(ChoiceNotifyWaiter, tid, len(waiters)), waiters: waiters}
}

func (c *WaiterChoice) Choice() int { return c.waiters[c.idx] }

func (c *WaiterChoice) String() string {
	return fmt.Sprintf("%s%s %d/%d", c.id, joinInts(c.waiters), c.idx+1, c.n)
}

// IntChoice enumerates the interval [Min, Max].
type IntChoice struct {
	choiceBase
	Min, Max int32
}

func newIntChoice(tid int, min, max int32) *IntChoice {
	n := 0
	if max >= min {
		n = int(int64(max) - int64(min) + 1)
	}
	return &IntChoice{choiceBase: newChoiceBase(ChoiceGetInt, tid, n), Min: min, Max: max}
}

func (c *IntChoice) Value() int32 { return c.Min + int32(c.idx) }

func (c *IntChoice) String() string {
	return fmt.Sprintf("%s[%d..%d] %d/%d", c.id, c.Min, c.Max, c.idx+1, c.n)
}

// BoolChoice enumerates false, then true.
type BoolChoice struct {
	choiceBase
}

func newBoolChoice(tid int) *BoolChoice {
	return &BoolChoice{choiceBase: newChoiceBase(ChoiceGetBoolean, tid, 2)}
}

func (c *BoolChoice) Value() bool { return c.idx == 1 }

func (c *BoolChoice) String() string {
	return fmt.Sprintf("%s %d/%d", c.id, c.idx+1, c.n)
}

func joinInts(ids []int) string {
	s := make([]string, len(ids))
	for i, id := range ids {
		s[i] = fmt.Sprint(id)
	}
	return "{" + strings.Join(s, ",") + "}"
}

// Choice is one step of a path: the generator id and the selected index.
type Choice struct {
	ID    string
	Index int
}

func (c Choice) String() string { return fmt.Sprintf("%s:%d", c.ID, c.Index) }
