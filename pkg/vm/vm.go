// Package vm is the execution engine of the checker. It interprets the
// program under test one transition at a time, implements intrinsic locks
// and the scheduling points between threads, and captures and restores
// whole program states for the search.
package vm

import (
	"fmt"
	"io"
	"os"

	"v.io/x/lib/vlog"

	"github.com/javapathfinder/jpf-core-sub000/pkg/heap"
	"github.com/javapathfinder/jpf-core-sub000/pkg/native"
	"github.com/javapathfinder/jpf-core-sub000/pkg/por"
	"github.com/javapathfinder/jpf-core-sub000/pkg/thread"
	"github.com/javapathfinder/jpf-core-sub000/pkg/types"
	"github.com/javapathfinder/jpf-core-sub000/pkg/vmerr"
)

const mainDescriptor = "([Ljava/lang/String;)V"

// maxFrameDepth is the maximum number of nested method calls.
const maxFrameDepth = 1024

// Config configures a VM.
type Config struct {
	// Target is the class whose main method runs, in internal or source
	// form.
	Target  string
	Sources []types.Source

	// POR enables thread choices on accesses to shared memory.
	POR    bool
	Shared por.Settings

	// MaxTransitionLength bounds the instructions of one transition.
	MaxTransitionLength int
	// GC collects garbage at the end of every transition.
	GC bool

	// Out receives the output of the program under test.
	Out        io.Writer
	Listeners  []Listener
	Properties []Property
	// Peers adds or replaces native methods.
	Peers native.Table
}

// DefaultConfig returns a Config with the default settings and no target.
func DefaultConfig() Config {
	return Config{
		POR:                 true,
		Shared:              por.DefaultSettings(),
		MaxTransitionLength: 5000,
		GC:                  true,
		Out:                 os.Stdout,
	}
}

// Stats counts the work done by a VM.
type Stats struct {
	Transitions  int
	Instructions int
	Backtracks   int
	MaxDepth     int
}

// VM is the virtual machine that executes the program under test.
type VM struct {
	cfg        Config
	reg        *types.Registry
	heap       *heap.Heap
	threads    *thread.List
	policy     *por.Policy
	peers      native.Table
	listeners  []Listener
	properties []Property

	// tid is the thread executing the current transition.
	tid int
	// cg is the generator whose choice drives the current transition, and
	// after the transition the generator of the reached state.
	cg       ChoiceGenerator
	nextCG   ChoiceGenerator
	executed int
	atomic   int
	ignored  bool
	forced   bool
	uncaught *uncaughtException
	violated *Violation

	path  []Choice
	stack []*backtrackState

	stats Stats
}

// New creates a VM for cfg. The model library is linked eagerly; classes of
// the program under test are loaded from cfg.Sources on first use.
func New(cfg Config) (*VM, error) {
	def := DefaultConfig()
	if cfg.MaxTransitionLength <= 0 {
		cfg.MaxTransitionLength = def.MaxTransitionLength
	}
	if cfg.Out == nil {
		cfg.Out = io.Discard
	}
	reg, err := types.NewRegistry(cfg.Sources...)
	if err != nil {
		return nil, fmt.Errorf("linking model library: %w", err)
	}
	policy, err := por.New(cfg.Shared)
	if err != nil {
		return nil, err
	}
	vm := &VM{
		cfg:        cfg,
		reg:        reg,
		heap:       heap.New(reg),
		threads:    thread.NewList(),
		policy:     policy,
		peers:      native.Builtins(),
		listeners:  cfg.Listeners,
		properties: cfg.Properties,
	}
	if vm.properties == nil {
		vm.properties = DefaultProperties()
	}
	vm.peers.Merge(vm.modelPeers())
	if cfg.Peers != nil {
		vm.peers.Merge(cfg.Peers)
	}
	vm.heap.SetObserver(heapObserver{vm})
	return vm, nil
}

// AddListener registers l for all later events.
func (vm *VM) AddListener(l Listener) { vm.listeners = append(vm.listeners, l) }

func (vm *VM) Registry() *types.Registry { return vm.reg }
func (vm *VM) Config() Config            { return vm.cfg }
func (vm *VM) Stats() Stats              { return vm.stats }

// Initialize creates the main thread with the frame of the target's main
// method and the root choice. The first Forward runs main.
func (vm *VM) Initialize() (err error) {
	target := native.InternalName(vm.cfg.Target)
	ci, err := vm.reg.Resolve(target)
	if err != nil {
		return fmt.Errorf("resolving target: %w", err)
	}
	m := ci.DeclaredMethod("main", mainDescriptor)
	if m == nil || !m.IsStatic() || m.Code == nil {
		return fmt.Errorf("class %s has no static main%s", ci.Name, mainDescriptor)
	}

	defer vmerr.Recover(&err)
	group := vm.newThreadGroup("main")
	obj := vm.newThreadObject("main", group)
	t := thread.NewThreadInfo(0, "main", obj, group)
	vm.threads.Add(t)
	vm.tid = 0
	vm.addToGroup(group, obj)
	t.SetState(thread.Running)

	args := vm.heap.NewArray(vm.reg.MustResolve("[Ljava/lang/String;"), 0, 0)
	f := thread.NewFrame(m)
	f.SetArgs([]thread.Value{thread.RefValue(args.Ref())})
	t.PushFrame(f)
	if st, pending, err := vm.initCheck(ci); err != nil {
		return fmt.Errorf("initializing %s: %w", ci.Name, err)
	} else if pending {
		vm.pushClinit(st.Work)
	}

	vm.cg = newThreadChoice(ChoiceRoot, 0, []int{0})
	vm.notify(func(l Listener) { l.ThreadStarted(vm, t) })
	vlog.VI(2).Infof("initialized %s", ci.Name)
	return nil
}

// thread returns the current thread as a read-only view.
func (vm *VM) thread() *thread.ThreadInfo { return vm.threads.MustGet(vm.tid) }

// modThread returns the current thread for modification.
func (vm *VM) modThread() *thread.ThreadInfo { return vm.threads.Modifiable(vm.tid) }

// setState changes the state of thread tid and notifies listeners.
func (vm *VM) setState(tid int, s thread.State) *thread.ThreadInfo {
	t := vm.threads.Modifiable(tid)
	from := t.State()
	if from == s {
		return t
	}
	t.SetState(s)
	vlog.VI(3).Infof("thread %d: %s -> %s", tid, from, s)
	vm.notify(func(l Listener) { l.ThreadStateChanged(vm, t, from) })
	return t
}

// resolveClass links name, turning failures of non-bootstrap classes into
// a NoClassDefFoundError.
func (vm *VM) resolveClass(name string) (*types.ClassInfo, error) {
	ci, err := vm.reg.Resolve(name)
	if err == nil {
		return ci, nil
	}
	if vm.reg.IsBootstrap(name) {
		vmerr.Fail(vmerr.IllegalState, name, "bootstrap class %s: %v", name, err)
	}
	vlog.VI(2).Infof("resolve %s: %v", name, err)
	return nil, vm.newException(types.NoClassDefClass, native.JavaName(name))
}

func (vm *VM) field(ci *types.ClassInfo, name string) *types.FieldInfo {
	fi := ci.InstanceField(name)
	if fi == nil {
		vmerr.Fail(vmerr.IllegalState, ci, "model class %s has no field %s", ci.Name, name)
	}
	return fi
}
