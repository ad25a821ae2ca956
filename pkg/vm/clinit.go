package vm

import (
	"math"

	"v.io/x/lib/vlog"

	cf "github.com/javapathfinder/jpf-core-sub000/pkg/classfile"
	"github.com/javapathfinder/jpf-core-sub000/pkg/heap"
	"github.com/javapathfinder/jpf-core-sub000/pkg/native"
	"github.com/javapathfinder/jpf-core-sub000/pkg/thread"
	"github.com/javapathfinder/jpf-core-sub000/pkg/types"
	"github.com/javapathfinder/jpf-core-sub000/pkg/vmerr"
)

// initCheck reports whether ci must be initialized before the current
// instruction can proceed. When pending, st says how: run the class
// initializers first, or re-execute after another thread finished them.
func (vm *VM) initCheck(ci *types.ClassInfo) (st Step, pending bool, err error) {
	if ci.IsArray() || ci.IsInterface() {
		return Step{}, false, nil
	}
	s := vm.heap.Statics(ci)
	if s == nil {
		s = vm.heap.NewStatics(ci)
	}
	switch s.ClassStatus() {
	case heap.Initialized:
		return Step{}, false, nil
	case heap.Initializing:
		if s.InitThread() == vm.tid {
			return Step{}, false, nil
		}
		vlog.VI(2).Infof("thread %d: %s is initialized by thread %d", vm.tid, ci.Name, s.InitThread())
		vm.yieldTo(ChoiceClinit)
		return Step{Kind: Reexecute}, true, nil
	case heap.Erroneous:
		return Step{}, true, vm.newException(types.NoClassDefClass, "Could not initialize class "+native.JavaName(ci.Name))
	}
	return Step{Kind: NeedsPrecondition, Work: ci}, true, nil
}

// pushClinit marks the uninitialized classes from ci up its superclass
// chain as being initialized by the current thread and pushes their
// initializers so the topmost superclass runs first. Classes without an
// initializer are initialized immediately. A superclass that another
// thread is still initializing makes the current thread yield instead; the
// instruction is re-executed when it is scheduled again.
func (vm *VM) pushClinit(ci *types.ClassInfo) {
	for c := ci.Super; c != nil; c = c.Super {
		s := vm.heap.Statics(c)
		if s == nil || s.ClassStatus() == heap.Uninitialized {
			continue
		}
		if s.ClassStatus() == heap.Initializing && s.InitThread() != vm.tid {
			vlog.VI(2).Infof("thread %d: superclass %s of %s is initialized by thread %d", vm.tid, c.Name, ci.Name, s.InitThread())
			vm.yieldTo(ChoiceClinit)
			return
		}
		break
	}
	t := vm.modThread()
	for c := ci; c != nil; c = c.Super {
		if s := vm.heap.Statics(c); s != nil && s.ClassStatus() != heap.Uninitialized {
			break
		}
		s := vm.heap.ModifiableStatics(c)
		vm.presetConstants(s, c)
		m := c.Clinit()
		if m == nil {
			s.SetClassStatus(heap.Initialized, -1)
			continue
		}
		s.SetClassStatus(heap.Initializing, vm.tid)
		f := thread.NewFrame(m)
		f.DirectCall = true
		t.PushFrame(f)
		vlog.VI(2).Infof("thread %d: initializing %s", vm.tid, c.Name)
	}
}

// finishClinit records the outcome of a class initializer frame.
func (vm *VM) finishClinit(ci *types.ClassInfo, failed bool) {
	s := vm.heap.ModifiableStatics(ci)
	if failed {
		s.SetClassStatus(heap.Erroneous, -1)
		return
	}
	s.SetClassStatus(heap.Initialized, -1)
}

// presetConstants stores the ConstantValue of each static field of c.
func (vm *VM) presetConstants(s *heap.Record, c *types.ClassInfo) {
	for _, f := range c.StaticFields {
		if f.ConstantValue == 0 {
			continue
		}
		pool := c.File.ConstantPool
		switch v := pool[f.ConstantValue].(type) {
		case *cf.ConstantInteger:
			s.SetRaw(f, int64(v.Value))
		case *cf.ConstantLong:
			s.SetRaw(f, v.Value)
		case *cf.ConstantFloat:
			s.SetRaw(f, int64(math.Float32bits(v.Value)))
		case *cf.ConstantDouble:
			s.SetRaw(f, int64(math.Float64bits(v.Value)))
		case *cf.ConstantString:
			str, err := cf.GetUtf8(pool, v.StringIndex)
			if err != nil {
				vmerr.Fail(vmerr.IllegalState, f, "constant value: %v", err)
			}
			s.SetReference(f, vm.heap.Intern(str, vm.tid))
		default:
			vmerr.Fail(vmerr.IllegalState, f, "unsupported constant value %T", v)
		}
	}
}
