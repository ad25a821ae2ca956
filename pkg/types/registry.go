package types

import (
	"fmt"
	"strings"

	"v.io/x/lib/toposort"
	"v.io/x/lib/vlog"

	"github.com/javapathfinder/jpf-core-sub000/pkg/classfile"
	"github.com/javapathfinder/jpf-core-sub000/pkg/vmerr"
)

// Source supplies class files by internal name ("pkg/Class").
type Source interface {
	Load(name string) (*classfile.ClassFile, error)
}

// MapSource serves class files held in memory.
type MapSource map[string]*classfile.ClassFile

func (m MapSource) Load(name string) (*classfile.ClassFile, error) {
	if cf, ok := m[name]; ok {
		return cf, nil
	}
	return nil, fmt.Errorf("class %s not found", name)
}

// Registry owns every linked class. Classes are linked on first Resolve,
// supertypes first, and keep their identity and layout for the lifetime of
// the registry.
type Registry struct {
	classes map[string]*ClassInfo
	byID    []*ClassInfo
	sources []Source
	linking map[string]bool
}

// NewRegistry creates a registry holding the bootstrap model library and
// loading everything else from sources, in order.
func NewRegistry(sources ...Source) (*Registry, error) {
	r := &Registry{
		classes: make(map[string]*ClassInfo),
		sources: sources,
		linking: make(map[string]bool),
	}
	if err := r.Define(Bootstrap()...); err != nil {
		return nil, fmt.Errorf("defining bootstrap classes: %w", err)
	}
	for _, ci := range r.byID {
		ci.Bootstrap = true
		ci.Immutable = immutableClasses[ci.Name]
	}
	return r, nil
}

// Len returns the number of linked classes.
func (r *Registry) Len() int { return len(r.byID) }

// ByID returns the class with the given ID.
func (r *Registry) ByID(id int) *ClassInfo {
	if id < 0 || id >= len(r.byID) {
		return nil
	}
	return r.byID[id]
}

// Lookup returns an already linked class without loading.
func (r *Registry) Lookup(name string) *ClassInfo {
	return r.classes[name]
}

// IsBootstrap reports whether name belongs to the model library.
func (r *Registry) IsBootstrap(name string) bool {
	_, ok := bootstrapNames[name]
	return ok
}

// Define links a batch of class files. Within the batch, supertypes are
// linked before their subtypes regardless of the order given; supertypes
// outside the batch are resolved through the sources.
func (r *Registry) Define(files ...*classfile.ClassFile) error {
	byName := make(map[string]*classfile.ClassFile, len(files))
	for _, cf := range files {
		name, err := cf.ClassName()
		if err != nil {
			return err
		}
		byName[name] = cf
	}

	var sorter toposort.Sorter
	for _, cf := range files {
		name, _ := cf.ClassName()
		sorter.AddNode(name)
		deps, err := superNames(cf)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		for _, d := range deps {
			if _, ok := byName[d]; ok {
				sorter.AddEdge(name, d)
			}
		}
	}
	sorted, cycles := sorter.Sort()
	if len(cycles) > 0 {
		return fmt.Errorf("cyclic class hierarchy: %s", toposort.DumpCycles(cycles, func(n interface{}) string { return n.(string) }))
	}
	for _, n := range sorted {
		name := n.(string)
		if _, done := r.classes[name]; done {
			continue
		}
		if _, err := r.link(name, byName[name]); err != nil {
			return err
		}
	}
	return nil
}

func superNames(cf *classfile.ClassFile) ([]string, error) {
	names, err := cf.InterfaceNames()
	if err != nil {
		return nil, err
	}
	if s := cf.SuperClassName(); s != "" {
		names = append([]string{s}, names...)
	}
	return names, nil
}

// Resolve returns the linked class for name, loading and linking it and its
// supertypes if needed. Array class names ("[I", "[Ljava/lang/String;") are
// synthesized.
func (r *Registry) Resolve(name string) (*ClassInfo, error) {
	if ci, ok := r.classes[name]; ok {
		return ci, nil
	}
	if strings.HasPrefix(name, "[") {
		return r.arrayClass(name)
	}
	var (
		cf  *classfile.ClassFile
		err error
	)
	for _, s := range r.sources {
		if cf, err = s.Load(name); err == nil {
			break
		}
	}
	if cf == nil {
		if err == nil {
			err = fmt.Errorf("no class source")
		}
		return nil, &vmerr.ResolutionError{Class: name, Bootstrap: r.IsBootstrap(name), Err: err}
	}
	return r.link(name, cf)
}

// MustResolve is Resolve for classes the engine cannot run without.
func (r *Registry) MustResolve(name string) *ClassInfo {
	ci, err := r.Resolve(name)
	if err != nil {
		vmerr.Fail(vmerr.IllegalState, name, "bootstrap class missing: %v", err)
	}
	return ci
}

func (r *Registry) link(name string, cf *classfile.ClassFile) (*ClassInfo, error) {
	if r.linking[name] {
		return nil, &vmerr.ResolutionError{Class: name, Err: fmt.Errorf("circular superclass")}
	}
	r.linking[name] = true
	defer delete(r.linking, name)

	ci := &ClassInfo{Name: name, Flags: cf.AccessFlags, File: cf, Methods: make(map[string]*MethodInfo)}
	if s := cf.SuperClassName(); s != "" {
		super, err := r.Resolve(s)
		if err != nil {
			return nil, &vmerr.ResolutionError{Class: name, Err: err}
		}
		ci.Super = super
		ci.InstanceFields = append(ci.InstanceFields, super.InstanceFields...)
	}
	ifaces, err := cf.InterfaceNames()
	if err != nil {
		return nil, &vmerr.ResolutionError{Class: name, Err: err}
	}
	for _, in := range ifaces {
		ii, err := r.Resolve(in)
		if err != nil {
			return nil, &vmerr.ResolutionError{Class: name, Err: err}
		}
		ci.Interfaces = append(ci.Interfaces, ii)
	}

	// Offsets are assigned after the superclass chain is linked.
	for _, f := range cf.Fields {
		fi := &FieldInfo{Class: ci, Name: f.Name, Descriptor: f.Descriptor, Kind: KindOf(f.Descriptor), Flags: f.AccessFlags}
		if fi.IsStatic() {
			fi.ConstantValue = f.ConstantValue
			fi.Offset = len(ci.StaticFields)
			ci.StaticFields = append(ci.StaticFields, fi)
		} else {
			fi.Offset = len(ci.InstanceFields)
			ci.InstanceFields = append(ci.InstanceFields, fi)
		}
	}

	for i := range cf.Methods {
		m, err := linkMethod(ci, &cf.Methods[i])
		if err != nil {
			return nil, &vmerr.ResolutionError{Class: name, Err: err}
		}
		ci.Methods[m.UniqueName()] = m
	}

	r.register(ci)
	vlog.VI(3).Infof("linked %s (id %d, %d instance slots)", name, ci.ID, len(ci.InstanceFields))
	return ci, nil
}

func linkMethod(ci *ClassInfo, mi *classfile.MethodInfo) (*MethodInfo, error) {
	params, ret, err := ParseMethodDescriptor(mi.Descriptor)
	if err != nil {
		return nil, err
	}
	m := &MethodInfo{
		Class:      ci,
		Name:       mi.Name,
		Descriptor: mi.Descriptor,
		Flags:      mi.AccessFlags,
		Params:     params,
		Return:     ret,
	}
	for _, p := range params {
		m.ArgSlots += p.Size()
	}
	if !m.IsStatic() {
		m.ArgSlots++
	}
	if c := mi.Code; c != nil {
		m.Code = c.Code
		m.MaxStack = int(c.MaxStack)
		m.MaxLocals = int(c.MaxLocals)
		m.Lines = c.LineNumbers
		for _, h := range c.ExceptionHandlers {
			lh := Handler{Start: int(h.StartPC), End: int(h.EndPC), PC: int(h.HandlerPC)}
			if h.CatchType != 0 {
				if lh.CatchType, err = classfile.GetClassName(ci.File.ConstantPool, h.CatchType); err != nil {
					return nil, fmt.Errorf("%s%s: catch type: %w", mi.Name, mi.Descriptor, err)
				}
			}
			m.Handlers = append(m.Handlers, lh)
		}
	}
	if m.MaxLocals < m.ArgSlots {
		m.MaxLocals = m.ArgSlots
	}
	return m, nil
}

func (r *Registry) register(ci *ClassInfo) {
	ci.ID = len(r.byID)
	r.byID = append(r.byID, ci)
	r.classes[ci.Name] = ci
}

func (r *Registry) arrayClass(name string) (*ClassInfo, error) {
	object, err := r.Resolve("java/lang/Object")
	if err != nil {
		return nil, err
	}
	elemDesc := name[1:]
	ci := &ClassInfo{
		Name:     name,
		Super:    object,
		Flags:    classfile.AccPublic | classfile.AccFinal,
		Methods:  map[string]*MethodInfo{},
		ElemKind: KindOf(elemDesc),
	}
	switch {
	case strings.HasPrefix(elemDesc, "["):
		if ci.Component, err = r.Resolve(elemDesc); err != nil {
			return nil, err
		}
	case strings.HasPrefix(elemDesc, "L") && strings.HasSuffix(elemDesc, ";"):
		if ci.Component, err = r.Resolve(elemDesc[1 : len(elemDesc)-1]); err != nil {
			return nil, err
		}
	case ci.ElemKind == Void || len(elemDesc) != 1:
		return nil, &vmerr.ResolutionError{Class: name, Err: fmt.Errorf("malformed array class name")}
	}
	r.register(ci)
	return ci, nil
}

// ArrayOf returns the array class whose components are c.
func (r *Registry) ArrayOf(c *ClassInfo) (*ClassInfo, error) {
	if c.IsArray() {
		return r.Resolve("[" + c.Name)
	}
	return r.Resolve("[L" + c.Name + ";")
}
