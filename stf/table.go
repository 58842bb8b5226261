package stf

import (
	"fmt"
)

// Table is the fixed, statically ordered module dispatch table. It is
// resolved once at pipeline construction; there is no runtime discovery.
// Transactions address modules by id only.
type Table struct {
	modules []Module
	byID    map[uint32]Module
}

// NewTable builds a dispatch table from the given modules in their fixed
// execution order. A duplicate or reserved module id is a configuration
// fault the node must not tolerate.
func NewTable(modules ...Module) (*Table, error) {
	t := &Table{
		modules: make([]Module, 0, len(modules)),
		byID:    make(map[uint32]Module, len(modules)),
	}
	for _, m := range modules {
		id := m.ModuleID()
		if id == accountsNamespace {
			return nil, fmt.Errorf("%w: module %q", ErrReservedModule, m.Name())
		}
		if _, dup := t.byID[id]; dup {
			return nil, fmt.Errorf("%w: id %d (module %q)", ErrDuplicateModule, id, m.Name())
		}
		t.byID[id] = m
		t.modules = append(t.modules, m)
	}
	return t, nil
}

// Lookup returns the module registered under id.
func (t *Table) Lookup(id uint32) (Module, bool) {
	m, ok := t.byID[id]
	return m, ok
}

// Modules returns the modules in their fixed construction order.
func (t *Table) Modules() []Module {
	return t.modules
}
