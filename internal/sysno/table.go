// Package sysno maps symbolic syscall names to the numbers a target kernel expects.
//
// A Table is built once and never modified. Wrappers only ever refer to a Name; the
// number behind it comes from whichever table the caller bound them to, so
// retargeting a kernel means swapping a table and nothing else.
package sysno

import (
	"errors"
	"fmt"
	"sort"
)

// Name is the symbolic name of a syscall, as used by libc wrappers.
type Name string

// Number is a kernel syscall number.
type Number uintptr

// Names known to the wrappers and the guest kernel.
const (
	Read      Name = "read"
	Write     Name = "write"
	Open      Name = "open"
	Openat    Name = "openat"
	Close     Name = "close"
	Lseek     Name = "lseek"
	Getpid    Name = "getpid"
	Exit      Name = "exit"
	ExitGroup Name = "exit_group"
)

var (
	// ErrUnresolved is returned when a required name has no number in a table.
	ErrUnresolved = errors.New("unresolved syscall name")
	// ErrDuplicate is returned when a table maps two names to one number.
	ErrDuplicate = errors.New("duplicate syscall number")
)

// Table is an immutable name -> number mapping for a single target, together with
// the target's open flag layout.
type Table struct {
	target  string
	numbers map[Name]Number
	names   map[Number]Name
	flags   OpenFlags
}

// New builds a table for target with the generic open flag layout. Names are unique
// by construction of the map; numbers must be unique too so a trapped number can be
// mapped back to exactly one name.
func New(target string, entries map[Name]Number) (*Table, error) {
	t := &Table{
		target:  target,
		numbers: make(map[Name]Number, len(entries)),
		names:   make(map[Number]Name, len(entries)),
		flags:   GenericFlags,
	}
	for name, nr := range entries {
		if name == "" {
			return nil, fmt.Errorf("%s: empty syscall name for number %d", target, nr)
		}
		if other, ok := t.names[nr]; ok {
			return nil, fmt.Errorf("%s: %s and %s both %d: %w", target, other, name, nr, ErrDuplicate)
		}
		t.numbers[name] = nr
		t.names[nr] = name
	}
	return t, nil
}

// MustNew is like New but panics on error. Used for compiled-in tables.
func MustNew(target string, entries map[Name]Number) *Table {
	t, err := New(target, entries)
	if err != nil {
		panic(err)
	}
	return t
}

// Target returns the target the table was built for.
func (t *Table) Target() string {
	return t.target
}

// Lookup returns the number for name.
func (t *Table) Lookup(name Name) (Number, bool) {
	nr, ok := t.numbers[name]
	return nr, ok
}

// MustLookup returns the number for name and panics if the table lacks it.
// Callers are expected to have checked the name with Require first.
func (t *Table) MustLookup(name Name) Number {
	nr, ok := t.numbers[name]
	if !ok {
		panic(fmt.Sprintf("sysno: %s: %s: %v", t.target, name, ErrUnresolved))
	}
	return nr
}

// Has reports whether the table defines name.
func (t *Table) Has(name Name) bool {
	_, ok := t.numbers[name]
	return ok
}

// NameOf is the reverse lookup used by kernels dispatching a trapped number.
func (t *Table) NameOf(nr Number) (Name, bool) {
	name, ok := t.names[nr]
	return name, ok
}

// Require checks that every name resolves.
func (t *Table) Require(names ...Name) error {
	var missing []error
	for _, name := range names {
		if !t.Has(name) {
			missing = append(missing, fmt.Errorf("%s: %s: %w", t.target, name, ErrUnresolved))
		}
	}
	return errors.Join(missing...)
}

// RequireOne checks that at least one of names resolves and returns the first that does.
func (t *Table) RequireOne(names ...Name) (Name, error) {
	for _, name := range names {
		if t.Has(name) {
			return name, nil
		}
	}
	return "", fmt.Errorf("%s: none of %v: %w", t.target, names, ErrUnresolved)
}

// Names returns all names sorted by number.
func (t *Table) Names() []Name {
	out := make([]Name, 0, len(t.numbers))
	for name := range t.numbers {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool {
		return t.numbers[out[i]] < t.numbers[out[j]]
	})
	return out
}

// Len returns the number of entries.
func (t *Table) Len() int {
	return len(t.numbers)
}
