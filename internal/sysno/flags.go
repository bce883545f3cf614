package sysno

import "fmt"

// OpenFlags holds the open(2) flag bits whose values depend on the architecture.
// Access modes, O_CREAT, O_EXCL, O_TRUNC, O_APPEND and O_CLOEXEC are the same
// everywhere and are not listed.
type OpenFlags struct {
	Directory uint64
	NoFollow  uint64
	Direct    uint64
	TmpFile   uint64 // includes Directory
}

// tmpFileBit is __O_TMPFILE, shared by every Linux layout.
const tmpFileBit = 0x400000

var (
	// GenericFlags is the asm-generic/fcntl.h layout, also used by x86.
	GenericFlags = OpenFlags{Directory: 0x10000, NoFollow: 0x20000, Direct: 0x4000, TmpFile: tmpFileBit | 0x10000}
	// ARM64Flags is the arch/arm64 layout.
	ARM64Flags = OpenFlags{Directory: 0x4000, NoFollow: 0x8000, Direct: 0x10000, TmpFile: tmpFileBit | 0x4000}
)

var flagLayouts = map[string]OpenFlags{
	"generic": GenericFlags,
	"arm64":   ARM64Flags,
}

func parseFlagLayout(name string) (OpenFlags, error) {
	if name == "" {
		return GenericFlags, nil
	}
	f, ok := flagLayouts[name]
	if !ok {
		return OpenFlags{}, fmt.Errorf("unknown open flag layout %q", name)
	}
	return f, nil
}

// Translate rewrites the architecture-dependent bits of flags from layout from to
// layout to. Every other bit passes through.
func (from OpenFlags) Translate(flags uint64, to OpenFlags) uint64 {
	out := flags &^ (from.Directory | from.NoFollow | from.Direct | from.TmpFile)
	if flags&from.TmpFile == from.TmpFile {
		out |= to.TmpFile
	} else {
		if flags&from.Directory != 0 {
			out |= to.Directory
		}
		out |= flags & tmpFileBit
	}
	if flags&from.NoFollow != 0 {
		out |= to.NoFollow
	}
	if flags&from.Direct != 0 {
		out |= to.Direct
	}
	return out
}

// OpenFlags returns the flag layout of the table's kernel.
func (t *Table) OpenFlags() OpenFlags {
	return t.flags
}

// WithOpenFlags returns a copy of t that uses flag layout f.
func (t *Table) WithOpenFlags(f OpenFlags) *Table {
	cp := *t
	cp.flags = f
	return &cp
}
