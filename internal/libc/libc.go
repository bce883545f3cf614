// Package libc provides the user-facing C library calls on top of a trampoline.
//
// A C value binds one syscall table to one trampoline. Every wrapper checks the raw
// result at the call site: a failed word becomes a *SyscallError and the count
// returned alongside it is -1, so a negative value never travels further up as a
// byte count.
package libc

import (
	"errors"
	"fmt"

	"github.com/zboralski/hnxc/internal/sysno"
	"github.com/zboralski/hnxc/internal/trampoline"
)

// Open flags in the asm-generic layout. Open rewrites the bits that differ between
// architectures to the layout of the bound table, so callers always pass these.
const (
	O_RDONLY    = 0x0
	O_WRONLY    = 0x1
	O_RDWR      = 0x2
	O_ACCMODE   = 0x3
	O_CREAT     = 0x40
	O_EXCL      = 0x80
	O_TRUNC     = 0x200
	O_APPEND    = 0x400
	O_DIRECT    = 0x4000
	O_DIRECTORY = 0x10000
	O_NOFOLLOW  = 0x20000
	O_CLOEXEC   = 0x80000
	O_TMPFILE   = 0x400000 | O_DIRECTORY
)

// AT_FDCWD makes openat resolve relative paths against the working directory.
const AT_FDCWD = -100

// Whence values for Lseek.
const (
	SEEK_SET = 0
	SEEK_CUR = 1
	SEEK_END = 2
)

// ErrExitReturned is returned by Exit when the kernel accepted the call and control
// still came back, as it does when the kernel is emulated in this process.
var ErrExitReturned = errors.New("exit returned")

// SyscallError records a failed call and the kernel's error code.
type SyscallError struct {
	Op    string
	Errno trampoline.Errno
}

func (e *SyscallError) Error() string {
	return e.Op + ": " + e.Errno.Error()
}

// Unwrap exposes the Errno to errors.Is and errors.As.
func (e *SyscallError) Unwrap() error {
	return e.Errno
}

// C is a C library bound to a syscall table and a trampoline.
type C struct {
	tab  *sysno.Table
	tr   trampoline.Trampoline
	open sysno.Name
	exit sysno.Name
}

// New binds tab to tr. Every name a wrapper can reach must resolve in tab; a table
// that cannot serve the wrappers is rejected here, before any call is made.
func New(tab *sysno.Table, tr trampoline.Trampoline) (*C, error) {
	if err := tab.Require(sysno.Read, sysno.Write, sysno.Close); err != nil {
		return nil, fmt.Errorf("bind libc: %w", err)
	}
	open, err := tab.RequireOne(sysno.Open, sysno.Openat)
	if err != nil {
		return nil, fmt.Errorf("bind libc: %w", err)
	}
	exit, err := tab.RequireOne(sysno.ExitGroup, sysno.Exit)
	if err != nil {
		return nil, fmt.Errorf("bind libc: %w", err)
	}
	return &C{tab: tab, tr: tr, open: open, exit: exit}, nil
}

// Table returns the bound syscall table.
func (c *C) Table() *sysno.Table {
	return c.tab
}

func (c *C) call(op string, name sysno.Name, args ...trampoline.Arg) (int, error) {
	r := c.tr.Invoke(c.tab.MustLookup(name), args...)
	if r.Failed() {
		return -1, &SyscallError{Op: op, Errno: r.Errno()}
	}
	return r.Int(), nil
}

// Open opens path and returns a file descriptor. mode is forwarded to the kernel; it
// is required with O_CREAT or O_TMPFILE and at most one may be given.
func (c *C) Open(path string, flags int, mode ...uint32) (int, error) {
	var perm uint32
	switch len(mode) {
	case 0:
		if flags&O_CREAT != 0 || flags&O_TMPFILE == O_TMPFILE {
			return -1, &SyscallError{Op: "open", Errno: trampoline.EINVAL}
		}
	case 1:
		perm = mode[0]
	default:
		return -1, &SyscallError{Op: "open", Errno: trampoline.EINVAL}
	}

	flags = int(sysno.GenericFlags.Translate(uint64(flags), c.tab.OpenFlags()))
	if c.open == sysno.Open {
		return c.call("open", sysno.Open,
			trampoline.String(path), trampoline.Int(flags), trampoline.Word(uintptr(perm)))
	}
	return c.call("open", sysno.Openat,
		trampoline.Int(AT_FDCWD), trampoline.String(path), trampoline.Int(flags), trampoline.Word(uintptr(perm)))
}

// Read reads up to len(p) bytes. Fewer bytes than asked for is not an error; 0 with
// a nil error is end of file.
func (c *C) Read(fd int, p []byte) (int, error) {
	return c.call("read", sysno.Read, trampoline.Int(fd), trampoline.Out(p), trampoline.Int(len(p)))
}

// Write writes up to len(p) bytes and returns how many the kernel accepted.
func (c *C) Write(fd int, p []byte) (int, error) {
	return c.call("write", sysno.Write, trampoline.Int(fd), trampoline.In(p), trampoline.Int(len(p)))
}

// Close releases fd.
func (c *C) Close(fd int) error {
	_, err := c.call("close", sysno.Close, trampoline.Int(fd))
	return err
}

// Lseek repositions fd and returns the new offset.
func (c *C) Lseek(fd int, offset int64, whence int) (int64, error) {
	if !c.tab.Has(sysno.Lseek) {
		return -1, &SyscallError{Op: "lseek", Errno: trampoline.ENOSYS}
	}
	n, err := c.call("lseek", sysno.Lseek, trampoline.Int(fd), trampoline.Word(uintptr(offset)), trampoline.Int(whence))
	return int64(n), err
}

// Getpid returns the caller's process ID.
func (c *C) Getpid() (int, error) {
	if !c.tab.Has(sysno.Getpid) {
		return -1, &SyscallError{Op: "getpid", Errno: trampoline.ENOSYS}
	}
	return c.call("getpid", sysno.Getpid)
}

// Exit terminates the process with status, using exit_group when the table has it.
// On a real kernel it returns only if the call was refused.
func (c *C) Exit(status int) error {
	if _, err := c.call("exit", c.exit, trampoline.Int(status)); err != nil {
		return err
	}
	return ErrExitReturned
}
