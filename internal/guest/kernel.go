// Package guest runs AArch64 code on the emulator against a small Linux-style kernel.
//
// The kernel services svc #0 traps: it reverse-maps X8 through a syscall table, runs
// the handler registered for that name and leaves the raw result in X0. Files come
// from a host directory opened with os.Root, so a guest cannot reach outside it.
package guest

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zboralski/hnxc/internal/emulator"
	"github.com/zboralski/hnxc/internal/libc"
	"github.com/zboralski/hnxc/internal/log"
	"github.com/zboralski/hnxc/internal/sysno"
	"github.com/zboralski/hnxc/internal/trace"
	"github.com/zboralski/hnxc/internal/trampoline"
)

// ErrException is reported when the CPU takes an exception that is not a syscall.
var ErrException = errors.New("unexpected CPU exception")

const (
	maxFiles    = 256
	maxTransfer = 1 << 20
	maxPath     = 4096
)

// Config configures a Kernel.
type Config struct {
	Table   *sysno.Table
	Root    string    // host directory the guest sees as /; empty means no filesystem
	Stdin   io.Reader // nil reads as end of file
	Stdout  io.Writer // nil discards
	Stderr  io.Writer // nil discards
	Pid     int       // reported by getpid; 0 means 1
	ShortIO int       // when > 0, caps every read and write at this many bytes
	Logger  *log.Logger
}

// Call is one trapped syscall as the handler sees it.
type Call struct {
	Name   sysno.Name
	Nr     uint64
	Args   [trampoline.MaxArgs]uint64
	PC     uint64
	FD     int    // descriptor the call operated on, -1 if none
	Detail string // free-form text for trace output
}

// Handler services one call and returns the raw result word.
type Handler func(k *Kernel, c *Call) int64

type file struct {
	path string
	f    *os.File // nil for stdio
	dir  bool
	r    io.Reader
	w    io.Writer
}

// Kernel services syscalls for one emulated CPU.
type Kernel struct {
	emu     *emulator.Emulator
	tab     *sysno.Table
	root    *os.Root
	log     *log.Logger
	session string
	pid     int
	short   int

	handlers map[sysno.Name]Handler

	mu    sync.Mutex
	files map[int]*file

	exited bool
	status int
	fault  error

	// OnSyscall, when set, receives an event for every serviced trap.
	OnSyscall func(e *trace.Event)
}

// NewKernel attaches a kernel to emu's interrupt hook.
func NewKernel(emu *emulator.Emulator, cfg Config) (*Kernel, error) {
	if cfg.Table == nil {
		return nil, errors.New("guest kernel: no syscall table")
	}

	k := &Kernel{
		emu:     emu,
		tab:     cfg.Table,
		log:     cfg.Logger,
		session: uuid.NewString(),
		pid:     cfg.Pid,
		short:   cfg.ShortIO,
		files:   make(map[int]*file),
	}
	if k.log == nil {
		k.log = log.L
	}
	if k.pid == 0 {
		k.pid = 1
	}

	if cfg.Root != "" {
		root, err := os.OpenRoot(cfg.Root)
		if err != nil {
			return nil, fmt.Errorf("guest kernel: open root: %w", err)
		}
		k.root = root
	}

	stdin := cfg.Stdin
	if stdin == nil {
		stdin = strings.NewReader("")
	}
	stdout, stderr := cfg.Stdout, cfg.Stderr
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}
	k.files[0] = &file{path: "<stdin>", r: stdin}
	k.files[1] = &file{path: "<stdout>", w: stdout}
	k.files[2] = &file{path: "<stderr>", w: stderr}

	k.handlers = map[sysno.Name]Handler{
		sysno.Read:      sysRead,
		sysno.Write:     sysWrite,
		sysno.Open:      sysOpen,
		sysno.Openat:    sysOpenat,
		sysno.Close:     sysClose,
		sysno.Lseek:     sysLseek,
		sysno.Getpid:    sysGetpid,
		sysno.Exit:      sysExit,
		sysno.ExitGroup: sysExit,
	}

	emu.HookIntr(k.trap)
	return k, nil
}

// Handle registers h for name, replacing any existing handler.
func (k *Kernel) Handle(name sysno.Name, h Handler) {
	k.handlers[name] = h
}

// Table returns the table traps are decoded with.
func (k *Kernel) Table() *sysno.Table {
	return k.tab
}

// Session returns the kernel's session ID.
func (k *Kernel) Session() string {
	return k.session
}

// Exited returns the exit status once the guest has called exit or exit_group.
func (k *Kernel) Exited() (status int, ok bool) {
	return k.status, k.exited
}

// Fault returns the exception that stopped the CPU, if any.
func (k *Kernel) Fault() error {
	return k.fault
}

// Reset clears exit and fault state before a new run. Open files stay open.
func (k *Kernel) Reset() {
	k.exited = false
	k.status = 0
	k.fault = nil
}

// Close releases every open file and the filesystem root.
func (k *Kernel) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	var errs []error
	for fd, f := range k.files {
		if f.f != nil {
			errs = append(errs, f.f.Close())
		}
		delete(k.files, fd)
	}
	if k.root != nil {
		errs = append(errs, k.root.Close())
	}
	return errors.Join(errs...)
}

func (k *Kernel) stop(err error) {
	k.fault = err
	k.emu.Stop()
}

// trap runs on the interrupt hook. PC already points past the svc.
func (k *Kernel) trap(emu *emulator.Emulator, intno uint32) {
	pc := emu.PC()
	if intno != emulator.INTR_EXCP_SWI {
		k.stop(fmt.Errorf("%w %d at %s", ErrException, intno, log.Hex(pc)))
		return
	}
	insn, err := emu.MemReadU32(pc - 4)
	if err != nil {
		k.stop(fmt.Errorf("read trapping instruction at %s: %w", log.Hex(pc-4), err))
		return
	}
	imm, ok := IsSVC(insn)
	if !ok {
		k.stop(fmt.Errorf("%w: %s at %s", ErrException, Disasm(insn), log.Hex(pc-4)))
		return
	}

	c := &Call{Nr: emu.X(8), PC: pc, FD: -1}
	for i := range c.Args {
		c.Args[i] = emu.X(i)
	}
	k.log.Trap(k.session, pc, c.Nr)

	var ret int64
	if imm != 0 {
		c.Name = sysno.Name("svc#" + strconv.Itoa(int(imm)))
		ret = errno(trampoline.ENOSYS)
	} else {
		ret = k.dispatch(c)
	}
	emu.SetX(0, uint64(ret))

	k.log.Syscall(k.tab.Target(), string(c.Name), c.Nr, c.Args[:], ret)
	if k.OnSyscall != nil {
		k.OnSyscall(k.event(c, ret))
	}
}

func (k *Kernel) dispatch(c *Call) int64 {
	name, ok := k.tab.NameOf(sysno.Number(c.Nr))
	if !ok {
		c.Name = sysno.Name("nr" + strconv.FormatUint(c.Nr, 10))
		k.log.Warn("unknown syscall", zap.String("session", k.session), zap.Uint64("nr", c.Nr))
		return errno(trampoline.ENOSYS)
	}
	c.Name = name
	h, ok := k.handlers[name]
	if !ok {
		k.log.Warn("unimplemented syscall", zap.String("session", k.session), log.Fn(string(name)))
		return errno(trampoline.ENOSYS)
	}
	return h(k, c)
}

func category(name sysno.Name) trace.Tag {
	switch name {
	case sysno.Read, sysno.Write:
		return trace.IO
	case sysno.Open, sysno.Openat, sysno.Close, sysno.Lseek:
		return trace.File
	case sysno.Getpid, sysno.Exit, sysno.ExitGroup:
		return trace.Process
	}
	return trace.Unknown
}

func (k *Kernel) event(c *Call, ret int64) *trace.Event {
	e := trace.NewEvent(c.PC, string(category(c.Name)), string(c.Name), c.Detail)
	e.Nr = c.Nr
	e.Ret = ret
	e.Annotate("session", k.session)
	if c.FD >= 0 {
		e.Annotate("fd", strconv.Itoa(c.FD))
	}
	trace.DefaultEnricher(e)
	return e
}

func errno(e trampoline.Errno) int64 {
	return int64(trampoline.Errored(e))
}

// errnoOf maps a host error to the code the guest sees.
func errnoOf(err error) trampoline.Errno {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return trampoline.ENOENT
	case errors.Is(err, fs.ErrExist):
		return trampoline.EEXIST
	case errors.Is(err, fs.ErrPermission):
		return trampoline.EACCES
	case errors.Is(err, syscall.EISDIR):
		return trampoline.EISDIR
	case errors.Is(err, syscall.ENOTDIR):
		return trampoline.ENOTDIR
	}
	return trampoline.EIO
}

func (k *Kernel) limit(n uint64) uint64 {
	if k.short > 0 && n > uint64(k.short) {
		n = uint64(k.short)
	}
	return min(n, maxTransfer)
}

func (k *Kernel) lookup(fd int) *file {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.files[fd]
}

// install puts f at the lowest free descriptor, or returns -1 when the table is full.
func (k *Kernel) install(f *file) int {
	k.mu.Lock()
	defer k.mu.Unlock()
	for fd := 0; fd < maxFiles; fd++ {
		if _, used := k.files[fd]; !used {
			k.files[fd] = f
			return fd
		}
	}
	return -1
}

// OpenFiles returns the number of open descriptors, stdio included.
func (k *Kernel) OpenFiles() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.files)
}

func sysWrite(k *Kernel, c *Call) int64 {
	fd, addr, n := int(int32(c.Args[0])), c.Args[1], c.Args[2]
	c.FD = fd
	c.Detail = fmt.Sprintf("n=%d", n)
	f := k.lookup(fd)
	if f == nil || f.w == nil {
		return errno(trampoline.EBADF)
	}
	n = k.limit(n)
	if n == 0 {
		return 0
	}
	data, err := k.emu.MemRead(addr, n)
	if err != nil {
		return errno(trampoline.EFAULT)
	}
	w, err := f.w.Write(data)
	if err != nil && w == 0 {
		return errno(errnoOf(err))
	}
	return int64(w)
}

func sysRead(k *Kernel, c *Call) int64 {
	fd, addr, n := int(int32(c.Args[0])), c.Args[1], c.Args[2]
	c.FD = fd
	c.Detail = fmt.Sprintf("n=%d", n)
	f := k.lookup(fd)
	if f == nil || (f.r == nil && !f.dir) {
		return errno(trampoline.EBADF)
	}
	if f.dir {
		return errno(trampoline.EISDIR)
	}
	n = k.limit(n)
	if n == 0 {
		return 0
	}
	buf := make([]byte, n)
	got, err := f.r.Read(buf)
	if err != nil && got == 0 {
		if errors.Is(err, io.EOF) {
			return 0
		}
		return errno(errnoOf(err))
	}
	if err := k.emu.MemWrite(addr, buf[:got]); err != nil {
		return errno(trampoline.EFAULT)
	}
	return int64(got)
}

func sysOpen(k *Kernel, c *Call) int64 {
	return k.open(c, libc.AT_FDCWD, c.Args[0], int(int32(c.Args[1])), c.Args[2])
}

func sysOpenat(k *Kernel, c *Call) int64 {
	return k.open(c, int(int32(c.Args[0])), c.Args[1], int(int32(c.Args[2])), c.Args[3])
}

// hostFlags translates guest open flags to os package flags. Only the bits that are
// the same in every layout matter here; O_DIRECTORY is checked against the table.
func hostFlags(flags int) int {
	var out int
	switch flags & libc.O_ACCMODE {
	case libc.O_WRONLY:
		out = os.O_WRONLY
	case libc.O_RDWR:
		out = os.O_RDWR
	default:
		out = os.O_RDONLY
	}
	if flags&libc.O_CREAT != 0 {
		out |= os.O_CREATE
	}
	if flags&libc.O_EXCL != 0 {
		out |= os.O_EXCL
	}
	if flags&libc.O_TRUNC != 0 {
		out |= os.O_TRUNC
	}
	if flags&libc.O_APPEND != 0 {
		out |= os.O_APPEND
	}
	return out
}

// rootName converts an absolute guest path to a name relative to the root.
func rootName(p string) string {
	name := strings.TrimPrefix(path.Clean("/"+p), "/")
	if name == "" {
		return "."
	}
	return name
}

func (k *Kernel) open(c *Call, dirfd int, pathAddr uint64, flags int, mode uint64) int64 {
	p, err := k.emu.MemReadString(pathAddr, maxPath)
	if err != nil {
		return errno(trampoline.EFAULT)
	}
	c.Detail = "path=" + p
	if p == "" {
		return errno(trampoline.ENOENT)
	}
	if !path.IsAbs(p) && dirfd != libc.AT_FDCWD {
		d := k.lookup(dirfd)
		if d == nil {
			return errno(trampoline.EBADF)
		}
		if !d.dir {
			return errno(trampoline.ENOTDIR)
		}
		p = path.Join(d.path, p)
	}
	if k.root == nil {
		return errno(trampoline.ENOENT)
	}

	f, err := k.root.OpenFile(rootName(p), hostFlags(flags), fs.FileMode(mode&0o7777))
	if err != nil {
		return errno(errnoOf(err))
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return errno(errnoOf(err))
	}

	if flags&int(k.tab.OpenFlags().Directory) != 0 && !st.IsDir() {
		f.Close()
		return errno(trampoline.ENOTDIR)
	}

	entry := &file{path: path.Clean("/" + p), f: f, dir: st.IsDir()}
	acc := flags & libc.O_ACCMODE
	if !entry.dir && acc != libc.O_WRONLY {
		entry.r = f
	}
	if !entry.dir && acc != libc.O_RDONLY {
		entry.w = f
	}

	fd := k.install(entry)
	if fd < 0 {
		f.Close()
		return errno(trampoline.EMFILE)
	}
	c.FD = fd
	return int64(fd)
}

func sysClose(k *Kernel, c *Call) int64 {
	fd := int(int32(c.Args[0]))
	c.FD = fd
	k.mu.Lock()
	f, ok := k.files[fd]
	delete(k.files, fd)
	k.mu.Unlock()
	if !ok {
		return errno(trampoline.EBADF)
	}
	if f.f != nil {
		if err := f.f.Close(); err != nil {
			return errno(errnoOf(err))
		}
	}
	return 0
}

func sysLseek(k *Kernel, c *Call) int64 {
	fd, off, whence := int(int32(c.Args[0])), int64(c.Args[1]), int(c.Args[2])
	c.FD = fd
	c.Detail = fmt.Sprintf("off=%d whence=%d", off, whence)
	f := k.lookup(fd)
	if f == nil {
		return errno(trampoline.EBADF)
	}
	if f.f == nil {
		return errno(trampoline.ESPIPE)
	}
	if whence < libc.SEEK_SET || whence > libc.SEEK_END {
		return errno(trampoline.EINVAL)
	}
	pos, err := f.f.Seek(off, whence)
	if err != nil {
		return errno(trampoline.EINVAL)
	}
	return pos
}

func sysGetpid(k *Kernel, c *Call) int64 {
	return int64(k.pid)
}

func sysExit(k *Kernel, c *Call) int64 {
	k.exited = true
	k.status = int(c.Args[0] & 0xff)
	c.Detail = "status=" + strconv.Itoa(k.status)
	k.emu.Stop()
	return 0
}
