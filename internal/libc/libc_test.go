package libc

import (
	"bytes"
	"errors"
	"io"
	"io/fs"
	"math/rand"
	"testing"

	"github.com/zboralski/hnxc/internal/sysno"
	"github.com/zboralski/hnxc/internal/trampoline"
)

// fakeKernel services calls in memory. short caps every transfer to force partial
// reads and writes.
type fakeKernel struct {
	tab    *sysno.Table
	files  map[string][]byte
	open   map[int][]byte
	next   int
	out    bytes.Buffer
	short  int
	calls  []sysno.Name
	last   []trampoline.Arg
	status int
}

func newFakeKernel(t *testing.T, target string) *fakeKernel {
	t.Helper()
	tab, err := sysno.Builtin(target)
	if err != nil {
		t.Fatal(err)
	}
	return &fakeKernel{
		tab:    tab,
		files:  map[string][]byte{"/etc/motd": []byte("welcome to hnx\n")},
		open:   make(map[int][]byte),
		next:   3,
		status: -1,
	}
}

func (k *fakeKernel) limit(n int) int {
	if k.short > 0 && n > k.short {
		return k.short
	}
	return n
}

func (k *fakeKernel) Invoke(nr sysno.Number, args ...trampoline.Arg) trampoline.Result {
	trampoline.CheckArgs(args)
	name, ok := k.tab.NameOf(nr)
	if !ok {
		return trampoline.Errored(trampoline.ENOSYS)
	}
	k.calls = append(k.calls, name)
	k.last = args

	switch name {
	case sysno.Write:
		fd, p, n := int(args[0].Word()), args[1].Bytes(), int(args[2].Word())
		if fd != 1 && fd != 2 {
			return trampoline.Errored(trampoline.EBADF)
		}
		n = k.limit(n)
		k.out.Write(p[:n])
		return trampoline.Result(n)
	case sysno.Read:
		fd, p, n := int(args[0].Word()), args[1].Bytes(), int(args[2].Word())
		data, ok := k.open[fd]
		if !ok {
			return trampoline.Errored(trampoline.EBADF)
		}
		n = copy(p[:k.limit(n)], data)
		k.open[fd] = data[n:]
		return trampoline.Result(n)
	case sysno.Open, sysno.Openat:
		path := args[0].Bytes()
		if name == sysno.Openat {
			path = args[1].Bytes()
		}
		data, ok := k.files[string(path[:len(path)-1])]
		if !ok {
			return trampoline.Errored(trampoline.ENOENT)
		}
		fd := k.next
		k.next++
		k.open[fd] = data
		return trampoline.Result(fd)
	case sysno.Close:
		fd := int(args[0].Word())
		if _, ok := k.open[fd]; !ok {
			return trampoline.Errored(trampoline.EBADF)
		}
		delete(k.open, fd)
		return 0
	case sysno.Getpid:
		return 4242
	case sysno.Exit, sysno.ExitGroup:
		k.status = int(args[0].Word())
		return 0
	}
	return trampoline.Errored(trampoline.ENOSYS)
}

func TestNewRejectsIncompleteTable(t *testing.T) {
	tab := sysno.MustNew("partial", map[sysno.Name]sysno.Number{sysno.Write: 1})
	if _, err := New(tab, trampoline.NewNative()); !errors.Is(err, sysno.ErrUnresolved) {
		t.Fatalf("expected ErrUnresolved, got %v", err)
	}

	noExit := sysno.MustNew("noexit", map[sysno.Name]sysno.Number{
		sysno.Read: 0, sysno.Write: 1, sysno.Open: 2, sysno.Close: 3,
	})
	if _, err := New(noExit, trampoline.NewNative()); !errors.Is(err, sysno.ErrUnresolved) {
		t.Fatalf("expected ErrUnresolved without exit, got %v", err)
	}
}

func TestWriteHello(t *testing.T) {
	k := newFakeKernel(t, "hnx")
	c, err := New(k.tab, k)
	if err != nil {
		t.Fatal(err)
	}

	msg := []byte("Hello from HNX libc!\n")
	n, err := c.Write(1, msg)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n != len(msg) {
		t.Errorf("Write = %d, want %d", n, len(msg))
	}
	if k.out.String() != string(msg) {
		t.Errorf("stream = %q", k.out.String())
	}
}

func TestWriteTranslatesError(t *testing.T) {
	k := newFakeKernel(t, "hnx")
	c, _ := New(k.tab, k)

	n, err := c.Write(7, []byte("x"))
	if n != -1 {
		t.Errorf("Write on bad fd = %d, want -1", n)
	}
	var se *SyscallError
	if !errors.As(err, &se) || se.Errno != trampoline.EBADF || se.Op != "write" {
		t.Fatalf("expected write EBADF, got %v", err)
	}
	if !errors.Is(err, trampoline.EBADF) {
		t.Error("errors.Is should see the errno")
	}
}

func TestWriteRange(t *testing.T) {
	k := newFakeKernel(t, "hnx")
	c, _ := New(k.tab, k)
	rng := rand.New(rand.NewSource(1))

	for i := 0; i < 200; i++ {
		k.short = rng.Intn(8)
		fd := rng.Intn(4)
		p := make([]byte, rng.Intn(32))
		n, err := c.Write(fd, p)
		if n < -1 || n > len(p) {
			t.Fatalf("Write(%d, %d bytes) = %d out of range", fd, len(p), n)
		}
		if n == -1 {
			var se *SyscallError
			if !errors.As(err, &se) || se.Errno == 0 {
				t.Fatalf("negative result without an error code: %v", err)
			}
		}
	}
}

func TestOpenNotFound(t *testing.T) {
	for _, target := range []string{"hnx", "linux-arm64"} {
		k := newFakeKernel(t, target)
		c, _ := New(k.tab, k)

		fd, err := c.Open("/nonexistent", O_RDONLY)
		if fd != -1 {
			t.Errorf("%s: Open = %d, want -1", target, fd)
		}
		if !errors.Is(err, fs.ErrNotExist) {
			t.Errorf("%s: expected not-exist, got %v", target, err)
		}
	}
}

func TestOpenFallsBackToOpenat(t *testing.T) {
	k := newFakeKernel(t, "linux-arm64")
	c, _ := New(k.tab, k)

	fd, err := c.Open("/etc/motd", O_RDONLY)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if k.calls[len(k.calls)-1] != sysno.Openat {
		t.Errorf("called %s, want openat", k.calls[len(k.calls)-1])
	}
	if int(k.last[0].Word()) != AT_FDCWD {
		t.Errorf("dirfd = %d, want AT_FDCWD", int(k.last[0].Word()))
	}

	buf := make([]byte, 64)
	n, err := c.Read(fd, buf)
	if err != nil || string(buf[:n]) != "welcome to hnx\n" {
		t.Errorf("Read = %q, %v", buf[:n], err)
	}
	if err := c.Close(fd); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := c.Close(fd); !errors.Is(err, trampoline.EBADF) {
		t.Errorf("second Close = %v, want EBADF", err)
	}
}

func TestOpenMode(t *testing.T) {
	k := newFakeKernel(t, "hnx")
	c, _ := New(k.tab, k)

	if _, err := c.Open("/new", O_WRONLY|O_CREAT); !errors.Is(err, trampoline.EINVAL) {
		t.Errorf("O_CREAT without mode = %v, want EINVAL", err)
	}
	if _, err := c.Open("/new", O_RDONLY, 0o644, 0o600); !errors.Is(err, trampoline.EINVAL) {
		t.Errorf("two modes = %v, want EINVAL", err)
	}
	if len(k.calls) != 0 {
		t.Fatalf("rejected opens reached the kernel: %v", k.calls)
	}

	c.Open("/new", O_WRONLY|O_CREAT, 0o640)
	if mode := k.last[2].Word(); mode != 0o640 {
		t.Errorf("mode forwarded as %o, want 640", mode)
	}
}

func TestOpenFlagsFollowTable(t *testing.T) {
	tests := []struct {
		target string
		flags  int
		want   uint64
	}{
		{"hnx", O_RDONLY | O_DIRECTORY | O_CLOEXEC, 0x10000 | 0x80000},
		{"linux-arm64", O_RDONLY | O_DIRECTORY | O_CLOEXEC, 0x4000 | 0x80000},
		{"linux-arm64", O_WRONLY | O_DIRECT, 0x1 | 0x10000},
		{"linux-arm64", O_RDONLY | O_NOFOLLOW, 0x8000},
	}
	for _, tt := range tests {
		k := newFakeKernel(t, tt.target)
		c, _ := New(k.tab, k)
		c.Open("/etc/motd", tt.flags)

		pos := 1
		if k.calls[0] == sysno.Openat {
			pos = 2
		}
		if got := uint64(k.last[pos].Word()); got != tt.want {
			t.Errorf("%s: flags 0x%x sent as 0x%x, want 0x%x", tt.target, tt.flags, got, tt.want)
		}
	}
}

func TestOpenTmpfileNeedsMode(t *testing.T) {
	k := newFakeKernel(t, "linux-arm64")
	c, _ := New(k.tab, k)
	if _, err := c.Open("/tmp", O_RDWR|O_TMPFILE); !errors.Is(err, trampoline.EINVAL) {
		t.Errorf("O_TMPFILE without mode = %v, want EINVAL", err)
	}
	c.Open("/tmp", O_RDWR|O_TMPFILE, 0o600)
	if got := uint64(k.last[2].Word()); got != 0x2|0x400000|0x4000 {
		t.Errorf("O_TMPFILE sent as 0x%x", got)
	}
}

func TestPartialTransfers(t *testing.T) {
	k := newFakeKernel(t, "hnx")
	k.short = 4
	c, _ := New(k.tab, k)

	msg := []byte("Hello from HNX libc!\n")
	n, err := c.Write(1, msg)
	if err != nil || n != 4 {
		t.Fatalf("short Write = %d, %v; want 4", n, err)
	}

	k.out.Reset()
	n, err = c.WriteAll(1, msg)
	if err != nil || n != len(msg) || k.out.String() != string(msg) {
		t.Fatalf("WriteAll = %d, %v, %q", n, err, k.out.String())
	}

	fd, _ := c.Open("/etc/motd", O_RDONLY)
	buf := make([]byte, 9)
	n, err = c.ReadFull(fd, buf)
	if err != nil || n != 9 || string(buf) != "welcome t" {
		t.Fatalf("ReadFull = %d, %v, %q", n, err, buf)
	}

	rest := make([]byte, 32)
	n, err = c.ReadFull(fd, rest)
	if !errors.Is(err, io.ErrUnexpectedEOF) || string(rest[:n]) != "o hnx\n" {
		t.Fatalf("ReadFull past end = %d, %v", n, err)
	}
	if _, err := c.ReadFull(fd, rest); !errors.Is(err, io.EOF) {
		t.Fatalf("ReadFull at end = %v, want EOF", err)
	}
}

func TestFileAdapter(t *testing.T) {
	k := newFakeKernel(t, "hnx")
	k.short = 3
	c, _ := New(k.tab, k)

	fd, _ := c.Open("/etc/motd", O_RDONLY)
	f := c.NewFile(fd)
	data, err := io.ReadAll(f)
	if err != nil || string(data) != "welcome to hnx\n" {
		t.Fatalf("ReadAll = %q, %v", data, err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	out := c.NewFile(1)
	if _, err := io.WriteString(out, "abcdefgh"); err != nil {
		t.Fatal(err)
	}
	if k.out.String() != "abcdefgh" {
		t.Errorf("stream = %q", k.out.String())
	}
}

func TestExit(t *testing.T) {
	hnx := newFakeKernel(t, "hnx")
	c, _ := New(hnx.tab, hnx)
	if err := c.Exit(3); !errors.Is(err, ErrExitReturned) {
		t.Fatalf("Exit = %v", err)
	}
	if hnx.status != 3 || hnx.calls[0] != sysno.Exit {
		t.Errorf("hnx exit: status=%d call=%s", hnx.status, hnx.calls[0])
	}

	arm := newFakeKernel(t, "linux-arm64")
	c, _ = New(arm.tab, arm)
	c.Exit(0)
	if arm.calls[0] != sysno.ExitGroup {
		t.Errorf("called %s, want exit_group", arm.calls[0])
	}
}

func TestOptionalCalls(t *testing.T) {
	k := newFakeKernel(t, "hnx")
	c, _ := New(k.tab, k)
	if pid, err := c.Getpid(); err != nil || pid != 4242 {
		t.Errorf("Getpid = %d, %v", pid, err)
	}

	bare := sysno.MustNew("bare", map[sysno.Name]sysno.Number{
		sysno.Read: 0, sysno.Write: 1, sysno.Open: 2, sysno.Close: 3, sysno.Exit: 4,
	})
	c, _ = New(bare, k)
	if _, err := c.Getpid(); !errors.Is(err, trampoline.ENOSYS) {
		t.Errorf("Getpid without entry = %v", err)
	}
	if _, err := c.Lseek(0, 0, SEEK_SET); !errors.Is(err, trampoline.ENOSYS) {
		t.Errorf("Lseek without entry = %v", err)
	}
}
