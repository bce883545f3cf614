//go:build linux && (amd64 || arm64)

package trampoline

import (
	"os"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/zboralski/hnxc/internal/sysno"
)

func TestNativeGetpidIdempotent(t *testing.T) {
	n := NewNative()
	a := n.Invoke(unix.SYS_GETPID)
	b := n.Invoke(unix.SYS_GETPID)
	if a != b {
		t.Errorf("getpid twice: %d then %d", a, b)
	}
	if a.Int() != os.Getpid() {
		t.Errorf("getpid = %d, want %d", a, os.Getpid())
	}
}

func TestNativeWritePipe(t *testing.T) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		t.Fatal(err)
	}
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	msg := []byte("Hello from HNX libc!\n")
	n := NewNative()
	r := n.Invoke(unix.SYS_WRITE, Int(fds[1]), In(msg), Int(len(msg)))
	if r.Failed() || r.Int() != len(msg) {
		t.Fatalf("write = %d", r)
	}

	buf := make([]byte, 64)
	r = n.Invoke(unix.SYS_READ, Int(fds[0]), Out(buf), Int(len(buf)))
	if r.Int() != len(msg) || string(buf[:r]) != string(msg) {
		t.Errorf("read back %q", buf[:r.Int()])
	}
}

func TestNativeRawError(t *testing.T) {
	n := NewNative()
	r := n.Invoke(unix.SYS_OPENAT, Int(unix.AT_FDCWD), String("/nonexistent"), Int(unix.O_RDONLY), Word(0))
	if r != Errored(ENOENT) {
		t.Errorf("openat(/nonexistent) = %d, want %d", r, Errored(ENOENT))
	}

	r = n.Invoke(unix.SYS_WRITE, Int(-1), In([]byte("x")), Int(1))
	if r.Errno() != EBADF {
		t.Errorf("write(-1) = %d, want -EBADF", r)
	}
}

func TestNativeMatchesHostTable(t *testing.T) {
	tab, err := sysno.Host()
	if err != nil {
		t.Fatal(err)
	}
	n := NewNative()
	if got := n.Invoke(tab.MustLookup(sysno.Getpid)); got.Int() != os.Getpid() {
		t.Errorf("getpid via table = %d", got)
	}
}

// growStack recurses deep enough to force the goroutine stack to be copied.
func growStack(n int) int {
	var pad [256]byte
	pad[0] = byte(n)
	if n == 0 {
		return int(pad[0])
	}
	return growStack(n-1) + int(pad[0])
}

func TestNativeStackBuffers(t *testing.T) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		t.Fatal(err)
	}
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	done := make(chan string)
	go func() {
		n := NewNative()
		var msg [8]byte
		copy(msg[:], "stackbuf")
		growStack(64)
		n.Invoke(unix.SYS_WRITE, Int(fds[1]), In(msg[:]), Int(len(msg)))

		var buf [8]byte
		growStack(256)
		r := n.Invoke(unix.SYS_READ, Int(fds[0]), Out(buf[:]), Int(len(buf)))
		done <- string(buf[:r.Int()])
	}()
	if got := <-done; got != "stackbuf" {
		t.Errorf("read back %q", got)
	}
}
