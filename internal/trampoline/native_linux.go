//go:build linux

package trampoline

import (
	"runtime"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/zboralski/hnxc/internal/sysno"
)

// Native traps into the host kernel. It holds no state and is safe for concurrent use.
type Native struct{}

// NewNative returns the host backend.
func NewNative() Native {
	return Native{}
}

// Invoke issues the syscall through the Go runtime so a blocking call parks only this
// goroutine's thread. The kernel's errno is folded back into the raw -errno word.
//
// Buffer addresses are taken before the call, so every buffer is pinned first. Pinning
// moves it to the heap and keeps it there until the trap returns.
func (Native) Invoke(nr sysno.Number, args ...Arg) Result {
	CheckArgs(args)

	var pin runtime.Pinner
	defer pin.Unpin()

	var w [MaxArgs]uintptr
	for i, a := range args {
		if a.kind == KindWord {
			w[i] = a.word
			continue
		}
		w[i] = bufAddr(&pin, a.buf)
	}

	r1, _, errno := unix.Syscall6(uintptr(nr), w[0], w[1], w[2], w[3], w[4], w[5])
	if errno != 0 {
		return Errored(Errno(errno))
	}
	return Result(int64(r1))
}

func bufAddr(pin *runtime.Pinner, p []byte) uintptr {
	if len(p) == 0 {
		return 0
	}
	ptr := unsafe.Pointer(unsafe.SliceData(p))
	pin.Pin(ptr)
	return uintptr(ptr)
}
