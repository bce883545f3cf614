//go:build !linux

package trampoline

import "github.com/zboralski/hnxc/internal/sysno"

// Native has no host kernel to reach on this platform; every call fails with ENOSYS.
type Native struct{}

// NewNative returns the host backend.
func NewNative() Native {
	return Native{}
}

// Invoke returns -ENOSYS.
func (Native) Invoke(nr sysno.Number, args ...Arg) Result {
	CheckArgs(args)
	return Errored(ENOSYS)
}
