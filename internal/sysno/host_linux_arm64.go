//go:build linux && arm64

package sysno

import "golang.org/x/sys/unix"

// Host returns the table of the running AArch64 Linux kernel. The generic syscall
// list has no open, so wrappers fall back to openat.
func Host() (*Table, error) {
	t, err := New(HostTarget, map[Name]Number{
		Read:      unix.SYS_READ,
		Write:     unix.SYS_WRITE,
		Openat:    unix.SYS_OPENAT,
		Close:     unix.SYS_CLOSE,
		Lseek:     unix.SYS_LSEEK,
		Getpid:    unix.SYS_GETPID,
		Exit:      unix.SYS_EXIT,
		ExitGroup: unix.SYS_EXIT_GROUP,
	})
	if err != nil {
		return nil, err
	}
	return t.WithOpenFlags(hostFlags), nil
}
