package trampoline

import (
	"io/fs"
	"strconv"
)

// MaxErrno is the largest error magnitude a Linux kernel returns. Raw words in
// [-MaxErrno, -1] are errors; anything below is a value, e.g. a high address.
const MaxErrno = 4095

// Result is the raw signed word left in the result register.
type Result int64

// Errored returns the raw encoding of a kernel error.
func Errored(e Errno) Result {
	return Result(-int64(e))
}

// Failed reports whether r encodes an error.
func (r Result) Failed() bool {
	return r < 0 && r >= -MaxErrno
}

// Errno returns the error code of a failed result, or 0.
func (r Result) Errno() Errno {
	if !r.Failed() {
		return 0
	}
	return Errno(-r)
}

// Int returns r as an int.
func (r Result) Int() int {
	return int(r)
}

// Errno is a Linux error number.
type Errno uintptr

// Error numbers used by the wrappers and the guest kernel (asm-generic/errno-base.h).
const (
	EPERM   Errno = 1
	ENOENT  Errno = 2
	ESRCH   Errno = 3
	EINTR   Errno = 4
	EIO     Errno = 5
	EBADF   Errno = 9
	EAGAIN  Errno = 11
	ENOMEM  Errno = 12
	EACCES  Errno = 13
	EFAULT  Errno = 14
	EEXIST  Errno = 17
	ENOTDIR Errno = 20
	EISDIR  Errno = 21
	EINVAL  Errno = 22
	EMFILE  Errno = 24
	ESPIPE  Errno = 29
	ENOSYS  Errno = 38
)

var errnoNames = map[Errno]string{
	EPERM:   "operation not permitted",
	ENOENT:  "no such file or directory",
	ESRCH:   "no such process",
	EINTR:   "interrupted system call",
	EIO:     "input/output error",
	EBADF:   "bad file descriptor",
	EAGAIN:  "resource temporarily unavailable",
	ENOMEM:  "cannot allocate memory",
	EACCES:  "permission denied",
	EFAULT:  "bad address",
	EEXIST:  "file exists",
	ENOTDIR: "not a directory",
	EISDIR:  "is a directory",
	EINVAL:  "invalid argument",
	EMFILE:  "too many open files",
	ESPIPE:  "illegal seek",
	ENOSYS:  "function not implemented",
}

func (e Errno) Error() string {
	if s, ok := errnoNames[e]; ok {
		return s
	}
	return "errno " + strconv.FormatUint(uint64(e), 10)
}

// Is lets errors.Is match an Errno against the io/fs sentinels.
func (e Errno) Is(target error) bool {
	switch target {
	case fs.ErrNotExist:
		return e == ENOENT
	case fs.ErrExist:
		return e == EEXIST
	case fs.ErrPermission:
		return e == EACCES || e == EPERM
	}
	return false
}

// Temporary reports whether retrying the call may succeed.
func (e Errno) Temporary() bool {
	return e == EINTR || e == EAGAIN
}
