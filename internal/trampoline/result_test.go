package trampoline

import (
	"errors"
	"io/fs"
	"testing"
)

func TestResultFailed(t *testing.T) {
	tests := []struct {
		r      Result
		failed bool
		errno  Errno
	}{
		{0, false, 0},
		{22, false, 0},
		{-1, true, EPERM},
		{-2, true, ENOENT},
		{-MaxErrno, true, Errno(MaxErrno)},
		{-MaxErrno - 1, false, 0},
		{Result(-1 << 40), false, 0},
	}
	for _, tt := range tests {
		if got := tt.r.Failed(); got != tt.failed {
			t.Errorf("Result(%d).Failed() = %v, want %v", tt.r, got, tt.failed)
		}
		if got := tt.r.Errno(); got != tt.errno {
			t.Errorf("Result(%d).Errno() = %d, want %d", tt.r, got, tt.errno)
		}
	}
}

func TestErroredRoundTrip(t *testing.T) {
	for _, e := range []Errno{EPERM, ENOENT, EBADF, ENOSYS} {
		r := Errored(e)
		if !r.Failed() || r.Errno() != e {
			t.Errorf("Errored(%d) = %d", e, r)
		}
	}
}

func TestErrnoIs(t *testing.T) {
	if !errors.Is(ENOENT, fs.ErrNotExist) {
		t.Error("ENOENT should match fs.ErrNotExist")
	}
	if !errors.Is(EEXIST, fs.ErrExist) {
		t.Error("EEXIST should match fs.ErrExist")
	}
	if !errors.Is(EACCES, fs.ErrPermission) || !errors.Is(EPERM, fs.ErrPermission) {
		t.Error("EACCES and EPERM should match fs.ErrPermission")
	}
	if errors.Is(EBADF, fs.ErrNotExist) {
		t.Error("EBADF is not fs.ErrNotExist")
	}
}

func TestErrnoError(t *testing.T) {
	if ENOENT.Error() != "no such file or directory" {
		t.Errorf("ENOENT.Error() = %q", ENOENT.Error())
	}
	if Errno(999).Error() != "errno 999" {
		t.Errorf("Errno(999).Error() = %q", Errno(999).Error())
	}
	if !EINTR.Temporary() || EBADF.Temporary() {
		t.Error("Temporary mismatch")
	}
}
