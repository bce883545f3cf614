//go:build linux && (amd64 || arm64)

package sysno

import (
	"testing"

	"golang.org/x/sys/unix"
)

func TestHostTable(t *testing.T) {
	tab, err := Host()
	if err != nil {
		t.Fatalf("Host: %v", err)
	}
	if tab.Target() != HostTarget {
		t.Errorf("Target = %s", tab.Target())
	}
	if tab.MustLookup(Write) != unix.SYS_WRITE {
		t.Errorf("write = %d, want %d", tab.MustLookup(Write), unix.SYS_WRITE)
	}
	if err := tab.Require(Read, Write, Openat, Close, ExitGroup); err != nil {
		t.Errorf("Require: %v", err)
	}
	if tab.OpenFlags().Directory != unix.O_DIRECTORY || tab.OpenFlags().TmpFile != unix.O_TMPFILE {
		t.Errorf("host flags = %+v", tab.OpenFlags())
	}
}
