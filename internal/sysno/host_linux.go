//go:build linux && (amd64 || arm64)

package sysno

import "golang.org/x/sys/unix"

var hostFlags = OpenFlags{
	Directory: unix.O_DIRECTORY,
	NoFollow:  unix.O_NOFOLLOW,
	Direct:    unix.O_DIRECT,
	TmpFile:   unix.O_TMPFILE,
}
