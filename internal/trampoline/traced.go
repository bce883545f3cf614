package trampoline

import (
	"strconv"

	"github.com/zboralski/hnxc/internal/log"
	"github.com/zboralski/hnxc/internal/sysno"
)

// Traced wraps t so every call is logged with its symbolic name from tab.
func Traced(t Trampoline, tab *sysno.Table, l *log.Logger) Trampoline {
	return Func(func(nr sysno.Number, args ...Arg) Result {
		r := t.Invoke(nr, args...)
		name, ok := tab.NameOf(nr)
		if !ok {
			name = sysno.Name("nr" + strconv.FormatUint(uint64(nr), 10))
		}
		l.Syscall(tab.Target(), string(name), uint64(nr), Words(args), int64(r))
		return r
	})
}
