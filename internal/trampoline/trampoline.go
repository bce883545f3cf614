// Package trampoline is the single path from user code into a kernel.
//
// A Trampoline places a syscall number and up to MaxArgs argument words where the
// kernel's trap handler expects them, takes the trap and hands back the raw result
// word untouched. Deciding whether that word is an error belongs to the caller.
package trampoline

import (
	"fmt"

	"github.com/zboralski/hnxc/internal/sysno"
)

// MaxArgs is the number of argument registers in the Linux syscall ABI.
const MaxArgs = 6

// Trampoline performs one syscall.
type Trampoline interface {
	Invoke(nr sysno.Number, args ...Arg) Result
}

// Func adapts a function to the Trampoline interface.
type Func func(nr sysno.Number, args ...Arg) Result

// Invoke calls f.
func (f Func) Invoke(nr sysno.Number, args ...Arg) Result {
	return f(nr, args...)
}

// CheckArgs panics when more arguments are passed than the ABI has registers for.
// Every backend calls it first; exceeding the limit is a bug in the caller.
func CheckArgs(args []Arg) {
	if len(args) > MaxArgs {
		panic(fmt.Sprintf("trampoline: %d arguments, ABI allows %d", len(args), MaxArgs))
	}
}
