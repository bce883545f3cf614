// Package rt is the process entry point: it runs main and always hands its status to
// the termination syscall.
//
// A Process moves Running -> Terminating -> Terminated. There is no path from Running
// to anything but Terminating, so a main that returns can never fall through into
// whatever follows the entry point.
package rt

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/zboralski/hnxc/internal/libc"
	"github.com/zboralski/hnxc/internal/log"
)

// State is a process lifecycle state.
type State int

const (
	Running State = iota
	Terminating
	Terminated
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Terminating:
		return "terminating"
	case Terminated:
		return "terminated"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// InitStatus is the exit status used when an init hook fails.
const InitStatus = 1

// ErrAlreadyRun is returned by Run on a process that has already started.
var ErrAlreadyRun = errors.New("process already ran")

// Main is a program body. Its return value is the exit status.
type Main func(c *libc.C) int

// InitFunc runs before main. An error aborts startup.
type InitFunc func(c *libc.C) error

// Process is a single run of a program against one C library.
type Process struct {
	c *libc.C

	mu     sync.Mutex
	state  State
	status int
	ran    bool
	inits  []InitFunc
}

// New returns a process bound to c, in the Running state.
func New(c *libc.C) *Process {
	return &Process{c: c}
}

// AddInit registers fn to run before main, in registration order.
func (p *Process) AddInit(fn InitFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inits = append(p.inits, fn)
}

// State returns the current lifecycle state.
func (p *Process) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Status returns the status handed to exit. Meaningful once the process has left
// Running.
func (p *Process) Status() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *Process) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
	log.L.Debug("process", zap.Stringer("state", s), zap.Int("status", p.Status()))
}

// Run runs the init hooks and main, then issues exit with main's status. It returns
// only if exit came back: on a real kernel that means exit failed, and the error says
// why. Against a kernel that keeps the caller alive, such as an emulated one, it
// returns libc.ErrExitReturned and the process is Terminated.
func (p *Process) Run(main Main) error {
	p.mu.Lock()
	if p.ran {
		p.mu.Unlock()
		return ErrAlreadyRun
	}
	p.ran = true
	inits := p.inits
	p.mu.Unlock()

	status, err := p.start(inits, main)
	if err != nil {
		log.L.Warn("init failed", zap.Error(err))
	}

	p.mu.Lock()
	p.status = status
	p.mu.Unlock()
	p.setState(Terminating)

	err = p.c.Exit(status)
	if errors.Is(err, libc.ErrExitReturned) {
		p.setState(Terminated)
	}
	return err
}

func (p *Process) start(inits []InitFunc, main Main) (int, error) {
	for _, fn := range inits {
		if err := fn(p.c); err != nil {
			return InitStatus, err
		}
	}
	return main(p.c), nil
}

// Start is the entry point of a real process. It never returns: if exit comes back
// there is nothing left to run, so it panics.
func Start(c *libc.C, main Main) {
	err := New(c).Run(main)
	panic(fmt.Sprintf("rt: exit returned: %v", err))
}
