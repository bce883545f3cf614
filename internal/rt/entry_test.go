package rt

import (
	"errors"
	"strings"
	"testing"

	"github.com/zboralski/hnxc/internal/libc"
	"github.com/zboralski/hnxc/internal/sysno"
	"github.com/zboralski/hnxc/internal/trampoline"
)

type recorder struct {
	tab    *sysno.Table
	calls  []sysno.Name
	out    strings.Builder
	status int
	short  int
	refuse bool
	badFd  bool
}

func (r *recorder) Invoke(nr sysno.Number, args ...trampoline.Arg) trampoline.Result {
	name, _ := r.tab.NameOf(nr)
	r.calls = append(r.calls, name)
	switch name {
	case sysno.Write:
		if r.badFd {
			return trampoline.Errored(trampoline.EBADF)
		}
		p := args[1].Bytes()
		if r.short > 0 && len(p) > r.short {
			p = p[:r.short]
		}
		r.out.Write(p)
		return trampoline.Result(len(p))
	case sysno.Exit, sysno.ExitGroup:
		if r.refuse {
			return trampoline.Errored(trampoline.EPERM)
		}
		r.status = int(args[0].Word())
		return 0
	}
	return trampoline.Errored(trampoline.ENOSYS)
}

func newProcess(t *testing.T) (*Process, *recorder) {
	t.Helper()
	tab, err := sysno.Builtin("linux-arm64")
	if err != nil {
		t.Fatal(err)
	}
	r := &recorder{tab: tab, status: -1}
	c, err := libc.New(tab, r)
	if err != nil {
		t.Fatal(err)
	}
	return New(c), r
}

func TestRunHello(t *testing.T) {
	p, r := newProcess(t)
	if p.State() != Running {
		t.Fatalf("initial state = %s", p.State())
	}

	err := p.Run(Hello)
	if !errors.Is(err, libc.ErrExitReturned) {
		t.Fatalf("Run = %v", err)
	}
	if p.State() != Terminated {
		t.Errorf("state = %s, want terminated", p.State())
	}
	if r.out.String() != Greeting || r.status != 0 {
		t.Errorf("out = %q status = %d", r.out.String(), r.status)
	}
	if len(r.calls) != 2 || r.calls[1] != sysno.ExitGroup {
		t.Errorf("calls = %v", r.calls)
	}
}

func TestHelloResumesShortWrites(t *testing.T) {
	p, r := newProcess(t)
	r.short = 4

	p.Run(Hello)
	if r.out.String() != Greeting {
		t.Errorf("out = %q", r.out.String())
	}
	if r.status != 0 {
		t.Errorf("status = %d, want 0", r.status)
	}
	// six writes of at most 4 bytes, then exit
	if len(r.calls) != 7 {
		t.Errorf("calls = %v", r.calls)
	}
}

func TestRunAlwaysExits(t *testing.T) {
	p, r := newProcess(t)
	r.badFd = true

	p.Run(Hello)
	if r.status != 1 || p.Status() != 1 {
		t.Errorf("status = %d / %d, want 1", r.status, p.Status())
	}

	p, r = newProcess(t)
	p.Run(func(c *libc.C) int { return 42 })
	if r.status != 42 {
		t.Errorf("status = %d, want 42", r.status)
	}
	if len(r.calls) != 1 {
		t.Errorf("calls = %v, want only exit", r.calls)
	}
}

func TestInitHooks(t *testing.T) {
	p, r := newProcess(t)
	var order []int
	p.AddInit(func(c *libc.C) error { order = append(order, 1); return nil })
	p.AddInit(func(c *libc.C) error { order = append(order, 2); return nil })

	ranMain := false
	p.Run(func(c *libc.C) int { ranMain = true; return 0 })
	if len(order) != 2 || order[0] != 1 || order[1] != 2 || !ranMain {
		t.Errorf("order = %v main = %v", order, ranMain)
	}

	p, r = newProcess(t)
	p.AddInit(func(c *libc.C) error { return errors.New("no heap") })
	ranMain = false
	p.Run(func(c *libc.C) int { ranMain = true; return 0 })
	if ranMain {
		t.Error("main ran after a failed init hook")
	}
	if r.status != InitStatus {
		t.Errorf("status = %d, want %d", r.status, InitStatus)
	}
}

func TestRunOnce(t *testing.T) {
	p, _ := newProcess(t)
	p.Run(Hello)
	if err := p.Run(Hello); !errors.Is(err, ErrAlreadyRun) {
		t.Errorf("second Run = %v", err)
	}
}

func TestExitRefused(t *testing.T) {
	p, r := newProcess(t)
	r.refuse = true

	err := p.Run(Hello)
	var se *libc.SyscallError
	if !errors.As(err, &se) || se.Errno != trampoline.EPERM {
		t.Fatalf("Run = %v, want EPERM", err)
	}
	if p.State() != Terminating {
		t.Errorf("state = %s, want terminating", p.State())
	}
}

func TestStartPanicsWhenExitReturns(t *testing.T) {
	tab, _ := sysno.Builtin("hnx")
	r := &recorder{tab: tab}
	c, _ := libc.New(tab, r)

	defer func() {
		if recover() == nil {
			t.Error("Start returned")
		}
		if r.calls[len(r.calls)-1] != sysno.Exit {
			t.Errorf("last call = %s", r.calls[len(r.calls)-1])
		}
	}()
	Start(c, Hello)
}

func TestStateString(t *testing.T) {
	if Terminating.String() != "terminating" || State(9).String() != "State(9)" {
		t.Errorf("String = %q %q", Terminating, State(9))
	}
}
