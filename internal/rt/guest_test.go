package rt_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/zboralski/hnxc/internal/guest"
	"github.com/zboralski/hnxc/internal/libc"
	"github.com/zboralski/hnxc/internal/rt"
	"github.com/zboralski/hnxc/internal/sysno"
)

func TestHelloOnGuestKernel(t *testing.T) {
	for _, target := range []string{"hnx", "linux-arm64"} {
		t.Run(target, func(t *testing.T) {
			tab, err := sysno.Builtin(target)
			if err != nil {
				t.Fatal(err)
			}
			var out bytes.Buffer
			m, err := guest.NewMachine(guest.Config{Table: tab, Stdout: &out})
			if err != nil {
				t.Fatal(err)
			}
			defer m.Close()

			c, err := libc.New(tab, m.Trampoline())
			if err != nil {
				t.Fatal(err)
			}
			p := rt.New(c)
			if err := p.Run(rt.Hello); !errors.Is(err, libc.ErrExitReturned) {
				t.Fatalf("Run = %v", err)
			}
			if out.String() != rt.Greeting {
				t.Errorf("stdout = %q", out.String())
			}
			status, ok := m.Kernel.Exited()
			if !ok || status != 0 {
				t.Errorf("kernel saw exit %d, %v", status, ok)
			}
			if p.State() != rt.Terminated {
				t.Errorf("state = %s", p.State())
			}
		})
	}
}
