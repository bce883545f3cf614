package guest

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/zboralski/hnxc/internal/emulator"
	"github.com/zboralski/hnxc/internal/log"
	"github.com/zboralski/hnxc/internal/sysno"
	"github.com/zboralski/hnxc/internal/trampoline"
)

// Trampoline issues syscalls from the host through the emulated CPU: arguments go in
// X0..X5, the number in X8, and a single svc #0 on the trampoline page traps into
// whatever kernel is hooked to the CPU.
type Trampoline struct {
	mu  sync.Mutex
	emu *emulator.Emulator
}

// NewTrampoline writes the svc page into emu.
func NewTrampoline(emu *emulator.Emulator) (*Trampoline, error) {
	if err := emu.MemWriteU32(emulator.TrampolineBase, SVC(0)); err != nil {
		return nil, fmt.Errorf("write trampoline page: %w", err)
	}
	return &Trampoline{emu: emu}, nil
}

type outBuf struct {
	addr uint64
	buf  []byte
}

// Invoke implements trampoline.Trampoline. Buffers are copied into scratch memory for
// the duration of the call; Out buffers are copied back afterwards. A call that
// cannot be placed or that faults returns -EFAULT.
func (t *Trampoline) Invoke(nr sysno.Number, args ...trampoline.Arg) trampoline.Result {
	trampoline.CheckArgs(args)

	t.mu.Lock()
	defer t.mu.Unlock()
	defer t.emu.ReleaseScratch()

	var outs []outBuf
	for i := 0; i < trampoline.MaxArgs; i++ {
		var word uint64
		if i < len(args) {
			a := args[i]
			if a.Kind() == trampoline.KindWord {
				word = uint64(a.Word())
			} else {
				addr, err := t.place(a.Bytes())
				if err != nil {
					log.L.Warn("place syscall buffer", zap.Int("arg", i), zap.Error(err))
					return trampoline.Errored(trampoline.EFAULT)
				}
				if a.Kind() == trampoline.KindOut {
					outs = append(outs, outBuf{addr: addr, buf: a.Bytes()})
				}
				word = addr
			}
		}
		if err := t.emu.SetX(i, word); err != nil {
			return trampoline.Errored(trampoline.EFAULT)
		}
	}
	if err := t.emu.SetX(8, uint64(nr)); err != nil {
		return trampoline.Errored(trampoline.EFAULT)
	}

	if err := t.emu.Run(emulator.TrampolineBase, emulator.TrampolineBase+4); err != nil {
		log.L.Warn("trampoline run", log.Addr(t.emu.PC()), zap.Error(err))
		return trampoline.Errored(trampoline.EFAULT)
	}
	r := trampoline.Result(int64(t.emu.X(0)))

	for _, o := range outs {
		data, err := t.emu.MemRead(o.addr, uint64(len(o.buf)))
		if err != nil {
			return trampoline.Errored(trampoline.EFAULT)
		}
		copy(o.buf, data)
	}
	return r
}

// place copies p into scratch memory. Out buffers are copied too so bytes the kernel
// does not write keep their values.
func (t *Trampoline) place(p []byte) (uint64, error) {
	addr, err := t.emu.Alloc(uint64(len(p)))
	if err != nil {
		return 0, err
	}
	return addr, t.emu.MemWrite(addr, p)
}
