package guest

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/zboralski/hnxc/internal/emulator"
	"github.com/zboralski/hnxc/internal/log"
)

// DefaultBudget bounds a guest run when no budget is configured.
const DefaultBudget = 1_000_000

// ErrNoTermination is returned when a guest stops without calling exit, including
// when it spins until the instruction budget runs out.
var ErrNoTermination = errors.New("guest did not terminate")

// Machine is an emulated CPU with a kernel and a host-side trampoline attached.
type Machine struct {
	Emu    *emulator.Emulator
	Kernel *Kernel
	tr     *Trampoline
	budget uint64
}

// NewMachine builds a fresh CPU and kernel from cfg.
func NewMachine(cfg Config) (*Machine, error) {
	emu, err := emulator.New()
	if err != nil {
		return nil, err
	}
	k, err := NewKernel(emu, cfg)
	if err != nil {
		emu.Close()
		return nil, err
	}
	tr, err := NewTrampoline(emu)
	if err != nil {
		k.Close()
		emu.Close()
		return nil, err
	}
	return &Machine{Emu: emu, Kernel: k, tr: tr, budget: DefaultBudget}, nil
}

// Trampoline returns the host-side syscall path into this machine's kernel.
func (m *Machine) Trampoline() *Trampoline {
	return m.tr
}

// SetBudget sets the instruction limit for Exec. 0 restores DefaultBudget.
func (m *Machine) SetBudget(n uint64) {
	if n == 0 {
		n = DefaultBudget
	}
	m.budget = n
}

// Close releases the kernel and the CPU.
func (m *Machine) Close() error {
	return errors.Join(m.Kernel.Close(), m.Emu.Close())
}

// LoadProgram copies p to the code region and returns its entry point.
func (m *Machine) LoadProgram(p *Program) (uint64, error) {
	if err := m.Emu.LoadCode(p.Code); err != nil {
		return 0, fmt.Errorf("load program: %w", err)
	}
	if p.BSS > 0 {
		if err := m.Emu.MemWrite(emulator.CodeBase+uint64(len(p.Code)), make([]byte, p.BSS)); err != nil {
			return 0, fmt.Errorf("zero program bss: %w", err)
		}
	}
	return emulator.CodeBase, nil
}

// LoadELF maps a static AArch64 executable.
func (m *Machine) LoadELF(path string) (*emulator.ELFInfo, error) {
	info, err := m.Emu.LoadELF(path)
	if err != nil {
		return nil, err
	}
	log.L.Debug("loaded", zap.String("path", path), log.Ptr("base", info.BaseAddr), log.Ptr("entry", info.Entry))
	return info, nil
}

// Exec starts the guest at entry with a fresh process stack and nothing else set up,
// and runs it until it calls exit. It returns the exit status.
func (m *Machine) Exec(entry uint64) (int, error) {
	m.tr.mu.Lock()
	defer m.tr.mu.Unlock()

	m.Kernel.Reset()
	if err := m.Emu.InitProcessStack(); err != nil {
		return -1, err
	}
	m.Emu.SetBudget(m.budget)
	defer m.Emu.SetBudget(0)

	err := m.Emu.RunFrom(entry)
	if fault := m.Kernel.Fault(); fault != nil {
		return -1, fault
	}
	if status, ok := m.Kernel.Exited(); ok {
		return status, nil
	}
	if errors.Is(err, emulator.ErrBudget) {
		return -1, fmt.Errorf("%w after %d instructions", ErrNoTermination, m.budget)
	}
	if err != nil {
		return -1, fmt.Errorf("guest fault at %s: %w", log.Hex(m.Emu.PC()), err)
	}
	return -1, ErrNoTermination
}

// Run loads p and executes it.
func (m *Machine) Run(p *Program) (int, error) {
	entry, err := m.LoadProgram(p)
	if err != nil {
		return -1, err
	}
	return m.Exec(entry)
}
