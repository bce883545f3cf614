// Package emulator provides an AArch64 CPU using Unicorn Engine.
package emulator

import (
	"encoding/binary"
	"errors"
	"fmt"

	uc "github.com/unicorn-engine/unicorn/bindings/go/unicorn"
)

// Memory layout constants
const (
	TrampolineBase = 0x00001000
	TrampolineSize = 0x00001000 // one page holding svc #0
	CodeBase       = 0x00010000
	CodeSize       = 0x01000000 // 16MB for code
	StackBase      = 0x80000000
	StackSize      = 0x00100000 // 1MB stack
	ScratchBase    = 0x90000000
	ScratchSize    = 0x01000000 // 16MB for marshaled syscall buffers
)

// PageSize is the mapping granularity.
const PageSize = 0x1000

// INTR_EXCP_SWI is the interrupt number Unicorn reports for svc.
const INTR_EXCP_SWI = 2

// ErrBudget is returned by Run when the instruction budget ran out first.
var ErrBudget = errors.New("instruction budget exhausted")

// CodeHookFunc is called for each instruction
type CodeHookFunc func(emu *Emulator, addr uint64, size uint32)

// IntrHookFunc is called when the CPU takes an exception.
type IntrHookFunc func(emu *Emulator, intno uint32)

// Emulator wraps Unicorn for AArch64 emulation
type Emulator struct {
	mu uc.Unicorn

	// Scratch allocation pointer
	scratchPtr uint64

	// Hooks
	codeHooks []CodeHookFunc
	intrHooks []IntrHookFunc

	// Instruction budget for Run; 0 means unlimited
	budget   uint64
	executed uint64
	overrun  bool

	// Stop flag
	stopped bool
}

// New creates a new AArch64 emulator with the standard memory map.
func New() (*Emulator, error) {
	mu, err := uc.NewUnicorn(uc.ARCH_ARM64, uc.MODE_ARM)
	if err != nil {
		return nil, fmt.Errorf("create unicorn: %w", err)
	}

	emu := &Emulator{
		mu:         mu,
		scratchPtr: ScratchBase,
	}

	if err := emu.mapMemory(); err != nil {
		mu.Close()
		return nil, err
	}

	if err := emu.setupHooks(); err != nil {
		mu.Close()
		return nil, err
	}

	return emu, nil
}

// mapMemory sets up the memory layout
func (e *Emulator) mapMemory() error {
	regions := []struct {
		base uint64
		size uint64
		name string
	}{
		{TrampolineBase, TrampolineSize, "trampoline"},
		{CodeBase, CodeSize, "code"},
		{StackBase, StackSize, "stack"},
		{ScratchBase, ScratchSize, "scratch"},
	}

	for _, r := range regions {
		if err := e.mu.MemMap(r.base, r.size); err != nil {
			return fmt.Errorf("map %s (0x%x): %w", r.name, r.base, err)
		}
	}

	return e.ResetStack()
}

// StackTop is the initial stack pointer: 16-byte aligned, one page below the end.
func StackTop() uint64 {
	return StackBase + StackSize - PageSize
}

// ResetStack points SP at StackTop.
func (e *Emulator) ResetStack() error {
	if err := e.mu.RegWrite(uc.ARM64_REG_SP, StackTop()); err != nil {
		return fmt.Errorf("set SP: %w", err)
	}
	return nil
}

// setupHooks initializes Unicorn hooks
func (e *Emulator) setupHooks() error {
	// Code hook for the budget and user code hooks
	_, err := e.mu.HookAdd(uc.HOOK_CODE, func(mu uc.Unicorn, addr uint64, size uint32) {
		// Check for stop
		if e.stopped {
			e.mu.Stop()
			return
		}

		e.executed++
		if e.budget != 0 && e.executed > e.budget {
			e.overrun = true
			e.Stop()
			return
		}

		// Call user code hooks
		for _, h := range e.codeHooks {
			h(e, addr, size)
		}
	}, 1, 0)
	if err != nil {
		return fmt.Errorf("add code hook: %w", err)
	}

	_, err = e.mu.HookAdd(uc.HOOK_INTR, func(mu uc.Unicorn, intno uint32) {
		for _, h := range e.intrHooks {
			h(e, intno)
		}
	}, 1, 0)
	if err != nil {
		return fmt.Errorf("add interrupt hook: %w", err)
	}
	return nil
}

// Close releases resources
func (e *Emulator) Close() error {
	return e.mu.Close()
}

// LoadCode writes code at the code base
func (e *Emulator) LoadCode(code []byte) error {
	if uint64(len(code)) > CodeSize {
		return fmt.Errorf("code is %d bytes, region holds %d", len(code), CodeSize)
	}
	return e.mu.MemWrite(CodeBase, code)
}

// MapRegion maps additional memory
func (e *Emulator) MapRegion(addr, size uint64) error {
	return e.mu.MemMap(addr, size)
}

// MemRead reads bytes from memory
func (e *Emulator) MemRead(addr, size uint64) ([]byte, error) {
	if size == 0 {
		return nil, nil
	}
	return e.mu.MemRead(addr, size)
}

// MemWrite writes bytes to memory
func (e *Emulator) MemWrite(addr uint64, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return e.mu.MemWrite(addr, data)
}

// MemReadU32 reads a uint32 from memory (little endian)
func (e *Emulator) MemReadU32(addr uint64) (uint32, error) {
	data, err := e.mu.MemRead(addr, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(data), nil
}

// MemWriteU32 writes a uint32 to memory (little endian)
func (e *Emulator) MemWriteU32(addr uint64, val uint32) error {
	data := make([]byte, 4)
	binary.LittleEndian.PutUint32(data, val)
	return e.mu.MemWrite(addr, data)
}

// MemReadU64 reads a uint64 from memory (little endian)
func (e *Emulator) MemReadU64(addr uint64) (uint64, error) {
	data, err := e.mu.MemRead(addr, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(data), nil
}

// MemWriteU64 writes a uint64 to memory (little endian)
func (e *Emulator) MemWriteU64(addr, val uint64) error {
	data := make([]byte, 8)
	binary.LittleEndian.PutUint64(data, val)
	return e.mu.MemWrite(addr, data)
}

// MemReadString reads a NUL-terminated string of at most maxLen bytes. It reads in
// small chunks so a string near the end of a mapping does not fault.
func (e *Emulator) MemReadString(addr uint64, maxLen int) (string, error) {
	if maxLen <= 0 {
		maxLen = 4096
	}
	const chunk = 64
	var out []byte
	for len(out) < maxLen {
		n := chunk - (addr+uint64(len(out)))%chunk
		data, err := e.mu.MemRead(addr+uint64(len(out)), n)
		if err != nil {
			return "", err
		}
		for i, b := range data {
			if b == 0 {
				return string(append(out, data[:i]...)), nil
			}
		}
		out = append(out, data...)
	}
	return string(out[:maxLen]), nil
}

// X reads general-purpose register X0-X30
func (e *Emulator) X(n int) uint64 {
	if n < 0 || n > 30 {
		return 0
	}
	val, _ := e.mu.RegRead(uc.ARM64_REG_X0 + n)
	return val
}

// SetX writes general-purpose register X0-X30
func (e *Emulator) SetX(n int, val uint64) error {
	if n < 0 || n > 30 {
		return fmt.Errorf("invalid register X%d", n)
	}
	return e.mu.RegWrite(uc.ARM64_REG_X0+n, val)
}

// PC returns the program counter
func (e *Emulator) PC() uint64 {
	pc, _ := e.mu.RegRead(uc.ARM64_REG_PC)
	return pc
}

// SP returns the stack pointer
func (e *Emulator) SP() uint64 {
	sp, _ := e.mu.RegRead(uc.ARM64_REG_SP)
	return sp
}

// SetSP sets the stack pointer
func (e *Emulator) SetSP(val uint64) error {
	return e.mu.RegWrite(uc.ARM64_REG_SP, val)
}

// Alloc reserves size bytes of scratch memory, 16-byte aligned.
func (e *Emulator) Alloc(size uint64) (uint64, error) {
	size = (size + 15) &^ uint64(15)
	if e.scratchPtr+size > ScratchBase+ScratchSize {
		return 0, fmt.Errorf("scratch exhausted: want %d bytes", size)
	}
	addr := e.scratchPtr
	e.scratchPtr += size
	return addr, nil
}

// ReleaseScratch frees every Alloc since the last release.
func (e *Emulator) ReleaseScratch() {
	e.scratchPtr = ScratchBase
}

// HookCode adds a code hook called for every instruction
func (e *Emulator) HookCode(fn CodeHookFunc) {
	e.codeHooks = append(e.codeHooks, fn)
}

// HookIntr adds a hook called for every CPU exception.
func (e *Emulator) HookIntr(fn IntrHookFunc) {
	e.intrHooks = append(e.intrHooks, fn)
}

// SetBudget limits how many instructions a Run may execute. 0 removes the limit.
func (e *Emulator) SetBudget(n uint64) {
	e.budget = n
}

// Executed returns how many instructions the last Run executed.
func (e *Emulator) Executed() uint64 {
	return e.executed
}

// Run executes from start until end is reached, Stop is called, or the budget runs
// out. An end of 0 runs until stopped.
func (e *Emulator) Run(start, end uint64) error {
	e.stopped = false
	e.overrun = false
	e.executed = 0
	if err := e.mu.Start(start, end); err != nil {
		return err
	}
	if e.overrun {
		return ErrBudget
	}
	return nil
}

// RunFrom starts emulation from start and runs until stopped.
func (e *Emulator) RunFrom(start uint64) error {
	return e.Run(start, 0)
}

// Stop stops emulation
func (e *Emulator) Stop() {
	e.stopped = true
	e.mu.Stop()
}

// Stopped reports whether Stop was called during the current or last Run.
func (e *Emulator) Stopped() bool {
	return e.stopped
}
