package guest

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/zboralski/hnxc/internal/emulator"
	"github.com/zboralski/hnxc/internal/rt"
	"github.com/zboralski/hnxc/internal/sysno"
)

// Greeting is what the hello program writes to stdout.
const Greeting = rt.Greeting

// Program is a position-independent AArch64 image whose entry point is its first byte.
type Program struct {
	Code []byte
	BSS  uint64 // zero bytes that follow Code in memory
}

// Words returns the image as instruction words, including any data tail.
func (p *Program) Words() []uint32 {
	out := make([]uint32, len(p.Code)/4)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(p.Code[i*4:])
	}
	return out
}

// ELF wraps the program in a static executable.
func (p *Program) ELF() []byte {
	return emulator.BuildStaticELF(p.Code, p.BSS)
}

// number resolves the first of names in tab to an immediate movz can load.
func number(tab *sysno.Table, names ...sysno.Name) (sysno.Name, uint16, error) {
	name, err := tab.RequireOne(names...)
	if err != nil {
		return "", 0, err
	}
	nr := tab.MustLookup(name)
	if nr > math.MaxUint16 {
		return "", 0, fmt.Errorf("%s: %s is %d, too large for movz", tab.Target(), name, nr)
	}
	return name, uint16(nr), nil
}

func svc(a *Assembler, nr uint16) {
	a.Emit(MOVZ(8, nr), SVC(0))
}

func exit(a *Assembler, tab *sysno.Table, status uint16) error {
	_, nr, err := number(tab, sysno.ExitGroup, sysno.Exit)
	if err != nil {
		return err
	}
	a.Emit(MOVZ(0, status))
	svc(a, nr)
	return nil
}

// writeAll writes x21 bytes at x20 to fd 1, resuming after short counts, and
// branches to fail on an error or a write that makes no progress.
func writeAll(a *Assembler, writeNr uint16, fail string) {
	a.Label("write")
	a.Emit(MOVZ(0, 1), MOV(1, 20), MOV(2, 21))
	svc(a, writeNr)
	a.Emit(CMP(0, 0))
	a.BCond(LE, fail)
	a.Emit(ADD(20, 20, 0), SUB(21, 21, 0), CMP(21, 0))
	a.BCond(GT, "write")
}

func writeGreeting(a *Assembler, tab *sysno.Table, fail string) error {
	_, write, err := number(tab, sysno.Write)
	if err != nil {
		return err
	}
	a.ADR(20, "msg")
	a.Emit(MOVZ(21, uint16(len(Greeting))))
	writeAll(a, write, fail)
	a.Data("msg", []byte(Greeting))
	return nil
}

// HelloProgram is _start for the hello program: write the whole greeting to fd 1 and
// exit_group(0) (exit(0) on tables without exit_group), or exit with 1 if a write
// fails. Numbers come from tab.
func HelloProgram(tab *sysno.Table) (*Program, error) {
	a := NewAssembler()
	if err := writeGreeting(a, tab, "fail"); err != nil {
		return nil, err
	}
	if err := exit(a, tab, 0); err != nil {
		return nil, err
	}
	a.Label("fail")
	if err := exit(a, tab, 1); err != nil {
		return nil, err
	}
	return a.Assemble()
}

// IdleProgram writes the greeting and then spins in place instead of exiting, as an
// entry point without a termination call would.
func IdleProgram(tab *sysno.Table) (*Program, error) {
	a := NewAssembler()
	if err := writeGreeting(a, tab, "idle"); err != nil {
		return nil, err
	}
	a.Label("idle")
	a.B("idle")
	return a.Assemble()
}

// CatProgram copies the file at path to fd 1 and exits 0. It exits 1 if the file
// cannot be opened or a read or write fails. Short writes are resumed until each
// chunk is out. It uses open when tab has it and openat(AT_FDCWD, ...) otherwise.
func CatProgram(tab *sysno.Table, path string) (*Program, error) {
	const bufSize = 256

	open, openNr, err := number(tab, sysno.Open, sysno.Openat)
	if err != nil {
		return nil, err
	}
	_, readNr, err := number(tab, sysno.Read)
	if err != nil {
		return nil, err
	}
	_, writeNr, err := number(tab, sysno.Write)
	if err != nil {
		return nil, err
	}
	_, closeNr, err := number(tab, sysno.Close)
	if err != nil {
		return nil, err
	}

	// x19 fd, x20 next byte to write, x21 bytes left in the chunk
	a := NewAssembler()
	if open == sysno.Open {
		a.ADR(0, "path")
		a.Emit(MOVZ(1, 0), MOVZ(2, 0))
	} else {
		a.Emit(MOVN(0, 99)) // AT_FDCWD
		a.ADR(1, "path")
		a.Emit(MOVZ(2, 0), MOVZ(3, 0))
	}
	svc(a, openNr)
	a.Emit(CMP(0, 0))
	a.BCond(LT, "fail")
	a.Emit(MOV(19, 0))

	a.Label("loop")
	a.Emit(MOV(0, 19))
	a.ADR(1, "buf")
	a.Emit(MOVZ(2, bufSize))
	svc(a, readNr)
	a.Emit(CMP(0, 0))
	a.BCond(LT, "fail")
	a.BCond(EQ, "done")
	a.ADR(20, "buf")
	a.Emit(MOV(21, 0))
	writeAll(a, writeNr, "fail")
	a.B("loop")

	a.Label("done")
	a.Emit(MOV(0, 19))
	svc(a, closeNr)
	if err := exit(a, tab, 0); err != nil {
		return nil, err
	}

	a.Label("fail")
	if err := exit(a, tab, 1); err != nil {
		return nil, err
	}

	a.Data("path", append([]byte(path), 0))
	a.Reserve("buf", bufSize)
	return a.Assemble()
}
