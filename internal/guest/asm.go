package guest

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/arch/arm64/arm64asm"
)

// XZR is the zero register in register-operand positions.
const XZR = 31

// Cond is an AArch64 condition code for B.cond.
type Cond uint32

const (
	EQ Cond = 0x0
	NE Cond = 0x1
	GE Cond = 0xa
	LT Cond = 0xb
	GT Cond = 0xc
	LE Cond = 0xd
)

// MOVZ Xd, #imm
func MOVZ(rd int, imm uint16) uint32 {
	return 0xd2800000 | uint32(imm)<<5 | uint32(rd)
}

// MOVN Xd, #imm, which loads ^imm.
func MOVN(rd int, imm uint16) uint32 {
	return 0x92800000 | uint32(imm)<<5 | uint32(rd)
}

// MOV Xd, Xm, encoded as ORR Xd, XZR, Xm.
func MOV(rd, rm int) uint32 {
	return 0xaa0003e0 | uint32(rm)<<16 | uint32(rd)
}

// ADD Xd, Xn, Xm
func ADD(rd, rn, rm int) uint32 {
	return 0x8b000000 | uint32(rm)<<16 | uint32(rn)<<5 | uint32(rd)
}

// SUB Xd, Xn, Xm
func SUB(rd, rn, rm int) uint32 {
	return 0xcb000000 | uint32(rm)<<16 | uint32(rn)<<5 | uint32(rd)
}

// CMP Xn, #imm12, encoded as SUBS XZR, Xn, #imm12.
func CMP(rn int, imm uint16) uint32 {
	return 0xf100001f | uint32(imm&0xfff)<<10 | uint32(rn)<<5
}

// ADR Xd, .+off
func ADR(rd int, off int32) uint32 {
	u := uint32(off)
	return 0x10000000 | (u&3)<<29 | (u>>2&0x7ffff)<<5 | uint32(rd)
}

// B .+off
func B(off int32) uint32 {
	return 0x14000000 | uint32(off)>>2&0x3ffffff
}

// BCond B.cond .+off
func BCond(c Cond, off int32) uint32 {
	return 0x54000000 | (uint32(off)>>2&0x7ffff)<<5 | uint32(c)
}

// SVC #imm
func SVC(imm uint16) uint32 {
	return 0xd4000001 | uint32(imm)<<5
}

// IsSVC reports whether insn is an svc and returns its immediate.
func IsSVC(insn uint32) (uint16, bool) {
	if insn&0xffe0001f != 0xd4000001 {
		return 0, false
	}
	return uint16(insn >> 5), true
}

// Disasm decodes one little-endian instruction word in GNU syntax.
func Disasm(insn uint32) string {
	var code [4]byte
	binary.LittleEndian.PutUint32(code[:], insn)
	inst, err := arm64asm.Decode(code[:])
	if err != nil {
		return fmt.Sprintf(".word 0x%08x", insn)
	}
	return arm64asm.GNUSyntax(inst)
}

type fixupKind uint8

const (
	fixADR fixupKind = iota
	fixB
	fixBCond
)

type fixup struct {
	at    int // instruction index
	kind  fixupKind
	rd    int
	cond  Cond
	label string
}

// Assembler lays out a flat image: instructions, then data, then zeroed space.
// Labels may be referenced before they are defined.
type Assembler struct {
	words   []uint32
	labels  map[string]int // byte offsets into code
	dataLbl map[string]int // byte offsets into data
	bssLbl  map[string]int // byte offsets into the zeroed tail
	data    []byte
	bss     int
	fixups  []fixup
}

// NewAssembler returns an empty assembler.
func NewAssembler() *Assembler {
	return &Assembler{
		labels:  make(map[string]int),
		dataLbl: make(map[string]int),
		bssLbl:  make(map[string]int),
	}
}

// Emit appends raw instruction words.
func (a *Assembler) Emit(insns ...uint32) {
	a.words = append(a.words, insns...)
}

// Label defines name at the next instruction.
func (a *Assembler) Label(name string) {
	a.labels[name] = len(a.words) * 4
}

// Data places b after the code and names it.
func (a *Assembler) Data(name string, b []byte) {
	a.dataLbl[name] = len(a.data)
	a.data = append(a.data, b...)
}

// Reserve names n zero bytes after the data, 16-byte aligned.
func (a *Assembler) Reserve(name string, n int) {
	a.bss = (a.bss + 15) &^ 15
	a.bssLbl[name] = a.bss
	a.bss += n
}

// ADR loads the address of label into rd.
func (a *Assembler) ADR(rd int, label string) {
	a.fixups = append(a.fixups, fixup{at: len(a.words), kind: fixADR, rd: rd, label: label})
	a.words = append(a.words, 0)
}

// B branches to label.
func (a *Assembler) B(label string) {
	a.fixups = append(a.fixups, fixup{at: len(a.words), kind: fixB, label: label})
	a.words = append(a.words, 0)
}

// BCond branches to label when c holds.
func (a *Assembler) BCond(c Cond, label string) {
	a.fixups = append(a.fixups, fixup{at: len(a.words), kind: fixBCond, cond: c, label: label})
	a.words = append(a.words, 0)
}

func (a *Assembler) dataStart() int {
	return (len(a.words)*4 + 7) &^ 7
}

func (a *Assembler) bssStart() int {
	return (a.dataStart() + len(a.data) + 15) &^ 15
}

func (a *Assembler) resolve(label string) (int, error) {
	if off, ok := a.labels[label]; ok {
		return off, nil
	}
	if off, ok := a.dataLbl[label]; ok {
		return a.dataStart() + off, nil
	}
	if off, ok := a.bssLbl[label]; ok {
		return a.bssStart() + off, nil
	}
	return 0, fmt.Errorf("undefined label %q", label)
}

// Assemble resolves every label and returns the image and how many zero bytes must
// follow it in memory.
func (a *Assembler) Assemble() (*Program, error) {
	words := append([]uint32(nil), a.words...)
	for _, f := range a.fixups {
		target, err := a.resolve(f.label)
		if err != nil {
			return nil, err
		}
		off := int32(target - f.at*4)
		switch f.kind {
		case fixADR:
			if off < -1<<20 || off >= 1<<20 {
				return nil, fmt.Errorf("adr to %q out of range", f.label)
			}
			words[f.at] = ADR(f.rd, off)
		case fixB:
			if off&3 != 0 {
				return nil, fmt.Errorf("branch to unaligned %q", f.label)
			}
			words[f.at] = B(off)
		case fixBCond:
			if off&3 != 0 || off < -1<<20 || off >= 1<<20 {
				return nil, fmt.Errorf("conditional branch to %q out of range", f.label)
			}
			words[f.at] = BCond(f.cond, off)
		}
	}

	image := make([]byte, a.dataStart()+len(a.data))
	for i, w := range words {
		binary.LittleEndian.PutUint32(image[i*4:], w)
	}
	copy(image[a.dataStart():], a.data)

	bss := 0
	if a.bss > 0 {
		bss = a.bssStart() + a.bss - len(image)
	}
	return &Program{Code: image, BSS: uint64(bss)}, nil
}
