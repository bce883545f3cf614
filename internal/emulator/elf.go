package emulator

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"os"
)

// R_AARCH64_RELATIVE is the only relocation a static-pie executable carries.
const R_AARCH64_RELATIVE = 1027

// LoadELFBase is where a position-independent executable is placed.
const LoadELFBase = 0x40000000 // 1GB

// ELFInfo contains parsed ELF metadata
type ELFInfo struct {
	Path     string
	Entry    uint64
	Symbols  map[string]uint64 // symbol name -> virtual address
	Segments []Segment
	BaseAddr uint64 // Load base address
	EndAddr  uint64 // End of loaded memory
}

// Segment represents a loadable ELF segment
type Segment struct {
	VAddr uint64
	Size  uint64 // File size
	MemSz uint64 // Memory size (may be larger due to .bss)
	Flags elf.ProgFlag
}

// LoadELF maps a static AArch64 executable and returns where its entry point is.
// Dynamically linked files are rejected: there is no loader to hand them to.
func (e *Emulator) LoadELF(path string) (*ELFInfo, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open ELF: %w", err)
	}
	defer f.Close()

	if f.Machine != elf.EM_AARCH64 {
		return nil, fmt.Errorf("expected AArch64 (EM_AARCH64), got %v", f.Machine)
	}
	if f.Type != elf.ET_EXEC && f.Type != elf.ET_DYN {
		return nil, fmt.Errorf("expected an executable, got %v", f.Type)
	}
	for _, prog := range f.Progs {
		if prog.Type == elf.PT_INTERP {
			return nil, fmt.Errorf("%s is dynamically linked", path)
		}
	}

	// Find file base address (lowest PT_LOAD vaddr)
	fileBase := ^uint64(0)
	fileEnd := uint64(0)
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		fileBase = min(fileBase, prog.Vaddr)
		fileEnd = max(fileEnd, prog.Vaddr+prog.Memsz)
	}
	if fileBase == ^uint64(0) {
		return nil, fmt.Errorf("no PT_LOAD segments found")
	}

	// Position-independent executables link at 0 and are moved up
	var relocOffset uint64
	if f.Type == elf.ET_DYN && fileBase < 0x10000 {
		relocOffset = LoadELFBase - fileBase
	}

	info := &ELFInfo{
		Path:     path,
		Entry:    f.Entry + relocOffset,
		Symbols:  make(map[string]uint64),
		BaseAddr: fileBase + relocOffset,
		EndAddr:  fileEnd + relocOffset,
	}

	if syms, err := f.Symbols(); err == nil {
		for _, sym := range syms {
			if sym.Value != 0 && sym.Name != "" && elf.ST_TYPE(sym.Info) == elf.STT_FUNC {
				info.Symbols[sym.Name] = sym.Value + relocOffset
			}
		}
	}

	fileData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		loadVAddr := prog.Vaddr + relocOffset
		info.Segments = append(info.Segments, Segment{
			VAddr: loadVAddr,
			Size:  prog.Filesz,
			MemSz: prog.Memsz,
			Flags: prog.Flags,
		})

		alignedAddr := loadVAddr &^ (PageSize - 1)
		alignedEnd := (loadVAddr + prog.Memsz + PageSize - 1) &^ (PageSize - 1)
		if err := e.mapRange(alignedAddr, alignedEnd); err != nil {
			return nil, err
		}

		if prog.Filesz > 0 {
			if prog.Off+prog.Filesz > uint64(len(fileData)) {
				return nil, fmt.Errorf("segment at 0x%x runs past end of file", loadVAddr)
			}
			if err := e.MemWrite(loadVAddr, fileData[prog.Off:prog.Off+prog.Filesz]); err != nil {
				return nil, fmt.Errorf("write segment at 0x%x: %w", loadVAddr, err)
			}
		}

		// Zero out .bss portion (memory size > file size)
		if prog.Memsz > prog.Filesz {
			zeros := make([]byte, prog.Memsz-prog.Filesz)
			if err := e.MemWrite(loadVAddr+prog.Filesz, zeros); err != nil {
				return nil, fmt.Errorf("zero bss at 0x%x: %w", loadVAddr+prog.Filesz, err)
			}
		}
	}

	if relocOffset != 0 {
		if err := e.applyRelative(f, relocOffset); err != nil {
			return nil, fmt.Errorf("apply relocations: %w", err)
		}
	}

	return info, nil
}

// mapRange maps [start, end). Pages that are already mapped, such as the code
// region, are left as they are.
func (e *Emulator) mapRange(start, end uint64) error {
	if e.MapRegion(start, end-start) == nil {
		return nil
	}
	for page := start; page < end; page += PageSize {
		if _, err := e.MemRead(page, 1); err == nil {
			continue
		}
		if err := e.MapRegion(page, PageSize); err != nil {
			return fmt.Errorf("map page 0x%x: %w", page, err)
		}
	}
	return nil
}

// applyRelative processes R_AARCH64_RELATIVE entries: *target = base + addend.
func (e *Emulator) applyRelative(f *elf.File, relocOffset uint64) error {
	for _, sec := range f.Sections {
		if sec.Type != elf.SHT_RELA {
			continue
		}
		data, err := sec.Data()
		if err != nil {
			return fmt.Errorf("read %s: %w", sec.Name, err)
		}

		// Each RELA entry is 24 bytes: r_offset (8), r_info (8), r_addend (8)
		for i := 0; i+24 <= len(data); i += 24 {
			rOffset := binary.LittleEndian.Uint64(data[i:])
			rInfo := binary.LittleEndian.Uint64(data[i+8:])
			rAddend := binary.LittleEndian.Uint64(data[i+16:])
			if uint32(rInfo) != R_AARCH64_RELATIVE {
				continue
			}
			if err := e.MemWriteU64(rOffset+relocOffset, relocOffset+rAddend); err != nil {
				return fmt.Errorf("relocate 0x%x: %w", rOffset+relocOffset, err)
			}
		}
	}
	return nil
}

// InitProcessStack lays out the start-of-process stack the Linux ABI promises:
// argc, an empty argv, an empty envp and a terminating AT_NULL auxv entry.
// Nothing else is initialized.
func (e *Emulator) InitProcessStack() error {
	sp := StackTop() - 64
	if err := e.MemWrite(sp, make([]byte, 64)); err != nil {
		return fmt.Errorf("init process stack: %w", err)
	}
	return e.SetSP(sp)
}

// StaticELFBase is where BuildStaticELF links its single segment.
const StaticELFBase = 0x400000

// BuildStaticELF wraps code in a minimal static AArch64 executable: one PT_LOAD
// segment holding the headers followed by code, with the entry point at the first
// byte of code. bss extra zero bytes follow the file image in memory. The segment is
// R+X, and also W when there is bss, since the bss shares its last page.
func BuildStaticELF(code []byte, bss uint64) []byte {
	const hdrSize = 64 + 56
	fileSize := uint64(hdrSize + len(code))

	hdr := elf.Header64{
		Type:      uint16(elf.ET_EXEC),
		Machine:   uint16(elf.EM_AARCH64),
		Version:   uint32(elf.EV_CURRENT),
		Entry:     StaticELFBase + hdrSize,
		Phoff:     64,
		Ehsize:    64,
		Phentsize: 56,
		Phnum:     1,
	}
	copy(hdr.Ident[:], elf.ELFMAG)
	hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)

	flags := elf.PF_R | elf.PF_X
	if bss > 0 {
		flags |= elf.PF_W
	}
	prog := elf.Prog64{
		Type:   uint32(elf.PT_LOAD),
		Flags:  uint32(flags),
		Vaddr:  StaticELFBase,
		Paddr:  StaticELFBase,
		Filesz: fileSize,
		Memsz:  fileSize + bss,
		Align:  PageSize,
	}

	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, &hdr)
	binary.Write(&buf, binary.LittleEndian, &prog)
	buf.Write(code)
	return buf.Bytes()
}

// Labels maps each symbol address to one name for it, the shortest when several
// symbols share an address.
func (info *ELFInfo) Labels() map[uint64]string {
	labels := make(map[uint64]string, len(info.Symbols))
	for name, addr := range info.Symbols {
		if existing, ok := labels[addr]; !ok || len(name) < len(existing) || (len(name) == len(existing) && name < existing) {
			labels[addr] = name
		}
	}
	return labels
}

// IsExecutable returns true if the segment is executable
func (s *Segment) IsExecutable() bool {
	return s.Flags&elf.PF_X != 0
}

// IsWritable returns true if the segment is writable
func (s *Segment) IsWritable() bool {
	return s.Flags&elf.PF_W != 0
}
