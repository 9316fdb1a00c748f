// Package elfloader parses a 64-bit x86 ELF executable and maps its
// PT_LOAD segments into a fresh address space, the step between execve
// reading a file's bytes and the new process's first instruction. Header
// validation (magic, ELFCLASS64, ELFDATA2LSB, EM_X86_64, ET_EXEC) is done
// through the standard library's debug/elf decoder rather than a
// hand-rolled parser.
package elfloader

import (
	"bytes"
	"debug/elf"
	"fmt"
	"io"

	"github.com/sudo666/gokern/mem"
	"github.com/sudo666/gokern/vmm"
)

// Segment is one PT_LOAD program header reduced to what the mapper needs:
// its destination virtual range, the flags to build the VMA with, and the
// file-backed bytes to copy in (zero-padded out to MemSize for bss).
type Segment struct {
	Vaddr   mem.Va_t
	MemSize int
	Flags   vmm.Flag
	Data    []byte // FileSize bytes; caller zero-pads the remainder
}

// Image is a parsed, ready-to-map executable.
type Image struct {
	Entry    mem.Va_t
	Segments []Segment
}

// StripWritableExecOnly, when true, makes Load clear vmm.WRITE from any
// segment whose ELF flags carry PF_X but not PF_W. The check runs while
// parsing, before anything is mapped; since segFlags only sets WRITE for
// PF_W, such a segment never carries WRITE in the first place. MapInto
// copies file bytes through the pager's physical-frame access, so a
// segment's permissions do not affect loading. Segments that are
// writable in the ELF (data, bss) are never affected.
var StripWritableExecOnly = true

// Load parses raw as an ELF64 little-endian executable and returns its
// PT_LOAD segments as an Image. It rejects anything chkELF-equivalent
// would reject: bad magic, wrong class/endianness, non-EXEC type, or a
// non-x86-64 machine.
func Load(raw []byte) (*Image, error) {
	f, err := elf.NewFile(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("elfloader: %w", err)
	}

	if f.Data != elf.ELFDATA2LSB {
		return nil, fmt.Errorf("elfloader: not little-endian")
	}
	if f.Class != elf.ELFCLASS64 {
		return nil, fmt.Errorf("elfloader: not a 64-bit elf")
	}
	if f.Type != elf.ET_EXEC {
		return nil, fmt.Errorf("elfloader: not an executable elf")
	}
	if f.Machine != elf.EM_X86_64 {
		return nil, fmt.Errorf("elfloader: not x86-64")
	}

	img := &Image{Entry: mem.Va_t(f.Entry)}
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		flags := segFlags(p.Flags)
		data := make([]byte, p.Filesz)
		if p.Filesz > 0 {
			if _, err := io.ReadFull(p.Open(), data); err != nil {
				return nil, fmt.Errorf("elfloader: reading segment: %w", err)
			}
		}

		execOnly := p.Flags&elf.PF_X != 0 && p.Flags&elf.PF_W == 0
		if StripWritableExecOnly && execOnly {
			flags &^= vmm.WRITE
		}

		img.Segments = append(img.Segments, Segment{
			Vaddr:   mem.Va_t(p.Vaddr),
			MemSize: int(p.Memsz),
			Flags:   flags,
			Data:    data,
		})
	}
	return img, nil
}

func segFlags(f elf.ProgFlag) vmm.Flag {
	var out vmm.Flag
	if f&elf.PF_R != 0 {
		out |= vmm.READ
	}
	if f&elf.PF_W != 0 {
		out |= vmm.WRITE
	}
	if f&elf.PF_X != 0 {
		out |= vmm.EXEC
	}
	return out
}

// MapInto maps every segment of img into as: one eagerly-backed VMA per
// segment, file bytes copied in through the pager's frame accessors, with
// bss left zeroed by MMMapRange's freshly-allocated frames.
func MapInto(as *vmm.AddressSpace, pager interface {
	GetPTE(pml4 mem.Pa_t, va mem.Va_t) (*mem.Pa_t, bool)
	WriteFrame(pa mem.Pa_t, buf []byte)
}, img *Image) bool {
	for _, seg := range img.Segments {
		if !as.MMMapRange(seg.Vaddr, seg.MemSize, seg.Flags) {
			return false
		}
	}
	for _, seg := range img.Segments {
		if err := writeSegment(as, pager, seg); err != nil {
			return false
		}
	}
	return true
}

func writeSegment(as *vmm.AddressSpace, pager interface {
	GetPTE(pml4 mem.Pa_t, va mem.Va_t) (*mem.Pa_t, bool)
	WriteFrame(pa mem.Pa_t, buf []byte)
}, seg Segment) error {
	start := mem.Va_t(mem.Pgrounddown(int(seg.Vaddr)))
	for off := 0; off < len(seg.Data); {
		va := seg.Vaddr + mem.Va_t(off)
		pageVa := mem.Va_t(mem.Pgrounddown(int(va)))
		pte, ok := pager.GetPTE(as.PML4, pageVa)
		if !ok {
			return fmt.Errorf("elfloader: segment page not mapped at %#x", pageVa)
		}
		frame := mem.PteAddr(*pte)

		pageOff := int(va - pageVa)
		n := mem.PGSIZE - pageOff
		if n > len(seg.Data)-off {
			n = len(seg.Data) - off
		}

		buf := make([]byte, mem.PGSIZE)
		copy(buf[pageOff:pageOff+n], seg.Data[off:off+n])
		pager.WriteFrame(frame, buf)

		off += n
	}
	_ = start
	return nil
}
