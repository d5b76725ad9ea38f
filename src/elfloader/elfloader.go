// Package elfloader is spawn_elf's validator/mmap-installer half (spec.md
// §4.6, §4.16): it opens the executable's VFS node, strictly validates the
// ELF32/i386 header and program headers, and registers every PT_LOAD
// segment as a MAP_PRIVATE file-backed region. It never reads segment
// content itself — vm.Vm_t's page-fault path (Vminfo_t.Filepage) does that
// lazily on first touch, the same way every other file-backed mapping in
// this kernel is demand-paged.
package elfloader

import (
	"debug/elf"
	"fmt"
	"io"

	"defs"
	"mem"
	"proc"
	"vfs"
)

// Address-space bounds every PT_LOAD must fall within (spec.md §4.6); the
// stack occupies the 4 MiB immediately above highAddr.
const (
	lowAddr   = 0x08000000
	highAddr  = 0xB0000000
	stackSize = 4 << 20
	maxPhnum  = 64
)

// Loaded is what spawn_elf needs to seed the new task's IRET frame and
// initial user stack once Load has installed every region.
type Loaded struct {
	Entry      uintptr
	StackTop   uintptr
	StackBot   uintptr
	BreakStart uintptr // page-aligned end of the highest PT_LOAD, sbrk's starting point
}

// Load validates path as an ELF32 LSB EXEC i386 binary and installs its
// PT_LOAD segments plus a 4 MiB stack region into t's address space. The
// caller must have already cloned the kernel directory into t.Mem (spec.md
// §4.6's "clone the kernel directory... zero the user PDE range") before
// calling Load, since Load only ever adds Vmregion_t entries.
func Load(t *proc.Task_t, path string) (Loaded, defs.Err_t) {
	f, err := vfs.Open(path, defs.O_RDONLY)
	if err != 0 {
		return Loaded{}, err
	}

	ef, e := elf.NewFile(&readerAt{f})
	if e != nil {
		f.Close()
		return Loaded{}, -defs.EINVAL
	}
	if ef.Class != elf.ELFCLASS32 || ef.Data != elf.ELFDATA2LSB ||
		ef.Type != elf.ET_EXEC || ef.Machine != elf.EM_386 {
		f.Close()
		return Loaded{}, -defs.EINVAL
	}

	var loads []*elf.Prog
	for _, ph := range ef.Progs {
		if ph.Type == elf.PT_LOAD {
			loads = append(loads, ph)
		}
	}
	if len(ef.Progs) > maxPhnum || len(loads) == 0 {
		f.Close()
		return Loaded{}, -defs.EINVAL
	}

	entry := uintptr(ef.Entry)
	entryOk := false
	var maxEnd uintptr
	for _, ph := range loads {
		vaddr := uintptr(ph.Vaddr)
		memsz := uintptr(ph.Memsz)
		if uintptr(ph.Filesz) > memsz {
			f.Close()
			return Loaded{}, -defs.EINVAL
		}
		if vaddr < lowAddr || vaddr+memsz > highAddr || vaddr+memsz < vaddr {
			f.Close()
			return Loaded{}, -defs.EINVAL
		}
		if entry >= vaddr && entry < vaddr+memsz {
			entryOk = true
		}
		if end := vaddr + memsz; end > maxEnd {
			maxEnd = end
		}
	}
	if !entryOk {
		f.Close()
		return Loaded{}, -defs.EINVAL
	}

	for i, ph := range loads {
		if i > 0 {
			// every extra PT_LOAD mapping shares the same open exec node;
			// Reopen bumps its refcount so the node outlives every mapping
			// that retains fops, matching spec.md's "refcounted" exec node.
			f.Reopen()
		}
		var perms mem.Pa_t = mem.PTE_U
		if ph.Flags&elf.PF_W != 0 {
			perms |= mem.PTE_W
		}
		vaddr := uintptr(ph.Vaddr)
		pageStart := vaddr &^ uintptr(mem.PGOFFSET)
		skew := int(vaddr - pageStart)
		foff := int(ph.Off) - skew
		span := skew + int(ph.Memsz)
		pages := (span + mem.PGSIZE - 1) / mem.PGSIZE
		t.Mem.Vm.Vmadd_file(int(pageStart), pages*mem.PGSIZE, perms, f, foff)
	}

	// The stack occupies [highAddr, highAddr+stackSize) — SPEC_FULL.md's
	// address layout puts its top at 0xB0400000, immediately above the
	// PT_LOAD ceiling and below the framebuffer mapping at 0xB1000000.
	stackBot := uintptr(highAddr)
	stackTop := stackBot + stackSize
	t.Mem.Vm.Vmadd_anon(int(stackBot), stackSize, mem.PTE_U|mem.PTE_W)

	breakStart := (maxEnd + uintptr(mem.PGOFFSET)) &^ uintptr(mem.PGOFFSET)
	t.Mem.HeapStart = breakStart
	t.Mem.ProgBreak = breakStart

	return Loaded{Entry: entry, StackTop: stackTop, StackBot: stackBot, BreakStart: breakStart}, 0
}

// readerAt adapts vfs.OpenFile_t's Pread to debug/elf's io.ReaderAt
// requirement, translating defs.Err_t into an error elf.NewFile
// understands. Header and phdr reads go through this; PT_LOAD content
// never does (see package doc).
type readerAt struct {
	f *vfs.OpenFile_t
}

func (r *readerAt) ReadAt(p []byte, off int64) (int, error) {
	n, err := r.f.Pread(p, int(off))
	if err != 0 {
		return n, fmt.Errorf("elfloader: pread at %d: errno %d", off, err)
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}
