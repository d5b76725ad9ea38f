// Package kernel is bring-up: the sequence spec.md §3/§4.1 describes as
// "the bootloader hands control to the kernel" collapsed to the Go calls
// that put every subsystem package into the state it assumes its callers
// already established (mem's frame bitmap built, devfs populated, the
// framebuffer geometry recorded, the simulated CPU set sized, #PF's
// SIGSEGV path wired to signal). It owns none of the subsystems
// themselves, the same way a real kernel's start_kernel is glue, not a
// subsystem of its own.
package kernel

import (
	"context"
	"time"

	"console"
	"defs"
	"fault"
	"fb"
	"fd"
	"mem"
	"proc"
	"sched"
	"signal"
	"smp"
	"vfs"
)

// Config_t is the boot-time configuration a real kernel would read off
// the multiboot info struct / ACPI tables (spec.md §3): the physical
// memory map, how many CPUs to simulate, and the framebuffer this
// nucleus was handed.
type Config_t struct {
	NCPU        int
	Memory      []mem.MemRange
	Framebuffer fb.Geometry
}

// Kernel_t is the live, booted system. Callers hold onto it only to reach
// Boot and Shutdown; every subsystem it wires is reached through its own
// package-level API afterward (proc.Tasks, smp.CPU, vfs.Open, ...), the
// same way spec.md's modules never reference "the kernel" as an object.
type Kernel_t struct {
	cfg Config_t
}

// New brings up every subsystem spec.md's boot sequence depends on and
// returns the live kernel. Called exactly once per process.
func New(cfg Config_t) *Kernel_t {
	if cfg.NCPU <= 0 {
		cfg.NCPU = 1
	}
	if len(cfg.Memory) == 0 {
		// A minimal usable range so a kernel brought up with a zero-value
		// Config_t (tests, smoke-checks) still gets a working allocator
		// instead of Phys_init's "empty memory map" panic.
		cfg.Memory = []mem.MemRange{{Start: 0, Npages: 16384, Usable: true}}
	}

	mem.Phys_init(cfg.Memory)

	console.Init()
	console.InitClipboard(mem.Physmem)

	fb.Init(cfg.Framebuffer)

	smp.Init(cfg.NCPU)

	// fault imports neither signal nor proc's siblings that import
	// signal, to avoid a cycle; kernel is where the two halves meet, the
	// same indirection fault.go's own doc comment describes.
	fault.SegvHandler = func(t *proc.Task_t) {
		signal.Send(t, defs.SIGSEGV)
	}

	return &Kernel_t{cfg: cfg}
}

// defaultStdio opens /dev/kbd and /dev/console the way proc_spawn_elf's
// "no parent: default FD set is kbd/console/console" case does (spec.md
// §4.6), and returns the three descriptors ready to install at fds 0-2.
func defaultStdio() (stdin, stdout, stderr *fd.Fd_t, err defs.Err_t) {
	kbd, err := vfs.Open("/dev/kbd", defs.O_RDONLY)
	if err != 0 {
		return nil, nil, nil, err
	}
	out, err := vfs.Open("/dev/console", defs.O_WRONLY)
	if err != 0 {
		return nil, nil, nil, err
	}
	errFd := &fd.Fd_t{Fops: out, Perms: fd.FD_WRITE}
	if rerr := errFd.Fops.Reopen(); rerr != 0 {
		return nil, nil, nil, rerr
	}
	return &fd.Fd_t{Fops: kbd, Perms: fd.FD_READ},
		&fd.Fd_t{Fops: out, Perms: fd.FD_WRITE},
		errFd, 0
}

// Boot creates pid 1 (spec.md §4.6's init) running entry with the default
// stdio set and a / working directory, and spawns it onto a CPU. This
// hosted kernel has no on-disk init binary to elf-load without a vfs.FS
// backend wired (see DESIGN.md's sysent ledger entry on the ufs/Backend_i
// gap), so entry stands in for the instruction stream a real kernel would
// fault in from disk: it is run exactly the way every other task's
// trampoline goroutine is (proc.Task_t.Start): when entry returns, Start
// makes pid 1 a zombie with exit status 0; an embedder that wants another
// status calls t.Kill itself before returning.
func (k *Kernel_t) Boot(entry func(arg any), arg any) (*proc.Task_t, defs.Err_t) {
	stdin, stdout, stderr, err := defaultStdio()
	if err != 0 {
		return nil, err
	}
	fds := proc.MkFdTable()
	if err := fds.AddAt(stdin, 0); err != 0 {
		return nil, err
	}
	if err := fds.AddAt(stdout, 1); err != 0 {
		return nil, err
	}
	if err := fds.AddAt(stderr, 2); err != 0 {
		return nil, err
	}

	// No vfs.FS means there is no root inode to open an Fd_t onto yet;
	// Cwd_t.Path alone is enough for Fullpath/Canonicalpath to resolve
	// absolute paths, which is all devfs-only boot needs.
	cwd := fd.MkRootCwd(nil)

	t := proc.CreateUserTask("init", cwd, fds, nil, entry, arg)
	smp.Spawn(t, time.Now().UnixMilli())
	return t, 0
}

// BootKthread is Boot's kernel-thread counterpart (spec.md §4.6's
// thread_create-only tasks: no address space, no fd table, no cwd) for
// bring-up code that wants a background worker rather than a full
// process — the reaper/watchdog shape sched's own tests exercise.
func (k *Kernel_t) BootKthread(name string, prio sched.Prio, entry func(arg any), arg any) *proc.Task_t {
	t := proc.CreateKthread(name, prio, entry, arg)
	smp.Spawn(t, time.Now().UnixMilli())
	return t
}

// Shutdown halts every simulated CPU (spec.md §4.8's AP teardown mirror).
func (k *Kernel_t) Shutdown() error {
	console.Shutdown()
	return smp.HaltAll(context.Background())
}
