package pipe

import (
	"testing"

	"mem"
	"vm"
)

// TestMain brings up just enough of the PMM for circbuf's lazy
// Cb_ensure to have real frames to hand out: one usable range starting
// at frame 0, the shape kernel.New builds for a zero-value Config_t, but
// with 1024 pages instead of kernel.New's default count.
func TestMain(m *testing.M) {
	mem.Phys_init([]mem.MemRange{{Start: 0, Npages: 1024, Usable: true}})
	m.Run()
}

func TestPipeBasicReadWrite(t *testing.T) {
	p, errt := New(mem.Physmem)
	if errt != 0 {
		t.Fatalf("New: %v", errt)
	}
	defer p.Release()

	var fb vm.Fakeubuf_t
	fb.Fake_init([]byte("hello"))
	n, errt := p.Write(&fb, nil)
	if errt != 0 || n != 5 {
		t.Fatalf("Write: n=%d err=%v", n, errt)
	}

	dst := make([]byte, 16)
	var rb vm.Fakeubuf_t
	rb.Fake_init(dst)
	n, errt = p.Read(&rb, nil)
	if errt != 0 || n != 5 {
		t.Fatalf("Read: n=%d err=%v", n, errt)
	}
	if string(dst[:n]) != "hello" {
		t.Fatalf("Read: got %q", dst[:n])
	}
}

// TestPipeEOFAfterWriterClose is spec.md §8 scenario 1: a reader drains
// whatever was buffered, then observes EOF (0 bytes, no error) once every
// writer has closed, rather than blocking forever.
func TestPipeEOFAfterWriterClose(t *testing.T) {
	p, errt := New(mem.Physmem)
	if errt != 0 {
		t.Fatalf("New: %v", errt)
	}
	defer p.Release()

	var fb vm.Fakeubuf_t
	fb.Fake_init([]byte("abc"))
	if _, errt := p.Write(&fb, nil); errt != 0 {
		t.Fatalf("Write: %v", errt)
	}
	p.CloseWriter()

	dst := make([]byte, 16)
	var rb vm.Fakeubuf_t
	rb.Fake_init(dst)
	n, errt := p.Read(&rb, nil)
	if errt != 0 || n != 3 {
		t.Fatalf("Read (drain): n=%d err=%v", n, errt)
	}

	var rb2 vm.Fakeubuf_t
	rb2.Fake_init(dst)
	n, errt = p.Read(&rb2, nil)
	if errt != 0 || n != 0 {
		t.Fatalf("Read (EOF): want n=0 err=0, got n=%d err=%v", n, errt)
	}
}

// TestPipeEPIPEAfterReaderClose: once every reader has closed, Write
// returns -EPIPE instead of blocking on a full buffer nobody will ever
// drain again.
func TestPipeEPIPEAfterReaderClose(t *testing.T) {
	p, errt := New(mem.Physmem)
	if errt != 0 {
		t.Fatalf("New: %v", errt)
	}
	defer p.Release()

	p.CloseReader()

	var fb vm.Fakeubuf_t
	fb.Fake_init([]byte("x"))
	n, errt := p.Write(&fb, nil)
	if errt == 0 {
		t.Fatalf("Write after reader close: want -EPIPE, got n=%d err=0", n)
	}
}

func TestPipeTryReadTryWrite(t *testing.T) {
	p, errt := New(mem.Physmem)
	if errt != 0 {
		t.Fatalf("New: %v", errt)
	}
	defer p.Release()

	dst := make([]byte, 16)
	var rb vm.Fakeubuf_t
	rb.Fake_init(dst)
	n, errt := p.TryRead(&rb)
	if errt != 0 || n != 0 {
		t.Fatalf("TryRead on empty: n=%d err=%v", n, errt)
	}

	var wb vm.Fakeubuf_t
	wb.Fake_init([]byte("ok"))
	n, errt = p.TryWrite(&wb)
	if errt != 0 || n != 2 {
		t.Fatalf("TryWrite: n=%d err=%v", n, errt)
	}

	var rb2 vm.Fakeubuf_t
	rb2.Fake_init(dst)
	n, errt = p.TryRead(&rb2)
	if errt != 0 || n != 2 || string(dst[:n]) != "ok" {
		t.Fatalf("TryRead: n=%d err=%v data=%q", n, errt, dst[:n])
	}
}

// TestPipeCapClamped documents the ring-size divergence circbuf.Cb_init
// enforces: New asks for the spec-literal 32 KiB, and on this hosted
// kernel's one-physical-page backing it always comes back clamped.
func TestPipeCapClamped(t *testing.T) {
	p, errt := New(mem.Physmem)
	if errt != 0 {
		t.Fatalf("New: %v", errt)
	}
	defer p.Release()

	if !p.capClamped {
		t.Fatalf("expected capClamped, pipeWant=%d exceeds a single physical page", pipeWant)
	}
	if got := p.Cap(); got != mem.PGSIZE {
		t.Fatalf("Cap() = %d, want %d", got, mem.PGSIZE)
	}
}
