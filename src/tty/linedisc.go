// Package tty implements the PTY pair of spec.md §4.11: two unidirectional
// ring buffers (master-to-slave, slave-to-master) with the same blocking/
// non-blocking semantics as pipe.Pipe_t, bridged by a line discipline that
// applies input/output-mode transforms, canonical-mode line accumulation,
// echo, and VINTR/VQUIT/VSUSP signal delivery to the foreground process
// group.
package tty

import (
	"sync"

	"defs"
)

// NCCS is the number of special control characters a Termios_t holds.
const NCCS = 8

// Control-character indices into Termios_t.Cc.
const (
	VINTR = iota
	VQUIT
	VSUSP
)

// Input-mode flags (Termios_t.Iflag).
const (
	ICRNL uint32 = 1 << iota // translate CR to NL on input
)

// Output-mode flags (Termios_t.Oflag).
const (
	ONLCR uint32 = 1 << iota // translate NL to CR-NL on output
)

// Local-mode flags (Termios_t.Lflag).
const (
	ISIG   uint32 = 1 << iota // enable VINTR/VQUIT/VSUSP signal generation
	ICANON                    // canonical (line-buffered) input
	ECHO                      // echo input back to the master
)

// Termios_t is the subset of POSIX termios spec.md's TCGETS/TCSETS copy.
type Termios_t struct {
	Iflag uint32
	Oflag uint32
	Lflag uint32
	Cc    [NCCS]byte
}

// DefaultTermios returns the settings a freshly allocated PTY starts with:
// canonical mode, echo, signal generation, CR/NL translation both ways,
// and the conventional ^C/^\/^Z control characters.
func DefaultTermios() Termios_t {
	var t Termios_t
	t.Iflag = ICRNL
	t.Oflag = ONLCR
	t.Lflag = ISIG | ICANON | ECHO
	t.Cc[VINTR] = 3  // ^C
	t.Cc[VQUIT] = 28 // ^\
	t.Cc[VSUSP] = 26 // ^Z
	return t
}

// Winsize_t is the window size TIOCGWINSZ/TIOCSWINSZ copy.
type Winsize_t struct {
	Row uint16
	Col uint16
}

// lineDiscipline sits between the master and slave buffers, kept behind
// the narrow operation set the REDESIGN FLAGS note calls for — create,
// set_termios, receive, write_transform — plus two callbacks (emit echo,
// emit signal) instead of reaching into Tty_t's fields directly.
type lineDiscipline struct {
	mu         sync.Mutex
	termios    Termios_t
	winsize    Winsize_t
	line       []byte
	emitEcho   func([]byte)
	emitSignal func(signo uint)
}

func newLineDiscipline(emitEcho func([]byte), emitSignal func(signo uint)) *lineDiscipline {
	return &lineDiscipline{termios: DefaultTermios(), emitEcho: emitEcho, emitSignal: emitSignal}
}

func (ld *lineDiscipline) setTermios(t Termios_t) {
	ld.mu.Lock()
	ld.termios = t
	ld.mu.Unlock()
}

func (ld *lineDiscipline) getTermios() Termios_t {
	ld.mu.Lock()
	defer ld.mu.Unlock()
	return ld.termios
}

func (ld *lineDiscipline) setWinsize(w Winsize_t) {
	ld.mu.Lock()
	ld.winsize = w
	ld.mu.Unlock()
}

func (ld *lineDiscipline) getWinsize() Winsize_t {
	ld.mu.Lock()
	defer ld.mu.Unlock()
	return ld.winsize
}

// receive applies input-mode transforms, canonical-mode accumulation,
// echo, and signal-character interception to data arriving from the
// master, returning the bytes ready to be pushed into the slave's read
// buffer (spec.md §4.11 "on master-write it applies input-mode
// transforms ... canonical-mode line accumulation, optional echo to
// master, and on key signals emits a signal to the foreground process
// group").
func (ld *lineDiscipline) receive(data []byte) []byte {
	ld.mu.Lock()
	defer ld.mu.Unlock()
	out := make([]byte, 0, len(data))
	for _, b := range data {
		if ld.termios.Lflag&ISIG != 0 {
			switch b {
			case ld.termios.Cc[VINTR]:
				if ld.emitSignal != nil {
					ld.emitSignal(defs.SIGINT)
				}
				continue
			case ld.termios.Cc[VQUIT]:
				if ld.emitSignal != nil {
					ld.emitSignal(defs.SIGQUIT)
				}
				continue
			case ld.termios.Cc[VSUSP]:
				if ld.emitSignal != nil {
					ld.emitSignal(defs.SIGSTOP)
				}
				continue
			}
		}
		if ld.termios.Iflag&ICRNL != 0 && b == '\r' {
			b = '\n'
		}
		if ld.termios.Lflag&ECHO != 0 && ld.emitEcho != nil {
			ld.emitEcho([]byte{b})
		}
		if ld.termios.Lflag&ICANON != 0 {
			ld.line = append(ld.line, b)
			if b == '\n' {
				out = append(out, ld.line...)
				ld.line = ld.line[:0]
			}
			continue
		}
		out = append(out, b)
	}
	return out
}

// writeTransform applies output-mode transforms to data arriving from the
// slave before it is pushed to the master (spec.md §4.11 "on slave-write
// it applies output-mode transforms (NL->CRNL if ONLCR) before pushing to
// master").
func (ld *lineDiscipline) writeTransform(data []byte) []byte {
	ld.mu.Lock()
	onlcr := ld.termios.Oflag&ONLCR != 0
	ld.mu.Unlock()
	if !onlcr {
		return data
	}
	out := make([]byte, 0, len(data))
	for _, b := range data {
		if b == '\n' {
			out = append(out, '\r', '\n')
		} else {
			out = append(out, b)
		}
	}
	return out
}
