// Package ptyengine spawns PTY-backed child processes and fans their
// output out to multiple subscribers (spec §4.3). It is built directly on
// github.com/creack/pty, the way the teacher's daemon spawns its agent
// processes, generalized from "one subscriber" (the single attached
// client) to "N subscribers" (one tap per attached peer).
package ptyengine

import (
	"errors"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"

	"github.com/ianremillard/splicer/internal/ferr"
)

const (
	// readChunk is the maximum number of bytes read from the master PTY
	// per iteration of the reader loop (spec §4.3).
	readChunk = 16 * 1024
	// inboundCap bounds the write pipeline (spec §5).
	inboundCap = 256
	// subscriberCap bounds each output tap (spec §4.3, §5).
	subscriberCap = 512
	// defaultTerm is exported into the child when Config.Term is empty.
	defaultTerm = "xterm-256color"
)

// Chunk is one immutable slice of PTY output. Callers must not mutate a
// Chunk after receiving it; Go slices don't enforce this at the type
// level the way Rust's Arc<[u8]> does, so it is a documented contract.
type Chunk []byte

// Program selects what the child process runs.
type Program struct {
	// Shell, when true, resolves $SHELL with /bin/sh as a fallback.
	Shell bool
	// Argv is used when Shell is false; Argv[0] is the program to exec and
	// must be non-empty.
	Argv []string
}

// Config holds the PTY size and the child's environment.
type Config struct {
	Cols uint16
	Rows uint16
	Cwd  string
	Env  []string // extra "KEY=VALUE" entries, appended to os.Environ()
	Term string   // defaults to defaultTerm
}

// Sig is a signal deliverable to the child (spec §4.3).
type Sig int

const (
	SigTerm Sig = iota
	SigKill
	SigInt
	SigHup
)

// ExitStatus is published on a Handle's ExitWatch exactly once, when the
// child has been reaped.
type ExitStatus struct {
	Code       uint32
	SignalName string
	Signaled   bool
}

// exitWatch is a hand-rolled single-slot "latest value, closed once"
// primitive (see DESIGN.md for why this isn't built on a library).
type exitWatch struct {
	mu     sync.Mutex
	status *ExitStatus
	done   chan struct{}
}

func newExitWatch() *exitWatch {
	return &exitWatch{done: make(chan struct{})}
}

// Get returns the latched status, if any has been published yet.
func (w *exitWatch) Get() (ExitStatus, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.status == nil {
		return ExitStatus{}, false
	}
	return *w.status, true
}

// Done returns a channel closed exactly once a status has been published.
func (w *exitWatch) Done() <-chan struct{} {
	return w.done
}

// publish sets the status on first call only; later calls are no-ops,
// preserving the "None -> Some(x), x never changes" invariant (spec §8).
func (w *exitWatch) publish(s ExitStatus) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.status != nil {
		return
	}
	w.status = &s
	close(w.done)
}

// Handle is a running (or recently-exited) PTY-backed child process.
type Handle struct {
	master *os.File
	cmd    *exec.Cmd

	inCh     chan []byte   // write pipeline, drained by the write-pump goroutine
	closedCh chan struct{} // closed by reap once the child is gone; inCh itself is never closed

	subsMu sync.Mutex
	subs   []chan Chunk

	exit *exitWatch
}

// Spawn starts a child process attached to a freshly opened PTY pair sized
// cfg.Cols x cfg.Rows, and launches its reader and writer-pump goroutines.
// The reader goroutine reaps the child once its read loop ends.
func Spawn(program Program, cfg Config) (*Handle, error) {
	argv, err := resolveArgv(program)
	if err != nil {
		return nil, err
	}

	//nolint:gosec // argv[0] is caller-controlled, same trust model as os/exec generally.
	cmd := exec.Command(argv[0], argv[1:]...)
	if cfg.Cwd != "" {
		cmd.Dir = cfg.Cwd
	}
	term := cfg.Term
	if term == "" {
		term = defaultTerm
	}
	cmd.Env = append(os.Environ(), "TERM="+term)
	cmd.Env = append(cmd.Env, cfg.Env...)

	master, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: cfg.Cols, Rows: cfg.Rows})
	if err != nil {
		return nil, ferr.Wrap(ferr.KindPty, "spawn failed", err)
	}

	h := &Handle{
		master:   master,
		cmd:      cmd,
		inCh:     make(chan []byte, inboundCap),
		closedCh: make(chan struct{}),
		exit:     newExitWatch(),
	}

	go h.writePump()
	go h.readLoop()

	return h, nil
}

func resolveArgv(program Program) ([]string, error) {
	if program.Shell {
		shell := os.Getenv("SHELL")
		if shell == "" {
			shell = "/bin/sh"
		}
		return []string{shell}, nil
	}
	if len(program.Argv) == 0 {
		return nil, ferr.New(ferr.KindUserInput, "argv must be non-empty")
	}
	return program.Argv, nil
}

// writePump drains inCh and performs each blocking write to the master on
// this dedicated goroutine, so no other goroutine ever blocks on PTY I/O
// (spec §4.3's "write-coalescing task"). It stops on closedCh rather than
// on inCh closing, since inCh is never closed (see Write).
func (h *Handle) writePump() {
	for {
		select {
		case buf := <-h.inCh:
			if _, err := h.master.Write(buf); err != nil {
				return
			}
		case <-h.closedCh:
			return
		}
	}
}

// Write queues bytes for the child's stdin. Writes are strictly ordered
// per pane because they pass through the single inCh channel. inCh is
// never closed: reap only closes closedCh, so a concurrent Write can
// never race a close on the channel it sends to (which would otherwise
// panic regardless of a recover placed around the send). Once closedCh
// has fired, Write instead reports a broken-pipe error (spec §4.3).
func (h *Handle) Write(b []byte) (int, error) {
	cp := make([]byte, len(b))
	copy(cp, b)
	select {
	case <-h.closedCh:
		return 0, ferr.New(ferr.KindPty, "broken pipe: pty closed")
	default:
	}
	select {
	case h.inCh <- cp:
		return len(b), nil
	case <-h.closedCh:
		return 0, ferr.New(ferr.KindPty, "broken pipe: pty closed")
	default:
	}
	// inCh was full and the pty wasn't yet closed: block on both, honoring
	// the "strictly ordered, always accepted" contract (spec §5) unless the
	// child exits while we wait.
	select {
	case h.inCh <- cp:
		return len(b), nil
	case <-h.closedCh:
		return 0, ferr.New(ferr.KindPty, "broken pipe: pty closed")
	}
}

// Resize forwards the new size to the master; the state layer is
// responsible for clamping (spec §4.3).
func (h *Handle) Resize(cols, rows uint16) error {
	if err := pty.Setsize(h.master, &pty.Winsize{Cols: cols, Rows: rows}); err != nil {
		return ferr.Wrap(ferr.KindPty, "resize failed", err)
	}
	return nil
}

// Signal delivers sig to the child (spec §4.3).
func (h *Handle) Signal(sig Sig) error {
	switch sig {
	case SigInt:
		select {
		case h.inCh <- []byte{0x03}:
		default:
		}
		return nil
	case SigHup:
		return nil // closing the PTY yields SIGHUP naturally on Unix
	case SigTerm, SigKill:
		pid := h.cmd.Process.Pid
		sysSig := unix.SIGTERM
		if sig == SigKill {
			sysSig = unix.SIGKILL
		}
		pgid, err := unix.Getpgid(pid)
		if err == nil && pgid > 0 {
			return wrapSignalErr(unix.Kill(-pgid, sysSig))
		}
		return wrapSignalErr(unix.Kill(pid, sysSig))
	}
	return nil
}

func wrapSignalErr(err error) error {
	if err == nil {
		return nil
	}
	return ferr.Wrap(ferr.KindPty, "signal failed", err)
}

// Subscribe returns a fresh, bounded channel that receives every
// subsequent output chunk until the subscriber is dropped (full queue) or
// the source terminates (channel closed).
func (h *Handle) Subscribe() <-chan Chunk {
	ch := make(chan Chunk, subscriberCap)
	h.subsMu.Lock()
	h.subs = append(h.subs, ch)
	h.subsMu.Unlock()
	return ch
}

// Unsubscribe removes a previously-subscribed channel, if still present,
// and closes it. Used when a peer detaches cleanly (not via the drop
// path, which closes it as part of the eviction itself).
func (h *Handle) Unsubscribe(ch <-chan Chunk) {
	h.subsMu.Lock()
	defer h.subsMu.Unlock()
	for i, s := range h.subs {
		if (<-chan Chunk)(s) == ch {
			h.subs = append(h.subs[:i], h.subs[i+1:]...)
			close(s)
			return
		}
	}
}

// ExitWatch exposes the handle's exit-status watch.
func (h *Handle) ExitWatch() (get func() (ExitStatus, bool), done <-chan struct{}) {
	return h.exit.Get, h.exit.Done()
}

// readLoop is the dedicated reader goroutine: blocking reads from the
// master, fanned out to every subscriber via a non-blocking send. A
// subscriber whose queue is full is dropped immediately (spec §4.3's
// backpressure policy: never block the source on a slow consumer).
func (h *Handle) readLoop() {
	buf := make([]byte, readChunk)
	for {
		n, err := h.master.Read(buf)
		if n > 0 {
			chunk := make(Chunk, n)
			copy(chunk, buf[:n])
			h.fanOut(chunk)
		}
		if err != nil {
			if errors.Is(err, syscall.EINTR) {
				continue
			}
			break
		}
	}
	h.reap()
}

func (h *Handle) fanOut(chunk Chunk) {
	h.subsMu.Lock()
	defer h.subsMu.Unlock()
	live := h.subs[:0]
	for _, s := range h.subs {
		select {
		case s <- chunk:
			live = append(live, s)
		default:
			close(s) // dropped: full queue, slow consumer (spec §4.3, §8)
		}
	}
	h.subs = live
}

// reap waits for the child, publishes its exit status, and closes every
// remaining subscriber so no tap blocks forever waiting on a dead source.
func (h *Handle) reap() {
	waitErr := h.cmd.Wait()
	status := ExitStatus{}
	if waitErr == nil {
		if ps := h.cmd.ProcessState; ps != nil {
			status.Code = uint32(ps.ExitCode())
		}
	} else {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok {
				if ws.Signaled() {
					status.Signaled = true
					status.SignalName = ws.Signal().String()
				} else {
					status.Code = uint32(ws.ExitStatus())
				}
			}
		}
	}
	h.master.Close()
	close(h.closedCh)
	h.exit.publish(status)

	h.subsMu.Lock()
	for _, s := range h.subs {
		close(s)
	}
	h.subs = nil
	h.subsMu.Unlock()
}
