package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/ianremillard/splicer/internal/ids"
	"github.com/ianremillard/splicer/internal/proto"
	"github.com/ianremillard/splicer/internal/wire"
)

// detachByte is the escape character that ends an attach session without
// killing the pane, mirroring the teacher's own Ctrl-] convention.
const detachByte = 0x1D

// attachSession puts the terminal in raw mode and shuttles bytes between
// stdin/stdout and the pane until the user presses Ctrl-] or the
// connection ends. Exactly one goroutine ever writes to the socket (the
// sender below) and exactly one ever reads from it (the demuxer), so the
// wire codec's single in-flight-write-call rule holds on the client side
// too.
func attachSession(sock string, session ids.SessionID, window ids.WindowID, pane ids.PaneID) error {
	c, err := dial(sock)
	if err != nil {
		return err
	}
	defer c.close()

	resp, err := c.request(proto.Request{Type: proto.ReqAttach, Session: session, Window: window, Pane: pane})
	if err != nil {
		return fmt.Errorf("attach: %w", err)
	}
	pane = resp.Pane
	if pane == 0 {
		return fmt.Errorf("attach: session has no pane to attach to")
	}

	fd := int(os.Stdin.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("set raw mode: %w", err)
	}
	defer term.Restore(fd, oldState)

	fmt.Fprintf(os.Stdout, "\r\n[splicer] attached to pane %s  (detach: Ctrl-])\r\n", pane)

	respCh := make(chan proto.Response, 1)
	reqCh := make(chan proto.Request, 64)
	done := make(chan struct{})

	go demuxReader(c, respCh, done)
	go sendLoop(c, reqCh, respCh)
	go watchResize(reqCh, pane, fd)

	if cols, rows, err := term.GetSize(fd); err == nil {
		reqCh <- proto.Request{Type: proto.ReqResizePane, Pane: pane, Cols: uint16(cols), Rows: uint16(rows)}
	}

	readStdin(reqCh, pane, done)
	return nil
}

// demuxReader is the connection's sole reader for the life of the attach
// session: control responses are forwarded to respCh one at a time (the
// sender below never has more than one request outstanding), PtyOutput
// events are written straight to stdout.
func demuxReader(c *client, respCh chan<- proto.Response, done chan struct{}) {
	defer close(done)
	for {
		hdr, payload, err := wire.ReadPayload(c.conn, wire.DefaultMaxPayload)
		if err != nil {
			return
		}
		switch hdr.SchemaID {
		case proto.SchemaControl:
			var resp proto.Response
			if json.Unmarshal(payload, &resp) == nil {
				respCh <- resp
			}
		case proto.SchemaEvent:
			var ev proto.Event
			if json.Unmarshal(payload, &ev) != nil {
				continue
			}
			if ev.Type == proto.EvtPtyOutput {
				os.Stdout.Write(ev.Bytes)
			}
		}
	}
}

// sendLoop is the connection's sole writer: it drains reqCh strictly in
// order, writing one frame and waiting for its matching response before
// sending the next, so requests from the keystroke and resize forwarders
// never interleave on the wire.
func sendLoop(c *client, reqCh <-chan proto.Request, respCh <-chan proto.Response) {
	for req := range reqCh {
		if c.sendFrame(wire.KindRequest, proto.SchemaControl, req) != nil {
			return
		}
		select {
		case <-respCh:
		case <-time.After(5 * time.Second):
		}
	}
}

// readStdin reads raw keystrokes and forwards each chunk to the pane as a
// WriteInput request, stopping on Ctrl-] or EOF/the reader ending.
func readStdin(reqCh chan<- proto.Request, pane ids.PaneID, done <-chan struct{}) {
	buf := make([]byte, 4096)
	for {
		n, err := os.Stdin.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if idx := indexByte(chunk, detachByte); idx >= 0 {
				if idx > 0 {
					sendChunk(reqCh, pane, chunk[:idx], done)
				}
				return
			}
			sendChunk(reqCh, pane, chunk, done)
		}
		if err != nil {
			return
		}
		select {
		case <-done:
			return
		default:
		}
	}
}

func sendChunk(reqCh chan<- proto.Request, pane ids.PaneID, b []byte, done <-chan struct{}) {
	cp := make([]byte, len(b))
	copy(cp, b)
	select {
	case reqCh <- proto.Request{Type: proto.ReqWriteInput, Pane: pane, Bytes: cp}:
	case <-done:
	}
}

// watchResize translates SIGWINCH into ResizePane requests for the life
// of the attach process; it shares the same reqCh as stdin forwarding so
// resize requests are never interleaved with input writes on the wire.
func watchResize(reqCh chan<- proto.Request, pane ids.PaneID, fd int) {
	winchCh := make(chan os.Signal, 1)
	signal.Notify(winchCh, syscall.SIGWINCH)
	for range winchCh {
		cols, rows, err := term.GetSize(fd)
		if err != nil {
			continue
		}
		reqCh <- proto.Request{Type: proto.ReqResizePane, Pane: pane, Cols: uint16(cols), Rows: uint16(rows)}
	}
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}
