package ipc

import (
	"encoding/json"
	"time"

	"github.com/ianremillard/splicer/internal/core"
	"github.com/ianremillard/splicer/internal/ids"
	"github.com/ianremillard/splicer/internal/proto"
	"github.com/ianremillard/splicer/internal/wire"
)

// outboundFrame is one frame queued for the writer goroutine, the only
// task permitted to touch the socket's write half (spec §4.5, §5).
type outboundFrame struct {
	hdr     wire.FrameHeader
	payload []byte
}

// run drives the connection through AwaitingHello, then (if the handshake
// succeeds) Registered, then tears down on exit.
func (c *connection) run() {
	defer c.conn.Close()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writeLoop()
	}()

	peer, ok := c.handshake()
	if !ok {
		close(c.outCh)
		<-writerDone
		return
	}
	c.state = stateRegistered

	evCh := make(chan proto.Event, c.limits.EventChannelCap)
	reply := make(chan ids.PeerID, 1)
	c.core.Send(core.RegisterPeer{Name: peer, EventCh: evCh, Reply: reply})
	id := <-reply

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		c.readLoop(id)
	}()

	eventDone := make(chan struct{})
	go func() {
		defer close(eventDone)
		c.eventLoop(evCh)
	}()

	select {
	case <-readerDone:
	case <-writerDone:
	}

	c.teardown(id, writerDone)
	<-eventDone
}

// handshake performs the schema-0 Hello/HelloAck exchange. It returns the
// peer's self-reported name and whether the connection should proceed to
// registration.
func (c *connection) handshake() (string, bool) {
	hdr, payload, err := wire.ReadPayload(c.conn, c.limits.MaxFrameBytes)
	if err != nil || hdr.SchemaID != proto.SchemaHandshake {
		return "", false
	}
	var hello proto.Hello
	if err := json.Unmarshal(payload, &hello); err != nil {
		return "", false
	}

	ack := proto.HelloAck{ServerAPIMajor: proto.APIMajor, Features: 0}
	ackBytes, _ := json.Marshal(ack)
	ackHdr := wire.FrameHeader{
		APIMajor: proto.APIMajor,
		Kind:     wire.KindResponse,
		SchemaID: proto.SchemaHandshake,
		Len:      uint32(len(ackBytes)),
	}
	c.outCh <- outboundFrame{hdr: ackHdr, payload: ackBytes}

	if hello.ClientAPIMajor != proto.APIMajor {
		return "", false
	}
	return hello.PeerName, true
}

// readLoop deserializes schema_id=1 requests, forwards them to the core
// with a buffered(1) reply channel, and queues the response for the
// writer. It ends on any I/O error or protocol violation.
func (c *connection) readLoop(peer ids.PeerID) {
	for {
		hdr, payload, err := wire.ReadPayload(c.conn, c.limits.MaxFrameBytes)
		if err != nil {
			return
		}
		if hdr.SchemaID != proto.SchemaControl || hdr.Kind != wire.KindRequest {
			return
		}
		var req proto.Request
		if err := json.Unmarshal(payload, &req); err != nil {
			return
		}

		reply := make(chan proto.Response, 1)
		c.core.Send(core.FromPeer{Peer: peer, Req: req, Reply: reply})

		var resp proto.Response
		select {
		case resp = <-reply:
		case <-time.After(c.limits.RequestTimeout):
			resp = proto.Err(proto.CodeTimeout, "request timed out")
		}

		respBytes, err := json.Marshal(resp)
		if err != nil {
			continue
		}
		respHdr := wire.FrameHeader{
			APIMajor: proto.APIMajor,
			Kind:     wire.KindResponse,
			SchemaID: proto.SchemaControl,
			Len:      uint32(len(respBytes)),
		}
		if !c.enqueue(outboundFrame{hdr: respHdr, payload: respBytes}) {
			return
		}
	}
}

// eventLoop drains the peer's inbound event channel from the core and
// forwards each event to the writer, ending when the connection's done
// signal fires. It never closes evCh itself: only the dispatcher
// goroutine ever sends on it, so only the dispatcher side could safely
// close it, and it chooses not to (see teardown).
func (c *connection) eventLoop(evCh chan proto.Event) {
	for {
		select {
		case ev := <-evCh:
			evBytes, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			evHdr := wire.FrameHeader{
				APIMajor: proto.APIMajor,
				Kind:     wire.KindEvent,
				SchemaID: proto.SchemaEvent,
				Len:      uint32(len(evBytes)),
			}
			if !c.enqueue(outboundFrame{hdr: evHdr, payload: evBytes}) {
				return
			}
		case <-c.done:
			return
		}
	}
}

// writeLoop is the sole reader of outCh and the sole writer of the
// socket, draining frames strictly in arrival order (the single-writer
// invariant of spec §4.5/§5).
func (c *connection) writeLoop() {
	for f := range c.outCh {
		if err := wire.WritePayload(c.conn, f.hdr, f.payload); err != nil {
			return
		}
	}
}

// enqueue attempts to queue f for the writer, reporting false if the
// queue has already been closed by teardown.
func (c *connection) enqueue(f outboundFrame) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	c.outCh <- f
	return true
}

// teardown runs exactly once per connection: it best-effort drains any
// remaining outbound frames within a short deadline, stops the event
// forwarder, and unregisters the peer from the core.
func (c *connection) teardown(peer ids.PeerID, writerDone <-chan struct{}) {
	c.closeOnce.Do(func() {
		c.state = stateClosing
		close(c.outCh)
		select {
		case <-writerDone:
		case <-time.After(2 * time.Second):
		}
		close(c.done)
		c.core.Send(core.UnregisterPeer{Peer: peer})
	})
}
