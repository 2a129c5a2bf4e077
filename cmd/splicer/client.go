package main

import (
	"encoding/json"
	"fmt"
	"net"
	"os"

	"github.com/google/uuid"

	"github.com/ianremillard/splicer/internal/proto"
	"github.com/ianremillard/splicer/internal/wire"
)

// client is a thin synchronous wrapper around one connection to splicerd:
// dial, handshake, then alternating request/response round trips. It does
// not attempt to read events outside of the attach command, which takes
// over the connection's read side for the life of the session.
type client struct {
	conn net.Conn
}

func dial(socketPath string) (*client, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	c := &client{conn: conn}
	if err := c.handshake(); err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

func (c *client) handshake() error {
	name := os.Getenv("USER")
	if name == "" {
		name = "peer-" + uuid.New().String()[:8]
	}
	if err := c.sendFrame(wire.KindRequest, proto.SchemaHandshake, proto.Hello{
		ClientAPIMajor: proto.APIMajor,
		PeerName:       name,
	}); err != nil {
		return err
	}
	hdr, payload, err := wire.ReadPayload(c.conn, wire.DefaultMaxPayload)
	if err != nil {
		return fmt.Errorf("read handshake ack: %w", err)
	}
	if hdr.SchemaID != proto.SchemaHandshake {
		return fmt.Errorf("unexpected schema %d during handshake", hdr.SchemaID)
	}
	var ack proto.HelloAck
	if err := json.Unmarshal(payload, &ack); err != nil {
		return fmt.Errorf("decode handshake ack: %w", err)
	}
	if ack.ServerAPIMajor != proto.APIMajor {
		return fmt.Errorf("server speaks api_major %d, this client speaks %d", ack.ServerAPIMajor, proto.APIMajor)
	}
	return nil
}

func (c *client) sendFrame(kind wire.Kind, schema uint32, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	hdr := wire.FrameHeader{APIMajor: proto.APIMajor, Kind: kind, SchemaID: schema, Len: uint32(len(payload))}
	return wire.WritePayload(c.conn, hdr, payload)
}

// request sends req and waits for the matching control response, skipping
// over any event frames that arrive first (events only flow after an
// Attach, and a plain request/response command never issues one).
func (c *client) request(req proto.Request) (proto.Response, error) {
	if err := c.sendFrame(wire.KindRequest, proto.SchemaControl, req); err != nil {
		return proto.Response{}, err
	}
	for {
		hdr, payload, err := wire.ReadPayload(c.conn, wire.DefaultMaxPayload)
		if err != nil {
			return proto.Response{}, fmt.Errorf("read response: %w", err)
		}
		if hdr.SchemaID != proto.SchemaControl {
			continue
		}
		var resp proto.Response
		if err := json.Unmarshal(payload, &resp); err != nil {
			return proto.Response{}, fmt.Errorf("decode response: %w", err)
		}
		if resp.Type == proto.RespErr {
			return resp, fmt.Errorf("%s", resp.Msg)
		}
		return resp, nil
	}
}

func (c *client) close() error {
	return c.conn.Close()
}

func defaultSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return dir + "/splicer.sock"
	}
	return fmt.Sprintf("/tmp/splicer-%d/splicer.sock", os.Getuid())
}
