// Package config loads the server's tunable limits from a YAML file and
// watches it for changes, following the teacher's own loadProject
// function for the "read YAML into a defaulted struct" shape.
package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ianremillard/splicer/internal/ferr"
)

// Limits holds the server-wide tunables referenced throughout
// SPEC_FULL.md: the maximum wire frame size, the request deadline, the
// channel capacities, and the socket path. Of the channel capacities only
// OutboundFrameCap and EventChannelCap are applied (by the IPC layer, per
// connection); InputChannelCap and OutputChannelCap are loaded but not
// consumed, and the PTY engine uses its own fixed capacities.
type Limits struct {
	MaxFrameBytes    uint32        `yaml:"max_frame_bytes"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
	InputChannelCap  int           `yaml:"input_channel_cap"`
	OutputChannelCap int           `yaml:"output_channel_cap"`
	OutboundFrameCap int           `yaml:"outbound_frame_cap"`
	EventChannelCap  int           `yaml:"event_channel_cap"`
	SocketPath       string        `yaml:"socket_path"`
}

// Default returns the limits this server runs with when no config file is
// present or a field is left unset, matching the values named throughout
// spec §5 and §6.
func Default() Limits {
	return Limits{
		MaxFrameBytes:    16 << 20,
		RequestTimeout:   5 * time.Second,
		InputChannelCap:  256,
		OutputChannelCap: 512,
		OutboundFrameCap: 256,
		EventChannelCap:  256,
		SocketPath:       defaultSocketPath(),
	}
}

// Load reads path as YAML and overlays it onto Default(), leaving any
// field the file omits at its default value.
func Load(path string) (Limits, error) {
	lim := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return lim, nil
		}
		return Limits{}, ferr.Wrap(ferr.KindIO, "read config file", err)
	}

	var overlay struct {
		MaxFrameBytes    *uint32        `yaml:"max_frame_bytes"`
		RequestTimeout   *time.Duration `yaml:"request_timeout"`
		InputChannelCap  *int           `yaml:"input_channel_cap"`
		OutputChannelCap *int           `yaml:"output_channel_cap"`
		OutboundFrameCap *int           `yaml:"outbound_frame_cap"`
		EventChannelCap  *int           `yaml:"event_channel_cap"`
		SocketPath       *string        `yaml:"socket_path"`
	}
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return Limits{}, ferr.Wrap(ferr.KindUserInput, "parse config file", err)
	}

	if overlay.MaxFrameBytes != nil {
		lim.MaxFrameBytes = *overlay.MaxFrameBytes
	}
	if overlay.RequestTimeout != nil {
		lim.RequestTimeout = *overlay.RequestTimeout
	}
	if overlay.InputChannelCap != nil {
		lim.InputChannelCap = *overlay.InputChannelCap
	}
	if overlay.OutputChannelCap != nil {
		lim.OutputChannelCap = *overlay.OutputChannelCap
	}
	if overlay.OutboundFrameCap != nil {
		lim.OutboundFrameCap = *overlay.OutboundFrameCap
	}
	if overlay.EventChannelCap != nil {
		lim.EventChannelCap = *overlay.EventChannelCap
	}
	if overlay.SocketPath != nil {
		lim.SocketPath = *overlay.SocketPath
	}
	return lim, nil
}

// defaultSocketPath derives the default control socket location from
// $XDG_RUNTIME_DIR, falling back to a per-user path under /tmp.
func defaultSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return dir + "/splicer.sock"
	}
	return "/tmp/splicer-" + strconv.Itoa(os.Getuid()) + "/splicer.sock"
}
