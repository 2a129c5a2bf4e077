// splicerd is the background daemon that owns PTY-backed sessions behind
// a Unix domain socket.
//
// Usage:
//
//	splicerd [--config <path>] [--socket <path>]
//
// splicerd is normally started once per user and left running; clients
// talk to it through the splicer CLI.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/ianremillard/splicer/internal/config"
	"github.com/ianremillard/splicer/internal/core"
	"github.com/ianremillard/splicer/internal/ipc"
)

func main() {
	defaultConfig := os.Getenv("SPLICERD_CONFIG")
	if defaultConfig == "" {
		if home, err := os.UserHomeDir(); err == nil {
			defaultConfig = home + "/.config/splicer/splicerd.yaml"
		}
	}

	configPath := flag.String("config", defaultConfig, "server limits config file (env: SPLICERD_CONFIG)")
	socketOverride := flag.String("socket", "", "control socket path (overrides config's socket_path)")
	flag.Parse()

	runID := uuid.New().String()
	logger := log.New(os.Stderr, "splicerd["+runID[:8]+"] ", log.LstdFlags)

	lim, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if *socketOverride != "" {
		lim.SocketPath = *socketOverride
	}

	disp := core.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go disp.Run(ctx)

	srv, err := ipc.Bind(lim.SocketPath, disp, lim)
	if err != nil {
		logger.Fatalf("bind socket %s: %v", lim.SocketPath, err)
	}
	logger.Printf("listening on %s", lim.SocketPath)

	if *configPath != "" {
		if w, err := config.WatchFile(*configPath); err == nil {
			go w.Run(ctx)
			go func() {
				for newLim := range w.Changes() {
					// socket_path is fixed for the life of the listener; only
					// the frame/timeout/channel tunables apply to new
					// connections from here on.
					newLim.SocketPath = lim.SocketPath
					srv.SetLimits(newLim)
					logger.Printf("config reloaded from %s (max_frame_bytes=%d request_timeout=%s)",
						*configPath, newLim.MaxFrameBytes, newLim.RequestTimeout)
				}
			}()
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("received %v, shutting down", sig)
		srv.Close()
		os.Remove(lim.SocketPath)
		cancel()
	}()

	if err := srv.Serve(); err != nil {
		logger.Fatalf("serve: %v", err)
	}
}
