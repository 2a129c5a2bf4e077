// splicer is the command-line front end for splicerd: it dials the
// daemon's control socket, speaks the handshake/request/response protocol
// over it, and for "attach" takes over the terminal in raw mode until the
// user detaches.
package main

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ianremillard/splicer/internal/ids"
	"github.com/ianremillard/splicer/internal/proto"
)

func main() {
	var sockFlag string

	root := &cobra.Command{
		Use:   "splicer",
		Short: "client for the splicerd terminal multiplexer daemon",
	}
	root.PersistentFlags().StringVar(&sockFlag, "socket", defaultSocketPath(), "splicerd control socket path")

	root.AddCommand(
		pingCmd(&sockFlag),
		newSessionCmd(&sockFlag),
		listSessionsCmd(&sockFlag),
		newWindowCmd(&sockFlag),
		spawnCmd(&sockFlag),
		attachCmd(&sockFlag),
		killCmd(&sockFlag),
		stateCmd(&sockFlag),
		renameSessionCmd(&sockFlag),
		renameWindowCmd(&sockFlag),
		setPaneTitleCmd(&sockFlag),
		resizePaneCmd(&sockFlag),
		setInputOwnerCmd(&sockFlag),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "splicer: %v\n", err)
		os.Exit(1)
	}
}

func oneShot(sock string, req proto.Request) (proto.Response, error) {
	c, err := dial(sock)
	if err != nil {
		return proto.Response{}, err
	}
	defer c.close()
	return c.request(req)
}

func pingCmd(sock *string) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "check that splicerd is reachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := oneShot(*sock, proto.Request{Type: proto.ReqPing})
			if err != nil {
				return err
			}
			fmt.Println("pong")
			return nil
		},
	}
}

func newSessionCmd(sock *string) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "new-session",
		Short: "create a new session",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := oneShot(*sock, proto.Request{Type: proto.ReqCreateSession, Name: name})
			if err != nil {
				return err
			}
			fmt.Println(resp.Session)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "session name")
	return cmd
}

func listSessionsCmd(sock *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list-sessions",
		Short: "list live sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := oneShot(*sock, proto.Request{Type: proto.ReqListSessions})
			if err != nil {
				return err
			}
			if len(resp.Sessions) == 0 {
				fmt.Println("no sessions")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME")
			for _, s := range resp.Sessions {
				fmt.Fprintf(w, "%s\t%s\n", s.ID, s.Name)
			}
			return w.Flush()
		},
	}
}

func newWindowCmd(sock *string) *cobra.Command {
	var title string
	cmd := &cobra.Command{
		Use:   "new-window <session-id>",
		Short: "create a new window in a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sid, err := parseSessionID(args[0])
			if err != nil {
				return err
			}
			resp, err := oneShot(*sock, proto.Request{Type: proto.ReqCreateWindow, Session: sid, Title: title})
			if err != nil {
				return err
			}
			fmt.Println(resp.Window)
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "window title")
	return cmd
}

func spawnCmd(sock *string) *cobra.Command {
	var windowFlag string
	var cwd string
	cmd := &cobra.Command{
		Use:   "spawn <session-id> [-- cmd args...]",
		Short: "spawn a PTY-backed pane, defaulting to the session's focused window and the user's shell",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sid, err := parseSessionID(args[0])
			if err != nil {
				return err
			}
			var wid ids.WindowID
			if windowFlag != "" {
				wid, err = ids.ParseWindowID(windowFlag)
				if err != nil {
					return fmt.Errorf("invalid --window: %w", err)
				}
			}
			resp, err := oneShot(*sock, proto.Request{
				Type: proto.ReqSpawnPane, Session: sid, Window: wid, Cwd: cwd, Argv: args[1:],
			})
			if err != nil {
				return err
			}
			fmt.Println(resp.Pane)
			return nil
		},
	}
	cmd.Flags().StringVar(&windowFlag, "window", "", "window id (defaults to the session's focused window)")
	cmd.Flags().StringVar(&cwd, "cwd", "", "working directory for the spawned program")
	return cmd
}

func attachCmd(sock *string) *cobra.Command {
	var windowFlag, paneFlag string
	cmd := &cobra.Command{
		Use:   "attach <session-id>",
		Short: "attach the terminal to a session (detach with Ctrl-])",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sid, err := parseSessionID(args[0])
			if err != nil {
				return err
			}
			var wid ids.WindowID
			if windowFlag != "" {
				if wid, err = ids.ParseWindowID(windowFlag); err != nil {
					return fmt.Errorf("invalid --window: %w", err)
				}
			}
			var pid ids.PaneID
			if paneFlag != "" {
				if pid, err = ids.ParsePaneID(paneFlag); err != nil {
					return fmt.Errorf("invalid --pane: %w", err)
				}
			}
			return attachSession(*sock, sid, wid, pid)
		},
	}
	cmd.Flags().StringVar(&windowFlag, "window", "", "window id (defaults to the session's focused window)")
	cmd.Flags().StringVar(&paneFlag, "pane", "", "pane id (defaults to the window's focused pane)")
	return cmd
}

func killCmd(sock *string) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "kill <session|pane> <id>",
		Short: "kill a pane's program or an entire session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var target proto.Target
			switch args[0] {
			case proto.TargetSession:
				sid, err := parseSessionID(args[1])
				if err != nil {
					return err
				}
				target = proto.SessionTarget(sid)
			case proto.TargetPane:
				pid, err := ids.ParsePaneID(args[1])
				if err != nil {
					return fmt.Errorf("invalid pane id: %w", err)
				}
				target = proto.PaneTarget(pid)
			default:
				return fmt.Errorf("kind must be %q or %q", proto.TargetSession, proto.TargetPane)
			}
			_, err := oneShot(*sock, proto.Request{Type: proto.ReqKill, Target: &target, Force: force})
			return err
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "also remove the pane from its window once killed")
	return cmd
}

func stateCmd(sock *string) *cobra.Command {
	var scope string
	cmd := &cobra.Command{
		Use:   "state",
		Short: "dump a snapshot of server state as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := oneShot(*sock, proto.Request{Type: proto.ReqGetState, Scope: scope})
			if err != nil {
				return err
			}
			fmt.Println(string(resp.StateJSON))
			return nil
		},
	}
	cmd.Flags().StringVar(&scope, "scope", proto.ScopeSessions, "sessions|windows|panes|peers")
	return cmd
}

func renameSessionCmd(sock *string) *cobra.Command {
	return &cobra.Command{
		Use:   "rename-session <session-id> <name>",
		Short: "rename a session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sid, err := parseSessionID(args[0])
			if err != nil {
				return err
			}
			_, err = oneShot(*sock, proto.Request{Type: proto.ReqRenameSession, Session: sid, Name: args[1]})
			return err
		},
	}
}

func renameWindowCmd(sock *string) *cobra.Command {
	return &cobra.Command{
		Use:   "rename-window <session-id> <window-id> <title>",
		Short: "rename a window",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			sid, err := parseSessionID(args[0])
			if err != nil {
				return err
			}
			wid, err := ids.ParseWindowID(args[1])
			if err != nil {
				return fmt.Errorf("invalid window id: %w", err)
			}
			_, err = oneShot(*sock, proto.Request{Type: proto.ReqRenameWindow, Session: sid, Window: wid, Title: args[2]})
			return err
		},
	}
}

func setPaneTitleCmd(sock *string) *cobra.Command {
	return &cobra.Command{
		Use:   "set-pane-title <pane-id> <title>",
		Short: "set a pane's title",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := ids.ParsePaneID(args[0])
			if err != nil {
				return fmt.Errorf("invalid pane id: %w", err)
			}
			_, err = oneShot(*sock, proto.Request{Type: proto.ReqSetPaneTitle, Pane: pid, Title: args[1]})
			return err
		},
	}
}

func resizePaneCmd(sock *string) *cobra.Command {
	return &cobra.Command{
		Use:   "resize-pane <pane-id> <cols> <rows>",
		Short: "resize a pane's PTY",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := ids.ParsePaneID(args[0])
			if err != nil {
				return fmt.Errorf("invalid pane id: %w", err)
			}
			cols, err := strconv.ParseUint(args[1], 10, 16)
			if err != nil {
				return fmt.Errorf("invalid cols: %w", err)
			}
			rows, err := strconv.ParseUint(args[2], 10, 16)
			if err != nil {
				return fmt.Errorf("invalid rows: %w", err)
			}
			_, err = oneShot(*sock, proto.Request{Type: proto.ReqResizePane, Pane: pid, Cols: uint16(cols), Rows: uint16(rows)})
			return err
		},
	}
}

func setInputOwnerCmd(sock *string) *cobra.Command {
	return &cobra.Command{
		Use:   "set-input-owner <pane-id> <peer-id>",
		Short: "reassign keyboard input ownership for a pane (peer id 0 clears it)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := ids.ParsePaneID(args[0])
			if err != nil {
				return fmt.Errorf("invalid pane id: %w", err)
			}
			var peer ids.PeerID
			if args[1] != "0" {
				if peer, err = ids.ParsePeerID(args[1]); err != nil {
					return fmt.Errorf("invalid peer id: %w", err)
				}
			}
			_, err = oneShot(*sock, proto.Request{Type: proto.ReqSetInputOwner, Pane: pid, InputOwner: peer})
			return err
		},
	}
}

func parseSessionID(s string) (ids.SessionID, error) {
	sid, err := ids.ParseSessionID(s)
	if err != nil {
		return 0, fmt.Errorf("invalid session id: %w", err)
	}
	return sid, nil
}
