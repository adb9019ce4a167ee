package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

// ============================================================================
// hifideck-ctl - Command-line IPC Client
// ============================================================================
// Sends deck actions to the hifideck daemon over its Unix domain socket.
//
// Usage:
//   hifideck-ctl toggle
//   hifideck-ctl select 4
//   hifideck-ctl knob 48
//   hifideck-ctl ccw 2
//   hifideck-ctl volume 35
//   hifideck-ctl state
// ============================================================================

// Envelope and response types (duplicated from the daemon for a standalone binary)

type eventEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type ipcResponse struct {
	Status string          `json:"status"`
	Error  string          `json:"error,omitempty"`
	State  json.RawMessage `json:"state,omitempty"`
}

const dialTimeout = 2 * time.Second

var socketPath string

var rootCmd = &cobra.Command{
	Use:           "hifideck-ctl",
	Short:         "Control the hifideck daemon via IPC",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&socketPath, "socket", "s", "/tmp/hifideck.sock", "Unix domain socket path")

	for _, c := range []struct {
		use, short, typ string
		aliases         []string
	}{
		{"toggle", "Toggle play/pause", "media_play_pause", []string{"play-pause"}},
		{"play", "Start playback", "media_play", nil},
		{"pause", "Pause playback", "media_pause", nil},
		{"stop", "Stop playback and rewind", "media_stop", nil},
		{"next", "Next track (wraps)", "media_next", nil},
		{"prev", "Previous track (wraps)", "media_previous", []string{"previous"}},
		{"reload", "Reload the catalog", "reload_catalog", nil},
		{"volume-release", "Release a held volume button", "volume_release", []string{"release"}},
	} {
		typ := c.typ
		rootCmd.AddCommand(&cobra.Command{
			Use:     c.use,
			Aliases: c.aliases,
			Short:   c.short,
			Args:    cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return send(cmd, typ, nil)
			},
		})
	}

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "select <index>",
			Short: "Switch to a catalog index (0-based)",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				n, err := strconv.Atoi(args[0])
				if err != nil || n < 0 {
					return fmt.Errorf("invalid index: %q", args[0])
				}
				return send(cmd, "select_track", map[string]int{"index": n})
			},
		},
		&cobra.Command{
			Use:   "knob <value>",
			Short: "Set the selector knob (0-100, snapped to notches)",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				v, err := strconv.ParseFloat(args[0], 64)
				if err != nil || v < 0 || v > 100 {
					return fmt.Errorf("invalid knob value: %q (want 0-100)", args[0])
				}
				return send(cmd, "set_selector", map[string]float64{"value": v})
			},
		},
		turnCommand("cw", "Turn the selector clockwise by encoder detents", 1),
		turnCommand("ccw", "Turn the selector counter-clockwise by encoder detents", -1),
		&cobra.Command{
			Use:   "volume <percent>",
			Short: "Set the volume (0-100)",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				n, err := strconv.Atoi(args[0])
				if err != nil || n < 0 || n > 100 {
					return fmt.Errorf("invalid volume: %q (want 0-100)", args[0])
				}
				return send(cmd, "set_volume", map[string]int{"volume": n})
			},
		},
		&cobra.Command{
			Use:     "volume-up",
			Aliases: []string{"up"},
			Short:   "Simulate holding the volume up button",
			Args:    cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return send(cmd, "volume_held", map[string]int{"direction": 1})
			},
		},
		&cobra.Command{
			Use:     "volume-down",
			Aliases: []string{"down"},
			Short:   "Simulate holding the volume down button",
			Args:    cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return send(cmd, "volume_held", map[string]int{"direction": -1})
			},
		},
		&cobra.Command{
			Use:       "flag <liked|hot|eq|fx>",
			Short:     "Flip one of the panel toggles",
			Args:      cobra.ExactArgs(1),
			ValidArgs: []string{"liked", "hot", "eq", "fx"},
			RunE: func(cmd *cobra.Command, args []string) error {
				switch args[0] {
				case "liked", "hot", "eq", "fx":
				default:
					return fmt.Errorf("unknown flag: %q", args[0])
				}
				return send(cmd, "toggle_flag", map[string]string{"flag": args[0]})
			},
		},
		&cobra.Command{
			Use:   "state",
			Short: "Print the current deck state as JSON",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				resp, err := roundTrip(socketPath, eventEnvelope{Type: "get_state"})
				if err != nil {
					return err
				}
				var out bytes.Buffer
				if err := json.Indent(&out, resp.State, "", "  "); err != nil {
					return fmt.Errorf("format state: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), out.String())
				return nil
			},
		},
	)
}

// turnCommand sends a rotary_turn of [detents] (default 1) in direction dir.
func turnCommand(use, short string, dir int) *cobra.Command {
	return &cobra.Command{
		Use:   use + " [detents]",
		Short: short,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n := 1
			if len(args) == 1 {
				v, err := strconv.Atoi(args[0])
				if err != nil || v < 1 {
					return fmt.Errorf("invalid detents: %q (want a positive count)", args[0])
				}
				n = v
			}
			return send(cmd, "rotary_turn", map[string]int{"steps": dir * n})
		},
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// send builds a {type,data} envelope and reports "ok" on success.
func send(cmd *cobra.Command, typ string, data any) error {
	env, err := buildEnvelope(typ, data)
	if err != nil {
		return err
	}
	if _, err := roundTrip(socketPath, env); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "ok")
	return nil
}

func buildEnvelope(typ string, data any) (eventEnvelope, error) {
	env := eventEnvelope{Type: typ}
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return env, fmt.Errorf("marshal %s: %w", typ, err)
		}
		env.Data = b
	}
	return env, nil
}

func roundTrip(socketPath string, env eventEnvelope) (ipcResponse, error) {
	conn, err := net.DialTimeout("unix", socketPath, dialTimeout)
	if err != nil {
		return ipcResponse{}, fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()

	line, err := json.Marshal(env)
	if err != nil {
		return ipcResponse{}, fmt.Errorf("marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(conn, "%s\n", line); err != nil {
		return ipcResponse{}, fmt.Errorf("send event: %w", err)
	}

	var resp ipcResponse
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return ipcResponse{}, fmt.Errorf("decode response: %w", err)
	}
	if resp.Status == "error" {
		return resp, fmt.Errorf("daemon error: %s", resp.Error)
	}
	return resp, nil
}
