package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"
)

// ============================================================================
// hwbuttons-ctl - Command-line IPC Client
// ============================================================================
// Sends requests to the hwbuttons daemon over its Unix socket.
//
// Usage:
//   hwbuttons-ctl click 17
//   hwbuttons-ctl exec external_script script=scripts/lamp.sh
//   hwbuttons-ctl actions
//
// Options:
//   -socket PATH    Unix domain socket path (default: /tmp/hwbuttons.sock)
// ============================================================================

const (
	defaultSocketPath = "/tmp/hwbuttons.sock"

	// requestTimeout covers execute_action, which replies after the action finished.
	requestTimeout = 130 * time.Second

	// clickGap separates synthetic edges so the daemon sees distinct presses.
	clickGap = 40 * time.Millisecond
)

// Request payloads (duplicated from the daemon for a standalone binary).
type lineRequest struct {
	Line int `json:"line"`
}

type auxContext struct {
	ScriptPath string `json:"script_path,omitempty"`
	URL        string `json:"url,omitempty"`
}

type executeRequest struct {
	ActionID string     `json:"action_id"`
	Context  auxContext `json:"context"`
}

type refreshInfo struct {
	OwnerID      string `json:"owner_id,omitempty"`
	InstanceName string `json:"instance,omitempty"`
	RefreshKind  string `json:"refresh_kind,omitempty"`
	PlaylistName string `json:"playlist,omitempty"`
}

type actionInfo struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Group string `json:"group"`
	Owner string `json:"owner_id"`
}

// envelope wraps requests for JSON
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// IPCResponse represents the daemon's response
type IPCResponse struct {
	Status string          `json:"status"`
	Error  string          `json:"error,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

type request struct {
	typ  string
	data any
}

func main() {
	socketPath := defaultSocketPath

	args := os.Args[1:]
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	if args[0] == "-socket" || args[0] == "--socket" {
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "error: -socket requires an argument\n")
			os.Exit(1)
		}
		socketPath = args[1]
		args = args[2:]
	}

	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	var (
		reqs  []request
		print func(json.RawMessage) error
	)

	switch args[0] {
	case "press", "release", "hold":
		line := parseLine(args)
		reqs = append(reqs, request{args[0], lineRequest{Line: line}})

	case "click":
		line := parseLine(args)
		reqs = append(reqs, request{"press", lineRequest{line}}, request{"release", lineRequest{line}})

	case "double":
		line := parseLine(args)
		for i := 0; i < 2; i++ {
			reqs = append(reqs, request{"press", lineRequest{line}}, request{"release", lineRequest{line}})
		}

	case "exec":
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "error: exec requires an action id\n")
			os.Exit(1)
		}
		req := executeRequest{ActionID: args[1]}
		for _, kv := range args[2:] {
			key, val, ok := strings.Cut(kv, "=")
			switch {
			case ok && key == "script":
				req.Context.ScriptPath = val
			case ok && key == "url":
				req.Context.URL = val
			default:
				fmt.Fprintf(os.Stderr, "error: unknown exec argument %q (want script=PATH or url=URL)\n", kv)
				os.Exit(1)
			}
		}
		reqs = append(reqs, request{"execute_action", req})

	case "showing":
		if len(args) < 3 {
			fmt.Fprintf(os.Stderr, "error: showing requires <owner_id> <instance> [playlist]\n")
			os.Exit(1)
		}
		info := refreshInfo{OwnerID: args[1], InstanceName: args[2]}
		if len(args) > 3 {
			info.RefreshKind = "Playlist"
			info.PlaylistName = args[3]
		}
		reqs = append(reqs, request{"set_refresh_info", info})

	case "reload":
		reqs = append(reqs, request{typ: "reload"})
		print = printJSON

	case "state":
		reqs = append(reqs, request{typ: "get_state"})
		print = printJSON

	case "actions":
		reqs = append(reqs, request{typ: "list_actions"})
		print = printActions

	case "help", "-h", "--help":
		printUsage()
		os.Exit(0)

	default:
		fmt.Fprintf(os.Stderr, "error: unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}

	var last json.RawMessage
	for i, r := range reqs {
		if i > 0 {
			time.Sleep(clickGap)
		}
		data, err := send(socketPath, r)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		last = data
	}

	if print == nil {
		fmt.Println("ok")
		return
	}
	if err := print(last); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func parseLine(args []string) int {
	if len(args) < 2 {
		fmt.Fprintf(os.Stderr, "error: %s requires a line number\n", args[0])
		os.Exit(1)
	}
	line, err := strconv.Atoi(args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: invalid line %q: %v\n", args[1], err)
		os.Exit(1)
	}
	return line
}

func send(socketPath string, r request) (json.RawMessage, error) {
	conn, err := net.DialTimeout("unix", socketPath, 2*time.Second)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(requestTimeout))

	env := envelope{Type: r.typ}
	if r.data != nil {
		data, err := json.Marshal(r.data)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", r.typ, err)
		}
		env.Data = data
	}
	line, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}

	if _, err := fmt.Fprintf(conn, "%s\n", line); err != nil {
		return nil, fmt.Errorf("send %s: %w", r.typ, err)
	}

	var response IPCResponse
	if err := json.NewDecoder(conn).Decode(&response); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if response.Status == "error" {
		return nil, fmt.Errorf("daemon error: %s", response.Error)
	}
	return response.Data, nil
}

func printJSON(data json.RawMessage) error {
	if len(data) == 0 {
		fmt.Println("ok")
		return nil
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return err
	}
	fmt.Println(buf.String())
	return nil
}

func printActions(data json.RawMessage) error {
	var actions []actionInfo
	if err := json.Unmarshal(data, &actions); err != nil {
		return fmt.Errorf("decode actions: %w", err)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tLABEL\tGROUP\tOWNER")
	for _, a := range actions {
		id := a.ID
		if id == "" {
			id = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", id, a.Label, a.Group, a.Owner)
	}
	return w.Flush()
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `hwbuttons-ctl - Control the hwbuttons daemon via IPC

Usage:
  hwbuttons-ctl [options] <command> [args]

Options:
  -socket PATH    Unix domain socket path (default: /tmp/hwbuttons.sock)

Commands:
  press <line>                      Send a press edge
  release <line>                    Send a release edge
  hold <line>                       Report a held line (forces a long press)
  click <line>                      Press and release (short press)
  double <line>                     Two quick clicks (double press)
  exec <action> [script=P] [url=U]  Run an action now and wait for it
  showing <owner> <instance> [pl]   Report what the display shows
  reload                            Re-read the buttons file
  state                             Print active bindings and catalog
  actions                           List actions available for bindings
  help, -h, --help                  Show this help message

Examples:
  hwbuttons-ctl click 17
  hwbuttons-ctl exec call_url url=http://lamp.local/toggle
  hwbuttons-ctl -socket /run/hwbuttons.sock actions
`)
}
