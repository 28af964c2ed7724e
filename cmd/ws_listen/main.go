package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

// envelope mirrors the daemon's event stream frame: {type, ts, data}.
type envelope struct {
	Type string          `json:"type"`
	Ts   time.Time       `json:"ts"`
	Data json.RawMessage `json:"data"`
}

type gestureData struct {
	Line       int    `json:"line"`
	Binding    string `json:"binding"`
	Gesture    string `json:"gesture"`
	ActionID   string `json:"action_id"`
	Generation uint64 `json:"generation"`
}

type actionData struct {
	ExecID    string `json:"exec_id"`
	ActionID  string `json:"action_id"`
	ElapsedMS int64  `json:"elapsed_ms"`
	Error     string `json:"error"`
}

type binding struct {
	ID           string `json:"id"`
	GPIOPin      int    `json:"gpio_pin"`
	ShortAction  string `json:"short_action"`
	DoubleAction string `json:"double_action"`
	LongAction   string `json:"long_action"`
}

type snapshotData struct {
	Generation uint64    `json:"generation"`
	Buttons    []binding `json:"buttons"`
	Timings    struct {
		ShortPressMs          int `json:"short_press_ms"`
		DoubleClickIntervalMs int `json:"double_click_interval_ms"`
		LongPressMs           int `json:"long_press_ms"`
	} `json:"timings"`
	Actions []json.RawMessage `json:"actions"`
}

func main() {
	var (
		wsURL = flag.String("ws", "ws://127.0.0.1:3002/ws", "hwbuttons event stream URL")
		raw   = flag.Bool("raw", false, "Print frames as pretty JSON instead of one line per event")
	)
	flag.Parse()

	u, err := url.Parse(*wsURL)
	if err != nil {
		log.Fatalf("invalid websocket URL: %v", err)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	d := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	log.Printf("connecting to %s...", u.String())
	conn, _, err := d.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	log.Printf("connected! (press Ctrl+C to exit)")

	// Mutex to protect concurrent writes to websocket
	var writeMu sync.Mutex

	// The daemon pings every 20s; answer and extend the deadline.
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(5*time.Second))
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			messageType, message, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("websocket error: %v", err)
				}
				return
			}
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))

			switch messageType {
			case websocket.TextMessage:
				handleTextMessage(message, *raw)
			case websocket.BinaryMessage:
				fmt.Printf("[BINARY] %d bytes\n", len(message))
			}
		}
	}()

	select {
	case <-sigc:
		log.Printf("shutting down...")
		writeMu.Lock()
		err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		writeMu.Unlock()
		if err != nil {
			log.Printf("error closing connection: %v", err)
		}
	case <-done:
		log.Printf("connection closed")
	}
}

// handleTextMessage prints one event stream frame.
func handleTextMessage(message []byte, raw bool) {
	var env envelope
	if err := json.Unmarshal(message, &env); err != nil || env.Type == "" {
		fmt.Printf("[TEXT] %s\n", string(message))
		return
	}
	if raw {
		var v any
		_ = json.Unmarshal(message, &v)
		pretty, _ := json.MarshalIndent(v, "", "  ")
		fmt.Printf("%s\n", pretty)
		return
	}

	ts := env.Ts.Local().Format("15:04:05.000")

	switch env.Type {
	case "state_init", "bindings_applied":
		var s snapshotData
		if err := json.Unmarshal(env.Data, &s); err != nil {
			break
		}
		fmt.Printf("%s [%s] generation=%d timings=%d/%d/%dms buttons=%d",
			ts, env.Type, s.Generation, s.Timings.ShortPressMs, s.Timings.DoubleClickIntervalMs,
			s.Timings.LongPressMs, len(s.Buttons))
		if env.Type == "state_init" {
			fmt.Printf(" actions=%d", len(s.Actions))
		}
		fmt.Println()
		for _, b := range s.Buttons {
			fmt.Printf("    %-12s pin=%-2d short=%s double=%s long=%s\n",
				b.ID, b.GPIOPin, orDash(b.ShortAction), orDash(b.DoubleAction), orDash(b.LongAction))
		}
		return

	case "gesture":
		var g gestureData
		if err := json.Unmarshal(env.Data, &g); err != nil {
			break
		}
		fmt.Printf("%s [GESTURE] %s line=%d %s -> %s (gen %d)\n",
			ts, g.Binding, g.Line, g.Gesture, orDash(g.ActionID), g.Generation)
		return

	case "action_started", "action_finished", "action_dropped":
		var a actionData
		if err := json.Unmarshal(env.Data, &a); err != nil {
			break
		}
		fmt.Printf("%s [%s] %s", ts, env.Type, a.ActionID)
		if a.ExecID != "" {
			fmt.Printf(" exec=%s", a.ExecID)
		}
		if env.Type == "action_finished" {
			fmt.Printf(" elapsed=%dms", a.ElapsedMS)
		}
		if a.Error != "" {
			fmt.Printf(" error=%q", a.Error)
		}
		fmt.Println()
		return
	}

	fmt.Printf("%s [%s] %s\n", ts, env.Type, string(env.Data))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
