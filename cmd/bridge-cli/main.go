package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aria-bridge/bridge-host/internal/bridgeclient"
	"github.com/aria-bridge/bridge-host/internal/protocol"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	url := os.Getenv("ARIA_BRIDGE_URL")
	if url == "" {
		url = "ws://127.0.0.1:9230/ws"
	}
	secret := os.Getenv("ARIA_BRIDGE_SECRET")

	switch os.Args[1] {
	case "watch":
		cmdWatch(url, secret)
	case "emit":
		cmdEmit(url, secret)
	case "version":
		fmt.Printf("aria-bridge-cli v%s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`aria-bridge CLI v` + version + `

Usage: aria-bridge <command> [flags]

Commands:
  watch     Connect as a consumer and print every event received
  emit      Connect as a bridge and send a single event
  version   Print version
  help      Show this help

Environment:
  ARIA_BRIDGE_URL      Host WebSocket URL (default: ws://127.0.0.1:9230/ws)
  ARIA_BRIDGE_SECRET   Workspace shared secret

Examples:
  aria-bridge watch --levels info,warn,error
  aria-bridge emit --type console --level info --message "hello"`)
}

// ----------------------------------------------------------------
// watch command: a raw WS consumer, bypassing bridgeclient (which is a
// bridge-role state machine) since a dashboard-style consumer has no
// reconnect/heartbeat-lost semantics to demonstrate.
// ----------------------------------------------------------------

func cmdWatch(url, secret string) {
	levels := []string{"errors"}
	args := os.Args[2:]
	for i := 0; i < len(args); i++ {
		if args[i] == "--levels" && i+1 < len(args) {
			i++
			levels = splitCSV(args[i])
		}
	}

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ connect failed: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	if err := conn.WriteJSON(protocol.AuthMessage{Type: protocol.TypeAuth, Secret: secret, Role: protocol.RoleConsumer}); err != nil {
		fmt.Fprintf(os.Stderr, "❌ auth send failed: %v\n", err)
		os.Exit(1)
	}
	if _, raw, err := conn.ReadMessage(); err != nil {
		fmt.Fprintf(os.Stderr, "❌ auth failed: %v\n", err)
		os.Exit(1)
	} else {
		var ack protocol.AuthSuccessMessage
		_ = json.Unmarshal(raw, &ack)
		fmt.Printf("✅ connected as %s\n", ack.ClientID)
	}

	if err := conn.WriteJSON(protocol.SubscribeMessage{Type: protocol.TypeSubscribe, Levels: levels}); err != nil {
		fmt.Fprintf(os.Stderr, "❌ subscribe failed: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			fmt.Println("connection closed")
			return
		}
		var frame map[string]interface{}
		if json.Unmarshal(raw, &frame) == nil {
			fmt.Printf("%v\n", frame)
		}
	}
}

// ----------------------------------------------------------------
// emit command: a bridgeclient.Client sending exactly one event, then
// closing. Demonstrates the reference bridge state machine end to end.
// ----------------------------------------------------------------

func cmdEmit(url, secret string) {
	eventType := "console"
	level := "info"
	message := ""

	args := os.Args[2:]
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--type":
			i++
			if i < len(args) {
				eventType = args[i]
			}
		case "--level":
			i++
			if i < len(args) {
				level = args[i]
			}
		case "--message":
			i++
			if i < len(args) {
				message = args[i]
			}
		}
	}

	c := bridgeclient.New(bridgeclient.Config{
		URL:          url,
		Secret:       secret,
		Platform:     "cli",
		Capabilities: []string{"console", "error"},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c.Start(ctx)
	defer c.Stop()

	deadline := time.Now().Add(5 * time.Second)
	for c.State() != bridgeclient.StateReady {
		if time.Now().After(deadline) {
			fmt.Fprintln(os.Stderr, "❌ timed out waiting for ready state")
			os.Exit(1)
		}
		time.Sleep(50 * time.Millisecond)
	}

	c.SendEvent(protocol.Event{Type: eventType, Level: level, Message: message})
	time.Sleep(200 * time.Millisecond) // let the write flush before Stop tears the socket down
	fmt.Println("✅ event sent")
}

func splitCSV(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
