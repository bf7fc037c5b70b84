// Command clasp is a command-line CLASP client.
//
// Usage:
//
//	clasp <command> [flags] [args]
//
// Commands:
//
//	get <address>             Read a parameter
//	set <address> <value>     Write a parameter
//	emit <address> [payload]  Publish an event
//	watch <pattern>...        Print updates until interrupted
//	signals [pattern]         Query the router's signal definitions
//	discover                  Browse for routers on the local network
//	shell                     Interactive session
//
// Values are parsed as YAML scalars or flow collections, so 0.5, true,
// "text", [1, 2] and {x: 1} all work.
//
// Common flags:
//
//	-url string           Router URL (default: discover via mDNS)
//	-config string        YAML client configuration file
//	-name string          Client name sent in HELLO
//	-token string         Bearer token sent in HELLO
//	-encoding string      Payload encoding: msgpack or cbor
//	-timeout duration     Connect and request timeout (default 5s)
//	-log-level string     Log level: debug, info, warn, error (default "warn")
//	-protocol-log string  Write a protocol capture file (view with clasp-log)
//	-metrics string       Serve Prometheus metrics on this address
//
// Examples:
//
//	clasp set -url ws://studio.local:7330/clasp /mixer/ch/1/fader 0.75
//	clasp watch "/lights/**" "/cue/*"
//	clasp shell -protocol-log session.clog
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

const usage = `clasp - CLASP command-line client

Usage:
  clasp <command> [flags] [args]

Commands:
  get <address>             Read a parameter
  set <address> <value>     Write a parameter
  emit <address> [payload]  Publish an event
  watch <pattern>...        Print updates until interrupted
  signals [pattern]         Query the router's signal definitions
  discover                  Browse for routers on the local network
  shell                     Interactive session

Use "clasp <command> -help" for the flags of a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "get":
		err = runGet(ctx, args)
	case "set":
		err = runSet(ctx, args)
	case "emit":
		err = runEmit(ctx, args)
	case "watch":
		err = runWatch(ctx, args)
	case "signals":
		err = runSignals(ctx, args)
	case "discover":
		err = runDiscover(ctx, args)
	case "shell":
		err = runShell(ctx, args)
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
