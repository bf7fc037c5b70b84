// Command clasp-log views and analyzes CLASP protocol capture files.
//
// Capture files are written by the client when a FileLogger is set as its
// protocol logger, for example with clasp -protocol-log.
//
// Usage:
//
//	clasp-log <command> [flags] <file.clog>
//
// Commands:
//
//	view     View capture file in human-readable format
//	export   Export capture file to JSONL or CSV
//	filter   Filter capture file and write to new file
//	stats    Show statistics about the capture file
//
// Examples:
//
//	# View only incoming messages
//	clasp-log view -direction in session.clog
//
//	# View traffic for one address subtree
//	clasp-log view -address "/mixer/**" session.clog
//
//	# Export to CSV
//	clasp-log export -format csv -o session.csv session.clog
//
//	# Keep only SET messages
//	clasp-log filter -type set -o sets.clog session.clog
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/clasp-protocol/clasp-go/cmd/clasp-log/commands"
)

const usage = `clasp-log - CLASP Protocol Capture Analyzer

Usage:
  clasp-log <command> [flags] <file.clog>

Commands:
  view     View capture file in human-readable format
  export   Export capture file to JSONL or CSV
  filter   Filter capture file and write to new file
  stats    Show statistics about the capture file

Use "clasp-log <command> -help" for more information about a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "view":
		runView(args)
	case "export":
		runExport(args)
	case "filter":
		runFilter(args)
	case "stats":
		runStats(args)
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

// parseWithFile parses args and returns the single capture file argument.
func parseWithFile(fs *flag.FlagSet, args []string) string {
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: capture file path required")
		fs.Usage()
		os.Exit(1)
	}
	return fs.Arg(0)
}

func newFlagSet(name, summary string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "clasp-log %s - %s\n\nUsage:\n  clasp-log %s [flags] <file.clog>\n\nFlags:\n", name, summary, name)
		fs.PrintDefaults()
	}
	return fs
}

func runView(args []string) {
	fs := newFlagSet("view", "View capture file in human-readable format")
	layer := fs.String("layer", "", "Filter by layer (transport, wire, session)")
	direction := fs.String("direction", "", "Filter by direction (in, out)")
	category := fs.String("category", "", "Filter by category (message, control, state, error)")
	msgType := fs.String("type", "", "Filter by message type (SET, PUBLISH, ...)")
	address := fs.String("address", "", "Filter by address pattern")
	path := parseWithFile(fs, args)

	filter := commands.ViewFilter{MessageType: *msgType, Address: *address}
	if *layer != "" {
		l, err := commands.ParseLayerFlag(*layer)
		if err != nil {
			fail(err)
		}
		filter.Layer = &l
	}
	if *direction != "" {
		d, err := commands.ParseDirectionFlag(*direction)
		if err != nil {
			fail(err)
		}
		filter.Direction = &d
	}
	if *category != "" {
		c, err := commands.ParseCategoryFlag(*category)
		if err != nil {
			fail(err)
		}
		filter.Category = &c
	}

	if err := commands.RunView(path, filter, os.Stdout); err != nil {
		fail(err)
	}
}

func runExport(args []string) {
	fs := newFlagSet("export", "Export capture file to JSONL or CSV")
	format := fs.String("format", "jsonl", "Output format (jsonl, csv)")
	output := fs.String("o", "", "Output file (default: stdout)")
	path := parseWithFile(fs, args)

	if err := commands.RunExport(path, *format, *output); err != nil {
		fail(err)
	}
}

func runFilter(args []string) {
	fs := newFlagSet("filter", "Filter capture file and write to new file")
	var opts commands.FilterOptions
	fs.StringVar(&opts.Output, "o", "", "Output file (required)")
	fs.StringVar(&opts.ConnID, "conn-id", "", "Filter by connection ID")
	fs.StringVar(&opts.SessionID, "session", "", "Filter by router session ID")
	fs.StringVar(&opts.MessageType, "type", "", "Filter by message type")
	fs.StringVar(&opts.Address, "address", "", "Filter by address pattern")
	fs.StringVar(&opts.TimeStart, "time-start", "", "Filter by start time (RFC3339)")
	fs.StringVar(&opts.TimeEnd, "time-end", "", "Filter by end time (RFC3339)")
	fs.StringVar(&opts.Layer, "layer", "", "Filter by layer (transport, wire, session)")
	fs.StringVar(&opts.Direction, "direction", "", "Filter by direction (in, out)")
	fs.StringVar(&opts.Category, "category", "", "Filter by category (message, control, state, error)")
	path := parseWithFile(fs, args)

	if opts.Output == "" {
		fmt.Fprintln(os.Stderr, "Error: output file (-o) required")
		fs.Usage()
		os.Exit(1)
	}

	n, err := commands.RunFilter(path, opts)
	if err != nil {
		fail(err)
	}
	fmt.Printf("Filtered %d events to %s\n", n, opts.Output)
}

func runStats(args []string) {
	fs := newFlagSet("stats", "Show statistics about the capture file")
	path := parseWithFile(fs, args)

	if err := commands.RunStats(path, os.Stdout); err != nil {
		fail(err)
	}
}
