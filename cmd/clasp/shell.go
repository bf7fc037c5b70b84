package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chzyer/readline"

	"github.com/clasp-protocol/clasp-go/pkg/client"
	"github.com/clasp-protocol/clasp-go/pkg/wire"
)

func runShell(ctx context.Context, args []string) error {
	var o options
	fs := newFlagSet("shell", "", &o)
	fs.BoolVar(&o.Reconnect, "reconnect", true, "Reconnect after connection loss")
	if err := fs.Parse(args); err != nil {
		return err
	}

	s, err := o.dial(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "clasp> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("failed to create readline: %w", err)
	}
	defer rl.Close()

	sh := newShell(s.Client, rl.Stdout())
	s.OnConnect(func() { fmt.Fprintf(sh.out, "connected to %s (session %s)\n", s.RouterName(), s.SessionID()) })
	s.OnDisconnect(func(reason error) { fmt.Fprintf(sh.out, "disconnected: %v\n", reason) })
	s.OnError(func(err error) { fmt.Fprintf(sh.out, "error: %v\n", err) })

	sh.printHelp()
	fmt.Fprintf(sh.out, "connected to %s (session %s)\n", s.RouterName(), s.SessionID())

	for ctx.Err() == nil {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			return nil
		}
		if sh.execute(ctx, line) {
			return nil
		}
	}
	return nil
}

// shell runs interactive commands against a client.
type shell struct {
	c   *client.Client
	out io.Writer

	mu     sync.Mutex
	nextID int
	subs   map[int]watch
}

type watch struct {
	pattern string
	cancel  client.Unsubscribe
}

func newShell(c *client.Client, out io.Writer) *shell {
	if out == nil {
		out = os.Stdout
	}
	return &shell{c: c, out: out, subs: make(map[int]watch)}
}

// execute runs one command line and reports whether the shell should exit.
func (sh *shell) execute(ctx context.Context, line string) bool {
	parts := strings.Fields(strings.TrimSpace(line))
	if len(parts) == 0 {
		return false
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	var err error
	switch cmd {
	case "help", "?":
		sh.printHelp()
	case "get", "g":
		err = sh.cmdGet(ctx, args)
	case "set", "s":
		err = sh.cmdSet(ctx, args, sh.c.Set)
	case "lock":
		err = sh.cmdSet(ctx, args, sh.c.SetLocked)
	case "unlock":
		err = sh.cmdSet(ctx, args, sh.c.SetUnlocked)
	case "emit", "e":
		err = sh.cmdEmit(ctx, args)
	case "stream":
		err = sh.cmdStream(ctx, args)
	case "watch", "w", "sub":
		err = sh.cmdWatch(args)
	case "unwatch", "unsub":
		err = sh.cmdUnwatch(args)
	case "watches":
		sh.cmdWatches()
	case "signals":
		err = sh.cmdSignals(args)
	case "query":
		err = sh.cmdQuery(ctx, args)
	case "status":
		sh.cmdStatus()
	case "quit", "exit", "q":
		fmt.Fprintln(sh.out, "Exiting...")
		return true
	default:
		fmt.Fprintf(sh.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	if err != nil {
		fmt.Fprintf(sh.out, "Error: %v\n", err)
	}
	return false
}

func (sh *shell) printHelp() {
	fmt.Fprintln(sh.out, `
CLASP Shell Commands:
  Parameters:
    get <address>                - Read a parameter
    set <address> <value>        - Write a parameter
    lock <address> <value>       - Write and lock
    unlock <address> <value>     - Write and release the lock

  Signals:
    emit <address> [payload]     - Publish an event
    stream <address> <value>     - Publish a stream sample
    signals [pattern]            - List announced signals
    query [pattern]              - Ask the router for signals

  Subscriptions:
    watch <pattern>              - Print updates for a pattern
    unwatch <id>                 - Stop a watch
    watches                      - List watches

  Session:
    status                       - Show connection and clock state
    quit                         - Exit`)
}

func (sh *shell) cmdGet(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: get <address>")
	}
	v, err := sh.c.Get(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(sh.out, "%s = %s\n", args[0], formatValue(v))
	return nil
}

func (sh *shell) cmdSet(ctx context.Context, args []string, set func(context.Context, string, wire.Value) error) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: set <address> <value>")
	}
	v, err := parseValue(joinArgs(args[1:]))
	if err != nil {
		return err
	}
	return set(ctx, args[0], v)
}

func (sh *shell) cmdEmit(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: emit <address> [payload]")
	}
	payload, err := parseValue(joinArgs(args[1:]))
	if err != nil {
		return err
	}
	return sh.c.Emit(ctx, args[0], payload)
}

func (sh *shell) cmdStream(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: stream <address> <value>")
	}
	v, err := parseValue(joinArgs(args[1:]))
	if err != nil {
		return err
	}
	return sh.c.Stream(ctx, args[0], v)
}

func (sh *shell) cmdWatch(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: watch <pattern>")
	}
	pattern := args[0]

	sh.mu.Lock()
	sh.nextID++
	id := sh.nextID
	sh.mu.Unlock()

	cancel, err := sh.c.On(pattern, func(v wire.Value, addr string) {
		fmt.Fprintf(sh.out, "[%d] %s = %s\n", id, addr, formatValue(v))
	})
	if err != nil {
		return err
	}

	sh.mu.Lock()
	sh.subs[id] = watch{pattern: pattern, cancel: cancel}
	sh.mu.Unlock()
	fmt.Fprintf(sh.out, "watch %d: %s\n", id, pattern)
	return nil
}

func (sh *shell) cmdUnwatch(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: unwatch <id>")
	}
	id, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid watch id %q", args[0])
	}

	sh.mu.Lock()
	w, ok := sh.subs[id]
	delete(sh.subs, id)
	sh.mu.Unlock()

	if !ok {
		return fmt.Errorf("no watch %d", id)
	}
	w.cancel()
	fmt.Fprintf(sh.out, "stopped watch %d\n", id)
	return nil
}

func (sh *shell) cmdWatches() {
	sh.mu.Lock()
	ids := make([]int, 0, len(sh.subs))
	for id := range sh.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	lines := make([]string, 0, len(ids))
	for _, id := range ids {
		lines = append(lines, fmt.Sprintf("  %d  %s", id, sh.subs[id].pattern))
	}
	sh.mu.Unlock()

	if len(lines) == 0 {
		fmt.Fprintln(sh.out, "No watches")
		return
	}
	fmt.Fprintln(sh.out, strings.Join(lines, "\n"))
}

func (sh *shell) cmdSignals(args []string) error {
	pattern := "/**"
	if len(args) > 0 {
		pattern = args[0]
	}
	defs, err := sh.c.Signals(pattern)
	if err != nil {
		return err
	}
	sh.printSignals(defs)
	return nil
}

func (sh *shell) cmdQuery(ctx context.Context, args []string) error {
	pattern := "/**"
	if len(args) > 0 {
		pattern = args[0]
	}
	defs, err := sh.c.QuerySignals(ctx, pattern)
	if err != nil {
		return err
	}
	sh.printSignals(defs)
	return nil
}

func (sh *shell) printSignals(defs []wire.SignalDefinition) {
	if len(defs) == 0 {
		fmt.Fprintln(sh.out, "No signals")
		return
	}
	for _, d := range defs {
		fmt.Fprintf(sh.out, "  %-32s %-8s %s\n", d.Address, d.Type, d.Datatype)
	}
}

func (sh *shell) cmdStatus() {
	c := sh.c
	fmt.Fprintf(sh.out, "State:    %s\n", c.State())
	if c.IsConnected() {
		fmt.Fprintf(sh.out, "Router:   %s\n", c.RouterName())
		fmt.Fprintf(sh.out, "Session:  %s\n", c.SessionID())
	}
	clock := c.Clock()
	fmt.Fprintf(sh.out, "Offset:   %s\n", time.Duration(clock.Offset())*time.Microsecond)
	fmt.Fprintf(sh.out, "RTT:      %s (%d samples)\n", clock.RTT(), clock.Samples())
	fmt.Fprintf(sh.out, "Quality:  %.2f\n", clock.Quality())
	if err := c.LastError(); err != nil {
		fmt.Fprintf(sh.out, "Last error: %v\n", err)
	}
}
