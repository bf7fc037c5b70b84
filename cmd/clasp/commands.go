package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/clasp-protocol/clasp-go/pkg/discovery"
	"github.com/clasp-protocol/clasp-go/pkg/wire"
)

func runGet(ctx context.Context, args []string) error {
	var o options
	fs := newFlagSet("get", "<address>", &o)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireArgs(fs, 1, 1); err != nil {
		return err
	}

	s, err := o.dial(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	v, err := s.Get(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	fmt.Println(formatValue(v))
	return nil
}

func runSet(ctx context.Context, args []string) error {
	var o options
	fs := newFlagSet("set", "<address> <value>", &o)
	lock := fs.Bool("lock", false, "Lock the address for this session")
	unlock := fs.Bool("unlock", false, "Release this session's lock")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireArgs(fs, 2, -1); err != nil {
		return err
	}
	v, err := parseValue(joinArgs(fs.Args()[1:]))
	if err != nil {
		return err
	}

	s, err := o.dial(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	addr := fs.Arg(0)
	switch {
	case *lock:
		return s.SetLocked(ctx, addr, v)
	case *unlock:
		return s.SetUnlocked(ctx, addr, v)
	default:
		return s.Set(ctx, addr, v)
	}
}

func runEmit(ctx context.Context, args []string) error {
	var o options
	fs := newFlagSet("emit", "<address> [payload]", &o)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireArgs(fs, 1, -1); err != nil {
		return err
	}
	payload, err := parseValue(joinArgs(fs.Args()[1:]))
	if err != nil {
		return err
	}

	s, err := o.dial(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	return s.Emit(ctx, fs.Arg(0), payload)
}

func runWatch(ctx context.Context, args []string) error {
	var o options
	fs := newFlagSet("watch", "<pattern>...", &o)
	fs.BoolVar(&o.Reconnect, "reconnect", true, "Reconnect after connection loss")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireArgs(fs, 1, -1); err != nil {
		return err
	}

	s, err := o.dial(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	s.OnDisconnect(func(reason error) {
		fmt.Fprintf(os.Stderr, "disconnected: %v\n", reason)
	})
	s.OnError(func(err error) {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	})

	for _, pattern := range fs.Args() {
		_, err := s.On(pattern, func(v wire.Value, addr string) {
			fmt.Printf("%s %s = %s\n", time.Now().Format("15:04:05.000"), addr, formatValue(v))
		})
		if err != nil {
			return err
		}
	}

	<-ctx.Done()
	return nil
}

func runSignals(ctx context.Context, args []string) error {
	var o options
	fs := newFlagSet("signals", "[pattern]", &o)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireArgs(fs, 0, 1); err != nil {
		return err
	}
	pattern := "/**"
	if fs.NArg() == 1 {
		pattern = fs.Arg(0)
	}

	s, err := o.dial(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	defs, err := s.QuerySignals(ctx, pattern)
	if err != nil {
		return err
	}
	printSignals(defs)
	return nil
}

func printSignals(defs []wire.SignalDefinition) {
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ADDRESS\tTYPE\tDATATYPE\tACCESS")
	for _, d := range defs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.Address, d.Type, d.Datatype, d.Access)
	}
	_ = tw.Flush()
}

func runDiscover(ctx context.Context, args []string) error {
	fs := newFlagSet("discover", "", nil)
	timeout := fs.Duration("timeout", discovery.BrowseTimeout, "How long to browse")
	iface := fs.String("interface", "", "Network interface to browse on")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	routers, err := discovery.NewBrowser(discovery.BrowserConfig{Interface: *iface}).Collect(ctx)
	if err != nil {
		return err
	}
	if len(routers) == 0 {
		fmt.Println("No routers found")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tURL\tVERSION\tFEATURES")
	for _, r := range routers {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Name, r.URL(), r.Version, discovery.EncodeFeatures(r.Features))
	}
	return tw.Flush()
}
