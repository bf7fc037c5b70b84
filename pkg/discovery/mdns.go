package discovery

import (
	"context"
	"net"
	"sort"

	"github.com/enbility/zeroconf/v3"
)

// BrowserConfig configures a Browser.
type BrowserConfig struct {
	// Interface restricts browsing to one network interface. Empty means
	// all multicast interfaces.
	Interface string
}

// Browser browses for routers with zeroconf.
type Browser struct {
	config BrowserConfig
}

// NewBrowser creates a browser.
func NewBrowser(config BrowserConfig) *Browser {
	return &Browser{config: config}
}

// Browse streams router events until ctx is done. Entries for the same
// instance seen on several interfaces are merged into one router; a
// RouterLost event is sent once its last address is withdrawn.
func (b *Browser) Browse(ctx context.Context) (<-chan Event, error) {
	out := make(chan Event)
	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)

	go aggregate(ctx, entries, removed, out)
	go func() {
		_ = zeroconf.Browse(ctx, ServiceType, Domain, entries, removed, b.options()...)
	}()

	return out, nil
}

// Find returns the first router seen before ctx is done.
func (b *Browser) Find(ctx context.Context) (*Router, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events, err := b.Browse(ctx)
	if err != nil {
		return nil, err
	}
	for ev := range events {
		if ev.Kind == RouterFound {
			return ev.Router, nil
		}
	}
	return nil, ErrNotFound
}

// Collect browses until ctx is done and returns the routers still present,
// sorted by name.
func (b *Browser) Collect(ctx context.Context) ([]*Router, error) {
	events, err := b.Browse(ctx)
	if err != nil {
		return nil, err
	}

	found := make(map[string]*Router)
	for ev := range events {
		switch ev.Kind {
		case RouterFound:
			found[ev.Router.Instance] = ev.Router
		case RouterLost:
			delete(found, ev.Router.Instance)
		}
	}

	routers := make([]*Router, 0, len(found))
	for _, r := range found {
		routers = append(routers, r)
	}
	sort.Slice(routers, func(i, j int) bool {
		return routers[i].Name < routers[j].Name
	})
	return routers, nil
}

func (b *Browser) options() []zeroconf.ClientOption {
	var opts []zeroconf.ClientOption
	if b.config.Interface != "" {
		iface, err := net.InterfaceByName(b.config.Interface)
		if err == nil {
			opts = append(opts, zeroconf.SelectIfaces([]net.Interface{*iface}))
		}
	}
	return opts
}

// aggregate merges zeroconf entries per instance and emits events on out,
// which it closes on return.
func aggregate(ctx context.Context, entries, removed <-chan *zeroconf.ServiceEntry, out chan<- Event) {
	defer close(out)

	routers := make(map[string]*Router)
	emit := func(ev Event) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return
			}
			r := entryToRouter(entry)
			if r == nil {
				continue
			}
			if existing, found := routers[r.Instance]; found {
				existing.Addresses = mergeAddresses(existing.Addresses, r.Addresses)
				continue
			}
			routers[r.Instance] = r
			if !emit(Event{Kind: RouterFound, Router: r}) {
				return
			}

		case entry, ok := <-removed:
			if !ok {
				removed = nil
				continue
			}
			existing, found := routers[entry.Instance]
			if !found {
				continue
			}
			existing.Addresses = removeAddresses(existing.Addresses, entry)
			if len(existing.Addresses) == 0 {
				delete(routers, entry.Instance)
				if !emit(Event{Kind: RouterLost, Router: existing}) {
					return
				}
			}

		case <-ctx.Done():
			return
		}
	}
}

// entryToRouter converts a zeroconf entry. Entries with malformed TXT
// records are dropped.
func entryToRouter(entry *zeroconf.ServiceEntry) *Router {
	r, err := DecodeRouterTXT(StringsToTXTRecords(entry.Text))
	if err != nil {
		return nil
	}
	r.Instance = entry.Instance
	r.Host = entry.HostName
	if r.Name == "" {
		r.Name = entry.Instance
	}
	r.Addresses = entryAddresses(entry)
	return r
}

func entryAddresses(entry *zeroconf.ServiceEntry) []string {
	addrs := make([]string, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	for _, ip := range entry.AddrIPv4 {
		addrs = append(addrs, ip.String())
	}
	for _, ip := range entry.AddrIPv6 {
		addrs = append(addrs, ip.String())
	}
	return addrs
}

// mergeAddresses appends addresses not already present.
func mergeAddresses(existing, more []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, addr := range existing {
		seen[addr] = true
	}
	for _, addr := range more {
		if !seen[addr] {
			existing = append(existing, addr)
			seen[addr] = true
		}
	}
	return existing
}

func removeAddresses(addresses []string, entry *zeroconf.ServiceEntry) []string {
	drop := make(map[string]bool)
	for _, addr := range entryAddresses(entry) {
		drop[addr] = true
	}
	result := addresses[:0:0]
	for _, addr := range addresses {
		if !drop[addr] {
			result = append(result, addr)
		}
	}
	return result
}
