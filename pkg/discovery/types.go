package discovery

import (
	"errors"
	"time"
)

const (
	// ServiceType is the DNS-SD service type routers advertise.
	ServiceType = "_clasp._tcp"

	// Domain is the mDNS domain.
	Domain = "local"

	// DefaultPort is used when the TXT record has no ws key.
	DefaultPort = 7330

	// BrowseTimeout is the default timeout for Find.
	BrowseTimeout = 5 * time.Second

	// WebSocketPath is the router's WebSocket endpoint.
	WebSocketPath = "/clasp"
)

// Errors.
var (
	ErrNotFound = errors.New("no router found")
	ErrBadPort  = errors.New("invalid ws port")
)

// Router is a CLASP router found on the network.
type Router struct {
	// Instance is the DNS-SD instance name.
	Instance string

	// Name is the advertised router name, falling back to Instance.
	Name string

	// Host is the advertised host name.
	Host string

	// Addresses lists the router's IP addresses as strings.
	Addresses []string

	// Port is the WebSocket port.
	Port uint16

	Version  string
	Features []string
}

// URL returns the WebSocket URL for the router's first address, or ""
// if no address is known.
func (r *Router) URL() string {
	if len(r.Addresses) == 0 {
		return ""
	}
	return WebSocketURL(r.Addresses[0], r.Port)
}

// EventKind tells whether a router appeared or went away.
type EventKind uint8

const (
	// RouterFound reports a new router.
	RouterFound EventKind = iota

	// RouterLost reports that a router's last address disappeared.
	RouterLost
)

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case RouterFound:
		return "FOUND"
	case RouterLost:
		return "LOST"
	default:
		return "UNKNOWN"
	}
}

// Event is a browse result.
type Event struct {
	Kind   EventKind
	Router *Router
}
