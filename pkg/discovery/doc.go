// Package discovery finds CLASP routers on the local network with
// mDNS/DNS-SD.
//
// Routers advertise the _clasp._tcp service. TXT records carry:
//
//	name      human-readable router name
//	ws        WebSocket port (default 7330)
//	version   protocol version
//	features  one letter per signal type: p(aram) s(tream) e(vent)
//	          t(imeline) g(esture)
//
// A discovered router is reported with a ready-to-dial WebSocket URL of
// the form ws://<addr>:<port>/clasp.
package discovery
