// Package discovery finds relays on the local network over mDNS so a
// playground on a LAN can collaborate without a configured relay URL.
package discovery

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/grandcat/zeroconf"
)

const (
	// Service is the DNS-SD service type relays advertise.
	Service = "_katalyst-relay._tcp"

	// Domain is the mDNS domain.
	Domain = "local."
)

// Relay is a relay found on the network.
type Relay struct {
	Instance string
	URL      string
	Text     []string
}

// Advertisement is a running mDNS registration.
type Advertisement struct {
	server *zeroconf.Server
}

// Shutdown withdraws the advertisement.
func (a *Advertisement) Shutdown() {
	if a != nil && a.server != nil {
		a.server.Shutdown()
	}
}

// Advertise announces a relay listening on port. Extra TXT records may
// be passed in text; "v=1" is always included.
func Advertise(instance string, port int, text ...string) (*Advertisement, error) {
	txt := append([]string{"v=1"}, text...)
	srv, err := zeroconf.Register(instance, Service, Domain, port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("register mdns service: %w", err)
	}
	return &Advertisement{server: srv}, nil
}

// Browse collects relays until ctx is done.
func Browse(ctx context.Context) ([]Relay, error) {
	resolver, err := zeroconf.NewResolver()
	if err != nil {
		return nil, fmt.Errorf("create mdns resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry, 32)
	if err := resolver.Browse(ctx, Service, Domain, entries); err != nil {
		return nil, fmt.Errorf("browse mdns: %w", err)
	}

	var relays []Relay
	seen := make(map[string]bool)
	for {
		select {
		case e, ok := <-entries:
			if !ok {
				return relays, nil
			}
			r, ok := RelayFromEntry(e)
			if !ok || seen[r.URL] {
				continue
			}
			seen[r.URL] = true
			relays = append(relays, r)
		case <-ctx.Done():
			return relays, nil
		}
	}
}

// RelayFromEntry converts a resolved service entry into a relay URL.
// IPv4 addresses are preferred. A "path=" TXT record sets the URL path.
func RelayFromEntry(e *zeroconf.ServiceEntry) (Relay, bool) {
	if e == nil || e.Port <= 0 {
		return Relay{}, false
	}
	var host string
	switch {
	case len(e.AddrIPv4) > 0:
		host = e.AddrIPv4[0].String()
	case len(e.AddrIPv6) > 0:
		host = e.AddrIPv6[0].String()
	default:
		return Relay{}, false
	}

	path := ""
	for _, t := range e.Text {
		if p, ok := strings.CutPrefix(t, "path="); ok {
			path = "/" + strings.TrimPrefix(p, "/")
		}
	}
	return Relay{
		Instance: e.Instance,
		URL:      "ws://" + net.JoinHostPort(host, strconv.Itoa(e.Port)) + path,
		Text:     e.Text,
	}, true
}
