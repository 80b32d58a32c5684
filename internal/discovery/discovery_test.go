package discovery

import (
	"net"
	"testing"

	"github.com/grandcat/zeroconf"
)

func TestRelayFromEntry(t *testing.T) {
	tests := []struct {
		name  string
		entry func() *zeroconf.ServiceEntry
		want  string
		ok    bool
	}{
		{
			name: "ipv4",
			entry: func() *zeroconf.ServiceEntry {
				e := zeroconf.NewServiceEntry("relay-a", Service, Domain)
				e.Port = 8787
				e.AddrIPv4 = []net.IP{net.ParseIP("192.168.1.20")}
				e.AddrIPv6 = []net.IP{net.ParseIP("fe80::1")}
				return e
			},
			want: "ws://192.168.1.20:8787",
			ok:   true,
		},
		{
			name: "ipv6 with path",
			entry: func() *zeroconf.ServiceEntry {
				e := zeroconf.NewServiceEntry("relay-b", Service, Domain)
				e.Port = 9000
				e.AddrIPv6 = []net.IP{net.ParseIP("fd00::2")}
				e.Text = []string{"v=1", "path=collab"}
				return e
			},
			want: "ws://[fd00::2]:9000/collab",
			ok:   true,
		},
		{
			name: "no address",
			entry: func() *zeroconf.ServiceEntry {
				e := zeroconf.NewServiceEntry("relay-c", Service, Domain)
				e.Port = 1
				return e
			},
			ok: false,
		},
		{
			name:  "nil",
			entry: func() *zeroconf.ServiceEntry { return nil },
			ok:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, ok := RelayFromEntry(tt.entry())
			if ok != tt.ok {
				t.Fatalf("expected ok=%v, got %v", tt.ok, ok)
			}
			if ok && r.URL != tt.want {
				t.Errorf("expected %s, got %s", tt.want, r.URL)
			}
		})
	}
}
