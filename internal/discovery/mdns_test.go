package discovery

import (
	"net"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"
)

func entry(instance, host string, port int, v4, v6 []net.IP, text ...string) *zeroconf.ServiceEntry {
	e := zeroconf.NewServiceEntry(instance, ServiceType, ServiceDomain)
	e.HostName = host
	e.Port = port
	e.AddrIPv4 = v4
	e.AddrIPv6 = v6
	e.Text = text
	return e
}

func TestParseServiceEntry(t *testing.T) {
	tests := []struct {
		name     string
		entry    *zeroconf.ServiceEntry
		wantNil  bool
		wantIP   string
		wantPort int
		wantAddr string
	}{
		{
			name:     "relay with IPv4",
			entry:    entry("lab relay", "pi.local.", 5005, []net.IP{net.ParseIP("192.168.4.16")}, nil, "version=1.0"),
			wantIP:   "192.168.4.16",
			wantPort: 5005,
			wantAddr: "192.168.4.16:5005",
		},
		{
			name:     "IPv6 fallback",
			entry:    entry("v6", "pi.local.", 5005, nil, []net.IP{net.ParseIP("fe80::1")}),
			wantIP:   "fe80::1",
			wantPort: 5005,
			wantAddr: "[fe80::1]:5005",
		},
		{
			name: "IPv4 preferred over IPv6",
			entry: entry("both", "pi.local.", 6000,
				[]net.IP{net.ParseIP("10.0.0.5")}, []net.IP{net.ParseIP("fe80::1")}),
			wantIP:   "10.0.0.5",
			wantPort: 6000,
			wantAddr: "10.0.0.5:6000",
		},
		{
			name:    "no address",
			entry:   entry("none", "pi.local.", 5005, nil, nil),
			wantNil: true,
		},
		{
			name:    "no port",
			entry:   entry("noport", "pi.local.", 0, []net.IP{net.ParseIP("10.0.0.5")}, nil),
			wantNil: true,
		},
		{
			name:    "nil entry",
			entry:   nil,
			wantNil: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			link := parseServiceEntry(tt.entry)
			if tt.wantNil {
				if link != nil {
					t.Errorf("parseServiceEntry() = %v, want nil", link)
				}
				return
			}
			if link == nil {
				t.Fatal("parseServiceEntry() = nil, want link")
			}
			if link.IP != tt.wantIP || link.Port != tt.wantPort {
				t.Errorf("link = %s:%d, want %s:%d", link.IP, link.Port, tt.wantIP, tt.wantPort)
			}
			if link.Address() != tt.wantAddr {
				t.Errorf("Address() = %q, want %q", link.Address(), tt.wantAddr)
			}
			if link.Name != tt.entry.Instance {
				t.Errorf("Name = %q, want %q", link.Name, tt.entry.Instance)
			}
			if time.Since(link.DiscoveredAt) > time.Minute {
				t.Errorf("DiscoveredAt is not recent: %v", link.DiscoveredAt)
			}
		})
	}
}

func TestParseServiceEntry_Text(t *testing.T) {
	link := parseServiceEntry(entry("lab", "pi.local.", 5005,
		[]net.IP{net.ParseIP("192.168.4.16")}, nil,
		"version=1.2.0", "robots=8", "flag", "eq=a=b"))
	if link == nil {
		t.Fatal("parseServiceEntry() = nil, want link")
	}

	want := map[string]string{
		"version": "1.2.0",
		"robots":  "8",
		"flag":    "",
		"eq":      "a=b",
	}
	if len(link.Text) != len(want) {
		t.Errorf("Text has %d entries, want %d", len(link.Text), len(want))
	}
	for key, value := range want {
		if got := link.GetText(key); got != value {
			t.Errorf("GetText(%q) = %q, want %q", key, got, value)
		}
	}
	if got := link.GetText("missing"); got != "" {
		t.Errorf("GetText(missing) = %q, want empty", got)
	}
}

func TestLink_NilText(t *testing.T) {
	link := &Link{}
	if got := link.GetText("anything"); got != "" {
		t.Errorf("GetText() with nil map = %q, want empty string", got)
	}
}

func TestLink_String(t *testing.T) {
	link := &Link{Name: "lab", Host: "pi.local.", IP: "10.0.0.5", Port: 5005}
	want := `mbotlink relay "lab" (pi.local.) at 10.0.0.5:5005`
	if got := link.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestNewScanner(t *testing.T) {
	scanner := NewScanner()
	if scanner.Timeout != DefaultScanTimeout {
		t.Errorf("scanner.Timeout = %v, want %v", scanner.Timeout, DefaultScanTimeout)
	}
}

func TestAdvertisement_NilShutdown(t *testing.T) {
	var a *Advertisement
	a.Shutdown()
}

// Live mDNS browsing needs multicast on the host network and is exercised
// manually with `mbotlink discover`.
