package discovery

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// Link represents a relay advertising mbotlink on the network.
type Link struct {
	// Name is the mDNS instance name (e.g., "lab relay")
	Name string

	// Host is the mDNS hostname (e.g., "relay-pi.local.")
	Host string

	// IP is the preferred address, IPv4 when available
	IP string

	// Port is the relay's TCP port
	Port int

	// Text contains the TXT record data ("version", "robots", ...)
	Text map[string]string

	// DiscoveredAt is when the relay was discovered
	DiscoveredAt time.Time
}

// String returns a human-readable string representation of the link
func (l *Link) String() string {
	return fmt.Sprintf("mbotlink relay %q (%s) at %s", l.Name, l.Host, l.Address())
}

// Address returns host:port suitable for transport.DialTCP.
func (l *Link) Address() string {
	return net.JoinHostPort(l.IP, strconv.Itoa(l.Port))
}

// GetText retrieves a TXT value by key, or returns empty string if not found
func (l *Link) GetText(key string) string {
	if l.Text == nil {
		return ""
	}
	return l.Text[key]
}
