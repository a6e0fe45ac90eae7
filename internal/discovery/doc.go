// Package discovery finds mbotlink relays on the local network over mDNS and
// lets a relay advertise itself.
//
// Relays register the "_mbotlink._tcp" service with TXT records carrying the
// relay version and its robot capacity. A Scanner browses for that service
// and returns each answer as a Link whose Address can be handed straight to
// transport.DialTCP.
//
// # Usage Example
//
//	links, err := discovery.Scan(ctx, 3*time.Second)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, l := range links {
//	    fmt.Println(l)
//	}
//
// # Network Requirements
//
//   - Requires multicast support on the network interface
//   - Relays must be on the same local network segment
//   - Firewall must allow mDNS (UDP port 5353)
package discovery
