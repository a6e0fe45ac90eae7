package discovery

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"

	"github.com/mbotlink/mbotlink/internal/logging"
	"go.uber.org/zap"
)

const (
	// ServiceType is the mDNS service type relays advertise
	ServiceType = "_mbotlink._tcp"

	// ServiceDomain is the mDNS domain (typically "local.")
	ServiceDomain = "local."

	// DefaultScanTimeout is the default timeout for relay discovery
	DefaultScanTimeout = 5 * time.Second
)

// Scanner handles mDNS relay discovery
type Scanner struct {
	// Timeout is the maximum time to wait for relay discovery
	Timeout time.Duration
}

// NewScanner creates a new mDNS scanner with default settings
func NewScanner() *Scanner {
	return &Scanner{
		Timeout: DefaultScanTimeout,
	}
}

// Scan discovers all relays on the local network until the timeout elapses
// or ctx is cancelled.
func (s *Scanner) Scan(ctx context.Context) ([]*Link, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	var (
		mu    sync.Mutex
		links []*Link
		seen  = make(map[string]bool)
		done  = make(chan struct{})
	)

	go func() {
		defer close(done)
		for entry := range entries {
			link := parseServiceEntry(entry)
			if link == nil {
				continue
			}
			mu.Lock()
			if !seen[link.Address()] {
				seen[link.Address()] = true
				links = append(links, link)
				logging.Debug("Discovered relay", zap.String("relay", link.String()))
			}
			mu.Unlock()
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, ServiceDomain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse for mDNS services: %w", err)
	}

	<-ctx.Done()
	// The resolver closes entries once the browse context ends.
	select {
	case <-done:
	case <-time.After(time.Second):
	}

	mu.Lock()
	defer mu.Unlock()
	return append([]*Link(nil), links...), nil
}

// First returns the first relay that answers, or an error on timeout.
func (s *Scanner) First(ctx context.Context) (*Link, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	found := make(chan *Link, 1)

	go func() {
		for entry := range entries {
			if link := parseServiceEntry(entry); link != nil {
				select {
				case found <- link:
				default:
				}
				cancel()
				return
			}
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, ServiceDomain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse for mDNS services: %w", err)
	}

	select {
	case link := <-found:
		return link, nil
	case <-ctx.Done():
		select {
		case link := <-found:
			return link, nil
		default:
		}
		return nil, fmt.Errorf("no mbotlink relay found within %s", s.Timeout)
	}
}

// parseServiceEntry converts a zeroconf service entry to a Link.
// Returns nil if the entry has no usable address.
func parseServiceEntry(entry *zeroconf.ServiceEntry) *Link {
	if entry == nil || entry.Port == 0 {
		return nil
	}

	var ip string
	if len(entry.AddrIPv4) > 0 {
		ip = entry.AddrIPv4[0].String()
	} else if len(entry.AddrIPv6) > 0 {
		ip = entry.AddrIPv6[0].String()
	}
	if ip == "" {
		return nil
	}

	text := make(map[string]string)
	for _, txt := range entry.Text {
		key, value, _ := strings.Cut(txt, "=")
		text[key] = value
	}

	return &Link{
		Name:         entry.Instance,
		Host:         entry.HostName,
		IP:           ip,
		Port:         entry.Port,
		Text:         text,
		DiscoveredAt: time.Now(),
	}
}

// Advertisement is a running mDNS registration.
type Advertisement struct {
	server *zeroconf.Server
}

// Advertise publishes a relay named name on port until Shutdown is called.
func Advertise(name string, port int, version string, maxRobots int) (*Advertisement, error) {
	text := []string{
		"version=" + version,
		"robots=" + strconv.Itoa(maxRobots),
	}
	server, err := zeroconf.Register(name, ServiceType, ServiceDomain, port, text, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to register mDNS service: %w", err)
	}
	logging.Info("Advertising relay over mDNS",
		zap.String("name", name),
		zap.String("service", ServiceType),
		zap.Int("port", port),
	)
	return &Advertisement{server: server}, nil
}

// Shutdown withdraws the advertisement. It is safe on a nil receiver.
func (a *Advertisement) Shutdown() {
	if a == nil || a.server == nil {
		return
	}
	a.server.Shutdown()
	a.server = nil
}

// Scan is a convenience function to scan for relays with a custom timeout
func Scan(ctx context.Context, timeout time.Duration) ([]*Link, error) {
	scanner := NewScanner()
	if timeout > 0 {
		scanner.Timeout = timeout
	}
	return scanner.Scan(ctx)
}
