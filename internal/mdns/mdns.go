// Package mdns advertises running receiver monitors and finds them on the LAN.
package mdns

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	// Service is the DNS-SD service type of a receiver monitor.
	Service = "_sddc._tcp"
	// Domain is the mDNS domain.
	Domain = "local."
)

// Host represents a discovered receiver monitor.
type Host struct {
	Instance  string // Advertised name: model and session prefix, "RX888 1a2b3c4d"
	Hostname  string // DNS hostname: "shack-pi.local."
	Addresses []net.IP
	Port      int
	TXT       []string
}

// Attr returns the value of TXT key k.
func (h Host) Attr(k string) (string, bool) {
	v, ok := ParseTXT(h.TXT)[k]
	return v, ok
}

// Discover performs a blocking mDNS browse for monitors until timeout.
// It returns cleaned and deduplicated host entries sorted by instance.
func Discover(ctx context.Context, timeout time.Duration) ([]Host, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("resolver error: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	result := make(chan []Host, 1)
	go func() { result <- collect(ctx, entries) }()

	if err := resolver.Browse(ctx, Service, Domain, entries); err != nil {
		return nil, fmt.Errorf("browse error: %w", err)
	}
	return <-result, nil
}

// collect drains entries until the channel closes or ctx ends.
func collect(ctx context.Context, entries <-chan *zeroconf.ServiceEntry) []Host {
	seen := make(map[string]Host)
	for {
		select {
		case e, ok := <-entries:
			if !ok {
				return hosts(seen)
			}
			if e == nil {
				continue
			}
			addrs := make([]net.IP, 0, len(e.AddrIPv4)+len(e.AddrIPv6))
			addrs = append(addrs, e.AddrIPv4...)
			addrs = append(addrs, e.AddrIPv6...)

			key := fmt.Sprintf("%s|%d", e.HostName, e.Port)
			seen[key] = Host{
				Instance:  cleanInstance(e.Instance),
				Hostname:  e.HostName,
				Addresses: addrs,
				Port:      e.Port,
				TXT:       append([]string{}, e.Text...),
			}
		case <-ctx.Done():
			return hosts(seen)
		}
	}
}

func hosts(m map[string]Host) []Host {
	out := make([]Host, 0, len(m))
	for _, h := range m {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instance < out[j].Instance })
	return out
}

// cleanInstance removes Zeroconf escape sequences: "\ " => " "
func cleanInstance(s string) string {
	return strings.ReplaceAll(s, `\ `, " ")
}

// TXT builds sorted key=value records, skipping empty values.
func TXT(attrs map[string]string) []string {
	out := make([]string, 0, len(attrs))
	for k, v := range attrs {
		if k == "" || v == "" {
			continue
		}
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// ParseTXT splits key=value records. Records without "=" map to "".
func ParseTXT(records []string) map[string]string {
	out := make(map[string]string, len(records))
	for _, r := range records {
		k, v, _ := strings.Cut(r, "=")
		if k != "" {
			out[k] = v
		}
	}
	return out
}

// Advertiser publishes one monitor instance.
type Advertiser struct {
	server *zeroconf.Server
}

// Advertise registers instance on port with the given TXT attributes on all
// interfaces.
func Advertise(instance string, port int, attrs map[string]string) (*Advertiser, error) {
	if instance == "" {
		return nil, fmt.Errorf("advertise: empty instance name")
	}
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("advertise: port %d out of range", port)
	}
	server, err := zeroconf.Register(instance, Service, Domain, port, TXT(attrs), nil)
	if err != nil {
		return nil, fmt.Errorf("register %s: %w", Service, err)
	}
	return &Advertiser{server: server}, nil
}

// Update replaces the advertised TXT attributes.
func (a *Advertiser) Update(attrs map[string]string) {
	a.server.SetText(TXT(attrs))
}

// Shutdown withdraws the advertisement.
func (a *Advertiser) Shutdown() {
	a.server.Shutdown()
}
