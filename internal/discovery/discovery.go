// Package discovery browses the LAN for media renderers over mDNS.
package discovery

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/grandcat/zeroconf"
)

// DefaultTimeout bounds a browse. Renderers answer within a second or
// two; anything slower is treated as absent.
const DefaultTimeout = 5 * time.Second

// RAOPService is the service most network audio renderers announce.
const RAOPService = "_raop._tcp"

// Device is one renderer found on the LAN.
type Device struct {
	Name string `json:"name"`
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Browse collects devices announcing service until the timeout elapses.
func Browse(ctx context.Context, service string, timeout time.Duration) ([]Device, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("initializing resolver: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	var devices []Device
	done := make(chan struct{})
	go func() {
		defer close(done)
		for entry := range entries {
			if entry == nil || len(entry.AddrIPv4) == 0 {
				continue
			}
			d := Device{
				Name: entry.Instance,
				Host: entry.AddrIPv4[0].String(),
				Port: entry.Port,
			}
			log.Printf("discovered renderer %s at %s:%d", d.Name, d.Host, d.Port)
			devices = append(devices, d)
		}
	}()

	if err := resolver.Browse(ctx, service, "local.", entries); err != nil {
		return nil, fmt.Errorf("browsing %s: %w", service, err)
	}
	<-ctx.Done()
	<-done
	return devices, nil
}

// Renderers browses for audio renderers with the default service and
// timeout.
func Renderers(ctx context.Context) ([]Device, error) {
	return Browse(ctx, RAOPService, DefaultTimeout)
}
