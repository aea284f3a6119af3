package streamreader

import (
	"context"
	"fmt"

	"github.com/brutella/dnssd"
)

// ServiceType is the DNS-SD service type under which the raw-stream TCP
// ingest port is announced.
const ServiceType = "_tpx3-raw._tcp"

// Announce advertises the raw-stream ingest port on the local network via
// mDNS/DNS-SD, so a detector controller can discover it without a
// hand-configured host and port. It returns once the responder is
// running; the responder keeps running in a background goroutine until
// ctx is cancelled.
func Announce(ctx context.Context, name string, port int) error {
	cfg := dnssd.Config{Name: name, Type: ServiceType, Port: port}

	service, err := dnssd.NewService(cfg)
	if err != nil {
		return fmt.Errorf("streamreader: announce: create service: %w", err)
	}

	responder, err := dnssd.NewResponder()
	if err != nil {
		return fmt.Errorf("streamreader: announce: create responder: %w", err)
	}

	if _, err := responder.Add(service); err != nil {
		return fmt.Errorf("streamreader: announce: add service: %w", err)
	}

	go func() {
		_ = responder.Respond(ctx)
	}()

	return nil
}
