package api

import (
	"fmt"

	"github.com/grandcat/zeroconf"
	"github.com/pcsc-tools/cardid-agent/internal/logging"
)

const (
	MDNSServiceName = "cardid-agent"
	MDNSServiceType = "_cardid-agent._tcp"
	MDNSDomain      = "local."
)

// mdnsTXT describes the API to browsers of the service.
func mdnsTXT(reader string) []string {
	return []string{
		"version=" + Version,
		"protocol=websocket",
		"path=/v1/ws",
		"reader=" + reader,
	}
}

// Advertiser announces the HTTP API on the local network.
type Advertiser struct {
	server *zeroconf.Server
}

// Advertise registers the API for mDNS discovery on port.
func Advertise(port int, reader string) (*Advertiser, error) {
	server, err := zeroconf.Register(MDNSServiceName, MDNSServiceType, MDNSDomain, port, mdnsTXT(reader), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to register mDNS service: %w", err)
	}

	logging.Info(logging.CatSystem, "mDNS service registered", map[string]any{
		"service": MDNSServiceType,
		"port":    port,
	})
	return &Advertiser{server: server}, nil
}

// Shutdown withdraws the advertisement. It is safe on a nil Advertiser.
func (a *Advertiser) Shutdown() {
	if a == nil || a.server == nil {
		return
	}
	a.server.Shutdown()
	a.server = nil
	logging.Info(logging.CatSystem, "mDNS service stopped", nil)
}
