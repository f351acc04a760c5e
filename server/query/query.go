// Package query answers Bedrock query protocol requests on the RakNet
// listener of a server.
//
// Importing the package replaces the default "raknet" network of the
// minecraft package with one that intercepts query datagrams before they
// reach the RakNet pipeline. The server describes its state through a
// ProviderFunc registered with RegisterProvider; without one, requests are
// answered with placeholder values.
package query

import (
	"context"
	"log/slog"
	"net"
	"runtime/debug"
	"sync/atomic"

	"github.com/sandertv/go-raknet"
	"github.com/sandertv/gophertunnel/minecraft"
)

const (
	queryTypeHandshake   = 0x09
	queryTypeInformation = 0x00
)

var (
	querySplitNum  = [...]byte{'S', 'P', 'L', 'I', 'T', 'N', 'U', 'M', 0x00}
	queryPlayerKey = [...]byte{0x00, 0x01, 'p', 'l', 'a', 'y', 'e', 'r', '_', 0x00, 0x00}
	queryMagic     = [...]byte{0xfe, 0xfd}
)

// ProviderFunc returns the Data served to query clients. The host and port
// passed hold the address the listener is bound to, so that the returned
// Data can reflect them.
type ProviderFunc func(host string, port int) Data

var provider atomic.Pointer[ProviderFunc]

// RegisterProvider registers the ProviderFunc that supplies query responses.
// Only the most recently registered provider is consulted. Passing nil
// unregisters the current provider.
func RegisterProvider(fn ProviderFunc) {
	if fn == nil {
		provider.Store(nil)
		return
	}
	provider.Store(&fn)
}

// loadProvider returns the currently registered provider, or nil.
func loadProvider() ProviderFunc {
	if ptr := provider.Load(); ptr != nil {
		return *ptr
	}
	return nil
}

// init swaps the default RakNet network implementation for a query-aware one,
// so that importing the package suffices to enable query responses.
func init() {
	minecraft.RegisterNetwork("raknet", func(l *slog.Logger) minecraft.Network {
		return rakNet{log: l}
	})
}

// rakNet delegates all behaviour to the standard RakNet implementation,
// except for listening, where it installs a query-intercepting packet
// listener.
type rakNet struct {
	log *slog.Logger
}

// DialContext forwards dial requests to the default RakNet dialer.
func (n rakNet) DialContext(ctx context.Context, address string) (net.Conn, error) {
	return raknet.Dialer{ErrorLog: n.log.With("net origin", "raknet")}.DialContext(ctx, address)
}

// PingContext forwards ping requests to the default RakNet dialer.
func (n rakNet) PingContext(ctx context.Context, address string) ([]byte, error) {
	return raknet.Dialer{ErrorLog: n.log.With("net origin", "raknet")}.PingContext(ctx, address)
}

// Listen wraps the standard RakNet listener with the query packet listener.
func (n rakNet) Listen(address string) (minecraft.NetworkListener, error) {
	log := n.log.With("net origin", "raknet")
	lc := raknet.ListenConfig{
		ErrorLog:               log,
		UpstreamPacketListener: packetListener{log: log},
	}
	return lc.Listen(address)
}

// packetListener produces query-aware UDP connections for the RakNet
// listener.
type packetListener struct {
	log *slog.Logger
}

// ListenPacket implements the raknet.UpstreamPacketListener interface.
func (l packetListener) ListenPacket(network, address string) (net.PacketConn, error) {
	conn, err := net.ListenPacket(network, address)
	if err != nil {
		return nil, err
	}
	host, port := "", 0
	if local, _ := net.ResolveUDPAddr(network, conn.LocalAddr().String()); local != nil {
		port = local.Port
		if local.IP != nil && !local.IP.IsUnspecified() {
			host = local.IP.String()
		}
	}
	return &packetConn{PacketConn: conn, log: l.log, host: host, port: port}, nil
}

// engineLabel is the server software identifier reported to query clients,
// with the module version from the build metadata when available.
var engineLabel = buildEngineLabel()

func buildEngineLabel() string {
	info, ok := debug.ReadBuildInfo()
	if !ok || info == nil || info.Main.Version == "" || info.Main.Version == "(devel)" {
		return "Basalt (dev)"
	}
	return "Basalt (" + info.Main.Version + ")"
}
