package query

import (
	"strconv"
	"strings"

	"github.com/sandertv/gophertunnel/minecraft/protocol"
)

// Data holds the server state served to query clients. The fields are kept
// high level; the conversion to the key/value pairs of the wire format
// happens inside the package.
type Data struct {
	// ServerName is the public name of the server.
	ServerName string
	// WorldName is the name of the default world of the server.
	WorldName string
	// Version is the game version advertised to clients. It defaults to the
	// current protocol version.
	Version string
	// Engine identifies the server software. It defaults to an identifier
	// derived from the build metadata of the running binary.
	Engine string
	// PlayerCount and MaxPlayers report the current and maximum number of
	// players on the server.
	PlayerCount, MaxPlayers int
	// PlayerNames lists the names of the players currently online.
	PlayerNames []string
	// WhitelistEnabled reports whether the server whitelist is enforced.
	WhitelistEnabled bool
	// HostIP and HostPort hold the address the server listens on. They are
	// filled in by the responder when left empty.
	HostIP   string
	HostPort int
}

type keyValue struct {
	key   string
	value string
}

// gather produces the Data for one query response, consulting the registered
// provider and falling back to placeholders without one.
func gather(host string, port int) Data {
	var d Data
	if fn := loadProvider(); fn != nil {
		d = fn(canonicalHost(host), port)
	} else {
		d = Data{ServerName: "Minecraft Server", HostPort: port}
	}
	d.applyDefaults(host, port)
	return d
}

// canonicalHost substitutes the unspecified address for an empty host.
func canonicalHost(host string) string {
	if host == "" {
		return "0.0.0.0"
	}
	return host
}

// applyDefaults fills in the fields a provider may leave empty.
func (d *Data) applyDefaults(host string, port int) {
	if d.HostIP == "" {
		d.HostIP = canonicalHost(host)
	}
	if d.HostPort == 0 {
		d.HostPort = port
	}
	if d.Engine == "" {
		d.Engine = engineLabel
	}
	if d.Version == "" {
		d.Version = protocol.CurrentVersion
	}
	d.HostPort = int(uint16(d.HostPort))
}

// keyValues converts the Data into the ordered key/value pairs of the query
// wire format.
func (d Data) keyValues() []keyValue {
	whitelist := "off"
	if d.WhitelistEnabled {
		whitelist = "on"
	}
	values := []keyValue{
		{"hostname", d.ServerName},
		{"gametype", "SMP"},
		{"game_id", "MINECRAFT"},
		{"version", d.Version},
		{"server_engine", d.Engine},
		{"plugins", ""},
	}
	if d.WorldName != "" {
		values = append(values, keyValue{"map", d.WorldName})
	}
	values = append(values,
		keyValue{"numplayers", strconv.Itoa(d.PlayerCount)},
		keyValue{"maxplayers", strconv.Itoa(d.MaxPlayers)},
		keyValue{"whitelist", whitelist},
		keyValue{"hostport", strconv.Itoa(d.HostPort)},
		keyValue{"hostip", d.HostIP},
	)
	if len(d.PlayerNames) > 0 {
		values = append(values, keyValue{"players", strings.Join(d.PlayerNames, ", ")})
	}
	return values
}
