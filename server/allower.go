package server

import (
	"net"

	"github.com/google/uuid"
)

// Allower decides which players may join a Server.
type Allower interface {
	// Allow reports whether the player with the network address, UUID and
	// name passed may join. If not allowed, the string returned is shown to
	// the player as the reason.
	Allow(addr net.Addr, id uuid.UUID, name string) (string, bool)
}

// allower is the default Allower of a Server, allowing every player to join.
type allower struct{}

// Allow always allows the player to join.
func (allower) Allow(net.Addr, uuid.UUID, string) (string, bool) {
	return "", true
}
