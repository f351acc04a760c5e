package session

import (
	"github.com/sandertv/gophertunnel/minecraft/protocol/packet"
)

// packetHandler handles an inbound packet of a single type, dispatched to it
// by the read loop of the Session.
type packetHandler interface {
	// Handle handles an incoming packet for the session. The error returned
	// is logged by the session; it does not terminate the read loop.
	Handle(p packet.Packet, s *Session) error
}

// registerHandlers registers the handler of every inbound packet the session
// reacts to. Packets registered with a nil handler are read and discarded
// without a log entry.
func (s *Session) registerHandlers() {
	s.handlers = map[uint32]packetHandler{
		packet.IDPlayerAuthInput:    &PlayerAuthInputHandler{},
		packet.IDText:               &TextHandler{},
		packet.IDClientCacheStatus:  nil,
		packet.IDMovePlayer:         nil,
		packet.IDRequestChunkRadius: nil,
	}
}
