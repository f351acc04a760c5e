package session

import (
	"errors"

	"github.com/basalt-mc/basalt/server/world"
	"github.com/sandertv/gophertunnel/minecraft/protocol/packet"
)

// errOutsideBorder is returned when a player tries to move to a position
// beyond the world border.
var errOutsideBorder = errors.New("movement beyond the world border")

// PlayerAuthInputHandler handles the PlayerAuthInput packet, the periodic
// movement and input updates sent by the player.
type PlayerAuthInputHandler struct{}

// Handle ...
func (h *PlayerAuthInputHandler) Handle(p packet.Packet, s *Session) error {
	pk := p.(*packet.PlayerAuthInput)

	ent, ok := s.Entity()
	if !ok {
		return nil
	}
	w := ent.World()
	if w == nil {
		return nil
	}
	pos := vec32To64(pk.Position)
	if pos == ent.Position() {
		return nil
	}
	if !w.Border().Contains(pos) {
		return errOutsideBorder
	}
	old := world.ChunkPosFromVec3(ent.Position())
	if err := w.MoveEntity(ent, pos); err != nil {
		if errors.Is(err, world.ErrChunkNotLoaded) {
			// Make the chunk resident for one of the next inputs instead of
			// blocking the read loop on generation.
			return w.RetrieveChunk(world.ChunkPosFromVec3(pos), nil)
		}
		return err
	}
	if dest := world.ChunkPosFromVec3(pos); dest != old {
		s.sendChunksAround(w, dest, ent.ViewDistance())
	}
	return nil
}
