package session

import (
	"github.com/basalt-mc/basalt/server/block/cube"
	"github.com/basalt-mc/basalt/server/world"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/sandertv/gophertunnel/minecraft/protocol"
	"github.com/sandertv/gophertunnel/minecraft/protocol/packet"
)

// Compile time check to make sure Session implements world.Viewer.
var _ world.Viewer = (*Session)(nil)

// ViewEntity spawns the entity passed on the client. Entities are sent as
// actors of their network type, with their runtime ID doubling as unique ID.
func (s *Session) ViewEntity(e *world.Entity) {
	s.writePacket(&packet.AddActor{
		EntityUniqueID:  e.RuntimeID(),
		EntityRuntimeID: uint64(e.RuntimeID()),
		EntityType:      e.EncodeEntity(),
		Position:        vec64To32(e.Position()),
	})
}

// HideEntity despawns the entity passed on the client.
func (s *Session) HideEntity(e *world.Entity) {
	s.writePacket(&packet.RemoveActor{
		EntityUniqueID: e.RuntimeID(),
	})
}

// ViewEntityMovement moves the entity passed to an absolute position on the
// client.
func (s *Session) ViewEntityMovement(e *world.Entity, pos mgl64.Vec3) {
	s.writePacket(&packet.MoveActorAbsolute{
		EntityRuntimeID: uint64(e.RuntimeID()),
		Position:        vec64To32(pos),
		Flags:           packet.MoveFlagTeleport,
	})
}

// ViewTime sets the time of day on the client. The world age has no client
// visible effect and is not sent.
func (s *Session) ViewTime(_, t int64) {
	s.writePacket(&packet.SetTime{
		Time: int32(t),
	})
}

// ViewBlockUpdate updates a single block on the client.
func (s *Session) ViewBlockUpdate(pos cube.Pos, rid uint32) {
	s.writePacket(&packet.UpdateBlock{
		Position:          blockPos(pos),
		NewBlockRuntimeID: rid,
		Flags:             packet.BlockUpdateNetwork,
	})
}

// ViewBlockAction shows a transient block action, such as a chest opening,
// on the client.
func (s *Session) ViewBlockAction(pos cube.Pos, action, param byte) {
	s.writePacket(&packet.BlockEvent{
		Position:  blockPos(pos),
		EventType: int32(action),
		EventData: int32(param),
	})
}

// ViewChunk sends the full contents of the chunk passed to the client. The
// chunk is recorded as sent, so that chunk streaming does not send it again.
func (s *Session) ViewChunk(pos world.ChunkPos, c *world.Chunk) {
	s.mu.Lock()
	s.chunks[pos] = struct{}{}
	s.mu.Unlock()
	s.writeChunk(pos, c)
}

// ViewWorldBorder records the world border shown to the session. The Bedrock
// protocol has no packet to display a world border, so the session keeps the
// border state and rejects movement beyond it instead.
func (s *Session) ViewWorldBorder(centre mgl64.Vec2, diameter float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.borderCentre, s.borderDiameter = centre, diameter
}

// Border returns the centre and diameter of the world border as last viewed
// by the session.
func (s *Session) Border() (centre mgl64.Vec2, diameter float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.borderCentre, s.borderDiameter
}

// sendChunksAround streams all chunks within dist chunks of centre to the
// player, skipping chunks sent earlier. Chunks not resident in the world are
// loaded or generated first, with the sending happening asynchronously on
// the retrieval workers of the world.
func (s *Session) sendChunksAround(w *world.World, centre world.ChunkPos, dist int) {
	for x := centre[0] - int32(dist); x <= centre[0]+int32(dist); x++ {
		for z := centre[1] - int32(dist); z <= centre[1]+int32(dist); z++ {
			pos := world.ChunkPos{x, z}
			s.mu.Lock()
			_, sent := s.chunks[pos]
			s.mu.Unlock()
			if sent {
				continue
			}
			if err := w.RetrieveChunk(pos, func(c *world.Chunk) { s.sendChunk(pos, c) }); err != nil {
				s.conf.Log.Debug("send chunks: " + err.Error())
				return
			}
		}
	}
}

// sendChunk sends the chunk passed to the player if it was not sent before
// and records it as sent.
func (s *Session) sendChunk(pos world.ChunkPos, c *world.Chunk) {
	s.mu.Lock()
	if _, sent := s.chunks[pos]; sent {
		s.mu.Unlock()
		return
	}
	s.chunks[pos] = struct{}{}
	s.mu.Unlock()
	s.writeChunk(pos, c)
}

// writeChunk writes a LevelChunk packet holding the serialised contents of
// the chunk passed.
func (s *Session) writeChunk(pos world.ChunkPos, c *world.Chunk) {
	s.mu.Lock()
	dim := s.dim
	s.mu.Unlock()
	s.writePacket(&packet.LevelChunk{
		Position:      protocol.ChunkPos(pos),
		Dimension:     dim,
		SubChunkCount: uint32((c.Range().Height() + 1) / 16),
		RawPayload:    c.Payload(),
	})
}

// blockPos converts a cube.Pos to a protocol.BlockPos.
func blockPos(pos cube.Pos) protocol.BlockPos {
	return protocol.BlockPos{int32(pos[0]), int32(pos[1]), int32(pos[2])}
}

// vec64To32 converts an mgl64.Vec3 to an mgl32.Vec3.
func vec64To32(v mgl64.Vec3) mgl32.Vec3 {
	return mgl32.Vec3{float32(v[0]), float32(v[1]), float32(v[2])}
}

// vec32To64 converts an mgl32.Vec3 to an mgl64.Vec3.
func vec32To64(v mgl32.Vec3) mgl64.Vec3 {
	return mgl64.Vec3{float64(v[0]), float64(v[1]), float64(v[2])}
}
