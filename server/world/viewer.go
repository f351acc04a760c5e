package world

import (
	"github.com/basalt-mc/basalt/server/block/cube"
	"github.com/go-gl/mathgl/mgl64"
)

// Viewer is a viewer in the world. It can view changes that are made in the
// world, such as the addition of entities and the changes of blocks. Player
// entities carry a Viewer, through which the world reaches their session.
type Viewer interface {
	// ViewEntity views the entity passed. It is called for every entity that
	// the viewer gets within range of.
	ViewEntity(e *Entity)
	// HideEntity stops viewing the entity passed. It is called for every
	// entity that leaves the range of the viewer or is removed.
	HideEntity(e *Entity)
	// ViewEntityMovement views the movement of an entity that the viewer
	// currently views to an absolute position.
	ViewEntityMovement(e *Entity, pos mgl64.Vec3)
	// ViewTime views the world age and time of day of the world. It is
	// called on the periodic time broadcast and whenever the time of day is
	// set directly.
	ViewTime(age, time int64)
	// ViewBlockUpdate views the updating of a block at the position passed
	// to a new block runtime ID.
	ViewBlockUpdate(pos cube.Pos, rid uint32)
	// ViewBlockAction views a transient action of a block, such as the
	// opening of a chest or the start of a note block note.
	ViewBlockAction(pos cube.Pos, action, param byte)
	// ViewChunk views the chunk passed in its entirety. It is called after a
	// batch of block edits was flushed to the chunk.
	ViewChunk(pos ChunkPos, c *Chunk)
	// ViewWorldBorder views the current centre and diameter of the world
	// border. It is called when a player spawns and whenever the border
	// changes size.
	ViewWorldBorder(centre mgl64.Vec2, diameter float64)
}

// NopViewer is a Viewer implementation that does not implement any behaviour.
// It may be embedded by structs that only need to view a selection of
// changes.
type NopViewer struct{}

// Compile time check to make sure NopViewer implements Viewer.
var _ Viewer = NopViewer{}

func (NopViewer) ViewEntity(*Entity)                        {}
func (NopViewer) HideEntity(*Entity)                        {}
func (NopViewer) ViewEntityMovement(*Entity, mgl64.Vec3)    {}
func (NopViewer) ViewTime(int64, int64)                     {}
func (NopViewer) ViewBlockUpdate(cube.Pos, uint32)          {}
func (NopViewer) ViewBlockAction(cube.Pos, byte, byte)      {}
func (NopViewer) ViewChunk(ChunkPos, *Chunk)                {}
func (NopViewer) ViewWorldBorder(mgl64.Vec2, float64)       {}
