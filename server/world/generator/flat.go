// Package generator provides implementations of the world.Generator interface
// that worlds fill their ungenerated chunks with.
package generator

import (
	"github.com/basalt-mc/basalt/server/world"
)

// Flat is a world.Generator that generates every chunk from the same stack of
// block layers, producing perfectly flat, position-independent terrain.
type Flat struct {
	layers []uint32
}

// NewFlat returns a Flat generator building chunks from the block runtime IDs
// passed, the first of which becomes the bottom layer of the world. Layers
// beyond the top of a world's vertical range are dropped.
func NewFlat(layers ...uint32) Flat {
	return Flat{layers: layers}
}

// GenerateChunk fills the chunk passed with the generator's layers.
func (f Flat) GenerateChunk(_ world.ChunkPos, c *world.Chunk) {
	r := c.Range()
	for i, rid := range f.layers {
		y := r.Min() + i
		if y > r.Max() {
			break
		}
		if rid == world.AirRID {
			// Chunks start out as air, writing it again is wasted work.
			continue
		}
		for x := uint8(0); x < 16; x++ {
			for z := uint8(0); z < 16; z++ {
				c.SetBlock(x, int16(y), z, rid)
			}
		}
	}
}
