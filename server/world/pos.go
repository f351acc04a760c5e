package world

import (
	"fmt"
	"math"

	"github.com/basalt-mc/basalt/server/block/cube"
	"github.com/go-gl/mathgl/mgl64"
)

// ChunkPos holds the position of a chunk. Chunk positions are different from
// block positions in the way that increasing the X/Z by one means increasing
// the absolute value on the X/Z axis in terms of blocks by 16.
type ChunkPos [2]int32

// X returns the X coordinate of the chunk position.
func (p ChunkPos) X() int32 {
	return p[0]
}

// Z returns the Z coordinate of the chunk position.
func (p ChunkPos) Z() int32 {
	return p[1]
}

// String implements fmt.Stringer and returns (x, z).
func (p ChunkPos) String() string {
	return fmt.Sprintf("(%v, %v)", p[0], p[1])
}

// Index returns the position packed into a single int64, with the X
// coordinate in the upper 32 bits and the Z coordinate in the lower 32 bits.
// The index is used as key into the world's entity buckets.
func (p ChunkPos) Index() int64 {
	return int64(uint64(uint32(p[0]))<<32 | uint64(uint32(p[1])))
}

// chunkPosFromIndex returns the ChunkPos packed into the int64 index passed.
func chunkPosFromIndex(i int64) ChunkPos {
	return ChunkPos{int32(uint64(i) >> 32), int32(uint32(uint64(i)))}
}

// ChunkPosFromVec3 returns the ChunkPos of the chunk that a vector is in.
func ChunkPosFromVec3(vec3 mgl64.Vec3) ChunkPos {
	return ChunkPos{
		int32(math.Floor(vec3[0])) >> 4,
		int32(math.Floor(vec3[2])) >> 4,
	}
}

// chunkPosFromBlockPos returns the ChunkPos of the chunk that a block is in.
func chunkPosFromBlockPos(p cube.Pos) ChunkPos {
	return ChunkPos{int32(p[0] >> 4), int32(p[2] >> 4)}
}
