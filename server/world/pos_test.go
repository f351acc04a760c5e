package world

import (
	"testing"

	"github.com/basalt-mc/basalt/server/block/cube"
	"github.com/go-gl/mathgl/mgl64"
)

func TestChunkPosIndex(t *testing.T) {
	for _, pos := range []ChunkPos{
		{0, 0},
		{1, -1},
		{-1, 1},
		{-1875000, 1875000},
		{2147483647, -2147483648},
	} {
		if got := chunkPosFromIndex(pos.Index()); got != pos {
			t.Errorf("index round trip of %v: got %v", pos, got)
		}
	}

	// Distinct positions must pack to distinct indices: the negative halves
	// of both axes must not collide with the positive ones.
	seen := map[int64]ChunkPos{}
	for x := int32(-3); x <= 3; x++ {
		for z := int32(-3); z <= 3; z++ {
			pos := ChunkPos{x, z}
			if other, ok := seen[pos.Index()]; ok {
				t.Fatalf("positions %v and %v share index %v", pos, other, pos.Index())
			}
			seen[pos.Index()] = pos
		}
	}
}

func TestChunkPosFromVec3(t *testing.T) {
	for _, tc := range []struct {
		vec  mgl64.Vec3
		want ChunkPos
	}{
		{mgl64.Vec3{0, 64, 0}, ChunkPos{0, 0}},
		{mgl64.Vec3{15.9, 64, 15.9}, ChunkPos{0, 0}},
		{mgl64.Vec3{16, 64, 16}, ChunkPos{1, 1}},
		// Negative coordinates floor away from zero: -0.1 is in chunk -1.
		{mgl64.Vec3{-0.1, 64, -0.1}, ChunkPos{-1, -1}},
		{mgl64.Vec3{-16, 64, -16.1}, ChunkPos{-1, -2}},
		{mgl64.Vec3{-17, 64, 31}, ChunkPos{-2, 1}},
	} {
		if got := ChunkPosFromVec3(tc.vec); got != tc.want {
			t.Errorf("chunk of %v: got %v, want %v", tc.vec, got, tc.want)
		}
	}
}

func TestChunkPosFromBlockPos(t *testing.T) {
	for _, tc := range []struct {
		pos  cube.Pos
		want ChunkPos
	}{
		{cube.Pos{0, 0, 0}, ChunkPos{0, 0}},
		{cube.Pos{15, 0, 15}, ChunkPos{0, 0}},
		{cube.Pos{16, 0, 15}, ChunkPos{1, 0}},
		{cube.Pos{-1, 0, -16}, ChunkPos{-1, -1}},
		{cube.Pos{-17, 0, 32}, ChunkPos{-2, 2}},
	} {
		if got := chunkPosFromBlockPos(tc.pos); got != tc.want {
			t.Errorf("chunk of block %v: got %v, want %v", tc.pos, got, tc.want)
		}
	}
}
