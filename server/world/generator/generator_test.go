package generator

import (
	"testing"

	"github.com/basalt-mc/basalt/server/block/cube"
	"github.com/basalt-mc/basalt/server/world"
)

func TestFlat(t *testing.T) {
	r := cube.Range{-64, 319}
	c := world.NewChunk(r)
	NewFlat(7, 3, 3, 2).GenerateChunk(world.ChunkPos{0, 0}, c)

	for _, tc := range []struct {
		y    int16
		want uint32
	}{
		{-64, 7},
		{-63, 3},
		{-62, 3},
		{-61, 2},
		{-60, world.AirRID},
		{64, world.AirRID},
	} {
		if got := c.Block(8, tc.y, 8); got != tc.want {
			t.Errorf("block at y=%v: got %v, want %v", tc.y, got, tc.want)
		}
	}

	// Every column of the chunk carries the same layers.
	if got := c.Block(0, -64, 15); got != 7 {
		t.Errorf("bottom layer at chunk corner: got %v, want 7", got)
	}

	// Flat terrain is position-independent: chunks anywhere are identical.
	other := world.NewChunk(r)
	NewFlat(7, 3, 3, 2).GenerateChunk(world.ChunkPos{-381, 4920}, other)
	if other.Digest() != c.Digest() {
		t.Error("flat chunks at different positions differ")
	}
}

func TestFlatLayersBeyondRange(t *testing.T) {
	r := cube.Range{0, 1}
	c := world.NewChunk(r)
	NewFlat(7, 3, 2, 2).GenerateChunk(world.ChunkPos{0, 0}, c)

	if got := c.Block(0, 0, 0); got != 7 {
		t.Errorf("block at y=0: got %v, want 7", got)
	}
	if got := c.Block(0, 1, 0); got != 3 {
		t.Errorf("block at y=1: got %v, want 3", got)
	}
}

func TestNoiseDeterministic(t *testing.T) {
	r := cube.Range{-64, 319}
	palette := NoisePalette{Stone: 1, Dirt: 2, Surface: 3, Water: 4}
	pos := world.ChunkPos{5, -13}

	a, b := world.NewChunk(r), world.NewChunk(r)
	NewNoise(42, palette).GenerateChunk(pos, a)
	NewNoise(42, palette).GenerateChunk(pos, b)
	if a.Digest() != b.Digest() {
		t.Fatal("equal seeds generated different chunks")
	}

	other := world.NewChunk(r)
	NewNoise(43, palette).GenerateChunk(pos, other)
	if other.Digest() == a.Digest() {
		t.Fatal("different seeds generated identical chunks")
	}
}

func TestNoiseColumns(t *testing.T) {
	r := cube.Range{-64, 319}
	palette := NoisePalette{Stone: 1, Dirt: 2, Surface: 3, Water: 4}
	c := world.NewChunk(r)
	NewNoise(42, palette).GenerateChunk(world.ChunkPos{0, 0}, c)

	for x := uint8(0); x < 16; x++ {
		for z := uint8(0); z < 16; z++ {
			if got := c.Block(x, int16(r.Min()), z); got != palette.Stone {
				t.Fatalf("column %v,%v: bottom block %v, want stone", x, z, got)
			}
			if got := c.Block(x, int16(r.Max()), z); got != world.AirRID {
				t.Fatalf("column %v,%v: top block %v, want air", x, z, got)
			}

			// Walking down from the top, every column ends in either a dry
			// surface block or water over a submerged dirt surface.
			y := int16(r.Max())
			for c.Block(x, y, z) == world.AirRID {
				y--
			}
			switch got := c.Block(x, y, z); got {
			case palette.Surface:
			case palette.Water:
				for c.Block(x, y, z) == palette.Water {
					y--
				}
				if got := c.Block(x, y, z); got != palette.Dirt {
					t.Fatalf("column %v,%v: flooded surface is %v, want dirt", x, z, got)
				}
			default:
				t.Fatalf("column %v,%v: surface block %v, want surface or water", x, z, got)
			}
		}
	}
}

func TestNoiseDry(t *testing.T) {
	r := cube.Range{0, 127}
	c := world.NewChunk(r)
	NewNoise(42, NoisePalette{Stone: 1, Dirt: 2, Surface: 3}).GenerateChunk(world.ChunkPos{0, 0}, c)

	for x := uint8(0); x < 16; x++ {
		for z := uint8(0); z < 16; z++ {
			y := int16(r.Max())
			for c.Block(x, y, z) == world.AirRID {
				y--
			}
			if got := c.Block(x, y, z); got != 3 && got != 2 {
				t.Fatalf("column %v,%v: top block %v without water palette", x, z, got)
			}
		}
	}
}
