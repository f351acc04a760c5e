package generator

import (
	"github.com/aquilax/go-perlin"
	"github.com/basalt-mc/basalt/server/world"
)

const (
	// noiseScale converts block coordinates to noise space. Smaller values
	// stretch the terrain into wider, smoother hills.
	noiseScale = 0.01
	// noiseOctaves is the number of noise layers summed per column. Each
	// octave doubles the frequency and halves the amplitude of the previous
	// one, adding finer detail.
	noiseOctaves     = 4
	noisePersistence = 0.5
	noiseLacunarity  = 2.0
)

// NoisePalette holds the block runtime IDs a Noise generator builds its
// terrain from.
type NoisePalette struct {
	// Stone fills each column from the bottom of the world up to a few
	// blocks below the surface.
	Stone uint32
	// Dirt fills the three blocks directly below the surface, and the
	// surface itself where it lies under water.
	Dirt uint32
	// Surface is the single top block of each dry column.
	Surface uint32
	// Water floods every column whose surface lies below the water level.
	// Left zero, the terrain generates dry.
	Water uint32
}

// Noise is a world.Generator producing rolling hills from layered perlin
// noise. The same seed always produces the same terrain. A Noise generator is
// immutable after creation and therefore safe for the concurrent use the
// Generator contract requires.
type Noise struct {
	perlin  *perlin.Perlin
	palette NoisePalette
}

// NewNoise returns a Noise generator with the seed and palette passed.
func NewNoise(seed int64, palette NoisePalette) *Noise {
	return &Noise{
		perlin:  perlin.NewPerlin(2, 2, noiseOctaves, seed),
		palette: palette,
	}
}

// GenerateChunk fills the chunk passed with noise terrain. The surface height
// swings around a quarter of the world's vertical range, with the water level
// right at that base height.
func (n *Noise) GenerateChunk(pos world.ChunkPos, c *world.Chunk) {
	r := c.Range()
	span := float64(r.Height())
	base := float64(r.Min()) + span*0.25
	amplitude := span * 0.1
	waterY := int(base)

	for x := uint8(0); x < 16; x++ {
		for z := uint8(0); z < 16; z++ {
			wx := float64(int(pos[0])*16 + int(x))
			wz := float64(int(pos[1])*16 + int(z))
			surfaceY := int(base + n.octave2D(wx*noiseScale, wz*noiseScale)*amplitude)
			surfaceY = min(max(surfaceY, r.Min()), r.Max())

			for y := r.Min(); y <= surfaceY; y++ {
				rid := n.palette.Stone
				switch {
				case y == surfaceY && surfaceY >= waterY:
					rid = n.palette.Surface
				case y == surfaceY, y >= surfaceY-3:
					rid = n.palette.Dirt
				}
				c.SetBlock(x, int16(y), z, rid)
			}
			if n.palette.Water == world.AirRID {
				continue
			}
			for y := surfaceY + 1; y <= waterY; y++ {
				c.SetBlock(x, int16(y), z, n.palette.Water)
			}
		}
	}
}

// octave2D sums noiseOctaves layers of 2D perlin noise at the point passed,
// normalised back into the range [-1, 1].
func (n *Noise) octave2D(x, z float64) float64 {
	amplitude, frequency := 1.0, 1.0
	total, span := 0.0, 0.0
	for range noiseOctaves {
		total += n.perlin.Noise2D(x*frequency, z*frequency) * amplitude
		span += amplitude
		amplitude *= noisePersistence
		frequency *= noiseLacunarity
	}
	return total / span
}
