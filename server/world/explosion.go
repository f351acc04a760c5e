package world

import (
	"fmt"
	"math"

	"github.com/basalt-mc/basalt/server/block/cube"
	"github.com/go-gl/mathgl/mgl64"
)

// ExplosionStrategy turns an explosion request into block mutations on a
// World. Implementations decide which blocks an explosion affects and apply
// the changes through the World's ordinary block mutation operations, usually
// batched per chunk.
type ExplosionStrategy interface {
	// Explode applies the explosion with the centre, strength and optional
	// extra data passed to the World.
	Explode(w *World, pos mgl64.Vec3, strength float64, data map[string]any)
}

// SetExplosionStrategy registers the ExplosionStrategy used by World.Explode.
// Passing nil removes the current strategy.
func (w *World) SetExplosionStrategy(s ExplosionStrategy) {
	w.expMu.Lock()
	defer w.expMu.Unlock()
	w.explosion = s
}

// ExplosionStrategy returns the ExplosionStrategy currently registered on the
// World, or nil if none is.
func (w *World) ExplosionStrategy() ExplosionStrategy {
	w.expMu.Lock()
	defer w.expMu.Unlock()
	return w.explosion
}

// Explode runs the World's registered ExplosionStrategy with the centre,
// strength and optional extra data passed. Explode returns an error wrapping
// ErrNoExplosionStrategy if no strategy was registered: explosions are a
// feature the World must be explicitly equipped for.
func (w *World) Explode(pos mgl64.Vec3, strength float64, data map[string]any) error {
	w.expMu.Lock()
	s := w.explosion
	w.expMu.Unlock()
	if s == nil {
		return fmt.Errorf("explode at %v: %w", pos, ErrNoExplosionStrategy)
	}
	s.Explode(w, pos, strength, data)
	return nil
}

// RadiusExplosion is an ExplosionStrategy that clears every block within a
// spherical radius equal to the explosion strength, applying the changes as
// one Batch per affected chunk. Chunks not resident and positions outside the
// world's vertical range are skipped.
type RadiusExplosion struct{}

// Explode carves a sphere of air with radius strength around pos.
func (RadiusExplosion) Explode(w *World, pos mgl64.Vec3, strength float64, _ map[string]any) {
	if strength <= 0 {
		return
	}
	centre := cube.PosFromVec3(pos)
	r := int(math.Ceil(strength))
	rsq := strength * strength

	batches := map[ChunkPos]*Batch{}
	for x := -r; x <= r; x++ {
		for y := -r; y <= r; y++ {
			for z := -r; z <= r; z++ {
				if float64(x*x+y*y+z*z) > rsq {
					continue
				}
				bp := centre.Add(cube.Pos{x, y, z})
				if bp.OutOfBounds(w.Range()) {
					continue
				}
				cp := chunkPosFromBlockPos(bp)
				b, ok := batches[cp]
				if !ok {
					// A chunk that cannot be batched, because it is not
					// resident, stays in the map as nil so we do not retry it
					// for every block inside it.
					b, _ = w.Batch(cp)
					batches[cp] = b
				}
				if b == nil {
					continue
				}
				b.SetBlock(uint8(bp[0]), int16(bp[1]), uint8(bp[2]), AirRID)
			}
		}
	}
	for _, b := range batches {
		if b != nil {
			b.Flush(nil)
		}
	}
}
