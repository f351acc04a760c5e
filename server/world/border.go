package world

import (
	"sync"

	"github.com/go-gl/mathgl/mgl64"
)

// DefaultBorderDiameter is the diameter of the border of a newly created
// world, large enough to never be reached in practice.
const DefaultBorderDiameter = 59999968.0

// WorldBorder is the square border of a World, centred on an X/Z position
// with a diameter in blocks. The border may be resized instantly or
// interpolated towards a target diameter over a number of ticks, with each
// tick of the World advancing the interpolation by one step. Changes to the
// border are shown to all players in the World.
type WorldBorder struct {
	w *World

	mu        sync.Mutex
	centre    mgl64.Vec2
	diameter  float64
	target    float64
	remaining int64
}

// newWorldBorder creates the border of a new world with the default diameter,
// centred on the origin.
func newWorldBorder() *WorldBorder {
	return &WorldBorder{diameter: DefaultBorderDiameter, target: DefaultBorderDiameter}
}

// Centre returns the X/Z position the border is centred on.
func (b *WorldBorder) Centre() mgl64.Vec2 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.centre
}

// SetCentre moves the centre of the border to the X/Z position passed and
// shows the change to all players immediately.
func (b *WorldBorder) SetCentre(centre mgl64.Vec2) {
	b.mu.Lock()
	b.centre = centre
	diameter := b.diameter
	b.mu.Unlock()
	if b.w != nil {
		b.w.broadcastBorder(centre, diameter)
	}
}

// Diameter returns the current diameter of the border in blocks. While the
// border is resizing, this is the interpolated diameter of the current tick.
func (b *WorldBorder) Diameter() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.diameter
}

// TargetDiameter returns the diameter the border is resizing towards. It
// equals Diameter when no resize is in progress.
func (b *WorldBorder) TargetDiameter() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.target
}

// SetDiameter resizes the border to the diameter passed. If over is positive,
// the border interpolates from its current diameter to the new one over that
// many ticks. Otherwise the resize is instant and shown to all players
// immediately.
func (b *WorldBorder) SetDiameter(diameter float64, over int64) {
	b.mu.Lock()
	b.target = diameter
	if over > 0 {
		b.remaining = over
		b.mu.Unlock()
		return
	}
	b.diameter = diameter
	b.remaining = 0
	centre := b.centre
	b.mu.Unlock()
	if b.w != nil {
		b.w.broadcastBorder(centre, diameter)
	}
}

// Contains reports whether the X/Z coordinates of the position passed lie
// within the border.
func (b *WorldBorder) Contains(pos mgl64.Vec3) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	half := b.diameter / 2
	dx, dz := pos[0]-b.centre[0], pos[2]-b.centre[1]
	return dx >= -half && dx <= half && dz >= -half && dz <= half
}

// Init pushes the current state of the border to a viewer. It is called once
// for every player entering the World.
func (b *WorldBorder) Init(v Viewer) {
	b.mu.Lock()
	centre, diameter := b.centre, b.diameter
	b.mu.Unlock()
	v.ViewWorldBorder(centre, diameter)
}

// update advances the border interpolation by one tick, moving the current
// diameter one step towards the target. The state after the step is returned,
// with changed false if no resize was in progress.
func (b *WorldBorder) update() (centre mgl64.Vec2, diameter float64, changed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.remaining <= 0 {
		return b.centre, b.diameter, false
	}
	b.diameter += (b.target - b.diameter) / float64(b.remaining)
	b.remaining--
	if b.remaining == 0 {
		// Land exactly on the target, whatever floating point error the steps
		// accumulated.
		b.diameter = b.target
	}
	return b.centre, b.diameter, true
}

// broadcastBorder pushes the border state passed to the session of every
// player currently in the world.
func (w *World) broadcastBorder(centre mgl64.Vec2, diameter float64) {
	for _, p := range w.Players() {
		if p.v != nil {
			p.v.ViewWorldBorder(centre, diameter)
		}
	}
}
