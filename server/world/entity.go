package world

import (
	"cmp"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
	"golang.org/x/exp/maps"
)

// EntityKind is the variant of an Entity. The kind of an entity decides how
// it takes part in the visibility graph of a World: players view every entity
// in range, while entities of other kinds view only players, and only while
// auto-viewable.
type EntityKind uint8

const (
	// KindCreature is a living non-player entity, such as a zombie or a cow.
	KindCreature EntityKind = iota
	// KindPlayer is an entity driven by a connected player. Player entities
	// usually carry a Viewer through which their session receives updates.
	KindPlayer
	// KindObject is a non-living entity, such as a dropped item or an arrow.
	KindObject
	// KindExperienceOrb is an experience orb entity.
	KindExperienceOrb
)

// String returns the name of the entity kind.
func (k EntityKind) String() string {
	switch k {
	case KindPlayer:
		return "player"
	case KindObject:
		return "object"
	case KindExperienceOrb:
		return "experience orb"
	}
	return "creature"
}

// encodeDefault returns the default network identifier of entities of the
// kind, used when an EntityConfig does not set one explicitly.
func (k EntityKind) encodeDefault() string {
	switch k {
	case KindPlayer:
		return "minecraft:player"
	case KindObject:
		return "minecraft:item"
	case KindExperienceOrb:
		return "minecraft:xp_orb"
	}
	return "minecraft:creature"
}

// entityRuntimeID holds the last runtime ID handed out to an entity. Runtime
// IDs are unique for the lifetime of the process and are never reused.
var entityRuntimeID atomic.Int64

// EntityConfig may be used to create a new Entity. Only the Kind field has to
// be set for non-player entities; all other values are optional.
type EntityConfig struct {
	// Kind is the variant of the entity. It defaults to KindCreature.
	Kind EntityKind
	// UUID is the unique ID of the entity. If left empty, a random UUID is
	// generated for it.
	UUID uuid.UUID
	// Type is the network identifier of the entity, such as
	// "minecraft:zombie". If left empty, a generic identifier based on the
	// Kind is used.
	Type string
	// Pos is the initial position of the entity. The chunk at this position
	// must be loaded in the target World before the entity may be added.
	Pos mgl64.Vec3
	// ViewDistance is the horizontal distance in chunks within which the
	// entity pairs up with other entities when added to or moved in a World.
	// It defaults to 8 if not set.
	ViewDistance int
	// DisableAutoView, if set, starts the entity with its auto-viewable flag
	// off, so that it does not automatically become a viewer of players in
	// range. The flag has no effect on entities of KindPlayer.
	DisableAutoView bool
	// Viewer is the sink that receives updates the entity views, usually the
	// session of a player. It may be nil for entities without a session.
	Viewer Viewer
}

// New creates an Entity using the settings in conf. The entity returned does
// not belong to any World until passed to (*World).AddEntity.
func (conf EntityConfig) New() *Entity {
	if conf.UUID == (uuid.UUID{}) {
		conf.UUID = uuid.New()
	}
	if conf.Type == "" {
		conf.Type = conf.Kind.encodeDefault()
	}
	if conf.ViewDistance < 1 {
		conf.ViewDistance = 8
	}
	return &Entity{
		rid:          entityRuntimeID.Add(1),
		id:           conf.UUID,
		kind:         conf.Kind,
		typ:          conf.Type,
		v:            conf.Viewer,
		pos:          conf.Pos,
		viewDistance: conf.ViewDistance,
		autoViewable: !conf.DisableAutoView,
		viewers:      map[*Entity]struct{}{},
		viewing:      map[*Entity]struct{}{},
	}
}

// Entity is a handle to an entity that may be placed in a World. An Entity
// belongs to at most one World at a time and holds the two directions of its
// visibility edges: the entities that view it and the entities it views.
type Entity struct {
	rid  int64
	id   uuid.UUID
	kind EntityKind
	typ  string
	v    Viewer

	mu           sync.Mutex
	w            *World
	pos          mgl64.Vec3
	viewDistance int
	autoViewable bool
	// viewers holds the entities that receive updates about this entity.
	viewers map[*Entity]struct{}
	// viewing holds the entities this entity receives updates about.
	viewing map[*Entity]struct{}
}

// RuntimeID returns the runtime ID of the entity. Runtime IDs increase
// monotonically for every entity created and are never reused, so they may be
// used as stable identity on the wire.
func (e *Entity) RuntimeID() int64 {
	return e.rid
}

// UUID returns the unique ID of the entity.
func (e *Entity) UUID() uuid.UUID {
	return e.id
}

// Kind returns the variant of the entity.
func (e *Entity) Kind() EntityKind {
	return e.kind
}

// EncodeEntity returns the network identifier of the entity, such as
// "minecraft:player".
func (e *Entity) EncodeEntity() string {
	return e.typ
}

// Viewer returns the update sink of the entity, or nil if the entity has
// none. Player entities generally return the session that drives them.
func (e *Entity) Viewer() Viewer {
	return e.v
}

// Position returns the current position of the entity. The position is
// updated through (*World).MoveEntity.
func (e *Entity) Position() mgl64.Vec3 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pos
}

// World returns the World the entity is currently added to, or nil if the
// entity does not belong to any.
func (e *Entity) World() *World {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.w
}

// ViewDistance returns the distance in chunks within which the entity pairs
// up with other entities.
func (e *Entity) ViewDistance() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.viewDistance
}

// AutoViewable reports whether the entity automatically becomes a viewer of
// players that come within range.
func (e *Entity) AutoViewable() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.autoViewable
}

// SetAutoViewable changes the auto-viewable flag of the entity. Flipping the
// flag on a non-player entity that is in a World immediately starts or stops
// it viewing the players currently in range.
func (e *Entity) SetAutoViewable(v bool) {
	e.mu.Lock()
	if e.autoViewable == v {
		e.mu.Unlock()
		return
	}
	e.autoViewable = v
	w := e.w
	e.mu.Unlock()

	if w == nil || e.kind == KindPlayer {
		return
	}
	if v {
		w.startAutoView(e)
		return
	}
	for _, viewed := range e.Viewing() {
		viewed.RemoveViewer(e)
	}
}

// Viewers returns the entities currently viewing the entity, ordered by
// runtime ID.
func (e *Entity) Viewers() []*Entity {
	e.mu.Lock()
	defer e.mu.Unlock()
	return sortEntities(maps.Keys(e.viewers))
}

// Viewing returns the entities this entity currently views, ordered by
// runtime ID.
func (e *Entity) Viewing() []*Entity {
	e.mu.Lock()
	defer e.mu.Unlock()
	return sortEntities(maps.Keys(e.viewing))
}

// AddViewer adds v as a viewer of the entity, so that v receives updates
// about it from that point on. If v carries a session, it is shown the
// entity. AddViewer returns false if v was already viewing the entity.
func (e *Entity) AddViewer(v *Entity) bool {
	if v == e {
		return false
	}
	lockPair(e, v)
	_, ok := e.viewers[v]
	if !ok {
		e.viewers[v] = struct{}{}
		v.viewing[e] = struct{}{}
	}
	unlockPair(e, v)

	if !ok && v.v != nil {
		v.v.ViewEntity(e)
	}
	return !ok
}

// RemoveViewer removes v as a viewer of the entity. If v carries a session,
// the entity is hidden from it. RemoveViewer returns false if v was not
// viewing the entity, in which case nothing happens.
func (e *Entity) RemoveViewer(v *Entity) bool {
	if v == e {
		return false
	}
	lockPair(e, v)
	_, ok := e.viewers[v]
	if ok {
		delete(e.viewers, v)
		delete(v.viewing, e)
	}
	unlockPair(e, v)

	if ok && v.v != nil {
		v.v.HideEntity(e)
	}
	return ok
}

// setWorld stores the World the entity belongs to. It is called by the World
// when the entity is placed in or evicted from its index.
func (e *Entity) setWorld(w *World) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.w = w
}

// setPosition stores the position of the entity. It is called by the World
// when the entity is moved.
func (e *Entity) setPosition(pos mgl64.Vec3) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pos = pos
}

// shouldView reports whether viewer is eligible to become a viewer of viewed.
// Players view every entity in range. Entities of any other kind view only
// players, and only while their auto-viewable flag is set.
func shouldView(viewer, viewed *Entity) bool {
	if viewer.kind == KindPlayer {
		return true
	}
	return viewed.kind == KindPlayer && viewer.AutoViewable()
}

// lockPair locks the mutexes of both entities passed in ascending runtime ID
// order, so that two goroutines pairing up the same two entities never
// deadlock.
func lockPair(a, b *Entity) {
	if a.rid < b.rid {
		a.mu.Lock()
		b.mu.Lock()
		return
	}
	b.mu.Lock()
	a.mu.Lock()
}

// unlockPair unlocks the mutexes of both entities passed.
func unlockPair(a, b *Entity) {
	a.mu.Unlock()
	b.mu.Unlock()
}

// sortEntities sorts a slice of entities by ascending runtime ID and returns
// it, so that snapshots of entity sets have a deterministic order.
func sortEntities(entities []*Entity) []*Entity {
	slices.SortFunc(entities, func(a, b *Entity) int {
		return cmp.Compare(a.rid, b.rid)
	})
	return entities
}
