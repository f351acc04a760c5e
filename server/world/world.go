package world

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/basalt-mc/basalt/server/block/cube"
	"github.com/basalt-mc/basalt/server/event"
	"github.com/df-mc/goleveldb/leveldb"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
	"golang.org/x/exp/maps"
)

var (
	// ErrChunkNotLoaded is returned by operations that require a loaded chunk
	// at a position where none is currently resident. Chunks are never loaded
	// implicitly by such operations.
	ErrChunkNotLoaded = errors.New("chunk not loaded")
	// ErrEntityAddCancelled is returned by World.AddEntity if the Handler of
	// the World cancelled the addition of the entity.
	ErrEntityAddCancelled = errors.New("entity addition cancelled")
	// ErrEntityRemoveCancelled is returned by World.RemoveEntity if the
	// Handler of the World cancelled the removal of the entity.
	ErrEntityRemoveCancelled = errors.New("entity removal cancelled")
	// ErrEntityNotInWorld is returned by World.MoveEntity if the entity moved
	// does not currently belong to the World.
	ErrEntityNotInWorld = errors.New("entity not in world")
	// ErrNegativeTimeRate is returned by World.SetTimeRate if a negative rate
	// is passed. Time of day never runs backwards.
	ErrNegativeTimeRate = errors.New("time rate must not be negative")
	// ErrNoExplosionStrategy is returned by World.Explode if no
	// ExplosionStrategy was registered on the World.
	ErrNoExplosionStrategy = errors.New("no explosion strategy registered")
	// ErrWorldClosed is returned by operations called after the World was
	// closed.
	ErrWorldClosed = errors.New("world closed")
	// ErrUnknownBlock is returned when a custom block identifier cannot be
	// resolved through the World's BlockRegistry.
	ErrUnknownBlock = errors.New("unknown block identifier")
)

// World implements the runtime of a single game world. It tracks the chunks
// currently resident in memory, the entities inside them and the visibility
// relations between those entities, and broadcasts changes to the sessions
// viewing it. All methods of World are safe for use by multiple goroutines.
type World struct {
	conf Config
	ra   cube.Range

	set     *Settings
	handler atomic.Pointer[Handler]
	border  *WorldBorder

	o       sync.Once
	closing chan struct{}
	running sync.WaitGroup

	deferredMu sync.Mutex
	deferred   []func(*World)

	expMu     sync.Mutex
	explosion ExplosionStrategy

	chunkMu sync.RWMutex
	// chunks holds the chunks currently resident in the World. Operations
	// that need a chunk fail if it is absent here: chunks only enter the map
	// through RetrieveChunk and CreateChunk.
	chunks map[ChunkPos]*Chunk
	// pending holds, per chunk position, the callbacks waiting for a chunk
	// retrieval in flight. Concurrent retrievals of the same position
	// coalesce into a single entry.
	pending map[ChunkPos]*pendingChunk

	retrievalQueue chan retrievalTask
	// retrievalQueueSaturation counts how often retrieval tasks had to be
	// enqueued asynchronously because the worker queue was full. We use this
	// to rate-limit backpressure warnings so operators can tune queue and
	// worker sizes.
	retrievalQueueSaturation   atomic.Uint64
	lastRetrievalSaturationLog atomic.Uint64

	flushQueue             chan flushTask
	flushQueueSaturation   atomic.Uint64
	lastFlushSaturationLog atomic.Uint64

	// emu guards the spatial entity index below. Index mutation is a single
	// critical section: the chunk buckets, the per-kind sets and the reverse
	// lookup always change together.
	emu sync.Mutex
	// buckets holds the entities of each chunk, keyed by the packed index of
	// the chunk position. Buckets are removed as soon as they turn empty.
	buckets map[int64]map[*Entity]struct{}
	// inChunk is the reverse lookup of buckets, holding the packed chunk
	// index every entity currently resides in.
	inChunk map[*Entity]int64
	byKind  map[EntityKind]map[*Entity]struct{}
}

// pendingChunk tracks a chunk retrieval in flight. The create field is
// upgraded if a forced regeneration is requested while a load is pending.
type pendingChunk struct {
	create bool
	cbs    []func(*Chunk)
}

// retrievalTask instructs a retrieval worker to produce the chunk at a
// position, either by loading it from the Provider or by generating it.
type retrievalTask struct {
	pos ChunkPos
}

// New creates a new World with all default settings. Chunks are neither
// loaded nor saved and every chunk retrieved is empty.
func New() *World {
	var conf Config
	return conf.New()
}

// Name returns the display name of the world.
func (w *World) Name() string {
	w.set.Lock()
	defer w.set.Unlock()
	return w.set.Name
}

// UUID returns the unique identifier of the world, generated or passed upon
// construction.
func (w *World) UUID() uuid.UUID {
	return w.conf.UUID
}

// Dimension returns the Dimension assigned to the World in its Config.
func (w *World) Dimension() Dimension {
	return w.conf.Dim
}

// Range returns the range in blocks of the World (min and max). It is
// equivalent to calling World.Dimension().Range().
func (w *World) Range() cube.Range {
	return w.ra
}

// Blocks returns the BlockRegistry the World resolves custom block
// identifiers through.
func (w *World) Blocks() BlockRegistry {
	return w.conf.Blocks
}

// Border returns the WorldBorder of the World.
func (w *World) Border() *WorldBorder {
	return w.border
}

// Age returns the number of ticks the world has existed for. The age advances
// by exactly one every tick and is unaffected by the time rate.
func (w *World) Age() int64 {
	if w == nil {
		return 0
	}
	w.set.Lock()
	defer w.set.Unlock()
	return w.set.Age
}

// Time returns the current time of day of the world.
func (w *World) Time() int64 {
	if w == nil {
		return 0
	}
	w.set.Lock()
	defer w.set.Unlock()
	return w.set.Time
}

// SetTime sets the time of day of the world and pushes the new time to all
// players immediately, regardless of the periodic broadcast interval.
func (w *World) SetTime(t int64) {
	if w == nil {
		return
	}
	w.set.Lock()
	w.set.Time = t
	age := w.set.Age
	w.set.Unlock()
	w.broadcastTime(age, t)
}

// TimeRate returns the amount of time of day added to the world's time every
// tick. The default rate is 1; a rate of 0 freezes the time of day.
func (w *World) TimeRate() int64 {
	w.set.Lock()
	defer w.set.Unlock()
	return w.set.TimeRate
}

// SetTimeRate changes the amount of time of day added to the world's time
// every tick. SetTimeRate returns an error wrapping ErrNegativeTimeRate if
// rate is negative: time of day never runs backwards.
func (w *World) SetTimeRate(rate int64) error {
	if rate < 0 {
		return fmt.Errorf("set time rate to %v: %w", rate, ErrNegativeTimeRate)
	}
	w.set.Lock()
	defer w.set.Unlock()
	w.set.TimeRate = rate
	return nil
}

// SetTimeBroadcastInterval changes the minimum duration between two periodic
// time broadcasts to players. Passing 0 or a negative duration disables the
// periodic broadcast, leaving SetTime as the only way time reaches players.
func (w *World) SetTimeBroadcastInterval(d time.Duration) {
	if d < 0 {
		d = 0
	}
	w.set.Lock()
	defer w.set.Unlock()
	w.set.TimeBroadcastInterval = d
}

// broadcastTime pushes a time update to the session of every player currently
// in the world.
func (w *World) broadcastTime(age, t int64) {
	for _, p := range w.Players() {
		if p.v != nil {
			p.v.ViewTime(age, t)
		}
	}
}

// Handle changes the current Handler of the world. As a result, events called
// by the world will call the methods of the Handler passed. Handle sets the
// world's Handler to NopHandler if nil is passed.
func (w *World) Handle(h Handler) {
	if w == nil {
		return
	}
	if h == nil {
		h = NopHandler{}
	}
	h = wrapWorldHandler(w, h)
	w.handler.Store(&h)
}

// Handler returns the Handler of the world.
func (w *World) Handler() Handler {
	if w == nil {
		return NopHandler{}
	}
	return *w.handler.Load()
}

// AddEntity adds an entity to the World. If the entity currently belongs to
// another World, it is first removed from it. The chunk at the entity's
// position must be resident before the entity may be added: AddEntity returns
// an error wrapping ErrChunkNotLoaded otherwise and never loads the chunk
// itself. The World's Handler may cancel the addition, upon which
// ErrEntityAddCancelled is returned and no state is changed.
//
// Once added, the entity is paired up with the entities within its view
// distance: a player becomes a viewer of every entity in range, while a
// non-player entity becomes a viewer of the players in range only if it is
// auto-viewable. Players are additionally shown the current world border and
// time of day.
func (w *World) AddEntity(e *Entity) error {
	if prev := e.World(); prev == w {
		return nil
	} else if prev != nil {
		if err := prev.RemoveEntity(e); err != nil {
			return fmt.Errorf("add entity: evict from previous world: %w", err)
		}
	}
	ctx := event.C(w)
	if w.Handler().HandleEntityAdd(ctx, e); ctx.Cancelled() {
		return ErrEntityAddCancelled
	}
	pos := ChunkPosFromVec3(e.Position())
	if _, ok := w.Chunk(pos); !ok {
		return fmt.Errorf("add entity: chunk %v: %w", pos, ErrChunkNotLoaded)
	}

	// Pair up visibility with the occupants in range before the entity itself
	// enters the index, so that it never pairs up with itself.
	for _, other := range w.entitiesWithin(pos, e.ViewDistance()) {
		w.pairVisibility(e, other)
	}

	if e.kind == KindPlayer && e.v != nil {
		w.border.Init(e.v)
		w.set.Lock()
		age, t := w.set.Age, w.set.Time
		w.set.Unlock()
		e.v.ViewTime(age, t)
	}

	w.place(e, pos)
	e.setWorld(w)
	if e.kind == KindPlayer && e.v != nil {
		w.addChunkViewer(e.v, pos, e.ViewDistance())
	}
	return nil
}

// RemoveEntity removes an entity from the World. If the entity does not
// belong to the World, nothing happens. The World's Handler may cancel the
// removal, upon which ErrEntityRemoveCancelled is returned and the entity
// stays. All visibility edges of the entity, in both directions, are torn
// down before the entity leaves the index, so despawn notifications go out
// while the index is still consistent.
func (w *World) RemoveEntity(e *Entity) error {
	if e.World() != w {
		return nil
	}
	ctx := event.C(w)
	if w.Handler().HandleEntityRemove(ctx, e); ctx.Cancelled() {
		return ErrEntityRemoveCancelled
	}

	for _, viewer := range e.Viewers() {
		e.RemoveViewer(viewer)
	}
	for _, viewed := range e.Viewing() {
		viewed.RemoveViewer(e)
	}

	pos, ok := w.evict(e)
	if ok && e.kind == KindPlayer && e.v != nil {
		w.removeChunkViewer(e.v, pos, e.ViewDistance())
	}
	e.setWorld(nil)
	return nil
}

// MoveEntity moves an entity that belongs to the World to a new position. If
// the new position lies in a different chunk, that chunk must be resident, or
// an error wrapping ErrChunkNotLoaded is returned and the entity stays where
// it was. Moving across chunks updates the spatial index and pairs up or
// tears down visibility with the entities entering or leaving range. The
// movement is shown to all current viewers of the entity.
func (w *World) MoveEntity(e *Entity, pos mgl64.Vec3) error {
	if e.World() != w {
		return fmt.Errorf("move entity: %w", ErrEntityNotInWorld)
	}
	old, ok := w.chunkOf(e)
	if !ok {
		return fmt.Errorf("move entity: %w", ErrEntityNotInWorld)
	}
	dest := ChunkPosFromVec3(pos)
	if dest != old {
		if _, ok := w.Chunk(dest); !ok {
			return fmt.Errorf("move entity: chunk %v: %w", dest, ErrChunkNotLoaded)
		}
		w.moveBucket(e, dest)

		dist := e.ViewDistance()
		gained, lost := w.entitiesInDelta(e, old, dest, dist)
		for _, other := range gained {
			w.pairVisibility(e, other)
		}
		for _, other := range lost {
			w.unpairVisibility(e, other)
		}
		if e.kind == KindPlayer && e.v != nil {
			w.moveChunkViewer(e.v, old, dest, dist)
		}
	}
	e.setPosition(pos)

	for _, viewer := range e.Viewers() {
		if viewer.v != nil {
			viewer.v.ViewEntityMovement(e, pos)
		}
	}
	return nil
}

// Entities returns the entities that currently reside in the chunk at the
// position passed, ordered by runtime ID. The slice returned is a snapshot:
// changes to it do not affect the World.
func (w *World) Entities(pos ChunkPos) []*Entity {
	w.emu.Lock()
	defer w.emu.Unlock()
	bucket, ok := w.buckets[pos.Index()]
	if !ok {
		return nil
	}
	return sortEntities(maps.Keys(bucket))
}

// Players returns all player entities in the World, ordered by runtime ID.
func (w *World) Players() []*Entity {
	return w.entitiesOfKind(KindPlayer)
}

// Creatures returns all creature entities in the World, ordered by runtime
// ID.
func (w *World) Creatures() []*Entity {
	return w.entitiesOfKind(KindCreature)
}

// Objects returns all object entities in the World, ordered by runtime ID.
func (w *World) Objects() []*Entity {
	return w.entitiesOfKind(KindObject)
}

// ExperienceOrbs returns all experience orb entities in the World, ordered by
// runtime ID.
func (w *World) ExperienceOrbs() []*Entity {
	return w.entitiesOfKind(KindExperienceOrb)
}

// EntityCount returns the number of entities currently tracked by the World.
func (w *World) EntityCount() int {
	w.emu.Lock()
	defer w.emu.Unlock()
	return len(w.inChunk)
}

// entitiesOfKind returns a snapshot of all entities of the kind passed,
// ordered by runtime ID.
func (w *World) entitiesOfKind(k EntityKind) []*Entity {
	w.emu.Lock()
	defer w.emu.Unlock()
	set, ok := w.byKind[k]
	if !ok {
		return nil
	}
	return sortEntities(maps.Keys(set))
}

// entitiesWithin returns a snapshot of all entities residing in chunks within
// the square with radius dist in chunks around centre.
func (w *World) entitiesWithin(centre ChunkPos, dist int) []*Entity {
	w.emu.Lock()
	defer w.emu.Unlock()
	var found []*Entity
	for x := centre[0] - int32(dist); x <= centre[0]+int32(dist); x++ {
		for z := centre[1] - int32(dist); z <= centre[1]+int32(dist); z++ {
			if bucket, ok := w.buckets[(ChunkPos{x, z}).Index()]; ok {
				found = append(found, maps.Keys(bucket)...)
			}
		}
	}
	return sortEntities(found)
}

// entitiesInDelta returns the entities gaining and losing pairing with e when
// its chunk changes from old to dest: the occupants of chunks that entered
// the view square and those of chunks that left it. The entity itself is
// skipped, as it already resides in the destination bucket.
func (w *World) entitiesInDelta(e *Entity, old, dest ChunkPos, dist int) (gained, lost []*Entity) {
	w.emu.Lock()
	defer w.emu.Unlock()
	for i, bucket := range w.buckets {
		pos := chunkPosFromIndex(i)
		in, was := inSquare(pos, dest, dist), inSquare(pos, old, dist)
		if in == was {
			continue
		}
		for other := range bucket {
			if other == e {
				continue
			}
			if in {
				gained = append(gained, other)
			} else {
				lost = append(lost, other)
			}
		}
	}
	return sortEntities(gained), sortEntities(lost)
}

// inSquare reports whether pos lies within the square with radius dist in
// chunks around centre.
func inSquare(pos, centre ChunkPos, dist int) bool {
	return pos[0] >= centre[0]-int32(dist) && pos[0] <= centre[0]+int32(dist) &&
		pos[1] >= centre[1]-int32(dist) && pos[1] <= centre[1]+int32(dist)
}

// pairVisibility establishes the visibility edges between two entities, each
// direction evaluated independently: an entity becomes a viewer of the other
// if it is a player, or if the other is a player and it is auto-viewable.
func (w *World) pairVisibility(a, b *Entity) {
	if shouldView(a, b) {
		b.AddViewer(a)
	}
	if shouldView(b, a) {
		a.AddViewer(b)
	}
}

// unpairVisibility tears down both directions of the visibility edges between
// two entities, if present.
func (w *World) unpairVisibility(a, b *Entity) {
	b.RemoveViewer(a)
	a.RemoveViewer(b)
}

// startAutoView pairs a non-player entity whose auto-viewable flag was just
// enabled with the players currently within its view distance.
func (w *World) startAutoView(e *Entity) {
	pos, ok := w.chunkOf(e)
	if !ok {
		return
	}
	for _, other := range w.entitiesWithin(pos, e.ViewDistance()) {
		if other.kind == KindPlayer {
			other.AddViewer(e)
		}
	}
}

// place inserts an entity into the spatial index at the chunk position
// passed.
func (w *World) place(e *Entity, pos ChunkPos) {
	i := pos.Index()
	w.emu.Lock()
	defer w.emu.Unlock()
	bucket, ok := w.buckets[i]
	if !ok {
		bucket = map[*Entity]struct{}{}
		w.buckets[i] = bucket
	}
	bucket[e] = struct{}{}
	set, ok := w.byKind[e.kind]
	if !ok {
		set = map[*Entity]struct{}{}
		w.byKind[e.kind] = set
	}
	set[e] = struct{}{}
	w.inChunk[e] = i
}

// evict removes an entity from the spatial index, dropping its bucket if it
// turns empty. The chunk position the entity resided in is returned, with ok
// false if the entity was not in the index.
func (w *World) evict(e *Entity) (ChunkPos, bool) {
	w.emu.Lock()
	defer w.emu.Unlock()
	i, ok := w.inChunk[e]
	if !ok {
		return ChunkPos{}, false
	}
	delete(w.inChunk, e)
	delete(w.byKind[e.kind], e)
	if bucket, ok := w.buckets[i]; ok {
		delete(bucket, e)
		if len(bucket) == 0 {
			delete(w.buckets, i)
		}
	}
	return chunkPosFromIndex(i), true
}

// moveBucket moves an entity from the bucket it currently resides in to the
// bucket of the chunk position passed, as a single index mutation.
func (w *World) moveBucket(e *Entity, dest ChunkPos) {
	i := dest.Index()
	w.emu.Lock()
	defer w.emu.Unlock()
	if old, ok := w.inChunk[e]; ok {
		if bucket, ok := w.buckets[old]; ok {
			delete(bucket, e)
			if len(bucket) == 0 {
				delete(w.buckets, old)
			}
		}
	}
	bucket, ok := w.buckets[i]
	if !ok {
		bucket = map[*Entity]struct{}{}
		w.buckets[i] = bucket
	}
	bucket[e] = struct{}{}
	w.inChunk[e] = i
}

// chunkOf returns the chunk position an entity currently resides in, with ok
// false if the entity is not in the index.
func (w *World) chunkOf(e *Entity) (ChunkPos, bool) {
	w.emu.Lock()
	defer w.emu.Unlock()
	i, ok := w.inChunk[e]
	if !ok {
		return ChunkPos{}, false
	}
	return chunkPosFromIndex(i), true
}

// addChunkViewer registers a session viewer on all resident chunks within
// dist chunks of centre, so that it receives the block and chunk updates
// happening inside them.
func (w *World) addChunkViewer(v Viewer, centre ChunkPos, dist int) {
	w.chunkMu.RLock()
	defer w.chunkMu.RUnlock()
	for pos, c := range w.chunks {
		if inSquare(pos, centre, dist) {
			c.addViewer(v)
		}
	}
}

// removeChunkViewer removes a session viewer from all resident chunks within
// dist chunks of centre.
func (w *World) removeChunkViewer(v Viewer, centre ChunkPos, dist int) {
	w.chunkMu.RLock()
	defer w.chunkMu.RUnlock()
	for pos, c := range w.chunks {
		if inSquare(pos, centre, dist) {
			c.removeViewer(v)
		}
	}
}

// moveChunkViewer updates the chunk viewer registrations of a session viewer
// whose centre chunk moved from old to dest.
func (w *World) moveChunkViewer(v Viewer, old, dest ChunkPos, dist int) {
	w.chunkMu.RLock()
	defer w.chunkMu.RUnlock()
	for pos, c := range w.chunks {
		in, was := inSquare(pos, dest, dist), inSquare(pos, old, dist)
		if in == was {
			continue
		}
		if in {
			c.addViewer(v)
		} else {
			c.removeViewer(v)
		}
	}
}

// Chunk returns the chunk at the position passed, with ok false if no chunk
// is resident there. Chunk never loads or generates: use RetrieveChunk to
// bring a chunk into memory.
func (w *World) Chunk(pos ChunkPos) (*Chunk, bool) {
	w.chunkMu.RLock()
	defer w.chunkMu.RUnlock()
	c, ok := w.chunks[pos]
	return c, ok
}

// LoadedChunkCount returns the number of chunks currently kept in memory by
// the world.
func (w *World) LoadedChunkCount() int {
	w.chunkMu.RLock()
	defer w.chunkMu.RUnlock()
	return len(w.chunks)
}

// RetrieveChunk makes the chunk at the position passed resident, loading it
// from the Provider or generating it if the Provider does not hold it, and
// calls cb with the chunk once it is. If the chunk is already resident, cb
// runs immediately on the calling goroutine; otherwise it runs on a retrieval
// worker. Concurrent retrievals of the same position coalesce into a single
// load. cb may be nil if only residency matters.
func (w *World) RetrieveChunk(pos ChunkPos, cb func(*Chunk)) error {
	select {
	case <-w.closing:
		return fmt.Errorf("retrieve chunk %v: %w", pos, ErrWorldClosed)
	default:
	}
	w.chunkMu.Lock()
	if c, ok := w.chunks[pos]; ok {
		w.chunkMu.Unlock()
		if cb != nil {
			cb(c)
		}
		return nil
	}
	if p, ok := w.pending[pos]; ok {
		if cb != nil {
			p.cbs = append(p.cbs, cb)
		}
		w.chunkMu.Unlock()
		return nil
	}
	p := &pendingChunk{}
	if cb != nil {
		p.cbs = append(p.cbs, cb)
	}
	w.pending[pos] = p
	w.chunkMu.Unlock()

	w.enqueueRetrieval(retrievalTask{pos: pos})
	return nil
}

// CreateChunk generates a fresh chunk at the position passed, replacing any
// chunk currently resident there, and calls cb with it once installed. Unlike
// RetrieveChunk, CreateChunk never consults the Provider.
func (w *World) CreateChunk(pos ChunkPos, cb func(*Chunk)) error {
	select {
	case <-w.closing:
		return fmt.Errorf("create chunk %v: %w", pos, ErrWorldClosed)
	default:
	}
	w.chunkMu.Lock()
	if p, ok := w.pending[pos]; ok {
		p.create = true
		if cb != nil {
			p.cbs = append(p.cbs, cb)
		}
		w.chunkMu.Unlock()
		return nil
	}
	p := &pendingChunk{create: true}
	if cb != nil {
		p.cbs = append(p.cbs, cb)
	}
	w.pending[pos] = p
	w.chunkMu.Unlock()

	w.enqueueRetrieval(retrievalTask{pos: pos})
	return nil
}

// UnloadChunk evicts the chunk at the position passed from memory, saving it
// through the Provider first if it was modified. All non-player entities
// residing in the chunk are removed from the World before the chunk leaves;
// players stay in the index. UnloadChunk returns an error wrapping
// ErrChunkNotLoaded if no chunk is resident at the position.
func (w *World) UnloadChunk(pos ChunkPos) error {
	c, ok := w.Chunk(pos)
	if !ok {
		return fmt.Errorf("unload chunk %v: %w", pos, ErrChunkNotLoaded)
	}
	for _, e := range w.Entities(pos) {
		if e.Kind() == KindPlayer {
			continue
		}
		// The Handler may cancel the removal, in which case the entity stays
		// in the index of the then-unloaded chunk.
		_ = w.RemoveEntity(e)
	}
	w.saveChunk(pos, c)
	w.chunkMu.Lock()
	delete(w.chunks, pos)
	w.chunkMu.Unlock()
	return nil
}

// SaveChunk saves the chunk at the position passed through the Provider, if
// it was modified since it was loaded or last saved. SaveChunk returns an
// error wrapping ErrChunkNotLoaded if no chunk is resident at the position.
func (w *World) SaveChunk(pos ChunkPos) error {
	c, ok := w.Chunk(pos)
	if !ok {
		return fmt.Errorf("save chunk %v: %w", pos, ErrChunkNotLoaded)
	}
	w.saveChunk(pos, c)
	return nil
}

// SaveAll saves all modified chunks currently resident through the Provider.
func (w *World) SaveAll() {
	w.chunkMu.RLock()
	chunks := maps.Clone(w.chunks)
	w.chunkMu.RUnlock()
	for pos, c := range chunks {
		w.saveChunk(pos, c)
	}
}

// saveChunk stores a single chunk through the Provider if the world is not
// read-only and the chunk was modified. Errors are logged rather than
// returned: a failed save of one chunk must not keep others from saving.
func (w *World) saveChunk(pos ChunkPos, c *Chunk) {
	if w.conf.ReadOnly || !c.markSaved() {
		return
	}
	if err := w.conf.Provider.StoreChunk(pos, c); err != nil {
		c.markModified()
		w.conf.Log.Error("save chunk: "+err.Error(), "X", pos[0], "Z", pos[1])
	}
}

// Block returns the block runtime ID at the position passed. Positions
// outside the world's vertical Range return air. Block returns an error
// wrapping ErrChunkNotLoaded if the chunk holding the position is not
// resident; it is never loaded implicitly.
func (w *World) Block(pos cube.Pos) (uint32, error) {
	if pos.OutOfBounds(w.ra) {
		// Fast way out.
		return AirRID, nil
	}
	c, ok := w.Chunk(chunkPosFromBlockPos(pos))
	if !ok {
		return AirRID, fmt.Errorf("block at %v: %w", pos, ErrChunkNotLoaded)
	}
	return c.Block(uint8(pos[0]), int16(pos[1]), uint8(pos[2])), nil
}

// SetBlock sets the block runtime ID at the position passed and shows the
// change to all viewers of the chunk. Positions outside the world's vertical
// Range are ignored. SetBlock returns an error wrapping ErrChunkNotLoaded if
// the chunk holding the position is not resident.
func (w *World) SetBlock(pos cube.Pos, rid uint32) error {
	if pos.OutOfBounds(w.ra) {
		// Fast way out.
		return nil
	}
	c, ok := w.Chunk(chunkPosFromBlockPos(pos))
	if !ok {
		return fmt.Errorf("set block at %v: %w", pos, ErrChunkNotLoaded)
	}
	c.SetBlock(uint8(pos[0]), int16(pos[1]), uint8(pos[2]), rid)
	for _, v := range c.Viewers() {
		v.ViewBlockUpdate(pos, rid)
	}
	return nil
}

// CustomBlock returns the custom block identifier at the position passed,
// with ok false if the position holds no custom block or its chunk is not
// resident.
func (w *World) CustomBlock(pos cube.Pos) (string, bool) {
	if pos.OutOfBounds(w.ra) {
		return "", false
	}
	c, ok := w.Chunk(chunkPosFromBlockPos(pos))
	if !ok {
		return "", false
	}
	return c.CustomBlock(uint8(pos[0]), int16(pos[1]), uint8(pos[2]))
}

// SetCustomBlock sets a custom block by its identifier at the position
// passed, resolving its runtime ID through the World's BlockRegistry, and
// shows the change to all viewers of the chunk. SetCustomBlock returns an
// error wrapping ErrUnknownBlock if the registry does not hold the
// identifier.
func (w *World) SetCustomBlock(pos cube.Pos, identifier string) error {
	if pos.OutOfBounds(w.ra) {
		return nil
	}
	rid, ok := w.conf.Blocks.RuntimeID(identifier)
	if !ok {
		return fmt.Errorf("set custom block %q: %w", identifier, ErrUnknownBlock)
	}
	c, ok := w.Chunk(chunkPosFromBlockPos(pos))
	if !ok {
		return fmt.Errorf("set custom block at %v: %w", pos, ErrChunkNotLoaded)
	}
	c.SetCustomBlock(uint8(pos[0]), int16(pos[1]), uint8(pos[2]), rid, identifier)
	for _, v := range c.Viewers() {
		v.ViewBlockUpdate(pos, rid)
	}
	return nil
}

// SendBlockAction shows a transient block action, such as a chest opening, to
// all viewers of the chunk holding the position passed. SendBlockAction
// returns an error wrapping ErrChunkNotLoaded if that chunk is not resident.
func (w *World) SendBlockAction(pos cube.Pos, action, param byte) error {
	c, ok := w.Chunk(chunkPosFromBlockPos(pos))
	if !ok {
		return fmt.Errorf("send block action at %v: %w", pos, ErrChunkNotLoaded)
	}
	for _, v := range c.Viewers() {
		v.ViewBlockAction(pos, action, param)
	}
	return nil
}

// Close closes the world: it stops the retrieval and flush workers, saves all
// modified chunks and closes the Provider. Operations called after Close fail
// with ErrWorldClosed or ErrChunkNotLoaded. Close blocks until all in-flight
// work finished and only ever runs once.
func (w *World) Close() error {
	w.o.Do(w.close)
	return nil
}

// close stops the world from accepting work, drains its workers and persists
// its chunks.
func (w *World) close() {
	w.Handler().HandleClose(w)
	w.Handle(NopHandler{})

	close(w.closing)
	w.running.Wait()

	w.conf.Log.Debug("Saving chunks in memory to disk...")
	w.chunkMu.Lock()
	chunks := w.chunks
	w.chunks = map[ChunkPos]*Chunk{}
	w.chunkMu.Unlock()
	for pos, c := range chunks {
		w.saveChunk(pos, c)
	}

	w.conf.Log.Debug("Closing provider...")
	if err := w.conf.Provider.Close(); err != nil {
		w.conf.Log.Error("close world provider: " + err.Error())
	}
}

// enqueueRetrieval hands a retrieval task to the worker queue. If the queue
// is full, the task is enqueued from a separate goroutine and a throttled
// saturation warning is emitted. Tasks arriving while the world closes run
// inline, so their callbacks still fire.
func (w *World) enqueueRetrieval(t retrievalTask) {
	select {
	case <-w.closing:
		w.runRetrieval(t)
	case w.retrievalQueue <- t:
	default:
		go func() {
			select {
			case <-w.closing:
				w.runRetrieval(t)
			case w.retrievalQueue <- t:
			}
		}()
		w.handleRetrievalBackpressure()
	}
}

// retrievalWorker continuously processes retrieval tasks from the queue. Each
// worker runs in its own goroutine and drains the queue fully before
// terminating when the world closes, so that no accepted retrieval ever loses
// its callbacks.
func (w *World) retrievalWorker() {
	defer w.running.Done()
	for {
		select {
		case t := <-w.retrievalQueue:
			w.runRetrieval(t)
		case <-w.closing:
			for {
				select {
				case t := <-w.retrievalQueue:
					w.runRetrieval(t)
				default:
					return
				}
			}
		}
	}
}

// runRetrieval produces the chunk a task asks for and installs it into the
// world. A panicking Generator is recovered and logged, with an empty chunk
// installed in its place so waiting callbacks never hang.
func (w *World) runRetrieval(t retrievalTask) {
	w.chunkMu.RLock()
	p, ok := w.pending[t.pos]
	w.chunkMu.RUnlock()
	if !ok {
		return
	}
	c := w.produceChunk(t.pos, p.create)
	if c == nil {
		c = NewChunk(w.ra)
	}
	w.installChunk(t.pos, c)
}

// produceChunk loads the chunk at a position from the Provider or, if the
// Provider does not hold it or create is set, generates it.
func (w *World) produceChunk(pos ChunkPos, create bool) (c *Chunk) {
	defer func() {
		if r := recover(); r != nil {
			w.conf.Log.Error("retrieve chunk: panic", "error", fmt.Sprint(r), "X", pos[0], "Z", pos[1])
			c = nil
		}
	}()
	if !create {
		c, err := w.conf.Provider.LoadChunk(pos)
		if err == nil {
			return c
		}
		if !errors.Is(err, leveldb.ErrNotFound) {
			// Unexpected storage error: return an empty chunk rather than
			// blocking every caller waiting on this position.
			w.conf.Log.Error("load chunk: "+err.Error(), "X", pos[0], "Z", pos[1])
			return NewChunk(w.ra)
		}
	}
	c = NewChunk(w.ra)
	w.conf.Generator.GenerateChunk(pos, c)
	return c
}

// installChunk makes a freshly produced chunk resident and fires the
// callbacks waiting for it. If a chunk was already resident at the position,
// its viewers carry over to the new chunk.
func (w *World) installChunk(pos ChunkPos, c *Chunk) {
	c.setPosition(pos)
	w.chunkMu.Lock()
	if old, ok := w.chunks[pos]; ok {
		for _, v := range old.Viewers() {
			c.addViewer(v)
		}
	}
	w.chunks[pos] = c
	var cbs []func(*Chunk)
	if p, ok := w.pending[pos]; ok {
		cbs = p.cbs
		delete(w.pending, pos)
	}
	w.chunkMu.Unlock()

	for _, cb := range cbs {
		cb(c)
	}
}

// handleRetrievalBackpressure increments backpressure counters and emits a
// throttled warning when the retrieval queue saturates. This gives operators
// concrete signal to adjust worker parallelism or queue sizing under heavy
// load.
func (w *World) handleRetrievalBackpressure() {
	count := w.retrievalQueueSaturation.Add(1)
	now := uint64(time.Now().UnixNano())
	last := w.lastRetrievalSaturationLog.Load()

	if last != 0 && time.Duration(now-last) < time.Minute {
		return
	}
	if !w.lastRetrievalSaturationLog.CompareAndSwap(last, now) {
		return
	}

	w.conf.Log.Warn(
		"world retrieval queue saturated: chunk load backlog detected.",
		"queued_tasks", count,
		"queue_size", cap(w.retrievalQueue),
		"workers", w.conf.RetrievalWorkers,
	)
}
