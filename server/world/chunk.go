package world

import (
	"encoding/binary"
	"fmt"
	"slices"
	"sync"

	"github.com/basalt-mc/basalt/server/block/cube"
	"github.com/cespare/xxhash/v2"
	"github.com/sandertv/gophertunnel/minecraft/nbt"
	"golang.org/x/exp/maps"
)

// Chunk is a 16x16 column of blocks of a World, currently loaded in memory.
// Chunks hold a numeric block runtime ID for every coordinate within them and
// an overlay of custom block identifiers for coordinates occupied by blocks
// that are not part of the numeric registry.
//
// Methods of a Chunk may be called from any goroutine. Batches flushed
// against the Chunk take its lock for the full duration of the flush, so that
// no reader can observe a half-applied batch.
type Chunk struct {
	mu  sync.Mutex
	pos ChunkPos
	r   cube.Range

	blocks []uint32
	custom map[int32]string

	// modified specifies if the chunk needs to be persisted on the next
	// save. It is set when blocks are written to the chunk and cleared when
	// the chunk is saved, so untouched chunks are never written to storage.
	modified bool

	// dirty specifies if payload and digest are stale and must be rebuilt
	// before they are handed out again.
	dirty   bool
	payload []byte
	digest  uint64

	viewers map[Viewer]struct{}
}

// NewChunk returns a Chunk with the vertical Range passed, filled entirely
// with air.
func NewChunk(r cube.Range) *Chunk {
	return &Chunk{
		r:       r,
		blocks:  make([]uint32, 256*(r.Height()+1)),
		custom:  make(map[int32]string),
		viewers: make(map[Viewer]struct{}),
		dirty:   true,
	}
}

// NewChunkWithData returns a Chunk with the vertical Range, block runtime IDs
// and custom block overlay passed. An error is returned if the length of the
// block data does not match the Range.
func NewChunkWithData(r cube.Range, blocks []uint32, custom map[int32]string) (*Chunk, error) {
	if len(blocks) != 256*(r.Height()+1) {
		return nil, fmt.Errorf("chunk data: expected %v block entries, got %v", 256*(r.Height()+1), len(blocks))
	}
	c := NewChunk(r)
	copy(c.blocks, blocks)
	maps.Copy(c.custom, custom)
	return c, nil
}

// Position returns the position of the chunk in its World. The position is
// set when the chunk is installed into a World and is the zero ChunkPos
// before that.
func (c *Chunk) Position() ChunkPos {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pos
}

// setPosition stamps the position of the chunk. It is called once by the
// World when the chunk becomes resident.
func (c *Chunk) setPosition(pos ChunkPos) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pos = pos
}

// Range returns the vertical Range of the chunk, as set upon creation.
func (c *Chunk) Range() cube.Range {
	return c.r
}

// Block returns the block runtime ID at a position local to the chunk. The x
// and z values must be in the range 0-15, while y spans the chunk's vertical
// Range. Coordinates outside the Range return air.
func (c *Chunk) Block(x uint8, y int16, z uint8) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	i, ok := c.offset(x, y, z)
	if !ok {
		return AirRID
	}
	return c.blocks[i]
}

// SetBlock sets the block runtime ID at a position local to the chunk. Any
// custom block overlay at the position is cleared. Coordinates outside the
// chunk's vertical Range are ignored.
func (c *Chunk) SetBlock(x uint8, y int16, z uint8, rid uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.set(x, y, z, rid)
}

// CustomBlock returns the custom block identifier at a position local to the
// chunk. The bool returned is false if the position holds no custom block.
func (c *Chunk) CustomBlock(x uint8, y int16, z uint8) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i, ok := c.offset(x, y, z)
	if !ok {
		return "", false
	}
	identifier, ok := c.custom[i]
	return identifier, ok
}

// SetCustomBlock sets a custom block at a position local to the chunk. The
// runtime ID passed is the numeric state shown for the custom block, usually
// resolved through the World's BlockRegistry.
func (c *Chunk) SetCustomBlock(x uint8, y int16, z uint8, rid uint32, identifier string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setCustom(x, y, z, rid, identifier)
}

// BlockData returns a copy of the block runtime IDs and the custom block
// overlay of the chunk, in the layout accepted by NewChunkWithData.
func (c *Chunk) BlockData() ([]uint32, map[int32]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	blocks := make([]uint32, len(c.blocks))
	copy(blocks, c.blocks)
	return blocks, maps.Clone(c.custom)
}

// Modified reports whether the chunk changed since it was loaded or
// generated and thus needs to be persisted on the next save.
func (c *Chunk) Modified() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.modified
}

// markSaved clears the modified flag, reporting whether it was set before the
// call. The World clears the flag right before persisting the chunk, so that
// edits made while the save is in flight mark the chunk again.
func (c *Chunk) markSaved() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.modified {
		return false
	}
	c.modified = false
	return true
}

// markModified flags the chunk as needing a save again, after an attempt to
// persist it failed.
func (c *Chunk) markModified() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.modified = true
}

// Payload returns the serialized representation of the chunk, rebuilding it
// first if blocks changed since the last call. The returned slice is shared
// and must not be modified.
func (c *Chunk) Payload() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.encode()
	return c.payload
}

// Digest returns a hash of the serialized representation of the chunk. Two
// calls return the same value if and only if no block changed in between.
func (c *Chunk) Digest() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.encode()
	return c.digest
}

// Viewers returns all viewers currently registered on the chunk.
func (c *Chunk) Viewers() []Viewer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return maps.Keys(c.viewers)
}

// addViewer registers a Viewer on the chunk so that it receives block and
// chunk updates happening inside it.
func (c *Chunk) addViewer(v Viewer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.viewers[v] = struct{}{}
}

// removeViewer removes a Viewer previously registered on the chunk.
func (c *Chunk) removeViewer(v Viewer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.viewers, v)
}

// set writes a block runtime ID without locking. The caller must hold c.mu.
func (c *Chunk) set(x uint8, y int16, z uint8, rid uint32) {
	i, ok := c.offset(x, y, z)
	if !ok {
		return
	}
	c.blocks[i] = rid
	delete(c.custom, i)
	c.modified, c.dirty = true, true
}

// setCustom writes a custom block without locking. The caller must hold
// c.mu.
func (c *Chunk) setCustom(x uint8, y int16, z uint8, rid uint32, identifier string) {
	i, ok := c.offset(x, y, z)
	if !ok {
		return
	}
	c.blocks[i] = rid
	c.custom[i] = identifier
	c.modified, c.dirty = true, true
}

// offset converts local chunk coordinates to an index into the block slice.
// The bool returned is false if y falls outside the chunk's vertical Range.
func (c *Chunk) offset(x uint8, y int16, z uint8) (int32, bool) {
	if int(y) < c.r.Min() || int(y) > c.r.Max() {
		return 0, false
	}
	return (int32(y)-int32(c.r.Min()))<<8 | int32(z&15)<<4 | int32(x&15), true
}

// chunkPayload is the serialized form of a chunk: a palette of the runtime
// IDs used, per-voxel indices into that palette and the custom block
// overlay as parallel lists.
type chunkPayload struct {
	Version       int32    `nbt:"version"`
	Palette       []int32  `nbt:"palette"`
	Indices       []byte   `nbt:"indices"`
	CustomOffsets []int32  `nbt:"customOffsets"`
	CustomNames   []string `nbt:"customNames"`
}

// encode rebuilds the serialized representation and its digest if blocks
// changed since the previous encode. The caller must hold c.mu.
func (c *Chunk) encode() {
	if !c.dirty {
		return
	}
	paletteIndex := make(map[uint32]uint32, 16)
	palette := make([]int32, 0, 16)
	indices := make([]byte, len(c.blocks)*4)
	for i, rid := range c.blocks {
		pi, ok := paletteIndex[rid]
		if !ok {
			pi = uint32(len(palette))
			paletteIndex[rid] = pi
			palette = append(palette, int32(rid))
		}
		binary.LittleEndian.PutUint32(indices[i*4:], pi)
	}

	doc := chunkPayload{
		Version:       CurrentBlockVersion,
		Palette:       palette,
		Indices:       indices,
		CustomOffsets: make([]int32, 0, len(c.custom)),
		CustomNames:   make([]string, 0, len(c.custom)),
	}
	offsets := maps.Keys(c.custom)
	slices.Sort(offsets)
	for _, off := range offsets {
		doc.CustomOffsets = append(doc.CustomOffsets, off)
		doc.CustomNames = append(doc.CustomNames, c.custom[off])
	}

	payload, err := nbt.MarshalEncoding(doc, nbt.LittleEndian)
	if err != nil {
		panic(fmt.Errorf("encode chunk payload: %w", err))
	}
	c.payload = payload
	c.digest = xxhash.Sum64(payload)
	c.dirty = false
}
