package mcdb

import (
	"encoding/binary"
	"fmt"
	"slices"

	"github.com/basalt-mc/basalt/server/block/cube"
	"github.com/basalt-mc/basalt/server/world"
	"github.com/df-mc/goleveldb/leveldb"
	"github.com/df-mc/worldupgrader/blockupgrader"
	"github.com/klauspost/compress/zstd"
	"github.com/sandertv/gophertunnel/minecraft/nbt"
	"golang.org/x/exp/maps"
)

// tagChunk is the key suffix of database entries holding chunk documents.
const tagChunk = 'c'

// DB implements world.Provider on top of a leveldb database. Chunks are
// stored as zstd-compressed NBT documents holding a palette of block states
// by name, so that stored worlds survive changes to the numeric runtime IDs
// between releases. Methods of DB may be called concurrently.
type DB struct {
	conf Config
	ldb  *leveldb.DB
	enc  *zstd.Encoder
	dec  *zstd.Decoder
}

// chunkDoc is the NBT document a chunk is stored as. The vertical range
// travels with every chunk, making documents self-describing: loading them
// requires no out-of-band knowledge of the dimension they came from.
type chunkDoc struct {
	Version       int32          `nbt:"version"`
	RangeMin      int32          `nbt:"rangeMin"`
	RangeMax      int32          `nbt:"rangeMax"`
	Palette       []paletteEntry `nbt:"palette"`
	Indices       []byte         `nbt:"indices"`
	CustomOffsets []int32        `nbt:"customOffsets"`
	CustomNames   []string       `nbt:"customNames"`
}

// paletteEntry is a single block state in the palette of a chunkDoc.
type paletteEntry struct {
	Name       string         `nbt:"name"`
	Properties map[string]any `nbt:"states"`
	Version    int32          `nbt:"version"`
}

// LoadChunk loads the chunk at the position passed from the database. An
// error wrapping leveldb.ErrNotFound is returned if the database holds no
// chunk at the position.
func (db *DB) LoadChunk(pos world.ChunkPos) (*world.Chunk, error) {
	data, err := db.ldb.Get(chunkKey(pos), nil)
	if err != nil {
		return nil, fmt.Errorf("load chunk %v: %w", pos, err)
	}
	c, err := db.decode(pos, data)
	if err != nil {
		return nil, fmt.Errorf("load chunk %v: %w", pos, err)
	}
	return c, nil
}

// StoreChunk stores the chunk at the position passed in the database,
// overwriting any chunk previously stored there.
func (db *DB) StoreChunk(pos world.ChunkPos, c *world.Chunk) error {
	raw, err := nbt.MarshalEncoding(db.serialize(pos, c), nbt.LittleEndian)
	if err != nil {
		return fmt.Errorf("store chunk %v: %w", pos, err)
	}
	if err := db.ldb.Put(chunkKey(pos), db.enc.EncodeAll(raw, nil), nil); err != nil {
		return fmt.Errorf("store chunk %v: %w", pos, err)
	}
	return nil
}

// All calls fn for every chunk in the database in no particular order, until
// fn returns false or all chunks were visited. Chunks that fail to decode are
// logged and skipped rather than ending the iteration.
func (db *DB) All(fn func(pos world.ChunkPos, c *world.Chunk) bool) error {
	it := db.ldb.NewIterator(nil, nil)
	defer it.Release()
	for it.Next() {
		key := it.Key()
		if len(key) != 9 || key[8] != tagChunk {
			continue
		}
		pos := chunkKeyPos(key)
		c, err := db.decode(pos, it.Value())
		if err != nil {
			db.conf.Log.Error("iterate chunks: "+err.Error(), "X", pos[0], "Z", pos[1])
			continue
		}
		if !fn(pos, c) {
			break
		}
	}
	if err := it.Error(); err != nil {
		return fmt.Errorf("iterate chunks: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying database.
func (db *DB) Close() error {
	db.dec.Close()
	if err := db.enc.Close(); err != nil {
		return fmt.Errorf("close world database: %w", err)
	}
	if err := db.ldb.Close(); err != nil {
		return fmt.Errorf("close world database: %w", err)
	}
	return nil
}

// serialize converts a chunk to the document it is stored as, resolving the
// runtime IDs it holds to named block states.
func (db *DB) serialize(pos world.ChunkPos, c *world.Chunk) chunkDoc {
	blocks, custom := c.BlockData()
	r := c.Range()

	paletteIndex := make(map[uint32]uint32, 16)
	palette := make([]paletteEntry, 0, 16)
	indices := make([]byte, len(blocks)*4)
	for i, rid := range blocks {
		pi, ok := paletteIndex[rid]
		if !ok {
			s, found := db.conf.Blocks.State(rid)
			if !found {
				// The runtime ID was never issued by the registry configured
				// on the database. It cannot be named, so it cannot be
				// stored.
				db.conf.Log.Warn("store chunk: block state unknown to the registry, storing air.", "rid", rid, "X", pos[0], "Z", pos[1])
				s = world.BlockState{Name: "minecraft:air", Version: world.CurrentBlockVersion}
			}
			pi = uint32(len(palette))
			paletteIndex[rid] = pi
			palette = append(palette, paletteEntry{Name: s.Name, Properties: s.Properties, Version: s.Version})
		}
		binary.LittleEndian.PutUint32(indices[i*4:], pi)
	}

	doc := chunkDoc{
		Version:       world.CurrentBlockVersion,
		RangeMin:      int32(r.Min()),
		RangeMax:      int32(r.Max()),
		Palette:       palette,
		Indices:       indices,
		CustomOffsets: make([]int32, 0, len(custom)),
		CustomNames:   make([]string, 0, len(custom)),
	}
	offsets := maps.Keys(custom)
	slices.Sort(offsets)
	for _, off := range offsets {
		doc.CustomOffsets = append(doc.CustomOffsets, off)
		doc.CustomNames = append(doc.CustomNames, custom[off])
	}
	return doc
}

// decode decompresses and parses a chunk document, upgrading the block states
// in its palette and resolving them to current runtime IDs.
func (db *DB) decode(pos world.ChunkPos, data []byte) (*world.Chunk, error) {
	raw, err := db.dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}
	var doc chunkDoc
	if err := nbt.UnmarshalEncoding(raw, &doc, nbt.LittleEndian); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}

	r := cube.Range{int(doc.RangeMin), int(doc.RangeMax)}
	n := 256 * (r.Height() + 1)
	if doc.RangeMax < doc.RangeMin || len(doc.Indices) != n*4 {
		return nil, fmt.Errorf("document holds %v index bytes for range %v", len(doc.Indices), r)
	}
	if len(doc.CustomOffsets) != len(doc.CustomNames) {
		return nil, fmt.Errorf("document holds %v custom offsets but %v names", len(doc.CustomOffsets), len(doc.CustomNames))
	}

	// Old documents may hold outdated block states. Those are upgraded to
	// their current form before they are looked up, so that worlds saved by
	// previous releases keep loading.
	rids := make([]uint32, len(doc.Palette))
	for i, e := range doc.Palette {
		up := blockupgrader.Upgrade(blockupgrader.BlockState{
			Name:       e.Name,
			Properties: e.Properties,
			Version:    e.Version,
		})
		rid, ok := db.conf.Blocks.StateRuntimeID(world.BlockState{Name: up.Name, Properties: up.Properties, Version: up.Version})
		if !ok {
			db.conf.Log.Warn("load chunk: unknown block state, substituting air.", "name", up.Name, "X", pos[0], "Z", pos[1])
			rid = world.AirRID
		}
		rids[i] = rid
	}

	blocks := make([]uint32, n)
	for i := range blocks {
		pi := binary.LittleEndian.Uint32(doc.Indices[i*4:])
		if int(pi) >= len(rids) {
			return nil, fmt.Errorf("palette index %v out of bounds for palette of %v entries", pi, len(rids))
		}
		blocks[i] = rids[pi]
	}
	custom := make(map[int32]string, len(doc.CustomOffsets))
	for i, off := range doc.CustomOffsets {
		custom[off] = doc.CustomNames[i]
	}
	return world.NewChunkWithData(r, blocks, custom)
}

// chunkKey returns the database key of the chunk at the position passed: the
// packed position in big-endian byte order followed by the chunk tag.
func chunkKey(pos world.ChunkPos) []byte {
	key := make([]byte, 9)
	binary.BigEndian.PutUint64(key, uint64(pos.Index()))
	key[8] = tagChunk
	return key
}

// chunkKeyPos returns the position packed into a chunk key.
func chunkKeyPos(key []byte) world.ChunkPos {
	i := binary.BigEndian.Uint64(key)
	return world.ChunkPos{int32(i >> 32), int32(uint32(i))}
}
