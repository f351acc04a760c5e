package world

import (
	"github.com/df-mc/goleveldb/leveldb"
)

// Provider is the interface through which worlds load and store the chunks
// they hold from persistent storage.
type Provider interface {
	// LoadChunk loads the chunk at the position passed from storage. If no
	// chunk is stored at the position, an error wrapping
	// leveldb.ErrNotFound is returned, upon which the world generates the
	// chunk instead.
	LoadChunk(pos ChunkPos) (*Chunk, error)
	// StoreChunk stores the chunk at the position passed.
	StoreChunk(pos ChunkPos, c *Chunk) error
	// Close closes the provider. No more chunks are loaded or stored after
	// a call to Close.
	Close() error
}

// NopProvider is a Provider that does not store any data. Worlds with a
// NopProvider generate every chunk anew and lose all changes once closed.
type NopProvider struct{}

// LoadChunk always returns leveldb.ErrNotFound: nothing is ever stored.
func (NopProvider) LoadChunk(ChunkPos) (*Chunk, error) {
	return nil, leveldb.ErrNotFound
}

// StoreChunk discards the chunk passed.
func (NopProvider) StoreChunk(ChunkPos, *Chunk) error {
	return nil
}

// Close does nothing.
func (NopProvider) Close() error {
	return nil
}

// Generator generates the blocks of chunks that did not exist in a world's
// Provider. The position of the chunk passed may be used to generate
// position-dependent terrain.
type Generator interface {
	// GenerateChunk fills the empty chunk passed with blocks. GenerateChunk
	// is called concurrently from the world's retrieval workers and must be
	// safe for simultaneous calls.
	GenerateChunk(pos ChunkPos, c *Chunk)
}

// NopGenerator is a Generator that generates completely empty chunks.
type NopGenerator struct{}

// GenerateChunk leaves the chunk passed untouched: it consists of air only.
func (NopGenerator) GenerateChunk(ChunkPos, *Chunk) {}
