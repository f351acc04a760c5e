package world

import (
	"fmt"
	"sort"
	"sync"

	"github.com/brentp/intintmap"
	"github.com/segmentio/fasthash/fnv1"
	"golang.org/x/exp/maps"
)

// CurrentBlockVersion is the version of blocks (states) of the game. This
// version is composed of 4 bytes indicating a version, interpreted as a big
// endian int. The current version represents 1.21.60.0.
const CurrentBlockVersion int32 = (1 << 24) | (21 << 16) | (60 << 8)

// AirRID is the runtime ID of air. A Registry always assigns air the runtime
// ID 0, so chunks zeroed out on creation consist entirely of air.
const AirRID uint32 = 0

// BlockState holds a combination of a name and properties, together with a
// version. It is the form in which blocks are identified in persistent
// storage and across game versions.
type BlockState struct {
	Name       string         `nbt:"name"`
	Properties map[string]any `nbt:"states"`
	Version    int32          `nbt:"version"`
}

// BlockRegistry is the narrow seam through which a World resolves block
// identifiers. Worlds never enumerate a registry: they only translate the
// identifiers and runtime IDs that pass through their operations.
type BlockRegistry interface {
	// RuntimeID finds the runtime ID of the block state registered with the
	// identifier passed and no properties. The bool returned is false if no
	// such block state was registered.
	RuntimeID(identifier string) (uint32, bool)
	// State returns the block state registered under the runtime ID passed.
	// The bool returned is false if the runtime ID was never issued.
	State(rid uint32) (BlockState, bool)
}

// Registry is the default BlockRegistry implementation. Block states are
// assigned dense runtime IDs in registration order, with air fixed at runtime
// ID 0. Lookup happens through a hash of the state's name and properties.
type Registry struct {
	mu     sync.RWMutex
	states []BlockState
	lookup *intintmap.Map
}

// NewRegistry returns a Registry with air registered under runtime ID 0.
func NewRegistry() *Registry {
	r := &Registry{lookup: intintmap.New(1024, 0.8)}
	r.Register(BlockState{Name: "minecraft:air", Version: CurrentBlockVersion})
	return r
}

// Register registers a block state and returns the runtime ID assigned to
// it. If a state with the same name and properties was registered before, the
// runtime ID issued at that time is returned instead.
func (r *Registry) Register(s BlockState) uint32 {
	h := int64(stateHash(s))
	r.mu.Lock()
	defer r.mu.Unlock()
	if rid, ok := r.lookup.Get(h); ok {
		return uint32(rid)
	}
	rid := uint32(len(r.states))
	r.states = append(r.states, s)
	r.lookup.Put(h, int64(rid))
	return rid
}

// RuntimeID finds the runtime ID of the block state registered with the
// identifier passed and no properties.
func (r *Registry) RuntimeID(identifier string) (uint32, bool) {
	return r.StateRuntimeID(BlockState{Name: identifier})
}

// StateRuntimeID finds the runtime ID issued for the block state passed. The
// bool returned is false if the state was never registered.
func (r *Registry) StateRuntimeID(s BlockState) (uint32, bool) {
	h := int64(stateHash(s))
	r.mu.RLock()
	defer r.mu.RUnlock()
	rid, ok := r.lookup.Get(h)
	return uint32(rid), ok
}

// State returns the block state registered under the runtime ID passed.
func (r *Registry) State(rid uint32) (BlockState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if int(rid) >= len(r.states) {
		return BlockState{}, false
	}
	return r.states[rid], true
}

// Count returns the number of block states registered.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.states)
}

// stateHash produces a hash of the name and properties of a block state. The
// version is deliberately left out so that upgraded states resolve to the
// runtime ID of their current form.
func stateHash(s BlockState) uint64 {
	h := fnv1.HashString64(s.Name)
	if len(s.Properties) == 0 {
		return h
	}
	keys := maps.Keys(s.Properties)
	sort.Strings(keys)
	for _, k := range keys {
		h = fnv1.AddString64(h, k)
		h = fnv1.AddString64(h, fmt.Sprint(s.Properties[k]))
	}
	return h
}
