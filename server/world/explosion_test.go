package world

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/basalt-mc/basalt/server/block/cube"
	"github.com/go-gl/mathgl/mgl64"
)

// waitForBlock polls the block at pos until it has the runtime ID passed,
// failing the test if it does not within a reasonable time.
func waitForBlock(t *testing.T, w *World, pos cube.Pos, rid uint32) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		got, err := w.Block(pos)
		if err != nil {
			t.Fatalf("block at %v: %v", pos, err)
		}
		if got == rid {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("block at %v never became %v, still %v", pos, rid, got)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

type recordingExplosion struct {
	mu       sync.Mutex
	w        *World
	pos      mgl64.Vec3
	strength float64
	data     map[string]any
	calls    int
}

func (e *recordingExplosion) Explode(w *World, pos mgl64.Vec3, strength float64, data map[string]any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.w, e.pos, e.strength, e.data = w, pos, strength, data
	e.calls++
}

func TestWorldExplodeWithoutStrategy(t *testing.T) {
	w := newTestWorld(t, Config{})
	err := w.Explode(mgl64.Vec3{8, 64, 8}, 4, nil)
	if !errors.Is(err, ErrNoExplosionStrategy) {
		t.Fatalf("explode without strategy: got %v, want ErrNoExplosionStrategy", err)
	}
}

func TestWorldExplodeDelegates(t *testing.T) {
	w := newTestWorld(t, Config{})
	rec := &recordingExplosion{}
	w.SetExplosionStrategy(rec)
	if w.ExplosionStrategy() != rec {
		t.Fatal("registered strategy not returned")
	}

	data := map[string]any{"cause": "tnt"}
	if err := w.Explode(mgl64.Vec3{1, 2, 3}, 4.5, data); err != nil {
		t.Fatalf("explode: %v", err)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.calls != 1 {
		t.Fatalf("strategy calls: got %v, want 1", rec.calls)
	}
	if rec.w != w || rec.pos != (mgl64.Vec3{1, 2, 3}) || rec.strength != 4.5 {
		t.Fatalf("strategy received %v, %v, %v", rec.w, rec.pos, rec.strength)
	}
	if rec.data["cause"] != "tnt" {
		t.Fatal("extra data was not passed through")
	}
}

func TestRadiusExplosion(t *testing.T) {
	reg := NewRegistry()
	stone := reg.Register(BlockState{Name: "minecraft:stone", Version: CurrentBlockVersion})
	w := newTestWorld(t, Config{Blocks: reg})
	retrieveChunk(t, w, ChunkPos{0, 0})
	w.SetExplosionStrategy(RadiusExplosion{})

	for x := 4; x <= 12; x++ {
		for y := 60; y <= 68; y++ {
			for z := 4; z <= 12; z++ {
				if err := w.SetBlock(cube.Pos{x, y, z}, stone); err != nil {
					t.Fatalf("set block: %v", err)
				}
			}
		}
	}

	if err := w.Explode(mgl64.Vec3{8, 64, 8}, 2.5, nil); err != nil {
		t.Fatalf("explode: %v", err)
	}

	// The batch applying the explosion is asynchronous; wait for the centre
	// to clear before checking the rest of the sphere.
	waitForBlock(t, w, cube.Pos{8, 64, 8}, AirRID)

	for _, tc := range []struct {
		pos  cube.Pos
		want uint32
	}{
		// Offsets with a squared distance within 2.5² = 6.25 are carved out.
		{cube.Pos{10, 64, 8}, AirRID}, // 4
		{cube.Pos{8, 66, 8}, AirRID},  // 4
		{cube.Pos{10, 65, 9}, AirRID}, // 6
		// Anything farther out survives.
		{cube.Pos{11, 64, 8}, stone}, // 9
		{cube.Pos{8, 67, 8}, stone},  // 9
		{cube.Pos{10, 65, 10}, stone}, // 9
	} {
		rid, err := w.Block(tc.pos)
		if err != nil {
			t.Fatalf("block at %v: %v", tc.pos, err)
		}
		if rid != tc.want {
			t.Errorf("block at %v after explosion: got %v, want %v", tc.pos, rid, tc.want)
		}
	}
}

func TestRadiusExplosionSkipsUnloadedChunks(t *testing.T) {
	reg := NewRegistry()
	stone := reg.Register(BlockState{Name: "minecraft:stone", Version: CurrentBlockVersion})
	w := newTestWorld(t, Config{Blocks: reg})
	retrieveChunk(t, w, ChunkPos{0, 0})
	w.SetExplosionStrategy(RadiusExplosion{})

	if err := w.SetBlock(cube.Pos{1, 64, 1}, stone); err != nil {
		t.Fatalf("set block: %v", err)
	}

	// The sphere overlaps the unloaded chunks on the negative side of the
	// origin; those are skipped while the resident part is still carved.
	if err := w.Explode(mgl64.Vec3{0, 64, 0}, 2, nil); err != nil {
		t.Fatalf("explode: %v", err)
	}
	waitForBlock(t, w, cube.Pos{1, 64, 1}, AirRID)

	if _, ok := w.Chunk(ChunkPos{-1, 0}); ok {
		t.Fatal("explosion loaded a chunk")
	}
}

func TestRadiusExplosionZeroStrength(t *testing.T) {
	reg := NewRegistry()
	stone := reg.Register(BlockState{Name: "minecraft:stone", Version: CurrentBlockVersion})
	w := newTestWorld(t, Config{Blocks: reg})
	retrieveChunk(t, w, ChunkPos{0, 0})
	w.SetExplosionStrategy(RadiusExplosion{})

	if err := w.SetBlock(cube.Pos{8, 64, 8}, stone); err != nil {
		t.Fatalf("set block: %v", err)
	}
	if err := w.Explode(mgl64.Vec3{8, 64, 8}, 0, nil); err != nil {
		t.Fatalf("explode: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if rid, _ := w.Block(cube.Pos{8, 64, 8}); rid != stone {
		t.Fatal("zero-strength explosion removed a block")
	}
}
