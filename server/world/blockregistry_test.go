package world

import (
	"testing"
)

func TestRegistryAir(t *testing.T) {
	r := NewRegistry()

	rid, ok := r.RuntimeID("minecraft:air")
	if !ok || rid != AirRID {
		t.Fatalf("air runtime ID: got %v, %v, want %v", rid, ok, AirRID)
	}
	s, ok := r.State(AirRID)
	if !ok || s.Name != "minecraft:air" {
		t.Fatalf("state of runtime ID 0: got %q, %v", s.Name, ok)
	}
	if got := r.Count(); got != 1 {
		t.Fatalf("count of fresh registry: got %v, want 1", got)
	}
}

func TestRegistryRegister(t *testing.T) {
	r := NewRegistry()

	stone := r.Register(BlockState{Name: "minecraft:stone", Version: CurrentBlockVersion})
	if stone == AirRID {
		t.Fatal("stone was assigned the air runtime ID")
	}

	// Registering the same state again returns the runtime ID issued the
	// first time.
	again := r.Register(BlockState{Name: "minecraft:stone", Version: CurrentBlockVersion})
	if again != stone {
		t.Fatalf("duplicate registration: got %v, want %v", again, stone)
	}
	if got := r.Count(); got != 2 {
		t.Fatalf("count after duplicate registration: got %v, want 2", got)
	}

	rid, ok := r.RuntimeID("minecraft:stone")
	if !ok || rid != stone {
		t.Fatalf("runtime ID lookup: got %v, %v, want %v", rid, ok, stone)
	}
	s, ok := r.State(stone)
	if !ok || s.Name != "minecraft:stone" {
		t.Fatalf("state lookup: got %q, %v", s.Name, ok)
	}
}

func TestRegistryUnknown(t *testing.T) {
	r := NewRegistry()

	if _, ok := r.RuntimeID("basalt:never_registered"); ok {
		t.Fatal("lookup of an unregistered identifier succeeded")
	}
	if _, ok := r.State(999); ok {
		t.Fatal("lookup of an unissued runtime ID succeeded")
	}
}

func TestRegistryProperties(t *testing.T) {
	r := NewRegistry()

	upper := r.Register(BlockState{
		Name:       "minecraft:door",
		Properties: map[string]any{"half": "upper"},
		Version:    CurrentBlockVersion,
	})
	lower := r.Register(BlockState{
		Name:       "minecraft:door",
		Properties: map[string]any{"half": "lower"},
		Version:    CurrentBlockVersion,
	})
	if upper == lower {
		t.Fatal("states differing only in properties share a runtime ID")
	}

	rid, ok := r.StateRuntimeID(BlockState{Name: "minecraft:door", Properties: map[string]any{"half": "upper"}})
	if !ok || rid != upper {
		t.Fatalf("state runtime ID: got %v, %v, want %v", rid, ok, upper)
	}

	// A plain identifier lookup matches only the property-less registration.
	if _, ok := r.RuntimeID("minecraft:door"); ok {
		t.Fatal("identifier lookup matched a state with properties")
	}
}

func TestRegistryVersionIgnored(t *testing.T) {
	r := NewRegistry()

	first := r.Register(BlockState{Name: "minecraft:stone", Version: 1})
	second := r.Register(BlockState{Name: "minecraft:stone", Version: CurrentBlockVersion})
	// The version is not part of a state's identity: storage written by an
	// older release must resolve to the same runtime ID after an upgrade.
	if first != second {
		t.Fatalf("states differing only in version got runtime IDs %v and %v", first, second)
	}
}
