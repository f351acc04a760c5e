package world

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"
)

func TestWorldTickAdvancesTime(t *testing.T) {
	w := newTestWorld(t, Config{})
	if err := w.SetTimeRate(3); err != nil {
		t.Fatalf("set time rate: %v", err)
	}

	now := time.Now()
	w.Tick(now)
	w.Tick(now)

	if got := w.Age(); got != 2 {
		t.Fatalf("age after two ticks: got %v, want 2", got)
	}
	if got := w.Time(); got != 6 {
		t.Fatalf("time after two ticks at rate 3: got %v, want 6", got)
	}
}

func TestWorldTickWrapsTime(t *testing.T) {
	w := newTestWorld(t, Config{})
	w.SetTime(TimeFull - 1)
	if err := w.SetTimeRate(2); err != nil {
		t.Fatalf("set time rate: %v", err)
	}

	w.Tick(time.Now())
	if got := w.Time(); got != 1 {
		t.Fatalf("time after wrap: got %v, want 1", got)
	}
}

func TestWorldTickFrozenTime(t *testing.T) {
	w := newTestWorld(t, Config{})
	if err := w.SetTimeRate(0); err != nil {
		t.Fatalf("set time rate: %v", err)
	}
	w.SetTime(-5)

	w.Tick(time.Now())
	// A frozen clock must not advance and must not be normalised either: a
	// negative time set explicitly stays negative.
	if got := w.Time(); got != -5 {
		t.Fatalf("frozen time after tick: got %v, want -5", got)
	}
	if got := w.Age(); got != 1 {
		t.Fatalf("age must advance even with frozen time: got %v, want 1", got)
	}
}

func TestWorldDeferRunsNextTick(t *testing.T) {
	w := newTestWorld(t, Config{})

	ran := false
	w.Defer(func(dw *World) {
		if dw != w {
			t.Error("deferred function received the wrong world")
		}
		ran = true
	})
	if ran {
		t.Fatal("deferred function ran before the tick")
	}
	w.Tick(time.Now())
	if !ran {
		t.Fatal("deferred function did not run during the tick")
	}
}

func TestWorldDeferOrder(t *testing.T) {
	w := newTestWorld(t, Config{})

	var order []int
	for i := range 4 {
		w.Defer(func(*World) { order = append(order, i) })
	}
	w.Tick(time.Now())

	if len(order) != 4 {
		t.Fatalf("deferred functions run: got %v, want 4", len(order))
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("deferred functions ran out of order: %v", order)
		}
	}
}

func TestWorldDeferDrainsNested(t *testing.T) {
	w := newTestWorld(t, Config{})

	var order []string
	w.Defer(func(dw *World) {
		order = append(order, "outer")
		// A function deferred while the tick drains still runs within the
		// same tick.
		dw.Defer(func(*World) { order = append(order, "inner") })
	})
	w.Tick(time.Now())

	if len(order) != 2 || order[0] != "outer" || order[1] != "inner" {
		t.Fatalf("nested deferred functions: got %v, want [outer inner]", order)
	}
}

func TestWorldDeferPanicRecovered(t *testing.T) {
	w := newTestWorld(t, Config{})

	ran := false
	w.Defer(func(*World) { panic("boom") })
	w.Defer(func(*World) { ran = true })
	w.Tick(time.Now())

	if !ran {
		t.Fatal("a panicking deferred function stopped the drain")
	}
	if got := w.Age(); got != 1 {
		t.Fatalf("age after panicking deferred function: got %v, want 1", got)
	}
}

func TestWorldDeferNilPanics(t *testing.T) {
	w := newTestWorld(t, Config{})
	defer func() {
		if recover() == nil {
			t.Fatal("deferring a nil function did not panic")
		}
	}()
	w.Defer(nil)
}

func TestWorldTickBroadcastsTime(t *testing.T) {
	w := newTestWorld(t, Config{})
	retrieveChunk(t, w, ChunkPos{0, 0})

	rv := &recordingViewer{}
	p := newTestPlayer(rv, mgl64.Vec3{8, 64, 8})
	if err := w.AddEntity(p); err != nil {
		t.Fatalf("add player: %v", err)
	}
	base := rv.timeCount()

	// The first tick is past the broadcast interval by definition and pushes
	// the time. An immediate second tick is within the interval and must not.
	now := time.Now()
	w.Tick(now)
	if n := rv.timeCount(); n != base+1 {
		t.Fatalf("time broadcasts after first tick: got %v, want %v", n, base+1)
	}
	w.Tick(now.Add(time.Millisecond))
	if n := rv.timeCount(); n != base+1 {
		t.Fatalf("time broadcasts within interval: got %v, want still %v", n, base+1)
	}
	w.Tick(now.Add(2 * time.Second))
	if n := rv.timeCount(); n != base+2 {
		t.Fatalf("time broadcasts after interval elapsed: got %v, want %v", n, base+2)
	}
}

func TestWorldTickBroadcastDisabled(t *testing.T) {
	w := newTestWorld(t, Config{TimeBroadcastInterval: -1})
	retrieveChunk(t, w, ChunkPos{0, 0})

	rv := &recordingViewer{}
	p := newTestPlayer(rv, mgl64.Vec3{8, 64, 8})
	if err := w.AddEntity(p); err != nil {
		t.Fatalf("add player: %v", err)
	}
	base := rv.timeCount()

	now := time.Now()
	for i := range 5 {
		w.Tick(now.Add(time.Duration(i) * time.Minute))
	}
	if n := rv.timeCount(); n != base {
		t.Fatalf("time broadcasts with broadcasting disabled: got %v, want %v", n, base)
	}
}

func TestWorldTickAfterClose(t *testing.T) {
	conf := Config{Log: slog.New(slog.NewTextHandler(io.Discard, nil))}
	w := conf.New()
	if err := w.Close(); err != nil {
		t.Fatalf("close world: %v", err)
	}

	w.Tick(time.Now())
	if got := w.Age(); got != 0 {
		t.Fatalf("a closed world ticked: age %v", got)
	}
}

func TestFloorMod(t *testing.T) {
	for _, tc := range []struct{ x, y, want int64 }{
		{0, 24000, 0},
		{23999, 24000, 23999},
		{24000, 24000, 0},
		{24001, 24000, 1},
		{-1, 24000, 23999},
		{-24000, 24000, 0},
		{48005, 24000, 5},
	} {
		if got := floorMod(tc.x, tc.y); got != tc.want {
			t.Errorf("floorMod(%v, %v): got %v, want %v", tc.x, tc.y, got, tc.want)
		}
	}
}
