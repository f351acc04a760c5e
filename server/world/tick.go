package world

import (
	"fmt"
	"time"
)

// Tick advances the world by a single tick. It is called by the server's tick
// driver, roughly twenty times per second, with the time the tick started.
//
// A tick first runs all functions deferred since the previous tick, then
// advances the world age and time of day, pushes a periodic time update to
// players and advances the world border interpolation. Ticking a closed world
// does nothing.
func (w *World) Tick(now time.Time) {
	if w == nil {
		return
	}
	select {
	case <-w.closing:
		return
	default:
	}

	w.drainDeferred()

	w.set.Lock()
	w.set.Age++
	if rate := w.set.TimeRate; rate != 0 {
		w.set.Time = floorMod(w.set.Time+rate, TimeFull)
	}
	age, t := w.set.Age, w.set.Time
	broadcast := false
	if iv := w.set.TimeBroadcastInterval; iv > 0 && now.Sub(w.set.lastTimeBroadcast) >= iv {
		w.set.lastTimeBroadcast = now
		broadcast = true
	}
	w.set.Unlock()

	if broadcast {
		w.broadcastTime(age, t)
	}
	if centre, diameter, changed := w.border.update(); changed {
		w.broadcastBorder(centre, diameter)
	}
}

// Defer schedules f to run on the goroutine driving the world's ticks, at the
// start of the next tick. Functions deferred from within a deferred function
// run later in the same tick, in submission order.
func (w *World) Defer(f func(*World)) {
	if f == nil {
		panic("world: deferred function must not be nil")
	}
	w.deferredMu.Lock()
	w.deferred = append(w.deferred, f)
	w.deferredMu.Unlock()
}

// drainDeferred pops and runs deferred functions one at a time in submission
// order, until none remain. Functions are popped individually so that those
// deferred while draining still run within the current tick.
func (w *World) drainDeferred() {
	for {
		w.deferredMu.Lock()
		if len(w.deferred) == 0 {
			w.deferredMu.Unlock()
			return
		}
		f := w.deferred[0]
		w.deferred = w.deferred[1:]
		w.deferredMu.Unlock()
		w.runDeferred(f)
	}
}

// runDeferred runs a single deferred function, recovering and logging a panic
// so that one misbehaving function cannot halt the tick loop.
func (w *World) runDeferred(f func(*World)) {
	defer func() {
		if r := recover(); r != nil {
			w.conf.Log.Error("deferred world function: panic", "error", fmt.Sprint(r))
		}
	}()
	f(w)
}

// floorMod returns x modulo m with the sign of m, so that negative time
// values wrap back into the [0, m) range.
func floorMod(x, m int64) int64 {
	r := x % m
	if r < 0 {
		r += m
	}
	return r
}
