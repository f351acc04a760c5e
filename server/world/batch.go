package world

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/exp/maps"
)

// Batch accumulates block edits against a single chunk and applies them in
// one go when flushed. Unlike World.SetBlock, which broadcasts every change
// individually, a flushed batch applies all of its edits under a single
// exclusive hold of the chunk and shows viewers the result as one chunk
// update. Batches against different chunks flush independently; edits within
// one batch apply in the order they were recorded.
type Batch struct {
	w   *World
	c   *Chunk
	pos ChunkPos

	mu      sync.Mutex
	edits   []blockEdit
	flushed bool
}

// blockEdit is a single recorded edit of a Batch, in coordinates local to the
// chunk. Custom edits resolve their identifier through the World's
// BlockRegistry when the batch flushes.
type blockEdit struct {
	x          uint8
	y          int16
	z          uint8
	rid        uint32
	identifier string
	custom     bool
}

// flushTask instructs a flush worker to apply the edits of a flushed Batch
// and run its completion callback.
type flushTask struct {
	b          *Batch
	onComplete func(*Chunk)
}

// Batch creates a new Batch recording edits against the chunk at the position
// passed. The chunk must be resident when the Batch is created: Batch returns
// an error wrapping ErrChunkNotLoaded otherwise. The edits apply to the chunk
// as resident at creation, even if it is replaced or unloaded before the
// batch flushes.
func (w *World) Batch(pos ChunkPos) (*Batch, error) {
	select {
	case <-w.closing:
		return nil, fmt.Errorf("batch for chunk %v: %w", pos, ErrWorldClosed)
	default:
	}
	c, ok := w.Chunk(pos)
	if !ok {
		return nil, fmt.Errorf("batch for chunk %v: %w", pos, ErrChunkNotLoaded)
	}
	return &Batch{w: w, c: c, pos: pos}, nil
}

// Position returns the position of the chunk the Batch records edits for.
func (b *Batch) Position() ChunkPos {
	return b.pos
}

// Len returns the number of edits recorded on the Batch so far.
func (b *Batch) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.edits)
}

// SetBlock records an edit setting the block runtime ID at a position local
// to the chunk. SetBlock panics if the Batch was already flushed.
func (b *Batch) SetBlock(x uint8, y int16, z uint8, rid uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.flushed {
		panic("world: batch edited after flush")
	}
	b.edits = append(b.edits, blockEdit{x: x, y: y, z: z, rid: rid})
}

// SetCustomBlock records an edit setting a custom block by its identifier at
// a position local to the chunk. The identifier is resolved through the
// World's BlockRegistry when the batch flushes; an identifier unknown at that
// point is logged and skipped. SetCustomBlock panics if the Batch was already
// flushed.
func (b *Batch) SetCustomBlock(x uint8, y int16, z uint8, identifier string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.flushed {
		panic("world: batch edited after flush")
	}
	b.edits = append(b.edits, blockEdit{x: x, y: y, z: z, identifier: identifier, custom: true})
}

// Flush hands the batch to the World's flush workers. The edits apply
// asynchronously: once all of them are in and the chunk was shown to its
// viewers, onComplete runs with the chunk on the worker goroutine. onComplete
// may be nil. A Batch may be flushed exactly once; a second Flush panics.
func (b *Batch) Flush(onComplete func(*Chunk)) {
	b.mu.Lock()
	if b.flushed {
		b.mu.Unlock()
		panic("world: batch flushed twice")
	}
	b.flushed = true
	b.mu.Unlock()
	b.w.enqueueFlush(flushTask{b: b, onComplete: onComplete})
}

// enqueueFlush hands a flush task to the worker queue. If the queue is full,
// the task is enqueued from a separate goroutine and a throttled saturation
// warning is emitted. Tasks arriving while the world closes run inline, so
// their completion callbacks still fire.
func (w *World) enqueueFlush(t flushTask) {
	select {
	case <-w.closing:
		w.runFlush(t)
	case w.flushQueue <- t:
	default:
		go func() {
			select {
			case <-w.closing:
				w.runFlush(t)
			case w.flushQueue <- t:
			}
		}()
		w.handleFlushBackpressure()
	}
}

// flushWorker continuously applies flush tasks from the queue. Each worker
// runs in its own goroutine and drains the queue fully before terminating
// when the world closes, so that every accepted flush reaches its chunk
// before chunks are saved.
func (w *World) flushWorker() {
	defer w.running.Done()
	for {
		select {
		case t := <-w.flushQueue:
			w.runFlush(t)
		case <-w.closing:
			for {
				select {
				case t := <-w.flushQueue:
					w.runFlush(t)
				default:
					return
				}
			}
		}
	}
}

// runFlush applies the edits of a flushed batch to its chunk under a single
// exclusive hold, re-encodes the chunk and shows the result to the viewers
// registered at that moment.
func (w *World) runFlush(t flushTask) {
	b := t.b
	c := b.c
	c.mu.Lock()
	for _, e := range b.edits {
		if !e.custom {
			c.set(e.x, e.y, e.z, e.rid)
			continue
		}
		rid, ok := w.conf.Blocks.RuntimeID(e.identifier)
		if !ok {
			w.conf.Log.Warn("flush batch: skipping unknown custom block identifier.", "identifier", e.identifier, "X", b.pos[0], "Z", b.pos[1])
			continue
		}
		c.setCustom(e.x, e.y, e.z, rid, e.identifier)
	}
	c.encode()
	viewers := maps.Keys(c.viewers)
	c.mu.Unlock()

	for _, v := range viewers {
		v.ViewChunk(b.pos, c)
	}
	if t.onComplete != nil {
		t.onComplete(c)
	}
}

// handleFlushBackpressure increments backpressure counters and emits a
// throttled warning when the flush queue saturates.
func (w *World) handleFlushBackpressure() {
	count := w.flushQueueSaturation.Add(1)
	now := uint64(time.Now().UnixNano())
	last := w.lastFlushSaturationLog.Load()

	if last != 0 && time.Duration(now-last) < time.Minute {
		return
	}
	if !w.lastFlushSaturationLog.CompareAndSwap(last, now) {
		return
	}

	w.conf.Log.Warn(
		"world flush queue saturated: batch apply backlog detected.",
		"queued_tasks", count,
		"queue_size", cap(w.flushQueue),
		"workers", w.conf.FlushWorkers,
	)
}
