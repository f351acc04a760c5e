package world

import (
	"log/slog"
	"runtime"
	"time"

	"github.com/google/uuid"
)

// Config may be used to create a new World. It holds a variety of fields that
// influence the World.
type Config struct {
	// Log is the Logger that will be used to log errors and debug messages to.
	// If set to nil, slog.Default() is set.
	Log *slog.Logger
	// Dim is the Dimension of the World. If set to nil, the World will use
	// Overworld as its dimension. The dimension set here decides the vertical
	// Range of the chunks of the World and whether its time of day advances.
	Dim Dimension
	// UUID is the unique identifier of the World. If left empty, a random
	// UUID is generated for it.
	UUID uuid.UUID
	// Name is the display name of the World. It defaults to "World".
	Name string
	// Provider is the Provider used to load and store chunks. If set to nil,
	// the World uses a NopProvider and loses all data once closed.
	Provider Provider
	// Generator is the Generator used to generate chunks the Provider does
	// not hold. If set to nil, a NopGenerator is used, generating fully empty
	// chunks.
	Generator Generator
	// Blocks is the registry used to resolve custom block identifiers to
	// runtime IDs. If set to nil, a new Registry holding only air is created.
	Blocks BlockRegistry
	// ReadOnly specifies if the World should be read-only, meaning no new
	// data is ever written to the Provider.
	ReadOnly bool
	// RetrievalWorkers specifies the number of workers that load and generate
	// chunks asynchronously. It defaults to the number of logical CPUs.
	RetrievalWorkers int
	// RetrievalQueueSize is the buffer size of the chunk retrieval queue. It
	// defaults to 256. Retrievals beyond this buffer are enqueued in separate
	// goroutines and counted towards a saturation warning.
	RetrievalQueueSize int
	// FlushWorkers specifies the number of workers that apply flushed block
	// batches to chunks. It defaults to 2.
	FlushWorkers int
	// FlushQueueSize is the buffer size of the batch flush queue. It defaults
	// to 64.
	FlushQueueSize int
	// TimeBroadcastInterval is the minimum duration between two periodic time
	// broadcasts to players in the World. It defaults to one second. A
	// negative value disables the periodic broadcast entirely.
	TimeBroadcastInterval time.Duration
}

// New creates a World using the Config conf. The World is ticked by calling
// its Tick method, usually done by a Server on a fixed interval.
func (conf Config) New() *World {
	if conf.Log == nil {
		conf.Log = slog.Default()
	}
	if conf.Dim == nil {
		conf.Dim = Overworld
	}
	if conf.UUID == (uuid.UUID{}) {
		conf.UUID = uuid.New()
	}
	if conf.Provider == nil {
		conf.Provider = NopProvider{}
	}
	if conf.Generator == nil {
		conf.Generator = NopGenerator{}
	}
	if conf.Blocks == nil {
		conf.Blocks = NewRegistry()
	}
	if conf.RetrievalWorkers <= 0 {
		conf.RetrievalWorkers = max(runtime.NumCPU(), 1)
	}
	if conf.RetrievalQueueSize <= 0 {
		conf.RetrievalQueueSize = 256
	}
	if conf.FlushWorkers <= 0 {
		conf.FlushWorkers = 2
	}
	if conf.FlushQueueSize <= 0 {
		conf.FlushQueueSize = 64
	}
	if conf.TimeBroadcastInterval == 0 {
		conf.TimeBroadcastInterval = time.Second
	} else if conf.TimeBroadcastInterval < 0 {
		conf.TimeBroadcastInterval = 0
	}

	set := defaultSettings()
	if conf.Name != "" {
		set.Name = conf.Name
	}
	set.TimeBroadcastInterval = conf.TimeBroadcastInterval
	if !conf.Dim.TimeCycle() {
		set.TimeRate = 0
	}

	w := &World{
		conf:    conf,
		ra:      conf.Dim.Range(),
		set:     set,
		border:  newWorldBorder(),
		closing: make(chan struct{}),

		chunks:  map[ChunkPos]*Chunk{},
		pending: map[ChunkPos]*pendingChunk{},

		buckets: map[int64]map[*Entity]struct{}{},
		inChunk: map[*Entity]int64{},
		byKind:  map[EntityKind]map[*Entity]struct{}{},

		retrievalQueue: make(chan retrievalTask, conf.RetrievalQueueSize),
		flushQueue:     make(chan flushTask, conf.FlushQueueSize),
	}
	w.handler.Store(&defaultHandler)
	w.border.w = w

	w.running.Add(conf.RetrievalWorkers + conf.FlushWorkers)
	for range conf.RetrievalWorkers {
		go w.retrievalWorker()
	}
	for range conf.FlushWorkers {
		go w.flushWorker()
	}
	return w
}

// defaultHandler is the Handler stored in worlds whose handler is not set or
// was reset by passing nil to Handle.
var defaultHandler Handler = NopHandler{}
