package mcdb

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/basalt-mc/basalt/server/world"
	"github.com/df-mc/goleveldb/leveldb"
	"github.com/df-mc/goleveldb/leveldb/opt"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/mod/semver"
)

// formatVersion is the version of the storage format written by this package.
// It is stored in the database when it is first created and checked on every
// subsequent open, so that a database written by a newer, incompatible
// release is never modified by an older one.
const formatVersion = "v1.0.0"

// ErrFormatTooNew is returned by Config.Open if the database was written by a
// release with a newer major format version.
var ErrFormatTooNew = errors.New("world data written by a newer format version")

// keyFormat is the database key under which the format version is stored.
var keyFormat = []byte("format")

// StateRegistry resolves between the block states held in storage and the
// runtime IDs used by a World. It is implemented by *world.Registry.
type StateRegistry interface {
	world.BlockRegistry
	// StateRuntimeID finds the runtime ID issued for the block state passed.
	// The bool returned is false if the state was never registered.
	StateRuntimeID(s world.BlockState) (uint32, bool)
}

// Config holds the optional settings of a DB.
type Config struct {
	// Log is the Logger that errors and unknown block states found in the
	// database are written to. If nil, Log is set to slog.Default().
	Log *slog.Logger
	// Blocks is the StateRegistry used to resolve the block states stored in
	// the database to runtime IDs and back. If nil, a new world.Registry with
	// only air registered is used, so every stored block loads as air.
	Blocks StateRegistry
	// ReadOnly opens the database in read-only mode, failing every write to
	// it. A missing format version is not written to a read-only database.
	ReadOnly bool
}

// Open creates a DB reading and writing from/to files under the path passed.
// If a world is present at the path, Open will parse its format version and
// return an error wrapping ErrFormatTooNew if it was written by a newer
// major release.
func (conf Config) Open(dir string) (*DB, error) {
	if conf.Log == nil {
		conf.Log = slog.Default()
	}
	if conf.Blocks == nil {
		conf.Blocks = world.NewRegistry()
	}
	ldb, err := leveldb.OpenFile(dir, &opt.Options{
		// Chunk documents are compressed with zstd before they are put into
		// the database, so another round of compression buys nothing.
		Compression: opt.NoCompression,
		ReadOnly:    conf.ReadOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("open world database: %w", err)
	}
	if err := checkFormat(ldb, conf.ReadOnly); err != nil {
		_ = ldb.Close()
		return nil, err
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		_ = ldb.Close()
		return nil, fmt.Errorf("open world database: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		_ = ldb.Close()
		return nil, fmt.Errorf("open world database: %w", err)
	}
	return &DB{conf: conf, ldb: ldb, enc: enc, dec: dec}, nil
}

// checkFormat verifies the format version stored in the database, writing the
// current version if the database is new.
func checkFormat(ldb *leveldb.DB, readOnly bool) error {
	stored, err := ldb.Get(keyFormat, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		if readOnly {
			return nil
		}
		if err := ldb.Put(keyFormat, []byte(formatVersion), nil); err != nil {
			return fmt.Errorf("open world database: write format version: %w", err)
		}
		return nil
	} else if err != nil {
		return fmt.Errorf("open world database: read format version: %w", err)
	}
	v := string(stored)
	if !semver.IsValid(v) {
		return fmt.Errorf("open world database: malformed format version %q", v)
	}
	if semver.Compare(semver.Major(v), semver.Major(formatVersion)) > 0 {
		return fmt.Errorf("open world database: format version %v: %w", v, ErrFormatTooNew)
	}
	return nil
}
