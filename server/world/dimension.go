package world

import (
	"github.com/basalt-mc/basalt/server/block/cube"
)

var (
	// Overworld is the Dimension implementation of a normal overworld. It has
	// a blue sky under normal circumstances and has a full day/night cycle.
	Overworld overworld
	// Nether is a Dimension implementation with a lower base light level and
	// a darker sky without sun/moon. It has a smaller build range than the
	// overworld.
	Nether nether
	// End is a Dimension implementation with a dark sky. It has a smaller
	// build range than the overworld.
	End end
)

// Time values relative to the start of a full day/night cycle of TimeFull
// world time.
const (
	TimeDay      = 1000
	TimeNoon     = 6000
	TimeSunset   = 12000
	TimeNight    = 13000
	TimeMidnight = 18000
	TimeSunrise  = 23000
	// TimeFull is the length of an entire day/night cycle, after which the
	// time of day wraps around.
	TimeFull = 24000
)

// Dimension is a dimension of a World. It influences a variety of properties
// of a World such as the building range and the behaviour of the time cycle.
type Dimension interface {
	// Range returns the lowest and highest valid Y coordinates of a block in
	// the Dimension.
	Range() cube.Range
	// EncodeDimension returns the network ID of the Dimension, as carried by
	// chunk packets sent to players.
	EncodeDimension() int
	// TimeCycle specifies if the time passing in the Dimension is visible to
	// players, so that the periodic time broadcast carries meaning.
	TimeCycle() bool
	// String returns the name of the Dimension.
	String() string
}

type overworld struct{}

// Range returns the lowest and highest valid Y coordinates of a block in the
// overworld.
func (overworld) Range() cube.Range {
	return cube.Range{-64, 319}
}

func (overworld) EncodeDimension() int {
	return 0
}

func (overworld) TimeCycle() bool {
	return true
}

func (overworld) String() string {
	return "overworld"
}

type nether struct{}

// Range returns the lowest and highest valid Y coordinates of a block in the
// nether.
func (nether) Range() cube.Range {
	return cube.Range{0, 127}
}

func (nether) EncodeDimension() int {
	return 1
}

func (nether) TimeCycle() bool {
	return false
}

func (nether) String() string {
	return "nether"
}

type end struct{}

// Range returns the lowest and highest valid Y coordinates of a block in the
// end.
func (end) Range() cube.Range {
	return cube.Range{0, 255}
}

func (end) EncodeDimension() int {
	return 2
}

func (end) TimeCycle() bool {
	return false
}

func (end) String() string {
	return "end"
}
