package world

import (
	"sync"
	"time"
)

// Settings holds the mutable, shared settings of a World. The World itself
// and all code that reads or changes time and age related state lock the
// Settings before touching its fields.
type Settings struct {
	sync.Mutex
	// Name is the display name of the World.
	Name string
	// Age is the total number of ticks the World has existed for. It always
	// advances by one per tick, regardless of the time rate.
	Age int64
	// Time is the current time of day of the World, advanced by TimeRate
	// every tick.
	Time int64
	// TimeRate is the amount of time of day added to Time every tick. It is
	// never negative; a rate of 0 freezes the time of day.
	TimeRate int64
	// TimeBroadcastInterval is the minimum duration between two periodic
	// time broadcasts to player viewers. If 0, the periodic broadcast is
	// disabled entirely and time only reaches players through SetTime.
	TimeBroadcastInterval time.Duration

	lastTimeBroadcast time.Time
}

// defaultSettings returns the Settings used by worlds that were not given
// any.
func defaultSettings() *Settings {
	return &Settings{
		Name:                  "World",
		TimeRate:              1,
		TimeBroadcastInterval: time.Second,
	}
}
