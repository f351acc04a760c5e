package server

import (
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/basalt-mc/basalt/server/player/chat"
	"github.com/basalt-mc/basalt/server/scheduler"
	"github.com/basalt-mc/basalt/server/session"
	"github.com/basalt-mc/basalt/server/world"
	"github.com/go-gl/mathgl/mgl64"
)

// Config contains the options for starting a Server.
type Config struct {
	// Log is the Logger used to log errors and information. If nil, Log is
	// set to slog.Default().
	Log *slog.Logger
	// Name is the name of the server, used in logs. It defaults to "Basalt
	// Server".
	Name string
	// Allower decides which players may join the server. If nil, every
	// player is allowed to join.
	Allower Allower
	// MaxPlayers is the maximum number of players connected to the server at
	// once. If set to 0, the player count is unlimited.
	MaxPlayers int
	// ViewDistance is the horizontal distance in chunks within which players
	// receive chunks and entities. It defaults to 8.
	ViewDistance int
	// Spawn is the position joining players spawn at in the default world of
	// the server. The zero value spawns players at the world origin.
	Spawn mgl64.Vec3
	// TickInterval is the interval between two ticks of the worlds
	// registered with the server. It defaults to 50 milliseconds, twenty
	// ticks per second.
	TickInterval time.Duration
	// JoinMessage and QuitMessage are broadcast to the chat when a player
	// joins or leaves the server. Both carry the name of the player as their
	// only parameter. Zero translations disable the messages.
	JoinMessage, QuitMessage chat.Translation
	// ShutdownMessage is shown to players still connected when the server
	// closes. It defaults to chat.MessageServerDisconnect.
	ShutdownMessage chat.Translation
	// Scheduler is the scheduler background tasks of the server run on. If
	// nil, a new one with default settings is created. The Server takes
	// ownership either way: the scheduler is closed when the Server closes.
	Scheduler *scheduler.Scheduler
}

// New creates a Server using the fields of conf. The tick driver of the
// Server starts immediately, so worlds registered with AddWorld afterwards
// are ticked from the next wave on.
func (conf Config) New() *Server {
	if conf.Log == nil {
		conf.Log = slog.Default()
	}
	if conf.Name == "" {
		conf.Name = "Basalt Server"
	}
	if conf.Allower == nil {
		conf.Allower = allower{}
	}
	if conf.ViewDistance < 1 {
		conf.ViewDistance = 8
	}
	if conf.TickInterval <= 0 {
		conf.TickInterval = time.Second / 20
	}
	if conf.ShutdownMessage.Zero() {
		conf.ShutdownMessage = chat.MessageServerDisconnect
	}
	if conf.Scheduler == nil {
		conf.Scheduler = scheduler.Config{Log: conf.Log}.New()
	}

	srv := &Server{
		conf:     conf,
		sched:    conf.Scheduler,
		sessions: session.NewRegistry(),
		worlds:   map[string]*world.World{},
		closing:  make(chan struct{}),
	}
	srv.tps.Store(math.Float64bits(float64(time.Second) / float64(conf.TickInterval)))
	srv.wg.Add(1)
	go srv.startTicking()
	return srv
}

// UserConfig is the user configuration of a Server, usually read from a TOML
// file. It may be converted to a Config by calling UserConfig.Config.
type UserConfig struct {
	Network struct {
		// Address is the address the server listens on. Players connect to
		// this address to join.
		Address string
	}
	Server struct {
		// Name is the name of the server.
		Name string
		// AuthEnabled controls whether players must be authenticated with
		// Xbox Live to join the server.
		AuthEnabled bool
		// DisableJoinQuitMessages disables the chat messages broadcast when
		// a player joins or leaves the server.
		DisableJoinQuitMessages bool
	}
	World struct {
		// SaveData controls whether the world is saved to and loaded from
		// disk. If false, every run starts from freshly generated terrain.
		SaveData bool
		// Folder is the folder the data of the world resides in.
		Folder string
		// Generator selects the terrain generator of the world, either
		// "flat" or "noise".
		Generator string
		// Seed seeds the noise generator. Worlds generated with the same
		// seed have identical terrain.
		Seed int64
	}
	Players struct {
		// MaxCount is the maximum number of players online at once. If set
		// to 0, the count is unlimited.
		MaxCount int
		// ViewDistance is the distance in chunks within which players
		// receive chunks and entities.
		ViewDistance int
	}
	Whitelist struct {
		// Enabled controls whether the whitelist is enforced for joining
		// players.
		Enabled bool
		// File is the path of the TOML file that stores whitelisted names.
		File string
	}
}

// Config converts the UserConfig to a Config, so that it may be used to
// create a Server. The whitelist file is loaded, or created if it does not
// exist yet.
func (uc UserConfig) Config(log *slog.Logger) (Config, error) {
	conf := Config{
		Log:          log,
		Name:         uc.Server.Name,
		MaxPlayers:   uc.Players.MaxCount,
		ViewDistance: uc.Players.ViewDistance,
	}
	if !uc.Server.DisableJoinQuitMessages {
		conf.JoinMessage, conf.QuitMessage = chat.MessageJoin, chat.MessageQuit
	}
	file := strings.TrimSpace(uc.Whitelist.File)
	if file == "" {
		file = "whitelist.toml"
	}
	wl, err := LoadWhitelist(file)
	if err != nil {
		return conf, fmt.Errorf("load whitelist: %w", err)
	}
	wl.SetEnabled(uc.Whitelist.Enabled)
	conf.Allower = wl
	return conf, nil
}

// DefaultConfig returns a UserConfig with the default values filled out.
func DefaultConfig() UserConfig {
	c := UserConfig{}
	c.Network.Address = ":19132"
	c.Server.Name = "Basalt Server"
	c.Server.AuthEnabled = true
	c.World.SaveData = true
	c.World.Folder = "world"
	c.World.Generator = "noise"
	c.Players.ViewDistance = 8
	c.Whitelist.File = "whitelist.toml"
	return c
}
