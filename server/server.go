// Package server ties the pieces of a running game server together: the
// worlds it ticks, the sessions of the players connected to it and the
// scheduler its background work runs on.
package server

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/basalt-mc/basalt/server/player/chat"
	"github.com/basalt-mc/basalt/server/scheduler"
	"github.com/basalt-mc/basalt/server/session"
	"github.com/basalt-mc/basalt/server/world"
	"github.com/google/uuid"
	"github.com/sandertv/gophertunnel/minecraft/protocol/packet"
	"golang.org/x/exp/maps"
	"golang.org/x/text/language"
)

var (
	// ErrServerClosed is returned by operations on a Server after it was
	// closed.
	ErrServerClosed = errors.New("server closed")
	// ErrNoWorld is returned when a player joins a Server that has no world
	// registered.
	ErrNoWorld = errors.New("no world registered")
	// ErrWorldRegistered is returned when a world is registered with a name
	// that another registered world already uses.
	ErrWorldRegistered = errors.New("world already registered")
	// ErrDisallowed is returned when the Allower of the Server rejects a
	// joining player.
	ErrDisallowed = errors.New("player not allowed to join")
	// ErrServerFull is returned when a player joins while the maximum player
	// count is reached.
	ErrServerFull = errors.New("server full")
	// ErrLoggedIn is returned when a player joins while another session with
	// the same UUID is connected.
	ErrLoggedIn = errors.New("player already logged in")
)

const (
	// tpsSampleSize is the number of ticks the ticks-per-second average is
	// computed over.
	tpsSampleSize = 20
	// tpsWarningRatio is the fraction of the target ticks per second below
	// which a warning is logged.
	tpsWarningRatio = 0.95
)

// Server is a game server. It ticks the worlds registered with it on a fixed
// interval and admits players, spawning a session for each into the default
// world. A Server must be created using Config.New.
type Server struct {
	conf     Config
	sched    *scheduler.Scheduler
	sessions *session.Registry

	once    sync.Once
	closing chan struct{}
	wg      sync.WaitGroup

	tps atomic.Uint64

	mu     sync.Mutex
	def    *world.World
	worlds map[string]*world.World
}

// Name returns the name of the server.
func (srv *Server) Name() string {
	return srv.conf.Name
}

// Scheduler returns the scheduler that background tasks of the server run
// on. It is closed together with the server.
func (srv *Server) Scheduler() *scheduler.Scheduler {
	return srv.sched
}

// TPS returns the ticks per second the server currently runs at, averaged
// over the last twenty ticks.
func (srv *Server) TPS() float64 {
	return math.Float64frombits(srv.tps.Load())
}

// AddWorld registers a world with the server. Registration is what
// subscribes a world to the tick driver of the server: a world does not tick
// before it is registered. The first world registered becomes the default
// world, the one joining players spawn in. AddWorld returns an error if a
// world with the same name is already registered or the server was closed.
func (srv *Server) AddWorld(w *world.World) error {
	select {
	case <-srv.closing:
		return fmt.Errorf("add world %v: %w", w.Name(), ErrServerClosed)
	default:
	}
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if _, ok := srv.worlds[w.Name()]; ok {
		return fmt.Errorf("add world %v: %w", w.Name(), ErrWorldRegistered)
	}
	srv.worlds[w.Name()] = w
	if srv.def == nil {
		srv.def = w
	}
	srv.conf.Log.Info("World registered.", "name", w.Name(), "dimension", w.Dimension().String())
	return nil
}

// World returns the registered world with the name passed, with ok false if
// no world with that name was registered.
func (srv *Server) World(name string) (w *world.World, ok bool) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	w, ok = srv.worlds[name]
	return w, ok
}

// DefaultWorld returns the world joining players spawn in: the first world
// registered with AddWorld. ok is false if no world was registered yet.
func (srv *Server) DefaultWorld() (w *world.World, ok bool) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return srv.def, srv.def != nil
}

// Worlds returns all worlds registered with the server, sorted by name.
func (srv *Server) Worlds() []*world.World {
	srv.mu.Lock()
	worlds := maps.Values(srv.worlds)
	srv.mu.Unlock()

	slices.SortFunc(worlds, func(a, b *world.World) int {
		return strings.Compare(a.Name(), b.Name())
	})
	return worlds
}

// Join admits the connection passed as a player with the name and UUID
// passed, spawning a session for it in the default world of the server. If
// the player may not join, a disconnect message is written to the connection,
// the connection is closed and an error is returned.
func (srv *Server) Join(conn session.Conn, name string, id uuid.UUID) (*session.Session, error) {
	select {
	case <-srv.closing:
		srv.reject(conn, chat.MessageServerDisconnect.F(language.English))
		return nil, fmt.Errorf("join %v: %w", name, ErrServerClosed)
	default:
	}
	w, ok := srv.DefaultWorld()
	if !ok {
		srv.reject(conn, chat.MessageServerDisconnect.F(language.English))
		return nil, fmt.Errorf("join %v: %w", name, ErrNoWorld)
	}
	if msg, allowed := srv.conf.Allower.Allow(conn.RemoteAddr(), id, name); !allowed {
		srv.reject(conn, msg)
		return nil, fmt.Errorf("join %v: %w", name, ErrDisallowed)
	}
	if limit := srv.conf.MaxPlayers; limit > 0 && srv.sessions.Count() >= limit {
		srv.reject(conn, chat.MessageServerFull.F(language.English))
		return nil, fmt.Errorf("join %v: %w", name, ErrServerFull)
	}

	s := session.Config{
		Log:          srv.conf.Log,
		Name:         name,
		UUID:         id,
		ViewDistance: srv.conf.ViewDistance,
	}.New(conn)
	if !srv.sessions.Add(s) {
		srv.reject(conn, chat.MessageAlreadyLoggedIn.F(language.English))
		return nil, fmt.Errorf("join %v: %w", name, ErrLoggedIn)
	}
	if err := s.Spawn(w, srv.conf.Spawn); err != nil {
		srv.sessions.Remove(s)
		_ = s.Close()
		return nil, fmt.Errorf("join %v: %w", name, err)
	}

	chat.Global.Subscribe(s)
	if !srv.conf.JoinMessage.Zero() {
		_, _ = chat.Global.WriteString(srv.conf.JoinMessage.F(language.English, name))
	}
	srv.conf.Log.Info("Player joined.", "name", name, "address", conn.RemoteAddr().String())
	go srv.finalize(s)
	return s, nil
}

// Sessions returns the sessions of all players currently on the server,
// sorted by player name.
func (srv *Server) Sessions() []*session.Session {
	return srv.sessions.All()
}

// PlayerCount returns the number of players currently on the server.
func (srv *Server) PlayerCount() int {
	return srv.sessions.Count()
}

// Close shuts the server down. Shutdown tasks registered with the scheduler
// run first, players still connected are disconnected and finally every
// registered world is closed, flushing its pending changes to disk. Close
// may be called multiple times; calls after the first are no-ops.
func (srv *Server) Close() error {
	srv.once.Do(srv.close)
	return nil
}

// close carries out the shutdown of the server, run exactly once.
func (srv *Server) close() {
	close(srv.closing)
	srv.wg.Wait()

	if err := srv.sched.Close(); err != nil {
		srv.conf.Log.Error("close server: " + err.Error())
	}
	for _, s := range srv.sessions.All() {
		s.Disconnect(srv.conf.ShutdownMessage.F(s.Locale()))
	}
	for _, w := range srv.Worlds() {
		if err := w.Close(); err != nil {
			srv.conf.Log.Error("close server: "+err.Error(), "world", w.Name())
		}
	}
	srv.conf.Log.Info("Server closed.")
}

// finalize waits for the session passed to close, either because the player
// left or because it was disconnected, and removes its traces from the
// server.
func (srv *Server) finalize(s *session.Session) {
	<-s.Done()
	chat.Global.Unsubscribe(s)
	srv.sessions.Remove(s)
	if !srv.conf.QuitMessage.Zero() {
		_, _ = chat.Global.WriteString(srv.conf.QuitMessage.F(language.English, s.Name()))
	}
	srv.conf.Log.Info("Player left.", "name", s.Name())
}

// reject writes a disconnect message to the connection of a player that may
// not join and closes it.
func (srv *Server) reject(conn session.Conn, message string) {
	_ = conn.WritePacket(&packet.Disconnect{Message: message})
	_ = conn.Close()
}

// startTicking ticks every registered world on a fixed interval until the
// server closes, keeping a moving average of the achieved ticks per second.
func (srv *Server) startTicking() {
	defer srv.wg.Done()

	tc := time.NewTicker(srv.conf.TickInterval)
	defer tc.Stop()

	target := float64(time.Second) / float64(srv.conf.TickInterval)
	lastTick := time.Now()
	var (
		durationSum time.Duration
		ticksCount  int
		warned      bool
	)
	for {
		select {
		case now := <-tc.C:
			duration := now.Sub(lastTick)
			lastTick = now
			if duration > 0 {
				durationSum += duration
				ticksCount++
				if ticksCount >= tpsSampleSize {
					if avg := durationSum / time.Duration(ticksCount); avg > 0 {
						tps := 1.0 / avg.Seconds()
						srv.tps.Store(math.Float64bits(tps))
						if tps < target*tpsWarningRatio {
							if !warned {
								srv.conf.Log.Warn("TPS dropped below target.", "tps", tps, "target", target)
								warned = true
							}
						} else if warned {
							warned = false
						}
					}
					durationSum, ticksCount = 0, 0
				}
			}
			for _, w := range srv.Worlds() {
				w.Tick(now)
			}
		case <-srv.closing:
			return
		}
	}
}
