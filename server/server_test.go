package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/basalt-mc/basalt/server/player/chat"
	"github.com/basalt-mc/basalt/server/scheduler"
	"github.com/basalt-mc/basalt/server/world"
	"github.com/google/uuid"
	"github.com/sandertv/gophertunnel/minecraft/protocol/packet"
)

// fakeConn is a session.Conn recording the packets written to it, with an
// inbound stream that blocks until the connection is closed.
type fakeConn struct {
	in chan packet.Packet

	mu     sync.Mutex
	out    []packet.Packet
	closed bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan packet.Packet, 16)}
}

func (c *fakeConn) ReadPacket() (packet.Packet, error) {
	pk, ok := <-c.in
	if !ok {
		return nil, net.ErrClosed
	}
	return pk, nil
}

func (c *fakeConn) WritePacket(pk packet.Packet) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return net.ErrClosed
	}
	c.out = append(c.out, pk)
	return nil
}

func (c *fakeConn) RemoteAddr() net.Addr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 19132}
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.in)
	}
	return nil
}

// isClosed reports whether Close was called on the connection.
func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// disconnectMessage returns the message of the last Disconnect packet
// written to the connection, if any.
func (c *fakeConn) disconnectMessage() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.out) - 1; i >= 0; i-- {
		if dc, ok := c.out[i].(*packet.Disconnect); ok {
			return dc.Message, true
		}
	}
	return "", false
}

// recordingSubscriber records every chat message it receives.
type recordingSubscriber struct {
	mu       sync.Mutex
	messages []string
}

func (r *recordingSubscriber) Message(a ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, fmt.Sprint(a...))
}

func (r *recordingSubscriber) contains(msg string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.messages {
		if m == msg {
			return true
		}
	}
	return false
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestServer creates a Server that is closed when the test finishes.
func newTestServer(t *testing.T, conf Config) *Server {
	t.Helper()
	if conf.Log == nil {
		conf.Log = testLogger()
	}
	srv := conf.New()
	t.Cleanup(func() {
		if err := srv.Close(); err != nil {
			t.Errorf("close server: %v", err)
		}
	})
	return srv
}

// newTestWorld creates a world with the name passed without registering it.
func newTestWorld(t *testing.T, name string) *world.World {
	t.Helper()
	return world.Config{Log: testLogger(), Name: name}.New()
}

// waitFor polls cond every 10 milliseconds until it reports true, failing
// the test if it does not within 5 seconds.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %v", what)
}

func TestServerAddWorld(t *testing.T) {
	srv := newTestServer(t, Config{})
	alpha, beta := newTestWorld(t, "alpha"), newTestWorld(t, "beta")

	if err := srv.AddWorld(alpha); err != nil {
		t.Fatalf("add world: %v", err)
	}
	if err := srv.AddWorld(beta); err != nil {
		t.Fatalf("add world: %v", err)
	}
	dup := newTestWorld(t, "alpha")
	t.Cleanup(func() { _ = dup.Close() })
	if err := srv.AddWorld(dup); !errors.Is(err, ErrWorldRegistered) {
		t.Fatalf("duplicate world name returned %v, expected ErrWorldRegistered", err)
	}
	if w, ok := srv.World("beta"); !ok || w != beta {
		t.Fatalf("World returned (%v, %v)", w, ok)
	}
	if w, ok := srv.DefaultWorld(); !ok || w != alpha {
		t.Fatalf("default world is %v, expected the first registered", w)
	}
	worlds := srv.Worlds()
	if len(worlds) != 2 || worlds[0] != alpha || worlds[1] != beta {
		t.Fatalf("Worlds returned an unexpected set")
	}
}

func TestServerTicksRegisteredWorlds(t *testing.T) {
	srv := newTestServer(t, Config{TickInterval: 5 * time.Millisecond})
	if tps := srv.TPS(); tps != 200 {
		t.Fatalf("initial TPS is %v, expected the target of 200", tps)
	}

	ticked := newTestWorld(t, "ticked")
	idle := newTestWorld(t, "idle")
	t.Cleanup(func() { _ = idle.Close() })
	if err := srv.AddWorld(ticked); err != nil {
		t.Fatalf("add world: %v", err)
	}

	waitFor(t, "world to tick", func() bool { return ticked.Age() >= 3 })
	// A world that was never registered must not have ticked.
	if age := idle.Age(); age != 0 {
		t.Fatalf("unregistered world reached age %v, expected 0", age)
	}
}

func TestServerJoin(t *testing.T) {
	rec := &recordingSubscriber{}
	chat.Global.Subscribe(rec)
	t.Cleanup(func() { chat.Global.Unsubscribe(rec) })

	srv := newTestServer(t, Config{JoinMessage: chat.MessageJoin, QuitMessage: chat.MessageQuit})
	if err := srv.AddWorld(newTestWorld(t, "world")); err != nil {
		t.Fatalf("add world: %v", err)
	}

	conn := newFakeConn()
	s, err := srv.Join(conn, "Alex", uuid.New())
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if srv.PlayerCount() != 1 {
		t.Fatalf("server holds %v players, expected 1", srv.PlayerCount())
	}
	if sessions := srv.Sessions(); len(sessions) != 1 || sessions[0].Name() != "Alex" {
		t.Fatalf("Sessions returned an unexpected set")
	}
	if !rec.contains("Alex joined the game") {
		t.Fatalf("join message not broadcast")
	}

	if err := s.Close(); err != nil {
		t.Fatalf("close session: %v", err)
	}
	waitFor(t, "session removal", func() bool { return srv.PlayerCount() == 0 })
	waitFor(t, "quit message", func() bool { return rec.contains("Alex left the game") })
}

func TestServerJoinNoWorld(t *testing.T) {
	srv := newTestServer(t, Config{})
	conn := newFakeConn()
	if _, err := srv.Join(conn, "Alex", uuid.New()); !errors.Is(err, ErrNoWorld) {
		t.Fatalf("join returned %v, expected ErrNoWorld", err)
	}
	if !conn.isClosed() {
		t.Fatalf("connection not closed after rejected join")
	}
}

// denyAllower rejects every player with a fixed reason.
type denyAllower struct{}

func (denyAllower) Allow(net.Addr, uuid.UUID, string) (string, bool) {
	return "begone", false
}

func TestServerJoinDisallowed(t *testing.T) {
	srv := newTestServer(t, Config{Allower: denyAllower{}})
	if err := srv.AddWorld(newTestWorld(t, "world")); err != nil {
		t.Fatalf("add world: %v", err)
	}

	conn := newFakeConn()
	if _, err := srv.Join(conn, "Alex", uuid.New()); !errors.Is(err, ErrDisallowed) {
		t.Fatalf("join returned %v, expected ErrDisallowed", err)
	}
	if msg, ok := conn.disconnectMessage(); !ok || msg != "begone" {
		t.Fatalf("rejected join wrote disconnect message %q", msg)
	}
	if !conn.isClosed() || srv.PlayerCount() != 0 {
		t.Fatalf("rejected join left state behind")
	}
}

func TestServerJoinFull(t *testing.T) {
	srv := newTestServer(t, Config{MaxPlayers: 1})
	if err := srv.AddWorld(newTestWorld(t, "world")); err != nil {
		t.Fatalf("add world: %v", err)
	}

	if _, err := srv.Join(newFakeConn(), "Alex", uuid.New()); err != nil {
		t.Fatalf("first join: %v", err)
	}
	conn := newFakeConn()
	if _, err := srv.Join(conn, "Bob", uuid.New()); !errors.Is(err, ErrServerFull) {
		t.Fatalf("join returned %v, expected ErrServerFull", err)
	}
	if msg, _ := conn.disconnectMessage(); msg != "The server is full." {
		t.Fatalf("full server wrote disconnect message %q", msg)
	}
}

func TestServerJoinDuplicate(t *testing.T) {
	srv := newTestServer(t, Config{})
	if err := srv.AddWorld(newTestWorld(t, "world")); err != nil {
		t.Fatalf("add world: %v", err)
	}

	id := uuid.New()
	if _, err := srv.Join(newFakeConn(), "Alex", id); err != nil {
		t.Fatalf("first join: %v", err)
	}
	if _, err := srv.Join(newFakeConn(), "Alex", id); !errors.Is(err, ErrLoggedIn) {
		t.Fatalf("join returned %v, expected ErrLoggedIn", err)
	}
	if srv.PlayerCount() != 1 {
		t.Fatalf("server holds %v players, expected 1", srv.PlayerCount())
	}
}

func TestServerClose(t *testing.T) {
	sched := scheduler.Config{Log: testLogger()}.New()
	srv := Config{Log: testLogger(), Scheduler: sched}.New()
	w := newTestWorld(t, "world")
	if err := srv.AddWorld(w); err != nil {
		t.Fatalf("add world: %v", err)
	}

	var shutdownRan bool
	sched.ScheduleShutdown(func() { shutdownRan = true })

	conn := newFakeConn()
	if _, err := srv.Join(conn, "Alex", uuid.New()); err != nil {
		t.Fatalf("join: %v", err)
	}

	if err := srv.Close(); err != nil {
		t.Fatalf("close server: %v", err)
	}
	if !shutdownRan {
		t.Fatalf("shutdown task did not run")
	}
	if msg, ok := conn.disconnectMessage(); !ok || msg != "Disconnected by server" {
		t.Fatalf("shutdown wrote disconnect message %q", msg)
	}
	if err := w.RetrieveChunk(world.ChunkPos{0, 0}, nil); !errors.Is(err, world.ErrWorldClosed) {
		t.Fatalf("world still open after server close: %v", err)
	}
	waitFor(t, "session removal", func() bool { return srv.PlayerCount() == 0 })

	if err := srv.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	late := newTestWorld(t, "late")
	t.Cleanup(func() { _ = late.Close() })
	if err := srv.AddWorld(late); !errors.Is(err, ErrServerClosed) {
		t.Fatalf("AddWorld after close returned %v, expected ErrServerClosed", err)
	}
	if _, err := srv.Join(newFakeConn(), "Bob", uuid.New()); !errors.Is(err, ErrServerClosed) {
		t.Fatalf("Join after close returned %v, expected ErrServerClosed", err)
	}
}
