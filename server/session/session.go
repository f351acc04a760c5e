// Package session implements the network session of a player: the bridge
// between the connection of a player and the world the player is in. A
// Session translates updates viewed in the world to packets written to the
// connection, and feeds packets read from the connection, such as movement
// and chat, back into the world.
package session

import (
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"

	"github.com/basalt-mc/basalt/server/world"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
	"github.com/sandertv/gophertunnel/minecraft/protocol/packet"
	"golang.org/x/text/language"
)

// Conn is the connection of a Session. It is implemented by
// *minecraft.Conn. The Session reads inbound packets from the Conn on its
// own goroutine and writes outbound packets to it from any goroutine.
type Conn interface {
	// ReadPacket reads the next packet from the connection, blocking until
	// one is available or the connection is closed.
	ReadPacket() (pk packet.Packet, err error)
	// WritePacket writes a packet to the connection.
	WritePacket(pk packet.Packet) error
	// RemoteAddr returns the remote network address of the connection.
	RemoteAddr() net.Addr
	// Close closes the connection, unblocking pending reads.
	Close() error
}

// Config holds the settings of a new Session.
type Config struct {
	// Log is the logger the Session writes errors and debug messages to. If
	// left nil, slog.Default() is used.
	Log *slog.Logger
	// Name is the display name of the player driving the session.
	Name string
	// UUID is the unique ID of the player. If left empty, a random UUID is
	// generated, so that sessions of test connections remain distinct.
	UUID uuid.UUID
	// Locale is the language of the player, used to translate messages the
	// server sends. It defaults to English.
	Locale language.Tag
	// ViewDistance is the horizontal distance in chunks within which the
	// player receives chunks and entities. It defaults to 8.
	ViewDistance int
}

// New creates a Session for the connection passed using the settings in
// conf. The Session starts handling inbound packets once it is spawned into
// a world with Spawn.
func (conf Config) New(conn Conn) *Session {
	if conf.Log == nil {
		conf.Log = slog.Default()
	}
	if conf.UUID == (uuid.UUID{}) {
		conf.UUID = uuid.New()
	}
	if conf.Locale == language.Und {
		conf.Locale = language.English
	}
	if conf.ViewDistance < 1 {
		conf.ViewDistance = 8
	}
	conf.Log = conf.Log.With("name", conf.Name, "address", conn.RemoteAddr().String())
	s := &Session{conf: conf, conn: conn, closed: make(chan struct{}), chunks: map[world.ChunkPos]struct{}{}}
	s.registerHandlers()
	return s
}

// Session is the network session of a player. It implements world.Viewer, so
// that the player entity of the session carries it as its update sink, and
// chat.Subscriber, so that it may be subscribed to a chat.
type Session struct {
	conf Config
	conn Conn

	handlers map[uint32]packetHandler

	once   sync.Once
	closed chan struct{}

	mu  sync.Mutex
	ent *world.Entity
	dim int32
	// chunks holds the positions of the chunks that were sent to the player,
	// so that crossing chunk borders only streams chunks not sent before.
	chunks         map[world.ChunkPos]struct{}
	borderCentre   mgl64.Vec2
	borderDiameter float64
}

// Name returns the display name of the player driving the session.
func (s *Session) Name() string {
	return s.conf.Name
}

// UUID returns the unique ID of the player driving the session.
func (s *Session) UUID() uuid.UUID {
	return s.conf.UUID
}

// Locale returns the language of the player driving the session.
func (s *Session) Locale() language.Tag {
	return s.conf.Locale
}

// Addr returns the remote network address of the connection of the session.
func (s *Session) Addr() net.Addr {
	return s.conn.RemoteAddr()
}

// Entity returns the player entity of the session, with ok false if the
// session has not been spawned into a world yet.
func (s *Session) Entity() (e *world.Entity, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ent, s.ent != nil
}

// Done returns a channel that is closed once the session is closed, either
// by the server or because the player disconnected.
func (s *Session) Done() <-chan struct{} {
	return s.closed
}

// Spawn creates the player entity of the session and adds it to the world
// passed at pos, making the chunk at pos resident first if it is not yet.
// Once spawned, the session starts reading inbound packets from its
// connection and streams the chunks around pos to the player.
func (s *Session) Spawn(w *world.World, pos mgl64.Vec3) error {
	s.mu.Lock()
	s.dim = int32(w.Dimension().EncodeDimension())
	s.mu.Unlock()

	resident := make(chan struct{})
	if err := w.RetrieveChunk(world.ChunkPosFromVec3(pos), func(*world.Chunk) { close(resident) }); err != nil {
		return fmt.Errorf("spawn session: %w", err)
	}
	<-resident

	ent := world.EntityConfig{
		Kind:         world.KindPlayer,
		UUID:         s.conf.UUID,
		Pos:          pos,
		ViewDistance: s.conf.ViewDistance,
		Viewer:       s,
	}.New()
	if err := w.AddEntity(ent); err != nil {
		return fmt.Errorf("spawn session: %w", err)
	}
	s.mu.Lock()
	s.ent = ent
	s.mu.Unlock()

	s.sendChunksAround(w, world.ChunkPosFromVec3(pos), ent.ViewDistance())
	go s.handlePackets()
	return nil
}

// Message sends a chat message to the player. The values passed are
// formatted the way fmt.Sprintln formats them, without the trailing newline.
// Message implements chat.Subscriber, so a Session may be subscribed to a
// chat directly.
func (s *Session) Message(a ...any) {
	s.writePacket(&packet.Text{
		TextType: packet.TextTypeRaw,
		Message:  strings.TrimSuffix(fmt.Sprintln(a...), "\n"),
	})
}

// Disconnect shows the player a disconnection screen with the message passed
// and closes the session.
func (s *Session) Disconnect(message string) {
	s.writePacket(&packet.Disconnect{Message: message})
	_ = s.Close()
}

// Close closes the session, removing the player entity from its world and
// closing the underlying connection. Close may be called multiple times; all
// calls after the first are no-ops.
func (s *Session) Close() error {
	s.once.Do(s.close)
	return nil
}

// close carries out the actual closing of the session, run exactly once.
func (s *Session) close() {
	close(s.closed)

	s.mu.Lock()
	ent := s.ent
	s.ent = nil
	s.mu.Unlock()

	if ent != nil {
		if w := ent.World(); w != nil {
			if err := w.RemoveEntity(ent); err != nil {
				s.conf.Log.Error("close session: " + err.Error())
			}
		}
	}
	_ = s.conn.Close()
	s.conf.Log.Debug("session closed")
}

// handlePackets reads inbound packets from the connection of the session
// until reading fails, generally because the player disconnected or the
// session was closed, and dispatches them to their handlers.
func (s *Session) handlePackets() {
	defer func() {
		_ = s.Close()
	}()
	for {
		pk, err := s.conn.ReadPacket()
		if err != nil {
			return
		}
		if err := s.handlePacket(pk); err != nil {
			s.conf.Log.Debug("handle packet: "+err.Error(), "packet", fmt.Sprintf("%T", pk))
		}
	}
}

// handlePacket dispatches a single inbound packet to the handler registered
// for its packet ID. Packets without a registered handler are logged, while
// packets registered with a nil handler are deliberately discarded.
func (s *Session) handlePacket(pk packet.Packet) error {
	h, ok := s.handlers[pk.ID()]
	if !ok {
		s.conf.Log.Debug("unhandled packet", "packet", fmt.Sprintf("%T", pk))
		return nil
	}
	if h == nil {
		return nil
	}
	return h.Handle(pk, s)
}

// writePacket writes a packet to the connection of the session. Write
// failures are logged rather than returned: a connection that can no longer
// be written to is about to have its read loop fail and close the session.
func (s *Session) writePacket(pk packet.Packet) {
	select {
	case <-s.closed:
		return
	default:
	}
	if err := s.conn.WritePacket(pk); err != nil {
		s.conf.Log.Debug("write packet: "+err.Error(), "packet", fmt.Sprintf("%T", pk))
	}
}
