package session

import (
	"errors"
	"strings"
	"time"

	"github.com/basalt-mc/basalt/server/player/chat"
	"github.com/sandertv/gophertunnel/minecraft/protocol/packet"
)

// errTextType is returned when a player sends a Text packet of a type other
// than chat. Clients only ever send chat messages; other types are written
// by the server.
var errTextType = errors.New("text packet must be of chat type")

// TextHandler handles the Text packet, the chat messages typed by the
// player.
type TextHandler struct {
	LastMessage time.Time
}

// Handle ...
func (h *TextHandler) Handle(p packet.Packet, s *Session) error {
	pk := p.(*packet.Text)

	if pk.TextType != packet.TextTypeChat {
		return errTextType
	}
	if time.Since(h.LastMessage) < time.Second {
		return nil
	}
	h.LastMessage = time.Now()

	msg := strings.TrimSpace(strings.ToValidUTF8(pk.Message, ""))
	if msg == "" {
		return nil
	}
	_, _ = chat.Global.WriteString(chat.MessageChat.F(s.Locale(), s.Name(), msg))
	return nil
}
