// Package chat implements the in-game chat of a server: a broadcast channel
// that subscribers such as player sessions and the server console attach to,
// and translations for the messages the server itself writes to it.
package chat

import (
	"sync"

	"golang.org/x/exp/maps"
)

// Global is the chat shared by everyone on a server. Player sessions are
// subscribed to it for as long as they are connected.
var Global = New()

// Chat is a broadcast channel for chat messages. Messages written to it are
// forwarded to every Subscriber currently subscribed. Methods of Chat may be
// called from any goroutine.
type Chat struct {
	m           sync.Mutex
	subscribers map[Subscriber]struct{}
}

// New returns a Chat without any subscribers.
func New() *Chat {
	return &Chat{subscribers: map[Subscriber]struct{}{}}
}

// Subscribe adds a Subscriber to the chat. The subscriber receives every
// message written until it is unsubscribed again. Subscribing twice is a
// no-op.
func (c *Chat) Subscribe(s Subscriber) {
	c.m.Lock()
	defer c.m.Unlock()
	c.subscribers[s] = struct{}{}
}

// Unsubscribe removes a Subscriber from the chat so that it stops receiving
// messages.
func (c *Chat) Unsubscribe(s Subscriber) {
	c.m.Lock()
	defer c.m.Unlock()
	delete(c.subscribers, s)
}

// Write writes the bytes passed to the chat as a single message. It always
// returns len(p) with a nil error, implementing io.Writer.
func (c *Chat) Write(p []byte) (n int, err error) {
	return c.WriteString(string(p))
}

// WriteString writes a message to the chat, forwarding it to every current
// subscriber. It implements io.StringWriter.
func (c *Chat) WriteString(s string) (n int, err error) {
	c.m.Lock()
	subscribers := maps.Keys(c.subscribers)
	c.m.Unlock()
	for _, subscriber := range subscribers {
		subscriber.Message(s)
	}
	return len(s), nil
}
