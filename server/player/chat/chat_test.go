package chat

import (
	"fmt"
	"sync"
	"testing"

	"golang.org/x/text/language"
)

// recordingSubscriber records every message passed to Message.
type recordingSubscriber struct {
	mu       sync.Mutex
	messages []string
}

func (s *recordingSubscriber) Message(a ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, fmt.Sprint(a...))
}

func (s *recordingSubscriber) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

func (s *recordingSubscriber) last() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.messages) == 0 {
		return ""
	}
	return s.messages[len(s.messages)-1]
}

func TestChatBroadcast(t *testing.T) {
	c := New()
	a, b := &recordingSubscriber{}, &recordingSubscriber{}
	c.Subscribe(a)
	c.Subscribe(b)

	if n, err := c.WriteString("hello"); n != 5 || err != nil {
		t.Fatalf("WriteString returned (%v, %v), expected (5, nil)", n, err)
	}
	if a.count() != 1 || b.count() != 1 {
		t.Fatalf("expected both subscribers to receive 1 message, got %v and %v", a.count(), b.count())
	}
	if a.last() != "hello" {
		t.Fatalf("subscriber received %q, expected %q", a.last(), "hello")
	}
}

func TestChatUnsubscribe(t *testing.T) {
	c := New()
	a, b := &recordingSubscriber{}, &recordingSubscriber{}
	c.Subscribe(a)
	c.Subscribe(b)
	c.Unsubscribe(a)

	_, _ = c.WriteString("after")
	if a.count() != 0 {
		t.Fatalf("unsubscribed subscriber received %v messages", a.count())
	}
	if b.count() != 1 {
		t.Fatalf("remaining subscriber received %v messages, expected 1", b.count())
	}
}

func TestChatSubscribeTwice(t *testing.T) {
	c := New()
	a := &recordingSubscriber{}
	c.Subscribe(a)
	c.Subscribe(a)

	_, _ = c.WriteString("once")
	if a.count() != 1 {
		t.Fatalf("subscriber received %v messages, expected 1", a.count())
	}
}

func TestChatWriter(t *testing.T) {
	c := New()
	a := &recordingSubscriber{}
	c.Subscribe(a)

	if _, err := fmt.Fprintf(c, "%v scored %v", "Alex", 3); err != nil {
		t.Fatalf("Fprintf returned error: %v", err)
	}
	if a.last() != "Alex scored 3" {
		t.Fatalf("subscriber received %q", a.last())
	}
}

func TestTranslationFallback(t *testing.T) {
	join := Translate("%v joined the game", 1)
	if msg := join.F(language.AmericanEnglish, "Alex"); msg != "Alex joined the game" {
		t.Fatalf("F returned %q", msg)
	}
}

func TestTranslationRegistered(t *testing.T) {
	Register(language.Dutch, map[string]string{
		"%v joined the game": "%v heeft het spel betreden",
	})
	join := Translate("%v joined the game", 1)

	if msg := join.F(language.Dutch, "Alex"); msg != "Alex heeft het spel betreden" {
		t.Fatalf("F returned %q", msg)
	}
	// Languages without a registration fall back to English rather than the
	// first registered language.
	if msg := join.F(language.Japanese, "Alex"); msg != "Alex joined the game" {
		t.Fatalf("F returned %q for unregistered language", msg)
	}
	// A registered language still falls back per message.
	quit := Translate("%v left the game", 1)
	if msg := quit.F(language.Dutch, "Alex"); msg != "Alex left the game" {
		t.Fatalf("F returned %q for untranslated message", msg)
	}
}

func TestTranslationParamCount(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected F to panic on wrong parameter count")
		}
	}()
	Translate("%v joined the game", 1).F(language.English, "Alex", "extra")
}
