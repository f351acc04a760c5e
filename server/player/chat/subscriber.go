package chat

import (
	"fmt"
	"strings"
	"time"
)

// Subscriber is a receiver of chat messages, such as the session of a player
// or the console of the server.
type Subscriber interface {
	// Message sends a message to the subscriber. The values passed are
	// formatted the way fmt.Sprintln formats them, without the trailing
	// newline.
	Message(a ...any)
}

// StdoutSubscriber is a Subscriber that prints messages to the standard
// output, used to echo the in-game chat to the server console.
type StdoutSubscriber struct{}

// Message prints the message to the standard output, prefixed with the
// current time.
func (StdoutSubscriber) Message(a ...any) {
	msg := strings.TrimSuffix(fmt.Sprintln(a...), "\n")
	fmt.Printf("%v %v\n", time.Now().Format("15:04:05"), msg)
}
