// Package console gives the operator of a server a voice in the game chat.
package console

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/basalt-mc/basalt/server/player/chat"
	"golang.org/x/text/language"
)

// Console broadcasts lines read from an input stream, typically standard
// input, to the global chat. Together with a chat.StdoutSubscriber it forms
// the two halves of a server console: one carries chat out of the game, the
// other carries operator input into it.
type Console struct {
	log    *slog.Logger
	name   string
	reader io.Reader
}

// New returns a Console reading from os.Stdin that chats under the name
// "Server".
func New(log *slog.Logger) *Console {
	if log == nil {
		log = slog.Default()
	}
	return &Console{log: log, name: "Server", reader: os.Stdin}
}

// WithReader replaces the input stream of the Console, enabling tests to
// drive it without a terminal.
func (c *Console) WithReader(r io.Reader) *Console {
	if r != nil {
		c.reader = r
	}
	return c
}

// Run consumes input until the context is cancelled or the input stream
// reaches EOF. Every non-empty line is broadcast to the global chat.
func (c *Console) Run(ctx context.Context) {
	scanner := bufio.NewScanner(c.reader)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				c.log.Error("console input: " + err.Error())
			}
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			c.log.Info("Unknown command.", "input", line)
			continue
		}
		_, _ = chat.Global.WriteString(chat.MessageChat.F(language.English, c.name, line))
	}
}
