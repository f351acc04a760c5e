package chat

import (
	"fmt"
	"sync"

	"golang.org/x/text/language"
)

// Messages written to the chat by the server itself.
var (
	MessageJoin             = Translate("%v joined the game", 1)
	MessageQuit             = Translate("%v left the game", 1)
	MessageChat             = Translate("<%v> %v", 2)
	MessageServerDisconnect = Translate("Disconnected by server", 0)
	MessageServerFull       = Translate("The server is full.", 0)
	MessageAlreadyLoggedIn  = Translate("You are already logged in on this server.", 0)
)

// Translation is a chat message template with a fixed number of formatting
// parameters. The English format passed to Translate doubles as the fallback
// used when no translation is registered for a language.
type Translation struct {
	format string
	params int
}

// Translate returns a Translation for the English format passed. The format
// is expected to hold exactly params formatting verbs.
func Translate(format string, params int) Translation {
	return Translation{format: format, params: params}
}

// Zero reports whether the Translation is the zero value.
func (t Translation) Zero() bool {
	return t == Translation{}
}

// Resolve returns the format of the Translation in the language passed,
// using the closest registered language match. If no registered language
// matches, or the matched language does not translate this message, the
// English format is returned.
func (t Translation) Resolve(l language.Tag) string {
	translationMu.RLock()
	defer translationMu.RUnlock()
	if matcher == nil {
		return t.format
	}
	_, i, _ := matcher.Match(l)
	if s, ok := translations[tags[i]][t.format]; ok {
		return s
	}
	return t.format
}

// F resolves the Translation in the language passed and fills in the
// formatting parameters a. F panics if the number of parameters passed does
// not match that of the Translation.
func (t Translation) F(l language.Tag, a ...any) string {
	if len(a) != t.params {
		panic(fmt.Sprintf("translation %q expects %v parameters, got %v", t.format, t.params, len(a)))
	}
	return fmt.Sprintf(t.Resolve(l), a...)
}

var (
	translationMu sync.RWMutex
	translations  = map[language.Tag]map[string]string{}
	tags          []language.Tag
	matcher       language.Matcher
)

// Register registers translations for the language passed. The map is keyed
// by the English format of each message. Registering the same language twice
// merges the maps, with the later registration winning on conflicts.
func Register(l language.Tag, m map[string]string) {
	translationMu.Lock()
	defer translationMu.Unlock()
	if len(tags) == 0 {
		// English leads the matcher so that unknown languages fall back to
		// the untranslated formats.
		tags = []language.Tag{language.English}
		translations[language.English] = map[string]string{}
	}
	reg, ok := translations[l]
	if !ok {
		reg = map[string]string{}
		translations[l] = reg
		if l != language.English {
			tags = append(tags, l)
		}
	}
	for format, translated := range m {
		reg[format] = translated
	}
	matcher = language.NewMatcher(tags)
}
