package domain

import "strings"

// DefaultWindowSize is the number of recent messages a turn grounds on.
const DefaultWindowSize = 6

// roleAliases maps normalized role spellings to canonical roles. Unknown
// spellings are rendered as user so legacy rows never block prompt assembly.
var roleAliases = map[string]Role{
	"user":      RoleUser,
	"usuario":   RoleUser,
	"assistant": RoleAssistant,
	"asistente": RoleAssistant,
}

// Window is a transient bounded view over a chronological message sequence.
type Window struct {
	Messages    []Message
	MaxMessages int
}

func (w Window) Recent() []Message {
	return RecentWindow(w.Messages, w.MaxMessages)
}

func (w Window) FormatForPrompt() string {
	return FormatForPrompt(w.Messages, w.MaxMessages)
}

// RecentWindow returns the last limit messages in their original order. A
// non-positive limit leaves the sequence unbounded. The result never aliases msgs.
func RecentWindow(msgs []Message, limit int) []Message {
	start := 0
	if limit > 0 && len(msgs) > limit {
		start = len(msgs) - limit
	}
	out := make([]Message, len(msgs)-start)
	copy(out, msgs[start:])
	return out
}

// FormatForPrompt renders the bounded window as "<role>: <text>" lines, oldest first.
func FormatForPrompt(msgs []Message, limit int) string {
	recent := RecentWindow(msgs, limit)
	lines := make([]string, 0, len(recent))
	for _, m := range recent {
		lines = append(lines, string(NormalizeRole(string(m.Role)))+": "+m.Text)
	}
	return strings.Join(lines, "\n")
}

// NormalizeRole maps a stored role string onto a canonical role, defaulting to user.
func NormalizeRole(raw string) Role {
	if r, ok := roleAliases[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return r
	}
	return RoleUser
}
