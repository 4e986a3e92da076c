package domain

import (
	"strings"
	"time"
)

// Role identifies who authored a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ParseRole accepts only the canonical roles.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleUser, RoleAssistant:
		return Role(s), nil
	}
	return "", invalid("role", "must be 'user' or 'assistant'")
}

// Message is a single line of dialogue within a session. ID is empty until the
// message has been appended to a conversation store.
type Message struct {
	ID        string
	SessionID string
	Role      Role
	Text      string
	Timestamp time.Time
}

// NewMessage validates and builds a Message.
func NewMessage(sessionID string, role Role, text string, ts time.Time) (Message, error) {
	m := Message{
		SessionID: sessionID,
		Role:      role,
		Text:      text,
		Timestamp: ts,
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

func (m Message) Validate() error {
	if _, err := ParseRole(string(m.Role)); err != nil {
		return err
	}
	if strings.TrimSpace(m.Text) == "" {
		return invalid("message", "must not be empty")
	}
	if strings.TrimSpace(m.SessionID) == "" {
		return invalid("session_id", "must not be empty")
	}
	return nil
}

func (m Message) IsFromUser() bool      { return m.Role == RoleUser }
func (m Message) IsFromAssistant() bool { return m.Role == RoleAssistant }
