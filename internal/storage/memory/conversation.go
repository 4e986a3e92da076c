package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"shop-assistant/internal/domain"
)

// Conversations keeps messages per session in append order.
type Conversations struct {
	mu       sync.RWMutex
	sessions map[string][]domain.Message
	newID    func() string
}

func NewConversations() *Conversations {
	return &Conversations{
		sessions: make(map[string][]domain.Message),
		newID:    uuid.NewString,
	}
}

func (c *Conversations) Append(_ context.Context, msg domain.Message) (domain.Message, error) {
	if err := msg.Validate(); err != nil {
		return domain.Message{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.appendLocked(msg), nil
}

// AppendTurn stores both messages under one lock so readers never observe
// the user message without its reply.
func (c *Conversations) AppendTurn(_ context.Context, user, assistant domain.Message) (domain.Message, domain.Message, error) {
	if err := user.Validate(); err != nil {
		return domain.Message{}, domain.Message{}, err
	}
	if err := assistant.Validate(); err != nil {
		return domain.Message{}, domain.Message{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.appendLocked(user), c.appendLocked(assistant), nil
}

func (c *Conversations) appendLocked(msg domain.Message) domain.Message {
	msg.ID = c.newID()
	c.sessions[msg.SessionID] = append(c.sessions[msg.SessionID], msg)
	return msg
}

func (c *Conversations) Recent(_ context.Context, sessionID string, count int) ([]domain.Message, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return domain.RecentWindow(c.sessions[sessionID], count), nil
}

// History returns the last limit messages, or all of them when limit <= 0.
func (c *Conversations) History(ctx context.Context, sessionID string, limit int) ([]domain.Message, error) {
	return c.Recent(ctx, sessionID, limit)
}

func (c *Conversations) Purge(_ context.Context, sessionID string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.sessions[sessionID])
	delete(c.sessions, sessionID)
	return n, nil
}
