package usecase

import (
	"context"

	"shop-assistant/internal/assistant"
	"shop-assistant/internal/domain"
)

// CatalogReader is the read side of a product catalog.
// GetByID returns an error matching domain.ErrNotFound for unknown ids.
type CatalogReader interface {
	GetAll(ctx context.Context) ([]domain.Product, error)
	GetByID(ctx context.Context, id int64) (domain.Product, error)
	GetByBrand(ctx context.Context, brand string) ([]domain.Product, error)
	GetByCategory(ctx context.Context, category string) ([]domain.Product, error)
}

// ConversationStore persists chat messages per session.
// Recent and History return messages oldest first.
type ConversationStore interface {
	Append(ctx context.Context, msg domain.Message) (domain.Message, error)
	Recent(ctx context.Context, sessionID string, count int) ([]domain.Message, error)
	History(ctx context.Context, sessionID string, limit int) ([]domain.Message, error)
	Purge(ctx context.Context, sessionID string) (int, error)
}

// TurnAppender is implemented by stores that can write a user message and
// its reply atomically.
type TurnAppender interface {
	AppendTurn(ctx context.Context, user, assistant domain.Message) (domain.Message, domain.Message, error)
}

// Responder produces assistant text for a turn.
type Responder interface {
	Generate(ctx context.Context, req assistant.Request) (string, error)
	ActiveModel() string
}

// DeadLetter receives turns that were aborted before anything was stored.
type DeadLetter interface {
	Publish(ctx context.Context, sessionID, message, reason string) error
}
