package usecase

import (
	"context"
	"errors"
	"hash/fnv"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"shop-assistant/internal/assistant"
	"shop-assistant/internal/domain"
	"shop-assistant/internal/logger"
	"shop-assistant/internal/metrics"
)

const (
	defaultMaxMessageLength  = 2000
	defaultDeadLetterTimeout = 5 * time.Second
	sessionLockStripes       = 64
)

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// ChatOptions tunes a ChatService. Zero values select the defaults.
type ChatOptions struct {
	// WindowSize bounds how many prior messages are shown to the model.
	WindowSize int
	// MaxMessageLength caps the inbound message, counted in runes.
	MaxMessageLength int
	// ConcurrentSessionTurns disables per-session serialization of SendMessage.
	ConcurrentSessionTurns bool

	DeadLetter        DeadLetter
	// DeadLetterTimeout bounds one dead-letter publish.
	DeadLetterTimeout time.Duration
	Logger            *zerolog.Logger
	Metrics           *metrics.Metrics
	Now               func() time.Time
}

// ChatService runs one conversational turn at a time per session: it grounds
// the model in the catalog and the recent transcript, then stores both sides
// of the exchange.
type ChatService struct {
	catalog   CatalogReader
	history   ConversationStore
	responder Responder

	windowSize int
	maxLen     int
	serialize  bool
	deadLetter DeadLetter
	dlTimeout  time.Duration
	log        zerolog.Logger
	metrics    *metrics.Metrics
	now        func() time.Time

	locks [sessionLockStripes]sync.Mutex
}

type SendMessageInput struct {
	SessionID string
	Message   string
}

type SendMessageOutput struct {
	SessionID        string
	UserMessage      string
	AssistantMessage string
	Timestamp        time.Time
}

func NewChatService(catalog CatalogReader, history ConversationStore, responder Responder, opts ChatOptions) (*ChatService, error) {
	if catalog == nil {
		return nil, errors.New("usecase: catalog reader must not be nil")
	}
	if history == nil {
		return nil, errors.New("usecase: conversation store must not be nil")
	}
	if responder == nil {
		return nil, errors.New("usecase: responder must not be nil")
	}
	if opts.WindowSize <= 0 {
		opts.WindowSize = domain.DefaultWindowSize
	}
	if opts.MaxMessageLength <= 0 {
		opts.MaxMessageLength = defaultMaxMessageLength
	}
	if opts.DeadLetterTimeout <= 0 {
		opts.DeadLetterTimeout = defaultDeadLetterTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &ChatService{
		catalog:    catalog,
		history:    history,
		responder:  responder,
		windowSize: opts.WindowSize,
		maxLen:     opts.MaxMessageLength,
		serialize:  !opts.ConcurrentSessionTurns,
		deadLetter: opts.DeadLetter,
		dlTimeout:  opts.DeadLetterTimeout,
		log:        logger.Component(logger.OrNop(opts.Logger), "chat"),
		metrics:    opts.Metrics,
		now:        opts.Now,
	}, nil
}

// SendMessage processes one user message. On any failure before persistence
// nothing is written for the turn. Failed provider calls are dead-lettered
// after the session lock is released.
func (s *ChatService) SendMessage(ctx context.Context, in SendMessageInput) (SendMessageOutput, error) {
	sessionID := strings.TrimSpace(in.SessionID)
	if sessionID == "" {
		return SendMessageOutput{}, newError(ErrorInvalidInput, "empty_session_id", nil)
	}
	if strings.TrimSpace(in.Message) == "" {
		return SendMessageOutput{}, newError(ErrorInvalidInput, "empty_message", nil)
	}
	if utf8.RuneCountInString(in.Message) > s.maxLen {
		return SendMessageOutput{}, newError(ErrorInvalidInput, "message_too_long", nil)
	}

	out, err := s.runTurn(ctx, sessionID, in.Message)
	var uerr *Error
	if errors.As(err, &uerr) && (uerr.Code == ErrorUpstream || uerr.Code == ErrorRateLimited) {
		s.publishDeadLetter(ctx, sessionID, in.Message, uerr.Reason)
	}
	return out, err
}

// runTurn holds the session lock for one read-generate-persist cycle.
func (s *ChatService) runTurn(ctx context.Context, sessionID, message string) (out SendMessageOutput, err error) {
	if s.serialize {
		mu := s.lockFor(sessionID)
		mu.Lock()
		defer mu.Unlock()
	}

	start := time.Now()
	log := logger.FromContext(ctx, s.log).With().Str("session_id", sessionID).Logger()
	log.Debug().Str("model", s.responder.ActiveModel()).Msg("turn started")
	defer func() {
		outcome := "success"
		ev := log.Info()
		if err != nil {
			outcome = strings.ToLower(string(CodeOf(err)))
			ev = log.Warn().Err(err)
		}
		s.metrics.RecordTurn(outcome, time.Since(start))
		ev.Dur("duration", time.Since(start)).
			Str("model", s.responder.ActiveModel()).
			Str("outcome", outcome).
			Msg("turn finished")
	}()

	products, err := s.catalog.GetAll(ctx)
	if err != nil {
		return SendMessageOutput{}, newError(ErrorInternal, "catalog_read_error", err)
	}

	recent, err := s.history.Recent(ctx, sessionID, s.windowSize)
	if err != nil {
		return SendMessageOutput{}, newError(ErrorInternal, "history_read_error", err)
	}

	reply, err := s.responder.Generate(ctx, assistant.Request{
		UserMessage: message,
		Products:    products,
		Transcript:  domain.FormatForPrompt(recent, s.windowSize),
	})
	if err != nil {
		return SendMessageOutput{}, classifyProviderError(err)
	}

	userMsg, err := domain.NewMessage(sessionID, domain.RoleUser, message, s.now().UTC())
	if err != nil {
		return SendMessageOutput{}, newError(ErrorInvalidInput, "invalid_message", err)
	}
	replyAt := s.now().UTC()
	if !replyAt.After(userMsg.Timestamp) {
		replyAt = userMsg.Timestamp.Add(time.Microsecond)
	}
	replyMsg, err := domain.NewMessage(sessionID, domain.RoleAssistant, reply, replyAt)
	if err != nil {
		return SendMessageOutput{}, newError(ErrorInternal, "invalid_reply", err)
	}

	if err := s.persistTurn(ctx, userMsg, replyMsg); err != nil {
		return SendMessageOutput{}, newError(ErrorInternal, "history_write_error", err)
	}

	return SendMessageOutput{
		SessionID:        sessionID,
		UserMessage:      message,
		AssistantMessage: reply,
		Timestamp:        s.now().UTC(),
	}, nil
}

// persistTurn keeps the user message ahead of the reply. Stores without
// TurnAppender may keep the user message if the second append fails.
func (s *ChatService) persistTurn(ctx context.Context, user, reply domain.Message) error {
	if ta, ok := s.history.(TurnAppender); ok {
		_, _, err := ta.AppendTurn(ctx, user, reply)
		return err
	}
	if _, err := s.history.Append(ctx, user); err != nil {
		return err
	}
	_, err := s.history.Append(ctx, reply)
	return err
}

// History returns the session's messages oldest first. limit <= 0 returns all.
func (s *ChatService) History(ctx context.Context, sessionID string, limit int) ([]domain.Message, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, newError(ErrorInvalidInput, "empty_session_id", nil)
	}
	if limit < 0 {
		limit = 0
	}
	msgs, err := s.history.History(ctx, sessionID, limit)
	if err != nil {
		return nil, newError(ErrorInternal, "history_read_error", err)
	}
	return msgs, nil
}

// ClearHistory deletes every message of the session and reports how many went.
func (s *ChatService) ClearHistory(ctx context.Context, sessionID string) (int, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return 0, newError(ErrorInvalidInput, "empty_session_id", nil)
	}
	n, err := s.history.Purge(ctx, sessionID)
	if err != nil {
		return 0, newError(ErrorInternal, "history_delete_error", err)
	}
	log := logger.FromContext(ctx, s.log)
	log.Info().Str("session_id", sessionID).Int("deleted", n).Msg("history cleared")
	return n, nil
}

func (s *ChatService) lockFor(sessionID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sessionID))
	return &s.locks[h.Sum32()%sessionLockStripes]
}

// publishDeadLetter outlives caller cancellation, bounded by the dead-letter timeout.
func (s *ChatService) publishDeadLetter(ctx context.Context, sessionID, message, reason string) {
	if s.deadLetter == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.dlTimeout)
	defer cancel()
	if err := s.deadLetter.Publish(pubCtx, sessionID, message, reason); err != nil {
		log := logger.FromContext(ctx, s.log)
		log.Error().Err(err).Str("session_id", sessionID).Str("reason", reason).Msg("dead-letter publish failed")
	}
}

func classifyProviderError(err error) *Error {
	if errors.Is(err, assistant.ErrTimeout) {
		return newError(ErrorUpstream, "provider_timeout", err)
	}
	if status, ok := upstreamStatusCode(err); ok && status == http.StatusTooManyRequests {
		return newError(ErrorRateLimited, "provider_rate_limited", err)
	}
	return newError(ErrorUpstream, "provider_error", err)
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}
