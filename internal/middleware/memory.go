package middleware

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/corale/relay/internal/domain"
)

// HistoryCache is the ephemeral side of conversational memory.
type HistoryCache interface {
	History(sessionID string) ([]domain.Turn, bool)
	PutHistory(sessionID string, turns []domain.Turn)
}

// MessageStore is the durable side of conversational memory.
type MessageStore interface {
	UpsertConversation(ctx context.Context, conv *domain.Conversation) error
	CreateMessage(ctx context.Context, msg *domain.Message) error
}

// Memory loads prior turns before the handler runs and persists the new
// turn after, bracketing the handler call. Every failure here is logged
// and swallowed: memory must never block the response.
type Memory struct {
	cache  HistoryCache
	store  MessageStore
	logger *zap.Logger
}

// NewMemory creates the conversational-memory stage.
func NewMemory(cache HistoryCache, store MessageStore, logger *zap.Logger) *Memory {
	return &Memory{cache: cache, store: store, logger: logger}
}

func (m *Memory) Name() string { return "memory" }

// Wrap overrides the request history from the session cache when present,
// then persists the completed turn.
func (m *Memory) Wrap(capabilityName string, next Next) Next {
	return func(ctx context.Context, req *domain.Request) (*domain.Response, error) {
		if turns, ok := m.loadHistory(req.SessionID); ok {
			req.History = turns
		}

		resp, err := next(ctx, req)
		if err != nil {
			return nil, err
		}

		m.persistTurn(ctx, req, resp)
		return resp, nil
	}
}

func (m *Memory) loadHistory(sessionID string) (turns []domain.Turn, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Warn("history load panicked", zap.Any("panic", r))
			turns, ok = nil, false
		}
	}()
	return m.cache.History(sessionID)
}

func (m *Memory) persistTurn(ctx context.Context, req *domain.Request, resp *domain.Response) {
	now := time.Now()

	conv := &domain.Conversation{
		ID:        resp.ConversationID,
		UserID:    req.UserID,
		SessionID: req.SessionID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.UpsertConversation(ctx, conv); err != nil {
		m.logger.Warn("failed to upsert conversation", zap.String("conversation_id", conv.ID), zap.Error(err))
	}

	userMsg := &domain.Message{
		ID:             "msg_" + uuid.New().String()[:8],
		ConversationID: resp.ConversationID,
		Role:           "user",
		Content:        req.InputText,
		CreatedAt:      now,
	}
	if err := m.store.CreateMessage(ctx, userMsg); err != nil {
		m.logger.Warn("failed to save user message", zap.Error(err))
	}

	assistantMsg := &domain.Message{
		ID:             "msg_" + uuid.New().String()[:8],
		ConversationID: resp.ConversationID,
		HandlerName:    resp.HandlerName,
		Role:           "assistant",
		Content:        renderOutput(resp.Output),
		InputUnits:     resp.Usage.InputUnits,
		OutputUnits:    resp.Usage.OutputUnits,
		CreatedAt:      now.Add(time.Millisecond),
	}
	if err := m.store.CreateMessage(ctx, assistantMsg); err != nil {
		m.logger.Warn("failed to save assistant message", zap.Error(err))
	}

	updated := append(append([]domain.Turn(nil), req.History...),
		domain.Turn{Role: "user", Content: req.InputText},
		domain.Turn{Role: "assistant", Content: assistantMsg.Content})
	m.cache.PutHistory(req.SessionID, updated)
}
