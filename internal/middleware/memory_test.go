package middleware

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/corale/relay/internal/domain"
)

type memHistoryCache struct {
	turns map[string][]domain.Turn
}

func (c *memHistoryCache) History(sessionID string) ([]domain.Turn, bool) {
	t, ok := c.turns[sessionID]
	return t, ok
}

func (c *memHistoryCache) PutHistory(sessionID string, turns []domain.Turn) {
	c.turns[sessionID] = turns
}

type memMessageStore struct {
	conversations []*domain.Conversation
	messages      []*domain.Message
	failAll       bool
}

func (s *memMessageStore) UpsertConversation(ctx context.Context, conv *domain.Conversation) error {
	if s.failAll {
		return fmt.Errorf("db unavailable")
	}
	s.conversations = append(s.conversations, conv)
	return nil
}

func (s *memMessageStore) CreateMessage(ctx context.Context, msg *domain.Message) error {
	if s.failAll {
		return fmt.Errorf("db unavailable")
	}
	s.messages = append(s.messages, msg)
	return nil
}

func TestMemoryLoadsCachedHistory(t *testing.T) {
	cache := &memHistoryCache{turns: map[string][]domain.Turn{
		"s1": {{Role: "user", Content: "earlier"}},
	}}
	store := &memMessageStore{}

	var seen []domain.Turn
	terminal := func(ctx context.Context, req *domain.Request) (*domain.Response, error) {
		seen = req.History
		return &domain.Response{Output: "hi", ConversationID: "c1", HandlerName: "general_agent"}, nil
	}

	m := NewMemory(cache, store, zap.NewNop())
	chain := m.Wrap("general_agent", terminal)

	_, err := chain(context.Background(), &domain.Request{InputText: "hello", SessionID: "s1"})
	require.NoError(t, err)
	require.Len(t, seen, 1)
	assert.Equal(t, "earlier", seen[0].Content)
}

func TestMemoryPersistsTurn(t *testing.T) {
	cache := &memHistoryCache{turns: map[string][]domain.Turn{}}
	store := &memMessageStore{}

	m := NewMemory(cache, store, zap.NewNop())
	chain := m.Wrap("general_agent", okTerminal("answer"))

	resp, err := chain(context.Background(), &domain.Request{InputText: "question", SessionID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, "answer", resp.Output)

	require.Len(t, store.messages, 2)
	assert.Equal(t, "user", store.messages[0].Role)
	assert.Equal(t, "question", store.messages[0].Content)
	assert.Equal(t, "assistant", store.messages[1].Role)

	turns, ok := cache.History("s1")
	require.True(t, ok)
	require.Len(t, turns, 2)
	assert.Equal(t, "assistant", turns[1].Role)
}

func TestMemoryFailsOpenOnStoreErrors(t *testing.T) {
	cache := &memHistoryCache{turns: map[string][]domain.Turn{}}
	store := &memMessageStore{failAll: true}

	m := NewMemory(cache, store, zap.NewNop())
	chain := m.Wrap("general_agent", okTerminal("still fine"))

	resp, err := chain(context.Background(), &domain.Request{InputText: "hello", SessionID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, "still fine", resp.Output)
}

func TestMemoryPropagatesHandlerError(t *testing.T) {
	cache := &memHistoryCache{turns: map[string][]domain.Turn{}}
	store := &memMessageStore{}

	terminal := func(ctx context.Context, req *domain.Request) (*domain.Response, error) {
		return nil, fmt.Errorf("handler blew up")
	}

	m := NewMemory(cache, store, zap.NewNop())
	chain := m.Wrap("general_agent", terminal)

	_, err := chain(context.Background(), &domain.Request{InputText: "hello", SessionID: "s1"})
	require.Error(t, err)
	assert.Empty(t, store.messages, "failed turns are not persisted")
}
