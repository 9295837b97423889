package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/corale/relay/config"
	"github.com/corale/relay/internal/domain"
	"github.com/corale/relay/internal/registry"
	"github.com/corale/relay/internal/router"
)

type handlerFunc func(ctx context.Context, req domain.Request) (*domain.HandlerResult, error)

func (f handlerFunc) Execute(ctx context.Context, req domain.Request) (*domain.HandlerResult, error) {
	return f(ctx, req)
}

type memStore struct {
	mu          sync.Mutex
	checkpoints []*domain.Checkpoint
	events      []*domain.Event
}

func (s *memStore) SaveCheckpoint(ctx context.Context, cp *domain.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints = append(s.checkpoints, cp)
	return nil
}

func (s *memStore) CompletedCheckpoint(ctx context.Context, conversationID, idempotencyKey string) (*domain.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.checkpoints) - 1; i >= 0; i-- {
		cp := s.checkpoints[i]
		if cp.ConversationID == conversationID && cp.IdempotencyKey == idempotencyKey && cp.IsComplete {
			return cp, nil
		}
	}
	return nil, nil
}

func (s *memStore) LatestOpenCheckpoint(ctx context.Context, conversationID string) (*domain.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.checkpoints) - 1; i >= 0; i-- {
		cp := s.checkpoints[i]
		if cp.ConversationID == conversationID && !cp.IsComplete {
			return cp, nil
		}
	}
	return nil, nil
}

func (s *memStore) CreateEvent(ctx context.Context, ev *domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *memStore) eventTypes() []domain.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	types := make([]domain.EventType, 0, len(s.events))
	for _, ev := range s.events {
		types = append(types, ev.Type)
	}
	return types
}

type fakeSemantic struct {
	name  string
	err   error
	calls int
}

func (f *fakeSemantic) Route(ctx context.Context, req *domain.Request) (string, error) {
	f.calls++
	return f.name, f.err
}

type nopLocks struct{}

func (nopLocks) Acquire(ctx context.Context, key string) (func(), error) {
	return func() {}, nil
}

func newTestCoordinator(t *testing.T, reg *registry.Registry, semantic SemanticRoute, maxDepth int) (*Coordinator, *memStore) {
	t.Helper()
	store := &memStore{}
	coord := New(reg, router.NewRuleRouter(reg), semantic, nil, store, nopLocks{}, Options{
		Strategy: config.StrategyHybrid,
		Fallback: "general_agent",
		MaxDepth: maxDepth,
	}, zap.NewNop())
	return coord, store
}

func echoHandler(name string) handlerFunc {
	return func(ctx context.Context, req domain.Request) (*domain.HandlerResult, error) {
		return &domain.HandlerResult{
			Output: fmt.Sprintf("%s answered", name),
			Usage:  domain.Usage{InputUnits: 10, OutputUnits: 5},
		}, nil
	}
}

func TestHandleRoutesByRule(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Register(domain.Capability{
		Name: "report_agent", Enabled: true, TriggerTerms: []string{"report", "summary"},
	}, echoHandler("report_agent")))
	require.NoError(t, reg.Register(domain.Capability{
		Name: "general_agent", Enabled: true,
	}, echoHandler("general_agent")))

	semantic := &fakeSemantic{name: "general_agent"}
	coord, store := newTestCoordinator(t, reg, semantic, 3)

	resp, err := coord.Handle(context.Background(), domain.Request{
		InputText:      "Generate a report summary",
		SessionID:      "s1",
		ConversationID: "c1",
	})
	require.NoError(t, err)
	assert.Equal(t, "report_agent", resp.HandlerName)
	assert.Equal(t, domain.RoutingReasonRule, resp.RoutingReason)
	assert.Equal(t, 0, semantic.calls, "semantic router must not run on a rule hit")

	types := store.eventTypes()
	assert.Contains(t, types, domain.EventTypeRoutingDecided)
	assert.Contains(t, types, domain.EventTypeHandlerDone)
}

func TestHandleRoutesSemanticOnRuleMiss(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Register(domain.Capability{
		Name: "report_agent", Enabled: true, TriggerTerms: []string{"report"},
	}, echoHandler("report_agent")))
	require.NoError(t, reg.Register(domain.Capability{
		Name: "general_agent", Enabled: true,
	}, echoHandler("general_agent")))

	semantic := &fakeSemantic{name: "report_agent"}
	coord, _ := newTestCoordinator(t, reg, semantic, 3)

	resp, err := coord.Handle(context.Background(), domain.Request{
		InputText:      "put together last quarter's numbers",
		ConversationID: "c1",
	})
	require.NoError(t, err)
	assert.Equal(t, "report_agent", resp.HandlerName)
	assert.Equal(t, domain.RoutingReasonSemantic, resp.RoutingReason)
	assert.Equal(t, 1, semantic.calls)
}

func TestHandleFallsBackOnUnknownSemanticAnswer(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Register(domain.Capability{
		Name: "general_agent", Enabled: true,
	}, echoHandler("general_agent")))

	semantic := &fakeSemantic{name: "nonexistent_agent"}
	coord, _ := newTestCoordinator(t, reg, semantic, 3)

	resp, err := coord.Handle(context.Background(), domain.Request{
		InputText:      "xyzzy plugh",
		ConversationID: "c1",
	})
	require.NoError(t, err)
	assert.Equal(t, "general_agent", resp.HandlerName)
	assert.Equal(t, domain.RoutingReasonFallback, resp.RoutingReason)
}

func TestHandleFallsBackOnSemanticError(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Register(domain.Capability{
		Name: "general_agent", Enabled: true,
	}, echoHandler("general_agent")))

	semantic := &fakeSemantic{err: fmt.Errorf("provider down")}
	coord, _ := newTestCoordinator(t, reg, semantic, 3)

	resp, err := coord.Handle(context.Background(), domain.Request{
		InputText:      "hello there",
		ConversationID: "c1",
	})
	require.NoError(t, err)
	assert.Equal(t, "general_agent", resp.HandlerName)
	assert.Equal(t, domain.RoutingReasonFallback, resp.RoutingReason)
}

func TestHandleDelegation(t *testing.T) {
	reg := registry.New()
	var delegateeHistory []domain.Turn
	require.NoError(t, reg.Register(domain.Capability{
		Name: "report_agent", Enabled: true, TriggerTerms: []string{"report"},
	}, handlerFunc(func(ctx context.Context, req domain.Request) (*domain.HandlerResult, error) {
		return &domain.HandlerResult{
			Output:     "partial draft",
			DelegateTo: "general_agent",
			Usage:      domain.Usage{InputUnits: 7, OutputUnits: 3},
		}, nil
	})))
	require.NoError(t, reg.Register(domain.Capability{
		Name: "general_agent", Enabled: true,
	}, handlerFunc(func(ctx context.Context, req domain.Request) (*domain.HandlerResult, error) {
		delegateeHistory = req.History
		return &domain.HandlerResult{
			Output: "final answer",
			Usage:  domain.Usage{InputUnits: 10, OutputUnits: 5},
		}, nil
	})))

	coord, store := newTestCoordinator(t, reg, &fakeSemantic{}, 3)

	resp, err := coord.Handle(context.Background(), domain.Request{
		InputText:      "draft the report",
		ConversationID: "c1",
	})
	require.NoError(t, err)
	assert.Equal(t, "general_agent", resp.HandlerName)
	assert.Equal(t, "final answer", resp.Output)
	assert.Equal(t, domain.RoutingReasonDelegate, resp.RoutingReason)

	// Usage accumulates across the hops.
	assert.Equal(t, 17, resp.Usage.InputUnits)
	assert.Equal(t, 8, resp.Usage.OutputUnits)

	// The delegatee sees the partial result as history.
	require.NotEmpty(t, delegateeHistory)
	assert.Equal(t, "partial draft", delegateeHistory[len(delegateeHistory)-1].Content)

	assert.Contains(t, store.eventTypes(), domain.EventTypeDelegation)
}

func TestHandleDelegationToUnknownFallsBack(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Register(domain.Capability{
		Name: "report_agent", Enabled: true, TriggerTerms: []string{"report"},
	}, handlerFunc(func(ctx context.Context, req domain.Request) (*domain.HandlerResult, error) {
		return &domain.HandlerResult{Output: "partial", DelegateTo: "ghost_agent"}, nil
	})))
	require.NoError(t, reg.Register(domain.Capability{
		Name: "general_agent", Enabled: true,
	}, echoHandler("general_agent")))

	coord, _ := newTestCoordinator(t, reg, &fakeSemantic{}, 3)

	resp, err := coord.Handle(context.Background(), domain.Request{
		InputText:      "draft the report",
		ConversationID: "c1",
	})
	require.NoError(t, err)
	assert.Equal(t, "general_agent", resp.HandlerName)
}

func TestHandleDepthExceeded(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Register(domain.Capability{
		Name: "report_agent", Enabled: true, TriggerTerms: []string{"report"},
	}, handlerFunc(func(ctx context.Context, req domain.Request) (*domain.HandlerResult, error) {
		return &domain.HandlerResult{Output: "ping", DelegateTo: "general_agent"}, nil
	})))
	require.NoError(t, reg.Register(domain.Capability{
		Name: "general_agent", Enabled: true,
	}, handlerFunc(func(ctx context.Context, req domain.Request) (*domain.HandlerResult, error) {
		return &domain.HandlerResult{Output: "pong", DelegateTo: "report_agent"}, nil
	})))

	coord, _ := newTestCoordinator(t, reg, &fakeSemantic{}, 3)

	_, err := coord.Handle(context.Background(), domain.Request{
		InputText:      "draft the report",
		ConversationID: "c1",
	})
	var dErr *domain.RoutingDepthExceededError
	require.True(t, errors.As(err, &dErr))
	assert.Equal(t, 3, dErr.Depth)
	assert.Equal(t, 3, dErr.Max)
}

func TestHandleIdempotentReplay(t *testing.T) {
	reg := registry.New()
	calls := 0
	require.NoError(t, reg.Register(domain.Capability{
		Name: "general_agent", Enabled: true,
	}, handlerFunc(func(ctx context.Context, req domain.Request) (*domain.HandlerResult, error) {
		calls++
		return &domain.HandlerResult{Output: fmt.Sprintf("answer %d", calls)}, nil
	})))

	coord, store := newTestCoordinator(t, reg, &fakeSemantic{}, 3)

	req := domain.Request{InputText: "hello", ConversationID: "c1"}

	first, err := coord.Handle(context.Background(), req)
	require.NoError(t, err)

	second, err := coord.Handle(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 1, calls, "replay must not re-execute the handler")
	assert.Equal(t, first.Output, second.Output)
	assert.Contains(t, store.eventTypes(), domain.EventTypeReplayServed)

	// A different input in the same conversation executes normally.
	_, err = coord.Handle(context.Background(), domain.Request{InputText: "something else", ConversationID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestHandleRejectsEmptyInput(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Register(domain.Capability{
		Name: "general_agent", Enabled: true,
	}, echoHandler("general_agent")))

	coord, _ := newTestCoordinator(t, reg, &fakeSemantic{}, 3)

	_, err := coord.Handle(context.Background(), domain.Request{InputText: "   "})
	assert.Error(t, err)
}

func TestHandleAssignsConversationID(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Register(domain.Capability{
		Name: "general_agent", Enabled: true,
	}, echoHandler("general_agent")))

	coord, _ := newTestCoordinator(t, reg, &fakeSemantic{}, 3)

	resp, err := coord.Handle(context.Background(), domain.Request{InputText: "hello"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.ConversationID)
}

func TestResumeReplaysOpenCheckpoint(t *testing.T) {
	reg := registry.New()
	var seen domain.Request
	require.NoError(t, reg.Register(domain.Capability{
		Name: "data_analysis_agent", Enabled: true, TriggerTerms: []string{"analyze"},
	}, handlerFunc(func(ctx context.Context, req domain.Request) (*domain.HandlerResult, error) {
		seen = req
		return &domain.HandlerResult{Output: "recovered"}, nil
	})))
	require.NoError(t, reg.Register(domain.Capability{
		Name: "general_agent", Enabled: true,
	}, echoHandler("general_agent")))

	coord, store := newTestCoordinator(t, reg, &fakeSemantic{}, 3)

	// An interrupted handler left an open checkpoint behind.
	require.NoError(t, store.SaveCheckpoint(context.Background(), &domain.Checkpoint{
		ID:             "cp_open",
		ConversationID: "c1",
		HandlerName:    "data_analysis_agent",
		State:          []byte(`{"step":"aggregate","input_text":"analyze 1 2 3","session_id":"s1","user_id":"u1"}`),
		IsComplete:     false,
	}))

	resp, err := coord.Resume(context.Background(), "c1")
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, "data_analysis_agent", resp.HandlerName)
	assert.Equal(t, "recovered", resp.Output)
	assert.Equal(t, "analyze 1 2 3", seen.InputText)
	assert.Equal(t, domain.OriginQueued, seen.Origin)
}

func TestResumeWithNothingPending(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Register(domain.Capability{
		Name: "general_agent", Enabled: true,
	}, echoHandler("general_agent")))

	coord, _ := newTestCoordinator(t, reg, &fakeSemantic{}, 3)

	resp, err := coord.Resume(context.Background(), "c-unknown")
	require.NoError(t, err)
	assert.Nil(t, resp)
}

func TestHandleWrapsHandlerError(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Register(domain.Capability{
		Name: "general_agent", Enabled: true,
	}, handlerFunc(func(ctx context.Context, req domain.Request) (*domain.HandlerResult, error) {
		return nil, fmt.Errorf("model unavailable")
	})))

	coord, store := newTestCoordinator(t, reg, &fakeSemantic{}, 3)

	_, err := coord.Handle(context.Background(), domain.Request{InputText: "hello", ConversationID: "c1"})
	var hErr *domain.HandlerExecutionError
	require.True(t, errors.As(err, &hErr))
	assert.Equal(t, "general_agent", hErr.Handler)

	assert.Contains(t, store.eventTypes(), domain.EventTypeHandlerFailed)
}
