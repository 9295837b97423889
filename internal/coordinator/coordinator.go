// Package coordinator owns the lifecycle of one request: routing,
// middleware composition, handler dispatch, delegation and idempotent
// replay. It is the only package that sees a request end to end.
package coordinator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/corale/relay/config"
	"github.com/corale/relay/internal/domain"
	"github.com/corale/relay/internal/middleware"
	"github.com/corale/relay/internal/registry"
	"github.com/corale/relay/internal/router"
)

// Store is the durable state the coordinator needs: checkpoints for
// idempotent replay and events for the audit trail.
type Store interface {
	SaveCheckpoint(ctx context.Context, cp *domain.Checkpoint) error
	CompletedCheckpoint(ctx context.Context, conversationID, idempotencyKey string) (*domain.Checkpoint, error)
	LatestOpenCheckpoint(ctx context.Context, conversationID string) (*domain.Checkpoint, error)
	CreateEvent(ctx context.Context, ev *domain.Event) error
}

// Locks serializes concurrent turns within one conversation.
type Locks interface {
	Acquire(ctx context.Context, key string) (func(), error)
}

// SemanticRoute is the model-backed classifier invoked on a rule miss.
type SemanticRoute interface {
	Route(ctx context.Context, req *domain.Request) (string, error)
}

// Options tunes routing behavior.
type Options struct {
	Strategy string
	Fallback string
	MaxDepth int
}

// Coordinator routes requests to domain handlers through the middleware
// chain.
type Coordinator struct {
	registry *registry.Registry
	rule     *router.RuleRouter
	semantic SemanticRoute
	stages   []middleware.Stage
	store    Store
	locks    Locks
	opts     Options
	logger   *zap.Logger
}

// New creates a coordinator.
func New(reg *registry.Registry, rule *router.RuleRouter, semantic SemanticRoute, stages []middleware.Stage, store Store, locks Locks, opts Options, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		registry: reg,
		rule:     rule,
		semantic: semantic,
		stages:   stages,
		store:    store,
		locks:    locks,
		opts:     opts,
		logger:   logger,
	}
}

// Handle processes one inbound request to completion. A repeated
// submission of the same input in the same conversation returns the
// stored response without re-executing anything.
func (c *Coordinator) Handle(ctx context.Context, req domain.Request) (*domain.Response, error) {
	if strings.TrimSpace(req.InputText) == "" {
		return nil, fmt.Errorf("input text is required")
	}
	if req.ConversationID == "" {
		req.ConversationID = "conv_" + uuid.New().String()
	}

	release, err := c.locks.Acquire(ctx, req.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire conversation lock: %w", err)
	}
	defer release()

	key := idempotencyKey(req.InputText)
	if prior, err := c.store.CompletedCheckpoint(ctx, req.ConversationID, key); err != nil {
		c.logger.Warn("failed to look up completed checkpoint",
			zap.String("conversation_id", req.ConversationID), zap.Error(err))
	} else if prior != nil {
		var resp domain.Response
		if unmarshalErr := json.Unmarshal(prior.State, &resp); unmarshalErr != nil {
			c.logger.Warn("completed checkpoint is unreadable, re-executing",
				zap.String("checkpoint_id", prior.ID), zap.Error(unmarshalErr))
		} else {
			c.recordEvent(ctx, req.ConversationID, domain.EventTypeReplayServed, map[string]any{
				"checkpoint_id": prior.ID,
				"handler":       prior.HandlerName,
			})
			return &resp, nil
		}
	}

	resp, err := c.handle(ctx, req, 0, "")
	if err != nil {
		return nil, err
	}

	c.commit(ctx, req.ConversationID, key, resp)
	return resp, nil
}

// Resume replays an interrupted turn from the latest open checkpoint of
// a conversation, forcing the handler that was mid-flight when the
// process stopped. Returns nil without error when there is nothing to
// resume.
func (c *Coordinator) Resume(ctx context.Context, conversationID string) (*domain.Response, error) {
	release, err := c.locks.Acquire(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire conversation lock: %w", err)
	}
	defer release()

	cp, err := c.store.LatestOpenCheckpoint(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load open checkpoint: %w", err)
	}
	if cp == nil {
		return nil, nil
	}

	var state struct {
		InputText string `json:"input_text"`
		SessionID string `json:"session_id"`
		UserID    string `json:"user_id"`
	}
	if err := json.Unmarshal(cp.State, &state); err != nil || state.InputText == "" {
		return nil, fmt.Errorf("checkpoint %s is not resumable", cp.ID)
	}

	c.logger.Info("resuming from checkpoint",
		zap.String("conversation_id", conversationID),
		zap.String("checkpoint_id", cp.ID),
		zap.String("handler", cp.HandlerName))

	req := domain.Request{
		InputText:      state.InputText,
		SessionID:      state.SessionID,
		UserID:         state.UserID,
		Origin:         domain.OriginQueued,
		ConversationID: conversationID,
	}

	resp, err := c.handle(ctx, req, 0, cp.HandlerName)
	if err != nil {
		return nil, err
	}
	c.commit(ctx, conversationID, idempotencyKey(req.InputText), resp)
	return resp, nil
}

// handle performs one routing hop. forced carries a delegation target
// chosen by the previous handler; depth counts hops already taken.
func (c *Coordinator) handle(ctx context.Context, req domain.Request, depth int, forced string) (*domain.Response, error) {
	if depth >= c.opts.MaxDepth {
		return nil, &domain.RoutingDepthExceededError{Depth: depth, Max: c.opts.MaxDepth}
	}

	name, reason := c.route(ctx, &req, forced)
	if !c.registry.Has(name) {
		name, reason = c.opts.Fallback, domain.RoutingReasonFallback
	}
	h, err := c.registry.Get(name)
	if err != nil {
		return nil, fmt.Errorf("fallback capability unavailable: %w", err)
	}

	c.recordEvent(ctx, req.ConversationID, domain.EventTypeRoutingDecided, map[string]any{
		"handler": name,
		"reason":  reason,
		"depth":   depth,
	})
	c.logger.Info("routed",
		zap.String("conversation_id", req.ConversationID),
		zap.String("handler", name),
		zap.String("reason", reason),
		zap.Int("depth", depth))

	terminal := func(ctx context.Context, req *domain.Request) (*domain.Response, error) {
		c.recordEvent(ctx, req.ConversationID, domain.EventTypeHandlerStarted, map[string]any{"handler": name})

		result, err := h.Execute(ctx, *req)
		if err != nil {
			c.recordEvent(ctx, req.ConversationID, domain.EventTypeHandlerFailed, map[string]any{
				"handler": name,
				"error":   err.Error(),
			})
			var hErr *domain.HandlerExecutionError
			if errors.As(err, &hErr) {
				return nil, err
			}
			return nil, &domain.HandlerExecutionError{Handler: name, Err: err}
		}

		c.recordEvent(ctx, req.ConversationID, domain.EventTypeHandlerDone, map[string]any{"handler": name})
		return &domain.Response{
			Output:         result.Output,
			HandlerName:    name,
			ConversationID: req.ConversationID,
			Usage:          result.Usage,
			RoutingReason:  reason,
			DelegateTo:     result.DelegateTo,
		}, nil
	}

	chain := middleware.Compose(c.stages, name, terminal)
	resp, err := chain(ctx, &req)
	if err != nil {
		var gErr *domain.GuardrailViolationError
		if errors.As(err, &gErr) {
			c.recordEvent(ctx, req.ConversationID, domain.EventTypeGuardrailBlocked, map[string]any{
				"rule":   gErr.Rule,
				"reason": gErr.Reason,
			})
		}
		return nil, err
	}

	if resp.DelegateTo != "" {
		return c.delegate(ctx, req, resp, depth)
	}
	return resp, nil
}

// delegate runs one more hop toward the handler the current one named.
// The partial result is appended to the history so the next handler sees
// what was already produced.
func (c *Coordinator) delegate(ctx context.Context, req domain.Request, partial *domain.Response, depth int) (*domain.Response, error) {
	c.recordEvent(ctx, req.ConversationID, domain.EventTypeDelegation, map[string]any{
		"from":  partial.HandlerName,
		"to":    partial.DelegateTo,
		"depth": depth,
	})

	req.History = append(req.History, domain.Turn{
		Role:    "assistant",
		Content: renderOutput(partial.Output),
	})

	final, err := c.handle(ctx, req, depth+1, partial.DelegateTo)
	if err != nil {
		return nil, err
	}
	final.Usage.InputUnits += partial.Usage.InputUnits
	final.Usage.OutputUnits += partial.Usage.OutputUnits
	final.RoutingReason = domain.RoutingReasonDelegate
	return final, nil
}

// route picks the target capability name. A forced target from a
// delegation skips both routers. A semantic provider failure is a miss,
// not an error: the fallback capability still answers.
func (c *Coordinator) route(ctx context.Context, req *domain.Request, forced string) (string, string) {
	if forced != "" {
		return forced, domain.RoutingReasonDelegate
	}

	if c.opts.Strategy == config.StrategyRule || c.opts.Strategy == config.StrategyHybrid {
		if name := c.rule.Route(req); name != "" {
			return name, domain.RoutingReasonRule
		}
	}

	if c.opts.Strategy == config.StrategySemantic || c.opts.Strategy == config.StrategyHybrid {
		name, err := c.semantic.Route(ctx, req)
		if err != nil {
			c.logger.Warn("semantic routing failed, falling back",
				zap.String("conversation_id", req.ConversationID), zap.Error(err))
			return "", domain.RoutingReasonFallback
		}
		if name != "" {
			return name, domain.RoutingReasonSemantic
		}
	}

	return "", domain.RoutingReasonFallback
}

// commit stores the final response as a completed checkpoint keyed for
// replay. Failure to commit is logged but does not fail the turn.
func (c *Coordinator) commit(ctx context.Context, conversationID, key string, resp *domain.Response) {
	state, err := json.Marshal(resp)
	if err != nil {
		c.logger.Warn("failed to marshal response for checkpoint", zap.Error(err))
		return
	}
	cp := &domain.Checkpoint{
		ID:             "cp_" + uuid.New().String()[:8],
		ConversationID: conversationID,
		HandlerName:    resp.HandlerName,
		IdempotencyKey: key,
		State:          state,
		IsComplete:     true,
		CreatedAt:      time.Now(),
	}
	if err := c.store.SaveCheckpoint(ctx, cp); err != nil {
		c.logger.Warn("failed to save final checkpoint",
			zap.String("conversation_id", conversationID), zap.Error(err))
	}
}

func (c *Coordinator) recordEvent(ctx context.Context, conversationID string, t domain.EventType, payload map[string]any) {
	blob, err := json.Marshal(payload)
	if err != nil {
		return
	}
	ev := &domain.Event{
		ID:             "evt_" + uuid.New().String()[:8],
		ConversationID: conversationID,
		Ts:             time.Now().UnixMilli(),
		Type:           t,
		Payload:        blob,
	}
	if err := c.store.CreateEvent(ctx, ev); err != nil {
		c.logger.Warn("failed to record event",
			zap.String("type", string(t)), zap.Error(err))
	}
}

func idempotencyKey(inputText string) string {
	sum := sha256.Sum256([]byte(inputText))
	return hex.EncodeToString(sum[:])
}

func renderOutput(output any) string {
	if s, ok := output.(string); ok {
		return s
	}
	blob, err := json.Marshal(output)
	if err != nil {
		return fmt.Sprintf("%v", output)
	}
	return string(blob)
}
