package middleware

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/corale/relay/internal/domain"
)

// LedgerStore is the durable cost ledger.
type LedgerStore interface {
	CreateLedgerEntry(ctx context.Context, entry *domain.LedgerEntry) error
}

// CostAccountant wraps only the billable unit of work. It computes the
// turn cost from usage, emits a structured event and a metric, and writes
// the durable ledger. Write failures are logged, never surfaced: the
// response is already computed.
type CostAccountant struct {
	store      LedgerStore
	inputRate  float64
	outputRate float64
	logger     *zap.Logger

	units *prometheus.CounterVec
	cost  *prometheus.CounterVec
}

// NewCostAccountant creates the cost stage and registers its metrics.
func NewCostAccountant(store LedgerStore, inputRate, outputRate float64, reg prometheus.Registerer, logger *zap.Logger) *CostAccountant {
	c := &CostAccountant{
		store:      store,
		inputRate:  inputRate,
		outputRate: outputRate,
		logger:     logger,
		units: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_handler_units_total",
			Help: "Units consumed by handler invocations.",
		}, []string{"handler", "direction"}),
		cost: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_handler_cost_total",
			Help: "Accumulated cost of handler invocations.",
		}, []string{"handler"}),
	}
	if reg != nil {
		reg.MustRegister(c.units, c.cost)
	}
	return c
}

func (c *CostAccountant) Name() string { return "cost" }

// Wrap accounts for the invocation after it completes.
func (c *CostAccountant) Wrap(capabilityName string, next Next) Next {
	return func(ctx context.Context, req *domain.Request) (*domain.Response, error) {
		resp, err := next(ctx, req)
		if err != nil {
			return nil, err
		}

		turnCost := float64(resp.Usage.InputUnits)*c.inputRate + float64(resp.Usage.OutputUnits)*c.outputRate

		c.units.WithLabelValues(resp.HandlerName, "input").Add(float64(resp.Usage.InputUnits))
		c.units.WithLabelValues(resp.HandlerName, "output").Add(float64(resp.Usage.OutputUnits))
		c.cost.WithLabelValues(resp.HandlerName).Add(turnCost)

		c.logger.Info("turn accounted",
			zap.String("conversation_id", resp.ConversationID),
			zap.String("handler", resp.HandlerName),
			zap.Int("input_units", resp.Usage.InputUnits),
			zap.Int("output_units", resp.Usage.OutputUnits),
			zap.Float64("cost", turnCost))

		entry := &domain.LedgerEntry{
			ID:             "led_" + uuid.New().String()[:8],
			ConversationID: resp.ConversationID,
			HandlerName:    resp.HandlerName,
			InputUnits:     resp.Usage.InputUnits,
			OutputUnits:    resp.Usage.OutputUnits,
			Cost:           turnCost,
			CreatedAt:      time.Now(),
		}
		if err := c.store.CreateLedgerEntry(ctx, entry); err != nil {
			c.logger.Error("failed to write cost ledger", zap.String("conversation_id", resp.ConversationID), zap.Error(err))
		}

		return resp, nil
	}
}
