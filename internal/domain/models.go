// Package domain defines the core domain models for the coordination core.
package domain

import (
	"encoding/json"
	"time"
)

// Capability describes a routable unit of domain-specific functionality.
// Capabilities are loaded from configuration at startup and never mutated
// at runtime.
type Capability struct {
	Name         string   `json:"name" yaml:"name"`
	Description  string   `json:"description" yaml:"description"`
	TriggerTerms []string `json:"trigger_terms" yaml:"trigger_terms"`
	Enabled      bool     `json:"enabled" yaml:"enabled"`
	AllowedTools []string `json:"allowed_tools,omitempty" yaml:"allowed_tools"`
}

// Turn is a single entry of conversation history.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the single inbound unit of work. An origination surface
// constructs one Request per interaction and forwards it to the
// Coordinator; it is passed by value through the middleware chain.
type Request struct {
	InputText      string         `json:"input_text"`
	SessionID      string         `json:"session_id"`
	UserID         string         `json:"user_id"`
	Origin         Origin         `json:"origin"`
	ConversationID string         `json:"conversation_id,omitempty"`
	History        []Turn         `json:"history,omitempty"`
	Attributes     map[string]any `json:"attributes,omitempty"`
}

// Usage counts the billable units consumed by one handler invocation.
type Usage struct {
	InputUnits  int `json:"input_units"`
	OutputUnits int `json:"output_units"`
}

// Response is produced once by the selected domain handler and enriched,
// never replaced, by later middleware stages.
type Response struct {
	Output         any    `json:"output"`
	HandlerName    string `json:"handler_name"`
	ConversationID string `json:"conversation_id"`
	Usage          Usage  `json:"usage"`
	RoutingReason  string `json:"routing_reason"`
	DelegateTo     string `json:"delegate_to,omitempty"`
}

// HandlerResult is the raw product of one domain handler invocation,
// before the middleware chain shapes it into a Response. A non-empty
// DelegateTo asks the coordinator for one delegation hop.
type HandlerResult struct {
	Output     any    `json:"output"`
	DelegateTo string `json:"delegate_to,omitempty"`
	Usage      Usage  `json:"usage"`
}

// Conversation is the durable record of one logical dialogue.
type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is one side of one turn, append-only.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	HandlerName    string    `json:"handler_name,omitempty"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	InputUnits     int       `json:"input_units"`
	OutputUnits    int       `json:"output_units"`
	Cost           float64   `json:"cost"`
	CreatedAt      time.Time `json:"created_at"`
}

// Checkpoint is a durable snapshot of in-progress handler state, written
// before and after any suspendable step. Superseded checkpoints are kept
// for audit.
type Checkpoint struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id"`
	HandlerName    string          `json:"handler_name"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	State          json.RawMessage `json:"state,omitempty"`
	IsComplete     bool            `json:"is_complete"`
	CreatedAt      time.Time       `json:"created_at"`
}

// PendingApproval is a human sign-off request. Status transitions at most
// once, from pending to approved or rejected, by an external reviewer
// action; the record is immutable thereafter.
type PendingApproval struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id"`
	HandlerName    string          `json:"handler_name"`
	Action         json.RawMessage `json:"action,omitempty"`
	Status         ApprovalStatus  `json:"status"`
	RequestedBy    string          `json:"requested_by"`
	ReviewedBy     string          `json:"reviewed_by,omitempty"`
	Reason         string          `json:"reason,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	ResolvedAt     *time.Time      `json:"resolved_at,omitempty"`
}

// Event is an append-only trace record for replay and audit.
type Event struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id"`
	Ts             int64           `json:"ts"` // Unix milliseconds
	Type           EventType       `json:"type"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// LedgerEntry is one row of the durable cost ledger, written by the cost
// accountant after each handler invocation.
type LedgerEntry struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	HandlerName    string    `json:"handler_name"`
	InputUnits     int       `json:"input_units"`
	OutputUnits    int       `json:"output_units"`
	Cost           float64   `json:"cost"`
	CreatedAt      time.Time `json:"created_at"`
}
