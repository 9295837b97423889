package domain

// Origin identifies which external surface constructed a request.
type Origin string

const (
	OriginSync   Origin = "sync"
	OriginQueued Origin = "queued"
	OriginStream Origin = "stream"
	OriginChat   Origin = "chat"
)

// ApprovalStatus is the state of a PendingApproval.
type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "PENDING"
	ApprovalStatusApproved ApprovalStatus = "APPROVED"
	ApprovalStatusRejected ApprovalStatus = "REJECTED"
)

// EventType labels a trace event.
type EventType string

const (
	EventTypeRoutingDecided    EventType = "routing_decided"
	EventTypeHandlerStarted    EventType = "handler_started"
	EventTypeHandlerDone       EventType = "handler_done"
	EventTypeHandlerFailed     EventType = "handler_failed"
	EventTypeGuardrailBlocked  EventType = "guardrail_blocked"
	EventTypeApprovalRequested EventType = "approval_requested"
	EventTypeApprovalDecided   EventType = "approval_decided"
	EventTypeDelegation        EventType = "delegation"
	EventTypeReplayServed      EventType = "replay_served"
)

// Routing reasons recorded on responses.
const (
	RoutingReasonRule     = "rule"
	RoutingReasonSemantic = "semantic"
	RoutingReasonFallback = "fallback"
	RoutingReasonDelegate = "delegate"
)
