package models

import "time"

// ── Execution plans ─────────────────────────────────────────

// StepStatus is a plan step's lifecycle state. Transitions only move
// forward; only a plan-level abort may cut a step short.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
	StepFailed     StepStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s StepStatus) Terminal() bool {
	return s == StepCompleted || s == StepFailed
}

// Step is one tracked unit of an execution plan.
type Step struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	Description   string        `json:"description,omitempty"`
	Status        StepStatus    `json:"status"`
	Reasoning     string        `json:"reasoning,omitempty"`
	EstimatedTime time.Duration `json:"estimatedTime,omitempty"`
	Dependencies  []string      `json:"dependencies,omitempty"`
	Result        any           `json:"result,omitempty"`
	Error         string        `json:"error,omitempty"`
	Notes         []string      `json:"notes,omitempty"` // audit trail, append-only
}

// PlanStrategy describes how a plan intends to execute.
type PlanStrategy struct {
	Name        string `json:"name"` // direct-execution | optimization-focused | conservative
	Description string `json:"description,omitempty"`
	Efficiency  string `json:"efficiency,omitempty"`
	Risk        string `json:"risk,omitempty"`
	Reasoning   string `json:"reasoning,omitempty"`
}

// DependencyGraph is the plan's step graph: node ids plus directed edges.
type DependencyGraph struct {
	Nodes []string    `json:"nodes"`
	Edges [][2]string `json:"edges,omitempty"` // [from, to]
}

// PlanStatus is a plan's lifecycle state.
type PlanStatus string

const (
	PlanPending    PlanStatus = "pending"
	PlanInProgress PlanStatus = "in_progress"
	PlanCompleted  PlanStatus = "completed"
	PlanAborted    PlanStatus = "aborted"
)

// PlanOutcome classifies a terminal plan from its aggregated step results.
type PlanOutcome string

const (
	OutcomeFullySucceeded PlanOutcome = "fully-succeeded"
	OutcomePartialFailure PlanOutcome = "partial-failure"
	OutcomeAbortedEarly   PlanOutcome = "aborted-early"
)

// ExecutionPlan is a tracked decomposition of one request into ordered
// steps. Created once per orchestrated request; owned by the plan manager
// for its wall-clock lifetime.
type ExecutionPlan struct {
	ID             string          `json:"id"`
	UserID         string          `json:"userId"`
	SessionID      string          `json:"sessionId,omitempty"`
	Strategy       PlanStrategy    `json:"strategy"`
	Steps          []Step          `json:"steps"`
	Graph          DependencyGraph `json:"graph"`
	ParallelGroups [][]string      `json:"parallelGroups,omitempty"`
	Risks          []string        `json:"risks,omitempty"`
	EstimatedTime  time.Duration   `json:"estimatedTime,omitempty"`
	EstimatedCost  float64         `json:"estimatedCost,omitempty"`
	Rollback       string          `json:"rollback,omitempty"`

	Status      PlanStatus  `json:"status"`
	Outcome     PlanOutcome `json:"outcome,omitempty"`
	Rationale   string      `json:"rationale,omitempty"`
	Explanation string      `json:"explanation,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
	CompletedAt *time.Time  `json:"completedAt,omitempty"`
}

// ── Operations ──────────────────────────────────────────────

// CanvasOperation is one planned canvas effect. Ephemeral: produced by the
// thinking stream, consumed exactly once by the execution engine.
type CanvasOperation struct {
	ID         string         `json:"id"`
	Domain     Domain         `json:"domain"`
	Capability string         `json:"capability"`
	Parameters map[string]any `json:"parameters"`
	Context    map[string]any `json:"context,omitempty"`
	Priority   int            `json:"priority,omitempty"`
}

// ExecutionResult is the engine's outcome for one operation.
type ExecutionResult struct {
	Success          bool          `json:"success"`
	OperationID      string        `json:"operationId"`
	Result           any           `json:"result,omitempty"`
	Error            string        `json:"error,omitempty"`
	Duration         time.Duration `json:"duration"`
	AffectedElements []string      `json:"affectedElements,omitempty"`
	SideEffects      []string      `json:"sideEffects,omitempty"`
}

// ── Thinking trace ──────────────────────────────────────────

// ThinkingEventType labels one emission in a request's thinking trace.
type ThinkingEventType string

const (
	ThinkingIntentAnalysis ThinkingEventType = "intent_analysis"
	ThinkingPlanning       ThinkingEventType = "planning"
	ThinkingReasoning      ThinkingEventType = "reasoning"
	ThinkingDecision       ThinkingEventType = "decision"
	ThinkingExecution      ThinkingEventType = "execution"
	ThinkingResult         ThinkingEventType = "result"
)

// ThinkingEvent is one entry in the append-only, per-request thinking log.
type ThinkingEvent struct {
	ID        string            `json:"id"`
	Type      ThinkingEventType `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Content   string            `json:"content"`
	Metadata  map[string]any    `json:"metadata,omitempty"`
}
