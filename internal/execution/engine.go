// Package execution dispatches planned canvas operations. The engine
// never touches the canvas itself: it validates an operation against its
// capability's parameter schema, publishes a tool-call event so the
// client can apply the effect, and synthesizes an immediate success
// result. The real outcome arrives later on the tool-result channel.
package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/tapcanvas/tapcanvas/ai-engine/internal/capability"
	"github.com/tapcanvas/tapcanvas/ai-engine/internal/events"
	"github.com/tapcanvas/tapcanvas/ai-engine/pkg/models"
)

// Engine validates and dispatches canvas operations.
type Engine struct {
	registry *capability.Registry
	bus      *events.Bus
}

// NewEngine creates an engine over a frozen registry and the event bus.
func NewEngine(r *capability.Registry, bus *events.Bus) *Engine {
	return &Engine{registry: r, bus: bus}
}

// ExecuteOperation validates op, publishes the corresponding tool-call
// event for userID, and returns a synthesized success result. Validation
// and dispatch failures return an error; the caller converts them to
// {success:false} results rather than letting them cross the pipeline.
func (e *Engine) ExecuteOperation(ctx context.Context, userID string, op models.CanvasOperation) (*models.ExecutionResult, error) {
	start := time.Now()

	cap, ok := e.registry.Get(op.Capability)
	if !ok {
		caps := e.registry.ByDomain(op.Domain)
		if len(caps) == 0 {
			return nil, &models.UnsupportedDomainError{Domain: op.Domain}
		}
		return nil, &models.ValidationError{Field: "capability", Detail: fmt.Sprintf("unknown capability %q", op.Capability)}
	}
	if cap.Domain != op.Domain {
		return nil, &models.ValidationError{Field: "domain", Detail: fmt.Sprintf("capability %q belongs to domain %q, not %q", cap.Name, cap.Domain, op.Domain)}
	}

	if op.Parameters == nil {
		op.Parameters = map[string]any{}
	}
	if err := validateParams(cap, op.Parameters); err != nil {
		return nil, err
	}
	pass, err := e.registry.CheckConstraint(cap.Name, op.Parameters)
	if err != nil {
		return nil, &models.ValidationError{Detail: err.Error()}
	}
	if !pass {
		return nil, &models.ValidationError{Detail: fmt.Sprintf("parameters violate %q constraint", cap.Name)}
	}

	toolCallID := uuid.NewString()
	e.bus.Publish(userID, models.Event{
		Type:       models.EventToolCall,
		ToolCallID: toolCallID,
		ToolName:   webActionName(cap),
		Input:      op.Parameters,
		Payload: map[string]any{
			"operationId": op.ID,
			"domain":      op.Domain,
			"webAction":   cap.WebAction,
		},
	})
	log.Debug().
		Str("user", userID).
		Str("capability", cap.Name).
		Str("toolCallId", toolCallID).
		Msg("Operation dispatched as tool call")

	// Success here means "dispatched"; the client reports the genuine
	// outcome asynchronously via the tool-result channel.
	return &models.ExecutionResult{
		Success:     true,
		OperationID: op.ID,
		Result:      map[string]any{"toolCallId": toolCallID, "dispatched": true},
		Duration:    time.Since(start),
		SideEffects: []string{"tool-call event published"},
	}, nil
}

// FailureResult converts a validation/dispatch error into the result
// shape plan aggregation expects.
func FailureResult(op models.CanvasOperation, err error) *models.ExecutionResult {
	return &models.ExecutionResult{
		Success:     false,
		OperationID: op.ID,
		Error:       err.Error(),
	}
}

func webActionName(cap *models.Capability) string {
	switch cap.WebAction.Kind {
	case models.WebActionFunction:
		return cap.WebAction.Function
	case models.WebActionEvent:
		return cap.WebAction.Channel
	case models.WebActionREST:
		return cap.WebAction.Template
	}
	return cap.Name
}

// ── Parameter validation ────────────────────────────────────

func validateParams(cap *models.Capability, params map[string]any) error {
	for _, spec := range cap.Params {
		val, present := params[spec.Name]
		if !present || val == nil {
			if spec.Required {
				if spec.Default != nil {
					params[spec.Name] = spec.Default
					continue
				}
				return &models.ValidationError{Field: spec.Name, Detail: "required parameter missing"}
			}
			continue
		}
		if err := checkType(spec, val); err != nil {
			return err
		}
	}
	// Unknown shapes are rejected, not silently defaulted.
	for name := range params {
		if !hasParam(cap, name) {
			return &models.ValidationError{Field: name, Detail: fmt.Sprintf("unknown parameter for capability %q", cap.Name)}
		}
	}
	return nil
}

func hasParam(cap *models.Capability, name string) bool {
	for _, spec := range cap.Params {
		if spec.Name == name {
			return true
		}
	}
	return false
}

func checkType(spec models.ParamSpec, val any) error {
	switch spec.Type {
	case models.ParamString:
		if _, ok := val.(string); !ok {
			return &models.ValidationError{Field: spec.Name, Detail: "expected string"}
		}
	case models.ParamNumber:
		switch val.(type) {
		case float64, int, int64:
		default:
			return &models.ValidationError{Field: spec.Name, Detail: "expected number"}
		}
	case models.ParamBool:
		if _, ok := val.(bool); !ok {
			return &models.ValidationError{Field: spec.Name, Detail: "expected bool"}
		}
	case models.ParamEnum:
		s, ok := val.(string)
		if !ok {
			return &models.ValidationError{Field: spec.Name, Detail: "expected enum string"}
		}
		for _, opt := range spec.Options {
			if s == opt {
				return nil
			}
		}
		return &models.ValidationError{Field: spec.Name, Detail: fmt.Sprintf("%q is not one of %v", s, spec.Options)}
	case models.ParamObject:
		if _, ok := val.(map[string]any); !ok {
			return &models.ValidationError{Field: spec.Name, Detail: "expected object"}
		}
	default:
		return &models.ValidationError{Field: spec.Name, Detail: fmt.Sprintf("unknown parameter type %q", spec.Type)}
	}
	return nil
}
