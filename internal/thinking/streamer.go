// Package thinking expands a recognized intent into an execution plan
// while emitting an ordered trace of thinking events. The trace is both
// returned as a buffered list and published live on the per-user event
// channel so streaming clients see the reasoning as it happens.
package thinking

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

// Strategy selection thresholds on intent confidence.
const (
	directThreshold       = 0.8
	conservativeThreshold = 0.5
)

// Streamer turns intents into plans plus a thinking trace.
type Streamer struct {
	registry *capability.Registry
	bus      *events.Bus

	// delay paces successive emissions for progressive disclosure on the
	// live stream; zero disables pacing.
	delay time.Duration
}

// NewStreamer creates a streamer over a frozen registry and the per-user
// event bus.
func NewStreamer(r *capability.Registry, bus *events.Bus, delay time.Duration) *Streamer {
	return &Streamer{registry: r, bus: bus, delay: delay}
}

// Result is the streamer's full output for one intent.
type Result struct {
	Plan       *models.ExecutionPlan
	Operations []models.CanvasOperation
	Trace      []models.ThinkingEvent
}

// Think runs the full reasoning sequence: intent analysis, deep
// reasoning, strategy selection, step generation, risk assessment, and
// operation materialization. Emission order is fixed; failures emit a
// terminal error event and propagate.
func (s *Streamer) Think(ctx context.Context, userID string, intent models.ParsedIntent) (*Result, error) {
	res := &Result{}

	s.emit(ctx, userID, res, models.ThinkingIntentAnalysis,
		fmt.Sprintf("Recognized %s intent with %.0f%% confidence", intent.Domain, intent.Confidence*100),
		map[string]any{"domain": intent.Domain, "confidence": intent.Confidence})

	s.emit(ctx, userID, res, models.ThinkingReasoning,
		reasoningFor(intent), nil)

	strategy := selectStrategy(intent.Confidence)
	s.emit(ctx, userID, res, models.ThinkingDecision,
		fmt.Sprintf("Selected %s strategy: %s", strategy.Name, strategy.Reasoning),
		map[string]any{"strategy": strategy.Name})

	steps, err := s.generateSteps(intent)
	if err != nil {
		s.emitError(ctx, userID, res, err)
		return nil, err
	}
	s.emit(ctx, userID, res, models.ThinkingPlanning,
		fmt.Sprintf("Planned %d step(s)", len(steps)),
		map[string]any{"steps": len(steps)})

	risks := assessRisks(intent, steps)
	s.emit(ctx, userID, res, models.ThinkingReasoning,
		fmt.Sprintf("Risk assessment: %d risk(s) identified", len(risks)),
		map[string]any{"risks": risks})

	plan := &models.ExecutionPlan{
		Strategy: strategy,
		Steps:    steps,
		Risks:    risks,
		Graph:    buildGraph(steps),
	}
	for _, step := range steps {
		plan.EstimatedTime += step.EstimatedTime
	}

	ops, err := s.materializeOperations(intent, steps)
	if err != nil {
		s.emitError(ctx, userID, res, err)
		return nil, err
	}
	s.emit(ctx, userID, res, models.ThinkingExecution,
		fmt.Sprintf("Materialized %d operation(s)", len(ops)),
		map[string]any{"operations": len(ops)})

	res.Plan = plan
	res.Operations = ops
	return res, nil
}

// ── Emission ────────────────────────────────────────────────

func (s *Streamer) emit(ctx context.Context, userID string, res *Result, typ models.ThinkingEventType, content string, meta map[string]any) {
	ev := models.ThinkingEvent{
		ID:        uuid.NewString(),
		Type:      typ,
		Timestamp: time.Now().UTC(),
		Content:   content,
		Metadata:  meta,
	}
	res.Trace = append(res.Trace, ev)
	s.bus.Publish(userID, models.Event{Type: models.EventThinking, Payload: ev})

	if s.delay > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(s.delay):
		}
	}
}

func (s *Streamer) emitError(ctx context.Context, userID string, res *Result, err error) {
	log.Error().Err(err).Str("user", userID).Msg("Thinking stream failed")
	ev := models.ThinkingEvent{
		ID:        uuid.NewString(),
		Type:      models.ThinkingResult,
		Timestamp: time.Now().UTC(),
		Content:   "planning failed: " + err.Error(),
	}
	res.Trace = append(res.Trace, ev)
	s.bus.Publish(userID, models.Event{Type: models.EventError, Payload: ev})
}

// ── Strategy ────────────────────────────────────────────────

func selectStrategy(confidence float64) models.PlanStrategy {
	switch {
	case confidence > directThreshold:
		return models.PlanStrategy{
			Name:       "direct-execution",
			Efficiency: "high",
			Risk:       "low",
			Reasoning:  "intent is unambiguous, execute directly",
		}
	case confidence < conservativeThreshold:
		return models.PlanStrategy{
			Name:       "conservative",
			Efficiency: "low",
			Risk:       "low",
			Reasoning:  "intent is uncertain, prefer reversible read-mostly steps",
		}
	default:
		return models.PlanStrategy{
			Name:       "optimization-focused",
			Efficiency: "medium",
			Risk:       "medium",
			Reasoning:  "intent is plausible, balance effect against safety",
		}
	}
}

func reasoningFor(intent models.ParsedIntent) string {
	if intent.Reasoning != "" {
		return fmt.Sprintf("Analyzing request: %s (%s)", intent.RawText, intent.Reasoning)
	}
	return "Analyzing request: " + intent.RawText
}

// ── Step generation ─────────────────────────────────────────

// stepTemplate is the per-domain step shape; estimated times are
// presentation hints, not deadlines.
var stepTemplates = map[models.Domain]models.Step{
	models.DomainNodeManipulation:   {Name: "Modify canvas structure", Description: "Create or adjust nodes and their connections", EstimatedTime: 2 * time.Second},
	models.DomainContentGeneration:  {Name: "Generate content", Description: "Run generation on the targeted node", EstimatedTime: 15 * time.Second},
	models.DomainLayoutArrangement:  {Name: "Rearrange layout", Description: "Apply a layout algorithm to the canvas", EstimatedTime: 1 * time.Second},
	models.DomainExecutionDebug:     {Name: "Execute graph", Description: "Run the node graph and collect results", EstimatedTime: 10 * time.Second},
	models.DomainWorkflowAutomation: {Name: "Compose pipeline", Description: "Assemble a multi-node generation pipeline", EstimatedTime: 5 * time.Second},
}

func (s *Streamer) generateSteps(intent models.ParsedIntent) ([]models.Step, error) {
	tmpl, ok := stepTemplates[intent.Domain]
	if !ok {
		return nil, &models.UnsupportedDomainError{Domain: intent.Domain}
	}
	step := tmpl
	step.ID = uuid.NewString()
	step.Status = models.StepPending
	step.Reasoning = intent.Reasoning
	return []models.Step{step}, nil
}

func assessRisks(intent models.ParsedIntent, steps []models.Step) []string {
	var risks []string
	if intent.Confidence < conservativeThreshold {
		risks = append(risks, "low confidence: the request may be misinterpreted")
	}
	for _, step := range steps {
		if step.EstimatedTime >= 10*time.Second {
			risks = append(risks, "long-running step: "+step.Name)
		}
	}
	return risks
}

func buildGraph(steps []models.Step) models.DependencyGraph {
	g := models.DependencyGraph{}
	for i, step := range steps {
		g.Nodes = append(g.Nodes, step.ID)
		if i > 0 {
			g.Edges = append(g.Edges, [2]string{steps[i-1].ID, step.ID})
		}
	}
	return g
}

// ── Operation materialization ───────────────────────────────

func (s *Streamer) materializeOperations(intent models.ParsedIntent, steps []models.Step) ([]models.CanvasOperation, error) {
	capName := intent.CapabilityName
	if capName == "" {
		c, ok := s.registry.DefaultForDomain(intent.Domain)
		if !ok {
			return nil, &models.UnsupportedDomainError{Domain: intent.Domain}
		}
		capName = c.Name
	}

	// Only parameters the capability declares are carried over. Values
	// stay as extracted; an out-of-range value surfaces as a validation
	// failure at execution, not here.
	var declared *models.Capability
	if c, ok := s.registry.Get(capName); ok {
		declared = c
	}

	ops := make([]models.CanvasOperation, 0, len(steps))
	for i, step := range steps {
		params := make(map[string]any, len(intent.ExtractedParams))
		for k, v := range intent.ExtractedParams {
			if declared != nil && !declaresParam(declared, k) {
				continue
			}
			params[k] = v
		}
		ops = append(ops, models.CanvasOperation{
			ID:         uuid.NewString(),
			Domain:     intent.Domain,
			Capability: capName,
			Parameters: params,
			Context:    map[string]any{"stepId": step.ID, "rawText": intent.RawText},
			Priority:   i,
		})
	}
	return ops, nil
}

func declaresParam(cap *models.Capability, name string) bool {
	for _, spec := range cap.Params {
		if spec.Name == name {
			return true
		}
	}
	return false
}
