// Package orchestrator composes the pipeline behind the intelligent chat
// endpoints: recognize intent, expand it into a tracked plan, dispatch
// planned operations, and merge the structured assistant response into
// one reply. Long narrative inputs take a dedicated multi-scene path.
package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tapcanvas/tapcanvas/ai-engine/internal/assist"
	"github.com/tapcanvas/tapcanvas/ai-engine/internal/events"
	"github.com/tapcanvas/tapcanvas/ai-engine/internal/execution"
	"github.com/tapcanvas/tapcanvas/ai-engine/internal/intent"
	"github.com/tapcanvas/tapcanvas/ai-engine/internal/plan"
	"github.com/tapcanvas/tapcanvas/ai-engine/internal/thinking"
	"github.com/tapcanvas/tapcanvas/ai-engine/pkg/models"
)

var tracer = otel.Tracer("tapcanvas-ai-engine")

// Orchestrator is the top of the request pipeline.
type Orchestrator struct {
	recognizer *intent.Recognizer
	thinker    *thinking.Streamer
	plans      *plan.Manager
	engine     *execution.Engine
	loop       *assist.Loop
	bus        *events.Bus
}

// New wires the pipeline stages together.
func New(recognizer *intent.Recognizer, thinker *thinking.Streamer, plans *plan.Manager, engine *execution.Engine, loop *assist.Loop, bus *events.Bus) *Orchestrator {
	return &Orchestrator{
		recognizer: recognizer,
		thinker:    thinker,
		plans:      plans,
		engine:     engine,
		loop:       loop,
		bus:        bus,
	}
}

// Result is the orchestrated chat outcome.
type Result struct {
	Response *models.ChatResponse   `json:"response"`
	Intent   models.ParsedIntent    `json:"intent"`
	Plan     *models.ExecutionPlan  `json:"plan,omitempty"`
	Outcome  models.PlanOutcome     `json:"outcome,omitempty"`
	Thinking []models.ThinkingEvent `json:"thinking,omitempty"`
}

// Chat serves the one-shot intelligent entry point: intent → plan →
// execute → assistant call, merged into one reply. All pipeline failures
// are absorbed here and converted to structured responses or plan
// aborts; nothing propagates as a crash.
func (o *Orchestrator) Chat(ctx context.Context, req models.ChatRequest) (*Result, error) {
	ctx, span := tracer.Start(ctx, "orchestrator.chat")
	defer span.End()

	if len(req.Messages) == 0 {
		return nil, &models.ValidationError{Field: "messages", Detail: "at least one message is required"}
	}
	userText := lastUserText(req.Messages)
	span.SetAttributes(attribute.String("user.id", req.UserID))

	if wantsContinuationDirections(userText) {
		parsed := o.recognizer.Recognize(userText, req.Context)
		o.bus.Publish(req.UserID, models.Event{Type: models.EventIntent, Payload: parsed})
		return &Result{
			Response: &models.ChatResponse{
				Reply:        "Here are a few directions the story could take. Pick one and I will continue from there.",
				Plan:         []string{},
				Actions:      []models.Action{},
				QuickReplies: continuationDirections(),
			},
			Intent: parsed,
		}, nil
	}

	if scenes := SplitNarrativeSections(userText); len(scenes) > 1 {
		span.SetAttributes(attribute.Int("narrative.scenes", len(scenes)))
		return o.runNarrative(ctx, req, scenes)
	}

	parsed := o.recognizer.Recognize(userText, req.Context)
	o.bus.Publish(req.UserID, models.Event{Type: models.EventIntent, Payload: parsed})

	thought, err := o.thinker.Think(ctx, req.UserID, parsed)
	if err != nil {
		return nil, err
	}

	planID := o.plans.StartPlan(req.UserID, req.SessionID, thought.Plan, parsed.Reasoning)
	o.bus.Publish(req.UserID, models.Event{Type: models.EventPlan, Payload: thought.Plan})

	o.executeOperations(ctx, req.UserID, planID, thought)

	outcome, err := o.plans.CompletePlan(req.UserID, planID, "pipeline finished")
	if err != nil {
		log.Warn().Err(err).Str("plan", planID).Msg("Plan completion failed")
	}

	resp, err := o.loop.Run(ctx, req)
	if err != nil {
		// The plan already ran; surface the assistant failure as a reply
		// so dispatched operations are not lost on the client.
		log.Warn().Err(err).Msg("Assistant call failed after plan execution")
		resp = &models.ChatResponse{
			Reply:   "I dispatched the canvas operations, but could not produce a full reply: " + err.Error(),
			Plan:    []string{},
			Actions: actionFallback(userText),
		}
	}
	mergePlanOutline(resp, thought.Plan)

	finished, _ := o.plans.GetPlan(req.UserID, planID)
	o.bus.Publish(req.UserID, models.Event{Type: models.EventComplete, Payload: map[string]any{"planId": planID, "outcome": outcome}})

	return &Result{
		Response: resp,
		Intent:   parsed,
		Plan:     finished,
		Outcome:  outcome,
		Thinking: thought.Trace,
	}, nil
}

// ChatStream runs the same pipeline with each stage's output written
// incrementally to sink. The bus still receives every event, so a
// subscriber on the general event stream sees the run too.
func (o *Orchestrator) ChatStream(ctx context.Context, req models.ChatRequest, sink func(models.Event) error) error {
	ctx, span := tracer.Start(ctx, "orchestrator.chat_stream")
	defer span.End()

	if len(req.Messages) == 0 {
		return &models.ValidationError{Field: "messages", Detail: "at least one message is required"}
	}

	ch := o.bus.Subscribe(req.UserID)
	defer o.bus.Unsubscribe(req.UserID, ch)

	done := make(chan *Result, 1)
	errCh := make(chan error, 1)
	go func() {
		res, err := o.Chat(ctx, req)
		if err != nil {
			errCh <- err
			return
		}
		done <- res
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-ch:
			if err := sink(ev); err != nil {
				return err
			}
		case err := <-errCh:
			return err
		case res := <-done:
			// Flush events already queued before the final frame.
			for {
				select {
				case ev := <-ch:
					if err := sink(ev); err != nil {
						return err
					}
					continue
				default:
				}
				break
			}
			return sink(models.Event{Type: models.EventComplete, Payload: res})
		}
	}
}

// executeOperations dispatches each planned operation and tracks the
// matching step. Validation failures become failed steps, never errors
// across the pipeline.
func (o *Orchestrator) executeOperations(ctx context.Context, userID, planID string, thought *thinking.Result) {
	for _, op := range thought.Operations {
		stepID, _ := op.Context["stepId"].(string)
		if stepID != "" {
			if err := o.plans.MarkStepInProgress(userID, planID, stepID, "dispatching"); err != nil {
				log.Warn().Err(err).Str("step", stepID).Msg("Step transition failed")
			}
		}

		res, err := o.engine.ExecuteOperation(ctx, userID, op)
		if err != nil {
			res = execution.FailureResult(op, err)
		}
		o.bus.Publish(userID, models.Event{Type: models.EventOperationResult, Payload: res})

		if stepID == "" {
			continue
		}
		if res.Success {
			if err := o.plans.MarkStepCompleted(userID, planID, stepID, "dispatched", res.Result); err != nil {
				log.Warn().Err(err).Str("step", stepID).Msg("Step completion failed")
			}
		} else {
			if err := o.plans.MarkStepFailed(userID, planID, stepID, "dispatch failed", res.Error); err != nil {
				log.Warn().Err(err).Str("step", stepID).Msg("Step failure transition failed")
			}
		}
	}
}

func mergePlanOutline(resp *models.ChatResponse, p *models.ExecutionPlan) {
	if p == nil {
		return
	}
	outline := make([]string, 0, len(p.Steps))
	for _, step := range p.Steps {
		outline = append(outline, step.Name)
	}
	resp.Plan = append(outline, resp.Plan...)
}

var (
	continuationWords = []string{"续写", "后续", "接下来", "继续", "continue the story", "what happens next"}
	directionWords    = []string{"推荐", "方向", "建议", "思路", "options", "directions", "suggest"}
)

// wantsContinuationDirections detects requests that ask where a story
// should go next rather than asking for canvas work. Those get selectable
// directions instead of actions.
func wantsContinuationDirections(userText string) bool {
	lower := strings.ToLower(userText)
	return containsAny(lower, continuationWords) && containsAny(lower, directionWords)
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

func continuationDirections() []models.QuickReply {
	return []models.QuickReply{
		{Label: "Raise the stakes", Input: "续写下一幕，让冲突升级"},
		{Label: "Introduce a new character", Input: "续写下一幕，引入一个新角色"},
		{Label: "Quiet interlude", Input: "续写下一幕，安排一段平静的过渡"},
	}
}

func actionFallback(userText string) []models.Action {
	return []models.Action{{
		Type:      models.ActionGetNodes,
		Params:    map[string]any{},
		Reasoning: "safe default after assistant failure",
	}}
}

func lastUserText(messages []models.ChatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	return ""
}

func sceneStepName(i int) string {
	return fmt.Sprintf("Scene %d", i+1)
}
