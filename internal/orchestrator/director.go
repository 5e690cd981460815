package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/tapcanvas/tapcanvas/ai-engine/pkg/models"
)

// continuity is the rolling state carried across scenes: what earlier
// scenes established, so later prompts keep characters and visual style
// coherent. It only ever grows; scenes are generated strictly in order.
type continuity struct {
	scenePrompts []string
	styleRef     string
}

func (c *continuity) summary() string {
	if len(c.scenePrompts) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Earlier scenes established:\n")
	for i, p := range c.scenePrompts {
		fmt.Fprintf(&b, "- scene %d: %s\n", i+1, p)
	}
	if c.styleRef != "" {
		b.WriteString("Keep the visual style consistent with: " + c.styleRef + "\n")
	}
	return b.String()
}

func (c *continuity) record(prompt string) {
	c.scenePrompts = append(c.scenePrompts, prompt)
	if c.styleRef == "" {
		c.styleRef = prompt
	}
}

// runNarrative serves the multi-scene path: one plan step per scene,
// each scene generating a prompt through the assistant and one creation
// operation through the engine. Scenes run sequentially to preserve
// continuity; any per-scene failure aborts the whole plan. Scenes
// already dispatched stay on the canvas, there is no rollback.
func (o *Orchestrator) runNarrative(ctx context.Context, req models.ChatRequest, scenes []string) (*Result, error) {
	p := &models.ExecutionPlan{
		Strategy: models.PlanStrategy{
			Name:      "direct-execution",
			Reasoning: "narrative input split into ordered scenes",
		},
	}
	for i, scene := range scenes {
		p.Steps = append(p.Steps, models.Step{
			Name:        sceneStepName(i),
			Description: truncateScene(scene),
		})
	}

	planID := o.plans.StartPlan(req.UserID, req.SessionID, p, fmt.Sprintf("narrative split into %d scenes", len(scenes)))
	o.bus.Publish(req.UserID, models.Event{Type: models.EventPlan, Payload: p})

	cont := &continuity{}
	var actions []models.Action
	for i, scene := range scenes {
		stepID := p.Steps[i].ID
		if err := o.plans.MarkStepInProgress(req.UserID, planID, stepID, "generating scene prompt"); err != nil {
			log.Warn().Err(err).Str("step", stepID).Msg("Step transition failed")
		}

		prompt, err := o.scenePrompt(ctx, req, scene, i, len(scenes), cont)
		if err != nil {
			reason := fmt.Sprintf("scene %d prompt generation failed: %v", i+1, err)
			if abortErr := o.plans.AbortPlan(req.UserID, planID, reason); abortErr != nil {
				log.Warn().Err(abortErr).Str("plan", planID).Msg("Plan abort failed")
			}
			aborted, _ := o.plans.GetPlan(req.UserID, planID)
			return &Result{
				Response: &models.ChatResponse{
					Reply:   "Scene generation stopped: " + reason,
					Plan:    planOutline(aborted),
					Actions: actions,
				},
				Plan:    aborted,
				Outcome: models.OutcomeAbortedEarly,
			}, nil
		}
		cont.record(prompt)

		op := models.CanvasOperation{
			Domain:     models.DomainNodeManipulation,
			Capability: "create-node",
			Parameters: map[string]any{"nodeType": "textToImage", "prompt": prompt, "label": sceneStepName(i)},
			Context:    map[string]any{"stepId": stepID, "scene": i + 1},
			Priority:   i,
		}
		res, err := o.engine.ExecuteOperation(ctx, req.UserID, op)
		if err != nil {
			reason := fmt.Sprintf("scene %d dispatch failed: %v", i+1, err)
			if abortErr := o.plans.AbortPlan(req.UserID, planID, reason); abortErr != nil {
				log.Warn().Err(abortErr).Str("plan", planID).Msg("Plan abort failed")
			}
			aborted, _ := o.plans.GetPlan(req.UserID, planID)
			return &Result{
				Response: &models.ChatResponse{
					Reply:   "Scene generation stopped: " + reason,
					Plan:    planOutline(aborted),
					Actions: actions,
				},
				Plan:    aborted,
				Outcome: models.OutcomeAbortedEarly,
			}, nil
		}
		o.bus.Publish(req.UserID, models.Event{Type: models.EventOperationResult, Payload: res})

		actions = append(actions, models.Action{
			Type:          models.ActionCreateNode,
			Params:        op.Parameters,
			Reasoning:     fmt.Sprintf("scene %d of %d", i+1, len(scenes)),
			StoreResultAs: fmt.Sprintf("scene%d", i+1),
		})

		if err := o.plans.MarkStepCompleted(req.UserID, planID, stepID, "scene dispatched", res.Result); err != nil {
			log.Warn().Err(err).Str("step", stepID).Msg("Step completion failed")
		}
	}

	outcome, err := o.plans.CompletePlan(req.UserID, planID, "all scenes dispatched")
	if err != nil {
		log.Warn().Err(err).Str("plan", planID).Msg("Plan completion failed")
	}
	finished, _ := o.plans.GetPlan(req.UserID, planID)
	o.bus.Publish(req.UserID, models.Event{Type: models.EventComplete, Payload: map[string]any{"planId": planID, "outcome": outcome}})

	return &Result{
		Response: &models.ChatResponse{
			Reply:   fmt.Sprintf("Split your narrative into %d scenes and created a generation node for each.", len(scenes)),
			Plan:    planOutline(finished),
			Actions: actions,
			QuickReplies: []models.QuickReply{
				{Label: "Run all scenes", Input: "运行所有场景节点"},
				{Label: "Continue the story", Input: "续写这个故事的下一幕"},
			},
		},
		Plan:    finished,
		Outcome: outcome,
	}, nil
}

// scenePrompt asks the assistant loop for one scene's generation prompt,
// carrying the continuity summary forward.
func (o *Orchestrator) scenePrompt(ctx context.Context, req models.ChatRequest, scene string, index, total int, cont *continuity) (string, error) {
	instruction := fmt.Sprintf(
		"Write one image-generation prompt for scene %d of %d in this narrative. Respond with the prompt text only in the reply field and a single createNode action.\n\nScene text:\n%s",
		index+1, total, scene)
	if summary := cont.summary(); summary != "" {
		instruction = summary + "\n" + instruction
	}

	sceneReq := req
	sceneReq.Messages = []models.ChatMessage{{Role: "user", Content: instruction}}
	sceneReq.Context = nil

	resp, err := o.loop.Run(ctx, sceneReq)
	if err != nil {
		return "", err
	}
	if resp.Reply != "" {
		return resp.Reply, nil
	}
	// The model put the prompt on the action instead of the reply.
	for _, a := range resp.Actions {
		if prompt, ok := a.Params["prompt"].(string); ok && prompt != "" {
			return prompt, nil
		}
	}
	return truncateScene(scene), nil
}

func planOutline(p *models.ExecutionPlan) []string {
	if p == nil {
		return []string{}
	}
	outline := make([]string, 0, len(p.Steps))
	for _, step := range p.Steps {
		outline = append(outline, step.Name+": "+string(step.Status))
	}
	return outline
}

func truncateScene(scene string) string {
	runes := []rune(scene)
	if len(runes) <= 80 {
		return scene
	}
	return string(runes[:80]) + "…"
}
