// Package plan tracks execution plans and their steps across a request's
// wall-clock lifetime. The manager is the only writer of step status:
// transitions move forward only, and a terminal step is never overwritten
// except through a plan-level abort.
package plan

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/tapcanvas/tapcanvas/ai-engine/pkg/models"
)

// Manager owns plan state, keyed by (user, planID). Each plan carries its
// own lock so interleaved requests for the same user do not serialize on
// a global mutex.
type Manager struct {
	mu    sync.RWMutex // guards the map only
	plans map[planKey]*trackedPlan
}

type planKey struct {
	userID string
	planID string
}

type trackedPlan struct {
	mu   sync.Mutex
	plan *models.ExecutionPlan
}

// NewManager creates an empty plan manager.
func NewManager() *Manager {
	return &Manager{plans: make(map[planKey]*trackedPlan)}
}

// StartPlan registers a plan in pending state and returns its id. The
// manager tracks its own deep copy: the caller's plan keeps the assigned
// ids but never sees later step transitions, so it is safe to publish or
// marshal concurrently.
func (m *Manager) StartPlan(userID, sessionID string, p *models.ExecutionPlan, rationale string) string {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.UserID = userID
	p.SessionID = sessionID
	p.Status = models.PlanPending
	p.Rationale = rationale
	p.CreatedAt = time.Now().UTC()
	for i := range p.Steps {
		if p.Steps[i].ID == "" {
			p.Steps[i].ID = uuid.NewString()
		}
		p.Steps[i].Status = models.StepPending
	}

	owned := clonePlan(p)
	m.mu.Lock()
	m.plans[planKey{userID, p.ID}] = &trackedPlan{plan: &owned}
	m.mu.Unlock()

	log.Info().Str("user", userID).Str("plan", p.ID).Int("steps", len(p.Steps)).Msg("Plan started")
	return p.ID
}

// GetPlan returns a snapshot of a plan.
func (m *Manager) GetPlan(userID, planID string) (*models.ExecutionPlan, error) {
	tp, err := m.tracked(userID, planID)
	if err != nil {
		return nil, err
	}
	tp.mu.Lock()
	defer tp.mu.Unlock()
	snap := clonePlan(tp.plan)
	return &snap, nil
}

// MarkStepInProgress moves a pending step to in_progress.
func (m *Manager) MarkStepInProgress(userID, planID, stepID, note string) error {
	return m.transitionStep(userID, planID, stepID, models.StepInProgress, note, nil, "")
}

// MarkStepCompleted moves a step to completed, attaching its result.
func (m *Manager) MarkStepCompleted(userID, planID, stepID, note string, result any) error {
	return m.transitionStep(userID, planID, stepID, models.StepCompleted, note, result, "")
}

// MarkStepFailed moves a step to failed, attaching the error text.
func (m *Manager) MarkStepFailed(userID, planID, stepID, note, errText string) error {
	return m.transitionStep(userID, planID, stepID, models.StepFailed, note, nil, errText)
}

// stepRank orders statuses so transitions can only move forward.
func stepRank(s models.StepStatus) int {
	switch s {
	case models.StepPending:
		return 0
	case models.StepInProgress:
		return 1
	case models.StepCompleted, models.StepFailed:
		return 2
	}
	return -1
}

func (m *Manager) transitionStep(userID, planID, stepID string, to models.StepStatus, note string, result any, errText string) error {
	tp, err := m.tracked(userID, planID)
	if err != nil {
		return err
	}
	tp.mu.Lock()
	defer tp.mu.Unlock()

	p := tp.plan
	if p.Status == models.PlanCompleted || p.Status == models.PlanAborted {
		return fmt.Errorf("plan %s is terminal (%s)", planID, p.Status)
	}

	for i := range p.Steps {
		step := &p.Steps[i]
		if step.ID != stepID {
			continue
		}
		if step.Status.Terminal() {
			return fmt.Errorf("step %s is terminal (%s)", stepID, step.Status)
		}
		if stepRank(to) <= stepRank(step.Status) {
			return fmt.Errorf("step %s: cannot move %s → invalid backward transition to %s", stepID, step.Status, to)
		}
		step.Status = to
		if note != "" {
			step.Notes = append(step.Notes, note)
		}
		if result != nil {
			step.Result = result
		}
		if errText != "" {
			step.Error = errText
		}
		if p.Status == models.PlanPending {
			p.Status = models.PlanInProgress
		}
		return nil
	}
	return fmt.Errorf("step %s not found in plan %s", stepID, planID)
}

// CompletePlan marks the plan terminal and classifies the outcome from
// its aggregated step results.
func (m *Manager) CompletePlan(userID, planID, explanation string) (models.PlanOutcome, error) {
	tp, err := m.tracked(userID, planID)
	if err != nil {
		return "", err
	}
	tp.mu.Lock()
	defer tp.mu.Unlock()

	p := tp.plan
	if p.Status == models.PlanCompleted || p.Status == models.PlanAborted {
		return p.Outcome, fmt.Errorf("plan %s is already terminal (%s)", planID, p.Status)
	}

	completed, failed := 0, 0
	for _, step := range p.Steps {
		switch step.Status {
		case models.StepCompleted:
			completed++
		case models.StepFailed:
			failed++
		}
	}

	switch {
	case failed == 0 && completed == len(p.Steps):
		p.Outcome = models.OutcomeFullySucceeded
	case completed == 0 && failed == 0:
		p.Outcome = models.OutcomeAbortedEarly
	default:
		p.Outcome = models.OutcomePartialFailure
	}
	p.Status = models.PlanCompleted
	p.Explanation = explanation
	now := time.Now().UTC()
	p.CompletedAt = &now

	log.Info().Str("user", userID).Str("plan", planID).Str("outcome", string(p.Outcome)).Msg("Plan completed")
	return p.Outcome, nil
}

// AbortPlan force-terminates a plan from any non-terminal state. Steps
// still pending or in progress are marked failed with the abort reason.
func (m *Manager) AbortPlan(userID, planID, reason string) error {
	tp, err := m.tracked(userID, planID)
	if err != nil {
		return err
	}
	tp.mu.Lock()
	defer tp.mu.Unlock()

	p := tp.plan
	if p.Status == models.PlanCompleted || p.Status == models.PlanAborted {
		return fmt.Errorf("plan %s is already terminal (%s)", planID, p.Status)
	}

	for i := range p.Steps {
		step := &p.Steps[i]
		if !step.Status.Terminal() {
			step.Status = models.StepFailed
			step.Error = "aborted: " + reason
		}
	}
	p.Status = models.PlanAborted
	p.Outcome = models.OutcomeAbortedEarly
	p.Explanation = reason
	now := time.Now().UTC()
	p.CompletedAt = &now

	log.Warn().Str("user", userID).Str("plan", planID).Str("reason", reason).Msg("Plan aborted")
	return nil
}

// ActivePlanCount reports how many plans are not yet terminal.
func (m *Manager) ActivePlanCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, tp := range m.plans {
		tp.mu.Lock()
		if tp.plan.Status == models.PlanPending || tp.plan.Status == models.PlanInProgress {
			n++
		}
		tp.mu.Unlock()
	}
	return n
}

// ActivePlans returns snapshots of a user's non-terminal plans.
func (m *Manager) ActivePlans(userID string) []models.ExecutionPlan {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.ExecutionPlan
	for key, tp := range m.plans {
		if key.userID != userID {
			continue
		}
		tp.mu.Lock()
		if tp.plan.Status == models.PlanPending || tp.plan.Status == models.PlanInProgress {
			out = append(out, clonePlan(tp.plan))
		}
		tp.mu.Unlock()
	}
	return out
}

// SweepTerminal drops terminal plans whose completion is older than ttl.
// Returns the number removed.
func (m *Manager) SweepTerminal(ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl)
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for key, tp := range m.plans {
		tp.mu.Lock()
		expired := tp.plan.CompletedAt != nil && tp.plan.CompletedAt.Before(cutoff)
		tp.mu.Unlock()
		if expired {
			delete(m.plans, key)
			removed++
		}
	}
	return removed
}

func (m *Manager) tracked(userID, planID string) (*trackedPlan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tp, ok := m.plans[planKey{userID, planID}]
	if !ok {
		return nil, fmt.Errorf("plan %s not found for user %s", planID, userID)
	}
	return tp, nil
}

func clonePlan(p *models.ExecutionPlan) models.ExecutionPlan {
	cp := *p
	cp.Steps = make([]models.Step, len(p.Steps))
	copy(cp.Steps, p.Steps)
	for i := range cp.Steps {
		cp.Steps[i].Notes = append([]string(nil), p.Steps[i].Notes...)
	}
	return cp
}
