package thinking

import (
	"context"
	"errors"
	"testing"

	"github.com/tapcanvas/tapcanvas/ai-engine/internal/capability"
	"github.com/tapcanvas/tapcanvas/ai-engine/internal/events"
	"github.com/tapcanvas/tapcanvas/ai-engine/pkg/models"
)

func newTestStreamer(t *testing.T) (*Streamer, *events.Bus) {
	t.Helper()
	r := capability.NewRegistry()
	if err := capability.RegisterBuiltins(r); err != nil {
		t.Fatalf("RegisterBuiltins failed: %v", err)
	}
	bus := events.NewBus()
	return NewStreamer(r, bus, 0), bus
}

func TestThinkEmitsOrderedTrace(t *testing.T) {
	s, _ := newTestStreamer(t)

	res, err := s.Think(context.Background(), "u1", models.ParsedIntent{
		Domain:         models.DomainNodeManipulation,
		CapabilityName: "create-node",
		Confidence:     0.9,
		RawText:        "create an image node",
	})
	if err != nil {
		t.Fatalf("Think failed: %v", err)
	}

	wantOrder := []models.ThinkingEventType{
		models.ThinkingIntentAnalysis,
		models.ThinkingReasoning,
		models.ThinkingDecision,
		models.ThinkingPlanning,
		models.ThinkingReasoning,
		models.ThinkingExecution,
	}
	if len(res.Trace) != len(wantOrder) {
		t.Fatalf("expected %d trace events, got %d", len(wantOrder), len(res.Trace))
	}
	for i, want := range wantOrder {
		if res.Trace[i].Type != want {
			t.Errorf("trace[%d] = %q, want %q", i, res.Trace[i].Type, want)
		}
	}
	for i := 1; i < len(res.Trace); i++ {
		if res.Trace[i].Timestamp.Before(res.Trace[i-1].Timestamp) {
			t.Error("trace timestamps not monotonic")
		}
	}
}

func TestThinkStrategySelection(t *testing.T) {
	s, _ := newTestStreamer(t)
	ctx := context.Background()

	tests := []struct {
		confidence float64
		want       string
	}{
		{0.9, "direct-execution"},
		{0.65, "optimization-focused"},
		{0.3, "conservative"},
	}
	for _, tt := range tests {
		res, err := s.Think(ctx, "u1", models.ParsedIntent{
			Domain:     models.DomainLayoutArrangement,
			Confidence: tt.confidence,
			RawText:    "arrange",
		})
		if err != nil {
			t.Fatalf("Think failed: %v", err)
		}
		if res.Plan.Strategy.Name != tt.want {
			t.Errorf("confidence %.2f: strategy = %q, want %q", tt.confidence, res.Plan.Strategy.Name, tt.want)
		}
	}
}

func TestThinkMaterializesOperations(t *testing.T) {
	s, _ := newTestStreamer(t)

	res, err := s.Think(context.Background(), "u1", models.ParsedIntent{
		Domain:          models.DomainContentGeneration,
		Confidence:      0.85,
		RawText:         "run the image node",
		ExtractedParams: map[string]any{"nodeId": "n1"},
	})
	if err != nil {
		t.Fatalf("Think failed: %v", err)
	}
	if len(res.Operations) != len(res.Plan.Steps) {
		t.Fatalf("expected one operation per step, got %d ops for %d steps", len(res.Operations), len(res.Plan.Steps))
	}
	op := res.Operations[0]
	if op.Capability != "generate-content" {
		t.Errorf("expected domain default capability, got %q", op.Capability)
	}
	if op.Parameters["nodeId"] != "n1" {
		t.Errorf("extracted params not carried: %+v", op.Parameters)
	}
	if op.Context["stepId"] != res.Plan.Steps[0].ID {
		t.Error("operation not linked to its plan step")
	}
}

func TestThinkDropsUndeclaredParams(t *testing.T) {
	s, _ := newTestStreamer(t)

	res, err := s.Think(context.Background(), "u1", models.ParsedIntent{
		Domain:     models.DomainLayoutArrangement,
		Confidence: 0.85,
		RawText:    "arrange a grid of 4 images",
		ExtractedParams: map[string]any{
			"layoutType": "grid",
			"nodeType":   "image",
			"count":      4,
		},
	})
	if err != nil {
		t.Fatalf("Think failed: %v", err)
	}
	op := res.Operations[0]
	if op.Parameters["layoutType"] != "grid" {
		t.Errorf("declared param not carried: %+v", op.Parameters)
	}
	if _, ok := op.Parameters["nodeType"]; ok {
		t.Errorf("nodeType is not an auto-layout parameter: %+v", op.Parameters)
	}
	if _, ok := op.Parameters["count"]; ok {
		t.Errorf("count is not an auto-layout parameter: %+v", op.Parameters)
	}
}

func TestThinkUnsupportedDomain(t *testing.T) {
	s, bus := newTestStreamer(t)
	ch := bus.Subscribe("u1")
	defer bus.Unsubscribe("u1", ch)

	_, err := s.Think(context.Background(), "u1", models.ParsedIntent{
		Domain:     models.Domain("teleportation"),
		Confidence: 0.9,
		RawText:    "beam me up",
	})
	var ud *models.UnsupportedDomainError
	if !errors.As(err, &ud) {
		t.Fatalf("expected UnsupportedDomainError, got %v", err)
	}

	// The terminal error event reaches the live channel.
	sawError := false
	for len(ch) > 0 {
		if ev := <-ch; ev.Type == models.EventError {
			sawError = true
		}
	}
	if !sawError {
		t.Error("expected a terminal error event on the bus")
	}
}

func TestThinkPublishesToBus(t *testing.T) {
	s, bus := newTestStreamer(t)
	ch := bus.Subscribe("u1")
	defer bus.Unsubscribe("u1", ch)

	_, err := s.Think(context.Background(), "u1", models.ParsedIntent{
		Domain:     models.DomainNodeManipulation,
		Confidence: 0.9,
		RawText:    "create node",
	})
	if err != nil {
		t.Fatalf("Think failed: %v", err)
	}
	if len(ch) == 0 {
		t.Fatal("expected thinking events on the live channel")
	}
	ev := <-ch
	if ev.Type != models.EventThinking {
		t.Errorf("expected thinking event, got %q", ev.Type)
	}
}
