package models

// ── Capabilities ────────────────────────────────────────────

// Domain groups capabilities by the area of the canvas they affect.
type Domain string

const (
	DomainNodeManipulation   Domain = "node-manipulation"
	DomainContentGeneration  Domain = "content-generation"
	DomainLayoutArrangement  Domain = "layout-arrangement"
	DomainExecutionDebug     Domain = "execution-debug"
	DomainWorkflowAutomation Domain = "workflow-automation"
)

// OperationMode describes how a capability's effect is applied.
type OperationMode string

const (
	ModeDirect      OperationMode = "direct"
	ModeBatch       OperationMode = "batch"
	ModeConditional OperationMode = "conditional"
	ModeIterative   OperationMode = "iterative"
)

// ParamType is the tagged variant kind of a capability parameter.
type ParamType string

const (
	ParamString ParamType = "string"
	ParamNumber ParamType = "number"
	ParamBool   ParamType = "bool"
	ParamEnum   ParamType = "enum"
	ParamObject ParamType = "object"
)

// ParamSpec is one typed parameter in a capability's schema. Unknown shapes
// are rejected at the boundary rather than silently defaulted.
type ParamSpec struct {
	Name     string    `json:"name"`
	Type     ParamType `json:"type"`
	Required bool      `json:"required,omitempty"`
	Default  any       `json:"default,omitempty"`
	Options  []string  `json:"options,omitempty"` // enum members, when Type == enum
}

// IntentPattern scores free text against a capability. Pattern is a
// lower-cased keyword sequence; every word present raises the match.
type IntentPattern struct {
	Pattern  string   `json:"pattern"`
	Weight   float64  `json:"weight"` // static confidence weight in (0,1]
	Examples []string `json:"examples,omitempty"`
}

// WebActionKind says how a capability's effect is realized client-side.
type WebActionKind string

const (
	WebActionFunction WebActionKind = "function" // client-side function call
	WebActionEvent    WebActionKind = "event"    // published on an event channel
	WebActionREST     WebActionKind = "rest"     // REST call template
)

// WebActionMapping is the symbolic description of the client-side effect.
type WebActionMapping struct {
	Kind     WebActionKind `json:"kind"`
	Function string        `json:"function,omitempty"`
	Channel  string        `json:"channel,omitempty"`
	Template string        `json:"template,omitempty"`
}

// Capability is a registered, named unit of canvas behavior. Capabilities
// are registered once at startup and immutable thereafter.
type Capability struct {
	Domain      Domain           `json:"domain"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Modes       []OperationMode  `json:"modes"`
	Params      []ParamSpec      `json:"params,omitempty"`
	Patterns    []IntentPattern  `json:"patterns,omitempty"`
	WebAction   WebActionMapping `json:"webAction"`

	// Constraint is an optional expr-lang expression over the parameter map
	// (bound as `params`), compiled at registration and evaluated by the
	// execution engine after the typed schema checks pass.
	Constraint string `json:"constraint,omitempty"`
}

// ParsedIntent is the recognizer's classification of one utterance.
// Produced fresh per request; never persisted.
type ParsedIntent struct {
	Domain          Domain            `json:"domain"`
	CapabilityName  string            `json:"capabilityName,omitempty"`
	Confidence      float64           `json:"confidence"`
	Entities        map[string]string `json:"entities,omitempty"`
	RawText         string            `json:"rawText"`
	ExtractedParams map[string]any    `json:"extractedParams,omitempty"`
	Reasoning       string            `json:"reasoning,omitempty"`
}
