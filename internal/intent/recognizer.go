// Package intent classifies free text into a capability domain with a
// confidence score. Recognition is staged by cost: a quick pattern match
// against the capability registry, then canvas-context heuristics, then a
// small set of semantic meta-patterns. The highest-confidence candidate
// across all stages wins; an unknown utterance falls back to a
// low-confidence node-manipulation intent so downstream stages always
// have defined behavior.
package intent

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/tapcanvas/tapcanvas/ai-engine/internal/capability"
	"github.com/tapcanvas/tapcanvas/ai-engine/pkg/models"
)

const (
	quickAcceptThreshold      = 0.8
	contextualAcceptThreshold = 0.6
	unknownConfidence         = 0.3

	// canvases with more nodes than this count as crowded for the
	// "messy/organize" heuristic
	crowdedNodeCount = 5
)

// Recognizer classifies utterances against the capability registry.
type Recognizer struct {
	registry *capability.Registry
}

// NewRecognizer creates a recognizer over a frozen registry.
func NewRecognizer(r *capability.Registry) *Recognizer {
	return &Recognizer{registry: r}
}

// Recognize runs the three stages and returns the best candidate,
// decorated with whatever parameters the utterance spells out. It
// never fails: unrecognized input yields the unknown fallback intent.
func (r *Recognizer) Recognize(text string, canvas *models.CanvasContext) models.ParsedIntent {
	best := models.ParsedIntent{
		Domain:     models.DomainNodeManipulation,
		Confidence: unknownConfidence,
		RawText:    text,
		Reasoning:  "no stage produced a confident match",
	}

	if quick, ok := r.quickMatch(text); ok {
		if quick.Confidence > quickAcceptThreshold {
			log.Debug().Str("domain", string(quick.Domain)).Float64("confidence", quick.Confidence).Msg("Intent accepted at quick stage")
			return extractParams(quick)
		}
		if quick.Confidence > best.Confidence {
			best = quick
		}
	}

	if ctx, ok := r.contextualMatch(text, canvas); ok {
		if ctx.Confidence > contextualAcceptThreshold {
			log.Debug().Str("domain", string(ctx.Domain)).Float64("confidence", ctx.Confidence).Msg("Intent accepted at contextual stage")
			return extractParams(ctx)
		}
		if ctx.Confidence > best.Confidence {
			best = ctx
		}
	}

	if sem, ok := r.semanticMatch(text); ok && sem.Confidence > best.Confidence {
		best = sem
	}

	return extractParams(best)
}

// ── Stage 1: quick pattern match ────────────────────────────

func (r *Recognizer) quickMatch(text string) (models.ParsedIntent, bool) {
	matches := r.registry.Score(text)
	if len(matches) == 0 {
		return models.ParsedIntent{}, false
	}
	top := matches[0]
	confidence := top.Score*0.9 + 0.1
	if confidence > 1.0 {
		confidence = 1.0
	}
	return models.ParsedIntent{
		Domain:         top.Capability.Domain,
		CapabilityName: top.Capability.Name,
		Confidence:     confidence,
		RawText:        text,
		Reasoning:      "pattern match on " + top.Capability.Name,
	}, true
}

// ── Stage 2: canvas-context heuristics ──────────────────────

var creationVerbs = []string{"create", "add", "make", "build", "draw", "generate", "生成", "创建", "添加"}

func (r *Recognizer) contextualMatch(text string, canvas *models.CanvasContext) (models.ParsedIntent, bool) {
	if canvas == nil {
		return models.ParsedIntent{}, false
	}
	lower := strings.ToLower(text)

	if len(canvas.Nodes) == 0 && containsAny(lower, creationVerbs) {
		return models.ParsedIntent{
			Domain:     models.DomainNodeManipulation,
			Confidence: 0.7,
			RawText:    text,
			Reasoning:  "empty canvas with creation verb",
		}, true
	}
	if len(canvas.Nodes) > crowdedNodeCount && containsAny(lower, []string{"messy", "organize", "clean", "整理", "乱"}) {
		return models.ParsedIntent{
			Domain:     models.DomainLayoutArrangement,
			Confidence: 0.8,
			RawText:    text,
			Reasoning:  "crowded canvas with organize wording",
		}, true
	}
	if len(canvas.Edges) > 0 && containsAny(lower, []string{"optimize", "faster", "slow", "优化"}) {
		return models.ParsedIntent{
			Domain:     models.DomainExecutionDebug,
			Confidence: 0.75,
			RawText:    text,
			Reasoning:  "connected graph with optimize wording",
		}, true
	}
	return models.ParsedIntent{}, false
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

// ── Stage 3: semantic meta-patterns ─────────────────────────

type semanticRule struct {
	re         *regexp.Regexp
	domain     models.Domain
	confidence float64
	reasoning  string
}

var semanticRules = []semanticRule{
	{regexp.MustCompile(`(?i)^(can|could|would) you\b`), models.DomainNodeManipulation, 0.6, "polite request phrasing"},
	{regexp.MustCompile(`(?i)\bhow (is|are|does)\b`), models.DomainExecutionDebug, 0.65, "status inquiry phrasing"},
	{regexp.MustCompile(`(?i)\btoo (close|far|crowded|cluttered|spread)\b`), models.DomainLayoutArrangement, 0.7, "spatial complaint phrasing"},
	{regexp.MustCompile(`(?i)\b(what if|every time|whenever)\b`), models.DomainWorkflowAutomation, 0.6, "conditional phrasing"},
	{regexp.MustCompile(`(?i)\b(picture|image|video|photo) of\b`), models.DomainContentGeneration, 0.65, "media request phrasing"},
}

func (r *Recognizer) semanticMatch(text string) (models.ParsedIntent, bool) {
	for _, rule := range semanticRules {
		if rule.re.MatchString(text) {
			return models.ParsedIntent{
				Domain:     rule.domain,
				Confidence: rule.confidence,
				RawText:    text,
				Reasoning:  rule.reasoning,
			}, true
		}
	}
	return models.ParsedIntent{}, false
}

// ── Parameter extraction ────────────────────────────────────

// layoutWords maps surface wording to a layoutType value. The value is
// taken at face value; whether the client actually supports it is the
// executor's enum check to make.
var layoutWords = map[string]string{
	"horizontal":   "horizontal",
	"horizontally": "horizontal",
	"vertical":     "vertical",
	"vertically":   "vertical",
	"grid":         "grid",
	"circle":       "circular",
	"circular":     "circular",
	"tree":         "tree",
	"diagonal":     "diagonal",
	"diagonally":   "diagonal",
	"水平":           "horizontal",
	"垂直":           "vertical",
	"网格":           "grid",
	"环形":           "circular",
}

// nodeTypeWords maps media wording to a creatable node kind.
var nodeTypeWords = map[string]string{
	"image":   "image",
	"picture": "image",
	"photo":   "image",
	"图片":      "image",
	"图像":      "image",
	"video":   "video",
	"视频":      "video",
	"text":    "text",
	"文字":      "text",
}

var countRe = regexp.MustCompile(`\b(\d+)\b`)

// extractParams reads obvious parameters straight out of the utterance:
// a layout word fills layoutType, a media word fills nodeType, and a
// bare number fills count. Matched surface words are recorded as
// entities.
func extractParams(intent models.ParsedIntent) models.ParsedIntent {
	lower := strings.ToLower(intent.RawText)

	set := func(param string, value any, surface string) {
		if intent.ExtractedParams == nil {
			intent.ExtractedParams = map[string]any{}
		}
		if intent.Entities == nil {
			intent.Entities = map[string]string{}
		}
		if _, taken := intent.ExtractedParams[param]; taken {
			return
		}
		intent.ExtractedParams[param] = value
		intent.Entities[param] = surface
	}

	for _, word := range sortedKeys(layoutWords) {
		if containsWord(lower, word) {
			set("layoutType", layoutWords[word], word)
			break
		}
	}
	for _, word := range sortedKeys(nodeTypeWords) {
		if containsWord(lower, word) {
			set("nodeType", nodeTypeWords[word], word)
			break
		}
	}
	if m := countRe.FindString(lower); m != "" {
		if n, err := strconv.Atoi(m); err == nil && n > 0 {
			set("count", n, m)
		}
	}
	return intent
}

// containsWord matches word boundaries for latin words and plain
// substrings for CJK words, where \b never fires.
func containsWord(text, word string) bool {
	if word[0] >= 0x80 {
		return strings.Contains(text, word)
	}
	re := regexp.MustCompile(`\b` + regexp.QuoteMeta(word) + `\b`)
	return re.MatchString(text)
}

// sortedKeys keeps extraction deterministic. Longer surface forms are
// checked first so "horizontally" wins over "horizontal".
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	return keys
}
