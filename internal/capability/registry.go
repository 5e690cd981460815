// Package capability holds the registry of canvas capabilities: what the
// engine knows how to ask the client to do, which intent patterns select
// each capability, and the parameter schema each one validates against.
//
// Capabilities are registered during startup and the registry is frozen
// before serving; reads after freeze are lock-free.
package capability

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/rs/zerolog/log"

	"github.com/tapcanvas/tapcanvas/ai-engine/pkg/models"
)

// Registry indexes capabilities by name, domain, and pattern keyword.
type Registry struct {
	frozen bool

	byName   map[string]*models.Capability
	byDomain map[models.Domain][]*models.Capability

	// keyword → capabilities whose patterns contain it, derived at Register.
	patternIndex map[string][]*models.Capability

	// compiled Constraint programs, keyed by capability name.
	constraints map[string]*vm.Program
}

// NewRegistry creates an empty, unfrozen registry.
func NewRegistry() *Registry {
	return &Registry{
		byName:       make(map[string]*models.Capability),
		byDomain:     make(map[models.Domain][]*models.Capability),
		patternIndex: make(map[string][]*models.Capability),
		constraints:  make(map[string]*vm.Program),
	}
}

// Register adds a capability and compiles its constraint expression.
// Registering after Freeze or re-using a name is a programming error.
func (r *Registry) Register(cap models.Capability) error {
	if r.frozen {
		return fmt.Errorf("registry is frozen, cannot register %q", cap.Name)
	}
	if cap.Name == "" {
		return fmt.Errorf("capability name is required")
	}
	if _, exists := r.byName[cap.Name]; exists {
		return fmt.Errorf("capability %q already registered", cap.Name)
	}

	if cap.Constraint != "" {
		prog, err := expr.Compile(cap.Constraint, expr.Env(constraintEnv{}), expr.AsBool())
		if err != nil {
			return fmt.Errorf("capability %q: bad constraint: %w", cap.Name, err)
		}
		r.constraints[cap.Name] = prog
	}

	stored := cap
	r.byName[cap.Name] = &stored
	r.byDomain[cap.Domain] = append(r.byDomain[cap.Domain], &stored)
	for _, pat := range cap.Patterns {
		for _, word := range patternWords(pat.Pattern) {
			r.patternIndex[word] = append(r.patternIndex[word], &stored)
		}
	}
	return nil
}

// Freeze marks the registry immutable. Call once after startup
// registration; reads are lock-free afterwards.
func (r *Registry) Freeze() {
	r.frozen = true
	log.Info().Int("capabilities", len(r.byName)).Msg("Capability registry frozen")
}

// Get returns a capability by name.
func (r *Registry) Get(name string) (*models.Capability, bool) {
	c, ok := r.byName[name]
	return c, ok
}

// ByDomain returns all capabilities registered for a domain.
func (r *Registry) ByDomain(domain models.Domain) []*models.Capability {
	return r.byDomain[domain]
}

// DefaultForDomain returns the first capability registered for a domain,
// used when a plan step names only a domain.
func (r *Registry) DefaultForDomain(domain models.Domain) (*models.Capability, bool) {
	caps := r.byDomain[domain]
	if len(caps) == 0 {
		return nil, false
	}
	return caps[0], true
}

// Len reports the number of registered capabilities.
func (r *Registry) Len() int { return len(r.byName) }

// ── Pattern scoring ─────────────────────────────────────────

// Match is one capability's score against an utterance.
type Match struct {
	Capability *models.Capability
	Score      float64 // raw pattern score in (0,1]
}

// Score evaluates the normalized utterance against every pattern whose
// keywords intersect it, returning the best match per capability sorted
// by score. The raw score of a pattern is the matched-word fraction
// multiplied by the pattern's static weight.
func (r *Registry) Score(text string) []Match {
	norm := Normalize(text)
	if norm == "" {
		return nil
	}

	best := make(map[string]float64)
	seen := make(map[string]*models.Capability)
	for _, cap := range r.candidates(norm) {
		for _, pat := range cap.Patterns {
			words := patternWords(pat.Pattern)
			if len(words) == 0 {
				continue
			}
			matched := 0
			for _, w := range words {
				if strings.Contains(norm, w) {
					matched++
				}
			}
			if matched == 0 {
				continue
			}
			score := float64(matched) / float64(len(words)) * pat.Weight
			if score > best[cap.Name] {
				best[cap.Name] = score
				seen[cap.Name] = cap
			}
		}
	}

	out := make([]Match, 0, len(best))
	for name, score := range best {
		out = append(out, Match{Capability: seen[name], Score: score})
	}
	// Insertion sort; candidate sets are tiny.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Score > out[j-1].Score; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// candidates narrows the scan to capabilities sharing at least one indexed
// keyword with the utterance, falling back to all capabilities for CJK
// text where word splitting does not apply.
func (r *Registry) candidates(norm string) []*models.Capability {
	set := make(map[string]*models.Capability)
	for word, caps := range r.patternIndex {
		if strings.Contains(norm, word) {
			for _, c := range caps {
				set[c.Name] = c
			}
		}
	}
	if len(set) == 0 {
		out := make([]*models.Capability, 0, len(r.byName))
		for _, c := range r.byName {
			out = append(out, c)
		}
		return out
	}
	out := make([]*models.Capability, 0, len(set))
	for _, c := range set {
		out = append(out, c)
	}
	return out
}

// Normalize lowercases the utterance and strips punctuation so pattern
// keywords match regardless of phrasing.
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == ' ', r > 127:
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func patternWords(pattern string) []string {
	return strings.Fields(strings.ToLower(pattern))
}

// ── Constraint evaluation ───────────────────────────────────

// constraintEnv is the expression environment: the operation's parameter
// map bound as `params`.
type constraintEnv struct {
	Params map[string]any `expr:"params"`
}

// CheckConstraint runs the capability's compiled constraint against the
// parameter map. Capabilities without a constraint always pass.
func (r *Registry) CheckConstraint(name string, params map[string]any) (bool, error) {
	prog, ok := r.constraints[name]
	if !ok {
		return true, nil
	}
	out, err := expr.Run(prog, constraintEnv{Params: params})
	if err != nil {
		return false, fmt.Errorf("constraint for %q: %w", name, err)
	}
	pass, _ := out.(bool)
	return pass, nil
}
