// Package compiler turns natural-language strategy descriptions into
// validated strategy specs. A draft comes from an injected DraftSource (a
// language-model collaborator) or, when none is configured, from the
// deterministic seed strategy; the normalizer then canonicalizes and
// validates it, with a bounded repair loop feeding validation errors back to
// the draft source.
package compiler

import (
	"context"
	"log/slog"
	"time"

	"nlquant/internal/domain"
	"nlquant/internal/spec"
)

// DraftSource produces a loose StrategySpec draft document from a system
// prompt and a user prompt. Implementations wrap a language-model API; none
// is shipped here, callers inject their own.
type DraftSource interface {
	GenerateDraft(ctx context.Context, system, user string) (map[string]any, error)
}

// DefaultMaxRepairs is the number of extra draft attempts after the first
// one fails semantic validation.
const DefaultMaxRepairs = 2

// Compiler orchestrates drafting, normalization, and the repair loop.
type Compiler struct {
	source     DraftSource
	maxRepairs int
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithSource injects the language-model draft source. Without one the
// compiler applies the deterministic seed strategy and marks it in meta.
func WithSource(s DraftSource) Option {
	return func(c *Compiler) { c.source = s }
}

// WithMaxRepairs bounds the repair loop. Negative values mean zero.
func WithMaxRepairs(n int) Option {
	return func(c *Compiler) {
		if n < 0 {
			n = 0
		}
		c.maxRepairs = n
	}
}

// WithClock overrides the timestamp source for meta.created_at.
func WithClock(now func() time.Time) Option {
	return func(c *Compiler) { c.now = now }
}

// New creates a Compiler.
func New(logger *slog.Logger, opts ...Option) *Compiler {
	c := &Compiler{
		maxRepairs: DefaultMaxRepairs,
		logger:     logger,
		now:        time.Now,
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// attempt is one step of the repair loop: the draft tried and the violations
// it produced. Each iteration builds a new attempt from the previous one;
// nothing is mutated across iterations.
type attempt struct {
	draft      map[string]any
	violations []string
}

// Compile converts a natural-language description into a finalized spec.
// Overrides (execution cost knobs and the like) are merged after the draft
// is accepted, then strategy_version and strategy_id are recomputed.
func (c *Compiler) Compile(ctx context.Context, nl, mode string, overrides map[string]any) (*spec.Spec, error) {
	if mode == "" {
		mode = "BACKTEST_ONLY"
	}

	seeded := c.source == nil
	var cur attempt
	if seeded {
		c.logger.Info("no draft source configured, applying seed strategy")
		cur = attempt{draft: seedDraft(nl)}
	} else {
		draft, err := c.source.GenerateDraft(ctx, systemPrompt, userPrompt(nl, mode))
		if err != nil {
			return nil, domain.E(domain.ErrInternal, "draft source failed", map[string]any{"cause": err.Error()})
		}
		cur = attempt{draft: draft}
	}

	var s *spec.Spec
	for i := 0; ; i++ {
		merged := Merge(baseDoc(nl), cur.draft)
		normalized, err := spec.Normalize(merged)
		if err == nil {
			s = normalized
			break
		}
		violations := domain.Violations(err)
		if violations == nil {
			return nil, err
		}
		cur = attempt{draft: cur.draft, violations: violations}
		if seeded || i >= c.maxRepairs {
			// Budget spent (or nothing to re-ask): surface the full last
			// violation set rather than silently substituting anything.
			return nil, err
		}
		c.logger.Warn("draft failed validation, requesting repair",
			"attempt", i+1, "violations", len(violations))
		repaired, rerr := c.source.GenerateDraft(ctx, systemPrompt, repairPrompt(nl, mode, cur))
		if rerr != nil {
			return nil, domain.E(domain.ErrInternal, "draft source failed during repair", map[string]any{"cause": rerr.Error()})
		}
		cur = attempt{draft: repaired}
	}

	if len(overrides) > 0 {
		doc, err := specToDoc(s)
		if err != nil {
			return nil, err
		}
		s, err = spec.Normalize(Merge(doc, overrides))
		if err != nil {
			return nil, err
		}
	}

	s.Meta.CreatedAt = c.now().UTC().Format(time.RFC3339)
	s.Meta.Mode = mode
	s.Meta.LLMUsed = !seeded
	s.Meta.FallbackSeedApplied = seeded
	if s.Meta.Author == "" {
		s.Meta.Author = "nl_user"
	}
	if err := s.Finalize(); err != nil {
		return nil, domain.E(domain.ErrInternal, "finalizing spec", map[string]any{"cause": err.Error()})
	}
	c.logger.Info("strategy compiled",
		"strategy_id", s.StrategyID, "llm_used", s.Meta.LLMUsed, "seed_applied", s.Meta.FallbackSeedApplied)
	return s, nil
}

// baseDoc is the minimal canonical skeleton the draft merges onto. The hard
// rules rewrite most of it; it exists so a sparse draft still has every top
// level key present.
func baseDoc(nl string) map[string]any {
	name := nl
	if len(name) > 80 {
		name = name[:80] + "..."
	}
	return map[string]any{
		"name": name,
		"dsl": map[string]any{
			"atomic": map[string]any{},
			"time":   map[string]any{},
			"signal": map[string]any{},
			"logic":  map[string]any{},
			"action": map[string]any{},
		},
	}
}
