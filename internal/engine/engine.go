// Package engine rewrites a source unit to a fixpoint under a rule store.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/phobologic/prune/internal/graph"
	"github.com/phobologic/prune/internal/model"
	"github.com/phobologic/prune/internal/query"
	"github.com/phobologic/prune/internal/rules"
	"github.com/phobologic/prune/internal/source"
)

// DefaultMaxIterations bounds the applied steps of one run when Options
// leaves MaxIterations unset.
const DefaultMaxIterations = 1000

// ErrRewriteDivergence is returned when a run exceeds its step limit,
// usually because of a cycle of rules that keep matching each other's output.
var ErrRewriteDivergence = errors.New("rewrite did not converge")

// Observer is told about every applied rule and every rejected match.
// Implementations must be safe for concurrent use when an engine is shared.
type Observer interface {
	RuleApplied(rule string)
	ConstraintRejected(rule string)
}

// Options configures an Engine.
type Options struct {
	// MaxIterations caps the applied steps per unit. Zero means
	// DefaultMaxIterations.
	MaxIterations int
	Logger        *slog.Logger
	Observer      Observer
}

// Summary describes one run.
type Summary struct {
	Edits []model.AppliedEdit
	// Rejected counts matches discarded because a constraint failed. A match
	// is counted once per tree revision; an edit elsewhere in the file makes
	// it eligible again.
	Rejected int
}

// Engine applies the rules of a store. It holds no per-run state and may be
// used for several units concurrently.
type Engine struct {
	store *rules.Store
	opts  Options
	order map[string]int
}

// New returns an engine over store.
func New(store *rules.Store, opts Options) *Engine {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultMaxIterations
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	order := make(map[string]int, len(store.Rules()))
	for i, r := range store.Rules() {
		order[r.ID] = i
	}
	return &Engine{store: store, opts: opts, order: order}
}

// step is a validated match ready to be applied.
type step struct {
	rule     *rules.Rule
	bindings model.Bindings
	match    model.Match
}

// Run rewrites unit until no active rule has a valid match. Seed rules start
// active; applying a rule activates its successors. On error the unit holds
// the edits made so far.
func (e *Engine) Run(ctx context.Context, unit *source.Unit) (Summary, error) {
	var sum Summary
	a := newAgenda(e.order)
	for _, r := range e.store.Seeds() {
		a.addGlobal(activation{rule: r, bindings: e.store.Substitutions().Project(r.RequiredHoles())})
	}

	for {
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		st, found, err := e.next(unit, a, &sum)
		if err != nil {
			return sum, err
		}
		if !found {
			return sum, nil
		}
		if len(sum.Edits) >= e.opts.MaxIterations {
			return sum, fmt.Errorf("%s: %w after %d steps", unit.Path, ErrRewriteDivergence, e.opts.MaxIterations)
		}

		if err := e.apply(ctx, unit, a, st, &sum); err != nil {
			return sum, err
		}
	}
}

// next finds the first valid match: pending local activations first, then
// the global ones in order.
func (e *Engine) next(unit *source.Unit, a *agenda, sum *Summary) (step, bool, error) {
	for {
		act, ok := a.popLocal()
		if !ok {
			break
		}
		st, found, err := e.scanLocal(unit, a, act, sum)
		if err != nil || found {
			return st, found, err
		}
	}

	for _, act := range a.globals {
		q, err := e.store.RuleQuery(act.rule, act.bindings)
		if err != nil {
			return step{}, false, err
		}
		for _, m := range query.All(unit.Root(), q, unit.Code()) {
			st, ok, err := e.validate(unit, a, act, m, sum)
			if err != nil || ok {
				return st, ok, err
			}
		}
	}
	return step{}, false, nil
}

// scanLocal looks for matches rooted at the node under the anchor or one of
// its ancestors, innermost first. Only matches whose target overlaps the
// anchor by containment qualify.
func (e *Engine) scanLocal(unit *source.Unit, a *agenda, act activation, sum *Summary) (step, bool, error) {
	q, err := e.store.RuleQuery(act.rule, act.bindings)
	if err != nil {
		return step{}, false, err
	}

	start := query.NodeForRange(unit.Root(), act.anchor.Start, act.anchor.End)
	for n := start; n != nil; n = n.Parent() {
		for _, m := range query.AtNode(n, q, unit.Code()) {
			target := targetRange(act.rule, m)
			if !target.Contains(act.anchor) && !act.anchor.Contains(target) {
				continue
			}
			st, ok, err := e.validate(unit, a, act, m, sum)
			if err != nil || ok {
				return st, ok, err
			}
		}
	}
	return step{}, false, nil
}

func (e *Engine) validate(unit *source.Unit, a *agenda, act activation, m model.Match, sum *Summary) (step, bool, error) {
	bindings := act.bindings.Merge(m.Captures)
	if act.rule.IsTrigger() && a.fired(act.rule.ID, bindings) {
		return step{}, false, nil
	}

	key := matchKey(act.rule.ID, m.Range, bindings)
	if a.wasRejected(unit.Generation(), key) {
		return step{}, false, nil
	}

	node := query.NodeForRange(unit.Root(), m.Range.Start, m.Range.End)
	ok, err := act.rule.Satisfied(node, unit, e.store, bindings)
	if err != nil {
		return step{}, false, fmt.Errorf("%s: %w", unit.Path, err)
	}
	if !ok {
		a.reject(unit.Generation(), key)
		sum.Rejected++
		if e.opts.Observer != nil {
			e.opts.Observer.ConstraintRejected(act.rule.ID)
		}
		e.opts.Logger.Debug("constraint rejected match",
			"rule", act.rule.ID, "file", unit.Path, "start", m.Range.Start, "end", m.Range.End)
		return step{}, false, nil
	}
	return step{rule: act.rule, bindings: bindings, match: m}, true, nil
}

func (e *Engine) apply(ctx context.Context, unit *source.Unit, a *agenda, st step, sum *Summary) error {
	target := targetRange(st.rule, st.match)
	applied := model.AppliedEdit{
		Rule:    st.rule.ID,
		Range:   target,
		Line:    source.LineOf(unit.Code(), target.Start),
		Trigger: st.rule.IsTrigger(),
	}

	anchor := target
	if st.rule.IsTrigger() {
		a.fire(st.rule.ID, st.bindings)
	} else {
		text, err := st.rule.Render(st.bindings)
		if err != nil {
			return fmt.Errorf("%s: %w", unit.Path, err)
		}
		inserted, err := unit.Replace(ctx, target, text)
		if err != nil {
			return fmt.Errorf("applying rule %q: %w", st.rule.ID, err)
		}
		a.shift(unit.LastEdit())
		anchor = inserted
		applied.Replacement = string(unit.Code()[inserted.Start:inserted.End])
	}

	sum.Edits = append(sum.Edits, applied)
	if e.opts.Observer != nil {
		e.opts.Observer.RuleApplied(st.rule.ID)
	}
	e.opts.Logger.Debug("applied rule",
		"rule", st.rule.ID, "file", unit.Path, "start", target.Start, "end", target.End, "trigger", applied.Trigger)

	for _, edge := range e.store.Successors(st.rule.ID) {
		next, ok := e.store.Rule(edge.To)
		if !ok {
			continue
		}
		act := activation{
			rule:     next,
			bindings: e.store.Substitutions().Merge(st.bindings).Project(next.RequiredHoles()),
			anchor:   anchor,
		}
		switch edge.Scope {
		case graph.Parent:
			a.pushLocal(act)
		default:
			a.addGlobal(act)
		}
	}
	return nil
}

// targetRange is the range a rule rewrites: its replace_node capture, or the
// whole match.
func targetRange(r *rules.Rule, m model.Match) model.Range {
	if r.ReplaceNode != "" {
		if tr, ok := m.CaptureRanges[r.ReplaceNode]; ok {
			return tr
		}
	}
	return m.Range
}
