package engine

import (
	"fmt"

	"github.com/phobologic/prune/internal/model"
	"github.com/phobologic/prune/internal/rules"
	"github.com/phobologic/prune/internal/source"
)

// activation is a rule armed with the bindings it inherited. Local
// activations carry the range of the edit that armed them.
type activation struct {
	rule     *rules.Rule
	bindings model.Bindings
	anchor   model.Range
}

// agenda tracks what a run may still scan. Global activations stay active
// for the whole run; local ones are scanned once.
type agenda struct {
	order    map[string]int
	globals  []activation
	active   map[string]struct{}
	locals   []activation
	consumed map[string]struct{}

	// rejected remembers matches a constraint turned down in the tree
	// revision rejectedGen.
	rejected    map[string]struct{}
	rejectedGen int
}

func newAgenda(order map[string]int) *agenda {
	return &agenda{
		order:    order,
		active:   make(map[string]struct{}),
		consumed: make(map[string]struct{}),
		rejected: make(map[string]struct{}),
	}
}

// addGlobal inserts act after every global of an earlier or equal rule, so
// globals are kept in rule declaration order and then activation order.
func (a *agenda) addGlobal(act activation) {
	key := act.rule.ID + "\x00" + act.bindings.Key()
	if _, ok := a.active[key]; ok {
		return
	}
	a.active[key] = struct{}{}

	at := len(a.globals)
	for i, g := range a.globals {
		if a.order[g.rule.ID] > a.order[act.rule.ID] {
			at = i
			break
		}
	}
	a.globals = append(a.globals, activation{})
	copy(a.globals[at+1:], a.globals[at:])
	a.globals[at] = act
}

func (a *agenda) pushLocal(act activation) {
	a.locals = append(a.locals, act)
}

func (a *agenda) popLocal() (activation, bool) {
	if len(a.locals) == 0 {
		return activation{}, false
	}
	act := a.locals[0]
	a.locals = a.locals[1:]
	return act, true
}

// shift moves pending local anchors past an edit.
func (a *agenda) shift(e source.Edit) {
	for i := range a.locals {
		a.locals[i].anchor = source.ShiftRange(a.locals[i].anchor, e)
	}
}

// fired reports whether a trigger rule already fired with bindings.
func (a *agenda) fired(rule string, bindings model.Bindings) bool {
	_, ok := a.consumed[rule+"\x00"+bindings.Key()]
	return ok
}

func (a *agenda) fire(rule string, bindings model.Bindings) {
	a.consumed[rule+"\x00"+bindings.Key()] = struct{}{}
}

// wasRejected reports whether a constraint already rejected the same match
// in tree revision gen.
func (a *agenda) wasRejected(gen int, key string) bool {
	if gen != a.rejectedGen {
		return false
	}
	_, ok := a.rejected[key]
	return ok
}

func (a *agenda) reject(gen int, key string) {
	if gen != a.rejectedGen {
		clear(a.rejected)
		a.rejectedGen = gen
	}
	a.rejected[key] = struct{}{}
}

func matchKey(rule string, r model.Range, bindings model.Bindings) string {
	return fmt.Sprintf("%s\x00%d:%d\x00%s", rule, r.Start, r.End, bindings.Key())
}
