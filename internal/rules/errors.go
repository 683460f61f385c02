package rules

import (
	"errors"
	"fmt"

	"github.com/phobologic/prune/internal/query"
	"github.com/phobologic/prune/internal/tags"
)

// QueryCompilationError reports a rule or constraint query that is not a
// valid structural pattern. It is fatal for the rule.
type QueryCompilationError struct {
	RuleID string
	Query  string
	Err    error
}

func (e *QueryCompilationError) Error() string {
	return fmt.Sprintf("rule %q: invalid query %q: %v", e.RuleID, e.Query, e.Err)
}

func (e *QueryCompilationError) Unwrap() error {
	return e.Err
}

// UnboundTagError reports a template or query hole with no binding at
// substitution time.
type UnboundTagError struct {
	RuleID string
	Hole   string
}

func (e *UnboundTagError) Error() string {
	return fmt.Sprintf("rule %q: unbound hole :[%s]", e.RuleID, e.Hole)
}

// attribute tags a query or substitution failure with the rule it belongs to.
func attribute(ruleID string, err error) error {
	var ce *query.CompileError
	if errors.As(err, &ce) {
		return &QueryCompilationError{RuleID: ruleID, Query: ce.Query, Err: ce.Err}
	}
	var ue *tags.UnboundError
	if errors.As(err, &ue) {
		return &UnboundTagError{RuleID: ruleID, Hole: ue.Hole}
	}
	return err
}
