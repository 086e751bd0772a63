// package condition evaluates stored boolean expressions against entity
// snapshots. Expressions run in a sandboxed environment that exposes a
// single name, "doc", bound to the snapshot map — no host functions and
// no mutable state are reachable from an expression.
//
// Evaluation failures never propagate: a malformed policy must not
// block entity creation, so any compile error, runtime error or
// non-boolean result is logged and treated as a non-match.
package condition

import (
	"log/slog"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/crmforge/policy-engine/pkg/logger/sl"
)

type Evaluator struct {
	log *slog.Logger
}

func NewEvaluator(log *slog.Logger) *Evaluator {
	return &Evaluator{log: log}
}

// Matches reports whether the condition holds for the snapshot. A nil
// or blank condition always matches.
func (e *Evaluator) Matches(cond *string, snapshot map[string]any) bool {
	const op = "internal.condition.Matches"

	if cond == nil || strings.TrimSpace(*cond) == "" {
		return true
	}

	env := map[string]any{"doc": snapshot}

	out, err := expr.Eval(*cond, env)
	if err != nil {
		e.log.Warn("condition evaluation failed, treating as non-match",
			slog.String("op", op),
			slog.String("condition", *cond),
			sl.Err(err),
		)

		return false
	}

	matched, ok := out.(bool)
	if !ok {
		e.log.Warn("condition returned a non-boolean result, treating as non-match",
			slog.String("op", op),
			slog.String("condition", *cond),
			slog.Any("result", out),
		)

		return false
	}

	return matched
}

// Validate compiles the condition without running it. The management
// API calls this so syntactically broken policies are rejected at
// write time; rows that predate validation still fail closed in
// Matches.
func Validate(cond *string) error {
	if cond == nil || strings.TrimSpace(*cond) == "" {
		return nil
	}

	_, err := expr.Compile(*cond, expr.Env(map[string]any{"doc": map[string]any{}}))

	return err
}
