// Package filter decides which upstream mutations are replicated, using a CEL
// expression over the record's routing fields.
package filter

import (
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/google/cel-go/cel"

	"github.com/rzbill/kvbridge/internal/mutation"
)

// Filter wraps a compiled CEL program. The zero value matches everything.
type Filter struct {
	prog cel.Program
	expr string
}

// New compiles expr. An empty expression yields a filter that matches all
// records. The expression must evaluate to a bool over:
//
//	namespace string, key string, type string, op string, position int, ts_ms int
func New(expr string) (Filter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Filter{}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("namespace", cel.StringType),
		cel.Variable("key", cel.StringType),
		cel.Variable("type", cel.StringType),
		cel.Variable("op", cel.StringType),
		cel.Variable("position", cel.IntType),
		cel.Variable("ts_ms", cel.IntType),
	)
	if err != nil {
		return Filter{}, errors.Wrap(err, "filter env")
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return Filter{}, errors.Wrapf(iss.Err(), "compile filter %q", expr)
	}
	if ast.OutputType().String() != cel.BoolType.String() {
		return Filter{}, errors.Newf("filter %q must evaluate to bool, got %s", expr, ast.OutputType())
	}
	prog, err := env.Program(ast)
	if err != nil {
		return Filter{}, errors.Wrap(err, "filter program")
	}
	return Filter{prog: prog, expr: expr}, nil
}

// Enabled reports whether an expression was configured.
func (f Filter) Enabled() bool { return f.prog != nil }

func (f Filter) String() string { return f.expr }

// Match evaluates the filter against r. Evaluation errors (for example a
// missing map key in the expression) are returned with a true result so the
// caller can replicate the record and report the error.
func (f Filter) Match(r mutation.Record) (bool, error) {
	if f.prog == nil {
		return true, nil
	}
	var ts int64
	if !r.Timestamp.IsZero() {
		ts = r.Timestamp.UnixMilli()
	}
	out, _, err := f.prog.Eval(map[string]any{
		"namespace": r.Namespace,
		"key":       string(r.Key),
		"type":      r.Type.String(),
		"op":        r.Op.String(),
		"position":  int64(r.Position),
		"ts_ms":     ts,
	})
	if err != nil {
		return true, errors.Wrapf(err, "evaluate filter at position %d", r.Position)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return true, errors.Newf("filter returned %T", out.Value())
	}
	return b, nil
}
