// Package rowfilter applies an optional CEL predicate to streamed
// report rows. Expressions see two variables: `row`, a map from column
// label (unit suffix stripped) to value, and `num`, the 1-based row
// index. Compilation happens once per invocation; evaluation is
// per-row.
package rowfilter

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
)

// Predicate is a compiled row filter.
type Predicate struct {
	Expression string
	program    cel.Program
	keys       []string
}

// Compile parses and type-checks a CEL expression against the given
// column headers. The expression must evaluate to bool.
func Compile(expression string, headers []string) (*Predicate, error) {
	env, err := cel.NewEnv(
		cel.Variable("row", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("num", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("filter compile error in %q: %w", expression, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("filter %q must evaluate to bool, got %s", expression, ast.OutputType())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("filter program creation failed for %q: %w", expression, err)
	}

	keys := make([]string, len(headers))
	for i, h := range headers {
		keys[i] = stripUnit(h)
	}

	return &Predicate{
		Expression: expression,
		program:    prg,
		keys:       keys,
	}, nil
}

// stripUnit drops the ":unit" suffix so expressions address columns by
// their display label.
func stripUnit(header string) string {
	if i := strings.LastIndex(header, ":"); i >= 0 {
		return header[:i]
	}
	return header
}

// RowSource is the pull-based row stream the predicate can wrap.
type RowSource interface {
	Headers() []string
	Next() ([]any, error)
}

// Apply wraps src so that only rows matching the predicate pass
// through. Row numbering counts input rows, not surviving rows.
func (p *Predicate) Apply(src RowSource) RowSource {
	return &filteredSource{pred: p, src: src}
}

type filteredSource struct {
	pred *Predicate
	src  RowSource
	num  int64
}

func (f *filteredSource) Headers() []string { return f.src.Headers() }

func (f *filteredSource) Next() ([]any, error) {
	for {
		row, err := f.src.Next()
		if err != nil || row == nil {
			return row, err
		}
		f.num++
		keep, err := f.pred.Matches(row, f.num)
		if err != nil {
			return nil, err
		}
		if keep {
			return row, nil
		}
	}
}

// Matches evaluates the predicate for one row. num is the 1-based
// index of the row in the stream.
func (p *Predicate) Matches(values []any, num int64) (bool, error) {
	row := make(map[string]any, len(p.keys))
	for i, key := range p.keys {
		if i >= len(values) {
			break
		}
		v := values[i]
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		if v == nil {
			v = ""
		}
		row[key] = v
	}

	out, _, err := p.program.Eval(map[string]any{
		"row": row,
		"num": num,
	})
	if err != nil {
		return false, fmt.Errorf("filter evaluation failed: %w", err)
	}

	keep, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("filter %q did not yield bool", p.Expression)
	}
	return keep, nil
}
