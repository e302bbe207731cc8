package listener

import (
	"encoding/json"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/uuid"
	"github.com/rzbill/flolog/internal/eventlog"
)

// Filter is a compiled CEL predicate over one record. The zero Filter
// accepts everything.
//
// Variables: stream (string), epoch, global, local, size (int), text
// (string), json (parsed payload, or null).
type Filter struct {
	prog cel.Program
}

// CompileFilter compiles expr. An empty expression yields the zero Filter.
func CompileFilter(expr string) (Filter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Filter{}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("stream", cel.StringType),
		cel.Variable("epoch", cel.IntType),
		cel.Variable("global", cel.IntType),
		cel.Variable("local", cel.IntType),
		cel.Variable("size", cel.IntType),
		cel.Variable("text", cel.StringType),
		cel.Variable("json", cel.DynType),
	)
	if err != nil {
		return Filter{}, err
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return Filter{}, iss.Err()
	}
	if t := ast.OutputType(); !t.IsExactType(cel.BoolType) && !t.IsExactType(cel.DynType) {
		return Filter{}, &FilterTypeError{Expr: expr, Type: t.String()}
	}
	prog, err := env.Program(ast)
	if err != nil {
		return Filter{}, err
	}
	return Filter{prog: prog}, nil
}

// FilterTypeError is returned for expressions that cannot yield a bool.
type FilterTypeError struct {
	Expr string
	Type string
}

func (e *FilterTypeError) Error() string {
	return "listener: filter " + e.Expr + " yields " + e.Type + ", want bool"
}

// Enabled reports whether f was compiled from a non-empty expression.
func (f Filter) Enabled() bool { return f.prog != nil }

// Match evaluates f against rec stored at ts. Evaluation errors count as no
// match.
func (f Filter) Match(ts eventlog.Timestamp, stream uuid.UUID, payload []byte) bool {
	if f.prog == nil {
		return true
	}
	var doc any
	_ = json.Unmarshal(payload, &doc)
	out, _, err := f.prog.Eval(map[string]any{
		"stream": stream.String(),
		"epoch":  int64(ts.Epoch),
		"global": int64(ts.Global),
		"local":  int64(ts.Local),
		"size":   int64(len(payload)),
		"text":   string(payload),
		"json":   doc,
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
