package browser

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
)

// rowFilter is a compiled CEL predicate over one row. Variables: key and
// value (string), size (int), json (parsed value, or null).
type rowFilter struct {
	prog cel.Program
}

func compileRowFilter(expr string) (rowFilter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return rowFilter{}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("key", cel.StringType),
		cel.Variable("value", cel.StringType),
		cel.Variable("size", cel.IntType),
		cel.Variable("json", cel.DynType),
	)
	if err != nil {
		return rowFilter{}, err
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return rowFilter{}, fmt.Errorf("%w: %v", ErrBadFilter, iss.Err())
	}
	if t := ast.OutputType(); !t.IsExactType(cel.BoolType) && !t.IsExactType(cel.DynType) {
		return rowFilter{}, fmt.Errorf("%w: %s yields %s", ErrBadFilter, expr, t)
	}
	prog, err := env.Program(ast)
	if err != nil {
		return rowFilter{}, err
	}
	return rowFilter{prog: prog}, nil
}

func (f rowFilter) match(key string, value []byte) bool {
	if f.prog == nil {
		return true
	}
	var doc any
	_ = json.Unmarshal(value, &doc)
	out, _, err := f.prog.Eval(map[string]any{
		"key":   key,
		"value": string(value),
		"size":  int64(len(value)),
		"json":  doc,
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
