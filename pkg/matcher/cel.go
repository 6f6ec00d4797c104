package matcher

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
)

// CELMatcher evaluates a compiled CEL expression against each document. The
// expression sees the document as parsed JSON (`json`), its raw size
// (`size`), and a caller-supplied header map (`headers`); it must evaluate
// to a bool.
type CELMatcher struct {
	expr    string
	headers map[string]string
	prog    cel.Program
}

// NewCELMatcher compiles expr once. headers is attached to every evaluation
// as the `headers` variable; pass nil for none.
func NewCELMatcher(expr string, headers map[string]string) (*CELMatcher, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("matcher: empty CEL expression")
	}
	env, err := cel.NewEnv(
		cel.Variable("json", cel.DynType),
		cel.Variable("size", cel.IntType),
		cel.Variable("headers", cel.MapType(cel.StringType, cel.StringType)),
	)
	if err != nil {
		return nil, err
	}
	ast, iss := env.Parse(expr)
	if iss != nil && iss.Err() != nil {
		return nil, iss.Err()
	}
	checked, iss2 := env.Check(ast)
	if iss2 != nil && iss2.Err() != nil {
		return nil, iss2.Err()
	}
	prog, err := env.Program(checked)
	if err != nil {
		return nil, err
	}
	if headers == nil {
		headers = map[string]string{}
	}
	return &CELMatcher{expr: expr, headers: headers, prog: prog}, nil
}

// Expression returns the compiled source, suitable for storing as an
// index's metadata fingerprint.
func (m *CELMatcher) Expression() string { return m.expr }

// Match implements Matcher.
func (m *CELMatcher) Match(doc []byte) (bool, error) {
	var parsed any
	_ = json.Unmarshal(doc, &parsed)

	out, _, err := m.prog.Eval(map[string]any{
		"json":    parsed,
		"size":    int64(len(doc)),
		"headers": m.headers,
	})
	if err != nil {
		return false, fmt.Errorf("matcher: eval %q: %w", m.expr, err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("matcher: expression %q did not evaluate to bool", m.expr)
	}
	return b, nil
}
