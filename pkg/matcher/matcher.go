// Package matcher defines the document predicate a Storage index uses to
// decide whether a written document should be fanned out into that index.
package matcher

// Matcher decides whether doc should be indexed. Implementations must be
// safe for concurrent use; Storage may invoke the same Matcher from its
// single writer path repeatedly but callers should not assume otherwise.
type Matcher interface {
	Match(doc []byte) (bool, error)
}

// MatcherFunc adapts a plain function to a Matcher.
type MatcherFunc func(doc []byte) (bool, error)

// Match calls f.
func (f MatcherFunc) Match(doc []byte) (bool, error) { return f(doc) }

// All is a Matcher that accepts every document.
var All Matcher = MatcherFunc(func(doc []byte) (bool, error) { return true, nil })
