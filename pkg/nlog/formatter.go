package nlog

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// JSONFormatter renders an Entry as a single JSON object per line.
type JSONFormatter struct{}

func (JSONFormatter) Format(e *Entry) ([]byte, error) {
	out := make(map[string]any, len(e.Fields)+2)
	for k, v := range e.Fields {
		out[k] = v
	}
	out["level"] = e.Level.String()
	out["msg"] = e.Message
	b, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("nlog: marshal entry: %w", err)
	}
	return append(b, '\n'), nil
}

// TextFormatter renders an Entry as "LEVEL msg key=value ...".
type TextFormatter struct{}

func (TextFormatter) Format(e *Entry) ([]byte, error) {
	var b strings.Builder
	b.WriteString(e.Level.String())
	b.WriteByte(' ')
	b.WriteString(e.Message)

	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, e.Fields[k])
	}
	b.WriteByte('\n')
	return []byte(b.String()), nil
}
