// Package capture extracts values from JSON response bodies and evaluates
// match assertions against them. Paths use JSONPath syntax ($.foo.bar),
// converted internally to gjson format.
package capture

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// Capture binds the value at a JSONPath to a named variable.
type Capture struct {
	JSON string `yaml:"json" json:"json"`
	As   string `yaml:"as" json:"as"`
}

// Match asserts that the value at a JSONPath equals an expected value.
type Match struct {
	JSON  string `yaml:"json" json:"json"`
	Value any    `yaml:"value" json:"value"`
}

// Result is the outcome of one match assertion.
type Result struct {
	Expression string
	Expected   any
	Got        any
	OK         bool
}

// Run evaluates captures and matches against a JSON body. It returns the
// captured bindings and one Result per match assertion. A structural
// problem (invalid JSON, capture path not found) is reported as an error;
// a failed assertion is reported through its Result only.
func Run(body []byte, captures []Capture, matches []Match) (map[string]any, []Result, error) {
	if len(captures) == 0 && len(matches) == 0 {
		return nil, nil, nil
	}

	if !gjson.ValidBytes(body) {
		return nil, nil, fmt.Errorf("invalid JSON in response body")
	}

	var bindings map[string]any
	if len(captures) > 0 {
		bindings = make(map[string]any, len(captures))
		for _, c := range captures {
			value := gjson.GetBytes(body, convertJSONPath(c.JSON))
			if !value.Exists() {
				return nil, nil, fmt.Errorf("capture path %q not found", c.JSON)
			}
			bindings[c.As] = value.Value()
		}
	}

	var results []Result
	if len(matches) > 0 {
		results = make([]Result, 0, len(matches))
		for _, m := range matches {
			value := gjson.GetBytes(body, convertJSONPath(m.JSON))
			got := value.Value()
			results = append(results, Result{
				Expression: m.JSON,
				Expected:   m.Value,
				Got:        got,
				OK:         value.Exists() && Equal(m.Value, got),
			})
		}
	}

	return bindings, results, nil
}

// Equal reports whether two values are equal after JSON normalization, so
// that values decoded from different sources (YAML scripts, wire frames)
// compare by shape rather than by Go type.
func Equal(a, b any) bool {
	aj, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bj, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(aj, bj)
}

// convertJSONPath converts JSONPath syntax to gjson path format.
// $.foo.bar -> foo.bar
// $.items[0].id -> items.0.id
// $.data[*].name -> data.#.name
func convertJSONPath(path string) string {
	if strings.HasPrefix(path, "$.") {
		path = path[2:]
	} else if strings.HasPrefix(path, "$") {
		path = path[1:]
	}

	var result strings.Builder
	i := 0
	for i < len(path) {
		if path[i] == '[' {
			j := i + 1
			for j < len(path) && path[j] != ']' {
				j++
			}
			if j < len(path) {
				content := path[i+1 : j]
				if content == "*" {
					result.WriteString(".#")
				} else {
					result.WriteByte('.')
					result.WriteString(content)
				}
				i = j + 1
				continue
			}
		}
		result.WriteByte(path[i])
		i++
	}

	return result.String()
}
