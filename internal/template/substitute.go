// Package template provides variable substitution for scenario scripts.
// Placeholders use ${var}, ${env:VAR} and built-in function forms such as
// ${uuid()}; substitution applies to plain strings and, via Any, to whole
// payload structures.
package template

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// varPattern matches ${var}, ${env:VAR} and ${fn(args)} placeholders.
var varPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// exactPattern matches strings that consist of exactly one placeholder,
// used by Any to preserve the variable's type.
var exactPattern = regexp.MustCompile(`^\$\{([^}]+)\}$`)

// Substitute replaces ${var}, ${env:VAR} and ${fn(args)} placeholders in text.
// Returns all errors joined if multiple placeholders fail to resolve.
// If text contains no placeholders, it is returned unchanged (fast path).
func Substitute(text string, vars map[string]any) (string, error) {
	// Fast path: no placeholders
	if !strings.Contains(text, "${") {
		return text, nil
	}

	var errs []error
	result := varPattern.ReplaceAllStringFunc(text, func(match string) string {
		name := match[2 : len(match)-1] // content between ${ and }

		val, err := resolve(name, vars)
		if err != nil {
			errs = append(errs, err)
			return match
		}
		return fmt.Sprintf("%v", val)
	})

	if len(errs) > 0 {
		return "", errors.Join(errs...)
	}
	return result, nil
}

// resolve evaluates a single placeholder expression against vars, the
// environment, or the built-in function table.
func resolve(name string, vars map[string]any) (any, error) {
	// Built-in functions
	if result, ok, err := evalFunction(name); ok || err != nil {
		if err != nil {
			return nil, err
		}
		return result, nil
	}

	// Environment variables
	if strings.HasPrefix(name, "env:") {
		envName := name[4:]
		if val, ok := os.LookupEnv(envName); ok {
			return val, nil
		}
		return nil, fmt.Errorf("env var %q not set", envName)
	}

	// Script variables
	if val, ok := vars[name]; ok {
		return val, nil
	}
	return nil, fmt.Errorf("variable %q not found", name)
}

// SubstituteMap applies substitution to all values in a string map.
// Returns all errors joined if any substitution fails.
func SubstituteMap(m map[string]string, vars map[string]any) (map[string]string, error) {
	if m == nil {
		return nil, nil
	}

	result := make(map[string]string, len(m))
	var errs []error

	for k, v := range m {
		substituted, err := Substitute(v, vars)
		if err != nil {
			errs = append(errs, fmt.Errorf("key %q: %w", k, err))
			continue
		}
		result[k] = substituted
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return result, nil
}

// Any applies substitution recursively to strings nested in maps and slices.
// A string consisting of exactly one placeholder resolves to the variable's
// raw value, preserving its type; any other string is substituted textually.
// Non-string leaves are returned unchanged.
func Any(v any, vars map[string]any) (any, error) {
	switch t := v.(type) {
	case string:
		if m := exactPattern.FindStringSubmatch(t); m != nil {
			return resolve(m[1], vars)
		}
		return Substitute(t, vars)
	case map[string]any:
		result := make(map[string]any, len(t))
		var errs []error
		for k, val := range t {
			sub, err := Any(val, vars)
			if err != nil {
				errs = append(errs, fmt.Errorf("key %q: %w", k, err))
				continue
			}
			result[k] = sub
		}
		if len(errs) > 0 {
			return nil, errors.Join(errs...)
		}
		return result, nil
	case []any:
		result := make([]any, len(t))
		for i, val := range t {
			sub, err := Any(val, vars)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			result[i] = sub
		}
		return result, nil
	default:
		return v, nil
	}
}
