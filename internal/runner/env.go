package runner

import (
	"sort"
	"strings"
)

// BuildEnv builds a child process environment from parent ("KEY=value"
// entries). Only keys matching an allow pattern are copied, keys matching a
// deny pattern are dropped even when allowed, and extra is applied last.
// Patterns are exact names or prefixes ending in "*".
func BuildEnv(parent, allow, deny []string, extra map[string]string) []string {
	values := map[string]string{}

	for _, kv := range parent {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			continue
		}
		if !matchAny(key, allow) || matchAny(key, deny) {
			continue
		}
		values[key] = value
	}
	for key, value := range extra {
		values[key] = value
	}

	env := make([]string, 0, len(values))
	for key, value := range values {
		env = append(env, key+"="+value)
	}
	sort.Strings(env)
	return env
}

func matchAny(key string, patterns []string) bool {
	for _, p := range patterns {
		if prefix, ok := strings.CutSuffix(p, "*"); ok {
			if strings.HasPrefix(key, prefix) {
				return true
			}
			continue
		}
		if key == p {
			return true
		}
	}
	return false
}
