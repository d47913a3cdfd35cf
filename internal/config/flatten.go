package config

import "strings"

var secretKeys = map[string]bool{
	"llm.api_key":    true,
	"telegram.token": true,
}

// IsSecretKey reports whether the dot-separated key holds a credential.
func IsSecretKey(key string) bool {
	return secretKeys[key]
}

// Flatten turns {"llm": {"model": "x"}} into {"llm.model": "x"}.
func Flatten(m map[string]any) map[string]any {
	out := make(map[string]any)
	var walk func(prefix string, m map[string]any)
	walk = func(prefix string, m map[string]any) {
		for k, v := range m {
			if prefix != "" {
				k = prefix + "." + k
			}
			if child, ok := v.(map[string]any); ok {
				walk(k, child)
				continue
			}
			out[k] = v
		}
	}
	walk("", m)
	return out
}

// Unflatten is the inverse of Flatten. A scalar standing where a nested key
// needs an object is replaced by one.
func Unflatten(flat map[string]any) map[string]any {
	out := make(map[string]any)
	for key, v := range flat {
		setPath(out, strings.Split(key, "."), v)
	}
	return out
}

func setPath(m map[string]any, path []string, v any) {
	for _, part := range path[:len(path)-1] {
		child, ok := m[part].(map[string]any)
		if !ok {
			child = make(map[string]any)
			m[part] = child
		}
		m = child
	}
	m[path[len(path)-1]] = v
}

// MaskSecrets copies flat, replacing non-empty secrets with "***" and their
// last four characters.
func MaskSecrets(flat map[string]any) map[string]any {
	out := make(map[string]any, len(flat))
	for k, v := range flat {
		if s, ok := v.(string); ok && s != "" && secretKeys[k] {
			v = "***" + s[max(0, len(s)-4):]
		}
		out[k] = v
	}
	return out
}
