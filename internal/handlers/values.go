package handlers

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/petrijr/chatflow/internal/expr"
	"github.com/petrijr/chatflow/pkg/api"
)

// cfg wraps a node's free-form configuration with typed accessors.
type cfg map[string]any

func configOf(node *api.Node) cfg {
	if node.Config == nil {
		return cfg{}
	}
	return cfg(node.Config)
}

// str returns the first non-empty string among keys.
func (c cfg) str(keys ...string) string {
	for _, k := range keys {
		if v, ok := c[k]; ok && v != nil {
			s := expr.Stringify(v)
			if s != "" {
				return s
			}
		}
	}
	return ""
}

func (c cfg) boolean(key string) bool {
	switch v := c[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	}
	return false
}

func (c cfg) number(key string) (float64, bool) {
	return toFloat(c[key])
}

func (c cfg) list(keys ...string) []any {
	for _, k := range keys {
		if l, ok := c[k].([]any); ok {
			return l
		}
		// Typed slices arrive from Go callers building graphs in code.
		if l, ok := c[k].([]map[string]any); ok {
			out := make([]any, len(l))
			for i := range l {
				out[i] = l[i]
			}
			return out
		}
	}
	return nil
}

func (c cfg) object(key string) map[string]any {
	return asMap(c[key])
}

func asMap(v any) map[string]any {
	switch m := v.(type) {
	case map[string]any:
		return m
	case api.Result:
		return m
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[expr.Stringify(k)] = val
		}
		return out
	}
	return nil
}

// toFloat converts numbers and numeric strings.
func toFloat(v any) (float64, bool) {
	if n, ok := expr.ToNumber(v); ok {
		return n, true
	}
	if s, ok := v.(string); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err == nil {
			return f, true
		}
	}
	return 0, false
}

var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z_$][\w$.-]*)\s*\}\}`)

// Interpolate replaces {{name}} and {{a.b}} placeholders with variable
// values. Unknown placeholders are left as they are.
func Interpolate(text string, vars map[string]any) string {
	if !strings.Contains(text, "{{") {
		return text
	}
	return placeholderRe.ReplaceAllStringFunc(text, func(m string) string {
		key := placeholderRe.FindStringSubmatch(m)[1]
		v, ok := lookupPath(vars, key)
		if !ok {
			return m
		}
		return expr.Stringify(v)
	})
}

// interpolateValue walks maps and slices, interpolating every string.
func interpolateValue(v any, vars map[string]any) any {
	switch x := v.(type) {
	case string:
		return Interpolate(x, vars)
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = interpolateValue(val, vars)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = interpolateValue(val, vars)
		}
		return out
	}
	return v
}

func lookupPath(vars map[string]any, path string) (any, bool) {
	if v, ok := vars[path]; ok {
		return v, true
	}
	parts := strings.Split(path, ".")
	cur, ok := vars[parts[0]]
	if !ok {
		return nil, false
	}
	for _, p := range parts[1:] {
		cur, ok = expr.Lookup(cur, p)
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// targetOf picks the message recipient: explicit config first, then the
// conversation, then the contact.
func targetOf(c cfg, ec *api.ExecutionContext) string {
	if t := c.str("targetId", "to"); t != "" {
		return Interpolate(t, ec.Variables)
	}
	if ec.ConversationID != "" {
		return ec.ConversationID
	}
	return ec.ContactID
}
