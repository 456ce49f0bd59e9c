package handlers

import (
	"context"
	"reflect"
	"strings"

	"github.com/petrijr/chatflow/internal/expr"
	"github.com/petrijr/chatflow/pkg/api"
)

// ConditionHandler evaluates an ordered list of clauses:
//
//	{variable, operator, value, result}
//
// The first clause whose comparison holds determines the result. A clause
// marked {default: true} (or with neither variable nor operator) applies
// when nothing earlier matched. A scalar result becomes {choice: result}.
// If outputVariable is configured, the choice is stored there.
type ConditionHandler struct{}

func (*ConditionHandler) Type() api.NodeType { return api.NodeCondition }

func (*ConditionHandler) Execute(ctx context.Context, graph *api.GraphDefinition, node *api.Node, ec *api.ExecutionContext) (api.Result, error) {
	c := configOf(node)

	var (
		chosen     any
		matched    bool
		defaultRes any
		hasDefault bool
	)
	for _, raw := range c.list("conditions", "clauses") {
		clause := asMap(raw)
		if clause == nil {
			continue
		}
		op, _ := clause["operator"].(string)
		variable, _ := clause["variable"].(string)
		if isDefault, _ := clause["default"].(bool); isDefault || (op == "" && variable == "") {
			if !hasDefault {
				defaultRes, hasDefault = clause["result"], true
			}
			continue
		}

		actual, _ := lookupPath(ec.Variables, variable)
		ok, err := Compare(op, actual, clause["value"])
		if err != nil {
			return nil, err
		}
		if ok {
			chosen, matched = clause["result"], true
			break
		}
	}

	if !matched {
		if !hasDefault {
			return api.Result{}, nil
		}
		chosen = defaultRes
	}

	res := toResult(chosen)
	if out := c.str("outputVariable"); out != "" {
		choice, _ := res.Choice()
		ec.Set(out, choice)
	}
	return res, nil
}

func toResult(v any) api.Result {
	if m := asMap(v); m != nil {
		res := make(api.Result, len(m))
		for k, val := range m {
			res[k] = val
		}
		return res
	}
	return api.Result{"choice": v}
}

// Compare applies one of the condition operators. Unknown operators yield
// a permanent *api.UnknownOperatorError.
func Compare(op string, actual, expected any) (bool, error) {
	switch op {
	case "equals":
		return looseEqual(actual, expected), nil
	case "not_equals":
		return !looseEqual(actual, expected), nil
	case "contains":
		return contains(actual, expected), nil
	case "not_contains":
		return !contains(actual, expected), nil
	case "greater_than":
		a, aok := toFloat(actual)
		b, bok := toFloat(expected)
		return aok && bok && a > b, nil
	case "less_than":
		a, aok := toFloat(actual)
		b, bok := toFloat(expected)
		return aok && bok && a < b, nil
	case "is_empty":
		return isEmpty(actual), nil
	case "is_not_empty":
		return !isEmpty(actual), nil
	}
	return false, api.Permanent(&api.UnknownOperatorError{Operator: op})
}

// looseEqual treats "25" and 25 as equal, matching how chat input arrives
// as text while graph authors write numbers.
func looseEqual(a, b any) bool {
	if expr.Equal(a, b) {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			return af == bf
		}
	}
	return expr.Stringify(a) == expr.Stringify(b)
}

func contains(haystack, needle any) bool {
	switch h := haystack.(type) {
	case nil:
		return false
	case string:
		return strings.Contains(h, expr.Stringify(needle))
	case []any:
		for _, item := range h {
			if looseEqual(item, needle) {
				return true
			}
		}
		return false
	case map[string]any:
		_, ok := h[expr.Stringify(needle)]
		return ok
	}
	return strings.Contains(expr.Stringify(haystack), expr.Stringify(needle))
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array:
		return rv.Len() == 0
	}
	return false
}
