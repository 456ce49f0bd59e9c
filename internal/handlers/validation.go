package handlers

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/petrijr/chatflow/internal/expr"
	"github.com/petrijr/chatflow/pkg/api"
)

var (
	emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	phoneRe = regexp.MustCompile(`^\+?[0-9][0-9\s().-]{6,}$`)
)

// ValidationHandler checks variables against a list of rules and records
// the outcome.
//
// Config: rules: [{variable, type, value, message}], failOnError,
// stopOnFirstError, resultVariable (default "validationResult").
//
// Rule types: required, email, phone, minLength, maxLength, regex. With
// failOnError an invalid input fails the node.
type ValidationHandler struct{}

func (*ValidationHandler) Type() api.NodeType { return api.NodeValidation }

func (*ValidationHandler) Execute(ctx context.Context, graph *api.GraphDefinition, node *api.Node, ec *api.ExecutionContext) (api.Result, error) {
	c := configOf(node)
	rules := c.list("rules", "validations")

	var errs []any
	results := make([]any, 0, len(rules))
	for _, raw := range rules {
		r := cfg(asMap(raw))
		name := r.str("variable", "field")
		value, _ := lookupPath(ec.Variables, name)

		ok, err := checkRule(r.str("type", "rule"), r, value)
		if err != nil {
			return nil, configError(node, "rule for %q: %v", name, err)
		}
		entry := map[string]any{"variable": name, "type": r.str("type", "rule"), "valid": ok}
		if !ok {
			msg := r.str("message")
			if msg == "" {
				msg = fmt.Sprintf("%s failed %s validation", name, r.str("type", "rule"))
			}
			entry["message"] = msg
			errs = append(errs, msg)
		}
		results = append(results, entry)
		if !ok && c.boolean("stopOnFirstError") {
			break
		}
	}

	if errs == nil {
		errs = []any{}
	}
	out := api.Result{"valid": len(errs) == 0, "errors": errs, "results": results}

	name := c.str("resultVariable")
	if name == "" {
		name = "validationResult"
	}
	ec.Set(name, map[string]any{"valid": out["valid"], "errors": errs})

	if len(errs) > 0 && c.boolean("failOnError") {
		return nil, fmt.Errorf("validation failed: %s", expr.Stringify(errs[0]))
	}
	return out, nil
}

func checkRule(kind string, r cfg, value any) (bool, error) {
	s := ""
	if value != nil {
		s = expr.Stringify(value)
	}
	switch kind {
	case "required":
		return !isEmpty(value), nil
	case "email":
		return s == "" || emailRe.MatchString(s), nil
	case "phone":
		return s == "" || phoneRe.MatchString(s), nil
	case "minLength":
		n, ok := r.number("value")
		if !ok {
			return false, fmt.Errorf("minLength needs a numeric value")
		}
		return utf8.RuneCountInString(s) >= int(n), nil
	case "maxLength":
		n, ok := r.number("value")
		if !ok {
			return false, fmt.Errorf("maxLength needs a numeric value")
		}
		return utf8.RuneCountInString(s) <= int(n), nil
	case "regex", "pattern":
		pattern := r.str("value", "pattern")
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false, err
		}
		return re.MatchString(s), nil
	}
	return false, fmt.Errorf("unknown rule type %q", strings.TrimSpace(kind))
}
