package expr

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"reflect"
	"strconv"
	"sync"
)

// Env is what an expression can see: the run's variables and the last
// handler result. Identifiers starting with "result." read the result;
// every other identifier reads a variable.
type Env struct {
	Vars   map[string]any
	Result map[string]any
}

// Program is a compiled expression. It is safe for concurrent use.
type Program struct {
	src  string
	root node
}

// String returns the source text.
func (p *Program) String() string { return p.src }

// Run evaluates the program against env.
func (p *Program) Run(env *Env) (any, error) {
	if env == nil {
		env = &Env{}
	}
	return p.root.eval(env)
}

var cache sync.Map // string -> *Program

// Compile parses src, reusing a cached program when possible.
func Compile(src string) (*Program, error) {
	if p, ok := cache.Load(src); ok {
		return p.(*Program), nil
	}
	root, err := parse(src)
	if err != nil {
		return nil, err
	}
	p := &Program{src: src, root: root}
	cache.Store(src, p)
	return p, nil
}

// Eval compiles and evaluates src, returning its value.
func Eval(src string, vars, result map[string]any) (any, error) {
	p, err := Compile(src)
	if err != nil {
		return nil, err
	}
	return p.Run(&Env{Vars: vars, Result: result})
}

// Evaluator evaluates boolean conditions. Evaluation errors are logged
// and reported as false.
type Evaluator struct {
	Logger *slog.Logger
}

// NewEvaluator returns an Evaluator logging to logger, or slog.Default()
// if logger is nil.
func NewEvaluator(logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{Logger: logger}
}

// Evaluate reports whether expression holds. An empty expression is true.
func (e *Evaluator) Evaluate(expression string, vars, result map[string]any) bool {
	if expression == "" {
		return true
	}
	v, err := Eval(expression, vars, result)
	if err != nil {
		e.Logger.Warn("condition_evaluation_failed",
			slog.String("expression", expression),
			slog.Any("error", err),
		)
		return false
	}
	return Truthy(v)
}

// Evaluate is Evaluator.Evaluate with the default logger.
func Evaluate(expression string, vars, result map[string]any) bool {
	return NewEvaluator(nil).Evaluate(expression, vars, result)
}

func (l *literal) eval(*Env) (any, error) { return l.v, nil }

func (i *ident) eval(env *Env) (any, error) {
	var cur any
	path := i.path
	if path[0] == "result" && env.Result != nil {
		cur = env.Result
		path = path[1:]
	} else {
		v, ok := env.Vars[path[0]]
		if !ok {
			return nil, nil
		}
		cur = v
		path = path[1:]
	}
	for _, seg := range path {
		next, ok := Lookup(cur, seg)
		if !ok {
			return nil, nil
		}
		cur = next
	}
	return cur, nil
}

// Lookup reads a key from a map or an index from a slice.
func Lookup(v any, key string) (any, bool) {
	switch m := v.(type) {
	case map[string]any:
		x, ok := m[key]
		return x, ok
	case map[string]string:
		x, ok := m[key]
		return x, ok
	case []any:
		idx, err := strconv.Atoi(key)
		if err != nil || idx < 0 || idx >= len(m) {
			return nil, false
		}
		return m[idx], true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Map && rv.Type().Key().Kind() == reflect.String {
		x := rv.MapIndex(reflect.ValueOf(key).Convert(rv.Type().Key()))
		if !x.IsValid() {
			return nil, false
		}
		return x.Interface(), true
	}
	return nil, false
}

func (u *unary) eval(env *Env) (any, error) {
	v, err := u.operand.eval(env)
	if err != nil {
		return nil, err
	}
	switch u.op {
	case tokNot:
		return !Truthy(v), nil
	case tokMinus:
		n, ok := ToNumber(v)
		if !ok {
			return nil, fmt.Errorf("expr: cannot negate %T", v)
		}
		return -n, nil
	}
	return nil, fmt.Errorf("expr: bad unary operator")
}

func (b *binary) eval(env *Env) (any, error) {
	// Short-circuit boolean operators.
	if b.op == tokAnd || b.op == tokOr {
		l, err := b.left.eval(env)
		if err != nil {
			return nil, err
		}
		if b.op == tokAnd && !Truthy(l) {
			return false, nil
		}
		if b.op == tokOr && Truthy(l) {
			return true, nil
		}
		r, err := b.right.eval(env)
		if err != nil {
			return nil, err
		}
		return Truthy(r), nil
	}

	l, err := b.left.eval(env)
	if err != nil {
		return nil, err
	}
	r, err := b.right.eval(env)
	if err != nil {
		return nil, err
	}

	switch b.op {
	case tokEq:
		return Equal(l, r), nil
	case tokNeq:
		return !Equal(l, r), nil
	case tokLt, tokLte, tokGt, tokGte:
		c, err := Compare(l, r)
		if err != nil {
			return nil, err
		}
		switch b.op {
		case tokLt:
			return c < 0, nil
		case tokLte:
			return c <= 0, nil
		case tokGt:
			return c > 0, nil
		default:
			return c >= 0, nil
		}
	case tokPlus:
		if ls, ok := l.(string); ok {
			return ls + Stringify(r), nil
		}
		if rs, ok := r.(string); ok {
			return Stringify(l) + rs, nil
		}
		return arith(b.op, l, r)
	case tokMinus, tokStar, tokSlash, tokPercent:
		return arith(b.op, l, r)
	}
	return nil, fmt.Errorf("expr: bad binary operator")
}

var errDivideByZero = errors.New("expr: division by zero")

func arith(op tokenType, l, r any) (any, error) {
	ln, lok := ToNumber(l)
	rn, rok := ToNumber(r)
	if !lok || !rok {
		return nil, fmt.Errorf("expr: arithmetic on %T and %T", l, r)
	}
	switch op {
	case tokPlus:
		return ln + rn, nil
	case tokMinus:
		return ln - rn, nil
	case tokStar:
		return ln * rn, nil
	case tokSlash:
		if rn == 0 {
			return nil, errDivideByZero
		}
		return ln / rn, nil
	default:
		if rn == 0 {
			return nil, errDivideByZero
		}
		return math.Mod(ln, rn), nil
	}
}

// ToNumber converts numeric Go values to float64. Strings are not
// converted.
func ToNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case interface{ Float64() (float64, error) }:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// Equal is strict equality: numbers compare by value regardless of Go
// type, other values must have the same kind and value.
func Equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if an, ok := ToNumber(a); ok {
		bn, ok := ToNumber(b)
		return ok && an == bn
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	}
	return reflect.DeepEqual(a, b)
}

// Compare orders two numbers or two strings.
func Compare(a, b any) (int, error) {
	if an, ok := ToNumber(a); ok {
		if bn, ok := ToNumber(b); ok {
			switch {
			case an < bn:
				return -1, nil
			case an > bn:
				return 1, nil
			}
			return 0, nil
		}
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		switch {
		case as < bs:
			return -1, nil
		case as > bs:
			return 1, nil
		}
		return 0, nil
	}
	return 0, fmt.Errorf("expr: cannot compare %T with %T", a, b)
}

// Truthy follows the usual scripting conventions: nil, false, zero, the
// empty string and empty collections are false.
func Truthy(v any) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	if n, ok := ToNumber(v); ok {
		return n != 0 && !math.IsNaN(n)
	}
	if s, ok := v.(string); ok {
		return s != ""
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array:
		return rv.Len() > 0
	}
	return true
}

// Stringify renders a value the way interpolation and concatenation
// expect: integral floats print without a fraction.
func Stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	}
	if n, ok := ToNumber(v); ok {
		if n == math.Trunc(n) && math.Abs(n) < 1e15 {
			return strconv.FormatInt(int64(n), 10)
		}
		return strconv.FormatFloat(n, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}
