package expressions

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/batonflow/baton/pkg/schema"
)

// PathEngine implements the Engine interface with the restricted grammar
// used by transform and condition steps. It is deliberately not a
// general-purpose language: no function calls, no assignments, no loops.
//
// Supported forms:
//   - dotted paths rooted at "input" or a completed step id:
//     input.user.name, plan.tasks.0.title, review.items.length
//   - literals: numbers, 'single' or "double" quoted strings, true, false, null
//   - comparisons: == != > < >= <=
//   - arithmetic: + - * / (+ also concatenates two strings)
//   - boolean connectives: && || ! (operands must be booleans; short-circuit)
//   - parentheses for grouping
//
// The "length" path segment resolves to the element count of an array, the
// key count of an object, or the rune count of a string, unless the object
// itself carries a "length" key.
//
// Thread-safe: parsed expression trees are cached and reused across goroutines.
type PathEngine struct {
	mu    sync.RWMutex
	cache map[string]node
}

// NewPathEngine creates a new restricted-grammar expression engine.
func NewPathEngine() *PathEngine {
	return &PathEngine{
		cache: make(map[string]node),
	}
}

// Name returns the engine identifier.
func (e *PathEngine) Name() string {
	return "path"
}

// Evaluate parses (or retrieves from cache) an expression and evaluates it
// against the provided data. The data map keys are the path roots: "input"
// plus one key per completed step holding that step's result data.
//
// An unresolved path is an evaluation error, not a nil value. Callers that
// want fallback behavior should use ResolvePath and handle the error.
func (e *PathEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	if strings.TrimSpace(expression) == "" {
		return nil, schema.NewError(schema.ErrCodeExpression, "empty expression")
	}

	root, err := e.getOrParse(expression)
	if err != nil {
		return nil, err
	}

	if data == nil {
		data = map[string]any{}
	}

	out, err := root.eval(data)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExpression,
			"evaluate %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}
	return out, nil
}

// EvaluateBool is Evaluate with a strict boolean requirement on the result.
// Condition steps use this: a non-boolean outcome is an evaluation error.
func (e *PathEngine) EvaluateBool(ctx context.Context, expression string, data map[string]any) (bool, error) {
	out, err := e.Evaluate(ctx, expression, data)
	if err != nil {
		return false, err
	}
	b, ok := out.(bool)
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeExpression,
			"condition %q evaluated to %T, expected a boolean", expression, out).
			WithDetails(map[string]any{"expression": expression, "value": out})
	}
	return b, nil
}

// getOrParse returns a cached expression tree or parses and caches a new one.
func (e *PathEngine) getOrParse(expression string) (node, error) {
	e.mu.RLock()
	if n, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return n, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	// Double-check after acquiring write lock.
	if n, ok := e.cache[expression]; ok {
		return n, nil
	}

	toks, err := lex(expression)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExpression,
			"parse %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}
	if len(toks) == 0 {
		return nil, schema.NewError(schema.ErrCodeExpression, "empty expression")
	}

	p := &parser{toks: toks}
	n, err := p.parseOr()
	if err == nil && p.pos < len(p.toks) {
		err = fmt.Errorf("unexpected token %q", p.toks[p.pos].text)
	}
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExpression,
			"parse %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	e.cache[expression] = n
	return n, nil
}

// ResolvePath resolves a bare dotted path against the scope, bypassing the
// expression parser. Step input references use this directly.
func ResolvePath(path string, scope map[string]any) (any, error) {
	segments := strings.Split(path, ".")
	for _, seg := range segments {
		if seg == "" {
			return nil, schema.NewErrorf(schema.ErrCodeExpression, "malformed path %q", path)
		}
	}
	n := &pathNode{raw: path, segments: segments}
	out, err := n.eval(scope)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExpression,
			"resolve %q: %s", path, err.Error()).WithCause(err)
	}
	return out, nil
}

// --- Lexer ---

type lexKind int

const (
	lexNumber lexKind = iota // 42, 0.8
	lexString                // 'hello', "hello"
	lexWord                  // path segments, true, false, null
	lexOp                    // == != > < >= <= && || ! + - * /
	lexLParen                // (
	lexRParen                // )
)

type lexeme struct {
	kind lexKind
	text string
}

func lex(expression string) ([]lexeme, error) {
	var toks []lexeme
	runes := []rune(expression)
	i := 0

	for i < len(runes) {
		ch := runes[i]

		if unicode.IsSpace(ch) {
			i++
			continue
		}

		if ch == '(' {
			toks = append(toks, lexeme{lexLParen, "("})
			i++
			continue
		}
		if ch == ')' {
			toks = append(toks, lexeme{lexRParen, ")"})
			i++
			continue
		}

		if ch == '\'' || ch == '"' {
			s, next, err := readQuoted(runes, i)
			if err != nil {
				return nil, err
			}
			toks = append(toks, lexeme{lexString, s})
			i = next
			continue
		}

		if i+1 < len(runes) {
			two := string(runes[i : i+2])
			switch two {
			case "==", "!=", ">=", "<=", "&&", "||":
				toks = append(toks, lexeme{lexOp, two})
				i += 2
				continue
			}
		}

		switch ch {
		case '>', '<', '!', '+', '-', '*', '/':
			toks = append(toks, lexeme{lexOp, string(ch)})
			i++
			continue
		}

		if isDigit(ch) {
			text, next := readNumber(runes, i)
			toks = append(toks, lexeme{lexNumber, text})
			i = next
			continue
		}

		if isWordStart(ch) {
			text, next := readWord(runes, i)
			toks = append(toks, lexeme{lexWord, text})
			i = next
			continue
		}

		return nil, fmt.Errorf("unexpected character %q at position %d", string(ch), i)
	}

	return toks, nil
}

func readQuoted(runes []rune, start int) (string, int, error) {
	quote := runes[start]
	i := start + 1
	var sb strings.Builder
	for i < len(runes) {
		if runes[i] == '\\' && i+1 < len(runes) {
			sb.WriteRune(runes[i+1])
			i += 2
			continue
		}
		if runes[i] == quote {
			return sb.String(), i + 1, nil
		}
		sb.WriteRune(runes[i])
		i++
	}
	return "", 0, fmt.Errorf("unterminated string starting at position %d", start)
}

func readNumber(runes []rune, start int) (string, int) {
	i := start
	for i < len(runes) && isDigit(runes[i]) {
		i++
	}
	if i < len(runes) && runes[i] == '.' && i+1 < len(runes) && isDigit(runes[i+1]) {
		i++
		for i < len(runes) && isDigit(runes[i]) {
			i++
		}
	}
	return string(runes[start:i]), i
}

func readWord(runes []rune, start int) (string, int) {
	i := start
	for i < len(runes) && isWordPart(runes[i]) {
		i++
	}
	return string(runes[start:i]), i
}

func isDigit(ch rune) bool     { return ch >= '0' && ch <= '9' }
func isWordStart(ch rune) bool { return unicode.IsLetter(ch) || ch == '_' }
func isWordPart(ch rune) bool {
	return unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_' || ch == '.'
}

// --- Parser ---
//
// Precedence, loosest to tightest:
//   or > and > comparison > sum > product > unary > primary
// Comparisons do not chain: a < b < c is a parse error.

type parser struct {
	toks []lexeme
	pos  int
}

func (p *parser) peek() *lexeme {
	if p.pos < len(p.toks) {
		return &p.toks[p.pos]
	}
	return nil
}

func (p *parser) advance() lexeme {
	t := p.toks[p.pos]
	p.pos++
	return t
}

func (p *parser) peekOp(ops ...string) bool {
	t := p.peek()
	if t == nil || t.kind != lexOp {
		return false
	}
	for _, op := range ops {
		if t.text == op {
			return true
		}
	}
	return false
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peekOp("||") {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: "||", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseCompare()
	if err != nil {
		return nil, err
	}
	for p.peekOp("&&") {
		p.advance()
		right, err := p.parseCompare()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: "&&", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseCompare() (node, error) {
	left, err := p.parseSum()
	if err != nil {
		return nil, err
	}
	if p.peekOp("==", "!=", ">", "<", ">=", "<=") {
		op := p.advance().text
		right, err := p.parseSum()
		if err != nil {
			return nil, err
		}
		return &binaryNode{op: op, left: left, right: right}, nil
	}
	return left, nil
}

func (p *parser) parseSum() (node, error) {
	left, err := p.parseProduct()
	if err != nil {
		return nil, err
	}
	for p.peekOp("+", "-") {
		op := p.advance().text
		right, err := p.parseProduct()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: op, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseProduct() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.peekOp("*", "/") {
		op := p.advance().text
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: op, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (node, error) {
	if p.peekOp("!", "-") {
		op := p.advance().text
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &unaryNode{op: op, operand: operand}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (node, error) {
	t := p.peek()
	if t == nil {
		return nil, fmt.Errorf("unexpected end of expression")
	}

	switch t.kind {
	case lexNumber:
		p.advance()
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", t.text)
		}
		return &litNode{value: f}, nil

	case lexString:
		p.advance()
		return &litNode{value: t.text}, nil

	case lexWord:
		p.advance()
		switch t.text {
		case "true":
			return &litNode{value: true}, nil
		case "false":
			return &litNode{value: false}, nil
		case "null":
			return &litNode{value: nil}, nil
		}
		segments := strings.Split(t.text, ".")
		for _, seg := range segments {
			if seg == "" {
				return nil, fmt.Errorf("malformed path %q", t.text)
			}
		}
		return &pathNode{raw: t.text, segments: segments}, nil

	case lexLParen:
		p.advance()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.peek() == nil || p.peek().kind != lexRParen {
			return nil, fmt.Errorf("expected closing parenthesis")
		}
		p.advance()
		return inner, nil

	default:
		return nil, fmt.Errorf("unexpected token %q", t.text)
	}
}

// --- Expression tree ---

type node interface {
	eval(scope map[string]any) (any, error)
}

type litNode struct {
	value any
}

func (n *litNode) eval(map[string]any) (any, error) {
	return n.value, nil
}

type pathNode struct {
	raw      string
	segments []string
}

func (n *pathNode) eval(scope map[string]any) (any, error) {
	root := n.segments[0]
	current, ok := scope[root]
	if !ok {
		return nil, fmt.Errorf(
			"unknown root %q: paths start with 'input' or a completed step id", root)
	}

	for _, seg := range n.segments[1:] {
		switch v := current.(type) {
		case map[string]any:
			if val, found := v[seg]; found {
				current = val
				continue
			}
			if seg == "length" {
				current = len(v)
				continue
			}
			return nil, fmt.Errorf("field %q not found in path %q", seg, n.raw)

		case []any:
			if seg == "length" {
				current = len(v)
				continue
			}
			idx, err := strconv.Atoi(seg)
			if err != nil {
				return nil, fmt.Errorf(
					"segment %q in path %q must be an array index or 'length'", seg, n.raw)
			}
			if idx < 0 || idx >= len(v) {
				return nil, fmt.Errorf(
					"index %d out of range in path %q (array has %d elements)", idx, n.raw, len(v))
			}
			current = v[idx]

		case string:
			if seg == "length" {
				current = utf8.RuneCountInString(v)
				continue
			}
			return nil, fmt.Errorf("cannot access field %q on a string in path %q", seg, n.raw)

		default:
			return nil, fmt.Errorf(
				"cannot access field %q on %T in path %q", seg, current, n.raw)
		}
	}

	return current, nil
}

type unaryNode struct {
	op      string
	operand node
}

func (n *unaryNode) eval(scope map[string]any) (any, error) {
	val, err := n.operand.eval(scope)
	if err != nil {
		return nil, err
	}
	switch n.op {
	case "!":
		b, ok := val.(bool)
		if !ok {
			return nil, fmt.Errorf("operator ! requires a boolean operand, got %T", val)
		}
		return !b, nil
	case "-":
		f, ok := asNumber(val)
		if !ok {
			return nil, fmt.Errorf("operator - requires a numeric operand, got %T", val)
		}
		return -f, nil
	}
	return nil, fmt.Errorf("unknown unary operator %q", n.op)
}

type binaryNode struct {
	op          string
	left, right node
}

func (n *binaryNode) eval(scope map[string]any) (any, error) {
	// Boolean connectives short-circuit: the right side is not evaluated
	// (and cannot fail on an unresolved path) when the left side decides.
	if n.op == "&&" || n.op == "||" {
		lb, err := n.evalBool(n.left, scope)
		if err != nil {
			return nil, err
		}
		if n.op == "&&" && !lb {
			return false, nil
		}
		if n.op == "||" && lb {
			return true, nil
		}
		return n.evalBool(n.right, scope)
	}

	left, err := n.left.eval(scope)
	if err != nil {
		return nil, err
	}
	right, err := n.right.eval(scope)
	if err != nil {
		return nil, err
	}

	switch n.op {
	case "==":
		eq, err := equals(left, right)
		return eq, err
	case "!=":
		eq, err := equals(left, right)
		return !eq, err
	case ">", "<", ">=", "<=":
		return ordered(left, n.op, right)
	case "+", "-", "*", "/":
		return arithmetic(left, n.op, right)
	}
	return nil, fmt.Errorf("unknown operator %q", n.op)
}

func (n *binaryNode) evalBool(operand node, scope map[string]any) (bool, error) {
	val, err := operand.eval(scope)
	if err != nil {
		return false, err
	}
	b, ok := val.(bool)
	if !ok {
		return false, fmt.Errorf("operator %s requires boolean operands, got %T", n.op, val)
	}
	return b, nil
}

// --- Operator semantics ---

// equals compares two scalar values. Numbers compare across numeric types,
// mismatched scalar kinds are unequal, and composites are not comparable.
func equals(left, right any) (bool, error) {
	if isComposite(left) || isComposite(right) {
		return false, fmt.Errorf("cannot compare arrays or objects with ==")
	}
	if left == nil || right == nil {
		return left == nil && right == nil, nil
	}
	if lf, lok := asNumber(left); lok {
		if rf, rok := asNumber(right); rok {
			return lf == rf, nil
		}
		return false, nil
	}
	switch l := left.(type) {
	case string:
		r, ok := right.(string)
		return ok && l == r, nil
	case bool:
		r, ok := right.(bool)
		return ok && l == r, nil
	}
	return false, fmt.Errorf("cannot compare %T with ==", left)
}

// ordered compares two numbers or two strings.
func ordered(left any, op string, right any) (bool, error) {
	if lf, lok := asNumber(left); lok {
		if rf, rok := asNumber(right); rok {
			switch op {
			case ">":
				return lf > rf, nil
			case "<":
				return lf < rf, nil
			case ">=":
				return lf >= rf, nil
			case "<=":
				return lf <= rf, nil
			}
		}
	}
	if ls, lok := left.(string); lok {
		if rs, rok := right.(string); rok {
			switch op {
			case ">":
				return ls > rs, nil
			case "<":
				return ls < rs, nil
			case ">=":
				return ls >= rs, nil
			case "<=":
				return ls <= rs, nil
			}
		}
	}
	return false, fmt.Errorf("operator %s requires two numbers or two strings, got %T and %T",
		op, left, right)
}

// arithmetic applies + - * / to two numbers; + also concatenates two strings.
func arithmetic(left any, op string, right any) (any, error) {
	if op == "+" {
		if ls, lok := left.(string); lok {
			if rs, rok := right.(string); rok {
				return ls + rs, nil
			}
		}
	}

	lf, lok := asNumber(left)
	rf, rok := asNumber(right)
	if !lok || !rok {
		return nil, fmt.Errorf("operator %s requires numeric operands, got %T and %T",
			op, left, right)
	}

	switch op {
	case "+":
		return lf + rf, nil
	case "-":
		return lf - rf, nil
	case "*":
		return lf * rf, nil
	case "/":
		if rf == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		return lf / rf, nil
	}
	return nil, fmt.Errorf("unknown arithmetic operator %q", op)
}

func asNumber(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case int32:
		return float64(val), true
	case uint:
		return float64(val), true
	case uint64:
		return float64(val), true
	}
	return 0, false
}

func isComposite(v any) bool {
	switch v.(type) {
	case map[string]any, []any:
		return true
	}
	return false
}

var _ Engine = (*PathEngine)(nil)
