package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"sharktank-agent/internal/domain/model"
)

var (
	ErrInvalidExpression = errors.New("invalid expression")
	ErrNonFiniteResult   = errors.New("invalid result")
)

// digits, operators, parentheses, whitespace and the letters of the supported functions
var disallowedRe = regexp.MustCompile(`[^0-9+\-*/().%^sqrtlogsincostan\s]`)

var _ Tool = (*Calculator)(nil)

type Calculator struct{}

func NewCalculator() *Calculator { return &Calculator{} }

func (c *Calculator) Name() model.ToolName { return model.ToolCalculator }

func (c *Calculator) Description() string {
	return "Evaluates arithmetic for valuations, equity and ROI: + - * / % ^, parentheses, sqrt, log, sin, cos, tan."
}

// Calculation is the success payload of the calculator.
type Calculation struct {
	Success     bool    `json:"success"`
	Expression  string  `json:"expression"`
	Result      float64 `json:"result"`
	Formatted   string  `json:"formatted"`
	Explanation string  `json:"explanation"`
}

type calcFailure struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func (c *Calculator) Invoke(_ context.Context, inv *model.ToolInvocation) (string, error) {
	if inv == nil || inv.Calculator == nil {
		return "", fmt.Errorf("calculator: missing arguments")
	}
	calc, err := Calculate(inv.Calculator.Expression)
	if err != nil {
		msg := "Invalid expression"
		if errors.Is(err, ErrNonFiniteResult) {
			msg = "Invalid result"
		}
		return marshal(calcFailure{Success: false, Error: msg}), nil
	}
	return marshal(calc), nil
}

// Calculate evaluates expr and formats the result.
func Calculate(expr string) (Calculation, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" || disallowedRe.MatchString(expr) {
		return Calculation{}, ErrInvalidExpression
	}
	v, err := evaluate(expr)
	if err != nil {
		return Calculation{}, ErrInvalidExpression
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Calculation{}, ErrNonFiniteResult
	}
	formatted := FormatResult(v)
	return Calculation{
		Success:     true,
		Expression:  expr,
		Result:      v,
		Formatted:   formatted,
		Explanation: fmt.Sprintf("%s = %s", expr, formatted),
	}, nil
}

// FormatResult renders money-style amounts: $X.XXM from a million, $X.XXK from
// a thousand, plain integers, otherwise two decimals.
func FormatResult(v float64) string {
	abs := math.Abs(v)
	switch {
	case abs >= 1_000_000:
		return fmt.Sprintf("$%.2fM", v/1_000_000)
	case abs >= 1_000:
		return fmt.Sprintf("$%.2fK", v/1_000)
	case v == math.Trunc(v):
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return strconv.FormatFloat(v, 'f', 2, 64)
	}
}

// evaluate parses expr with the grammar
//
//	expr    = term { ("+" | "-") term }
//	term    = unary { ("*" | "/" | "%") unary }
//	unary   = ("-" | "+") unary | power
//	power   = primary [ "^" unary ]
//	primary = number | func "(" expr ")" | "(" expr ")"
func evaluate(expr string) (float64, error) {
	p := &parser{src: expr}
	v, err := p.expr()
	if err != nil {
		return 0, err
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return 0, fmt.Errorf("unexpected %q at %d", p.src[p.pos], p.pos)
	}
	return v, nil
}

var functions = map[string]func(float64) float64{
	"sqrt": math.Sqrt,
	"log":  math.Log,
	"sin":  math.Sin,
	"cos":  math.Cos,
	"tan":  math.Tan,
}

type parser struct {
	src   string
	pos   int
	depth int
}

const maxDepth = 64

func (p *parser) skipSpace() {
	for p.pos < len(p.src) && (p.src[p.pos] == ' ' || p.src[p.pos] == '\t' || p.src[p.pos] == '\n' || p.src[p.pos] == '\r') {
		p.pos++
	}
}

func (p *parser) peek() byte {
	p.skipSpace()
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

func (p *parser) expr() (float64, error) {
	left, err := p.term()
	if err != nil {
		return 0, err
	}
	for {
		switch p.peek() {
		case '+':
			p.pos++
			right, err := p.term()
			if err != nil {
				return 0, err
			}
			left += right
		case '-':
			p.pos++
			right, err := p.term()
			if err != nil {
				return 0, err
			}
			left -= right
		default:
			return left, nil
		}
	}
}

func (p *parser) term() (float64, error) {
	left, err := p.unary()
	if err != nil {
		return 0, err
	}
	for {
		op := p.peek()
		if op != '*' && op != '/' && op != '%' {
			return left, nil
		}
		p.pos++
		right, err := p.unary()
		if err != nil {
			return 0, err
		}
		switch op {
		case '*':
			left *= right
		case '/':
			left /= right
		case '%':
			left = math.Mod(left, right)
		}
	}
}

func (p *parser) unary() (float64, error) {
	p.depth++
	defer func() { p.depth-- }()
	if p.depth > maxDepth {
		return 0, errors.New("expression nested too deeply")
	}
	switch p.peek() {
	case '-':
		p.pos++
		v, err := p.unary()
		return -v, err
	case '+':
		p.pos++
		return p.unary()
	}
	return p.power()
}

func (p *parser) power() (float64, error) {
	base, err := p.primary()
	if err != nil {
		return 0, err
	}
	if p.peek() == '^' {
		p.pos++
		exp, err := p.unary()
		if err != nil {
			return 0, err
		}
		return math.Pow(base, exp), nil
	}
	return base, nil
}

func (p *parser) primary() (float64, error) {
	c := p.peek()
	switch {
	case c == '(':
		p.pos++
		v, err := p.expr()
		if err != nil {
			return 0, err
		}
		if p.peek() != ')' {
			return 0, errors.New("missing closing parenthesis")
		}
		p.pos++
		return v, nil
	case (c >= '0' && c <= '9') || c == '.':
		return p.number()
	case c >= 'a' && c <= 'z':
		return p.call()
	case c == 0:
		return 0, errors.New("unexpected end of expression")
	}
	return 0, fmt.Errorf("unexpected %q at %d", c, p.pos)
}

func (p *parser) number() (float64, error) {
	start := p.pos
	for p.pos < len(p.src) && ((p.src[p.pos] >= '0' && p.src[p.pos] <= '9') || p.src[p.pos] == '.') {
		p.pos++
	}
	return strconv.ParseFloat(p.src[start:p.pos], 64)
}

func (p *parser) call() (float64, error) {
	start := p.pos
	for p.pos < len(p.src) && p.src[p.pos] >= 'a' && p.src[p.pos] <= 'z' {
		p.pos++
	}
	name := p.src[start:p.pos]
	fn, ok := functions[name]
	if !ok {
		return 0, fmt.Errorf("unknown function %q", name)
	}
	if p.peek() != '(' {
		return 0, fmt.Errorf("%s: expected '('", name)
	}
	arg, err := p.primary()
	if err != nil {
		return 0, err
	}
	return fn(arg), nil
}

func marshal(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf(`{"success":false,"error":%q}`, err.Error())
	}
	return string(b)
}
