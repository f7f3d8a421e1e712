// Package marker evaluates environment markers such as
// `python_version >= "3.8" and sys_platform == "linux"`.
package marker

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/frederic-klein/pyenvcheck/internal/version"
)

// Environment maps marker variable names to their values.
type Environment map[string]string

// HostEnvironment describes the platform this process runs on. Python
// version variables are left empty; see WithPython.
func HostEnvironment() Environment {
	return platformEnvironment(runtime.GOOS, runtime.GOARCH)
}

func platformEnvironment(goos, goarch string) Environment {
	env := Environment{
		"os_name":                        "posix",
		"sys_platform":                   goos,
		"platform_system":                titleCase(goos),
		"platform_machine":               goarch,
		"platform_python_implementation": "CPython",
		"implementation_name":            "cpython",
		"extra":                          "",
	}

	switch goos {
	case "windows":
		env["os_name"] = "nt"
		env["sys_platform"] = "win32"
	case "darwin":
		env["platform_system"] = "Darwin"
	case "freebsd":
		env["platform_system"] = "FreeBSD"
	}

	switch goarch {
	case "amd64":
		env["platform_machine"] = "x86_64"
		if goos == "windows" {
			env["platform_machine"] = "AMD64"
		}
	case "arm64":
		if goos == "linux" {
			env["platform_machine"] = "aarch64"
		} else if goos == "windows" {
			env["platform_machine"] = "ARM64"
		}
	case "386":
		env["platform_machine"] = "i686"
		if goos == "windows" {
			env["platform_machine"] = "x86"
		}
	}
	return env
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// WithPython returns a copy of env with the interpreter version variables
// set from a full version such as "3.11.4".
func (e Environment) WithPython(full string) Environment {
	out := make(Environment, len(e)+3)
	for k, v := range e {
		out[k] = v
	}
	if full == "" {
		return out
	}
	short := full
	if parts := strings.SplitN(full, ".", 3); len(parts) >= 2 {
		short = parts[0] + "." + parts[1]
	}
	out["python_version"] = short
	out["python_full_version"] = full
	out["implementation_version"] = full
	return out
}

// Evaluate reports whether expr holds in env.
func Evaluate(expr string, env Environment) (bool, error) {
	toks, err := tokenize(expr)
	if err != nil {
		return false, err
	}
	if len(toks) == 0 {
		return false, fmt.Errorf("empty marker")
	}

	p := &parser{toks: toks, env: env}
	ok, err := p.or()
	if err != nil {
		return false, err
	}
	if p.pos != len(p.toks) {
		return false, fmt.Errorf("unexpected %q in marker", p.toks[p.pos].text)
	}
	return ok, nil
}

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokString
	tokOp
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	text string
}

var operators = []string{"===", "==", "!=", "<=", ">=", "~=", "<", ">"}

func tokenize(s string) ([]token, error) {
	var toks []token
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == ' ' || c == '\t':
			i++
		case c == '(':
			toks = append(toks, token{kind: tokLParen, text: "("})
			i++
		case c == ')':
			toks = append(toks, token{kind: tokRParen, text: ")"})
			i++
		case c == '"' || c == '\'':
			end := strings.IndexByte(s[i+1:], c)
			if end < 0 {
				return nil, fmt.Errorf("unterminated string in marker")
			}
			toks = append(toks, token{kind: tokString, text: s[i+1 : i+1+end]})
			i += end + 2
		case isIdentStart(c):
			j := i + 1
			for j < len(s) && isIdentPart(s[j]) {
				j++
			}
			toks = append(toks, token{kind: tokIdent, text: s[i:j]})
			i = j
		default:
			op := ""
			for _, candidate := range operators {
				if strings.HasPrefix(s[i:], candidate) {
					op = candidate
					break
				}
			}
			if op == "" {
				return nil, fmt.Errorf("unexpected character %q in marker", c)
			}
			toks = append(toks, token{kind: tokOp, text: op})
			i += len(op)
		}
	}
	return toks, nil
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || c == '.' || (c >= '0' && c <= '9')
}

type parser struct {
	toks []token
	pos  int
	env  Environment
}

func (p *parser) peek() (token, bool) {
	if p.pos >= len(p.toks) {
		return token{}, false
	}
	return p.toks[p.pos], true
}

func (p *parser) keyword(word string) bool {
	t, ok := p.peek()
	if ok && t.kind == tokIdent && t.text == word {
		p.pos++
		return true
	}
	return false
}

func (p *parser) or() (bool, error) {
	left, err := p.and()
	if err != nil {
		return false, err
	}
	for p.keyword("or") {
		right, err := p.and()
		if err != nil {
			return false, err
		}
		left = left || right
	}
	return left, nil
}

func (p *parser) and() (bool, error) {
	left, err := p.atom()
	if err != nil {
		return false, err
	}
	for p.keyword("and") {
		right, err := p.atom()
		if err != nil {
			return false, err
		}
		left = left && right
	}
	return left, nil
}

func (p *parser) atom() (bool, error) {
	t, ok := p.peek()
	if !ok {
		return false, fmt.Errorf("unexpected end of marker")
	}
	if t.kind == tokLParen {
		p.pos++
		v, err := p.or()
		if err != nil {
			return false, err
		}
		if t, ok := p.peek(); !ok || t.kind != tokRParen {
			return false, fmt.Errorf("missing ')' in marker")
		}
		p.pos++
		return v, nil
	}

	lhs, lhsVar, err := p.value()
	if err != nil {
		return false, err
	}
	op, err := p.operator()
	if err != nil {
		return false, err
	}
	rhs, rhsVar, err := p.value()
	if err != nil {
		return false, err
	}
	return compare(lhs, op, rhs, lhsVar || rhsVar)
}

func (p *parser) value() (string, bool, error) {
	t, ok := p.peek()
	if !ok {
		return "", false, fmt.Errorf("unexpected end of marker")
	}
	switch t.kind {
	case tokString:
		p.pos++
		return t.text, false, nil
	case tokIdent:
		v, known := p.env[t.text]
		if !known {
			return "", false, fmt.Errorf("unknown marker variable %q", t.text)
		}
		p.pos++
		return v, true, nil
	}
	return "", false, fmt.Errorf("expected a value, got %q", t.text)
}

func (p *parser) operator() (string, error) {
	t, ok := p.peek()
	if !ok {
		return "", fmt.Errorf("unexpected end of marker")
	}
	if t.kind == tokOp {
		p.pos++
		return t.text, nil
	}
	if p.keyword("in") {
		return "in", nil
	}
	if p.keyword("not") {
		if p.keyword("in") {
			return "not in", nil
		}
		return "", fmt.Errorf("expected 'in' after 'not'")
	}
	return "", fmt.Errorf("expected an operator, got %q", t.text)
}

func compare(lhs, op, rhs string, hasVariable bool) (bool, error) {
	if !hasVariable {
		return false, fmt.Errorf("marker compares two literals")
	}
	switch op {
	case "in":
		return strings.Contains(rhs, lhs), nil
	case "not in":
		return !strings.Contains(rhs, lhs), nil
	case "===":
		return lhs == rhs, nil
	}

	lv := version.Parse(lhs)
	if base, _ := strings.CutSuffix(rhs, ".*"); !lv.IsOpaque() && !version.Parse(base).IsOpaque() {
		return version.Satisfies(lv, version.Operator(op), rhs).Satisfied, nil
	}

	switch op {
	case "==":
		return lhs == rhs, nil
	case "!=":
		return lhs != rhs, nil
	}
	return false, fmt.Errorf("cannot compare %q %s %q", lhs, op, rhs)
}
