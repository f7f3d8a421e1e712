package version

import "strings"

// Operator is a requirement comparison operator.
type Operator string

const (
	Equal        Operator = "=="
	NotEqual     Operator = "!="
	LessEqual    Operator = "<="
	GreaterEqual Operator = ">="
	Less         Operator = "<"
	Greater      Operator = ">"
	Compatible   Operator = "~="
)

// Operators lists the recognized operators, longest first so that prefix
// matching never mistakes "<=" for "<".
var Operators = []Operator{Equal, NotEqual, LessEqual, GreaterEqual, Compatible, Less, Greater}

// Valid reports whether op is one of Operators.
func (op Operator) Valid() bool {
	for _, known := range Operators {
		if op == known {
			return true
		}
	}
	return false
}

// Outcome is the result of checking one specifier.
type Outcome struct {
	Satisfied bool
	Opaque    bool
}

// Satisfies checks installed against "op spec". A trailing ".*" on spec
// turns == and != into release prefix matches.
func Satisfies(installed Version, op Operator, spec string) Outcome {
	spec = strings.TrimSpace(spec)
	if base, ok := strings.CutSuffix(spec, ".*"); ok && (op == Equal || op == NotEqual) {
		out := prefixMatch(installed, Parse(base))
		if op == NotEqual {
			out.Satisfied = !out.Satisfied
		}
		return out
	}

	want := Parse(spec)
	if op == Compatible {
		return compatible(installed, want)
	}

	c := Compare(installed, want)
	out := Outcome{Opaque: c.Opaque}
	switch op {
	case Equal:
		out.Satisfied = c.Result == 0
	case NotEqual:
		out.Satisfied = c.Result != 0
	case LessEqual:
		out.Satisfied = c.Result <= 0
	case GreaterEqual:
		out.Satisfied = c.Result >= 0
	case Less:
		out.Satisfied = c.Result < 0
	case Greater:
		out.Satisfied = c.Result > 0
	}
	return out
}

func prefixMatch(installed, base Version) Outcome {
	if installed.kind == Opaque || base.kind == Opaque {
		ok := installed.raw == base.raw || strings.HasPrefix(installed.raw, base.raw+".")
		return Outcome{Satisfied: ok, Opaque: true}
	}
	if installed.epoch != base.epoch {
		return Outcome{}
	}
	return Outcome{Satisfied: samePrefix(installed.release, base.release, len(base.release))}
}

// compatible implements "~=": installed >= want and the leading release
// segments agree. The shared prefix is every segment of want but the last,
// and never shorter than major.minor, so "~=1.4" accepts 1.4.x only.
func compatible(installed, want Version) Outcome {
	c := Compare(installed, want)
	if c.Opaque {
		lead := want.raw
		if i := strings.LastIndex(lead, "."); i > 0 {
			lead = lead[:i]
		}
		return Outcome{Satisfied: c.Result >= 0 && strings.HasPrefix(installed.raw, lead), Opaque: true}
	}
	if len(want.release) < 2 || c.Result < 0 || installed.epoch != want.epoch {
		return Outcome{}
	}
	n := len(want.release) - 1
	if n < 2 {
		n = 2
	}
	return Outcome{Satisfied: samePrefix(installed.release, want.release, n)}
}

func samePrefix(a, b []int, n int) bool {
	for i := 0; i < n; i++ {
		if segment(a, i) != segment(b, i) {
			return false
		}
	}
	return true
}
