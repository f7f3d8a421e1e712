// Package requirement parses pip requirements files into structured
// requirements.
package requirement

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/frederic-klein/pyenvcheck/internal/version"
)

// Specifier is one operator+version constraint.
type Specifier struct {
	Op      version.Operator
	Version string
}

func (s Specifier) String() string {
	return string(s.Op) + s.Version
}

// Requirement is a single parsed requirement line.
type Requirement struct {
	Name       string // normalized
	Extras     []string
	Specifiers []Specifier
	Marker     string // raw environment marker, without the leading ';'
	URL        string // direct reference or VCS/archive URL
	Raw        string // line as written, for display
	Line       int
}

// String renders the canonical form, which ParseLine reads back unchanged.
func (r Requirement) String() string {
	var b strings.Builder
	b.WriteString(r.Name)
	if len(r.Extras) > 0 {
		b.WriteString("[" + strings.Join(r.Extras, ",") + "]")
	}
	if r.URL != "" {
		b.WriteString(" @ " + r.URL)
		if r.Marker != "" {
			b.WriteString(" ; " + r.Marker)
		}
		return b.String()
	}
	for i, s := range r.Specifiers {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(s.String())
	}
	if r.Marker != "" {
		b.WriteString("; " + r.Marker)
	}
	return b.String()
}

// Check evaluates the specifiers against installed in order. It returns
// the first specifier that does not hold, or nil, and whether any
// comparison fell back to plain string ordering.
func (r Requirement) Check(installed version.Version) (*Specifier, bool) {
	opaque := false
	for i := range r.Specifiers {
		s := r.Specifiers[i]
		out := version.Satisfies(installed, s.Op, s.Version)
		opaque = opaque || out.Opaque
		if !out.Satisfied {
			return &s, opaque
		}
	}
	return nil, opaque
}

// ParseError describes a requirement line that could not be parsed.
type ParseError struct {
	Source string
	Line   int
	Raw    string
	Reason string
}

func (e *ParseError) Error() string {
	loc := e.Source
	if e.Line > 0 {
		loc = fmt.Sprintf("%s:%d", loc, e.Line)
	}
	if loc != "" {
		return fmt.Sprintf("%s: %s: %q", loc, e.Reason, e.Raw)
	}
	return fmt.Sprintf("%s: %q", e.Reason, e.Raw)
}

var (
	nameRe      = regexp.MustCompile(`^[A-Za-z0-9](?:[A-Za-z0-9._-]*[A-Za-z0-9])?`)
	separatorRe = regexp.MustCompile(`[-_.]+`)
	versionRe   = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._+!-]*$`)
	urlMarkerRe = regexp.MustCompile(`\s;`)
)

// NormalizeName lowercases a project name and collapses runs of "-", "_"
// and "." into a single "-".
func NormalizeName(name string) string {
	return separatorRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "-")
}

// ParseLine parses one requirement (no options, no comments).
func ParseLine(line string) (Requirement, error) {
	fail := func(format string, args ...interface{}) (Requirement, error) {
		return Requirement{}, &ParseError{Raw: line, Reason: fmt.Sprintf(format, args...)}
	}

	text := strings.TrimSpace(line)
	if text == "" {
		return fail("empty requirement")
	}

	name := nameRe.FindString(text)
	if name == "" {
		return fail("missing package name")
	}
	req := Requirement{Name: NormalizeName(name), Raw: text}
	rest := strings.TrimSpace(text[len(name):])

	if strings.HasPrefix(rest, "[") {
		end := strings.Index(rest, "]")
		if end < 0 {
			return fail("unterminated extras")
		}
		for _, extra := range strings.Split(rest[1:end], ",") {
			extra = strings.TrimSpace(extra)
			if extra == "" {
				continue
			}
			if nameRe.FindString(extra) != extra {
				return fail("invalid extra %q", extra)
			}
			req.Extras = append(req.Extras, NormalizeName(extra))
		}
		rest = strings.TrimSpace(rest[end+1:])
	}

	if strings.HasPrefix(rest, "@") {
		ref := strings.TrimSpace(rest[1:])
		if loc := urlMarkerRe.FindStringIndex(ref); loc != nil {
			req.Marker = strings.TrimSpace(ref[loc[1]:])
			ref = strings.TrimSpace(ref[:loc[0]])
			if req.Marker == "" {
				return fail("empty marker")
			}
		}
		if ref == "" {
			return fail("missing URL after '@'")
		}
		req.URL = ref
		return req, nil
	}

	if spec, marker, found := strings.Cut(rest, ";"); found {
		req.Marker = strings.TrimSpace(marker)
		if req.Marker == "" {
			return fail("empty marker")
		}
		rest = strings.TrimSpace(spec)
	}

	if strings.HasPrefix(rest, "(") {
		if !strings.HasSuffix(rest, ")") {
			return fail("unbalanced parentheses")
		}
		rest = strings.TrimSpace(rest[1 : len(rest)-1])
	}
	if rest == "" {
		return req, nil
	}

	for _, part := range strings.Split(rest, ",") {
		spec, reason := parseSpecifier(part)
		if reason != "" {
			return fail("%s", reason)
		}
		req.Specifiers = append(req.Specifiers, spec)
	}
	return req, nil
}

func parseSpecifier(part string) (Specifier, string) {
	part = strings.TrimSpace(part)
	if part == "" {
		return Specifier{}, "empty specifier"
	}

	end := strings.IndexFunc(part, func(r rune) bool {
		return !strings.ContainsRune("<>=!~", r)
	})
	if end < 0 {
		end = len(part)
	}
	opToken := part[:end]
	ver := strings.TrimSpace(part[end:])

	if opToken == "" {
		return Specifier{}, fmt.Sprintf("missing operator in %q", part)
	}
	op := version.Operator(opToken)
	if !op.Valid() {
		return Specifier{}, fmt.Sprintf("unknown operator %q", opToken)
	}
	if ver == "" {
		return Specifier{}, fmt.Sprintf("missing version after %q", opToken)
	}

	base, wildcard := strings.CutSuffix(ver, ".*")
	if !versionRe.MatchString(base) {
		return Specifier{}, fmt.Sprintf("malformed version %q", ver)
	}
	if wildcard && op != version.Equal && op != version.NotEqual {
		return Specifier{}, fmt.Sprintf("wildcard not allowed with %q", opToken)
	}
	if op == version.Compatible {
		v := version.Parse(ver)
		if v.IsOpaque() || len(v.Release()) < 2 {
			return Specifier{}, fmt.Sprintf("%q needs a version with at least two release segments", opToken)
		}
	}
	return Specifier{Op: op, Version: ver}, ""
}
