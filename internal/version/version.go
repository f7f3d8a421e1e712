// Package version orders Python package versions and checks them against
// requirement specifiers.
package version

import (
	"regexp"
	"strconv"
	"strings"

	pep440 "github.com/aquasecurity/go-pep440-version"
)

// Kind tells whether a version was understood structurally.
type Kind int

const (
	// Structured versions follow the public version scheme (release
	// segments with optional pre, post, dev and local parts).
	Structured Kind = iota
	// Opaque versions have no usable numeric structure and are compared
	// as plain strings.
	Opaque
)

func (k Kind) String() string {
	if k == Opaque {
		return "opaque"
	}
	return "structured"
}

// Version is a parsed version string.
type Version struct {
	raw        string
	kind       Kind
	epoch      int
	release    []int
	prerelease bool
	public     pep440.Version // local label stripped
}

var versionRe = regexp.MustCompile(`(?i)^v?(?:(\d+)!)?(\d+(?:\.\d+)*)` +
	`(?:[-_.]?(alpha|beta|preview|pre|rc|a|b|c)[-_.]?(\d+)?)?` +
	`(?:-(\d+)|[-_.]?(post|rev|r)[-_.]?(\d+)?)?` +
	`(?:[-_.]?(dev)[-_.]?(\d+)?)?` +
	`(?:\+([a-z0-9]+(?:[-_.][a-z0-9]+)*))?$`)

// Parse never fails: strings outside the version scheme become Opaque.
func Parse(s string) Version {
	s = strings.TrimSpace(s)
	v := Version{raw: s, kind: Opaque}

	m := versionRe.FindStringSubmatch(s)
	if m == nil {
		return v
	}

	var ok bool
	if v.epoch, ok = atoi(m[1]); !ok {
		return v
	}
	for _, part := range strings.Split(m[2], ".") {
		n, ok := atoi(part)
		if !ok {
			return Version{raw: s, kind: Opaque}
		}
		v.release = append(v.release, n)
	}
	// pre, post and dev numbers must fit as well as release segments do.
	for _, n := range []string{m[4], m[5], m[7], m[9]} {
		if _, ok := atoi(n); !ok {
			return Version{raw: s, kind: Opaque}
		}
	}

	public, _, _ := strings.Cut(strings.ToLower(s), "+")
	pv, err := pep440.Parse(public)
	if err != nil {
		return Version{raw: s, kind: Opaque}
	}
	v.public = pv
	v.prerelease = m[3] != "" || m[8] != ""
	v.kind = Structured
	return v
}

func atoi(s string) (int, bool) {
	if s == "" {
		return 0, true
	}
	n, err := strconv.Atoi(s)
	return n, err == nil
}

// String returns the version as it was written (trimmed).
func (v Version) String() string { return v.raw }

// Kind reports whether the version parsed structurally.
func (v Version) Kind() Kind { return v.kind }

// IsOpaque is shorthand for Kind() == Opaque.
func (v Version) IsOpaque() bool { return v.kind == Opaque }

// Release returns a copy of the numeric release segments.
func (v Version) Release() []int {
	out := make([]int, len(v.release))
	copy(out, v.release)
	return out
}

// IsPrerelease reports a/b/rc or dev versions.
func (v Version) IsPrerelease() bool {
	return v.kind == Structured && v.prerelease
}

// Comparison is the result of Compare. Opaque is set when at least one side
// could not be parsed and the raw strings were compared lexicographically.
type Comparison struct {
	Result int
	Opaque bool
}

// Compare orders a and b, returning -1, 0 or 1 in Result.
func Compare(a, b Version) Comparison {
	if a.kind == Opaque || b.kind == Opaque {
		return Comparison{Result: strings.Compare(a.raw, b.raw), Opaque: true}
	}
	return Comparison{Result: a.public.Compare(b.public)}
}

func segment(release []int, i int) int {
	if i < len(release) {
		return release[i]
	}
	return 0
}
