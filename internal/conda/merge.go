package conda

import "fmt"

// Precedence decides which side wins when a manual registration and a
// discovered environment share a label.
type Precedence string

const (
	PreferManual Precedence = "manual"
	PreferConda  Precedence = "conda"
)

// ParsePrecedence validates a precedence name. An empty name means
// PreferManual.
func ParsePrecedence(s string) (Precedence, error) {
	switch Precedence(s) {
	case "", PreferManual:
		return PreferManual, nil
	case PreferConda:
		return PreferConda, nil
	}
	return "", fmt.Errorf("unknown precedence %q (want %q or %q)", s, PreferManual, PreferConda)
}

// Merge layers manual registrations and discovered environments into one
// label -> interpreter map.
func Merge(manual, discovered map[string]string, p Precedence) map[string]string {
	lower, upper := discovered, manual
	if p == PreferConda {
		lower, upper = manual, discovered
	}
	out := make(map[string]string, len(manual)+len(discovered))
	for label, path := range lower {
		out[label] = path
	}
	for label, path := range upper {
		out[label] = path
	}
	return out
}
