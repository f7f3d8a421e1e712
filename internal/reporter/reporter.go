// Package reporter renders check results.
package reporter

import (
	"fmt"
	"io"

	"github.com/frederic-klein/pyenvcheck/internal/report"
)

// Options adjust what a reporter prints.
type Options struct {
	ShowPaths bool
}

// Reporter writes a result to w.
type Reporter interface {
	Report(w io.Writer, res *report.Result) error
}

// Formats lists the accepted output formats.
var Formats = []string{"text", "json"}

// New returns the reporter for format.
func New(format string, opts Options) (Reporter, error) {
	switch format {
	case "", "text":
		return &TextReporter{opts: opts}, nil
	case "json":
		return &JSONReporter{opts: opts}, nil
	}
	return nil, fmt.Errorf("unknown output format %q (want text or json)", format)
}
