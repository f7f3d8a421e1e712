package requirement

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Parser parses pip requirements files.
type Parser struct{}

// NewParser creates a new requirements parser.
func NewParser() *Parser {
	return &Parser{}
}

// ParseResult holds everything read from a requirements file and its
// includes, in encounter order.
type ParseResult struct {
	Requirements []Requirement
	Errors       []ParseError
	ExtraIndexes []string
	Includes     []string // -r files followed and -c files seen
}

// NewParseResult creates an empty parse result.
func NewParseResult() *ParseResult {
	return &ParseResult{}
}

var (
	directRefRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*\s*(?:\[[^\]]*\])?\s*@`)
	eggRe       = regexp.MustCompile(`#egg=([^&\s]+)`)
)

// Parse parses the requirements file at path, following -r includes.
func (p *Parser) Parse(path string) (*ParseResult, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening requirements file: %w", err)
	}
	defer file.Close()

	return p.ParseReader(file, path)
}

// ParseReader parses requirements from r. Includes are resolved relative to
// the directory of source.
func (p *Parser) ParseReader(r io.Reader, source string) (*ParseResult, error) {
	result := NewParseResult()
	visited := make(map[string]bool)
	if abs, err := filepath.Abs(source); err == nil && source != "" {
		visited[abs] = true
	}
	if err := p.parse(r, source, result, visited); err != nil {
		return nil, err
	}
	return result, nil
}

func (p *Parser) parse(r io.Reader, source string, result *ParseResult, visited map[string]bool) error {
	scanner := bufio.NewScanner(r)
	lineNo := 0
	startLine := 0
	var pending strings.Builder

	for scanner.Scan() {
		lineNo++
		line := scanner.Text()

		// Backslash continuation joins physical lines. Comment lines never
		// continue.
		comment := strings.HasPrefix(strings.TrimSpace(line), "#")
		if !comment && strings.HasSuffix(strings.TrimRight(line, " \t"), `\`) {
			if pending.Len() == 0 {
				startLine = lineNo
			}
			trimmed := strings.TrimRight(line, " \t")
			pending.WriteString(trimmed[:len(trimmed)-1])
			continue
		}
		if pending.Len() > 0 {
			if comment {
				pending.WriteString(" ")
			}
			pending.WriteString(line)
			line = pending.String()
			pending.Reset()
		} else {
			startLine = lineNo
		}

		p.parseLine(line, source, startLine, result, visited)
	}
	if pending.Len() > 0 {
		p.parseLine(pending.String(), source, startLine, result, visited)
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading requirements: %w", err)
	}
	return nil
}

func (p *Parser) parseLine(line, source string, lineNo int, result *ParseResult, visited map[string]bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return
	}

	addErr := func(reason string) {
		result.Errors = append(result.Errors, ParseError{
			Source: source,
			Line:   lineNo,
			Raw:    trimmed,
			Reason: reason,
		})
	}

	if strings.HasPrefix(trimmed, "-") {
		p.parseOption(trimmed, source, lineNo, result, visited, addErr)
		return
	}

	if ref := stripComment(trimmed); !directRefRe.MatchString(ref) && isURL(ref) {
		if req, ok := eggRequirement(ref, addErr); ok {
			req.Line = lineNo
			result.Requirements = append(result.Requirements, req)
		}
		return
	}

	text := trimmed
	if !directRefRe.MatchString(trimmed) {
		text, _, _ = strings.Cut(trimmed, "#")
	} else {
		text = stripComment(trimmed)
	}
	if strings.TrimSpace(text) == "" {
		return
	}

	req, err := ParseLine(text)
	if err != nil {
		reason := err.Error()
		var pe *ParseError
		if errors.As(err, &pe) {
			reason = pe.Reason
		}
		addErr(reason)
		return
	}
	req.Raw = trimmed
	req.Line = lineNo
	result.Requirements = append(result.Requirements, req)
}

func (p *Parser) parseOption(line, source string, lineNo int, result *ParseResult, visited map[string]bool, addErr func(string)) {
	flag, value := splitOption(line)
	switch flag {
	case "--extra-index-url", "--index-url", "-i":
		if value == "" {
			addErr(fmt.Sprintf("%s needs a URL", flag))
			return
		}
		result.ExtraIndexes = append(result.ExtraIndexes, value)
	case "-r", "--requirement":
		if value == "" {
			addErr(fmt.Sprintf("%s needs a file", flag))
			return
		}
		p.include(value, source, result, visited, addErr)
	case "-c", "--constraint":
		if value == "" {
			addErr(fmt.Sprintf("%s needs a file", flag))
			return
		}
		result.Includes = append(result.Includes, resolveInclude(value, source))
	case "-e", "--editable":
		if req, ok := eggRequirement(value, addErr); ok {
			req.Raw = line
			req.Line = lineNo
			result.Requirements = append(result.Requirements, req)
		}
	}
	// Other pip options do not affect matching.
}

func (p *Parser) include(value, source string, result *ParseResult, visited map[string]bool, addErr func(string)) {
	path := resolveInclude(value, source)
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	if visited[abs] {
		addErr(fmt.Sprintf("include cycle through %s", path))
		return
	}
	visited[abs] = true
	defer delete(visited, abs)
	result.Includes = append(result.Includes, path)

	file, err := os.Open(path)
	if err != nil {
		addErr(fmt.Sprintf("cannot read include: %v", err))
		return
	}
	defer file.Close()

	if err := p.parse(file, path, result, visited); err != nil {
		addErr(err.Error())
	}
}

func resolveInclude(value, source string) string {
	if filepath.IsAbs(value) || source == "" || source == "-" {
		return value
	}
	return filepath.Join(filepath.Dir(source), value)
}

// splitOption separates "--flag=value", "--flag value" and "-rvalue".
func splitOption(line string) (string, string) {
	if strings.HasPrefix(line, "--") {
		if flag, value, ok := strings.Cut(line, "="); ok && !strings.ContainsAny(flag, " \t") {
			return flag, strings.TrimSpace(value)
		}
	}
	fields := strings.Fields(line)
	flag := fields[0]
	if !strings.HasPrefix(flag, "--") && len(flag) > 2 {
		return flag[:2], strings.TrimSpace(line[2:])
	}
	return flag, strings.TrimSpace(strings.TrimPrefix(line, flag))
}

// stripComment drops a trailing comment that follows whitespace. A "#" glued
// to the preceding text, as in "#egg=", is kept.
func stripComment(line string) string {
	if i := strings.Index(line, " #"); i >= 0 {
		line = line[:i]
	}
	if i := strings.Index(line, "\t#"); i >= 0 {
		line = line[:i]
	}
	return strings.TrimSpace(line)
}

func isURL(s string) bool {
	return strings.Contains(s, "://") || strings.HasPrefix(s, "git+")
}

// eggRequirement builds a requirement from a URL carrying "#egg=name". URLs
// without an egg fragment cannot be matched by name and are skipped.
func eggRequirement(ref string, addErr func(string)) (Requirement, bool) {
	m := eggRe.FindStringSubmatch(ref)
	if m == nil {
		return Requirement{}, false
	}
	name := m[1]
	if nameRe.FindString(name) != name {
		addErr(fmt.Sprintf("invalid egg name %q", name))
		return Requirement{}, false
	}
	return Requirement{
		Name: NormalizeName(name),
		URL:  ref,
		Raw:  ref,
	}, true
}
