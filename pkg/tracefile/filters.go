package tracefile

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Sumatoshi-tech/deltacov/pkg/diag"
)

// Filters rewrites and selects trace paths during ingest and matches
// omit-line content patterns during categorization. Patterns that never
// match anything are reported as unused after the run.
type Filters struct {
	include    []*pathPattern
	exclude    []*pathPattern
	substitute []*substitution
	omitLines  []*contentPattern
}

type pathPattern struct {
	raw  string
	re   *regexp.Regexp
	used bool
}

type substitution struct {
	raw  string
	re   *regexp.Regexp
	repl string
	used bool
}

type contentPattern struct {
	raw  string
	re   *regexp.Regexp
	used bool
}

// NewFilters compiles the ingest filter patterns. include and exclude are
// shell-style globs matched against the full path ('*' crosses directory
// separators); substitute entries use the sed form "s<sep>pattern<sep>
// replacement<sep>"; omitLines are regular expressions matched against
// source line text.
func NewFilters(include, exclude, substitute, omitLines []string) (*Filters, error) {
	f := &Filters{}

	for _, pat := range include {
		re, err := compileGlob(pat)
		if err != nil {
			return nil, err
		}

		f.include = append(f.include, &pathPattern{raw: pat, re: re})
	}

	for _, pat := range exclude {
		re, err := compileGlob(pat)
		if err != nil {
			return nil, err
		}

		f.exclude = append(f.exclude, &pathPattern{raw: pat, re: re})
	}

	for _, spec := range substitute {
		sub, err := compileSubstitution(spec)
		if err != nil {
			return nil, err
		}

		f.substitute = append(f.substitute, sub)
	}

	for _, pat := range omitLines {
		re, err := regexp.Compile(pat)
		if err != nil {
			return nil, fmt.Errorf("omit-lines pattern %q: %w", pat, err)
		}

		f.omitLines = append(f.omitLines, &contentPattern{raw: pat, re: re})
	}

	return f, nil
}

// ApplyPath runs substitutions and include/exclude selection on one trace
// path. The boolean result is false when the path is filtered out.
func (f *Filters) ApplyPath(path string) (string, bool) {
	if f == nil {
		return path, true
	}

	for _, sub := range f.substitute {
		rewritten := sub.re.ReplaceAllString(path, sub.repl)
		if rewritten != path {
			sub.used = true
			path = rewritten
		}
	}

	if len(f.include) > 0 {
		matched := false

		for _, pat := range f.include {
			if pat.re.MatchString(path) {
				pat.used = true
				matched = true
			}
		}

		if !matched {
			return path, false
		}
	}

	for _, pat := range f.exclude {
		if pat.re.MatchString(path) {
			pat.used = true

			return path, false
		}
	}

	return path, true
}

// OmitLine reports whether the source line text matches an omit pattern.
func (f *Filters) OmitLine(text string) bool {
	if f == nil {
		return false
	}

	for _, pat := range f.omitLines {
		if pat.re.MatchString(text) {
			pat.used = true

			return true
		}
	}

	return false
}

// ReportUnused raises an unused diagnostic for every pattern that matched
// nothing during the run.
func (f *Filters) ReportUnused(rep *diag.Reporter) {
	if f == nil {
		return
	}

	report := func(kind, raw string) {
		//nolint:errcheck // unused-pattern diagnostics are informational.
		rep.Report(diag.KindUnused, "%s pattern %q matched nothing", kind, raw)
	}

	for _, pat := range f.include {
		if !pat.used {
			report("include", pat.raw)
		}
	}

	for _, pat := range f.exclude {
		if !pat.used {
			report("exclude", pat.raw)
		}
	}

	for _, sub := range f.substitute {
		if !sub.used {
			report("substitute", sub.raw)
		}
	}

	for _, pat := range f.omitLines {
		if !pat.used {
			report("omit-lines", pat.raw)
		}
	}
}

// compileGlob translates a shell wildcard pattern into an anchored regexp.
func compileGlob(pattern string) (*regexp.Regexp, error) {
	var sb strings.Builder

	sb.WriteString("^")

	for _, r := range pattern {
		switch r {
		case '*':
			sb.WriteString(".*")
		case '?':
			sb.WriteString(".")
		default:
			sb.WriteString(regexp.QuoteMeta(string(r)))
		}
	}

	sb.WriteString("$")

	re, err := regexp.Compile(sb.String())
	if err != nil {
		return nil, fmt.Errorf("glob pattern %q: %w", pattern, err)
	}

	return re, nil
}

// compileSubstitution parses "s<sep>pattern<sep>replacement<sep>[g]".
func compileSubstitution(spec string) (*substitution, error) {
	if len(spec) < 4 || spec[0] != 's' {
		return nil, fmt.Errorf("substitution %q: expected s/pattern/replacement/ form", spec)
	}

	sep := string(spec[1])

	parts := strings.Split(spec[2:], sep)
	if len(parts) < 2 {
		return nil, fmt.Errorf("substitution %q: expected s%spattern%sreplacement%s form", spec, sep, sep, sep)
	}

	re, err := regexp.Compile(parts[0])
	if err != nil {
		return nil, fmt.Errorf("substitution %q: %w", spec, err)
	}

	return &substitution{raw: spec, re: re, repl: parts[1]}, nil
}
