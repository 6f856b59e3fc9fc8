package source

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/Sumatoshi-tech/deltacov/pkg/diag"
)

// NoCommit is the commit field an annotator emits for lines that do not
// belong to the project; such lines carry no owner and no age.
const NoCommit = "NONE"

// Annotation is the revision-control origin of one source line.
type Annotation struct {
	Commit string
	Author string
	Text   string

	// AgeDays is the line age in whole days; valid only when HasAge.
	AgeDays int

	HasOwner bool
	HasAge   bool
}

// Annotator produces per-line origin for a file. A nil slice with a nil
// error means the file is unannotated (every line gets no owner and no
// age).
type Annotator interface {
	Annotate(ctx context.Context, absPath string) ([]Annotation, error)
}

// ScriptAnnotator invokes an external program per file. The program is
// called with the absolute path appended to the configured command line and
// must print one "commit|author|when|text" line per source line.
type ScriptAnnotator struct {
	command []string
	now     time.Time
	rep     *diag.Reporter
}

// NewScriptAnnotator builds an annotator for the given command line. now
// anchors age computation.
func NewScriptAnnotator(command []string, now time.Time, rep *diag.Reporter) *ScriptAnnotator {
	return &ScriptAnnotator{command: command, now: now, rep: rep}
}

// Annotate runs the script. A failure to start or a non-zero exit is an
// ignorable diagnostic: the file proceeds unannotated.
func (a *ScriptAnnotator) Annotate(ctx context.Context, absPath string) ([]Annotation, error) {
	if len(a.command) == 0 {
		return nil, nil
	}

	args := append(append([]string{}, a.command[1:]...), absPath)

	cmd := exec.CommandContext(ctx, a.command[0], args...)

	var out, errBuf bytes.Buffer

	cmd.Stdout = &out
	cmd.Stderr = &errBuf

	if err := cmd.Run(); err != nil {
		if repErr := a.rep.Report(diag.KindPackage, "annotate %s failed: %v: %s",
			absPath, err, strings.TrimSpace(errBuf.String())); repErr != nil {
			return nil, repErr
		}

		return nil, nil
	}

	return parseAnnotations(&out, absPath, a.now, a.rep)
}

// parseAnnotations decodes "commit|author|when|text" lines and enforces the
// all-or-nothing invariant: within one file, either every line carries a
// real commit or none do.
func parseAnnotations(out *bytes.Buffer, absPath string, now time.Time, rep *diag.Reporter) ([]Annotation, error) {
	var (
		annotations []Annotation
		annotated   int
	)

	scanner := bufio.NewScanner(out)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		fields := strings.SplitN(scanner.Text(), "|", 4)
		if len(fields) != 4 {
			if err := rep.Report(diag.KindFormat, "annotate %s: malformed output line %d",
				absPath, len(annotations)+1); err != nil {
				return nil, err
			}

			annotations = append(annotations, Annotation{})

			continue
		}

		ann := Annotation{Commit: fields[0], Text: fields[3]}

		if ann.Commit != NoCommit && ann.Commit != "" {
			ann.HasOwner = true
			ann.Author = fields[1]
			annotated++

			if age, ok := ageInDays(fields[2], now); ok {
				ann.HasAge = true
				ann.AgeDays = age
			}
		}

		annotations = append(annotations, ann)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read annotate output for %s: %w", absPath, err)
	}

	if annotated > 0 && annotated < len(annotations) {
		if err := rep.Report(diag.KindInconsistent,
			"annotate %s: %d of %d lines annotated; expected all or none",
			absPath, annotated, len(annotations)); err != nil {
			return nil, err
		}
	}

	return annotations, nil
}

// ageInDays derives a line age from the annotator's "when" field. An
// integer value passes through unchanged, which keeps generated example
// inputs reproducible; otherwise the field is parsed as a timestamp.
func ageInDays(when string, now time.Time) (int, bool) {
	when = strings.TrimSpace(when)
	if when == "" {
		return 0, false
	}

	if age, err := strconv.Atoi(when); err == nil {
		return age, true
	}

	layouts := []string{
		time.RFC3339,
		"2006-01-02 15:04:05 -0700",
		"2006-01-02 15:04:05",
		"2006-01-02",
	}

	for _, layout := range layouts {
		t, err := time.Parse(layout, when)
		if err != nil {
			continue
		}

		age := int(now.Sub(t).Hours() / 24)
		if age < 0 {
			age = 0
		}

		return age, true
	}

	return 0, false
}

// GitAnnotator shells out to git blame. It is the built-in annotation mode
// for trees tracked by git; the output is consumed in line-porcelain form.
type GitAnnotator struct {
	repoDir string
	now     time.Time
	rep     *diag.Reporter
}

// NewGitAnnotator builds a git-backed annotator rooted at repoDir.
func NewGitAnnotator(repoDir string, now time.Time, rep *diag.Reporter) *GitAnnotator {
	return &GitAnnotator{repoDir: repoDir, now: now, rep: rep}
}

// zeroSHA prefixes blame entries for uncommitted lines.
const zeroSHA = "0000000000000000000000000000000000000000"

// Annotate runs git blame --line-porcelain on the file.
func (a *GitAnnotator) Annotate(ctx context.Context, absPath string) ([]Annotation, error) {
	cmd := exec.CommandContext(ctx, "git", "-C", a.repoDir, "blame", "--line-porcelain", "--", absPath)

	var out, errBuf bytes.Buffer

	cmd.Stdout = &out
	cmd.Stderr = &errBuf

	if err := cmd.Run(); err != nil {
		if repErr := a.rep.Report(diag.KindPackage, "git blame %s failed: %v: %s",
			absPath, err, strings.TrimSpace(errBuf.String())); repErr != nil {
			return nil, repErr
		}

		return nil, nil
	}

	return parsePorcelain(&out, a.now), nil
}

// parsePorcelain walks git blame line-porcelain output: a commit header
// line, attribute lines, then the tab-prefixed content line.
func parsePorcelain(out *bytes.Buffer, now time.Time) []Annotation {
	var (
		annotations []Annotation
		curr        Annotation
	)

	scanner := bufio.NewScanner(out)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case strings.HasPrefix(line, "\t"):
			curr.Text = line[1:]
			annotations = append(annotations, curr)
			curr = Annotation{Commit: curr.Commit, Author: curr.Author, HasOwner: curr.HasOwner, HasAge: curr.HasAge, AgeDays: curr.AgeDays}

		case strings.HasPrefix(line, "author "):
			curr.Author = line[len("author "):]

		case strings.HasPrefix(line, "author-time "):
			if secs, err := strconv.ParseInt(line[len("author-time "):], 10, 64); err == nil {
				age := int(now.Sub(time.Unix(secs, 0)).Hours() / 24)
				if age < 0 {
					age = 0
				}

				curr.HasAge = true
				curr.AgeDays = age
			}

		default:
			fields := strings.Fields(line)
			if len(fields) >= 3 && len(fields[0]) == 40 {
				curr = Annotation{Commit: fields[0], HasOwner: fields[0] != zeroSHA}
			}
		}
	}

	return annotations
}
