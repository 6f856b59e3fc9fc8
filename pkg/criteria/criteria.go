// Package criteria evaluates the user's coverage criteria program against
// every summary node and folds the verdicts into the process exit status.
package criteria

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/fatih/color"

	"github.com/Sumatoshi-tech/deltacov/pkg/summary"
	"github.com/Sumatoshi-tech/deltacov/pkg/tla"
)

// Verdict is the outcome for one node.
type Verdict struct {
	Name     string
	Kind     summary.NodeKind
	Passed   bool
	Messages []string
}

// Runner invokes the external criteria program. The program receives the
// node name, node kind, and the JSON summary as arguments; its stdout is
// collected verbatim and a non-zero exit marks the node failed.
type Runner struct {
	command  []string
	verdicts []Verdict
}

// NewRunner builds a Runner for the given command line. An empty command
// disables evaluation: every node passes.
func NewRunner(command []string) *Runner {
	return &Runner{command: command}
}

// Enabled reports whether a criteria program is configured.
func (r *Runner) Enabled() bool {
	return len(r.command) > 0
}

// Evaluate runs the program for one node and records the verdict.
func (r *Runner) Evaluate(ctx context.Context, name string, sum *summary.Summary) error {
	if !r.Enabled() {
		return nil
	}

	payload, err := json.Marshal(Payload(sum))
	if err != nil {
		return fmt.Errorf("marshal summary for %s: %w", name, err)
	}

	args := append(append([]string{}, r.command[1:]...), name, sum.Kind.String(), string(payload))

	cmd := exec.CommandContext(ctx, r.command[0], args...)

	// Only stdout is part of the message contract; stderr is the
	// program's own diagnostic channel and stays out of the verdict.
	var out, errBuf bytes.Buffer

	cmd.Stdout = &out
	cmd.Stderr = &errBuf

	runErr := cmd.Run()

	verdict := Verdict{Name: name, Kind: sum.Kind, Passed: runErr == nil}

	for _, line := range strings.Split(strings.TrimRight(out.String(), "\n"), "\n") {
		if line != "" {
			verdict.Messages = append(verdict.Messages, line)
		}
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return fmt.Errorf("run criteria for %s: %w: %s",
				name, runErr, strings.TrimSpace(errBuf.String()))
		}
	}

	r.verdicts = append(r.verdicts, verdict)

	return nil
}

// Failed reports whether any node failed its criteria.
func (r *Runner) Failed() bool {
	for _, v := range r.verdicts {
		if !v.Passed {
			return true
		}
	}

	return false
}

// Verdicts returns the recorded outcomes in evaluation order.
func (r *Runner) Verdicts() []Verdict {
	return r.verdicts
}

// Finish prints the collected verdicts: messages and failures to stdout,
// failures additionally to stderr.
func (r *Runner) Finish(stdout, stderr io.Writer) {
	failColor := color.New(color.FgRed)

	for _, v := range r.verdicts {
		for _, msg := range v.Messages {
			fmt.Fprintf(stdout, "%s (%s): %s\n", v.Name, v.Kind, msg)
		}

		if !v.Passed {
			fmt.Fprintf(stdout, "%s (%s): criteria %s\n", v.Name, v.Kind, failColor.Sprint("failed"))
			fmt.Fprintf(stderr, "criteria failed: %s (%s)\n", v.Name, v.Kind)
		}
	}
}

// Payload shapes a summary for the JSON boundary: per coverage kind, found
// and hit plus one entry per category name.
func Payload(sum *summary.Summary) map[string]map[string]uint64 {
	kind := func(c *summary.Counts) map[string]uint64 {
		out := map[string]uint64{
			"found": c.Found,
			"hit":   c.Hit,
		}

		for _, cat := range tla.All() {
			out[cat.String()] = c.PerTLA[cat]
		}

		return out
	}

	return map[string]map[string]uint64{
		"line":     kind(&sum.Line),
		"branch":   kind(&sum.Branch),
		"function": kind(&sum.Function),
	}
}
