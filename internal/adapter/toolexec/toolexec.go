// Package toolexec invokes external security tools as subprocesses.
// Phase executors stay thin wrappers: the tool does the work, this
// package handles lookup, timeout and output capture.
package toolexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// ErrToolUnavailable marks a tool that is not installed on PATH.
var ErrToolUnavailable = errors.New("tool not available")

// Result captures one tool invocation.
type Result struct {
	Command  string
	Args     []string
	Stdout   []byte
	Stderr   []byte
	Duration time.Duration
}

// Lines splits stdout into trimmed, non-empty lines.
func (r Result) Lines() []string {
	var out []string
	for _, line := range strings.Split(string(r.Stdout), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

type Runner struct{}

func NewRunner() *Runner { return &Runner{} }

// Available reports whether the named tool can be found on PATH.
func (r *Runner) Available(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

// Run executes the tool with the given timeout. The process is killed
// when the deadline passes; a missing binary returns ErrToolUnavailable.
func (r *Runner) Run(ctx context.Context, name string, args []string, timeout time.Duration) (Result, error) {
	if _, err := exec.LookPath(name); err != nil {
		return Result{}, fmt.Errorf("%w: %s", ErrToolUnavailable, name)
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	l := log.WithFields(log.Fields{"tool": name, "args": args})
	l.Debug("Running external tool")

	start := time.Now()
	err := cmd.Run()
	res := Result{
		Command:  name,
		Args:     args,
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Duration: time.Since(start),
	}

	if ctx.Err() != nil {
		return res, fmt.Errorf("run %s: %w", name, ctx.Err())
	}
	if err != nil {
		return res, fmt.Errorf("run %s: %w", name, err)
	}

	l.WithField("duration", res.Duration).Debug("Tool finished")
	return res, nil
}
