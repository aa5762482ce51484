// Package vulnscan implements the vulnerability analysis phase by
// shelling out to a configured scanner binary (nuclei by default). The
// tool's output is carried through as opaque lines; interpreting a
// specific tool's format is out of scope here.
package vulnscan

import (
	"context"
	"errors"
	"time"

	"bytemomo/redstorm/internal/adapter/toolexec"
	"bytemomo/redstorm/internal/domain"
	"bytemomo/redstorm/internal/pipeline"
)

const defaultTimeout = 10 * time.Minute

type Executor struct {
	tools *toolexec.Runner
}

func New(tools *toolexec.Runner) *Executor {
	return &Executor{tools: tools}
}

func (e *Executor) Name() string { return "vulnerability" }

func (e *Executor) Execute(ctx context.Context, target string, opts domain.PhaseOptions) (map[string]any, error) {
	command := pipeline.ParamString(opts.Params, "command", "nuclei")
	targetFlag := pipeline.ParamString(opts.Params, "target_flag", "-u")
	args := append(pipeline.ParamStrings(opts.Params, "args"), targetFlag, target)

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	if opts.Progress != nil {
		opts.Progress(map[string]any{"status": "vulnerability_scan", "message": "Running " + command + "..."})
	}

	res, err := e.tools.Run(ctx, command, args, timeout)
	if err != nil {
		if errors.Is(err, toolexec.ErrToolUnavailable) {
			return nil, domain.NewPhaseError(e.Name(), "scanner %q is not installed", command)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, domain.NewPhaseError(e.Name(), "scanner %q failed: %v", command, err)
	}

	findings := res.Lines()
	return map[string]any{
		"target":   target,
		"tool":     command,
		"findings": findings,
		"count":    len(findings),
		"duration": res.Duration.String(),
	}, nil
}
