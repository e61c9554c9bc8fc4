package actors

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

// shellActor runs its argument as a POSIX shell script in-process.
type shellActor struct {
	dir    string
	env    []string
	parser *syntax.Parser
}

func buildShell(params Params) (Factory, error) {
	dir, err := params.String("dir", "")
	if err != nil {
		return nil, err
	}
	extra, err := params.StringMap("env")
	if err != nil {
		return nil, err
	}
	inherit, err := params.String("inherit_env", "true")
	if err != nil {
		return nil, err
	}

	var env []string
	if inherit != "false" {
		env = append(env, os.Environ()...)
	}
	for k, v := range extra {
		env = append(env, k+"="+v)
	}

	return func(context.Context) (Actor, error) {
		return &shellActor{dir: dir, env: env, parser: syntax.NewParser()}, nil
	}, nil
}

// Consume parses the argument as a script and returns its trimmed stdout.
// A non-zero exit status is reported with the captured stderr.
func (a *shellActor) Consume(ctx context.Context, argument any) (any, error) {
	script, ok := argument.(string)
	if !ok {
		return nil, fmt.Errorf("shell: argument must be a script string, got %T", argument)
	}

	file, err := a.parser.Parse(strings.NewReader(script), "task.sh")
	if err != nil {
		return nil, fmt.Errorf("shell: parse: %w", err)
	}

	var stdout, stderr bytes.Buffer
	opts := []interp.RunnerOption{
		interp.StdIO(nil, &stdout, &stderr),
		interp.Env(expand.ListEnviron(a.env...)),
	}
	if a.dir != "" {
		opts = append(opts, interp.Dir(a.dir))
	}
	runner, err := interp.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("shell: init: %w", err)
	}

	if err := runner.Run(ctx, file); err != nil {
		var status interp.ExitStatus
		if errors.As(err, &status) {
			return nil, fmt.Errorf("shell: exit status %d: %s", uint8(status), strings.TrimSpace(stderr.String()))
		}
		return nil, fmt.Errorf("shell: %w", err)
	}
	return strings.TrimSpace(stdout.String()), nil
}

func (a *shellActor) Stop(context.Context) error { return nil }
