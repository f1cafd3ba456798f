package pipeline

import (
	"context"
	"io"
	"strings"

	"github.com/haatos/simple-cd/internal/executor"
	"github.com/haatos/simple-cd/internal/types"
	"github.com/haatos/simple-cd/internal/util"
)

// VariableValueEnv carries the value of a variable being set so that it
// never appears in a command line.
const VariableValueEnv = "SIMPLECD_VARIABLE_VALUE"

func DefaultPlatformCommands() types.PlatformCommands {
	return types.PlatformCommands{
		Link:        "railway link --project {project} --service {service}",
		Select:      "railway service {service}",
		SetVariable: "railway variables --service {service} --set {name}={value}",
		Publish:     "railway up --service {service} --detach",
	}
}

// PlatformFactory builds the Platform a deploy run talks to. dir is the
// checked out repository and env the run's scoped environment.
type PlatformFactory func(cmds *types.PlatformCommands, dir string, env []string, out io.Writer) Platform

// CLIPlatform runs platform command templates through an executor.
type CLIPlatform struct {
	exec executor.Executor
	cmds types.PlatformCommands
	dir  string
	env  []string
	out  io.Writer
}

func NewCLIPlatformFactory(ex executor.Executor) PlatformFactory {
	return func(cmds *types.PlatformCommands, dir string, env []string, out io.Writer) Platform {
		return NewCLIPlatform(ex, cmds, dir, env, out)
	}
}

// NewCLIPlatform fills templates missing from cmds with the defaults.
func NewCLIPlatform(ex executor.Executor, cmds *types.PlatformCommands, dir string, env []string, out io.Writer) *CLIPlatform {
	merged := DefaultPlatformCommands()
	if cmds != nil {
		if cmds.Link != "" {
			merged.Link = cmds.Link
		}
		if cmds.Select != "" {
			merged.Select = cmds.Select
		}
		if cmds.SetVariable != "" {
			merged.SetVariable = cmds.SetVariable
		}
		if cmds.Publish != "" {
			merged.Publish = cmds.Publish
		}
	}
	return &CLIPlatform{exec: ex, cmds: merged, dir: dir, env: env, out: out}
}

// render substitutes shell quoted values for the placeholders. {value}
// expands to a reference to VariableValueEnv instead of the value itself.
func render(tmpl string, vars map[string]string) string {
	pairs := make([]string, 0, 2*len(vars)+2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", util.ShellQuote(v))
	}
	pairs = append(pairs, "{value}", `"$`+VariableValueEnv+`"`)
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

func (p *CLIPlatform) run(ctx context.Context, script string, extraEnv ...string) error {
	env := append(append([]string(nil), p.env...), extraEnv...)
	return p.exec.Exec(ctx, executor.Command{Dir: p.dir, Script: script, Env: env}, p.out)
}

func (p *CLIPlatform) Link(ctx context.Context, project, service string) error {
	return p.run(ctx, render(p.cmds.Link, map[string]string{"project": project, "service": service}))
}

func (p *CLIPlatform) SelectService(ctx context.Context, service string) error {
	return p.run(ctx, render(p.cmds.Select, map[string]string{"service": service}))
}

func (p *CLIPlatform) SetVariable(ctx context.Context, service, name, value string) error {
	script := render(p.cmds.SetVariable, map[string]string{"service": service, "name": name})
	return p.run(ctx, script, VariableValueEnv+"="+value)
}

func (p *CLIPlatform) Publish(ctx context.Context, service string) error {
	return p.run(ctx, render(p.cmds.Publish, map[string]string{"service": service}))
}
