package commands

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/haatos/simple-cd/internal/pipeline"
	"github.com/haatos/simple-cd/internal/service"
	"github.com/haatos/simple-cd/internal/settings"
	"github.com/haatos/simple-cd/internal/types"
)

var errRunFailed = errors.New("pipeline run did not pass")

type RunCmd struct {
	File     string `arg:"" help:"Pipeline definition file" type:"existingfile"`
	Branch   string `help:"Target branch of the change, defaults to the pipeline's default branch" short:"b"`
	Revision string `help:"Revision to check out" short:"r"`
}

func (c *RunCmd) Run(ctx *cliCtx) error {
	def, err := types.LoadPipeline(c.File)
	if err != nil {
		return err
	}
	if def.IsDeploy() {
		return fmt.Errorf("%s is a deploy pipeline, use simplecd deploy", def.Name)
	}
	a, err := ctx.openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	event := types.Event{
		Kind:     types.PullRequest,
		Branch:   c.Branch,
		Revision: c.Revision,
	}
	if event.Branch == "" {
		event.Branch = def.Branch()
	}
	runDir := service.RunDir(settings.Settings.Workspace, def.Name, "local", time.Now())
	res, err := a.BuildRunner.Run(ctx, def, event, runDir, ctx.Out)
	return report(ctx.Out, res, err)
}

type DeployCmd struct {
	File  string            `arg:"" help:"Pipeline definition file" type:"existingfile"`
	Input map[string]string `help:"Dispatch input as name=value" short:"i"`
}

func (c *DeployCmd) Run(ctx *cliCtx) error {
	def, err := types.LoadPipeline(c.File)
	if err != nil {
		return err
	}
	if !def.IsDeploy() {
		return fmt.Errorf("%s is not a deploy pipeline, use simplecd run", def.Name)
	}
	inputs, err := def.Trigger.ResolveInputs(c.Input)
	if err != nil {
		return err
	}
	a, err := ctx.openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	event := types.Event{
		Kind:   types.ManualDispatch,
		Branch: def.Branch(),
		Inputs: inputs,
	}
	runDir := service.RunDir(settings.Settings.Workspace, def.Name, "local", time.Now())
	res, err := a.DeployRunner.Run(ctx, def, event, runDir, ctx.Out)
	return report(ctx.Out, res, err)
}

// report prints the step summary and returns an error unless the run
// passed.
func report(out io.Writer, res *pipeline.Result, err error) error {
	if res == nil {
		if err == nil {
			err = errRunFailed
		}
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\nSTEP\tSTATUS\tDURATION\tNOTE")
	for _, s := range res.Steps {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.Name, s.Status, s.Duration.Round(time.Millisecond), s.Note)
	}
	tw.Flush()
	if res.CacheKey != "" {
		fmt.Fprintf(out, "cache key: %s\n", res.CacheKey)
	}
	if len(res.Variables) > 0 {
		fmt.Fprintf(out, "variables applied: %v\n", res.Variables)
	}
	fmt.Fprintf(out, "status: %s\n", res.Status)

	if res.Status == types.StatusPassed {
		return nil
	}
	if err == nil {
		err = errRunFailed
	}
	if res.FailedStep != "" {
		return fmt.Errorf("step %s failed (%s): %w", res.FailedStep, res.Kind, err)
	}
	return err
}
