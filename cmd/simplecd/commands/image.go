package commands

import (
	"fmt"

	"github.com/haatos/simple-cd/internal/image"
)

type ImageCmd struct {
	Render ImageRenderCmd `cmd:"" help:"Print the Dockerfile generated from a recipe"`
	Build  ImageBuildCmd  `cmd:"" help:"Build, and optionally push, the image of a recipe"`
}

type ImageRenderCmd struct {
	Recipe string `arg:"" help:"Image recipe file" type:"existingfile"`
}

func (c *ImageRenderCmd) Run(ctx *cliCtx) error {
	r, err := image.LoadRecipe(c.Recipe)
	if err != nil {
		return err
	}
	if err := r.Validate(); err != nil {
		return err
	}
	dockerfile := r.Dockerfile()
	if err := image.CheckIsolation(dockerfile); err != nil {
		return err
	}
	fmt.Fprint(ctx.Out, dockerfile)
	return nil
}

type ImageBuildCmd struct {
	Recipe  string `arg:"" help:"Image recipe file" type:"existingfile"`
	Context string `help:"Build context directory" type:"existingdir" default:"."`
	Tag     string `help:"Image tag" short:"t" required:""`
	Push    bool   `help:"Push the tag after a successful build"`
}

func (c *ImageBuildCmd) Run(ctx *cliCtx) error {
	r, err := image.LoadRecipe(c.Recipe)
	if err != nil {
		return err
	}
	a, err := ctx.openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	return image.NewBuilder(a.Executor, ctx.Logger).Build(ctx, r, image.BuildOptions{
		ContextDir: c.Context,
		Tag:        c.Tag,
		Push:       c.Push,
	}, ctx.Out)
}
