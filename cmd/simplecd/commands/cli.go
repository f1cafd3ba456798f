package commands

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/haatos/simple-cd/internal"
	"github.com/haatos/simple-cd/internal/app"
	"github.com/haatos/simple-cd/internal/logging"
	"github.com/haatos/simple-cd/internal/settings"
	"go.uber.org/zap"
)

type cliCtx struct {
	context.Context
	Logger *zap.Logger
	Out    io.Writer
}

// openApp wires the same components the server uses.
func (c *cliCtx) openApp() (*app.App, error) {
	return app.New(c, settings.Settings, c.Logger)
}

type cli struct {
	Debug bool `help:"Enable debug logging"`

	Run    RunCmd    `cmd:"" help:"Run a build pipeline locally"`
	Deploy DeployCmd `cmd:"" help:"Run a deploy pipeline locally"`
	Cache  CacheCmd  `cmd:"" help:"Inspect and prune the dependency cache"`
	Image  ImageCmd  `cmd:"" help:"Render or build a two-stage image recipe"`
	Secret SecretCmd `cmd:"" help:"Manage stored secrets"`
	APIKey APIKeyCmd `cmd:"" name:"apikey" help:"Manage webhook api keys"`
}

func Execute() {
	var cli cli
	kctx := kong.Parse(&cli,
		kong.UsageOnError(),
		kong.Name("simplecd"),
		kong.Description("simplecd runs build, deploy and image pipelines"),
	)

	if err := settings.ReadDotenv(internal.DotEnvPath); err != nil {
		kctx.FatalIfErrorf(err)
	}
	settings.Settings = settings.NewSettings()
	kctx.FatalIfErrorf(internal.InitializeConfiguration(internal.ConfigPath))

	logger, err := logging.NewCLI(cli.Debug || settings.Settings.Debug)
	kctx.FatalIfErrorf(err)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = kctx.Run(&cliCtx{Context: ctx, Logger: logger, Out: os.Stdout})
	stop()
	_ = logger.Sync()
	kctx.FatalIfErrorf(err)
}
