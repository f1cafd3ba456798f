package commands

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/haatos/simple-cd/internal"
	"github.com/haatos/simple-cd/internal/cache"
	"github.com/haatos/simple-cd/internal/executor"
	"github.com/haatos/simple-cd/internal/types"
)

type CacheCmd struct {
	Key   CacheKeyCmd   `cmd:"" help:"Print the cache key of a checkout"`
	Prune CachePruneCmd `cmd:"" help:"Delete cache entries older than the retention period"`
}

type CacheKeyCmd struct {
	Dir      string   `arg:"" help:"Checkout directory" type:"existingdir" default:"."`
	Manifest []string `help:"Manifest glob relative to the checkout" short:"m" default:"Cargo.lock"`
	Name     string   `help:"Cache name" short:"n"`
	Platform string   `help:"Platform component of the key, defaults to the host OS" short:"p"`
}

func (c *CacheKeyCmd) Run(ctx *cliCtx) error {
	root, err := filepath.Abs(c.Dir)
	if err != nil {
		return err
	}
	key, err := cache.ComputeKey(executor.LocalFS{}, filepath.ToSlash(root), &types.CacheSpec{
		Name:      c.Name,
		Platform:  c.Platform,
		Manifests: c.Manifest,
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(ctx.Out, key)
	return nil
}

var errCacheUnavailable = errors.New("cache store is unavailable")

type CachePruneCmd struct {
	OlderThan time.Duration `help:"Maximum entry age, defaults to cache_retention_hours from config.json"`
}

func (c *CachePruneCmd) Run(ctx *cliCtx) error {
	a, err := ctx.openApp()
	if err != nil {
		return err
	}
	defer a.Close()
	if a.Cache == nil {
		return errCacheUnavailable
	}

	maxAge := c.OlderThan
	if maxAge <= 0 {
		maxAge = internal.Config.CacheRetentionHours.Duration()
	}
	n, err := a.Cache.Prune(ctx, maxAge)
	if err != nil {
		return err
	}
	fmt.Fprintf(ctx.Out, "pruned %d cache entries\n", n)
	return nil
}
