package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/haatos/simple-cd/internal"
)

type APIKeyCmd struct {
	Create APIKeyCreateCmd `cmd:"" help:"Create an api key for webhooks and dispatch"`
	Ls     APIKeyLsCmd     `cmd:"" help:"List api keys"`
	Rm     APIKeyRmCmd     `cmd:"" help:"Delete an api key"`
}

type APIKeyCreateCmd struct{}

func (c *APIKeyCreateCmd) Run(ctx *cliCtx) error {
	a, err := ctx.openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ak, value, err := a.APIKeyService.CreateAPIKey(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(ctx.Out, "id %d, shown once\n%s: %s\n", ak.ID, internal.WebhookTriggerKeyHeader, value)
	return nil
}

type APIKeyLsCmd struct{}

func (c *APIKeyLsCmd) Run(ctx *cliCtx) error {
	a, err := ctx.openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	keys, err := a.APIKeyService.ListAPIKeys(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(ctx.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tLAST USED")
	for _, ak := range keys {
		lastUsed := "never"
		if ak.LastUsedOn != nil {
			lastUsed = ak.LastUsedOn.Format(internal.DBTimestampLayout)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\n", ak.ID, ak.CreatedOn.Format(internal.DBTimestampLayout), lastUsed)
	}
	return tw.Flush()
}

type APIKeyRmCmd struct {
	ID int64 `arg:"" help:"API key id"`
}

func (c *APIKeyRmCmd) Run(ctx *cliCtx) error {
	a, err := ctx.openApp()
	if err != nil {
		return err
	}
	defer a.Close()
	return a.APIKeyService.DeleteAPIKey(ctx, c.ID)
}
