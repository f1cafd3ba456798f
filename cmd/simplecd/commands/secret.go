package commands

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/haatos/simple-cd/internal"
	"golang.org/x/term"
)

type SecretCmd struct {
	Set SecretSetCmd `cmd:"" help:"Store a secret, reading the value from the terminal or stdin"`
	Rm  SecretRmCmd  `cmd:"" help:"Delete a stored secret"`
	Ls  SecretLsCmd  `cmd:"" help:"List stored secret names"`
}

type SecretSetCmd struct {
	Name string `arg:"" help:"Secret name, usable as an environment variable name"`
}

func (c *SecretSetCmd) Run(ctx *cliCtx) error {
	value, err := readSecretValue(os.Stdin, os.Stderr, c.Name)
	if err != nil {
		return err
	}
	a, err := ctx.openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.SecretService.SetSecret(ctx, c.Name, value); err != nil {
		return err
	}
	ctx.Logger.Info("secret stored")
	return nil
}

// readSecretValue prompts without echo when in is a terminal and reads a
// single line otherwise.
func readSecretValue(in *os.File, prompt io.Writer, name string) (string, error) {
	if term.IsTerminal(int(in.Fd())) {
		fmt.Fprintf(prompt, "value for %s: ", name)
		b, err := term.ReadPassword(int(in.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	return readLine(in)
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("no secret value on stdin")
	}
	return line, nil
}

type SecretRmCmd struct {
	Name string `arg:"" help:"Secret name"`
}

func (c *SecretRmCmd) Run(ctx *cliCtx) error {
	a, err := ctx.openApp()
	if err != nil {
		return err
	}
	defer a.Close()
	return a.SecretService.DeleteSecret(ctx, c.Name)
}

type SecretLsCmd struct{}

func (c *SecretLsCmd) Run(ctx *cliCtx) error {
	a, err := ctx.openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	list, err := a.SecretService.ListSecrets(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(ctx.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tUPDATED")
	for _, s := range list {
		fmt.Fprintf(tw, "%s\t%s\n", s.Name, s.UpdatedOn.Format(internal.DBTimestampLayout))
	}
	return tw.Flush()
}
