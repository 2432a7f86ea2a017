package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/klauern/usersync/internal/export"
	"github.com/klauern/usersync/internal/logging"
	"github.com/klauern/usersync/internal/model"
	"github.com/klauern/usersync/internal/progress"
	"github.com/klauern/usersync/internal/ui/tui"
	"github.com/klauern/usersync/internal/usecase"
)

func formatFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format (table, json, yaml, cards); defaults to output.format",
	}
}

func syncCommand() *cli.Command {
	return &cli.Command{
		Name:      "sync",
		Usage:     "Show cached users, then sync them from the remote source",
		UsageText: "usersync sync [options]",
		Description: `Print the cached collection right away when there is one, then fetch
   the remote collection, store it, and print it as well.

   A remote failure is only reported when nothing was cached.

   Examples:
     usersync sync
     usersync sync --format json`,
		Flags: []cli.Flag{formatFlag()},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runUsers(ctx, cmd, "Syncing users", func(uc *usecase.UserUsecase) func(context.Context, usecase.Callback) <-chan struct{} {
				return uc.LoadUsersCachedThenSync
			})
		},
	}
}

func refreshCommand() *cli.Command {
	return &cli.Command{
		Name:      "refresh",
		Usage:     "Fetch users from the remote source and replace the cache",
		UsageText: "usersync refresh [options]",
		Flags:     []cli.Flag{formatFlag()},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runUsers(ctx, cmd, "Refreshing users", func(uc *usecase.UserUsecase) func(context.Context, usecase.Callback) <-chan struct{} {
				return uc.RefreshUsers
			})
		},
	}
}

// emissionPrinter renders delivered results and remembers the last failure.
type emissionPrinter struct {
	exporter *export.Exporter
	spinner  *progress.Spinner
	printed  int
	failure  error
}

func (p *emissionPrinter) deliver(res usecase.Result) {
	// Only the cache emission can be followed by another one.
	if res.Err != nil || res.Origin != model.OriginCache {
		_ = p.spinner.Stop()
	}
	if res.Err != nil {
		p.failure = res.Err
		return
	}
	if p.printed > 0 {
		fmt.Println()
	}
	p.printed++
	if err := p.exporter.Export(res.Users, res.Origin, os.Stdout); err != nil {
		p.failure = err
	}
}

func runUsers(ctx context.Context, cmd *cli.Command, desc string, pick func(*usecase.UserUsecase) func(context.Context, usecase.Callback) <-chan struct{}) error {
	a, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logging.Warn("shutdown failed", logging.Err(err))
		}
	}()

	format, err := resolveFormat(cmd, a.cfg.Output.Format)
	if err != nil {
		return err
	}

	printer := &emissionPrinter{
		exporter: export.New(export.Options{Format: format, Pretty: true}),
		spinner:  progress.Start(progress.Options{Description: desc, Writer: os.Stderr}),
	}
	defer func() { _ = printer.spinner.Stop() }()

	done := pick(a.users)(ctx, printer.deliver)
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if printer.failure != nil {
		return describeFailure(printer.failure)
	}
	return nil
}

func resolveFormat(cmd *cli.Command, fallback string) (export.Format, error) {
	name := cmd.String("format")
	if name == "" {
		name = fallback
	}
	return export.ParseFormat(name)
}

// describeFailure turns a delivered failure into a command error.
func describeFailure(err error) error {
	kind, ok := usecase.KindOf(err)
	if !ok {
		return err
	}
	switch kind {
	case usecase.KindNetwork:
		return fmt.Errorf("could not reach the remote source and no users are cached: %w", err)
	case usecase.KindStore:
		return fmt.Errorf("cache unavailable: %w", err)
	default:
		return err
	}
}

func browseCommand() *cli.Command {
	return &cli.Command{
		Name:  "browse",
		Usage: "Browse users interactively",
		Description: `Open an interactive list of users. Cached users show up first and are
   replaced once the remote collection arrives. Press r to refresh.`,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			exec := tui.NewProgramExecutor()
			a, err := openApp(ctx, cmd, usecase.WithExecutor(exec))
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(); err != nil {
					logging.Warn("shutdown failed", logging.Err(err))
				}
			}()

			final, err := tui.Browse(ctx, a.users, exec)
			if err != nil {
				return fmt.Errorf("browse: %w", err)
			}
			if failure := final.Err(); failure != nil && len(final.Users()) == 0 {
				return describeFailure(failure)
			}
			return nil
		},
	}
}
