package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/klauern/usersync/internal/config"
	"github.com/klauern/usersync/internal/export"
	"github.com/klauern/usersync/internal/logging"
	"github.com/klauern/usersync/internal/store"
	"github.com/klauern/usersync/internal/ui"
	"github.com/klauern/usersync/internal/usecase"
)

func configCommand() *cli.Command {
	// Without a subcommand, config behaves like config show.
	fallback := configShowCommand()
	return &cli.Command{
		Name:   "config",
		Usage:  "Inspect and initialize configuration",
		Action: fallback.Action,
		Flags:  fallback.Flags,
		Commands: []*cli.Command{
			configShowCommand(),
			{
				Name:  "path",
				Usage: "Print the config file and cache locations",
				Action: func(_ context.Context, cmd *cli.Command) error {
					cfg, err := loadConfig(cmd)
					if err != nil {
						return err
					}
					path := cmd.String("config")
					if path == "" {
						path = config.FilePath()
					}
					fmt.Printf("config: %s\n", path)
					fmt.Printf("cache:  %s (%s)\n", storeLocation(cfg), cfg.Cache.Backend)
					return nil
				},
			},
			{
				Name:  "init",
				Usage: "Write the default configuration file",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "force",
						Usage: "Overwrite an existing config file",
					},
				},
				Action: func(_ context.Context, cmd *cli.Command) error {
					path := cmd.String("config")
					if path == "" {
						path = config.FilePath()
					}
					if _, err := os.Stat(path); err == nil && !cmd.Bool("force") {
						return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
					}
					if err := config.Default().SaveToPath(path); err != nil {
						return fmt.Errorf("write config: %w", err)
					}
					fmt.Println(ui.StatusSuccess("Wrote " + path))
					return nil
				},
			},
		},
	}
}

func configShowCommand() *cli.Command {
	return &cli.Command{
		Name:  "show",
		Usage: "Print the effective configuration",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "format",
				Aliases: []string{"f"},
				Value:   "yaml",
				Usage:   "Output format (yaml, json)",
			},
		},
		Action: func(_ context.Context, cmd *cli.Command) error {
			format := cmd.String("format")
			if format != "yaml" && format != "json" {
				return fmt.Errorf("unsupported format: %s (valid: yaml, json)", format)
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if format == "json" {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(cfg)
			}
			enc := yaml.NewEncoder(os.Stdout)
			enc.SetIndent(2)
			if err := enc.Encode(cfg); err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			return enc.Close()
		},
	}
}

func cacheCommand() *cli.Command {
	return &cli.Command{
		Name:  "cache",
		Usage: "Inspect or clear the local user cache",
		Commands: []*cli.Command{
			{
				Name:  "show",
				Usage: "Print the cached users without contacting the remote source",
				Flags: []cli.Flag{formatFlag()},
				Action: func(ctx context.Context, cmd *cli.Command) error {
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
					exporter := export.New(export.Options{Format: format, Pretty: true})

					var (
						result usecase.Result
						got    bool
					)
					done := a.users.LoadCachedUsers(ctx, func(res usecase.Result) {
						result, got = res, true
					})
					select {
					case <-done:
					case <-ctx.Done():
						return ctx.Err()
					}
					if !got {
						return errors.New("cache read produced no result")
					}

					if result.Err != nil {
						if errors.Is(result.Err, store.ErrLoad) {
							fmt.Println(ui.StatusWarning("No cached users at " + storeLocation(a.cfg)))
							return nil
						}
						return describeFailure(result.Err)
					}
					return exporter.Export(result.Users, result.Origin, os.Stdout)
				},
			},
			{
				Name:  "clear",
				Usage: "Remove the cached users",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					a, err := openApp(ctx, cmd)
					if err != nil {
						return err
					}
					defer func() {
						if err := a.Close(); err != nil {
							logging.Warn("shutdown failed", logging.Err(err))
						}
					}()

					if a.cfg.Cache.Backend == config.BackendMemory {
						fmt.Println(ui.StatusSkipped("Memory cache is not persisted; nothing to clear"))
						return nil
					}
					if err := a.repo.ClearCache(ctx); err != nil {
						return fmt.Errorf("clear cache: %w", err)
					}
					logging.Info("cache cleared",
						logging.Backend(a.cfg.Cache.Backend),
						logging.Path(storeLocation(a.cfg)),
					)
					fmt.Println(ui.StatusSuccess("Cleared cache at " + storeLocation(a.cfg)))
					return nil
				},
			},
		},
	}
}
