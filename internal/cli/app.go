package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"

	"github.com/klauern/usersync/internal/config"
	"github.com/klauern/usersync/internal/logging"
	"github.com/klauern/usersync/internal/remote"
	"github.com/klauern/usersync/internal/repository"
	"github.com/klauern/usersync/internal/store"
	"github.com/klauern/usersync/internal/store/sqlite"
	"github.com/klauern/usersync/internal/telemetry"
	"github.com/klauern/usersync/internal/ui"
	"github.com/klauern/usersync/internal/usecase"
)

// sqliteFileName is the database file inside the cache directory.
const sqliteFileName = "usersync.db"

// loadConfig loads the config named by --config, or the default one.
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path := cmd.String("config"); path != "" {
		cfg, err = config.LoadFromPath(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if !cmd.Bool("no-color") {
		if err := ui.ApplyColorMode(cfg.Output.Color); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// app holds the wired collaborators of one command invocation.
type app struct {
	cfg      *config.Config
	store    store.Store
	repo     *repository.Repository
	users    *usecase.UserUsecase
	closers  []func() error
	shutdown telemetry.Shutdown
}

// openApp wires the configured store and remote source into a repository and
// a use case. Extra use case options are applied after the configured ones.
func openApp(ctx context.Context, cmd *cli.Command, opts ...usecase.Option) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	shutdown, err := telemetry.Setup(ctx, "usersync", cfg.Telemetry)
	if err != nil {
		logging.Warn("telemetry disabled", logging.Err(err))
		shutdown = func(context.Context) error { return nil }
	}

	a := &app{cfg: cfg, shutdown: shutdown}

	st, closer, err := openStore(cfg)
	if err != nil {
		_ = shutdown(ctx)
		return nil, err
	}
	a.store = st
	if closer != nil {
		a.closers = append(a.closers, closer)
	}

	repoOpts := []repository.Option{repository.WithCollection(cfg.Cache.Key)}
	if cfg.Sync.SerializeCalls {
		repoOpts = append(repoOpts, repository.WithSerializedCalls())
	}
	src := remote.NewHTTPSource(cfg.RemoteOptions())
	repo, err := repository.New(src, st, repoOpts...)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.repo = repo

	ucOpts := []usecase.Option{usecase.WithDelivery(cfg.Delivery.Enabled)}
	a.users = usecase.New(repo, append(ucOpts, opts...)...)

	logging.Debug("usersync wired",
		logging.Backend(cfg.Cache.Backend),
		logging.Collection(cfg.Cache.Key),
		logging.URL(src.UsersURL()),
	)
	return a, nil
}

// Close stops the use case and the repository, then releases the store.
func (a *app) Close() error {
	if a.users != nil {
		a.users.Close()
	}
	if a.repo != nil {
		a.repo.Close()
	}
	var errs []error
	for _, closer := range a.closers {
		errs = append(errs, closer())
	}
	if a.shutdown != nil {
		errs = append(errs, a.shutdown(context.Background()))
	}
	return errors.Join(errs...)
}

// openStore opens the configured cache backend.
func openStore(cfg *config.Config) (store.Store, func() error, error) {
	switch cfg.Cache.Backend {
	case config.BackendMemory:
		return store.NewMemory(store.WithKey(cfg.Cache.Key)), nil, nil
	case config.BackendSQLite:
		if err := os.MkdirAll(cfg.CacheDir(), 0o750); err != nil {
			return nil, nil, fmt.Errorf("create cache dir: %w", err)
		}
		st, err := sqlite.Open(filepath.Join(cfg.CacheDir(), sqliteFileName), sqlite.WithKey(cfg.Cache.Key))
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite cache: %w", err)
		}
		return st, st.Close, nil
	default:
		st, err := store.OpenDir(cfg.CacheDir(), store.WithKey(cfg.Cache.Key))
		if err != nil {
			return nil, nil, fmt.Errorf("open file cache: %w", err)
		}
		return st, nil, nil
	}
}

// storeLocation describes where the configured backend keeps its data.
func storeLocation(cfg *config.Config) string {
	switch cfg.Cache.Backend {
	case config.BackendMemory:
		return "(memory)"
	case config.BackendSQLite:
		return filepath.Join(cfg.CacheDir(), sqliteFileName)
	default:
		return filepath.Join(cfg.CacheDir(), store.DefaultFileName)
	}
}
