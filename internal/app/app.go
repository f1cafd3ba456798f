// Package app wires settings, storage, executors and services into the
// components both binaries run.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	"github.com/haatos/simple-cd/internal"
	"github.com/haatos/simple-cd/internal/cache"
	"github.com/haatos/simple-cd/internal/executor"
	"github.com/haatos/simple-cd/internal/pipeline"
	"github.com/haatos/simple-cd/internal/secrets"
	"github.com/haatos/simple-cd/internal/security"
	"github.com/haatos/simple-cd/internal/service"
	"github.com/haatos/simple-cd/internal/settings"
	"github.com/haatos/simple-cd/internal/store"
	"go.uber.org/zap"
)

type App struct {
	Settings *settings.AppSettings
	Logger   *zap.Logger

	RDB  *sql.DB
	RWDB *sql.DB

	Executor executor.Executor
	Cache    *cache.Manager
	Secrets  secrets.Source

	SecretService *service.SecretService
	APIKeyService *service.APIKeyService
	RunService    *service.RunService
	BuildRunner   *pipeline.BuildRunner
	DeployRunner  *pipeline.DeployRunner

	closers []func() error
}

// New opens everything the app needs. On error, whatever was already
// opened is closed again.
func New(ctx context.Context, s *settings.AppSettings, logger *zap.Logger) (a *App, err error) {
	a = &App{Settings: s, Logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close()
			a = nil
		}
	}()

	if err := a.openDatabase(); err != nil {
		return a, err
	}

	key, err := security.LoadOrCreateKey(internal.EncryptionKeyEnv, internal.DotEnvPath)
	if err != nil {
		return a, err
	}
	a.SecretService = service.NewSecretService(
		store.NewSecretSQLiteStore(a.RDB, a.RWDB),
		security.NewAESEncrypter(key),
	)
	a.APIKeyService = service.NewAPIKeyService(
		store.NewAPIKeySQLiteStore(a.RDB, a.RWDB),
		service.NewKeyGen(),
	)

	if a.Secrets, err = a.secretSource(); err != nil {
		return a, err
	}
	if a.Executor, err = a.openExecutor(); err != nil {
		return a, err
	}
	a.closers = append(a.closers, a.Executor.Close)

	var depCache pipeline.DependencyCache
	cacheStore, err := a.openCacheStore(ctx)
	switch {
	case errors.Is(err, errUnknownCacheBackend):
		return a, err
	case err != nil:
		logger.Warn("cache store unavailable, runs continue without a dependency cache",
			zap.String("backend", s.CacheBackend), zap.Error(err))
	default:
		a.Cache = cache.NewManager(cacheStore, logger)
		depCache = a.Cache
	}

	a.BuildRunner = pipeline.NewBuildRunner(a.Executor, a.Secrets, depCache, logger)
	a.DeployRunner = pipeline.NewDeployRunner(
		a.Executor,
		a.Secrets,
		pipeline.NewCLIPlatformFactory(a.Executor),
		logger,
	)
	a.RunService = service.NewRunService(
		store.NewRunSQLiteStore(a.RDB, a.RWDB),
		a.BuildRunner,
		a.DeployRunner,
		s.Workspace,
		logger,
	)
	return a, nil
}

func (a *App) openDatabase() error {
	rdb, err := store.InitDatabase(a.Settings, true)
	if err != nil {
		return err
	}
	a.RDB = rdb
	a.closers = append(a.closers, rdb.Close)

	rwdb, err := store.InitDatabase(a.Settings, false)
	if err != nil {
		return err
	}
	a.RWDB = rwdb
	a.closers = append(a.closers, rwdb.Close)

	return store.RunMigrations(rwdb)
}

// secretSource resolves names from stored secrets first, then the optional
// dotenv file and keychain, then the process environment.
func (a *App) secretSource() (secrets.Source, error) {
	chain := secrets.Chain{a.SecretService}
	if a.Settings.SecretsDotenv != "" {
		src, err := secrets.NewDotenvSource(a.Settings.SecretsDotenv)
		if err != nil {
			return nil, err
		}
		chain = append(chain, src)
	}
	if a.Settings.KeyringService != "" {
		chain = append(chain, secrets.KeyringSource{Service: a.Settings.KeyringService})
	}
	return append(chain, secrets.EnvSource{}), nil
}

func (a *App) openExecutor() (executor.Executor, error) {
	if !a.Settings.UseSSHAgent() {
		return executor.NewLocalExecutor(), nil
	}
	key, err := os.ReadFile(a.Settings.AgentKeyPath)
	if err != nil {
		return nil, fmt.Errorf("err reading agent private key: %w", err)
	}
	ex, err := executor.DialSSH(executor.SSHConfig{
		Host:           a.Settings.AgentHost,
		User:           a.Settings.AgentUser,
		PrivateKey:     key,
		KnownHostsPath: a.Settings.AgentKnownHosts,
	})
	if err != nil {
		return nil, err
	}
	a.Logger.Info("running pipelines on ssh agent", zap.String("host", a.Settings.AgentHost))
	return ex, nil
}

var errUnknownCacheBackend = errors.New("unknown cache backend")

// openCacheStore returns errUnknownCacheBackend for a misconfigured
// backend and any other error when the store cannot be reached.
func (a *App) openCacheStore(ctx context.Context) (cache.Store, error) {
	switch a.Settings.CacheBackend {
	case "bolt":
		bs, err := cache.OpenBoltStore(a.Settings.CachePath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, bs.Close)
		return bs, nil
	case "minio":
		return cache.NewMinioStore(ctx, cache.MinioConfig{
			Endpoint:  a.Settings.MinioEndpoint,
			Bucket:    a.Settings.MinioBucket,
			AccessKey: a.Settings.MinioAccessKey,
			SecretKey: a.Settings.MinioSecretKey,
			Region:    a.Settings.MinioRegion,
			UseSSL:    a.Settings.MinioUseSSL,
		})
	}
	return nil, fmt.Errorf("%w %q", errUnknownCacheBackend, a.Settings.CacheBackend)
}

// Close releases resources in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
