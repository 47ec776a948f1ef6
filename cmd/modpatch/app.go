package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ZebulonRouseFrantzich/modpatch/internal/cache"
	"github.com/ZebulonRouseFrantzich/modpatch/internal/compat"
	"github.com/ZebulonRouseFrantzich/modpatch/internal/config"
	"github.com/ZebulonRouseFrantzich/modpatch/internal/download"
	"github.com/ZebulonRouseFrantzich/modpatch/internal/hostapp"
	"github.com/ZebulonRouseFrantzich/modpatch/internal/install"
	"github.com/ZebulonRouseFrantzich/modpatch/internal/logging"
	"github.com/ZebulonRouseFrantzich/modpatch/internal/patcher"
	"github.com/ZebulonRouseFrantzich/modpatch/internal/platform"
	"github.com/ZebulonRouseFrantzich/modpatch/internal/replace"
	"github.com/ZebulonRouseFrantzich/modpatch/internal/resign"
	"github.com/ZebulonRouseFrantzich/modpatch/internal/state"
	"github.com/spf13/viper"
)

// envPrefix namespaces environment overrides, e.g. MODPATCH_SERVER_URL.
const envPrefix = "MODPATCH"

// app is the wired engine for one CLI invocation.
type app struct {
	cfg    *config.Config
	info   *platform.Info
	logger logging.Logger
	sync   func() error
	orch   *install.Orchestrator
	lock   *state.Lock
}

// applyEnv overlays MODPATCH_* environment variables and explicit flags
// onto cfg. Flags win over the environment.
func applyEnv(cfg *config.Config, opts *globalOptions) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	for key, dst := range map[string]*string{
		"server_url": &cfg.ServerURL,
		"cache_dir":  &cfg.CacheDir,
		"temp_dir":   &cfg.TempDir,
		"state_file": &cfg.StateFile,
		"log_level":  &cfg.LogLevel,
		"log_file":   &cfg.LogFile,
		"keyring":    &cfg.Keyring,
	} {
		if s := v.GetString(key); s != "" {
			*dst = s
		}
	}

	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	if opts.logFile != "" {
		cfg.LogFile = opts.logFile
	}
}

func configPath(opts *globalOptions) string {
	if opts.configPath != "" {
		return opts.configPath
	}
	return filepath.Join(config.Dir(), config.DefaultFileName)
}

// loadApp detects the platform, loads configuration and wires every
// component. When mutating is set the install lock is held until close.
func loadApp(ctx context.Context, opts *globalOptions, mutating bool) (*app, error) {
	detector := platform.NewDetector()
	info, err := detector.Detect(ctx)
	if err != nil {
		return nil, err
	}

	cfg, err := config.NewParser(detector).LoadFile(ctx, configPath(opts))
	if err != nil {
		return nil, errors.New(config.FormatError(err, opts.logLevel == "debug"))
	}
	applyEnv(cfg, opts)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger, sync, err := logging.New(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile, Component: "modpatch"})
	if err != nil {
		return nil, err
	}

	logger.Debug("platform detected", "os", info.OS, "arch", info.Arch, "os_version", info.Version, "distro", info.Platform)
	a := &app{cfg: cfg, info: info, logger: logger, sync: sync}
	if mutating {
		lock, err := state.AcquireLock(ctx, filepath.Dir(cfg.StateFile))
		if err != nil {
			a.close()
			return nil, err
		}
		a.lock = lock
	}

	st, err := state.Open(cfg.StateFile, logging.Named(logger, "state"))
	if err != nil {
		a.close()
		return nil, err
	}
	logger.Debug("state loaded", "path", st.Path())

	downloader := download.NewDownloader(
		download.WithUserAgent(cfg.UserAgent),
		download.WithLogger(logging.Named(logger, "download")),
	)

	var verifier install.SignatureVerifier
	if cfg.Keyring != "" {
		v, err := download.NewVerifier(cfg.Keyring)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("load keyring: %w", err)
		}
		verifier = v
	}

	a.orch = &install.Orchestrator{
		Host:           cfg.Host,
		TempDir:        cfg.TempDir,
		DeeplinkScheme: cfg.DeeplinkScheme,
		Platform:       info,
		Downloader:     downloader,
		Verifier:       verifier,
		Cache:          cache.New(cfg.CacheDir, logging.Named(logger, "cache")),
		Patcher:        patcher.New(resign.ForPlatform(info, cfg.Host, logging.Named(logger, "resign")), logging.Named(logger, "patcher")),
		Replacer:       replace.New(info, logging.Named(logger, "replace")),
		Process:        hostapp.NewProcess(cfg.Host, info, logging.Named(logger, "host")),
		Reinstaller: &hostapp.InstallerDownload{
			URL:        cfg.Host.InstallerURL,
			TempDir:    cfg.TempDir,
			Downloader: downloader,
			Info:       info,
			Logger:     logging.Named(logger, "reinstall"),
		},
		Compat: compat.NewClient(cfg.ServerURL, cfg.UserAgent, logging.Named(logger, "compat")),
		State:  st,
		Logger: logger,
	}

	if mutating {
		if _, err := a.orch.ClearCacheOnVersionChange(Version); err != nil {
			logger.Warn("cache version check failed", "error", err)
		}
	}
	return a, nil
}

func (a *app) close() {
	if a.lock != nil {
		if err := a.lock.Release(); err != nil {
			a.logger.Warn("failed to release lock", "error", err)
		}
	}
	if a.sync != nil {
		_ = a.sync()
	}
}
