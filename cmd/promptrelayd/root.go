package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/promptrelay/promptrelay/automator"
	"github.com/promptrelay/promptrelay/httpapi"
	"github.com/promptrelay/promptrelay/provider"
	"github.com/promptrelay/promptrelay/session"
	"github.com/promptrelay/promptrelay/storage"
)

var rootCmd = &cobra.Command{
	Use:   "promptrelayd",
	Short: "Browser-automation session relay",
	Long: `Promptrelayd keeps one long-lived browser-automation session per
configured provider and serializes prompt traffic through it. Sessions are
constructed lazily on first use, rebuilt after failures, and validated at
startup in configurable batches.`,
	SilenceUsage: true,
	RunE:         runServe,
}

func init() {
	flags := rootCmd.Flags()
	flags.StringP("config", "c", "", "config file (.toml, .yaml, or .yml)")
	flags.String("listen", "", "HTTP listen address (overrides config)")
	flags.String("storage-base", "", "session storage base directory (overrides config)")
	flags.StringSlice("automator", nil, "automation command argv (overrides config)")
	flags.Duration("cooldown", 0, "delay between startup batches (overrides config)")
	flags.String("log-level", "info", "log level: debug, info, warn, error")

	for _, name := range []string{"config", "listen", "storage-base", "automator", "cooldown", "log-level"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}

	viper.SetEnvPrefix("PROMPTRELAY")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := newLogger(viper.GetString("log-level"))
	slog.SetDefault(logger)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	providers := cfg.ProviderList()
	ids := make([]string, 0, len(providers))
	for _, p := range providers {
		ids = append(ids, p.ID)
	}

	if err := storage.EnsureAll(cfg.StorageBase, ids); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	watcher, err := storage.NewWatcher(cfg.StorageBase)
	if err != nil {
		return err
	}
	go watcher.Run(ctx)
	go func() {
		for ev := range watcher.Events() {
			logger.Debug("session artifact written", "provider", ev.Provider, "path", ev.Path)
		}
	}()

	factory := automator.NewProcFactory(cfg.AutomatorCmd,
		automator.WithProcLogger(logger))

	manager := session.NewManager(providers, factory,
		session.WithCooldown(cfg.Cooldown.Std()),
		session.WithLogger(logger))
	defer manager.Close()

	api := httpapi.New(manager, logger)
	srv := &http.Server{Handler: api.Handler()}

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return err
	}
	defer func() { _ = ln.Close() }()
	logger.Info("bound", "addr", ln.Addr().String(), "providers", ids)

	errCh := make(chan error, 1)
	go func() {
		errCh <- serveAfterStartup(ctx, manager, cfg.StartupBatches(), srv, ln, logger)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) || errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	manager.Close()
	return nil
}

// serveAfterStartup runs the staged startup probes to completion and only
// then begins serving HTTP traffic on ln. Connections arriving earlier wait
// in the accept queue; no request reaches a worker until every batch has
// been probed, so dispatch-driven lazy construction never overlaps the
// batch-bounded startup constructions.
func serveAfterStartup(ctx context.Context, manager *session.Manager, batches [][]string, srv *http.Server, ln net.Listener, logger *slog.Logger) error {
	if err := manager.Start(ctx, batches); err != nil {
		return err
	}
	logger.Info("startup probing complete, serving", "addr", ln.Addr().String())
	return srv.Serve(ln)
}

// loadConfig builds the effective configuration: file, then environment, then
// flags, each layer overriding the previous.
func loadConfig() (*provider.Config, error) {
	var cfg provider.Config
	if path := viper.GetString("config"); path != "" {
		loaded, err := provider.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = *loaded
	} else {
		cfg = provider.DefaultConfig()
	}

	cfg.LoadFromEnv()

	if v := viper.GetString("listen"); v != "" {
		cfg.Listen = v
	}
	if v := viper.GetString("storage-base"); v != "" {
		cfg.StorageBase = v
	}
	if v := viper.GetStringSlice("automator"); len(v) > 0 {
		cfg.AutomatorCmd = v
	}
	if v := viper.GetDuration("cooldown"); v > 0 {
		cfg.Cooldown = provider.Duration(v)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(cfg.AutomatorCmd) == 0 {
		return nil, errors.New("no automator command configured (set automator_cmd or --automator)")
	}
	return &cfg, nil
}

// newLogger builds the process logger at the requested level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
