// Command faasd runs the function host.
//
// Logging:
//   - A base text/JSON logger writes startup and lifecycle messages to
//     stderr, selected by --log-format and --log-level
//   - The per-function Logger (internal/logging) owns rotated sinks under
//     the home directory and is passed to components via dependency
//     injection
//   - No global slog configuration (no slog.SetDefault)
package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"time"

	"faasd/cmd/faasd/cli"
	"faasd/internal/auth"
	"faasd/internal/cron"
	"faasd/internal/enrich"
	"faasd/internal/faasfunction"
	"faasd/internal/home"
	"faasd/internal/installer"
	"faasd/internal/loader"
	"faasd/internal/logging"
	"faasd/internal/management"
	"faasd/internal/mux"
	"faasd/internal/orchestrator"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "faasd",
		Short: "Single-process FaaS host",
	}

	rootCmd.PersistentFlags().String("functions-dir", "", "functions directory (default: <home>/functions)")
	rootCmd.PersistentFlags().String("home", "", "home directory (default: ~/.faasd, overridable via FAASD_HOME)")
	rootCmd.PersistentFlags().Int("port", 8080, "HTTP listen port for function routes and the management RPC")
	rootCmd.PersistentFlags().String("log-level", "info", "base logger level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "text", "base logger format: text or json")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the function host in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			functionsDirFlag, _ := cmd.Flags().GetString("functions-dir")
			homeFlag, _ := cmd.Flags().GetString("home")
			port, _ := cmd.Flags().GetInt("port")
			logLevel, _ := cmd.Flags().GetString("log-level")
			logFormat, _ := cmd.Flags().GetString("log-format")
			if !cmd.Flags().Changed("port") {
				if v, err := strconv.Atoi(os.Getenv("PORT")); err == nil {
					port = v
				}
			}
			if !cmd.Flags().Changed("log-level") {
				if v := os.Getenv("LOG_LEVEL"); v != "" {
					logLevel = v
				}
			}

			logger := newBaseLogger(logFormat, logLevel)

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			return run(ctx, logger, functionsDirFlag, homeFlag, port)
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}

	rootCmd.AddCommand(serveCmd, versionCmd, cli.NewReloadCommand(), cli.NewListCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newBaseLogger builds the stderr logger used for startup and lifecycle
// messages, independent of the per-function rotated sinks.
func newBaseLogger(format, level string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: logging.ParseLevel(level)}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

func run(ctx context.Context, logger *slog.Logger, functionsDirFlag, homeFlag string, port int) error {
	hd, err := resolveHome(homeFlag)
	if err != nil {
		return fmt.Errorf("resolve home directory: %w", err)
	}
	if err := hd.EnsureExists(); err != nil {
		return err
	}
	logger.Info("home directory", "path", hd.Root())

	functionsDir := functionsDirFlag
	if functionsDir == "" {
		functionsDir = hd.FunctionsDir()
	}
	if err := os.MkdirAll(functionsDir, 0o750); err != nil {
		return fmt.Errorf("create functions dir: %w", err)
	}

	var enrichFn logging.EnrichFunc
	if mmdbPath := os.Getenv("FAASD_MMDB_PATH"); mmdbPath != "" {
		geo := enrich.New()
		if err := geo.Watch(mmdbPath); err != nil {
			logger.Warn("geoip: failed to load mmdb, enrichment disabled", "path", mmdbPath, "error", err)
		} else {
			defer geo.Close()
			enrichFn = geo.Enrich
			logger.Info("geoip enrichment enabled", "path", mmdbPath)
		}
	}

	fnLogger, err := logging.New(logging.Config{Dir: hd.LogDir(), Enrich: enrichFn})
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer fnLogger.Close()

	registry := faasfunction.New(faasfunction.Config{Logger: fnLogger.Logger})

	m := mux.New(mux.Config{
		Logger: fnLogger,
		FunctionCount: func() int {
			n := 0
			for _, fn := range registry.List() {
				if fn.Status == faasfunction.StatusRunning {
					n++
				}
			}
			return n
		},
	})

	scheduler, err := cron.New(fnLogger)
	if err != nil {
		return fmt.Errorf("create cron scheduler: %w", err)
	}
	defer func() { _ = scheduler.Stop() }()

	inst := installer.New(installer.Config{Logger: fnLogger.Logger})
	ld := loader.New(loader.Config{Logger: fnLogger.Logger})

	orch := orchestrator.New(orchestrator.Config{
		FunctionsDir: functionsDir,
		Registry:     registry,
		Mux:          m,
		Cron:         scheduler,
		Installer:    inst,
		Loader:       ld,
		Logger:       fnLogger.Logger,
	})

	logger.Info("bootstrapping functions", "dir", functionsDir)
	if err := orch.Bootstrap(); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	if err := orch.Run(ctx); err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}

	tokens, token, err := buildTokenService(hd)
	if err != nil {
		return fmt.Errorf("build token service: %w", err)
	}
	if token != "" {
		logger.Info("minted management token", "path", hd.TokenPath())
	}

	mgmt := management.New(management.Config{Registry: registry, Orchestrator: orch, Logger: logger})

	return serveAndAwaitShutdown(ctx, logger, hd, port, m, mgmt, tokens, orch)
}

// resolveHome returns a Dir from the flag value, or the platform default.
func resolveHome(flagValue string) (home.Dir, error) {
	if flagValue != "" {
		return home.New(flagValue), nil
	}
	if envHome := os.Getenv("FAASD_HOME"); envHome != "" {
		return home.New(envHome), nil
	}
	return home.Default()
}

// buildTokenService wires management authentication from the environment.
// If FAASD_TOKEN is set, its literal value is the bearer token callers must
// present (a pre-shared secret, no JWT involved). Otherwise it loads
// FAASD_TOKEN_SECRET if set, or mints a random secret, and persists a
// freshly signed long-lived token to hd.TokenPath() so the CLI subcommands
// can pick it up without a separate exchange.
func buildTokenService(hd home.Dir) (ts *auth.TokenService, mintedToken string, err error) {
	secret := []byte(os.Getenv("FAASD_TOKEN_SECRET"))
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, "", fmt.Errorf("generate token secret: %w", err)
		}
	}
	ts = auth.NewTokenService(secret, 0)

	if presharedToken := os.Getenv("FAASD_TOKEN"); presharedToken != "" {
		ts.SetPresharedToken(presharedToken)
		if err := os.WriteFile(hd.TokenPath(), []byte(presharedToken+"\n"), 0o600); err != nil {
			return nil, "", fmt.Errorf("write token file: %w", err)
		}
		return ts, "", nil
	}
	token, err := ts.Issue()
	if err != nil {
		return nil, "", fmt.Errorf("issue management token: %w", err)
	}
	if err := os.WriteFile(hd.TokenPath(), []byte(token+"\n"), 0o600); err != nil {
		return nil, "", fmt.Errorf("write token file: %w", err)
	}
	return ts, token, nil
}

// serveAndAwaitShutdown runs the TCP listener (function routes plus
// bearer-guarded management RPC) and the unwrapped unix-socket management
// listener until ctx is cancelled, then drains both gracefully.
func serveAndAwaitShutdown(ctx context.Context, logger *slog.Logger, hd home.Dir, port int, m *mux.Mux, mgmt *management.Handler, tokens *auth.TokenService, orch *orchestrator.Orchestrator) error {
	topMux := http.NewServeMux()
	topMux.Handle("/management/", auth.RequireBearer(tokens, mgmt.Mux()))
	topMux.Handle("/", m)

	srv := &http.Server{Addr: ":" + strconv.Itoa(port), Handler: topMux, ReadHeaderTimeout: 10 * time.Second}

	tcpListener, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("listen tcp: %w", err)
	}

	sockPath := hd.SocketPath()
	_ = os.Remove(sockPath)
	sockListener, err := net.Listen("unix", sockPath)
	if err != nil {
		return fmt.Errorf("listen unix socket: %w", err)
	}
	if err := os.Chmod(sockPath, 0o600); err != nil {
		return fmt.Errorf("chmod unix socket: %w", err)
	}
	sockSrv := &http.Server{Handler: mgmt.Mux(), ReadHeaderTimeout: 10 * time.Second}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		logger.Info("listening", "addr", srv.Addr)
		if err := srv.Serve(tcpListener); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
		}
	}()
	go func() {
		defer wg.Done()
		logger.Info("management socket listening", "path", sockPath)
		if err := sockSrv.Serve(sockListener); err != nil && err != http.ErrServerClosed {
			logger.Error("management socket server error", "error", err)
		}
	}()

	<-ctx.Done()

	logger.Info("stopping server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	if err := sockSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("management socket shutdown error", "error", err)
	}
	wg.Wait()
	_ = os.Remove(sockPath)

	logger.Info("shutting down orchestrator")
	if err := orch.Stop(); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}
