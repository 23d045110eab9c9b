// Command gateway runs the seed certification gateway: HTTP API in front of
// the distributed ledger and the content store, with zero-trust policy
// enforcement on every request.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/codekinian-dev/seed-chain-zta/pkg/api"
	"github.com/codekinian-dev/seed-chain-zta/pkg/audit"
	"github.com/codekinian-dev/seed-chain-zta/pkg/auth"
	"github.com/codekinian-dev/seed-chain-zta/pkg/config"
	"github.com/codekinian-dev/seed-chain-zta/pkg/content"
	"github.com/codekinian-dev/seed-chain-zta/pkg/contract"
	"github.com/codekinian-dev/seed-chain-zta/pkg/gateway"
	"github.com/codekinian-dev/seed-chain-zta/pkg/identity"
	"github.com/codekinian-dev/seed-chain-zta/pkg/ledgerclient"
	"github.com/codekinian-dev/seed-chain-zta/pkg/observability"
	"github.com/codekinian-dev/seed-chain-zta/pkg/policy"
	"github.com/codekinian-dev/seed-chain-zta/pkg/ratelimit"
	"github.com/codekinian-dev/seed-chain-zta/pkg/saga"
	"github.com/codekinian-dev/seed-chain-zta/pkg/validation"
)

const version = "1.0.0"

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return runServer(stderr)
	}

	switch args[1] {
	case "serve", "server":
		return runServer(stderr)
	case "health":
		return runHealthCmd(stdout, stderr)
	case "version", "--version":
		fmt.Fprintf(stdout, "seed-chain-gateway %s\n", version)
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: gateway <command>")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve     Run the certification gateway (default)")
	fmt.Fprintln(w, "  health    Check a running gateway over HTTP")
	fmt.Fprintln(w, "  version   Show version information")
	fmt.Fprintln(w, "  help      Show this help")
}

func runHealthCmd(stdout, stderr io.Writer) int {
	port := os.Getenv("PORT")
	if port == "" {
		port = "3000"
	}
	resp, err := http.Get("http://localhost:" + port + "/health")
	if err != nil {
		fmt.Fprintf(stderr, "Health check failed: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(stderr, "Health check failed: status %d\n", resp.StatusCode)
		return 1
	}
	fmt.Fprintln(stdout, "OK")
	return 0
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

//nolint:gocognit
func runServer(stderr io.Writer) int {
	ctx := context.Background()
	cfg := config.Load()

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	// Policy document: file if present, built-in table otherwise. The env
	// window only applies to the fallback; a loaded file wins whole.
	doc, err := policy.LoadDocument(cfg.PolicyFile)
	if err != nil {
		logger.Warn("policy file not loaded, using built-in policy", "path", cfg.PolicyFile, "error", err)
		doc = policy.DefaultDocument()
		doc.RestrictedHours = policy.Window{Start: cfg.RestrictedStart, End: cfg.RestrictedEnd}
	}
	engine := policy.NewEngine(doc).WithLogger(logger)

	contentClient := content.NewClient(content.Options{
		APIURL:        cfg.ContentAPIURL,
		NodeURL:       cfg.ContentNodeURL,
		GatewayURL:    cfg.ContentGatewayURL,
		MaxRetries:    cfg.ContentMaxRetries,
		UploadTimeout: cfg.ContentTimeout,
	}, logger)

	sagas := saga.NewCoordinator(contentClient, logger)

	var transport ledgerclient.Transport
	if cfg.LedgerURL == "inprocess" {
		// Single-binary mode: the contract runs inside the gateway. Dev
		// and demo only; state does not survive a restart.
		logger.Warn("running with in-process ledger, state is not durable")
		transport = ledgerclient.NewInProcessTransport(contract.New(logger))
	} else {
		transport = ledgerclient.NewHTTPTransport(cfg.LedgerURL, cfg.LedgerChannel, cfg.LedgerContract)
	}
	ledger := ledgerclient.NewClient(transport, logger)
	if err := ledger.Connect(ctx); err != nil {
		// Lazy reconnect covers this; readiness reports the truth meanwhile.
		logger.Warn("ledger not reachable at startup", "error", err)
	}

	validator, err := validation.New()
	if err != nil {
		fmt.Fprintf(stderr, "Failed to compile request schemas: %v\n", err)
		return 1
	}

	var obs *observability.Provider
	if cfg.OTLPEndpoint != "" {
		obsCfg := observability.DefaultConfig()
		obsCfg.OTLPEndpoint = cfg.OTLPEndpoint
		obsCfg.ServiceVersion = version
		obs, err = observability.New(ctx, obsCfg)
		if err != nil {
			fmt.Fprintf(stderr, "Failed to init telemetry: %v\n", err)
			return 1
		}
		defer func() { _ = obs.Shutdown(context.Background()) }()
	}

	keySet, err := identity.NewInMemoryKeySet()
	if err != nil {
		fmt.Fprintf(stderr, "Failed to init key set: %v\n", err)
		return 1
	}
	authMiddleware := auth.NewMiddleware(auth.NewJWTValidator(keySet))

	srv := gateway.New(cfg, engine, ledger, contentClient, sagas, validator,
		audit.NewLogger(), obs, logger)

	handler := authMiddleware(srv.Routes())
	handler = rateLimitMiddleware(cfg, logger)(handler)
	handler = api.RequestIDMiddleware(handler)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.ContentTimeout + 30*time.Second,
		WriteTimeout:      cfg.ContentTimeout + 30*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Saga registry sweep, hourly.
	sweepStop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				sagas.Sweep(time.Now())
			case <-sweepStop:
				return
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", "port", cfg.Port, "ledger", cfg.LedgerURL)
		errCh <- httpServer.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		logger.Error("server failed", "error", err)
		return 1
	}

	close(sweepStop)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	if err := ledger.Disconnect(); err != nil {
		logger.Error("ledger disconnect failed", "error", err)
	}
	logger.Info("gateway stopped")
	return 0
}

// rateLimitMiddleware picks the limiter: Redis token bucket when REDIS_ADDR
// is set (shared across replicas), per-IP in-memory otherwise.
func rateLimitMiddleware(cfg *config.Config, logger *slog.Logger) func(http.Handler) http.Handler {
	if cfg.RedisAddr == "" {
		return api.NewGlobalRateLimiter(100, 200).Middleware
	}

	limiter := ratelimit.NewRedisLimiter(cfg.RedisAddr, os.Getenv("REDIS_PASSWORD"), 0)
	if err := limiter.Ping(context.Background()); err != nil {
		logger.Warn("redis limiter not reachable, falling back to in-memory limiter", "error", err)
		return api.NewGlobalRateLimiter(100, 200).Middleware
	}
	logger.Info("distributed rate limiting enabled", "addr", cfg.RedisAddr)

	rlPolicy := ratelimit.Policy{RPM: 6000, Burst: 200}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := r.RemoteAddr
			if host, _, ok := strings.Cut(ip, ":"); ok {
				ip = host
			}
			allowed, err := limiter.Allow(r.Context(), ip, rlPolicy, 1)
			if err != nil {
				// Redis down: fail open, the in-memory limiter path is
				// chosen at startup, not per request.
				logger.Warn("rate limiter unavailable, allowing request", "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				api.WriteTooManyRequests(w, 60)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
