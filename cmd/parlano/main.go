// Command parlano is the main entry point for the Parlano practice server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/parlano/parlano/internal/api"
	"github.com/parlano/parlano/internal/config"
	"github.com/parlano/parlano/internal/health"
	"github.com/parlano/parlano/internal/observe"
	"github.com/parlano/parlano/internal/prompt"
	"github.com/parlano/parlano/internal/queue"
	"github.com/parlano/parlano/internal/resilience"
	"github.com/parlano/parlano/internal/round"
	"github.com/parlano/parlano/internal/scoring"
	"github.com/parlano/parlano/internal/session"
	"github.com/parlano/parlano/internal/store"
	"github.com/parlano/parlano/pkg/provider/textgen"
	textgenoai "github.com/parlano/parlano/pkg/provider/textgen/openai"
	"github.com/parlano/parlano/pkg/provider/transcribe"
	"github.com/parlano/parlano/pkg/provider/transcribe/whisper"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration (with hot reload) ──────────────────────────────────
	level := new(slog.LevelVar)
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		applyConfigChange(level, old, new)
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "parlano: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "parlano: %v\n", err)
		}
		return 1
	}
	defer watcher.Stop()
	cfg := watcher.Current()

	// ── Logger ────────────────────────────────────────────────────────────────
	level.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("parlano starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	metrics := observe.DefaultMetrics()

	// ── Persistence ───────────────────────────────────────────────────────────
	pool, err := pgxpool.New(ctx, cfg.Database.PostgresDSN)
	if err != nil {
		slog.Error("failed to create postgres pool", "err", err)
		return 1
	}
	defer pool.Close()

	st := store.NewPostgres(pool)
	if err := st.Migrate(ctx); err != nil {
		slog.Error("database migration failed", "err", err)
		return 1
	}
	slog.Info("database ready")

	// ── Job queue ─────────────────────────────────────────────────────────────
	q, queueHealthy, err := buildQueue(ctx, cfg.Queue)
	if err != nil {
		slog.Error("failed to connect job queue", "err", err)
		return 1
	}
	defer func() {
		if err := q.Close(); err != nil {
			slog.Warn("queue close error", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	textgenClient, transcriber, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Engine ────────────────────────────────────────────────────────────────
	generator := prompt.NewGenerator(textgenClient, st, st)
	scorer := scoring.NewEngine(textgenClient)

	var analyzerOpts []round.AnalyzerOption
	if s := cfg.Practice.TranscribeTimeoutSeconds; s > 0 {
		analyzerOpts = append(analyzerOpts, round.WithTranscribeTimeout(time.Duration(s)*time.Second))
	}
	analyzer := round.NewAnalyzer(st, transcriber, scorer, analyzerOpts...)
	recorder := round.NewRecorder(st, st, generator, q, analyzer)
	manager := session.NewManager(st, st)
	aggregator := session.NewAggregator(st, st, st, textgenClient,
		session.WithCompletionHook(generator.InvalidateStats))

	if err := q.RegisterProcessor(round.TopicAnalyzeRound, analyzer.HandleJob); err != nil {
		slog.Error("failed to register queue processor", "err", err)
		return 1
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	mux := http.NewServeMux()
	health.New(health.Database(st), health.Queue(queueHealthy)).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	apiMux := http.NewServeMux()
	api.New(manager, aggregator, recorder, analyzer, generator).Register(apiMux)
	mux.Handle("/v1/", observe.Middleware(metrics)(apiMux))

	listenAddr := cfg.Server.ListenAddr
	if listenAddr == "" {
		listenAddr = ":8080"
	}
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("server ready — press Ctrl+C to shut down", "addr", listenAddr)
		if cfg.Server.TLS != nil {
			serveErr <- srv.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
		} else {
			serveErr <- srv.ListenAndServe()
		}
	}()

	exitCode := 0
	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received, stopping…")
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "err", err)
			exitCode = 1
		}
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("server shutdown error", "err", err)
	}
	if err := otelShutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return exitCode
}

// ── Queue wiring ──────────────────────────────────────────────────────────────

// buildQueue creates the configured job queue and returns it with a health
// predicate for the readiness probe.
func buildQueue(ctx context.Context, cfg config.QueueConfig) (queue.Queue, func() bool, error) {
	switch cfg.Kind {
	case config.QueueNATS:
		nq, err := queue.ConnectNATS(ctx, cfg.Servers, slog.Default())
		if err != nil {
			return nil, nil, err
		}
		slog.Info("job queue connected", "kind", "nats", "servers", cfg.Servers)
		return nq, nq.Healthy, nil
	default:
		slog.Info("job queue running in-process")
		return queue.NewInProc(slog.Default()), func() bool { return true }, nil
	}
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires the provider factories that ship with
// Parlano into reg.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterTextGen("openai", func(entry config.ProviderEntry) (textgen.Client, error) {
		var opts []textgenoai.Option
		if entry.BaseURL != "" {
			opts = append(opts, textgenoai.WithBaseURL(entry.BaseURL))
		}
		return textgenoai.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterTranscribe("whisper", func(entry config.ProviderEntry) (transcribe.Client, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})
}

// buildProviders instantiates the configured providers. A missing provider is
// not fatal: the engine falls back to canned prompts, deterministic scoring,
// and degraded round analysis.
func buildProviders(cfg *config.Config, reg *config.Registry) (textgen.Client, transcribe.Client, error) {
	var tg textgen.Client
	if name := cfg.Providers.TextGen.Name; name != "" {
		inner, err := reg.CreateTextGen(cfg.Providers.TextGen)
		if err != nil {
			return nil, nil, fmt.Errorf("create textgen provider %q: %w", name, err)
		}
		tg = resilience.NewGuardedTextGen(inner, resilience.BreakerConfig{})
		slog.Info("provider created", "kind", "textgen", "name", name, "model", cfg.Providers.TextGen.Model)
	} else {
		slog.Warn("no textgen provider configured — prompts and summaries use deterministic fallbacks")
	}

	var tr transcribe.Client
	if name := cfg.Providers.Transcribe.Name; name != "" {
		p, err := reg.CreateTranscribe(cfg.Providers.Transcribe)
		if err != nil {
			return nil, nil, fmt.Errorf("create transcribe provider %q: %w", name, err)
		}
		tr = p
		slog.Info("provider created", "kind", "transcribe", "name", name, "model", cfg.Providers.Transcribe.Model)
	} else {
		slog.Warn("no transcribe provider configured — submitted rounds will be scored as degraded")
		tr = unavailableTranscriber{}
	}
	return tg, tr, nil
}

// unavailableTranscriber stands in when no speech-to-text provider is
// configured, so the analyzer's degraded path finalises rounds instead of the
// queue holding them forever.
type unavailableTranscriber struct{}

func (unavailableTranscriber) Transcribe(context.Context, transcribe.Request) (*transcribe.Transcript, error) {
	return nil, errors.New("no transcription provider configured")
}

// ── Config reload ─────────────────────────────────────────────────────────────

// applyConfigChange applies what can change at runtime and warns about the
// rest.
func applyConfigChange(level *slog.LevelVar, old, new *config.Config) {
	d := config.Diff(old, new)
	if d.LogLevelChanged {
		level.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level updated", "level", d.NewLogLevel)
	}
	if d.PracticeChanged {
		slog.Warn("practice tuning changed — applies after restart")
	}
	if d.RestartRequired {
		slog.Warn("configuration changes require a restart to take effect")
	}
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}
