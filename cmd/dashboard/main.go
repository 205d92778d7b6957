// cmd/dashboard/main.go
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

	"github.com/lmittmann/tint"

	"signal-insights/internal/advice"
	"signal-insights/internal/alerting"
	"signal-insights/internal/anomaly"
	"signal-insights/internal/api"
	"signal-insights/internal/auth"
	"signal-insights/internal/config"
	"signal-insights/internal/data"
	"signal-insights/internal/history"
	"signal-insights/internal/llm"
	"signal-insights/internal/metrics"
	"signal-insights/internal/mqtt"
	"signal-insights/internal/refresh"
	"signal-insights/internal/report"
	"signal-insights/internal/session"
	"signal-insights/internal/storage"
	"signal-insights/internal/websocket"
)

func main() {
	configPath := flag.String("config", ".", "Path to the configuration file directory")
	console := flag.Bool("console", false, "Print the dashboard to the terminal instead of serving it")
	advise := flag.String("advise", "", "Run one refresh, ask for advice with this context and exit (use \"-\" for no context)")
	flag.Parse()

	log := newLogger(slog.LevelInfo)
	cfg, err := config.Load(*configPath, log)
	if err != nil {
		log.Error("loading configuration", "error", err)
		os.Exit(1)
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		log.Warn("unknown log level, using info", "level", cfg.Log.Level)
		level = slog.LevelInfo
	}
	log = newLogger(level)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	advisor := llm.NewHandler(newCompleter(ctx, cfg, log), log,
		llm.WithMaxMessages(cfg.LLM.MaxMessages),
		llm.WithObserver(m.ObserveLLM))

	switch {
	case *advise != "":
		err = runAdvise(ctx, cfg, advisor, *advise, log)
	case *console:
		err = runConsole(ctx, cfg, log)
	default:
		err = runServer(ctx, cfg, advisor, m, log)
	}
	if err != nil {
		log.Error("dashboard stopped", "error", err)
		os.Exit(1)
	}
}

func newLogger(level slog.Level) *slog.Logger {
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.TimeOnly,
	}))
}

// newCompleter returns the configured model client, or nil when it cannot
// be built; requests then get the apology reply.
func newCompleter(ctx context.Context, cfg *config.Config, log *slog.Logger) llm.Completer {
	switch cfg.LLM.Provider {
	case "flow":
		c := llm.NewFlowClient(cfg.LLM.URL, cfg.LLM.Timeout, cfg.LLM.Retries, log)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := c.Ping(pingCtx); err != nil {
			log.Warn("local flow not reachable, advice will fail until it is", "url", cfg.LLM.URL, "error", err)
		}
		return c
	default:
		c, err := llm.NewGeminiClient(ctx, llm.GeminiConfig{
			APIKey:      cfg.LLM.APIKey,
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.MaxTokens,
			Timeout:     cfg.LLM.Timeout,
			Retries:     cfg.LLM.Retries,
		}, log)
		if err != nil {
			log.Warn("advice disabled", "error", err)
			return nil
		}
		return c
	}
}

func refreshConfig(cfg *config.Config) refresh.Config {
	return refresh.Config{Path: cfg.Source.Path, Window: cfg.Source.Window, Interval: cfg.Refresh.Interval}
}

func runServer(ctx context.Context, cfg *config.Config, advisor *llm.Handler, m *metrics.Metrics, log *slog.Logger) error {
	// --- Initialize Components ---
	store := storage.NewMemoryStore(cfg.Storage.Snapshots)
	hub := websocket.NewHub(log)
	if unknown := anomaly.UnknownMetrics(cfg.Anomaly.Rules); len(unknown) > 0 {
		log.Warn("anomaly rules name unknown statistics", "metrics", unknown)
	}
	detector := anomaly.NewDetector(cfg.Anomaly.Rules, log)
	alerter := alerting.NewAlerter(log, hub)

	sinks := []refresh.Sink{store, hub, alerter, m}
	if cfg.MQTT.Enabled {
		pub, err := mqtt.Connect(cfg.MQTT, log)
		if err != nil {
			return err
		}
		defer pub.Close()
		sinks = append(sinks, pub)
	}

	rcfg := refreshConfig(cfg)
	sessions := session.NewManager(cfg.Acquisition, func(s *session.Session) session.Runner {
		return refresh.New(s.ID, rcfg, s, log,
			refresh.WithSinks(s),
			refresh.WithSinks(sinks...),
			refresh.WithChecker(detector))
	}, log,
		session.WithOnClose(store.Drop),
		session.WithOnClose(detector.Forget),
		session.WithOnClose(m.Forget),
		session.WithObserver(m.SetActiveSessions))
	defer sessions.CloseAll()

	handler, err := api.NewAPIHandler(api.Deps{
		Sessions:   sessions,
		Store:      store,
		Hub:        hub,
		Chats:      history.NewStore(cfg.History.Dir),
		Advisor:    advisor,
		Auth:       auth.NewAuthManager(cfg.Auth),
		Metrics:    m,
		SourcePath: cfg.Source.Path,
		Log:        log,
	})
	if err != nil {
		return err
	}

	// --- Start WebSocket Hub ---
	go hub.Run(ctx)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.UIPort),
		Handler:           api.SetupRouter(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.Info("starting dashboard server", "port", cfg.Server.UIPort, "source", cfg.Source.Path)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	// --- Graceful Shutdown ---
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func runConsole(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	screen := refresh.SinkFunc(func(_ context.Context, snap *data.Snapshot) {
		fmt.Print("\033[2J\033[H")
		fmt.Println(snap.Text)
		if snap.Stats != nil {
			fmt.Printf("Window: %d records  Sample rate: %d Hz\n", len(snap.Records), snap.SampleRateHz)
			fmt.Println(report.Sparkline(snap.Values(), 76))
		}
		fmt.Printf("\n%s  (ctrl-c to quit)\n", snap.Time.Format(time.DateTime))
	})

	sessions := session.NewManager(cfg.Acquisition, func(s *session.Session) session.Runner {
		return refresh.New(s.ID, refreshConfig(cfg), s, log, refresh.WithSinks(screen))
	}, log)
	sessions.Create()
	<-ctx.Done()
	sessions.CloseAll()
	return nil
}

type fixedParams data.AcquisitionParameters

func (p fixedParams) Params() data.AcquisitionParameters { return data.AcquisitionParameters(p) }

func runAdvise(ctx context.Context, cfg *config.Config, advisor *llm.Handler, userContext string, log *slog.Logger) error {
	if userContext == "-" {
		userContext = ""
	}
	snap := refresh.New("cli", refreshConfig(cfg), fixedParams(cfg.Acquisition), log).Tick(ctx)
	fmt.Println(snap.Text)

	msgs, err := advice.Build(snap.Stats, snap.Params, userContext)
	if err != nil {
		return err
	}
	for chunk := range advisor.Respond(ctx, msgs, true).Chunks() {
		fmt.Print(chunk)
	}
	fmt.Println()
	return nil
}
