package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/canvaslab/emergence/internal/config"
	"github.com/canvaslab/emergence/internal/core"
	"github.com/canvaslab/emergence/internal/events"
	"github.com/canvaslab/emergence/internal/logging"
	"github.com/canvaslab/emergence/internal/orchestrator"
	"github.com/canvaslab/emergence/internal/publisher"
	"github.com/canvaslab/emergence/internal/ranking"
	"github.com/canvaslab/emergence/internal/service"
	"github.com/canvaslab/emergence/internal/session"
	"github.com/canvaslab/emergence/internal/stage"
	"github.com/canvaslab/emergence/internal/store"
	"github.com/canvaslab/emergence/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the analysis engine and ingestion server",
	Long: `Start the ingestion HTTP server and the recurring analysis loop.

Agents report contributions and canvas images over HTTP; the engine
periodically runs both analysis stages and publishes versioned
snapshots, available via GET /api/v1/snapshot, the SSE stream and an
optional outbound WebSocket.

Examples:
  # Start with defaults (0.0.0.0:8086)
  emergence serve

  # Start on a custom port with an outbound snapshot feed
  emergence serve --port 3000 --ws-url ws://localhost:9000/snapshots`,
	RunE: runServe,
}

var (
	serveHost   string
	servePort   int
	serveNoCORS bool
	serveWSURL  string
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveHost, "host", "0.0.0.0",
		"Host address to bind to")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8086,
		"Port to listen on")
	serveCmd.Flags().BoolVar(&serveNoCORS, "no-cors", false,
		"Disable CORS headers")
	serveCmd.Flags().StringVar(&serveWSURL, "ws-url", "",
		"Outbound WebSocket URL for snapshot publishing")

	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("publisher.url", serveCmd.Flags().Lookup("ws-url"))
}

func runServe(_ *cobra.Command, _ []string) error {
	loader := config.NewLoaderWithViper(viper.GetViper())
	if cfgFile != "" {
		loader.WithConfigFile(cfgFile)
	}
	cfg, err := loader.Load()
	if err != nil {
		return err
	}
	if serveNoCORS {
		cfg.Server.EnableCORS = false
	}
	if err := config.NewValidator().Validate(cfg); err != nil {
		return err
	}

	log := logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stdout,
	})

	contributions := store.NewContributionStore(log, store.WithTimeouts(store.ContributionTimeouts{
		Initial:     cfg.Store.InitialTimeout,
		Established: cfg.Store.EstablishedTimeout,
		Grace:       cfg.Store.GracePeriod,
	}))
	canvas := store.NewCanvasState()

	templates, err := stage.LoadTemplates(cfg.Templates.Dir, log)
	if err != nil {
		return fmt.Errorf("loading prompt templates: %w", err)
	}

	generator, err := stage.NewGeminiGenerator(stage.GeminiConfig{
		APIKey:          cfg.Gemini.APIKey,
		Model:           cfg.Gemini.Model,
		Temperature:     cfg.Gemini.Temperature,
		MaxOutputTokens: cfg.Gemini.MaxOutputTokens,
		BaseURL:         cfg.Gemini.BaseURL,
		RequestTimeout:  cfg.Gemini.RequestTimeout,
		ConnectTimeout:  cfg.Gemini.ConnectTimeout,
	}, log)
	if err != nil {
		return fmt.Errorf("configuring model backend: %w", err)
	}

	retry := service.StageRetryPolicy(cfg.Gemini.RetryBaseDelay)
	observation := stage.NewObservationClient(generator, templates, retry, log)
	narration := stage.NewNarrationClient(generator, templates, retry, log)

	bus := events.New(100)
	defer bus.Close()

	var snapshotPub core.SnapshotPublisher = core.NopPublisher{}
	var wsPub *publisher.WebSocketPublisher
	if cfg.Publisher.URL != "" {
		wsPub = publisher.NewWebSocketPublisher(cfg.Publisher.URL, cfg.Publisher.BufferSize, log)
		snapshotPub = wsPub
	}

	recorder := session.NewRecorder(log, session.WithHistoryLimit(cfg.Session.HistoryLimit))

	orch := orchestrator.New(
		orchestrator.Config{
			TickInterval:      cfg.Engine.TickInterval,
			WarmupDelay:       cfg.Engine.WarmupDelay,
			WarmupTimeout:     cfg.Engine.WarmupTimeout,
			WarmupRatio:       cfg.Engine.WarmupRatio,
			QuiescenceFirst:   cfg.Engine.QuiescenceFirst,
			QuiescenceSteady:  cfg.Engine.QuiescenceSteady,
			ReadyWaitTimeout:  cfg.Engine.ReadyWaitTimeout,
			ImageFreshness:    cfg.Engine.ImageFreshness,
			ImageLagTolerance: cfg.Engine.ImageLagTolerance,
			StaleShort:        cfg.Engine.StaleShort,
			StaleLong:         cfg.Engine.StaleLong,
			MinImageBytes:     cfg.Engine.MinImageBytes,
			Bands:             cfg.Engine.Bands,
		},
		contributions, canvas,
		observation, narration,
		ranking.NewEngine(),
		bus, snapshotPub, log,
		orchestrator.WithRecorder(recorder),
	)

	api := web.NewAPI(contributions, canvas, orch, recorder, bus, cfg.Session.ExportPath, log)
	srv := web.New(web.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		CORSOrigins:     cfg.Server.CORSOrigins,
		EnableCORS:      cfg.Server.EnableCORS,
	}, api, bus, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return orch.Run(ctx) })
	if wsPub != nil {
		g.Go(func() error { return wsPub.Run(ctx) })
	}
	if cfg.Templates.Dir != "" {
		g.Go(func() error { return templates.Watch(ctx) })
	}

	if err := srv.Start(); err != nil {
		return err
	}
	log.Info("engine running", "addr", srv.Addr(), "version", appVersion)

	<-ctx.Done()

	if err := srv.Shutdown(context.Background()); err != nil {
		log.Error("shutdown error", "error", err)
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
