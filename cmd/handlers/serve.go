package handlers

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"tangent/internal/concepts"
	"tangent/internal/config"
	"tangent/internal/decisionlog"
	"tangent/internal/judge"
	"tangent/internal/llm"
	"tangent/internal/logger"
	"tangent/internal/memstore"
	"tangent/internal/orthogonal"
	"tangent/internal/pipeline"
	"tangent/internal/router"
	"tangent/internal/scoring"
	"tangent/internal/server"
	"tangent/internal/synthesis"
	"tangent/internal/vectormath"
	"tangent/internal/websearch"
)

// NewServeCmd creates the serve command for starting the HTTP server.
func NewServeCmd() *cobra.Command {
	var (
		port int
		host string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the retrieval HTTP server",
		Long: `Start the tangent server that the desktop overlay talks to.

The server provides:
  - POST /analyze for proactive suggestions from screen context
  - POST /search-web for explicit web searches
  - POST /save-to-memory and /feedback for the learning loop
  - diagnostic endpoints for individual pipeline stages

Examples:
  # Start on the configured host and port
  tangent serve

  # Start on a custom port
  tangent serve --port 3000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), port, host)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "HTTP server port (default from config: 8000)")
	cmd.Flags().StringVar(&host, "host", "", "HTTP server host (default from config: 127.0.0.1)")

	return cmd
}

func runServe(_ context.Context, port int, host string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger.Init(cfg.Logging.Level)

	serverCfg := cfg.Server
	if port != 0 {
		serverCfg.Port = port
	}
	if host != "" {
		serverCfg.Host = host
	}

	llmClient, err := llm.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.Model, cfg.OpenAI.EmbeddingModel, cfg.OpenAI.EmbeddingDim)
	if err != nil {
		return fmt.Errorf("failed to create llm client: %w", err)
	}

	web := websearch.NewClient(cfg.Exa.APIKey, cfg.Exa.BaseURL)
	store := memstore.NewClient(cfg.Memory.APIKey, cfg.Memory.BaseURL, cfg.Memory.ContainerTag)

	extractor := concepts.NewExtractor(llmClient).WithVibeTemperature(cfg.Orthogonal.VibeTemperature)
	engine := vectormath.NewEngine(llmClient, vectormath.Options{
		LambdaSurprise: cfg.VectorMath.PCALambdaSurprise,
		MinMemories:    cfg.VectorMath.PCAMinMemories,
		NumComponents:  cfg.VectorMath.PCANumComponents,
		AntonymAlpha:   cfg.VectorMath.AntonymAlpha,
		TargetVibes:    cfg.VectorMath.AntonymVibes,
		RerankTopK:     cfg.VectorMath.RerankTopK,
	})
	orth := orthogonal.NewSearcher(web, extractor, engine, orthogonal.Options{
		NoiseScale:     cfg.Orthogonal.NoiseScale,
		TargetDomains:  cfg.Orthogonal.TargetDomains,
		BridgeDomains:  cfg.VectorMath.BridgeDomains,
		RerankPoolSize: cfg.VectorMath.RerankPoolSize,
		PCAMinMemories: cfg.VectorMath.PCAMinMemories,
	})

	scorer := scoring.NewScorer(cfg.Retrieval.MinSimilarityThreshold, cfg.Retrieval.MaxSimilarityThreshold)
	r := router.New(store, web, scorer, orth, router.Options{
		MaxAnchors:        cfg.Retrieval.MaxAnchors,
		MinSimilarity:     cfg.Retrieval.MinSimilarityThreshold,
		MaxSimilarity:     cfg.Retrieval.MaxSimilarityThreshold,
		MaxSuggestions:    cfg.Retrieval.MaxSuggestions,
		OrthogonalEnabled: cfg.Orthogonal.Enabled,
	})

	j := judge.New(llmClient, cfg.Judge.Model)
	synth := synthesis.New(llmClient)
	decisions := decisionlog.New(cfg.Judge.LogPath)
	ctrl := pipeline.NewController(extractor, j, r, scorer, synth, web, decisions)

	srv := server.New(server.Deps{
		Pipeline:  ctrl,
		Router:    r,
		Extractor: extractor,
		Judge:     j,
		Web:       web,
		Store:     store,
		Decisions: decisions,
	}, serverCfg)

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", map[string]any{
			"addr": fmt.Sprintf("http://%s:%d", serverCfg.Host, serverCfg.Port),
		})
		serverErrors <- srv.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		logger.Info("shutdown initiated", map[string]any{"signal": sig.String()})

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
	}

	return nil
}
