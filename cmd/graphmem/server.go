package graphmem

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/spf13/cobra"

	"github.com/soundprediction/graphmem"
	"github.com/soundprediction/graphmem/pkg/config"
	"github.com/soundprediction/graphmem/pkg/embedder"
	"github.com/soundprediction/graphmem/pkg/extraction"
	"github.com/soundprediction/graphmem/pkg/search"
	"github.com/soundprediction/graphmem/pkg/server"
	"github.com/soundprediction/graphmem/pkg/store"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the graphmem HTTP server",
	Long: `Start the graphmem HTTP server to provide REST API access to the memory engine.

The server provides endpoints for:
- Ingesting conversation messages
- Searching the knowledge graph
- Snapshots, node and edge lookups
- Health checks

Configuration can be provided through config files, environment variables, or command-line flags.`,
	RunE: runServer,
}

var (
	serverHost string
	serverPort int
	serverMode string
)

func init() {
	rootCmd.AddCommand(serverCmd)

	// Server-specific flags
	serverCmd.Flags().StringVar(&serverHost, "host", "localhost", "Server host")
	serverCmd.Flags().IntVar(&serverPort, "port", 8080, "Server port")
	serverCmd.Flags().StringVar(&serverMode, "mode", "debug", "Server mode (debug, release, test)")

	// Store flags
	serverCmd.Flags().String("store-driver", "memory", "Graph store driver (memory, badger)")
	serverCmd.Flags().String("store-path", "", "Badger data directory (empty for in-memory badger)")

	// LLM flags
	serverCmd.Flags().String("llm-model", "gpt-4o-mini", "Extraction model")
	serverCmd.Flags().String("llm-api-key", "", "Extraction API key")
	serverCmd.Flags().String("llm-base-url", "", "Extraction base URL")
	serverCmd.Flags().Float32("llm-temperature", 0.0, "Extraction temperature")
	serverCmd.Flags().Int("llm-max-tokens", 2048, "Extraction max tokens")

	// Embedding flags
	serverCmd.Flags().String("embedding-model", "text-embedding-3-small", "Embedding model")
	serverCmd.Flags().String("embedding-api-key", "", "Embedding API key")
	serverCmd.Flags().String("embedding-base-url", "", "Embedding base URL")
	serverCmd.Flags().Int("embedding-dimensions", 1536, "Embedding dimensions")
}

func runServer(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Override config with command-line flags
	overrideConfigWithFlags(cmd, cfg)

	// Validate configuration
	if err := validateServerConfig(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := newLogger(cfg)

	// Initialize the memory engine
	fmt.Println("Initializing graphmem...")
	memory, err := initializeMemory(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize graphmem: %w", err)
	}
	defer memory.Close()

	// Create and setup server
	srv := server.New(cfg, memory, logger)
	srv.Setup()

	// Handle signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start server in a goroutine
	serverErrChan := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			serverErrChan <- err
		}
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-serverErrChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		fmt.Printf("\nReceived signal: %v\n", sig)

		// Create shutdown context with timeout
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		// Shutdown server
		if err := srv.Stop(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}

		fmt.Println("Server stopped gracefully")
		return nil
	}
}

func overrideConfigWithFlags(cmd *cobra.Command, cfg *config.Config) {
	// Server flags
	if cmd.Flags().Changed("host") {
		cfg.Server.Host = serverHost
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = serverPort
	}
	if cmd.Flags().Changed("mode") {
		cfg.Server.Mode = serverMode
	}

	// Store flags
	if cmd.Flags().Changed("store-driver") {
		cfg.Store.Driver, _ = cmd.Flags().GetString("store-driver")
	}
	if cmd.Flags().Changed("store-path") {
		cfg.Store.Path, _ = cmd.Flags().GetString("store-path")
	}

	// LLM flags
	if cmd.Flags().Changed("llm-model") {
		cfg.LLM.Model, _ = cmd.Flags().GetString("llm-model")
	}
	if cmd.Flags().Changed("llm-api-key") {
		cfg.LLM.APIKey, _ = cmd.Flags().GetString("llm-api-key")
	}
	if cmd.Flags().Changed("llm-base-url") {
		cfg.LLM.BaseURL, _ = cmd.Flags().GetString("llm-base-url")
	}
	if cmd.Flags().Changed("llm-temperature") {
		cfg.LLM.Temperature, _ = cmd.Flags().GetFloat32("llm-temperature")
	}
	if cmd.Flags().Changed("llm-max-tokens") {
		cfg.LLM.MaxTokens, _ = cmd.Flags().GetInt("llm-max-tokens")
	}

	// Embedding flags
	if cmd.Flags().Changed("embedding-model") {
		cfg.Embedding.Model, _ = cmd.Flags().GetString("embedding-model")
	}
	if cmd.Flags().Changed("embedding-api-key") {
		cfg.Embedding.APIKey, _ = cmd.Flags().GetString("embedding-api-key")
	}
	if cmd.Flags().Changed("embedding-base-url") {
		cfg.Embedding.BaseURL, _ = cmd.Flags().GetString("embedding-base-url")
	}
	if cmd.Flags().Changed("embedding-dimensions") {
		cfg.Embedding.Dimensions, _ = cmd.Flags().GetInt("embedding-dimensions")
	}
}

func validateServerConfig(cfg *config.Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", cfg.Server.Port)
	}

	switch cfg.Store.Driver {
	case "memory", "badger":
	default:
		return fmt.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
	return nil
}

// newLogger builds the process logger from the log configuration.
func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// openStore builds the configured graph store.
func openStore(cfg *config.Config) (store.GraphStore, error) {
	switch cfg.Store.Driver {
	case "memory":
		return store.NewMemoryStore(), nil
	case "badger":
		s, err := store.NewBadgerStore(cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open badger store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// newOpenAIClient builds a client for an OpenAI-compatible API.
func newOpenAIClient(apiKey, baseURL string) *openai.Client {
	clientConfig := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		clientConfig.BaseURL = baseURL
	}
	return openai.NewClientWithConfig(clientConfig)
}

func initializeMemory(cfg *config.Config, logger *slog.Logger) (*graphmem.Manager, error) {
	graphStore, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	// Extraction client. Without an API key the engine runs in
	// episodic-only mode.
	var extractor extraction.Client
	if cfg.LLM.APIKey != "" {
		extractor = extraction.NewOpenAIClient(
			newOpenAIClient(cfg.LLM.APIKey, cfg.LLM.BaseURL),
			extraction.OpenAIConfig{
				Model:       cfg.LLM.Model,
				Temperature: cfg.LLM.Temperature,
				MaxTokens:   cfg.LLM.MaxTokens,
				MaxRetries:  cfg.LLM.MaxRetries,
			},
			logger,
		)
	}

	// Embedding client
	var embedderClient embedder.Client
	if cfg.Embedding.APIKey != "" {
		embedderClient = embedder.NewOpenAIClient(
			newOpenAIClient(cfg.Embedding.APIKey, cfg.Embedding.BaseURL),
			embedder.Config{
				Model:      cfg.Embedding.Model,
				Dimensions: cfg.Embedding.Dimensions,
				BatchSize:  cfg.Embedding.BatchSize,
			},
		)
	}

	memoryConfig := &graphmem.Config{
		Rerank: search.RerankConfig{
			RankConstant:    cfg.Search.RankConstant,
			MaxResults:      cfg.Search.MaxResults,
			DecayRate:       cfg.Search.DecayRate,
			DiversityWeight: cfg.Search.MMRLambda,
		},
	}

	memory, err := graphmem.NewManager(graphStore, extractor, embedderClient, memoryConfig, logger)
	if err != nil {
		graphStore.Close()
		return nil, fmt.Errorf("failed to create memory engine: %w", err)
	}

	// Durable stores need their search indices rebuilt on startup.
	if cfg.Store.Driver != "memory" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := memory.Reindex(ctx); err != nil {
			memory.Close()
			return nil, fmt.Errorf("failed to rebuild search indices: %w", err)
		}
	}

	fmt.Printf("Graphmem initialized with store driver: %s\n", cfg.Store.Driver)
	if extractor != nil {
		fmt.Printf("Extraction model: %s\n", cfg.LLM.Model)
	}
	if embedderClient != nil {
		fmt.Printf("Embedding model: %s\n", cfg.Embedding.Model)
	}

	return memory, nil
}
