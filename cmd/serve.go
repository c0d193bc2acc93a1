package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/counselhq/counsel/internal/api"
	"github.com/counselhq/counsel/internal/bus"
	"github.com/counselhq/counsel/internal/convstore"
	"github.com/counselhq/counsel/internal/engine"
	"github.com/counselhq/counsel/internal/inbox"
	"github.com/counselhq/counsel/internal/llm"
	"github.com/counselhq/counsel/internal/store"
)

var (
	serveBind  string
	serveToken string
	serveRPS   int
	serveBurst int

	serveInboxEnable bool
	serveInboxDir    string
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the counsel API server and background services",
	Long: `Start the Counsel server which includes:

1. HTTP API for chat, documents, cases, notes, search, and audit
2. Server-sent event feed and Prometheus metrics
3. Redis Streams publisher for external event consumers
4. Inbox folder watcher that analyzes dropped documents

The serve command runs until interrupted (Ctrl+C) and handles:
- Streaming chat replies through the configured LLM provider
- Document analysis and case suggestions
- Health monitoring of the bus and provider
- Graceful shutdown of all components

Examples:
  # Start with defaults (API on 127.0.0.1:8080)
  counsel serve

  # Require a bearer token and bind elsewhere
  counsel serve --bind 0.0.0.0:8080 --token s3cret

  # Disable the inbox watcher
  counsel serve --inbox-enable=false`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveBind, "bind", "127.0.0.1:8080", "Bind address for the API server")
	serveCmd.Flags().StringVar(&serveToken, "token", "", "Bearer token required for API requests (optional)")
	serveCmd.Flags().IntVar(&serveRPS, "rps", 10, "Max API requests per second")
	serveCmd.Flags().IntVar(&serveBurst, "burst", 20, "Burst size for the API rate limiter")

	serveCmd.Flags().BoolVar(&serveInboxEnable, "inbox-enable", true, "Watch the inbox directory for documents")
	serveCmd.Flags().StringVar(&serveInboxDir, "inbox-dir", "data/inbox", "Directory watched for incoming documents")

	viper.BindPFlag("api.bind", serveCmd.Flags().Lookup("bind"))
	viper.BindPFlag("api.token", serveCmd.Flags().Lookup("token"))
	viper.BindPFlag("api.rps", serveCmd.Flags().Lookup("rps"))
	viper.BindPFlag("api.burst", serveCmd.Flags().Lookup("burst"))
	viper.BindPFlag("inbox.enable", serveCmd.Flags().Lookup("inbox-enable"))
	viper.BindPFlag("inbox.dir", serveCmd.Flags().Lookup("inbox-dir"))
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	config := GetConfig()

	logger := log.New(os.Stderr, "[serve] ", log.LstdFlags)
	logger.Println("Starting counsel server")

	// Initialize store
	logger.Println("Initializing database...")
	baseDir := getWorkingDir()
	resolvedDBPath := resolvePathRelativeToBase(baseDir, config.Database.Path)
	logger.Printf("Using database at %s", resolvedDBPath)
	st, err := store.NewStore(resolvedDBPath)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer st.Close()

	// Initialize conversation store
	convPath := resolvePathRelativeToBase(baseDir, config.Conversations.Dir)
	logger.Printf("Using conversation store at %s", convPath)
	conv, err := convstore.Open(convPath, logger)
	if err != nil {
		return fmt.Errorf("failed to open conversation store: %w", err)
	}
	defer conv.Close()

	// Initialize bus (Redis or Null)
	logger.Println("Connecting to event bus...")
	eventBus := bus.NewBus(config.Redis.URL, logger)
	defer eventBus.Close()

	// Build the LLM provider from settings. Fall back to the scripted stub
	// so the server stays usable without a reachable backend.
	settings, err := llm.LoadSettings(config.LLM.Settings)
	if err != nil {
		logger.Printf("Could not load LLM settings from %s: %v; using defaults", config.LLM.Settings, err)
		settings = llm.DefaultSettings()
	}
	provider, err := llm.Build(ctx, settings.Active, logger)
	if err != nil || provider == nil {
		logger.Printf("LLM provider build failed: %v; falling back to scripted stub", err)
		provider = llm.NewStub(logger)
	}
	logger.Printf("Using LLM provider %q", provider.Name())
	if models, err := llm.TryListModels(ctx, provider); err == nil && len(models) > 0 {
		logger.Printf("Provider reports %d available models", len(models))
	}

	// Initialize the session engine
	logger.Println("Starting session engine...")
	eng, err := engine.New(engine.Options{
		Conversations: conv,
		Cases:         st,
		Provider:      provider,
		Logger:        log.New(os.Stderr, "[engine] ", log.LstdFlags),
		HistoryLimit:  config.Engine.HistoryLimit,
		MaxDocBytes:   config.Engine.MaxDocBytes,
	})
	if err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}
	defer eng.Close()

	// Publish engine events to the bus for external consumers
	publisher := bus.NewPublisher(eventBus, logger)
	eng.AddObserver(publisher)
	defer publisher.Close()

	// API server
	apiSrv, err := api.NewServer(eng, st, eventBus, api.Options{
		Bind:   config.API.Bind,
		Token:  config.API.Token,
		RPS:    config.API.RPS,
		Burst:  config.API.Burst,
		Logger: log.New(os.Stderr, "[api] ", log.LstdFlags),
	})
	if err != nil {
		return fmt.Errorf("failed to create API server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	if err := apiSrv.Start(gctx); err != nil {
		return fmt.Errorf("failed to start API server: %w", err)
	}

	// Inbox watcher analyzes documents dropped into the inbox directory
	if config.Inbox.Enable {
		inboxDir := resolvePathRelativeToBase(baseDir, config.Inbox.Dir)
		if err := os.MkdirAll(inboxDir, 0755); err != nil {
			logger.Printf("Warning: could not create inbox directory %s: %v", inboxDir, err)
		}
		watcher := inbox.NewWatcher(eng, inbox.Options{
			Dir:          inboxDir,
			Watch:        true,
			SkipExisting: true,
			Logger:       log.New(os.Stderr, "[inbox] ", log.LstdFlags),
		})
		g.Go(func() error {
			return watcher.Run(gctx)
		})
		logger.Printf("Watching inbox %s", inboxDir)
	}

	// Background health and stats reporting
	monitor := &serviceMonitor{
		store:    st,
		bus:      eventBus,
		engine:   eng,
		provider: provider,
		logger:   logger,
	}
	g.Go(func() error {
		return monitor.runHealthChecks(gctx)
	})
	g.Go(func() error {
		return monitor.runStatsReporter(gctx)
	})

	logger.Println("Counsel server ready")

	// Block until a service fails or the context is cancelled
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Println("Received shutdown signal")
	logger.Println("Counsel server stopped")
	return nil
}

// serviceMonitor runs periodic health checks and stats logging alongside
// the API server.
type serviceMonitor struct {
	store    *store.Store
	bus      bus.Bus
	engine   *engine.Engine
	provider llm.Provider
	logger   *log.Logger
}

// runHealthChecks pings the bus and provider on an interval.
func (m *serviceMonitor) runHealthChecks(ctx context.Context) error {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Println("Health monitor stopping")
			return nil
		case <-ticker.C:
			m.performHealthChecks(ctx)
		}
	}
}

func (m *serviceMonitor) performHealthChecks(ctx context.Context) {
	checkCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := m.bus.HealthCheck(checkCtx); err != nil {
		m.logger.Printf("Bus health check failed: %v", err)
	}
	if err := llm.TryHealthCheck(checkCtx, m.provider); err != nil {
		m.logger.Printf("Provider health check failed: %v", err)
	}
}

// runStatsReporter logs engine and database stats on an interval.
func (m *serviceMonitor) runStatsReporter(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Println("Stats reporter stopping")
			return nil
		case <-ticker.C:
			m.collectStats(ctx)
		}
	}
}

func (m *serviceMonitor) collectStats(ctx context.Context) {
	statsCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	m.logger.Printf("Engine stats: %+v", m.engine.GetStats())

	cases, err := m.store.ListCases(statsCtx)
	if err != nil {
		m.logger.Printf("Failed to get case count: %v", err)
		return
	}
	totalMessages := 0
	for _, c := range cases {
		totalMessages += c.MessageCount
	}
	docCount, err := m.store.CountDocuments(statsCtx, "", time.Time{}, time.Time{}, nil)
	if err != nil {
		m.logger.Printf("Failed to get document count: %v", err)
		return
	}
	m.logger.Printf("Database stats: %d cases, %d case messages, %d documents", len(cases), totalMessages, docCount)
}

// getExecutableDir returns the directory of the running binary.
func getExecutableDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}

// getWorkingDir returns the current working directory.
// Falls back to executable directory if os.Getwd fails.
func getWorkingDir() string {
	if wd, err := os.Getwd(); err == nil && wd != "" {
		return wd
	}
	return getExecutableDir()
}

// resolvePathRelativeToBase joins p to base unless p is absolute.
func resolvePathRelativeToBase(base, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	// Normalize leading "./" for consistent joining
	p = strings.TrimPrefix(p, "./")
	return filepath.Join(base, p)
}
