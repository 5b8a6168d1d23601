package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/websmartco/smartchat/internal/analytics"
	"github.com/websmartco/smartchat/internal/api"
	"github.com/websmartco/smartchat/internal/cache"
	"github.com/websmartco/smartchat/internal/chat"
	"github.com/websmartco/smartchat/internal/completion"
	"github.com/websmartco/smartchat/internal/config"
	"github.com/websmartco/smartchat/internal/handoff"
	"github.com/websmartco/smartchat/internal/knowledge"
	"github.com/websmartco/smartchat/internal/notify"
	"github.com/websmartco/smartchat/internal/ratelimit"
	"github.com/websmartco/smartchat/internal/store"
	"github.com/websmartco/smartchat/internal/validate"
)

// Server timeout configuration.
const (
	readHeaderTimeout = 10 * time.Second
	readTimeout       = 30 * time.Second
	writeTimeout      = 4 * time.Minute // completions can take minutes
	idleTimeout       = 2 * time.Minute
	shutdownTimeout   = 30 * time.Second
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides listen_addr config)")
	rootCmd.AddCommand(serveCmd)
}

// runServe wires the application together and runs the HTTP server until
// interrupted.
func runServe(parent context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	addr := cfg.ListenAddr
	if serveAddr != "" {
		addr = serveAddr
	}

	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := newLogger()
	logger.Info("starting smartchat server", "version", AppVersion)

	conn, err := store.Open(cfg.DBPath, logger)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("closing database", "error", closeErr)
		}
	}()

	kb, err := knowledge.Load(cfg.KnowledgePath)
	if err != nil {
		return fmt.Errorf("loading knowledge base: %w", err)
	}
	logger.Info("knowledge base loaded", "path", cfg.KnowledgePath, "sections", len(kb.Sections()))

	responseCache := cache.New(cfg.CacheSize, time.Duration(cfg.CacheTTL)*time.Second)
	responseCache.Preload()

	completer := completion.New(completion.Config{
		APIKey:         cfg.APIKey,
		BaseURL:        cfg.BaseURL,
		Model:          cfg.ModelName,
		MaxTokens:      cfg.MaxTokens,
		Temperature:    cfg.Temperature,
		RequestTimeout: time.Duration(cfg.RequestTimeout) * time.Second,
		ProbeTimeout:   time.Duration(cfg.ProbeTimeout) * time.Second,
	}, logger)

	pipeline := chat.NewPipeline(
		validate.New(),
		ratelimit.NewSlidingWindow(cfg.RateLimit, time.Duration(cfg.RateWindow)*time.Second),
		responseCache,
		kb,
		completer,
		chat.NewPromptAssembler(cfg.PersonaTemplate, cfg.Language),
		logger,
	)

	startHour, endHour, err := config.ParseAgentHours(cfg.AgentHours)
	if err != nil {
		return fmt.Errorf("parsing agent hours: %w", err)
	}
	coordinator := handoff.NewCoordinator(conn, handoff.Config{
		PhoneNumber:   cfg.WhatsAppNumber,
		StartHour:     startHour,
		EndHour:       endHour,
		WebhookSecret: cfg.WebhookSecret,
	}, logger)

	mailer := notify.NewSMTPMailer(notify.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		User:     cfg.SMTPUser,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
	}, logger)

	apiServer, err := api.NewServer(api.ServerConfig{
		Logger:         logger,
		Pipeline:       pipeline,
		Validator:      validate.New(),
		Coordinator:    coordinator,
		Events:         analytics.NewStore(conn, logger),
		Mailer:         mailer,
		Prober:         completer,
		EmailRecipient: cfg.EmailRecipient,
		HMACSecret:     []byte(cfg.HMACSecret),
		CORSOrigins:    cfg.CORSOrigins,
		TrustProxy:     cfg.TrustProxy,
		RateBurst:      cfg.RateBurst,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	logger.Info("HTTP server ready",
		"addr", addr,
		"api", "/api/v1/*",
		"health", "/health",
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down HTTP server")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down server: %w", err)
		}
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("HTTP server: %w", err)
	}
}
