package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/doc-organiser/preview-gateway/internal/api"
	"github.com/doc-organiser/preview-gateway/internal/config"
	"github.com/doc-organiser/preview-gateway/internal/docapi"
	"github.com/doc-organiser/preview-gateway/internal/invalidate"
	"github.com/doc-organiser/preview-gateway/internal/logging"
	"github.com/doc-organiser/preview-gateway/internal/preview"
	"github.com/doc-organiser/preview-gateway/internal/session"
	"github.com/doc-organiser/preview-gateway/internal/storage"
	"github.com/doc-organiser/preview-gateway/internal/upload"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("failed to create directories: %w", err)
	}

	logger, err := logging.NewLogger(cfg.Advanced.Logging)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	srv, err := newServer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	return srv.run(ctx)
}

// server owns the long-lived collaborators so shutdown can tear them down in
// order.
type server struct {
	cfg      *config.AppConfig
	logger   *zap.Logger
	echo     *echo.Echo
	http     *http.Server
	queue    *upload.Queue
	sessions *session.Manager
	store    *storage.LocalStore
	closers  []func() error
}

func newServer(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger) (*server, error) {
	s := &server{cfg: cfg, logger: logger}

	labeler, err := preview.LoadLabelerFile(cfg.Content.LanguageLabelsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load language labels: %w", err)
	}

	docs, err := docapi.New(docapi.Config{
		BaseURL:         cfg.Upstream.BaseURL,
		Token:           cfg.Upstream.Token,
		Timeout:         cfg.UpstreamTimeout(),
		MaxContentBytes: cfg.MaxPreviewBytes(),
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create document API client: %w", err)
	}

	source, err := s.contentSource(ctx, docs)
	if err != nil {
		return nil, err
	}

	invalidator, err := s.invalidator(ctx)
	if err != nil {
		return nil, err
	}

	s.store, err = storage.NewLocalStore(cfg.Storage.StagingDirectory, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize staging storage: %w", err)
	}

	s.queue = upload.NewQueue(docs, invalidator, logger)
	if err := s.queue.LoadStateFile(cfg.Storage.StateFile); err != nil {
		logger.Warn("discarding saved upload queue", zap.Error(err))
	}

	svc := preview.NewService(source, labeler, logger)
	s.sessions = session.NewManager(svc, cfg.Processing.MaxSessions, logger)
	s.sessions.StartCleanup(ctx, cfg.CleanupInterval(), cfg.SessionTimeout())
	go s.sweepStaging(ctx)

	s.echo = s.newEcho()
	handlers := api.NewHandlers(&api.Dependencies{
		Context:                 ctx,
		Documents:               docs,
		Previews:                svc,
		Sessions:                s.sessions,
		Queue:                   s.queue,
		Stager:                  s.store,
		Logger:                  logger,
		Version:                 Version,
		MaxTextBody:             cfg.MaxPreviewBytes(),
		WebSocketMaxMessageSize: int64(cfg.Advanced.WebSocketMaxMessageSize) << 10,
	})
	api.RegisterRoutes(s.echo, handlers)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	s.http = &http.Server{
		Addr:         cfg.GetServerAddr(),
		Handler:      s.echo,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}
	return s, nil
}

func (s *server) contentSource(ctx context.Context, docs *docapi.Client) (preview.ContentSource, error) {
	if s.cfg.Content.Source != config.SourceS3 {
		return docs, nil
	}

	c := s.cfg.Content.S3
	src, err := storage.NewS3Source(ctx, storage.S3Config{
		Endpoint:        c.Endpoint,
		Region:          c.Region,
		Bucket:          c.Bucket,
		Prefix:          c.Prefix,
		AccessKeyID:     c.AccessKeyID,
		SecretAccessKey: c.SecretAccessKey,
		UseSSL:          c.UseSSL,
		UsePathStyle:    c.UsePathStyle,
		PresignTTL:      time.Duration(c.PresignTTLMinutes) * time.Minute,
		MaxObjectBytes:  s.cfg.MaxPreviewBytes(),
	}, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 content source: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := src.Ping(pingCtx); err != nil {
		s.logger.Warn("S3 bucket not reachable yet", zap.String("bucket", c.Bucket), zap.Error(err))
	}
	return src, nil
}

func (s *server) invalidator(ctx context.Context) (invalidate.Invalidator, error) {
	c := s.cfg.Cache
	if c.RedisURL == "" {
		s.logger.Info("cache invalidation disabled")
		return invalidate.Nop{}, nil
	}

	inv, err := invalidate.NewRedisInvalidator(c.RedisURL, c.KeyPrefix, c.Channel, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache invalidator: %w", err)
	}
	s.closers = append(s.closers, inv.Close)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := inv.Ping(pingCtx); err != nil {
		s.logger.Warn("redis not reachable yet", zap.Error(err))
	}
	return inv, nil
}

// sweepStaging removes staged files that never joined a batch.
func (s *server) sweepStaging(ctx context.Context) {
	maxAge := time.Duration(s.cfg.Storage.StagingMaxAgeMinutes) * time.Minute
	if maxAge <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.CleanupInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := s.store.CleanupStale(maxAge); n > 0 {
				s.logger.Info("removed stale staged files", zap.Int("count", n))
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *server) newEcho() *echo.Echo {
	cfg := s.cfg
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		Skipper: func(c echo.Context) bool {
			if !cfg.Advanced.EnableRequestLogging {
				return true
			}
			path := c.Request().URL.Path
			return path == "/api/health" || path == "/metrics"
		},
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.logger.Info("request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
				zap.String("remote_ip", v.RemoteIP),
			)
			return nil
		},
	}))

	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize: 1024 * 4,
	}))

	e.Use(middleware.TimeoutWithConfig(middleware.TimeoutConfig{
		Timeout: time.Duration(cfg.Server.ReadTimeout) * time.Second,
		Skipper: func(c echo.Context) bool {
			req := c.Request()
			return strings.HasPrefix(req.URL.Path, "/api/ws/") ||
				strings.HasPrefix(req.URL.Path, "/api/uploads") ||
				req.URL.Query().Get("wait") != ""
		},
		ErrorMessage: "Request timeout",
	}))

	if cfg.Processing.EnableCompression {
		e.Use(middleware.GzipWithConfig(middleware.GzipConfig{
			Level: cfg.Processing.CompressionLevel,
			Skipper: func(c echo.Context) bool {
				return strings.HasPrefix(c.Request().URL.Path, "/api/ws/")
			},
		}))
	}

	e.Use(middleware.BodyLimit(cfg.Server.BodyLimit))

	if cfg.Server.EnableCORS {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: splitOrigins(cfg.Server.AllowOrigins),
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
		}))
	}

	api.SetupMiddleware(e, s.logger, cfg.Advanced.Logging.Development)
	return e
}

func splitOrigins(raw string) []string {
	var origins []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

func (s *server) run(ctx context.Context) error {
	s.logger.Info("preview gateway starting",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("addr", s.http.Addr),
		zap.String("upstream", s.cfg.Upstream.BaseURL),
		zap.String("content_source", s.cfg.Content.Source),
		zap.String("staging_dir", s.cfg.Storage.StagingDirectory),
		zap.Bool("cache_invalidation", s.cfg.Cache.RedisURL != ""),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			s.close()
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(s.cfg.Server.ShutdownTimeout)*time.Second)
	defer cancel()
	err := s.http.Shutdown(shutdownCtx)
	s.close()
	return err
}

// close stops sessions and persists the upload queue. Batches still
// draining were cancelled with the serve context and are saved as
// interrupted.
func (s *server) close() {
	s.sessions.CloseAll()
	if err := s.queue.SaveStateFile(s.cfg.Storage.StateFile); err != nil {
		s.logger.Error("failed to save upload queue", zap.Error(err))
	}
	for _, c := range s.closers {
		if err := c(); err != nil {
			s.logger.Warn("close failed", zap.Error(err))
		}
	}
}
