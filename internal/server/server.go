package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/akave-ai/devlog/internal/auth"
	"github.com/akave-ai/devlog/internal/buffer"
	"github.com/akave-ai/devlog/internal/config"
	"github.com/akave-ai/devlog/internal/database"
	"github.com/akave-ai/devlog/internal/display"
	"github.com/akave-ai/devlog/internal/handler"
	"github.com/akave-ai/devlog/internal/infrastructure/inputs"
	_ "github.com/akave-ai/devlog/internal/infrastructure/inputs/httpinput"
	"github.com/akave-ai/devlog/internal/logpull"
	"github.com/akave-ai/devlog/internal/metrics"
	"github.com/akave-ai/devlog/internal/model"
	"github.com/akave-ai/devlog/internal/repository"
	"github.com/akave-ai/devlog/internal/request"
	"github.com/akave-ai/devlog/internal/storage"
)

// ingestSink is where every received entry lands: metrics, the buffer and
// the optional terminal display.
type ingestSink struct {
	buf     *buffer.Buffer
	printer *display.Printer
}

func (s *ingestSink) Append(e model.LogEntry) {
	metrics.EntriesIngested.WithLabelValues(e.Rank().String()).Inc()
	s.buf.Append(e)
	if s.printer != nil {
		s.printer.Print(e)
	}
}

// Options carries runtime dependencies that do not come from config.
type Options struct {
	Logger  zerolog.Logger
	Display io.Writer // terminal for received entries; nil disables display
}

// Server holds the Echo app and dependencies.
type Server struct {
	Echo     *echo.Echo
	Config   *config.Config
	Buffer   *buffer.Buffer
	Requests *request.Manager
	Service  *logpull.Service

	log       zerolog.Logger
	pool      *pgxpool.Pool
	inputs    []inputs.MessageInput
	sweeper   *Sweeper
	closeOnce sync.Once
}

// New builds the storage stack, the core components and the Echo routes.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Server, error) {
	logger := opts.Logger
	s := &Server{Config: cfg, log: logger.With().Str("component", "server").Logger()}

	s.Buffer = buffer.New(buffer.Config{
		Capacity:  cfg.Buffer.Capacity,
		QueueSize: cfg.Buffer.SubscriberQueue,
		OnDrop:    metrics.StreamDropped.Inc,
	})
	s.Requests = request.NewManager(request.Config{
		TTL:       cfg.Requests.TTL,
		Retention: cfg.Requests.Retention,
	}, logger)

	store, files, err := s.openStore(ctx)
	if err != nil {
		return nil, err
	}
	s.Service = logpull.NewService(s.Requests, store, logger)
	indexed, _ := store.(*storage.IndexedStore)

	var validator *auth.Validator
	switch {
	case cfg.Auth.PublicKeyPath != "":
		validator, err = auth.NewRSAValidator(cfg.Auth.PublicKeyPath)
	case cfg.Auth.HMACSecret != "":
		validator, err = auth.NewHMACValidator([]byte(cfg.Auth.HMACSecret))
	default:
		s.log.Warn().Msg("no auth configured: device log request endpoints are disabled")
	}
	if err != nil {
		s.close()
		return nil, fmt.Errorf("auth: %w", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = time.Duration(cfg.Server.ReadTimeout) * time.Second
	e.Server.WriteTimeout = time.Duration(cfg.Server.WriteTimeout) * time.Second
	e.Server.IdleTimeout = time.Duration(cfg.Server.IdleTimeout) * time.Second
	e.Use(
		middleware.Recover(),
		middleware.CORSWithConfig(middleware.CORSConfig{AllowOrigins: cfg.Server.CORSAllowedOrigins}),
		requestLogger(logger),
		countRequests,
	)
	s.Echo = e

	(&handler.InfoHandler{
		Buffer:   s.Buffer,
		Registry: inputs.DefaultRegistry,
		Port:     cfg.Server.Port,
		AuthOn:   validator != nil,
	}).Register(e)
	handler.NewLogHandler(s.Buffer, logger).Register(e)
	(&handler.RequestHandler{Service: s.Service}).Register(e, auth.Middleware(validator))
	if cfg.Metrics.Enabled {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.Handler()))
	}

	sink := &ingestSink{buf: s.Buffer}
	if opts.Display != nil && cfg.Display.Enabled {
		sink.printer = display.New(opts.Display, cfg.Display.Verbose)
	}
	specs := []inputs.InputSpec{{Type: "http", Description: "logs", Config: inputs.Config{"base_path": "/"}}}
	if cfg.Inputs.Listen != "" {
		specs = append(specs, inputs.InputSpec{
			Type:        "http",
			Description: "logs",
			Config:      inputs.Config{"base_path": "/", "listen": cfg.Inputs.Listen},
		})
	}
	s.inputs, err = inputs.DefaultRegistry.Mount(specs, sink, func(path string, h http.Handler) {
		e.POST(path, echo.WrapHandler(h))
	})
	if err != nil {
		s.close()
		return nil, fmt.Errorf("inputs: %w", err)
	}

	s.sweeper = NewSweeper(SweeperConfig{
		Interval:        cfg.Requests.SweepInterval,
		UploadRetention: time.Duration(cfg.Storage.RetentionDays) * 24 * time.Hour,
	}, s.Requests, files, indexed, logger)

	s.log.Info().
		Strs("input_types", inputs.DefaultRegistry.Types()).
		Str("storage", cfg.Storage.Backend).
		Bool("upload_index", s.pool != nil).
		Int("capacity", cfg.Buffer.Capacity).
		Msg("server configured")
	return s, nil
}

// openStore picks the upload backend and, with a database configured, wraps
// it in the Postgres index. files is non-nil only for the file backend.
func (s *Server) openStore(ctx context.Context) (logpull.Storage, *storage.FileStore, error) {
	cfg := s.Config
	var (
		store storage.Store
		files *storage.FileStore
	)
	switch cfg.Storage.Backend {
	case "o3":
		o3, err := storage.NewO3Store(cfg.Storage.O3, s.log)
		if err != nil {
			return nil, nil, fmt.Errorf("o3 store: %w", err)
		}
		if err := o3.EnsureBucket(ctx); err != nil {
			s.log.Warn().Err(err).Str("bucket", cfg.Storage.O3.Bucket).Msg("ensure bucket failed, uploads may fail")
		}
		store = o3
	default:
		fs, err := storage.NewFileStore(cfg.Storage.UploadDir, s.log)
		if err != nil {
			return nil, nil, fmt.Errorf("file store: %w", err)
		}
		store, files = fs, fs
	}

	if cfg.Database.URL == "" {
		return store, files, nil
	}
	if err := database.RunMigrations(ctx, cfg.Database.URL, s.log); err != nil {
		return nil, nil, fmt.Errorf("migrations: %w", err)
	}
	pool, err := database.NewPool(ctx, cfg.Database.URL, s.log)
	if err != nil {
		return nil, nil, fmt.Errorf("database pool: %w", err)
	}
	s.pool = pool
	return storage.NewIndexedStore(store, repository.NewUploadRepository(pool), s.log), files, nil
}

func requestLogger(logger zerolog.Logger) echo.MiddlewareFunc {
	l := logger.With().Str("component", "http").Logger()
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			ev := l.Debug()
			if v.Status >= http.StatusInternalServerError {
				ev = l.Error().Err(v.Error)
			}
			ev.Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("request")
			return nil
		},
	})
}

func countRequests(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		err := next(c)
		status := c.Response().Status
		var he *echo.HTTPError
		if err != nil && errors.As(err, &he) {
			status = he.Code
		}
		route := c.Path()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequests.WithLabelValues(c.Request().Method, route, strconv.Itoa(status)).Inc()
		return err
	}
}

// Start runs the sweeper and the HTTP server. It blocks until ctx is
// cancelled or the server fails; on cancel the server is shut down.
func (s *Server) Start(ctx context.Context) error {
	go s.sweeper.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + s.Config.Server.Port
		s.log.Info().Str("addr", addr).Msg("listening")
		errCh <- s.Echo.Start(addr)
	}()

	select {
	case err := <-errCh:
		s.close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	}
}

// Shutdown stops the HTTP server, the extra inputs and the database pool.
// Open streams are closed when their connections are.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.Echo.Shutdown(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		err = s.Echo.Close()
	}
	s.close()
	s.log.Info().Msg("server stopped")
	return err
}

func (s *Server) close() {
	s.closeOnce.Do(func() {
		if err := inputs.StopAll(s.inputs); err != nil {
			s.log.Warn().Err(err).Msg("stop inputs")
		}
		if s.pool != nil {
			s.pool.Close()
		}
	})
}
