// Package server exposes the ingestion router over plain HTTP for local
// development and non-Lambda deployments.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"slackstream/internal/domain"
	"slackstream/internal/ingest"
	"slackstream/internal/metrics"
)

const maxBodyBytes int64 = 1 << 20 // 1 MiB

// Router answers one HTTP-shaped envelope.
type Router interface {
	Route(ctx context.Context, raw domain.Envelope, invocationID string) ingest.Response
}

type Config struct {
	Addr   string
	Router Router
	Logger *slog.Logger
}

type Server struct {
	echo   *echo.Echo
	addr   string
	router Router
	logger *slog.Logger
}

func New(cfg Config) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":3000"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Server{
		addr:   cfg.Addr,
		router: cfg.Router,
		logger: cfg.Logger.With("component", "server"),
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus: true,
		LogURI:    true,
		LogMethod: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.logger.Info("request",
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
				slog.String("remote_ip", c.RealIP()),
			)
			return nil
		},
	}))

	e.POST("/slack/events", s.handleEvents)
	e.GET("/ping", s.handlePing)
	e.GET("/metrics", echo.WrapHandler(metrics.Collector.Handler()))

	e.Server.ReadHeaderTimeout = 10 * time.Second
	e.Server.ReadTimeout = 30 * time.Second
	e.Server.IdleTimeout = 120 * time.Second
	s.echo = e
	return s
}

// Handler exposes the routes for tests and embedding.
func (s *Server) Handler() http.Handler { return s.echo }

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server started", "addr", s.addr)
		errCh <- s.echo.Start(s.addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.logger.Info("shutting down http server")
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) handlePing(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleEvents(c echo.Context) error {
	payload, err := io.ReadAll(io.LimitReader(c.Request().Body, maxBodyBytes+1))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("read body: %v", err))
	}
	if int64(len(payload)) > maxBodyBytes {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, fmt.Sprintf("payload too large: max %d bytes", maxBodyBytes))
	}

	id := uuid.NewString()
	raw, err := envelopeFromRequest(c.Request(), payload, id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	resp := s.router.Route(c.Request().Context(), raw, id)
	for k, v := range resp.Headers {
		c.Response().Header().Set(k, v)
	}
	return c.String(resp.StatusCode, resp.Body)
}

// envelopeFromRequest wraps an HTTP request the way a Lambda function URL
// delivers it.
func envelopeFromRequest(r *http.Request, body []byte, requestID string) (domain.Envelope, error) {
	headers := make(map[string]string, len(r.Header))
	for k, v := range r.Header {
		headers[strings.ToLower(k)] = strings.Join(v, ",")
	}
	host := r.Host
	if host == "" {
		host = "localhost"
	}
	now := time.Now()
	ev := events.LambdaFunctionURLRequest{
		Version:        "2.0",
		RawPath:        r.URL.Path,
		RawQueryString: r.URL.RawQuery,
		Headers:        headers,
		Body:           string(body),
		RequestContext: events.LambdaFunctionURLRequestContext{
			RequestID:  requestID,
			DomainName: host,
			Time:       now.UTC().Format("02/Jan/2006:15:04:05 -0700"),
			TimeEpoch:  now.UnixMilli(),
			HTTP: events.LambdaFunctionURLRequestContextHTTPDescription{
				Method:    r.Method,
				Path:      r.URL.Path,
				Protocol:  r.Proto,
				SourceIP:  r.RemoteAddr,
				UserAgent: r.UserAgent(),
			},
		},
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return b, nil
}
