package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

const (
	defaultRequestTimeout = 60 * time.Second
	shutdownTimeout       = 10 * time.Second
	maxBodyBytes          = 1 << 20
)

// Server exposes a Handler as a plain HTTP server for local runs and
// container deployments.
type Server struct {
	echo    *echo.Echo
	handler *Handler
	addr    string
}

type ServerOption func(*serverConfig)

type serverConfig struct {
	requestTimeout time.Duration
}

// WithRequestTimeout bounds reading a request and writing its response.
func WithRequestTimeout(d time.Duration) ServerOption {
	return func(c *serverConfig) {
		if d > 0 {
			c.requestTimeout = d
		}
	}
}

func NewServer(h *Handler, addr string, opts ...ServerOption) *Server {
	cfg := serverConfig{requestTimeout: defaultRequestTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = cfg.requestTimeout
	e.Server.WriteTimeout = cfg.requestTimeout

	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:  []string{echo.HeaderAuthorization, echo.HeaderContentType, headerCorrelationID},
		ExposeHeaders: []string{headerCorrelationID},
	}))

	s := &Server{echo: e, handler: h, addr: addr}
	e.Any("/", s.proxy)
	e.Any("/*", s.proxy)
	return s
}

// ServeHTTP lets tests drive the server without a listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Run serves until ctx is cancelled and then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", s.addr)
		if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("handler: serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("http server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("handler: shutdown: %w", err)
	}
	return nil
}

// proxy converts the echo request into the API Gateway shape so both
// entrypoints share one router.
func (s *Server) proxy(c echo.Context) error {
	r := c.Request()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable request body")
	}

	headers := make(map[string]string, len(r.Header))
	for k, vs := range r.Header {
		if len(vs) > 0 {
			headers[k] = vs[0]
		}
	}
	query := make(map[string]string, len(r.URL.Query()))
	for k, vs := range r.URL.Query() {
		if len(vs) > 0 {
			query[k] = vs[0]
		}
	}

	resp, err := s.handler.Handle(r.Context(), events.APIGatewayProxyRequest{
		HTTPMethod:            r.Method,
		Path:                  r.URL.Path,
		Headers:               headers,
		MultiValueHeaders:     r.Header,
		QueryStringParameters: query,
		Body:                  string(body),
	})
	if err != nil {
		return err
	}

	for k, v := range resp.Headers {
		c.Response().Header().Set(k, v)
	}
	c.Response().WriteHeader(resp.StatusCode)
	_, err = io.WriteString(c.Response(), resp.Body)
	return err
}
