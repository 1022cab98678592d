// Package server exposes the chat and article APIs over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/ragchat/internal/chat"
	"github.com/mohammad-safakhou/ragchat/internal/reindex"
)

// ChatService is the conversational surface served under /api/chat.
type ChatService interface {
	StreamChat(ctx context.Context, accountID int64, req chat.Request) (*chat.Stream, error)
	Evaluate(ctx context.Context, req chat.EvalRequest) (chat.EvalResult, error)
	HistoryPage(ctx context.Context, accountID int64, q chat.HistoryQuery) (chat.HistoryPage, error)
}

// ArticleIndexer applies synchronous article uploads and removals.
type ArticleIndexer interface {
	Reindex(ctx context.Context, ev reindex.ArticleUpdated) (int, error)
	Remove(ctx context.Context, articleID int64) (int64, error)
}

// Check reports whether a dependency is ready to serve.
type Check func(ctx context.Context) error

type Deps struct {
	Chat      ChatService
	Articles  ArticleIndexer
	JWTSecret []byte
	Checks    map[string]Check
	Logger    *zap.Logger
}

type Server struct {
	echo   *echo.Echo
	logger *zap.Logger
	checks map[string]Check
}

func New(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{echo: echo.New(), logger: logger.Named("http"), checks: deps.Checks}
	e := s.echo
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = s.handleError
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{echo.HeaderContentType, echo.HeaderAuthorization, "Cookie"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/readyz", s.ready)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api", RequireAccount(deps.JWTSecret))
	if deps.Chat != nil {
		(&ChatHandler{chat: deps.Chat, logger: s.logger}).Register(api.Group("/chat"))
	}
	if deps.Articles != nil {
		(&ArticlesHandler{articles: deps.Articles}).Register(api.Group("/articles"))
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.echo }

// Run serves on addr until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("addr", addr))
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return s.echo.Shutdown(shutdownCtx)
}

func (s *Server) ready(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 3*time.Second)
	defer cancel()
	status := map[string]string{}
	code := http.StatusOK
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			status[name] = err.Error()
			code = http.StatusServiceUnavailable
			continue
		}
		status[name] = "ok"
	}
	return c.JSON(code, status)
}
