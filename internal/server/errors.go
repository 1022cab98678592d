package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/ragchat/internal/chat"
	"github.com/mohammad-safakhou/ragchat/internal/vectorindex"
)

// errorBody is the JSON shape of every failed response.
type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// classify maps a domain error to an HTTP status and error kind.
func classify(err error) (int, string) {
	if errors.Is(err, vectorindex.ErrIndex) {
		return http.StatusBadGateway, "index"
	}
	kind := chat.Kind(err)
	switch kind {
	case "validation":
		return http.StatusBadRequest, kind
	case "quota_exceeded":
		return http.StatusTooManyRequests, kind
	case "retrieval", "upstream_generation":
		return http.StatusBadGateway, kind
	default:
		return http.StatusInternalServerError, kind
	}
}

func (s *Server) handleError(err error, c echo.Context) {
	code, kind := classify(err)
	msg := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code, kind = he.Code, "http"
		if he.Message != nil {
			msg = fmt.Sprint(he.Message)
		}
	}
	req := c.Request()
	fields := []zap.Field{
		zap.Int("status", code),
		zap.String("method", req.Method),
		zap.String("path", req.URL.Path),
		zap.String("remote", c.RealIP()),
		zap.Error(err),
	}
	if code >= http.StatusInternalServerError {
		s.logger.Error("request failed", fields...)
	} else {
		s.logger.Debug("request rejected", fields...)
	}
	if !c.Response().Committed {
		_ = c.JSON(code, errorBody{Kind: kind, Message: msg})
	}
}
