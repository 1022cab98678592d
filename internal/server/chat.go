package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/ragchat/internal/chat"
)

var chatTracer = otel.Tracer("ragchat/server/chat")

type ChatHandler struct {
	chat   ChatService
	logger *zap.Logger
}

func (h *ChatHandler) Register(g *echo.Group) {
	g.POST("/stream", h.stream)
	g.GET("/history", h.history)
	g.POST("/evaluate", h.evaluate)
}

type tokenPayload struct {
	Token string `json:"token"`
}

type donePayload struct {
	Answer string `json:"answer"`
}

// stream answers one message as Server-Sent Events: zero or more token
// events followed by done or error. Failures before the first event are
// returned as plain JSON errors.
func (h *ChatHandler) stream(c echo.Context) error {
	var req chat.Request
	if err := c.Bind(&req); err != nil {
		return fmt.Errorf("%w: %v", chat.ErrValidation, err)
	}
	ctx, span := chatTracer.Start(c.Request().Context(), "ChatHandler.stream")
	defer span.End()
	span.SetAttributes(attribute.String("conversation_key", req.ConversationKey))
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	st, err := h.chat.StreamChat(ctx, accountID(c), req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.Header().Set("X-Accel-Buffering", "no")
	resp.WriteHeader(http.StatusOK)
	flusher, _ := resp.Writer.(http.Flusher)

	for ev := range st.Events() {
		var werr error
		switch ev.Kind {
		case chat.EventToken:
			werr = writeEvent(resp, flusher, "token", tokenPayload{Token: ev.Token})
		case chat.EventDone:
			werr = writeEvent(resp, flusher, "done", donePayload{Answer: ev.Answer})
		case chat.EventError:
			_, kind := classify(ev.Err)
			span.RecordError(ev.Err)
			werr = writeEvent(resp, flusher, "error", errorBody{Kind: kind, Message: ev.Err.Error()})
		}
		if werr != nil {
			h.logger.Debug("client went away", zap.String("conversation_key", req.ConversationKey), zap.Error(werr))
			cancel()
			for range st.Events() {
			}
			return nil
		}
	}
	return nil
}

func writeEvent(w http.ResponseWriter, flusher http.Flusher, event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	if flusher != nil {
		flusher.Flush()
	}
	return nil
}

func (h *ChatHandler) history(c echo.Context) error {
	var q chat.HistoryQuery
	if err := c.Bind(&q); err != nil {
		return fmt.Errorf("%w: %v", chat.ErrValidation, err)
	}
	page, err := h.chat.HistoryPage(c.Request().Context(), accountID(c), q)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, page)
}

func (h *ChatHandler) evaluate(c echo.Context) error {
	var req chat.EvalRequest
	if err := c.Bind(&req); err != nil {
		return fmt.Errorf("%w: %v", chat.ErrValidation, err)
	}
	res, err := h.chat.Evaluate(c.Request().Context(), req)
	if err != nil {
		return err
	}
	if res.Contexts == nil {
		res.Contexts = []string{}
	}
	return c.JSON(http.StatusOK, res)
}
