package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/akave-ai/devlog/internal/buffer"
	"github.com/akave-ai/devlog/internal/metrics"
	"github.com/akave-ai/devlog/internal/model"
	"github.com/akave-ai/devlog/internal/response"
)

const (
	keepAliveInterval = 15 * time.Second
	wsWriteWait       = 10 * time.Second
	wsPongWait        = 60 * time.Second
)

// LogHandler serves the in-memory buffer: snapshots, filter and live streams.
type LogHandler struct {
	Buffer *buffer.Buffer
	Log    zerolog.Logger

	// KeepAlive overrides keepAliveInterval; tests shorten it.
	KeepAlive time.Duration
	Upgrader  websocket.Upgrader
}

func NewLogHandler(buf *buffer.Buffer, logger zerolog.Logger) *LogHandler {
	return &LogHandler{
		Buffer: buf,
		Log:    logger.With().Str("component", "logs").Logger(),
		Upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (h *LogHandler) keepAlive() time.Duration {
	if h.KeepAlive > 0 {
		return h.KeepAlive
	}
	return keepAliveInterval
}

// List returns every buffered entry, oldest first (GET /logs).
func (h *LogHandler) List(c echo.Context) error {
	return response.OK(c, h.Buffer.All(), "")
}

// Clear empties the buffer (DELETE /logs). Live subscribers stay connected.
func (h *LogHandler) Clear(c echo.Context) error {
	h.Buffer.Clear()
	h.Log.Info().Msg("cleared all logs")
	return response.NoContent(c)
}

// Filtered returns the entries matching the current read filter (GET /logs/filtered).
func (h *LogHandler) Filtered(c echo.Context) error {
	return response.OK(c, h.Buffer.Filtered(), "")
}

type filterBody struct {
	MinLevel string   `json:"min_level"`
	Sources  []string `json:"sources"`
}

func filterView(f buffer.Filter) filterBody {
	return filterBody{MinLevel: f.MinLevel.String(), Sources: f.Sources}
}

// SetFilter replaces the read filter (PUT /logs/filter). An empty
// min_level resets to trace; an empty sources list allows every source.
func (h *LogHandler) SetFilter(c echo.Context) error {
	var req filterBody
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, "invalid JSON body", err.Error())
	}
	level := model.LevelTrace
	if req.MinLevel != "" {
		level = model.ParseLevel(req.MinLevel)
		if !strings.EqualFold(level.String(), strings.TrimSpace(req.MinLevel)) {
			return response.BadRequest(c, "unknown level: "+req.MinLevel, "validation")
		}
	}
	var sources []string
	for _, s := range req.Sources {
		if s = strings.TrimSpace(s); s != "" {
			sources = append(sources, s)
		}
	}
	h.Buffer.SetMinLevel(level)
	h.Buffer.SetSourceFilter(sources)
	return response.OK(c, filterView(h.Buffer.Filter()), "filter updated")
}

// Filter returns the current read filter (GET /logs/filter).
func (h *LogHandler) Filter(c echo.Context) error {
	return response.OK(c, filterView(h.Buffer.Filter()), "")
}

// Stream sends every entry appended after the client connects as a
// server-sent "log" event (GET /stream).
func (h *LogHandler) Stream(c echo.Context) error {
	// Subscribe before the headers go out so a client that has seen the
	// response never misses an entry.
	sub := h.Buffer.Subscribe()
	defer sub.Close()

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	metrics.StreamSubscribers.Inc()
	defer metrics.StreamSubscribers.Dec()
	h.Log.Info().Str("remote_addr", c.RealIP()).Msg("SSE client connected")

	ticker := time.NewTicker(h.keepAlive())
	defer ticker.Stop()
	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			h.Log.Debug().Uint64("dropped", sub.Dropped()).Msg("SSE client disconnected")
			return nil
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return nil
			}
			w.Flush()
		case entry, ok := <-sub.C():
			if !ok {
				return nil
			}
			data, err := json.Marshal(entry)
			if err != nil {
				h.Log.Error().Err(err).Msg("serialize log entry")
				continue
			}
			if _, err := fmt.Fprintf(w, "event: log\ndata: %s\n\n", data); err != nil {
				return nil
			}
			w.Flush()
		}
	}
}

// StreamWS is the WebSocket variant of Stream: one JSON text message per
// entry, with periodic pings (GET /stream/ws).
func (h *LogHandler) StreamWS(c echo.Context) error {
	sub := h.Buffer.Subscribe()
	defer sub.Close()

	conn, err := h.Upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.Log.Error().Err(err).Str("remote_addr", c.RealIP()).Msg("websocket upgrade")
		return nil
	}
	defer conn.Close()
	metrics.StreamSubscribers.Inc()
	defer metrics.StreamSubscribers.Dec()
	h.Log.Info().Str("remote_addr", c.RealIP()).Msg("websocket client connected")

	// Reader: only control frames are expected; a read error means the
	// client went away.
	done := make(chan struct{})
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.keepAlive())
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return nil
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return nil
			}
		case entry, ok := <-sub.C():
			if !ok {
				return nil
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(entry); err != nil {
				h.Log.Debug().Err(err).Msg("websocket write")
				return nil
			}
		}
	}
}

// Register mounts the buffer and stream routes. POST /logs is mounted by the
// http input.
func (h *LogHandler) Register(e *echo.Echo) {
	e.GET("/logs", h.List)
	e.DELETE("/logs", h.Clear)
	e.GET("/logs/filtered", h.Filtered)
	e.GET("/logs/filter", h.Filter)
	e.PUT("/logs/filter", h.SetFilter)
	e.GET("/stream", h.Stream)
	e.GET("/stream/ws", h.StreamWS)
}
