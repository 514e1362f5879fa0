package handler

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/akave-ai/devlog/internal/buffer"
	"github.com/akave-ai/devlog/internal/infrastructure/inputs"
	"github.com/akave-ai/devlog/internal/response"
)

// InfoHandler serves the endpoint listing and health check.
type InfoHandler struct {
	Buffer   *buffer.Buffer
	Registry *inputs.Registry
	Port     string
	AuthOn   bool
}

// Info returns a plain-text endpoint listing (GET /info).
func (h *InfoHandler) Info(c echo.Context) error {
	var b strings.Builder
	b.WriteString("devlog\n======\n\nEndpoints:\n")
	b.WriteString("- POST /logs                      - Submit a log entry\n")
	b.WriteString("- GET /logs                       - Retrieve all buffered logs (JSON)\n")
	b.WriteString("- DELETE /logs                    - Clear all logs\n")
	b.WriteString("- GET /logs/filtered              - Logs matching the current filter\n")
	b.WriteString("- GET|PUT /logs/filter            - Read or set the filter\n")
	b.WriteString("- GET /stream                     - Live logs (server-sent events)\n")
	b.WriteString("- GET /stream/ws                  - Live logs (WebSocket)\n")
	b.WriteString("\nDevice log requests (Bearer token")
	if !h.AuthOn {
		b.WriteString(", currently disabled")
	}
	b.WriteString("):\n")
	b.WriteString("- POST /logs/request              - Ask a device for its logs\n")
	b.WriteString("- DELETE /logs/request?deviceId=  - Cancel a pending request\n")
	b.WriteString("- GET /logs/poll?deviceId=        - Device polls for a pending request\n")
	b.WriteString("- POST /logs/upload               - Device uploads requested logs\n")
	b.WriteString("- GET /logs/uploads               - List your uploads\n")
	b.WriteString("- GET /logs/uploads/:request_id   - Fetch one upload\n")
	b.WriteString("- GET /logs/requests/:id          - Request status\n")
	b.WriteString("- GET /logs/requests/stats        - Request counts\n")
	if h.Registry != nil {
		b.WriteString("\nInput types:\n")
		for _, info := range h.Registry.AllTypesInfo() {
			fmt.Fprintf(&b, "- %s: %s\n", info.Type, info.Description)
		}
	}
	fmt.Fprintf(&b, "\nServer is listening on port %s\n", h.Port)
	return c.String(http.StatusOK, b.String())
}

type healthResponse struct {
	Status      string `json:"status"`
	Buffered    int    `json:"buffered"`
	Capacity    int    `json:"capacity"`
	Subscribers int    `json:"subscribers"`
}

// Health reports liveness and buffer occupancy (GET /health).
func (h *InfoHandler) Health(c echo.Context) error {
	return response.OK(c, healthResponse{
		Status:      "ok",
		Buffered:    h.Buffer.Len(),
		Capacity:    h.Buffer.Capacity(),
		Subscribers: h.Buffer.Subscribers(),
	}, "")
}

func (h *InfoHandler) Register(e *echo.Echo) {
	e.GET("/info", h.Info)
	e.GET("/health", h.Health)
}
