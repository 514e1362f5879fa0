package httpinput

import (
	"fmt"

	"github.com/akave-ai/devlog/internal/infrastructure/inputs"
)

func init() {
	inputs.DefaultRegistry.Register(&Factory{})
}

// Factory creates HTTP ingest inputs. Registers as "http".
type Factory struct{}

func (f *Factory) Name() string {
	return "http"
}

func (f *Factory) ConfigSpec() inputs.InputTypeInfo {
	return inputs.InputTypeInfo{
		Type:        "http",
		Description: "HTTP ingest endpoint. Accepts one JSON log entry per POST and appends it to the log buffer. Mounted on the main server or bound to its own port.",
		Fields: []inputs.ConfigField{
			{Name: "description", Type: "string", Required: true, Description: "Path segment for the endpoint (e.g. 'logs' → /logs)", Example: "logs"},
			{Name: "base_path", Type: "string", Required: false, Description: "Base path prefix", Example: "/"},
			{Name: "listen", Type: "string", Required: false, Description: "Optional host:port to bind. If set, the input listens on this address instead of being mounted on the main server.", Example: ":9007"},
			{Name: "max_body_bytes", Type: "number", Required: false, Description: "Largest accepted request body", Example: "1048576"},
		},
	}
}

func (f *Factory) ValidateConfig(cfg inputs.Config) error {
	if description, _ := cfg["description"].(string); description == "" {
		return fmt.Errorf("missing 'description'")
	}
	if v, ok := cfg["max_body_bytes"]; ok {
		if n, ok := v.(int); !ok || n <= 0 {
			return fmt.Errorf("'max_body_bytes' must be a positive int")
		}
	}
	return nil
}

func (f *Factory) Create(cfg inputs.Config, sink inputs.Sink) (inputs.MessageInput, error) {
	description, _ := cfg["description"].(string)
	if description == "" {
		return nil, fmt.Errorf("missing 'description' for http input")
	}
	basePath, _ := cfg["base_path"].(string)
	listen, _ := cfg["listen"].(string)
	in := NewInput(basePath, description, sink, listen)
	if n, ok := cfg["max_body_bytes"].(int); ok && n > 0 {
		in.maxBody = int64(n)
	}
	return in, nil
}
