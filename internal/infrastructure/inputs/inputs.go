// Package inputs defines pluggable ingestion inputs. An input accepts log
// entries from some transport and appends them to a Sink; the server decides
// where each input is mounted.
package inputs

import (
	"net/http"

	"github.com/akave-ai/devlog/internal/model"
)

// Sink receives decoded log entries from inputs.
type Sink interface {
	Append(model.LogEntry)
}

// Config is a key-value map for input-type-specific configuration.
type Config map[string]any

// Factory creates a MessageInput from config. Each input type registers one.
type Factory interface {
	Name() string
	ConfigSpec() InputTypeInfo
	Create(cfg Config, sink Sink) (MessageInput, error)
}

// MessageInput is implemented by all input types.
type MessageInput interface {
	Start() error
	Stop() error
}

// HTTPEndpointInput is an input that exposes an HTTP handler at Path.
type HTTPEndpointInput interface {
	MessageInput
	Path() string
	Handler() http.Handler
}

// InputSpec describes an input instance to create at startup.
type InputSpec struct {
	Type        string
	Description string
	Config      Config
}

// ConfigWithDescription returns a copy of Config with description set.
func (s InputSpec) ConfigWithDescription() Config {
	cfg := make(Config, len(s.Config)+1)
	for k, v := range s.Config {
		cfg[k] = v
	}
	if s.Description != "" {
		cfg["description"] = s.Description
	}
	return cfg
}

// ConfigField describes one configuration field for an input type.
type ConfigField struct {
	Name        string `json:"name"`
	Type        string `json:"type"` // "string", "number", "bool", "object"
	Required    bool   `json:"required"`
	Description string `json:"description"`
	Example     string `json:"example,omitempty"`
}

// InputTypeInfo is reported by GET /info for every registered input type.
type InputTypeInfo struct {
	Type        string        `json:"type"`
	Description string        `json:"description"`
	Fields      []ConfigField `json:"fields"`
}
