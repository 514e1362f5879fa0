package httpinput

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/akave-ai/devlog/internal/infrastructure/inputs"
	"github.com/akave-ai/devlog/internal/model"
)

const defaultMaxBody = 1 << 20

var validate = validator.New()

// Input is an HTTP ingest endpoint that decodes a JSON log entry per request
// and appends it to a Sink.
type Input struct {
	path       string
	listenAddr string
	boundAddr  string
	maxBody    int64
	sink       inputs.Sink
	server     *http.Server
}

// NewInput creates an HTTP input at basePath/description. listenAddr is
// optional; if set, Start binds to that address.
func NewInput(basePath, description string, sink inputs.Sink, listenAddr string) *Input {
	p := path.Join("/", strings.TrimSpace(basePath), strings.Trim(strings.TrimSpace(description), "/"))
	return &Input{
		path:       p,
		listenAddr: listenAddr,
		maxBody:    defaultMaxBody,
		sink:       sink,
	}
}

func (i *Input) Path() string { return i.path }

func (i *Input) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		var entry model.LogEntry
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, i.maxBody))
		if err := dec.Decode(&entry); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			writeError(w, http.StatusBadRequest, "invalid log entry JSON")
			return
		}
		if err := validate.Struct(entry); err != nil {
			writeError(w, http.StatusBadRequest, "invalid log entry: "+err.Error())
			return
		}
		if entry.Timestamp.IsZero() {
			writeError(w, http.StatusBadRequest, "invalid log entry: missing timestamp")
			return
		}
		i.sink.Append(entry)
		w.WriteHeader(http.StatusCreated)
	})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// Start binds the input's own listener when one is configured. A mounted
// input has nothing to start.
func (i *Input) Start() error {
	if i.listenAddr == "" {
		return nil
	}
	ln, err := net.Listen("tcp", i.listenAddr)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle(i.path, i.Handler())
	i.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	i.boundAddr = ln.Addr().String()
	go func() {
		if err := i.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("listen", i.listenAddr).Msg("ingest listener stopped")
		}
	}()
	log.Info().Str("listen", i.boundAddr).Str("path", i.path).Msg("ingest input listening")
	return nil
}

// Addr returns the bound address of the input's own listener, or "".
func (i *Input) Addr() string { return i.boundAddr }

func (i *Input) Stop() error {
	if i.server != nil {
		return i.server.Close()
	}
	return nil
}
