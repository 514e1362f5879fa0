package httpinput

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akave-ai/devlog/internal/infrastructure/inputs"
	"github.com/akave-ai/devlog/internal/model"
)

type memSink struct {
	mu      sync.Mutex
	entries []model.LogEntry
}

func (s *memSink) Append(e model.LogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
}

func (s *memSink) All() []model.LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.LogEntry(nil), s.entries...)
}

const validEntry = `{
	"id": "e1",
	"timestamp": "2026-01-15T10:00:00Z",
	"level": "info",
	"message": "hello",
	"deviceId": "dev-A",
	"source": "ios",
	"tags": [],
	"file": "App.swift",
	"function": "run()",
	"line": 7
}`

func mountTestInput(t *testing.T, sink inputs.Sink) *httptest.Server {
	t.Helper()
	reg := inputs.NewRegistry()
	reg.Register(&Factory{})

	mux := http.NewServeMux()
	specs := []inputs.InputSpec{{Type: "http", Description: "logs", Config: inputs.Config{"base_path": "/"}}}
	running, err := reg.Mount(specs, sink, func(p string, h http.Handler) { mux.Handle(p, h) })
	require.NoError(t, err)
	require.Len(t, running, 1)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPInput_AppendsEntry(t *testing.T) {
	sink := &memSink{}
	srv := mountTestInput(t, sink)

	resp, err := http.Post(srv.URL+"/logs", "application/json", strings.NewReader(validEntry))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	got := sink.All()
	require.Len(t, got, 1)
	assert.Equal(t, "e1", got[0].ID)
	assert.Equal(t, uint32(7), got[0].Line)
}

func TestHTTPInput_RejectsInvalid(t *testing.T) {
	sink := &memSink{}
	srv := mountTestInput(t, sink)

	cases := map[string]string{
		"malformed":         `{"id":`,
		"missing message":   `{"id":"e1","timestamp":"2026-01-15T10:00:00Z","level":"info","deviceId":"d","source":"s"}`,
		"missing timestamp": `{"id":"e1","level":"info","message":"m","deviceId":"d","source":"s"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+"/logs", "application/json", strings.NewReader(body))
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
	assert.Empty(t, sink.All())
}

func TestHTTPInput_MethodNotAllowed(t *testing.T) {
	srv := mountTestInput(t, &memSink{})

	resp, err := http.Get(srv.URL + "/logs")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHTTPInput_BodyLimit(t *testing.T) {
	sink := &memSink{}
	in := NewInput("/", "logs", sink, "")
	in.maxBody = 16

	rec := httptest.NewRecorder()
	in.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/logs", strings.NewReader(validEntry)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Empty(t, sink.All())
}

func TestHTTPInput_OwnListener(t *testing.T) {
	sink := &memSink{}
	reg := inputs.NewRegistry()
	reg.Register(&Factory{})

	mounted := false
	specs := []inputs.InputSpec{{Type: "http", Description: "logs", Config: inputs.Config{"listen": "127.0.0.1:0"}}}
	running, err := reg.Mount(specs, sink, func(string, http.Handler) { mounted = true })
	require.NoError(t, err)
	t.Cleanup(func() { _ = inputs.StopAll(running) })
	assert.False(t, mounted)

	addr := running[0].(*Input).Addr()
	require.NotEmpty(t, addr)
	resp, err := http.Post("http://"+addr+"/logs", "application/json", strings.NewReader(validEntry))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Len(t, sink.All(), 1)
}

func TestRegistry(t *testing.T) {
	assert.Contains(t, inputs.DefaultRegistry.Types(), "http")

	reg := inputs.NewRegistry()
	reg.Register(&Factory{})
	_, err := reg.Create("syslog", nil, &memSink{})
	assert.Error(t, err)

	_, err = reg.Create("http", inputs.Config{}, &memSink{})
	assert.Error(t, err)

	info, ok := reg.TypeInfo("http")
	require.True(t, ok)
	assert.Equal(t, "http", info.Type)
	assert.Len(t, reg.AllTypesInfo(), 1)
}
