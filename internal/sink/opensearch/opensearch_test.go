package opensearch

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e1c-ops/eventlog-watcher/internal/settings"
	"github.com/e1c-ops/eventlog-watcher/internal/sink"
)

func newTestSender(t *testing.T, serverURL string) *Sender {
	t.Helper()

	u, err := url.Parse(serverURL)
	require.NoError(t, err)
	host, port, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)

	content := `receiver-parameters:
  opensearch:
    host: ` + host + `
    port: ` + port + `
    login: watcher
    password: secret
    index: eventlog
`
	path := filepath.Join(t.TempDir(), "settings.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	s, err := settings.Load(path)
	require.NoError(t, err)

	return NewSender(s, hclog.NewNullLogger())
}

// decodeBody unwraps the gzip compression the client applies to
// request bodies.
func decodeBody(t *testing.T, r *http.Request, v any) {
	t.Helper()
	body := io.Reader(r.Body)
	if r.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(r.Body)
		require.NoError(t, err)
		body = gz
	}
	require.NoError(t, json.NewDecoder(body).Decode(v))
}

func TestSender_Start_CreatesMissingIndex(t *testing.T) {
	var createdSettings map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("/eventlog", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodHead:
			w.WriteHeader(http.StatusNotFound)
		case http.MethodPut:
			decodeBody(t, r, &createdSettings)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"acknowledged":true}`))
		default:
			t.Errorf("unexpected method %s", r.Method)
		}
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	sender := newTestSender(t, server.URL)
	require.NoError(t, sender.Start(context.Background()))

	require.NotNil(t, createdSettings)
	idx := createdSettings["settings"].(map[string]any)["index"].(map[string]any)
	assert.Equal(t, float64(4), idx["number_of_shards"])
}

func TestSender_Start_ExistingIndexUntouched(t *testing.T) {
	puts := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/eventlog", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodHead:
			w.WriteHeader(http.StatusOK)
		case http.MethodPut:
			puts++
		}
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	sender := newTestSender(t, server.URL)
	require.NoError(t, sender.Start(context.Background()))
	assert.Equal(t, 0, puts)
}

func TestSender_Send(t *testing.T) {
	var got document
	var refresh string
	mux := http.NewServeMux()
	mux.HandleFunc("/eventlog", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/eventlog/_doc", func(w http.ResponseWriter, r *http.Request) {
		refresh = r.URL.Query().Get("refresh")
		decodeBody(t, r, &got)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"result":"created"}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	sender := newTestSender(t, server.URL)
	require.NoError(t, sender.Start(context.Background()))

	line := `{"Date":"2024-03-01T10:00:00","EventPresentation":"Login","Event":"_Login","User":"u1","UserName":"admin","Session":7,"Computer":"HOST1","Metadata":"Catalog.Users"}`
	marker, err := sender.Send(context.Background(), sink.Record{
		Line:           line,
		InfobaseID:     "ib1",
		ServiceName:    "billing",
		ServiceVersion: "1.7",
	})
	require.NoError(t, err)
	assert.Equal(t, "2024-03-01T10:00:00", marker)

	assert.Equal(t, "true", refresh)
	assert.Equal(t, "2024-03-01T10:00:00", got.TS)
	assert.Equal(t, []string{"ib1"}, got.Tags)
	assert.Equal(t, "billing", got.ServiceName)
	assert.Equal(t, "1.7", got.ServiceVersion)
	assert.Equal(t, "Login", got.Name)
	assert.Equal(t, float64(7), got.SessionID)
	assert.Equal(t, "u1", got.UserLogin)
	assert.Equal(t, "admin", got.UserName)
	assert.Equal(t, "HOST1", got.UserNode)
	assert.Equal(t, "Catalog.Users", got.Params["Metadata"])
	assert.NotContains(t, got.Params, "Event")

	ts, err := time.ParseInLocation("2006-01-02T15:04:05", "2024-03-01T10:00:00", time.Local)
	require.NoError(t, err)
	assert.Equal(t, ts.Unix(), got.Datetime)
}

func TestSender_Send_BadDateIsPassThrough(t *testing.T) {
	docs := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/eventlog", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/eventlog/_doc", func(w http.ResponseWriter, r *http.Request) {
		docs++
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	sender := newTestSender(t, server.URL)
	require.NoError(t, sender.Start(context.Background()))

	marker, err := sender.Send(context.Background(), sink.Record{
		Line: `{"Date":"bad-date","Event":"_Login"}`,
	})
	require.NoError(t, err)
	assert.Equal(t, "bad-date", marker)
	assert.Equal(t, 0, docs)
}

func TestSender_Send_IndexingErrorStillReturnsMarker(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/eventlog", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/eventlog/_doc", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"rejected"}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	sender := newTestSender(t, server.URL)
	require.NoError(t, sender.Start(context.Background()))

	marker, err := sender.Send(context.Background(), sink.Record{
		Line: `{"Date":"2024-03-01T10:00:00","Event":"_Login"}`,
	})
	assert.Error(t, err)
	assert.Equal(t, "2024-03-01T10:00:00", marker)
}
