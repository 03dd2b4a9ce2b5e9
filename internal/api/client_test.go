package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_TrimsTrailingSlash(t *testing.T) {
	c := New("http://localhost:5000/", "secret")
	assert.Equal(t, "http://localhost:5000", c.baseURL)
	assert.Equal(t, "secret", c.apiKey)
	assert.NotNil(t, c.httpClient)
}

func TestHealthcheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/healthcheck" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	require.NoError(t, New(server.URL, "").Healthcheck(context.Background()))
}

func TestHealthcheck_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	assert.ErrorContains(t, New(server.URL, "").Healthcheck(context.Background()), "500")
}

func TestHealthcheck_ServerDown(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	assert.Error(t, New(url, "").Healthcheck(context.Background()))
}

func TestUpload(t *testing.T) {
	got := map[string]string{}
	var content []byte

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/recordings" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		for _, k := range []string{"secret", "filename", "runId", "network", "simDuration", "ticks", "tag"} {
			got[k] = r.FormValue(k)
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer f.Close()
		content, _ = io.ReadAll(f)
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	path := filepath.Join(t.TempDir(), "run-1.json.gz")
	require.NoError(t, os.WriteFile(path, []byte("recording"), 0o644))

	err := New(server.URL, "mysecret").Upload(context.Background(), path, RecordingMeta{
		RunID:       "run-1",
		Network:     "cross.net.xml",
		SimDuration: 3600.5,
		Ticks:       18002,
		Tag:         "peak",
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"secret":      "mysecret",
		"filename":    "run-1.json.gz",
		"runId":       "run-1",
		"network":     "cross.net.xml",
		"simDuration": "3600.500",
		"ticks":       "18002",
		"tag":         "peak",
	}, got)
	assert.Equal(t, "recording", string(content))
}

func TestUpload_FileNotFound(t *testing.T) {
	err := New("http://localhost:5000", "secret").Upload(context.Background(), "/nonexistent/file.json.gz", RecordingMeta{})
	assert.ErrorContains(t, err, "failed to open file")
}

func TestUpload_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	path := filepath.Join(t.TempDir(), "run.db")
	require.NoError(t, os.WriteFile(path, []byte("content"), 0o644))

	err := New(server.URL, "wrong-secret").Upload(context.Background(), path, RecordingMeta{})
	assert.ErrorContains(t, err, "403")
}
