package fileserver

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/G-Research/maestro/internal/common/health"
	"github.com/G-Research/maestro/internal/common/maestroerrors"
	"github.com/G-Research/maestro/internal/peerexec"
)

func newTestServer(t *testing.T) (*httptest.Server, *peerexec.LogDirectory, string) {
	logs, err := peerexec.NewLogDirectory(t.TempDir())
	require.NoError(t, err)
	run, err := logs.NewRunDirectory()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(run, "receiver-0.rate"), []byte("rate"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(run, "receiver-0.hdr"), []byte("latency"), 0o644))
	require.NoError(t, logs.MarkResult(run, true))

	server := httptest.NewServer(NewServer(logs, health.NewMultiChecker()).Handler())
	t.Cleanup(server.Close)
	return server, logs, run
}

func sha(data string) string {
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

func TestServer_List(t *testing.T) {
	server, _, _ := newTestServer(t)

	resp, err := http.Get(server.URL + "/logs/lastSuccessful")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var listing []FileInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listing))
	assert.Equal(t, []FileInfo{
		{Name: "receiver-0.hdr", Size: 7, Hash: sha("latency")},
		{Name: "receiver-0.rate", Size: 4, Hash: sha("rate")},
	}, listing)
}

func TestServer_File(t *testing.T) {
	server, _, _ := newTestServer(t)

	resp, err := http.Get(server.URL + "/logs/last/receiver-0.rate")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, sha("rate"), resp.Header.Get(HashHeader))
}

func TestServer_Errors(t *testing.T) {
	server, _, _ := newTestServer(t)

	tests := map[string]struct {
		path   string
		status int
	}{
		"missing link":     {path: "/logs/lastFailed", status: http.StatusNotFound},
		"missing file":     {path: "/logs/last/sender-0.rate", status: http.StatusNotFound},
		"missing run":      {path: "/logs/tests-42", status: http.StatusNotFound},
		"invalid location": {path: "/logs/yesterday", status: http.StatusBadRequest},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			resp, err := http.Get(server.URL + tc.path)
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, tc.status, resp.StatusCode)
		})
	}
}

func TestServer_HealthAndMetrics(t *testing.T) {
	server, _, _ := newTestServer(t)

	for _, path := range []string{"/health", "/metrics"} {
		resp, err := http.Get(server.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

func TestDownload(t *testing.T) {
	server, _, _ := newTestServer(t)
	dest := filepath.Join(t.TempDir(), "peer")

	paths, err := Download(context.Background(), server.URL, "tests-0", dest)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dest, "receiver-0.hdr"), filepath.Join(dest, "receiver-0.rate")}, paths)

	data, err := os.ReadFile(filepath.Join(dest, "receiver-0.hdr"))
	require.NoError(t, err)
	assert.Equal(t, "latency", string(data))
}

func TestDownload_KeepsFileFailingVerification(t *testing.T) {
	handler := http.NewServeMux()
	handler.HandleFunc("/logs/last", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]FileInfo{{Name: "sender-0.rate", Size: 4}})
	})
	handler.HandleFunc("/logs/last/sender-0.rate", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(HashHeader, sha("something else"))
		_, _ = w.Write([]byte("rate"))
	})
	server := httptest.NewServer(handler)
	defer server.Close()
	dest := t.TempDir()

	paths, err := Download(context.Background(), server.URL, "last", dest)
	require.NoError(t, err)
	require.Len(t, paths, 1)
	data, err := os.ReadFile(paths[0])
	require.NoError(t, err)
	assert.Equal(t, "rate", string(data))
}

func TestDownload_MissingLocation(t *testing.T) {
	server, _, _ := newTestServer(t)

	_, err := Download(context.Background(), server.URL, "lastFailed", t.TempDir())
	var notFound *maestroerrors.ErrNotFound
	assert.True(t, errors.As(err, &notFound), "unexpected error %v", err)
}
