package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/muninn/pkg/archive"
	"github.com/orneryd/muninn/pkg/config"
	"github.com/orneryd/muninn/pkg/muninn"
)

func newTestServer(t *testing.T, password string) (*Server, string) {
	t.Helper()
	brainPath := filepath.Join(t.TempDir(), "test.brain")

	snaps, err := archive.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { snaps.Close() })

	cfg := config.LoadFromEnv().Server
	cfg.Password = password

	s, err := New(cfg, muninn.New(), brainPath, snaps)
	require.NoError(t, err)
	return s, brainPath
}

func doJSON(t *testing.T, h http.Handler, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewBuffer(data)
	} else {
		reader = bytes.NewBuffer(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	return m
}

func TestServer_Health(t *testing.T) {
	s, _ := newTestServer(t, "")
	rec := doJSON(t, s.Handler(), http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	m := decode(t, rec)
	assert.Equal(t, "ok", m["status"])
	assert.Equal(t, float64(0), m["episodes"])
}

func TestServer_EpisodeFlow(t *testing.T) {
	s, _ := newTestServer(t, "")
	h := s.Handler()

	t.Run("training_episode", func(t *testing.T) {
		target := "cats"
		for i := 0; i < 20; i++ {
			rec := doJSON(t, h, http.MethodPost, "/episode", "",
				episodeRequest{Input: "cat", Target: &target})
			require.Equal(t, http.StatusOK, rec.Code)
		}

		rec := doJSON(t, h, http.MethodGet, "/pressures", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		m := decode(t, rec)
		assert.Equal(t, float64(20), m["episodes"])
	})

	t.Run("inference_episode", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodPost, "/episode", "",
			episodeRequest{Input: "cat"})
		require.Equal(t, http.StatusOK, rec.Code)
		m := decode(t, rec)
		output := m["output"].(string)
		assert.NotEmpty(t, output)

		last := doJSON(t, h, http.MethodGet, "/output", "", nil)
		assert.Equal(t, output, decode(t, last)["output"])
	})

	t.Run("repeated_inference_is_cached", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodPost, "/episode", "",
			episodeRequest{Input: "cat"})
		require.Equal(t, http.StatusOK, rec.Code)
		first := decode(t, rec)["output"]

		rec = doJSON(t, h, http.MethodPost, "/episode", "",
			episodeRequest{Input: "cat"})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, first, decode(t, rec)["output"])

		hits, _ := s.inferred.Stats()
		assert.GreaterOrEqual(t, hits, uint64(1))
	})

	t.Run("training_clears_inference_cache", func(t *testing.T) {
		doJSON(t, h, http.MethodPost, "/episode", "", episodeRequest{Input: "cat"})
		require.NotZero(t, s.inferred.Len())

		target := "cats"
		doJSON(t, h, http.MethodPost, "/episode", "",
			episodeRequest{Input: "cat", Target: &target})
		assert.Zero(t, s.inferred.Len())
	})

	t.Run("malformed_body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/episode", bytes.NewBufferString("{nope"))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("wrong_method", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodGet, "/episode", "", nil)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestServer_SaveLoad(t *testing.T) {
	s, brainPath := newTestServer(t, "")
	h := s.Handler()

	target := "cats"
	doJSON(t, h, http.MethodPost, "/episode", "", episodeRequest{Input: "cat", Target: &target})

	rec := doJSON(t, h, http.MethodPost, "/save", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, brainPath, decode(t, rec)["saved"])

	rec = doJSON(t, h, http.MethodPost, "/load", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	m := decode(t, rec)
	assert.Equal(t, float64(0), m["diagnostics"])

	t.Run("load_missing_file_is_404", func(t *testing.T) {
		s2, _ := newTestServer(t, "")
		rec := doJSON(t, s2.Handler(), http.MethodPost, "/load", "", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestServer_Archive(t *testing.T) {
	s, _ := newTestServer(t, "")
	h := s.Handler()

	for i := 0; i < 3; i++ {
		rec := doJSON(t, h, http.MethodPost, "/archive/snapshot", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := doJSON(t, h, http.MethodGet, "/archive/snapshots", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	m := decode(t, rec)
	assert.Len(t, m["snapshots"], 3)

	t.Run("disabled_archive_is_501", func(t *testing.T) {
		cfg := config.LoadFromEnv().Server
		s2, err := New(cfg, muninn.New(), filepath.Join(t.TempDir(), "b.brain"), nil)
		require.NoError(t, err)
		rec := doJSON(t, s2.Handler(), http.MethodPost, "/archive/snapshot", "", nil)
		assert.Equal(t, http.StatusNotImplemented, rec.Code)
	})
}

func TestServer_Auth(t *testing.T) {
	s, _ := newTestServer(t, "hunter2")
	h := s.Handler()

	t.Run("health_is_public", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodGet, "/health", "", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("episode_requires_token", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodPost, "/episode", "", episodeRequest{Input: "cat"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("bad_password_rejected", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodPost, "/auth/token", "",
			map[string]string{"password": "nope"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("token_grants_access", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodPost, "/auth/token", "",
			map[string]string{"password": "hunter2"})
		require.Equal(t, http.StatusOK, rec.Code)
		token := decode(t, rec)["access_token"].(string)
		require.NotEmpty(t, token)

		for i := 0; i < 3; i++ {
			ep := doJSON(t, h, http.MethodPost, "/episode", token, episodeRequest{Input: fmt.Sprintf("in%d", i)})
			assert.Equal(t, http.StatusOK, ep.Code)
		}
	})
}
