package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dan246/mtx-toolkit/internal/httpclient"
	"github.com/dan246/mtx-toolkit/internal/models"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := httpclient.DefaultConfig()
	cfg.RetryAttempts = 0
	return NewClient(server.URL, httpclient.New(cfg), nil), server
}

func TestClient_ListPaths(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v3/paths/list", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"itemCount": 2,
			"pageCount": 1,
			"items": []map[string]any{
				{
					"name":     "cam1",
					"confName": "cam1",
					"ready":    true,
					"source":   map[string]any{"type": "rtspSource", "id": "abc"},
				},
				{
					"name":     "cam2",
					"confName": "all_others",
					"ready":    false,
				},
			},
		})
	})

	client, _ := newTestClient(t, mux)
	paths, err := client.ListPaths(context.Background())
	require.NoError(t, err)
	require.Len(t, paths, 2)

	assert.Equal(t, "cam1", paths[0].Name)
	assert.True(t, paths[0].Ready)
	assert.Equal(t, models.ProtocolRTSP, paths[0].Protocol())
	assert.Nil(t, paths[1].Source)
	assert.Equal(t, models.ProtocolUnknown, paths[1].Protocol())
}

func TestClient_ListPaths_Paginated(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v3/paths/list", func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		items := []map[string]any{{"name": "cam-page-" + page}}
		json.NewEncoder(w).Encode(map[string]any{
			"itemCount": 2,
			"pageCount": 2,
			"items":     items,
		})
	})

	client, _ := newTestClient(t, mux)
	paths, err := client.ListPaths(context.Background())
	require.NoError(t, err)
	require.Len(t, paths, 2)
	assert.Equal(t, "cam-page-0", paths[0].Name)
	assert.Equal(t, "cam-page-1", paths[1].Name)
}

func TestClient_PathConfigLifecycle(t *testing.T) {
	var added PathConf
	mux := http.NewServeMux()
	mux.HandleFunc("/v3/config/paths/add/cam1", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&added))
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/v3/config/paths/get/cam1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(added)
	})
	mux.HandleFunc("/v3/config/paths/get/missing", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	})
	mux.HandleFunc("/v3/config/paths/delete/cam1", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNoContent)
	})

	client, _ := newTestClient(t, mux)
	ctx := context.Background()

	require.NoError(t, client.AddPath(ctx, "cam1", PathConf{
		"source":         "rtsp://cam1.local/stream",
		"sourceOnDemand": true,
	}))

	conf, err := client.GetPathConfig(ctx, "cam1")
	require.NoError(t, err)
	assert.Equal(t, "rtsp://cam1.local/stream", conf["source"])

	_, err = client.GetPathConfig(ctx, "missing")
	assert.ErrorIs(t, err, ErrPathNotFound)

	require.NoError(t, client.DeletePath(ctx, "cam1"))
}

func TestClient_GlobalConfig(t *testing.T) {
	var patched GlobalConf
	mux := http.NewServeMux()
	mux.HandleFunc("/v3/config/global/get", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"logLevel": "info", "rtsp": true})
	})
	mux.HandleFunc("/v3/config/global/patch", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPatch, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&patched))
		w.WriteHeader(http.StatusOK)
	})

	client, _ := newTestClient(t, mux)
	ctx := context.Background()

	conf, err := client.GetGlobalConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, "info", conf["logLevel"])

	require.NoError(t, client.PatchGlobalConfig(ctx, GlobalConf{"logLevel": "debug"}))
	assert.Equal(t, "debug", patched["logLevel"])
}

func TestClient_ListSessions_ProtocolDisabled(t *testing.T) {
	client, _ := newTestClient(t, http.NotFoundHandler())

	_, err := client.ListSessions(context.Background(), models.ProtocolWebRTC)
	assert.ErrorIs(t, err, ErrProtocolDisabled)
}

func TestClient_ListSessions(t *testing.T) {
	created := time.Now().UTC().Truncate(time.Second)
	mux := http.NewServeMux()
	mux.HandleFunc("/v3/rtspsessions/list", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"itemCount": 1,
			"pageCount": 1,
			"items": []map[string]any{{
				"id":         "sess-1",
				"created":    created.Format(time.RFC3339),
				"remoteAddr": "192.168.1.5:53211",
				"state":      "read",
				"path":       "cam1",
			}},
		})
	})

	client, _ := newTestClient(t, mux)
	sessions, err := client.ListSessions(context.Background(), models.ProtocolRTSP)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "sess-1", sessions[0].ID)
	assert.Equal(t, "read", sessions[0].State)
}

func TestClient_KickPathSessions(t *testing.T) {
	kicked := map[string]bool{}
	mux := http.NewServeMux()
	mux.HandleFunc("/v3/rtspsessions/list", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"itemCount": 2,
			"pageCount": 1,
			"items": []map[string]any{
				{"id": "a", "path": "cam1", "state": "read"},
				{"id": "b", "path": "cam2", "state": "read"},
			},
		})
	})
	mux.HandleFunc("/v3/rtspsessions/kick/", func(w http.ResponseWriter, r *http.Request) {
		kicked[r.URL.Path] = true
		w.WriteHeader(http.StatusOK)
	})
	// All other protocol endpoints report disabled.

	client, _ := newTestClient(t, mux)
	count, err := client.KickPathSessions(context.Background(), "cam1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.True(t, kicked["/v3/rtspsessions/kick/a"])
	assert.False(t, kicked["/v3/rtspsessions/kick/b"])
}

func TestClient_MutationBadStatus(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v3/config/paths/add/cam1", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid path configuration", http.StatusBadRequest)
	})

	client, _ := newTestClient(t, mux)
	err := client.AddPath(context.Background(), "cam1", PathConf{})
	require.Error(t, err)
	assert.True(t, IsBadStatus(err, http.StatusBadRequest))
	assert.Contains(t, err.Error(), "invalid path configuration")
}
