package testrail

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Gracecr/sacred/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testRailServer struct {
	mu          sync.Mutex
	bodies      map[string]map[string]any
	attachments map[string]string
}

func newTestRailServer(t *testing.T) (*testRailServer, *httptest.Server) {
	t.Helper()
	s := &testRailServer{bodies: map[string]map[string]any{}, attachments: map[string]string{}}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, key, ok := r.BasicAuth()
		if !ok || user != "bot@example.com" || key != "secret" {
			http.Error(w, `{"error":"Authentication failed"}`, http.StatusUnauthorized)
			return
		}
		assert.Equal(t, "/index.php", r.URL.Path)

		endpoint := r.URL.RawQuery
		s.mu.Lock()
		defer s.mu.Unlock()

		reply := func(v any) {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(v)
		}

		switch endpoint {
		case "/api/v2/get_current_user/0":
			reply(map[string]any{"id": 42, "name": "bot"})
		case "/api/v2/get_run/5":
			reply(map[string]any{"id": 5, "name": "nightly"})
		case "/api/v2/get_run/9":
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"error":"Field :run_id is not a valid test run."}`)
		case "/api/v2/add_run/3", "/api/v2/add_result_for_case/5/11":
			var body map[string]any
			if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&body)) {
				http.Error(w, "bad body", http.StatusBadRequest)
				return
			}
			s.bodies[endpoint] = body
			if endpoint == "/api/v2/add_run/3" {
				reply(map[string]any{"id": 77})
			} else {
				reply(map[string]any{"id": 900})
			}
		case "/api/v2/add_attachment_to_result/900":
			f, header, err := r.FormFile("attachment")
			if !assert.NoError(t, err) {
				http.Error(w, "no attachment", http.StatusBadRequest)
				return
			}
			content, _ := io.ReadAll(f)
			s.attachments[header.Filename] = string(content)
			reply(map[string]any{"attachment_id": 1})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return s, srv
}

func TestHTTPClient(t *testing.T) {
	ctx := context.Background()
	s, srv := newTestRailServer(t)
	client := NewHTTPClient(srv.URL+"/", "bot@example.com", "secret", 5*time.Second)

	t.Run("current user", func(t *testing.T) {
		id, err := client.CurrentUserID(ctx)
		require.NoError(t, err)
		assert.Equal(t, 42, id)
	})

	t.Run("get run", func(t *testing.T) {
		run, err := client.GetRun(ctx, 5)
		require.NoError(t, err)
		assert.Equal(t, Run{ID: 5, Name: "nightly"}, run)

		_, err = client.GetRun(ctx, 9)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "status 400")
		assert.Contains(t, err.Error(), "not a valid test run")
	})

	t.Run("add run", func(t *testing.T) {
		run, err := client.AddRun(ctx, 3)
		require.NoError(t, err)
		assert.Equal(t, 77, run.ID)
		assert.Empty(t, s.bodies["/api/v2/add_run/3"])
	})

	t.Run("add result merges fields", func(t *testing.T) {
		id, err := client.AddResultForCase(ctx, 5, 11, Result{
			StatusID:     StatusPassed,
			Elapsed:      "3s",
			AssignedToID: 42,
			Fields:       map[string]any{"custom_seed": "17", "status_id": 99},
		})
		require.NoError(t, err)
		assert.Equal(t, 900, id)

		body := s.bodies["/api/v2/add_result_for_case/5/11"]
		assert.Equal(t, float64(StatusPassed), body["status_id"], "standard fields win over extra ones")
		assert.Equal(t, "3s", body["elapsed"])
		assert.Equal(t, float64(42), body["assignedto_id"])
		assert.Equal(t, "17", body["custom_seed"])
	})

	t.Run("attachment", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "model.txt")
		require.NoError(t, os.WriteFile(path, []byte("weights"), 0o600))

		require.NoError(t, client.AddAttachmentToResult(ctx, 900, path))
		assert.Equal(t, map[string]string{"model.txt": "weights"}, s.attachments)
	})

	t.Run("bad credentials", func(t *testing.T) {
		bad := NewHTTPClient(srv.URL, "bot@example.com", "wrong", 0)
		_, err := bad.CurrentUserID(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "status 401")
	})
}

func TestHTTPClient_WithObserver(t *testing.T) {
	ctx := context.Background()
	s, srv := newTestRailServer(t)

	o, err := New(ctx, NewHTTPClient(srv.URL, "bot@example.com", "secret", 0), Config{CaseID: 11, RunID: 5}, nil)
	require.NoError(t, err)
	require.NoError(t, o.Resume(ctx, "run-1", start))
	require.NoError(t, o.FailedEvent(ctx, core.FailedEvent{FailTime: start.Add(10 * time.Second)}))

	body := s.bodies["/api/v2/add_result_for_case/5/11"]
	require.NotNil(t, body)
	assert.Equal(t, float64(StatusFailed), body["status_id"])
	assert.Equal(t, "10s", body["elapsed"])
	assert.Equal(t, float64(42), body["assignedto_id"])
}
