package management

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"erpmigrate/internal/planner"
	"erpmigrate/pkg/progress"
)

func newTestRouter(t *testing.T) (*gin.Engine, *progress.Bus) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	bus := progress.NewBus(progress.Config{}, nil)
	svc := newTestService(t, Settings{DryRun: true}, bus)
	router := gin.New()
	NewHandler(svc, bus, nil).RegisterRoutes(router)
	return router, bus
}

func do(router http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		payload, _ := json.Marshal(body)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHandlerExtractAndPlan(t *testing.T) {
	router, _ := newTestRouter(t)

	w := do(router, http.MethodPost, "/api/v1/extractions?wait=true", ExtractRequest{RunID: "api-1"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(router, http.MethodGet, "/api/v1/extractions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"runIds":["api-1"]}`, w.Body.String())

	w = do(router, http.MethodPost, "/api/v1/extractions/api-1/plan", PlanRequest{Options: planner.Options{IncludeModules: []string{"FI"}}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var plan planner.Plan
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &plan))
	assert.Equal(t, "api-1", plan.RunID)
	assert.Equal(t, []string{"FI"}, plan.Scope.Options.IncludeModules)

	w = do(router, http.MethodPost, "/api/v1/extractions/api-1/plan", nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestHandlerMigrationLifecycle(t *testing.T) {
	router, _ := newTestRouter(t)

	w := do(router, http.MethodPost, "/api/v1/migrations", MigrateRequest{RunID: "api-mig", Objects: []string{"FI_CONFIG"}})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var job Job
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &job))
	assert.Equal(t, "api-mig", job.RunID)

	require.Eventually(t, func() bool {
		w := do(router, http.MethodGet, "/api/v1/jobs/api-mig", nil)
		return w.Code == http.StatusOK && strings.Contains(w.Body.String(), `"state":"completed"`)
	}, 10*time.Second, 20*time.Millisecond)

	w = do(router, http.MethodGet, "/api/v1/migrations/api-mig", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"FI_CONFIG"`)

	w = do(router, http.MethodGet, "/api/v1/migrations?limit=5", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "api-mig")
}

func TestHandlerErrors(t *testing.T) {
	router, _ := newTestRouter(t)

	tests := []struct {
		name   string
		method string
		path   string
		status int
		code   string
	}{
		{"unknown extraction", http.MethodGet, "/api/v1/extractions/none", http.StatusNotFound, "ERR_NOT_FOUND"},
		{"plan unknown extraction", http.MethodPost, "/api/v1/extractions/none/plan", http.StatusNotFound, "ERR_NOT_FOUND"},
		{"unknown run", http.MethodGet, "/api/v1/migrations/none", http.StatusNotFound, "ERR_NOT_FOUND"},
		{"unknown job", http.MethodGet, "/api/v1/jobs/none", http.StatusNotFound, "ERR_NOT_FOUND"},
		{"bad limit", http.MethodGet, "/api/v1/migrations?limit=x", http.StatusBadRequest, "ERR_CONFIGURATION"},
		{"bad replay", http.MethodGet, "/api/v1/events?replay=-1", http.StatusBadRequest, "ERR_CONFIGURATION"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(router, tt.method, tt.path, nil)
			assert.Equal(t, tt.status, w.Code)
			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.code, body["error_code"])
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/extractions", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlerEvents(t *testing.T) {
	router, bus := newTestRouter(t)
	bus.Emit("migration:start", map[string]interface{}{"objectId": "GL_ACCOUNT"})
	bus.Emit("extraction:start", nil)

	w := do(router, http.MethodGet, "/api/v1/events/history?type=migration:", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var events []progress.Event
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &events))
	require.Len(t, events, 1)
	assert.Equal(t, "migration:start", events[0].Type)

	server := httptest.NewServer(router)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/api/v1/events?replay=2", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var types []string
	scanner := bufio.NewScanner(resp.Body)
	for len(types) < 3 && scanner.Scan() {
		if line := scanner.Text(); strings.HasPrefix(line, "event: ") {
			types = append(types, strings.TrimPrefix(line, "event: "))
		}
	}
	assert.Equal(t, []string{"connected", "migration:start", "extraction:start"}, types)
}
