package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nadmax/conductor/internal/loop"
	"github.com/nadmax/conductor/internal/repository"
	"github.com/nadmax/conductor/internal/task"
)

func setupTestAPI(t *testing.T) (*API, *loop.Loop, *repository.MockRunRepository) {
	l := loop.New(loop.DefaultConfiguration(), loop.Options{
		Logger: log.New(io.Discard, "", 0),
	})
	repo := repository.NewMockRunRepository()
	return NewAPI(l, repo), l, repo
}

func postJSON(t *testing.T, api *API, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	api.ServeHTTP(w, req)
	return w
}

func getJSON(api *API, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	api.ServeHTTP(w, req)
	return w
}

func TestCreateTask(t *testing.T) {
	api, l, _ := setupTestAPI(t)

	w := postJSON(t, api, "/api/tasks", TaskRequest{
		Type:    "send_email",
		Payload: map[string]any{"to": "test@example.com"},
	})

	require.Equal(t, http.StatusCreated, w.Code)

	var created task.Task
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "send_email", created.Type)
	assert.Equal(t, task.StatusPending, created.Status)

	require.Len(t, l.PendingTasks(), 1)
}

func TestCreateTask_Validation(t *testing.T) {
	api, _, _ := setupTestAPI(t)

	t.Run("missing type", func(t *testing.T) {
		w := postJSON(t, api, "/api/tasks", TaskRequest{})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("invalid JSON", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/tasks", bytes.NewBufferString("{not json"))
		w := httptest.NewRecorder()
		api.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestCreateTask_ExplicitPriority(t *testing.T) {
	api, l, _ := setupTestAPI(t)

	high := task.PriorityHigh
	w := postJSON(t, api, "/api/tasks", TaskRequest{
		Type:     "send_email",
		Priority: &high,
	})

	require.Equal(t, http.StatusCreated, w.Code)
	require.Len(t, l.PendingTasks(), 1)
	assert.Equal(t, task.PriorityHigh, l.PendingTasks()[0].Priority)
}

func TestListTasks(t *testing.T) {
	api, l, _ := setupTestAPI(t)
	l.AddTask(task.NewTask("send_email", nil, task.PriorityMedium))
	l.AddTask(task.NewTask("generate_report", nil, task.PriorityMedium))

	w := getJSON(api, "/api/tasks")

	require.Equal(t, http.StatusOK, w.Code)

	var tasks []*task.Task
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tasks))
	assert.Len(t, tasks, 2)
}

func TestGetTaskByID(t *testing.T) {
	api, l, _ := setupTestAPI(t)
	id := l.AddTask(task.NewTask("send_email", nil, task.PriorityMedium))

	t.Run("found", func(t *testing.T) {
		w := getJSON(api, "/api/tasks/"+id)
		require.Equal(t, http.StatusOK, w.Code)

		var got task.Task
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		assert.Equal(t, id, got.ID)
	})

	t.Run("not found", func(t *testing.T) {
		w := getJSON(api, "/api/tasks/missing")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestDeleteTask(t *testing.T) {
	api, l, _ := setupTestAPI(t)
	id := l.AddTask(task.NewTask("send_email", nil, task.PriorityMedium))

	req := httptest.NewRequest(http.MethodDelete, "/api/tasks/"+id, nil)
	w := httptest.NewRecorder()
	api.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, l.PendingTasks())

	req = httptest.NewRequest(http.MethodDelete, "/api/tasks/"+id, nil)
	w = httptest.NewRecorder()
	api.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTaskActions(t *testing.T) {
	api, l, _ := setupTestAPI(t)
	l.AddTask(task.NewTask("send_email", nil, task.PriorityMedium))
	target := l.AddTask(task.NewTask("send_email", nil, task.PriorityMedium))

	t.Run("trigger", func(t *testing.T) {
		w := postJSON(t, api, "/api/tasks/"+target+"/trigger", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, target, l.PendingTasks()[0].ID)
	})

	t.Run("reschedule to back", func(t *testing.T) {
		w := postJSON(t, api, "/api/tasks/"+target+"/reschedule", RescheduleRequest{Front: false})
		require.Equal(t, http.StatusOK, w.Code)
		pending := l.PendingTasks()
		assert.Equal(t, target, pending[len(pending)-1].ID)
	})

	t.Run("skip", func(t *testing.T) {
		w := postJSON(t, api, "/api/tasks/"+target+"/skip", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Len(t, l.PendingTasks(), 1)
		assert.Len(t, l.CompletedTasks(), 1)
	})

	t.Run("unknown action", func(t *testing.T) {
		w := postJSON(t, api, "/api/tasks/"+target+"/vanish", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestLoopCommands(t *testing.T) {
	api, l, _ := setupTestAPI(t)

	t.Run("pause requires POST", func(t *testing.T) {
		w := getJSON(api, "/api/loop/pause")
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	})

	t.Run("terminate", func(t *testing.T) {
		w := postJSON(t, api, "/api/loop/terminate", TerminateRequest{Reason: "ops request"})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, loop.StatusTerminated, l.Status())
	})
}

func TestCancelEndpoint(t *testing.T) {
	api, _, _ := setupTestAPI(t)

	w := postJSON(t, api, "/api/loop/cancel", CancelRequest{Hard: true})
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["status"])
}

func TestConfigEndpoint(t *testing.T) {
	api, l, _ := setupTestAPI(t)

	t.Run("get", func(t *testing.T) {
		w := getJSON(api, "/api/loop/config")
		require.Equal(t, http.StatusOK, w.Code)

		var cfg loop.Configuration
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cfg))
		assert.Equal(t, 1000, cfg.ContinuationThreshold)
	})

	t.Run("put", func(t *testing.T) {
		cfg := loop.DefaultConfiguration()
		cfg.StopOnFailure = true

		body, _ := json.Marshal(cfg)
		req := httptest.NewRequest(http.MethodPut, "/api/loop/config", bytes.NewBuffer(body))
		w := httptest.NewRecorder()
		api.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		assert.True(t, l.Configuration().StopOnFailure)
	})
}

func TestStatusEndpoint(t *testing.T) {
	api, _, _ := setupTestAPI(t)

	w := getJSON(api, "/api/loop/status")
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "initializing", resp["status"])
	assert.Equal(t, 0.0, resp["progress"])
}

func TestStateEndpoint(t *testing.T) {
	api, l, _ := setupTestAPI(t)
	l.AddTask(task.NewTask("send_email", nil, task.PriorityMedium))

	w := getJSON(api, "/api/loop/state")
	require.Equal(t, http.StatusOK, w.Code)

	var view loop.StateView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Len(t, view.Pending, 1)
	assert.Len(t, view.Interactions, 1, "add_task recorded")
}

func TestHealthEndpoint(t *testing.T) {
	api, _, _ := setupTestAPI(t)

	w := getJSON(api, "/api/health")
	require.Equal(t, http.StatusOK, w.Code)

	var h loop.HealthSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &h))
	assert.Equal(t, loop.StatusInitializing, h.Status)
	assert.Equal(t, "closed", h.BreakerState)
}

func TestHistoryEndpoints(t *testing.T) {
	api, _, repo := setupTestAPI(t)
	tsk := task.NewTask("send_email", nil, task.PriorityMedium)
	tsk.Status = task.StatusCompleted
	require.NoError(t, repo.SaveOutcome(context.Background(), "run-1", tsk))

	t.Run("recent", func(t *testing.T) {
		w := getJSON(api, "/api/history/recent?limit=10")
		require.Equal(t, http.StatusOK, w.Code)

		var outcomes []repository.OutcomeRecord
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &outcomes))
		assert.Len(t, outcomes, 1)
	})

	t.Run("by type", func(t *testing.T) {
		w := getJSON(api, "/api/history/type/send_email")
		require.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("stats", func(t *testing.T) {
		w := getJSON(api, "/api/history/stats?hours=1")
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestHistoryEndpoints_NoRepository(t *testing.T) {
	l := loop.New(loop.DefaultConfiguration(), loop.Options{
		Logger: log.New(io.Discard, "", 0),
	})
	api := NewAPI(l, nil)

	w := getJSON(api, "/api/history/recent")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
