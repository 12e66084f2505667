package api

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nadmax/conductor/internal/httputil"
	"github.com/nadmax/conductor/internal/loop"
	"github.com/nadmax/conductor/internal/repository"
	"github.com/nadmax/conductor/internal/task"
)

type API struct {
	mu   sync.RWMutex
	loop *loop.Loop
	repo repository.RunRepository
	mux  *http.ServeMux
}

type TaskRequest struct {
	ID       string            `json:"id"`
	Type     string            `json:"type"`
	Payload  map[string]any    `json:"payload"`
	Priority *task.TaskPriority `json:"priority"`
	Timeout  *int              `json:"timeout_secs"`
	Metadata map[string]string `json:"metadata"`
}

type CancelRequest struct {
	Hard bool `json:"hard"`
}

type TerminateRequest struct {
	Reason string `json:"reason"`
}

type RescheduleRequest struct {
	Front bool `json:"front"`
}

// NewAPI builds the control surface over a loop. repo may be nil, in which
// case the history endpoints report 503.
func NewAPI(l *loop.Loop, repo repository.RunRepository) *API {
	api := &API{
		loop: l,
		repo: repo,
		mux:  http.NewServeMux(),
	}

	api.setupRoutes()
	return api
}

// SwapLoop points the API at a new loop, typically one resumed from a
// checkpoint after a continuation.
func (a *API) SwapLoop(l *loop.Loop) {
	a.mu.Lock()
	a.loop = l
	a.mu.Unlock()
}

// Loop returns the loop the API currently fronts.
func (a *API) Loop() *loop.Loop {
	return a.l()
}

func (a *API) l() *loop.Loop {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.loop
}

func (a *API) setupRoutes() {
	a.mux.HandleFunc("/api/tasks", a.handleTasks)
	a.mux.HandleFunc("/api/tasks/", a.handleTaskByID)

	a.mux.HandleFunc("/api/loop/pause", a.command(func() { a.l().Pause() }))
	a.mux.HandleFunc("/api/loop/resume", a.command(func() { a.l().Resume() }))
	a.mux.HandleFunc("/api/loop/cancel", a.handleCancel)
	a.mux.HandleFunc("/api/loop/terminate", a.handleTerminate)
	a.mux.HandleFunc("/api/loop/debug", a.command(func() { a.l().ToggleDebug() }))
	a.mux.HandleFunc("/api/loop/snapshot", a.command(func() { a.l().TakeSnapshot() }))
	a.mux.HandleFunc("/api/loop/config", a.handleConfig)

	a.mux.HandleFunc("/api/loop/state", a.handleState)
	a.mux.HandleFunc("/api/loop/status", a.handleStatus)
	a.mux.HandleFunc("/api/loop/metrics", a.handleMetrics)
	a.mux.HandleFunc("/api/loop/interactions", a.handleInteractions)

	a.mux.HandleFunc("/api/history/recent", a.handleRecentOutcomes)
	a.mux.HandleFunc("/api/history/stats", a.handleOutcomeStats)
	a.mux.HandleFunc("/api/history/type/", a.handleOutcomesByType)

	a.mux.HandleFunc("/api/health", a.handleHealth)
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mux.ServeHTTP(w, r)
}

func (a *API) command(run func()) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			httputil.WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		run()
		writeJSON(w, http.StatusOK, map[string]string{"status": string(a.l().Status())})
	}
}

func (a *API) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createTask(w, r)
	case http.MethodGet:
		writeJSON(w, http.StatusOK, a.l().PendingTasks())
	default:
		httputil.WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (a *API) createTask(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		httputil.WriteJSONError(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	defer func() {
		if err := r.Body.Close(); err != nil {
			log.Printf("failed to close request body: %v", err)
		}
	}()

	var req TaskRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httputil.WriteJSONError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if req.Type == "" {
		httputil.WriteJSONError(w, "Task type is required", http.StatusBadRequest)
		return
	}

	priority := a.l().Configuration().DefaultPriority
	if req.Priority != nil {
		priority = *req.Priority
	}

	t := task.NewTask(req.Type, req.Payload, priority)
	if req.ID != "" {
		t.ID = req.ID
	}
	if req.Timeout != nil {
		t.Timeout = time.Duration(*req.Timeout) * time.Second
	}
	if req.Metadata != nil {
		t.Metadata = req.Metadata
	}

	id := a.l().AddTask(t)
	created, _ := a.l().TaskByID(id)
	writeJSON(w, http.StatusCreated, created)
}

func (a *API) handleTaskByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/tasks/")
	if rest == "" {
		httputil.WriteJSONError(w, "Task ID is required", http.StatusBadRequest)
		return
	}

	parts := strings.SplitN(rest, "/", 2)
	taskID := parts[0]

	if len(parts) == 2 {
		a.handleTaskAction(w, r, taskID, parts[1])
		return
	}

	switch r.Method {
	case http.MethodGet:
		t, ok := a.l().TaskByID(taskID)
		if !ok {
			httputil.WriteJSONError(w, "Task not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, t)
	case http.MethodDelete:
		if !a.l().RemoveTask(taskID) {
			httputil.WriteJSONError(w, "Task not found or not pending", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"removed": taskID})
	default:
		httputil.WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (a *API) handleTaskAction(w http.ResponseWriter, r *http.Request, taskID, action string) {
	if r.Method != http.MethodPost {
		httputil.WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	switch action {
	case "trigger":
		a.l().TriggerTask(taskID)
	case "skip":
		a.l().SkipTask(taskID)
	case "reschedule":
		var req RescheduleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
			httputil.WriteJSONError(w, "Invalid JSON", http.StatusBadRequest)
			return
		}
		if !a.l().RescheduleTask(taskID, req.Front) {
			httputil.WriteJSONError(w, "Task not found or not pending", http.StatusNotFound)
			return
		}
	default:
		httputil.WriteJSONError(w, "Unknown action", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"task_id": taskID, "action": action})
}

func (a *API) handleCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req CancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		httputil.WriteJSONError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	a.l().Cancel(req.Hard)
	writeJSON(w, http.StatusOK, map[string]string{"status": string(a.l().Status())})
}

func (a *API) handleTerminate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req TerminateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		httputil.WriteJSONError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.Reason == "" {
		req.Reason = "terminated via API"
	}

	a.l().Terminate(req.Reason)
	writeJSON(w, http.StatusOK, map[string]string{"status": string(a.l().Status())})
}

func (a *API) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, a.l().Configuration())
	case http.MethodPut:
		var cfg loop.Configuration
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			httputil.WriteJSONError(w, "Invalid JSON", http.StatusBadRequest)
			return
		}
		a.l().SetConfiguration(cfg)
		writeJSON(w, http.StatusOK, a.l().Configuration())
	default:
		httputil.WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (a *API) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, a.l().State())
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":   a.l().Status(),
		"progress": a.l().Progress(),
	})
}

func (a *API) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, a.l().Metrics())
}

func (a *API) handleInteractions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, a.l().InteractionHistory())
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, a.l().Health())
}

func (a *API) handleRecentOutcomes(w http.ResponseWriter, r *http.Request) {
	if a.repo == nil {
		httputil.WriteJSONError(w, "History persistence disabled", http.StatusServiceUnavailable)
		return
	}

	limit := queryInt(r, "limit", 50)
	outcomes, err := a.repo.RecentOutcomes(r.Context(), limit)
	if err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, outcomes)
}

func (a *API) handleOutcomeStats(w http.ResponseWriter, r *http.Request) {
	if a.repo == nil {
		httputil.WriteJSONError(w, "History persistence disabled", http.StatusServiceUnavailable)
		return
	}

	hours := queryInt(r, "hours", 24)
	stats, err := a.repo.OutcomeStats(r.Context(), hours)
	if err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

func (a *API) handleOutcomesByType(w http.ResponseWriter, r *http.Request) {
	if a.repo == nil {
		httputil.WriteJSONError(w, "History persistence disabled", http.StatusServiceUnavailable)
		return
	}

	taskType := strings.TrimPrefix(r.URL.Path, "/api/history/type/")
	if taskType == "" {
		httputil.WriteJSONError(w, "Task type is required", http.StatusBadRequest)
		return
	}

	limit := queryInt(r, "limit", 50)
	outcomes, err := a.repo.OutcomesByType(r.Context(), taskType, limit)
	if err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, outcomes)
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}

	val, err := strconv.Atoi(raw)
	if err != nil || val <= 0 {
		return fallback
	}

	return val
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	httputil.WriteJSON(w, status, body)
}
