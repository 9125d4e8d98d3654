package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
)

// Outcome is how the fake backend answers requests for one endpoint
type Outcome struct {
	// Result is returned as the task or query result
	Result any
	// Message is returned as the failure message when Result is nil
	Message string
	// StatusCode, when set, makes the request itself fail with that HTTP status
	StatusCode int
	// PendingPolls is how many polls report the task as pending before it completes
	PendingPolls int
	// Lost makes the task unknown to the backend once submitted
	Lost bool
}

type fakeTask struct {
	outcome Outcome
	polls   int
}

// Backend is an HTTP server speaking the backend task API
type Backend struct {
	Server *httptest.Server

	mu          sync.Mutex
	outcomes    map[string]Outcome
	submissions map[string]int
	tasks       map[int64]*fakeTask
	nextID      int64
}

// NewBackend starts a fake backend that is closed with the test
func NewBackend(t testing.TB) *Backend {
	t.Helper()

	b := &Backend{
		outcomes:    make(map[string]Outcome),
		submissions: make(map[string]int),
		tasks:       make(map[int64]*fakeTask),
	}

	r := chi.NewRouter()
	r.Get("/tasks/{id}", b.serveTask)
	r.HandleFunc("/*", b.serveEndpoint)

	b.Server = httptest.NewServer(r)
	t.Cleanup(b.Server.Close)

	return b
}

// URL returns the base URL of the fake backend
func (b *Backend) URL() string {
	return b.Server.URL
}

// Handle sets the outcome of every request to path, whatever the method
func (b *Backend) Handle(path string, o Outcome) *Backend {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.outcomes[path] = o
	return b
}

// Submissions counts async submissions for path
func (b *Backend) Submissions(path string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.submissions[path]
}

// TotalSubmissions counts every async submission
func (b *Backend) TotalSubmissions() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for _, c := range b.submissions {
		n += c
	}
	return n
}

func (b *Backend) serveEndpoint(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	o, ok := b.outcomes[r.URL.Path]
	if !ok {
		b.mu.Unlock()
		writeEnvelope(w, http.StatusNotFound, nil, "no such endpoint "+r.URL.Path)
		return
	}

	if o.StatusCode != 0 {
		b.mu.Unlock()
		writeEnvelope(w, o.StatusCode, nil, o.Message)
		return
	}

	if r.URL.Query().Get("async_query") != "true" {
		b.mu.Unlock()
		if o.Result == nil {
			writeEnvelope(w, http.StatusConflict, nil, o.Message)
			return
		}
		writeEnvelope(w, http.StatusOK, o.Result, "")
		return
	}

	b.submissions[r.URL.Path]++
	b.nextID++
	id := b.nextID
	if !o.Lost {
		b.tasks[id] = &fakeTask{outcome: o}
	}
	b.mu.Unlock()

	writeEnvelope(w, http.StatusOK, map[string]int64{"task_id": id}, "")
}

func (b *Backend) serveTask(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeEnvelope(w, http.StatusBadRequest, nil, "invalid task id")
		return
	}

	b.mu.Lock()
	task, ok := b.tasks[id]
	if !ok {
		b.mu.Unlock()
		writeEnvelope(w, http.StatusNotFound, map[string]any{"status": "not-found", "outcome": nil}, "")
		return
	}

	if task.polls < task.outcome.PendingPolls {
		task.polls++
		b.mu.Unlock()
		writeEnvelope(w, http.StatusOK, map[string]any{"status": "pending", "outcome": nil}, "")
		return
	}
	delete(b.tasks, id)
	b.mu.Unlock()

	outcome := map[string]any{"result": task.outcome.Result}
	if task.outcome.Result == nil {
		outcome["message"] = task.outcome.Message
	}
	writeEnvelope(w, http.StatusOK, map[string]any{"status": "completed", "outcome": outcome}, "")
}

func writeEnvelope(w http.ResponseWriter, code int, result any, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"result":  result,
		"message": message,
	})
}
