package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"defisync/internal/backend"
	"defisync/internal/notify"
)

// Response is the canned outcome of a fake task or query
type Response struct {
	// Result is JSON encoded and returned as the task result
	Result any
	// Err is returned instead of a result
	Err error
	// SubmitErr makes the submission itself fail
	SubmitErr error
	// Gate, when set, blocks the await until it is closed
	Gate chan struct{}
}

// FakeRunner is an in-memory backend.TaskRunner and backend.Querier keyed by
// request path
type FakeRunner struct {
	mu        sync.Mutex
	responses map[string]Response
	submitted []backend.Request
	queried   []backend.Request
	tasks     map[backend.TaskID]string
	nextID    backend.TaskID
}

// NewFakeRunner creates a fake runner without any canned responses
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{
		responses: make(map[string]Response),
		tasks:     make(map[backend.TaskID]string),
	}
}

// On sets the response for every request to path
func (f *FakeRunner) On(path string, r Response) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[path] = r
	return f
}

// Submit implements backend.TaskRunner
func (f *FakeRunner) Submit(ctx context.Context, req backend.Request) (backend.TaskID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.submitted = append(f.submitted, req)
	if r, ok := f.responses[req.Path]; ok && r.SubmitErr != nil {
		return 0, r.SubmitErr
	}

	f.nextID++
	f.tasks[f.nextID] = req.Path
	return f.nextID, nil
}

// AwaitRaw implements backend.TaskRunner
func (f *FakeRunner) AwaitRaw(ctx context.Context, id backend.TaskID, taskType backend.TaskType, meta backend.Meta) (json.RawMessage, error) {
	f.mu.Lock()
	path, ok := f.tasks[id]
	r, hasResponse := f.responses[path]
	f.mu.Unlock()

	if !ok {
		return nil, backend.NewTaskNotFoundError(id)
	}
	if !hasResponse {
		return nil, backend.NewTaskFailedError(id, fmt.Sprintf("no fake response for %s", path))
	}

	return respond(ctx, r)
}

// QueryRaw implements backend.Querier
func (f *FakeRunner) QueryRaw(ctx context.Context, req backend.Request) (json.RawMessage, error) {
	f.mu.Lock()
	f.queried = append(f.queried, req)
	r, ok := f.responses[req.Path]
	f.mu.Unlock()

	if !ok {
		return nil, backend.NewClientError(404, fmt.Sprintf("no fake response for %s", req.Path))
	}

	return respond(ctx, r)
}

// Submissions counts the tasks submitted for path
func (f *FakeRunner) Submissions(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for _, req := range f.submitted {
		if req.Path == path {
			n++
		}
	}
	return n
}

// Submitted returns every submitted request in order
func (f *FakeRunner) Submitted() []backend.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]backend.Request(nil), f.submitted...)
}

// TotalSubmissions counts every submitted task
func (f *FakeRunner) TotalSubmissions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submitted)
}

// Queries returns every synchronous query in order
func (f *FakeRunner) Queries() []backend.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]backend.Request(nil), f.queried...)
}

func respond(ctx context.Context, r Response) (json.RawMessage, error) {
	if r.Gate != nil {
		select {
		case <-r.Gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if r.Err != nil {
		return nil, r.Err
	}

	raw, err := json.Marshal(r.Result)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// Recorder is a notify.Notifier that keeps every notification
type Recorder struct {
	mu    sync.Mutex
	items []notify.Notification
}

// Notify implements notify.Notifier
func (r *Recorder) Notify(n notify.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, n)
}

// Notifications returns every recorded notification
func (r *Recorder) Notifications() []notify.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Notification(nil), r.items...)
}

// QuietLogger returns a logger that discards everything
func QuietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
