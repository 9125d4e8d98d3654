// Package backend talks to the portfolio backend's REST API.
//
// Most portfolio queries are expensive, so the backend runs them as
// background tasks: a request made with async_query=true returns a task id,
// and the task's outcome is later collected from /tasks/{id}. Client wraps
// both halves and tracks which tasks are currently being awaited.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/tidwall/gjson"
	"resty.dev/v3"

	"defisync/internal/ratelimit"
)

const (
	taskStatusCompleted = "completed"
	taskStatusPending   = "pending"
	taskStatusNotFound  = "not-found"
)

var errTaskPending = errors.New("task still pending")

// PollConfig controls how task outcomes are polled
type PollConfig struct {
	// Interval is the first wait between two polls
	Interval time.Duration
	// MaxInterval caps the exponential growth of the wait
	MaxInterval time.Duration
	// Timeout is the longest a single task is awaited
	Timeout time.Duration
}

// DefaultPollConfig returns the polling configuration used when none is given
func DefaultPollConfig() PollConfig {
	return PollConfig{
		Interval:    time.Second,
		MaxInterval: 10 * time.Second,
		Timeout:     5 * time.Minute,
	}
}

// Client is a TaskRunner and Querier backed by the REST API
type Client struct {
	http    *resty.Client
	limiter *ratelimit.Limiter
	poll    PollConfig

	mu      sync.Mutex
	pending map[TaskID]TaskInfo
}

// Option configures a Client
type Option func(*Client)

// WithLimiter rate limits every request made by the client
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(c *Client) {
		c.limiter = l
	}
}

// WithPollConfig sets the task polling configuration
func WithPollConfig(p PollConfig) Option {
	return func(c *Client) {
		c.poll = p
	}
}

// WithHTTPClient replaces the underlying resty client
func WithHTTPClient(h *resty.Client) Option {
	return func(c *Client) {
		c.http = h
	}
}

// NewClient creates a client for the backend API rooted at baseURL
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		poll:    DefaultPollConfig(),
		pending: make(map[TaskID]TaskInfo),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.http == nil {
		c.http = NewHTTPClient(baseURL, DefaultRetryConfig())
	}

	return c
}

// Close releases the underlying HTTP resources
func (c *Client) Close() error {
	return c.http.Close()
}

// QueryRaw performs a synchronous request and returns the raw "result" member
// of the response envelope.
func (c *Client) QueryRaw(ctx context.Context, req Request) (json.RawMessage, error) {
	body, err := c.do(ctx, ratelimit.RouteQuery, req)
	if err != nil {
		return nil, err
	}

	result := gjson.Get(body, "result")
	if !result.Exists() {
		return nil, NewValidationError("response has no result", nil)
	}

	return json.RawMessage(result.Raw), nil
}

// Submit starts req as a background task
func (c *Client) Submit(ctx context.Context, req Request) (TaskID, error) {
	query := make(map[string]string, len(req.Query)+1)
	for k, v := range req.Query {
		query[k] = v
	}
	query["async_query"] = "true"
	req.Query = query

	body, err := c.do(ctx, ratelimit.RouteQuery, req)
	if err != nil {
		return 0, err
	}

	id := gjson.Get(body, "result.task_id")
	if !id.Exists() {
		return 0, NewValidationError(fmt.Sprintf("no task id in response to %s", req.Path), nil)
	}

	slog.Debug("submitted backend task", "path", req.Path, "task_id", id.Int())
	return TaskID(id.Int()), nil
}

// AwaitRaw polls the task until the backend reports an outcome
func (c *Client) AwaitRaw(ctx context.Context, id TaskID, taskType TaskType, meta Meta) (json.RawMessage, error) {
	c.track(TaskInfo{ID: id, Type: taskType, Meta: meta, StartedAt: time.Now()})
	defer c.untrack(id)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.poll.Interval
	b.MaxInterval = c.poll.MaxInterval

	operation := func() (json.RawMessage, error) {
		raw, err := c.pollTask(ctx, id)
		if err == nil {
			return raw, nil
		}

		var be *Error
		if errors.As(err, &be) && !be.Retryable {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	raw, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(c.poll.Timeout),
	)
	if err != nil {
		if errors.Is(err, errTaskPending) {
			return nil, NewTimeoutError(fmt.Errorf("task %d (%s) still pending after %s", id, taskType, c.poll.Timeout))
		}
		return nil, err
	}

	slog.Debug("backend task completed", "task_id", id, "type", taskType)
	return raw, nil
}

// Pending lists the tasks currently being awaited, oldest first
func (c *Client) Pending() []TaskInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	tasks := make([]TaskInfo, 0, len(c.pending))
	for _, t := range c.pending {
		tasks = append(tasks, t)
	}
	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].ID < tasks[j].ID
	})
	return tasks
}

// pollTask asks for the outcome of a task once. It returns errTaskPending
// while the task runs.
func (c *Client) pollTask(ctx context.Context, id TaskID) (json.RawMessage, error) {
	body, err := c.do(ctx, ratelimit.RouteTaskPoll, Request{
		Method: http.MethodGet,
		Path:   "/tasks/" + strconv.FormatInt(int64(id), 10),
	})
	if err != nil {
		var be *Error
		if errors.As(err, &be) && be.StatusCode == http.StatusNotFound {
			return nil, NewTaskNotFoundError(id)
		}
		return nil, err
	}

	switch status := gjson.Get(body, "result.status").String(); status {
	case taskStatusPending:
		return nil, errTaskPending
	case taskStatusNotFound:
		return nil, NewTaskNotFoundError(id)
	case taskStatusCompleted:
		outcome := gjson.Get(body, "result.outcome")
		result := outcome.Get("result")
		if !result.Exists() || result.Type == gjson.Null {
			return nil, NewTaskFailedError(id, outcome.Get("message").String())
		}
		return json.RawMessage(result.Raw), nil
	default:
		return nil, NewValidationError(fmt.Sprintf("unknown status %q for task %d", status, id), nil)
	}
}

func (c *Client) do(ctx context.Context, route ratelimit.Route, req Request) (string, error) {
	if err := c.limiter.Wait(ctx, route); err != nil {
		return "", NewTimeoutError(err)
	}

	r := c.http.R().SetContext(ctx)
	if len(req.Query) > 0 {
		r.SetQueryParams(req.Query)
	}
	if req.Body != nil {
		r.SetHeader("Content-Type", "application/json").SetBody(req.Body)
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	resp, err := r.Execute(method, req.Path)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", NewTimeoutError(err)
		}
		return "", NewNetworkError(err)
	}

	body := resp.String()
	if !resp.IsSuccess() {
		return "", ClassifyHTTPError(resp.StatusCode(), gjson.Get(body, "message").String())
	}

	return body, nil
}

func (c *Client) track(info TaskInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[info.ID] = info
}

func (c *Client) untrack(id TaskID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, id)
}
