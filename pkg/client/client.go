// Package client talks to the z-tasks HTTP API: it submits chat turns,
// resumes their streams and keeps a reconciled copy of the task list.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"

	"github.com/zhouzirui/z-tasks/backend/internal/model/task"
	"github.com/zhouzirui/z-tasks/backend/pkg/utils"
)

// ErrNoStream is returned by Resume when the server keeps no resumable log.
var ErrNoStream = errors.New("no resumable stream")

// Error is a non-2xx API response.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("api error %d %s: %s", e.Status, e.Code, e.Message)
}

// Client is safe for concurrent use.
type Client struct {
	baseURL string
	userID  string
	http    *http.Client
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// New creates a client for baseURL acting as userID.
func New(baseURL, userID string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		userID:  userID,
		http:    &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SubmitRequest is one user message. Empty ids are generated.
type SubmitRequest struct {
	ChatID     string
	MessageID  string
	Text       string
	Model      string
	Visibility string
}

// Submit posts a message and returns the live stream of the turn.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (*Stream, error) {
	if req.ChatID == "" {
		req.ChatID = uuid.NewString()
	}
	if req.MessageID == "" {
		req.MessageID = uuid.NewString()
	}
	if req.Model == "" {
		req.Model = "chat-model"
	}
	if req.Visibility == "" {
		req.Visibility = "private"
	}

	body := map[string]any{
		"id": req.ChatID,
		"message": map[string]any{
			"id":    req.MessageID,
			"role":  "user",
			"parts": []map[string]string{{"type": "text", "text": req.Text}},
		},
		"selectedChatModel":      req.Model,
		"selectedVisibilityType": req.Visibility,
	}

	resp, err := c.do(ctx, http.MethodPost, "/api/chat", body)
	if err != nil {
		return nil, err
	}
	return newStream(req.ChatID, resp, 0), nil
}

// Resume reattaches to a stream of chatID after the given seq. An empty
// streamID selects the chat's latest stream.
func (c *Client) Resume(ctx context.Context, chatID, streamID string, after int64) (*Stream, error) {
	query := url.Values{}
	if streamID != "" {
		query.Set("streamId", streamID)
	}
	query.Set("after", strconv.FormatInt(after, 10))

	resp, err := c.do(ctx, http.MethodGet, "/api/chat/"+url.PathEscape(chatID)+"/stream?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNoContent {
		resp.Body.Close()
		return nil, ErrNoStream
	}
	return newStream(chatID, resp, after), nil
}

// ListTasks returns the caller's tasks ordered by time.
func (c *Client) ListTasks(ctx context.Context) ([]task.Task, error) {
	var tasks []task.Task
	if err := c.call(ctx, http.MethodGet, "/api/tasks", nil, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

func (c *Client) CreateTask(ctx context.Context, text string, at time.Time) (task.Task, error) {
	var created task.Task
	err := c.call(ctx, http.MethodPost, "/api/tasks", map[string]any{"text": text, "time": at.UTC()}, &created)
	return created, err
}

// TaskUpdate lists the fields to change; nil fields are kept.
type TaskUpdate struct {
	Text      *string    `json:"text,omitempty"`
	Completed *bool      `json:"completed,omitempty"`
	Time      *time.Time `json:"time,omitempty"`
}

func (c *Client) UpdateTask(ctx context.Context, id string, update TaskUpdate) (task.Task, error) {
	var updated task.Task
	err := c.call(ctx, http.MethodPatch, "/api/tasks/"+url.PathEscape(id), update, &updated)
	return updated, err
}

func (c *Client) DeleteTask(ctx context.Context, id string) error {
	return c.call(ctx, http.MethodDelete, "/api/tasks/"+url.PathEscape(id), nil, nil)
}

func (c *Client) ToggleAll(ctx context.Context, completed bool) error {
	return c.call(ctx, http.MethodPost, "/api/tasks/toggle-all", map[string]bool{"completed": completed}, nil)
}

func (c *Client) ClearCompleted(ctx context.Context) error {
	return c.call(ctx, http.MethodPost, "/api/tasks/clear-completed", nil, nil)
}

func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return goerr.Wrap(err, "failed to decode response", goerr.V("path", path))
	}
	return nil
}

// do sends the request and turns non-2xx responses into *Error.
func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to encode request", goerr.V("path", path))
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to build request", goerr.V("path", path))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userID != "" {
		req.Header.Set("X-User-ID", c.userID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, goerr.Wrap(err, "request failed", goerr.V("method", method), goerr.V("path", path))
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()

	apiErr := &Error{Status: resp.StatusCode}
	var payload utils.APIError
	if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil {
		apiErr.Code = payload.Code
		apiErr.Message = payload.Message
	}
	return nil, apiErr
}
