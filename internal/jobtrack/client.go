package jobtrack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aistory/aistory-web/internal/domain"
	"github.com/aistory/aistory-web/internal/platform/logger"
)

// ErrNotAuthenticated is returned locally, before any network call, when
// an auth-required operation runs without a token.
var ErrNotAuthenticated = errors.New("not authenticated")

// TokenSource supplies the bearer token for gateway calls. An empty token
// means anonymous.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource for a fixed (possibly empty) token.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) { return string(t), nil }

type CreateJobRequest struct {
	Idea             string `json:"idea"`
	Style            string `json:"style"`
	ImageEngine      string `json:"image_engine,omitempty"`
	LanguageEngine   string `json:"language_engine,omitempty"`
	Voice            string `json:"voice,omitempty"`
	SubtitlePosition string `json:"subtitle_position,omitempty"`
	TestMode         bool   `json:"test_mode,omitempty"`
}

type CreateJobResponse struct {
	JobID         string `json:"job_id"`
	Status        string `json:"status"`
	QueuePosition int    `json:"queue_position"`
}

type RemoveJobResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

// APIError is a non-2xx gateway response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return e.Message
}

// Client implements API over the gateway's REST surface.
type Client struct {
	baseURL string
	httpc   *http.Client
	tokens  TokenSource
	log     *logger.Logger
}

func NewClient(baseURL string, tokens TokenSource, baseLog *logger.Logger) *Client {
	if tokens == nil {
		tokens = StaticToken("")
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: 15 * time.Second},
		tokens:  tokens,
		log:     baseLog.With("client", "JobAPIClient"),
	}
}

func (c *Client) ListJobs(ctx context.Context) ([]*domain.Job, error) {
	var out struct {
		Jobs []*domain.Job `json:"jobs"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/jobs", nil, false, &out); err != nil {
		return nil, err
	}
	return out.Jobs, nil
}

func (c *Client) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	var job domain.Job
	if err := c.do(ctx, http.MethodGet, "/api/jobs/"+jobID, nil, true, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (c *Client) CreateJob(ctx context.Context, req CreateJobRequest) (*CreateJobResponse, error) {
	var out CreateJobResponse
	if err := c.do(ctx, http.MethodPost, "/api/jobs", req, false, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RemoveJob(ctx context.Context, jobID string) (*RemoveJobResponse, error) {
	var out RemoveJobResponse
	if err := c.do(ctx, http.MethodDelete, "/api/jobs/"+jobID, nil, true, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, authRequired bool, out any) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("resolve token: %w", err)
	}
	if authRequired && token == "" {
		return ErrNotAuthenticated
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Message: apiErrorMessage(raw)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}

func apiErrorMessage(raw []byte) string {
	var body struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if body.Error != "" {
			return body.Error
		}
		if body.Detail != "" {
			return body.Detail
		}
	}
	return "request failed"
}
