package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aistory/aistory-web/internal/platform/logger"
)

// API is the contract against the external media-generation engine. The
// engine owns script/image/voice/video synthesis; the gateway only asks it
// to start jobs and to cancel running ones.
type API interface {
	CreateJob(ctx context.Context, req CreateRequest) (*CreateResponse, error)
	CancelJob(ctx context.Context, jobID uuid.UUID, bearer string) (*CancelResult, error)
}

type CreateRequest struct {
	Idea             string `json:"idea"`
	Style            string `json:"style"`
	ImageEngine      string `json:"image_engine,omitempty"`
	LanguageEngine   string `json:"language_engine,omitempty"`
	Voice            string `json:"voice,omitempty"`
	SubtitlePosition string `json:"subtitle_position,omitempty"`
	TestMode         bool   `json:"test_mode,omitempty"`
}

type CreateResponse struct {
	JobID         string `json:"job_id"`
	Status        string `json:"status"`
	QueuePosition int    `json:"queue_position"`
}

// CancelResult reflects whatever the engine said about a cancel request.
// StatusCode is the raw HTTP status; the caller resolves 404 and error
// codes into the remove-flow fallbacks.
type CancelResult struct {
	StatusCode int    `json:"-"`
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	Status     string `json:"status,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

// StatusError carries a non-2xx engine response so handlers can pass the
// engine's status code and message through to the caller untouched.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("engine responded %d: %s", e.Code, e.Message)
}

type Client struct {
	baseURL string
	httpc   *http.Client
	log     *logger.Logger
}

func NewClient(baseURL string, log *logger.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: 30 * time.Second},
		log:     log.With("client", "EngineClient"),
	}
}

func (c *Client) CreateJob(ctx context.Context, req CreateRequest) (*CreateResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/jobs", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("engine create job: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("engine create job: read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode, Message: errorMessage(raw)}
	}

	var out CreateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("engine create job: decode response: %w", err)
	}
	return &out, nil
}

// CancelJob returns an error only on transport failure. Any HTTP response,
// 404 and 5xx included, is reported through CancelResult so the remove flow
// can apply its status-specific fallbacks.
func (c *Client) CancelJob(ctx context.Context, jobID uuid.UUID, bearer string) (*CancelResult, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/api/jobs/"+jobID.String(), nil)
	if err != nil {
		return nil, err
	}
	if bearer != "" {
		httpReq.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("engine cancel job: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	out := CancelResult{StatusCode: resp.StatusCode}
	if len(raw) > 0 {
		// body shape varies with outcome; keep whatever fields parse
		_ = json.Unmarshal(raw, &out)
	}
	if out.Detail == "" && (resp.StatusCode < 200 || resp.StatusCode > 299) {
		out.Detail = errorMessage(raw)
	}
	return &out, nil
}

func errorMessage(raw []byte) string {
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
	return "engine request failed"
}
