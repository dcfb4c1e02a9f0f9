package jobtrack

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/aistory/aistory-web/internal/domain"
	"github.com/aistory/aistory-web/internal/platform/logger"
	"github.com/aistory/aistory-web/internal/realtime"
)

// SSEWatcher implements Watcher over the gateway's /sse/stream endpoint.
// It does not reconnect on stream loss: the poll loop is the correctness
// backstop, push only trims latency.
type SSEWatcher struct {
	baseURL string
	httpc   *http.Client
	tokens  TokenSource
	log     *logger.Logger
}

func NewSSEWatcher(baseURL string, tokens TokenSource, baseLog *logger.Logger) *SSEWatcher {
	if tokens == nil {
		tokens = StaticToken("")
	}
	return &SSEWatcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		// no client timeout: the stream stays open for the job's lifetime
		httpc:  &http.Client{},
		tokens: tokens,
		log:    baseLog.With("client", "SSEWatcher"),
	}
}

func (w *SSEWatcher) Watch(ctx context.Context, jobID string, onJob func(*domain.Job)) (Subscription, error) {
	id, err := uuid.Parse(jobID)
	if err != nil {
		return nil, fmt.Errorf("invalid job id %q: %w", jobID, err)
	}
	token, err := w.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve token: %w", err)
	}

	q := url.Values{}
	q.Set("channel", realtime.JobChannel(id))
	if token != "" {
		q.Set("token", token)
	}

	ctx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.baseURL+"/sse/stream?"+q.Encode(), nil)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := w.httpc.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open sse stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("sse stream rejected: status %d", resp.StatusCode)
	}

	go w.readLoop(resp.Body, jobID, onJob)

	return &sseSubscription{cancel: cancel, body: resp.Body}, nil
}

// readLoop parses the event stream. Each event's data lines form one JSON
// message whose payload carries the full updated job row.
func (w *SSEWatcher) readLoop(body io.ReadCloser, jobID string, onJob func(*domain.Job)) {
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		case line == "":
			if data.Len() > 0 {
				w.deliver(data.String(), onJob)
				data.Reset()
			}
		default:
			// comment or event-name line
		}
	}
	if err := scanner.Err(); err != nil {
		w.log.Debug("sse stream closed", "job_id", jobID, "error", err)
	}
}

func (w *SSEWatcher) deliver(payload string, onJob func(*domain.Job)) {
	var env struct {
		Channel string `json:"channel"`
		Event   string `json:"event"`
		Data    struct {
			Job *domain.Job `json:"job"`
		} `json:"data"`
	}
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		w.log.Warn("bad sse payload", "error", err)
		return
	}
	switch realtime.Event(env.Event) {
	case realtime.EventJobCreated, realtime.EventJobUpdated:
		if env.Data.Job != nil {
			onJob(env.Data.Job)
		}
	default:
		// removal events carry no row; the poll loop notices the 404
	}
}

type sseSubscription struct {
	cancel context.CancelFunc
	body   io.ReadCloser
	once   sync.Once
}

func (s *sseSubscription) Close() error {
	s.once.Do(func() {
		s.cancel()
		_ = s.body.Close()
	})
	return nil
}
