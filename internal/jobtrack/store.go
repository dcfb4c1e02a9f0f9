package jobtrack

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/aistory/aistory-web/internal/domain"
	"github.com/aistory/aistory-web/internal/platform/logger"
)

// AppState is the five-valued UI-facing projection of a job's status.
type AppState string

const (
	AppStateIdle       AppState = "idle"
	AppStateQueued     AppState = "queued"
	AppStateGenerating AppState = "generating"
	AppStateComplete   AppState = "complete"
	AppStateError      AppState = "error"
)

const cancelledMessage = "Generation was cancelled"

// JobState is one consistent snapshot of the store. CurrentJob is shared
// read-only data: it is always replaced wholesale, never mutated in place.
type JobState struct {
	CurrentJobID  string
	CurrentJob    *domain.Job
	QueuePosition int // -1 when unknown; only meaningful while queued
	AppState      AppState
	Err           string
	IsSubmitting  bool
}

// API is the gateway REST surface the store acts against.
type API interface {
	ListJobs(ctx context.Context) ([]*domain.Job, error)
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	CreateJob(ctx context.Context, req CreateJobRequest) (*CreateJobResponse, error)
	RemoveJob(ctx context.Context, jobID string) (*RemoveJobResponse, error)
}

// Subscription is a live push-channel handle. Close is idempotent.
type Subscription interface {
	Close() error
}

// Watcher opens the push channel for one job. Implementations deliver each
// changed record at most once per underlying change and stop when the
// context is cancelled or the subscription is closed.
type Watcher interface {
	Watch(ctx context.Context, jobID string, onJob func(*domain.Job)) (Subscription, error)
}

type Option func(*Store)

func WithPollInterval(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// Store is the job-tracking state machine. It owns the tracked job
// snapshot, derives the application state from it, and reconciles the two
// redundant update channels (push + poll) into one reducer. All mutation
// goes through the action methods; views read via Snapshot and the
// selectors.
type Store struct {
	mu    sync.Mutex
	api   API
	watch Watcher
	log   *logger.Logger

	pollInterval time.Duration
	state        JobState
	sess         *session
	subs         []chan struct{}

	counters counters
}

func New(api API, watch Watcher, baseLog *logger.Logger, opts ...Option) *Store {
	s := &Store{
		api:          api,
		watch:        watch,
		log:          baseLog.With("component", "JobStore"),
		pollInterval: 2 * time.Second,
		state:        JobState{QueuePosition: -1, AppState: AppStateIdle},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() JobState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe returns a channel that receives a (coalescing) signal after
// every committed state change.
func (s *Store) Subscribe() <-chan struct{} {
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	s.subs = append(s.subs, ch)
	s.mu.Unlock()
	return ch
}

func (s *Store) notifyLocked() {
	for _, ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// StartNewJob begins tracking a freshly created job. The record has not
// been fetched yet, so the state is optimistically queued.
func (s *Store) StartNewJob(jobID string, queuePosition int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.CurrentJobID = jobID
	s.state.CurrentJob = nil
	s.state.QueuePosition = queuePosition
	s.state.AppState = AppStateQueued
	s.state.Err = ""

	s.subscribeLocked(jobID)
	s.notifyLocked()
}

// ResumeJob picks up tracking for a job whose record the caller already
// holds, e.g. when navigating back from a history view. The state is
// derived from the record immediately so the view never shows a loading
// gap, and channels are opened only when the job can still change.
func (s *Store) ResumeJob(job *domain.Job) {
	if job == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.teardownLocked()

	s.state.CurrentJobID = job.ID.String()
	s.state.CurrentJob = job
	s.state.QueuePosition = -1
	s.state.IsSubmitting = false
	if st, ok := appStateFor(job.Status); ok {
		s.state.AppState = st
	} else {
		s.state.AppState = AppStateIdle
	}
	s.state.Err = errFor(job)

	if job.Status == domain.JobStatusPending || job.Status.Active() {
		s.subscribeLocked(s.state.CurrentJobID)
	}
	s.notifyLocked()
}

// ResetJob tears down tracking and returns the store to its zero value.
// Safe to call repeatedly and when nothing is tracked.
func (s *Store) ResetJob() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.teardownLocked()
	s.state = JobState{QueuePosition: -1, AppState: AppStateIdle}
	s.notifyLocked()
}

// SetError records a user-facing error. A non-empty message forces the
// error state; an empty message clears the error without touching the
// application state.
func (s *Store) SetError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.Err = msg
	if msg != "" {
		s.state.AppState = AppStateError
	}
	s.notifyLocked()
}

func (s *Store) setSubmitting(v bool) {
	s.mu.Lock()
	s.state.IsSubmitting = v
	s.notifyLocked()
	s.mu.Unlock()
}

// CreateJob submits a generation request and, on success, starts tracking
// the returned job. IsSubmitting is cleared on every path out.
func (s *Store) CreateJob(ctx context.Context, req CreateJobRequest) (*CreateJobResponse, error) {
	s.setSubmitting(true)
	s.SetError("")
	defer s.setSubmitting(false)

	resp, err := s.api.CreateJob(ctx, req)
	if err != nil {
		s.SetError(err.Error())
		return nil, err
	}

	s.StartNewJob(resp.JobID, resp.QueuePosition)
	return resp, nil
}

// RemoveJob cancels or deletes a job through the gateway. When the tracked
// job's row is gone afterwards, tracking resets; a job left in
// cancelling stays tracked until the engine confirms.
func (s *Store) RemoveJob(ctx context.Context, jobID string) (*RemoveJobResponse, error) {
	res, err := s.api.RemoveJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	tracked := s.state.CurrentJobID == jobID
	s.mu.Unlock()
	if tracked && (res.Status == "" || res.Status == "deleted") {
		s.ResetJob()
	}
	return res, nil
}

func (s *Store) ListJobs(ctx context.Context) ([]*domain.Job, error) {
	return s.api.ListJobs(ctx)
}

// apply is the single reconciliation point for both channels. Arrival
// order between push and poll is not guaranteed; snapshots strictly older
// than the cached one are dropped so a late push cannot roll back a
// fresher poll result.
func (s *Store) apply(job *domain.Job, fromPoll bool) {
	if job == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.CurrentJobID == "" || job.ID.String() != s.state.CurrentJobID {
		// late delivery from a torn-down session
		return
	}
	cached := s.state.CurrentJob
	if cached != nil && job.UpdatedAt.Before(cached.UpdatedAt) {
		s.log.Debug("dropping stale job snapshot", "job_id", s.state.CurrentJobID,
			"cached_updated_at", cached.UpdatedAt, "incoming_updated_at", job.UpdatedAt)
		return
	}
	if fromPoll && !changed(cached, job) {
		return
	}

	s.state.CurrentJob = job
	if st, ok := appStateFor(job.Status); ok {
		s.state.AppState = st
		s.state.Err = errFor(job)
	}
	// unknown status: keep the record, leave appState untouched

	if job.Status.Terminal() && s.sess != nil {
		s.sess.cancelPoll()
	}
	s.notifyLocked()
}

func appStateFor(status domain.JobStatus) (AppState, bool) {
	switch status {
	case domain.JobStatusPending, domain.JobStatusQueued:
		return AppStateQueued, true
	case domain.JobStatusProcessing, domain.JobStatusCancelling:
		return AppStateGenerating, true
	case domain.JobStatusCompleted:
		return AppStateComplete, true
	case domain.JobStatusFailed, domain.JobStatusCancelled:
		return AppStateError, true
	default:
		return AppStateIdle, false
	}
}

func errFor(job *domain.Job) string {
	switch job.Status {
	case domain.JobStatusFailed:
		if job.ErrorMessage != "" {
			return job.ErrorMessage
		}
		return "Generation failed"
	case domain.JobStatusCancelled:
		return cancelledMessage
	default:
		return ""
	}
}

// changed gates redundant poll results so an unchanged record does not
// trigger a state write. Purely an optimization: a missed skip only costs
// one extra notification.
func changed(cached, incoming *domain.Job) bool {
	if cached == nil {
		return true
	}
	if cached.Status != incoming.Status || cached.CurrentStep != incoming.CurrentStep {
		return true
	}
	a, errA := json.Marshal(cached.Logs)
	b, errB := json.Marshal(incoming.Logs)
	if errA != nil || errB != nil {
		return true
	}
	return !bytes.Equal(a, b)
}
