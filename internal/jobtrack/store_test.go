package jobtrack

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/aistory/aistory-web/internal/domain"
	"github.com/aistory/aistory-web/internal/platform/logger"
)

func mustTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	t.Cleanup(log.Sync)
	return log
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type fakeAPI struct {
	mu         sync.Mutex
	jobs       map[string]*domain.Job
	getErr     error
	getCalls   int
	createResp *CreateJobResponse
	createErr  error
	removeResp *RemoveJobResponse
	removeErr  error
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{jobs: make(map[string]*domain.Job)}
}

func (f *fakeAPI) setJob(job *domain.Job) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[job.ID.String()] = job
}

func (f *fakeAPI) ListJobs(context.Context) ([]*domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*domain.Job, 0, len(f.jobs))
	for _, j := range f.jobs {
		out = append(out, j)
	}
	return out, nil
}

func (f *fakeAPI) GetJob(_ context.Context, jobID string) (*domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.jobs[jobID], nil
}

func (f *fakeAPI) CreateJob(context.Context, CreateJobRequest) (*CreateJobResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	return f.createResp, nil
}

func (f *fakeAPI) RemoveJob(context.Context, string) (*RemoveJobResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.removeErr != nil {
		return nil, f.removeErr
	}
	return f.removeResp, nil
}

type fakeWatcher struct {
	mu      sync.Mutex
	onJob   func(*domain.Job)
	live    int
	watches int
}

func (f *fakeWatcher) Watch(_ context.Context, _ string, onJob func(*domain.Job)) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onJob = onJob
	f.live++
	f.watches++
	return &fakeSub{w: f}, nil
}

func (f *fakeWatcher) push(job *domain.Job) {
	f.mu.Lock()
	cb := f.onJob
	f.mu.Unlock()
	if cb != nil {
		cb(job)
	}
}

func (f *fakeWatcher) liveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.live
}

type fakeSub struct {
	w    *fakeWatcher
	once sync.Once
}

func (s *fakeSub) Close() error {
	s.once.Do(func() {
		s.w.mu.Lock()
		s.w.live--
		s.w.mu.Unlock()
	})
	return nil
}

func newTestStore(t *testing.T, api *fakeAPI, watch *fakeWatcher, opts ...Option) *Store {
	t.Helper()
	if len(opts) == 0 {
		// long interval so only the immediate fetch runs unless a test
		// opts in to fast polling
		opts = []Option{WithPollInterval(time.Hour)}
	}
	s := New(api, watch, mustTestLogger(t), opts...)
	t.Cleanup(s.ResetJob)
	return s
}

func testJob(id uuid.UUID, status domain.JobStatus, updated time.Time) *domain.Job {
	return &domain.Job{ID: id, Idea: "a robot learns to paint", Style: "cinematic", Status: status, UpdatedAt: updated}
}

func TestAppStateMapping(t *testing.T) {
	cases := []struct {
		status  domain.JobStatus
		want    AppState
		wantErr string
	}{
		{domain.JobStatusPending, AppStateQueued, ""},
		{domain.JobStatusQueued, AppStateQueued, ""},
		{domain.JobStatusProcessing, AppStateGenerating, ""},
		{domain.JobStatusCancelling, AppStateGenerating, ""},
		{domain.JobStatusCompleted, AppStateComplete, ""},
		{domain.JobStatusFailed, AppStateError, "voice synthesis crashed"},
		{domain.JobStatusCancelled, AppStateError, cancelledMessage},
	}

	for _, tc := range cases {
		t.Run(string(tc.status), func(t *testing.T) {
			store := newTestStore(t, newFakeAPI(), &fakeWatcher{})
			id := uuid.New()
			store.StartNewJob(id.String(), 1)

			job := testJob(id, tc.status, time.Now())
			if tc.status == domain.JobStatusFailed {
				job.ErrorMessage = "voice synthesis crashed"
			}
			store.apply(job, false)

			snap := store.Snapshot()
			if snap.AppState != tc.want {
				t.Fatalf("appState = %s, want %s", snap.AppState, tc.want)
			}
			if snap.Err != tc.wantErr {
				t.Fatalf("err = %q, want %q", snap.Err, tc.wantErr)
			}
		})
	}
}

func TestUnknownStatusLeavesAppStateUnchanged(t *testing.T) {
	store := newTestStore(t, newFakeAPI(), &fakeWatcher{})
	id := uuid.New()
	store.StartNewJob(id.String(), 1)
	store.apply(testJob(id, domain.JobStatusProcessing, time.Now()), false)

	weird := testJob(id, domain.JobStatus("archived"), time.Now().Add(time.Second))
	store.apply(weird, false)

	snap := store.Snapshot()
	if snap.AppState != AppStateGenerating {
		t.Fatalf("appState = %s, want %s", snap.AppState, AppStateGenerating)
	}
	if snap.CurrentJob == nil || snap.CurrentJob.Status != domain.JobStatus("archived") {
		t.Fatalf("record should still be stored")
	}
}

func TestStartNewJobInitialState(t *testing.T) {
	store := newTestStore(t, newFakeAPI(), &fakeWatcher{})
	store.StartNewJob("job-1", 3)

	snap := store.Snapshot()
	if snap.CurrentJobID != "job-1" {
		t.Fatalf("currentJobID = %q, want job-1", snap.CurrentJobID)
	}
	if snap.AppState != AppStateQueued {
		t.Fatalf("appState = %s, want queued", snap.AppState)
	}
	if snap.QueuePosition != 3 {
		t.Fatalf("queuePosition = %d, want 3", snap.QueuePosition)
	}
	if snap.CurrentJob != nil {
		t.Fatalf("currentJob should be nil before the first fetch")
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	store := newTestStore(t, newFakeAPI(), &fakeWatcher{})
	id := uuid.New()
	store.StartNewJob(id.String(), 1)

	now := time.Now()
	job := testJob(id, domain.JobStatusProcessing, now)
	job.CurrentStep = "generating images"
	job.Logs = []domain.LogEntry{{Timestamp: now.Format(time.RFC3339), Step: "images", Message: "rendering"}}

	store.apply(job, false)
	first := store.Snapshot()

	dup := *job
	store.apply(&dup, false)
	second := store.Snapshot()

	if first.AppState != second.AppState || first.Err != second.Err {
		t.Fatalf("derived state changed on duplicate apply")
	}
	if !reflect.DeepEqual(first.CurrentJob, second.CurrentJob) {
		t.Fatalf("currentJob not structurally equal after duplicate apply")
	}
}

func TestStaleSnapshotRejected(t *testing.T) {
	store := newTestStore(t, newFakeAPI(), &fakeWatcher{})
	id := uuid.New()
	store.StartNewJob(id.String(), 1)

	now := time.Now()
	fresh := testJob(id, domain.JobStatusCompleted, now)
	store.apply(fresh, true)

	stale := testJob(id, domain.JobStatusProcessing, now.Add(-5*time.Second))
	store.apply(stale, false)

	snap := store.Snapshot()
	if snap.AppState != AppStateComplete {
		t.Fatalf("stale push rolled back state: appState = %s", snap.AppState)
	}
	if snap.CurrentJob.Status != domain.JobStatusCompleted {
		t.Fatalf("stale push replaced fresher record")
	}
}

func TestPollSuppressionSkipsRedundantWrites(t *testing.T) {
	store := newTestStore(t, newFakeAPI(), &fakeWatcher{})
	id := uuid.New()
	store.StartNewJob(id.String(), 1)

	now := time.Now()
	job := testJob(id, domain.JobStatusProcessing, now)
	job.CurrentStep = "writing script"
	job.Logs = []domain.LogEntry{{Step: "script", Message: "drafting"}}
	store.apply(job, true)

	updates := store.Subscribe()
	same := *job
	store.apply(&same, true)
	select {
	case <-updates:
		t.Fatalf("identical poll result triggered a state write")
	default:
	}

	// a real change must still go through in full
	done := *job
	done.Status = domain.JobStatusCompleted
	done.UpdatedAt = now.Add(time.Second)
	store.apply(&done, true)
	select {
	case <-updates:
	default:
		t.Fatalf("changed poll result did not notify")
	}
	if snap := store.Snapshot(); snap.AppState != AppStateComplete {
		t.Fatalf("appState = %s, want complete", snap.AppState)
	}
}

func TestChanged(t *testing.T) {
	id := uuid.New()
	now := time.Now()
	base := testJob(id, domain.JobStatusProcessing, now)
	base.CurrentStep = "images"
	base.Logs = []domain.LogEntry{{Step: "images", Message: "1/10"}}

	cases := []struct {
		name   string
		mutate func(j *domain.Job)
		want   bool
	}{
		{"identical", func(j *domain.Job) {}, false},
		{"status", func(j *domain.Job) { j.Status = domain.JobStatusCompleted }, true},
		{"step", func(j *domain.Job) { j.CurrentStep = "voice" }, true},
		{"logs_appended", func(j *domain.Job) {
			j.Logs = append(j.Logs, domain.LogEntry{Step: "images", Message: "2/10"})
		}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			incoming := *base
			incoming.Logs = append([]domain.LogEntry(nil), base.Logs...)
			tc.mutate(&incoming)
			if got := changed(base, &incoming); got != tc.want {
				t.Fatalf("changed = %v, want %v", got, tc.want)
			}
		})
	}

	if !changed(nil, base) {
		t.Fatalf("changed(nil, job) must be true")
	}
}

func TestTerminalPollStopsPolling(t *testing.T) {
	api := newFakeAPI()
	watch := &fakeWatcher{}
	store := newTestStore(t, api, watch, WithPollInterval(10*time.Millisecond))

	id := uuid.New()
	api.setJob(testJob(id, domain.JobStatusProcessing, time.Now()))
	store.StartNewJob(id.String(), 1)

	waitFor(t, time.Second, "first poll", func() bool {
		return store.Snapshot().AppState == AppStateGenerating
	})

	done := testJob(id, domain.JobStatusCompleted, time.Now().Add(time.Second))
	done.VideoURL = "https://cdn.example.com/v.mp4"
	api.setJob(done)

	waitFor(t, time.Second, "completion", func() bool {
		return store.Snapshot().AppState == AppStateComplete
	})
	waitFor(t, time.Second, "poll task exit", func() bool {
		pollers, _ := store.Counters()
		return pollers == 0
	})

	// push stays open but inert
	waitFor(t, time.Second, "watcher still live", func() bool {
		return watch.liveCount() == 1
	})
	if _, ok := store.CompletionData(); !ok {
		t.Fatalf("completion data missing after terminal poll")
	}
}

func TestResetReleasesAllResources(t *testing.T) {
	api := newFakeAPI()
	watch := &fakeWatcher{}
	store := newTestStore(t, api, watch, WithPollInterval(10*time.Millisecond))

	id := uuid.New()
	api.setJob(testJob(id, domain.JobStatusProcessing, time.Now()))
	store.StartNewJob(id.String(), 1)

	waitFor(t, time.Second, "channels open", func() bool {
		pollers, watchers := store.Counters()
		return pollers == 1 && watchers == 1
	})

	store.ResetJob()
	waitFor(t, time.Second, "channels released", func() bool {
		pollers, watchers := store.Counters()
		return pollers == 0 && watchers == 0 && watch.liveCount() == 0
	})

	snap := store.Snapshot()
	if snap.CurrentJobID != "" || snap.CurrentJob != nil || snap.AppState != AppStateIdle {
		t.Fatalf("state not zeroed after reset: %+v", snap)
	}

	// reset must be idempotent and safe with nothing tracked
	store.ResetJob()
	store.ResetJob()
}

func TestLateDeliveryAfterResetIsIgnored(t *testing.T) {
	api := newFakeAPI()
	watch := &fakeWatcher{}
	store := newTestStore(t, api, watch)

	id := uuid.New()
	store.StartNewJob(id.String(), 1)
	waitFor(t, time.Second, "watch established", func() bool { return watch.liveCount() == 1 })
	store.ResetJob()

	watch.push(testJob(id, domain.JobStatusCompleted, time.Now()))
	if snap := store.Snapshot(); snap.CurrentJob != nil || snap.AppState != AppStateIdle {
		t.Fatalf("late push mutated state after reset")
	}
}

func TestResumeCompletedJobNeverTransitionsThroughQueued(t *testing.T) {
	watch := &fakeWatcher{}
	store := newTestStore(t, newFakeAPI(), watch)

	job := testJob(uuid.New(), domain.JobStatusCompleted, time.Now())
	job.VideoURL = "https://cdn.example.com/v.mp4"
	store.ResumeJob(job)

	snap := store.Snapshot()
	if snap.AppState != AppStateComplete {
		t.Fatalf("appState = %s, want complete from first snapshot", snap.AppState)
	}
	if snap.CurrentJob == nil {
		t.Fatalf("resume must set currentJob immediately")
	}

	pollers, watchers := store.Counters()
	if pollers != 0 || watchers != 0 || watch.watches != 0 {
		t.Fatalf("terminal resume must not open channels (pollers=%d watchers=%d)", pollers, watchers)
	}
}

func TestResumeActiveJobOpensTracking(t *testing.T) {
	api := newFakeAPI()
	watch := &fakeWatcher{}
	store := newTestStore(t, api, watch)

	id := uuid.New()
	job := testJob(id, domain.JobStatusCancelling, time.Now())
	api.setJob(job)
	store.ResumeJob(job)

	if snap := store.Snapshot(); snap.AppState != AppStateGenerating {
		t.Fatalf("cancelling must resume as generating, got %s", snap.AppState)
	}
	waitFor(t, time.Second, "tracking open", func() bool {
		pollers, watchers := store.Counters()
		return pollers == 1 && watchers == 1
	})
}

func TestCreateJobSuccessStartsTracking(t *testing.T) {
	api := newFakeAPI()
	id := uuid.New()
	api.createResp = &CreateJobResponse{JobID: id.String(), Status: "queued", QueuePosition: 2}
	store := newTestStore(t, api, &fakeWatcher{})

	resp, err := store.CreateJob(context.Background(), CreateJobRequest{Idea: "x", Style: "anime"})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if resp.QueuePosition != 2 {
		t.Fatalf("queue position = %d, want 2", resp.QueuePosition)
	}

	snap := store.Snapshot()
	if snap.CurrentJobID != id.String() || snap.AppState != AppStateQueued || snap.QueuePosition != 2 {
		t.Fatalf("tracking not started: %+v", snap)
	}
	if snap.IsSubmitting {
		t.Fatalf("isSubmitting must be cleared after success")
	}
}

func TestCreateJobFailureSetsErrorAndClearsSubmitting(t *testing.T) {
	api := newFakeAPI()
	api.createErr = errors.New("engine is at capacity")
	store := newTestStore(t, api, &fakeWatcher{})

	if _, err := store.CreateJob(context.Background(), CreateJobRequest{Idea: "x", Style: "anime"}); err == nil {
		t.Fatalf("expected error")
	}

	snap := store.Snapshot()
	if snap.AppState != AppStateError {
		t.Fatalf("appState = %s, want error", snap.AppState)
	}
	if snap.Err != "engine is at capacity" {
		t.Fatalf("err = %q", snap.Err)
	}
	if snap.IsSubmitting {
		t.Fatalf("isSubmitting must be cleared after failure")
	}
}

func TestSetErrorClearDoesNotForceState(t *testing.T) {
	store := newTestStore(t, newFakeAPI(), &fakeWatcher{})
	id := uuid.New()
	store.StartNewJob(id.String(), 1)
	store.apply(testJob(id, domain.JobStatusProcessing, time.Now()), false)

	store.SetError("transient hiccup")
	if snap := store.Snapshot(); snap.AppState != AppStateError {
		t.Fatalf("non-empty SetError must force error state")
	}

	store.SetError("")
	snap := store.Snapshot()
	if snap.Err != "" {
		t.Fatalf("error not cleared")
	}
	if snap.AppState != AppStateError {
		t.Fatalf("clearing the error must not change appState on its own")
	}
}

func TestRemoveDeletedJobResetsTracking(t *testing.T) {
	api := newFakeAPI()
	id := uuid.New()
	api.removeResp = &RemoveJobResponse{Success: true, Message: "Job cancelled and deleted", Status: "deleted"}
	store := newTestStore(t, api, &fakeWatcher{})
	store.StartNewJob(id.String(), 1)

	if _, err := store.RemoveJob(context.Background(), id.String()); err != nil {
		t.Fatalf("RemoveJob: %v", err)
	}
	if snap := store.Snapshot(); snap.CurrentJobID != "" || snap.AppState != AppStateIdle {
		t.Fatalf("deleted job must reset tracking: %+v", snap)
	}
}

func TestRemoveCancellingJobKeepsTracking(t *testing.T) {
	api := newFakeAPI()
	id := uuid.New()
	api.removeResp = &RemoveJobResponse{Success: true, Message: "cancellation in progress", Status: "cancelling"}
	store := newTestStore(t, api, &fakeWatcher{})
	store.StartNewJob(id.String(), 1)

	if _, err := store.RemoveJob(context.Background(), id.String()); err != nil {
		t.Fatalf("RemoveJob: %v", err)
	}
	if snap := store.Snapshot(); snap.CurrentJobID != id.String() {
		t.Fatalf("cancelling job must stay tracked")
	}
}

func TestPollFailureIsRetriedNotFatal(t *testing.T) {
	api := newFakeAPI()
	api.getErr = errors.New("gateway briefly down")
	store := newTestStore(t, api, &fakeWatcher{}, WithPollInterval(10*time.Millisecond))

	id := uuid.New()
	store.StartNewJob(id.String(), 1)

	waitFor(t, time.Second, "several failed polls", func() bool {
		api.mu.Lock()
		defer api.mu.Unlock()
		return api.getCalls >= 3
	})
	if snap := store.Snapshot(); snap.Err != "" || snap.AppState != AppStateQueued {
		t.Fatalf("poll failures must not surface as fatal: %+v", snap)
	}

	api.mu.Lock()
	api.getErr = nil
	api.jobs[id.String()] = testJob(id, domain.JobStatusProcessing, time.Now())
	api.mu.Unlock()

	waitFor(t, time.Second, "recovery", func() bool {
		return store.Snapshot().AppState == AppStateGenerating
	})
}
