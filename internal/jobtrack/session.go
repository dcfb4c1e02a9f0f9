package jobtrack

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/aistory/aistory-web/internal/domain"
)

// session owns the resources of one tracking run: the push subscription
// and the poll task. Exactly one session is live at a time; starting a new
// one first tears down the previous.
type session struct {
	jobID      string
	cancelAll  context.CancelFunc
	cancelPoll context.CancelFunc
	sub        Subscription
}

type counters struct {
	livePollers  atomic.Int32
	liveWatchers atomic.Int32
}

// Counters reports live poll tasks and push subscriptions, for teardown
// assertions in tests.
func (s *Store) Counters() (pollers, watchers int) {
	return int(s.counters.livePollers.Load()), int(s.counters.liveWatchers.Load())
}

// subscribeLocked opens the update channel pair for jobID. The push
// channel is established asynchronously because it may dial; the poll
// loop is the correctness backstop either way.
func (s *Store) subscribeLocked(jobID string) {
	s.teardownLocked()

	ctx, cancelAll := context.WithCancel(context.Background())
	pollCtx, cancelPoll := context.WithCancel(ctx)
	sess := &session{jobID: jobID, cancelAll: cancelAll, cancelPoll: cancelPoll}
	s.sess = sess

	s.log.Debug("subscribing to job", "job_id", jobID)

	go s.establishWatch(ctx, sess)
	go s.pollLoop(pollCtx, jobID)
}

func (s *Store) establishWatch(ctx context.Context, sess *session) {
	sub, err := s.watch.Watch(ctx, sess.jobID, func(job *domain.Job) {
		s.apply(job, false)
	})
	if err != nil {
		// not fatal: push is a latency optimization, polling still covers us
		s.log.Warn("push watch failed; polling remains the backstop", "job_id", sess.jobID, "error", err)
		return
	}

	s.mu.Lock()
	if s.sess != sess || ctx.Err() != nil {
		// session was torn down while we were connecting
		s.mu.Unlock()
		_ = sub.Close()
		return
	}
	sess.sub = sub
	s.counters.liveWatchers.Add(1)
	s.mu.Unlock()
}

// teardownLocked releases both channel resources unconditionally. A nil
// subscription handle is a no-op release, not an error.
func (s *Store) teardownLocked() {
	sess := s.sess
	if sess == nil {
		return
	}
	s.sess = nil

	sess.cancelPoll()
	sess.cancelAll()
	if sess.sub != nil {
		_ = sess.sub.Close()
		sess.sub = nil
		s.counters.liveWatchers.Add(-1)
	}
	s.log.Debug("unsubscribed from job", "job_id", sess.jobID)
}

// pollLoop fetches immediately, then on a fixed interval, and self-cancels
// once it observes a terminal status.
func (s *Store) pollLoop(ctx context.Context, jobID string) {
	s.counters.livePollers.Add(1)
	defer s.counters.livePollers.Add(-1)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return
		}
		if terminal := s.pollOnce(ctx, jobID); terminal {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Store) pollOnce(ctx context.Context, jobID string) bool {
	job, err := s.api.GetJob(ctx, jobID)
	if err != nil {
		// a single missed poll is not user-visible; retry next tick
		s.log.Debug("poll fetch failed", "job_id", jobID, "error", err)
		return false
	}
	if job == nil {
		return false
	}
	s.apply(job, true)
	return job.Status.Terminal()
}
