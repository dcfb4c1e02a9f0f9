package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/aistory/aistory-web/internal/domain"
	"github.com/aistory/aistory-web/internal/platform/logger"
	"github.com/aistory/aistory-web/internal/realtime"
	"github.com/aistory/aistory-web/internal/realtime/bus"
)

// JobNotifier pushes job changes onto the realtime bus so every gateway
// replica forwards them to its SSE subscribers. Delivery is best effort:
// the poll channel is the correctness backstop, so publish failures are
// logged and swallowed.
type JobNotifier interface {
	JobCreated(ctx context.Context, job *domain.Job)
	JobUpdated(ctx context.Context, job *domain.Job)
	JobRemoved(ctx context.Context, jobID uuid.UUID)
}

type jobNotifier struct {
	bus bus.Bus
	log *logger.Logger
}

func NewJobNotifier(b bus.Bus, baseLog *logger.Logger) JobNotifier {
	return &jobNotifier{
		bus: b,
		log: baseLog.With("service", "JobNotifier"),
	}
}

func (n *jobNotifier) publish(ctx context.Context, msg realtime.Message) {
	if n.bus == nil {
		return
	}
	if err := n.bus.Publish(ctx, msg); err != nil {
		n.log.Warn("failed to publish realtime message", "channel", msg.Channel, "event", msg.Event, "error", err)
	}
}

func (n *jobNotifier) JobCreated(ctx context.Context, job *domain.Job) {
	if job == nil {
		return
	}
	n.publish(ctx, realtime.Message{
		Channel: realtime.JobChannel(job.ID),
		Event:   realtime.EventJobCreated,
		Data:    map[string]any{"job": job},
	})
}

func (n *jobNotifier) JobUpdated(ctx context.Context, job *domain.Job) {
	if job == nil {
		return
	}
	n.publish(ctx, realtime.Message{
		Channel: realtime.JobChannel(job.ID),
		Event:   realtime.EventJobUpdated,
		Data:    map[string]any{"job": job},
	})
}

func (n *jobNotifier) JobRemoved(ctx context.Context, jobID uuid.UUID) {
	n.publish(ctx, realtime.Message{
		Channel: realtime.JobChannel(jobID),
		Event:   realtime.EventJobRemoved,
		Data:    map[string]any{"job_id": jobID},
	})
}
