package services

import (
	"context"

	"github.com/podsight/backend/internal/clients/redis"
	"github.com/podsight/backend/internal/domain"
	"github.com/podsight/backend/internal/jobs/runtime"
	"github.com/podsight/backend/internal/pkg/logger"
)

// JobNotifier extends the worker-side notifier with request-time events.
type JobNotifier interface {
	runtime.Notifier
	JobCreated(job *domain.JobRun)
}

// busNotifier forwards job lifecycle events to the redis bus. Publishing is
// best effort; a dropped event never fails the job.
type busNotifier struct {
	log *logger.Logger
	bus redis.JobBus
}

// NewJobNotifier returns a notifier over bus, or nil when bus is nil (nil is
// the sanctioned no-op everywhere a notifier is accepted).
func NewJobNotifier(bus redis.JobBus, baseLog *logger.Logger) JobNotifier {
	if bus == nil {
		return nil
	}
	return &busNotifier{log: baseLog.With("service", "JobNotifier"), bus: bus}
}

func (n *busNotifier) publish(ev redis.JobEvent) {
	if err := n.bus.Publish(context.Background(), ev); err != nil {
		n.log.Warn("job event publish failed", "job_id", ev.JobID, "kind", ev.Kind, "error", err)
	}
}

func (n *busNotifier) JobCreated(job *domain.JobRun) {
	n.publish(redis.JobEvent{JobID: job.ID.String(), JobType: job.JobType, Kind: "created"})
}

func (n *busNotifier) JobProgress(job *domain.JobRun, stage string, progress int, message string) {
	n.publish(redis.JobEvent{
		JobID: job.ID.String(), JobType: job.JobType, Kind: "progress",
		Stage: stage, Progress: progress, Message: message,
	})
}

func (n *busNotifier) JobFailed(job *domain.JobRun, stage string, errorMessage string) {
	n.publish(redis.JobEvent{
		JobID: job.ID.String(), JobType: job.JobType, Kind: "failed",
		Stage: stage, Message: errorMessage,
	})
}

func (n *busNotifier) JobDone(job *domain.JobRun) {
	n.publish(redis.JobEvent{JobID: job.ID.String(), JobType: job.JobType, Kind: "done"})
}
