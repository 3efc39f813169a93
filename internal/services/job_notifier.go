package services

import (
	"github.com/google/uuid"

	"github.com/yungbote/callbridge-backend/internal/logger"
)

// JobNotifier receives lifecycle events from the worker. The default
// implementation just logs them; a push channel can slot in later
// without touching the worker.
type JobNotifier interface {
	JobStarted(jobID uuid.UUID, jobType string, attempt int)
	JobProgress(jobID uuid.UUID, jobType string, stage string)
	JobSucceeded(jobID uuid.UUID, jobType string)
	JobFailed(jobID uuid.UUID, jobType string, attempt int, errMsg string)
}

type logJobNotifier struct {
	log *logger.Logger
}

func NewLogJobNotifier(baseLog *logger.Logger) JobNotifier {
	return &logJobNotifier{log: baseLog.With("service", "JobNotifier")}
}

func (n *logJobNotifier) JobStarted(jobID uuid.UUID, jobType string, attempt int) {
	n.log.Info("Job started", "job_id", jobID, "job_type", jobType, "attempt", attempt)
}

func (n *logJobNotifier) JobProgress(jobID uuid.UUID, jobType string, stage string) {
	n.log.Debug("Job progress", "job_id", jobID, "job_type", jobType, "stage", stage)
}

func (n *logJobNotifier) JobSucceeded(jobID uuid.UUID, jobType string) {
	n.log.Info("Job succeeded", "job_id", jobID, "job_type", jobType)
}

func (n *logJobNotifier) JobFailed(jobID uuid.UUID, jobType string, attempt int, errMsg string) {
	n.log.Warn("Job failed", "job_id", jobID, "job_type", jobType, "attempt", attempt, "error", errMsg)
}
