package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/sentra-iam/sentra/internal/permissions"
	"github.com/sentra-iam/sentra/internal/shared"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskAccessWarm re-computes a user's effective permission set so
	// the next check is served from cache.
	TaskAccessWarm = "access:warm"
)

// AccessWarmPayload identifies the user whose cache should be rebuilt.
type AccessWarmPayload struct {
	UserID int64 `json:"userId"`
}

// NewAccessWarmTask constructs an Asynq task.
func NewAccessWarmTask(payload AccessWarmPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAccessWarm, data), nil
}

// Resolver recomputes effective permissions for a user.
type Resolver interface {
	EffectivePermissions(ctx context.Context, userID int64) ([]permissions.Permission, error)
}

// AccessWarmJob pre-populates the permission cache after assignment
// changes.
type AccessWarmJob struct {
	Resolver Resolver
	Logger   *slog.Logger
	Metrics  *Metrics
	clock    func() time.Time
}

// NewAccessWarmJob wires dependencies for the warm handler.
func NewAccessWarmJob(resolver Resolver, logger *slog.Logger, metrics *Metrics) *AccessWarmJob {
	return &AccessWarmJob{
		Resolver: resolver,
		Logger:   logger,
		Metrics:  metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes access warm tasks. Unknown users are dropped without
// retry; their assignments may have been removed since enqueue.
func (j *AccessWarmJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Resolver == nil {
		return errors.New("access warm: handler not configured")
	}
	var payload AccessWarmPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.UserID <= 0 {
		return asynq.SkipRetry
	}

	tracker := j.Metrics.Track(TaskAccessWarm)
	defer func() {
		err = tracker.End(err)
	}()

	start := j.clock()
	perms, err := j.Resolver.EffectivePermissions(ctx, payload.UserID)
	if err != nil {
		if shared.IsNotFound(err) {
			if j.Logger != nil {
				j.Logger.Warn("access warm for unknown user", slog.Int64("user_id", payload.UserID))
			}
			return asynq.SkipRetry
		}
		return err
	}
	if j.Logger != nil {
		j.Logger.Info("access cache warmed",
			slog.Int64("user_id", payload.UserID),
			slog.Int("permissions", len(perms)),
			slog.Duration("took", j.clock().Sub(start)))
	}
	return nil
}
