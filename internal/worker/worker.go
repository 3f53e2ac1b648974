// Package worker drives the analysis pipeline: it leases one queue message
// at a time, invokes the inference provider, and applies the job/run state
// transitions including retry backoff and dead-lettering. Horizontal
// scale-out is extra worker processes on the same queue; lease exclusivity
// is the queue adapter's job, not ours.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/cheekymohnkey/styledna/internal/cache"
	"github.com/cheekymohnkey/styledna/internal/config"
	"github.com/cheekymohnkey/styledna/internal/inference"
	"github.com/cheekymohnkey/styledna/internal/queue"
	"github.com/cheekymohnkey/styledna/internal/store"
	"github.com/cheekymohnkey/styledna/pkg/models"
)

const jobStatusTTL = 30 * time.Minute

// leaseReclaimer is satisfied by adapters that can recover leases left
// behind by crashed workers (the embedded adapter; the distributed one
// relies on the broker's own redelivery).
type leaseReclaimer interface {
	ReclaimExpired(ctx context.Context) (int, error)
}

// Worker is a single logical consumer: at most one message is processed at
// a time within one process.
type Worker struct {
	store    store.Store
	queue    queue.Adapter
	cache    cache.Cache
	provider models.InferenceProvider
	cfg      config.WorkerConfig
}

func New(st store.Store, q queue.Adapter, ca cache.Cache, provider models.InferenceProvider, cfg config.WorkerConfig) *Worker {
	return &Worker{
		store:    st,
		queue:    q,
		cache:    ca,
		provider: provider,
		cfg:      cfg,
	}
}

// Run polls until ctx is cancelled. Transport errors during poll are logged
// and treated as an idle cycle; the loop never crashes on them.
func (w *Worker) Run(ctx context.Context) error {
	slog.Info("worker started",
		"provider", w.provider.Name(),
		"max_attempts", w.cfg.MaxAttempts,
		"poll_interval", w.cfg.PollInterval)

	reclaimEvery := time.NewTicker(time.Minute)
	defer reclaimEvery.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopping")
			return nil
		case <-reclaimEvery.C:
			w.reclaim(ctx)
		default:
		}

		msg, err := w.queue.Poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Error("poll failed", "error", err)
			w.sleep(ctx)
			continue
		}
		if msg == nil {
			w.sleep(ctx)
			continue
		}

		if err := w.process(ctx, msg); err != nil {
			slog.Error("processing failed", "message_id", msg.ID, "error", err)
		}
	}
}

func (w *Worker) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(w.cfg.PollInterval):
	}
}

func (w *Worker) reclaim(ctx context.Context) {
	r, ok := w.queue.(leaseReclaimer)
	if !ok {
		return
	}
	n, err := r.ReclaimExpired(ctx)
	if err != nil {
		slog.Error("lease reclaim failed", "error", err)
		return
	}
	if n > 0 {
		slog.Warn("reclaimed expired leases", "count", n)
	}
}

// process drives one leased message through the state machine. Errors from
// ack/requeue/dead-letter propagate: losing one risks duplicate processing
// or a stuck lease, so they are surfaced instead of swallowed.
func (w *Worker) process(ctx context.Context, msg *queue.Message) error {
	env, err := queue.DecodeEnvelope(msg.Body)
	if err != nil {
		slog.Error("undecodable message", "message_id", msg.ID, "error", err)
		return w.queue.DeadLetter(ctx, msg, "undecodable envelope: "+err.Error())
	}

	// A cached terminal status means a stale redelivery; drop it without a
	// store round-trip.
	if status, found, err := w.cache.GetJobStatus(ctx, env.JobID); err == nil && found && status.Terminal() {
		slog.Warn("stale message for job", "job_id", env.JobID, "status", status)
		return w.queue.Ack(ctx, msg)
	}

	job, err := w.store.GetJob(ctx, env.JobID)
	if errors.Is(err, store.ErrNotFound) {
		slog.Warn("message for unknown job", "job_id", env.JobID)
		return w.queue.Ack(ctx, msg)
	}
	if err != nil {
		// Transient store failure; release the lease and let backoff retry.
		return w.queue.Requeue(ctx, msg, w.cfg.RetryBase)
	}

	if err := w.store.UpdateJobStatus(ctx, job.ID, models.JobStatusInProgress); err != nil {
		var invalid *models.InvalidTransitionError
		if !errors.As(err, &invalid) {
			return err
		}
		if invalid.From != models.JobStatusInProgress {
			// Duplicate delivery of a finished job; drop the message.
			slog.Warn("stale message for job", "job_id", job.ID, "status", invalid.From)
			return w.queue.Ack(ctx, msg)
		}
		// The previous worker died after claiming the job and the lease was
		// reclaimed. The job is still in_progress; record a fresh attempt.
		slog.Warn("resuming job from reclaimed lease", "job_id", job.ID)
	}

	run, err := w.store.CreateRun(ctx, job.ID)
	if err != nil {
		return err
	}
	_ = w.cache.SetJobStatus(ctx, job.ID, models.JobStatusInProgress, jobStatusTTL)

	slog.Info("attempt started", "job_id", job.ID, "attempt", run.AttemptCount)

	result, inferErr := w.infer(ctx, env)
	if inferErr == nil {
		return w.succeed(ctx, msg, job, run, result)
	}
	return w.fail(ctx, msg, job, run, inferErr)
}

// infer calls the provider under the configured deadline. A deadline hit is
// mapped to a retryable timeout. No database transaction is held across
// this call.
func (w *Worker) infer(ctx context.Context, env queue.JobEnvelope) (models.InferenceResult, error) {
	inferCtx, cancel := context.WithTimeout(ctx, w.cfg.InferenceTimeout)
	defer cancel()

	result, err := w.provider.Analyze(inferCtx, models.InferenceRequest{
		RunType: env.RunType,
		ImageID: env.ImageID,
		Context: env.Context,
	})
	if err != nil && inferCtx.Err() == context.DeadlineExceeded {
		return models.InferenceResult{}, models.ErrInferenceTimeout
	}
	return result, err
}

func (w *Worker) succeed(ctx context.Context, msg *queue.Message, job *models.AnalysisJob, run *models.AnalysisRun, result models.InferenceResult) error {
	attrs, err := json.Marshal(result.Attributes)
	if err != nil {
		attrs = nil
	}
	trait := &models.TraitResult{
		ID:          uuid.New(),
		JobID:       job.ID,
		RunID:       run.ID,
		ImageID:     job.ImageID,
		Provider:    w.provider.Name(),
		Model:       result.Model,
		TraitVector: result.TraitVector,
		Attributes:  attrs,
		CreatedAt:   time.Now().UTC(),
	}
	if err := w.store.CreateTraitResult(ctx, trait); err != nil {
		// Result not persisted; fail the run so the attempt is retried.
		return w.fail(ctx, msg, job, run, fmt.Errorf("%w: storing result: %v", models.ErrProviderUnavailable, err))
	}

	if err := w.store.FinishRun(ctx, run.ID, models.RunStatusSucceeded); err != nil {
		return err
	}
	if err := w.store.UpdateJobStatus(ctx, job.ID, models.JobStatusSucceeded); err != nil {
		return err
	}
	_ = w.cache.SetJobStatus(ctx, job.ID, models.JobStatusSucceeded, jobStatusTTL)

	slog.Info("job succeeded", "job_id", job.ID, "attempt", run.AttemptCount)
	return w.queue.Ack(ctx, msg)
}

// fail records the failed run first, then decides between immediate failure
// (non-retryable), retry with backoff, or dead-lettering. The error is never
// discarded: every failure leaves a run row with its code and message.
func (w *Worker) fail(ctx context.Context, msg *queue.Message, job *models.AnalysisJob, run *models.AnalysisRun, inferErr error) error {
	code := inference.Code(inferErr)
	if err := w.store.FinishRun(ctx, run.ID, models.RunStatusFailed,
		store.WithRunError(code, inferErr.Error())); err != nil {
		return err
	}

	switch {
	case !inference.Retryable(inferErr):
		if err := w.store.UpdateJobStatus(ctx, job.ID, models.JobStatusFailed); err != nil {
			return err
		}
		_ = w.cache.SetJobStatus(ctx, job.ID, models.JobStatusFailed, jobStatusTTL)
		slog.Warn("job failed permanently", "job_id", job.ID, "code", code)
		return w.queue.Ack(ctx, msg)

	case run.AttemptCount < w.cfg.MaxAttempts:
		if err := w.store.UpdateJobStatus(ctx, job.ID, models.JobStatusRetrying); err != nil {
			return err
		}
		_ = w.cache.SetJobStatus(ctx, job.ID, models.JobStatusRetrying, jobStatusTTL)
		delay := RetryDelay(w.cfg.RetryBase, w.cfg.RetryMax, run.AttemptCount)
		slog.Warn("job retrying",
			"job_id", job.ID, "attempt", run.AttemptCount, "delay", delay, "code", code)
		return w.queue.Requeue(ctx, msg, delay)

	default:
		if err := w.store.UpdateJobStatus(ctx, job.ID, models.JobStatusDeadLetter); err != nil {
			return err
		}
		_ = w.cache.SetJobStatus(ctx, job.ID, models.JobStatusDeadLetter, jobStatusTTL)
		reason := fmt.Sprintf("%s after %d attempts: %v", code, run.AttemptCount, inferErr)
		slog.Error("job dead-lettered", "job_id", job.ID, "attempts", run.AttemptCount, "code", code)
		return w.queue.DeadLetter(ctx, msg, reason)
	}
}
