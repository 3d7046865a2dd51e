package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"murmur/internal/logging"
	"murmur/internal/services"
	"murmur/internal/services/drapto"
	"murmur/internal/services/whisperx"
	"murmur/internal/settings"
)

// Transcribe runs a transcription through the current facade and records it
// in the job history. Inputs that are not audio files are extracted first.
func (m *Manager) Transcribe(ctx context.Context, input string, opts whisperx.TranscribeOptions) (JobResult, error) {
	facade, model := m.current()
	if facade == nil {
		return JobResult{}, notStarted("transcribe")
	}
	return m.runWorkerJob(ctx, settings.JobTranscribe, input, model, opts.Language, func(ctx context.Context, audio string) (whisperx.Result, error) {
		return facade.Transcribe(ctx, audio, opts)
	}, facade)
}

// Align force-aligns segments against input and records the job.
func (m *Manager) Align(ctx context.Context, input string, segments []whisperx.AlignSegment) (JobResult, error) {
	facade, model := m.current()
	if facade == nil {
		return JobResult{}, notStarted("align")
	}
	return m.runWorkerJob(ctx, settings.JobAlign, input, model, "", func(ctx context.Context, audio string) (whisperx.Result, error) {
		return facade.Align(ctx, audio, segments)
	}, facade)
}

func (m *Manager) runWorkerJob(
	ctx context.Context,
	kind settings.JobKind,
	input, model, lang string,
	call func(context.Context, string) (whisperx.Result, error),
	facade *whisperx.Service,
) (JobResult, error) {
	job := m.beginJob(ctx, settings.Job{Kind: kind, InputPath: input, Model: model, Language: lang})
	ctx = services.WithModel(services.WithJobID(ctx, job.ID), model)
	logger := logging.WithContext(ctx, m.logger)

	m.setActiveJob(job.ID)
	defer m.clearActiveJob(job.ID)

	audio, cleanup, err := facade.PrepareAudio(ctx, input, m.scratchDir)
	if err != nil {
		m.finishJob(ctx, logger, job, settings.JobOutcome{Err: err})
		return JobResult{JobID: job.ID}, err
	}
	defer cleanup()

	logger.Info("job started", logging.String("kind", string(kind)), logging.String("input", input))
	result, err := call(ctx, audio)
	outcome := settings.JobOutcome{
		Err:              err,
		Segments:         len(result.Segments),
		AudioSeconds:     result.Duration,
		DetectedLanguage: result.Language,
	}
	switch {
	case result.Cancelled, err != nil && isCancellation(err):
		outcome.Status = settings.JobCancelled
	case err != nil:
		outcome.Status = settings.JobFailed
	default:
		outcome.Status = settings.JobCompleted
	}
	m.finishJob(ctx, logger, job, outcome)
	return JobResult{JobID: job.ID, Result: result}, err
}

// Encode runs the drapto collaborator on input and relays its progress as
// encode-progress events.
func (m *Manager) Encode(ctx context.Context, input, outputDir string) (string, error) {
	if m.encoder == nil {
		return "", services.Wrap(services.ErrConfiguration, component, "encode", "no encoder configured", nil)
	}
	job := m.beginJob(ctx, settings.Job{Kind: settings.JobEncode, InputPath: input})
	ctx = services.WithJobID(ctx, job.ID)
	logger := logging.WithContext(ctx, m.logger)
	sampler := logging.NewProgressSampler(5)

	output, err := m.encoder.Encode(ctx, input, outputDir, func(update drapto.ProgressUpdate) {
		if sampler.ShouldLog(update.Stage, update.Percent) {
			logger.Info("encode progress",
				logging.String("stage", update.Stage),
				logging.Float64("percent", update.Percent),
				logging.Duration("eta", update.ETA),
			)
		}
		copied := update
		m.publish(Event{Type: EventEncodeProgress, JobID: job.ID, Encode: &copied})
	})
	outcome := settings.JobOutcome{Err: err, OutputPath: output}
	if err != nil && isCancellation(err) {
		outcome.Status = settings.JobCancelled
	}
	m.finishJob(ctx, logger, job, outcome)
	return output, err
}

// beginJob records job in the history. A store failure is logged and the job
// runs unrecorded under a local id.
func (m *Manager) beginJob(ctx context.Context, job settings.Job) trackedJob {
	tracked := trackedJob{Job: job}
	if m.store != nil {
		recorded, err := m.store.BeginJob(ctx, job)
		if err == nil {
			tracked.Job = recorded
			tracked.recorded = true
		} else {
			logging.WarnWithContext(m.logger, "failed to record job start", "job_history",
				logging.String("kind", string(job.Kind)),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "the job runs but will be missing from history"),
			)
		}
	}
	if !tracked.recorded {
		tracked.ID = uuid.NewString()
		tracked.Status = settings.JobRunning
		tracked.StartedAt = time.Now().UTC()
	}
	m.resetSampler()
	m.publish(Event{Type: EventJob, Model: job.Model, JobID: tracked.ID, Job: &JobInfo{
		ID:     tracked.ID,
		Kind:   tracked.Kind,
		Input:  tracked.InputPath,
		Status: tracked.Status,
	}})
	return tracked
}

func (m *Manager) finishJob(ctx context.Context, logger *slog.Logger, job trackedJob, outcome settings.JobOutcome) {
	status := outcome.Status
	if status == "" {
		status = settings.JobCompleted
		if outcome.Err != nil {
			status = settings.JobFailed
		}
		outcome.Status = status
	}
	if m.store != nil && job.recorded {
		// The caller's context may already be cancelled.
		if err := m.store.FinishJob(context.WithoutCancel(ctx), job.ID, outcome); err != nil {
			logger.Warn("failed to record job outcome", logging.Error(err))
		}
	}

	info := &JobInfo{ID: job.ID, Kind: job.Kind, Input: job.InputPath, Status: status}
	if outcome.Err != nil {
		info.Error = outcome.Err.Error()
		logging.WarnWithContext(logger, "job failed", "job_failed",
			logging.String("kind", string(job.Kind)),
			logging.String("status", string(status)),
			logging.Error(outcome.Err),
			logging.String("error_kind", services.Kind(outcome.Err)),
		)
	} else {
		logger.Info("job finished",
			logging.String("kind", string(job.Kind)),
			logging.String("status", string(status)),
			logging.Int("segments", outcome.Segments),
			logging.Duration("elapsed", time.Since(job.StartedAt)),
		)
	}
	m.publish(Event{Type: EventJob, Model: job.Model, JobID: job.ID, Job: info})
}

func (m *Manager) setActiveJob(id string) {
	m.mu.Lock()
	m.activeJobs[id] = struct{}{}
	m.mu.Unlock()
}

func (m *Manager) clearActiveJob(id string) {
	m.mu.Lock()
	delete(m.activeJobs, id)
	m.mu.Unlock()
}

// progressJobID names the job worker events belong to. Worker notifications
// carry no request id, so events are only attributed while exactly one job
// is in flight.
func (m *Manager) progressJobID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.activeJobs) != 1 {
		return ""
	}
	for id := range m.activeJobs {
		return id
	}
	return ""
}

func (m *Manager) resetSampler() {
	m.samplerMu.Lock()
	m.sampler.Reset()
	m.samplerMu.Unlock()
}
