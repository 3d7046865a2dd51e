package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// JobKind names what a job did.
type JobKind string

const (
	JobTranscribe JobKind = "transcribe"
	JobAlign      JobKind = "align"
	JobEncode     JobKind = "encode"
)

// JobStatus is the lifecycle state of a recorded job.
type JobStatus string

const (
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Job is one entry in the job history.
type Job struct {
	ID               string
	Kind             JobKind
	InputPath        string
	Model            string
	Language         string
	DetectedLanguage string
	Status           JobStatus
	ErrorMessage     string
	Segments         int
	AudioSeconds     float64
	OutputPath       string
	StartedAt        time.Time
	FinishedAt       *time.Time
}

// Elapsed returns how long the job ran, or has been running.
func (j Job) Elapsed() time.Duration {
	if j.FinishedAt != nil {
		return j.FinishedAt.Sub(j.StartedAt)
	}
	return time.Since(j.StartedAt)
}

// JobOutcome is recorded when a job finishes.
type JobOutcome struct {
	Status           JobStatus
	Err              error
	Segments         int
	AudioSeconds     float64
	DetectedLanguage string
	OutputPath       string
}

const jobColumns = `id, kind, input_path, model, language, detected_language, status, error_message,
    segments, audio_seconds, output_path, started_at, finished_at`

// BeginJob records a running job and returns it with its ID and start time set.
func (s *Store) BeginJob(ctx context.Context, job Job) (Job, error) {
	if strings.TrimSpace(job.InputPath) == "" {
		return Job{}, errors.New("job input path required")
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.Status = JobRunning
	job.StartedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, kind, input_path, model, language, status, started_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		job.ID,
		job.Kind,
		job.InputPath,
		nullableString(job.Model),
		nullableString(job.Language),
		job.Status,
		job.StartedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return Job{}, fmt.Errorf("insert job: %w", err)
	}
	return job, nil
}

// FinishJob records the outcome of a running job.
func (s *Store) FinishJob(ctx context.Context, id string, outcome JobOutcome) error {
	status := outcome.Status
	if status == "" {
		status = JobCompleted
		if outcome.Err != nil {
			status = JobFailed
		}
	}
	var message string
	if outcome.Err != nil {
		message = outcome.Err.Error()
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs
         SET status = ?, error_message = ?, segments = ?, audio_seconds = ?,
             detected_language = ?, output_path = ?, finished_at = ?
         WHERE id = ?`,
		status,
		nullableString(message),
		outcome.Segments,
		outcome.AudioSeconds,
		nullableString(outcome.DetectedLanguage),
		nullableString(outcome.OutputPath),
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
	)
	if err != nil {
		return fmt.Errorf("finish job: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finish job: unknown job %s", id)
	}
	return nil
}

// GetJob fetches a job by ID. It returns nil when the job does not exist.
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// RecentJobs returns up to limit jobs, newest first.
func (s *Store) RecentJobs(ctx context.Context, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// FailRunningJobs marks jobs left running by a previous process as failed.
func (s *Store) FailRunningJobs(ctx context.Context, reason string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, error_message = ?, finished_at = ? WHERE status = ?`,
		JobFailed, reason, time.Now().UTC().Format(time.RFC3339Nano), JobRunning,
	)
	if err != nil {
		return 0, fmt.Errorf("fail running jobs: %w", err)
	}
	return res.RowsAffected()
}

// PruneJobs keeps the newest keep finished jobs and deletes the rest.
func (s *Store) PruneJobs(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM jobs WHERE status != ? AND id NOT IN (
            SELECT id FROM jobs WHERE status != ? ORDER BY started_at DESC, rowid DESC LIMIT ?
        )`,
		JobRunning, JobRunning, keep,
	)
	if err != nil {
		return 0, fmt.Errorf("prune jobs: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(scanner rowScanner) (*Job, error) {
	var (
		job                                   Job
		model, lang, detected, errMsg, output sql.NullString
		started                               string
		finished                              sql.NullString
	)
	if err := scanner.Scan(
		&job.ID,
		&job.Kind,
		&job.InputPath,
		&model,
		&lang,
		&detected,
		&job.Status,
		&errMsg,
		&job.Segments,
		&job.AudioSeconds,
		&output,
		&started,
		&finished,
	); err != nil {
		return nil, err
	}
	job.Model = model.String
	job.Language = lang.String
	job.DetectedLanguage = detected.String
	job.ErrorMessage = errMsg.String
	job.OutputPath = output.String
	job.StartedAt = parseTime(started)
	if finished.Valid {
		t := parseTime(finished.String)
		job.FinishedAt = &t
	}
	return &job, nil
}

func parseTime(value string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
