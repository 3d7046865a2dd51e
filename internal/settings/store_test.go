package settings_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"murmur/internal/settings"
	"murmur/internal/testsupport"
)

func TestSelectedModelRoundTrip(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	if _, ok, err := store.SelectedModel(ctx); err != nil || ok {
		t.Fatalf("expected no selection, got ok=%v err=%v", ok, err)
	}
	if err := store.SetSelectedModel(ctx, "medium"); err != nil {
		t.Fatalf("SetSelectedModel: %v", err)
	}
	if err := store.SetSelectedModel(ctx, " large-v3 "); err != nil {
		t.Fatalf("SetSelectedModel: %v", err)
	}
	model, ok, err := store.SelectedModel(ctx)
	if err != nil || !ok || model != "large-v3" {
		t.Fatalf("SelectedModel = %q, %v, %v", model, ok, err)
	}
	if err := store.SetSelectedModel(ctx, "  "); err == nil {
		t.Fatal("expected error for empty model")
	}
}

func TestSelectionSurvivesReopen(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	first, err := settings.Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := first.SetSelectedModel(context.Background(), "small"); err != nil {
		t.Fatalf("SetSelectedModel: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	second := testsupport.MustOpenStore(t, cfg)
	model, ok, err := second.SelectedModel(context.Background())
	if err != nil || !ok || model != "small" {
		t.Fatalf("after reopen SelectedModel = %q, %v, %v", model, ok, err)
	}
}

func TestJobHistory(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	first, err := store.BeginJob(ctx, settings.Job{Kind: settings.JobTranscribe, InputPath: "/audio/a.wav", Model: "large-v3"})
	if err != nil {
		t.Fatalf("BeginJob: %v", err)
	}
	if first.ID == "" || first.Status != settings.JobRunning || first.StartedAt.IsZero() {
		t.Fatalf("unexpected job %+v", first)
	}
	if err := store.FinishJob(ctx, first.ID, settings.JobOutcome{Segments: 4, AudioSeconds: 12.5, DetectedLanguage: "de"}); err != nil {
		t.Fatalf("FinishJob: %v", err)
	}

	second, err := store.BeginJob(ctx, settings.Job{Kind: settings.JobAlign, InputPath: "/audio/b.wav"})
	if err != nil {
		t.Fatalf("BeginJob: %v", err)
	}
	if err := store.FinishJob(ctx, second.ID, settings.JobOutcome{Err: errors.New("worker crashed")}); err != nil {
		t.Fatalf("FinishJob: %v", err)
	}

	got, err := store.GetJob(ctx, first.ID)
	if err != nil || got == nil {
		t.Fatalf("GetJob: %v %v", got, err)
	}
	if got.Status != settings.JobCompleted || got.Segments != 4 || got.DetectedLanguage != "de" || got.FinishedAt == nil {
		t.Fatalf("unexpected finished job %+v", got)
	}

	jobs, err := store.RecentJobs(ctx, 10)
	if err != nil {
		t.Fatalf("RecentJobs: %v", err)
	}
	if len(jobs) != 2 || jobs[0].ID != second.ID {
		t.Fatalf("expected newest first, got %+v", jobs)
	}
	if jobs[0].Status != settings.JobFailed || jobs[0].ErrorMessage != "worker crashed" {
		t.Fatalf("unexpected failed job %+v", jobs[0])
	}

	if missing, err := store.GetJob(ctx, "nope"); err != nil || missing != nil {
		t.Fatalf("GetJob(missing) = %v, %v", missing, err)
	}
	if err := store.FinishJob(ctx, "nope", settings.JobOutcome{}); err == nil {
		t.Fatal("expected error finishing unknown job")
	}
}

func TestFailRunningAndPrune(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	var ids []string
	for _, path := range []string{"/a.wav", "/b.wav", "/c.wav"} {
		job, err := store.BeginJob(ctx, settings.Job{Kind: settings.JobTranscribe, InputPath: path})
		if err != nil {
			t.Fatalf("BeginJob: %v", err)
		}
		ids = append(ids, job.ID)
	}
	if err := store.FinishJob(ctx, ids[0], settings.JobOutcome{Status: settings.JobCancelled}); err != nil {
		t.Fatalf("FinishJob: %v", err)
	}

	n, err := store.FailRunningJobs(ctx, "interrupted")
	if err != nil || n != 2 {
		t.Fatalf("FailRunningJobs = %d, %v", n, err)
	}
	job, _ := store.GetJob(ctx, ids[2])
	if job.Status != settings.JobFailed || job.ErrorMessage != "interrupted" {
		t.Fatalf("unexpected job after fail %+v", job)
	}

	removed, err := store.PruneJobs(ctx, 1)
	if err != nil || removed != 2 {
		t.Fatalf("PruneJobs = %d, %v", removed, err)
	}
	jobs, _ := store.RecentJobs(ctx, 0)
	if len(jobs) != 1 || jobs[0].ID != ids[2] {
		t.Fatalf("expected newest job to survive, got %+v", jobs)
	}
}

func TestConcurrentJobsDoNotHitBusy(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	const workers = 8
	errs := make(chan error, workers)
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := range 10 {
				job, err := store.BeginJob(ctx, settings.Job{Kind: settings.JobTranscribe, InputPath: fmt.Sprintf("/audio/%d-%d.wav", i, n)})
				if err != nil {
					errs <- fmt.Errorf("BeginJob: %w", err)
					return
				}
				if err := store.FinishJob(ctx, job.ID, settings.JobOutcome{Segments: n}); err != nil {
					errs <- fmt.Errorf("FinishJob: %w", err)
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}

	jobs, err := store.RecentJobs(ctx, workers*10)
	if err != nil || len(jobs) != workers*10 {
		t.Fatalf("RecentJobs = %d jobs, %v", len(jobs), err)
	}
}
