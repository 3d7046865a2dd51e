package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"murmur/internal/settings"
)

type historyEntry struct {
	ID               string     `json:"id"`
	Kind             string     `json:"kind"`
	Input            string     `json:"input"`
	Model            string     `json:"model,omitempty"`
	Status           string     `json:"status"`
	DetectedLanguage string     `json:"detected_language,omitempty"`
	Segments         int        `json:"segments"`
	AudioSeconds     float64    `json:"audio_seconds"`
	OutputPath       string     `json:"output_path,omitempty"`
	Error            string     `json:"error,omitempty"`
	StartedAt        time.Time  `json:"started_at"`
	FinishedAt       *time.Time `json:"finished_at,omitempty"`
}

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var asJSON bool
	var prune int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent transcription, alignment, and encode jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			if prune > 0 {
				removed, err := store.PruneJobs(cmd.Context(), prune)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Pruned %d job(s)\n", removed)
				return nil
			}

			jobs, err := store.RecentJobs(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if asJSON {
				entries := make([]historyEntry, 0, len(jobs))
				for _, job := range jobs {
					entries = append(entries, toHistoryEntry(job))
				}
				return writeJSON(cmd, entries)
			}
			if len(jobs) == 0 {
				fmt.Fprintln(out, "No jobs recorded")
				return nil
			}

			rows := make([][]string, 0, len(jobs))
			for _, job := range jobs {
				rows = append(rows, []string{
					shortID(job.ID),
					string(job.Kind),
					filepath.Base(job.InputPath),
					job.Model,
					historyStatus(job),
					job.StartedAt.Local().Format("2006-01-02 15:04"),
					job.Elapsed().Round(time.Second).String(),
				})
			}
			cols := append(columns("ID", "Kind", "Input", "Model", "Status", "Started"), column{title: "Elapsed", numeric: true})
			fmt.Fprintln(out, renderTable(cols, rows))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of jobs to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	cmd.Flags().IntVar(&prune, "prune", 0, "Delete all but the newest N jobs")
	return cmd
}

func toHistoryEntry(job settings.Job) historyEntry {
	return historyEntry{
		ID:               job.ID,
		Kind:             string(job.Kind),
		Input:            job.InputPath,
		Model:            job.Model,
		Status:           string(job.Status),
		DetectedLanguage: job.DetectedLanguage,
		Segments:         job.Segments,
		AudioSeconds:     job.AudioSeconds,
		OutputPath:       job.OutputPath,
		Error:            job.ErrorMessage,
		StartedAt:        job.StartedAt,
		FinishedAt:       job.FinishedAt,
	}
}

func historyStatus(job settings.Job) string {
	status := string(job.Status)
	switch {
	case job.ErrorMessage != "":
		status += ": " + truncate(job.ErrorMessage, 40)
	case job.Status == settings.JobCompleted && job.Kind != settings.JobEncode:
		status += fmt.Sprintf(" (%d seg, %s)", job.Segments, strings.TrimSpace(job.DetectedLanguage))
	}
	return status
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit-1]) + "…"
}
