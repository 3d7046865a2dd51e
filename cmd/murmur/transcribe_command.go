package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"murmur/internal/orchestrator"
	"murmur/internal/services/whisperx"
)

func newTranscribeCommand(ctx *commandContext) *cobra.Command {
	var language string
	var format string
	var outputDir string
	var jobs int

	cmd := &cobra.Command{
		Use:   "transcribe FILE...",
		Short: "Transcribe audio or video files with the configured model",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outFormat, err := parseFormat(format)
			if err != nil {
				return err
			}
			if jobs < 1 {
				jobs = 1
			}

			session, err := ctx.openSession(nil)
			if err != nil {
				return err
			}
			defer session.close()

			runCtx := cmd.Context()
			if err := session.manager.Start(runCtx); err != nil {
				return err
			}

			results := make([]orchestrator.JobResult, len(args))
			group, groupCtx := errgroup.WithContext(runCtx)
			group.SetLimit(jobs)
			for i, input := range args {
				group.Go(func() error {
					res, err := session.manager.Transcribe(groupCtx, input, whisperx.TranscribeOptions{Language: language})
					if err != nil {
						return fmt.Errorf("transcribe %s: %w", input, err)
					}
					results[i] = res
					return nil
				})
			}
			if err := group.Wait(); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for i, input := range args {
				res := results[i]
				if res.Cancelled {
					fmt.Fprintf(out, "%s: cancelled\n", input)
					continue
				}
				data, err := renderResult(res.Result, outFormat)
				if err != nil {
					return err
				}
				if outputDir != "" {
					target, err := writeResultFile(outputDir, input, outFormat, data)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "Wrote %s (%d segments, language %s)\n", target, len(res.Segments), res.Language)
					continue
				}
				if len(args) > 1 {
					fmt.Fprintln(out, renderSectionHeader(filepath.Base(input), shouldColorize(out)))
				}
				if _, err := out.Write(data); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&language, "language", "l", "", "Language name or code (default: the configured model language)")
	cmd.Flags().StringVarP(&format, "format", "f", formatText, "Output format: text, json, or yaml")
	cmd.Flags().StringVarP(&outputDir, "output-dir", "o", "", "Write one result file per input into this directory")
	cmd.Flags().IntVarP(&jobs, "jobs", "j", 1, "Number of files submitted to the worker concurrently")
	return cmd
}

func writeResultFile(dir, input, format string, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}
	base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	target := filepath.Join(dir, base+formatExtension(format))
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", target, err)
	}
	return target, nil
}

func newAlignCommand(ctx *commandContext) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "align AUDIO SEGMENTS",
		Short: "Force-align known text segments against audio",
		Long: "Force-align known text segments against audio.\n\n" +
			"SEGMENTS is a YAML or JSON file holding either a list of {text, start, end}\n" +
			"entries or an object with a segments key.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			outFormat, err := parseFormat(format)
			if err != nil {
				return err
			}
			segments, err := readAlignSegments(args[1])
			if err != nil {
				return err
			}

			session, err := ctx.openSession(nil)
			if err != nil {
				return err
			}
			defer session.close()

			if err := session.manager.Start(cmd.Context()); err != nil {
				return err
			}
			res, err := session.manager.Align(cmd.Context(), args[0], segments)
			if err != nil {
				return err
			}
			if res.Cancelled {
				fmt.Fprintln(cmd.OutOrStdout(), "cancelled")
				return nil
			}
			data, err := renderResult(res.Result, outFormat)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", formatText, "Output format: text, json, or yaml")
	return cmd
}

func readAlignSegments(path string) ([]whisperx.AlignSegment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read segments: %w", err)
	}
	var list []whisperx.AlignSegment
	if err := yaml.Unmarshal(data, &list); err != nil {
		var wrapped struct {
			Segments []whisperx.AlignSegment `yaml:"segments"`
		}
		if wrapErr := yaml.Unmarshal(data, &wrapped); wrapErr != nil {
			return nil, fmt.Errorf("parse segments %s: %w", path, err)
		}
		list = wrapped.Segments
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("segments file %s contains no segments", path)
	}
	return list, nil
}
