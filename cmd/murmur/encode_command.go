package main

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"murmur/internal/orchestrator"
	"murmur/internal/services/drapto"
)

func newEncodeCommand(ctx *commandContext) *cobra.Command {
	var outputDir string

	cmd := &cobra.Command{
		Use:   "encode INPUT",
		Short: "Encode a video with Drapto and record the job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input := args[0]
			out := cmd.OutOrStdout()
			interactive := shouldColorize(out)

			progress := &encodeProgress{out: out, interactive: interactive}
			session, err := ctx.openSession(orchestrator.SinkFunc(func(evt orchestrator.Event) {
				if evt.Type == orchestrator.EventEncodeProgress && evt.Encode != nil {
					progress.render(*evt.Encode)
				}
			}))
			if err != nil {
				return err
			}
			defer session.close()

			dir := outputDir
			if dir == "" {
				dir = filepath.Dir(input)
			}
			output, err := session.manager.Encode(cmd.Context(), input, dir)
			progress.finish()
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Encoded %s\n", output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputDir, "output-dir", "o", "", "Directory for the encoded file (default: next to the input)")
	return cmd
}

// encodeProgress renders drapto updates: one rewritten line on a terminal,
// one line per stage change otherwise.
type encodeProgress struct {
	out         io.Writer
	interactive bool
	lastStage   string
	drawn       bool
}

func (p *encodeProgress) render(update drapto.ProgressUpdate) {
	if p.interactive {
		fmt.Fprintf(p.out, "\r\x1b[2K%s", update.String())
		p.drawn = true
		return
	}
	if update.Stage != "" && update.Stage != p.lastStage {
		p.lastStage = update.Stage
		fmt.Fprintln(p.out, update.String())
	}
}

func (p *encodeProgress) finish() {
	if p.drawn {
		fmt.Fprintln(p.out)
	}
}
