package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"murmur/internal/deployment"
	"murmur/internal/deps"
)

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the worker runtime and external tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			dep, err := deployment.Resolve(cfg)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			fmt.Fprintln(out, renderSectionHeader("Deployment", colorize))
			fmt.Fprintln(out, renderStatusLine("Mode", statusInfo, string(dep.Mode), colorize))
			fmt.Fprintln(out, renderStatusLine("Service dir", statusInfo, dep.ServiceDir, colorize))
			if _, err := os.Stat(dep.Script); err != nil {
				fmt.Fprintln(out, renderStatusLine("Worker script", statusError, dep.Script+" not found", colorize))
			} else {
				fmt.Fprintln(out, renderStatusLine("Worker script", statusOK, dep.Script, colorize))
			}
			fmt.Fprintln(out)

			var dirs []string
			if dep.ToolsDir != "" {
				dirs = append(dirs, dep.ToolsDir)
			}
			statuses := dep.Tools()
			statuses = append(statuses, deps.CheckBinaries([]deps.Requirement{{
				Name:        "Drapto",
				Command:     cfg.Encoding.DraptoBinary,
				Description: "Video encoding",
				Optional:    true,
			}}, dirs...)...)

			rows := make([][]string, 0, len(statuses))
			missing := 0
			for _, status := range statuses {
				state := "ok"
				detail := status.Path
				if !status.Available {
					state = "missing"
					if status.Optional {
						state = "optional"
					} else {
						missing++
					}
					detail = status.Detail
				}
				rows = append(rows, []string{status.Name, status.Command, state, detail})
			}
			fmt.Fprintln(out, renderTable(columns("Tool", "Command", "State", "Detail"), rows))

			if missing > 0 {
				return fmt.Errorf("%d required tool(s) missing", missing)
			}
			return nil
		},
	}
}
