package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"murmur/internal/config"
	"murmur/internal/settings"
)

// serveStatus is the body of GET /api/status served by murmur serve.
type serveStatus struct {
	State       string  `json:"state"`
	Model       string  `json:"model"`
	Initialized bool    `json:"initialized"`
	Processing  bool    `json:"processing"`
	Device      string  `json:"device,omitempty"`
	Language    string  `json:"language,omitempty"`
	PID         int     `json:"pid,omitempty"`
	RSSBytes    uint64  `json:"rss_bytes,omitempty"`
	CPUPercent  float64 `json:"cpu_percent,omitempty"`
	Clients     int     `json:"clients"`
	Error       string  `json:"error,omitempty"`
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of a running murmur serve instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			status, reachable := fetchServeStatus(cmd.Context(), cfg.Paths.EventsBind)
			if asJSON {
				if !reachable {
					return writeJSON(cmd, map[string]any{"running": false})
				}
				return writeJSON(cmd, status)
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			fmt.Fprintln(out, renderSectionHeader("murmur", colorize))
			if !reachable {
				fmt.Fprintln(out, renderStatusLine("Server", statusWarn, "not running", colorize))
				model, err := selectedModel(cfg)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, renderStatusLine("Model", statusInfo, model, colorize))
				return nil
			}

			fmt.Fprintln(out, renderStatusLine("Server", statusOK, "running on "+cfg.Paths.EventsBind, colorize))
			fmt.Fprintln(out, renderStatusLine("Worker", stateKind(status.State), status.State, colorize))
			fmt.Fprintln(out, renderStatusLine("Model", statusInfo, status.Model, colorize))
			if status.Initialized {
				fmt.Fprintln(out, renderStatusLine("Device", statusInfo, status.Device, colorize))
				fmt.Fprintln(out, renderStatusLine("Language", statusInfo, status.Language, colorize))
			}
			fmt.Fprintln(out, renderStatusLine("Processing", statusInfo, yesNo(status.Processing), colorize))
			if status.PID > 0 {
				detail := fmt.Sprintf("pid %d, %s RSS, %.1f%% CPU", status.PID, formatBytes(status.RSSBytes), status.CPUPercent)
				fmt.Fprintln(out, renderStatusLine("Process", statusInfo, detail, colorize))
			}
			fmt.Fprintln(out, renderStatusLine("Clients", statusInfo, fmt.Sprintf("%d", status.Clients), colorize))
			if status.Error != "" {
				fmt.Fprintln(out, renderStatusLine("Last error", statusError, status.Error, colorize))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func fetchServeStatus(ctx context.Context, bind string) (serveStatus, bool) {
	var status serveStatus
	if bind == "" {
		return status, false
	}
	reqCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, "http://"+bind+"/api/status", nil)
	if err != nil {
		return status, false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return status, false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return status, false
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return status, false
	}
	return status, true
}

// selectedModel returns the persisted model selection, or the configured
// default when none was ever made.
func selectedModel(cfg *config.Config) (string, error) {
	store, err := settings.Open(cfg)
	if err != nil {
		return "", err
	}
	defer store.Close()
	model, ok, err := store.SelectedModel(context.Background())
	if err != nil {
		return "", err
	}
	if !ok {
		return cfg.Model.Name, nil
	}
	return model, nil
}
