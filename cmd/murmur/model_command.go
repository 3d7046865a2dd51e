package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newModelCommand(ctx *commandContext) *cobra.Command {
	modelCmd := &cobra.Command{
		Use:   "model",
		Short: "Show or change the selected speech model",
	}
	modelCmd.AddCommand(newModelShowCommand(ctx))
	modelCmd.AddCommand(newModelSwitchCommand(ctx))
	return modelCmd
}

func newModelShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the selected model",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			model, err := selectedModel(cfg)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), model)
			return nil
		},
	}
}

func newModelSwitchCommand(ctx *commandContext) *cobra.Command {
	var verify bool

	cmd := &cobra.Command{
		Use:   "switch MODEL",
		Short: "Persist a new model selection",
		Long: "Persist a new model selection. A running murmur serve picks it up on its next\n" +
			"start; --verify also loads the model once in a throwaway worker.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			model := strings.TrimSpace(args[0])
			out := cmd.OutOrStdout()
			if !verify {
				store, err := ctx.openStore()
				if err != nil {
					return err
				}
				defer store.Close()
				if err := store.SetSelectedModel(cmd.Context(), model); err != nil {
					return err
				}
				fmt.Fprintf(out, "Selected model %s\n", model)
				return nil
			}

			session, err := ctx.openSession(nil)
			if err != nil {
				return err
			}
			defer session.close()
			if err := session.manager.SwitchModel(cmd.Context(), model); err != nil {
				return err
			}
			fmt.Fprintf(out, "Selected model %s (verified)\n", model)
			return nil
		},
	}

	cmd.Flags().BoolVar(&verify, "verify", false, "Start a worker and initialize the selected model")
	return cmd
}
