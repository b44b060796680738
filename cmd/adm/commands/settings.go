package commands

import (
	"context"

	"commentaryapp/internal/services"
	contextutils "commentaryapp/internal/utils"

	"github.com/spf13/cobra"
)

// SettingsCommands returns the processing settings commands
func SettingsCommands(settings services.SettingsServiceInterface, slots []string) *cobra.Command {
	settingsCmd := &cobra.Command{
		Use:   "settings",
		Short: "Processing settings commands",
		Long: `Processing settings commands.

Available commands:
  show   - Print the processing settings row
  set    - Change individual settings`,
	}

	settingsCmd.AddCommand(showSettingsCmd(settings))
	settingsCmd.AddCommand(setSettingsCmd(settings, slots))

	return settingsCmd
}

func showSettingsCmd(settings services.SettingsServiceInterface) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the processing settings row",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			current, err := settings.Load(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), current)
		},
	}
}

func setSettingsCmd(settings services.SettingsServiceInterface, slots []string) *cobra.Command {
	var (
		enabled      bool
		batchSize    int
		delayMinutes int
		enableSlots  []string
		disableSlots []string
	)

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Change individual settings",
		Long: `Change individual settings. Only flags that are given are written.

Examples:
  adm settings set --enabled=true --batch-size 20
  adm settings set --enable-slot A --disable-slot C`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			flags := cmd.Flags()
			if flags.NFlag() == 0 {
				return contextutils.WrapError(contextutils.ErrInvalidInput, "no settings given")
			}

			known := make(map[string]bool, len(slots))
			for _, s := range slots {
				known[s] = true
			}
			for _, s := range append(append([]string{}, enableSlots...), disableSlots...) {
				if !known[s] {
					return contextutils.WrapErrorf(contextutils.ErrInvalidInput, "unknown slot %q", s)
				}
			}

			current, err := settings.Load(ctx)
			if err != nil {
				return err
			}
			if flags.Changed("enabled") {
				current.FeatureEnabled = enabled
			}
			if flags.Changed("batch-size") {
				current.BatchSize = batchSize
			}
			if flags.Changed("delay-minutes") {
				current.ProcessingDelayMinutes = delayMinutes
			}
			if current.ProvidersEnabled == nil {
				current.ProvidersEnabled = map[string]bool{}
			}
			for _, s := range enableSlots {
				current.ProvidersEnabled[s] = true
			}
			for _, s := range disableSlots {
				current.ProvidersEnabled[s] = false
			}

			if err := settings.Update(ctx, current); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), current)
		},
	}

	cmd.Flags().BoolVar(&enabled, "enabled", false, "Master switch of the pipeline")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "Maximum questions claimed per invocation")
	cmd.Flags().IntVar(&delayMinutes, "delay-minutes", 0, "Minutes a pending question waits before it is eligible")
	cmd.Flags().StringSliceVar(&enableSlots, "enable-slot", nil, "Slots to switch on")
	cmd.Flags().StringSliceVar(&disableSlots, "disable-slot", nil, "Slots to switch off")

	return cmd
}
