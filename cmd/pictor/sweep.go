package main

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"pictor/internal/config"
	"pictor/pkg/utils"
)

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Remove orphaned derivative files and stale temp uploads once",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), config.AppConfig)
			if err != nil {
				return err
			}
			defer a.close()

			spinner, _ := pterm.DefaultSpinner.Start("Sweeping " + config.AppConfig.Images.UploadDir + "...")
			report, err := a.sweeper.Sweep(cmd.Context())
			if err != nil {
				spinner.Fail(err.Error())
				return err
			}
			spinner.Success("Sweep complete")

			pterm.DefaultTable.WithBoxed().WithData([][]string{
				{"Files removed", fmt.Sprintf("%d", report.Files)},
				{"Directories pruned", fmt.Sprintf("%d", report.Dirs)},
				{"Temp uploads purged", fmt.Sprintf("%d", report.Temps)},
				{"Space reclaimed", utils.FormatBytes(report.Bytes)},
			}).Render()
			return nil
		},
	}
}
