package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"pictor/internal/config"
	"pictor/internal/slots"
	"pictor/internal/storage"
)

func minsizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "minsize [resource-type]",
		Short: "Print the minimum source dimensions each slot accepts",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.AppConfig
			// Declared meta fields are checked against the schema by serve and
			// derive; only geometry matters here.
			registry, err := slots.NewRegistry(cfg.Resources, nil)
			if err != nil {
				return err
			}
			resolver := slots.Resolver{AdminWidth: cfg.Images.AdminThumbWidth, AdminHeight: cfg.Images.AdminThumbHeight}

			resources := registry.Resources()
			if len(args) == 1 {
				res := args[0]
				if found, ok := registry.FindBySlug(res); ok {
					res = found
				}
				resources = []string{res}
			}

			tableData := [][]string{{"RESOURCE", "SLOT", "DERIVATIVES", "MIN SOURCE", fmt.Sprintf("MIN @%dx", cfg.Images.RetinaFactor)}}
			for _, res := range resources {
				slotList := registry.Slots(res)
				if len(slotList) == 0 {
					return fmt.Errorf("resource type %q has no image slots", res)
				}
				for _, slot := range slotList {
					w1, h1 := resolver.MinimumSourceDimensions(slot, 1)
					wr, hr := resolver.MinimumSourceDimensions(slot, cfg.Images.RetinaFactor)
					tableData = append(tableData, []string{
						storage.Slugify(res),
						slotLabel(slot),
						derivativeList(resolver.RequiredDerivatives(slot)),
						fmt.Sprintf("%dx%d", w1, h1),
						fmt.Sprintf("%dx%d", wr, hr),
					})
				}
			}

			pterm.DefaultTable.WithHasHeader().WithBoxed().WithData(tableData).Render()
			return nil
		},
	}
}

func slotLabel(slot *slots.Slot) string {
	if slot.Single {
		return slot.Name + " (single)"
	}
	return slot.Name
}

func derivativeList(thumbs []slots.Thumbnail) string {
	parts := make([]string, 0, len(thumbs))
	for _, t := range thumbs {
		parts = append(parts, fmt.Sprintf("%s %dx%d %s", t.Name, t.Width, t.Height, t.Mode))
	}
	sort.Strings(parts)
	return strings.Join(parts, ", ")
}
