package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/disintegration/imaging"
	"github.com/pterm/pterm"
	"github.com/qeesung/image2ascii/convert"
	"github.com/spf13/cobra"

	"pictor/internal/config"
	"pictor/internal/database"
	"pictor/internal/ingest"
	"pictor/internal/slots"
	"pictor/pkg/transform"
	"pictor/pkg/utils"
)

func deriveCmd() *cobra.Command {
	var (
		metaJSON string
		preview  bool
	)

	cmd := &cobra.Command{
		Use:   "derive <resource-type> <resource-id> <slot> <file>",
		Short: "Derive a local image into a resource slot",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			var entry ingest.Entry
			if metaJSON != "" {
				if err := json.Unmarshal([]byte(metaJSON), &entry.Meta); err != nil {
					return fmt.Errorf("--meta must be a JSON object: %w", err)
				}
			}

			data, err := os.ReadFile(args[3])
			if err != nil {
				return err
			}
			upload := ingest.Upload{Filename: filepath.Base(args[3]), Data: data}
			res := ingest.Resource{Type: args[0], ID: args[1]}

			return derive(cmd.Context(), config.AppConfig, res, args[2], upload, entry, preview)
		},
	}

	cmd.Flags().StringVarP(&metaJSON, "meta", "m", "", `Metadata as JSON, e.g. '{"alt":"Cover"}'`)
	cmd.Flags().BoolVar(&preview, "preview", false, "Print an ASCII preview of the admin thumbnail")
	return cmd
}

func derive(ctx context.Context, cfg *config.Config, res ingest.Resource, slotName string, upload ingest.Upload, entry ingest.Entry, preview bool) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	slot, err := a.registry.Slot(res.Type, slotName)
	if err != nil {
		return err
	}
	minW, minH := a.orch.Resolver().MinimumSourceDimensions(slot, cfg.Images.RetinaFactor)

	spinner, _ := pterm.DefaultSpinner.Start(fmt.Sprintf("Deriving %s into %s.%s (min %dx%d)...", upload.Filename, slot.Resource, slot.Name, minW, minH))

	var rec *database.Derivative
	if slot.Single {
		rec, err = a.facade.ReplaceSingle(ctx, res, slotName, upload, entry)
	} else {
		rec, err = a.facade.Create(ctx, res, slotName, upload, entry)
	}
	if err != nil {
		spinner.Fail(err.Error())
		return err
	}
	spinner.Success(fmt.Sprintf("Record %d stored as %s", rec.ID, rec.OriginalImage))

	m, err := a.orch.RecordManifest(rec, slot)
	if err != nil {
		return err
	}

	tableData := [][]string{{"DERIVATIVE", "FILE", "DIMENSIONS", "SIZE"}}
	addRow := func(name, path string) {
		if path == "" {
			return
		}
		size, dims := "-", "-"
		if data, err := a.files.Read(path); err == nil {
			size = utils.FormatBytes(int64(len(data)))
			if w, h, _, err := transform.Probe(data); err == nil {
				dims = fmt.Sprintf("%dx%d", w, h)
			}
		}
		tableData = append(tableData, []string{name, path, dims, size})
	}

	addRow("source", m.Source)
	addRow("original", m.Original.Path)
	addRow("original (retina)", m.Original.Retina)

	names := make([]string, 0, len(m.Thumbnails))
	for name := range m.Thumbnails {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		addRow(name, m.Thumbnails[name].Path)
		addRow(name+" (retina)", m.Thumbnails[name].Retina)
	}

	pterm.Println()
	pterm.DefaultTable.WithHasHeader().WithBoxed().WithData(tableData).Render()

	if preview {
		path := m.Original.Path
		if v, ok := m.Thumbnails[slots.AdminThumbnail]; ok {
			path = v.Path
		}
		printPreview(path)
	}
	return nil
}

// printPreview renders an image file as ASCII art.
func printPreview(path string) {
	img, err := imaging.Open(path)
	if err != nil {
		pterm.Warning.Printf("Preview unavailable: %v\n", err)
		return
	}

	convertOptions := convert.DefaultOptions
	convertOptions.FixedWidth = 40
	convertOptions.FixedHeight = 20

	converter := convert.NewImageConverter()
	pterm.Println()
	fmt.Print(converter.Image2ASCIIString(img, &convertOptions))
}
