package main

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"pictor/internal/config"
	"pictor/internal/ingest"
	"pictor/internal/slots"
	"pictor/pkg/transform"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Database: config.DatabaseConfig{Path: filepath.Join(dir, "pictor.db"), TempTTL: "24h"},
		Images: config.ImageConfig{
			UploadDir:             filepath.Join(dir, "uploads"),
			RetinaFactor:          2,
			MaxUploadSize:         "5MB",
			AdminThumbWidth:       50,
			AdminThumbHeight:      50,
			Quality:               85,
			Workers:               2,
			ThumbnailWorkers:      2,
			TransformTimeout:      "10s",
			TransformTimeoutPerMB: "2s",
		},
		Cache: config.CacheConfig{Enabled: true, ColumnsTTL: "1h"},
		Resources: map[string]config.ResourceConfig{
			`App\Models\Shop\Product`: {Slots: map[string]config.SlotConfig{
				"photos": {Thumbnails: map[string]config.ThumbnailConfig{
					"card": {Width: 80, Height: 60, Type: "crop"},
				}},
			}},
		},
	}
}

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 40, A: 255})
		}
	}
	var buf bytes.Buffer
	png.Encode(&buf, img)
	return buf.Bytes()
}

func TestDeriveThenSweepKeepsOwnedFiles(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()
	res := ingest.Resource{Type: `App\Models\Shop\Product`, ID: "42"}

	err := derive(ctx, cfg, res, "photos", ingest.Upload{Filename: "shoe.png", Data: testPNG(t, 400, 300)}, ingest.Entry{}, false)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer a.close()

	records, err := a.facade.List(ctx, res, "photos")
	if err != nil || len(records) != 1 {
		t.Fatalf("records = %d, err = %v", len(records), err)
	}

	card, err := a.facade.Locate(ctx, res, records[0].ID, "card", true)
	if err != nil {
		t.Fatal(err)
	}
	data, err := a.files.Read(card)
	if err != nil {
		t.Fatal(err)
	}
	if w, h, _, _ := transform.Probe(data); w != 160 || h != 120 {
		t.Fatalf("retina card = %dx%d, want 160x120", w, h)
	}

	a.sweeper.MinAge = 0
	report, err := a.sweeper.Sweep(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.Files != 0 {
		t.Fatalf("sweep removed %d owned files", report.Files)
	}
}

func TestNewAppRejectsReservedFieldNames(t *testing.T) {
	cfg := testConfig(t)
	cfg.Resources[`App\Models\Shop\Product`].Slots["photos"] = config.SlotConfig{
		Fields: map[string]config.FieldConfig{"created_at": {Type: "text"}},
	}
	if _, err := newApp(context.Background(), cfg); err == nil {
		t.Fatal("field named after a record column accepted")
	}
}

func TestDerivativeList(t *testing.T) {
	got := derivativeList([]slots.Thumbnail{
		{Name: "thumb", Width: 100, Height: 50, Mode: transform.ModeCrop},
		{Name: "admin", Width: 50, Height: 50, Mode: transform.ModeCrop},
	})
	if want := "admin 50x50 crop, thumb 100x50 crop"; got != want {
		t.Fatalf("derivativeList = %q, want %q", got, want)
	}
	if got := slotLabel(&slots.Slot{Name: "cover", Single: true}); got != "cover (single)" {
		t.Fatalf("slotLabel = %q", got)
	}
}

func TestBenchStats(t *testing.T) {
	s := &benchStats{StatusCodes: map[int]int{}}
	for i := 1; i <= 100; i++ {
		code := http.StatusCreated
		if i%10 == 0 {
			code = http.StatusUnprocessableEntity
		}
		s.record(code, time.Duration(i)*time.Millisecond)
	}
	if s.Success != 90 || s.Failed != 10 || s.StatusCodes[http.StatusUnprocessableEntity] != 10 {
		t.Fatalf("stats = %+v", s)
	}
	if p := percentile(s.Latencies, 0.95); p != 96*time.Millisecond {
		t.Fatalf("p95 = %v", p)
	}
	if p := percentile(s.Latencies, 1); p != 100*time.Millisecond {
		t.Fatalf("p100 = %v", p)
	}
	if p := percentile(nil, 0.5); p != 0 {
		t.Fatalf("empty percentile = %v", p)
	}
}
