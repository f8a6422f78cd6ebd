package derivative

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"pictor/internal/apperr"
	"pictor/internal/database"
	"pictor/internal/slots"
	"pictor/internal/storage"
	"pictor/pkg/logger"
	"pictor/pkg/transform"
)

const resourceType = `App\Models\Blog\Post`

func fixturePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: uint8(x ^ y), A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func newOrchestrator(t *testing.T) (*Orchestrator, string) {
	t.Helper()
	root := t.TempDir()
	files, err := storage.NewFileStore(root)
	if err != nil {
		t.Fatal(err)
	}
	o := New(storage.Namer{Root: root}, files, transform.New(85),
		slots.Resolver{AdminWidth: 150, AdminHeight: 150},
		Options{Workers: 2, ThumbnailWorkers: 2, TimeoutBase: time.Minute},
		logger.New(io.Discard, logger.LevelError))
	t.Cleanup(o.Close)
	return o, root
}

func thumbSlot() *slots.Slot {
	return &slots.Slot{
		Resource:   resourceType,
		Name:       "cover",
		AdminThumb: true,
		Thumbnails: []slots.Thumbnail{
			{Name: "thumb", Width: 100, Height: 50, Mode: transform.ModeCrop},
		},
	}
}

func listFiles(t *testing.T, root string) []string {
	t.Helper()
	var out []string
	filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			rel, _ := filepath.Rel(root, path)
			out = append(out, filepath.ToSlash(rel))
		}
		return nil
	})
	sort.Strings(out)
	return out
}

func sizeOf(t *testing.T, path string) (int, int) {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	w, h, _, err := transform.Probe(data)
	if err != nil {
		t.Fatal(err)
	}
	return w, h
}

func TestProduceWithRetina(t *testing.T) {
	o, root := newOrchestrator(t)
	src := fixturePNG(t, 800, 600)

	m, err := o.Produce(context.Background(), Request{
		ResourceType: resourceType, ResourceID: "1", Slot: thumbSlot(),
		Name: "cat.png", Source: src, RetinaFactor: 2,
	})
	if err != nil {
		t.Fatalf("Produce: %v", err)
	}

	want := []string{
		"blog_post/1/original/cat.png",
		"blog_post/1/original/cat@2x.png",
		"blog_post/1/original/source_cat.png",
		"blog_post/1/thumb/cat.png",
		"blog_post/1/thumb/cat@2x.png",
	}
	got := listFiles(t, filepath.Join(root, "blog_post", "1"))
	for i := range got {
		got[i] = "blog_post/1/" + got[i]
	}
	// cover has no admin thumbnail declared, so it is added.
	want = append(want, "blog_post/1/admin/cat.png", "blog_post/1/admin/cat@2x.png")
	sort.Strings(want)
	if len(got) != len(want) {
		t.Fatalf("files = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("files = %v, want %v", got, want)
		}
	}

	checks := []struct {
		path string
		w, h int
	}{
		{m.Original.Path, 400, 300},
		{m.Original.Retina, 800, 600},
		{m.Thumbnails["thumb"].Path, 100, 50},
		{m.Thumbnails["thumb"].Retina, 200, 100},
		{m.Thumbnails["admin"].Path, 150, 150},
		{m.Thumbnails["admin"].Retina, 300, 300},
	}
	for _, c := range checks {
		if w, h := sizeOf(t, c.path); w != c.w || h != c.h {
			t.Errorf("%s is %dx%d, want %dx%d", c.path, w, h, c.w, c.h)
		}
	}

	retina, _ := os.ReadFile(m.Original.Retina)
	if !bytes.Equal(retina, src) {
		t.Errorf("retina original is not a verbatim copy of the source")
	}
	if m.SourceName != "source_cat.png" || m.Bytes == 0 {
		t.Errorf("manifest = %+v", m)
	}
}

func TestProduceWithoutRetina(t *testing.T) {
	o, root := newOrchestrator(t)
	slot := thumbSlot()
	slot.AdminThumb = false

	m, err := o.Produce(context.Background(), Request{
		ResourceType: resourceType, ResourceID: "1", Slot: slot,
		Name: "cat.png", Source: fixturePNG(t, 800, 600),
	})
	if err != nil {
		t.Fatalf("Produce: %v", err)
	}

	got := listFiles(t, root)
	want := []string{
		"blog_post/1/original/cat.png",
		"blog_post/1/original/source_cat.png",
		"blog_post/1/thumb/cat.png",
	}
	if len(got) != len(want) {
		t.Fatalf("files = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("files = %v, want %v", got, want)
		}
	}
	if m.Original.Retina != "" || m.Thumbnails["thumb"].Retina != "" {
		t.Errorf("retina paths present without retina: %+v", m)
	}
	if w, h := sizeOf(t, m.Thumbnails["thumb"].Path); w != 100 || h != 50 {
		t.Errorf("thumb is %dx%d", w, h)
	}
}

func TestProduceIsIdempotent(t *testing.T) {
	o, _ := newOrchestrator(t)
	req := Request{
		ResourceType: resourceType, ResourceID: "1", Slot: thumbSlot(),
		Name: "cat.png", Source: fixturePNG(t, 400, 300), RetinaFactor: 2,
	}

	first, err := o.Produce(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	snapshot := map[string][]byte{}
	for _, p := range first.Files() {
		snapshot[p], _ = os.ReadFile(p)
	}

	second, err := o.Produce(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range second.Files() {
		data, _ := os.ReadFile(p)
		if !bytes.Equal(data, snapshot[p]) {
			t.Errorf("%s changed between identical runs", p)
		}
	}
}

func TestProduceRejectsBeforeWriting(t *testing.T) {
	o, root := newOrchestrator(t)

	_, err := o.Produce(context.Background(), Request{
		ResourceType: resourceType, ResourceID: "1", Slot: thumbSlot(),
		Name: "junk.png", Source: []byte("not an image"), RetinaFactor: 2,
	})
	if apperr.Code(err) != apperr.CodeUnsupportedFormat {
		t.Fatalf("expected unsupported format, got %v", err)
	}

	bad := &slots.Slot{Name: "cover", Thumbnails: []slots.Thumbnail{{Name: "t", Width: 0, Height: 10, Mode: transform.ModeCrop}}}
	_, err = o.Produce(context.Background(), Request{
		ResourceType: resourceType, ResourceID: "1", Slot: bad,
		Name: "a.png", Source: fixturePNG(t, 20, 20),
	})
	if apperr.Code(err) != apperr.CodeInvalidDimensions {
		t.Fatalf("expected invalid dimensions, got %v", err)
	}

	if files := listFiles(t, root); len(files) != 0 {
		t.Fatalf("files written on rejection: %v", files)
	}
}

func TestProduceDecodeHonoursDeadline(t *testing.T) {
	o, root := newOrchestrator(t)
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	_, err := o.Produce(ctx, Request{
		ResourceType: resourceType, ResourceID: "1", Slot: thumbSlot(),
		Name: "a.png", Source: fixturePNG(t, 400, 200), RetinaFactor: 2,
	})
	var timeout *apperr.TransformTimeoutError
	if !errors.As(err, &timeout) || timeout.Derivative != storage.OriginalDerivative {
		t.Fatalf("expected decode timeout, got %v", err)
	}
	if files := listFiles(t, root); len(files) != 0 {
		t.Fatalf("files written after timeout: %v", files)
	}
}

func TestProduceStorageFailureAfterSource(t *testing.T) {
	o, root := newOrchestrator(t)

	// A plain file where the thumbnail directory belongs.
	dir, err := storage.Namer{Root: root}.Dir(resourceType, "1", "thumb")
	if err != nil {
		t.Fatal(err)
	}
	blocker := filepath.Clean(dir)
	if err := os.MkdirAll(filepath.Dir(blocker), 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(blocker, []byte("x"), 0o640); err != nil {
		t.Fatal(err)
	}

	_, err = o.Produce(context.Background(), Request{
		ResourceType: resourceType, ResourceID: "1", Slot: thumbSlot(),
		Name: "a.png", Source: fixturePNG(t, 400, 200), RetinaFactor: 2,
	})
	var storageErr *apperr.StorageError
	if !errors.As(err, &storageErr) {
		t.Fatalf("expected StorageError, got %v", err)
	}
	if apperr.IsRejection(err) {
		t.Fatalf("storage failure reported as rejection: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "blog_post", "1", "original", "source_a.png")); err != nil {
		t.Fatalf("source should have been written before the failure: %v", err)
	}
}

func TestRemoveDeletesEveryManifestFile(t *testing.T) {
	o, root := newOrchestrator(t)
	slot := thumbSlot()

	keep, err := o.Produce(context.Background(), Request{
		ResourceType: resourceType, ResourceID: "1", Slot: slot,
		Name: "dog.png", Source: fixturePNG(t, 400, 200), RetinaFactor: 2,
	})
	if err != nil {
		t.Fatal(err)
	}
	drop, err := o.Produce(context.Background(), Request{
		ResourceType: resourceType, ResourceID: "1", Slot: slot,
		Name: "cat.png", Source: fixturePNG(t, 400, 200), RetinaFactor: 2,
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := o.Remove(drop); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	for _, p := range drop.Files() {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("residual file %s", p)
		}
	}
	for _, p := range keep.Files() {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("sibling record file removed: %s", p)
		}
	}

	o.Remove(keep)
	if _, err := os.Stat(filepath.Join(root, "blog_post")); !os.IsNotExist(err) {
		t.Errorf("empty directories left after removing every record")
	}
}

func TestLocate(t *testing.T) {
	o, root := newOrchestrator(t)
	two := 2
	rec := &database.Derivative{
		ResourceType: resourceType, ResourceID: "5", ImageType: "cover",
		OriginalImage: "source_cat.webp", RetinaFactor: &two,
	}
	slot := thumbSlot()

	tests := []struct {
		derivative string
		retina     bool
		want       string
	}{
		{"thumb", false, "blog_post/5/thumb/cat.png"},
		{"thumb", true, "blog_post/5/thumb/cat@2x.png"},
		{"admin", false, "blog_post/5/admin/cat.png"},
		{"original", true, "blog_post/5/original/cat@2x.png"},
		{"unknown", false, "blog_post/5/original/cat.png"},
	}
	for _, tt := range tests {
		got, err := o.Locate(rec, slot, tt.derivative, tt.retina)
		if err != nil {
			t.Fatal(err)
		}
		want := filepath.Join(root, filepath.FromSlash(tt.want))
		if got != want {
			t.Errorf("Locate(%s, %v) = %s, want %s", tt.derivative, tt.retina, got, want)
		}
	}

	rec.RetinaFactor = nil
	got, _ := o.Locate(rec, slot, "thumb", true)
	if got != filepath.Join(root, "blog_post", "5", "thumb", "cat.png") {
		t.Errorf("retina requested without retina factor: %s", got)
	}
}
