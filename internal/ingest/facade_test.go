package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"pictor/internal/apperr"
	"pictor/internal/config"
	"pictor/internal/database"
	"pictor/internal/derivative"
	"pictor/internal/metadata"
	"pictor/internal/slots"
	"pictor/internal/storage"
	"pictor/pkg/cache"
	"pictor/pkg/logger"
	"pictor/pkg/transform"
)

const postType = `App\Models\Blog\Post`

type env struct {
	facade *Facade
	store  *database.GormStore
	root   string
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// rotatedJPEG encodes a w x h JPEG tagged with EXIF orientation 6, so it
// displays as h x w.
func rotatedJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h)), nil); err != nil {
		t.Fatal(err)
	}
	seg := append([]byte("Exif\x00\x00"),
		'I', 'I', 0x2a, 0x00, 0x08, 0x00, 0x00, 0x00,
		0x01, 0x00,
		0x12, 0x01, 0x03, 0x00, 0x01, 0x00, 0x00, 0x00, 0x06, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00)
	out := append([]byte{0xff, 0xd8, 0xff, 0xe1, 0x00, byte(len(seg) + 2)}, seg...)
	return append(out, buf.Bytes()[2:]...)
}

func newEnv(t *testing.T, retina int) *env {
	t.Helper()
	root := t.TempDir()
	log := logger.New(io.Discard, logger.LevelError)

	db, err := database.Open(filepath.Join(t.TempDir(), "pictor.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { database.Close(db) })
	store := database.NewStore(db)

	cols, err := store.Columns(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	reg, err := slots.NewRegistry(map[string]config.ResourceConfig{
		postType: {Slots: map[string]config.SlotConfig{
			"cover": {Single: true, Thumbnails: map[string]config.ThumbnailConfig{
				"thumb": {Width: 100, Height: 50, Type: "crop"},
			}},
			"gallery": {Thumbnails: map[string]config.ThumbnailConfig{
				"small": {Width: 60, Height: 40, Type: "fit"},
			}},
		}},
	}, cols)
	if err != nil {
		t.Fatal(err)
	}

	files, _ := storage.NewFileStore(root)
	orch := derivative.New(storage.Namer{Root: root}, files, transform.New(85),
		slots.Resolver{AdminWidth: 50, AdminHeight: 50},
		derivative.Options{Workers: 2, ThumbnailWorkers: 2, TimeoutBase: time.Minute}, log)
	t.Cleanup(orch.Close)

	guard := metadata.NewGuard(store, cache.New[[]string](cache.Options{TTL: time.Hour, Enabled: true}), log)
	f := New(reg, orch, guard, store, files, Options{
		RetinaFactor:  retina,
		MaxUploadSize: 1 << 20,
		TempDir:       filepath.Join(root, "_temp"),
	}, log)
	return &env{facade: f, store: store, root: root}
}

func resourceFiles(t *testing.T, dir string) []string {
	t.Helper()
	var out []string
	filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			out = append(out, path)
		}
		return nil
	})
	return out
}

var post = Resource{Type: postType, ID: "1"}

func TestCreatePersistsRecordAndFiles(t *testing.T) {
	e := newEnv(t, 2)
	ctx := context.Background()

	rec, err := e.facade.Create(ctx, post, "gallery", Upload{Filename: "My Cat.PNG", Data: pngBytes(t, 800, 600)},
		Entry{Meta: map[string]interface{}{"alt": "cat"}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if rec.OriginalImage != "source_My-Cat.png" {
		t.Errorf("original_image = %q", rec.OriginalImage)
	}
	if rec.RetinaFactor == nil || *rec.RetinaFactor != 2 {
		t.Errorf("retina_factor = %v", rec.RetinaFactor)
	}
	if rec.Meta["alt"] != "cat" {
		t.Errorf("meta = %v", rec.Meta)
	}

	for _, d := range []string{"small", "admin", "original"} {
		path, err := e.facade.Locate(ctx, post, rec.ID, d, true)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := os.Stat(path); err != nil {
			t.Errorf("derivative %s missing at %s", d, path)
		}
	}
}

func TestCreateRejectsBeforeWriting(t *testing.T) {
	e := newEnv(t, 2)
	ctx := context.Background()

	tests := []struct {
		name   string
		slot   string
		upload Upload
		meta   map[string]interface{}
		code   string
	}{
		{"too small for retina thumb", "cover", Upload{"a.png", pngBytes(t, 150, 80)}, nil, apperr.CodeDimensionsTooSmall},
		{"not an image", "gallery", Upload{"a.png", []byte("hello world")}, nil, apperr.CodeUnsupportedFormat},
		{"too large", "gallery", Upload{"a.png", append(pngBytes(t, 10, 10), make([]byte, 2<<20)...)}, nil, apperr.CodeTooLarge},
		{"reserved meta key", "gallery", Upload{"a.png", pngBytes(t, 200, 200)}, map[string]interface{}{"alt": "x", "id": "y"}, apperr.CodeMetadataCollision},
		{"unknown slot", "banner", Upload{"a.png", pngBytes(t, 200, 200)}, nil, apperr.CodeConfiguration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.facade.Create(ctx, post, tt.slot, tt.upload, Entry{Meta: tt.meta})
			if got := apperr.Code(err); got != tt.code {
				t.Fatalf("code = %s (%v), want %s", got, err, tt.code)
			}
			if !apperr.IsRejection(err) {
				t.Fatalf("%v is not a rejection", err)
			}
		})
	}

	if files := resourceFiles(t, e.root); len(files) != 0 {
		t.Fatalf("rejected uploads wrote files: %v", files)
	}
	if n, _ := e.store.CountDerivatives(ctx); n != 0 {
		t.Fatalf("rejected uploads created %d records", n)
	}
}

func TestCreateChecksOrientedDimensions(t *testing.T) {
	e := newEnv(t, 2)
	ctx := context.Background()

	// Stored 200x100, displayed 100x200: too narrow for the 200x100 retina thumb.
	_, err := e.facade.Create(ctx, post, "cover", Upload{"turned.jpg", rotatedJPEG(t, 200, 100)}, Entry{})
	if apperr.Code(err) != apperr.CodeDimensionsTooSmall {
		t.Fatalf("code = %s (%v), want %s", apperr.Code(err), err, apperr.CodeDimensionsTooSmall)
	}
	if files := resourceFiles(t, e.root); len(files) != 0 {
		t.Fatalf("rejected upload wrote files: %v", files)
	}

	rec, err := e.facade.Create(ctx, post, "cover", Upload{"turned.jpg", rotatedJPEG(t, 100, 200)}, Entry{})
	if err != nil {
		t.Fatalf("upload displayed as 200x100 rejected: %v", err)
	}
	path, err := e.facade.Locate(ctx, post, rec.ID, storage.OriginalDerivative, false)
	if err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg, err := jpeg.DecodeConfig(bytes.NewReader(data)); err != nil || cfg.Width != 100 || cfg.Height != 50 {
		t.Fatalf("original = %+v (%v), want 100x50", cfg, err)
	}
}

func TestFailureAfterWritingPersistsNoRecord(t *testing.T) {
	e := newEnv(t, 2)
	ctx := context.Background()

	dir, err := storage.Namer{Root: e.root}.Dir(postType, post.ID, "small")
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

	_, err = e.facade.Create(ctx, post, "gallery", Upload{"cat.png", pngBytes(t, 300, 200)}, Entry{})
	var storageErr *apperr.StorageError
	if !errors.As(err, &storageErr) || apperr.IsRejection(err) {
		t.Fatalf("expected StorageError, got %v", err)
	}

	tmp, err := e.facade.StoreTemp(ctx, Upload{"dog.png", pngBytes(t, 300, 200)})
	if err != nil {
		t.Fatal(err)
	}
	targets, err := ParseRequest(map[string]json.RawMessage{"new.gallery." + tmp.ID: json.RawMessage(`{}`)})
	if err != nil {
		t.Fatal(err)
	}
	outcomes, err := e.facade.Apply(ctx, post, targets)
	if err != nil {
		t.Fatal(err)
	}
	if len(outcomes) != 1 || outcomes[0].State != StateFailed || outcomes[0].Record != nil {
		t.Fatalf("outcomes = %+v, want one failed", outcomes)
	}

	if n, _ := e.store.CountDerivatives(ctx); n != 0 {
		t.Fatalf("failed uploads created %d records", n)
	}
	if _, err := e.store.GetTemp(ctx, tmp.ID); err != nil {
		t.Fatalf("failed upload lost its temp entry: %v", err)
	}
}

func TestCreateReportsCollidingKeys(t *testing.T) {
	e := newEnv(t, 0)
	_, err := e.facade.Create(context.Background(), post, "gallery", Upload{"a.png", pngBytes(t, 100, 100)},
		Entry{Meta: map[string]interface{}{"alt": "x", "id": "y"}})

	var collision *apperr.MetadataCollisionError
	if !errors.As(err, &collision) || !reflect.DeepEqual(collision.Keys, []string{"id"}) {
		t.Fatalf("expected collision on [id], got %v", err)
	}
}

func TestSingleSlotKeepsOneImage(t *testing.T) {
	e := newEnv(t, 2)
	ctx := context.Background()

	first, err := e.facade.ReplaceSingle(ctx, post, "cover", Upload{"first.png", pngBytes(t, 400, 200)}, Entry{})
	if err != nil {
		t.Fatal(err)
	}
	firstThumb, _ := e.facade.Locate(ctx, post, first.ID, "thumb", false)

	// A rejected replacement leaves the current image alone.
	if _, err := e.facade.ReplaceSingle(ctx, post, "cover", Upload{"tiny.png", pngBytes(t, 10, 10)}, Entry{}); err == nil {
		t.Fatal("undersized replacement accepted")
	}
	if _, err := os.Stat(firstThumb); err != nil {
		t.Fatalf("rejected replacement removed the current image")
	}

	second, err := e.facade.ReplaceSingle(ctx, post, "cover", Upload{"second.png", pngBytes(t, 400, 200)}, Entry{})
	if err != nil {
		t.Fatal(err)
	}

	records, _ := e.facade.List(ctx, post, "cover")
	if len(records) != 1 || records[0].ID != second.ID {
		t.Fatalf("cover holds %d records: %+v", len(records), records)
	}
	if _, err := os.Stat(firstThumb); !os.IsNotExist(err) {
		t.Fatalf("previous cover files kept")
	}

	if _, err := e.facade.ReplaceSingle(ctx, post, "gallery", Upload{"g.png", pngBytes(t, 400, 200)}, Entry{}); apperr.Code(err) != apperr.CodeConfiguration {
		t.Fatalf("multi slot accepted as single: %v", err)
	}

	if err := e.facade.ClearSingle(ctx, post, "cover"); err != nil {
		t.Fatal(err)
	}
	if records, _ := e.facade.List(ctx, post, "cover"); len(records) != 0 {
		t.Fatalf("ClearSingle left %d records", len(records))
	}
}

func TestDeleteRemovesEveryFile(t *testing.T) {
	e := newEnv(t, 2)
	ctx := context.Background()

	rec, err := e.facade.Create(ctx, post, "gallery", Upload{"a.png", pngBytes(t, 300, 200)}, Entry{})
	if err != nil {
		t.Fatal(err)
	}
	resourceDir := filepath.Join(e.root, "blog_post", "1")
	if files := resourceFiles(t, resourceDir); len(files) != 7 {
		t.Fatalf("expected 7 files (source, original pair, small pair, admin pair), got %v", files)
	}

	if err := e.facade.Delete(ctx, post, "gallery", rec.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if files := resourceFiles(t, resourceDir); len(files) != 0 {
		t.Fatalf("residual files: %v", files)
	}
	if _, err := e.store.GetDerivative(ctx, rec.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("record survived delete: %v", err)
	}

	if err := e.facade.Delete(ctx, Resource{Type: postType, ID: "2"}, "", rec.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("delete through another resource: %v", err)
	}
}

func TestUpdateTouchesOnlyOrderAndMeta(t *testing.T) {
	e := newEnv(t, 0)
	ctx := context.Background()

	rec, err := e.facade.Create(ctx, post, "gallery", Upload{"a.png", pngBytes(t, 300, 200)}, Entry{})
	if err != nil {
		t.Fatal(err)
	}
	before := resourceFiles(t, e.root)

	order := 5
	updated, err := e.facade.Update(ctx, post, "gallery", rec.ID, Entry{Order: &order, Meta: map[string]interface{}{"caption": "hi"}})
	if err != nil {
		t.Fatal(err)
	}
	if updated.SortOrder != 5 || updated.Meta["caption"] != "hi" || updated.OriginalImage != rec.OriginalImage {
		t.Fatalf("updated = %+v", updated)
	}
	if after := resourceFiles(t, e.root); !reflect.DeepEqual(before, after) {
		t.Fatalf("update touched files: %v -> %v", before, after)
	}

	if _, err := e.facade.Update(ctx, post, "gallery", rec.ID, Entry{Meta: map[string]interface{}{"created_at": 1}}); apperr.Code(err) != apperr.CodeMetadataCollision {
		t.Fatalf("reserved meta accepted on update: %v", err)
	}
	if _, err := e.facade.Update(ctx, post, "cover", rec.ID, Entry{}); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("update through wrong slot: %v", err)
	}
}

func TestApplyKeyedRequest(t *testing.T) {
	e := newEnv(t, 2)
	ctx := context.Background()

	existing, err := e.facade.Create(ctx, post, "gallery", Upload{"old.png", pngBytes(t, 300, 200)}, Entry{})
	if err != nil {
		t.Fatal(err)
	}
	keep, err := e.facade.Create(ctx, post, "gallery", Upload{"keep.png", pngBytes(t, 300, 200)}, Entry{})
	if err != nil {
		t.Fatal(err)
	}

	newTemp, err := e.facade.StoreTemp(ctx, Upload{"new.png", pngBytes(t, 300, 200)})
	if err != nil {
		t.Fatal(err)
	}
	coverTemp, _ := e.facade.StoreTemp(ctx, Upload{"cover.png", pngBytes(t, 400, 200)})
	droppedTemp, _ := e.facade.StoreTemp(ctx, Upload{"dropped.png", pngBytes(t, 300, 200)})

	body := map[string]interface{}{
		"gallery." + itoa(existing.ID):  map[string]interface{}{"delete": true},
		"gallery." + itoa(keep.ID):      map[string]interface{}{"order": 9, "meta": map[string]interface{}{"alt": "k"}},
		"new.gallery." + newTemp.ID:     map[string]interface{}{"meta": map[string]interface{}{"alt": "n"}},
		"new.gallery." + droppedTemp.ID: map[string]interface{}{"delete": true},
		"new.banner." + newTemp.ID:      map[string]interface{}{},
		"_single.cover":                 coverTemp.ID,
	}
	raw, _ := json.Marshal(body)
	var keyed map[string]json.RawMessage
	json.Unmarshal(raw, &keyed)

	targets, err := ParseRequest(keyed)
	if err != nil {
		t.Fatal(err)
	}
	outcomes, err := e.facade.Apply(ctx, post, targets)
	if err != nil {
		t.Fatal(err)
	}

	states := map[string]State{}
	for _, o := range outcomes {
		states[o.Key] = o.State
	}
	want := map[string]State{
		"gallery." + itoa(existing.ID):  StateDeleted,
		"gallery." + itoa(keep.ID):      StatePersisted,
		"new.gallery." + newTemp.ID:     StatePersisted,
		"new.gallery." + droppedTemp.ID: StateDeleted,
		"new.banner." + newTemp.ID:      StateRejected,
		"_single.cover":                 StatePersisted,
	}
	if !reflect.DeepEqual(states, want) {
		t.Fatalf("states = %v, want %v", states, want)
	}

	gallery, _ := e.facade.List(ctx, post, "gallery")
	if len(gallery) != 2 {
		t.Fatalf("gallery has %d records, want 2", len(gallery))
	}
	for _, id := range []string{newTemp.ID, droppedTemp.ID, coverTemp.ID} {
		if _, err := e.store.GetTemp(ctx, id); !errors.Is(err, apperr.ErrNotFound) {
			t.Errorf("temp upload %s not consumed", id)
		}
	}
}

func TestStoreTempValidates(t *testing.T) {
	e := newEnv(t, 0)
	if _, err := e.facade.StoreTemp(context.Background(), Upload{"x.txt", []byte("plain text")}); apperr.Code(err) != apperr.CodeUnsupportedFormat {
		t.Fatalf("text accepted as temp upload: %v", err)
	}
	tmp, err := e.facade.StoreTemp(context.Background(), Upload{"../../x.PNG", pngBytes(t, 5, 5)})
	if err != nil {
		t.Fatal(err)
	}
	if tmp.Filename != "x.png" || filepath.Dir(tmp.Path) != filepath.Join(e.root, "_temp") {
		t.Fatalf("temp = %+v", tmp)
	}
}

func TestResourceIDMustBeSafe(t *testing.T) {
	e := newEnv(t, 0)
	_, err := e.facade.Create(context.Background(), Resource{Type: postType, ID: "../2"}, "gallery",
		Upload{"a.png", pngBytes(t, 100, 100)}, Entry{})
	if apperr.Code(err) != apperr.CodeValidation {
		t.Fatalf("unsafe id accepted: %v", err)
	}
}

func itoa(id uint) string {
	b, _ := json.Marshal(id)
	return string(b)
}
