package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"pictor/internal/apperr"
	"pictor/internal/config"
	"pictor/internal/database"
	"pictor/internal/derivative"
	"pictor/internal/ingest"
	"pictor/internal/metadata"
	"pictor/internal/slots"
	"pictor/internal/storage"
	"pictor/pkg/cache"
	"pictor/pkg/logger"
	"pictor/pkg/transform"
	"pictor/pkg/utils"
)

const testSecret = "s3cret"

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: 90, B: uint8(y), A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	root := t.TempDir()
	log := logger.New(io.Discard, logger.LevelError)

	db, err := database.Open(filepath.Join(t.TempDir(), "pictor.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { database.Close(db) })
	store := database.NewStore(db)

	cols, _ := store.Columns(context.Background())
	reg, err := slots.NewRegistry(map[string]config.ResourceConfig{
		`App\Models\Blog\Post`: {Slots: map[string]config.SlotConfig{
			"cover": {Single: true, Thumbnails: map[string]config.ThumbnailConfig{
				"thumb": {Width: 100, Height: 50, Type: "crop"},
			}},
			"gallery": {Thumbnails: map[string]config.ThumbnailConfig{
				"small": {Width: 60, Height: 40, Type: "resize"},
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
	facade := ingest.New(reg, orch, guard, store, files, ingest.Options{
		RetinaFactor:  2,
		MaxUploadSize: 1 << 20,
		TempDir:       filepath.Join(root, "_temp"),
	}, log)

	srv := httptest.NewServer(New(facade, testSecret, 1<<20, log).Routes())
	t.Cleanup(srv.Close)
	return srv
}

func multipartFile(t *testing.T, name string, data []byte, fields map[string]string) (io.Reader, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		t.Fatal(err)
	}
	fw.Write(data)
	for k, v := range fields {
		mw.WriteField(k, v)
	}
	mw.Close()
	return &body, mw.FormDataContentType()
}

func do(t *testing.T, method, url, contentType string, body io.Reader, secret bool) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		t.Fatal(err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if secret {
		req.Header.Set("X-Secret-Key", testSecret)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatal(err)
	}
}

func TestWritesRequireSecret(t *testing.T) {
	srv := newServer(t)

	body, ct := multipartFile(t, "a.png", pngBytes(t, 10, 10), nil)
	resp := do(t, http.MethodPost, srv.URL+"/uploads", ct, body, false)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}

	var apiErr utils.APIError
	decode(t, resp, &apiErr)
	if apiErr.Code != utils.ErrAuthInvalid {
		t.Fatalf("code = %s", apiErr.Code)
	}
}

func TestUploadApplyServeDelete(t *testing.T) {
	srv := newServer(t)

	body, ct := multipartFile(t, "Holiday Photo.png", pngBytes(t, 300, 200), nil)
	resp := do(t, http.MethodPost, srv.URL+"/uploads", ct, body, true)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload status = %d", resp.StatusCode)
	}
	var tmp struct {
		ID       string `json:"id"`
		Filename string `json:"filename"`
	}
	decode(t, resp, &tmp)
	if tmp.Filename != "Holiday-Photo.png" {
		t.Fatalf("filename = %q", tmp.Filename)
	}

	request := fmt.Sprintf(`{"new.gallery.%s": {"meta": {"alt": "beach"}}}`, tmp.ID)
	resp = do(t, http.MethodPost, srv.URL+"/resources/blog_post/1/images", "application/json", bytes.NewBufferString(request), true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("apply status = %d", resp.StatusCode)
	}
	var applied struct {
		Outcomes []ingest.Outcome `json:"outcomes"`
	}
	decode(t, resp, &applied)
	if len(applied.Outcomes) != 1 || applied.Outcomes[0].State != ingest.StatePersisted {
		t.Fatalf("outcomes = %+v", applied.Outcomes)
	}
	rec := applied.Outcomes[0].Record
	base := fmt.Sprintf("%s/resources/blog_post/1/images/%d", srv.URL, rec.ID)

	resp = do(t, http.MethodGet, base+"/small?retina=1", "", nil, false)
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "image/png" {
		t.Fatalf("serve status = %d, type = %s", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	cfg, err := png.DecodeConfig(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Width != 120 || cfg.Height != 80 {
		t.Fatalf("retina small = %dx%d, want 120x80", cfg.Width, cfg.Height)
	}

	req, _ := http.NewRequest(http.MethodGet, base+"/small?retina=1", nil)
	req.Header.Set("If-None-Match", resp.Header.Get("ETag"))
	cached, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	cached.Body.Close()
	if cached.StatusCode != http.StatusNotModified {
		t.Fatalf("conditional get = %d, want 304", cached.StatusCode)
	}

	resp = do(t, http.MethodGet, srv.URL+"/resources/blog_post/1/images?slot=gallery", "", nil, false)
	var list struct {
		TotalItems int `json:"total_items"`
	}
	decode(t, resp, &list)
	if list.TotalItems != 1 {
		t.Fatalf("total_items = %d", list.TotalItems)
	}

	resp = do(t, http.MethodDelete, base, "", nil, true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	resp = do(t, http.MethodGet, base+"/small", "", nil, false)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("deleted record served with %d", resp.StatusCode)
	}
}

func TestReplaceSingleReportsRejection(t *testing.T) {
	srv := newServer(t)

	body, ct := multipartFile(t, "tiny.png", pngBytes(t, 20, 20), nil)
	resp := do(t, http.MethodPost, srv.URL+"/resources/blog_post/1/single/cover", ct, body, true)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", resp.StatusCode)
	}
	var apiErr utils.APIError
	decode(t, resp, &apiErr)
	if apiErr.Code != apperr.CodeDimensionsTooSmall {
		t.Fatalf("code = %s", apiErr.Code)
	}

	body, ct = multipartFile(t, "cover.png", pngBytes(t, 400, 200), map[string]string{"meta": `{"alt":"c"}`})
	resp = do(t, http.MethodPost, srv.URL+"/resources/blog_post/1/single/cover", ct, body, true)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	var rec database.Derivative
	decode(t, resp, &rec)
	if rec.ImageType != "cover" || rec.Meta["alt"] != "c" {
		t.Fatalf("record = %+v", rec)
	}
}

func TestUnknownResourceType(t *testing.T) {
	srv := newServer(t)
	resp := do(t, http.MethodGet, srv.URL+"/resources/blog_comment/1/images", "", nil, false)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestMalformedKeyedRequest(t *testing.T) {
	srv := newServer(t)
	resp := do(t, http.MethodPost, srv.URL+"/resources/blog_post/1/images", "application/json",
		bytes.NewBufferString(`{"gallery": {}}`), true)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", resp.StatusCode)
	}
}
