package ingest

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"pictor/internal/apperr"
	"pictor/internal/database"
	"pictor/internal/storage"
	"pictor/pkg/utils"
)

// StoreTemp keeps raw upload bytes until an ingestion request claims them
// by id. Size and content type are checked here; dimensions are checked on
// claim because they depend on the slot.
func (f *Facade) StoreTemp(ctx context.Context, upload Upload) (*database.TempUpload, error) {
	if f.opts.MaxUploadSize > 0 && int64(len(upload.Data)) > f.opts.MaxUploadSize {
		return nil, &apperr.ValidationError{
			Code:    apperr.CodeTooLarge,
			Message: fmt.Sprintf("file exceeds the maximum upload size of %s", utils.FormatBytes(f.opts.MaxUploadSize)),
		}
	}
	if _, ok := utils.SniffImage(upload.Data); !ok {
		return nil, apperr.UnsupportedFormat(nil)
	}

	name := storage.SanitizeFilename(upload.Filename)
	id := uuid.NewString()
	tmp := &database.TempUpload{
		ID:        id,
		Filename:  name,
		Path:      filepath.Join(f.opts.TempDir, id+strings.ToLower(filepath.Ext(name))),
		Size:      int64(len(upload.Data)),
		CreatedAt: time.Now(),
	}

	if err := f.files.Write(tmp.Path, upload.Data); err != nil {
		return nil, err
	}
	if err := f.store.CreateTemp(ctx, tmp); err != nil {
		f.files.Remove(tmp.Path)
		return nil, err
	}
	return tmp, nil
}

func (f *Facade) loadTemp(ctx context.Context, id string) (*database.TempUpload, Upload, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, Upload{}, apperr.Validation("invalid temp upload id %q", id)
	}
	tmp, err := f.store.GetTemp(ctx, id)
	if err != nil {
		return nil, Upload{}, err
	}
	data, err := f.files.Read(tmp.Path)
	if err != nil {
		return nil, Upload{}, err
	}
	return tmp, Upload{Filename: tmp.Filename, Data: data}, nil
}

// createFromTemp derives a temp upload and consumes it once the record is
// persisted. A rejected upload keeps its temp entry until the sweep.
func (f *Facade) createFromTemp(ctx context.Context, res Resource, slot, tempID string, entry Entry, forceSingle bool) (*database.Derivative, error) {
	tmp, upload, err := f.loadTemp(ctx, tempID)
	if err != nil {
		return nil, err
	}

	rec, err := f.create(ctx, res, slot, upload, entry, forceSingle)
	if err != nil {
		return nil, err
	}

	f.consumeTemp(ctx, tmp)
	return rec, nil
}

func (f *Facade) discardTemp(ctx context.Context, id string) error {
	tmp, err := f.store.GetTemp(ctx, id)
	if err != nil {
		return err
	}
	f.consumeTemp(ctx, tmp)
	return nil
}

func (f *Facade) consumeTemp(ctx context.Context, tmp *database.TempUpload) {
	if err := f.files.Remove(tmp.Path); err != nil {
		f.log.Warn("Failed to remove temp file %s: %v", tmp.Path, err)
	}
	if err := f.store.DeleteTemp(ctx, tmp.ID); err != nil {
		f.log.Warn("Failed to delete temp upload %s: %v", tmp.ID, err)
	}
}
