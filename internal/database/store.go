package database

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"pictor/internal/apperr"
)

// Store is the record store used by the pipeline. Every operation takes a
// context and missing rows are reported as apperr.ErrNotFound.
type Store interface {
	CreateDerivative(ctx context.Context, d *Derivative) error
	GetDerivative(ctx context.Context, id uint) (*Derivative, error)
	ListDerivatives(ctx context.Context, resourceType, resourceID, slot string) ([]Derivative, error)
	AllDerivatives(ctx context.Context) ([]Derivative, error)
	UpdateDerivative(ctx context.Context, id uint, changes DerivativeChanges) (*Derivative, error)
	DeleteDerivative(ctx context.Context, id uint) error
	CountDerivatives(ctx context.Context) (int64, error)

	// Columns lists the column names of the derivatives table.
	Columns(ctx context.Context) ([]string, error)

	CreateTemp(ctx context.Context, t *TempUpload) error
	GetTemp(ctx context.Context, id string) (*TempUpload, error)
	DeleteTemp(ctx context.Context, id string) error
	StaleTemps(ctx context.Context, before time.Time) ([]TempUpload, error)
	AllTemps(ctx context.Context) ([]TempUpload, error)
}

// DerivativeChanges carries the only mutable fields of a record. Nil fields
// are left untouched.
type DerivativeChanges struct {
	Order *int
	Meta  map[string]interface{}
}

// GormStore implements Store on top of gorm.
type GormStore struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// DB returns the underlying gorm handle.
func (s *GormStore) DB() *gorm.DB {
	return s.db
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.ErrNotFound
	}
	return &apperr.StorageError{Op: "query", Err: err}
}

// Derivative operations

func (s *GormStore) CreateDerivative(ctx context.Context, d *Derivative) error {
	if err := s.db.WithContext(ctx).Create(d).Error; err != nil {
		return &apperr.StorageError{Op: "insert", Err: err}
	}
	return nil
}

func (s *GormStore) GetDerivative(ctx context.Context, id uint) (*Derivative, error) {
	var d Derivative
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&d).Error; err != nil {
		return nil, notFound(err)
	}
	return &d, nil
}

// ListDerivatives returns the records of one resource ordered for display.
// An empty slot lists every slot.
func (s *GormStore) ListDerivatives(ctx context.Context, resourceType, resourceID, slot string) ([]Derivative, error) {
	var out []Derivative
	q := s.db.WithContext(ctx).Where("resource_type = ? AND resource_id = ?", resourceType, resourceID)
	if slot != "" {
		q = q.Where("image_type = ?", slot)
	}
	if err := q.Order("sort_order ASC, id ASC").Find(&out).Error; err != nil {
		return nil, &apperr.StorageError{Op: "query", Err: err}
	}
	return out, nil
}

func (s *GormStore) AllDerivatives(ctx context.Context) ([]Derivative, error) {
	var out []Derivative
	if err := s.db.WithContext(ctx).
		Select("id, resource_type, resource_id, image_type, original_image, retina_factor").
		Find(&out).Error; err != nil {
		return nil, &apperr.StorageError{Op: "query", Err: err}
	}
	return out, nil
}

// UpdateDerivative touches order and meta only; original_image cannot be
// changed through the store.
func (s *GormStore) UpdateDerivative(ctx context.Context, id uint, changes DerivativeChanges) (*Derivative, error) {
	d, err := s.GetDerivative(ctx, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if changes.Order != nil {
		updates["sort_order"] = *changes.Order
	}
	if changes.Meta != nil {
		updates["meta"] = datatypes.JSONMap(changes.Meta)
	}
	if len(updates) == 0 {
		return d, nil
	}

	if err := s.db.WithContext(ctx).Model(d).Updates(updates).Error; err != nil {
		return nil, &apperr.StorageError{Op: "update", Err: err}
	}
	return s.GetDerivative(ctx, id)
}

func (s *GormStore) DeleteDerivative(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Delete(&Derivative{}, id)
	if res.Error != nil {
		return &apperr.StorageError{Op: "delete", Err: res.Error}
	}
	if res.RowsAffected == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

func (s *GormStore) CountDerivatives(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&Derivative{}).Count(&count).Error; err != nil {
		return 0, &apperr.StorageError{Op: "count", Err: err}
	}
	return count, nil
}

func (s *GormStore) Columns(ctx context.Context) ([]string, error) {
	types, err := s.db.WithContext(ctx).Migrator().ColumnTypes(&Derivative{})
	if err != nil {
		return nil, &apperr.StorageError{Op: "schema", Err: err}
	}
	cols := make([]string, 0, len(types))
	for _, ct := range types {
		cols = append(cols, ct.Name())
	}
	return cols, nil
}

// Temp upload operations

func (s *GormStore) CreateTemp(ctx context.Context, t *TempUpload) error {
	// Timestamps are compared as text by SQLite; keep them all in UTC.
	t.CreatedAt = t.CreatedAt.UTC()
	if err := s.db.WithContext(ctx).Create(t).Error; err != nil {
		return &apperr.StorageError{Op: "insert", Err: err}
	}
	return nil
}

func (s *GormStore) GetTemp(ctx context.Context, id string) (*TempUpload, error) {
	var t TempUpload
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&t).Error; err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

func (s *GormStore) DeleteTemp(ctx context.Context, id string) error {
	if err := s.db.WithContext(ctx).Where("id = ?", id).Delete(&TempUpload{}).Error; err != nil {
		return &apperr.StorageError{Op: "delete", Err: err}
	}
	return nil
}

func (s *GormStore) StaleTemps(ctx context.Context, before time.Time) ([]TempUpload, error) {
	var out []TempUpload
	if err := s.db.WithContext(ctx).Where("created_at < ?", before.UTC()).Limit(500).Find(&out).Error; err != nil {
		return nil, &apperr.StorageError{Op: "query", Err: err}
	}
	return out, nil
}

func (s *GormStore) AllTemps(ctx context.Context) ([]TempUpload, error) {
	var out []TempUpload
	if err := s.db.WithContext(ctx).Select("id, path").Find(&out).Error; err != nil {
		return nil, &apperr.StorageError{Op: "query", Err: err}
	}
	return out, nil
}
