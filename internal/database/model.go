package database

import (
	"time"

	"gorm.io/datatypes"
)

// Derivative is the durable record of one upload. OriginalImage is the
// stored source name ("source_<name>") every variant name is derived from;
// it is written once at creation and never updated.
type Derivative struct {
	ID            uint              `gorm:"primaryKey" json:"id"`
	ResourceType  string            `gorm:"type:text;not null;index:idx_derivatives_owner,priority:1" json:"resource_type"`
	ResourceID    string            `gorm:"type:text;not null;index:idx_derivatives_owner,priority:2" json:"resource_id"`
	ImageType     string            `gorm:"type:text;not null;index:idx_derivatives_owner,priority:3" json:"image_type"`
	OriginalImage string            `gorm:"type:text;not null" json:"original_image"`
	RetinaFactor  *int              `json:"retina_factor"`
	SortOrder     int               `gorm:"not null;default:0" json:"order"`
	Meta          datatypes.JSONMap `json:"meta"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

// TempUpload is raw bytes waiting to be claimed by an ingestion request.
type TempUpload struct {
	ID        string    `gorm:"primaryKey;type:text" json:"id"` // uuid
	Filename  string    `gorm:"type:text;not null" json:"filename"`
	Path      string    `gorm:"type:text;not null" json:"-"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}
