// Package slots resolves resource image configuration into validated slot
// definitions and computes the derivatives each slot requires.
package slots

import (
	"fmt"
	"image/color"
	"maps"
	"sort"
	"strings"

	"pictor/internal/apperr"
	"pictor/internal/config"
	"pictor/internal/storage"
	"pictor/pkg/transform"
	"pictor/pkg/utils"
)

// AdminThumbnail is the implicit derivative used by listing screens.
const AdminThumbnail = "admin"

// Thumbnail is one declared derivative of a slot.
type Thumbnail struct {
	Name   string
	Width  int
	Height int
	Mode   transform.Mode
	Fill   color.Color
}

// Options converts the thumbnail into engine options scaled by factor.
func (t Thumbnail) Options(factor int) transform.Options {
	if factor < 1 {
		factor = 1
	}
	return transform.Options{
		Name:   t.Name,
		Width:  t.Width * factor,
		Height: t.Height * factor,
		Mode:   t.Mode,
		Fill:   t.Fill,
	}
}

// defaultFields are declared on every slot unless its config overrides or
// disables them.
var defaultFields = map[string]config.FieldConfig{
	"alt":   {Type: "text", Label: "Alternate text"},
	"title": {Type: "text", Label: "Image title"},
}

// MetaField is a declared metadata field shown next to an image.
type MetaField struct {
	Name  string
	Type  string
	Label string
}

// Slot is an immutable image field of a resource type.
type Slot struct {
	Resource   string
	Name       string
	Single     bool
	AdminThumb bool
	Thumbnails []Thumbnail
	Fields     []MetaField
}

// Thumbnail returns the declared thumbnail called name.
func (s *Slot) Thumbnail(name string) (Thumbnail, bool) {
	for _, t := range s.Thumbnails {
		if t.Name == name {
			return t, true
		}
	}
	return Thumbnail{}, false
}

// Registry holds every configured slot keyed by resource type and slot name.
type Registry struct {
	resources map[string]map[string]*Slot
}

// NewRegistry validates cfg and builds the slot registry. reserved lists the
// record columns a declared meta field may not shadow; it may be nil.
func NewRegistry(cfg map[string]config.ResourceConfig, reserved []string) (*Registry, error) {
	reg := &Registry{resources: make(map[string]map[string]*Slot, len(cfg))}
	reservedSet := make(map[string]struct{}, len(reserved))
	for _, col := range reserved {
		reservedSet[col] = struct{}{}
	}

	for resource, rc := range cfg {
		if storage.Slugify(resource) == "" {
			return nil, &apperr.ConfigurationError{Resource: resource, Reason: "resource type does not produce a directory name"}
		}
		if len(rc.Slots) == 0 {
			return nil, &apperr.ConfigurationError{Resource: resource, Reason: "no image slots declared"}
		}

		slots := make(map[string]*Slot, len(rc.Slots))
		for name, sc := range rc.Slots {
			slot, err := buildSlot(resource, name, sc, reservedSet)
			if err != nil {
				return nil, err
			}
			slots[name] = slot
		}
		reg.resources[resource] = slots
	}
	return reg, nil
}

func buildSlot(resource, name string, sc config.SlotConfig, reserved map[string]struct{}) (*Slot, error) {
	if !utils.IsValidKeyFormat(name) || strings.HasPrefix(name, "_") {
		return nil, &apperr.ConfigurationError{Resource: resource, Slot: name, Reason: "invalid slot name"}
	}

	slot := &Slot{
		Resource:   resource,
		Name:       name,
		Single:     sc.Single,
		AdminThumb: sc.AdminThumb == nil || *sc.AdminThumb,
	}

	for thumbName, tc := range sc.Thumbnails {
		if !utils.IsValidKeyFormat(thumbName) || thumbName == storage.OriginalDerivative {
			return nil, &apperr.ConfigurationError{Resource: resource, Slot: name,
				Reason: fmt.Sprintf("invalid thumbnail name %q", thumbName)}
		}

		mode, err := transform.ParseMode(tc.Type)
		if err != nil {
			return nil, &apperr.ConfigurationError{Resource: resource, Slot: name, Reason: err.Error()}
		}

		thumb := Thumbnail{Name: thumbName, Width: tc.Width, Height: tc.Height, Mode: mode}
		if tc.Color != "" {
			fill, err := utils.ParseColor(tc.Color)
			if err != nil {
				return nil, &apperr.ConfigurationError{Resource: resource, Slot: name,
					Reason: fmt.Sprintf("thumbnail %s color %q: %v", thumbName, tc.Color, err)}
			}
			thumb.Fill = fill
		}
		if err := transform.Validate(thumb.Options(1)); err != nil {
			return nil, &apperr.ConfigurationError{Resource: resource, Slot: name,
				Reason: fmt.Sprintf("thumbnail %s: %v", thumbName, err)}
		}
		slot.Thumbnails = append(slot.Thumbnails, thumb)
	}
	sort.Slice(slot.Thumbnails, func(i, j int) bool {
		return slot.Thumbnails[i].Name < slot.Thumbnails[j].Name
	})

	fields := maps.Clone(defaultFields)
	maps.Copy(fields, sc.Fields)

	var collisions []string
	for fieldName, fc := range fields {
		if fc.Disabled {
			continue
		}
		if _, clash := reserved[fieldName]; clash {
			collisions = append(collisions, fieldName)
			continue
		}
		slot.Fields = append(slot.Fields, MetaField{Name: fieldName, Type: fc.Type, Label: fc.Label})
	}
	if len(collisions) > 0 {
		return nil, &apperr.ConfigurationError{Resource: resource, Slot: name,
			Reason: apperr.NewMetadataCollision(collisions).Error()}
	}
	sort.Slice(slot.Fields, func(i, j int) bool { return slot.Fields[i].Name < slot.Fields[j].Name })

	return slot, nil
}

// Slot looks up a slot. A missing resource or slot is a ConfigurationError.
func (r *Registry) Slot(resource, name string) (*Slot, error) {
	slots, ok := r.resources[resource]
	if !ok {
		return nil, &apperr.ConfigurationError{Resource: resource, Reason: "resource type has no image configuration"}
	}
	slot, ok := slots[name]
	if !ok {
		return nil, &apperr.ConfigurationError{Resource: resource, Slot: name, Reason: "slot is not configured"}
	}
	return slot, nil
}

// Slots returns the slots of resource sorted by name.
func (r *Registry) Slots(resource string) []*Slot {
	slots := make([]*Slot, 0, len(r.resources[resource]))
	for _, s := range r.resources[resource] {
		slots = append(slots, s)
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].Name < slots[j].Name })
	return slots
}

// Resources returns the configured resource types sorted by name.
func (r *Registry) Resources() []string {
	out := make([]string, 0, len(r.resources))
	for res := range r.resources {
		out = append(out, res)
	}
	sort.Strings(out)
	return out
}

// FindBySlug resolves a directory slug back to its configured resource type.
func (r *Registry) FindBySlug(slug string) (string, bool) {
	for res := range r.resources {
		if storage.Slugify(res) == slug {
			return res, true
		}
	}
	return "", false
}
