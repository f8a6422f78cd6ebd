package slots

import "pictor/pkg/transform"

// Resolver expands slots into the derivatives that must exist for every
// upload. Admin dimensions come from images.admin_thumb_width/height.
type Resolver struct {
	AdminWidth  int
	AdminHeight int
}

// RequiredDerivatives returns the declared thumbnails followed by the admin
// crop thumbnail, unless the slot already declares one or opts out.
func (r Resolver) RequiredDerivatives(slot *Slot) []Thumbnail {
	out := make([]Thumbnail, 0, len(slot.Thumbnails)+1)
	out = append(out, slot.Thumbnails...)

	if !slot.AdminThumb {
		return out
	}
	if _, declared := slot.Thumbnail(AdminThumbnail); declared {
		return out
	}
	return append(out, Thumbnail{
		Name:   AdminThumbnail,
		Width:  r.AdminWidth,
		Height: r.AdminHeight,
		Mode:   transform.ModeCrop,
	})
}

// MinimumSourceDimensions is the smallest source that satisfies every
// declared thumbnail at retinaFactor. A factor below 1 counts as 1.
func (r Resolver) MinimumSourceDimensions(slot *Slot, retinaFactor int) (width, height int) {
	if retinaFactor < 1 {
		retinaFactor = 1
	}
	for _, t := range slot.Thumbnails {
		width = max(width, t.Width)
		height = max(height, t.Height)
	}
	return width * retinaFactor, height * retinaFactor
}
