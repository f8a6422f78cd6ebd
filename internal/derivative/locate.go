package derivative

import (
	"pictor/internal/database"
	"pictor/internal/slots"
	"pictor/internal/storage"
)

// RecordManifest rebuilds the manifest of a stored record from its source
// name and retina factor, using the derivatives slot currently requires.
func (o *Orchestrator) RecordManifest(rec *database.Derivative, slot *slots.Slot) (*Manifest, error) {
	factor := 0
	if rec.RetinaFactor != nil {
		factor = *rec.RetinaFactor
	}
	return o.Manifest(rec.ResourceType, rec.ResourceID, rec.OriginalImage, factor, o.resolver.RequiredDerivatives(slot))
}

// Locate returns the path of one derivative of rec. Unknown derivative names
// fall back to the original. The retina sibling is returned only when rec
// was derived with a retina factor.
func (o *Orchestrator) Locate(rec *database.Derivative, slot *slots.Slot, derivative string, retina bool) (string, error) {
	m, err := o.RecordManifest(rec, slot)
	if err != nil {
		return "", err
	}

	v, ok := m.Thumbnails[derivative]
	if !ok || derivative == storage.OriginalDerivative {
		v = m.Original
	}
	if retina && v.Retina != "" {
		return v.Retina, nil
	}
	return v.Path, nil
}
