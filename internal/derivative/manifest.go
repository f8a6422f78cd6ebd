package derivative

import "sort"

// Variant is one derivative file and its optional retina sibling.
type Variant struct {
	Path   string `json:"path"`
	Retina string `json:"retina,omitempty"`
}

// Manifest lists every file produced for one upload.
type Manifest struct {
	// Name is the sanitized base name, SourceName is the stored source file
	// name recorded as original_image.
	Name         string             `json:"name"`
	SourceName   string             `json:"source_name"`
	RetinaFactor int                `json:"retina_factor,omitempty"`
	Source       string             `json:"source"`
	Original     Variant            `json:"original"`
	Thumbnails   map[string]Variant `json:"thumbnails"`
	Bytes        int64              `json:"bytes"`
}

// Files returns every path of the manifest in a stable order.
func (m *Manifest) Files() []string {
	files := []string{m.Source, m.Original.Path}
	if m.Original.Retina != "" {
		files = append(files, m.Original.Retina)
	}

	names := make([]string, 0, len(m.Thumbnails))
	for name := range m.Thumbnails {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		v := m.Thumbnails[name]
		files = append(files, v.Path)
		if v.Retina != "" {
			files = append(files, v.Retina)
		}
	}
	return files
}
