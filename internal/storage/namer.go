// Package storage maps resources to directories on the upload tree, turns
// client file names into safe stored names and performs the file writes.
package storage

import (
	"path/filepath"
	"strings"
	"unicode"

	"pictor/internal/apperr"
)

// OriginalDerivative is the derivative directory holding the source file,
// the downscaled original and its retina sibling.
const OriginalDerivative = "original"

// Namer computes canonical directories below Root. It holds no state besides
// the root and is safe to share.
type Namer struct {
	Root string
}

// Slugify turns a resource type identifier into a directory name.
// Namespaced identifiers keep only what follows the last "Models" segment:
// `App\Models\Blog\Post` becomes "blog_post".
func Slugify(identifier string) string {
	id := strings.TrimSpace(identifier)
	normalized := strings.ReplaceAll(id, "/", `\`)
	if i := strings.LastIndex(normalized, `Models\`); i >= 0 {
		id = normalized[i+len(`Models\`):]
	}

	var sb strings.Builder
	lastUnderscore := true
	for _, r := range id {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			sb.WriteRune(unicode.ToLower(r))
			lastUnderscore = false
			continue
		}
		if !lastUnderscore {
			sb.WriteByte('_')
			lastUnderscore = true
		}
	}
	return strings.TrimRight(sb.String(), "_")
}

// ResourceDir returns <root>/<slug>/<resourceID>.
func (n Namer) ResourceDir(resourceType, resourceID string) (string, error) {
	slug := Slugify(resourceType)
	if slug == "" {
		return "", &apperr.ConfigurationError{Resource: resourceType, Reason: "empty resource type identifier"}
	}
	return filepath.Join(n.Root, slug, resourceID), nil
}

// Dir returns the canonical directory of one derivative, terminated by a
// path separator: <root>/<slug>/<resourceID>/<derivative>/.
func (n Namer) Dir(resourceType, resourceID, derivative string) (string, error) {
	base, err := n.ResourceDir(resourceType, resourceID)
	if err != nil {
		return "", err
	}
	return filepath.Join(base, derivative) + string(filepath.Separator), nil
}
