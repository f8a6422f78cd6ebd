package storage

import (
	"fmt"
	"path"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	// SourcePrefix marks the untouched upload inside the original directory.
	SourcePrefix = "source_"

	maxNameLength = 100
	fallbackName  = "image"
)

// stripMarks decomposes accented letters and drops the combining marks,
// so "Café" becomes "Cafe".
var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// SanitizeFilename normalizes a client supplied name into a safe stored name.
// Directories are dropped, accents are transliterated, whitespace runs become
// a single dash and anything outside [a-zA-Z0-9._-] is removed. The extension
// is kept, lowercased.
func SanitizeFilename(raw string) string {
	raw = strings.ReplaceAll(raw, `\`, "/")
	raw = path.Base(strings.TrimSpace(raw))
	if raw == "." || raw == "/" {
		raw = ""
	}

	ext := strings.ToLower(path.Ext(raw))
	name := strings.TrimSuffix(raw, path.Ext(raw))
	if ascii, _, err := transform.String(stripMarks, name); err == nil {
		name = ascii
	}

	name = cleanSegment(name)
	ext = "." + cleanSegment(strings.TrimPrefix(ext, "."))
	if ext == "." {
		ext = ""
	}

	name = strings.TrimPrefix(name, SourcePrefix)
	if len(name) > maxNameLength {
		name = strings.TrimRight(name[:maxNameLength], "-_.")
	}
	if name == "" {
		name = fallbackName
	}
	return name + ext
}

func cleanSegment(s string) string {
	var sb strings.Builder
	pendingDash := false
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			pendingDash = sb.Len() > 0
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') ||
			r == '-' || r == '_' || r == '.':
			if pendingDash {
				sb.WriteByte('-')
				pendingDash = false
			}
			sb.WriteRune(r)
		}
	}
	out := sb.String()
	for strings.Contains(out, "--") {
		out = strings.ReplaceAll(out, "--", "-")
	}
	for strings.Contains(out, "..") {
		out = strings.ReplaceAll(out, "..", ".")
	}
	return strings.Trim(out, "-.")
}

// RetinaName inserts @<factor>x before the extension: "a.jpg" -> "a@2x.jpg".
func RetinaName(name string, factor int) string {
	ext := path.Ext(name)
	return fmt.Sprintf("%s@%dx%s", strings.TrimSuffix(name, ext), factor, ext)
}

// SourceName is the stored name of the untouched upload.
func SourceName(name string) string {
	return SourcePrefix + name
}

// BaseFromSource recovers the derivative base name from a stored source name.
func BaseFromSource(source string) string {
	return strings.TrimPrefix(source, SourcePrefix)
}

// IsSourceName reports whether name is a stored source file.
func IsSourceName(name string) bool {
	return strings.HasPrefix(name, SourcePrefix) && len(name) > len(SourcePrefix)
}
