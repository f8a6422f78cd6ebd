package utils

import (
	"net/http"
)

// allowedImageTypes lists the sniffed content types accepted as uploads.
var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/bmp":  true,
	"image/webp": true,
	"image/tiff": true,
}

// SniffImage returns the detected content type of data and whether it is an
// accepted image type. Only the first 512 bytes are inspected.
func SniffImage(data []byte) (string, bool) {
	head := data
	if len(head) > 512 {
		head = head[:512]
	}
	contentType := http.DetectContentType(head)
	if !allowedImageTypes[contentType] && isTIFF(head) {
		contentType = "image/tiff"
	}
	return contentType, allowedImageTypes[contentType]
}

// isTIFF checks the byte order mark; DetectContentType does not know TIFF.
func isTIFF(b []byte) bool {
	if len(b) < 4 {
		return false
	}
	return (b[0] == 'I' && b[1] == 'I' && b[2] == 42 && b[3] == 0) ||
		(b[0] == 'M' && b[1] == 'M' && b[2] == 0 && b[3] == 42)
}
