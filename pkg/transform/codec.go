package transform

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Source is a decoded upload. Format is the encoder used for every
// derivative produced from it.
type Source struct {
	Image  image.Image
	Format imaging.Format
	Size   int
}

// Width and Height report the oriented dimensions of the source.
func (s *Source) Width() int  { return s.Image.Bounds().Dx() }
func (s *Source) Height() int { return s.Image.Bounds().Dy() }

// encodable maps decoder names to the format derivatives are written in.
// WebP has no encoder in the imaging stack and is written as PNG.
var encodable = map[string]imaging.Format{
	"jpeg": imaging.JPEG,
	"png":  imaging.PNG,
	"gif":  imaging.GIF,
	"bmp":  imaging.BMP,
	"tiff": imaging.TIFF,
	"webp": imaging.PNG,
}

// Probe reads only the header of data and returns its decoder name and
// dimensions as Decode will orient them.
func Probe(data []byte) (width, height int, format string, err error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, "", err
	}
	if format == "jpeg" && Orientation(data) >= 5 {
		return cfg.Height, cfg.Width, format, nil
	}
	return cfg.Width, cfg.Height, format, nil
}

// Orientation returns the EXIF orientation (1-8) of a JPEG, or 0 when the
// tag is absent. Values 5 to 8 rotate the image by a quarter turn.
func Orientation(data []byte) int {
	if len(data) < 4 || data[0] != 0xff || data[1] != 0xd8 {
		return 0
	}
	for i := 2; i+4 <= len(data); {
		if data[i] != 0xff {
			return 0
		}
		marker := data[i+1]
		size := int(binary.BigEndian.Uint16(data[i+2:]))
		if marker == 0xda || size < 2 || i+2+size > len(data) {
			return 0
		}
		// Only the first APP1 segment is consulted, as imaging does.
		if marker == 0xe1 {
			seg := data[i+4 : i+2+size]
			if !bytes.HasPrefix(seg, []byte("Exif\x00\x00")) {
				return 0
			}
			return tiffOrientation(seg[6:])
		}
		i += 2 + size
	}
	return 0
}

// tiffOrientation reads tag 0x0112 from IFD0 of a TIFF header.
func tiffOrientation(tiff []byte) int {
	if len(tiff) < 8 {
		return 0
	}
	var order binary.ByteOrder
	switch string(tiff[:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return 0
	}

	ifd := int(order.Uint32(tiff[4:]))
	if ifd < 8 || ifd+2 > len(tiff) {
		return 0
	}
	for n, e := int(order.Uint16(tiff[ifd:])), ifd+2; n > 0 && e+12 <= len(tiff); n, e = n-1, e+12 {
		if order.Uint16(tiff[e:]) != 0x0112 {
			continue
		}
		if o := int(order.Uint16(tiff[e+8:])); o >= 1 && o <= 8 {
			return o
		}
		return 0
	}
	return 0
}

// Decode parses data, applying EXIF orientation for JPEG sources.
func Decode(data []byte) (*Source, error) {
	_, _, name, err := Probe(data)
	if err != nil {
		return nil, err
	}
	format, ok := encodable[name]
	if !ok {
		return nil, fmt.Errorf("no encoder for %s images", name)
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, err
	}
	return &Source{Image: img, Format: format, Size: len(data)}, nil
}

// OutputName returns the stored name of a derivative of name. Only sources
// whose format cannot be re-encoded change extension.
func OutputName(name string) string {
	ext := filepath.Ext(name)
	if strings.EqualFold(ext, ".webp") {
		return strings.TrimSuffix(name, ext) + ".png"
	}
	return name
}

func encode(img image.Image, format imaging.Format, quality int) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := imaging.Encode(buf, img, format, imaging.JPEGQuality(quality)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
