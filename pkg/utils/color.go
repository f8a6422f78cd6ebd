package utils

import (
	"errors"
	"image/color"
	"strconv"
	"strings"
)

var cssColors = map[string]color.NRGBA{
	"white":   {255, 255, 255, 255},
	"black":   {0, 0, 0, 255},
	"red":     {255, 0, 0, 255},
	"green":   {0, 128, 0, 255},
	"blue":    {0, 0, 255, 255},
	"cyan":    {0, 255, 255, 255},
	"magenta": {255, 0, 255, 255},
	"yellow":  {255, 255, 0, 255},
	"orange":  {255, 165, 0, 255},
	"purple":  {128, 0, 128, 255},
	"pink":    {255, 192, 203, 255},
	"gray":    {128, 128, 128, 255},
	"grey":    {128, 128, 128, 255},
	"silver":  {192, 192, 192, 255},
	"gold":    {255, 215, 0, 255},
	"teal":    {0, 128, 128, 255},
	"lime":    {0, 255, 0, 255},
	"navy":    {0, 0, 128, 255},

	// Letterbox defaults: no fill at all.
	"transparent": {0, 0, 0, 0},
	"none":        {0, 0, 0, 0},
}

// ParseColor accepts a CSS color name, "transparent"/"none", or a hex value
// in #rgb, #rrggbb or #rrggbbaa form.
func ParseColor(s string) (color.NRGBA, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return color.NRGBA{}, errors.New("empty color string")
	}

	if c, ok := cssColors[strings.ToLower(s)]; ok {
		return c, nil
	}

	hexStr := strings.TrimPrefix(s, "#")
	if len(hexStr) == 3 {
		hexStr = string([]byte{hexStr[0], hexStr[0], hexStr[1], hexStr[1], hexStr[2], hexStr[2]})
	}

	c := color.NRGBA{A: 255}
	switch len(hexStr) {
	case 8:
		a, err := strconv.ParseUint(hexStr[6:8], 16, 8)
		if err != nil {
			return color.NRGBA{}, errors.New("invalid hex")
		}
		c.A = uint8(a)
		fallthrough
	case 6:
		r, err1 := strconv.ParseUint(hexStr[0:2], 16, 8)
		g, err2 := strconv.ParseUint(hexStr[2:4], 16, 8)
		b, err3 := strconv.ParseUint(hexStr[4:6], 16, 8)
		if err1 != nil || err2 != nil || err3 != nil {
			return color.NRGBA{}, errors.New("invalid hex")
		}
		c.R, c.G, c.B = uint8(r), uint8(g), uint8(b)
	default:
		return color.NRGBA{}, errors.New("invalid color format")
	}

	return c, nil
}
