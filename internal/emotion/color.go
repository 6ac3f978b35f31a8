package emotion

import (
	"image/color"

	colorful "github.com/lucasb-eyer/go-colorful"
)

// Color is a named background color with its CSS hex form.
type Color struct {
	Name string `json:"name"`
	Hex  string `json:"hex"`
}

// Named colors used by the lookup table.
var (
	Green = Color{Name: "green", Hex: "#008000"}
	Red   = Color{Name: "red", Hex: "#ff0000"}
	White = Color{Name: "white", Hex: "#ffffff"}
)

var colorTable = map[Label]Color{
	Happy:   Green,
	Neutral: Red,
	Sad:     Red,
}

// ColorFor returns the background color for an emotion. Labels without an
// entry map to White.
func ColorFor(l Label) Color {
	if c, ok := colorTable[l]; ok {
		return c
	}
	return White
}

// RGBA converts the color to an opaque color.RGBA. Malformed hex values
// fall back to white.
func (c Color) RGBA() color.RGBA {
	cf, err := colorful.Hex(c.Hex)
	if err != nil {
		return color.RGBA{R: 255, G: 255, B: 255, A: 255}
	}
	r, g, b := cf.RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 255}
}

func (c Color) String() string {
	return c.Name
}
