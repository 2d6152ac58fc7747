// Package frame defines the three frame products pulled from the device and
// the packed pixel buffers that carry them to a display sink.
package frame

import (
	"fmt"
	"image"
	"image/color"
)

// Product identifies one of the frame outputs of the device.
type Product int

const (
	// Color is the raw colour preview at the model resolution.
	Color Product = iota
	// Detection is the colour preview with detections drawn on top.
	Detection
	// Depth is the colourised disparity map.
	Depth
)

// Products lists every product in pull order.
var Products = []Product{Color, Detection, Depth}

// String returns the product name.
func (p Product) String() string {
	switch p {
	case Color:
		return "color"
	case Detection:
		return "detection"
	case Depth:
		return "depth"
	default:
		return fmt.Sprintf("product(%d)", int(p))
	}
}

// Surface is the display surface a product renders onto.
// Color and Detection share the RGB surface.
type Surface string

const (
	SurfaceRGB   Surface = "rgb"
	SurfaceDepth Surface = "depth"
)

// Surface returns the surface this product is shown on.
func (p Product) Surface() Surface {
	if p == Depth {
		return SurfaceDepth
	}
	return SurfaceRGB
}

// Resolution is a width/height pair in pixels.
type Resolution struct {
	Width  int `json:"width" yaml:"width" mapstructure:"width"`
	Height int `json:"height" yaml:"height" mapstructure:"height"`
}

// Pixels returns Width*Height.
func (r Resolution) Pixels() int {
	return r.Width * r.Height
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// Frame is one pulled product. Pixels holds packed 0xAARRGGBB values in
// row-major order and has exactly Width*Height entries.
type Frame struct {
	Product Product
	Pixels  []uint32
	Width   int
	Height  int
}

// New wraps a buffer with its declared resolution.
func New(p Product, pixels []uint32, res Resolution) Frame {
	return Frame{Product: p, Pixels: pixels, Width: res.Width, Height: res.Height}
}

// Valid reports whether the buffer length matches the declared resolution.
func (f Frame) Valid() bool {
	return f.Width > 0 && f.Height > 0 && len(f.Pixels) == f.Width*f.Height
}

// Image converts the packed buffer into an image. Packed pixels carry
// straight alpha, so the result is NRGBA. It returns nil for an invalid
// frame.
func (f Frame) Image() *image.NRGBA {
	if !f.Valid() {
		return nil
	}
	img := image.NewNRGBA(image.Rect(0, 0, f.Width, f.Height))
	for i, px := range f.Pixels {
		o := i * 4
		img.Pix[o] = uint8(px >> 16)
		img.Pix[o+1] = uint8(px >> 8)
		img.Pix[o+2] = uint8(px)
		img.Pix[o+3] = uint8(px >> 24)
	}
	return img
}

// Pack converts an image into a packed straight-alpha ARGB buffer of its
// bounds.
func Pack(img image.Image) []uint32 {
	b := img.Bounds()
	out := make([]uint32, 0, b.Dx()*b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			out = append(out, uint32(c.A)<<24|uint32(c.R)<<16|uint32(c.G)<<8|uint32(c.B))
		}
	}
	return out
}
