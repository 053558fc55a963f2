// Package sticker renders short text into a square sticker image. It stands
// in for the image-rendering collaborator: big blocky white-on-black text,
// wrapped to a fixed column width.
package sticker

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/omochice/chat-bridge/internal/command"
)

const (
	glyphWidth  = 7
	glyphHeight = 13
	glyphAscent = 11
)

// Renderer draws text with the fixed bitmap face and scales the result up
// to the requested sticker size. FontSize is approximated by the upscale
// factor; the face itself has one size.
type Renderer struct{}

// New creates a Renderer.
func New() *Renderer {
	return &Renderer{}
}

// Render produces a PNG sticker from text.
func (r *Renderer) Render(text string, opts command.RenderOptions) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("empty sticker text")
	}
	if opts.MaxChars <= 0 {
		opts.MaxChars = 12
	}
	if opts.Width <= 0 {
		opts.Width = 512
	}
	if opts.Padding < 0 || opts.Padding*2 >= opts.Width {
		opts.Padding = 0
	}

	lines := wrap(text, opts.MaxChars)

	longest := 0
	for _, l := range lines {
		if n := len([]rune(l)); n > longest {
			longest = n
		}
	}

	src := image.NewRGBA(image.Rect(0, 0, longest*glyphWidth+2, len(lines)*glyphHeight+2))
	fill(src, color.Black)

	d := font.Drawer{
		Dst:  src,
		Src:  image.NewUniform(color.White),
		Face: basicfont.Face7x13,
	}
	for i, l := range lines {
		// Center each line within the longest one.
		x := (longest - len([]rune(l))) * glyphWidth / 2
		d.Dot = fixed.P(1+x, 1+glyphAscent+i*glyphHeight)
		d.DrawString(l)
	}

	dst := image.NewRGBA(image.Rect(0, 0, opts.Width, opts.Width))
	fill(dst, color.Black)

	inner := opts.Width - 2*opts.Padding
	sw, sh := src.Bounds().Dx(), src.Bounds().Dy()
	scale := float64(inner) / float64(sw)
	if s := float64(inner) / float64(sh); s < scale {
		scale = s
	}
	tw, th := int(float64(sw)*scale), int(float64(sh)*scale)
	x0 := (opts.Width - tw) / 2
	y0 := (opts.Width - th) / 2
	target := image.Rect(x0, y0, x0+tw, y0+th)

	xdraw.NearestNeighbor.Scale(dst, target, src, src.Bounds(), xdraw.Over, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Compile-time check that Renderer satisfies the command contract.
var _ command.Renderer = (*Renderer)(nil)

func fill(img *image.RGBA, c color.Color) {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			img.Set(x, y, c)
		}
	}
}

// wrap breaks text into lines of at most maxChars runes, splitting on
// spaces and hard-breaking words longer than the limit.
func wrap(text string, maxChars int) []string {
	var lines []string
	var line []rune

	flush := func() {
		if len(line) > 0 {
			lines = append(lines, string(line))
			line = nil
		}
	}

	for _, word := range strings.Fields(text) {
		runes := []rune(word)
		for len(runes) > maxChars {
			flush()
			lines = append(lines, string(runes[:maxChars]))
			runes = runes[maxChars:]
		}
		if len(line) > 0 && len(line)+1+len(runes) > maxChars {
			flush()
		}
		if len(line) > 0 {
			line = append(line, ' ')
		}
		line = append(line, runes...)
	}
	flush()

	if len(lines) == 0 {
		lines = []string{""}
	}
	return lines
}
