package stream

import (
	"bytes"
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"math"
)

// JPEG markers that delimit every encoded frame.
var (
	FrameStart = []byte{0xFF, 0xD8}
	FrameEnd   = []byte{0xFF, 0xD9}
)

// Scene describes what the synthetic camera sees at one instant.
type Scene struct {
	Offset   float64 // virtual seconds since run start
	Duration float64 // scenario duration, drives the progress bar
	Label    string  // object in view, empty for an empty scene
	Zone     string
	Night    bool
}

// Renderer turns scenes into JPEG frames.
type Renderer struct {
	Width   int
	Height  int
	Quality int
}

// NewRenderer returns a renderer producing small frames suitable for streaming.
func NewRenderer() *Renderer {
	return &Renderer{Width: 320, Height: 240, Quality: 70}
}

// Render encodes the scene as a JPEG image.
func (r *Renderer) Render(s Scene) ([]byte, error) {
	w, h := r.Width, r.Height
	if w <= 0 || h <= 0 {
		w, h = 320, 240
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))

	sky := color.RGBA{R: 120, G: 160, B: 200, A: 255}
	ground := color.RGBA{R: 90, G: 120, B: 70, A: 255}
	if s.Night {
		sky = color.RGBA{R: 20, G: 24, B: 40, A: 255}
		ground = color.RGBA{R: 30, G: 40, B: 30, A: 255}
	}
	horizon := h * 2 / 5
	draw.Draw(img, image.Rect(0, 0, w, horizon), &image.Uniform{C: sky}, image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(0, horizon, w, h), &image.Uniform{C: ground}, image.Point{}, draw.Src)

	// sensor noise keeps consecutive frames distinct
	seed := uint32(s.Offset * 1000)
	for i := 0; i < w*h/40; i++ {
		seed = seed*1664525 + 1013904223
		x := int(seed>>8) % w
		y := int(seed>>16) % h
		img.Set(x, y, color.RGBA{R: 200, G: 200, B: 200, A: 255})
	}

	if s.Label != "" {
		r.drawObject(img, s, horizon)
	}
	r.drawProgress(img, s)

	var buf bytes.Buffer
	quality := r.Quality
	if quality <= 0 || quality > 100 {
		quality = 70
	}
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	return buf.Bytes(), nil
}

// drawObject paints a box whose color and position derive from the label
// and zone, sliding horizontally as the scene advances.
func (r *Renderer) drawObject(img *image.RGBA, s Scene, horizon int) {
	b := img.Bounds()
	hash := fnv.New32a()
	_, _ = hash.Write([]byte(s.Label + "/" + s.Zone))
	v := hash.Sum32()

	boxW := b.Dx() / 6
	boxH := b.Dy() / 3
	travel := float64(b.Dx() - boxW)
	x0 := int(math.Mod(float64(v%uint32(b.Dx()))+s.Offset*20, travel))
	y0 := horizon + (b.Dy()-horizon-boxH)/2

	fill := color.RGBA{R: uint8(v), G: uint8(v >> 8), B: uint8(v >> 16), A: 255}
	draw.Draw(img, image.Rect(x0, y0, x0+boxW, y0+boxH), &image.Uniform{C: fill}, image.Point{}, draw.Src)

	outline := color.RGBA{R: 255, G: 220, B: 0, A: 255}
	for x := x0 - 2; x < x0+boxW+2; x++ {
		img.Set(x, y0-2, outline)
		img.Set(x, y0+boxH+1, outline)
	}
	for y := y0 - 2; y < y0+boxH+2; y++ {
		img.Set(x0-2, y, outline)
		img.Set(x0+boxW+1, y, outline)
	}
}

func (r *Renderer) drawProgress(img *image.RGBA, s Scene) {
	if s.Duration <= 0 {
		return
	}
	b := img.Bounds()
	frac := s.Offset / s.Duration
	if frac > 1 {
		frac = 1
	}
	if frac < 0 {
		frac = 0
	}
	width := int(frac * float64(b.Dx()))
	draw.Draw(img, image.Rect(0, b.Dy()-4, width, b.Dy()), &image.Uniform{C: color.RGBA{R: 230, G: 40, B: 40, A: 255}}, image.Point{}, draw.Src)
}
