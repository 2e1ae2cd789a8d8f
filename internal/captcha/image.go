package captcha

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math/rand/v2"

	"go.uber.org/zap"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	imageWidth  = 120
	imageHeight = 40
	noiseDots   = 180
	noiseLines  = 4
)

var (
	backgroundColor = color.RGBA{R: 0xf4, G: 0xf4, B: 0xf0, A: 0xff}
	glyphColor      = color.RGBA{R: 0x22, G: 0x2a, B: 0x44, A: 0xff}
)

// RenderPNG draws the challenge text of an unexpired, unused token as a noisy PNG.
func (s *Service) RenderPNG(ctx context.Context, token string) ([]byte, error) {
	record, err := s.find(s.db.WithContext(ctx), token)
	if err != nil {
		s.logError(opRender, "query_failed", err)
		return nil, newServiceError(opRender, "query_failed", err)
	}
	switch {
	case record == nil:
		return nil, ResultNotFound.Err()
	case s.clock().UTC().After(record.CreatedAt.UTC().Add(s.ttl)):
		return nil, ResultExpired.Err()
	case record.UsedAt != nil:
		return nil, ResultUsed.Err()
	}

	canvas := image.NewRGBA(image.Rect(0, 0, imageWidth, imageHeight))
	draw.Draw(canvas, canvas.Bounds(), &image.Uniform{C: backgroundColor}, image.Point{}, draw.Src)
	addNoise(canvas)

	drawer := &font.Drawer{
		Dst:  canvas,
		Src:  image.NewUniform(glyphColor),
		Face: basicfont.Face7x13,
	}
	textWidth := drawer.MeasureString(record.Challenge).Ceil()
	x := (imageWidth - textWidth) / 2
	y := imageHeight/2 + basicfont.Face7x13.Ascent/2
	drawer.Dot = fixed.P(x, y)
	drawer.DrawString(record.Challenge)

	var buffer bytes.Buffer
	if err := png.Encode(&buffer, canvas); err != nil {
		s.logError(opRender, "encode_failed", err, zap.String("token", record.Token))
		return nil, err
	}
	return buffer.Bytes(), nil
}

func addNoise(canvas *image.RGBA) {
	for dot := 0; dot < noiseDots; dot++ {
		shade := uint8(120 + rand.IntN(100))
		canvas.Set(rand.IntN(imageWidth), rand.IntN(imageHeight), color.RGBA{R: shade, G: shade, B: shade, A: 0xff})
	}
	for line := 0; line < noiseLines; line++ {
		y0, y1 := rand.IntN(imageHeight), rand.IntN(imageHeight)
		shade := uint8(150 + rand.IntN(80))
		stroke := color.RGBA{R: shade, G: shade, B: 0xd0, A: 0xff}
		for x := 0; x < imageWidth; x++ {
			canvas.Set(x, y0+(y1-y0)*x/imageWidth, stroke)
		}
	}
}
