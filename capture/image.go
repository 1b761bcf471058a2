package capture

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"strconv"

	xdraw "golang.org/x/image/draw"
)

// DefaultMaxEdge is the preview size limit used when none is given.
const DefaultMaxEdge = 512

// ErrBadImage is returned for files that are not a readable PPM or PNG.
var ErrBadImage = errors.New("unreadable image")

// Image is a converted framebuffer capture.
type Image struct {
	Width  int
	Height int

	// PNG is the full-size image.
	PNG []byte

	// Preview is a PNG no larger than the requested edge, suitable for
	// inline transport.
	Preview       []byte
	PreviewWidth  int
	PreviewHeight int
}

// ConvertImage decodes the runner's PPM at ppmPath, writes it as PNG to
// pngPath (skipped when empty) and builds a preview whose longer edge is at
// most maxEdge pixels.
func ConvertImage(ppmPath, pngPath string, maxEdge int) (Image, error) {
	f, err := os.Open(ppmPath)
	if err != nil {
		return Image{}, fmt.Errorf("capture: open image: %w", err)
	}
	defer f.Close()

	img, err := decodePPM(bufio.NewReader(f))
	if err != nil {
		return Image{}, err
	}
	return encode(img, pngPath, maxEdge)
}

// LoadPNG reads a PNG such as a screen capture and builds the same output as
// ConvertImage.
func LoadPNG(path string, maxEdge int) (Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Image{}, fmt.Errorf("capture: open image: %w", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return Image{}, fmt.Errorf("%w: %v", ErrBadImage, err)
	}
	return encode(img, "", maxEdge)
}

func encode(img image.Image, pngPath string, maxEdge int) (Image, error) {
	if maxEdge <= 0 {
		maxEdge = DefaultMaxEdge
	}
	var full bytes.Buffer
	if err := png.Encode(&full, img); err != nil {
		return Image{}, fmt.Errorf("capture: encode png: %w", err)
	}
	if pngPath != "" {
		if err := os.WriteFile(pngPath, full.Bytes(), 0o600); err != nil {
			return Image{}, fmt.Errorf("capture: write png: %w", err)
		}
	}

	b := img.Bounds()
	out := Image{
		Width:         b.Dx(),
		Height:        b.Dy(),
		PNG:           full.Bytes(),
		Preview:       full.Bytes(),
		PreviewWidth:  b.Dx(),
		PreviewHeight: b.Dy(),
	}
	if b.Dx() <= maxEdge && b.Dy() <= maxEdge {
		return out, nil
	}

	w, h := scaledSize(b.Dx(), b.Dy(), maxEdge)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, b, xdraw.Over, nil)

	var preview bytes.Buffer
	if err := png.Encode(&preview, dst); err != nil {
		return Image{}, fmt.Errorf("capture: encode preview: %w", err)
	}
	out.Preview = preview.Bytes()
	out.PreviewWidth, out.PreviewHeight = w, h
	return out, nil
}

// scaledSize fits w x h into a maxEdge square keeping the aspect ratio.
func scaledSize(w, h, maxEdge int) (int, int) {
	if w >= h {
		return maxEdge, max(1, h*maxEdge/w)
	}
	return max(1, w*maxEdge/h), maxEdge
}

// decodePPM reads a binary (P6) or plain (P3) portable pixmap.
func decodePPM(r *bufio.Reader) (image.Image, error) {
	magic, err := ppmToken(r)
	if err != nil {
		return nil, err
	}
	if magic != "P6" && magic != "P3" {
		return nil, fmt.Errorf("%w: not a PPM (magic %q)", ErrBadImage, magic)
	}
	var dims [3]int
	for i := range dims {
		tok, err := ppmToken(r)
		if err != nil {
			return nil, err
		}
		dims[i], err = strconv.Atoi(tok)
		if err != nil || dims[i] <= 0 {
			return nil, fmt.Errorf("%w: bad header value %q", ErrBadImage, tok)
		}
	}
	w, h, maxVal := dims[0], dims[1], dims[2]
	if maxVal > 65535 || w > 1<<14 || h > 1<<14 {
		return nil, fmt.Errorf("%w: unsupported dimensions %dx%d max %d", ErrBadImage, w, h, maxVal)
	}

	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	scale := func(v int) uint8 {
		return uint8((v*255 + maxVal/2) / maxVal)
	}

	if magic == "P3" {
		for i := 0; i < w*h; i++ {
			var c [3]int
			for j := range c {
				tok, err := ppmToken(r)
				if err != nil {
					return nil, err
				}
				c[j], err = strconv.Atoi(tok)
				if err != nil || c[j] > maxVal || c[j] < 0 {
					return nil, fmt.Errorf("%w: bad sample %q", ErrBadImage, tok)
				}
			}
			img.SetNRGBA(i%w, i/w, color.NRGBA{R: scale(c[0]), G: scale(c[1]), B: scale(c[2]), A: 255})
		}
		return img, nil
	}

	// A single whitespace byte separates the header from the raster.
	bytesPerSample := 1
	if maxVal > 255 {
		bytesPerSample = 2
	}
	raster := make([]byte, w*h*3*bytesPerSample)
	if _, err := io.ReadFull(r, raster); err != nil {
		return nil, fmt.Errorf("%w: truncated raster: %v", ErrBadImage, err)
	}
	sample := func(i int) int {
		if bytesPerSample == 1 {
			return int(raster[i])
		}
		return int(raster[2*i])<<8 | int(raster[2*i+1])
	}
	for i := 0; i < w*h; i++ {
		img.SetNRGBA(i%w, i/w, color.NRGBA{
			R: scale(sample(3 * i)),
			G: scale(sample(3*i + 1)),
			B: scale(sample(3*i + 2)),
			A: 255,
		})
	}
	return img, nil
}

// ppmToken returns the next whitespace-separated header token, skipping
// comments, and consumes exactly one trailing whitespace byte.
func ppmToken(r *bufio.Reader) (string, error) {
	var tok []byte
	for {
		c, err := r.ReadByte()
		if err != nil {
			if err == io.EOF && len(tok) > 0 {
				return string(tok), nil
			}
			return "", fmt.Errorf("%w: truncated header", ErrBadImage)
		}
		switch {
		case c == '#' && len(tok) == 0:
			if _, err := r.ReadString('\n'); err != nil {
				return "", fmt.Errorf("%w: truncated header", ErrBadImage)
			}
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			if len(tok) > 0 {
				return string(tok), nil
			}
		default:
			tok = append(tok, c)
		}
	}
}
