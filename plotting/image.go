package plotting

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/floats"
	"gorgonia.org/tensor"
)

// channelPlane returns the (h, w) values of one sample and channel of a 4D field.
func channelPlane(t *tensor.Dense, sample, channel int) ([]float64, int, int, error) {
	sh := t.Shape()
	if len(sh) != 4 {
		return nil, 0, 0, fmt.Errorf("preview wants a (batch, channel, h, w) field, got %v", sh)
	}
	if sample < 0 || channel < 0 || sample >= sh[0] || channel >= sh[1] {
		return nil, 0, 0, fmt.Errorf("sample %d channel %d outside %v", sample, channel, sh)
	}
	h, w := sh[2], sh[3]
	start := (sample*sh[1] + channel) * h * w
	return t.Float64s()[start : start+h*w], h, w, nil
}

// normalise maps vals linearly onto [0, 255]; a constant plane maps to 0.
func normalise(vals []float64) []uint8 {
	lo, hi := floats.Min(vals), floats.Max(vals)
	out := make([]uint8, len(vals))
	if hi == lo {
		return out
	}
	for i, v := range vals {
		out[i] = uint8((v - lo) / (hi - lo) * 255.0)
	}
	return out
}

func savePNG(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(file, img); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// SaveChannel writes one channel of one sample as a grayscale PNG, stretched to its own range.
func SaveChannel(path string, t *tensor.Dense, sample, channel int) error {
	vals, h, w, err := channelPlane(t, sample, channel)
	if err != nil {
		return err
	}
	pix := normalise(vals)
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: pix[y*w+x]})
		}
	}
	return savePNG(path, img)
}

// SaveRGB writes a three channel sample as one colour PNG, each channel stretched separately.
func SaveRGB(path string, t *tensor.Dense, sample int) error {
	var planes [3][]uint8
	var h, w int
	for c := 0; c < 3; c++ {
		vals, ph, pw, err := channelPlane(t, sample, c)
		if err != nil {
			return err
		}
		planes[c], h, w = normalise(vals), ph, pw
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			img.Set(x, y, color.RGBA{planes[0][i], planes[1][i], planes[2][i], 255})
		}
	}
	return savePNG(path, img)
}

// Preview writes <dir>/<prefix>_c<k>.png for every channel of sample and, for
// three channel fields, <dir>/<prefix>_rgb.png. It returns the written paths.
func Preview(dir, prefix string, t *tensor.Dense, sample int) ([]string, error) {
	if len(t.Shape()) != 4 {
		return nil, fmt.Errorf("preview wants a (batch, channel, h, w) field, got %v", t.Shape())
	}
	var paths []string
	chans := t.Shape()[1]
	for c := 0; c < chans; c++ {
		path := filepath.Join(dir, fmt.Sprintf("%s_c%d.png", prefix, c))
		if err := SaveChannel(path, t, sample, c); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	if chans == 3 {
		path := filepath.Join(dir, prefix+"_rgb.png")
		if err := SaveRGB(path, t, sample); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}
