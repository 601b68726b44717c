package plotting

import (
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"gorgonia.org/tensor"
)

func TestLossPlots(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "loss_plot")
	if err := LossPlots(dir, "run", []float64{3, 2, 1.5}, []float64{0.4, 0.3, 0.35}); err != nil {
		t.Fatalf("LossPlots: %v", err)
	}
	for _, name := range []string{"run_train_loss.png", "run_val_loss.png"} {
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if info.Size() == 0 {
			t.Errorf("%s is empty", name)
		}
	}
	if err := LossCurve(filepath.Join(dir, "empty.png"), "empty", "", nil); err == nil {
		t.Error("LossCurve with no losses did not return error")
	}
}

func TestPreview(t *testing.T) {
	dir := t.TempDir()
	data := make([]float64, 2*3*4*5)
	for i := range data {
		data[i] = float64(i)
	}
	field := tensor.New(tensor.WithShape(2, 3, 4, 5), tensor.WithBacking(data))
	paths, err := Preview(dir, "input", field, 1)
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if len(paths) != 4 {
		t.Fatalf("wrote %d files; want 3 channels and an rgb composite", len(paths))
	}
	f, err := os.Open(filepath.Join(dir, "input_c2.png"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != 5 || b.Dy() != 4 {
		t.Errorf("image is %dx%d; want 5x4", b.Dx(), b.Dy())
	}
	// stretched to the plane's own range: first pixel black, last white
	if r, _, _, _ := img.At(0, 0).RGBA(); r != 0 {
		t.Errorf("first pixel = %d; want 0", r)
	}
	if r, _, _, _ := img.At(4, 3).RGBA(); r>>8 != 255 {
		t.Errorf("last pixel = %d; want 255", r>>8)
	}

	for _, sample := range []int{5, -1} {
		if _, err := Preview(dir, "bad", field, sample); err == nil {
			t.Errorf("Preview of sample %d did not return error", sample)
		}
	}
}
