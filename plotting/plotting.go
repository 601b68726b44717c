// Package plotting renders loss curves and field previews as PNG files.
package plotting

import (
	"fmt"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// LossCurve draws losses against epoch (starting at 1) and saves it to path.
func LossCurve(path, title, label string, losses []float64) error {
	if len(losses) == 0 {
		return fmt.Errorf("no losses to plot for %s", title)
	}
	pts := make(plotter.XYs, len(losses))
	for i, l := range losses {
		pts[i].X = float64(i + 1)
		pts[i].Y = l
	}
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "epoch"
	p.Y.Label.Text = label
	p.Add(plotter.NewGrid())
	line, err := plotter.NewLine(pts)
	if err != nil {
		return err
	}
	p.Add(line)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return p.Save(6*vg.Inch, 4*vg.Inch, path)
}

// LossPlots writes <dir>/<name>_train_loss.png and <dir>/<name>_val_loss.png.
func LossPlots(dir, name string, training, validation []float64) error {
	if err := LossCurve(filepath.Join(dir, name+"_train_loss.png"), name+" training loss", "L1 (scaled)", training); err != nil {
		return err
	}
	return LossCurve(filepath.Join(dir, name+"_val_loss.png"), name+" validation loss", "L1 / 1e6", validation)
}
