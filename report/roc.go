package report

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/YuminosukeSato/diabeteskit/metrics"
	"github.com/YuminosukeSato/diabeteskit/pkg/errors"
	"github.com/YuminosukeSato/diabeteskit/training"
)

// ROCFilename returns the image name for the artifact with the given ID.
func ROCFilename(artifactID string) string {
	return "roc_" + artifactID + ".png"
}

// SaveROC renders the ROC curve of a holdout evaluation to path. The image
// format follows the extension.
func SaveROC(path string, h training.Holdout) error {
	if len(h.Labels) == 0 || len(h.Labels) != len(h.Scores) {
		return errors.NewValueError("SaveROC", "holdout has no scored samples")
	}
	yTrue := mat.NewVecDense(len(h.Labels), nil)
	for i, l := range h.Labels {
		yTrue.SetVec(i, float64(l))
	}
	yScore := mat.NewVecDense(len(h.Scores), append([]float64(nil), h.Scores...))
	fpr, tpr, _, err := metrics.ROCCurve(yTrue, yScore)
	if err != nil {
		return err
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("ROC curve (AUC = %.4f)", h.AUC)
	p.X.Label.Text = "False positive rate"
	p.Y.Label.Text = "True positive rate"
	p.X.Min, p.X.Max = 0, 1
	p.Y.Min, p.Y.Max = 0, 1
	p.Add(plotter.NewGrid())

	pts := make(plotter.XYs, len(fpr))
	for i := range fpr {
		pts[i] = plotter.XY{X: fpr[i], Y: tpr[i]}
	}
	curve, err := plotter.NewLine(pts)
	if err != nil {
		return errors.Wrap(err, "roc line")
	}
	curve.LineStyle.Width = vg.Points(2)

	chance, err := plotter.NewLine(plotter.XYs{{X: 0, Y: 0}, {X: 1, Y: 1}})
	if err != nil {
		return errors.Wrap(err, "chance line")
	}
	chance.LineStyle.Dashes = []vg.Length{vg.Points(4), vg.Points(4)}

	p.Add(curve, chance)
	p.Legend.Add("model", curve)
	p.Legend.Add("chance", chance)

	if err := p.Save(5*vg.Inch, 5*vg.Inch, path); err != nil {
		return errors.Wrapf(err, "save %s", path)
	}
	return nil
}
