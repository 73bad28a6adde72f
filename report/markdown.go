package report

import (
	"bufio"
	"fmt"
	"os"
	"time"

	"github.com/YuminosukeSato/diabeteskit/core/model"
	"github.com/YuminosukeSato/diabeteskit/pkg/errors"
	"github.com/YuminosukeSato/diabeteskit/training"
)

const markdownHeader = "# Grid Search Results\n\n"

// AppendMarkdown appends one "## <timestamp>" section for o to path. The
// file starts with the results header when it is created.
func AppendMarkdown(path string, o *training.Outcome, ts time.Time) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return errors.Wrapf(err, "stat %s", path)
	}

	w := bufio.NewWriter(f)
	if info.Size() == 0 {
		w.WriteString(markdownHeader)
	}
	best := o.Best()
	failed := 0
	for _, c := range o.Search.Candidates {
		if c.Failed() {
			failed++
		}
	}
	fmt.Fprintf(w, "## %s\n\n", ts.Format(time.RFC3339))
	fmt.Fprintf(w, "**Best Model:** %s\n", best.Family)
	fmt.Fprintf(w, "**Best Hyperparameters:** %s\n", model.FormatParams(best.Params))
	fmt.Fprintf(w, "**Best Score:** %.4f (%s, std %.4f, %d folds)\n", best.MeanScore, o.Search.Scoring, best.StdScore, o.Search.Folds)
	fmt.Fprintf(w, "**Holdout Accuracy:** %.4f\n", o.Holdout.Accuracy)
	fmt.Fprintf(w, "**Holdout ROC AUC:** %.4f\n", o.Holdout.AUC)
	fmt.Fprintf(w, "**Candidates:** %d (%d failed)\n", len(o.Search.Candidates), failed)
	if o.Bundle != nil {
		fmt.Fprintf(w, "**Artifact:** %s\n", o.Bundle.Filename())
	}
	fmt.Fprintf(w, "**Run ID:** %s\n\n", o.RunID)
	if err := w.Flush(); err != nil {
		return errors.Wrapf(err, "write %s", path)
	}
	return f.Sync()
}
