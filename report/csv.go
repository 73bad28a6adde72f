package report

import (
	"encoding/csv"
	"os"
	"strconv"
	"time"

	"github.com/YuminosukeSato/diabeteskit/core/model"
	"github.com/YuminosukeSato/diabeteskit/pkg/errors"
	"github.com/YuminosukeSato/diabeteskit/training"
)

// CSVHeader is the first record of the experiment log.
var CSVHeader = []string{"Run ID", "Timestamp", "Model Name", "Params", "CV Score", "Std", "Error"}

// AppendCSV appends one record per candidate of o to path, failed candidates
// included. Scores of failed candidates are empty and Error holds the reason.
func AppendCSV(path string, o *training.Outcome, ts time.Time) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return errors.Wrapf(err, "stat %s", path)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(CSVHeader); err != nil {
			return err
		}
	}
	stamp := ts.Format(time.RFC3339)
	for _, c := range o.Search.Candidates {
		rec := []string{o.RunID, stamp, c.Family, model.FormatParams(c.Params), "", "", ""}
		if c.Failed() {
			rec[6] = c.Err.Error()
		} else {
			rec[4] = strconv.FormatFloat(c.MeanScore, 'f', 4, 64)
			rec[5] = strconv.FormatFloat(c.StdScore, 'f', 4, 64)
		}
		if err := w.Write(rec); err != nil {
			return errors.Wrapf(err, "write %s", path)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return errors.Wrapf(err, "write %s", path)
	}
	return f.Sync()
}
