// Package report appends the outcome of each training run to human readable
// files: a Markdown run log, a CSV experiment log and a ROC curve image.
package report

import (
	"os"
	"path/filepath"
	"time"

	"github.com/YuminosukeSato/diabeteskit/pkg/errors"
	"github.com/YuminosukeSato/diabeteskit/pkg/log"
	"github.com/YuminosukeSato/diabeteskit/training"
)

// File names inside the report directory.
const (
	MarkdownFile = "GridSearch.md"
	CSVFile      = "ExpReport.csv"
)

// Writer writes every report of a run into one directory. It implements
// training.Reporter.
type Writer struct {
	dir    string
	roc    bool
	logger log.Logger
	now    func() time.Time
}

// Option configures a Writer.
type Option func(*Writer)

// WithROC enables or disables the ROC curve image.
func WithROC(enabled bool) Option {
	return func(w *Writer) { w.roc = enabled }
}

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(w *Writer) { w.logger = l }
}

// WithClock sets the clock used for report timestamps.
func WithClock(now func() time.Time) Option {
	return func(w *Writer) { w.now = now }
}

// NewWriter creates a Writer for dir. The directory is created on first use.
func NewWriter(dir string, opts ...Option) *Writer {
	w := &Writer{dir: dir, roc: true, now: time.Now}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = log.GetLoggerWithName("Report")
	}
	return w
}

// Dir returns the report directory.
func (w *Writer) Dir() string { return w.dir }

// Report appends o to the Markdown and CSV logs and renders the ROC curve.
// Every file is attempted; the errors are combined.
func (w *Writer) Report(o *training.Outcome) error {
	if o == nil || o.Search == nil {
		return errors.NewValueError("report.Report", "outcome has no search result")
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return errors.Wrapf(err, "create report dir %s", w.dir)
	}
	ts := w.now().UTC()

	var err error
	if e := AppendMarkdown(filepath.Join(w.dir, MarkdownFile), o, ts); e != nil {
		err = errors.CombineErrors(err, e)
	}
	if e := AppendCSV(filepath.Join(w.dir, CSVFile), o, ts); e != nil {
		err = errors.CombineErrors(err, e)
	}
	if w.roc && o.Bundle != nil {
		path := filepath.Join(w.dir, ROCFilename(o.Bundle.ID))
		if e := SaveROC(path, o.Holdout); e != nil {
			err = errors.CombineErrors(err, e)
		}
	}
	if err != nil {
		return err
	}
	w.logger.Info("Report written",
		log.PathKey, w.dir,
		log.RunIDKey, o.RunID,
		log.CandidatesKey, len(o.Search.Candidates),
	)
	return nil
}
