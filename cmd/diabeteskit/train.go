package main

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/YuminosukeSato/diabeteskit/artifact"
	"github.com/YuminosukeSato/diabeteskit/core/model"
	"github.com/YuminosukeSato/diabeteskit/dataset"
	"github.com/YuminosukeSato/diabeteskit/report"
	"github.com/YuminosukeSato/diabeteskit/schema"
	"github.com/YuminosukeSato/diabeteskit/sklearn/model_selection"
	"github.com/YuminosukeSato/diabeteskit/training"
)

func (a *app) trainCmd() *cobra.Command {
	var quiet bool
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Run the grid search and store the best model",
		Long: `Load the training CSV, hold out a test split, cross-validate every
candidate of the configured grid, refit the winner and store it as a new
artifact. Reports are appended to the report directory.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runTrain(cmd, quiet)
		},
	}

	flags := cmd.Flags()
	flags.String("data", "diabetes_dataset.csv", "training CSV")
	flags.String("label", "diabetes", "label column of the CSV")
	flags.Float64("test-size", training.DefaultTestSize, "fraction of rows held out")
	flags.Int("folds", model_selection.DefaultFolds, "cross-validation folds")
	flags.String("scoring", model_selection.DefaultScoring, "scoring metric ("+strings.Join(model_selection.ScoringNames(), ", ")+")")
	flags.Int("n-jobs", 0, "parallel fits (0 = number of CPUs)")
	flags.Bool("report", true, "append the markdown and CSV reports")
	flags.BoolVarP(&quiet, "quiet", "q", false, "hide the progress bar")
	_ = a.v.BindPFlag("data.path", flags.Lookup("data"))
	_ = a.v.BindPFlag("data.label", flags.Lookup("label"))
	_ = a.v.BindPFlag("data.test_size", flags.Lookup("test-size"))
	_ = a.v.BindPFlag("search.folds", flags.Lookup("folds"))
	_ = a.v.BindPFlag("search.scoring", flags.Lookup("scoring"))
	_ = a.v.BindPFlag("search.n_jobs", flags.Lookup("n-jobs"))
	_ = a.v.BindPFlag("report.enabled", flags.Lookup("report"))
	return cmd
}

func (a *app) runTrain(cmd *cobra.Command, quiet bool) error {
	cfg := a.cfg
	frame, err := dataset.LoadCSV(cfg.Data.Path, schema.Diabetes(), cfg.Data.Label)
	if err != nil {
		return err
	}

	store, err := artifact.Open(cfg.Artifacts.Dir)
	if err != nil {
		return err
	}
	defer store.Close()

	var reporters []training.Reporter
	if cfg.Report.Enabled {
		reporters = append(reporters, report.NewWriter(cfg.Report.Dir, report.WithROC(cfg.Report.ROC)))
	}

	opts := training.Options{
		TestSize:  cfg.Data.TestSize,
		SplitSeed: cfg.Data.Seed,
		Seed:      cfg.Search.Seed,
		Grids:     cfg.Search.Grids(),
		Folds:     cfg.Search.Folds,
		Scoring:   cfg.Search.Scoring,
		NJobs:     cfg.Search.NJobs,
		Store:     store,
		Reporters: reporters,
	}
	var bar *progressbar.ProgressBar
	if !quiet {
		opts.Progress = func(p model_selection.Progress) {
			if bar == nil {
				bar = newProgressBar(cmd.ErrOrStderr(), p.Total)
			}
			_ = bar.Set(p.Done)
		}
	}

	out, err := training.Run(cmd.Context(), opts, frame)
	if bar != nil {
		_ = bar.Finish()
	}
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	fmt.Fprintln(w, trainSummary(out, store.Dir()))
	for _, rerr := range out.ReportErrors {
		fmt.Fprintln(w, WarningStyle.Render("report: "+rerr.Error()))
	}
	return nil
}

func newProgressBar(w io.Writer, total int) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("[cyan][bold]Cross-validating...[reset]"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprintln(w)
		}),
	)
}

func trainSummary(out *training.Outcome, dir string) string {
	best := out.Best()
	failed := 0
	for i := range out.Search.Candidates {
		if out.Search.Candidates[i].Failed() {
			failed++
		}
	}
	candidates := fmt.Sprintf("%d", len(out.Search.Candidates))
	if failed > 0 {
		candidates += WarningStyle.Render(fmt.Sprintf(" (%d failed)", failed))
	}
	return summaryBox("Training complete", [][2]string{
		{"Best model", best.Family},
		{"Parameters", model.FormatParams(best.Params)},
		{"CV " + out.Search.Scoring, fmt.Sprintf("%s ± %s", formatScore(best.MeanScore), formatScore(best.StdScore))},
		{"Holdout accuracy", formatScore(out.Holdout.Accuracy)},
		{"Holdout ROC AUC", formatScore(out.Holdout.AUC)},
		{"Candidates", candidates},
		{"Artifact", SuccessStyle.Render(filepath.Join(dir, out.Entry.Filename))},
		{"Duration", out.Duration.Round(time.Millisecond).String()},
	})
}
