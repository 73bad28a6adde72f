package main

import (
	"github.com/spf13/cobra"

	"github.com/YuminosukeSato/diabeteskit/dataset"
	"github.com/YuminosukeSato/diabeteskit/pkg/log"
	"github.com/YuminosukeSato/diabeteskit/schema"
)

func (a *app) synthCmd() *cobra.Command {
	var (
		rows int
		seed uint64
		out  string
	)
	cmd := &cobra.Command{
		Use:   "synth",
		Short: "Write a synthetic diabetes dataset as CSV",
		Long: `Generate a reproducible synthetic dataset with the columns of the diabetes
dataset and a label that depends on them. Useful for trying the pipeline
without the real data.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			frame, err := dataset.Synthetic(schema.Diabetes(), rows, seed)
			if err != nil {
				return err
			}
			w, err := openOutput(cmd, out)
			if err != nil {
				return err
			}
			if err := dataset.WriteCSV(w, frame, a.cfg.Data.Label); err != nil {
				_ = w.Close()
				return err
			}
			if err := w.Close(); err != nil {
				return err
			}
			a.logger.Info("Synthetic dataset written",
				log.SamplesKey, frame.Len(),
				log.PathKey, out,
				log.RandomSeedKey, seed,
			)
			return nil
		},
	}
	cmd.Flags().IntVarP(&rows, "rows", "n", 1000, "number of rows")
	cmd.Flags().Uint64Var(&seed, "seed", 42, "random seed")
	cmd.Flags().StringVarP(&out, "out", "o", "-", "output file (- for stdout)")
	return cmd
}
