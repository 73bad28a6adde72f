package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/YuminosukeSato/diabeteskit/artifact"
)

func (a *app) artifactsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "artifacts",
		Aliases: []string{"artifact"},
		Short:   "Inspect the artifact store",
	}
	cmd.AddCommand(a.artifactsListCmd(), a.artifactsReindexCmd())
	return cmd
}

func (a *app) artifactsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored artifacts, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := artifact.Open(a.cfg.Artifacts.Dir)
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(w, SubtleStyle.Render("No artifacts in "+store.Dir()))
				return nil
			}

			tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, HeaderStyle.Render("ID")+"\t"+HeaderStyle.Render("MODEL")+"\t"+
				HeaderStyle.Render("SCORE")+"\t"+HeaderStyle.Render("SIZE")+"\t"+HeaderStyle.Render("CREATED"))
			for i, e := range entries {
				id := e.ID
				if i == len(entries)-1 {
					id = SuccessStyle.Render(id + " (latest)")
				}
				fmt.Fprintf(tw, "%s\t%s\t%s %s\t%d\t%s\n",
					id, e.Family, formatScore(e.CVScore), SubtleStyle.Render(e.Scoring),
					e.SizeBytes, e.CreatedAt.Local().Format(time.DateTime))
			}
			return tw.Flush()
		},
	}
}

func (a *app) artifactsReindexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Add artifact files missing from the manifest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := artifact.Open(a.cfg.Artifacts.Dir)
			if err != nil {
				return err
			}
			defer store.Close()

			added, err := store.Reindex(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), SuccessStyle.Render(fmt.Sprintf("Reindexed %d artifact(s)", added)))
			return nil
		},
	}
}
