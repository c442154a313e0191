package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/orneryd/cldispatch/pkg/config"
	"github.com/orneryd/cldispatch/pkg/history"
)

func (a *app) historyCmd() *cobra.Command {
	var (
		dir   string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("history-dir") {
				cfg := config.Default()
				config.LoadFromEnv(cfg)
				dir = cfg.History.Dir
			}
			if _, err := os.Stat(dir); err != nil {
				return &usageError{err: fmt.Errorf("history directory %s: %w", dir, err)}
			}
			return a.listHistory(dir, limit)
		},
	}
	cmd.Flags().StringVar(&dir, "history-dir", "", "history directory (default from config)")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to show, 0 for all")
	return cmd
}

func (a *app) listHistory(dir string, limit int) error {
	store, err := history.Open(dir)
	if err != nil {
		return err
	}
	defer store.Close()

	recs, err := store.List(limit)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Fprintln(a.stdout, "no runs recorded")
		return nil
	}

	tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tDURATION\tPLATFORM\tENTRY\tN\tSTATE\tEXIT\tRESULT")
	for _, r := range recs {
		result := "ok"
		if !r.Succeeded() {
			result = r.ErrorKind
			if result == "" {
				result = "error"
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%d\t%s\n",
			humanize.Time(r.StartedAt), r.Duration.Round(time.Microsecond), r.Platform, r.EntryPoint,
			r.N, r.FinalState, r.ExitCode, result)
	}
	return tw.Flush()
}
