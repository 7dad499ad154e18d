package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/yairfalse/instantiate/internal/journal"
)

var (
	journalSince time.Duration
	journalDir   string
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Replay the deployment journal",
	Long: `Print deploy and delete events recorded in the journal, oldest first.

Failed deploys stay in the journal even when the vendor left resources
behind, so it is the place to look for cleanup after a partial failure.`,
	Example: `  instantiate journal                # Everything retained
  instantiate journal --since 24h    # Last day only`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		var since time.Time
		if journalSince > 0 {
			since = time.Now().Add(-journalSince)
		}
		return printJournal(cmd.OutOrStdout(), journalDirectory(), since)
	},
}

func init() {
	rootCmd.AddCommand(journalCmd)

	journalCmd.Flags().DurationVar(&journalSince, "since", 0, "only show entries newer than this")
	journalCmd.Flags().StringVar(&journalDir, "dir", "", "journal directory, overrides [journal] dir")
}

func journalDirectory() string {
	if journalDir != "" {
		return journalDir
	}
	return cfg.Journal.Dir
}

func printJournal(w io.Writer, dir string, since time.Time) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tSEQ\tEVENT\tPROVIDER\tRESOURCE\tERROR")
	err := journal.Replay(dir, since, func(e *journal.Entry) error {
		id := e.ResourceID
		if id == "" {
			id = "-"
		}
		_, err := fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\n",
			e.Timestamp.Format(time.RFC3339), e.Sequence, e.Type, e.Provider, id, e.Error)
		return err
	})
	if err != nil {
		return fmt.Errorf("replay journal: %w", err)
	}
	return tw.Flush()
}
