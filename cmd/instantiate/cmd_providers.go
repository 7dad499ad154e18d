package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/yairfalse/instantiate/pkg/resource"
)

var providersStatus bool

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List registered providers and their connection status",
	Example: `  instantiate providers            # Names only
  instantiate providers --status   # Refresh and classify each provider`,
	RunE: runProviders,
}

func init() {
	rootCmd.AddCommand(providersCmd)

	providersCmd.Flags().BoolVar(&providersStatus, "status", false, "refresh every provider and show its status")
}

func runProviders(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	if !providersStatus {
		for _, p := range a.manager.Providers() {
			fmt.Fprintln(out, p)
		}
		return nil
	}
	return printStatuses(out, a.manager.ProviderStatuses(cmd.Context()))
}

func printStatuses(w io.Writer, statuses []resource.ProviderStatus) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PROVIDER\tSTATUS\tRESOURCES\tCOST\tLAST SYNC\tERROR")
	for _, s := range statuses {
		cost := "-"
		if s.TotalCost != nil {
			cost = fmt.Sprintf("%.2f", *s.TotalCost)
		}
		lastSync := "-"
		if s.LastSync != nil {
			lastSync = s.LastSync.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n", s.Provider, s.Status, s.ResourceCount, cost, lastSync, s.Error)
	}
	return tw.Flush()
}
