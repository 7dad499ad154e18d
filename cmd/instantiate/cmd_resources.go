package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/yairfalse/instantiate/pkg/resource"
)

var resourcesCmd = &cobra.Command{
	Use:   "resources",
	Short: "List every resource Instantiate created, across providers",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		all, err := a.manager.AllResources(cmd.Context(), true)
		if err != nil {
			return err
		}
		return printResources(cmd.OutOrStdout(), all)
	},
}

var deleteCmd = &cobra.Command{
	Use:     "delete PROVIDER TYPE ID",
	Short:   "Delete one resource",
	Example: `  instantiate delete digitalocean droplet 3164444`,
	Args:    cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.manager.DeleteResource(cmd.Context(), args[0], args[2], args[1]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %s %s %s\n", args[0], args[1], args[2])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(resourcesCmd)
	rootCmd.AddCommand(deleteCmd)
}

func printResources(w io.Writer, resources []resource.Resource) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PROVIDER\tTYPE\tID\tNAME\tREGION\tSTATUS\tCREATED\tURL")
	for _, r := range resources {
		created := "-"
		if !r.CreatedAt.IsZero() {
			created = r.CreatedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Provider, r.Type, r.ID, r.Name, r.Region, r.Status, created, r.URL)
	}
	return tw.Flush()
}
