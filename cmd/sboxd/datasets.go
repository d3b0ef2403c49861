package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var datasetsCmd = &cobra.Command{
	Use:   "datasets",
	Short: "Inspect and stage datasets",
}

var datasetsListCmd = &cobra.Command{
	Use:   "ls",
	Short: "List datasets visible to a session",
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID, _ := cmd.Flags().GetString("session")

		c := daemonClient(cmd)
		available, entries, err := c.ListDatasets(sessionID)
		if err != nil {
			return fmt.Errorf("failed to list datasets: %v", err)
		}

		if len(available) == 0 {
			fmt.Println("No datasets available.")
		} else {
			fmt.Printf("Available (%d):\n", len(available))
			for _, id := range available {
				fmt.Printf("  %s\n", id)
			}
		}

		if len(entries) > 0 {
			fmt.Println()
			w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tTIMESTAMP")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\n", e.ID, e.Status, e.Timestamp)
			}
			return w.Flush()
		}
		return nil
	},
}

var datasetsStageCmd = &cobra.Command{
	Use:   "stage ID...",
	Short: "Stage datasets into a session's container",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID, _ := cmd.Flags().GetString("session")

		c := daemonClient(cmd)
		staged, err := c.StageDatasets(sessionID, args)
		if err != nil {
			return fmt.Errorf("failed to stage datasets: %v", err)
		}
		for _, d := range staged {
			fmt.Printf("  ✓ %s → %s (%s)\n", d.ID, d.PathInContainer, d.Source)
		}
		fmt.Printf("✓ Staged %d datasets\n", len(staged))
		return nil
	},
}

func init() {
	datasetsCmd.AddCommand(datasetsListCmd)
	datasetsCmd.AddCommand(datasetsStageCmd)

	datasetsListCmd.Flags().String("session", "", "Session key")
	datasetsListCmd.Flags().String("addr", defaultDaemonAddr, "Daemon address")
	datasetsListCmd.MarkFlagRequired("session")

	datasetsStageCmd.Flags().String("session", "", "Session key")
	datasetsStageCmd.Flags().String("addr", defaultDaemonAddr, "Daemon address")
	datasetsStageCmd.MarkFlagRequired("session")
}
