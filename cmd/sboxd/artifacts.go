package main

import (
	"fmt"
	"net/url"
	"os"
	"path"
	"text/tabwriter"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"
)

var artifactsCmd = &cobra.Command{
	Use:   "artifacts",
	Short: "Browse and download session artifacts",
}

var artifactsListCmd = &cobra.Command{
	Use:   "ls",
	Short: "List a session's artifacts",
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID, _ := cmd.Flags().GetString("session")
		showURLs, _ := cmd.Flags().GetBool("urls")

		c := daemonClient(cmd)
		arts, err := c.SessionArtifacts(sessionID)
		if err != nil {
			return fmt.Errorf("failed to list artifacts: %v", err)
		}
		if len(arts) == 0 {
			fmt.Println("No artifacts.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tFILENAME\tMIME\tSIZE\tCREATED")
		for _, a := range arts {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				a.ID, a.Filename, a.MIME,
				units.HumanSize(float64(a.Size)), a.CreatedAt)
		}
		if err := w.Flush(); err != nil {
			return err
		}

		if showURLs {
			fmt.Println()
			for _, a := range arts {
				fmt.Printf("%s  %s\n", a.ID, a.DownloadURL)
			}
		}
		return nil
	},
}

var artifactsGetCmd = &cobra.Command{
	Use:   "get URL",
	Short: "Download an artifact from its signed URL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rawURL := args[0]
		out, _ := cmd.Flags().GetString("out")
		if out == "" {
			u, err := url.Parse(rawURL)
			if err != nil {
				return fmt.Errorf("invalid artifact URL: %v", err)
			}
			out = path.Base(u.Path)
		}

		c := daemonClient(cmd)
		n, err := c.Download(rawURL, out)
		if err != nil {
			return fmt.Errorf("download failed: %v", err)
		}
		fmt.Printf("✓ Saved %s (%s)\n", out, units.HumanSize(float64(n)))
		return nil
	},
}

func init() {
	artifactsCmd.AddCommand(artifactsListCmd)
	artifactsCmd.AddCommand(artifactsGetCmd)

	artifactsListCmd.Flags().String("session", "", "Session key")
	artifactsListCmd.Flags().Bool("urls", false, "Also print signed download URLs")
	artifactsListCmd.Flags().String("addr", defaultDaemonAddr, "Daemon address")
	artifactsListCmd.MarkFlagRequired("session")

	artifactsGetCmd.Flags().String("out", "", "Destination path (default: artifact id in the current directory)")
	artifactsGetCmd.Flags().String("addr", defaultDaemonAddr, "Daemon address")
}
