package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"
)

var execCmd = &cobra.Command{
	Use:   "exec",
	Short: "Execute Python code in a session",
	Long: `Execute Python code in a session's sandbox container via a running
daemon. The session is created on first use; variables persist across
calls against the same session key.

Code comes from --code, from --file, or from stdin when --file is '-'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID, _ := cmd.Flags().GetString("session")
		code, _ := cmd.Flags().GetString("code")
		file, _ := cmd.Flags().GetString("file")
		timeout, _ := cmd.Flags().GetInt("timeout")
		downloadDir, _ := cmd.Flags().GetString("download")

		if code == "" && file != "" {
			var (
				data []byte
				err  error
			)
			if file == "-" {
				data, err = io.ReadAll(os.Stdin)
			} else {
				data, err = os.ReadFile(file)
			}
			if err != nil {
				return fmt.Errorf("failed to read code: %v", err)
			}
			code = string(data)
		}
		if code == "" {
			return fmt.Errorf("provide code with --code or --file")
		}

		c := daemonClient(cmd)
		res, err := c.Exec(sessionID, code, timeout)
		if err != nil {
			return fmt.Errorf("exec failed: %v", err)
		}

		if res.Stdout != "" {
			fmt.Print(res.Stdout)
			if res.Stdout[len(res.Stdout)-1] != '\n' {
				fmt.Println()
			}
		}
		if res.Error != "" {
			fmt.Fprintln(os.Stderr, res.Error)
		}

		if len(res.Artifacts) > 0 {
			fmt.Printf("\nArtifacts (%d):\n", len(res.Artifacts))
			for _, a := range res.Artifacts {
				if a.Error != "" {
					fmt.Printf("  ✗ %s: %s\n", a.Name, a.Error)
					continue
				}
				fmt.Printf("  ✓ %s (%s)\n", a.Name, units.HumanSize(float64(a.Size)))
				if a.URL != "" {
					fmt.Printf("    %s\n", a.URL)
				}
			}
		}

		if downloadDir != "" {
			for _, a := range res.Artifacts {
				if a.URL == "" {
					continue
				}
				dest := filepath.Join(downloadDir, a.Name)
				n, derr := c.Download(a.URL, dest)
				if derr != nil {
					fmt.Fprintf(os.Stderr, "Warning: download of %s failed: %v\n", a.Name, derr)
					continue
				}
				fmt.Printf("  ✓ Downloaded %s (%s)\n", dest, units.HumanSize(float64(n)))
			}
		}

		if !res.OK {
			return fmt.Errorf("execution failed")
		}
		return nil
	},
}

func init() {
	execCmd.Flags().String("session", "", "Session key")
	execCmd.Flags().String("code", "", "Python code to execute")
	execCmd.Flags().String("file", "", "File with Python code ('-' reads stdin)")
	execCmd.Flags().Int("timeout", 0, "Execution timeout in seconds (0 uses the daemon default)")
	execCmd.Flags().String("download", "", "Download produced artifacts into this directory")
	execCmd.Flags().String("addr", defaultDaemonAddr, "Daemon address")
	execCmd.MarkFlagRequired("session")
}
