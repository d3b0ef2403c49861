package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sboxhq/sbox/pkg/client"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "sboxd",
	Short: "sbox - sandboxed Python execution service",
	Long: `sbox runs Python code in session-pinned Docker containers and keeps
every file the code produces in a content-addressed artifact store,
served over signed download URLs.

The serve command runs the daemon; the remaining commands talk to a
running daemon over its HTTP API.`,
	Version: Version,
}

func init() {
	// Set version template
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"sbox version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	// Add subcommands
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(execCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(artifactsCmd)
	rootCmd.AddCommand(datasetsCmd)
	rootCmd.AddCommand(imageCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("sbox version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime)
	},
}

const defaultDaemonAddr = "http://localhost:8000"

// daemonClient builds an API client from the command's --addr flag.
func daemonClient(cmd *cobra.Command) *client.Client {
	addr, _ := cmd.Flags().GetString("addr")
	if addr == "" {
		addr = defaultDaemonAddr
	}
	return client.NewClient(addr)
}
