package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/sboxhq/sbox/pkg/config"
	"github.com/sboxhq/sbox/pkg/runtime"
	"github.com/sboxhq/sbox/pkg/session"
	"github.com/sboxhq/sbox/pkg/storage"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage sandbox sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := daemonClient(cmd)
		sessions, err := c.ListSessions()
		if err != nil {
			return fmt.Errorf("failed to list sessions: %v", err)
		}
		if len(sessions) == 0 {
			fmt.Println("No active sessions.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
		fmt.Fprintln(w, "KEY\tSTATE\tSTORAGE\tEXECS\tAGE\tCONTAINER")
		for _, s := range sessions {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
				s.ID, s.State, s.Storage, s.ExecutionCount,
				units.HumanDuration(time.Since(s.CreatedAt)),
				s.ContainerName)
		}
		return w.Flush()
	},
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show DIRECTORY",
	Short: "Inspect a bind-mode session directory",
	Long: `Inspect the metadata, execution log, and artifacts a bind-mode
session left in its host directory. Works offline; the daemon does not
have to be running.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		dir := args[0]
		if _, err := os.Stat(dir); err != nil {
			return fmt.Errorf("session directory not found: %s", dir)
		}

		abs, err := filepath.Abs(dir)
		if err != nil {
			abs = dir
		}
		fmt.Printf("Session Directory: %s\n", abs)
		fmt.Println(strings.Repeat("=", 50))
		fmt.Println()

		showSessionMetadata(dir)
		showSessionLog(dir, limit)
		showSessionArtifacts(dir)
		return nil
	},
}

var sessionsStopCmd = &cobra.Command{
	Use:   "stop KEY",
	Short: "Stop a session and its container",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := daemonClient(cmd)
		if err := c.StopSession(args[0]); err != nil {
			return fmt.Errorf("failed to stop session: %v", err)
		}
		fmt.Printf("✓ Session %s stopped\n", args[0])
		return nil
	},
}

var sessionsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove every sandbox container and its session record",
	Long: `Remove every sandbox container on this host, running or not, along
with the session records that pointed at them. Talks to Docker directly;
run it while the daemon is stopped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		envFile, _ := cmd.Flags().GetString("env-file")
		cfg, err := config.Load(envFile)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %v", err)
		}

		rt, err := runtime.NewDockerRuntime()
		if err != nil {
			return fmt.Errorf("failed to create Docker runtime: %v", err)
		}
		defer rt.Close()

		registry, err := storage.NewBoltStore(cfg.SessionsRoot)
		if err != nil {
			return fmt.Errorf("failed to open session registry: %v", err)
		}
		defer registry.Close()

		removed, err := session.PruneContainers(context.Background(), rt, registry)
		if err != nil {
			return fmt.Errorf("failed to prune sandbox containers: %v", err)
		}
		for _, name := range removed {
			fmt.Printf("  ✓ Removed %s\n", name)
		}
		fmt.Printf("✓ Pruned %d sandbox containers\n", len(removed))
		return nil
	},
}

func init() {
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsStopCmd)
	sessionsCmd.AddCommand(sessionsPruneCmd)

	sessionsListCmd.Flags().String("addr", defaultDaemonAddr, "Daemon address")
	sessionsShowCmd.Flags().Int("limit", 0, "Show only the last N log entries")
	sessionsStopCmd.Flags().String("addr", defaultDaemonAddr, "Daemon address")
	sessionsPruneCmd.Flags().String("env-file", "", "Path to the sandbox env file")
}

// loadJSONFile reads a JSON document into a map; nil when missing or corrupt.
func loadJSONFile(path string) map[string]any {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	doc := make(map[string]any)
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil
	}
	return doc
}

// formatTimestamp renders an ISO timestamp for display, passing through
// anything it cannot parse.
func formatTimestamp(v any) string {
	s, ok := v.(string)
	if !ok {
		return "N/A"
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return s
	}
	return t.Format("2006-01-02 15:04:05")
}

func metaField(meta map[string]any, key string) any {
	if v, ok := meta[key]; ok {
		return v
	}
	return "N/A"
}

func showSessionMetadata(dir string) {
	meta := loadJSONFile(filepath.Join(dir, "session_metadata.json"))
	if meta == nil {
		fmt.Println("No metadata found.")
		return
	}

	fmt.Println("=== SESSION METADATA ===")
	fmt.Printf("Session ID: %v\n", metaField(meta, "session_id"))
	fmt.Printf("Created: %s\n", formatTimestamp(meta["created_at"]))
	fmt.Printf("Last Used: %s\n", formatTimestamp(meta["last_used"]))
	if v, ok := meta["stopped_at"]; ok {
		fmt.Printf("Stopped: %s\n", formatTimestamp(v))
	}
	fmt.Printf("Container ID: %v\n", metaField(meta, "container_id"))
	fmt.Printf("Host Port: %v\n", metaField(meta, "host_port"))
	fmt.Printf("Storage Mode: %v\n", metaField(meta, "session_storage"))
	fmt.Printf("Dataset Access: %v\n", metaField(meta, "dataset_access"))
	fmt.Printf("Image: %v\n", metaField(meta, "image"))
	fmt.Printf("Execution Count: %v\n", metaField(meta, "execution_count"))
	if v, ok := meta["final_execution_count"]; ok {
		fmt.Printf("Final Execution Count: %v\n", v)
	}
	fmt.Println()
}

// preview truncates a string for single-line display.
func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func showSessionLog(dir string, limit int) {
	raw, err := os.ReadFile(filepath.Join(dir, "session.log"))
	if err != nil {
		fmt.Println("No session log found.")
		return
	}

	fmt.Println("=== SESSION LOG ===")

	lines := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
	if limit > 0 && len(lines) > limit {
		lines = lines[len(lines)-limit:]
	}

	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		entry := make(map[string]any)
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			fmt.Printf("Invalid JSON in log: %s\n\n", strings.TrimSpace(line))
			continue
		}

		event, _ := entry["event"].(string)
		if event == "" {
			event = "unknown"
		}
		fmt.Printf("[%s] %s\n", formatTimestamp(entry["timestamp"]), event)

		switch event {
		case "code_execution":
			mark := "✗"
			if ok, _ := entry["success"].(bool); ok {
				mark = "✓"
			}
			code, _ := entry["code"].(string)
			fmt.Printf("  %s Code: %s\n", mark, preview(code, 100))
			if stdout, _ := entry["stdout"].(string); stdout != "" {
				fmt.Printf("    Output: %s\n", preview(stdout, 200))
			}
			if errMsg, _ := entry["error"].(string); errMsg != "" {
				fmt.Printf("    Error: %s\n", preview(errMsg, 200))
			}

		case "artifacts_created":
			count := 0
			if v, ok := entry["artifact_count"].(float64); ok {
				count = int(v)
			}
			fmt.Printf("  Created %d artifacts\n", count)
			if items, ok := entry["artifacts"].([]any); ok {
				shown := items
				if len(shown) > 3 {
					shown = shown[:3]
				}
				for _, item := range shown {
					a, ok := item.(map[string]any)
					if !ok {
						continue
					}
					size := 0
					if v, ok := a["size_bytes"].(float64); ok {
						size = int(v)
					}
					fmt.Printf("    - %v (%d bytes)\n", metaField(a, "filename"), size)
				}
				if count > 3 {
					fmt.Printf("    ... and %d more\n", count-3)
				}
			}

		case "session_started", "session_reattached", "session_stopped":
			fmt.Printf("  Container: %v\n", metaField(entry, "container_id"))
		}

		fmt.Println()
	}
}

func showSessionArtifacts(dir string) {
	root := filepath.Join(dir, "artifacts")
	if _, err := os.Stat(root); err != nil {
		fmt.Println("No artifacts directory found.")
		return
	}

	fmt.Println("=== ARTIFACTS ===")
	showDirContents(root, 0)
	fmt.Println()
}

func showDirContents(path string, indent int) {
	prefix := strings.Repeat("  ", indent)
	entries, err := os.ReadDir(path)
	if err != nil {
		fmt.Printf("%s[%v]\n", prefix, err)
		return
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, e := range entries {
		if e.IsDir() {
			fmt.Printf("%s%s/\n", prefix, e.Name())
			showDirContents(filepath.Join(path, e.Name()), indent+1)
			continue
		}
		var size int64
		if info, err := e.Info(); err == nil {
			size = info.Size()
		}
		fmt.Printf("%s%s (%d bytes)\n", prefix, e.Name(), size)
	}
}
