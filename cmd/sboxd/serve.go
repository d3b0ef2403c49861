package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sboxhq/sbox/pkg/api"
	"github.com/sboxhq/sbox/pkg/artifacts"
	"github.com/sboxhq/sbox/pkg/config"
	"github.com/sboxhq/sbox/pkg/datasets"
	"github.com/sboxhq/sbox/pkg/events"
	"github.com/sboxhq/sbox/pkg/health"
	"github.com/sboxhq/sbox/pkg/log"
	"github.com/sboxhq/sbox/pkg/metrics"
	"github.com/sboxhq/sbox/pkg/reconciler"
	"github.com/sboxhq/sbox/pkg/runtime"
	"github.com/sboxhq/sbox/pkg/session"
	"github.com/sboxhq/sbox/pkg/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sbox daemon",
	Long: `Run the sbox daemon: the session manager, the artifact HTTP server,
and the background janitor.

Sandbox settings come from the env file (or the process environment);
daemon settings come from the optional YAML config. Flags override
individual sandbox settings.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		envFile, _ := cmd.Flags().GetString("env-file")
		configPath, _ := cmd.Flags().GetString("config")
		storageMode, _ := cmd.Flags().GetString("storage")
		datasetAccess, _ := cmd.Flags().GetString("datasets")
		sessionsRoot, _ := cmd.Flags().GetString("sessions-root")
		datasetsDir, _ := cmd.Flags().GetString("datasets-dir")
		hybridPath, _ := cmd.Flags().GetString("hybrid-path")
		image, _ := cmd.Flags().GetString("image")
		tmpfsMB, _ := cmd.Flags().GetInt("tmpfs-mb")
		datasetAPI, _ := cmd.Flags().GetString("dataset-api")

		cfg, err := config.LoadWithOverrides(config.Overrides{
			SessionStorage:  storageMode,
			DatasetAccess:   datasetAccess,
			SessionsRoot:    sessionsRoot,
			DatasetsHostRO:  datasetsDir,
			HybridLocalPath: hybridPath,
			SandboxImage:    image,
			TmpfsSizeMB:     tmpfsMB,
			EnvFile:         envFile,
		})
		if err != nil {
			return fmt.Errorf("failed to load configuration: %v", err)
		}

		scfg, err := config.LoadServerConfig(configPath)
		if err != nil {
			return fmt.Errorf("failed to load server configuration: %v", err)
		}

		log.Init(log.Config{
			Level:      log.Level(scfg.Log.Level),
			JSONOutput: scfg.Log.JSON,
		})
		metrics.SetVersion(Version)

		fmt.Println("Starting sbox daemon...")
		fmt.Printf("  Session storage: %s\n", cfg.SessionStorage)
		fmt.Printf("  Dataset access: %s\n", cfg.DatasetAccess)
		fmt.Printf("  Sandbox image: %s\n", cfg.SandboxImage)
		fmt.Printf("  Sessions root: %s\n", cfg.SessionsRoot)
		fmt.Printf("  Blobstore: %s\n", cfg.BlobstoreDir)
		fmt.Println()

		ctx := context.Background()

		// Container runtime
		rt, err := runtime.NewDockerRuntime()
		if err != nil {
			return fmt.Errorf("failed to create Docker runtime: %v", err)
		}
		if err := rt.Ping(ctx); err != nil {
			return fmt.Errorf("failed to reach Docker daemon: %v", err)
		}
		metrics.RegisterComponent("docker", true, "connected")
		fmt.Println("✓ Docker runtime connected")

		// Artifact store and token signer
		store, err := artifacts.Open(artifacts.Options{
			DBPath:  cfg.ArtifactsDBPath,
			BlobDir: cfg.BlobstoreDir,
		})
		if err != nil {
			return fmt.Errorf("failed to open artifact store: %v", err)
		}
		metrics.RegisterComponent("store", true, "catalog open")
		fmt.Println("✓ Artifact store ready")

		signer, err := artifacts.NewSigner(artifacts.SignerOptions{
			Secret:        cfg.ArtifactsSecret,
			TTL:           time.Duration(cfg.TokenTTLSeconds) * time.Second,
			PublicBaseURL: cfg.PublicBaseURL,
			ServerPort:    cfg.ServerPort,
		})
		if err != nil {
			return fmt.Errorf("failed to create token signer: %v", err)
		}
		if cfg.SecretGenerated {
			fmt.Println("  Warning: ARTIFACTS_SECRET not set; download URLs stop working after a restart")
		}
		ingestor := artifacts.NewIngestor(store, signer, cfg.MaxArtifactSizeMB)

		// Session registry
		registry, err := storage.NewBoltStore(cfg.SessionsRoot)
		if err != nil {
			return fmt.Errorf("failed to open session registry: %v", err)
		}
		fmt.Println("✓ Session registry open")

		// Event broker and health monitor
		broker := events.NewBroker()
		broker.Start()

		// Mirror the event stream into the debug log. Unsubscribe closes
		// the channel, ending the goroutine on shutdown.
		eventSub := broker.Subscribe()
		go func() {
			for ev := range eventSub {
				log.Logger.Debug().
					Str("component", "events").
					Str("type", string(ev.Type)).
					Str("session_id", ev.SessionID).
					Msg(ev.Message)
			}
		}()

		monitor := health.NewMonitor(health.DefaultConfig(), func(sessionID string, healthy bool, status health.Status) {
			if healthy {
				log.Logger.Info().
					Str("session_id", sessionID).
					Msg("session REPL healthy")
				return
			}
			log.Logger.Warn().
				Str("session_id", sessionID).
				Int("consecutive_failures", status.ConsecutiveFailures).
				Str("last_error", status.LastResult.Message).
				Msg("session REPL unhealthy")
		})

		// Dataset staging
		cache := datasets.NewCache(cfg)
		fetch := datasets.NewHTTPFetcher(datasetAPI)
		dsMgr := datasets.NewManager(cfg, cache, rt, fetch)

		// Session manager
		mgr, err := session.NewManager(cfg, session.Options{
			Runtime:       rt,
			Ingestor:      ingestor,
			Registry:      registry,
			Monitor:       monitor,
			Broker:        broker,
			Datasets:      dsMgr,
			IdleTimeout:   scfg.Sessions.IdleTimeout.Std(),
			SweepInterval: scfg.Sessions.SweepInterval.Std(),
		})
		if err != nil {
			return fmt.Errorf("failed to create session manager: %v", err)
		}

		// Janitor: either clear out leftover containers, or adopt them
		if scfg.Janitor.PruneOnStart {
			removed, perr := session.PruneContainers(ctx, rt, registry)
			if perr != nil {
				return fmt.Errorf("failed to prune sandbox containers: %v", perr)
			}
			fmt.Printf("✓ Pruned %d leftover sandbox containers\n", len(removed))
		} else {
			adopted, aerr := mgr.Adopt(ctx)
			if aerr != nil {
				fmt.Fprintf(os.Stderr, "Warning: session adoption failed: %v\n", aerr)
			}
			fmt.Printf("✓ Adopted %d running sessions\n", adopted)
		}

		mgr.StartSweeper()
		fmt.Println("✓ Session manager started")

		// Background reconciler
		recon := reconciler.NewReconciler(reconciler.Options{
			Registry:      registry,
			Live:          mgr,
			Runtime:       rt,
			Interval:      scfg.Janitor.ReconcileInterval.Std(),
			RemoveOrphans: scfg.Janitor.RemoveOrphans,
		})
		recon.Start()
		fmt.Println("✓ Reconciler started")

		// Metrics collector
		collector := metrics.NewCollector(mgr, store)
		collector.Start()

		// HTTP API
		srv, err := api.NewServer(cfg, api.Options{
			Sessions:    mgr,
			Store:       store,
			Signer:      signer,
			Datasets:    dsMgr,
			ListenHost:  scfg.Listen.Host,
			ListenPorts: scfg.Listen.Ports,
		})
		if err != nil {
			return fmt.Errorf("failed to create API server: %v", err)
		}
		port, err := srv.Start()
		if err != nil {
			return fmt.Errorf("failed to start API server: %v", err)
		}
		fmt.Printf("✓ API server listening on port %d\n", port)

		fmt.Println()
		fmt.Println("Daemon is running. Press Ctrl+C to stop.")

		// Wait for interrupt signal
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh
		fmt.Println("\nShutting down...")

		// Shutdown
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: API shutdown: %v\n", err)
		}
		recon.Stop()
		collector.Stop()
		mgr.Close()
		monitor.Stop()
		broker.Unsubscribe(eventSub)
		broker.Stop()
		store.Close()
		registry.Close()
		rt.Close()

		fmt.Println("✓ Shutdown complete")
		return nil
	},
}

func init() {
	serveCmd.Flags().String("config", "", "Path to the daemon YAML config")
	serveCmd.Flags().String("env-file", "", "Path to the sandbox env file (default ./sandbox.env when present)")
	serveCmd.Flags().String("storage", "", "Session storage mode: tmpfs or bind")
	serveCmd.Flags().String("datasets", "", "Dataset access mode: none, local_ro, api, or hybrid")
	serveCmd.Flags().String("sessions-root", "", "Host directory for bind-mode session directories")
	serveCmd.Flags().String("datasets-dir", "", "Host directory of read-only datasets")
	serveCmd.Flags().String("hybrid-path", "", "Local dataset directory consulted before the dataset service")
	serveCmd.Flags().String("image", "", "Sandbox container image")
	serveCmd.Flags().Int("tmpfs-mb", 0, "tmpfs size per session in MB")
	serveCmd.Flags().String("dataset-api", "", "Base URL of the dataset service used for API staging")
}
