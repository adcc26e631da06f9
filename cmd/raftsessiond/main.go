package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/raftsession/pkg/api"
	"github.com/cuemby/raftsession/pkg/log"
	"github.com/cuemby/raftsession/pkg/metrics"
	"github.com/cuemby/raftsession/pkg/raftfsm"
	"github.com/spf13/cobra"
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
	Use:   "raftsessiond",
	Short: "raftsessiond - a hashicorp/raft cluster member hosting the session state machine",
	Long: `raftsessiond runs one replica of a Raft-replicated session core: client
sessions register, keep-alive, submit commands, and receive published events
through a single state machine node, the way a Raft-backed key/value store
or queue would host its own domain state.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"raftsessiond version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(bootstrapCmd)
	rootCmd.AddCommand(joinCmd)
	rootCmd.AddCommand(runCmd)

	for _, cmd := range []*cobra.Command{bootstrapCmd, joinCmd, runCmd} {
		cmd.Flags().String("node-id", "node-1", "unique node ID")
		cmd.Flags().String("bind-addr", "127.0.0.1:7950", "address for Raft peer communication")
		cmd.Flags().String("transport-addr", "127.0.0.1:7951", "address the session transport's Publish RPC listens on")
		cmd.Flags().String("admin-addr", "127.0.0.1:7952", "address the admin HTTP surface listens on")
		cmd.Flags().String("data-dir", "./raftsession-data", "data directory for BoltDB and Raft state")
	}
	joinCmd.Flags().String("leader-addr", "", "current Raft leader's address, printed as the node expected to AddVoter this one (required)")
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Initialize a new single-node cluster with this node as its only member",
	RunE: func(cmd *cobra.Command, args []string) error {
		node, err := newNodeFromFlags(cmd)
		if err != nil {
			return err
		}
		if err := node.Bootstrap(); err != nil {
			return fmt.Errorf("failed to bootstrap cluster: %w", err)
		}
		fmt.Println("cluster bootstrapped")
		return serve(cmd, node)
	},
}

var joinCmd = &cobra.Command{
	Use:   "join",
	Short: "Start this node's Raft instance expecting the leader to AddVoter it",
	RunE: func(cmd *cobra.Command, args []string) error {
		leaderAddr, _ := cmd.Flags().GetString("leader-addr")
		if leaderAddr == "" {
			return fmt.Errorf("--leader-addr is required")
		}

		node, err := newNodeFromFlags(cmd)
		if err != nil {
			return err
		}
		if err := node.Join(); err != nil {
			return fmt.Errorf("failed to join cluster: %w", err)
		}
		fmt.Printf("raft started, waiting to be added as a voter by %s\n", leaderAddr)
		return serve(cmd, node)
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a node, bootstrapping a single-node cluster if its data directory is empty",
	Long: `run is the convenience path for local experimentation: it bootstraps a
fresh single-node cluster the first time it's pointed at an empty data
directory, and otherwise just starts serving (Raft replays its own log and
snapshots from data-dir on restart).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, _ := cmd.Flags().GetString("data-dir")
		fresh := true
		if entries, err := os.ReadDir(dataDir); err == nil && len(entries) > 0 {
			fresh = false
		}

		node, err := newNodeFromFlags(cmd)
		if err != nil {
			return err
		}
		if fresh {
			if err := node.Bootstrap(); err != nil {
				return fmt.Errorf("failed to bootstrap cluster: %w", err)
			}
			fmt.Println("cluster bootstrapped")
		} else {
			if err := node.Join(); err != nil {
				return fmt.Errorf("failed to restart raft: %w", err)
			}
			fmt.Println("raft restarted from existing data directory")
		}
		return serve(cmd, node)
	},
}

func newNodeFromFlags(cmd *cobra.Command) (*raftfsm.Node, error) {
	nodeID, _ := cmd.Flags().GetString("node-id")
	bindAddr, _ := cmd.Flags().GetString("bind-addr")
	transportAddr, _ := cmd.Flags().GetString("transport-addr")
	dataDir, _ := cmd.Flags().GetString("data-dir")

	return raftfsm.NewNode(&raftfsm.Config{
		NodeID:        nodeID,
		BindAddr:      bindAddr,
		DataDir:       dataDir,
		TransportAddr: transportAddr,
	})
}

// serve starts the admin HTTP surface and metrics collector for node, runs a
// stale-session expiry loop, and blocks until an interrupt signal arrives.
func serve(cmd *cobra.Command, node *raftfsm.Node) error {
	adminAddr, _ := cmd.Flags().GetString("admin-addr")

	metrics.SetVersion(Version)
	metrics.RegisterComponent("raft", true, "started")

	collector := raftfsm.NewMetricsCollector(node)
	collector.Start()
	defer collector.Stop()

	healthServer := api.NewHealthServer(node)
	errCh := make(chan error, 1)
	go func() {
		if err := healthServer.Start(adminAddr); err != nil {
			errCh <- fmt.Errorf("admin HTTP server error: %w", err)
		}
	}()
	fmt.Printf("admin HTTP surface listening on %s\n", adminAddr)

	expiryTicker := time.NewTicker(time.Second)
	defer expiryTicker.Stop()
	stopExpiry := make(chan struct{})
	go func() {
		for {
			select {
			case now := <-expiryTicker.C:
				node.ExpireStale(now)
			case <-stopExpiry:
				return
			}
		}
	}()
	defer close(stopExpiry)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		fmt.Println("\nshutting down...")
	case err := <-errCh:
		fmt.Fprintf(os.Stderr, "\n%v\n", err)
	}

	if err := node.Shutdown(); err != nil {
		return fmt.Errorf("failed to shut down cleanly: %w", err)
	}
	fmt.Println("shutdown complete")
	return nil
}
