// Command observer attaches to one replica and prints every protocol
// milestone it relays (replicas send pre-prepared, prepared and committed
// milestones; no executed milestone is sent), for ad hoc inspection of a
// running cluster.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/go-pbft/replica/pkg/pbft/config"
	"github.com/go-pbft/replica/pkg/pbft/core"
	"github.com/go-pbft/replica/pkg/pbft/definition"
	"github.com/go-pbft/replica/pkg/pbft/types"
)

var (
	rosterPath string
	targetID   uint32
	listenAddr string
)

var rootCmd = &cobra.Command{
	Use:   "observer",
	Short: "Watch protocol milestones relayed by one replica",
	RunE:  runObserver,
}

func init() {
	rootCmd.Flags().StringVar(&rosterPath, "roster", "", "path to the roster CSV file (required)")
	rootCmd.Flags().Uint32Var(&targetID, "replica", 0, "replica id to register with")
	rootCmd.Flags().StringVar(&listenAddr, "listen", "127.0.0.1:0", "address this observer listens on")
	rootCmd.MarkFlagRequired("roster")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runObserver(cmd *cobra.Command, args []string) error {
	roster, err := config.ParseRosterFile(rosterPath)
	if err != nil {
		return err
	}

	logger := definition.NewDefaultLogger(types.ReplicaID(1 << 20))

	replicaAddrs := make(map[types.ReplicaID]string, len(roster.Replicas))
	for _, r := range roster.Replicas {
		replicaAddrs[r.ID] = r.Address()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Observers take ids from 1<<20 upward: inside the client id range
	// (which starts at types.FirstClientID), above the ids rosters
	// normally give clients. Nothing checks for a collision.
	selfID := types.ReplicaID(1<<20) + types.ReplicaID(os.Getpid()%1000)
	transport, err := core.BootstrapTCPTransport(ctx, selfID, listenAddr, replicaAddrs, logger)
	if err != nil {
		return err
	}

	obs, err := core.NewObserverClient(ctx, transport, types.ReplicaID(targetID))
	if err != nil {
		return err
	}
	logger.Infof("observer %s watching replica %d", obs.ID(), targetID)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	for ev := range obs.Events() {
		fmt.Printf("view=%d seq=%d kind=%s digest=%x\n", ev.View, ev.Seq, observerKindString(ev.Kind), ev.Digest)
	}
	return transport.Close()
}

func observerKindString(kind types.ObserverEventKind) string {
	switch kind {
	case types.ObserverPrePrepared:
		return "pre-prepared"
	case types.ObserverPrepared:
		return "prepared"
	case types.ObserverCommitted:
		return "committed"
	case types.ObserverExecuted:
		return "executed"
	default:
		return "unknown " + strconv.Itoa(int(kind))
	}
}
