// Command bench drives the client-pool microbenchmark harness against a
// running cluster of replicas, per the CLIENTS_PER_POOL/CONCURRENT_RQS/
// THREADPOOL_THREADS environment contract.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/go-pbft/replica/pkg/pbft/bench"
	"github.com/go-pbft/replica/pkg/pbft/config"
	"github.com/go-pbft/replica/pkg/pbft/definition"
	"github.com/go-pbft/replica/pkg/pbft/types"
)

var rosterPath string

var rootCmd = &cobra.Command{
	Use:   "bench",
	Short: "Drive synthetic client load against a PBFT cluster",
	RunE:  runBench,
}

func init() {
	rootCmd.Flags().StringVar(&rosterPath, "roster", "", "path to the roster CSV file (required)")
	rootCmd.MarkFlagRequired("roster")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runBench(cmd *cobra.Command, args []string) error {
	cfg, err := config.FromEnvironment()
	if err != nil {
		return err
	}
	roster, err := config.ParseRosterFile(rosterPath)
	if err != nil {
		return err
	}
	if len(roster.Clients) == 0 {
		return fmt.Errorf("%w: roster has no client entries for the benchmark pool to use", types.ErrConfig)
	}

	logger := definition.NewDefaultLogger(0)
	logger.ToggleDebug(cfg.Verbose)

	replicaAddrs := make(map[types.ReplicaID]string, len(roster.Replicas))
	for _, r := range roster.Replicas {
		replicaAddrs[r.ID] = r.Address()
	}

	addrByClientID := make(map[types.ClientID]string, len(roster.Clients))
	for _, c := range roster.Clients {
		addrByClientID[c.ID] = c.Address()
	}
	firstID := roster.Clients[0].ID

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := bench.NewPool(ctx, cfg, firstID, func(id types.ClientID) string {
		if addr, ok := addrByClientID[id]; ok {
			return addr
		}
		return "127.0.0.1:0"
	}, replicaAddrs, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	pool.Run(ctx)
	return nil
}
