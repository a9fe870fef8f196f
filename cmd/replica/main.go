// Command replica boots a single PBFT replica process, wiring together
// the roster, the engine configuration, the TCP peer transport, and one
// of the available Service implementations.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/go-pbft/replica/pkg/pbft/bench"
	"github.com/go-pbft/replica/pkg/pbft/config"
	"github.com/go-pbft/replica/pkg/pbft/core"
	"github.com/go-pbft/replica/pkg/pbft/crypto"
	"github.com/go-pbft/replica/pkg/pbft/definition"
	"github.com/go-pbft/replica/pkg/pbft/kvstore"
	"github.com/go-pbft/replica/pkg/pbft/metrics"
	"github.com/go-pbft/replica/pkg/pbft/persistentlog"
	"github.com/go-pbft/replica/pkg/pbft/types"
)

var (
	rosterPath string
	service    string
	dbPath     string
	hmacKeyHex string
)

var rootCmd = &cobra.Command{
	Use:   "replica",
	Short: "Run a single PBFT replica",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Bootstrap this replica's transport and start the consensus engine",
	RunE:  runReplica,
}

func init() {
	runCmd.Flags().StringVar(&rosterPath, "roster", "", "path to the roster CSV file (required)")
	runCmd.Flags().StringVar(&service, "service", "bench", "service to run: bench | kvstore")
	runCmd.Flags().StringVar(&dbPath, "db", "", "bbolt persistent log path (empty disables durability)")
	runCmd.Flags().StringVar(&hmacKeyHex, "hmac-key", "", "shared HMAC key hex (dev/test signer; empty disables signature checks)")
	runCmd.MarkFlagRequired("roster")
	rootCmd.AddCommand(runCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runReplica(cmd *cobra.Command, args []string) error {
	self, err := config.ReplicaIDFromEnvironment()
	if err != nil {
		return err
	}
	cfg, err := config.FromEnvironment()
	if err != nil {
		return err
	}

	roster, err := config.ParseRosterFile(rosterPath)
	if err != nil {
		return err
	}

	logger := definition.NewDefaultLogger(self)
	logger.ToggleDebug(cfg.Verbose)

	selfEntry, ok := roster.ReplicaByID(self)
	if !ok {
		return fmt.Errorf("%w: replica %d not present in roster", types.ErrConfig, self)
	}

	peerAddrs := make(map[types.ReplicaID]string)
	for _, r := range roster.Replicas {
		if r.ID == self {
			continue
		}
		peerAddrs[r.ID] = r.Address()
	}
	for _, c := range roster.Clients {
		peerAddrs[c.ID] = c.Address()
	}

	signer := dummySigner{}
	if hmacKeyHex != "" {
		key, err := hex.DecodeString(hmacKeyHex)
		if err != nil {
			return fmt.Errorf("%w: --hmac-key: %v", types.ErrConfig, err)
		}
		keys := make(map[types.ReplicaID][]byte, len(roster.Replicas))
		for _, r := range roster.Replicas {
			keys[r.ID] = key
		}
		signer = dummySigner{hmac: crypto.NewHMACSigner(keys)}
	}

	var svc types.Service
	switch service {
	case "bench":
		svc = bench.NewService(cfg)
	case "kvstore":
		svc = kvstore.NewService()
	default:
		return fmt.Errorf("%w: unknown service %q", types.ErrConfig, service)
	}

	persistentLog := types.PersistentLog(persistentlog.NewNoopLog())
	if dbPath != "" {
		boltLog, err := persistentlog.OpenBoltLog(dbPath)
		if err != nil {
			return err
		}
		persistentLog = boltLog
	}

	measurements := metrics.NewMeasurements(cfg.MeasurementInterval, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	replicaCfg := core.ReplicaConfig{
		Self:                self,
		ListenAddr:          selfEntry.Address(),
		Peers:               peerAddrs,
		BatchSize:           cfg.BatchSize,
		BatchTimeout:        cfg.BatchTimeout,
		BatchSleep:          cfg.BatchSleep,
		PipelineWindow:      cfg.PipelineWindow,
		RequestPoolCapacity: cfg.BatchSize * 4,
	}

	replica, err := core.NewReplica(ctx, replicaCfg, signer.signer(), crypto.NewBlake2bHasher(), svc, persistentLog, measurements, logger)
	if err != nil {
		return err
	}
	replica.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	return replica.Shutdown()
}

// dummySigner wraps an optional HMAC signer; with no key configured every
// message is accepted unverified, which is adequate for local development
// and tests but never for a real deployment.
type dummySigner struct {
	hmac *crypto.HMACSigner
}

func (d dummySigner) signer() types.Signer {
	if d.hmac != nil {
		return d.hmac
	}
	return acceptAllSigner{}
}

type acceptAllSigner struct{}

func (acceptAllSigner) Sign(types.ReplicaID, []byte) (types.Signature, error) { return nil, nil }
func (acceptAllSigner) Verify(types.ReplicaID, []byte, types.Signature) bool  { return true }
