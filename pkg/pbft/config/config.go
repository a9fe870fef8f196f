// Package config loads the immutable EngineConfig and cluster Roster from
// the environment-variable and roster-file contracts named by the
// specification's external interfaces. Nothing here is mutated after
// load: the engine receives EngineConfig by value at construction.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-pbft/replica/pkg/pbft/types"
)

// EngineConfig is the explicit, immutable configuration struct the
// distilled spec names in its design notes, replacing the original
// prototype's scattered environment variables and static constants.
type EngineConfig struct {
	// BatchSize bounds the number of requests the leader gathers into a
	// single proposed batch.
	BatchSize int

	// BatchTimeout bounds how long the leader waits to fill a batch
	// before sealing whatever it has. Whichever of BatchSize/BatchTimeout
	// fires first seals the batch.
	BatchTimeout time.Duration

	// BatchSleep, when non-zero, is an artificial delay the leader waits
	// between batch-formation attempts, used by the benchmark harness to
	// throttle offered load.
	BatchSleep time.Duration

	// RequestSize, ReplySize and StateSize size the synthetic payloads
	// used by the microbenchmark harness.
	RequestSize int
	ReplySize   int
	StateSize   int

	// ClientsPerPool and ConcurrentRequests and ThreadpoolThreads size the
	// benchmark client harness in cmd/bench.
	ClientsPerPool     int
	ConcurrentRequests int
	ThreadpoolThreads  int

	// MeasurementInterval is the number of executed batches between
	// the metrics package's periodic log lines.
	MeasurementInterval int

	// Verbose enables debug-level logging.
	Verbose bool

	// RunAsClient selects the benchmark client harness instead of a
	// replica process, per the CLIENT environment key.
	RunAsClient bool

	// PipelineWindow bounds the number of concurrent in-flight slots (W in
	// the distilled spec's state-machine table). W=1 is always correct;
	// W>1 pipelines proposals while preserving I3 at execution time.
	PipelineWindow int
}

// DefaultEngineConfig returns the configuration a bare replica boots with
// before environment overrides are applied.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		BatchSize:           100,
		BatchTimeout:        50 * time.Millisecond,
		RequestSize:         1024,
		ReplySize:           1024,
		StateSize:           1024,
		ClientsPerPool:      1,
		ConcurrentRequests:  1,
		ThreadpoolThreads:   1,
		MeasurementInterval: 10000,
		PipelineWindow:      1,
	}
}

// FromEnvironment overlays the environment keys named in the external
// interfaces contract onto a default EngineConfig. Missing keys keep their
// default value; malformed values return a wrapped types.ErrConfig.
func FromEnvironment() (EngineConfig, error) {
	cfg := DefaultEngineConfig()

	if err := overlayInt(&cfg.BatchSize, "GLOBAL_BATCH_SIZE"); err != nil {
		return EngineConfig{}, err
	}
	if err := overlayMicros(&cfg.BatchTimeout, "BATCH_TIMEOUT_MICROS"); err != nil {
		return EngineConfig{}, err
	}
	if err := overlayMicros(&cfg.BatchSleep, "BATCH_SLEEP_MICROS"); err != nil {
		return EngineConfig{}, err
	}
	if err := overlayInt(&cfg.ClientsPerPool, "CLIENTS_PER_POOL"); err != nil {
		return EngineConfig{}, err
	}
	if err := overlayInt(&cfg.ConcurrentRequests, "CONCURRENT_RQS"); err != nil {
		return EngineConfig{}, err
	}
	if err := overlayInt(&cfg.ThreadpoolThreads, "THREADPOOL_THREADS"); err != nil {
		return EngineConfig{}, err
	}

	cfg.RunAsClient = os.Getenv("CLIENT") == "1"
	if v, ok := os.LookupEnv("VERBOSE"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return EngineConfig{}, fmt.Errorf("%w: VERBOSE=%q: %v", types.ErrConfig, v, err)
		}
		cfg.Verbose = b
	}

	return cfg, nil
}

func overlayInt(dst *int, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%w: %s=%q: %v", types.ErrConfig, key, v, err)
	}
	*dst = n
	return nil
}

func overlayMicros(dst *time.Duration, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %s=%q: %v", types.ErrConfig, key, v, err)
	}
	*dst = time.Duration(n) * time.Microsecond
	return nil
}

// ReplicaIDFromEnvironment reads the required ID key.
func ReplicaIDFromEnvironment() (types.ReplicaID, error) {
	v, ok := os.LookupEnv("ID")
	if !ok {
		return 0, fmt.Errorf("%w: ID is required", types.ErrConfig)
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: ID=%q: %v", types.ErrConfig, v, err)
	}
	return types.ReplicaID(n), nil
}

// DefaultListenAddress is the prototype's listen address convention:
// 127.0.0.1:10000+id.
func DefaultListenAddress(id types.ReplicaID) string {
	return fmt.Sprintf("127.0.0.1:%d", 10000+uint32(id))
}
