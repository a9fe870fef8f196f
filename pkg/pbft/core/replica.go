package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-pbft/replica/pkg/pbft/types"
)

// ReplicaConfig is the subset of configuration a Replica needs to boot,
// narrowed from config.EngineConfig plus bootstrap addressing so core
// never imports the config package.
type ReplicaConfig struct {
	Self       types.ReplicaID
	ListenAddr string
	Peers      map[types.ReplicaID]string // excludes Self; may include client ids (>= FirstClientID)

	BatchSize      int
	BatchTimeout   time.Duration
	BatchSleep     time.Duration
	PipelineWindow int

	RequestPoolCapacity int
}

// Replica is the top-level assembly of the four components named in the
// component design: Peer Transport, Message Router, Consensus Engine and
// Execution Pipeline, plus the crypto, logging, config and persistence
// collaborators every component is handed at construction. Start/Shutdown
// give it the same lifecycle shape as the teacher's Unity actor.
type Replica struct {
	cfg    ReplicaConfig
	logger types.Logger

	transport *TCPTransport
	router    *Router
	engine    *Engine
	pipeline  *ExecutionPipeline
	pool      *RequestPool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewReplica bootstraps the Peer Transport (blocking until every peer link
// is up) and wires the remaining components around it. It does not start
// any goroutines beyond transport bootstrap; call Start for that.
func NewReplica(ctx context.Context, cfg ReplicaConfig, signer types.Signer, hasher types.Hasher, service types.Service, log types.PersistentLog, metrics ExecutionObserver, logger types.Logger) (*Replica, error) {
	// N counts replicas only; client entries share the transport mesh.
	n := 1
	for id := range cfg.Peers {
		if types.ClientID(id) < types.FirstClientID {
			n++
		}
	}

	transport, err := BootstrapTCPTransport(ctx, cfg.Self, cfg.ListenAddr, cfg.Peers, logger)
	if err != nil {
		return nil, fmt.Errorf("bootstrapping replica %d: %w", cfg.Self, err)
	}

	router := NewRouter(0, cfg.PipelineWindow, logger)
	pool := NewRequestPool(cfg.RequestPoolCapacity)

	engine := NewEngine(EngineParams{
		Self:           cfg.Self,
		N:              n,
		Transport:      transport,
		Router:         router,
		Signer:         signer,
		Hasher:         hasher,
		Logger:         logger,
		Pool:           pool,
		Log:            log,
		BatchSize:      cfg.BatchSize,
		BatchTimeout:   cfg.BatchTimeout,
		BatchSleep:     cfg.BatchSleep,
		PipelineWindow: cfg.PipelineWindow,
	})

	pipeline := NewExecutionPipeline(service, transport, log, logger, metrics, 0, engine.AdvanceLow)

	innerCtx, cancel := context.WithCancel(ctx)
	return &Replica{
		cfg:       cfg,
		logger:    logger,
		transport: transport,
		router:    router,
		engine:    engine,
		pipeline:  pipeline,
		pool:      pool,
		ctx:       innerCtx,
		cancel:    cancel,
	}, nil
}

// Start launches the Consensus Engine and Execution Pipeline actors. It
// returns immediately; both actors run until Shutdown is called or the
// parent context passed to NewReplica is canceled.
func (r *Replica) Start() {
	r.wg.Add(2)
	go func() {
		defer r.wg.Done()
		r.engine.Run(r.ctx)
	}()
	go func() {
		defer r.wg.Done()
		r.pipeline.Run(r.ctx, r.engine.Decided())
	}()
	r.logger.Infof("replica %d started on %s", r.cfg.Self, r.transport.LocalAddress())
}

// Submit is the in-process entry point a colocated client uses to submit a
// request directly into this replica's request pool, bypassing the wire.
// The bench client harness does not use it; it sends requests over the
// transport.
func (r *Replica) Submit(req types.Request) {
	r.pool.Submit(req)
}

// Shutdown cancels the replica's context, waits for both actors to exit,
// and tears down the transport. It is safe to call once.
func (r *Replica) Shutdown() error {
	r.cancel()
	r.pool.Close()
	r.wg.Wait()
	return r.transport.Close()
}
