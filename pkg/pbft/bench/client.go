package bench

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-pbft/replica/pkg/pbft/config"
	"github.com/go-pbft/replica/pkg/pbft/core"
	"github.com/go-pbft/replica/pkg/pbft/types"
)

// Client is one synthetic benchmark client: it bootstraps its own
// Transport into the cluster (dialing every replica, and accepting the
// replicas' dial-backs the same way a replica accepts a peer's), submits
// requests, and correlates replies by operation id (a client's session
// never changes).
//
// Clients reuse core.Transport wholesale rather than a separate
// client-to-replica protocol: §4.4 addresses clients over the same Peer
// Transport mesh, at a ReplicaID in the client id range.
type Client struct {
	id        types.ClientID
	transport core.Transport
	replicas  []types.ReplicaID
	leader    int32 // index into replicas, advanced on every retry timeout

	session uint64
	nextOp  uint64

	mu      sync.Mutex
	pending map[uint64]chan types.Reply
}

// DialClient bootstraps a Client with identity id, listening on
// listenAddr and dialing every address in replicaAddrs.
func DialClient(ctx context.Context, id types.ClientID, listenAddr string, replicaAddrs map[types.ReplicaID]string, logger types.Logger) (*Client, error) {
	transport, err := core.BootstrapTCPTransport(ctx, types.ReplicaID(id), listenAddr, replicaAddrs, logger)
	if err != nil {
		return nil, fmt.Errorf("bootstrapping client %d: %w", id, err)
	}
	replicas := make([]types.ReplicaID, 0, len(replicaAddrs))
	for r := range replicaAddrs {
		replicas = append(replicas, r)
	}
	c := &Client{
		id:        id,
		transport: transport,
		replicas:  replicas,
		pending:   make(map[uint64]chan types.Reply),
	}
	go c.receiveLoop(ctx, transport.Listen())
	return c, nil
}

func (c *Client) receiveLoop(ctx context.Context, inbound <-chan core.Inbound) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-inbound:
			if !ok {
				return
			}
			if msg.Message.Kind != types.KindReply {
				continue
			}
			reply := *msg.Message.Reply
			c.mu.Lock()
			ch, ok := c.pending[reply.OperationID]
			if ok {
				delete(c.pending, reply.OperationID)
			}
			c.mu.Unlock()
			if ok {
				ch <- reply
			}
		}
	}
}

// Invoke submits payload as a new request and blocks until its reply
// arrives or ctx is canceled. On a timeout it resends to the next replica
// in round-robin order, a cheap stand-in for real leader discovery (the
// distilled spec leaves that protocol out of scope).
func (c *Client) Invoke(ctx context.Context, payload []byte, retryEvery time.Duration) (types.Reply, error) {
	opID := atomic.AddUint64(&c.nextOp, 1)
	req := types.Request{Client: c.id, Session: c.session, OperationID: opID, Payload: payload}

	wait := make(chan types.Reply, 1)
	c.mu.Lock()
	c.pending[opID] = wait
	c.mu.Unlock()

	ticker := time.NewTicker(retryEvery)
	defer ticker.Stop()

	target := c.replicas[atomic.LoadInt32(&c.leader)%int32(len(c.replicas))]
	if err := c.transport.Send(target, types.EnvelopeRequest(req)); err != nil {
		return types.Reply{}, err
	}

	for {
		select {
		case <-ctx.Done():
			c.mu.Lock()
			delete(c.pending, opID)
			c.mu.Unlock()
			return types.Reply{}, ctx.Err()
		case reply := <-wait:
			return reply, nil
		case <-ticker.C:
			atomic.AddInt32(&c.leader, 1)
			target = c.replicas[atomic.LoadInt32(&c.leader)%int32(len(c.replicas))]
			_ = c.transport.Send(target, types.EnvelopeRequest(req))
		}
	}
}

// Close tears down the client's transport.
func (c *Client) Close() error {
	return c.transport.Close()
}

// Pool drives ClientsPerPool Clients from ThreadpoolThreads worker
// goroutines, each worker keeping ConcurrentRequests outstanding at once,
// mirroring the async microbenchmark harness's client pool shape.
type Pool struct {
	cfg     config.EngineConfig
	clients []*Client
	payload []byte
}

// NewPool bootstraps cfg.ClientsPerPool clients starting at firstID.
func NewPool(ctx context.Context, cfg config.EngineConfig, firstID types.ClientID, listenAddrFor func(types.ClientID) string, replicaAddrs map[types.ReplicaID]string, logger types.Logger) (*Pool, error) {
	clients := make([]*Client, 0, cfg.ClientsPerPool)
	for i := 0; i < cfg.ClientsPerPool; i++ {
		id := firstID + types.ClientID(i)
		cl, err := DialClient(ctx, id, listenAddrFor(id), replicaAddrs, logger)
		if err != nil {
			for _, already := range clients {
				already.Close()
			}
			return nil, err
		}
		clients = append(clients, cl)
	}
	return &Pool{cfg: cfg, clients: clients, payload: fillPattern(cfg.RequestSize)}, nil
}

// Run drives offered load until ctx is canceled: worker i of
// ThreadpoolThreads sends through client i mod ClientsPerPool only,
// keeping ConcurrentRequests in flight per worker. Clients with no
// worker assigned stay idle.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	threads := p.cfg.ThreadpoolThreads
	if threads <= 0 {
		threads = 1
	}
	for t := 0; t < threads; t++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			p.runWorker(ctx, worker)
		}(t)
	}
	wg.Wait()
}

func (p *Pool) runWorker(ctx context.Context, worker int) {
	client := p.clients[worker%len(p.clients)]
	sem := make(chan struct{}, max1(p.cfg.ConcurrentRequests))
	var wg sync.WaitGroup
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case sem <- struct{}{}:
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() { <-sem }()
				_, _ = client.Invoke(ctx, p.payload, 200*time.Millisecond)
			}()
		}
	}
}

func max1(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}

// Close tears down every client in the pool.
func (p *Pool) Close() error {
	var firstErr error
	for _, c := range p.clients {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
