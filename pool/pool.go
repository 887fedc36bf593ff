package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/nkvdb/nkv/common"
	"github.com/nkvdb/nkv/memd"
	"github.com/nkvdb/nkv/transport"
)

var log = logger.GetLogger("pool")

// --------------------------------------------------------------------------
// Service types
// --------------------------------------------------------------------------

// ServiceType names the cluster service an endpoint is bound to. Only the
// key-value service speaks the binary protocol implemented here; the other
// services share the pooling infrastructure.
type ServiceType string

const (
	ServiceKV        ServiceType = "kv"
	ServiceQuery     ServiceType = "query"
	ServiceAnalytics ServiceType = "analytics"
	ServiceSearch    ServiceType = "search"
)

// --------------------------------------------------------------------------
// Endpoint
// --------------------------------------------------------------------------

// EndpointState is the lifecycle state of one pooled connection
type EndpointState int32

const (
	StateConnecting EndpointState = iota
	StateReady
	StateDraining
	StateClosed
)

// String returns the string representation of an EndpointState
func (s EndpointState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Endpoint is one pooled connection bound to a (node, service) pair. It is
// owned by the pool; callers only borrow a reference between Acquire and
// Release.
type Endpoint struct {
	node    string
	service ServiceType
	conn    *transport.Connection
	state   atomic.Int32
}

// Node returns the node address this endpoint is bound to
func (e *Endpoint) Node() string { return e.node }

// State returns the current lifecycle state
func (e *Endpoint) State() EndpointState { return EndpointState(e.state.Load()) }

// Send dispatches one frame over the endpoint. An I/O failure transitions
// the endpoint to closed; the pool replaces it on the next acquire.
func (e *Endpoint) Send(ctx context.Context, pkt *memd.Packet) (*memd.Packet, error) {
	if e.State() == StateClosed {
		return nil, common.ErrConnClosed
	}

	resp, err := e.conn.Send(ctx, pkt)
	if err != nil {
		var te *common.TransportError
		if e.conn.IsClosed() || errors.As(err, &te) {
			e.close()
		}
		return nil, err
	}
	return resp, nil
}

// drain marks the endpoint as draining: in-flight work finishes, the pool
// closes it on release and never hands it out again.
func (e *Endpoint) drain() {
	e.state.CompareAndSwap(int32(StateReady), int32(StateDraining))
}

func (e *Endpoint) close() {
	prev := EndpointState(e.state.Swap(int32(StateClosed)))
	if prev != StateClosed {
		e.conn.Close()
		common.PoolClosed.Inc()
	}
}

// --------------------------------------------------------------------------
// Pool
// --------------------------------------------------------------------------

// Pool manages the bounded endpoint pools of all (node, service) pairs.
type Pool struct {
	connector transport.IConnector
	config    common.ClientConfig
	strategy  ISelectionStrategy
	pools     *xsync.MapOf[string, *nodePool]
	closed    atomic.Bool
}

// nodePool is the bounded member set of one (node, service) pair. The
// semaphore channel carries one token per held endpoint; acquiring a token
// is the right to either take an idle member or dial a new one.
type nodePool struct {
	node    string
	service ServiceType
	parent  *Pool

	sem     chan struct{}
	mu      sync.Mutex
	idle    []*Endpoint
	members []*Endpoint
}

// NewPool creates an endpoint pool using the given connector and selection
// strategy. A nil strategy falls back to round-robin.
func NewPool(connector transport.IConnector, config common.ClientConfig, strategy ISelectionStrategy) *Pool {
	if strategy == nil {
		strategy = NewRoundRobinStrategy()
	}
	return &Pool{
		connector: connector,
		config:    config,
		strategy:  strategy,
		pools:     xsync.NewMapOf[string, *nodePool](),
	}
}

func poolKey(node string, service ServiceType) string {
	return node + "|" + string(service)
}

func (p *Pool) nodePoolFor(node string, service ServiceType) *nodePool {
	np, _ := p.pools.LoadOrCompute(poolKey(node, service), func() *nodePool {
		return &nodePool{
			node:    node,
			service: service,
			parent:  p,
			sem:     make(chan struct{}, p.config.MaxConnsPerNode),
		}
	})
	return np
}

// Acquire borrows an endpoint for one send. When the pool is below its
// bound a new connection is dialed lazily; at the bound the call suspends
// until a member is released or ctx expires. Work is never dropped.
func (p *Pool) Acquire(ctx context.Context, node string, service ServiceType) (*Endpoint, error) {
	if p.closed.Load() {
		return nil, fmt.Errorf("pool is closed")
	}

	np := p.nodePoolFor(node, service)

	select {
	case np.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	ep, err := np.takeOrDial(ctx)
	if err != nil {
		<-np.sem
		return nil, err
	}
	return ep, nil
}

// Release returns a borrowed endpoint to its pool. Draining and closed
// endpoints are retired instead of being reused.
func (p *Pool) Release(ep *Endpoint) {
	np := p.nodePoolFor(ep.node, ep.service)

	switch ep.State() {
	case StateReady:
		np.mu.Lock()
		np.idle = append(np.idle, ep)
		np.mu.Unlock()
	case StateDraining:
		log.Infof("Closing drained endpoint to %s", ep.node)
		ep.close()
	default:
		// closed endpoints are simply dropped
	}

	<-np.sem
}

// DrainNode marks every endpoint of a node as draining, for all services.
// Called when the node leaves the topology. Idle members close immediately;
// leased members finish their in-flight work and close on release.
func (p *Pool) DrainNode(node string) {
	p.pools.Range(func(key string, np *nodePool) bool {
		if np.node != node {
			return true
		}
		np.mu.Lock()
		for _, ep := range np.members {
			ep.drain()
		}
		for _, ep := range np.idle {
			ep.close()
		}
		np.idle = nil
		np.members = retainLive(np.members)
		np.mu.Unlock()
		return true
	})
	log.Infof("Draining all endpoints of node %s", node)
}

// retainLive drops closed endpoints from a member list
func retainLive(members []*Endpoint) []*Endpoint {
	live := members[:0]
	for _, ep := range members {
		if ep.State() != StateClosed {
			live = append(live, ep)
		}
	}
	return live
}

// Close shuts down all pools and their endpoints
func (p *Pool) Close() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	p.pools.Range(func(key string, np *nodePool) bool {
		np.mu.Lock()
		for _, ep := range np.members {
			ep.close()
		}
		np.idle = nil
		np.members = nil
		np.mu.Unlock()
		return true
	})
}

// takeOrDial hands out an idle ready member, or dials a new connection when
// none is available. The caller already holds a semaphore token.
func (np *nodePool) takeOrDial(ctx context.Context) (*Endpoint, error) {
	np.mu.Lock()
	for len(np.idle) > 0 {
		i := np.parent.strategy.Select(np.idle)
		ep := np.idle[i]
		np.idle = append(np.idle[:i], np.idle[i+1:]...)
		if ep.State() == StateReady {
			np.mu.Unlock()
			return ep, nil
		}
		// stale member, retire and keep looking
		ep.close()
	}
	np.mu.Unlock()

	ep := &Endpoint{node: np.node, service: np.service}
	ep.state.Store(int32(StateConnecting))

	conn, err := transport.Dial(np.parent.connector, np.node, np.parent.config)
	if err != nil {
		ep.state.Store(int32(StateClosed))
		return nil, err
	}

	ep.conn = conn
	ep.state.Store(int32(StateReady))

	np.mu.Lock()
	np.members = append(retainLive(np.members), ep)
	np.mu.Unlock()

	common.PoolDialed.Inc()
	log.Debugf("Dialed new %s endpoint to %s", np.service, np.node)
	return ep, nil
}
