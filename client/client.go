package client

import (
	"context"

	"github.com/lni/dragonboat/v4/logger"

	"github.com/nkvdb/nkv/common"
	"github.com/nkvdb/nkv/durability"
	"github.com/nkvdb/nkv/memd"
	"github.com/nkvdb/nkv/pool"
	"github.com/nkvdb/nkv/topology"
	"github.com/nkvdb/nkv/transport"
)

var log = logger.GetLogger("client")

// --------------------------------------------------------------------------
// Client
// --------------------------------------------------------------------------

// Client is the caller-facing entry to the key-value data path. It is bound
// to one collection; Collection returns a rebound handle sharing the same
// pools and topology.
type Client struct {
	config     common.ClientConfig
	router     *topology.Router
	pool       *pool.Pool
	retry      IRetryStrategy
	durability *durability.Engine

	collectionsEnabled bool
	collectionID       uint32
}

// New creates a client using the given connector for all connections.
// Operations fail with a topology error until ApplyTopology installs the
// first configuration. A nil retry strategy falls back to best-effort.
func New(config common.ClientConfig, connector transport.IConnector, retry IRetryStrategy) *Client {
	if retry == nil {
		retry = NewBestEffortRetryStrategy(config.RetryCount)
	}

	router := topology.NewRouter()
	p := pool.NewPool(connector, config, nil)

	return &Client{
		config:     config,
		router:     router,
		pool:       p,
		retry:      retry,
		durability: durability.NewEngine(router, p),
	}
}

// ApplyTopology installs a new topology snapshot, fed by the external
// configuration collaborator. Endpoints of nodes that left the topology
// are drained.
func (c *Client) ApplyTopology(s *topology.Snapshot) bool {
	prev := c.router.Snapshot()
	if !c.router.Apply(s) {
		return false
	}

	if prev != nil {
		current := make(map[string]bool, len(s.Nodes()))
		for _, node := range s.Nodes() {
			current[node] = true
		}
		for _, node := range prev.Nodes() {
			if !current[node] {
				c.pool.DrainNode(node)
			}
		}
	}
	return true
}

// Collection returns a handle bound to the given collection id. Keys are
// transparently prefixed on the wire.
func (c *Client) Collection(cid uint32) *Client {
	rebound := *c
	rebound.collectionsEnabled = true
	rebound.collectionID = cid
	return &rebound
}

// Close shuts down all pooled connections
func (c *Client) Close() {
	c.pool.Close()
	log.Infof("Client closed")
}

// wireKey maps a logical key to its on-wire form
func (c *Client) wireKey(key string) []byte {
	if c.collectionsEnabled {
		return memd.KeyWithCollectionID(c.collectionID, []byte(key))
	}
	return []byte(key)
}

// --------------------------------------------------------------------------
// Option structs
// --------------------------------------------------------------------------

// UpsertOptions tunes a mutation. The zero value is a plain upsert.
type UpsertOptions struct {
	Flags  uint32
	Expiry uint32
	// Cas turns the upsert into a cas-checked replace when non-zero
	Cas uint64
	// Durability blocks the return until the requirement is met
	Durability durability.Requirement
}

// CounterOptions tunes an increment or decrement. When Initial is nil the
// operation reports key-not-found on missing documents instead of creating
// the counter.
type CounterOptions struct {
	Initial *uint64
	Expiry  uint32
}

// --------------------------------------------------------------------------
// Operations
// --------------------------------------------------------------------------

// Get fetches a document
func (c *Client) Get(ctx context.Context, key string) (memd.GetResult, error) {
	wkey := c.wireKey(key)
	op := newOperation("get", wkey, c.retry, func(vbucket uint16) (*memd.Packet, error) {
		return memd.NewGetRequest(wkey, vbucket), nil
	})

	resp, err := c.execute(ctx, op)
	if err != nil {
		return memd.GetResult{}, err
	}
	return memd.DecodeGetResponse(resp, key)
}

// Upsert stores a document, optionally blocking until the requested
// durability is confirmed. On ErrDurabilityTimeout the primary write has
// already happened; only its durability is unconfirmed.
func (c *Client) Upsert(ctx context.Context, key string, value []byte, opts UpsertOptions) (memd.MutationResult, error) {
	wkey := c.wireKey(key)
	op := newOperation("upsert", wkey, c.retry, func(vbucket uint16) (*memd.Packet, error) {
		return memd.NewSetRequest(wkey, value, opts.Flags, opts.Expiry, opts.Cas, vbucket), nil
	})

	resp, err := c.execute(ctx, op)
	if err != nil {
		return memd.MutationResult{}, err
	}

	result, err := memd.DecodeMutationResponse(resp, key)
	if err != nil {
		return memd.MutationResult{}, err
	}

	if !opts.Durability.IsZero() {
		if err := c.observeDurability(ctx, wkey, key, result.Cas, opts.Durability); err != nil {
			return result, err
		}
	}
	return result, nil
}

// Delete removes a document. A non-zero cas makes the removal conditional.
func (c *Client) Delete(ctx context.Context, key string, cas uint64) (memd.MutationResult, error) {
	wkey := c.wireKey(key)
	op := newOperation("delete", wkey, c.retry, func(vbucket uint16) (*memd.Packet, error) {
		return memd.NewDeleteRequest(wkey, cas, vbucket), nil
	})

	resp, err := c.execute(ctx, op)
	if err != nil {
		return memd.MutationResult{}, err
	}
	return memd.DecodeMutationResponse(resp, key)
}

// Increment adds delta to a counter document
func (c *Client) Increment(ctx context.Context, key string, delta uint64, opts CounterOptions) (memd.CounterResult, error) {
	return c.counter(ctx, memd.OpIncrement, "increment", key, delta, opts)
}

// Decrement subtracts delta from a counter document
func (c *Client) Decrement(ctx context.Context, key string, delta uint64, opts CounterOptions) (memd.CounterResult, error) {
	return c.counter(ctx, memd.OpDecrement, "decrement", key, delta, opts)
}

func (c *Client) counter(ctx context.Context, opcode memd.Opcode, name, key string, delta uint64, opts CounterOptions) (memd.CounterResult, error) {
	wkey := c.wireKey(key)
	op := newOperation(name, wkey, c.retry, func(vbucket uint16) (*memd.Packet, error) {
		return memd.NewCounterRequest(opcode, wkey, delta, opts.Initial, opts.Expiry, vbucket)
	})

	resp, err := c.execute(ctx, op)
	if err != nil {
		return memd.CounterResult{}, err
	}
	return memd.DecodeCounterResponse(resp, key)
}

// Exists probes a document's metadata without fetching its body. A missing
// key is a valid outcome, not an error.
func (c *Client) Exists(ctx context.Context, key string) (memd.ExistsResult, error) {
	wkey := c.wireKey(key)
	op := newOperation("exists", wkey, c.retry, func(vbucket uint16) (*memd.Packet, error) {
		return memd.NewGetMetaRequest(wkey, vbucket), nil
	})

	resp, err := c.execute(ctx, op)
	if err != nil {
		return memd.ExistsResult{}, err
	}
	return memd.DecodeGetMetaResponse(resp, key)
}

// MutateIn applies an ordered list of path-level commands to one document
// in a single frame. Results are returned in the order the commands were
// given, regardless of how the server processed them.
func (c *Client) MutateIn(ctx context.Context, key string, cas uint64, commands []memd.SubdocCommand) ([]memd.SubdocResult, memd.MutationResult, error) {
	for i := range commands {
		commands[i].OriginalIndex = i
	}

	wkey := c.wireKey(key)

	// The body order is fixed at encode time and needed again for the
	// response demux
	var ordered []memd.SubdocCommand
	op := newOperation("mutateIn", wkey, c.retry, func(vbucket uint16) (*memd.Packet, error) {
		pkt, o, err := memd.NewSubdocMutateRequest(wkey, cas, vbucket, commands)
		if err != nil {
			return nil, err
		}
		ordered = o
		return pkt, nil
	})

	resp, err := c.execute(ctx, op)
	if err != nil {
		return nil, memd.MutationResult{}, err
	}
	return memd.DecodeSubdocMutateResponse(resp, ordered, key)
}

// observeDurability applies the operation timeout default before handing
// off to the engine
func (c *Client) observeDurability(ctx context.Context, wkey []byte, key string, cas uint64, req durability.Requirement) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.Timeout())
		defer cancel()
	}

	if err := c.durability.Observe(ctx, wkey, cas, req); err != nil {
		return &common.OpError{Op: "observe", Key: key, Err: err}
	}
	return nil
}
