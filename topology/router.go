package topology

import (
	"sync/atomic"

	"github.com/lni/dragonboat/v4/logger"
	"github.com/nkvdb/nkv/common"
)

var log = logger.GetLogger("topology")

// --------------------------------------------------------------------------
// Route results
// --------------------------------------------------------------------------

// Route is the resolved target of one key: its partition id, the primary
// node endpoint and the replica endpoints in table order.
type Route struct {
	Partition uint16
	Primary   string
	Replicas  []string
}

// RoutedKey is one key of a batch together with its partition id, carried
// along so per-node fan-out responses can be demultiplexed.
type RoutedKey struct {
	Key       []byte
	Partition uint16
}

// --------------------------------------------------------------------------
// Router
// --------------------------------------------------------------------------

// Router resolves keys to nodes using the latest accepted topology
// snapshot. The snapshot reference is swapped atomically; in-flight routing
// calls always observe a single consistent snapshot.
type Router struct {
	current atomic.Pointer[Snapshot]
}

// NewRouter creates a router with no snapshot installed. Routing calls
// report ErrTopologyNotReady until Apply delivers the first configuration.
func NewRouter() *Router {
	return &Router{}
}

// Apply installs a newer topology snapshot. Stale revisions are rejected so
// out-of-order configuration deliveries cannot roll the table back.
func (r *Router) Apply(s *Snapshot) bool {
	for {
		cur := r.current.Load()
		if cur != nil && cur.rev >= s.rev {
			log.Debugf("Ignoring stale topology rev %d (current %d)", s.rev, cur.rev)
			return false
		}
		if r.current.CompareAndSwap(cur, s) {
			log.Infof("Applied topology rev %d: %d nodes, %d partitions, %d replicas",
				s.rev, len(s.nodes), len(s.partitions), s.numReplicas)
			return true
		}
	}
}

// Snapshot returns the currently installed snapshot, or nil before the
// first Apply.
func (r *Router) Snapshot() *Snapshot {
	return r.current.Load()
}

// Route resolves the primary and replica nodes for a key. Slots marked not
// active (mid-rebalance) and a missing snapshot both surface as
// ErrTopologyNotReady, which the request lifecycle retries with backoff.
func (r *Router) Route(key []byte) (Route, error) {
	s := r.current.Load()
	if s == nil {
		return Route{}, common.ErrTopologyNotReady
	}

	partition := PartitionForKey(key, len(s.partitions))
	slots := s.partitions[partition]

	if slots[0] == slotNotActive {
		return Route{}, common.ErrTopologyNotReady
	}

	route := Route{
		Partition: partition,
		Primary:   s.nodes[slots[0]],
	}
	for _, idx := range slots[1:] {
		if idx == slotNotActive {
			continue
		}
		route.Replicas = append(route.Replicas, s.nodes[idx])
	}
	return route, nil
}

// RouteBatch buckets keys by their primary node so one fan-out request can
// be issued per node rather than per key. The whole batch fails with
// ErrTopologyNotReady if any key's partition has no active primary, so
// callers can defer and retry it as a unit.
func (r *Router) RouteBatch(keys [][]byte) (map[string][]RoutedKey, error) {
	s := r.current.Load()
	if s == nil {
		return nil, common.ErrTopologyNotReady
	}

	buckets := make(map[string][]RoutedKey)
	for _, key := range keys {
		partition := PartitionForKey(key, len(s.partitions))
		slots := s.partitions[partition]
		if slots[0] == slotNotActive {
			return nil, common.ErrTopologyNotReady
		}
		node := s.nodes[slots[0]]
		buckets[node] = append(buckets[node], RoutedKey{Key: key, Partition: partition})
	}
	return buckets, nil
}
