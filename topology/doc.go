// Package topology implements partition routing for the key-value data
// path. It maps a key to the cluster node(s) responsible for it using the
// current topology snapshot.
//
// The package focuses on:
//   - Snapshot: an immutable view of the partition table, replaced wholesale
//     on every cluster reconfiguration and never mutated in place
//   - Router: holds the latest accepted snapshot in an atomic cell; routing
//     calls always observe one consistent snapshot, never a torn update
//   - Key hashing: CRC32 based partition selection, fixed by the wire
//     protocol and not configurable
//   - Batch routing: bucketing a set of keys by target node so bulk probes
//     issue one fan-out request per node instead of one per key
//
// Routing is a pure function of its inputs: the same key and snapshot always
// produce the same route. When a partition slot is marked not active
// (mid-rebalance) the router reports ErrTopologyNotReady instead of
// guessing.
package topology
