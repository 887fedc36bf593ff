// Package durability implements the replication and persistence
// observation engine. After a mutation's primary write succeeds, the engine
// polls the nodes holding the key's partition with observe requests until
// the caller's requirement is met, the mutation is superseded, or the
// deadline elapses.
//
// Requirements come in two shapes: the legacy ReplicateTo/PersistTo pair
// with explicit numeric thresholds, and the composite durability levels
// (majority, majority-and-persist-active, persist-to-majority) whose
// thresholds derive from the partition's replica count. Both are closed
// types with explicit threshold accessors; no comparison logic relies on
// declaration order.
//
// A node answering with a different cas than the mutation's means the write
// has been superseded: polling stops immediately with
// ErrDurabilityConflict instead of waiting out the timeout. An elapsed
// deadline surfaces as ErrDurabilityTimeout, distinct from
// ErrOperationTimeout: the primary mutation itself already happened.
package durability
