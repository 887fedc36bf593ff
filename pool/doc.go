// Package pool owns the bounded endpoint pools of the key-value data path,
// one pool per (node, service) pair.
//
// The package focuses on:
//   - Endpoint: one pooled connection with the lifecycle
//     connecting -> ready -> draining -> closed; any I/O failure moves an
//     endpoint straight to closed and the pool replaces it on the next
//     acquire
//   - Pool: lazy dialing below the configured bound; at the bound, Acquire
//     suspends until an endpoint is released or the caller's context
//     expires - work is never silently dropped and acquire never fails
//     immediately on saturation
//   - Selection strategy: a pluggable policy choosing which idle member to
//     hand out next; round-robin is the default
//
// Draining endpoints finish their in-flight work and are closed on release;
// the pool never hands out a draining or closed endpoint.
package pool
