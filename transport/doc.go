// Package transport provides the byte-stream layer of the key-value data
// path. It abstracts socket handling behind a small connector interface
// with pluggable implementations (TCP, Unix sockets) and owns the
// per-connection request/response multiplexing.
//
// The package focuses on:
//   - IConnector: transport-specific dialing and socket tuning, implemented
//     by the tcp and unix subpackages
//   - Connection: one established stream carrying many concurrent requests;
//     every outbound frame is assigned a connection-unique opaque id and the
//     reader goroutine correlates responses back to their waiters, so
//     responses may interleave in any order
//
// An I/O failure immediately closes the connection and fails every pending
// request; the pool layer replaces failed connections. Bytes already
// flushed to the socket cannot be retracted by cancellation.
package transport
