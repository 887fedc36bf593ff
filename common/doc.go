// Package common provides core data structures and utilities shared across
// the nkv key-value client. It defines fundamental types, configuration
// structures, error kinds and metrics used by the other packages.
//
// The package focuses on:
//   - Configuration structures for the client data path
//   - The typed error kinds surfaced by the operation API
//   - Custom logging implementation integrated with Dragonboat's logger
//   - Operation counters exported via VictoriaMetrics
//
// Key Components:
//
//   - ClientConfig: Configuration for the client core, controlling connection
//     pooling, timeouts, socket tuning and retry behavior.
//
//   - BusinessStatusError and the Err* sentinels: the closed set of error
//     kinds an operation can terminate with. Retryable conditions are fully
//     resolved inside the client and never reach the caller unless retries
//     are exhausted.
//
//   - Logger: Custom logging implementation that integrates with Dragonboat's
//     logging system while providing consistent formatting across the
//     application.
package common
