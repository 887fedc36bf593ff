// Package cmd implements the command-line interface of the nkv key-value
// client. It provides a hierarchical command structure for interacting with
// a cluster from the shell.
//
// The package is organized into several subpackages:
//
//   - kv: Commands for key-value operations (get, set, delete, counters, etc.)
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See nkv -help for a list of all commands.
package cmd
