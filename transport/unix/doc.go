// Package unix implements the Unix domain socket connector for the
// transport layer. Useful for co-located deployments and tests where the
// binary protocol is served on a local socket.
package unix
