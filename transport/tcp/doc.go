// Package tcp implements the TCP connector for the transport layer. It
// dials plain TCP connections and applies the socket tuning options of the
// client configuration (NoDelay, buffer sizes, keepalive, linger).
package tcp
