package common

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Socket / transport configuration
// --------------------------------------------------------------------------

// SocketConf holds buffer settings shared by all stream transports
type SocketConf struct {
	// WriteBufferSize is the size of the socket write buffer in bytes (0 = OS default)
	WriteBufferSize int
	// ReadBufferSize is the size of the socket read buffer in bytes (0 = OS default)
	ReadBufferSize int
}

// TCPConf holds TCP specific tuning options
type TCPConf struct {
	// TCPNoDelay disables Nagle's algorithm when true
	TCPNoDelay bool
	// TCPKeepAliveSec is the keepalive interval in seconds (0 = disabled)
	TCPKeepAliveSec int
	// TCPLingerSec is the linger time in seconds (0 = OS default)
	TCPLingerSec int
}

// TransportConf groups the socket level settings of the client
type TransportConf struct {
	SocketConf
	TCPConf
}

// --------------------------------------------------------------------------
// Client configuration struct
// --------------------------------------------------------------------------

// ClientConfig holds all configuration parameters for the client data path.
// The zero value is not usable, construct via NewClientConfig so defaults
// and validation are applied in one place.
type ClientConfig struct {
	// TimeoutSecond is the default per-operation timeout
	TimeoutSecond int

	// MaxConnsPerNode bounds the endpoint pool per (node, service) pair
	MaxConnsPerNode int

	// RetryCount is the maximum number of dispatch attempts per operation
	RetryCount int

	// Transport holds socket level tuning
	Transport TransportConf
}

// NewClientConfig validates the given parameters and returns an immutable
// configuration. It replaces chained option builders: assign fields on the
// returned struct before first use if further tuning is needed.
func NewClientConfig(timeoutSecond, maxConnsPerNode, retryCount int) (ClientConfig, error) {
	if timeoutSecond <= 0 {
		return ClientConfig{}, fmt.Errorf("timeout must be > 0, got %d", timeoutSecond)
	}
	if maxConnsPerNode <= 0 {
		return ClientConfig{}, fmt.Errorf("max connections per node must be > 0, got %d", maxConnsPerNode)
	}
	if retryCount < 1 {
		retryCount = 1
	}
	return ClientConfig{
		TimeoutSecond:   timeoutSecond,
		MaxConnsPerNode: maxConnsPerNode,
		RetryCount:      retryCount,
		Transport: TransportConf{
			TCPConf: TCPConf{TCPNoDelay: true},
		},
	}, nil
}

// Timeout returns the default operation timeout as a duration
func (c *ClientConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecond) * time.Second
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// General client settings
	addSection("Client Configuration")
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Retry Count", strconv.Itoa(c.RetryCount))
	addField("Max Conns Per Node", strconv.Itoa(c.MaxConnsPerNode))

	// Socket tuning
	addSection("Transport")
	addField("TCP NoDelay", fmt.Sprintf("%t", c.Transport.TCPNoDelay))
	addField("TCP KeepAlive", fmt.Sprintf("%d sec", c.Transport.TCPKeepAliveSec))
	addField("TCP Linger", fmt.Sprintf("%d sec", c.Transport.TCPLingerSec))
	addField("Write Buffer", fmt.Sprintf("%d bytes", c.Transport.WriteBufferSize))
	addField("Read Buffer", fmt.Sprintf("%d bytes", c.Transport.ReadBufferSize))

	return sb.String()
}
