package unix

import (
	"net"

	"github.com/nkvdb/nkv/common"
	"github.com/nkvdb/nkv/transport"
)

// connector implements the IConnector interface for Unix domain sockets
type connector struct{}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IConnector)
// --------------------------------------------------------------------------

func (c *connector) GetName() string {
	return "unix"
}

func (c *connector) Connect(endpoint string) (net.Conn, error) {
	return net.Dial("unix", endpoint)
}

// UpgradeConnection applies buffer tuning to a Unix socket connection
func (c *connector) UpgradeConnection(conn net.Conn, config common.ClientConfig) error {
	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		return nil
	}

	if config.Transport.WriteBufferSize > 0 {
		if err := unixConn.SetWriteBuffer(config.Transport.WriteBufferSize); err != nil {
			return err
		}
	}

	if config.Transport.ReadBufferSize > 0 {
		if err := unixConn.SetReadBuffer(config.Transport.ReadBufferSize); err != nil {
			return err
		}
	}

	return nil
}

// --------------------------------------------------------------------------
// Connector Factory Method
// --------------------------------------------------------------------------

// NewUnixConnector creates a new Unix domain socket connector
func NewUnixConnector() transport.IConnector {
	return &connector{}
}
