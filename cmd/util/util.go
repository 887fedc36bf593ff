package util

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nkvdb/nkv/common"
	"github.com/nkvdb/nkv/topology"
	"github.com/nkvdb/nkv/transport"
	"github.com/nkvdb/nkv/transport/tcp"
	"github.com/nkvdb/nkv/transport/unix"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		// Add the word
		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	// Add any remaining text
	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// SetupClientFlags adds common connection flags to a command
func SetupClientFlags(cmd *cobra.Command) {
	key := "timeout"
	cmd.PersistentFlags().Int(key, 10, WrapString("The timeout in seconds of the client"))

	key = "nodes"
	cmd.PersistentFlags().String(key, "localhost:11210", WrapString("The cluster nodes to connect to, as a comma-separated list of host:port pairs"))

	key = "partitions"
	cmd.PersistentFlags().Int(key, 1024, WrapString("The number of partitions of the cluster (must be a power of two)"))

	key = "conns-per-node"
	cmd.PersistentFlags().Int(key, 1, WrapString("Simultaneous connections per node"))

	key = "retries"
	cmd.PersistentFlags().Int(key, 3, WrapString("How many times to dispatch an operation before giving up"))

	key = "write-buffer"
	cmd.PersistentFlags().Int(key, 512, WrapString("The size of the socket write buffer (in KB)"))

	key = "read-buffer"
	cmd.PersistentFlags().Int(key, 512, WrapString("The size of the socket read buffer (in KB)"))

	key = "tcp-nodelay"
	cmd.PersistentFlags().Bool(key, true, WrapString("Whether to enable TCP_NODELAY for the connection (only for tcp)"))

	key = "tcp-keepalive"
	cmd.PersistentFlags().Int(key, 0, WrapString("The keepalive interval for the connection (in seconds, only for tcp)"))

	key = "tcp-linger"
	cmd.PersistentFlags().Int(key, 0, WrapString("The linger time for the connection (in seconds, only for tcp)"))
}

// InitClientConfig initializes configuration from environment variables
func InitClientConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("nkv")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// GetClientConfig reads client configuration from viper
func GetClientConfig() (common.ClientConfig, error) {
	conf, err := common.NewClientConfig(
		viper.GetInt("timeout"),
		viper.GetInt("conns-per-node"),
		viper.GetInt("retries"),
	)
	if err != nil {
		return common.ClientConfig{}, err
	}

	conf.Transport = common.TransportConf{
		SocketConf: common.SocketConf{
			WriteBufferSize: viper.GetInt("write-buffer") * 1024,
			ReadBufferSize:  viper.GetInt("read-buffer") * 1024,
		},
		TCPConf: common.TCPConf{
			TCPKeepAliveSec: viper.GetInt("tcp-keepalive"),
			TCPLingerSec:    viper.GetInt("tcp-linger"),
			TCPNoDelay:      viper.GetBool("tcp-nodelay"),
		},
	}

	return conf, nil
}

// GetConnector creates the connector based on configuration
func GetConnector() (transport.IConnector, error) {
	switch viper.GetString("transport") {
	case "tcp":
		return tcp.NewTCPConnector(), nil
	case "unix":
		return unix.NewUnixConnector(), nil
	default:
		return nil, fmt.Errorf("invalid transport %s", viper.GetString("transport"))
	}
}

// GetNodes retrieves the configured cluster node list
func GetNodes() []string {
	return strings.Split(viper.GetString("nodes"), ",")
}

// GetStaticTopology builds a topology snapshot from the configured node
// list, assigning partitions round-robin with no replicas. This stands in
// for the cluster configuration feed when the CLI talks to a fixed set of
// nodes.
func GetStaticTopology() (*topology.Snapshot, error) {
	nodes := GetNodes()
	numPartitions := viper.GetInt("partitions")

	partitions := make([][]int16, numPartitions)
	for i := range partitions {
		partitions[i] = []int16{int16(i % len(nodes))}
	}

	return topology.NewSnapshot(1, nodes, partitions, 0)
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}
