package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nkvdb/nkv/cmd/kv"
	"github.com/nkvdb/nkv/cmd/util"
	"github.com/nkvdb/nkv/common"
)

const (
	Version = "0.3.1"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "nkv",
		Short: "key-value data path client",
		Long: fmt.Sprintf(`nkv (v%s)

A client for partitioned key-value clusters speaking the binary
key-value protocol, with connection pooling, retries and durability
observation.`, Version),
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			level, _ := cmd.Flags().GetString("log-level")
			common.InitLoggers(level)
		},
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of nkv",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("nkv v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(kv.KeyValueCommands)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "transport"
	RootCmd.PersistentFlags().String(key, "tcp", util.WrapString("transport to use (tcp, unix)"))
	key = "log-level"
	RootCmd.PersistentFlags().String(key, "warn", util.WrapString("log level (debug, info, warn, error)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
