package kv

import (
	"github.com/spf13/cobra"

	"github.com/nkvdb/nkv/client"
	"github.com/nkvdb/nkv/cmd/util"
)

var (
	kvClient *client.Client

	// KeyValueCommands represents the KV command group
	KeyValueCommands = &cobra.Command{
		Use:               "kv",
		Short:             "Perform key-value operations against a cluster",
		PersistentPreRunE: setupKVClient,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitClientConfig)

	// Add common connection flags to the KV command
	util.SetupClientFlags(KeyValueCommands)

	// Add subcommands
	KeyValueCommands.AddCommand(setCmd)
	KeyValueCommands.AddCommand(getCmd)
	KeyValueCommands.AddCommand(delCmd)
	KeyValueCommands.AddCommand(incrCmd)
	KeyValueCommands.AddCommand(decrCmd)
	KeyValueCommands.AddCommand(hasCmd)
	KeyValueCommands.AddCommand(hasManyCmd)
	KeyValueCommands.AddCommand(mutateCmd)
	KeyValueCommands.AddCommand(perfTestCmd)
}

// setupKVClient initializes the data path client
func setupKVClient(cmd *cobra.Command, args []string) error {
	// cobra only executes the nearest PersistentPreRun in the parent chain,
	// so the root's hook (logger setup) must be invoked explicitly here
	if root := cmd.Root(); root != nil && root.PersistentPreRun != nil {
		root.PersistentPreRun(cmd, args)
	}

	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	config, err := util.GetClientConfig()
	if err != nil {
		return err
	}

	connector, err := util.GetConnector()
	if err != nil {
		return err
	}

	// The CLI talks to a fixed node list: install a static topology
	snap, err := util.GetStaticTopology()
	if err != nil {
		return err
	}

	kvClient = client.New(config, connector, nil)
	kvClient.ApplyTopology(snap)
	return nil
}
