package kv

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nkvdb/nkv/client"
	"github.com/nkvdb/nkv/cmd/util"
	"github.com/nkvdb/nkv/durability"
	"github.com/nkvdb/nkv/memd"
)

var (
	setCmd = &cobra.Command{
		Use:   "set [key] [value]",
		Short: "Sets the value for a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			value := args[1]

			opts, err := upsertOptions(cmd)
			if err != nil {
				return err
			}

			if result, err := kvClient.Upsert(context.Background(), key, []byte(value), opts); err != nil {
				return err
			} else {
				fmt.Printf("set successfully, cas=%d\n", result.Cas)
			}
			return nil
		},
	}
	getCmd = &cobra.Command{
		Use:   "get [key]",
		Short: "Reads the value for a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			if resp, err := kvClient.Get(context.Background(), key); err != nil {
				return err
			} else {
				fmt.Printf("key=%s, cas=%d, flags=%d, value=%s\n", key, resp.Cas, resp.Flags, resp.Value)
			}
			return nil
		},
	}
	delCmd = &cobra.Command{
		Use:   "del [key]",
		Short: "Deletes a key value pair",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			cas, err := cmd.Flags().GetUint64("cas")
			if err != nil {
				return err
			}
			if _, err := kvClient.Delete(context.Background(), key, cas); err != nil {
				return err
			} else {
				fmt.Println("delete successfully")
			}
			return nil
		},
	}
	incrCmd = &cobra.Command{
		Use:   "incr [key] [delta]",
		Short: "Increments a counter document",
		Args:  cobra.ExactArgs(2),
		RunE:  counterRun(true),
	}
	decrCmd = &cobra.Command{
		Use:   "decr [key] [delta]",
		Short: "Decrements a counter document",
		Args:  cobra.ExactArgs(2),
		RunE:  counterRun(false),
	}
	hasCmd = &cobra.Command{
		Use:   "has [key]",
		Short: "Checks if a key exists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			if result, err := kvClient.Exists(context.Background(), key); err != nil {
				return err
			} else {
				fmt.Printf("key=%s, found=%t, deleted=%t\n", key, result.Exists, result.Deleted)
			}
			return nil
		},
	}
	mutateCmd = &cobra.Command{
		Use:   "mutate [key] [path] [value]",
		Short: "Applies a path-level mutation to a document",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			path := args[1]
			var value []byte
			if len(args) == 3 {
				value = []byte(args[2])
			}

			opName, _ := cmd.Flags().GetString("op")
			op, err := parseSubdocOp(opName)
			if err != nil {
				return err
			}

			createPath, _ := cmd.Flags().GetBool("create-path")
			xattr, _ := cmd.Flags().GetBool("xattr")
			cas, _ := cmd.Flags().GetUint64("cas")

			results, mutation, err := kvClient.MutateIn(context.Background(), key, cas, []memd.SubdocCommand{{
				Op:               op,
				Path:             path,
				Value:            value,
				CreateParentPath: createPath,
				Xattr:            xattr,
			}})
			if err != nil {
				return err
			}
			if results[0].Err != nil {
				return results[0].Err
			}

			fmt.Printf("mutated successfully, cas=%d", mutation.Cas)
			if len(results[0].Value) > 0 {
				fmt.Printf(", value=%s", results[0].Value)
			}
			fmt.Println()
			return nil
		},
	}
	hasManyCmd = &cobra.Command{
		Use:   "has-many [key]...",
		Short: "Checks which of the given keys exist, one probe per node",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			found, err := kvClient.BatchExists(context.Background(), args)
			if err != nil {
				return err
			}
			fmt.Printf("found %d of %d keys: %s\n", len(found), len(args), strings.Join(found, ", "))
			return nil
		},
	}
)

func init() {
	setCmd.Flags().Uint32("flags", 0, util.WrapString("Opaque document flags stored alongside the value"))
	setCmd.Flags().Uint32("expiry", 0, util.WrapString("Expiry of the document in seconds (0 = never)"))
	setCmd.Flags().Uint64("cas", 0, util.WrapString("Only replace the document if it still carries this cas"))
	setCmd.Flags().Int("replicate-to", 0, util.WrapString("Block until the mutation reached this many replicas"))
	setCmd.Flags().Int("persist-to", 0, util.WrapString("Block until the mutation is persisted on this many nodes"))
	setCmd.Flags().String("durability", "", util.WrapString("Composite durability level (majority, majorityAndPersistActive, persistToMajority)"))

	delCmd.Flags().Uint64("cas", 0, util.WrapString("Only delete the document if it still carries this cas"))

	mutateCmd.Flags().String("op", "dictUpsert", util.WrapString("Path command to apply (get, exists, dictAdd, dictUpsert, delete, replace, arrayPushLast, arrayPushFirst, arrayInsert, arrayAddUnique, counter)"))
	mutateCmd.Flags().Bool("create-path", false, util.WrapString("Create missing parent paths"))
	mutateCmd.Flags().Bool("xattr", false, util.WrapString("Address an extended attribute instead of the document body"))
	mutateCmd.Flags().Uint64("cas", 0, util.WrapString("Only mutate the document if it still carries this cas"))

	for _, cmd := range []*cobra.Command{incrCmd, decrCmd} {
		cmd.Flags().Int64("initial", -1, util.WrapString("Initial counter value when the document is missing (-1 = fail on missing documents)"))
		cmd.Flags().Uint32("expiry", 0, util.WrapString("Expiry of the counter in seconds (0 = never)"))
	}
}

// upsertOptions reads the mutation tuning flags of the set command
func upsertOptions(cmd *cobra.Command) (client.UpsertOptions, error) {
	flags, _ := cmd.Flags().GetUint32("flags")
	expiry, _ := cmd.Flags().GetUint32("expiry")
	cas, _ := cmd.Flags().GetUint64("cas")

	req, err := parseDurability(cmd)
	if err != nil {
		return client.UpsertOptions{}, err
	}

	return client.UpsertOptions{
		Flags:      flags,
		Expiry:     expiry,
		Cas:        cas,
		Durability: req,
	}, nil
}

// parseDurability maps the durability flags to a requirement
func parseDurability(cmd *cobra.Command) (durability.Requirement, error) {
	replicateTo, _ := cmd.Flags().GetInt("replicate-to")
	persistTo, _ := cmd.Flags().GetInt("persist-to")
	level, _ := cmd.Flags().GetString("durability")

	req := durability.Requirement{
		ReplicateTo: durability.ReplicateTo(replicateTo),
		PersistTo:   durability.PersistTo(persistTo),
	}

	switch level {
	case "":
	case "majority":
		req.Level = durability.LevelMajority
	case "majorityAndPersistActive":
		req.Level = durability.LevelMajorityAndPersistActive
	case "persistToMajority":
		req.Level = durability.LevelPersistToMajority
	default:
		return durability.Requirement{}, fmt.Errorf("invalid durability level %s", level)
	}

	return req, nil
}

// parseSubdocOp maps a command name to its path-level op type
func parseSubdocOp(name string) (memd.SubdocOpType, error) {
	switch name {
	case "get":
		return memd.SubdocGet, nil
	case "exists":
		return memd.SubdocExists, nil
	case "dictAdd":
		return memd.SubdocDictAdd, nil
	case "dictUpsert":
		return memd.SubdocDictUpsert, nil
	case "delete":
		return memd.SubdocDelete, nil
	case "replace":
		return memd.SubdocReplace, nil
	case "arrayPushLast":
		return memd.SubdocArrayPushLast, nil
	case "arrayPushFirst":
		return memd.SubdocArrayPushFirst, nil
	case "arrayInsert":
		return memd.SubdocArrayInsert, nil
	case "arrayAddUnique":
		return memd.SubdocArrayAddUnique, nil
	case "counter":
		return memd.SubdocCounter, nil
	default:
		return 0, fmt.Errorf("invalid path command %s", name)
	}
}

// counterRun builds the RunE of the incr and decr commands
func counterRun(increment bool) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		key := args[0]
		delta, err := strconv.ParseUint(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("delta must be a number: %w", err)
		}

		var opts client.CounterOptions
		initial, _ := cmd.Flags().GetInt64("initial")
		if initial >= 0 {
			value := uint64(initial)
			opts.Initial = &value
		}
		opts.Expiry, _ = cmd.Flags().GetUint32("expiry")

		var result memd.CounterResult
		if increment {
			result, err = kvClient.Increment(context.Background(), key, delta, opts)
		} else {
			result, err = kvClient.Decrement(context.Background(), key, delta, opts)
		}
		if err != nil {
			return err
		}

		fmt.Printf("key=%s, value=%d, cas=%d\n", key, result.Value, result.Cas)
		return nil
	}
}
