package kv

import (
	"github.com/ValentinKolb/rKV/cmd/util"
	"github.com/ValentinKolb/rKV/lib/store"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	env     *store.Environment
	kvStore *store.Store

	// KeyValueCommands represents the KV command group
	KeyValueCommands = &cobra.Command{
		Use:                "kv",
		Short:              "Read and write the entries of a store",
		PersistentPreRunE:  openStore,
		PersistentPostRunE: closeStore,
	}
)

func init() {
	// Add environment flags to the KV command
	util.SetupEnvFlags(KeyValueCommands)

	key := "store"
	KeyValueCommands.PersistentFlags().String(key, "default", util.WrapString("Name of the store"))
	key = "kind"
	KeyValueCommands.PersistentFlags().String(key, store.KindSingle.String(), util.WrapString("Kind of the store (single, multi, integer, multi-integer)"))
	key = "create"
	KeyValueCommands.PersistentFlags().Bool(key, true, util.WrapString("Create the store if it does not exist"))

	// Add subcommands
	KeyValueCommands.AddCommand(getCmd)
	KeyValueCommands.AddCommand(putCmd)
	KeyValueCommands.AddCommand(delCmd)
	KeyValueCommands.AddCommand(scanCmd)
	KeyValueCommands.AddCommand(randCmd)
	KeyValueCommands.AddCommand(perfTestCmd)
}

// openStore opens the environment and the store of the command
func openStore(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	kind, err := store.ParseKind(viper.GetString("kind"))
	if err != nil {
		return err
	}

	env, err = util.OpenEnvironment()
	if err != nil {
		return err
	}

	kvStore, err = env.OpenStore(viper.GetString("store"), kind, &store.StoreOptions{
		Create: viper.GetBool("create"),
	})
	return err
}

func closeStore(_ *cobra.Command, _ []string) error {
	return util.CloseEnvironments()
}
