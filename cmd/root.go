package cmd

import (
	"fmt"
	"github.com/ValentinKolb/rKV/cmd/env"
	"github.com/ValentinKolb/rKV/cmd/kv"
	"github.com/ValentinKolb/rKV/cmd/util"
	"github.com/ValentinKolb/rKV/lib/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"os"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "rkv",
		Short: "typed transactional key-value environments",
		Long: fmt.Sprintf(`rKV (v%s)

A typed, transactional access layer over embedded copy-on-write B-tree
key-value engines. Every environment has many readers and a single
writer, stores hold typed values in one of four kinds.`, Version),
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setLogLevel()
		},
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of rKV",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("rKV v%s\n", Version)
		},
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)
	// the root hook sets the log level before the hooks of the command groups run
	cobra.EnableTraverseRunHooks = true

	// Add Commands
	RootCmd.AddCommand(env.EnvCommands)
	RootCmd.AddCommand(kv.KeyValueCommands)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "log-level"
	RootCmd.PersistentFlags().String(key, "warning", util.WrapString("log level of the storage layer (debug, info, warning, error)"))
	_ = viper.BindPFlag(key, RootCmd.PersistentFlags().Lookup(key))
}

// setLogLevel applies --log-level to every logger of the storage layer
func setLogLevel() error {
	return logging.InitLoggers(viper.GetString("log-level"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
