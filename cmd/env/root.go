package env

import (
	"encoding/json"
	"fmt"
	"github.com/ValentinKolb/rKV/cmd/util"
	"github.com/ValentinKolb/rKV/lib/codec"
	"github.com/ValentinKolb/rKV/lib/db"
	"github.com/ValentinKolb/rKV/lib/store"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"os"
	"sort"
)

var (
	env *store.Environment

	// EnvCommands represents the environment command group
	EnvCommands = &cobra.Command{
		Use:                "env",
		Short:              "Inspect and maintain an environment",
		PersistentPreRunE:  openEnv,
		PersistentPostRunE: closeEnv,
	}

	statCmd = &cobra.Command{
		Use:   "stat",
		Short: "Prints the configuration, statistics and metrics of the environment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stat, err := env.Stat()
			if err != nil {
				return err
			}
			fmt.Printf("Environment %s\n", env.Path())
			fmt.Println(util.GetConfig().String())

			info := env.Info()
			fmt.Println("STATISTICS")
			fmt.Printf("  %-22s: %d\n", "Size (bytes)", info.SizeBytes)
			fmt.Printf("  %-22s: %d\n", "Page Size", stat.PageSize)
			fmt.Printf("  %-22s: %d\n", "Depth", stat.Depth)
			fmt.Printf("  %-22s: %d\n", "Branch Pages", stat.BranchPages)
			fmt.Printf("  %-22s: %d\n", "Leaf Pages", stat.LeafPages)
			fmt.Printf("  %-22s: %d\n", "Overflow Pages", stat.OverflowPages)
			fmt.Printf("  %-22s: %d\n", "Entries", stat.Entries)
			fmt.Printf("  %-22s: %v\n", "Features", info.SupportedFeatures)

			if showMetrics, _ := cmd.Flags().GetBool("metrics"); showMetrics {
				fmt.Println()
				fmt.Println("METRICS")
				env.WriteMetrics(os.Stdout)
			}
			return nil
		},
	}

	listCmd = &cobra.Command{
		Use:   "list",
		Short: "Lists the stores of the environment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stores, err := env.ListStores()
			if err != nil {
				return err
			}
			return env.View(func(txn *store.ReadTxn) error {
				fmt.Printf("%-30s%-16s%12s\n", "store", "kind", "entries")
				for _, info := range stores {
					s, err := env.OpenStore(info.Name, info.Kind, &store.StoreOptions{Create: false})
					if err != nil {
						return err
					}
					stat, err := s.Stat(txn)
					if err != nil {
						return err
					}
					fmt.Printf("%-30s%-16s%12d\n", info.Name, info.Kind, stat.Entries)
				}
				return nil
			})
		},
	}

	analyzeCmd = &cobra.Command{
		Use:   "analyze [store...]",
		Short: "Scans stores and prints their key, value size and type distribution",
		RunE: func(cmd *cobra.Command, args []string) error {
			stores, err := env.ListStores()
			if err != nil {
				return err
			}
			names := make(map[string]bool, len(args))
			for _, name := range args {
				names[name] = true
			}
			asJSON, _ := cmd.Flags().GetBool("json")

			return env.View(func(txn *store.ReadTxn) error {
				for _, info := range stores {
					if len(names) > 0 && !names[info.Name] {
						continue
					}
					s, err := env.OpenStore(info.Name, info.Kind, &store.StoreOptions{Create: false})
					if err != nil {
						return err
					}
					a, err := store.Analyze(txn, s)
					if err != nil {
						return err
					}
					if asJSON {
						if err := json.NewEncoder(os.Stdout).Encode(a); err != nil {
							return err
						}
						continue
					}
					printAnalysis(a)
				}
				return nil
			})
		},
	}

	syncCmd = &cobra.Command{
		Use:   "sync",
		Short: "Flushes committed data to disk",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := env.Sync(true); err != nil {
				return err
			}
			fmt.Println("synced successfully")
			return nil
		},
	}

	migrateCmd = &cobra.Command{
		Use:   "migrate [destination]",
		Short: "Copies every store into the empty environment at destination",
		Long: `Copies every store of the environment, with its kind and all entries,
into the empty environment at destination. The destination may use another
backend (--to-backend), for example to move a maple environment to bolt.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := util.GetConfig()
			cfg.ReadOnly = false
			if backend, _ := cmd.Flags().GetString("to-backend"); backend != "" {
				cfg.Backend = db.Implementation(backend)
			}
			dst, err := util.OpenEnvironmentAt(args[0], cfg)
			if err != nil {
				return err
			}
			stats, err := store.Migrate(env, dst)
			if err != nil {
				return err
			}
			if err := dst.Sync(true); err != nil {
				return err
			}
			fmt.Printf("migrated %d stores with %d entries to %s (%s)\n", stats.Stores, stats.Entries, dst.Path(), dst.Backend())
			return nil
		},
	}
)

func init() {
	util.SetupEnvFlags(EnvCommands)

	statCmd.Flags().Bool("metrics", false, util.WrapString("Also print the runtime metrics in Prometheus format"))
	analyzeCmd.Flags().Bool("json", false, util.WrapString("Print one JSON document per store"))
	migrateCmd.Flags().String("to-backend", "", util.WrapString("Backend of the destination (defaults to --backend)"))

	EnvCommands.AddCommand(statCmd)
	EnvCommands.AddCommand(listCmd)
	EnvCommands.AddCommand(analyzeCmd)
	EnvCommands.AddCommand(syncCmd)
	EnvCommands.AddCommand(migrateCmd)
}

func openEnv(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}
	var err error
	env, err = util.OpenEnvironment()
	if err != nil {
		return fmt.Errorf("opening %s: %w", viper.GetString("path"), err)
	}
	return nil
}

func closeEnv(_ *cobra.Command, _ []string) error {
	return util.CloseEnvironments()
}

func printAnalysis(a store.Analysis) {
	fmt.Printf("\nSTORE %s (%s)\n", a.Store, a.Kind)
	fmt.Printf("  %-22s: %d\n", "Entries", a.Entries)
	fmt.Printf("  %-22s: %d\n", "Keys", a.Keys)
	for _, row := range []struct {
		name string
		s    store.SizeStats
	}{{"Key Size", a.KeySize}, {"Value Size", a.ValSize}} {
		fmt.Printf("  %-22s: min %d, max %d, mean %.1f, stddev %.1f, ~median %d, ~p99 %d\n",
			row.name, row.s.Min, row.s.Max, row.s.Mean, row.s.StdDeviation, row.s.Median, row.s.P99)
	}

	tags := make([]codec.Tag, 0, len(a.Tags))
	for tag := range a.Tags {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })
	for _, tag := range tags {
		fmt.Printf("  %-22s: %d\n", "Type "+tag.String(), a.Tags[tag])
	}
	if a.Invalid > 0 {
		fmt.Printf("  %-22s: %d\n", "Invalid", a.Invalid)
	}
}
