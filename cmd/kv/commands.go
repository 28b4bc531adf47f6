package kv

import (
	"errors"
	"fmt"
	"github.com/ValentinKolb/rKV/cmd/util"
	"github.com/ValentinKolb/rKV/lib/codec"
	"github.com/ValentinKolb/rKV/lib/store"
	"github.com/spf13/cobra"
)

var (
	getCmd = &cobra.Command{
		Use:   "get [key]",
		Short: "Reads the value (all values for multi stores) of a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := util.EncodeKey(kvStore.Kind(), args[0])
			if err != nil {
				return err
			}
			typ, _ := cmd.Flags().GetString("type")

			return env.View(func(txn *store.ReadTxn) error {
				values, err := kvStore.GetAll(txn, key)
				if err != nil {
					return err
				}
				fmt.Printf("key=%s, found=%v\n", args[0], len(values) > 0)
				for _, v := range values {
					if typ != "" {
						tag, err := codec.ParseTag(typ)
						if err != nil {
							return err
						}
						if v.Tag() != tag {
							return store.WrapError(store.RetCUnexpectedType, args[0], &codec.TypeError{Expected: tag, Actual: v.Tag()})
						}
					}
					fmt.Printf("  %s\n", codec.Format(v))
				}
				return nil
			})
		},
	}
	putCmd = &cobra.Command{
		Use:   "put [key] [type] [value]",
		Short: "Stores a value (adds it to the values of the key for multi stores)",
		Long: `Stores a value of the given type: bool, u64, i64, f64, instant (RFC 3339),
uuid, str, json or blob (base64).`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := util.EncodeKey(kvStore.Kind(), args[0])
			if err != nil {
				return err
			}
			v, err := util.ParseValue(args[1], args[2])
			if err != nil {
				return fmt.Errorf("invalid %s value: %w", args[1], err)
			}
			var flags store.PutFlags
			if noOverwrite, _ := cmd.Flags().GetBool("no-overwrite"); noOverwrite {
				flags |= store.NoOverwrite
			}

			if err := env.Update(func(txn *store.WriteTxn) error {
				return kvStore.PutWithFlags(txn, key, v, flags)
			}); err != nil {
				return err
			}
			fmt.Println("put successfully")
			return nil
		},
	}
	delCmd = &cobra.Command{
		Use:   "del [key] [type value]",
		Short: "Deletes a key, or one value of a key of a multi store",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 && len(args) != 3 {
				return errors.New("expected a key, optionally followed by the type and the value to delete")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := util.EncodeKey(kvStore.Kind(), args[0])
			if err != nil {
				return err
			}
			if err := env.Update(func(txn *store.WriteTxn) error {
				if len(args) == 1 {
					return kvStore.Delete(txn, key)
				}
				v, err := util.ParseValue(args[1], args[2])
				if err != nil {
					return fmt.Errorf("invalid %s value: %w", args[1], err)
				}
				return kvStore.DeleteValue(txn, key, v)
			}); err != nil {
				return err
			}
			fmt.Println("delete successfully")
			return nil
		},
	}
	scanCmd = &cobra.Command{
		Use:   "scan",
		Short: "Lists the entries of the store in key order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			fromFlag, _ := cmd.Flags().GetString("from")
			reverse, _ := cmd.Flags().GetBool("reverse")

			var from []byte
			if fromFlag != "" {
				var err error
				if from, err = util.EncodeKey(kvStore.Kind(), fromFlag); err != nil {
					return err
				}
			}

			return env.View(func(txn *store.ReadTxn) error {
				cur, err := kvStore.OpenCursor(txn)
				if err != nil {
					return err
				}
				defer cur.Close()

				var (
					k  []byte
					v  codec.Value
					ok bool
				)
				switch {
				case from != nil:
					k, v, ok, err = cur.Seek(from)
				case reverse:
					k, v, ok, err = cur.Last()
				default:
					k, v, ok, err = cur.First()
				}

				n := 0
				for ; ok && err == nil && (limit <= 0 || n < limit); n++ {
					fmt.Printf("%s\t%s\n", util.FormatKey(kvStore.Kind(), k), codec.Format(v))
					if reverse {
						k, v, ok, err = cur.Prev()
					} else {
						k, v, ok, err = cur.Next()
					}
				}
				if err != nil {
					return err
				}
				fmt.Printf("%d entries\n", n)
				return nil
			})
		},
	}
)

func init() {
	getCmd.Flags().String("type", "", util.WrapString("Fail unless the values have this type"))
	putCmd.Flags().Bool("no-overwrite", false, util.WrapString("Fail if the key already has a value"))
	scanCmd.Flags().Int("limit", 0, util.WrapString("Maximum number of entries to print (0 prints all)"))
	scanCmd.Flags().String("from", "", util.WrapString("Start at the first key >= from"))
	scanCmd.Flags().Bool("reverse", false, util.WrapString("Iterate from the last key backwards"))
}
