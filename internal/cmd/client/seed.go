package client

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rzbill/kvbridge/internal/mutation"
	"github.com/rzbill/kvbridge/internal/namespace"
	"github.com/rzbill/kvbridge/internal/runtime"
)

// Fixture is the sample mutation sequence: every data type, then expiry and
// deletion. Keys start populated so the list and bitmap updates apply
// against existing values downstream.
func Fixture(ns string) []mutation.Record {
	return []mutation.Record{
		// string
		mutation.Set(ns, "foo", "1"),
		mutation.Set(ns, "foo", "2"),
		mutation.Set(ns, "foo2", "2"),
		mutation.SetEx(ns, "foo_ex", "2", 7200*time.Second),
		// zset
		mutation.ZAdd(ns, "zfoo", 1, "a"),
		mutation.ZAdd(ns, "zfoo", 4, "d"),
		mutation.ZRem(ns, "zfoo", "d"),
		// list
		mutation.RPush(ns, "lfoo", "x"),
		mutation.RPush(ns, "lfoo", "y"),
		mutation.RPush(ns, "lfoo", "z"),
		mutation.RPush(ns, "lfoo", "w"),
		mutation.LSet(ns, "lfoo", 0, "a"),
		mutation.RPush(ns, "lfoo", "a"),
		mutation.LPush(ns, "lfoo", "b"),
		mutation.LPop(ns, "lfoo"),
		mutation.RPop(ns, "lfoo"),
		mutation.LTrim(ns, "lfoo", 0, 2),
		// set
		mutation.SAdd(ns, "sfoo", "f"),
		mutation.SAdd(ns, "sfoo", "g"),
		mutation.SRem(ns, "sfoo", "f"),
		// hash
		mutation.HSet(ns, "hfoo", "a", "1"),
		mutation.HSet(ns, "hfoo", "b", "2"),
		mutation.HDel(ns, "hfoo", "b"),
		// bitmap
		mutation.SetBit(ns, "bfoo", 0, true),
		mutation.SetBit(ns, "bfoo", 0, false),
		mutation.SetBit(ns, "bfoo", 900000, true),
		// expire
		mutation.Expire(ns, "foo", mutation.TypeString, 7200*time.Second),
		mutation.Expire(ns, "zfoo", mutation.TypeZSet, 7200*time.Second),
		// del
		mutation.Delete(ns, "foo", mutation.TypeString),
		mutation.Delete(ns, "zfoo", mutation.TypeZSet),
	}
}

// NewSeedCommand constructs `seed`, which appends Fixture to the upstream
// log of the configured data directory.
func NewSeedCommand(cfgFn ConfigFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Append the sample mutation sequence to the upstream log (bridge must be stopped)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ns, _ := cmd.Flags().GetString("namespace")
			db, _ := cmd.Flags().GetInt("db")
			repeat, _ := cmd.Flags().GetInt("repeat")
			if err := namespace.ValidateName(ns); err != nil {
				return err
			}
			if repeat < 1 {
				repeat = 1
			}
			cfg, err := cfgFn(cmd)
			if err != nil {
				return err
			}
			rt, err := runtime.Open(cmd.Context(), runtime.Options{Config: cfg})
			if err != nil {
				return err
			}
			defer rt.Close()
			if ns != namespace.DefaultNamespace {
				if _, err := rt.EnsureNamespace(ns, db); err != nil {
					return err
				}
			}
			var first, last mutation.Position
			for i := 0; i < repeat; i++ {
				pos, err := rt.Append(cmd.Context(), Fixture(ns))
				if err != nil {
					return err
				}
				if first == 0 {
					first = pos[0]
				}
				last = pos[len(pos)-1]
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "appended positions %d..%d to stream %q\n", first, last, cfg.Upstream.Stream)
			return err
		},
	}
	cmd.Flags().String("namespace", "", "Namespace for the seeded keys (empty is the default namespace)")
	cmd.Flags().Int("db", 0, "Downstream DB to register the namespace with")
	cmd.Flags().Int("repeat", 1, "Append the sequence this many times")
	return cmd
}
