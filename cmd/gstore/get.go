package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/thinkerbot/git-store/store"
)

func newGetCmd(cfg *config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <path>",
		Short: "print the value stored at path",
		Args:  cobra.ExactArgs(1),
	}
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		s, err := store.Open(cfg.fs, cfg.path, cfg.branch, cfg.bare)
		if err != nil {
			return err
		}
		defer s.Close()

		value, ok, err := s.Get(args[0])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no value stored at %q", args[0])
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%v\n", value)
		return nil
	}
	return cmd
}
