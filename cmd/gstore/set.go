package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/thinkerbot/git-store/store"
)

func newSetCmd(cfg *config) *cobra.Command {
	var message string

	cmd := &cobra.Command{
		Use:   "set <path> <value>",
		Short: "store value at path as a new commit",
		Args:  cobra.ExactArgs(2),
	}
	cmd.Flags().StringVarP(&message, "message", "m", "gstore set", "commit message")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		s, err := store.Open(cfg.fs, cfg.path, cfg.branch, cfg.bare)
		if err != nil {
			return err
		}
		defer s.Close()

		path, value := args[0], args[1]
		err = s.Transaction(message, func(s *store.Store) error {
			return s.Set(path, value)
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "set %s\n", path)
		return nil
	}
	return cmd
}
