package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/thinkerbot/git-store/store"
)

func newInitCmd(cfg *config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "initialize a new store",
	}
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		s, err := store.Init(cfg.fs, cfg.path, cfg.branch, cfg.bare)
		if err != nil {
			return err
		}
		defer s.Close()
		fmt.Fprintf(cmd.OutOrStdout(), "initialized store at %s\n", cfg.path)
		return nil
	}
	return cmd
}
