package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/thinkerbot/git-store/store"
)

func newLogCmd(cfg *config) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "log",
		Short: "show the branch's history, newest first",
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum number of commits to show (0 for no limit)")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		s, err := store.Open(cfg.fs, cfg.path, cfg.branch, cfg.bare)
		if err != nil {
			return err
		}
		defer s.Close()

		commits, err := s.Log(limit)
		if err != nil {
			return err
		}
		for _, c := range commits {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", c.ID, c.Message)
		}
		return nil
	}
	return cmd
}
