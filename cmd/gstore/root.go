package main

import (
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

// config carries the flags and open filesystem shared by every
// subcommand.
type config struct {
	fs     afero.Fs
	path   string
	branch string
	bare   bool
}

func newRootCmd() *cobra.Command {
	cfg := &config{fs: afero.NewOsFs()}

	cmd := &cobra.Command{
		Use:           "gstore",
		Short:         "a versioned, path-addressed key-value store",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.PersistentFlags().StringVarP(&cfg.path, "path", "C", "", "repository root (defaults to the current directory)")
	cmd.PersistentFlags().StringVar(&cfg.branch, "branch", "", "branch to operate on (defaults to main)")
	cmd.PersistentFlags().BoolVar(&cfg.bare, "bare", true, "treat path itself as the repository (rather than path/.git)")
	cmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if cfg.path == "" {
			pwd, err := os.Getwd()
			if err != nil {
				return err
			}
			cfg.path = pwd
		}
		return nil
	}

	cmd.AddCommand(newInitCmd(cfg))
	cmd.AddCommand(newGetCmd(cfg))
	cmd.AddCommand(newSetCmd(cfg))
	cmd.AddCommand(newLogCmd(cfg))

	return cmd
}
