package main

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/ZentaChain/zentalk-icq/pkg/config"
)

func initCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a default config file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "icqclient.yaml"
			if len(args) == 1 {
				path = args[0]
			}
			if _, err := os.Stat(path); err == nil && !force {
				return errors.New(path + " already exists, use --force to overwrite")
			}
			if err := config.DefaultConfig().Save(path); err != nil {
				return err
			}
			success("Wrote %s", path)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")
	return cmd
}
