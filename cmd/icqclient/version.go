package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

func versionCmd() *cobra.Command {
	var short bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			if short {
				fmt.Println(version)
				return
			}
			printBanner()
			field("Version", version)
			field("Commit", commit)
			field("Built", date)
			field("Go version", runtime.Version())
			field("OS/Arch", runtime.GOOS+"/"+runtime.GOARCH)
		},
	}
	cmd.Flags().BoolVarP(&short, "short", "s", false, "print only the version number")
	return cmd
}
