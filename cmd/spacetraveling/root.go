package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version and Commit are set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "spacetraveling",
	Short:         "Blog front-end for posts kept in Prismic",
	Long:          "spacetraveling serves a blog whose posts live in a Prismic repository or in a local SQLite snapshot of it.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "spacetraveling %s (%s)\n", Version, Commit)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (environment variables override it)")
	rootCmd.AddCommand(versionCmd, serveCmd, syncCmd, browseCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
