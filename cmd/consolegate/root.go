package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// rootCmd is the consolegate binary. All work happens in subcommands.
var rootCmd = &cobra.Command{
	Use:   "consolegate",
	Short: "Authentication and session gateway for the studio and deploy consoles",
	Long: `consolegate fronts the console products with the OAuth2 authorization-code
login, SSO entry points, token refresh and logout. Sessions live in Redis and the
issued credentials are mirrored into browser cookies.`,
	SilenceUsage: true,
}

// Execute runs the root command and exits non-zero on failure.
func Execute(version string) {
	rootCmd.Version = version
	rootCmd.SetVersionTemplate(`{{printf "consolegate version %s\n" .Version}}`)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
