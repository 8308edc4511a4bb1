package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command for the mailgrant application
var rootCmd = &cobra.Command{
	Use:   "mailgrant",
	Short: "Credential broker for delegated Gmail access",
	Long: `mailgrant brokers delegated Gmail access: it runs the OAuth
authorization-code flow, keeps the resulting credentials encrypted at
rest, and exposes send/read operations behind signed session tokens so
clients never see Google credentials.`,
	SilenceUsage: true,
}

// version will be set by main
var version = "dev"

// SetVersion sets the version for the root command
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "mailgrant version %s\n" .Version}}`)

	// If no subcommand is provided, run the serve command by default
	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newKeygenCmd())
}
