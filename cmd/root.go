package cmd

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"converge/internal/config"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodeConfigError indicates config.yaml could not be loaded or is invalid.
	ExitCodeConfigError = 2
)

// rootCmd represents the base command for the converge application.
var rootCmd = &cobra.Command{
	Use:   "converge",
	Short: "Reconcile declarative resources with dependent-resource workflows",
	Long: `converge runs controllers that keep declarative resources in their desired
state. Resources live in a Kubernetes cluster or, without one, as YAML
manifests in a directory. Each controller reconciles its primary resources
and the dependent resources they own, in dependency order.

The bundled sample controller manages WebPage resources
(sample.converge.io/v1alpha1).`,
	// SilenceUsage prevents Cobra from printing the usage message on errors that are handled by the application.
	SilenceUsage: true,
}

// SetVersion sets the version for the root command.
// This function is typically called from the main package to inject the application version at build time.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute is the main entry point for the CLI application.
// This function is called by main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "converge version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(getExitCode(err))
	}
}

// getExitCode determines the appropriate exit code based on the error type.
func getExitCode(err error) int {
	var configErr config.ConfigurationError
	if errors.As(err, &configErr) {
		return ExitCodeConfigError
	}
	return ExitCodeError
}

func init() {
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newDescribeCmd())
}
