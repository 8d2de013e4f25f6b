package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"selinf/domain/core"
)

func main() {
	// a missing .env is fine; the environment and defaults still apply
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "selinf",
		Short: "Selective inference after randomized selection, by projected Langevin sampling",
	}

	rootCmd.AddCommand(
		newSimulateCmd(),
		newInferCmd(),
		newGenerateCmd(),
		newServeCmd(),
		newConfigCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

// exitCode is 2 for bad configuration or input and 1 for everything else
func exitCode(err error) int {
	if core.IsConfigError(err) || core.IsInputError(err) {
		return 2
	}
	return 1
}
