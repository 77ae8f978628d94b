package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Flag lookups only fail for names never registered, which is a wiring bug
// in this package, so they panic instead of returning errors.

func mustGetBool(cmd *cobra.Command, name string) bool {
	val, err := cmd.Flags().GetBool(name)
	if err != nil {
		panic(flagError(name, err))
	}
	return val
}

func mustGetInt(cmd *cobra.Command, name string) int {
	val, err := cmd.Flags().GetInt(name)
	if err != nil {
		panic(flagError(name, err))
	}
	return val
}

func mustGetString(cmd *cobra.Command, name string) string {
	val, err := cmd.Flags().GetString(name)
	if err != nil {
		panic(flagError(name, err))
	}
	return val
}

func mustGetFloat64(cmd *cobra.Command, name string) float64 {
	val, err := cmd.Flags().GetFloat64(name)
	if err != nil {
		panic(flagError(name, err))
	}
	return val
}

func flagError(name string, err error) string {
	return fmt.Sprintf("flag --%s: %v", name, err)
}
