package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"chipforge-gateway/internal/ident"
)

var idCmd = &cobra.Command{
	Use:   "id",
	Short: "Print a fresh submission id",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		length, _ := cmd.Flags().GetInt("length")
		fmt.Fprintln(cmd.OutOrStdout(), ident.New(length))
		return nil
	},
}

func init() {
	idCmd.Flags().Int("length", ident.DefaultLength, "Number of hex characters")
	rootCmd.AddCommand(idCmd)
}
