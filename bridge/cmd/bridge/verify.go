package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/skybridge/bridge/internal/attributes"
	"github.com/telhawk-systems/skybridge/bridge/internal/schema"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check that every encoder matches its schema entry",
	Long: `Encode a sample record for each handled event kind and compare the
resulting attribute names and types, position by position, with the
schema registry the decoder uses. Exits non-zero on any mismatch.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		reg := schema.Default()
		table := attributes.DefaultTable()
		out := cmd.OutOrStdout()

		err := attributes.VerifyRegistry(reg, table)
		if err == nil {
			fmt.Fprintf(out, "ok: %d event kinds match the registry\n", len(table.Handlers()))
			return nil
		}

		var joined interface{ Unwrap() []error }
		if errors.As(err, &joined) {
			for _, e := range joined.Unwrap() {
				fmt.Fprintf(out, "mismatch: %v\n", e)
			}
		} else {
			fmt.Fprintf(out, "mismatch: %v\n", err)
		}
		return fmt.Errorf("encoder and registry disagree")
	},
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}
