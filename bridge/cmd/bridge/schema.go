package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/telhawk-systems/skybridge/bridge/internal/schema"
)

var schemaFormat string

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the event schema registry",
	Long: `Print the schema registry that drives both the attribute encoders and
the text decoder.

Formats:
  ddl   CREATE STREAM declarations for the engine (default)
  yaml  field lists with types, patterns and defaults
  json  same as yaml, as JSON`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		reg := schema.Default()
		out := cmd.OutOrStdout()

		switch schemaFormat {
		case "ddl", "":
			_, err := fmt.Fprintln(out, reg.DDL())
			return err
		case "yaml":
			enc := yaml.NewEncoder(out)
			enc.SetIndent(2)
			if err := enc.Encode(reg.Views()); err != nil {
				return err
			}
			return enc.Close()
		case "json":
			return writeJSON(out, reg.Views())
		default:
			return fmt.Errorf("unknown format %q (supported: ddl, yaml, json)", schemaFormat)
		}
	},
}

func init() {
	schemaCmd.Flags().StringVar(&schemaFormat, "format", "ddl", "output format: ddl, yaml, json")
	rootCmd.AddCommand(schemaCmd)
}
