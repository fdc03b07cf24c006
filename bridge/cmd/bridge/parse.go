package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/skybridge/bridge/internal/complexevent"
	"github.com/telhawk-systems/skybridge/bridge/internal/engine"
	"github.com/telhawk-systems/skybridge/bridge/internal/parser"
	"github.com/telhawk-systems/skybridge/bridge/internal/schema"
)

var (
	parseKind     string
	parseMaxBytes int
	parseStrict   bool
	parseCEAlias  string
)

var parseCmd = &cobra.Command{
	Use:   "parse [line]",
	Short: "Decode one exported attribute line",
	Long: `Decode a single attribute line as the engine exports it, using the
schema registry for the given event kind. The line is read from stdin
when no argument is given.

Examples:
  bridge parse --kind BlueskyEvents.CreateFollow \
    "did:plc:u bafy... 43 1700000002000000000.000000 1700000002000000000 did:plc:v"

  echo "$LINE" | bridge parse --kind BlueskyEvents.CreatePost --strict`,
	Args: cobra.MaximumNArgs(1),
	RunE: runParse,
}

var parseCECmd = &cobra.Command{
	Use:   "parse-ce [export]",
	Short: "Decode a complete complex-event export",
	Long: `Decode a complex-event export of the form
  [<timestamps>], [(id: <n> attributes: [<line>]) ...]
into typed primitives. The export is read from stdin when no argument
is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runParseCE,
}

func init() {
	parseCmd.Flags().StringVar(&parseKind, "kind", "", "event kind, e.g. BlueskyEvents.CreatePost (required)")
	parseCmd.Flags().IntVar(&parseMaxBytes, "max-line-bytes", parser.DefaultMaxLineBytes, "input cap for pattern evaluation")
	parseCmd.Flags().BoolVar(&parseStrict, "strict", false, "exit non-zero when the line has diagnostics")
	_ = parseCmd.MarkFlagRequired("kind")

	parseCECmd.Flags().StringVar(&parseCEAlias, "alias", "", "query alias to attach to the result")

	rootCmd.AddCommand(parseCmd)
	rootCmd.AddCommand(parseCECmd)
}

// inputText returns args[0] or all of stdin.
func inputText(cmd *cobra.Command, args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	b, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return strings.TrimRight(string(b), "\r\n"), nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func runParse(cmd *cobra.Command, args []string) error {
	line, err := inputText(cmd, args)
	if err != nil {
		return err
	}

	p := parser.New(schema.Default(), parser.WithMaxLineBytes(parseMaxBytes))
	res := p.Parse(parseKind, line)
	if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
		return err
	}
	if parseStrict && !res.OK() {
		return fmt.Errorf("%d decode error(s)", len(res.Errors))
	}
	return nil
}

func runParseCE(cmd *cobra.Command, args []string) error {
	raw, err := inputText(cmd, args)
	if err != nil {
		return err
	}

	reg := schema.Default()
	d := complexevent.NewDecoder(engine.NewCatalog(reg), parser.New(reg))
	ce, err := d.Decode(parseCEAlias, raw)
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), ce)
}
