package main

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/skybridge/bridge/internal/stats"
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show Redis usage counters",
	Long: `Read the usage counters written by running bridges: events sent per
kind, or complex events received per query alias.`,
	Args: cobra.NoArgs,
	RunE: runUsage,
}

func init() {
	usageCmd.Flags().String("scope", stats.ScopeKind, "counter scope: kind or alias")
	usageCmd.Flags().Duration("since", 24*time.Hour, "only names seen within this window")
	usageCmd.Flags().StringP("output", "o", "table", "output format: table or json")
	rootCmd.AddCommand(usageCmd)
}

func runUsage(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	scope, _ := cmd.Flags().GetString("scope")
	since, _ := cmd.Flags().GetDuration("since")
	format, _ := cmd.Flags().GetString("output")
	if scope != stats.ScopeKind && scope != stats.ScopeAlias {
		return fmt.Errorf("unknown scope %q (supported: kind, alias)", scope)
	}

	ctx := commandContext(cmd)
	hostname, _ := os.Hostname()
	client, err := stats.NewClient(ctx, cfg.Redis.URL, fmt.Sprintf("%s-cli", hostname))
	if err != nil {
		return err
	}
	defer client.Close()

	names, err := client.ListActive(ctx, scope, since)
	if err != nil {
		return err
	}
	sort.Strings(names)

	all := make([]*stats.Stats, 0, len(names))
	for _, name := range names {
		s, err := client.GetStats(ctx, scope, name)
		if err != nil {
			return err
		}
		all = append(all, s)
	}

	if format == "json" {
		return writeJSON(cmd.OutOrStdout(), all)
	}

	if len(all) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "No %s counters seen in the last %s\n", scope, since)
		return nil
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tTOTAL\tERRORS\tLAST HOUR\tLAST 24H\tREPOS TODAY\tINSTANCES")
	for _, s := range all {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%d\n",
			s.Name, s.Total, s.Errors, s.LastHour, s.Last24h, s.UniqueReposToday, len(s.Instances))
	}
	return tw.Flush()
}
