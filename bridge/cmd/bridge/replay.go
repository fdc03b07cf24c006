package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/skybridge/bridge/internal/engine"
	"github.com/telhawk-systems/skybridge/bridge/internal/listener"
	"github.com/telhawk-systems/skybridge/bridge/internal/schema"
	"github.com/telhawk-systems/skybridge/bridge/internal/synth"
	"github.com/telhawk-systems/skybridge/common/logging"
)

var (
	replayCount     int
	replaySeed      int64
	replayRepos     int
	replayOps       int
	replaySpread    time.Duration
	replayNonCreate float64
	replayDeclare   bool
	replayStats     bool
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Run synthetic firehose frames through the forward path",
	Long: `Generate realistic commit frames (posts, likes, reposts, follows,
blocks and profile updates) and feed them through the same frame handler
the live listener uses. Each attribute vector is printed as
"<kind><TAB><line>", ready for the engine's file source.

Examples:
  # 1000 commits spread over the last hour, reproducible
  bridge replay --count 1000 --seed 42 --spread 1h

  # Include the stream declarations and a summary
  bridge replay --count 50 --declare --stats`,
	Args: cobra.NoArgs,
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().IntVar(&replayCount, "count", 100, "number of commits to generate")
	replayCmd.Flags().Int64Var(&replaySeed, "seed", 0, "random seed (0 picks one)")
	replayCmd.Flags().IntVar(&replayRepos, "repos", 50, "number of distinct authors")
	replayCmd.Flags().IntVar(&replayOps, "ops", 1, "maximum operations per commit")
	replayCmd.Flags().DurationVar(&replaySpread, "spread", time.Minute, "time window the commits are spread over")
	replayCmd.Flags().Float64Var(&replayNonCreate, "non-create", 0, "fraction of operations emitted as updates or deletes")
	replayCmd.Flags().BoolVar(&replayDeclare, "declare", false, "print the stream declarations first")
	replayCmd.Flags().BoolVar(&replayStats, "stats", false, "print listener counters as JSON to stderr when done")
	rootCmd.AddCommand(replayCmd)
}

func runReplay(cmd *cobra.Command, args []string) error {
	if replayCount <= 0 {
		return fmt.Errorf("--count must be positive")
	}
	if replayNonCreate < 0 || replayNonCreate > 1 {
		return fmt.Errorf("--non-create must be in [0,1]")
	}

	gen := synth.New(synth.Config{
		Seed:           replaySeed,
		Repos:          replayRepos,
		OpsPerCommit:   replayOps,
		TimeSpread:     replaySpread,
		NonCreateRatio: replayNonCreate,
	})
	frames, err := gen.Frames(replayCount)
	if err != nil {
		return fmt.Errorf("generate frames: %w", err)
	}

	ctx := commandContext(cmd)

	sink := engine.NewWriterSink(cmd.OutOrStdout())
	if replayDeclare {
		if err := sink.Declare(ctx, schema.Default().DDL()); err != nil {
			return err
		}
	}

	l := listener.New(listener.Config{}, listener.Deps{Sink: sink, Logger: logging.Discard()})
	for _, f := range frames {
		l.HandleFrame(ctx, f)
	}

	if replayStats {
		return writeJSON(cmd.ErrOrStderr(), l.Stats())
	}
	return nil
}
