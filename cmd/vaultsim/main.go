// Command vaultsim replays scripted vault scenarios against an in-memory
// core and checks the outcome of each.
package main

import (
	"errors"
	"fmt"
	"os"

	"VaultLedger/internal/observability"
	"VaultLedger/internal/recorder"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "vaultsim",
		Short:        "Run self-checking vault scenarios",
		SilenceUsage: true,
	}
	root.AddCommand(newListCmd(), newRunCmd())
	return root
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List available scenarios",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			for _, name := range scenarioNames() {
				fmt.Fprintf(cmd.OutOrStdout(), "%-16s %s\n", name, scenarios[name].about)
			}
		},
	}
}

func newRunCmd() *cobra.Command {
	var (
		all     bool
		record  string
		verbose bool
	)
	cmd := &cobra.Command{
		Use:   "run [scenario...]",
		Short: "Run scenarios and print their ledgers",
		RunE: func(cmd *cobra.Command, args []string) error {
			if all {
				args = scenarioNames()
			}
			if len(args) == 0 {
				return errors.New("name a scenario or pass --all")
			}
			level := zerolog.InfoLevel
			if verbose {
				level = zerolog.DebugLevel
			}
			logger := observability.NewLoggerWithLevel("vaultsim", level)

			var rec recorder.Recorder = recorder.NewNoopRecorder()
			if record != "" {
				sqlRec, err := recorder.NewSQLiteRecorder(record, logger)
				if err != nil {
					return err
				}
				rec = sqlRec
			}
			defer rec.Close()

			var failed int
			for _, name := range args {
				s, err := runScenario(name, rec, logger)
				if s != nil {
					out := cmd.OutOrStdout()
					fmt.Fprintf(out, "== %s ==\n", name)
					if perr := s.printSteps(out); perr != nil {
						return perr
					}
					fmt.Fprintln(out)
					if perr := s.printHarvests(out); perr != nil {
						return perr
					}
				}
				if err != nil {
					failed++
					logger.Error().Err(err).Str("scenario", name).Msg("scenario failed")
					continue
				}
				logger.Info().Str("scenario", name).Int("steps", len(s.log)).Msg("scenario passed")
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d scenarios failed", failed, len(args))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "run every scenario")
	cmd.Flags().StringVar(&record, "record", "", "record steps and harvests to this SQLite file")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log rejected commands")
	return cmd
}

// runScenario returns the sim even when the scenario fails so its ledger
// can still be printed.
func runScenario(name string, rec recorder.Recorder, logger zerolog.Logger) (*sim, error) {
	sc, ok := scenarios[name]
	if !ok {
		return nil, fmt.Errorf("unknown scenario %q", name)
	}
	s, err := newSim(name, rec, logger.With().Str("scenario", name).Logger())
	if err != nil {
		return nil, err
	}
	if err := sc.run(s); err != nil {
		return s, fmt.Errorf("scenario %s: %w", name, err)
	}
	return s, nil
}
