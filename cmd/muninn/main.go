// Package main provides the Muninn CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/orneryd/muninn/pkg/archive"
	"github.com/orneryd/muninn/pkg/config"
	"github.com/orneryd/muninn/pkg/eval"
	"github.com/orneryd/muninn/pkg/logging"
	"github.com/orneryd/muninn/pkg/muninn"
	"github.com/orneryd/muninn/pkg/server"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	cfg := config.LoadFromEnv()

	var configFile string
	rootCmd := &cobra.Command{
		Use:   "muninn",
		Short: "Muninn - associative learning engine over a weighted symbol graph",
		Long: `Muninn learns input -> output mappings by reinforcing a weighted
symbol graph, generalizing wildcard patterns, and generating output
through wave propagation. Brains persist as human-readable text files
you can inspect and edit.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if configFile != "" {
				if err := cfg.LoadFile(configFile); err != nil {
					return err
				}
			}
			logging.SetVerbose(cfg.Logging.Verbose)
			return cfg.Validate()
		},
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&cfg.Engine.BrainPath, "brain", cfg.Engine.BrainPath, "Brain file path")
	rootCmd.PersistentFlags().BoolVar(&cfg.Logging.Verbose, "verbose", cfg.Logging.Verbose, "Enable debug logging")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Muninn v%s (%s)\n", version, commit)
		},
	})

	trainCmd := &cobra.Command{
		Use:   "train <input> <target>",
		Short: "Run training episodes and save the brain",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			episodes, _ := cmd.Flags().GetInt("episodes")
			brain, err := loadOrCreate(cfg)
			if err != nil {
				return err
			}
			var output string
			for i := 0; i < episodes; i++ {
				output = brain.Train(args[0], args[1])
			}
			p := brain.Pressures()
			fmt.Printf("output: %q\n", output)
			fmt.Printf("error_rate: %.4f confidence: %.4f patterns: %d\n",
				brain.ErrorRate(), p.PatternConfidence, brain.PatternCount())
			return brain.Save(cfg.Engine.BrainPath)
		},
	}
	trainCmd.Flags().Int("episodes", 1, "Number of training episodes")
	rootCmd.AddCommand(trainCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "infer <input>",
		Short: "Generate output for an input without learning",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			brain, err := loadOrCreate(cfg)
			if err != nil {
				return err
			}
			fmt.Println(brain.Infer(args[0]))
			return nil
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "pressures",
		Short: "Show the brain's self-tuning pressures",
		RunE: func(cmd *cobra.Command, args []string) error {
			brain, err := loadOrCreate(cfg)
			if err != nil {
				return err
			}
			p := brain.Pressures()
			fmt.Printf("learning_pressure:  %.4f\n", p.Learning)
			fmt.Printf("pattern_confidence: %.4f\n", p.PatternConfidence)
			fmt.Printf("output_variance:    %.4f\n", p.OutputVariance)
			fmt.Printf("loop_pressure:      %.4f\n", p.Loop)
			fmt.Printf("error_rate:         %.4f\n", brain.ErrorRate())
			fmt.Printf("learning_rate:      %.4f\n", brain.LearningRate())
			return nil
		},
	})

	evalCmd := &cobra.Command{
		Use:   "eval [scenarios.json]",
		Short: "Run evaluation scenarios against fresh brains",
		Long: `Without arguments runs the built-in smoke scenarios. With a JSON
file, runs the scenarios it defines (see pkg/eval for the schema).`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h := eval.NewHarness()
			if len(args) == 1 {
				scenarios, err := loadScenarios(args[0])
				if err != nil {
					return err
				}
				for _, s := range scenarios {
					h.AddScenario(s)
				}
			} else {
				for _, s := range builtinScenarios() {
					h.AddScenario(s)
				}
			}
			report := h.Run()
			if err := eval.WriteReport(os.Stdout, report); err != nil {
				return err
			}
			if report.Failed > 0 {
				return fmt.Errorf("%d of %d probes failed", report.Failed, report.Passed+report.Failed)
			}
			return nil
		},
	}
	rootCmd.AddCommand(evalCmd)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the brain over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cfg)
		},
	}
	serveCmd.Flags().IntVar(&cfg.Server.Port, "port", cfg.Server.Port, "HTTP port")
	serveCmd.Flags().StringVar(&cfg.Server.Password, "password", cfg.Server.Password, "API password (empty disables auth)")
	rootCmd.AddCommand(serveCmd)

	archiveCmd := &cobra.Command{
		Use:   "archive",
		Short: "Manage archived brain snapshots",
	}
	archiveCmd.AddCommand(&cobra.Command{
		Use:   "snapshot",
		Short: "Archive the current brain file",
		RunE: func(cmd *cobra.Command, args []string) error {
			brain, err := loadOrCreate(cfg)
			if err != nil {
				return err
			}
			store, err := archive.Open(cfg.Archive.Dir)
			if err != nil {
				return err
			}
			defer store.Close()

			var buf bytes.Buffer
			if err := brain.SaveTo(&buf); err != nil {
				return err
			}
			snap, err := store.Put(cfg.Engine.BrainPath, buf.Bytes())
			if err != nil {
				return err
			}
			fmt.Printf("archived %s (%d bytes) at %s\n",
				snap.Name, snap.Size, snap.Timestamp.Format(time.RFC3339))
			return nil
		},
	})
	archiveCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List archived snapshots for the brain file",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := archive.Open(cfg.Archive.Dir)
			if err != nil {
				return err
			}
			defer store.Close()

			snaps, err := store.List(cfg.Engine.BrainPath)
			if err != nil {
				return err
			}
			if len(snaps) == 0 {
				fmt.Println("no snapshots")
				return nil
			}
			for _, s := range snaps {
				fmt.Printf("%s  %8d bytes\n", s.Timestamp.Format(time.RFC3339), s.Size)
			}
			return nil
		},
	})
	archiveCmd.AddCommand(&cobra.Command{
		Use:   "restore",
		Short: "Restore the newest snapshot over the brain file",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := archive.Open(cfg.Archive.Dir)
			if err != nil {
				return err
			}
			defer store.Close()

			data, snap, err := store.Latest(cfg.Engine.BrainPath)
			if err != nil {
				return err
			}
			if err := os.WriteFile(cfg.Engine.BrainPath, data, 0o644); err != nil {
				return fmt.Errorf("restore brain file: %w", err)
			}
			fmt.Printf("restored snapshot from %s\n", snap.Timestamp.Format(time.RFC3339))
			return nil
		},
	})
	archiveCmd.AddCommand(&cobra.Command{
		Use:   "prune",
		Short: "Delete old snapshots beyond the configured keep count",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := archive.Open(cfg.Archive.Dir)
			if err != nil {
				return err
			}
			defer store.Close()

			removed, err := store.Prune(cfg.Engine.BrainPath, cfg.Archive.Keep)
			if err != nil {
				return err
			}
			fmt.Printf("pruned %d snapshots\n", removed)
			return nil
		},
	})
	rootCmd.AddCommand(archiveCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadOrCreate loads the configured brain file, falling back to a fresh
// brain when the file does not exist yet.
func loadOrCreate(cfg *config.Config) (*muninn.Brain, error) {
	brain, _, err := muninn.Load(cfg.Engine.BrainPath)
	if err != nil {
		if errors.Is(err, muninn.ErrBrainNotFound) {
			logging.Info("starting with a fresh brain", map[string]interface{}{
				"path": cfg.Engine.BrainPath,
			})
			return muninn.NewWithRules(cfg.Engine.Rules), nil
		}
		return nil, err
	}
	return brain, nil
}

func runServe(cfg *config.Config) error {
	brain, err := loadOrCreate(cfg)
	if err != nil {
		return err
	}

	store, err := archive.Open(cfg.Archive.Dir)
	if err != nil {
		return err
	}
	defer store.Close()

	srv, err := server.New(cfg.Server, brain, cfg.Engine.BrainPath, store)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logging.Info("shutting down", nil)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func loadScenarios(path string) ([]eval.Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenarios: %w", err)
	}
	var scenarios []eval.Scenario
	if err := json.Unmarshal(data, &scenarios); err != nil {
		return nil, fmt.Errorf("parse scenarios: %w", err)
	}
	return scenarios, nil
}

func builtinScenarios() []eval.Scenario {
	return []eval.Scenario{
		{
			Name:   "plural suffix",
			Pairs:  []eval.Pair{{Input: "cat", Target: "cats"}},
			Rounds: 30,
			Probes: []eval.Probe{{Input: "cat", WantSuffix: "s"}},
		},
		{
			Name:   "suffix generalization",
			Pairs:  []eval.Pair{{Input: "cat", Target: "cats"}, {Input: "bat", Target: "bats"}},
			Rounds: 30,
			Probes: []eval.Probe{
				{Input: "cat", WantSuffix: "s"},
				{Input: "rat", WantSuffix: "s"},
			},
		},
		{
			Name:   "mapping isolation",
			Pairs:  []eval.Pair{{Input: "a", Target: "cat"}, {Input: "b", Target: "dog"}},
			Rounds: 30,
			Probes: []eval.Probe{{Input: "a"}, {Input: "b"}},
		},
	}
}
