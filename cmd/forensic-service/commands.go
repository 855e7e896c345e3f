package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"erpmigrate/internal/adapter"
	"erpmigrate/internal/broker"
	"erpmigrate/internal/extraction"
	"erpmigrate/internal/management"
	"erpmigrate/internal/migration"
	"erpmigrate/internal/planner"
)

// runSummary is what the run command prints. Extractor payloads are left out; they
// stay retrievable through the result store.
type runSummary struct {
	RunID           string                                 `json:"runId"`
	SourceSystem    adapter.SourceSystem                   `json:"sourceSystem"`
	Mode            adapter.Mode                           `json:"mode"`
	Extractors      map[string]extraction.ExtractorSummary `json:"extractors"`
	Errors          map[string]string                      `json:"errors,omitempty"`
	Confidence      extraction.Confidence                  `json:"confidence"`
	GapReport       extraction.GapReport                   `json:"gapReport"`
	HumanValidation []string                               `json:"humanValidation,omitempty"`
	Plan            *planner.Plan                          `json:"plan,omitempty"`
	Migration       *migration.RunReport                   `json:"migration,omitempty"`
}

type planFlags struct {
	includeModules    []string
	excludeModules    []string
	excludeConfig     bool
	excludeInterfaces bool
}

func (f *planFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&f.includeModules, "modules", nil, "Plan only these modules (e.g. FI,MM)")
	cmd.Flags().StringSliceVar(&f.excludeModules, "exclude-modules", nil, "Leave these modules out of the plan")
	cmd.Flags().BoolVar(&f.excludeConfig, "exclude-config", false, "Leave configuration objects out of the plan")
	cmd.Flags().BoolVar(&f.excludeInterfaces, "exclude-interfaces", false, "Leave interface objects out of the plan")
}

func (f *planFlags) options() planner.Options {
	return planner.Options{
		IncludeModules:    f.includeModules,
		ExcludeModules:    f.excludeModules,
		ExcludeConfig:     f.excludeConfig,
		ExcludeInterfaces: f.excludeInterfaces,
	}
}

func runCmd() *cobra.Command {
	var (
		extract     management.ExtractRequest
		plan        planFlags
		migrate     bool
		dryRun      bool
		target      string
		output      string
		concurrency int
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one forensic pass, build the migration plan and optionally migrate",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, cancel := signalContext()
			defer cancel()

			app := NewApp(cfg, log)
			if err := app.Initialize(ctx); err != nil {
				log.Fatalf("Failed to initialize application: %v", err)
			}
			defer func() {
				if err := app.Shutdown(context.Background()); err != nil {
					log.Errorw("Shutdown failed", "error", err)
				}
			}()

			result, err := app.service.Extract(ctx, extract)
			if err != nil {
				log.ErrorwCtx(ctx, "Extraction failed", "error", err)
				return err
			}
			log.InfowCtx(ctx, "Extraction finished",
				"run_id", result.RunID,
				"confidence", result.Confidence.Overall,
				"failed_extractors", len(result.Errors),
			)

			summary := summarize(result)
			summary.Plan, err = app.service.Plan(ctx, result.RunID, plan.options())
			if err != nil {
				log.ErrorwCtx(ctx, "Planning failed", "error", err)
				return err
			}

			var runErr error
			if migrate {
				req := management.MigrateRequest{
					SourceProfile:   extract.Profile,
					TargetProfile:   target,
					ExtractionRunID: result.RunID,
					PlanOptions:     &summary.Plan.Scope.Options,
					MaxConcurrency:  concurrency,
				}
				if cmd.Flags().Changed("dry-run") {
					req.DryRun = &dryRun
				}
				summary.Migration, runErr = app.service.Migrate(ctx, req)
				if runErr == nil && summary.Migration.Status == migration.StatusFailed {
					runErr = fmt.Errorf("migration run %s failed", summary.Migration.RunID)
				}
			}

			if err := writeJSON(output, summary); err != nil {
				return err
			}
			return runErr
		},
	}

	cmd.Flags().StringVar(&extract.Profile, "profile", "", "Source connection profile (defaults to extraction.source_profile)")
	cmd.Flags().StringVar(&extract.RunID, "run-id", "", "Run id; generated when empty")
	cmd.Flags().StringSliceVar(&extract.Include, "include", nil, "Run only these extractors")
	cmd.Flags().StringSliceVar(&extract.Exclude, "exclude", nil, "Skip these extractors")
	cmd.Flags().IntVar(&extract.MaxConcurrency, "extract-concurrency", 0, "Extractors run in parallel")
	plan.register(cmd)
	cmd.Flags().BoolVar(&migrate, "migrate", false, "Migrate the planned objects after planning")
	cmd.Flags().BoolVar(&dryRun, "dry-run", true, "Transform and check without loading into the target")
	cmd.Flags().StringVar(&target, "target", "", "Target connection profile (defaults to migration.target_profile)")
	cmd.Flags().IntVar(&concurrency, "migrate-concurrency", 0, "Objects migrated in parallel within a wave")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the JSON report to this file instead of stdout")
	return cmd
}

func planCmd() *cobra.Command {
	var (
		runID  string
		plan   planFlags
		output string
	)

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Build a migration plan from a stored extraction run",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, cancel := signalContext()
			defer cancel()

			app := NewApp(cfg, log)
			if err := app.Initialize(ctx); err != nil {
				log.Fatalf("Failed to initialize application: %v", err)
			}
			defer app.Shutdown(context.Background())

			result, err := app.service.Plan(ctx, runID, plan.options())
			if err != nil {
				log.ErrorwCtx(ctx, "Planning failed", "run_id", runID, "error", err)
				return err
			}
			return writeJSON(output, result)
		},
	}

	cmd.Flags().StringVar(&runID, "run-id", "", "Extraction run to plan from (required)")
	_ = cmd.MarkFlagRequired("run-id")
	plan.register(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the plan to this file instead of stdout")
	return cmd
}

func watchCmd() *cobra.Command {
	var (
		groupID string
		topic   string
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print progress events published to the broker as JSON lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			if !cfg.Broker.Enabled() {
				return fmt.Errorf("watch needs a configured broker")
			}
			if topic == "" {
				topic = cfg.Broker.Kafka.ProgressTopic
			}

			ctx, cancel := signalContext()
			defer cancel()

			consumer, err := broker.NewConsumer(cfg.Broker, groupID, log)
			if err != nil {
				return err
			}
			defer consumer.Close()

			enc := json.NewEncoder(cmd.OutOrStdout())
			log.InfowCtx(ctx, "Watching progress events", "topic", topic, "group", groupID)
			err = consumer.Consume(ctx, topic, func(_ context.Context, msg broker.Envelope) error {
				return enc.Encode(msg)
			})
			if err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&groupID, "group", "forensic-watch", "Consumer group id")
	cmd.Flags().StringVar(&topic, "topic", "", "Topic to follow (defaults to broker.kafka.progress_topic)")
	return cmd
}

func summarize(r *extraction.Result) *runSummary {
	return &runSummary{
		RunID:           r.RunID,
		SourceSystem:    r.SourceSystem,
		Mode:            r.Mode,
		Extractors:      r.Extractors,
		Errors:          r.Errors,
		Confidence:      r.Confidence,
		GapReport:       r.GapReport,
		HumanValidation: r.HumanValidation,
	}
}

func writeJSON(path string, v interface{}) error {
	var w io.Writer = os.Stdout
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", path, err)
		}
		defer f.Close()
		w = f
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
