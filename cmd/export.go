package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cometsec/comet/internal/message"
	"github.com/cometsec/comet/internal/report"
	"github.com/cometsec/comet/pkg/azure"
	"github.com/cometsec/comet/pkg/clean"
	"github.com/cometsec/comet/pkg/config"
	"github.com/cometsec/comet/pkg/export"
	"github.com/cometsec/comet/pkg/sink"
	"github.com/cometsec/comet/pkg/state"
	"github.com/cometsec/comet/pkg/telemetry"
)

var (
	exportTenant       string
	exportSubscription string
	exportReportPath   string
	exportDryRun       bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export directory and resource inventory to the event hub",
	Long: `Export walks the configured scopes in priority order: the directory
tenant first, then each enabled subscription. Every record is cleaned,
enveloped, batched under the size budget and streamed to the event hub.
A scope's failure never aborts the remaining scopes.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		applyExportFlags(cfg)
		if err := cfg.Validate(!exportDryRun); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		message.Banner()

		runner, err := buildRunner(cfg, exportDryRun)
		if err != nil {
			return err
		}

		result := runner.Run(cmd.Context())
		doc := report.New(result)
		doc.Print()
		if exportReportPath != "" {
			if err := doc.Write(exportReportPath); err != nil {
				message.Error("Failed to write the run report: %v", err)
			}
		}

		if !result.Success() {
			return fmt.Errorf("export finished with %d failed scope(s)", result.FailedScopes())
		}
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportTenant, "tenant", "", "tenant id override")
	exportCmd.Flags().StringVarP(&exportSubscription, "subscription", "s", "", "limit the run to one subscription id, or 'all' for every configured one")
	exportCmd.Flags().StringVar(&exportReportPath, "report", "", "write the full run report JSON to this path")
	exportCmd.Flags().BoolVar(&exportDryRun, "dry-run", false, "fetch, clean and batch but do not transmit")
	rootCmd.AddCommand(exportCmd)
}

// applyExportFlags folds command-line overrides into the loaded
// configuration before validation.
func applyExportFlags(cfg *config.Config) {
	if exportTenant != "" {
		cfg.TenantID = exportTenant
	}
	if exportSubscription != "" && exportSubscription != "all" {
		cfg.Subscriptions = []config.Subscription{{ID: exportSubscription}}
	}
}

// buildRunner wires the production collaborators: credential, sources,
// sink (or the dry-run discard), cleaner, state store and tracker.
func buildRunner(cfg *config.Config, dryRun bool) (*export.Runner, error) {
	cred, err := azure.Credential(cfg.TenantID, cfg.IdentityClientID)
	if err != nil {
		return nil, err
	}

	tracker := telemetry.NewTracker()
	sources := export.NewAzureSources(cred, cfg, tracker)

	var transmitter export.Transmitter = export.Discard{}
	if !dryRun {
		transmitter = sink.NewHub(cfg.EventHub.Namespace, cfg.EventHub.Hub, azure.NewProvider(cred), tracker)
	}

	cleaner := clean.NewCleaner()
	if cfg.Cleaning.RulesFile != "" {
		if err := cleaner.LoadRulesFile(cfg.Cleaning.RulesFile); err != nil {
			return nil, fmt.Errorf("failed to load cleaning rules: %w", err)
		}
	}

	var store state.Store = state.Noop{}
	if cfg.State.Path != "" && !dryRun {
		store = state.NewFileStore(cfg.State.Path)
	}

	return export.NewRunner(export.Options{
		Config:  cfg,
		Sources: sources,
		Sink:    transmitter,
		Store:   store,
		Cleaner: cleaner,
		Tracker: tracker,
	}), nil
}
