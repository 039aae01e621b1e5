package collect

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/time/rate"

	"azcost/connectors/azure"
	"azcost/connectors/config"
	"azcost/connectors/ingestion"
	"azcost/connectors/metrics"
	"azcost/domain/collection"
	dc "azcost/domain/config"
	"azcost/domain/costs"
	"azcost/domain/hierarchy"
)

type flags struct {
	dryRun        bool
	subscriptions string
	days          int
}

func parseFlags(args []string) (flags, error) {
	var f flags
	fs := flag.NewFlagSet("collect", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	fs.BoolVar(&f.dryRun, "dry-run", false, "Build and back up the payload without delivering it")
	fs.StringVar(&f.subscriptions, "subscription", "", "Comma-separated list of subscription ids to include (optional)")
	fs.IntVar(&f.days, "days", 0, "Number of days to analyze (overrides collection.days_to_analyze)")
	if err := fs.Parse(args); err != nil {
		return f, err
	}
	if fs.NArg() != 0 {
		return f, fmt.Errorf("collect: unexpected arguments %v", fs.Args())
	}
	if f.days < 0 {
		return f, fmt.Errorf("collect: -days must be positive, got %d", f.days)
	}
	return f, nil
}

// apply overlays command line flags on the loaded configuration.
func (f flags) apply(cfg *dc.Config) {
	if f.days > 0 {
		cfg.Collection.DaysToAnalyze = f.days
	}
	if ids := config.SplitList(f.subscriptions); len(ids) > 0 {
		cfg.Azure.Subscriptions = ids
	}
}

// Run executes the collect subcommand: one pass over every accessible subscription, delivered
// as a single batch to the logs ingestion endpoint.
func Run(args []string) error {
	f, err := parseFlags(args)
	if err != nil {
		return err
	}
	cfg, err := config.Load(config.Path())
	if err != nil {
		return err
	}
	f.apply(cfg)
	if err := cfg.Validate(!f.dryRun); err != nil {
		slog.Error("collect.validation.error", "error", err)
		return err
	}

	cred, err := azure.NewCredential(cfg.Azure)
	if err != nil {
		return err
	}
	client, err := azure.NewClient(cred, cfg.Azure.TenantID, azure.ClientOptions(cfg.Azure))
	if err != nil {
		return err
	}

	rec := metrics.NewRecorder()
	job := NewJob(cfg, client, ingestion.NewSender(IngestionConfig(cfg.Ingestion), cred, ingestion.WithObserver(rec)), rec, f.dryRun)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Collection.JobTimeout)
	defer cancel()

	started := time.Now()
	sum, runErr := job.Run(ctx)
	records, skipped := 0, 0
	if sum != nil {
		records, skipped = len(sum.Records), len(sum.Skipped)
	}
	rec.ObserveRun(records, skipped, time.Since(started), runErr == nil && !f.dryRun, time.Now())
	if cfg.Metrics.Textfile != "" {
		if err := rec.WriteTextfile(cfg.Metrics.Textfile); err != nil {
			slog.Warn("collect.metrics.write.error", "path", cfg.Metrics.Textfile, "error", err)
		}
	}
	if runErr != nil {
		slog.Error("collect.failed", "error", runErr)
		return runErr
	}
	return nil
}

// AzureClient is everything a run needs from the resource manager.
type AzureClient interface {
	collection.SubscriptionLister
	hierarchy.Client
	costs.CostClient
	costs.BudgetClient
}

// NewJob wires the resolver, collector and sender of one run from the configuration.
func NewJob(cfg *dc.Config, client AzureClient, sender collection.Sender, rec *metrics.Recorder, dryRun bool) *collection.Job {
	timeout := cfg.Collection.CallTimeout
	return &collection.Job{
		Subscriptions: client,
		Resolver:      hierarchy.NewResolver(client, hierarchy.WithObserver(rec), hierarchy.WithCallTimeout(timeout)),
		Collector:     costs.NewCollector(client, client, costs.WithObserver(rec), costs.WithCallTimeout(timeout)),
		Sender:        sender,
		Options: collection.Options{
			Days:        cfg.Collection.DaysToAnalyze,
			Currency:    cfg.Collection.Currency,
			Concurrency: cfg.Collection.Concurrency,
			Limiter:     rate.NewLimiter(rate.Limit(cfg.Collection.RequestsPerSecond), 1),
			IDs:         cfg.Azure.Subscriptions,
			States:      cfg.Azure.States,
			DryRun:      dryRun,
		},
	}
}

func IngestionConfig(c dc.Ingestion) ingestion.Config {
	return ingestion.Config{
		Endpoint:  c.Endpoint,
		RuleID:    c.RuleID,
		TableName: c.TableName,
		Audience:  c.Audience,
		BackupDir: c.BackupDir,
	}
}
