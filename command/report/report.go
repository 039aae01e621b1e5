package report

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"azcost/connectors/config"
	ccsv "azcost/connectors/csv"
	"azcost/connectors/ingestion"
)

// Run executes the report command. It reads a payload backup (the latest one unless -backup
// is given) and writes the budget status and per-group cost CSVs.
func Run(args []string) error {
	fs := flag.NewFlagSet("report", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	backup := fs.String("backup", "", "payload backup to read (default: latest in the backup dir)")
	out := fs.String("out", "", "output directory (default: the backup dir)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 0 {
		return fmt.Errorf("report: unexpected arguments %v", fs.Args())
	}

	cfg, err := config.Load(config.Path())
	if err != nil {
		return err
	}
	dir := cfg.Ingestion.BackupDir
	if *out == "" {
		*out = dir
	}

	path := *backup
	if path == "" {
		path, err = ingestion.LatestBackup(dir)
		if errors.Is(err, ingestion.ErrNoBackup) {
			slog.Error("report.backup.missing", "dir", dir)
			return fmt.Errorf("no payload backup in %s, run collect first: %w", dir, err)
		}
		if err != nil {
			return err
		}
	}

	records, err := ingestion.ReadBackup(path)
	if err != nil {
		return err
	}
	slog.Info("report.start", "backup", path, "records", len(records))

	if err := ccsv.WriteReportCSVs(*out, records); err != nil {
		slog.Error("report.csv.write.error", "error", err)
		return fmt.Errorf("failed to write report CSVs: %w", err)
	}
	slog.Info("report.done", "dir", *out, "records", len(records))
	return nil
}
