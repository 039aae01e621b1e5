package report

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ccsv "azcost/connectors/csv"
	"azcost/connectors/ingestion"
	"azcost/domain/cloudspending"
)

func useConfig(t *testing.T, backupDir string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte("ingestion:\n  backup_dir: "+backupDir+"\n"), 0o644))
	t.Setenv("CONFIG_PATH", path)
}

func TestRunWritesReportFromLatestBackup(t *testing.T) {
	dir := t.TempDir()
	useConfig(t, dir)

	s := ingestion.NewSender(ingestion.Config{BackupDir: dir}, nil)
	_, err := s.Backup("run-1", []cloudspending.SubscriptionRecord{
		cloudspending.NewSubscriptionRecord(cloudspending.RecordInput{
			Subscription: cloudspending.Subscription{ID: "sub-1"},
			Cost:         10,
			Currency:     "USD",
			Period:       cloudspending.LastDays(time.Now(), 30),
			Generated:    time.Now(),
		}),
	})
	require.NoError(t, err)

	require.NoError(t, Run(nil))
	b, err := os.ReadFile(filepath.Join(dir, ccsv.BudgetStatusFile))
	require.NoError(t, err)
	assert.Contains(t, string(b), "sub-1")
	assert.FileExists(t, filepath.Join(dir, ccsv.GroupCostsFile))
}

func TestRunWithoutBackup(t *testing.T) {
	useConfig(t, t.TempDir())
	err := Run(nil)
	assert.ErrorIs(t, err, ingestion.ErrNoBackup)
}
