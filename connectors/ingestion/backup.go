package ingestion

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	lo "github.com/samber/lo"

	"azcost/domain/cloudspending"
)

// ErrNoBackup is returned by LatestBackup when the directory holds no payload file.
var ErrNoBackup = errors.New("no payload backup found")

const backupPattern = "payload-*.json"

func BackupName(runID string) string {
	return "payload-" + runID + ".json"
}

// LatestBackup returns the most recently modified payload backup in dir.
func LatestBackup(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, backupPattern))
	if err != nil {
		return "", fmt.Errorf("failed to list backups: %w", err)
	}
	type entry struct {
		path string
		info os.FileInfo
	}
	entries := lo.FilterMap(matches, func(p string, _ int) (entry, bool) {
		info, err := os.Stat(p)
		return entry{p, info}, err == nil && info.Mode().IsRegular()
	})
	if len(entries) == 0 {
		return "", ErrNoBackup
	}
	latest := lo.MaxBy(entries, func(a, b entry) bool {
		return a.info.ModTime().After(b.info.ModTime())
	})
	return latest.path, nil
}

// ReadBackup loads the records of a payload backup.
func ReadBackup(path string) ([]cloudspending.SubscriptionRecord, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup %s: %w", path, err)
	}
	var records []cloudspending.SubscriptionRecord
	if err := json.Unmarshal(b, &records); err != nil {
		return nil, fmt.Errorf("failed to parse backup %s: %w", path, err)
	}
	return records, nil
}
