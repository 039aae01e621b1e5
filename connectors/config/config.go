package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	dc "azcost/domain/config"
)

// DefaultPath is used when CONFIG_PATH is not set.
const DefaultPath = "./config.yml"

// Path returns the config file location from CONFIG_PATH or the default.
func Path() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return DefaultPath
}

// Load parses the YAML configuration file at path, applies environment overrides and defaults.
// A missing file is not an error: the job can be configured from the environment alone.
func Load(path string) (*dc.Config, error) {
	var c dc.Config
	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		slog.Info("config.file.absent", "path", path)
	case err != nil:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
		slog.Info(fmt.Sprintf("Loaded config: %s", path))
	}
	applyEnv(&c, os.Getenv)
	c.ApplyDefaults()
	return &c, nil
}

// applyEnv overlays environment variables on top of the file values.
// Secrets only ever come from the environment.
func applyEnv(c *dc.Config, getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&c.Azure.TenantID, "AZURE_TENANT_ID")
	set(&c.Azure.ClientID, "AZURE_CLIENT_ID")
	set(&c.Azure.ClientSecret, "AZURE_CLIENT_SECRET")
	set(&c.Azure.Auth, "AZURE_AUTH")
	set(&c.Ingestion.Endpoint, "DCE_ENDPOINT")
	set(&c.Ingestion.RuleID, "DCR_IMMUTABLE_ID")
	set(&c.Ingestion.TableName, "LOG_TABLE_NAME")
	set(&c.Ingestion.WorkspaceID, "WORKSPACE_ID")
	set(&c.LogLevel, "LOG_LEVEL")

	// Support multiple subscription IDs separated by commas
	if subs := getenv("AZURE_SUBSCRIPTION_ID"); subs != "" {
		c.Azure.Subscriptions = SplitList(subs)
	}
}

// SplitList splits a comma separated list, dropping blanks.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
