package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMissingConfig is returned by Validate when a required setting is empty.
var ErrMissingConfig = errors.New("missing required configuration")

// Auth modes supported by the azure section.
const (
	AuthManagedIdentity = "managed_identity"
	AuthClientSecret    = "client_secret"
	AuthDefault         = "default"
)

// Config represents the structure of config.yml used by the tool.
type Config struct {
	LogLevel   string     `yaml:"log_level"`
	Azure      Azure      `yaml:"azure"`
	Collection Collection `yaml:"collection"`
	Ingestion  Ingestion  `yaml:"ingestion"`
	Metrics    Metrics    `yaml:"metrics"`
}

type Azure struct {
	// Auth is one of managed_identity, client_secret or default.
	Auth         string `yaml:"auth"`
	TenantID     string `yaml:"tenant_id"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"-"`
	// AuthorityHost is the token issuer base URL, e.g. https://login.microsoftonline.com
	AuthorityHost string `yaml:"authority_host"`
	// ResourceManager is the ARM endpoint, e.g. https://management.azure.com
	ResourceManager string `yaml:"resource_manager"`
	// Subscriptions restricts the run to these ids. Empty means every accessible subscription.
	Subscriptions []string `yaml:"subscriptions"`
	// States restricts the run to subscriptions in these states. Empty means all.
	States []string `yaml:"states"`
}

type Collection struct {
	DaysToAnalyze     int           `yaml:"days_to_analyze"`
	Currency          string        `yaml:"currency"`
	Concurrency       int           `yaml:"concurrency"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	CallTimeout       time.Duration `yaml:"call_timeout"`
	JobTimeout        time.Duration `yaml:"job_timeout"`
}

type Ingestion struct {
	Endpoint    string `yaml:"endpoint"`
	RuleID      string `yaml:"rule_id"`
	TableName   string `yaml:"table_name"`
	WorkspaceID string `yaml:"workspace_id"`
	Audience    string `yaml:"audience"`
	BackupDir   string `yaml:"backup_dir"`
}

type Metrics struct {
	Textfile string `yaml:"textfile"`
}

// ApplyDefaults fills zero values with the documented defaults.
func (c *Config) ApplyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Azure.Auth == "" {
		c.Azure.Auth = AuthDefault
	}
	if c.Azure.AuthorityHost == "" {
		c.Azure.AuthorityHost = "https://login.microsoftonline.com"
	}
	if c.Azure.ResourceManager == "" {
		c.Azure.ResourceManager = "https://management.azure.com"
	}
	if c.Collection.DaysToAnalyze <= 0 {
		c.Collection.DaysToAnalyze = 30
	}
	if c.Collection.Currency == "" {
		c.Collection.Currency = "USD"
	}
	if c.Collection.Concurrency <= 0 {
		c.Collection.Concurrency = 4
	}
	if c.Collection.RequestsPerSecond <= 0 {
		c.Collection.RequestsPerSecond = 2
	}
	if c.Collection.CallTimeout <= 0 {
		c.Collection.CallTimeout = 60 * time.Second
	}
	if c.Collection.JobTimeout <= 0 {
		c.Collection.JobTimeout = 30 * time.Minute
	}
	if c.Ingestion.Audience == "" {
		c.Ingestion.Audience = "https://monitor.azure.com//.default"
	}
	if c.Ingestion.BackupDir == "" {
		c.Ingestion.BackupDir = "data"
	}
}

// Validate checks the settings a collect run cannot work without.
// Ingestion settings are only required when the payload is actually delivered.
func (c *Config) Validate(deliver bool) error {
	var missing []string
	switch c.Azure.Auth {
	case AuthClientSecret:
		if c.Azure.TenantID == "" {
			missing = append(missing, "azure.tenant_id")
		}
		if c.Azure.ClientID == "" {
			missing = append(missing, "azure.client_id")
		}
		if c.Azure.ClientSecret == "" {
			missing = append(missing, "AZURE_CLIENT_SECRET")
		}
	case AuthManagedIdentity, AuthDefault:
	default:
		return fmt.Errorf("unknown azure.auth %q", c.Azure.Auth)
	}
	if deliver {
		if c.Ingestion.Endpoint == "" {
			missing = append(missing, "ingestion.endpoint")
		}
		if c.Ingestion.RuleID == "" {
			missing = append(missing, "ingestion.rule_id")
		}
		if c.Ingestion.TableName == "" {
			missing = append(missing, "ingestion.table_name")
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingConfig, strings.Join(missing, ", "))
	}
	return nil
}
