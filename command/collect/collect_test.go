package collect

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"azcost/connectors/ingestion"
	"azcost/connectors/metrics"
	"azcost/domain/cloudspending"
	dc "azcost/domain/config"
	"azcost/domain/costs"
	"azcost/domain/hierarchy"
)

var errUnavailable = errors.New("unavailable")

// fakeAzure knows the ancestors, cost and budget of sub-a only.
type fakeAzure struct{}

func (fakeAzure) ListSubscriptions(context.Context) ([]cloudspending.Subscription, error) {
	return []cloudspending.Subscription{
		{ID: "sub-a", DisplayName: "Payments", State: "Enabled"},
		{ID: "sub-b", DisplayName: "Sandbox", State: "Enabled"},
		{ID: "sub-c", DisplayName: "Legacy", State: "Disabled"},
	}, nil
}

func (fakeAzure) SubscriptionAncestors(_ context.Context, id string) ([]hierarchy.Ancestor, error) {
	if id != "sub-a" {
		return nil, errUnavailable
	}
	return []hierarchy.Ancestor{
		{Name: "prod", DisplayName: "Prod", Kind: hierarchy.KindGroup},
		{Name: "tenant", DisplayName: "Contoso", Kind: hierarchy.KindGroup},
	}, nil
}

func (fakeAzure) ListGroups(context.Context) ([]hierarchy.Node, error) { return nil, errUnavailable }
func (fakeAzure) ExpandGroup(context.Context, string) ([]hierarchy.Node, error) {
	return nil, errUnavailable
}
func (fakeAzure) DescendantTree(context.Context) ([]hierarchy.Node, error) { return nil, errUnavailable }
func (fakeAzure) SubscriptionParent(context.Context, string) (string, error) {
	return "", errUnavailable
}
func (fakeAzure) GroupDisplayName(context.Context, string) (string, error) {
	return "", errUnavailable
}

func (fakeAzure) QueryCost(_ context.Context, id string, _ cloudspending.Period) ([]float64, error) {
	if id == "sub-a" {
		return []float64{1000, 200}, nil
	}
	return nil, nil
}
func (fakeAzure) ListUsageDetails(context.Context, string, cloudspending.Period) ([]costs.UsageDetail, error) {
	return nil, nil
}
func (fakeAzure) QueryUsageDetails(context.Context, string, cloudspending.Period) ([]costs.UsageDetail, error) {
	return nil, nil
}
func (fakeAzure) ListBillingPeriods(context.Context, string) ([]costs.BillingPeriod, error) {
	return nil, nil
}
func (fakeAzure) BillingPeriodUsage(context.Context, string, string) ([]costs.UsageDetail, error) {
	return nil, nil
}
func (fakeAzure) ListBudgets(_ context.Context, id string) ([]costs.Budget, error) {
	if id == "sub-a" {
		return []costs.Budget{{Name: "monthly", Amount: 1000}}, nil
	}
	return nil, nil
}
func (fakeAzure) ListCostManagementBudgets(context.Context, string) ([]costs.Budget, error) {
	return nil, nil
}

type token struct{}

func (token) GetToken(context.Context, policy.TokenRequestOptions) (azcore.AccessToken, error) {
	return azcore.AccessToken{Token: "t", ExpiresOn: time.Now().Add(time.Hour)}, nil
}

type collector struct {
	mu     sync.Mutex
	bodies [][]byte
}

func (c *collector) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b, _ := io.ReadAll(r.Body)
	c.mu.Lock()
	c.bodies = append(c.bodies, b)
	c.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func testConfig(t *testing.T, endpoint string) *dc.Config {
	cfg := &dc.Config{
		Azure:     dc.Azure{States: []string{"enabled"}},
		Ingestion: dc.Ingestion{Endpoint: endpoint, RuleID: "dcr-1", TableName: "Costs_CL", BackupDir: t.TempDir()},
	}
	cfg.ApplyDefaults()
	cfg.Collection.RequestsPerSecond = 1000
	return cfg
}

func TestParseFlagsOverridesConfig(t *testing.T) {
	f, err := parseFlags([]string{"-dry-run", "-subscription", "sub-a, sub-b,", "-days", "7"})
	require.NoError(t, err)
	assert.True(t, f.dryRun)

	cfg := &dc.Config{}
	cfg.ApplyDefaults()
	f.apply(cfg)
	assert.Equal(t, 7, cfg.Collection.DaysToAnalyze)
	assert.Equal(t, []string{"sub-a", "sub-b"}, cfg.Azure.Subscriptions)

	_, err = parseFlags([]string{"-days", "-3"})
	assert.Error(t, err)
	_, err = parseFlags([]string{"extra"})
	assert.Error(t, err)
}

func TestNewJobEndToEnd(t *testing.T) {
	ep := &collector{}
	srv := httptest.NewServer(ep)
	defer srv.Close()

	cfg := testConfig(t, srv.URL)
	rec := metrics.NewRecorder()
	sender := ingestion.NewSender(IngestionConfig(cfg.Ingestion), token{},
		ingestion.WithHTTPClient(srv.Client()), ingestion.WithObserver(rec))

	sum, err := NewJob(cfg, fakeAzure{}, sender, rec, false).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, sum.Records, 2)

	require.Len(t, ep.bodies, 1)
	var sent []cloudspending.SubscriptionRecord
	require.NoError(t, json.Unmarshal(ep.bodies[0], &sent))
	require.Len(t, sent, 2)

	a, b := sent[0], sent[1]
	assert.Equal(t, "sub-a", a.SubscriptionID)
	assert.Equal(t, "Prod", a.ManagementGroup)
	assert.Equal(t, "Contoso/Prod", a.ManagementGroupPath)
	assert.Equal(t, 1200.0, a.CostAmount)
	require.NotNil(t, a.BudgetUsedPercent)
	assert.Equal(t, 120.0, *a.BudgetUsedPercent)
	assert.Equal(t, "USD", a.Currency)

	assert.Equal(t, "sub-b", b.SubscriptionID)
	assert.Equal(t, cloudspending.NoData, b.ManagementGroupPath)
	assert.Zero(t, b.CostAmount)
	assert.Nil(t, b.BudgetAmount)

	assert.Equal(t, 1.0, testutil.ToFloat64(rec.Deliveries.WithLabelValues(ingestion.PayloadBatch, ingestion.OutcomeDelivered)))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.Strategies.WithLabelValues("hierarchy", hierarchy.StrategyAncestors, cloudspending.OutcomeHit)))
}

func TestNewJobDryRunSkipsDelivery(t *testing.T) {
	ep := &collector{}
	srv := httptest.NewServer(ep)
	defer srv.Close()

	cfg := testConfig(t, srv.URL)
	rec := metrics.NewRecorder()
	sender := ingestion.NewSender(IngestionConfig(cfg.Ingestion), token{}, ingestion.WithHTTPClient(srv.Client()))

	sum, err := NewJob(cfg, fakeAzure{}, sender, rec, true).Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ep.bodies)

	records, err := ingestion.ReadBackup(sum.Backup)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}
