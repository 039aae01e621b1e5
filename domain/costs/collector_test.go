package costs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"azcost/domain/cloudspending"
)

var errBoom = errors.New("boom")

type fakeCosts struct {
	query        func() ([]float64, error)
	usage        func() ([]UsageDetail, error)
	usageQuery   func() ([]UsageDetail, error)
	periods      func() ([]BillingPeriod, error)
	periodUsage  func(name string) ([]UsageDetail, error)
	calls        []string
	requestedFor string
}

func (f *fakeCosts) QueryCost(_ context.Context, sub string, _ cloudspending.Period) ([]float64, error) {
	f.calls = append(f.calls, "query")
	f.requestedFor = sub
	if f.query == nil {
		return nil, errBoom
	}
	return f.query()
}

func (f *fakeCosts) ListUsageDetails(context.Context, string, cloudspending.Period) ([]UsageDetail, error) {
	f.calls = append(f.calls, "usage")
	if f.usage == nil {
		return nil, errBoom
	}
	return f.usage()
}

func (f *fakeCosts) QueryUsageDetails(context.Context, string, cloudspending.Period) ([]UsageDetail, error) {
	f.calls = append(f.calls, "usage-query")
	if f.usageQuery == nil {
		return nil, errBoom
	}
	return f.usageQuery()
}

func (f *fakeCosts) ListBillingPeriods(context.Context, string) ([]BillingPeriod, error) {
	f.calls = append(f.calls, "periods")
	if f.periods == nil {
		return nil, errBoom
	}
	return f.periods()
}

func (f *fakeCosts) BillingPeriodUsage(_ context.Context, _ string, name string) ([]UsageDetail, error) {
	f.calls = append(f.calls, "period-usage:"+name)
	if f.periodUsage == nil {
		return nil, errBoom
	}
	return f.periodUsage(name)
}

type fakeBudgets struct {
	consumption func() ([]Budget, error)
	costMgmt    func() ([]Budget, error)
}

func (f fakeBudgets) ListBudgets(context.Context, string) ([]Budget, error) {
	if f.consumption == nil {
		return nil, errBoom
	}
	return f.consumption()
}

func (f fakeBudgets) ListCostManagementBudgets(context.Context, string) ([]Budget, error) {
	if f.costMgmt == nil {
		return nil, errBoom
	}
	return f.costMgmt()
}

type recordingObserver struct{ seen []string }

func (o *recordingObserver) ObserveStrategy(component, strategy, outcome string) {
	o.seen = append(o.seen, component+"/"+strategy+"/"+outcome)
}

var window = cloudspending.LastDays(time.Date(2024, 3, 31, 12, 0, 0, 0, time.UTC), 30)

func day(d int) time.Time { return time.Date(2024, 3, d, 0, 0, 0, 0, time.UTC) }

func TestCostQueryWins(t *testing.T) {
	cc := &fakeCosts{
		query: func() ([]float64, error) { return []float64{100.5, 200.25, 0}, nil },
		usage: func() ([]UsageDetail, error) { return []UsageDetail{{Cost: 1}}, nil },
	}
	res := NewCollector(cc, fakeBudgets{}).Collect(context.Background(), "sub-1", window)

	assert.Equal(t, SourceCostQuery, res.CostSource)
	assert.InDelta(t, 300.75, res.Cost, 1e-9)
	assert.Equal(t, []string{"query"}, cc.calls)
	assert.Equal(t, "sub-1", cc.requestedFor)
}

func TestCostFallsThroughErrorsAndEmptyResults(t *testing.T) {
	cc := &fakeCosts{
		query: func() ([]float64, error) { return nil, nil },
		usageQuery: func() ([]UsageDetail, error) {
			return []UsageDetail{{Date: day(2), Cost: 10}, {Date: day(3), Cost: 5}}, nil
		},
	}
	obs := &recordingObserver{}
	res := NewCollector(cc, fakeBudgets{}, WithObserver(obs)).Collect(context.Background(), "sub-1", window)

	assert.Equal(t, SourceUsageDetailsQuery, res.CostSource)
	assert.Equal(t, 15.0, res.Cost)
	assert.Equal(t, []string{
		"cost/cost-query/miss",
		"cost/usage-details/error",
		"cost/usage-details-query/hit",
		"budget/budgets/error",
		"budget/cost-management-budgets/error",
	}, obs.seen)
}

func TestUsageDetailsOutsideWindowAreDropped(t *testing.T) {
	cc := &fakeCosts{
		usage: func() ([]UsageDetail, error) {
			return []UsageDetail{
				{Date: day(15), Cost: 7},
				{Date: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), Cost: 1000},
				{Cost: 3},
			}, nil
		},
	}
	res := NewCollector(cc, fakeBudgets{}).Collect(context.Background(), "sub-1", window)
	assert.Equal(t, SourceUsageDetails, res.CostSource)
	assert.Equal(t, 10.0, res.Cost)
}

func TestBillingPeriodUsesLatestPeriod(t *testing.T) {
	cc := &fakeCosts{
		periods: func() ([]BillingPeriod, error) {
			return []BillingPeriod{
				{Name: "202401", Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
				{Name: "202403", Start: day(1)},
				{Name: "202402", Start: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)},
			}, nil
		},
		periodUsage: func(name string) ([]UsageDetail, error) {
			if name != "202403" {
				return nil, errBoom
			}
			return []UsageDetail{{Date: day(10), Cost: 42}, {Date: day(11), Cost: 8}}, nil
		},
	}
	res := NewCollector(cc, fakeBudgets{}).Collect(context.Background(), "sub-1", window)
	assert.Equal(t, SourceBillingPeriod, res.CostSource)
	assert.Equal(t, 50.0, res.Cost)
	assert.Contains(t, cc.calls, "period-usage:202403")
}

func TestNoCostDataIsZero(t *testing.T) {
	cc := &fakeCosts{
		query:   func() ([]float64, error) { return []float64{}, nil },
		periods: func() ([]BillingPeriod, error) { return nil, nil },
	}
	res := NewCollector(cc, fakeBudgets{}).Collect(context.Background(), "sub-1", window)
	assert.Equal(t, 0.0, res.Cost)
	assert.Empty(t, res.CostSource)
	assert.Nil(t, res.Budget)
	assert.Nil(t, res.BudgetUsedPercent())
}

func TestBudgetFirstEntryOfFirstSource(t *testing.T) {
	cc := &fakeCosts{query: func() ([]float64, error) { return []float64{1200}, nil }}
	bc := fakeBudgets{
		consumption: func() ([]Budget, error) {
			return []Budget{{Name: "monthly", Amount: 1000}, {Name: "yearly", Amount: 12000}}, nil
		},
		costMgmt: func() ([]Budget, error) { return []Budget{{Name: "other", Amount: 1}}, nil },
	}
	res := NewCollector(cc, bc).Collect(context.Background(), "sub-1", window)

	require.NotNil(t, res.Budget)
	assert.Equal(t, 1000.0, *res.Budget)
	assert.Equal(t, SourceBudgets, res.BudgetSource)
	pct := res.BudgetUsedPercent()
	require.NotNil(t, pct)
	assert.Equal(t, 120.0, *pct)
	assert.Equal(t, cloudspending.StatusOverBudget, cloudspending.ClassifyBudget(pct))
}

func TestBudgetFallsBackToCostManagement(t *testing.T) {
	cc := &fakeCosts{query: func() ([]float64, error) { return []float64{850}, nil }}
	bc := fakeBudgets{
		consumption: func() ([]Budget, error) { return nil, nil },
		costMgmt:    func() ([]Budget, error) { return []Budget{{Name: "cm", Amount: 1000}}, nil },
	}
	res := NewCollector(cc, bc).Collect(context.Background(), "sub-1", window)
	require.NotNil(t, res.Budget)
	assert.Equal(t, SourceCostMgmtBudgets, res.BudgetSource)
	assert.Equal(t, 85.0, *res.BudgetUsedPercent())
}

func TestZeroBudgetHasNoPercentage(t *testing.T) {
	cc := &fakeCosts{query: func() ([]float64, error) { return []float64{10}, nil }}
	bc := fakeBudgets{consumption: func() ([]Budget, error) { return []Budget{{Amount: 0}}, nil }}
	res := NewCollector(cc, bc).Collect(context.Background(), "sub-1", window)
	require.NotNil(t, res.Budget)
	assert.Equal(t, 0.0, *res.Budget)
	assert.Nil(t, res.BudgetUsedPercent())
}

func TestCallTimeoutIsApplied(t *testing.T) {
	var deadline bool
	cc := &fakeCosts{}
	cc.query = func() ([]float64, error) { return nil, errBoom }
	slow := &deadlineCosts{fakeCosts: cc, seen: &deadline}
	NewCollector(slow, fakeBudgets{}, WithCallTimeout(time.Minute)).Collect(context.Background(), "sub-1", window)
	assert.True(t, deadline)
}

type deadlineCosts struct {
	*fakeCosts
	seen *bool
}

func (d *deadlineCosts) QueryCost(ctx context.Context, sub string, p cloudspending.Period) ([]float64, error) {
	_, ok := ctx.Deadline()
	*d.seen = ok
	return d.fakeCosts.QueryCost(ctx, sub, p)
}

func TestCancelledContextSkipsSources(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cc := &fakeCosts{}
	res := NewCollector(cc, fakeBudgets{}).Collect(ctx, "sub-1", window)
	assert.Empty(t, cc.calls)
	assert.Equal(t, 0.0, res.Cost)
}
