// Package costs retrieves a subscription's spend and budget through ordered fallback sources.
package costs

import (
	"context"
	"log/slog"
	"sort"
	"time"

	lo "github.com/samber/lo"

	"azcost/domain/cloudspending"
)

// UsageDetail is one usage line with its charge date and pre-tax cost.
type UsageDetail struct {
	Date time.Time
	Cost float64
}

// BillingPeriod is an invoice period as listed by the billing API.
type BillingPeriod struct {
	Name  string
	Start time.Time
	End   time.Time
}

// Budget is a configured budget on a subscription scope.
type Budget struct {
	Name   string
	Amount float64
}

// CostClient answers the spend queries. Every call is scoped by subscriptionID.
type CostClient interface {
	// QueryCost returns pre-aggregated cost rows for the period.
	QueryCost(ctx context.Context, subscriptionID string, p cloudspending.Period) ([]float64, error)
	// ListUsageDetails lists usage lines filtered on formatted date bounds.
	ListUsageDetails(ctx context.Context, subscriptionID string, p cloudspending.Period) ([]UsageDetail, error)
	// QueryUsageDetails lists usage lines through the generic resource manager request path.
	QueryUsageDetails(ctx context.Context, subscriptionID string, p cloudspending.Period) ([]UsageDetail, error)
	ListBillingPeriods(ctx context.Context, subscriptionID string) ([]BillingPeriod, error)
	BillingPeriodUsage(ctx context.Context, subscriptionID, billingPeriod string) ([]UsageDetail, error)
}

// BudgetClient answers budget queries.
type BudgetClient interface {
	ListBudgets(ctx context.Context, subscriptionID string) ([]Budget, error)
	ListCostManagementBudgets(ctx context.Context, subscriptionID string) ([]Budget, error)
}

// Result is the outcome of Collect. Cost is 0 when every source came back empty; Budget is
// nil when the subscription has no budget.
type Result struct {
	Cost         float64
	CostSource   string
	Budget       *float64
	BudgetSource string
}

// BudgetUsedPercent derives the percentage from the collected values.
func (r Result) BudgetUsedPercent() *float64 {
	return cloudspending.BudgetUsedPercent(r.Cost, r.Budget)
}

// Source names, in priority order.
const (
	SourceCostQuery         = "cost-query"
	SourceUsageDetails      = "usage-details"
	SourceUsageDetailsQuery = "usage-details-query"
	SourceBillingPeriod     = "billing-period"
	SourceBudgets           = "budgets"
	SourceCostMgmtBudgets   = "cost-management-budgets"
)

const (
	costComponent   = "cost"
	budgetComponent = "budget"
)

type costStrategy struct {
	name  string
	fetch func(ctx context.Context, subscriptionID string, p cloudspending.Period) ([]float64, error)
}

type budgetStrategy struct {
	name  string
	fetch func(ctx context.Context, subscriptionID string) ([]Budget, error)
}

// Collector tries cost and budget sources in order, keeping the first that yields data.
type Collector struct {
	costs       []costStrategy
	budgets     []budgetStrategy
	observer    cloudspending.StrategyObserver
	callTimeout time.Duration
}

// Option configures a Collector.
type Option func(*Collector)

func WithObserver(o cloudspending.StrategyObserver) Option {
	return func(c *Collector) { c.observer = o }
}

func WithCallTimeout(d time.Duration) Option {
	return func(c *Collector) { c.callTimeout = d }
}

func NewCollector(cc CostClient, bc BudgetClient, opts ...Option) *Collector {
	c := &Collector{observer: cloudspending.NopObserver{}}
	for _, o := range opts {
		o(c)
	}
	c.costs = []costStrategy{
		{SourceCostQuery, cc.QueryCost},
		{SourceUsageDetails, usageCosts(cc.ListUsageDetails)},
		{SourceUsageDetailsQuery, usageCosts(cc.QueryUsageDetails)},
		{SourceBillingPeriod, latestBillingPeriod(cc)},
	}
	c.budgets = []budgetStrategy{
		{SourceBudgets, bc.ListBudgets},
		{SourceCostMgmtBudgets, bc.ListCostManagementBudgets},
	}
	return c
}

// Collect returns the subscription's cost over p and its budget amount. It never fails:
// exhausted sources produce a zero cost and a nil budget.
func (c *Collector) Collect(ctx context.Context, subscriptionID string, p cloudspending.Period) Result {
	var res Result
	res.Cost, res.CostSource = c.collectCost(ctx, subscriptionID, p)
	res.Budget, res.BudgetSource = c.collectBudget(ctx, subscriptionID)
	return res
}

func (c *Collector) collectCost(ctx context.Context, subscriptionID string, p cloudspending.Period) (float64, string) {
	for _, s := range c.costs {
		if ctx.Err() != nil {
			break
		}
		points, err := withTimeout(ctx, c.callTimeout, func(ctx context.Context) ([]float64, error) {
			return s.fetch(ctx, subscriptionID, p)
		})
		if err != nil {
			slog.Warn("cost.source.error", "subscription_id", subscriptionID, "source", s.name, "error", err)
			c.observer.ObserveStrategy(costComponent, s.name, cloudspending.OutcomeError)
			continue
		}
		if len(points) == 0 {
			slog.Debug("cost.source.empty", "subscription_id", subscriptionID, "source", s.name)
			c.observer.ObserveStrategy(costComponent, s.name, cloudspending.OutcomeMiss)
			continue
		}
		total := lo.Sum(points)
		slog.Info("cost.source.hit", "subscription_id", subscriptionID, "source", s.name,
			"points", len(points), "cost", total, "from", p.StartDate(), "to", p.EndDate())
		c.observer.ObserveStrategy(costComponent, s.name, cloudspending.OutcomeHit)
		return total, s.name
	}
	slog.Warn("cost.no_data", "subscription_id", subscriptionID, "from", p.StartDate(), "to", p.EndDate())
	return 0, ""
}

func (c *Collector) collectBudget(ctx context.Context, subscriptionID string) (*float64, string) {
	for _, s := range c.budgets {
		if ctx.Err() != nil {
			break
		}
		budgets, err := withTimeout(ctx, c.callTimeout, func(ctx context.Context) ([]Budget, error) {
			return s.fetch(ctx, subscriptionID)
		})
		if err != nil {
			slog.Warn("budget.source.error", "subscription_id", subscriptionID, "source", s.name, "error", err)
			c.observer.ObserveStrategy(budgetComponent, s.name, cloudspending.OutcomeError)
			continue
		}
		if len(budgets) == 0 {
			c.observer.ObserveStrategy(budgetComponent, s.name, cloudspending.OutcomeMiss)
			continue
		}
		amount := budgets[0].Amount
		slog.Info("budget.source.hit", "subscription_id", subscriptionID, "source", s.name,
			"budget", budgets[0].Name, "amount", amount)
		c.observer.ObserveStrategy(budgetComponent, s.name, cloudspending.OutcomeHit)
		return &amount, s.name
	}
	slog.Info("budget.none", "subscription_id", subscriptionID)
	return nil, ""
}

func withTimeout[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if d <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	return fn(ctx)
}

type usageLister func(ctx context.Context, subscriptionID string, p cloudspending.Period) ([]UsageDetail, error)

// usageCosts adapts a usage listing to cost points, keeping only lines inside the period.
func usageCosts(list usageLister) func(context.Context, string, cloudspending.Period) ([]float64, error) {
	return func(ctx context.Context, subscriptionID string, p cloudspending.Period) ([]float64, error) {
		details, err := list(ctx, subscriptionID, p)
		if err != nil {
			return nil, err
		}
		return detailCosts(details, p), nil
	}
}

// latestBillingPeriod fetches usage of the most recent billing period and filters it back to
// the target window.
func latestBillingPeriod(cc CostClient) func(context.Context, string, cloudspending.Period) ([]float64, error) {
	return func(ctx context.Context, subscriptionID string, p cloudspending.Period) ([]float64, error) {
		periods, err := cc.ListBillingPeriods(ctx, subscriptionID)
		if err != nil {
			return nil, err
		}
		if len(periods) == 0 {
			return nil, nil
		}
		sort.SliceStable(periods, func(i, j int) bool { return periods[i].Start.After(periods[j].Start) })
		latest := periods[0]
		slog.Debug("cost.billing_period.latest", "subscription_id", subscriptionID, "billing_period", latest.Name)
		details, err := cc.BillingPeriodUsage(ctx, subscriptionID, latest.Name)
		if err != nil {
			return nil, err
		}
		return detailCosts(details, p), nil
	}
}

func detailCosts(details []UsageDetail, p cloudspending.Period) []float64 {
	inside := lo.Filter(details, func(d UsageDetail, _ int) bool {
		return d.Date.IsZero() || p.Contains(d.Date)
	})
	return lo.Map(inside, func(d UsageDetail, _ int) float64 { return d.Cost })
}
