package cloudspending

import (
	"sort"

	lo "github.com/samber/lo"
)

// GroupTotal sums the records of one management group path. BudgetAmount and
// BudgetUsedPercent only cover subscriptions that have a budget.
type GroupTotal struct {
	ManagementGroupPath string
	Subscriptions       int
	CostAmount          float64
	BudgetAmount        float64
	BudgetUsedPercent   *float64
	OverBudget          int
	Currency            string
}

// SummarizeByGroup totals records per management group path, largest cost first.
func SummarizeByGroup(records []SubscriptionRecord) []GroupTotal {
	groups := lo.GroupBy(records, func(r SubscriptionRecord) string { return r.ManagementGroupPath })
	totals := make([]GroupTotal, 0, len(groups))
	for path, rs := range groups {
		t := GroupTotal{
			ManagementGroupPath: path,
			Subscriptions:       len(rs),
			CostAmount:          lo.SumBy(rs, func(r SubscriptionRecord) float64 { return r.CostAmount }),
			Currency:            rs[0].Currency,
		}
		budgeted := lo.Filter(rs, func(r SubscriptionRecord, _ int) bool { return r.BudgetAmount != nil })
		if len(budgeted) > 0 {
			t.BudgetAmount = lo.SumBy(budgeted, func(r SubscriptionRecord) float64 { return *r.BudgetAmount })
			spent := lo.SumBy(budgeted, func(r SubscriptionRecord) float64 { return r.CostAmount })
			t.BudgetUsedPercent = BudgetUsedPercent(spent, &t.BudgetAmount)
		}
		t.OverBudget = lo.CountBy(rs, func(r SubscriptionRecord) bool {
			return ClassifyBudget(r.BudgetUsedPercent) == StatusOverBudget
		})
		totals = append(totals, t)
	}
	sort.Slice(totals, func(i, j int) bool {
		if totals[i].CostAmount != totals[j].CostAmount {
			return totals[i].CostAmount > totals[j].CostAmount
		}
		return totals[i].ManagementGroupPath < totals[j].ManagementGroupPath
	})
	return totals
}
