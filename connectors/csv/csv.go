package csv

import (
	"azcost/domain/cloudspending"
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
)

const (
	BudgetStatusFile = "budget_status.csv"
	GroupCostsFile   = "management_group_costs.csv"
)

// WriteReportCSVs writes all report outputs into dir.
func WriteReportCSVs(dir string, records []cloudspending.SubscriptionRecord) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := WriteBudgetStatusCSV(filepath.Join(dir, BudgetStatusFile), records); err != nil {
		return err
	}
	if err := WriteGroupCostsCSV(filepath.Join(dir, GroupCostsFile), cloudspending.SummarizeByGroup(records)); err != nil {
		return err
	}
	return nil
}

func WriteBudgetStatusCSV(path string, records []cloudspending.SubscriptionRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := csv.NewWriter(f)
	defer w.Flush()
	header := []string{
		"subscription_id", "subscription_name", "state", "management_group", "management_group_path",
		"cost", "budget", "budget_used_percent", "status", "currency", "period_start", "period_end",
	}
	if err := w.Write(header); err != nil {
		return err
	}
	for _, r := range records {
		row := []string{
			r.SubscriptionID,
			r.SubscriptionName,
			r.SubscriptionState,
			r.ManagementGroup,
			r.ManagementGroupPath,
			formatAmount(r.CostAmount),
			formatOptional(r.BudgetAmount),
			formatOptional(r.BudgetUsedPercent),
			string(cloudspending.ClassifyBudget(r.BudgetUsedPercent)),
			r.Currency,
			r.PeriodStart,
			r.PeriodEnd,
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func WriteGroupCostsCSV(path string, totals []cloudspending.GroupTotal) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := csv.NewWriter(f)
	defer w.Flush()
	if err := w.Write([]string{"management_group_path", "subscriptions", "cost", "budget", "budget_used_percent", "over_budget", "currency"}); err != nil {
		return err
	}
	for _, t := range totals {
		budget := ""
		if t.BudgetUsedPercent != nil {
			budget = formatAmount(t.BudgetAmount)
		}
		row := []string{
			t.ManagementGroupPath,
			strconv.Itoa(t.Subscriptions),
			formatAmount(t.CostAmount),
			budget,
			formatOptional(t.BudgetUsedPercent),
			strconv.Itoa(t.OverBudget),
			t.Currency,
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// empty cell for a missing value
func formatOptional(v *float64) string {
	if v == nil {
		return ""
	}
	return formatAmount(*v)
}
